package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/pricing"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/internal/service"
	"github.com/prohmpiriya/reservation-engine/pkg/config"
)

// MockAvailabilityRepository wraps the in-memory store
type MockAvailabilityRepository struct {
	*repository.MemoryAvailabilityRepository
	ReclaimExpiredFunc func(ctx context.Context, p domain.PartitionKey, now time.Time) ([]repository.ReclaimedUnit, error)
	ListPartitionsFunc func(ctx context.Context) ([]domain.PartitionKey, error)
}

func (m *MockAvailabilityRepository) ReclaimExpired(ctx context.Context, p domain.PartitionKey, now time.Time) ([]repository.ReclaimedUnit, error) {
	if m.ReclaimExpiredFunc != nil {
		return m.ReclaimExpiredFunc(ctx, p, now)
	}
	return m.MemoryAvailabilityRepository.ReclaimExpired(ctx, p, now)
}

func (m *MockAvailabilityRepository) ListPartitions(ctx context.Context) ([]domain.PartitionKey, error) {
	if m.ListPartitionsFunc != nil {
		return m.ListPartitionsFunc(ctx)
	}
	return m.MemoryAvailabilityRepository.ListPartitions(ctx)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	testNow = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	alice   = domain.Holder{ID: "user-alice", Name: "Alice"}
	bob     = domain.Holder{ID: "user-bob", Name: "Bob"}
)

type sweeperFixture struct {
	sweeper      *ExpirySweeper
	svc          service.LifecycleService
	availability *MockAvailabilityRepository
	reservations *repository.MemoryReservationRepository
	clock        *fakeClock
	partition    domain.PartitionKey
}

func newSweeperFixture(t *testing.T) *sweeperFixture {
	t.Helper()

	inv := config.DefaultInventory()
	hall := inv.Categories["hall"]
	engine, err := pricing.NewEngine(pricing.FromCategory(hall))
	require.NoError(t, err)

	partition, err := domain.NewPartitionKey("hall", "2026-12-01", "evening")
	require.NoError(t, err)

	f := &sweeperFixture{
		availability: &MockAvailabilityRepository{MemoryAvailabilityRepository: repository.NewMemoryAvailabilityRepository()},
		reservations: repository.NewMemoryReservationRepository(),
		clock:        &fakeClock{now: testNow},
		partition:    partition,
	}

	sequence := service.NewSequenceService(repository.NewMemorySequenceRepository(), &service.SequenceServiceConfig{
		Categories: inv.Names(),
	})
	f.svc, err = service.NewLifecycleService(f.availability, f.reservations, sequence, engine, nil, nil, &service.LifecycleServiceConfig{
		Category: "hall",
		Policy:   hall,
		LockTTL:  10 * time.Minute,
		Now:      f.clock.Now,
	})
	require.NoError(t, err)

	f.sweeper = NewExpirySweeper(f.availability, f.reservations, service.NewRegistry(f.reservations, f.svc), &ExpirySweeperConfig{
		Interval:  time.Hour,
		BatchSize: 10,
		Now:       f.clock.Now,
	})
	return f
}

func (f *sweeperFixture) create(t *testing.T, holder domain.Holder, units ...string) *domain.Reservation {
	t.Helper()
	res, err := f.svc.Create(context.Background(), &service.CreateRequest{Holder: holder, Partition: f.partition, UnitIDs: units})
	require.NoError(t, err)
	return res
}

func TestExpirySweeper_ExpiryThenReuse(t *testing.T) {
	f := newSweeperFixture(t)
	ctx := context.Background()

	stale := f.create(t, alice, "S1", "S2")
	f.clock.Advance(5 * time.Minute)
	fresh := f.create(t, bob, "S3")

	// Nothing has expired yet
	report, err := f.sweeper.SweepNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.UnitsReclaimed)
	assert.Equal(t, 0, report.ReservationsExpired)

	f.clock.Advance(6 * time.Minute)
	report, err = f.sweeper.SweepNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Partitions)
	assert.Equal(t, 2, report.UnitsReclaimed)
	assert.Equal(t, 1, report.ReservationsExpired)
	assert.Equal(t, 0, report.Errors)

	got, err := f.svc.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, domain.ReasonExpired, got.StatusReason)

	got, err = f.svc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingPayment, got.Status)

	reused := f.create(t, bob, "S1", "S2")
	assert.Equal(t, domain.StatusPendingPayment, reused.Status)

	stats := f.sweeper.GetStats()
	assert.Equal(t, int64(2), stats.TotalSweeps)
	assert.Equal(t, int64(2), stats.TotalReclaimed)
	assert.Equal(t, int64(1), stats.TotalExpired)
	require.NotNil(t, stats.LastSweep)
}

func TestExpirySweeper_NeverTouchesUnexpiredOrBooked(t *testing.T) {
	f := newSweeperFixture(t)
	ctx := context.Background()

	booked := f.create(t, alice, "S1")
	_, err := f.svc.Confirm(ctx, booked.ID, domain.PaymentInfo{ExternalRef: "pay_1"})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	report, err := f.sweeper.SweepNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.UnitsReclaimed)

	units, err := f.availability.GetPartition(ctx, f.partition)
	require.NoError(t, err)
	assert.True(t, units["S1"].Booked)
}

func TestExpirySweeper_ExpiresPendingWithoutUnits(t *testing.T) {
	f := newSweeperFixture(t)
	ctx := context.Background()

	res := f.create(t, alice, "S1")
	// Units already gone, e.g. released by a previous partial cleanup
	_, err := f.availability.MemoryAvailabilityRepository.ReleaseUnits(ctx, f.partition, res.Units, res.ID)
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)
	report, err := f.sweeper.SweepNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.UnitsReclaimed)
	assert.Equal(t, 1, report.ReservationsExpired)
}

func TestExpirySweeper_ContinuesAfterPartitionError(t *testing.T) {
	f := newSweeperFixture(t)
	ctx := context.Background()

	res := f.create(t, alice, "S1")
	f.availability.ReclaimExpiredFunc = func(ctx context.Context, p domain.PartitionKey, now time.Time) ([]repository.ReclaimedUnit, error) {
		return nil, errors.New("NOSCRIPT")
	}

	f.clock.Advance(11 * time.Minute)
	report, err := f.sweeper.SweepNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1, report.ReservationsExpired)

	got, err := f.svc.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestExpirySweeper_ReclaimedUnitsWithoutRecord(t *testing.T) {
	f := newSweeperFixture(t)
	ctx := context.Background()

	f.availability.ListPartitionsFunc = func(ctx context.Context) ([]domain.PartitionKey, error) {
		return []domain.PartitionKey{f.partition}, nil
	}
	f.availability.ReclaimExpiredFunc = func(ctx context.Context, p domain.PartitionKey, now time.Time) ([]repository.ReclaimedUnit, error) {
		return []repository.ReclaimedUnit{
			{UnitID: "S9", ReservationID: "BK-HALL-99999"},
			{UnitID: "S10", ReservationID: "BK-HALL-99999"},
		}, nil
	}

	report, err := f.sweeper.SweepNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.UnitsReclaimed)
	assert.Equal(t, 0, report.ReservationsExpired)
	assert.Equal(t, 0, report.Errors)
}

func TestExpirySweeper_ListPartitionsError(t *testing.T) {
	f := newSweeperFixture(t)
	f.availability.ListPartitionsFunc = func(ctx context.Context) ([]domain.PartitionKey, error) {
		return nil, errors.New("connection refused")
	}

	_, err := f.sweeper.SweepNow(context.Background())
	assert.Error(t, err)
}

func TestExpirySweeper_ReleaseReservation(t *testing.T) {
	f := newSweeperFixture(t)
	ctx := context.Background()

	pending := f.create(t, alice, "S1")
	res, released, err := f.sweeper.ReleaseReservation(ctx, pending.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, res.Status)
	assert.Equal(t, "released by operator", res.StatusReason)
	assert.Equal(t, 1, released)

	confirmed := f.create(t, bob, "S2")
	_, err = f.svc.Confirm(ctx, confirmed.ID, domain.PaymentInfo{ExternalRef: "pay_2"})
	require.NoError(t, err)
	_, _, err = f.sweeper.ReleaseReservation(ctx, confirmed.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, _, err = f.sweeper.ReleaseReservation(ctx, "missing", "")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestExpirySweeper_StartStop(t *testing.T) {
	f := newSweeperFixture(t)
	ctx := context.Background()

	f.create(t, alice, "S1")
	f.clock.Advance(11 * time.Minute)

	require.NoError(t, f.sweeper.Start(ctx))
	assert.Error(t, f.sweeper.Start(ctx))

	// The first sweep runs immediately
	assert.Eventually(t, func() bool {
		return f.sweeper.GetStats().TotalExpired == 1
	}, time.Second, 10*time.Millisecond)
	assert.True(t, f.sweeper.GetStats().IsRunning)

	f.sweeper.Stop()
	f.sweeper.Stop()
	assert.False(t, f.sweeper.GetStats().IsRunning)
}

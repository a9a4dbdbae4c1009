package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/pricing"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/pkg/config"
	"github.com/prohmpiriya/reservation-engine/pkg/retry"
)

// MockSequenceRepository is a mock implementation of SequenceRepository
type MockSequenceRepository struct {
	IncrementFunc func(ctx context.Context, category string, known []string) (int64, error)
	CountersFunc  func(ctx context.Context) (map[string]int64, error)
	ResetFunc     func(ctx context.Context, category string, value int64, known []string) error
}

func (m *MockSequenceRepository) Increment(ctx context.Context, category string, known []string) (int64, error) {
	if m.IncrementFunc != nil {
		return m.IncrementFunc(ctx, category, known)
	}
	return 1, nil
}

func (m *MockSequenceRepository) Counters(ctx context.Context) (map[string]int64, error) {
	if m.CountersFunc != nil {
		return m.CountersFunc(ctx)
	}
	return map[string]int64{}, nil
}

func (m *MockSequenceRepository) Reset(ctx context.Context, category string, value int64, known []string) error {
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, category, value, known)
	}
	return nil
}

// MockReservationRepository wraps the in-memory repository and lets a
// test override single methods
type MockReservationRepository struct {
	*repository.MemoryReservationRepository
	CreateFunc       func(ctx context.Context, res *domain.Reservation) error
	UpdateStatusFunc func(ctx context.Context, t domain.Transition) error
}

func (m *MockReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, res)
	}
	return m.MemoryReservationRepository.Create(ctx, res)
}

func (m *MockReservationRepository) UpdateStatus(ctx context.Context, t domain.Transition) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, t)
	}
	return m.MemoryReservationRepository.UpdateStatus(ctx, t)
}

// MockAvailabilityRepository wraps the in-memory store
type MockAvailabilityRepository struct {
	*repository.MemoryAvailabilityRepository
	ReleaseUnitsFunc  func(ctx context.Context, partition domain.PartitionKey, unitIDs []string, reservationID string) (int, error)
	FinalizeUnitsFunc func(ctx context.Context, partition domain.PartitionKey, unitIDs []string, reservationID string) error
}

func (m *MockAvailabilityRepository) FinalizeUnits(ctx context.Context, partition domain.PartitionKey, unitIDs []string, reservationID string, holder domain.Holder, now time.Time) error {
	if m.FinalizeUnitsFunc != nil {
		return m.FinalizeUnitsFunc(ctx, partition, unitIDs, reservationID)
	}
	return m.MemoryAvailabilityRepository.FinalizeUnits(ctx, partition, unitIDs, reservationID, holder, now)
}

func (m *MockAvailabilityRepository) ReleaseUnits(ctx context.Context, partition domain.PartitionKey, unitIDs []string, reservationID string) (int, error) {
	if m.ReleaseUnitsFunc != nil {
		return m.ReleaseUnitsFunc(ctx, partition, unitIDs, reservationID)
	}
	return m.MemoryAvailabilityRepository.ReleaseUnits(ctx, partition, unitIDs, reservationID)
}

// MockNotifier records notifications
type MockNotifier struct {
	mu            sync.Mutex
	notifications []*Notification
	NotifyFunc    func(ctx context.Context, n *Notification) error
}

func (m *MockNotifier) NotifyTerminal(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	m.notifications = append(m.notifications, n)
	m.mu.Unlock()
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, n)
	}
	return nil
}

func (m *MockNotifier) Driver() string { return "mock" }
func (m *MockNotifier) Close() error   { return nil }

func (m *MockNotifier) Sent() []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Notification(nil), m.notifications...)
}

// MockPaymentGateway is a mock implementation of PaymentGateway
type MockPaymentGateway struct {
	InitiateFunc func(ctx context.Context, req *PaymentRequest) (*PaymentRedirect, error)
}

func (m *MockPaymentGateway) Initiate(ctx context.Context, req *PaymentRequest) (*PaymentRedirect, error) {
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, req)
	}
	return &PaymentRedirect{ExternalRef: "pay_test", RedirectURL: "https://pay.test/pay_test", Amount: req.Amount}, nil
}

func (m *MockPaymentGateway) Name() string { return "mock" }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

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
	// 61 days before the event: 25% early bird
	testNow   = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	testEvent = "2026-12-01"
	alice     = domain.Holder{ID: "user-alice", Name: "Alice", Email: "alice@example.com"}
	bob       = domain.Holder{ID: "user-bob", Name: "Bob"}
)

func testPartition(t *testing.T) domain.PartitionKey {
	t.Helper()
	p, err := domain.NewPartitionKey("hall", testEvent, "evening")
	require.NoError(t, err)
	return p
}

type fixture struct {
	svc          LifecycleService
	sequence     SequenceService
	availability *MockAvailabilityRepository
	reservations *MockReservationRepository
	notifier     *MockNotifier
	gateway      *MockPaymentGateway
	clock        *fakeClock
	partition    domain.PartitionKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	inv := config.DefaultInventory()
	hall := inv.Categories["hall"]
	engine, err := pricing.NewEngine(pricing.FromCategory(hall))
	require.NoError(t, err)

	f := &fixture{
		availability: &MockAvailabilityRepository{MemoryAvailabilityRepository: repository.NewMemoryAvailabilityRepository()},
		reservations: &MockReservationRepository{MemoryReservationRepository: repository.NewMemoryReservationRepository()},
		notifier:     &MockNotifier{},
		gateway:      &MockPaymentGateway{},
		clock:        newFakeClock(testNow),
		partition:    testPartition(t),
	}
	f.sequence = NewSequenceService(repository.NewMemorySequenceRepository(), &SequenceServiceConfig{
		Prefix:     "BK",
		Categories: inv.Names(),
		Now:        f.clock.Now,
	})

	f.svc, err = NewLifecycleService(f.availability, f.reservations, f.sequence, engine, f.notifier, f.gateway, &LifecycleServiceConfig{
		Category:         "hall",
		Policy:           hall,
		LockTTL:          10 * time.Minute,
		PaymentReturnURL: "https://example.com/return",
		FollowUpRetry: &retry.Config{
			Attempts:        3,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
		},
		Now: f.clock.Now,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) create(t *testing.T, holder domain.Holder, units ...string) *domain.Reservation {
	t.Helper()
	res, err := f.svc.Create(context.Background(), &CreateRequest{Holder: holder, Partition: f.partition, UnitIDs: units})
	require.NoError(t, err)
	return res
}

func captured(ref string, amount int64) domain.PaymentInfo {
	return domain.PaymentInfo{ExternalRef: ref, Status: domain.PaymentStatusCaptured, Amount: amount}
}

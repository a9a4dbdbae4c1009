package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/pkg/database"
)

func newTestReservation(id string, holder domain.Holder, createdAt time.Time) *domain.Reservation {
	return &domain.Reservation{
		ID:        id,
		Category:  testPartition.Category,
		Status:    domain.StatusPendingPayment,
		Units:     []string{"S1", "S2"},
		Partition: testPartition,
		Quantity:  2,
		Holder:    holder,
		Pricing:   domain.Quote{BaseAmount: 1000, TotalAmount: 1000, Quantity: 2, UnitPrice: 500},
		ExpiresAt: createdAt.Add(10 * time.Minute),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func reservationContract(t *testing.T, newRepo func(t *testing.T) ReservationRepository) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		res := newTestReservation("BK-HALL-00001", alice, testNow)
		require.NoError(t, repo.Create(ctx, res))

		got, err := repo.GetByID(ctx, res.ID)
		require.NoError(t, err)
		assert.Equal(t, res.ID, got.ID)
		assert.Equal(t, res.Units, got.Units)
		assert.Equal(t, res.Partition, got.Partition)
		assert.Equal(t, res.Pricing, got.Pricing)
		assert.Equal(t, alice.ID, got.Holder.ID)
		assert.Nil(t, got.Payment)

		_, err = repo.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrReservationNotFound)
	})

	t.Run("guarded status update", func(t *testing.T) {
		repo := newRepo(t)
		res := newTestReservation("BK-HALL-00002", alice, testNow)
		require.NoError(t, repo.Create(ctx, res))

		paidAt := testNow.Add(time.Minute)
		err := repo.UpdateStatus(ctx, domain.Transition{
			ID:      res.ID,
			From:    domain.StatusPendingPayment,
			To:      domain.StatusConfirmed,
			Payment: &domain.PaymentInfo{ExternalRef: "pay_1", Status: domain.PaymentStatusCaptured, Amount: 1000, PaidAt: &paidAt},
			At:      paidAt,
		})
		require.NoError(t, err)

		err = repo.UpdateStatus(ctx, domain.Transition{
			ID:   res.ID,
			From: domain.StatusPendingPayment,
			To:   domain.StatusCancelled,
			At:   paidAt,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		err = repo.UpdateStatus(ctx, domain.Transition{ID: "missing", From: domain.StatusPendingPayment, To: domain.StatusCancelled, At: paidAt})
		assert.ErrorIs(t, err, domain.ErrReservationNotFound)

		got, err := repo.GetByID(ctx, res.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusConfirmed, got.Status)
		require.NotNil(t, got.Payment)
		assert.Equal(t, "pay_1", got.Payment.ExternalRef)
		require.NotNil(t, got.ConfirmedAt)
		assert.Nil(t, got.CancelledAt)
	})

	t.Run("list filters and expired pending", func(t *testing.T) {
		repo := newRepo(t)
		for i := 0; i < 3; i++ {
			res := newTestReservation(fmt.Sprintf("BK-HALL-1000%d", i), alice, testNow.Add(time.Duration(i)*time.Minute))
			require.NoError(t, repo.Create(ctx, res))
		}
		block := newTestReservation("ADMIN-1", domain.Holder{ID: "admin"}, testNow)
		block.Synthetic = true
		block.ExpiresAt = testNow.Add(24 * time.Hour)
		require.NoError(t, repo.Create(ctx, block))

		list, err := repo.List(ctx, domain.ReservationFilter{HolderID: alice.ID})
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "BK-HALL-10002", list[0].ID)

		list, err = repo.List(ctx, domain.ReservationFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "BK-HALL-10001", list[0].ID)

		list, err = repo.List(ctx, domain.ReservationFilter{IncludeSynthetic: true})
		require.NoError(t, err)
		assert.Len(t, list, 4)

		expired, err := repo.ListExpiredPending(ctx, testNow.Add(11*time.Minute+30*time.Second), 10)
		require.NoError(t, err)
		require.Len(t, expired, 2)
		assert.Equal(t, "BK-HALL-10000", expired[0].ID)
	})
}

func TestMemoryReservationRepository(t *testing.T) {
	reservationContract(t, func(t *testing.T) ReservationRepository {
		return NewMemoryReservationRepository()
	})
}

func TestPostgresReservationRepository(t *testing.T) {
	reservationContract(t, func(t *testing.T) ReservationRepository {
		skipIfNoIntegration(t)

		cfg := database.DefaultPostgresConfig()
		if host := os.Getenv("TEST_POSTGRES_HOST"); host != "" {
			cfg.Host = host
		}
		cfg.Password = os.Getenv("TEST_POSTGRES_PASSWORD")
		if cfg.Password == "" {
			cfg.Password = "postgres"
		}
		cfg.Database = "reservation_test"

		ctx := context.Background()
		db, err := database.NewPostgres(ctx, cfg)
		require.NoError(t, err)
		t.Cleanup(db.Close)

		require.NoError(t, db.Migrate(ctx))
		_, err = db.Pool().Exec(ctx, "TRUNCATE reservations")
		require.NoError(t, err)

		return NewPostgresReservationRepository(db.Pool())
	})
}

func TestMongoReservationRepository(t *testing.T) {
	reservationContract(t, func(t *testing.T) ReservationRepository {
		skipIfNoIntegration(t)

		uri := os.Getenv("TEST_MONGODB_URI")
		if uri == "" {
			uri = "mongodb://localhost:27017"
		}

		ctx := context.Background()
		coll, err := ConnectMongo(ctx, uri, "reservation_test", "reservations")
		require.NoError(t, err)
		require.NoError(t, coll.Drop(ctx))

		repo := NewMongoReservationRepository(coll)
		require.NoError(t, repo.EnsureIndexes(ctx))
		return repo
	})
}

func TestMemoryReservationRepository_ConcurrentTransitionsHaveOneWinner(t *testing.T) {
	repo := NewMemoryReservationRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newTestReservation("BK-HALL-00009", alice, testNow)))

	targets := []domain.ReservationStatus{domain.StatusConfirmed, domain.StatusCancelled, domain.StatusPaymentFailed}

	var (
		wg   sync.WaitGroup
		wins int32
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(to domain.ReservationStatus) {
			defer wg.Done()
			err := repo.UpdateStatus(ctx, domain.Transition{ID: "BK-HALL-00009", From: domain.StatusPendingPayment, To: to, At: testNow})
			if err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}(targets[i%len(targets)])
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestMemoryReservationRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryReservationRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newTestReservation("BK-HALL-00010", alice, testNow)))

	got, err := repo.GetByID(ctx, "BK-HALL-00010")
	require.NoError(t, err)
	got.Status = domain.StatusCancelled
	got.Units[0] = "Z9"

	again, err := repo.GetByID(ctx, "BK-HALL-00010")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingPayment, again.Status)
	assert.Equal(t, "S1", again.Units[0])

	assert.Error(t, repo.Create(ctx, newTestReservation("BK-HALL-00010", alice, testNow)))
}

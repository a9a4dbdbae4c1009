package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

func TestRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registry := NewRegistry(f.reservations, f.svc)

	svc, err := registry.For(" HALL ")
	require.NoError(t, err)
	assert.Equal(t, "hall", svc.Category())

	_, err = registry.For("parking")
	assert.ErrorIs(t, err, domain.ErrUnknownCategory)

	res := f.create(t, alice, "S1")
	svc, err = registry.ForReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "hall", svc.Category())

	_, err = registry.ForReservation(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)

	assert.Equal(t, []string{"hall"}, registry.Categories())

	list, err := registry.List(ctx, domain.ReservationFilter{HolderID: alice.ID})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestNewNotification(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, alice, "S1", "S2")
	at := testNow.Add(time.Minute)

	n := NewNotification(res, domain.StatusCancelled, domain.ReasonExpired, at)
	assert.NotEmpty(t, n.EventID)
	assert.Equal(t, res.ID, n.ReservationID)
	assert.Equal(t, "hall", n.Category)
	assert.Equal(t, domain.StatusCancelled, n.Status)
	assert.Equal(t, []string{"S1", "S2"}, n.Units)
	assert.Equal(t, at, n.OccurredAt)

	noop := NewNoOpNotifier()
	assert.NoError(t, noop.NotifyTerminal(context.Background(), n))
	assert.Equal(t, "noop", noop.Driver())
	assert.NoError(t, noop.Close())
}

func TestPaymentResult(t *testing.T) {
	assert.ErrorIs(t, (&PaymentResult{ExternalRef: "x"}).Validate(), domain.ErrInvalidReservation)
	assert.ErrorIs(t, (&PaymentResult{ReservationID: "x"}).Validate(), domain.ErrInvalidExternalRef)

	ok := &PaymentResult{ReservationID: "BK-HALL-00001", ExternalRef: "pay_1", Success: true, Amount: 885}
	require.NoError(t, ok.Validate())
	info := ok.PaymentInfo(testNow)
	assert.Equal(t, domain.PaymentStatusCaptured, info.Status)
	require.NotNil(t, info.PaidAt)
	assert.Equal(t, testNow, *info.PaidAt)

	failed := (&PaymentResult{ReservationID: "BK-HALL-00001", ExternalRef: "pay_2"}).PaymentInfo(testNow)
	assert.Equal(t, domain.PaymentStatusFailed, failed.Status)
	assert.Nil(t, failed.PaidAt)
}

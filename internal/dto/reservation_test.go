package dto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/pricing"
	"github.com/prohmpiriya/reservation-engine/internal/service"
)

func TestFromDomain(t *testing.T) {
	paidAt := time.Date(2026, 10, 1, 9, 5, 0, 0, time.UTC)
	res := &domain.Reservation{
		ID:        "BK-HALL-00001",
		Category:  "hall",
		Status:    domain.StatusConfirmed,
		Units:     []string{"S1", "S2"},
		Partition: domain.PartitionKey{Category: "hall", Date: "2026-12-01", Slot: "evening"},
		Holder:    domain.Holder{ID: "user-alice", Name: "Alice"},
		Pricing:   domain.Quote{UnitPrice: 500, Quantity: 2, BaseAmount: 1000, DiscountPercent: 25, DiscountAmount: 250, TaxAmount: 135, TotalAmount: 885},
		Payment:   &domain.PaymentInfo{ExternalRef: "pay_1", Status: domain.PaymentStatusCaptured, Amount: 885, PaidAt: &paidAt},
	}

	resp := FromDomain(res)
	assert.Equal(t, "confirmed", resp.Status)
	assert.Equal(t, "2026-12-01", resp.Date)
	assert.Equal(t, "evening", resp.Slot)
	assert.Equal(t, "user-alice", resp.HolderID)
	assert.Equal(t, int64(885), resp.Pricing.TotalAmount)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, "pay_1", resp.Payment.ExternalRef)

	res.Payment = nil
	assert.Nil(t, FromDomain(res).Payment)
	assert.Len(t, FromDomainList([]*domain.Reservation{res, res}), 2)
}

func TestFromQuoteResult(t *testing.T) {
	resp := FromQuoteResult(&service.QuoteResult{
		Category:      "hall",
		Date:          "2026-12-01",
		Quote:         domain.Quote{Quantity: 4, TotalAmount: 1770},
		NextMilestone: &pricing.Milestone{SeatsNeeded: 1, DiscountPercent: 5},
	})
	require.NotNil(t, resp.NextMilestone)
	assert.Equal(t, 1, resp.NextMilestone.UnitsNeeded)
	assert.Equal(t, 5.0, resp.NextMilestone.Percent)

	resp = FromQuoteResult(&service.QuoteResult{Category: "hall"})
	assert.Nil(t, resp.NextMilestone)
}

func TestFromAvailability(t *testing.T) {
	expires := time.Date(2026, 10, 1, 9, 10, 0, 0, time.UTC)
	resp := FromAvailability(&service.AvailabilityView{
		Partition: domain.PartitionKey{Category: "hall", Date: "2026-12-01", Slot: "evening"},
		Units: map[string]service.UnitView{
			"S1": {State: domain.UnitBlocked, ExpiresAt: &expires},
			"S2": {State: domain.UnitBooked},
		},
		Blocked: 1,
		Booked:  1,
	})
	assert.Equal(t, "blocked", resp.Units["S1"].State)
	assert.Equal(t, &expires, resp.Units["S1"].ExpiresAt)
	assert.Equal(t, "booked", resp.Units["S2"].State)
	assert.Equal(t, 1, resp.Blocked)
}

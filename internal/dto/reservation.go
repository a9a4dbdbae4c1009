package dto

import (
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/service"
)

// QuoteQuery is the query string of GET /categories/:category/quote
type QuoteQuery struct {
	Date     string `form:"date" binding:"required"`
	Quantity int    `form:"quantity" binding:"required,min=1"`
}

// CreateReservationRequest represents request to hold units
type CreateReservationRequest struct {
	Category    string   `json:"category" binding:"required"`
	Date        string   `json:"date" binding:"required"`
	Slot        string   `json:"slot" binding:"required"`
	Units       []string `json:"units" binding:"required,min=1"`
	HolderName  string   `json:"holder_name,omitempty"`
	HolderEmail string   `json:"holder_email,omitempty" binding:"omitempty,email"`
}

// CancelReservationRequest carries an optional cancellation reason
type CancelReservationRequest struct {
	Reason string `json:"reason,omitempty" binding:"max=200"`
}

// PaymentCallbackRequest is the outcome reported by the payment provider
type PaymentCallbackRequest struct {
	ReservationID string `json:"reservation_id" binding:"required"`
	ExternalRef   string `json:"external_ref" binding:"required"`
	Success       bool   `json:"success"`
	Amount        int64  `json:"amount"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// ResetCounterRequest sets a sequence counter
type ResetCounterRequest struct {
	Value *int64 `json:"value" binding:"required,min=0"`
}

// AdminBlockRequest blocks units outside the payment flow
type AdminBlockRequest struct {
	Category string   `json:"category" binding:"required"`
	Date     string   `json:"date" binding:"required"`
	Slot     string   `json:"slot" binding:"required"`
	Units    []string `json:"units" binding:"required,min=1"`
	Note     string   `json:"note" binding:"required,max=200"`
}

// ReleaseRequest carries an optional operator reason
type ReleaseRequest struct {
	Reason string `json:"reason,omitempty" binding:"max=200"`
}

// PricingResponse is the price breakdown in minor units
type PricingResponse struct {
	UnitPrice        float64 `json:"unit_price"`
	Quantity         int     `json:"quantity"`
	BaseAmount       int64   `json:"base_amount"`
	EarlyBirdPercent float64 `json:"early_bird_percent"`
	BulkPercent      float64 `json:"bulk_percent"`
	DiscountPercent  float64 `json:"discount_percent"`
	DiscountAmount   int64   `json:"discount_amount"`
	TaxAmount        int64   `json:"tax_amount"`
	TotalAmount      int64   `json:"total_amount"`
}

// PaymentResponse is the payment attached to a reservation
type PaymentResponse struct {
	ExternalRef string     `json:"external_ref"`
	Status      string     `json:"status"`
	Amount      int64      `json:"amount"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

// ReservationResponse represents a reservation in API response
type ReservationResponse struct {
	ID           string           `json:"id"`
	Category     string           `json:"category"`
	Status       string           `json:"status"`
	StatusReason string           `json:"status_reason,omitempty"`
	Date         string           `json:"date"`
	Slot         string           `json:"slot"`
	Units        []string         `json:"units"`
	HolderID     string           `json:"holder_id"`
	HolderName   string           `json:"holder_name,omitempty"`
	Pricing      PricingResponse  `json:"pricing"`
	Payment      *PaymentResponse `json:"payment,omitempty"`
	Synthetic    bool             `json:"synthetic,omitempty"`
	ExpiresAt    time.Time        `json:"expires_at"`
	CreatedAt    time.Time        `json:"created_at"`
	ConfirmedAt  *time.Time       `json:"confirmed_at,omitempty"`
	CancelledAt  *time.Time       `json:"cancelled_at,omitempty"`
}

// FromDomain converts a domain Reservation to ReservationResponse
func FromDomain(r *domain.Reservation) *ReservationResponse {
	resp := &ReservationResponse{
		ID:           r.ID,
		Category:     r.Category,
		Status:       r.Status.String(),
		StatusReason: r.StatusReason,
		Date:         r.Partition.Date,
		Slot:         r.Partition.Slot,
		Units:        r.Units,
		HolderID:     r.Holder.ID,
		HolderName:   r.Holder.Name,
		Pricing:      FromQuote(r.Pricing),
		Synthetic:    r.Synthetic,
		ExpiresAt:    r.ExpiresAt,
		CreatedAt:    r.CreatedAt,
		ConfirmedAt:  r.ConfirmedAt,
		CancelledAt:  r.CancelledAt,
	}
	if r.Payment != nil {
		resp.Payment = &PaymentResponse{
			ExternalRef: r.Payment.ExternalRef,
			Status:      r.Payment.Status,
			Amount:      r.Payment.Amount,
			PaidAt:      r.Payment.PaidAt,
		}
	}
	return resp
}

// FromDomainList converts a slice of reservations
func FromDomainList(items []*domain.Reservation) []*ReservationResponse {
	out := make([]*ReservationResponse, 0, len(items))
	for _, r := range items {
		out = append(out, FromDomain(r))
	}
	return out
}

// FromQuote converts a price quote
func FromQuote(q domain.Quote) PricingResponse {
	return PricingResponse{
		UnitPrice:        q.UnitPrice,
		Quantity:         q.Quantity,
		BaseAmount:       q.BaseAmount,
		EarlyBirdPercent: q.EarlyBirdPercent,
		BulkPercent:      q.BulkPercent,
		DiscountPercent:  q.DiscountPercent,
		DiscountAmount:   q.DiscountAmount,
		TaxAmount:        q.TaxAmount,
		TotalAmount:      q.TotalAmount,
	}
}

// QuoteResponse is returned by the quote endpoint
type QuoteResponse struct {
	Category      string          `json:"category"`
	Date          string          `json:"date"`
	Pricing       PricingResponse `json:"pricing"`
	NextMilestone *MilestoneHint  `json:"next_milestone,omitempty"`
}

// MilestoneHint tells the holder how many more units reach the next bulk tier
type MilestoneHint struct {
	UnitsNeeded int     `json:"units_needed"`
	Percent     float64 `json:"percent"`
}

// AvailabilityResponse lists the non-available units of a partition
type AvailabilityResponse struct {
	Category string                  `json:"category"`
	Date     string                  `json:"date"`
	Slot     string                  `json:"slot"`
	Units    map[string]UnitResponse `json:"units"`
	Blocked  int                     `json:"blocked"`
	Booked   int                     `json:"booked"`
}

// UnitResponse is the derived state of one unit
type UnitResponse struct {
	State     string     `json:"state"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CountersResponse lists the last issued sequence number per category
type CountersResponse struct {
	Counters map[string]int64 `json:"counters"`
}

// ReleaseResponse is returned by the manual release endpoint
type ReleaseResponse struct {
	Reservation   *ReservationResponse `json:"reservation"`
	UnitsReleased int                  `json:"units_released"`
}

// FromQuoteResult converts a price preview
func FromQuoteResult(q *service.QuoteResult) *QuoteResponse {
	resp := &QuoteResponse{
		Category: q.Category,
		Date:     q.Date,
		Pricing:  FromQuote(q.Quote),
	}
	if q.NextMilestone != nil {
		resp.NextMilestone = &MilestoneHint{
			UnitsNeeded: q.NextMilestone.SeatsNeeded,
			Percent:     q.NextMilestone.DiscountPercent,
		}
	}
	return resp
}

// FromAvailability converts a partition view
func FromAvailability(v *service.AvailabilityView) *AvailabilityResponse {
	units := make(map[string]UnitResponse, len(v.Units))
	for id, u := range v.Units {
		units[id] = UnitResponse{State: string(u.State), ExpiresAt: u.ExpiresAt}
	}
	return &AvailabilityResponse{
		Category: v.Partition.Category,
		Date:     v.Partition.Date,
		Slot:     v.Partition.Slot,
		Units:    units,
		Blocked:  v.Blocked,
		Booked:   v.Booked,
	}
}

package service

import (
	"context"
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

// PaymentRequest asks the gateway to start a checkout for a reservation
type PaymentRequest struct {
	ReservationID string
	Amount        int64
	Holder        domain.Holder
	Description   string
	ReturnURL     string
	ExpiresAt     time.Time
}

// PaymentRedirect is where the holder completes the payment
type PaymentRedirect struct {
	ExternalRef string    `json:"externalRef"`
	RedirectURL string    `json:"redirectUrl"`
	Amount      int64     `json:"amount"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// PaymentGateway is the external payment provider. The provider reports
// the outcome asynchronously as a PaymentResult.
type PaymentGateway interface {
	Initiate(ctx context.Context, req *PaymentRequest) (*PaymentRedirect, error)
	Name() string
}

// PaymentResult is the outcome delivered by the gateway callback or the
// payment results topic
type PaymentResult struct {
	ReservationID string `json:"reservationId"`
	ExternalRef   string `json:"externalRef"`
	Success       bool   `json:"success"`
	Amount        int64  `json:"amount"`
	FailureReason string `json:"failureReason,omitempty"`
	RawResponse   string `json:"rawResponse,omitempty"`
}

// Validate checks the fields needed to apply the result
func (r *PaymentResult) Validate() error {
	if r.ReservationID == "" {
		return domain.ErrInvalidReservation
	}
	if r.ExternalRef == "" {
		return domain.ErrInvalidExternalRef
	}
	return nil
}

// PaymentInfo converts the result into the record attached to the
// reservation
func (r *PaymentResult) PaymentInfo(at time.Time) domain.PaymentInfo {
	status := domain.PaymentStatusFailed
	var paidAt *time.Time
	if r.Success {
		status = domain.PaymentStatusCaptured
		paidAt = &at
	}
	return domain.PaymentInfo{
		ExternalRef: r.ExternalRef,
		Status:      status,
		Amount:      r.Amount,
		PaidAt:      paidAt,
		RawResponse: r.RawResponse,
	}
}

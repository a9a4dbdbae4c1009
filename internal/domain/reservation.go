package domain

import (
	"time"
)

// ReservationStatus represents the lifecycle state of a reservation
type ReservationStatus string

const (
	StatusPendingPayment ReservationStatus = "pending_payment"
	StatusConfirmed      ReservationStatus = "confirmed"
	StatusPaymentFailed  ReservationStatus = "payment_failed"
	StatusCancelled      ReservationStatus = "cancelled"
)

// Cancellation reasons recorded on the reservation
const (
	ReasonExpired         = "expired - no payment received"
	ReasonSeatsLost       = "payment received but seats lost"
	ReasonAdminUnblock    = "admin unblock"
	ReasonRollback        = "rollback - reservation could not be stored"
	SyntheticAdminPrefix  = "ADMIN-"
	SyntheticHolderID     = "admin"
	PaymentStatusCaptured = "captured"
	PaymentStatusFailed   = "failed"
)

// IsValid checks if the status is a valid ReservationStatus
func (s ReservationStatus) IsValid() bool {
	switch s {
	case StatusPendingPayment, StatusConfirmed, StatusPaymentFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed
func (s ReservationStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusPaymentFailed || s == StatusCancelled
}

// String returns the string representation of ReservationStatus
func (s ReservationStatus) String() string {
	return string(s)
}

// Quote is the price locked in at reservation time. Amounts are in the
// currency's smallest unit.
type Quote struct {
	UnitPrice        float64 `json:"unitPrice" bson:"unit_price"`
	Quantity         int     `json:"quantity" bson:"quantity"`
	BaseAmount       int64   `json:"baseAmount" bson:"base_amount"`
	EarlyBirdPercent float64 `json:"earlyBirdPercent" bson:"early_bird_percent"`
	BulkPercent      float64 `json:"bulkPercent" bson:"bulk_percent"`
	DiscountPercent  float64 `json:"discountPercent" bson:"discount_percent"`
	DiscountAmount   int64   `json:"discountAmount" bson:"discount_amount"`
	TaxAmount        int64   `json:"taxAmount" bson:"tax_amount"`
	TotalAmount      int64   `json:"totalAmount" bson:"total_amount"`
}

// PaymentInfo is attached when a payment outcome arrives
type PaymentInfo struct {
	ExternalRef string     `json:"externalRef" bson:"external_ref"`
	Status      string     `json:"status" bson:"status"`
	Amount      int64      `json:"amount" bson:"amount"`
	PaidAt      *time.Time `json:"paidAt,omitempty" bson:"paid_at,omitempty"`
	RawResponse string     `json:"rawResponse,omitempty" bson:"raw_response,omitempty"`
}

// Reservation is the audit record of one hold on a set of units
type Reservation struct {
	ID           string            `json:"id" bson:"_id"`
	Category     string            `json:"category" bson:"category"`
	Status       ReservationStatus `json:"status" bson:"status"`
	Units        []string          `json:"units" bson:"units"`
	Partition    PartitionKey      `json:"partition" bson:"partition"`
	Quantity     int               `json:"quantity" bson:"quantity"`
	Holder       Holder            `json:"holder" bson:"holder"`
	Pricing      Quote             `json:"pricing" bson:"pricing"`
	ExpiresAt    time.Time         `json:"expiresAt" bson:"expires_at"`
	Payment      *PaymentInfo      `json:"payment,omitempty" bson:"payment,omitempty"`
	StatusReason string            `json:"statusReason,omitempty" bson:"status_reason,omitempty"`
	Synthetic    bool              `json:"synthetic" bson:"synthetic"`
	CreatedAt    time.Time         `json:"createdAt" bson:"created_at"`
	UpdatedAt    time.Time         `json:"updatedAt" bson:"updated_at"`
	ConfirmedAt  *time.Time        `json:"confirmedAt,omitempty" bson:"confirmed_at,omitempty"`
	CancelledAt  *time.Time        `json:"cancelledAt,omitempty" bson:"cancelled_at,omitempty"`
}

// Validate validates the fields required to persist a new reservation
func (r *Reservation) Validate() error {
	if err := r.Holder.Validate(); err != nil {
		return err
	}
	if err := r.Partition.Validate(); err != nil {
		return err
	}
	if len(r.Units) == 0 {
		return ErrNoUnits
	}
	if r.Quantity <= 0 || r.Quantity != len(r.Units) {
		return ErrInvalidQuantity
	}
	if !r.Status.IsValid() {
		return ErrInvalidTransition
	}
	return nil
}

// IsPending checks if the reservation awaits payment
func (r *Reservation) IsPending() bool {
	return r.Status == StatusPendingPayment
}

// IsExpiredAt checks if a pending reservation passed its deadline
func (r *Reservation) IsExpiredAt(t time.Time) bool {
	return r.IsPending() && t.After(r.ExpiresAt)
}

// BelongsTo checks if the reservation belongs to the holder. Admin blocks
// belong to no holder.
func (r *Reservation) BelongsTo(holderID string) bool {
	return !r.Synthetic && r.Holder.ID == holderID
}

// PaidWith checks if the reservation was confirmed with the given payment
func (r *Reservation) PaidWith(externalRef string) bool {
	return r.Payment != nil && r.Payment.ExternalRef == externalRef
}

// Transition describes a guarded status write
type Transition struct {
	ID      string
	From    ReservationStatus
	To      ReservationStatus
	Reason  string
	Payment *PaymentInfo
	At      time.Time
}

// ReservationFilter selects reservations for listing
type ReservationFilter struct {
	Category         string
	HolderID         string
	Status           ReservationStatus
	ExpiresBefore    *time.Time
	IncludeSynthetic bool
	Limit            int
	Offset           int
}

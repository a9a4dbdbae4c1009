package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors
var (
	// Availability errors
	ErrUnitUnavailable        = errors.New("unit unavailable")
	ErrStaleReservation       = errors.New("stale reservation")
	ErrPartitionWriteConflict = errors.New("partition write conflict")

	// Sequence errors
	ErrSequenceContention = errors.New("sequence contention")

	// Configuration errors
	ErrConfiguration   = errors.New("configuration error")
	ErrUnknownCategory = errors.New("unknown inventory category")

	// Reservation errors
	ErrReservationNotFound      = errors.New("reservation not found")
	ErrInvalidTransition        = errors.New("invalid reservation status transition")
	ErrCancellationWindowClosed = errors.New("cancellation window closed")
	ErrNotReservationOwner      = errors.New("reservation belongs to another holder")

	// Validation errors
	ErrInvalidUnitID      = errors.New("invalid unit id")
	ErrInvalidPartition   = errors.New("invalid partition")
	ErrInvalidHolder      = errors.New("holder id is required")
	ErrNoUnits            = errors.New("at least one unit is required")
	ErrTooManyUnits       = errors.New("too many units requested")
	ErrInvalidTTL         = errors.New("lock ttl must be positive")
	ErrInvalidQuantity    = errors.New("quantity must be greater than zero")
	ErrInvalidExternalRef = errors.New("payment external reference is required")
	ErrInvalidCounter     = errors.New("counter value must not be negative")
	ErrInvalidReservation = errors.New("reservation id is required")
)

// UnitUnavailableError lists every requested unit that could not be locked
type UnitUnavailableError struct {
	UnitIDs []string
}

func (e *UnitUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnitUnavailable.Error(), strings.Join(e.UnitIDs, ","))
}

func (e *UnitUnavailableError) Unwrap() error {
	return ErrUnitUnavailable
}

// PaymentCapturedError reports a payment that arrived after the reservation's
// units were lost. The payment needs manual refund review.
type PaymentCapturedError struct {
	ReservationID string
	ExternalRef   string
}

func (e *PaymentCapturedError) Error() string {
	return fmt.Sprintf("payment %s captured for reservation %s but units were lost", e.ExternalRef, e.ReservationID)
}

func (e *PaymentCapturedError) Unwrap() error {
	return ErrStaleReservation
}

// UnavailableUnits returns the unit ids carried by err, if any
func UnavailableUnits(err error) []string {
	var ue *UnitUnavailableError
	if errors.As(err, &ue) {
		return ue.UnitIDs
	}
	return nil
}

// IsPaymentCaptured checks if money moved but the units are gone
func IsPaymentCaptured(err error) bool {
	var pe *PaymentCapturedError
	return errors.As(err, &pe)
}

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrUnknownCategory)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidUnitID) ||
		errors.Is(err, ErrInvalidPartition) ||
		errors.Is(err, ErrInvalidHolder) ||
		errors.Is(err, ErrNoUnits) ||
		errors.Is(err, ErrTooManyUnits) ||
		errors.Is(err, ErrInvalidTTL) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidExternalRef) ||
		errors.Is(err, ErrInvalidCounter) ||
		errors.Is(err, ErrInvalidReservation)
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrUnitUnavailable) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrCancellationWindowClosed)
}

// IsUserFacing reports errors the caller can act on (pick other units,
// restart the booking, fix the request)
func IsUserFacing(err error) bool {
	return errors.Is(err, ErrUnitUnavailable) ||
		errors.Is(err, ErrStaleReservation) ||
		IsConflictError(err) ||
		IsValidationError(err) ||
		IsNotFoundError(err)
}

// IsTransient reports errors that are retried inside the component owning
// the atomic operation
func IsTransient(err error) bool {
	return errors.Is(err, ErrSequenceContention) ||
		errors.Is(err, ErrPartitionWriteConflict)
}

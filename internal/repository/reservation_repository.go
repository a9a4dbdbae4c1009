package repository

import (
	"context"
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

// ReservationRepository stores reservation records. Records are never deleted.
type ReservationRepository interface {
	// Create inserts a new reservation
	Create(ctx context.Context, reservation *domain.Reservation) error

	// GetByID retrieves a reservation by its ID
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)

	// List returns reservations matching filter, newest first
	List(ctx context.Context, filter domain.ReservationFilter) ([]*domain.Reservation, error)

	// ListExpiredPending returns pending reservations whose deadline passed
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)

	// UpdateStatus applies t only if the reservation is still in t.From.
	// Returns ErrInvalidTransition when another caller won the race and
	// ErrReservationNotFound when the id is unknown.
	UpdateStatus(ctx context.Context, t domain.Transition) error
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

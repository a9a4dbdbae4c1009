package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

// MemoryReservationRepository is an in-memory ReservationRepository for
// development and tests
type MemoryReservationRepository struct {
	mu           sync.RWMutex
	reservations map[string]*domain.Reservation
}

// NewMemoryReservationRepository creates a new in-memory repository
func NewMemoryReservationRepository() *MemoryReservationRepository {
	return &MemoryReservationRepository{
		reservations: make(map[string]*domain.Reservation),
	}
}

// Create stores a copy of the reservation
func (r *MemoryReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.reservations[res.ID]; exists {
		return fmt.Errorf("failed to create reservation: duplicate id %s", res.ID)
	}
	r.reservations[res.ID] = clone(res)
	return nil
}

// GetByID returns a copy of the reservation
func (r *MemoryReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.reservations[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	return clone(res), nil
}

// List returns reservations matching filter, newest first
func (r *MemoryReservationRepository) List(ctx context.Context, filter domain.ReservationFilter) ([]*domain.Reservation, error) {
	r.mu.RLock()
	var matched []*domain.Reservation
	for _, res := range r.reservations {
		if matches(res, filter) {
			matched = append(matched, clone(res))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return page(matched, max(filter.Offset, 0), listLimit(filter.Limit)), nil
}

// ListExpiredPending returns pending reservations past their deadline, oldest first
func (r *MemoryReservationRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	r.mu.RLock()
	var expired []*domain.Reservation
	for _, res := range r.reservations {
		if res.IsExpiredAt(now) {
			expired = append(expired, clone(res))
		}
	}
	r.mu.RUnlock()

	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	return page(expired, 0, listLimit(limit)), nil
}

// UpdateStatus applies t only if the reservation is still in t.From
func (r *MemoryReservationRepository) UpdateStatus(ctx context.Context, t domain.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[t.ID]
	if !ok {
		return domain.ErrReservationNotFound
	}
	if res.Status != t.From {
		return fmt.Errorf("%w: %s is %s, expected %s", domain.ErrInvalidTransition, t.ID, res.Status, t.From)
	}

	res.Status = t.To
	res.UpdatedAt = t.At
	if t.Reason != "" {
		res.StatusReason = t.Reason
	}
	if t.Payment != nil {
		p := *t.Payment
		res.Payment = &p
	}
	at := t.At
	if t.From != t.To {
		switch t.To {
		case domain.StatusConfirmed:
			res.ConfirmedAt = &at
		case domain.StatusCancelled, domain.StatusPaymentFailed:
			res.CancelledAt = &at
		}
	}
	return nil
}

func matches(res *domain.Reservation, f domain.ReservationFilter) bool {
	if f.Category != "" && res.Category != f.Category {
		return false
	}
	if f.HolderID != "" && res.Holder.ID != f.HolderID {
		return false
	}
	if f.Status != "" && res.Status != f.Status {
		return false
	}
	if f.ExpiresBefore != nil && !res.ExpiresAt.Before(*f.ExpiresBefore) {
		return false
	}
	if !f.IncludeSynthetic && res.Synthetic {
		return false
	}
	return true
}

func page(items []*domain.Reservation, offset, limit int) []*domain.Reservation {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func clone(res *domain.Reservation) *domain.Reservation {
	c := *res
	c.Units = append([]string(nil), res.Units...)
	if res.Payment != nil {
		p := *res.Payment
		c.Payment = &p
	}
	return &c
}

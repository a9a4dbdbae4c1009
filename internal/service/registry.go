package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
)

// Registry routes requests to the lifecycle service of a category
type Registry struct {
	services     map[string]LifecycleService
	reservations repository.ReservationRepository
}

// NewRegistry creates a registry over services that share reservations
func NewRegistry(reservations repository.ReservationRepository, services ...LifecycleService) *Registry {
	r := &Registry{
		services:     make(map[string]LifecycleService, len(services)),
		reservations: reservations,
	}
	for _, s := range services {
		r.services[s.Category()] = s
	}
	return r
}

// For returns the service handling category
func (r *Registry) For(category string) (LifecycleService, error) {
	s, ok := r.services[strings.ToLower(strings.TrimSpace(category))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCategory, category)
	}
	return s, nil
}

// ForReservation looks the reservation up and returns its category's service
func (r *Registry) ForReservation(ctx context.Context, id string) (LifecycleService, error) {
	res, err := r.reservations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.For(res.Category)
}

// Categories returns the registered categories in sorted order
func (r *Registry) Categories() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns reservations across every category
func (r *Registry) List(ctx context.Context, filter domain.ReservationFilter) ([]*domain.Reservation, error) {
	return r.reservations.List(ctx, filter)
}

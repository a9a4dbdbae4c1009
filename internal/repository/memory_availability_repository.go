package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

// MemoryAvailabilityRepository is an in-process AvailabilityRepository. One
// mutex serializes all partitions, which trivially satisfies per-partition
// linearizability.
type MemoryAvailabilityRepository struct {
	mu         sync.Mutex
	partitions map[string]map[string]domain.UnitRecord
}

// NewMemoryAvailabilityRepository creates an empty store
func NewMemoryAvailabilityRepository() *MemoryAvailabilityRepository {
	return &MemoryAvailabilityRepository{
		partitions: make(map[string]map[string]domain.UnitRecord),
	}
}

// LockUnits blocks every requested unit or none of them
func (r *MemoryAvailabilityRepository) LockUnits(ctx context.Context, params LockParams) (*LockResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	units := r.partitions[params.Partition.String()]

	var unavailable []string
	for _, id := range params.UnitIDs {
		u, ok := units[id]
		if !ok || (u.ReservationID == params.ReservationID && !u.Booked) {
			continue
		}
		if u.StateAt(params.Now) != domain.UnitAvailable {
			unavailable = append(unavailable, id)
		}
	}
	if len(unavailable) > 0 {
		return nil, &domain.UnitUnavailableError{UnitIDs: unavailable}
	}

	if units == nil {
		units = make(map[string]domain.UnitRecord)
		r.partitions[params.Partition.String()] = units
	}

	expiresAt := params.Now.Add(params.TTL).UTC()
	for _, id := range params.UnitIDs {
		exp := expiresAt
		units[id] = domain.UnitRecord{
			Blocked:        true,
			BlockExpiresAt: &exp,
			ReservationID:  params.ReservationID,
			HolderID:       params.Holder.ID,
			HolderName:     params.Holder.Name,
		}
	}

	return &LockResult{
		ReservationID: params.ReservationID,
		Partition:     params.Partition,
		UnitIDs:       params.UnitIDs,
		ExpiresAt:     expiresAt,
	}, nil
}

// FinalizeUnits flips blocked units to booked if all still reference reservationID
func (r *MemoryAvailabilityRepository) FinalizeUnits(ctx context.Context, partition domain.PartitionKey, unitIDs []string, reservationID string, holder domain.Holder, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	units := r.partitions[partition.String()]

	var stale, pending []string
	for _, id := range unitIDs {
		u, ok := units[id]
		switch {
		case !ok || u.ReservationID != reservationID:
			stale = append(stale, id)
		case u.Booked:
		case u.Blocked && u.BlockExpiresAt != nil && u.BlockExpiresAt.After(now):
			pending = append(pending, id)
		default:
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		return fmt.Errorf("%w: units %s no longer held by %s", domain.ErrStaleReservation, strings.Join(stale, ","), reservationID)
	}

	bookedAt := now.UTC()
	for _, id := range pending {
		at := bookedAt
		units[id] = domain.UnitRecord{
			Booked:        true,
			ReservationID: reservationID,
			HolderID:      holder.ID,
			HolderName:    holder.Name,
			BookedAt:      &at,
		}
	}
	return nil
}

// ReleaseUnits clears units still referencing reservationID
func (r *MemoryAvailabilityRepository) ReleaseUnits(ctx context.Context, partition domain.PartitionKey, unitIDs []string, reservationID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := partition.String()
	units := r.partitions[key]

	released := 0
	for _, id := range unitIDs {
		if u, ok := units[id]; ok && u.ReservationID == reservationID {
			delete(units, id)
			released++
		}
	}
	if len(units) == 0 {
		delete(r.partitions, key)
	}
	return released, nil
}

// GetPartition returns a copy of the stored units
func (r *MemoryAvailabilityRepository) GetPartition(ctx context.Context, partition domain.PartitionKey) (map[string]domain.UnitRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	units := r.partitions[partition.String()]
	out := make(map[string]domain.UnitRecord, len(units))
	for id, u := range units {
		out[id] = u
	}
	return out, nil
}

// ListPartitions returns partitions holding at least one unit, sorted
func (r *MemoryAvailabilityRepository) ListPartitions(ctx context.Context) ([]domain.PartitionKey, error) {
	r.mu.Lock()
	keys := make([]string, 0, len(r.partitions))
	for key := range r.partitions {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	sort.Strings(keys)
	partitions := make([]domain.PartitionKey, 0, len(keys))
	for _, key := range keys {
		pk, err := domain.ParsePartitionKey(key)
		if err != nil {
			continue
		}
		partitions = append(partitions, pk)
	}
	return partitions, nil
}

// ReclaimExpired deletes blocks that expired or have no expiry
func (r *MemoryAvailabilityRepository) ReclaimExpired(ctx context.Context, partition domain.PartitionKey, now time.Time) ([]ReclaimedUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := partition.String()
	units := r.partitions[key]

	var reclaimed []ReclaimedUnit
	for id, u := range units {
		if u.Booked || !u.Blocked {
			continue
		}
		if u.BlockExpiresAt == nil || !u.BlockExpiresAt.After(now) {
			delete(units, id)
			reclaimed = append(reclaimed, ReclaimedUnit{UnitID: id, ReservationID: u.ReservationID})
		}
	}
	if len(units) == 0 {
		delete(r.partitions, key)
	}

	sort.Slice(reclaimed, func(i, j int) bool { return reclaimed[i].UnitID < reclaimed[j].UnitID })
	return reclaimed, nil
}

package repository

import (
	"context"
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

// LockParams contains parameters for locking units in one partition
type LockParams struct {
	Partition     domain.PartitionKey
	UnitIDs       []string
	ReservationID string
	Holder        domain.Holder
	TTL           time.Duration
	Now           time.Time
}

// Validate checks the lock parameters
func (p LockParams) Validate() error {
	if err := p.Partition.Validate(); err != nil {
		return err
	}
	if len(p.UnitIDs) == 0 {
		return domain.ErrNoUnits
	}
	if p.ReservationID == "" {
		return domain.ErrInvalidReservation
	}
	if p.TTL <= 0 {
		return domain.ErrInvalidTTL
	}
	return p.Holder.Validate()
}

// LockResult represents a successful lock
type LockResult struct {
	ReservationID string
	Partition     domain.PartitionKey
	UnitIDs       []string
	ExpiresAt     time.Time
}

// ReclaimedUnit is a unit whose expired block was cleared by the sweeper
type ReclaimedUnit struct {
	UnitID        string
	ReservationID string
}

// AvailabilityRepository is the partition-scoped unit map. Every operation is
// atomic over one partition.
type AvailabilityRepository interface {
	// LockUnits blocks every requested unit or none of them
	LockUnits(ctx context.Context, params LockParams) (*LockResult, error)

	// FinalizeUnits flips blocked units to booked if they still reference reservationID
	FinalizeUnits(ctx context.Context, partition domain.PartitionKey, unitIDs []string, reservationID string, holder domain.Holder, now time.Time) error

	// ReleaseUnits clears units still referencing reservationID; safe to repeat
	ReleaseUnits(ctx context.Context, partition domain.PartitionKey, unitIDs []string, reservationID string) (int, error)

	// GetPartition returns the stored (non-available) units of a partition
	GetPartition(ctx context.Context, partition domain.PartitionKey) (map[string]domain.UnitRecord, error)

	// ListPartitions returns every partition that holds at least one unit
	ListPartitions(ctx context.Context) ([]domain.PartitionKey, error)

	// ReclaimExpired clears blocks that expired or have no expiry
	ReclaimExpired(ctx context.Context, partition domain.PartitionKey, now time.Time) ([]ReclaimedUnit, error)
}

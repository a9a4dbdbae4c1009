package repository

import (
	"context"
)

// SequenceRepository stores one counter per reservation category
type SequenceRepository interface {
	// Increment atomically bumps the category counter and returns the new value.
	// Missing known categories are initialized to zero in the same transaction.
	// A concurrent write aborts the transaction with domain.ErrSequenceContention.
	Increment(ctx context.Context, category string, knownCategories []string) (int64, error)

	// Counters returns a consistent snapshot of all counters
	Counters(ctx context.Context) (map[string]int64, error)

	// Reset sets a counter to value
	Reset(ctx context.Context, category string, value int64, knownCategories []string) error
}

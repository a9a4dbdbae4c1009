package repository

import (
	"context"
	"sync"
)

// MemorySequenceRepository is an in-process SequenceRepository
type MemorySequenceRepository struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemorySequenceRepository creates an empty counter set
func NewMemorySequenceRepository() *MemorySequenceRepository {
	return &MemorySequenceRepository{counters: make(map[string]int64)}
}

// Increment bumps category by one
func (r *MemorySequenceRepository) Increment(ctx context.Context, category string, knownCategories []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.initialize(knownCategories)
	r.counters[category]++
	return r.counters[category], nil
}

// Counters returns a copy of all counters
func (r *MemorySequenceRepository) Counters(ctx context.Context) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int64, len(r.counters))
	for c, v := range r.counters {
		out[c] = v
	}
	return out, nil
}

// Reset sets category to value
func (r *MemorySequenceRepository) Reset(ctx context.Context, category string, value int64, knownCategories []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.initialize(knownCategories)
	r.counters[category] = value
	return nil
}

func (r *MemorySequenceRepository) initialize(categories []string) {
	for _, c := range categories {
		if _, ok := r.counters[c]; !ok {
			r.counters[c] = 0
		}
	}
}

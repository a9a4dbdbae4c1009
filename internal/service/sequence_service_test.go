package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
)

var categories = []string{"hall", "show", "stall"}

func newTestSequence(repo repository.SequenceRepository, now func() time.Time) SequenceService {
	return NewSequenceService(repo, &SequenceServiceConfig{
		Prefix:     "BK",
		Categories: categories,
		Attempts:   3,
		Backoff:    time.Millisecond,
		Now:        now,
	})
}

func TestSequence_NextIDFormat(t *testing.T) {
	svc := newTestSequence(repository.NewMemorySequenceRepository(), nil)
	ctx := context.Background()

	id, err := svc.NextID(ctx, "hall")
	require.NoError(t, err)
	assert.Equal(t, "BK-HALL-00001", id)

	id, err = svc.NextID(ctx, "Hall")
	require.NoError(t, err)
	assert.Equal(t, "BK-HALL-00002", id)

	id, err = svc.NextID(ctx, "stall")
	require.NoError(t, err)
	assert.Equal(t, "BK-STALL-00001", id)

	_, err = svc.NextID(ctx, "parking")
	assert.ErrorIs(t, err, domain.ErrUnknownCategory)
}

func TestSequence_ConcurrentIDsAreUniqueAndMonotonic(t *testing.T) {
	svc := newTestSequence(repository.NewMemorySequenceRepository(), nil)
	ctx := context.Background()

	const workers = 100
	ids := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := svc.NextID(ctx, "show")
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, workers)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	for n := 1; n <= workers; n++ {
		assert.True(t, seen[fmt.Sprintf("BK-SHOW-%05d", n)], "missing number %d", n)
	}

	counters, err := svc.CurrentCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), counters["show"])
	assert.Equal(t, int64(0), counters["hall"])
}

func TestSequence_RetriesContention(t *testing.T) {
	calls := 0
	repo := &MockSequenceRepository{
		IncrementFunc: func(ctx context.Context, category string, known []string) (int64, error) {
			calls++
			if calls < 3 {
				return 0, domain.ErrSequenceContention
			}
			return 7, nil
		},
	}
	svc := newTestSequence(repo, nil)

	id, err := svc.NextID(context.Background(), "hall")
	require.NoError(t, err)
	assert.Equal(t, "BK-HALL-00007", id)
	assert.Equal(t, 3, calls)
}

func TestSequence_FallbackIDsAreUnique(t *testing.T) {
	repo := &MockSequenceRepository{
		IncrementFunc: func(ctx context.Context, category string, known []string) (int64, error) {
			return 0, domain.ErrSequenceContention
		},
	}
	// A frozen clock forces the timestamp guard to keep ids apart
	frozen := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestSequence(repo, func() time.Time { return frozen })
	ctx := context.Background()

	pattern := regexp.MustCompile(`^BK-HALL-T[0-9]+[0-9a-f]{4}$`)

	const workers = 50
	ids := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := svc.NextID(ctx, "hall")
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, workers)
	for id := range ids {
		assert.Regexp(t, pattern, id)
		assert.False(t, seen[id], "duplicate fallback id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers)
}

func TestSequence_FallbackAfterStoreError(t *testing.T) {
	repo := &MockSequenceRepository{
		IncrementFunc: func(ctx context.Context, category string, known []string) (int64, error) {
			return 0, errors.New("dial tcp: connection refused")
		},
	}
	svc := newTestSequence(repo, nil)

	id, err := svc.NextID(context.Background(), "stall")
	require.NoError(t, err)
	assert.Regexp(t, `^BK-STALL-T`, id)
}

func TestSequence_CanceledContextIsReturned(t *testing.T) {
	repo := &MockSequenceRepository{
		IncrementFunc: func(ctx context.Context, category string, known []string) (int64, error) {
			return 0, domain.ErrSequenceContention
		},
	}
	svc := newTestSequence(repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.NextID(ctx, "hall")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSequence_ResetCounter(t *testing.T) {
	svc := newTestSequence(repository.NewMemorySequenceRepository(), nil)
	ctx := context.Background()

	require.NoError(t, svc.ResetCounter(ctx, "hall", 99))
	id, err := svc.NextID(ctx, "hall")
	require.NoError(t, err)
	assert.Equal(t, "BK-HALL-00100", id)

	assert.ErrorIs(t, svc.ResetCounter(ctx, "hall", -1), domain.ErrInvalidCounter)
	assert.ErrorIs(t, svc.ResetCounter(ctx, "parking", 0), domain.ErrUnknownCategory)
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	pkgredis "github.com/prohmpiriya/reservation-engine/pkg/redis"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

const sequenceCountersKey = "sequence:counters"

// RedisSequenceRepository keeps all category counters in one Redis hash and
// updates it with WATCH/MULTI. A concurrent writer aborts the transaction
// instead of blocking; the caller decides whether to retry.
type RedisSequenceRepository struct {
	client *pkgredis.Client
}

// NewRedisSequenceRepository creates a new RedisSequenceRepository
func NewRedisSequenceRepository(client *pkgredis.Client) *RedisSequenceRepository {
	return &RedisSequenceRepository{client: client}
}

// Increment bumps category by one inside an optimistic transaction
func (r *RedisSequenceRepository) Increment(ctx context.Context, category string, knownCategories []string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.sequence.increment")
	defer span.End()

	span.SetAttributes(attribute.String("category", category))

	var next int64
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		counters, err := readCounters(ctx, tx)
		if err != nil {
			return err
		}
		next = counters[category] + 1

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, c := range knownCategories {
				if _, ok := counters[c]; !ok && c != category {
					pipe.HSet(ctx, sequenceCountersKey, c, 0)
				}
			}
			pipe.HSet(ctx, sequenceCountersKey, category, next)
			return nil
		})
		return err
	}, sequenceCountersKey)

	if err != nil {
		telemetry.RecordError(span, err)
		if pkgredis.IsTxFailed(err) {
			return 0, domain.ErrSequenceContention
		}
		return 0, fmt.Errorf("failed to increment sequence %s: %w", category, err)
	}

	span.SetAttributes(attribute.Int64("value", next))
	return next, nil
}

// Counters reads all counters inside MULTI/EXEC
func (r *RedisSequenceRepository) Counters(ctx context.Context) (map[string]int64, error) {
	var cmd *redis.MapStringStringCmd
	_, err := r.client.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		cmd = pipe.HGetAll(ctx, sequenceCountersKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read sequence counters: %w", err)
	}
	return parseCounters(cmd.Val())
}

// Reset sets category to value, initializing missing known categories
func (r *RedisSequenceRepository) Reset(ctx context.Context, category string, value int64, knownCategories []string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.sequence.reset")
	defer span.End()

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		counters, err := readCounters(ctx, tx)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, c := range knownCategories {
				if _, ok := counters[c]; !ok && c != category {
					pipe.HSet(ctx, sequenceCountersKey, c, 0)
				}
			}
			pipe.HSet(ctx, sequenceCountersKey, category, value)
			return nil
		})
		return err
	}, sequenceCountersKey)

	if err != nil {
		telemetry.RecordError(span, err)
		if pkgredis.IsTxFailed(err) {
			return domain.ErrSequenceContention
		}
		return fmt.Errorf("failed to reset sequence %s: %w", category, err)
	}
	return nil
}

func readCounters(ctx context.Context, tx *redis.Tx) (map[string]int64, error) {
	raw, err := tx.HGetAll(ctx, sequenceCountersKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return parseCounters(raw)
}

func parseCounters(raw map[string]string) (map[string]int64, error) {
	counters := make(map[string]int64, len(raw))
	for c, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt sequence counter %s=%q: %w", c, v, err)
		}
		counters[c] = n
	}
	return counters, nil
}

package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	pkgredis "github.com/prohmpiriya/reservation-engine/pkg/redis"
	"github.com/prohmpiriya/reservation-engine/pkg/retry"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

//go:embed scripts/lock_units.lua
var lockUnitsSource string

//go:embed scripts/finalize_units.lua
var finalizeUnitsSource string

//go:embed scripts/release_units.lua
var releaseUnitsSource string

//go:embed scripts/reclaim_expired.lua
var reclaimExpiredSource string

var (
	lockUnitsScript      = pkgredis.NewScript("lock_units", lockUnitsSource)
	finalizeUnitsScript  = pkgredis.NewScript("finalize_units", finalizeUnitsSource)
	releaseUnitsScript   = pkgredis.NewScript("release_units", releaseUnitsSource)
	reclaimExpiredScript = pkgredis.NewScript("reclaim_expired", reclaimExpiredSource)
)

const (
	partitionKeyPrefix = "availability:"
	partitionIndexKey  = "availability:partitions"

	codeUnitUnavailable  = "UNIT_UNAVAILABLE"
	codeStaleReservation = "STALE_RESERVATION"
)

// RedisAvailabilityRepository implements AvailabilityRepository with one Redis
// hash per partition. Every mutation is a Lua script, so it is atomic over
// the whole partition.
type RedisAvailabilityRepository struct {
	client *pkgredis.Client
	retry  *retry.Retrier
}

// NewRedisAvailabilityRepository creates a new RedisAvailabilityRepository.
// Transient Redis errors are retried with retryCfg (nil uses retry defaults).
func NewRedisAvailabilityRepository(client *pkgredis.Client, retryCfg *retry.Config) *RedisAvailabilityRepository {
	cfg := retry.DefaultConfig()
	if retryCfg != nil {
		c := *retryCfg
		cfg = &c
	}
	cfg.RetryIf = func(err error) bool {
		return pkgredis.IsTransient(err) || domain.IsTransient(err)
	}
	return &RedisAvailabilityRepository{client: client, retry: retry.New(cfg)}
}

// LoadScripts preloads all Lua scripts into Redis
func (r *RedisAvailabilityRepository) LoadScripts(ctx context.Context) error {
	return r.client.LoadScripts(ctx, lockUnitsScript, finalizeUnitsScript, releaseUnitsScript, reclaimExpiredScript)
}

// LockUnits atomically blocks all requested units
func (r *RedisAvailabilityRepository) LockUnits(ctx context.Context, params LockParams) (*LockResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.availability.lock_units")
	defer span.End()

	if err := params.Validate(); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("partition", params.Partition.String()),
		attribute.String("reservation_id", params.ReservationID),
		attribute.Int("units", len(params.UnitIDs)),
	)

	expiresAt := params.Now.Add(params.TTL)
	keys := []string{partitionHashKey(params.Partition), partitionIndexKey}
	args := []interface{}{
		params.Now.UnixMilli(),    // ARGV[1]: now
		expiresAt.UnixMilli(),     // ARGV[2]: block expires at
		params.ReservationID,      // ARGV[3]: reservation id
		params.Holder.ID,          // ARGV[4]: holder id
		params.Holder.Name,        // ARGV[5]: holder name
		params.Partition.String(), // ARGV[6]: index member
	}
	args = appendUnitArgs(args, params.UnitIDs)

	values, err := r.run(ctx, lockUnitsScript, keys, args)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to lock units: %w", err)
	}

	if ok, code, detail := scriptStatus(values); !ok {
		span.SetAttributes(attribute.String("error_code", code))
		span.SetStatus(codes.Error, code)
		if code == codeUnitUnavailable {
			return nil, &domain.UnitUnavailableError{UnitIDs: splitUnits(detail)}
		}
		return nil, fmt.Errorf("lock_units script failed: %s %s", code, detail)
	}

	span.SetStatus(codes.Ok, "")
	return &LockResult{
		ReservationID: params.ReservationID,
		Partition:     params.Partition,
		UnitIDs:       params.UnitIDs,
		ExpiresAt:     time.UnixMilli(expiresAt.UnixMilli()).UTC(),
	}, nil
}

// FinalizeUnits flips the reservation's blocked units to booked
func (r *RedisAvailabilityRepository) FinalizeUnits(ctx context.Context, partition domain.PartitionKey, unitIDs []string, reservationID string, holder domain.Holder, now time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.availability.finalize_units")
	defer span.End()

	span.SetAttributes(
		attribute.String("partition", partition.String()),
		attribute.String("reservation_id", reservationID),
	)

	keys := []string{partitionHashKey(partition)}
	args := []interface{}{now.UnixMilli(), reservationID, holder.ID, holder.Name}
	args = appendUnitArgs(args, unitIDs)

	values, err := r.run(ctx, finalizeUnitsScript, keys, args)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to finalize units: %w", err)
	}

	if ok, code, detail := scriptStatus(values); !ok {
		span.SetAttributes(attribute.String("error_code", code))
		span.SetStatus(codes.Error, code)
		if code == codeStaleReservation {
			return fmt.Errorf("%w: units %s no longer held by %s", domain.ErrStaleReservation, detail, reservationID)
		}
		return fmt.Errorf("finalize_units script failed: %s %s", code, detail)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ReleaseUnits clears the units that still reference reservationID
func (r *RedisAvailabilityRepository) ReleaseUnits(ctx context.Context, partition domain.PartitionKey, unitIDs []string, reservationID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.availability.release_units")
	defer span.End()

	span.SetAttributes(
		attribute.String("partition", partition.String()),
		attribute.String("reservation_id", reservationID),
	)

	keys := []string{partitionHashKey(partition), partitionIndexKey}
	args := []interface{}{reservationID, partition.String()}
	args = appendUnitArgs(args, unitIDs)

	values, err := r.run(ctx, releaseUnitsScript, keys, args)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, fmt.Errorf("failed to release units: %w", err)
	}
	if len(values) < 2 {
		return 0, fmt.Errorf("unexpected release_units result length: %d", len(values))
	}

	released, _ := toInt64(values[1])
	span.SetAttributes(attribute.Int64("released", released))
	return int(released), nil
}

// GetPartition returns every stored unit of a partition
func (r *RedisAvailabilityRepository) GetPartition(ctx context.Context, partition domain.PartitionKey) (map[string]domain.UnitRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.availability.get_partition")
	defer span.End()

	raw, err := r.client.HGetAll(ctx, partitionHashKey(partition)).Result()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to read partition %s: %w", partition, err)
	}

	units := make(map[string]domain.UnitRecord, len(raw))
	for unitID, value := range raw {
		var stored storedUnit
		if err := json.Unmarshal([]byte(value), &stored); err != nil {
			return nil, fmt.Errorf("failed to decode unit %s in %s: %w", unitID, partition, err)
		}
		units[unitID] = stored.toDomain()
	}
	return units, nil
}

// ListPartitions returns the indexed partitions. Members that no longer parse
// are skipped.
func (r *RedisAvailabilityRepository) ListPartitions(ctx context.Context) ([]domain.PartitionKey, error) {
	members, err := r.client.SMembers(ctx, partitionIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	partitions := make([]domain.PartitionKey, 0, len(members))
	for _, m := range members {
		pk, err := domain.ParsePartitionKey(m)
		if err != nil {
			continue
		}
		partitions = append(partitions, pk)
	}
	return partitions, nil
}

// ReclaimExpired deletes blocks that are expired or missing an expiry
func (r *RedisAvailabilityRepository) ReclaimExpired(ctx context.Context, partition domain.PartitionKey, now time.Time) ([]ReclaimedUnit, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.availability.reclaim_expired")
	defer span.End()

	span.SetAttributes(attribute.String("partition", partition.String()))

	keys := []string{partitionHashKey(partition), partitionIndexKey}
	values, err := r.run(ctx, reclaimExpiredScript, keys, []interface{}{now.UnixMilli(), partition.String()})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to reclaim expired units: %w", err)
	}

	var reclaimed []ReclaimedUnit
	for i := 1; i+1 < len(values); i += 2 {
		unitID, _ := values[i].(string)
		reservationID, _ := values[i+1].(string)
		reclaimed = append(reclaimed, ReclaimedUnit{UnitID: unitID, ReservationID: reservationID})
	}
	span.SetAttributes(attribute.Int("reclaimed", len(reclaimed)))
	return reclaimed, nil
}

// run executes a script, retrying transient failures
func (r *RedisAvailabilityRepository) run(ctx context.Context, script *pkgredis.Script, keys []string, args []interface{}) ([]interface{}, error) {
	var values []interface{}
	result := r.retry.Do(ctx, func(ctx context.Context) error {
		v, err := r.client.Run(ctx, script, keys, args...).Slice()
		if err != nil {
			return err
		}
		values = v
		return nil
	})
	if result.Err != nil {
		return nil, result.Err
	}
	if len(values) == 0 {
		return nil, errors.New("empty script result")
	}
	return values, nil
}

func partitionHashKey(p domain.PartitionKey) string {
	return partitionKeyPrefix + p.String()
}

func appendUnitArgs(args []interface{}, unitIDs []string) []interface{} {
	for _, id := range unitIDs {
		args = append(args, id)
	}
	return args
}

// scriptStatus parses the {1, ...} / {0, code, detail} result convention
func scriptStatus(values []interface{}) (bool, string, string) {
	status, _ := toInt64(values[0])
	if status == 1 {
		return true, "", ""
	}
	var code, detail string
	if len(values) > 1 {
		code, _ = values[1].(string)
	}
	if len(values) > 2 {
		detail, _ = values[2].(string)
	}
	return false, code, detail
}

func splitUnits(detail string) []string {
	if detail == "" {
		return nil
	}
	return strings.Split(detail, ",")
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		var i int64
		_, err := fmt.Sscan(n, &i)
		return i, err == nil
	}
	return 0, false
}

// storedUnit is the JSON layout inside the partition hash; timestamps are unix
// milliseconds so the Lua scripts can compare them
type storedUnit struct {
	Blocked        bool   `json:"blocked,omitempty"`
	BlockExpiresAt int64  `json:"blockExpiresAt,omitempty"`
	Booked         bool   `json:"booked,omitempty"`
	ReservationID  string `json:"reservationId,omitempty"`
	HolderID       string `json:"holderId,omitempty"`
	HolderName     string `json:"holderName,omitempty"`
	BookedAt       int64  `json:"bookedAt,omitempty"`
}

func (s storedUnit) toDomain() domain.UnitRecord {
	u := domain.UnitRecord{
		Blocked:       s.Blocked,
		Booked:        s.Booked,
		ReservationID: s.ReservationID,
		HolderID:      s.HolderID,
		HolderName:    s.HolderName,
	}
	if s.BlockExpiresAt > 0 {
		t := time.UnixMilli(s.BlockExpiresAt).UTC()
		u.BlockExpiresAt = &t
	}
	if s.BookedAt > 0 {
		t := time.UnixMilli(s.BookedAt).UTC()
		u.BookedAt = &t
	}
	return u
}

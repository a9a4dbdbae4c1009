package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/metrics"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/retry"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// SequenceService issues human-readable reservation ids
type SequenceService interface {
	// NextID returns "<prefix>-<CATEGORY>-<00001>". When the counter cannot
	// be advanced it returns a unique timestamp id instead.
	NextID(ctx context.Context, category string) (string, error)

	// CurrentCounters returns the last issued number per category
	CurrentCounters(ctx context.Context) (map[string]int64, error)

	// ResetCounter sets a category counter; the next id uses value+1
	ResetCounter(ctx context.Context, category string, value int64) error
}

// SequenceServiceConfig contains configuration for the sequence service
type SequenceServiceConfig struct {
	Prefix     string
	Categories []string
	Attempts   int
	Backoff    time.Duration
	Now        func() time.Time
}

type sequenceService struct {
	repo       repository.SequenceRepository
	prefix     string
	categories []string
	retrier    *retry.Retrier
	now        func() time.Time
	log        *logger.Logger

	lastFallback atomic.Int64
}

// NewSequenceService creates a new sequence service
func NewSequenceService(repo repository.SequenceRepository, cfg *SequenceServiceConfig) SequenceService {
	if cfg == nil {
		cfg = &SequenceServiceConfig{}
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "BK"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	categories := make([]string, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		categories = append(categories, strings.ToLower(strings.TrimSpace(c)))
	}
	slices.Sort(categories)

	retryCfg := retry.DefaultConfig()
	if cfg.Attempts > 0 {
		retryCfg.Attempts = cfg.Attempts
	}
	if cfg.Backoff > 0 {
		retryCfg.InitialInterval = cfg.Backoff
	}
	retryCfg.RetryIf = domain.IsTransient
	retryCfg.OnRetry = func(int, error, time.Duration) { metrics.RecordSequenceRetry() }

	return &sequenceService{
		repo:       repo,
		prefix:     prefix,
		categories: categories,
		retrier:    retry.New(retryCfg),
		now:        now,
		log:        logger.Get().Named("sequence"),
	}
}

func (s *sequenceService) NextID(ctx context.Context, category string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.sequence.next_id")
	defer span.End()

	category, err := s.knownCategory(category)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("category", category))

	var n int64
	result := s.retrier.Do(ctx, func(ctx context.Context) error {
		v, err := s.repo.Increment(ctx, category, s.categories)
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	if result.Err == nil {
		return fmt.Sprintf("%s-%s-%05d", s.prefix, strings.ToUpper(category), n), nil
	}
	if errors.Is(result.Err, retry.ErrContextCanceled) {
		return "", result.Err
	}

	telemetry.RecordError(span, result.Err)
	id := s.fallbackID(category)
	s.log.WarnContext(ctx, "sequence counter unavailable, issuing fallback id",
		zap.String("category", category),
		zap.String("id", id),
		zap.Int("attempts", result.Attempts),
		zap.Error(result.Err),
	)
	metrics.RecordSequenceFallback(category)
	return id, nil
}

func (s *sequenceService) CurrentCounters(ctx context.Context) (map[string]int64, error) {
	var counters map[string]int64
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		c, err := s.repo.Counters(ctx)
		if err != nil {
			return err
		}
		counters = c
		return nil
	}).Err
	if err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}

	// Categories never incremented still report zero
	if counters == nil {
		counters = make(map[string]int64, len(s.categories))
	}
	for _, c := range s.categories {
		if _, ok := counters[c]; !ok {
			counters[c] = 0
		}
	}
	return counters, nil
}

func (s *sequenceService) ResetCounter(ctx context.Context, category string, value int64) error {
	if value < 0 {
		return domain.ErrInvalidCounter
	}
	category, err := s.knownCategory(category)
	if err != nil {
		return err
	}

	err = s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.repo.Reset(ctx, category, value, s.categories)
	}).Err
	if err != nil {
		return fmt.Errorf("failed to reset counter %s: %w", category, err)
	}

	s.log.InfoContext(ctx, "sequence counter reset",
		zap.String("category", category),
		zap.Int64("value", value),
	)
	return nil
}

func (s *sequenceService) knownCategory(category string) (string, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if _, found := slices.BinarySearch(s.categories, category); !found {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownCategory, category)
	}
	return category, nil
}

// fallbackID returns "<prefix>-<CATEGORY>-T<unixnano><4 hex>". The
// timestamp part is strictly increasing within the process.
func (s *sequenceService) fallbackID(category string) string {
	ts := s.now().UnixNano()
	for {
		last := s.lastFallback.Load()
		if ts <= last {
			ts = last + 1
		}
		if s.lastFallback.CompareAndSwap(last, ts) {
			break
		}
	}

	b := make([]byte, 2)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s-%s-T%d%s", s.prefix, strings.ToUpper(category), ts, hex.EncodeToString(b))
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/metrics"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/internal/service"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// ExpirySweeperConfig contains configuration for the expiry sweeper
type ExpirySweeperConfig struct {
	// Interval is the time between sweeps
	Interval time.Duration
	// BatchSize caps the expired pending reservations handled per sweep
	BatchSize int
	// Now is the sweeper clock
	Now func() time.Time
}

// DefaultExpirySweeperConfig returns default configuration
func DefaultExpirySweeperConfig() *ExpirySweeperConfig {
	return &ExpirySweeperConfig{
		Interval:  2 * time.Minute,
		BatchSize: 100,
		Now:       time.Now,
	}
}

// SweepReport summarizes one sweep
type SweepReport struct {
	StartedAt           time.Time     `json:"started_at"`
	Duration            time.Duration `json:"duration"`
	Partitions          int           `json:"partitions"`
	UnitsReclaimed      int           `json:"units_reclaimed"`
	ReservationsExpired int           `json:"reservations_expired"`
	Errors              int           `json:"errors"`
}

// ExpirySweeper returns expired holds to the pool and cancels the
// reservations that owned them
type ExpirySweeper struct {
	availability repository.AvailabilityRepository
	reservations repository.ReservationRepository
	registry     *service.Registry
	config       *ExpirySweeperConfig
	log          *logger.Logger
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool

	// sweepMu keeps sweeps in this process from overlapping
	sweepMu sync.Mutex

	// Stats
	totalSweeps    int64
	totalReclaimed int64
	totalExpired   int64
	totalErrors    int64
	lastSweep      *SweepReport
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(
	availability repository.AvailabilityRepository,
	reservations repository.ReservationRepository,
	registry *service.Registry,
	config *ExpirySweeperConfig,
) *ExpirySweeper {
	def := DefaultExpirySweeperConfig()
	if config == nil {
		config = def
	}
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.Now == nil {
		config.Now = def.Now
	}

	return &ExpirySweeper{
		availability: availability,
		reservations: reservations,
		registry:     registry,
		config:       config,
		log:          logger.Get().Named("expiry-sweeper"),
		stopCh:       make(chan struct{}),
	}
}

// Start starts the sweeper goroutine. The first sweep runs immediately.
func (w *ExpirySweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("expiry sweeper already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.log.Info("Starting expiry sweeper", zap.Duration("interval", w.config.Interval))

	w.wg.Add(1)
	go w.run(ctx)

	return nil
}

// Stop stops the sweeper and waits for an in-flight sweep to finish
func (w *ExpirySweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping expiry sweeper")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Expiry sweeper stopped")
}

func (w *ExpirySweeper) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpirySweeper) sweep(ctx context.Context) {
	if _, err := w.SweepNow(ctx); err != nil {
		w.log.Error("Sweep failed", zap.Error(err))
	}
}

// SweepNow runs one sweep: reclaim expired units partition by partition,
// then cancel pending reservations past their deadline. Failures are
// counted and the sweep moves on.
func (w *ExpirySweeper) SweepNow(ctx context.Context) (*SweepReport, error) {
	w.sweepMu.Lock()
	defer w.sweepMu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "worker.expiry_sweeper.sweep")
	defer span.End()

	now := w.config.Now()
	report := &SweepReport{StartedAt: now}
	start := time.Now()

	partitions, err := w.availability.ListPartitions(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	report.Partitions = len(partitions)

	for _, p := range partitions {
		w.reclaimPartition(ctx, p, now, report)
	}

	expired, err := w.reservations.ListExpiredPending(ctx, now, w.config.BatchSize)
	if err != nil {
		w.log.Error("Failed to list expired reservations", zap.Error(err))
		report.Errors++
	}
	for _, res := range expired {
		w.expire(ctx, res.ID, report)
	}

	report.Duration = time.Since(start)
	metrics.RecordSweep(report.Duration, report.Errors)
	metrics.RecordReclaimed(report.UnitsReclaimed)

	w.mu.Lock()
	w.totalSweeps++
	w.totalReclaimed += int64(report.UnitsReclaimed)
	w.totalExpired += int64(report.ReservationsExpired)
	w.totalErrors += int64(report.Errors)
	w.lastSweep = report
	w.mu.Unlock()

	if report.UnitsReclaimed > 0 || report.ReservationsExpired > 0 || report.Errors > 0 {
		w.log.Info("Sweep finished",
			zap.Int("partitions", report.Partitions),
			zap.Int("units_reclaimed", report.UnitsReclaimed),
			zap.Int("reservations_expired", report.ReservationsExpired),
			zap.Int("errors", report.Errors),
			zap.Duration("duration", report.Duration),
		)
	}
	return report, nil
}

func (w *ExpirySweeper) reclaimPartition(ctx context.Context, p domain.PartitionKey, now time.Time, report *SweepReport) {
	reclaimed, err := w.availability.ReclaimExpired(ctx, p, now)
	if err != nil {
		w.log.Error("Failed to reclaim partition",
			zap.String("partition", p.String()),
			zap.Error(err),
		)
		report.Errors++
		return
	}
	report.UnitsReclaimed += len(reclaimed)

	seen := make(map[string]struct{}, len(reclaimed))
	for _, u := range reclaimed {
		if _, dup := seen[u.ReservationID]; dup || u.ReservationID == "" {
			continue
		}
		seen[u.ReservationID] = struct{}{}
		w.expire(ctx, u.ReservationID, report)
	}
}

// expire cancels one reservation if it is still pending
func (w *ExpirySweeper) expire(ctx context.Context, id string, report *SweepReport) {
	svc, err := w.registry.ForReservation(ctx, id)
	if errors.Is(err, domain.ErrReservationNotFound) {
		// Lock left behind by a create that was rolled back
		w.log.Debug("Reclaimed units had no reservation record", zap.String("reservation_id", id))
		return
	}
	if err != nil {
		w.log.Error("Failed to resolve reservation", zap.String("reservation_id", id), zap.Error(err))
		report.Errors++
		return
	}

	_, err = svc.Expire(ctx, id, domain.ReasonExpired)
	switch {
	case err == nil:
		report.ReservationsExpired++
	case errors.Is(err, domain.ErrInvalidTransition):
		// Confirmed or cancelled since the units were read
	default:
		w.log.Error("Failed to expire reservation", zap.String("reservation_id", id), zap.Error(err))
		report.Errors++
	}
}

// ReleaseReservation is the manual cleanup entry point. A pending
// reservation is cancelled; for a cancelled or failed one, units it still
// references are released.
func (w *ExpirySweeper) ReleaseReservation(ctx context.Context, id, reason string) (*domain.Reservation, int, error) {
	svc, err := w.registry.ForReservation(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	res, err := svc.Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	switch res.Status {
	case domain.StatusPendingPayment:
		if reason == "" {
			reason = "released by operator"
		}
		expired, err := svc.Expire(ctx, id, reason)
		if err != nil {
			return nil, 0, err
		}
		return expired, len(expired.Units), nil
	case domain.StatusConfirmed:
		return nil, 0, fmt.Errorf("%w: %s is confirmed, cancel it instead", domain.ErrInvalidTransition, id)
	}

	released, err := w.availability.ReleaseUnits(ctx, res.Partition, res.Units, res.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to release units: %w", err)
	}
	w.log.Info("Released leftover units",
		zap.String("reservation_id", id),
		zap.Int("released", released),
	)
	return res, released, nil
}

// GetStats returns sweeper statistics
func (w *ExpirySweeper) GetStats() *ExpirySweeperStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := &ExpirySweeperStats{
		IsRunning:      w.running,
		Interval:       w.config.Interval.String(),
		TotalSweeps:    w.totalSweeps,
		TotalReclaimed: w.totalReclaimed,
		TotalExpired:   w.totalExpired,
		TotalErrors:    w.totalErrors,
	}
	if w.lastSweep != nil {
		last := *w.lastSweep
		stats.LastSweep = &last
	}
	return stats
}

// ExpirySweeperStats contains sweeper statistics
type ExpirySweeperStats struct {
	IsRunning      bool         `json:"is_running"`
	Interval       string       `json:"interval"`
	TotalSweeps    int64        `json:"total_sweeps"`
	TotalReclaimed int64        `json:"total_reclaimed"`
	TotalExpired   int64        `json:"total_expired"`
	TotalErrors    int64        `json:"total_errors"`
	LastSweep      *SweepReport `json:"last_sweep,omitempty"`
}

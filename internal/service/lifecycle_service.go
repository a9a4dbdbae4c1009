package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/metrics"
	"github.com/prohmpiriya/reservation-engine/internal/pricing"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/pkg/config"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/retry"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// ActorKind says on whose behalf a cancellation runs
type ActorKind int

const (
	ActorHolder ActorKind = iota
	ActorAdmin
)

// Actor identifies the caller of Cancel. A holder id is never compared
// against role names.
type Actor struct {
	Kind     ActorKind
	HolderID string
}

// HolderActor acts for the holder with the given id
func HolderActor(holderID string) Actor {
	return Actor{Kind: ActorHolder, HolderID: holderID}
}

// AdminActor may cancel any reservation, inside the cancellation window too
var AdminActor = Actor{Kind: ActorAdmin}

func (a Actor) String() string {
	if a.Kind == ActorAdmin {
		return "admin"
	}
	return "holder"
}

func (a Actor) owns(res *domain.Reservation) bool {
	return a.Kind == ActorHolder && a.HolderID != "" && res.BelongsTo(a.HolderID)
}

// CreateRequest asks for a hold on units of one partition
type CreateRequest struct {
	Holder    domain.Holder
	Partition domain.PartitionKey
	UnitIDs   []string
	// TTL overrides the default lock duration when positive
	TTL time.Duration
}

// QuoteRequest previews the price for quantity units on date
type QuoteRequest struct {
	Date     string
	Quantity int
}

// QuoteResult is a price preview with the next bulk upsell
type QuoteResult struct {
	Category      string             `json:"category"`
	Date          string             `json:"date"`
	Quote         domain.Quote       `json:"quote"`
	NextMilestone *pricing.Milestone `json:"nextMilestone,omitempty"`
}

// UnitView is the public state of one unit
type UnitView struct {
	State     domain.UnitState `json:"state"`
	ExpiresAt *time.Time       `json:"expiresAt,omitempty"`
}

// AvailabilityView lists the units of a partition that are not available.
// Units absent from Units are free.
type AvailabilityView struct {
	Partition domain.PartitionKey `json:"partition"`
	Units     map[string]UnitView `json:"units"`
	Blocked   int                 `json:"blocked"`
	Booked    int                 `json:"booked"`
}

// LifecycleService drives reservations of one inventory category through
// pending_payment -> confirmed | payment_failed | cancelled
type LifecycleService interface {
	Category() string

	// Quote previews pricing without touching inventory
	Quote(ctx context.Context, req *QuoteRequest) (*QuoteResult, error)

	// Availability returns the occupied units of a partition
	Availability(ctx context.Context, partition domain.PartitionKey) (*AvailabilityView, error)

	// Create locks units and stores a pending reservation. Nothing is
	// stored when any step fails.
	Create(ctx context.Context, req *CreateRequest) (*domain.Reservation, error)

	// Confirm marks the reservation confirmed, then finalizes its units.
	// Repeating with the same external reference is a no-op. A captured
	// payment for a reservation whose units are gone returns
	// *domain.PaymentCapturedError.
	Confirm(ctx context.Context, id string, payment domain.PaymentInfo) (*domain.Reservation, error)

	// Fail marks the payment as failed and releases the units
	Fail(ctx context.Context, id, reason string) (*domain.Reservation, error)

	// Cancel cancels on behalf of actor
	Cancel(ctx context.Context, id, reason string, actor Actor) (*domain.Reservation, error)

	// Expire force-cancels a pending reservation and releases its units
	Expire(ctx context.Context, id, reason string) (*domain.Reservation, error)

	Get(ctx context.Context, id string) (*domain.Reservation, error)
	List(ctx context.Context, filter domain.ReservationFilter) ([]*domain.Reservation, error)

	// AdminBlock takes units out of sale with a synthetic reservation
	AdminBlock(ctx context.Context, partition domain.PartitionKey, unitIDs []string, note string) (*domain.Reservation, error)

	// AdminUnblock cancels a synthetic reservation
	AdminUnblock(ctx context.Context, id string) (*domain.Reservation, error)

	// InitiatePayment starts a gateway checkout for the holder's pending reservation
	InitiatePayment(ctx context.Context, id, holderID string) (*PaymentRedirect, error)

	// ApplyPaymentResult maps a gateway outcome to Confirm or Fail
	ApplyPaymentResult(ctx context.Context, result *PaymentResult) (*domain.Reservation, error)
}

// LifecycleServiceConfig contains configuration for a lifecycle service
type LifecycleServiceConfig struct {
	Category         string
	Policy           config.CategoryConfig
	LockTTL          time.Duration
	AdminBlockTTL    time.Duration
	PaymentReturnURL string
	// FollowUpRetry controls retries of availability calls made after a
	// status write
	FollowUpRetry *retry.Config
	Now          func() time.Time
}

type lifecycleService struct {
	category      string
	policy        config.CategoryConfig
	availability  repository.AvailabilityRepository
	reservations  repository.ReservationRepository
	sequence      SequenceService
	pricing       *pricing.Engine
	notifier      Notifier
	gateway       PaymentGateway
	lockTTL       time.Duration
	adminBlockTTL time.Duration
	returnURL     string
	followUp      *retry.Retrier
	now           func() time.Time
	log           *logger.Logger
}

// NewLifecycleService creates the lifecycle service for one category.
// gateway may be nil when payments are initiated elsewhere.
func NewLifecycleService(
	availability repository.AvailabilityRepository,
	reservations repository.ReservationRepository,
	sequence SequenceService,
	engine *pricing.Engine,
	notifier Notifier,
	gateway PaymentGateway,
	cfg *LifecycleServiceConfig,
) (LifecycleService, error) {
	if cfg == nil || cfg.Category == "" {
		return nil, fmt.Errorf("%w: lifecycle service needs a category", domain.ErrConfiguration)
	}
	if engine == nil {
		return nil, fmt.Errorf("%w: category %s has no pricing engine", domain.ErrConfiguration, cfg.Category)
	}
	if cfg.Policy.BasePrice <= 0 {
		return nil, fmt.Errorf("%w: category %s base price must be positive", domain.ErrConfiguration, cfg.Category)
	}

	lockTTL := 10 * time.Minute
	if cfg.LockTTL > 0 {
		lockTTL = cfg.LockTTL
	}
	adminBlockTTL := 10 * 365 * 24 * time.Hour
	if cfg.AdminBlockTTL > 0 {
		adminBlockTTL = cfg.AdminBlockTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if notifier == nil {
		notifier = NewNoOpNotifier()
	}

	category := strings.ToLower(cfg.Category)
	return &lifecycleService{
		category:      category,
		policy:        cfg.Policy,
		availability:  availability,
		reservations:  reservations,
		sequence:      sequence,
		pricing:       engine,
		notifier:      notifier,
		gateway:       gateway,
		lockTTL:       lockTTL,
		adminBlockTTL: adminBlockTTL,
		returnURL:     cfg.PaymentReturnURL,
		followUp:      retry.New(cfg.FollowUpRetry),
		now:           now,
		log:           logger.Get().Named("lifecycle").With(zap.String("category", category)),
	}, nil
}

func (s *lifecycleService) Category() string {
	return s.category
}

func (s *lifecycleService) Quote(ctx context.Context, req *QuoteRequest) (*QuoteResult, error) {
	now := s.now()
	date := now.UTC().Format(domain.DateLayout)
	if req.Date != "" {
		date = req.Date
	}
	ref, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q", domain.ErrInvalidPartition, req.Date)
	}

	quote, err := s.pricing.Quote(pricing.QuoteInput{
		BasePrice:     s.policy.BasePrice,
		Quantity:      req.Quantity,
		ReferenceDate: ref,
		Today:         now,
	})
	if err != nil {
		return nil, err
	}

	return &QuoteResult{
		Category:      s.category,
		Date:          date,
		Quote:         quote,
		NextMilestone: s.pricing.NextMilestone(req.Quantity),
	}, nil
}

func (s *lifecycleService) Availability(ctx context.Context, partition domain.PartitionKey) (*AvailabilityView, error) {
	if err := s.checkPartition(partition); err != nil {
		return nil, err
	}

	units, err := s.availability.GetPartition(ctx, partition)
	if err != nil {
		return nil, err
	}

	now := s.now()
	view := &AvailabilityView{Partition: partition, Units: make(map[string]UnitView, len(units))}
	for id, u := range units {
		switch state := u.StateAt(now); state {
		case domain.UnitBlocked:
			view.Units[id] = UnitView{State: state, ExpiresAt: u.BlockExpiresAt}
			view.Blocked++
		case domain.UnitBooked:
			view.Units[id] = UnitView{State: state}
			view.Booked++
		}
	}
	return view, nil
}

func (s *lifecycleService) Create(ctx context.Context, req *CreateRequest) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.lifecycle.create")
	defer span.End()

	if err := req.Holder.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkPartition(req.Partition); err != nil {
		return nil, err
	}
	units, err := domain.NormalizeUnitIDs(req.UnitIDs)
	if err != nil {
		return nil, err
	}
	if limit := s.policy.MaxUnitsPerReservation; limit > 0 && len(units) > limit {
		return nil, fmt.Errorf("%w: %d requested, at most %d", domain.ErrTooManyUnits, len(units), limit)
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.lockTTL
	}

	span.SetAttributes(
		attribute.String("category", s.category),
		attribute.String("partition", req.Partition.String()),
		attribute.Int("quantity", len(units)),
	)

	quote, err := s.pricing.Quote(pricing.QuoteInput{
		BasePrice:     s.policy.BasePrice,
		Quantity:      len(units),
		ReferenceDate: req.Partition.EventDate(),
		Today:         s.now(),
	})
	if err != nil {
		return nil, err
	}

	id, err := s.sequence.NextID(ctx, s.category)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to allocate reservation id: %w", err)
	}

	res, err := s.lockAndStore(ctx, &domain.Reservation{
		ID:        id,
		Units:     units,
		Partition: req.Partition,
		Holder:    req.Holder,
		Pricing:   quote,
	}, ttl)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	metrics.RecordCreated(s.category)
	s.log.InfoContext(ctx, "reservation created",
		zap.String("reservation_id", res.ID),
		zap.String("partition", res.Partition.String()),
		zap.Strings("units", res.Units),
		zap.Int64("total", res.Pricing.TotalAmount),
	)
	return res, nil
}

// lockAndStore locks the draft's units and persists it as pending. A
// failed write releases the lock again.
func (s *lifecycleService) lockAndStore(ctx context.Context, draft *domain.Reservation, ttl time.Duration) (*domain.Reservation, error) {
	now := s.now()
	lock, err := s.availability.LockUnits(ctx, repository.LockParams{
		Partition:     draft.Partition,
		UnitIDs:       draft.Units,
		ReservationID: draft.ID,
		Holder:        draft.Holder,
		TTL:           ttl,
		Now:           now,
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnitUnavailable) {
			metrics.RecordLockConflict(s.category)
		}
		return nil, err
	}

	res := *draft
	res.Category = s.category
	res.Status = domain.StatusPendingPayment
	res.Quantity = len(draft.Units)
	res.ExpiresAt = lock.ExpiresAt
	res.CreatedAt = now
	res.UpdatedAt = now

	if err := res.Validate(); err != nil {
		s.releaseUnits(ctx, &res)
		return nil, err
	}
	if err := s.reservations.Create(ctx, &res); err != nil {
		s.log.ErrorContext(ctx, "failed to store reservation, rolling back lock",
			zap.String("reservation_id", res.ID),
			zap.String("reason", domain.ReasonRollback),
			zap.Error(err),
		)
		s.releaseUnits(ctx, &res)
		return nil, fmt.Errorf("failed to store reservation: %w", err)
	}
	return &res, nil
}

func (s *lifecycleService) Confirm(ctx context.Context, id string, payment domain.PaymentInfo) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.lifecycle.confirm")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	if payment.ExternalRef == "" {
		return nil, domain.ErrInvalidExternalRef
	}
	now := s.now()
	if payment.Status == "" {
		payment.Status = domain.PaymentStatusCaptured
	}
	if payment.PaidAt == nil {
		payment.PaidAt = &now
	}

	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.Status.IsTerminal() {
		return s.confirmTerminal(ctx, res, payment)
	}

	if payment.Amount != 0 && payment.Amount != res.Pricing.TotalAmount {
		s.log.WarnContext(ctx, "payment amount differs from quoted total",
			zap.String("reservation_id", id),
			zap.Int64("paid", payment.Amount),
			zap.Int64("quoted", res.Pricing.TotalAmount),
		)
	}

	confirmed, err := s.transition(ctx, res, domain.StatusConfirmed, "", &payment)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Cancelled, failed or expired since it was read
		current, getErr := s.reservations.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return s.confirmTerminal(ctx, current, payment)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	return s.finalizeConfirmed(ctx, confirmed, payment)
}

// finalizeConfirmed books the units of a reservation already written as
// confirmed. If they are gone the reservation is cancelled and the payment
// flagged. Other failures are returned so the payment result is redelivered.
func (s *lifecycleService) finalizeConfirmed(ctx context.Context, res *domain.Reservation, payment domain.PaymentInfo) (*domain.Reservation, error) {
	result := s.followUp.Do(context.WithoutCancel(ctx), func(ctx context.Context) error {
		err := s.availability.FinalizeUnits(ctx, res.Partition, res.Units, res.ID, res.Holder, s.now())
		if errors.Is(err, domain.ErrStaleReservation) {
			return retry.Permanent(err)
		}
		return err
	})
	switch {
	case errors.Is(result.Err, domain.ErrStaleReservation):
		return s.seatsLost(ctx, res, payment)
	case result.Err != nil:
		s.log.ErrorContext(ctx, "reservation confirmed but units not finalized, awaiting redelivery",
			zap.String("reservation_id", res.ID),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Err),
		)
		return nil, fmt.Errorf("failed to finalize units: %w", result.Err)
	}

	metrics.RecordConfirmed(s.category)
	s.log.InfoContext(ctx, "reservation confirmed",
		zap.String("reservation_id", res.ID),
		zap.String("external_ref", payment.ExternalRef),
	)
	s.notify(ctx, res)
	return res, nil
}

// confirmTerminal answers a payment for a reservation that is no longer pending
func (s *lifecycleService) confirmTerminal(ctx context.Context, res *domain.Reservation, payment domain.PaymentInfo) (*domain.Reservation, error) {
	switch res.Status {
	case domain.StatusConfirmed:
		if !res.PaidWith(payment.ExternalRef) {
			return nil, fmt.Errorf("%w: %s is %s", domain.ErrInvalidTransition, res.ID, res.Status)
		}
		booked, err := s.unitsBooked(ctx, res)
		if err != nil {
			return nil, err
		}
		if booked {
			return res, nil
		}
		// An earlier confirm wrote the status but could not finalize
		return s.finalizeConfirmed(ctx, res, *res.Payment)
	case domain.StatusCancelled, domain.StatusPaymentFailed:
		return s.lateCapture(ctx, res, payment)
	}
	return nil, fmt.Errorf("%w: %s is %s", domain.ErrInvalidTransition, res.ID, res.Status)
}

// lateCapture records a captured payment for a cancelled or failed
// reservation and flags it for refund review
func (s *lifecycleService) lateCapture(ctx context.Context, res *domain.Reservation, payment domain.PaymentInfo) (*domain.Reservation, error) {
	flagged := &domain.PaymentCapturedError{ReservationID: res.ID, ExternalRef: payment.ExternalRef}
	if res.PaidWith(payment.ExternalRef) && res.Payment.Status == domain.PaymentStatusCaptured {
		if res.StatusReason == domain.ReasonSeatsLost {
			return res, flagged
		}
		// Applied while the reservation was confirmed, cancelled afterwards
		return res, nil
	}

	out := res
	if res.Payment == nil || res.Payment.Status != domain.PaymentStatusCaptured {
		updated, err := s.transition(ctx, res, res.Status, domain.ReasonSeatsLost, &payment)
		if err != nil {
			return nil, err
		}
		out = updated
	}

	// A second capture on an already flagged record is only logged
	metrics.RecordSeatsLost(s.category)
	s.log.ErrorContext(ctx, "payment captured for a closed reservation, refund review required",
		zap.String("reservation_id", res.ID),
		zap.String("status", res.Status.String()),
		zap.String("external_ref", payment.ExternalRef),
		zap.Int64("amount", payment.Amount),
	)
	return out, flagged
}

// unitsBooked reports whether every unit is booked by res
func (s *lifecycleService) unitsBooked(ctx context.Context, res *domain.Reservation) (bool, error) {
	units, err := s.availability.GetPartition(ctx, res.Partition)
	if err != nil {
		return false, err
	}
	for _, id := range res.Units {
		u, ok := units[id]
		if !ok || !u.Booked || u.ReservationID != res.ID {
			return false, nil
		}
	}
	return true, nil
}

// seatsLost cancels a confirmed reservation whose units could not be
// finalized and flags the payment for refund review
func (s *lifecycleService) seatsLost(ctx context.Context, res *domain.Reservation, payment domain.PaymentInfo) (*domain.Reservation, error) {
	cancelled, err := s.transition(ctx, res, domain.StatusCancelled, domain.ReasonSeatsLost, &payment)
	if errors.Is(err, domain.ErrInvalidTransition) {
		current, getErr := s.reservations.GetByID(ctx, res.ID)
		if getErr != nil {
			return nil, getErr
		}
		return s.lateCapture(ctx, current, payment)
	}
	if err != nil {
		return nil, err
	}

	s.releaseUnits(ctx, cancelled)
	s.notify(ctx, cancelled)

	metrics.RecordSeatsLost(s.category)
	s.log.ErrorContext(ctx, "payment captured but units were lost, refund review required",
		zap.String("reservation_id", res.ID),
		zap.String("external_ref", payment.ExternalRef),
		zap.Int64("amount", payment.Amount),
	)
	return cancelled, &domain.PaymentCapturedError{ReservationID: res.ID, ExternalRef: payment.ExternalRef}
}

func (s *lifecycleService) Fail(ctx context.Context, id, reason string) (*domain.Reservation, error) {
	return s.fail(ctx, id, reason, nil)
}

func (s *lifecycleService) fail(ctx context.Context, id, reason string, payment *domain.PaymentInfo) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.lifecycle.fail")
	defer span.End()

	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.Status == domain.StatusPaymentFailed {
		return res, nil
	}
	if res.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrInvalidTransition, id, res.Status)
	}
	if reason == "" {
		reason = "payment failed"
	}

	failed, err := s.transition(ctx, res, domain.StatusPaymentFailed, reason, payment)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.releaseUnits(ctx, failed)
	metrics.RecordPaymentFailed(s.category)
	s.log.InfoContext(ctx, "reservation payment failed",
		zap.String("reservation_id", id),
		zap.String("reason", reason),
	)
	s.notify(ctx, failed)
	return failed, nil
}

func (s *lifecycleService) Cancel(ctx context.Context, id, reason string, actor Actor) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.lifecycle.cancel")
	defer span.End()

	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Kind != ActorAdmin && !actor.owns(res) {
		return nil, domain.ErrNotReservationOwner
	}

	switch res.Status {
	case domain.StatusCancelled:
		return res, nil
	case domain.StatusPaymentFailed:
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrInvalidTransition, id, res.Status)
	case domain.StatusConfirmed:
		if actor.Kind != ActorAdmin {
			if err := s.checkCancellationWindow(res); err != nil {
				return nil, err
			}
		}
	}

	if reason == "" {
		reason = "cancelled by " + actor.String()
	}
	cancelled, err := s.transition(ctx, res, domain.StatusCancelled, reason, nil)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.releaseUnits(ctx, cancelled)
	metrics.RecordCancelled(s.category)
	s.log.InfoContext(ctx, "reservation cancelled",
		zap.String("reservation_id", id),
		zap.String("from", res.Status.String()),
		zap.String("reason", reason),
	)
	s.notify(ctx, cancelled)
	return cancelled, nil
}

func (s *lifecycleService) Expire(ctx context.Context, id, reason string) (*domain.Reservation, error) {
	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !res.IsPending() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrInvalidTransition, id, res.Status)
	}
	if reason == "" {
		reason = domain.ReasonExpired
	}

	expired, err := s.transition(ctx, res, domain.StatusCancelled, reason, nil)
	if err != nil {
		return nil, err
	}

	s.releaseUnits(ctx, expired)
	metrics.RecordExpired(s.category)
	s.log.InfoContext(ctx, "reservation expired",
		zap.String("reservation_id", id),
		zap.Time("expires_at", res.ExpiresAt),
	)
	s.notify(ctx, expired)
	return expired, nil
}

func (s *lifecycleService) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	return s.reservations.GetByID(ctx, id)
}

func (s *lifecycleService) List(ctx context.Context, filter domain.ReservationFilter) ([]*domain.Reservation, error) {
	filter.Category = s.category
	return s.reservations.List(ctx, filter)
}

func (s *lifecycleService) AdminBlock(ctx context.Context, partition domain.PartitionKey, unitIDs []string, note string) (*domain.Reservation, error) {
	if err := s.checkPartition(partition); err != nil {
		return nil, err
	}
	units, err := domain.NormalizeUnitIDs(unitIDs)
	if err != nil {
		return nil, err
	}

	res, err := s.lockAndStore(ctx, &domain.Reservation{
		ID:           domain.SyntheticAdminPrefix + uuid.New().String(),
		Units:        units,
		Partition:    partition,
		Holder:       domain.Holder{ID: domain.SyntheticHolderID, Name: note},
		Pricing:      domain.Quote{Quantity: len(units)},
		StatusReason: note,
		Synthetic:    true,
	}, s.adminBlockTTL)
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "units blocked by admin",
		zap.String("reservation_id", res.ID),
		zap.String("partition", partition.String()),
		zap.Strings("units", units),
	)
	return res, nil
}

func (s *lifecycleService) AdminUnblock(ctx context.Context, id string) (*domain.Reservation, error) {
	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !res.Synthetic {
		return nil, fmt.Errorf("%w: %s is not an admin block", domain.ErrInvalidTransition, id)
	}
	return s.Cancel(ctx, id, domain.ReasonAdminUnblock, AdminActor)
}

func (s *lifecycleService) InitiatePayment(ctx context.Context, id, holderID string) (*PaymentRedirect, error) {
	if s.gateway == nil {
		return nil, fmt.Errorf("%w: no payment gateway configured", domain.ErrConfiguration)
	}

	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !res.BelongsTo(holderID) {
		return nil, domain.ErrNotReservationOwner
	}
	if !res.IsPending() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrInvalidTransition, id, res.Status)
	}
	if res.IsExpiredAt(s.now()) {
		return nil, fmt.Errorf("%w: %s expired at %s", domain.ErrStaleReservation, id, res.ExpiresAt.Format(time.RFC3339))
	}

	redirect, err := s.gateway.Initiate(ctx, &PaymentRequest{
		ReservationID: res.ID,
		Amount:        res.Pricing.TotalAmount,
		Holder:        res.Holder,
		Description:   fmt.Sprintf("%s %s x%d", s.category, res.Partition, res.Quantity),
		ReturnURL:     s.returnURL,
		ExpiresAt:     res.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initiate payment with %s: %w", s.gateway.Name(), err)
	}
	return redirect, nil
}

func (s *lifecycleService) ApplyPaymentResult(ctx context.Context, result *PaymentResult) (*domain.Reservation, error) {
	if err := result.Validate(); err != nil {
		return nil, err
	}

	info := result.PaymentInfo(s.now())
	if result.Success {
		return s.Confirm(ctx, result.ReservationID, info)
	}

	reason := "payment failed"
	if result.FailureReason != "" {
		reason = "payment failed: " + result.FailureReason
	}
	return s.fail(ctx, result.ReservationID, reason, &info)
}

// transition performs the guarded status write and returns the updated copy
func (s *lifecycleService) transition(ctx context.Context, res *domain.Reservation, to domain.ReservationStatus, reason string, payment *domain.PaymentInfo) (*domain.Reservation, error) {
	now := s.now()
	err := s.reservations.UpdateStatus(ctx, domain.Transition{
		ID:      res.ID,
		From:    res.Status,
		To:      to,
		Reason:  reason,
		Payment: payment,
		At:      now,
	})
	if err != nil {
		return nil, err
	}

	updated := *res
	updated.Status = to
	updated.UpdatedAt = now
	if reason != "" {
		updated.StatusReason = reason
	}
	if payment != nil {
		p := *payment
		updated.Payment = &p
	}
	if res.Status != to {
		switch to {
		case domain.StatusConfirmed:
			updated.ConfirmedAt = &now
		case domain.StatusCancelled, domain.StatusPaymentFailed:
			updated.CancelledAt = &now
		}
	}
	return &updated, nil
}

// releaseUnits retries the release independently of the request. When
// retries run out the units are left for the sweeper or manual cleanup.
func (s *lifecycleService) releaseUnits(ctx context.Context, res *domain.Reservation) {
	ctx = context.WithoutCancel(ctx)

	var released int
	result := s.followUp.Do(ctx, func(ctx context.Context) error {
		n, err := s.availability.ReleaseUnits(ctx, res.Partition, res.Units, res.ID)
		if err != nil {
			return err
		}
		released = n
		return nil
	})
	if result.Err != nil {
		s.log.ErrorContext(ctx, "failed to release units, left for cleanup",
			zap.String("reservation_id", res.ID),
			zap.String("partition", res.Partition.String()),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Err),
		)
		return
	}
	s.log.Debug("units released",
		zap.String("reservation_id", res.ID),
		zap.Int("released", released),
	)
}

func (s *lifecycleService) notify(ctx context.Context, res *domain.Reservation) {
	if res.Synthetic {
		return
	}
	n := NewNotification(res, res.Status, res.StatusReason, res.UpdatedAt)
	if err := s.notifier.NotifyTerminal(context.WithoutCancel(ctx), n); err != nil {
		metrics.RecordNotificationFailure(s.notifier.Driver())
		s.log.WarnContext(ctx, "failed to send notification",
			zap.String("reservation_id", res.ID),
			zap.String("status", res.Status.String()),
			zap.Error(err),
		)
	}
}

func (s *lifecycleService) checkPartition(p domain.PartitionKey) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Category != s.category {
		return fmt.Errorf("%w: category %s handled by %s", domain.ErrInvalidPartition, p.Category, s.category)
	}
	return nil
}

// checkCancellationWindow rejects cancellations closer to the event than
// the category's window
func (s *lifecycleService) checkCancellationWindow(res *domain.Reservation) error {
	days := pricing.DaysBefore(res.Partition.EventDate(), s.now())
	if days < s.policy.CancellationWindowDays {
		return fmt.Errorf("%w: %d days before event, window is %d",
			domain.ErrCancellationWindowClosed, days, s.policy.CancellationWindowDays)
	}
	return nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

const reservationColumns = `
	id, category, status, units, partition_date, partition_slot, quantity,
	holder_id, holder_name, holder_email, pricing, expires_at, payment,
	status_reason, synthetic, created_at, updated_at, confirmed_at, cancelled_at
`

// PostgresReservationRepository implements ReservationRepository using PostgreSQL with pgxpool
type PostgresReservationRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresReservationRepository creates a new PostgresReservationRepository
func NewPostgresReservationRepository(pool *pgxpool.Pool) *PostgresReservationRepository {
	return &PostgresReservationRepository{pool: pool}
}

// Create inserts a new reservation record
func (r *PostgresReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", res.ID),
		attribute.String("category", res.Category),
	)

	query := `
		INSERT INTO reservations (
			id, category, status, units, partition_date, partition_slot, quantity,
			holder_id, holder_name, holder_email, pricing, expires_at, payment,
			status_reason, synthetic, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17
		)
	`

	_, err := r.pool.Exec(ctx, query,
		res.ID,
		res.Category,
		res.Status.String(),
		res.Units,
		res.Partition.Date,
		res.Partition.Slot,
		res.Quantity,
		res.Holder.ID,
		res.Holder.Name,
		res.Holder.Email,
		res.Pricing,
		res.ExpiresAt,
		res.Payment,
		res.StatusReason,
		res.Synthetic,
		res.CreatedAt,
		res.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetByID retrieves a reservation by its ID
func (r *PostgresReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get reservation: %w", err)
		}
		return nil, domain.ErrReservationNotFound
	}

	res, err := scanReservation(rows)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}

// List returns reservations matching filter, newest first
func (r *PostgresReservationRepository) List(ctx context.Context, filter domain.ReservationFilter) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.list")
	defer span.End()

	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.Category != "" {
		add("category = $%d", filter.Category)
	}
	if filter.HolderID != "" {
		add("holder_id = $%d", filter.HolderID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status.String())
	}
	if filter.ExpiresBefore != nil {
		add("expires_at < $%d", *filter.ExpiresBefore)
	}
	if !filter.IncludeSynthetic {
		where = append(where, "synthetic = FALSE")
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, listLimit(filter.Limit), max(filter.Offset, 0))
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	reservations, err := r.query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("count", len(reservations)))
	span.SetStatus(codes.Ok, "")
	return reservations, nil
}

// ListExpiredPending gets pending reservations whose deadline passed
func (r *PostgresReservationRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.list_expired_pending")
	defer span.End()

	span.SetAttributes(attribute.Int("limit", limit))

	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = 'pending_payment'
			AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`

	reservations, err := r.query(ctx, query, now, listLimit(limit))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get expired reservations: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(reservations)))
	span.SetStatus(codes.Ok, "")
	return reservations, nil
}

// UpdateStatus applies a transition guarded by the expected source status
func (r *PostgresReservationRepository) UpdateStatus(ctx context.Context, t domain.Transition) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.update_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", t.ID),
		attribute.String("from", t.From.String()),
		attribute.String("to", t.To.String()),
	)

	query := `
		UPDATE reservations SET
			status = $3,
			status_reason = COALESCE(NULLIF($4, ''), status_reason),
			payment = COALESCE($5::jsonb, payment),
			confirmed_at = CASE WHEN $3 = 'confirmed' AND $2 <> $3 THEN $6 ELSE confirmed_at END,
			cancelled_at = CASE WHEN $3 IN ('cancelled', 'payment_failed') AND $2 <> $3 THEN $6 ELSE cancelled_at END,
			updated_at = $6
		WHERE id = $1 AND status = $2
	`

	result, err := r.pool.Exec(ctx, query,
		t.ID,
		t.From.String(),
		t.To.String(),
		t.Reason,
		t.Payment,
		t.At,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update reservation status: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Distinguish a lost race from an unknown id
		var status string
		err := r.pool.QueryRow(ctx, `SELECT status FROM reservations WHERE id = $1`, t.ID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				span.SetStatus(codes.Error, "not found")
				return domain.ErrReservationNotFound
			}
			return fmt.Errorf("failed to check reservation status: %w", err)
		}
		span.SetStatus(codes.Error, "invalid transition")
		return fmt.Errorf("%w: %s is %s, expected %s", domain.ErrInvalidTransition, t.ID, status, t.From)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func (r *PostgresReservationRepository) query(ctx context.Context, query string, args ...interface{}) ([]*domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []*domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reservations: %w", err)
	}
	return reservations, nil
}

func scanReservation(rows pgx.Rows) (*domain.Reservation, error) {
	var (
		res     domain.Reservation
		status  string
		payment *domain.PaymentInfo
	)

	err := rows.Scan(
		&res.ID,
		&res.Category,
		&status,
		&res.Units,
		&res.Partition.Date,
		&res.Partition.Slot,
		&res.Quantity,
		&res.Holder.ID,
		&res.Holder.Name,
		&res.Holder.Email,
		&res.Pricing,
		&res.ExpiresAt,
		&payment,
		&res.StatusReason,
		&res.Synthetic,
		&res.CreatedAt,
		&res.UpdatedAt,
		&res.ConfirmedAt,
		&res.CancelledAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan reservation: %w", err)
	}

	res.Status = domain.ReservationStatus(status)
	res.Partition.Category = res.Category
	res.Payment = payment
	return &res, nil
}

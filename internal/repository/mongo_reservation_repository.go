package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// MongoReservationRepository implements ReservationRepository on a MongoDB
// collection keyed by reservation id
type MongoReservationRepository struct {
	collection *mongo.Collection
}

// NewMongoReservationRepository creates a new MongoReservationRepository
func NewMongoReservationRepository(collection *mongo.Collection) *MongoReservationRepository {
	return &MongoReservationRepository{collection: collection}
}

// ConnectMongo connects, pings and returns the reservations collection
func ConnectMongo(ctx context.Context, uri, database, collection string) (*mongo.Collection, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb is not available: %w", err)
	}
	return client.Database(database).Collection(collection), nil
}

// EnsureIndexes creates the indexes used by the sweeper and listings
func (r *MongoReservationRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
		{Keys: bson.D{{Key: "holder.id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create reservation indexes: %w", err)
	}
	return nil
}

// Create inserts a new reservation document
func (r *MongoReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.mongo.reservation.create")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", res.ID))

	if _, err := r.collection.InsertOne(ctx, res); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

// GetByID retrieves a reservation by its ID
func (r *MongoReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	var res domain.Reservation
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&res)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &res, nil
}

// List returns reservations matching filter, newest first
func (r *MongoReservationRepository) List(ctx context.Context, filter domain.ReservationFilter) ([]*domain.Reservation, error) {
	query := bson.M{}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.HolderID != "" {
		query["holder.id"] = filter.HolderID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.ExpiresBefore != nil {
		query["expires_at"] = bson.M{"$lt": *filter.ExpiresBefore}
	}
	if !filter.IncludeSynthetic {
		query["synthetic"] = false
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(listLimit(filter.Limit))).
		SetSkip(int64(max(filter.Offset, 0)))

	return r.find(ctx, query, opts)
}

// ListExpiredPending returns pending reservations whose deadline passed
func (r *MongoReservationRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	query := bson.M{
		"status":     domain.StatusPendingPayment,
		"expires_at": bson.M{"$lt": now},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "expires_at", Value: 1}}).
		SetLimit(int64(listLimit(limit)))

	return r.find(ctx, query, opts)
}

// UpdateStatus applies a transition guarded by the expected source status
func (r *MongoReservationRepository) UpdateStatus(ctx context.Context, t domain.Transition) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.mongo.reservation.update_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", t.ID),
		attribute.String("to", t.To.String()),
	)

	set := bson.M{
		"status":     t.To,
		"updated_at": t.At,
	}
	if t.Reason != "" {
		set["status_reason"] = t.Reason
	}
	if t.Payment != nil {
		set["payment"] = t.Payment
	}
	if t.From != t.To {
		switch t.To {
		case domain.StatusConfirmed:
			set["confirmed_at"] = t.At
		case domain.StatusCancelled, domain.StatusPaymentFailed:
			set["cancelled_at"] = t.At
		}
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": t.ID, "status": t.From},
		bson.M{"$set": set},
	)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to update reservation status: %w", err)
	}

	if result.MatchedCount == 0 {
		current, err := r.GetByID(ctx, t.ID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s is %s, expected %s", domain.ErrInvalidTransition, t.ID, current.Status, t.From)
	}
	return nil
}

func (r *MongoReservationRepository) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]*domain.Reservation, error) {
	cur, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer cur.Close(ctx)

	var reservations []*domain.Reservation
	for cur.Next(ctx) {
		var res domain.Reservation
		if err := cur.Decode(&res); err != nil {
			return nil, fmt.Errorf("failed to decode reservation: %w", err)
		}
		reservations = append(reservations, &res)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reservations: %w", err)
	}
	return reservations, nil
}

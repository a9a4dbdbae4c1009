package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/prohmpiriya/reservation-engine/internal/handler"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/internal/service"
	"github.com/prohmpiriya/reservation-engine/pkg/config"
	"github.com/prohmpiriya/reservation-engine/pkg/database"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	pkgredis "github.com/prohmpiriya/reservation-engine/pkg/redis"
)

// Store drivers
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

// Notifier drivers
const (
	NotifierKafka    = "kafka"
	NotifierRabbitMQ = "rabbitmq"
	NotifierNoop     = "noop"
)

// Infrastructure holds connections and the stores built on them
type Infrastructure struct {
	DB    *database.PostgresDB
	Redis *pkgredis.Client
	Mongo *mongo.Collection

	Availability repository.AvailabilityRepository
	Reservations repository.ReservationRepository
	Sequence     repository.SequenceRepository
	Notifier     service.Notifier

	closers []func()
}

// NewInfrastructure connects to the configured backends. The memory driver
// needs no external service.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	infra := &Infrastructure{}
	log := logger.Get()

	driver := strings.ToLower(cfg.Reservation.StoreDriver)
	switch driver {
	case StoreMemory:
		infra.Availability = repository.NewMemoryAvailabilityRepository()
		infra.Reservations = repository.NewMemoryReservationRepository()
		infra.Sequence = repository.NewMemorySequenceRepository()
		log.Warn("Using in-memory stores; state is lost on restart")

	case StorePostgres, StoreMongo:
		if err := infra.connectRedis(ctx, cfg); err != nil {
			return nil, err
		}
		if driver == StorePostgres {
			if err := infra.connectPostgres(ctx, cfg); err != nil {
				infra.Close()
				return nil, err
			}
		} else {
			if err := infra.connectMongo(ctx, cfg); err != nil {
				infra.Close()
				return nil, err
			}
		}

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Reservation.StoreDriver)
	}

	infra.Notifier = newNotifier(ctx, cfg)
	infra.closers = append(infra.closers, func() { _ = infra.Notifier.Close() })
	return infra, nil
}

func (i *Infrastructure) connectRedis(ctx context.Context, cfg *config.Config) error {
	redisCfg := &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		MaxRetries:    3,
		RetryInterval: time.Second,
	}
	client, err := pkgredis.NewClient(ctx, redisCfg)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	i.Redis = client
	i.closers = append(i.closers, func() { _ = client.Close() })
	logger.Get().Info(fmt.Sprintf("Redis connected (pool: %d, minIdle: %d)", redisCfg.PoolSize, redisCfg.MinIdleConns))

	availability := repository.NewRedisAvailabilityRepository(client, nil)
	if err := availability.LoadScripts(ctx); err != nil {
		logger.Get().Warn("Failed to pre-load Lua scripts", zap.Error(err))
	}
	i.Availability = availability
	i.Sequence = repository.NewRedisSequenceRepository(client)
	return nil
}

func (i *Infrastructure) connectPostgres(ctx context.Context, cfg *config.Config) error {
	dbCfg := &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  5 * time.Second,
		MaxRetries:      3,
		RetryInterval:   time.Second,
		EnableTracing:   cfg.OTel.Enabled,
	}
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	i.DB = db
	i.closers = append(i.closers, db.Close)
	logger.Get().Info(fmt.Sprintf("Database connected (pool: min=%d, max=%d)", dbCfg.MinConns, dbCfg.MaxConns))

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	i.Reservations = repository.NewPostgresReservationRepository(db.Pool())
	return nil
}

func (i *Infrastructure) connectMongo(ctx context.Context, cfg *config.Config) error {
	collection, err := repository.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Database, cfg.MongoDB.Collection)
	if err != nil {
		return err
	}
	i.Mongo = collection
	i.closers = append(i.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = collection.Database().Client().Disconnect(ctx)
	})
	logger.Get().Info("MongoDB connected", zap.String("database", cfg.MongoDB.Database))

	repo := repository.NewMongoReservationRepository(collection)
	if err := repo.EnsureIndexes(ctx); err != nil {
		return err
	}
	i.Reservations = repo
	return nil
}

// newNotifier falls back to the no-op notifier when the broker is down
func newNotifier(ctx context.Context, cfg *config.Config) service.Notifier {
	log := logger.Get()

	switch strings.ToLower(cfg.Reservation.NotifierDriver) {
	case NotifierKafka:
		n, err := service.NewKafkaNotifier(ctx, &service.KafkaNotifierConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.ReservationTopic,
			ServiceName: cfg.App.Name,
			ClientID:    cfg.Kafka.ClientID,
		})
		if err != nil {
			log.Warn("Kafka connection failed, using no-op notifier", zap.Error(err))
			return service.NewNoOpNotifier()
		}
		log.Info("Kafka notifier connected", zap.String("topic", cfg.Kafka.ReservationTopic))
		return n

	case NotifierRabbitMQ:
		n, err := service.NewRabbitNotifier(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			log.Warn("RabbitMQ connection failed, using no-op notifier", zap.Error(err))
			return service.NewNoOpNotifier()
		}
		log.Info("RabbitMQ notifier connected", zap.String("queue", cfg.RabbitMQ.Queue))
		return n
	}
	return service.NewNoOpNotifier()
}

// HealthChecks returns one probe per configured backend
func (i *Infrastructure) HealthChecks() map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{}
	if i.Redis != nil {
		checks["redis"] = i.Redis.HealthCheck
	}
	if i.DB != nil {
		checks["postgres"] = i.DB.HealthCheck
	}
	if i.Mongo != nil {
		client := i.Mongo.Database().Client()
		checks["mongodb"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
	}
	return checks
}

// Close releases connections in reverse order
func (i *Infrastructure) Close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		i.closers[n]()
	}
	i.closers = nil
}

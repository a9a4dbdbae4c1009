package di

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/prohmpiriya/reservation-engine/internal/consumer"
	"github.com/prohmpiriya/reservation-engine/internal/gateway"
	"github.com/prohmpiriya/reservation-engine/internal/handler"
	"github.com/prohmpiriya/reservation-engine/internal/pricing"
	"github.com/prohmpiriya/reservation-engine/internal/service"
	"github.com/prohmpiriya/reservation-engine/internal/worker"
	"github.com/prohmpiriya/reservation-engine/pkg/config"
	"github.com/prohmpiriya/reservation-engine/pkg/kafka"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/middleware"
)

// Container holds all dependencies for the reservation engine
type Container struct {
	Config *config.Config
	Infra  *Infrastructure

	// Services
	Gateway  service.PaymentGateway
	Sequence service.SequenceService
	Registry *service.Registry

	// Workers
	Sweeper  *worker.ExpirySweeper
	Consumer *consumer.PaymentResultConsumer

	// Handlers
	HealthHandler      *handler.HealthHandler
	ReservationHandler *handler.ReservationHandler
	PaymentHandler     *handler.PaymentHandler
	AdminHandler       *handler.AdminHandler

	RateLimiter *middleware.RateLimiter

	dlqProducer *kafka.Producer
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Config *config.Config
	Infra  *Infrastructure
	// WithConsumer joins the payment results consumer group
	WithConsumer bool
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *ContainerConfig) (*Container, error) {
	appCfg := cfg.Config
	c := &Container{
		Config: appCfg,
		Infra:  cfg.Infra,
	}

	paymentGateway, err := gateway.NewPaymentGateway(appCfg.Reservation.PaymentGateway, &gateway.GatewayConfig{
		Mock: &gateway.MockGatewayConfig{
			SuccessRate: appCfg.Reservation.MockPaymentSuccessRate,
			DelayMs:     appCfg.Reservation.MockPaymentDelayMs,
			FailureReasons: []string{
				"insufficient_funds",
				"card_declined",
				"expired_card",
				"processing_error",
			},
		},
		Stripe: &gateway.StripeGatewayConfig{
			SecretKey:     appCfg.Stripe.SecretKey,
			WebhookSecret: appCfg.Stripe.WebhookSecret,
			Currency:      appCfg.Stripe.Currency,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w", err)
	}
	c.Gateway = paymentGateway
	logger.Get().Info("Payment gateway ready", zap.String("gateway", paymentGateway.Name()))

	categories := appCfg.Inventory.Names()
	c.Sequence = service.NewSequenceService(c.Infra.Sequence, &service.SequenceServiceConfig{
		Prefix:     appCfg.Reservation.IDPrefix,
		Categories: categories,
		Attempts:   appCfg.Reservation.SequenceAttempts,
		Backoff:    appCfg.Reservation.SequenceBackoff,
	})

	services := make([]service.LifecycleService, 0, len(categories))
	for _, name := range categories {
		policy := appCfg.Inventory.Categories[name]
		engine, err := pricing.NewEngine(pricing.FromCategory(policy))
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", name, err)
		}
		svc, err := service.NewLifecycleService(
			c.Infra.Availability,
			c.Infra.Reservations,
			c.Sequence,
			engine,
			c.Infra.Notifier,
			c.Gateway,
			&service.LifecycleServiceConfig{
				Category:         name,
				Policy:           policy,
				LockTTL:          appCfg.Reservation.LockTTL,
				AdminBlockTTL:    appCfg.Reservation.AdminBlockTTL,
				PaymentReturnURL: appCfg.Reservation.PaymentReturnURL,
			},
		)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	c.Registry = service.NewRegistry(c.Infra.Reservations, services...)

	c.Sweeper = worker.NewExpirySweeper(c.Infra.Availability, c.Infra.Reservations, c.Registry, &worker.ExpirySweeperConfig{
		Interval:  appCfg.Reservation.SweeperInterval,
		BatchSize: appCfg.Reservation.SweeperBatchSize,
	})

	checks := c.Infra.HealthChecks()
	if cfg.WithConsumer {
		c.initConsumer(ctx)
		if c.dlqProducer != nil {
			checks["kafka"] = c.dlqProducer.Ping
		} else {
			checks["kafka"] = nil
		}
	}

	c.RateLimiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: appCfg.Server.RateLimitPerSec,
		Burst:             appCfg.Server.RateLimitBurst,
	})

	paymentCfg := &handler.PaymentHandlerConfig{}
	switch g := c.Gateway.(type) {
	case *gateway.StripeGateway:
		paymentCfg.StripeWebhookSecret = g.WebhookSecret()
	case *gateway.MockGateway:
		paymentCfg.CallbackSecret = appCfg.Reservation.PaymentCallbackSecret
		// The mock settle endpoint is never exposed in production
		if !appCfg.IsProduction() {
			paymentCfg.Settler = g
		}
	}

	var sweeper handler.Sweeper
	if appCfg.Reservation.RunSweeper {
		sweeper = c.Sweeper
	}
	var consumerStats handler.ConsumerStatsProvider
	if c.Consumer != nil {
		consumerStats = c.Consumer
	}

	c.HealthHandler = handler.NewHealthHandler(checks)
	c.ReservationHandler = handler.NewReservationHandler(c.Registry)
	c.PaymentHandler = handler.NewPaymentHandler(c.Registry, paymentCfg)
	c.AdminHandler = handler.NewAdminHandler(c.Registry, c.Sequence, sweeper, consumerStats)

	return c, nil
}

// initConsumer connects the payment results consumer and its dead letter
// producer. Payments can still be applied through the callback endpoint
// when Kafka is down.
func (c *Container) initConsumer(ctx context.Context) {
	log := logger.Get()
	kcfg := c.Config.Kafka

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:  kcfg.Brokers,
		ClientID: kcfg.ClientID + "-dlq",
	})
	if err != nil {
		log.Warn("Kafka connection failed, payment results consumer disabled", zap.Error(err))
		return
	}

	cons, err := consumer.NewKafkaPaymentResultConsumer(ctx, &consumer.PaymentResultConsumerConfig{
		Brokers:  kcfg.Brokers,
		GroupID:  kcfg.ConsumerGroup,
		Topic:    kcfg.PaymentResultsTopic,
		DLQTopic: kcfg.DLQTopic,
		ClientID: kcfg.ClientID,
	}, c.Registry, producer)
	if err != nil {
		producer.Close()
		log.Warn("Payment results consumer disabled", zap.Error(err))
		return
	}

	c.dlqProducer = producer
	c.Consumer = cons
	log.Info("Payment results consumer ready", zap.String("topic", kcfg.PaymentResultsTopic))
}

// IdempotencyConfig returns the idempotency middleware settings, or nil
// when no Redis is configured
func (c *Container) IdempotencyConfig() *middleware.IdempotencyConfig {
	if c.Infra.Redis == nil {
		return nil
	}
	return middleware.DefaultIdempotencyConfig(c.Infra.Redis.Client())
}

// RouterConfig assembles the HTTP router settings
func (c *Container) RouterConfig() *handler.RouterConfig {
	return &handler.RouterConfig{
		ServiceName: c.Config.OTel.ServiceName,
		Version:     c.Config.App.Version,
		Auth: middleware.AuthConfig{
			Secret:            c.Config.JWT.Secret,
			Issuer:            c.Config.JWT.Issuer,
			AllowUserIDHeader: c.Config.JWT.AllowUserIDHeader,
		},
		RateLimit:   c.RateLimiter,
		Idempotency: c.IdempotencyConfig(),
		Tracing:     c.Config.OTel.Enabled,
		Health:      c.HealthHandler,
		Reservation: c.ReservationHandler,
		Payment:     c.PaymentHandler,
		Admin:       c.AdminHandler,
	}
}

// Close stops workers and releases the DLQ producer. Infrastructure is
// closed by its owner.
func (c *Container) Close() {
	if c.Consumer != nil {
		if err := c.Consumer.Stop(); err != nil {
			logger.Get().Warn("Failed to stop payment results consumer", zap.Error(err))
		}
	}
	c.Sweeper.Stop()
	if c.dlqProducer != nil {
		c.dlqProducer.Close()
	}
}

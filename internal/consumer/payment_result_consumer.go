package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/service"
	"github.com/prohmpiriya/reservation-engine/pkg/kafka"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/retry"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// RecordSource is the subset of kafka.Consumer used by the consumer
type RecordSource interface {
	Poll(ctx context.Context) ([]*kafka.Record, error)
	CommitRecords(ctx context.Context, records []*kafka.Record) error
	Close()
}

// PaymentResultConsumer applies payment outcomes from Kafka to reservations
type PaymentResultConsumer struct {
	source   RecordSource
	registry *service.Registry
	handler  *retry.DeadLetterHandler
	config   *PaymentResultConsumerConfig
	log      *logger.Logger
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	mu       sync.RWMutex
	running  bool

	processed atomic.Int64
	dead      atomic.Int64
}

// PaymentResultConsumerConfig contains configuration for the consumer
type PaymentResultConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topic         string
	DLQTopic      string
	ClientID      string
	MaxRetries    int
	RetryInterval time.Duration
	WorkerCount   int
	// Retry governs re-applying one result before it is dead-lettered
	Retry *retry.Config
}

// DefaultPaymentResultConsumerConfig returns default configuration
func DefaultPaymentResultConsumerConfig() *PaymentResultConsumerConfig {
	return &PaymentResultConsumerConfig{
		Brokers:       []string{"localhost:9092"},
		GroupID:       "reservation-service",
		Topic:         "payment.results",
		DLQTopic:      "payment.results.dlq",
		ClientID:      "reservation-service-consumer",
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		WorkerCount:   4,
		Retry: &retry.Config{
			Attempts:        3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2,
			JitterFactor:    0.1,
		},
	}
}

// NewKafkaPaymentResultConsumer joins the consumer group and wires the dead
// letter queue to publisher
func NewKafkaPaymentResultConsumer(
	ctx context.Context,
	cfg *PaymentResultConsumerConfig,
	registry *service.Registry,
	publisher retry.JSONPublisher,
) (*PaymentResultConsumer, error) {
	cfg = withDefaults(cfg)

	source, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:       cfg.Brokers,
		GroupID:       cfg.GroupID,
		Topics:        []string{cfg.Topic},
		ClientID:      cfg.ClientID,
		MaxRetries:    cfg.MaxRetries,
		RetryInterval: cfg.RetryInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return NewPaymentResultConsumer(source, registry, publisher, cfg), nil
}

// NewPaymentResultConsumer creates a consumer over an existing record source
func NewPaymentResultConsumer(
	source RecordSource,
	registry *service.Registry,
	publisher retry.JSONPublisher,
	cfg *PaymentResultConsumerConfig,
) *PaymentResultConsumer {
	cfg = withDefaults(cfg)

	c := &PaymentResultConsumer{
		source:   source,
		registry: registry,
		config:   cfg,
		log:      logger.Get().Named("payment-results"),
	}

	retryCfg := *cfg.Retry
	// Store and network failures are retried; domain rejections go straight
	// to the dead letter queue
	retryCfg.RetryIf = func(err error) bool { return !domain.IsUserFacing(err) }
	queue := retry.NewDeadLetterQueue(publisher, cfg.DLQTopic, "reservation-service")
	c.handler = retry.NewDeadLetterHandler(&retryCfg, queue, func(dl *retry.DeadLetter) {
		c.dead.Add(1)
		c.log.Warn("Payment result dead-lettered",
			zap.String("key", dl.OriginalKey),
			zap.Int("attempts", dl.Attempts),
			zap.String("error", dl.Error),
		)
	})
	return c
}

func withDefaults(cfg *PaymentResultConsumerConfig) *PaymentResultConsumerConfig {
	def := DefaultPaymentResultConsumerConfig()
	if cfg == nil {
		return def
	}
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.DLQTopic == "" {
		cfg.DLQTopic = cfg.Topic + ".dlq"
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.Retry == nil {
		cfg.Retry = def.Retry
	}
	return cfg
}

// Start starts the poll loop and workers
func (c *PaymentResultConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer is already running")
	}
	c.running = true
	// Poll blocks until records arrive, so stopping cancels it
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.log.Info("Starting payment result consumer",
		zap.String("topic", c.config.Topic),
		zap.Int("workers", c.config.WorkerCount),
	)

	recordsCh := make(chan *kafka.Record, c.config.WorkerCount*10)
	for i := 0; i < c.config.WorkerCount; i++ {
		c.wg.Add(1)
		go c.worker(ctx, recordsCh)
	}

	c.wg.Add(1)
	go c.poll(ctx, recordsCh)
	return nil
}

func (c *PaymentResultConsumer) poll(ctx context.Context, recordsCh chan<- *kafka.Record) {
	defer c.wg.Done()
	defer close(recordsCh)

	for {
		if ctx.Err() != nil {
			return
		}

		records, err := c.source.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("Failed to poll records", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, record := range records {
			select {
			case recordsCh <- record:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *PaymentResultConsumer) worker(ctx context.Context, recordsCh <-chan *kafka.Record) {
	defer c.wg.Done()
	for record := range recordsCh {
		if err := c.ProcessRecord(ctx, record); err != nil {
			c.log.Error("Failed to process payment result",
				zap.String("topic", record.Topic),
				zap.Int32("partition", record.Partition),
				zap.Int64("offset", record.Offset),
				zap.Error(err),
			)
		}
	}
}

// ProcessRecord applies one record and commits it. The offset is left
// uncommitted only when the record could neither be applied nor parked in
// the dead letter queue. A dead-lettered record is committed and its error
// returned.
func (c *PaymentResultConsumer) ProcessRecord(ctx context.Context, record *kafka.Record) error {
	ctx = telemetry.ExtractHeaders(ctx, record.Headers)
	ctx, span := telemetry.StartSpan(ctx, "consumer.payment_result.process")
	defer span.End()

	msg := retry.Message{
		ID:      fmt.Sprintf("%s/%d/%d", record.Topic, record.Partition, record.Offset),
		Topic:   record.Topic,
		Key:     string(record.Key),
		Payload: record.Value,
		Headers: record.Headers,
	}

	err := c.handler.Process(ctx, msg, func(ctx context.Context) error {
		return c.apply(ctx, record.Value)
	})
	if errors.Is(err, retry.ErrDeadLetterPublish) || errors.Is(err, retry.ErrContextCanceled) {
		telemetry.RecordError(span, err)
		return err
	}

	c.processed.Add(1)
	if commitErr := c.source.CommitRecords(ctx, []*kafka.Record{record}); commitErr != nil {
		return fmt.Errorf("failed to commit offset %d: %w", record.Offset, commitErr)
	}
	// Non-nil here means the record was dead-lettered
	return err
}

// apply decodes and applies one payment result. Errors that retrying cannot
// fix are marked permanent.
func (c *PaymentResultConsumer) apply(ctx context.Context, payload []byte) error {
	var event PaymentResultEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return retry.Permanent(fmt.Errorf("invalid payment result: %w", err))
	}
	result := event.Result()
	if result == nil {
		return retry.Permanent(errors.New("payment result data is missing"))
	}
	if err := result.Validate(); err != nil {
		return retry.Permanent(err)
	}

	svc, err := c.registry.ForReservation(ctx, result.ReservationID)
	if err != nil {
		return err
	}

	res, err := svc.ApplyPaymentResult(ctx, result)
	switch {
	case err == nil:
		c.log.InfoContext(ctx, "Payment result applied",
			zap.String("reservation_id", res.ID),
			zap.String("status", res.Status.String()),
			zap.Bool("success", result.Success),
		)
		return nil
	case domain.IsPaymentCaptured(err):
		// Handled outcome: the reservation records the payment for refund
		c.log.WarnContext(ctx, "Payment captured but units were lost",
			zap.String("reservation_id", result.ReservationID),
			zap.String("external_ref", result.ExternalRef),
			zap.Int64("amount", result.Amount),
		)
		return nil
	default:
		return err
	}
}

// Stop stops the consumer and closes the record source
func (c *PaymentResultConsumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.log.Info("Stopping payment result consumer")
	c.cancel()
	c.wg.Wait()
	c.source.Close()
	c.log.Info("Payment result consumer stopped",
		zap.Int64("processed", c.processed.Load()),
		zap.Int64("dead_lettered", c.dead.Load()),
	)
	return nil
}

// IsRunning returns whether the consumer is running
func (c *PaymentResultConsumer) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// ConsumerStats contains consumer statistics
type ConsumerStats struct {
	IsRunning    bool  `json:"is_running"`
	Processed    int64 `json:"processed"`
	DeadLettered int64 `json:"dead_lettered"`
}

// GetStats returns consumer statistics
func (c *PaymentResultConsumer) GetStats() *ConsumerStats {
	return &ConsumerStats{
		IsRunning:    c.IsRunning(),
		Processed:    c.processed.Load(),
		DeadLettered: c.dead.Load(),
	}
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/pkg/kafka"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// Notification is sent once per terminal transition
type Notification struct {
	EventID       string                   `json:"eventId"`
	ReservationID string                   `json:"reservationId"`
	Category      string                   `json:"category"`
	Status        domain.ReservationStatus `json:"status"`
	Reason        string                   `json:"reason,omitempty"`
	Holder        domain.Holder            `json:"holder"`
	Partition     domain.PartitionKey      `json:"partition"`
	Units         []string                 `json:"units"`
	Pricing       domain.Quote             `json:"pricing"`
	Payment       *domain.PaymentInfo      `json:"payment,omitempty"`
	OccurredAt    time.Time                `json:"occurredAt"`
}

// NewNotification builds the notification for a reservation that just
// reached status
func NewNotification(res *domain.Reservation, status domain.ReservationStatus, reason string, at time.Time) *Notification {
	return &Notification{
		EventID:       uuid.New().String(),
		ReservationID: res.ID,
		Category:      res.Category,
		Status:        status,
		Reason:        reason,
		Holder:        res.Holder,
		Partition:     res.Partition,
		Units:         res.Units,
		Pricing:       res.Pricing,
		Payment:       res.Payment,
		OccurredAt:    at,
	}
}

// Notifier delivers terminal-state notifications to the holder-facing
// messaging system
type Notifier interface {
	NotifyTerminal(ctx context.Context, n *Notification) error
	Driver() string
	Close() error
}

// KafkaNotifierConfig contains configuration for the Kafka notifier
type KafkaNotifierConfig struct {
	Brokers     []string
	Topic       string
	ServiceName string
	ClientID    string
}

// KafkaNotifier publishes notifications to a Kafka topic keyed by
// reservation id
type KafkaNotifier struct {
	producer    *kafka.Producer
	topic       string
	serviceName string
}

// NewKafkaNotifier creates a new Kafka notifier
func NewKafkaNotifier(ctx context.Context, cfg *KafkaNotifierConfig) (*KafkaNotifier, error) {
	topic := cfg.Topic
	if topic == "" {
		topic = "reservation.events"
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "reservation-service"
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = serviceName + "-notifier"
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Brokers,
		ClientID:      clientID,
		MaxRetries:    3,
		RetryInterval: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaNotifier{producer: producer, topic: topic, serviceName: serviceName}, nil
}

// NotifyTerminal publishes n
func (k *KafkaNotifier) NotifyTerminal(ctx context.Context, n *Notification) error {
	headers := telemetry.InjectHeaders(ctx)
	headers["event_type"] = "reservation." + n.Status.String()
	headers["event_id"] = n.EventID
	headers["source"] = k.serviceName
	headers["content_type"] = "application/json"

	if err := k.producer.PublishJSON(ctx, k.topic, n.ReservationID, n, headers); err != nil {
		return fmt.Errorf("failed to publish %s notification: %w", n.Status, err)
	}
	return nil
}

// Driver returns "kafka"
func (k *KafkaNotifier) Driver() string { return "kafka" }

// Close closes the producer
func (k *KafkaNotifier) Close() error {
	if k.producer != nil {
		k.producer.Close()
	}
	return nil
}

// RabbitNotifier publishes persistent messages to a durable RabbitMQ queue
type RabbitNotifier struct {
	conn  *amqp.Connection
	queue string

	mu sync.Mutex
	ch *amqp.Channel
}

// NewRabbitNotifier dials url and declares queue
func NewRabbitNotifier(url, queue string) (*RabbitNotifier, error) {
	if queue == "" {
		queue = "reservation.terminal"
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel open failed: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare failed: %w", err)
	}

	return &RabbitNotifier{conn: conn, queue: queue, ch: ch}, nil
}

// NotifyTerminal publishes n to the queue. Channels are not safe for
// concurrent publishing.
func (r *RabbitNotifier) NotifyTerminal(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.EventID,
		Type:         "reservation." + n.Status.String(),
		Timestamp:    n.OccurredAt.UTC(),
		Body:         body,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ch.PublishWithContext(ctx, "", r.queue, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq publish failed: %w", err)
	}
	return nil
}

// Driver returns "rabbitmq"
func (r *RabbitNotifier) Driver() string { return "rabbitmq" }

// Close closes the channel and connection
func (r *RabbitNotifier) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil {
		_ = r.ch.Close()
	}
	return r.conn.Close()
}

// NoOpNotifier discards notifications
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new no-op notifier
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// NotifyTerminal is a no-op
func (NoOpNotifier) NotifyTerminal(ctx context.Context, n *Notification) error { return nil }

// Driver returns "noop"
func (NoOpNotifier) Driver() string { return "noop" }

// Close is a no-op
func (NoOpNotifier) Close() error { return nil }

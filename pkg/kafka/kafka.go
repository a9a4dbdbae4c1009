package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is an outgoing record
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Record is a consumed record
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time

	raw *kgo.Record
}

// ProducerConfig configures a Producer
type ProducerConfig struct {
	Brokers       []string
	ClientID      string
	MaxRetries    int
	RetryInterval time.Duration
	LingerMs      int
}

// Producer publishes records synchronously
type Producer struct {
	client *kgo.Client
}

// NewProducer connects and pings the cluster, retrying MaxRetries times
func NewProducer(ctx context.Context, cfg *ProducerConfig) (*Producer, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(time.Duration(cfg.LingerMs) * time.Millisecond),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	if err := ping(ctx, client, cfg.MaxRetries, cfg.RetryInterval); err != nil {
		client.Close()
		return nil, err
	}
	return &Producer{client: client}, nil
}

// Produce sends one record and waits for the broker ack
func (p *Producer) Produce(ctx context.Context, msg *Message) error {
	rec := &kgo.Record{
		Topic:     msg.Topic,
		Key:       msg.Key,
		Value:     msg.Value,
		Timestamp: msg.Timestamp,
	}
	for k, v := range msg.Headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", msg.Topic, err)
	}
	return nil
}

// PublishJSON marshals data and produces it
func (p *Producer) PublishJSON(ctx context.Context, topic, key string, data interface{}, headers map[string]string) error {
	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.Produce(ctx, &Message{
		Topic:     topic,
		Key:       []byte(key),
		Value:     value,
		Headers:   headers,
		Timestamp: time.Now(),
	})
}

// Ping checks broker connectivity
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes and closes the client
func (p *Producer) Close() {
	p.client.Close()
}

// ConsumerConfig configures a group Consumer
type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topics        []string
	ClientID      string
	MaxRetries    int
	RetryInterval time.Duration
}

// Consumer reads records from a consumer group with manual commits
type Consumer struct {
	client *kgo.Client
}

// NewConsumer joins the group; offsets are committed only via CommitRecords
func NewConsumer(ctx context.Context, cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.GroupID == "" || len(cfg.Topics) == 0 {
		return nil, errors.New("kafka consumer group and topics are required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := ping(ctx, client, cfg.MaxRetries, cfg.RetryInterval); err != nil {
		client.Close()
		return nil, err
	}
	return &Consumer{client: client}, nil
}

// Poll blocks until records arrive or ctx ends
func (c *Consumer) Poll(ctx context.Context) ([]*Record, error) {
	fetches := c.client.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, kgo.ErrClientClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var errs []error
	fetches.EachError(func(topic string, partition int32, err error) {
		errs = append(errs, fmt.Errorf("%s[%d]: %w", topic, partition, err))
	})

	var records []*Record
	fetches.EachRecord(func(r *kgo.Record) {
		headers := make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			headers[h.Key] = string(h.Value)
		}
		records = append(records, &Record{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Key:       r.Key,
			Value:     r.Value,
			Headers:   headers,
			Timestamp: r.Timestamp,
			raw:       r,
		})
	})

	if len(records) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return records, nil
}

// CommitRecords commits the offsets of the given records
func (c *Consumer) CommitRecords(ctx context.Context, records []*Record) error {
	raw := make([]*kgo.Record, 0, len(records))
	for _, r := range records {
		if r.raw != nil {
			raw = append(raw, r.raw)
		}
	}
	if len(raw) == 0 {
		return nil
	}
	return c.client.CommitRecords(ctx, raw...)
}

// Close leaves the group and closes the client
func (c *Consumer) Close() {
	c.client.Close()
}

func ping(ctx context.Context, client *kgo.Client, retries int, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
		if lastErr = client.Ping(ctx); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to connect to kafka after %d attempts: %w", retries+1, lastErr)
}

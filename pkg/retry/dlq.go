package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrDeadLetterPublish is returned when a failed message could not be parked
var ErrDeadLetterPublish = errors.New("failed to publish dead letter")

// DeadLetter is a message that could not be processed after retries
type DeadLetter struct {
	ID             string            `json:"id"`
	OriginalTopic  string            `json:"original_topic"`
	OriginalKey    string            `json:"original_key"`
	Payload        json.RawMessage   `json:"payload"`
	Headers        map[string]string `json:"headers,omitempty"`
	Error          string            `json:"error"`
	Attempts       int               `json:"attempts"`
	FirstAttemptAt time.Time         `json:"first_attempt_at"`
	FailedAt       time.Time         `json:"failed_at"`
	Source         string            `json:"source"`
}

// JSONPublisher publishes a JSON document to a topic
type JSONPublisher interface {
	PublishJSON(ctx context.Context, topic, key string, data interface{}, headers map[string]string) error
}

// DeadLetterQueue forwards dead letters to a single topic
type DeadLetterQueue struct {
	publisher JSONPublisher
	topic     string
	source    string
}

// NewDeadLetterQueue creates a dead letter queue. A nil publisher drops
// every message.
func NewDeadLetterQueue(publisher JSONPublisher, topic, source string) *DeadLetterQueue {
	return &DeadLetterQueue{publisher: publisher, topic: topic, source: source}
}

// Topic returns the dead letter topic
func (q *DeadLetterQueue) Topic() string {
	return q.topic
}

// Publish sends a dead letter
func (q *DeadLetterQueue) Publish(ctx context.Context, dl *DeadLetter) error {
	if dl == nil {
		return fmt.Errorf("dead letter cannot be nil")
	}
	if q.publisher == nil {
		return nil
	}

	dl.Source = q.source
	if dl.FailedAt.IsZero() {
		dl.FailedAt = time.Now()
	}

	headers := map[string]string{
		"content_type":   "application/json",
		"original_topic": dl.OriginalTopic,
		"error":          dl.Error,
		"attempts":       strconv.Itoa(dl.Attempts),
		"source":         dl.Source,
	}
	for k, v := range dl.Headers {
		if _, exists := headers[k]; !exists {
			headers["original_"+k] = v
		}
	}

	return q.publisher.PublishJSON(ctx, q.topic, dl.OriginalKey, dl, headers)
}

// Message identifies the record being processed
type Message struct {
	ID      string
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string
}

// DeadLetterHandler retries an operation and parks the message in the
// dead letter queue when it still fails
type DeadLetterHandler struct {
	retrier *Retrier
	queue   *DeadLetterQueue
	onDead  func(*DeadLetter)
}

// NewDeadLetterHandler creates a handler. onDead may be nil.
func NewDeadLetterHandler(cfg *Config, queue *DeadLetterQueue, onDead func(*DeadLetter)) *DeadLetterHandler {
	return &DeadLetterHandler{retrier: New(cfg), queue: queue, onDead: onDead}
}

// Process runs op with retries. When op keeps failing the message is
// published as a dead letter and the operation error is returned. A
// cancelled context is returned as is.
func (h *DeadLetterHandler) Process(ctx context.Context, msg Message, op Operation) error {
	first := time.Now()
	result := h.retrier.Do(ctx, op)
	if result.Err == nil {
		return nil
	}
	if errors.Is(result.Err, ErrContextCanceled) {
		// Shutting down; the message will be redelivered
		return result.Err
	}

	reason := result.Err.Error()
	if result.LastError != nil {
		reason = result.LastError.Error()
	}

	dl := &DeadLetter{
		ID:             msg.ID,
		OriginalTopic:  msg.Topic,
		OriginalKey:    msg.Key,
		Payload:        json.RawMessage(msg.Payload),
		Headers:        msg.Headers,
		Error:          reason,
		Attempts:       result.Attempts,
		FirstAttemptAt: first,
		FailedAt:       time.Now(),
	}
	if !json.Valid(msg.Payload) {
		raw, _ := json.Marshal(string(msg.Payload))
		dl.Payload = raw
	}

	if h.onDead != nil {
		h.onDead(dl)
	}

	if err := h.queue.Publish(ctx, dl); err != nil {
		return fmt.Errorf("%w: %v (original error: %v)", ErrDeadLetterPublish, err, result.Err)
	}
	return result.Err
}

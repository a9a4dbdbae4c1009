package consumer

import (
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/service"
)

// PaymentEventType represents the type of payment result event
type PaymentEventType string

const (
	PaymentEventSucceeded PaymentEventType = "payment.succeeded"
	PaymentEventFailed    PaymentEventType = "payment.failed"
)

// PaymentResultEvent is the envelope published by the payment provider
// bridge on the payment results topic
type PaymentResultEvent struct {
	EventID    string                 `json:"event_id"`
	EventType  PaymentEventType       `json:"event_type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Version    int                    `json:"version"`
	Data       *service.PaymentResult `json:"data"`
}

// Result returns the payment result, taking the outcome from the event type
// when it is set
func (e *PaymentResultEvent) Result() *service.PaymentResult {
	if e.Data == nil {
		return nil
	}
	result := *e.Data
	switch e.EventType {
	case PaymentEventSucceeded:
		result.Success = true
	case PaymentEventFailed:
		result.Success = false
	}
	return &result
}

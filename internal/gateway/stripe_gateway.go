package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"

	"github.com/prohmpiriya/reservation-engine/internal/service"
)

// MetadataReservationID links a payment intent back to its reservation
const MetadataReservationID = "reservation_id"

// StripeGateway implements service.PaymentGateway using Stripe payment intents
type StripeGateway struct {
	config *StripeGatewayConfig
}

// StripeGatewayConfig holds configuration for the Stripe gateway
type StripeGatewayConfig struct {
	SecretKey     string
	WebhookSecret string
	// Currency is the ISO code amounts are charged in; amounts are already
	// in its smallest unit
	Currency string
}

// NewStripeGateway creates a new Stripe gateway
func NewStripeGateway(config *StripeGatewayConfig) (*StripeGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if config.Currency == "" {
		config.Currency = "inr"
	}

	// Set Stripe API key globally
	stripe.Key = config.SecretKey

	return &StripeGateway{
		config: config,
	}, nil
}

// Initiate creates a payment intent for the reservation. The client secret
// travels in the redirect so the checkout page can confirm the intent.
func (g *StripeGateway) Initiate(ctx context.Context, req *service.PaymentRequest) (*service.PaymentRedirect, error) {
	if req == nil {
		return nil, fmt.Errorf("payment request is required")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(g.config.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			MetadataReservationID: req.ReservationID,
		},
	}
	params.Context = ctx
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.Holder.Email != "" {
		params.ReceiptEmail = stripe.String(req.Holder.Email)
	}
	// A retried initiate for the same reservation reuses the intent
	params.SetIdempotencyKey("reservation-" + req.ReservationID)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe payment intent: %w", err)
	}

	q := url.Values{}
	q.Set("payment_intent", pi.ID)
	q.Set("payment_intent_client_secret", pi.ClientSecret)
	q.Set("reservation", req.ReservationID)
	redirect := "?" + q.Encode()
	if req.ReturnURL != "" {
		redirect = req.ReturnURL + redirect
	}

	return &service.PaymentRedirect{
		ExternalRef: pi.ID,
		RedirectURL: redirect,
		Amount:      pi.Amount,
		ExpiresAt:   req.ExpiresAt,
	}, nil
}

// Name returns the gateway name
func (g *StripeGateway) Name() string {
	return "stripe"
}

// WebhookSecret returns the signing secret for webhook events
func (g *StripeGateway) WebhookSecret() string {
	return g.config.WebhookSecret
}

// ResultFromEvent maps a Stripe webhook event to a payment result. ok is
// false for events that carry no outcome for a reservation.
func ResultFromEvent(event stripe.Event) (result *service.PaymentResult, ok bool, err error) {
	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
	default:
		return nil, false, nil
	}
	if event.Data == nil {
		return nil, false, fmt.Errorf("event %s has no data", event.ID)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, false, fmt.Errorf("error parsing payment intent: %w", err)
	}
	reservationID := pi.Metadata[MetadataReservationID]
	if reservationID == "" {
		return nil, false, nil
	}

	result = &service.PaymentResult{
		ReservationID: reservationID,
		ExternalRef:   pi.ID,
		Amount:        pi.Amount,
		RawResponse:   string(event.Data.Raw),
	}

	switch event.Type {
	case "payment_intent.succeeded":
		result.Success = true
		if pi.AmountReceived > 0 {
			result.Amount = pi.AmountReceived
		}
	case "payment_intent.payment_failed":
		result.FailureReason = "payment_failed"
		if pi.LastPaymentError != nil {
			if pi.LastPaymentError.Code != "" {
				result.FailureReason = string(pi.LastPaymentError.Code)
			} else if pi.LastPaymentError.Msg != "" {
				result.FailureReason = pi.LastPaymentError.Msg
			}
		}
	case "payment_intent.canceled":
		result.FailureReason = "canceled"
		if pi.CancellationReason != "" {
			result.FailureReason = "canceled: " + string(pi.CancellationReason)
		}
	}
	return result, true, nil
}

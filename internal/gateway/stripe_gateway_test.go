package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/service"
)

// useStripeServer points the Stripe client at a local server for one test
func useStripeServer(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(h)
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	}))
	t.Cleanup(func() {
		stripe.SetBackend(stripe.APIBackend, nil)
		srv.Close()
	})
}

func TestStripeGateway_Initiate(t *testing.T) {
	var form url.Values
	var idempotencyKey string
	useStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/payment_intents") {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		form = r.PostForm
		idempotencyKey = r.Header.Get("Idempotency-Key")

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "pi_123",
			"object": "payment_intent",
			"amount": 885,
			"currency": "inr",
			"client_secret": "pi_123_secret_abc",
			"status": "requires_payment_method",
			"metadata": {"reservation_id": "BK-HALL-00001"}
		}`)
	})

	g, err := NewStripeGateway(&StripeGatewayConfig{SecretKey: "sk_test_123", WebhookSecret: "whsec_test"})
	require.NoError(t, err)
	expires := time.Date(2026, 10, 1, 9, 10, 0, 0, time.UTC)

	redirect, err := g.Initiate(context.Background(), &service.PaymentRequest{
		ReservationID: "BK-HALL-00001",
		Amount:        885,
		Holder:        domain.Holder{ID: "user-1", Email: "alice@example.com"},
		Description:   "Main hall 2026-10-01 09:00",
		ReturnURL:     "https://app.local/done",
		ExpiresAt:     expires,
	})
	require.NoError(t, err)

	assert.Equal(t, "885", form.Get("amount"))
	assert.Equal(t, "inr", form.Get("currency"))
	assert.Equal(t, "BK-HALL-00001", form.Get("metadata[reservation_id]"))
	assert.Equal(t, "true", form.Get("automatic_payment_methods[enabled]"))
	assert.Equal(t, "alice@example.com", form.Get("receipt_email"))
	assert.Equal(t, "reservation-BK-HALL-00001", idempotencyKey)

	assert.Equal(t, "pi_123", redirect.ExternalRef)
	assert.Equal(t, int64(885), redirect.Amount)
	assert.Equal(t, expires, redirect.ExpiresAt)

	u, err := url.Parse(redirect.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "app.local", u.Host)
	assert.Equal(t, "pi_123", u.Query().Get("payment_intent"))
	assert.Equal(t, "pi_123_secret_abc", u.Query().Get("payment_intent_client_secret"))
	assert.Equal(t, "stripe", g.Name())
	assert.Equal(t, "whsec_test", g.WebhookSecret())
}

func TestStripeGateway_InitiateProviderError(t *testing.T) {
	useStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error": {"type": "card_error", "code": "card_declined", "message": "Your card was declined."}}`)
	})

	g, err := NewStripeGateway(&StripeGatewayConfig{SecretKey: "sk_test_123"})
	require.NoError(t, err)

	_, err = g.Initiate(context.Background(), &service.PaymentRequest{ReservationID: "BK-HALL-00001", Amount: 885})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stripe payment intent")
}

func TestStripeGateway_Validation(t *testing.T) {
	_, err := NewStripeGateway(nil)
	assert.Error(t, err)
	_, err = NewStripeGateway(&StripeGatewayConfig{})
	assert.Error(t, err)

	g, err := NewStripeGateway(&StripeGatewayConfig{SecretKey: "sk_test_123"})
	require.NoError(t, err)
	_, err = g.Initiate(context.Background(), nil)
	assert.Error(t, err)
	_, err = g.Initiate(context.Background(), &service.PaymentRequest{ReservationID: "BK-HALL-00001"})
	assert.Error(t, err)
}

func intentEvent(eventType, intent string) stripe.Event {
	return stripe.Event{
		ID:   "evt_1",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: []byte(intent)},
	}
}

func TestResultFromEvent(t *testing.T) {
	t.Run("succeeded", func(t *testing.T) {
		result, ok, err := ResultFromEvent(intentEvent("payment_intent.succeeded",
			`{"id":"pi_1","amount":885,"amount_received":885,"metadata":{"reservation_id":"BK-HALL-00001"}}`))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "BK-HALL-00001", result.ReservationID)
		assert.Equal(t, "pi_1", result.ExternalRef)
		assert.True(t, result.Success)
		assert.Equal(t, int64(885), result.Amount)
	})

	t.Run("payment failed", func(t *testing.T) {
		result, ok, err := ResultFromEvent(intentEvent("payment_intent.payment_failed",
			`{"id":"pi_2","amount":885,"metadata":{"reservation_id":"BK-HALL-00002"},
			  "last_payment_error":{"code":"card_declined","message":"Your card was declined."}}`))
		require.NoError(t, err)
		require.True(t, ok)
		assert.False(t, result.Success)
		assert.Equal(t, "card_declined", result.FailureReason)
	})

	t.Run("canceled", func(t *testing.T) {
		result, ok, err := ResultFromEvent(intentEvent("payment_intent.canceled",
			`{"id":"pi_3","amount":885,"cancellation_reason":"abandoned","metadata":{"reservation_id":"BK-HALL-00003"}}`))
		require.NoError(t, err)
		require.True(t, ok)
		assert.False(t, result.Success)
		assert.Equal(t, "canceled: abandoned", result.FailureReason)
	})

	t.Run("not a reservation intent", func(t *testing.T) {
		_, ok, err := ResultFromEvent(intentEvent("payment_intent.succeeded", `{"id":"pi_4","amount":100}`))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unhandled type", func(t *testing.T) {
		_, ok, err := ResultFromEvent(intentEvent("charge.refunded", `{"id":"ch_1"}`))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed intent", func(t *testing.T) {
		_, _, err := ResultFromEvent(intentEvent("payment_intent.succeeded", `{"id":`))
		assert.Error(t, err)
	})
}

func TestNewPaymentGateway(t *testing.T) {
	g, err := NewPaymentGateway("", nil)
	require.NoError(t, err)
	assert.Equal(t, "mock", g.Name())

	g, err = NewPaymentGateway("MOCK", &GatewayConfig{Mock: &MockGatewayConfig{SuccessRate: 1}})
	require.NoError(t, err)
	_, isMock := g.(*MockGateway)
	assert.True(t, isMock)

	_, err = NewPaymentGateway("stripe", &GatewayConfig{})
	assert.Error(t, err)

	g, err = NewPaymentGateway("stripe", &GatewayConfig{Stripe: &StripeGatewayConfig{SecretKey: "sk_test_123"}})
	require.NoError(t, err)
	assert.Equal(t, "stripe", g.Name())

	_, err = NewPaymentGateway("paypal", nil)
	assert.Error(t, err)
}

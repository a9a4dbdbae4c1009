package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/service"
)

// alphanumericChars for generating provider-style ids
const alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ErrCheckoutNotFound is returned when settling an unknown checkout
var ErrCheckoutNotFound = errors.New("checkout not found")

// randomAlphanumeric generates a random alphanumeric string of given length
func randomAlphanumeric(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphanumericChars[rand.Intn(len(alphanumericChars))]
	}
	return string(b)
}

// Checkout is a checkout session created by the mock gateway
type Checkout struct {
	ExternalRef   string    `json:"externalRef"`
	ReservationID string    `json:"reservationId"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// MockGateway implements service.PaymentGateway for development and load
// testing. Checkouts are settled explicitly with Settle.
type MockGateway struct {
	config    *MockGatewayConfig
	checkouts sync.Map
	mu        sync.RWMutex
}

// MockGatewayConfig holds configuration for the mock gateway
type MockGatewayConfig struct {
	// CheckoutBaseURL is the page the holder is redirected to
	CheckoutBaseURL string

	// SuccessRate is the probability of a successful settlement (0.0 to 1.0)
	SuccessRate float64

	// DelayMs is the simulated processing delay in milliseconds
	DelayMs int

	// FailureReasons is a list of possible failure reasons
	FailureReasons []string
}

// DefaultMockGatewayConfig returns default configuration
func DefaultMockGatewayConfig() *MockGatewayConfig {
	return &MockGatewayConfig{
		CheckoutBaseURL: "https://checkout.mock.local/pay",
		SuccessRate:     0.95,
		DelayMs:         100,
		FailureReasons: []string{
			"insufficient_funds",
			"card_declined",
			"expired_card",
			"processing_error",
		},
	}
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockGatewayConfig) *MockGateway {
	if config == nil {
		config = DefaultMockGatewayConfig()
	}
	if config.CheckoutBaseURL == "" {
		config.CheckoutBaseURL = DefaultMockGatewayConfig().CheckoutBaseURL
	}
	config.SuccessRate = clampRate(config.SuccessRate)

	return &MockGateway{
		config: config,
	}
}

// Initiate creates a checkout and returns the redirect for the holder
func (g *MockGateway) Initiate(ctx context.Context, req *service.PaymentRequest) (*service.PaymentRedirect, error) {
	if req == nil {
		return nil, fmt.Errorf("payment request is required")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive")
	}
	if err := g.delay(ctx); err != nil {
		return nil, err
	}

	ref := fmt.Sprintf("cs_mock_%s", randomAlphanumeric(24))
	g.checkouts.Store(ref, &Checkout{
		ExternalRef:   ref,
		ReservationID: req.ReservationID,
		Amount:        req.Amount,
		Status:        "open",
		CreatedAt:     time.Now(),
		ExpiresAt:     req.ExpiresAt,
	})

	q := url.Values{}
	q.Set("ref", ref)
	q.Set("reservation", req.ReservationID)
	if req.ReturnURL != "" {
		q.Set("return_url", req.ReturnURL)
	}

	return &service.PaymentRedirect{
		ExternalRef: ref,
		RedirectURL: g.config.CheckoutBaseURL + "?" + q.Encode(),
		Amount:      req.Amount,
		ExpiresAt:   req.ExpiresAt,
	}, nil
}

// Settle completes an open checkout and returns the outcome the provider
// would report back
func (g *MockGateway) Settle(ctx context.Context, externalRef string) (*service.PaymentResult, error) {
	if externalRef == "" {
		return nil, fmt.Errorf("external ref is required")
	}
	if err := g.delay(ctx); err != nil {
		return nil, err
	}

	v, ok := g.checkouts.Load(externalRef)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCheckoutNotFound, externalRef)
	}
	checkout := *v.(*Checkout)

	result := &service.PaymentResult{
		ReservationID: checkout.ReservationID,
		ExternalRef:   checkout.ExternalRef,
		Amount:        checkout.Amount,
	}

	if rand.Float64() < g.GetSuccessRate() {
		result.Success = true
		checkout.Status = "complete"
	} else {
		checkout.Status = "failed"
		result.FailureReason = "payment_failed"
		if len(g.config.FailureReasons) > 0 {
			result.FailureReason = g.config.FailureReasons[rand.Intn(len(g.config.FailureReasons))]
		}
	}
	result.RawResponse = fmt.Sprintf(`{"id":%q,"status":%q}`, checkout.ExternalRef, checkout.Status)

	g.checkouts.Store(externalRef, &checkout)
	return result, nil
}

// GetCheckout retrieves checkout details
func (g *MockGateway) GetCheckout(externalRef string) (*Checkout, error) {
	v, ok := g.checkouts.Load(externalRef)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCheckoutNotFound, externalRef)
	}
	checkout := *v.(*Checkout)
	return &checkout, nil
}

// Name returns the gateway name
func (g *MockGateway) Name() string {
	return "mock"
}

// SetSuccessRate updates the success rate (for testing)
func (g *MockGateway) SetSuccessRate(rate float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.config.SuccessRate = clampRate(rate)
}

// GetSuccessRate returns the current success rate
func (g *MockGateway) GetSuccessRate() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config.SuccessRate
}

func (g *MockGateway) delay(ctx context.Context) error {
	if g.config.DelayMs <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(g.config.DelayMs) * time.Millisecond):
		return nil
	}
}

func clampRate(rate float64) float64 {
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}

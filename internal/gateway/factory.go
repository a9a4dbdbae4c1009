package gateway

import (
	"fmt"
	"strings"

	"github.com/prohmpiriya/reservation-engine/internal/service"
)

// GatewayType represents the type of payment gateway
type GatewayType string

const (
	GatewayTypeMock   GatewayType = "mock"
	GatewayTypeStripe GatewayType = "stripe"
)

// GatewayConfig holds configuration for every supported gateway
type GatewayConfig struct {
	Mock   *MockGatewayConfig
	Stripe *StripeGatewayConfig
}

// NewPaymentGateway creates a payment gateway based on the driver name
func NewPaymentGateway(gatewayType string, config *GatewayConfig) (service.PaymentGateway, error) {
	if config == nil {
		config = &GatewayConfig{}
	}

	switch GatewayType(strings.ToLower(gatewayType)) {
	case GatewayTypeMock, "":
		return NewMockGateway(config.Mock), nil

	case GatewayTypeStripe:
		if config.Stripe == nil || config.Stripe.SecretKey == "" {
			return nil, fmt.Errorf("stripe secret key is required")
		}
		return NewStripeGateway(config.Stripe)

	default:
		return nil, fmt.Errorf("unsupported gateway type: %s", gatewayType)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithPath_Defaults(t *testing.T) {
	path := writeFile(t, "test.env", "APP_NAME=reservation-test\n")

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)

	assert.Equal(t, "reservation-test", cfg.App.Name)
	assert.Equal(t, 2*time.Minute, cfg.Reservation.SweeperInterval)
	assert.Equal(t, "BK", cfg.Reservation.IDPrefix)
	assert.Equal(t, 5, cfg.Reservation.SequenceAttempts)
	assert.Equal(t, 87600*time.Hour, cfg.Reservation.AdminBlockTTL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.ElementsMatch(t, []string{"hall", "stall", "show"}, cfg.Inventory.Names())
	assert.Equal(t, 0.95, cfg.Reservation.MockPaymentSuccessRate)
	assert.Equal(t, "mock", cfg.Reservation.PaymentGateway)
	assert.Equal(t, "inr", cfg.Stripe.Currency)
	assert.False(t, cfg.JWT.AllowUserIDHeader)
}

func TestLoadWithPath_Overrides(t *testing.T) {
	path := writeFile(t, "test.env", "SWEEPER_INTERVAL=30s\nRESERVATION_STORE=memory\nKAFKA_BROKERS=a:9092, b:9092\n")

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Reservation.SweeperInterval)
	assert.Equal(t, "memory", cfg.Reservation.StoreDriver)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestLoadWithPath_MissingFile(t *testing.T) {
	_, err := LoadWithPath(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:    AppConfig{Name: "svc", Environment: "development"},
			Server: ServerConfig{Port: 8083},
			JWT:    JWTConfig{Secret: "s"},
			Reservation: ReservationConfig{
				LockTTL:          time.Minute,
				SweeperInterval:  time.Minute,
				SequenceAttempts: 5,
				IDPrefix:         "BK",
				StoreDriver:      "memory",
				NotifierDriver:   "noop",
				PaymentGateway:   "mock",
			},
			Inventory: *DefaultInventory(),
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"default secret in production", func(c *Config) {
			c.App.Environment = "production"
			c.JWT.Secret = "your-secret-key-change-in-production"
		}, true},
		{"production without callback secret", func(c *Config) {
			c.App.Environment = "production"
			c.JWT.Secret = "rotated"
		}, true},
		{"production with callback secret", func(c *Config) {
			c.App.Environment = "production"
			c.JWT.Secret = "rotated"
			c.Reservation.PaymentCallbackSecret = "whsec"
		}, false},
		{"user id header in production", func(c *Config) {
			c.App.Environment = "production"
			c.JWT.Secret = "rotated"
			c.JWT.AllowUserIDHeader = true
			c.Reservation.PaymentCallbackSecret = "whsec"
		}, true},
		{"stripe without keys", func(c *Config) { c.Reservation.PaymentGateway = "stripe" }, true},
		{"stripe in production", func(c *Config) {
			c.App.Environment = "production"
			c.JWT.Secret = "rotated"
			c.Reservation.PaymentGateway = "stripe"
			c.Stripe = StripeConfig{SecretKey: "sk_test_1", WebhookSecret: "whsec_1", Currency: "inr"}
		}, false},
		{"unknown gateway", func(c *Config) { c.Reservation.PaymentGateway = "paypal" }, true},
		{"unknown store", func(c *Config) { c.Reservation.StoreDriver = "sqlite" }, true},
		{"unknown notifier", func(c *Config) { c.Reservation.NotifierDriver = "smtp" }, true},
		{"zero sequence attempts", func(c *Config) { c.Reservation.SequenceAttempts = 0 }, true},
		{"no categories", func(c *Config) { c.Inventory.Categories = nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadInventory_YAML(t *testing.T) {
	path := writeFile(t, "inventory.yaml", `
categories:
  Hall:
    base_price: 750
    tax_rate_percent: 5
    seasonal_multiplier: 1.5
    cancellation_window_days: 2
    early_bird_tiers:
      - min_days_before: 7
        percent: 15
    bulk_tiers:
      - min_quantity: 10
        percent: 10
`)

	inv, err := LoadInventory(path)
	require.NoError(t, err)

	hall, ok := inv.Categories["hall"]
	require.True(t, ok)
	assert.Equal(t, 750.0, hall.BasePrice)
	require.NotNil(t, hall.SeasonalMultiplier)
	assert.Equal(t, 1.5, *hall.SeasonalMultiplier)
	assert.Equal(t, []EarlyBirdTier{{MinDaysBefore: 7, Percent: 15}}, hall.EarlyBirdTiers)
	assert.Equal(t, []BulkTier{{MinQuantity: 10, Percent: 10}}, hall.BulkTiers)
}

func TestLoadInventory_EmptyPathUsesDefaults(t *testing.T) {
	inv, err := LoadInventory("")
	require.NoError(t, err)
	assert.Equal(t, []string{"hall", "show", "stall"}, inv.Names())
}

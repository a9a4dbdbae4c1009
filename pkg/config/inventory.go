package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// InventoryConfig maps an inventory category (hall, stall, show) to its
// pricing and policy settings
type InventoryConfig struct {
	Categories map[string]CategoryConfig `mapstructure:"categories"`
}

// CategoryConfig holds per-category pricing and policy settings
type CategoryConfig struct {
	DisplayName            string          `mapstructure:"display_name"`
	BasePrice              float64         `mapstructure:"base_price"`
	TaxRatePercent         float64         `mapstructure:"tax_rate_percent"`
	SeasonalMultiplier     *float64        `mapstructure:"seasonal_multiplier"`
	CancellationWindowDays int             `mapstructure:"cancellation_window_days"`
	MaxUnitsPerReservation int             `mapstructure:"max_units_per_reservation"`
	EarlyBirdTiers         []EarlyBirdTier `mapstructure:"early_bird_tiers"`
	BulkTiers              []BulkTier      `mapstructure:"bulk_tiers"`
}

// EarlyBirdTier grants Percent off when booked at least MinDaysBefore days ahead
type EarlyBirdTier struct {
	MinDaysBefore int     `mapstructure:"min_days_before"`
	Percent       float64 `mapstructure:"percent"`
}

// BulkTier grants Percent off when at least MinQuantity units are reserved
type BulkTier struct {
	MinQuantity int     `mapstructure:"min_quantity"`
	Percent     float64 `mapstructure:"percent"`
}

// DefaultInventory returns the built-in categories used when no
// INVENTORY_CONFIG_FILE is given
func DefaultInventory() *InventoryConfig {
	earlyBird := []EarlyBirdTier{{MinDaysBefore: 7, Percent: 15}, {MinDaysBefore: 30, Percent: 25}}
	bulk := []BulkTier{{MinQuantity: 5, Percent: 5}, {MinQuantity: 10, Percent: 10}}

	return &InventoryConfig{
		Categories: map[string]CategoryConfig{
			"hall": {
				DisplayName:            "Hall seat",
				BasePrice:              500,
				TaxRatePercent:         18,
				CancellationWindowDays: 3,
				MaxUnitsPerReservation: 20,
				EarlyBirdTiers:         earlyBird,
				BulkTiers:              bulk,
			},
			"stall": {
				DisplayName:            "Exhibition stall",
				BasePrice:              15000,
				TaxRatePercent:         18,
				CancellationWindowDays: 14,
				MaxUnitsPerReservation: 4,
				EarlyBirdTiers:         earlyBird,
				BulkTiers:              []BulkTier{{MinQuantity: 2, Percent: 5}, {MinQuantity: 4, Percent: 10}},
			},
			"show": {
				DisplayName:            "Show seat",
				BasePrice:              300,
				TaxRatePercent:         18,
				CancellationWindowDays: 1,
				MaxUnitsPerReservation: 10,
				EarlyBirdTiers:         earlyBird,
				BulkTiers:              bulk,
			},
		},
	}
}

// LoadInventory reads a YAML or JSON inventory file. An empty path yields
// DefaultInventory.
func LoadInventory(path string) (*InventoryConfig, error) {
	if path == "" {
		return DefaultInventory(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read inventory file %s: %w", path, err)
	}

	inv := &InventoryConfig{}
	if err := v.Unmarshal(inv); err != nil {
		return nil, fmt.Errorf("failed to decode inventory file %s: %w", path, err)
	}

	// viper lower-cases map keys; normalize explicitly for env-provided files
	normalized := make(map[string]CategoryConfig, len(inv.Categories))
	for name, cat := range inv.Categories {
		normalized[strings.ToLower(strings.TrimSpace(name))] = cat
	}
	inv.Categories = normalized

	return inv, nil
}

// Names returns the configured category names in sorted order
func (i *InventoryConfig) Names() []string {
	names := make([]string, 0, len(i.Categories))
	for name := range i.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks structural constraints; pricing rules are validated by the
// pricing engine at startup
func (i *InventoryConfig) Validate() error {
	if len(i.Categories) == 0 {
		return fmt.Errorf("at least one inventory category is required")
	}
	for name, cat := range i.Categories {
		if name == "" {
			return fmt.Errorf("inventory category name is required")
		}
		if cat.CancellationWindowDays < 0 {
			return fmt.Errorf("category %s: cancellation_window_days must not be negative", name)
		}
		if cat.MaxUnitsPerReservation < 0 {
			return fmt.Errorf("category %s: max_units_per_reservation must not be negative", name)
		}
	}
	return nil
}

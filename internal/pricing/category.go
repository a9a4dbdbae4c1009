package pricing

import (
	"github.com/prohmpiriya/reservation-engine/pkg/config"
)

// FromCategory converts an inventory category into an engine configuration
func FromCategory(cat config.CategoryConfig) Config {
	cfg := Config{
		TaxRatePercent:     cat.TaxRatePercent,
		SeasonalMultiplier: cat.SeasonalMultiplier,
	}
	for _, t := range cat.EarlyBirdTiers {
		cfg.EarlyBirdTiers = append(cfg.EarlyBirdTiers, EarlyBirdTier{MinDaysBefore: t.MinDaysBefore, Percent: t.Percent})
	}
	for _, t := range cat.BulkTiers {
		cfg.BulkTiers = append(cfg.BulkTiers, BulkTier{MinQuantity: t.MinQuantity, Percent: t.Percent})
	}
	return cfg
}

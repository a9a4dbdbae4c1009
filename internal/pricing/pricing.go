// Package pricing computes reservation quotes. It performs no I/O; the same
// input always yields the same quote.
package pricing

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

// EarlyBirdTier grants Percent off when the event is at least MinDaysBefore
// calendar days away
type EarlyBirdTier struct {
	MinDaysBefore int     `json:"minDaysBefore"`
	Percent       float64 `json:"percent"`
}

// BulkTier grants Percent off when at least MinQuantity units are reserved
type BulkTier struct {
	MinQuantity int     `json:"minQuantity"`
	Percent     float64 `json:"percent"`
}

// Config is the discount configuration of one inventory category
type Config struct {
	EarlyBirdTiers     []EarlyBirdTier
	BulkTiers          []BulkTier
	TaxRatePercent     float64
	SeasonalMultiplier *float64
}

// Validate rejects configurations the engine cannot price with
func (c Config) Validate() error {
	if len(c.EarlyBirdTiers) == 0 {
		return fmt.Errorf("%w: early-bird tiers are required", domain.ErrConfiguration)
	}
	if len(c.BulkTiers) == 0 {
		return fmt.Errorf("%w: bulk tiers are required", domain.ErrConfiguration)
	}
	for _, t := range c.EarlyBirdTiers {
		if t.MinDaysBefore < 0 {
			return fmt.Errorf("%w: early-bird min days %d is negative", domain.ErrConfiguration, t.MinDaysBefore)
		}
		if err := validPercent(t.Percent); err != nil {
			return err
		}
	}
	for _, t := range c.BulkTiers {
		if t.MinQuantity <= 0 {
			return fmt.Errorf("%w: bulk min quantity must be greater than zero", domain.ErrConfiguration)
		}
		if err := validPercent(t.Percent); err != nil {
			return err
		}
	}
	if c.TaxRatePercent < 0 {
		return fmt.Errorf("%w: tax rate %.2f is negative", domain.ErrConfiguration, c.TaxRatePercent)
	}
	if c.SeasonalMultiplier != nil && *c.SeasonalMultiplier <= 0 {
		return fmt.Errorf("%w: seasonal multiplier must be positive", domain.ErrConfiguration)
	}
	return nil
}

func validPercent(p float64) error {
	if p < 0 || p > 100 || math.IsNaN(p) {
		return fmt.Errorf("%w: discount percent %.2f out of range", domain.ErrConfiguration, p)
	}
	return nil
}

// QuoteInput is one pricing request
type QuoteInput struct {
	BasePrice     float64
	Quantity      int
	ReferenceDate time.Time
	Today         time.Time
}

// Milestone is the next reachable bulk discount
type Milestone struct {
	SeatsNeeded     int     `json:"seatsNeeded"`
	DiscountPercent float64 `json:"discountPercent"`
}

// Engine prices reservations for one category
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an Engine
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Quote computes base, discounts, tax and total. Percents are additive and the
// discount never exceeds the base amount.
func (e *Engine) Quote(in QuoteInput) (domain.Quote, error) {
	if in.BasePrice <= 0 || math.IsNaN(in.BasePrice) {
		return domain.Quote{}, fmt.Errorf("%w: base price must be positive", domain.ErrConfiguration)
	}
	if in.Quantity <= 0 {
		return domain.Quote{}, domain.ErrInvalidQuantity
	}

	multiplier := 1.0
	if e.cfg.SeasonalMultiplier != nil {
		multiplier = *e.cfg.SeasonalMultiplier
	}
	base := in.BasePrice * float64(in.Quantity) * multiplier

	earlyBird := e.earlyBirdPercent(DaysBefore(in.ReferenceDate, in.Today))
	bulk := e.bulkPercent(in.Quantity)

	percent := earlyBird + bulk
	discount := base * percent / 100
	if discount > base {
		discount = base
		percent = 100
	}
	tax := (base - discount) * e.cfg.TaxRatePercent / 100
	total := round(base - discount + tax)

	// The total is rounded once; tax absorbs the rounding so that
	// BaseAmount - DiscountAmount + TaxAmount == TotalAmount
	baseAmount, discountAmount := round(base), round(discount)
	return domain.Quote{
		UnitPrice:        in.BasePrice * multiplier,
		Quantity:         in.Quantity,
		BaseAmount:       baseAmount,
		EarlyBirdPercent: earlyBird,
		BulkPercent:      bulk,
		DiscountPercent:  percent,
		DiscountAmount:   discountAmount,
		TaxAmount:        total - baseAmount + discountAmount,
		TotalAmount:      total,
	}, nil
}

// NextMilestone returns the next bulk tier for quantity
func (e *Engine) NextMilestone(quantity int) *Milestone {
	return NextMilestone(quantity, e.cfg.BulkTiers)
}

// largest qualifying threshold wins; equal thresholds resolve to the highest percent
func (e *Engine) earlyBirdPercent(daysBefore int) float64 {
	best := -1
	percent := 0.0
	for _, t := range e.cfg.EarlyBirdTiers {
		if t.MinDaysBefore > daysBefore {
			continue
		}
		if t.MinDaysBefore > best || (t.MinDaysBefore == best && t.Percent > percent) {
			best = t.MinDaysBefore
			percent = t.Percent
		}
	}
	return percent
}

func (e *Engine) bulkPercent(quantity int) float64 {
	best := 0
	percent := 0.0
	for _, t := range e.cfg.BulkTiers {
		if t.MinQuantity > quantity {
			continue
		}
		if t.MinQuantity > best || (t.MinQuantity == best && t.Percent > percent) {
			best = t.MinQuantity
			percent = t.Percent
		}
	}
	return percent
}

// NextMilestone returns the smallest increment that reaches the next unreached
// bulk tier, or nil when quantity already qualifies for the top tier
func NextMilestone(quantity int, tiers []BulkTier) *Milestone {
	sorted := make([]BulkTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].MinQuantity == sorted[j].MinQuantity {
			return sorted[i].Percent > sorted[j].Percent
		}
		return sorted[i].MinQuantity < sorted[j].MinQuantity
	})

	for _, t := range sorted {
		if t.MinQuantity > quantity {
			return &Milestone{SeatsNeeded: t.MinQuantity - quantity, DiscountPercent: t.Percent}
		}
	}
	return nil
}

// DaysBefore counts calendar days from today to the reference date in UTC.
// Past dates yield a negative count.
func DaysBefore(reference, today time.Time) int {
	ref := midnightUTC(reference)
	now := midnightUTC(today)
	return int(math.Round(ref.Sub(now).Hours() / 24))
}

func midnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// round is half away from zero
func round(v float64) int64 {
	return int64(math.Round(v))
}

package history

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Tuning holds the display heuristics used when fabricating raw points.
//
// None of these values carry market meaning. They were picked so that synthetic
// candles and volume bars look plausible on a chart, and they can be changed
// from configuration without touching any aggregation logic.
type Tuning struct {
	// Lookback is the window the sparkline is assumed to cover, regardless of its length.
	Lookback time.Duration

	// SpreadFactor widens each synthetic candle by this fraction of its body on both ends.
	SpreadFactor decimal.Decimal

	// VolumeJitterMin and VolumeJitterSpan scale the average bucket volume by
	// VolumeJitterMin + r*VolumeJitterSpan, with r drawn from [0, 1).
	VolumeJitterMin  decimal.Decimal
	VolumeJitterSpan decimal.Decimal

	// MinutesPerDay and PollsPerMinute slice the 24h volume into one live tick.
	MinutesPerDay  decimal.Decimal
	PollsPerMinute decimal.Decimal
}

// DefaultTuning returns the reference display constants.
func DefaultTuning() Tuning {
	return Tuning{
		Lookback:         7 * 24 * time.Hour,
		SpreadFactor:     decimal.NewFromFloat(0.1),
		VolumeJitterMin:  decimal.NewFromFloat(0.5),
		VolumeJitterSpan: decimal.NewFromInt(1),
		MinutesPerDay:    decimal.NewFromInt(1440),
		PollsPerMinute:   decimal.NewFromInt(20),
	}
}

// Validate rejects tuning values that would break synthesis.
func (t Tuning) Validate() error {
	if t.Lookback <= 0 {
		return fmt.Errorf("lookback must be positive, got %s", t.Lookback)
	}
	if t.SpreadFactor.IsNegative() {
		return fmt.Errorf("spread factor must not be negative, got %s", t.SpreadFactor)
	}
	if t.VolumeJitterMin.IsNegative() || t.VolumeJitterSpan.IsNegative() {
		return fmt.Errorf("volume jitter must not be negative, got min=%s span=%s",
			t.VolumeJitterMin, t.VolumeJitterSpan)
	}
	if !t.MinutesPerDay.IsPositive() || !t.PollsPerMinute.IsPositive() {
		return fmt.Errorf("tick volume divisors must be positive, got minutes=%s polls=%s",
			t.MinutesPerDay, t.PollsPerMinute)
	}
	return nil
}

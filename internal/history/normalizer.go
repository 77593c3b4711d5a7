// Package history builds and retains the raw series behind the chart.
//
// It covers three concerns:
//   - Normalizer fabricates a dense raw series from a provider sparkline
//   - AppendTick derives the single "now" point added on every poll
//   - Buffer retains the series under a fixed capacity
//
// Synthetic history is a display approximation. Sparkline samples are assumed to be
// evenly spaced over Tuning.Lookback and anchored at the provider's LastUpdated time;
// the provider does not report the real sample times, so the resulting timestamps,
// intrabar ranges, volumes and market caps are plausible rather than observed.
package history

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web4389/Qubic-MarketView/internal/model"
)

// ErrInvalidSnapshot indicates a provider payload that cannot seed a history.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// RandSource supplies the volume jitter. *rand.Rand satisfies it.
type RandSource interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
}

// Normalizer turns a sparse snapshot into a dense synthetic raw series.
type Normalizer struct {
	tuning Tuning
	rand   RandSource
}

// NewNormalizer creates a normalizer. A nil source falls back to a time-seeded generator.
func NewNormalizer(tuning Tuning, source RandSource) *Normalizer {
	if source == nil {
		source = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Normalizer{tuning: tuning, rand: source}
}

// Synthesize returns one raw point per sparkline sample, oldest first.
//
// The last point is stamped exactly at snap.LastUpdated and earlier points step back
// by Lookback/N. Volumes are randomised and must not be relied on for repeatability.
func (n *Normalizer) Synthesize(snap model.Snapshot) ([]model.RawPoint, error) {
	prices := snap.SparklinePrices
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: empty sparkline", ErrInvalidSnapshot)
	}
	if !snap.CurrentPrice.IsPositive() {
		return nil, fmt.Errorf("%w: current price must be positive, got %s", ErrInvalidSnapshot, snap.CurrentPrice)
	}

	count := len(prices)
	interval := n.tuning.Lookback / time.Duration(count)
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %d samples do not fit a %s lookback", ErrInvalidSnapshot, count, n.tuning.Lookback)
	}

	// Average volume per synthetic bucket: vol24h / (24h / interval)
	bucketsPerDay := decimal.NewFromInt(int64(24 * time.Hour)).Div(decimal.NewFromInt(int64(interval)))
	avgVolume := snap.TotalVolume24h.Div(bucketsPerDay)

	points := make([]model.RawPoint, 0, count)
	for i, price := range prices {
		open := price
		if i > 0 {
			open = prices[i-1]
		}
		closePrice := price

		spread := open.Sub(closePrice).Abs().Mul(n.tuning.SpreadFactor)
		jitter := n.tuning.VolumeJitterMin.Add(decimal.NewFromFloat(n.rand.Float64()).Mul(n.tuning.VolumeJitterSpan))

		points = append(points, model.RawPoint{
			Time:      snap.LastUpdated.Add(-time.Duration(count-1-i) * interval),
			Open:      open,
			High:      decimal.Max(open, closePrice).Add(spread),
			Low:       decimal.Min(open, closePrice).Sub(spread),
			Close:     closePrice,
			Volume:    avgVolume.Mul(jitter),
			MarketCap: price.Div(snap.CurrentPrice).Mul(snap.MarketCap),
		})
	}

	return points, nil
}

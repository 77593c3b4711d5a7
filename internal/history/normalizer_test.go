package history

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web4389/Qubic-MarketView/internal/model"
)

// fixedRand always returns the same draw.
type fixedRand struct {
	value float64
}

func (f fixedRand) Float64() float64 { return f.value }

// decimals converts a list of literals into decimals.
func decimals(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

// createTestSnapshot builds a snapshot with sensible defaults.
func createTestSnapshot(prices []decimal.Decimal, lastUpdated time.Time) model.Snapshot {
	return model.Snapshot{
		CoinID:          "qubic-network",
		Symbol:          "qubic",
		CurrentPrice:    decimal.RequireFromString("100"),
		TotalVolume24h:  decimal.RequireFromString("2400"),
		MarketCap:       decimal.RequireFromString("1000000"),
		SparklinePrices: prices,
		LastUpdated:     lastUpdated,
	}
}

// Test_Synthesize_FlatSparkline checks evenly spaced timestamps anchored at LastUpdated.
func Test_Synthesize_FlatSparkline(t *testing.T) {
	lastUpdated := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	snap := createTestSnapshot(decimals("100", "100", "100"), lastUpdated)
	interval := 7 * 24 * time.Hour / 3

	points, err := NewNormalizer(DefaultTuning(), fixedRand{0.5}).Synthesize(snap)
	require.NoError(t, err)
	require.Len(t, points, 3)

	expectedTimes := []time.Time{
		lastUpdated.Add(-2 * interval),
		lastUpdated.Add(-interval),
		lastUpdated,
	}
	for i, p := range points {
		assert.True(t, p.Time.Equal(expectedTimes[i]), "Point %d time mismatch: %v", i, p.Time)
		for _, v := range []decimal.Decimal{p.Open, p.High, p.Low, p.Close} {
			assert.True(t, v.Equal(decimal.NewFromInt(100)), "Point %d should have zero spread", i)
		}
	}
}

// Test_Synthesize_OHLC checks open chaining and the synthetic spread.
func Test_Synthesize_OHLC(t *testing.T) {
	snap := createTestSnapshot(decimals("10", "20", "15"), time.Unix(1_700_000_000, 0))

	points, err := NewNormalizer(DefaultTuning(), fixedRand{0}).Synthesize(snap)
	require.NoError(t, err)
	require.Len(t, points, 3)

	tests := []struct {
		name                   string
		open, high, low, close string
	}{
		{name: "First point opens at its own price", open: "10", high: "10", low: "10", close: "10"},
		{name: "Rising step widened by a tenth of the body", open: "10", high: "21", low: "9", close: "20"},
		{name: "Falling step widened by a tenth of the body", open: "20", high: "20.5", low: "14.5", close: "15"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := points[i]
			assert.True(t, p.Open.Equal(decimal.RequireFromString(tt.open)), "open %s", p.Open)
			assert.True(t, p.High.Equal(decimal.RequireFromString(tt.high)), "high %s", p.High)
			assert.True(t, p.Low.Equal(decimal.RequireFromString(tt.low)), "low %s", p.Low)
			assert.True(t, p.Close.Equal(decimal.RequireFromString(tt.close)), "close %s", p.Close)
			assert.True(t, p.Low.LessThanOrEqual(decimal.Min(p.Open, p.Close)))
			assert.True(t, p.High.GreaterThanOrEqual(decimal.Max(p.Open, p.Close)))
		})
	}
}

// Test_Synthesize_Volume checks volume jitter bounds with injected draws.
func Test_Synthesize_Volume(t *testing.T) {
	// 168 hourly samples: 24 buckets per day, 2400/24 = 100 average volume
	prices := make([]decimal.Decimal, 168)
	for i := range prices {
		prices[i] = decimal.NewFromInt(100)
	}
	snap := createTestSnapshot(prices, time.Unix(1_700_000_000, 0))

	tests := []struct {
		name     string
		draw     float64
		expected string
	}{
		{name: "Lowest draw", draw: 0, expected: "50"},
		{name: "Middle draw", draw: 0.5, expected: "100"},
		{name: "High draw", draw: 0.75, expected: "125"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points, err := NewNormalizer(DefaultTuning(), fixedRand{tt.draw}).Synthesize(snap)
			require.NoError(t, err)

			for _, p := range points {
				assert.True(t, p.Volume.Equal(decimal.RequireFromString(tt.expected)),
					"expected %s, got %s", tt.expected, p.Volume)
			}
		})
	}

	t.Run("Random draws stay in range", func(t *testing.T) {
		points, err := NewNormalizer(DefaultTuning(), rand.New(rand.NewSource(1))).Synthesize(snap)
		require.NoError(t, err)

		lower := decimal.NewFromInt(50)
		upper := decimal.NewFromInt(150)
		for _, p := range points {
			assert.True(t, p.Volume.GreaterThanOrEqual(lower) && p.Volume.LessThan(upper),
				"volume %s outside [50, 150)", p.Volume)
		}
	})
}

// Test_Synthesize_MarketCap checks the constant-supply market cap back-projection.
func Test_Synthesize_MarketCap(t *testing.T) {
	snap := createTestSnapshot(decimals("50", "100", "200"), time.Unix(1_700_000_000, 0))

	points, err := NewNormalizer(DefaultTuning(), nil).Synthesize(snap)
	require.NoError(t, err)

	expected := decimals("500000", "1000000", "2000000")
	for i, p := range points {
		assert.True(t, p.MarketCap.Equal(expected[i]), "point %d: got %s", i, p.MarketCap)
	}
}

// Test_Synthesize_Invalid checks rejection of degenerate snapshots.
func Test_Synthesize_Invalid(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*model.Snapshot)
		tuning      func(*Tuning)
		errorMsg    string
		description string
	}{
		{
			name:        "Empty sparkline",
			mutate:      func(s *model.Snapshot) { s.SparklinePrices = nil },
			errorMsg:    "empty sparkline",
			description: "Should reject a snapshot without samples",
		},
		{
			name:        "Zero current price",
			mutate:      func(s *model.Snapshot) { s.CurrentPrice = decimal.Zero },
			errorMsg:    "current price must be positive",
			description: "Should guard the market cap division",
		},
		{
			name:        "Negative current price",
			mutate:      func(s *model.Snapshot) { s.CurrentPrice = decimal.NewFromInt(-1) },
			errorMsg:    "current price must be positive",
			description: "Should reject negative prices",
		},
		{
			name:        "More samples than lookback nanoseconds",
			tuning:      func(tn *Tuning) { tn.Lookback = 2 },
			errorMsg:    "do not fit",
			description: "Should reject a zero interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := createTestSnapshot(decimals("1", "2", "3"), time.Unix(1_700_000_000, 0))
			if tt.mutate != nil {
				tt.mutate(&snap)
			}
			tuning := DefaultTuning()
			if tt.tuning != nil {
				tt.tuning(&tuning)
			}

			points, err := NewNormalizer(tuning, fixedRand{0}).Synthesize(snap)

			assert.Nil(t, points, tt.description)
			require.Error(t, err, tt.description)
			assert.ErrorIs(t, err, ErrInvalidSnapshot)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

// Test_Tuning_Validate tests tuning validation.
func Test_Tuning_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Tuning)
		expectError bool
	}{
		{name: "Defaults", mutate: func(*Tuning) {}, expectError: false},
		{name: "Zero lookback", mutate: func(tn *Tuning) { tn.Lookback = 0 }, expectError: true},
		{name: "Negative spread", mutate: func(tn *Tuning) { tn.SpreadFactor = decimal.NewFromInt(-1) }, expectError: true},
		{name: "Negative jitter", mutate: func(tn *Tuning) { tn.VolumeJitterSpan = decimal.NewFromInt(-1) }, expectError: true},
		{name: "Zero polls per minute", mutate: func(tn *Tuning) { tn.PollsPerMinute = decimal.Zero }, expectError: true},
		{name: "Zero spread", mutate: func(tn *Tuning) { tn.SpreadFactor = decimal.Zero }, expectError: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tuning := DefaultTuning()
			tt.mutate(&tuning)

			if tt.expectError {
				assert.Error(t, tuning.Validate())
			} else {
				assert.NoError(t, tuning.Validate())
			}
		})
	}
}

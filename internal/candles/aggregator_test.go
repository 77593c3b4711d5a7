package candles

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web4389/Qubic-MarketView/internal/model"
)

// createTestPoint builds a raw point at the given Unix second.
func createTestPoint(sec int64, open, high, low, close, volume, marketCap string) model.RawPoint {
	return model.RawPoint{
		Time:      time.Unix(sec, 0),
		Open:      decimal.RequireFromString(open),
		High:      decimal.RequireFromString(high),
		Low:       decimal.RequireFromString(low),
		Close:     decimal.RequireFromString(close),
		Volume:    decimal.RequireFromString(volume),
		MarketCap: decimal.RequireFromString(marketCap),
	}
}

// flatPoint builds a point whose OHLC all equal price.
func flatPoint(sec int64, price string) model.RawPoint {
	return createTestPoint(sec, price, price, price, price, "0", "0")
}

// createRandomSeries builds a sorted, OHLC-consistent series with irregular spacing.
func createRandomSeries(seed int64, n int, start time.Time) []model.RawPoint {
	r := rand.New(rand.NewSource(seed))
	points := make([]model.RawPoint, 0, n)
	t := start
	price := 100.0
	for i := 0; i < n; i++ {
		t = t.Add(time.Duration(r.Intn(900_000)) * time.Millisecond)
		open := price
		price = price * (0.98 + r.Float64()*0.04)
		hi, lo := open, price
		if lo > hi {
			hi, lo = lo, hi
		}
		points = append(points, model.RawPoint{
			Time:      t,
			Open:      decimal.NewFromFloat(open),
			High:      decimal.NewFromFloat(hi + r.Float64()),
			Low:       decimal.NewFromFloat(lo - r.Float64()),
			Close:     decimal.NewFromFloat(price),
			Volume:    decimal.NewFromFloat(r.Float64() * 1000),
			MarketCap: decimal.NewFromFloat(price * 1e6),
		})
	}
	return points
}

// Test_Aggregate_Empty tests that empty input yields an empty series.
func Test_Aggregate_Empty(t *testing.T) {
	tests := []struct {
		name        string
		raw         []model.RawPoint
		description string
	}{
		{
			name:        "Nil series",
			raw:         nil,
			description: "Should return no candles for nil input",
		},
		{
			name:        "Empty series",
			raw:         []model.RawPoint{},
			description: "Should return no candles for empty input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := Aggregate(tt.raw, model.Timeframe1m)

			assert.Equal(t, 0, series.Len(), tt.description)
			assert.Empty(t, series.Volumes, "Volume histogram should be empty")
			assert.Empty(t, series.MarketCaps, "Market cap line should be empty")
			assert.Equal(t, model.Timeframe1m, series.Timeframe, "Should carry the timeframe")
		})
	}
}

// Test_Aggregate_TwoBuckets checks a three point series split across two minutes.
func Test_Aggregate_TwoBuckets(t *testing.T) {
	raw := []model.RawPoint{
		flatPoint(0, "10"),
		flatPoint(30, "12"),
		flatPoint(90, "9"),
	}

	series := Aggregate(raw, model.Timeframe1m)
	require.Equal(t, 2, series.Len(), "Should emit two candles")

	first := series.Candles[0]
	assert.Equal(t, int64(0), first.Time.Unix(), "First bucket should start at t=0")
	assert.True(t, first.Open.Equal(decimal.NewFromInt(10)), "Open should be the first point's open")
	assert.True(t, first.Close.Equal(decimal.NewFromInt(12)), "Close should be the last point's close")
	assert.True(t, first.High.GreaterThanOrEqual(decimal.NewFromInt(12)), "High should cover 12")
	assert.True(t, first.Low.LessThanOrEqual(decimal.NewFromInt(10)), "Low should cover 10")

	second := series.Candles[1]
	assert.Equal(t, int64(60), second.Time.Unix(), "Second bucket should start at t=60")
	assert.True(t, second.Open.Equal(decimal.NewFromInt(9)), "Open should be 9")
	assert.True(t, second.Close.Equal(decimal.NewFromInt(9)), "Close should be 9")
}

// Test_Aggregate_SinglePoint is the regression test for the trailing flush.
func Test_Aggregate_SinglePoint(t *testing.T) {
	for _, tf := range model.AllTimeframes() {
		t.Run(tf.String(), func(t *testing.T) {
			p := createTestPoint(1_700_000_123, "1.5", "1.7", "1.4", "1.6", "42", "1000")

			series := Aggregate([]model.RawPoint{p}, tf)
			require.Equal(t, 1, series.Len(), "A single point must yield exactly one candle")

			c := series.Candles[0]
			assert.True(t, c.Open.Equal(p.Open))
			assert.True(t, c.High.Equal(p.High))
			assert.True(t, c.Low.Equal(p.Low))
			assert.True(t, c.Close.Equal(p.Close))
			assert.True(t, c.Volume.Equal(p.Volume))
			assert.True(t, c.MarketCap.Equal(p.MarketCap))
			assert.Equal(t, BucketStart(p.Time, tf.Width().Milliseconds()), c.Time.UnixMilli(),
				"Candle time should be the bucket start")
		})
	}
}

// Test_Aggregate_Folding tests the OHLCV folding rules inside one bucket.
func Test_Aggregate_Folding(t *testing.T) {
	raw := []model.RawPoint{
		createTestPoint(3600, "10", "11", "9", "10.5", "1", "100"),
		createTestPoint(3700, "10.5", "14", "10", "13", "2", "130"),
		createTestPoint(3800, "13", "13.5", "7", "8", "3", "80"),
		createTestPoint(3900, "8", "9", "8", "8.5", "0", "0"),
	}

	series := Aggregate(raw, model.Timeframe1h)
	require.Equal(t, 1, series.Len())

	c := series.Candles[0]
	assert.Equal(t, int64(3600), c.Time.Unix())
	assert.Equal(t, "10", c.Open.String(), "Open fixed at the first point")
	assert.Equal(t, "14", c.High.String(), "High is the max of highs")
	assert.Equal(t, "7", c.Low.String(), "Low is the min of lows")
	assert.Equal(t, "8.5", c.Close.String(), "Close is last-wins")
	assert.Equal(t, "6", c.Volume.String(), "Volume is summed")
	assert.Equal(t, "0", c.MarketCap.String(), "Market cap is last-wins, absent counts as zero")

	require.Len(t, series.Volumes, 1)
	assert.Equal(t, model.TrendDown, series.Volumes[0].Trend, "Close below open is a down bar")
	assert.Equal(t, "6", series.Volumes[0].Value.String())
	require.Len(t, series.MarketCaps, 1)
	assert.True(t, series.MarketCaps[0].Value.IsZero())
}

// Test_Aggregate_Trend tests the up/down classification of volume bars.
func Test_Aggregate_Trend(t *testing.T) {
	tests := []struct {
		name     string
		open     string
		close    string
		expected model.Trend
	}{
		{name: "Close above open", open: "1", close: "2", expected: model.TrendUp},
		{name: "Close equals open", open: "2", close: "2", expected: model.TrendUp},
		{name: "Close below open", open: "2", close: "1", expected: model.TrendDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := createTestPoint(0, tt.open, "3", "0.5", tt.close, "1", "1")
			series := Aggregate([]model.RawPoint{p}, model.Timeframe5m)

			require.Len(t, series.Volumes, 1)
			assert.Equal(t, tt.expected, series.Volumes[0].Trend)
		})
	}
}

// Test_Aggregate_Invariants checks alignment, coverage and containment on random series.
func Test_Aggregate_Invariants(t *testing.T) {
	starts := []time.Time{
		time.Unix(1_700_000_017, 123_000_000),
		time.Unix(1_699_999_999, 0),
		time.Unix(-7_777, 0),
	}

	for _, tf := range model.AllTimeframes() {
		for i, start := range starts {
			raw := createRandomSeries(int64(i+1), 500, start)
			series := Aggregate(raw, tf)
			widthSec := int64(tf.Width() / time.Second)

			require.NotZero(t, series.Len())
			require.Len(t, series.Volumes, series.Len())
			require.Len(t, series.MarketCaps, series.Len())

			// Bucket alignment and containment
			for j, c := range series.Candles {
				assert.Zero(t, c.Time.Unix()%widthSec, "%s: candle %d not epoch aligned", tf, j)
				assert.True(t, c.Low.LessThanOrEqual(c.Open) && c.Open.LessThanOrEqual(c.High),
					"%s: open outside range in candle %d", tf, j)
				assert.True(t, c.Low.LessThanOrEqual(c.Close) && c.Close.LessThanOrEqual(c.High),
					"%s: close outside range in candle %d", tf, j)
				if j > 0 {
					assert.True(t, c.Time.After(series.Candles[j-1].Time), "%s: candles not increasing", tf)
				}
			}

			// Coverage: each point lands in exactly one candle that reflects it
			volumes := make(map[int64]decimal.Decimal)
			for _, p := range raw {
				start := BucketStart(p.Time, tf.Width().Milliseconds())
				matches := 0
				for _, c := range series.Candles {
					if c.Time.UnixMilli() == start {
						matches++
						assert.True(t, c.High.GreaterThanOrEqual(p.High))
						assert.True(t, c.Low.LessThanOrEqual(p.Low))
					}
				}
				assert.Equal(t, 1, matches, "%s: point at %v must map to exactly one candle", tf, p.Time)
				volumes[start] = volumes[start].Add(p.Volume)
			}
			for _, c := range series.Candles {
				assert.True(t, volumes[c.Time.UnixMilli()].Equal(c.Volume), "%s: volume mismatch", tf)
			}
		}
	}
}

// Test_Aggregate_Idempotent tests that re-aggregation reproduces identical output.
func Test_Aggregate_Idempotent(t *testing.T) {
	raw := createRandomSeries(99, 1000, time.Unix(1_700_000_000, 0))

	for _, tf := range model.AllTimeframes() {
		first := Aggregate(raw, tf)
		second := Aggregate(raw, tf)
		assert.Equal(t, first, second, "%s: aggregation must be deterministic", tf)
	}
}

// Test_Aggregate_StartOffsetIndependent tests that boundaries do not depend on where the series starts.
func Test_Aggregate_StartOffsetIndependent(t *testing.T) {
	raw := createRandomSeries(7, 300, time.Unix(1_700_000_000, 0))

	full := Aggregate(raw, model.Timeframe15m)
	tail := Aggregate(raw[37:], model.Timeframe15m)

	boundaries := make(map[int64]bool, full.Len())
	for _, c := range full.Candles {
		boundaries[c.Time.UnixMilli()] = true
	}
	for _, c := range tail.Candles {
		assert.True(t, boundaries[c.Time.UnixMilli()], "Boundary %v should also exist in the full series", c.Time)
	}
}

// Test_Aggregate_UnsupportedWidth tests degenerate widths.
func Test_Aggregate_UnsupportedWidth(t *testing.T) {
	raw := []model.RawPoint{flatPoint(0, "1")}

	assert.Equal(t, 0, Aggregate(raw, model.Timeframe("2w")).Len(), "Unknown timeframe yields nothing")
	assert.Equal(t, 0, AggregateWidth(raw, 0).Len(), "Zero width yields nothing")
	assert.Equal(t, 0, AggregateWidth(raw, time.Microsecond).Len(), "Sub-millisecond width yields nothing")
	assert.Equal(t, 1, AggregateWidth(raw, 30*time.Second).Len(), "Custom widths are supported")
}

// Test_BucketStart tests floor semantics on both sides of the epoch.
func Test_BucketStart(t *testing.T) {
	tests := []struct {
		name     string
		ms       int64
		widthMs  int64
		expected int64
	}{
		{name: "Epoch", ms: 0, widthMs: 60_000, expected: 0},
		{name: "Inside first bucket", ms: 59_999, widthMs: 60_000, expected: 0},
		{name: "Exact boundary", ms: 60_000, widthMs: 60_000, expected: 60_000},
		{name: "Before epoch", ms: -1, widthMs: 60_000, expected: -60_000},
		{name: "Before epoch on boundary", ms: -60_000, widthMs: 60_000, expected: -60_000},
		{name: "Daily", ms: 1_700_000_000_000, widthMs: 86_400_000, expected: 1_699_920_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BucketStart(time.UnixMilli(tt.ms), tt.widthMs))
		})
	}
}

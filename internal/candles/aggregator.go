// Package candles provides OHLCV candlestick aggregation over a retained raw series.
//
// Aggregation is a pure function of (raw series, bucket width). It is recomputed in
// full on every call rather than maintained incrementally, so switching timeframes
// never needs any state beyond the raw series itself.
//
// Bucketing:
//   - Bucket boundaries are aligned to the Unix epoch, not to the first point
//   - A point at t milliseconds belongs to floor(t/width)*width
//   - The last in-progress bucket is always emitted
//
// Input must be sorted by time. Out-of-order input is not detected and produces
// unspecified (but non-panicking) output.
package candles

import (
	"time"

	"github.com/web4389/Qubic-MarketView/internal/model"
)

// Aggregate buckets raw into candles of the given timeframe.
//
// An unsupported timeframe yields an empty series tagged with that timeframe.
func Aggregate(raw []model.RawPoint, tf model.Timeframe) model.TimeframeSeries {
	series := AggregateWidth(raw, tf.Width())
	series.Timeframe = tf
	return series
}

// AggregateWidth buckets raw into candles of an arbitrary width.
//
// Widths below one millisecond cannot be expressed on the millisecond grid and
// yield an empty series.
func AggregateWidth(raw []model.RawPoint, width time.Duration) model.TimeframeSeries {
	widthMs := width.Milliseconds()
	if len(raw) == 0 || widthMs <= 0 {
		return model.TimeframeSeries{}
	}

	candles := make([]model.Candle, 0, estimateBuckets(raw, widthMs))

	// Seed the accumulator from the first point
	currentStart := BucketStart(raw[0].Time, widthMs)
	acc := model.Candle(raw[0])

	for _, p := range raw[1:] {
		start := BucketStart(p.Time, widthMs)
		if start != currentStart {
			acc.Time = time.UnixMilli(currentStart)
			candles = append(candles, acc)

			currentStart = start
			acc = model.Candle(p)
			continue
		}
		fold(&acc, p)
	}

	// Flush the trailing bucket
	acc.Time = time.UnixMilli(currentStart)
	candles = append(candles, acc)

	return model.TimeframeSeries{
		Candles:    candles,
		Volumes:    volumeHistogram(candles),
		MarketCaps: marketCapLine(candles),
	}
}

// BucketStart returns the epoch-aligned bucket start, in Unix milliseconds, of t.
func BucketStart(t time.Time, widthMs int64) int64 {
	ms := t.UnixMilli()
	start := ms - ms%widthMs
	if ms < 0 && ms%widthMs != 0 {
		// Go truncates toward zero; buckets before the epoch still floor
		start -= widthMs
	}
	return start
}

// fold merges one raw point into an open accumulator. Open stays fixed at the
// first point of the bucket; close and market cap are last-wins.
func fold(acc *model.Candle, p model.RawPoint) {
	if p.High.GreaterThan(acc.High) {
		acc.High = p.High
	}
	if p.Low.LessThan(acc.Low) {
		acc.Low = p.Low
	}
	acc.Close = p.Close
	acc.MarketCap = p.MarketCap
	acc.Volume = acc.Volume.Add(p.Volume)
}

func volumeHistogram(candles []model.Candle) []model.VolumeBar {
	bars := make([]model.VolumeBar, len(candles))
	for i, c := range candles {
		trend := model.TrendDown
		if c.Close.GreaterThanOrEqual(c.Open) {
			trend = model.TrendUp
		}
		bars[i] = model.VolumeBar{Time: c.Time, Value: c.Volume, Trend: trend}
	}
	return bars
}

func marketCapLine(candles []model.Candle) []model.ValuePoint {
	line := make([]model.ValuePoint, len(candles))
	for i, c := range candles {
		line[i] = model.ValuePoint{Time: c.Time, Value: c.MarketCap}
	}
	return line
}

// estimateBuckets sizes the output slice from the covered time span.
func estimateBuckets(raw []model.RawPoint, widthMs int64) int {
	span := raw[len(raw)-1].Time.UnixMilli() - raw[0].Time.UnixMilli()
	n := int(span/widthMs) + 1
	if n < 1 || n > len(raw) {
		return len(raw)
	}
	return n
}

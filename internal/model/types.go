// Package model defines core data types for the chart engine.
//
// This package contains the data structures shared by the history synthesizer,
// the timeframe aggregator and the delivery layers. Prices, volumes and market
// capitalisations use decimal.Decimal so that re-aggregating the same raw series
// always yields bit-identical candles.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawPoint is the atomic unit of the retained time series.
//
// Points are produced either by history synthesis or by the live appender and are
// never mutated afterwards. Along a series Time is monotonically non-decreasing and
// every point satisfies Low <= min(Open, Close) <= max(Open, Close) <= High.
//
// Volume and MarketCap are optional; the zero decimal means "absent" and is treated
// as 0 by every consumer.
type RawPoint struct {
	Time      time.Time       // Sample time
	Open      decimal.Decimal // Opening price
	High      decimal.Decimal // Highest price
	Low       decimal.Decimal // Lowest price
	Close     decimal.Decimal // Closing price
	Volume    decimal.Decimal // Traded volume in quote currency (optional)
	MarketCap decimal.Decimal // Market capitalisation (optional)
}

// Snapshot is a single, already decoded provider payload.
//
// A snapshot is consumed once per poll and is not retained. SparklinePrices holds a
// short list of recent prices, oldest first, assumed to span a fixed lookback ending
// at LastUpdated.
type Snapshot struct {
	CoinID            string
	Symbol            string
	Name              string
	CurrentPrice      decimal.Decimal
	TotalVolume24h    decimal.Decimal
	MarketCap         decimal.Decimal
	PriceChange24hPct decimal.Decimal
	High24h           decimal.Decimal
	Low24h            decimal.Decimal
	SparklinePrices   []decimal.Decimal
	LastUpdated       time.Time
}

// Candle is the output of aggregation.
//
// It has the same shape as RawPoint, but Time is the epoch-aligned start of the
// bucket and Volume is the sum of the contributing raw volumes.
type Candle RawPoint

// Trend classifies a candle for volume histogram colouring.
type Trend string

const (
	// TrendUp marks a candle that closed at or above its open.
	TrendUp Trend = "up"

	// TrendDown marks a candle that closed below its open.
	TrendDown Trend = "down"
)

// ValuePoint is a single entry of a line series.
type ValuePoint struct {
	Time  time.Time
	Value decimal.Decimal
}

// VolumeBar is a single entry of the volume histogram.
type VolumeBar struct {
	Time  time.Time
	Value decimal.Decimal
	Trend Trend
}

// TimeframeSeries is the rendering-facing bundle produced for one timeframe.
//
// MarketCaps and Volumes hold exactly one entry per candle, at the same times.
// The whole value is regenerated on every aggregation and must be treated by the
// consumer as a full replacement of whatever it displays.
type TimeframeSeries struct {
	Timeframe  Timeframe
	Candles    []Candle
	MarketCaps []ValuePoint
	Volumes    []VolumeBar
}

// Len returns the number of candles in the series.
func (s TimeframeSeries) Len() int {
	return len(s.Candles)
}

// Quote carries the headline numbers of the latest successful poll.
type Quote struct {
	Symbol            string
	Name              string
	Price             decimal.Decimal
	PriceChange24hPct decimal.Decimal
	MarketCap         decimal.Decimal
	Volume24h         decimal.Decimal
	High24h           decimal.Decimal
	Low24h            decimal.Decimal
	LastUpdated       time.Time
}

// QuoteFromSnapshot copies the stats-panel values out of a snapshot.
func QuoteFromSnapshot(s Snapshot) Quote {
	return Quote{
		Symbol:            s.Symbol,
		Name:              s.Name,
		Price:             s.CurrentPrice,
		PriceChange24hPct: s.PriceChange24hPct,
		MarketCap:         s.MarketCap,
		Volume24h:         s.TotalVolume24h,
		High24h:           s.High24h,
		Low24h:            s.Low24h,
		LastUpdated:       s.LastUpdated,
	}
}

// UpdateKind tells consumers whether an Update carries a new raw series.
type UpdateKind int

const (
	// UpdateSeries carries a full copy of the retained raw series.
	UpdateSeries UpdateKind = iota

	// UpdateStatus only carries a liveness transition; the previous series stays valid.
	UpdateStatus
)

// Update is emitted by the poll loop after every cycle.
type Update struct {
	Kind   UpdateKind
	Points []RawPoint // Copy of the retained series (UpdateSeries only)
	Live   bool
	Quote  *Quote
	At     time.Time
}

// Frame is a single delivery to a renderer subscribed to one timeframe.
//
// Series is nil for status-only frames, which tell the renderer to keep showing its
// current data and update the liveness indicator.
type Frame struct {
	Timeframe Timeframe
	Live      bool
	Series    *TimeframeSeries
	Quote     *Quote
	At        time.Time
}

package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupportedTimeframe is returned when a timeframe label is not one of the supported buckets.
var ErrUnsupportedTimeframe = errors.New("unsupported timeframe")

// Timeframe is a selectable candle bucket width.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// DefaultTimeframe is the bucket width shown before a client picks one.
const DefaultTimeframe = Timeframe1h

var timeframeWidths = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe1d:  24 * time.Hour,
}

// AllTimeframes returns the supported timeframes from the narrowest to the widest.
func AllTimeframes() []Timeframe {
	return []Timeframe{Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d}
}

// Valid reports whether tf is a supported timeframe.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeWidths[tf]
	return ok
}

// Width returns the bucket width, or 0 for an unsupported timeframe.
func (tf Timeframe) Width() time.Duration {
	return timeframeWidths[tf]
}

// String implements fmt.Stringer.
func (tf Timeframe) String() string {
	return string(tf)
}

// ParseTimeframe converts a label such as "15m" or "4H" into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if !tf.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, s)
	}
	return tf, nil
}

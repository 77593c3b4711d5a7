// Package wire defines the JSON documents exchanged with renderers.
//
// Chart libraries take plain numbers and UNIX-second timestamps, so frames are flattened
// from the decimal model into float64 values at the delivery edge. Every series frame is a
// full replacement of what the renderer displays; status frames only carry liveness.
package wire

import (
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/web4389/Qubic-MarketView/internal/model"
)

// Frame types.
const (
	TypeSeries = "series"
	TypeStatus = "status"
)

// ErrBadMessage is returned for client messages that cannot be understood.
var ErrBadMessage = errors.New("bad message")

// Candle is one OHLCV bar.
type Candle struct {
	Time      int64   `json:"time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	MarketCap float64 `json:"marketCap"`
}

// Point is one entry of a line series.
type Point struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// Bar is one entry of the volume histogram.
type Bar struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
	Trend string  `json:"trend"`
}

// Series is the full chart payload for one timeframe.
type Series struct {
	Timeframe  string   `json:"timeframe"`
	Candles    []Candle `json:"candles"`
	MarketCaps []Point  `json:"marketCaps"`
	Volumes    []Bar    `json:"volumes"`
}

// Quote carries the stats-panel values.
type Quote struct {
	Symbol            string  `json:"symbol"`
	Name              string  `json:"name"`
	Price             float64 `json:"price"`
	PriceChange24hPct float64 `json:"priceChange24hPct"`
	MarketCap         float64 `json:"marketCap"`
	Volume24h         float64 `json:"volume24h"`
	High24h           float64 `json:"high24h"`
	Low24h            float64 `json:"low24h"`
	LastUpdated       int64   `json:"lastUpdated"`
}

// Frame is the document pushed to subscribers and returned by the series endpoint.
type Frame struct {
	Type      string  `json:"type"`
	Timeframe string  `json:"timeframe"`
	Live      bool    `json:"live"`
	Series    *Series `json:"series,omitempty"`
	Quote     *Quote  `json:"quote,omitempty"`
	At        int64   `json:"at"`
}

// TimeframeRequest is sent by a subscriber to switch timeframe.
//
//	{"timeframe":"5m"}
type TimeframeRequest struct {
	Timeframe string `json:"timeframe"`
}

// ErrorResponse is returned by HTTP endpoints on failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FromFrame flattens a model frame.
func FromFrame(f model.Frame) Frame {
	out := Frame{
		Type:      TypeStatus,
		Timeframe: f.Timeframe.String(),
		Live:      f.Live,
		At:        unix(f.At),
	}
	if f.Series != nil {
		s := FromSeries(*f.Series)
		out.Type = TypeSeries
		out.Series = &s
	}
	if f.Quote != nil {
		q := FromQuote(*f.Quote)
		out.Quote = &q
	}
	return out
}

// FromSeries flattens a timeframe series.
func FromSeries(s model.TimeframeSeries) Series {
	out := Series{
		Timeframe:  s.Timeframe.String(),
		Candles:    make([]Candle, len(s.Candles)),
		MarketCaps: make([]Point, len(s.MarketCaps)),
		Volumes:    make([]Bar, len(s.Volumes)),
	}
	for i, c := range s.Candles {
		out.Candles[i] = Candle{
			Time:      unix(c.Time),
			Open:      c.Open.InexactFloat64(),
			High:      c.High.InexactFloat64(),
			Low:       c.Low.InexactFloat64(),
			Close:     c.Close.InexactFloat64(),
			Volume:    c.Volume.InexactFloat64(),
			MarketCap: c.MarketCap.InexactFloat64(),
		}
	}
	for i, p := range s.MarketCaps {
		out.MarketCaps[i] = Point{Time: unix(p.Time), Value: p.Value.InexactFloat64()}
	}
	for i, v := range s.Volumes {
		out.Volumes[i] = Bar{Time: unix(v.Time), Value: v.Value.InexactFloat64(), Trend: string(v.Trend)}
	}
	return out
}

// FromQuote flattens a quote.
func FromQuote(q model.Quote) Quote {
	return Quote{
		Symbol:            q.Symbol,
		Name:              q.Name,
		Price:             q.Price.InexactFloat64(),
		PriceChange24hPct: q.PriceChange24hPct.InexactFloat64(),
		MarketCap:         q.MarketCap.InexactFloat64(),
		Volume24h:         q.Volume24h.InexactFloat64(),
		High24h:           q.High24h.InexactFloat64(),
		Low24h:            q.Low24h.InexactFloat64(),
		LastUpdated:       unix(q.LastUpdated),
	}
}

// EncodeFrame flattens and marshals a model frame.
func EncodeFrame(f model.Frame) ([]byte, error) {
	return json.Marshal(FromFrame(f))
}

// DecodeFrame parses a frame document.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if f.Type != TypeSeries && f.Type != TypeStatus {
		return Frame{}, fmt.Errorf("%w: unknown frame type %q", ErrBadMessage, f.Type)
	}
	return f, nil
}

// DecodeTimeframeRequest parses a subscriber message into a timeframe.
func DecodeTimeframeRequest(data []byte) (model.Timeframe, error) {
	var req TimeframeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	tf, err := model.ParseTimeframe(req.Timeframe)
	if err != nil {
		return "", err
	}
	return tf, nil
}

// EncodeTimeframeRequest marshals a timeframe switch message.
func EncodeTimeframeRequest(tf model.Timeframe) ([]byte, error) {
	return json.Marshal(TimeframeRequest{Timeframe: tf.String()})
}

// unix returns UNIX seconds, or 0 for the zero time.
func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

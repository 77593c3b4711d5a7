package history

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/web4389/Qubic-MarketView/internal/model"
)

// AppendTick derives the raw point for a fresh poll.
//
// The tick opens at the previous tail's close (or at the current price when there is
// no tail) and closes at the current price. It is a point sample, so no synthetic
// spread is added. Volume is a per-poll slice of the 24h volume and market cap is
// taken verbatim from the snapshot.
//
// The caller pushes the returned point and enforces capacity. A now earlier than the
// tail time is clamped to the tail time so the series stays non-decreasing.
func AppendTick(tail *model.RawPoint, snap model.Snapshot, now time.Time, tuning Tuning) model.RawPoint {
	open := snap.CurrentPrice
	if tail != nil {
		open = tail.Close
		if now.Before(tail.Time) {
			now = tail.Time
		}
	}
	closePrice := snap.CurrentPrice

	return model.RawPoint{
		Time:      now,
		Open:      open,
		High:      decimal.Max(open, closePrice),
		Low:       decimal.Min(open, closePrice),
		Close:     closePrice,
		Volume:    snap.TotalVolume24h.Div(tuning.MinutesPerDay).Div(tuning.PollsPerMinute),
		MarketCap: snap.MarketCap,
	}
}

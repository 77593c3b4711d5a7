// Package service provides core business logic components for the chart engine.
//
// The ChartService owns the retained raw series. It seeds the series from one provider
// snapshot, extends it by one tick per scheduled poll, and publishes an Update after every
// poll cycle. It is the only writer of the history buffer; polls are scheduled with
// SkipIfStillRunning so a slow fetch delays the next poll instead of overlapping it.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web4389/Qubic-MarketView/internal/candles"
	"github.com/web4389/Qubic-MarketView/internal/history"
	"github.com/web4389/Qubic-MarketView/internal/model"
)

// ErrServiceStopped is returned when starting a service that has already been stopped.
var ErrServiceStopped = errors.New("chart service has been stopped")

// SnapshotFetcher defines the interface for provider connectors.
type SnapshotFetcher interface {
	// FetchSnapshot performs one provider request.
	FetchSnapshot(ctx context.Context) (model.Snapshot, error)

	// Name identifies the provider in logs.
	Name() string
}

// LivenessReporter is notified whenever the outcome of a poll changes liveness.
type LivenessReporter interface {
	SetLive(live bool)
}

// ChartServiceConfig holds configuration parameters for the ChartService.
type ChartServiceConfig struct {
	Schedule     string         // Cron spec for polls, e.g. "@every 3s"
	FetchTimeout time.Duration  // Upper bound for one provider request
	Capacity     int            // Maximum number of retained raw points
	Tuning       history.Tuning // Synthesis and tick heuristics
	UpdateBuffer int            // Capacity of the updates channel
}

// ChartService fetches snapshots, maintains the raw series and emits updates.
type ChartService struct {
	cfg        ChartServiceConfig
	fetcher    SnapshotFetcher
	normalizer *history.Normalizer
	buffer     *history.Buffer
	updates    chan model.Update
	reporters  []LivenessReporter
	now        func() time.Time
	logger     zerolog.Logger

	live    atomic.Bool                // Outcome of the latest poll
	quote   atomic.Pointer[model.Quote] // Stats from the latest successful poll
	started atomic.Bool                // Atomic flag tracking service state
	stopped atomic.Bool                // Set once the updates channel is closed or about to be
	cancel  context.CancelFunc         // Function to cancel service context
}

// NewChartService creates a ChartService that has not been started.
//
// A nil source uses a time-seeded generator for synthetic volumes.
func NewChartService(cfg ChartServiceConfig, fetcher SnapshotFetcher, source history.RandSource) (*ChartService, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher cannot be nil")
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning: %w", err)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 3s"
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 16
	}

	return &ChartService{
		cfg:        cfg,
		fetcher:    fetcher,
		normalizer: history.NewNormalizer(cfg.Tuning, source),
		buffer:     history.NewBuffer(cfg.Capacity),
		updates:    make(chan model.Update, cfg.UpdateBuffer),
		now:        time.Now,
		logger:     log.With().Str("component", "chart").Str("provider", fetcher.Name()).Logger(),
	}, nil
}

// AddLivenessReporter registers r for liveness transitions. Call before Start.
func (cs *ChartService) AddLivenessReporter(r LivenessReporter) {
	cs.reporters = append(cs.reporters, r)
}

// Updates returns the channel of poll results. It is closed after Stop once the
// scheduler has drained.
func (cs *ChartService) Updates() <-chan model.Update {
	return cs.updates
}

// Live reports whether the most recent poll succeeded.
func (cs *ChartService) Live() bool {
	return cs.live.Load()
}

// Quote returns the stats of the latest successful poll.
func (cs *ChartService) Quote() (model.Quote, bool) {
	q := cs.quote.Load()
	if q == nil {
		return model.Quote{}, false
	}
	return *q, true
}

// Len returns the number of retained raw points.
func (cs *ChartService) Len() int {
	return cs.buffer.Len()
}

// Series aggregates the retained raw series into tf.
//
// Aggregation works on a copy, so it never blocks the poll job for longer than the copy.
func (cs *ChartService) Series(tf model.Timeframe) (model.TimeframeSeries, error) {
	if !tf.Valid() {
		return model.TimeframeSeries{}, fmt.Errorf("%w: %q", model.ErrUnsupportedTimeframe, tf)
	}
	return candles.Aggregate(cs.buffer.Points(), tf), nil
}

// Initialize seeds the buffer with synthetic history from one snapshot.
//
// On failure the buffer is left as it was and the error is returned; the service can
// keep polling and will build its series from live ticks alone.
func (cs *ChartService) Initialize(ctx context.Context) error {
	snap, err := cs.fetch(ctx)
	if err != nil {
		cs.fail(err)
		return err
	}
	cs.setQuote(snap)

	points, err := cs.normalizer.Synthesize(snap)
	if err != nil {
		cs.logger.Error().Err(err).Msg("failed to synthesize initial history")
		cs.setLive(true)
		cs.emit(model.Update{Kind: model.UpdateStatus, Live: true, Quote: cs.quote.Load(), At: cs.now()})
		return fmt.Errorf("initial history: %w", err)
	}

	cs.buffer.Replace(points)
	cs.setLive(true)
	cs.logger.Info().Int("points", cs.buffer.Len()).Msg("initial history loaded")
	cs.emitSeries()
	return nil
}

// Poll performs one poll cycle: fetch, append one tick, publish.
//
// A failed fetch mutates nothing and publishes a status-only update.
func (cs *ChartService) Poll(ctx context.Context) error {
	snap, err := cs.fetch(ctx)
	if err != nil {
		cs.fail(err)
		return err
	}
	cs.setQuote(snap)

	var tail *model.RawPoint
	if last, ok := cs.buffer.Last(); ok {
		tail = &last
	}
	point := history.AppendTick(tail, snap, cs.now(), cs.cfg.Tuning)
	cs.buffer.Push(point)
	cs.setLive(true)

	cs.logger.Debug().
		Str("close", point.Close.String()).
		Int("points", cs.buffer.Len()).
		Msg("tick appended")

	cs.emitSeries()
	return nil
}

// Start seeds the history and schedules polls until ctx is cancelled or Stop is called.
//
// A failed initial load is logged and does not prevent polling. The service is
// single-use: once stopped, Start fails because Updates has been closed.
func (cs *ChartService) Start(ctx context.Context) error {
	if cs.stopped.Load() {
		return ErrServiceStopped
	}
	if !cs.started.CompareAndSwap(false, true) {
		return errors.New("chart service has already started")
	}

	ctx, cancel := context.WithCancel(ctx)

	cronLogger := cs.logger.With().Str("component", "scheduler").Logger()
	scheduler := cron.New(
		cron.WithLogger(cron.PrintfLogger(&cronLogger)),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&cronLogger))),
	)
	if _, err := scheduler.AddFunc(cs.cfg.Schedule, func() {
		if err := cs.Poll(ctx); err != nil {
			cs.logger.Warn().Err(err).Msg("poll failed")
		}
	}); err != nil {
		cancel()
		cs.started.Store(false)
		return fmt.Errorf("invalid poll schedule %q: %w", cs.cfg.Schedule, err)
	}

	cs.cancel = cancel

	go func() {
		if err := cs.Initialize(ctx); err != nil {
			cs.logger.Error().Err(err).Msg("initial load failed, continuing with live ticks")
		}
		scheduler.Start()

		<-ctx.Done()
		cs.stopped.Store(true)
		// wait for a running poll so nothing writes to a closed channel
		<-scheduler.Stop().Done()
		close(cs.updates)
		cs.logger.Info().Msg("chart service stopped")
	}()

	return nil
}

// Stop gracefully shuts down the poll loop.
func (cs *ChartService) Stop() error {
	if !cs.started.Load() || !cs.stopped.CompareAndSwap(false, true) {
		return errors.New("service not running")
	}

	if cs.cancel != nil {
		cs.cancel()
		cs.cancel = nil
	}
	return nil
}

// fetch calls the provider under the configured timeout.
func (cs *ChartService) fetch(ctx context.Context) (model.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, cs.cfg.FetchTimeout)
	defer cancel()
	return cs.fetcher.FetchSnapshot(ctx)
}

// fail records a failed poll and publishes a status-only update.
func (cs *ChartService) fail(err error) {
	cs.logger.Warn().Err(err).Msg("snapshot fetch failed")
	cs.setLive(false)
	cs.emit(model.Update{Kind: model.UpdateStatus, Live: false, Quote: cs.quote.Load(), At: cs.now()})
}

func (cs *ChartService) setQuote(snap model.Snapshot) {
	q := model.QuoteFromSnapshot(snap)
	cs.quote.Store(&q)
}

// setLive stores live and notifies reporters on transitions.
func (cs *ChartService) setLive(live bool) {
	if cs.live.Swap(live) == live {
		return
	}
	cs.logger.Info().Bool("live", live).Msg("liveness changed")
	for _, r := range cs.reporters {
		r.SetLive(live)
	}
}

func (cs *ChartService) emitSeries() {
	cs.emit(model.Update{
		Kind:   model.UpdateSeries,
		Points: cs.buffer.Points(),
		Live:   true,
		Quote:  cs.quote.Load(),
		At:     cs.now(),
	})
}

// emit publishes u without blocking. When the channel is full the queue is drained and
// replaced by u alone. A status update that displaces a queued series is folded into it,
// so the consumer never loses the newest points.
func (cs *ChartService) emit(u model.Update) {
	select {
	case cs.updates <- u:
		return
	default:
	}

	var pending *model.Update
	for drained := false; !drained; {
		select {
		case old := <-cs.updates:
			if old.Kind == model.UpdateSeries {
				pending = &old
			}
		default:
			drained = true
		}
	}
	cs.logger.Debug().Msg("update consumer is too slow, dropping pending updates")

	if u.Kind == model.UpdateStatus && pending != nil {
		pending.Live = u.Live
		pending.Quote = u.Quote
		pending.At = u.At
		u = *pending
	}

	select {
	case cs.updates <- u:
	default:
		cs.logger.Warn().Msg("update channel full, dropping update")
	}
}

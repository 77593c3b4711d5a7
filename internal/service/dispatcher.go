// Package service provides core business logic components for the chart engine.
//
// The dispatcher component implements a fan-out message distribution system that turns
// poll updates into per-timeframe frames and delivers them to multiple subscribers while
// handling slow clients gracefully.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web4389/Qubic-MarketView/internal/candles"
	"github.com/web4389/Qubic-MarketView/internal/model"
)

var (
	// ErrTooManySubscribers is returned when MaxSubscribers would be exceeded.
	ErrTooManySubscribers = errors.New("too many subscribers")

	// ErrDispatcherStopped is returned by Subscribe once the dispatch loop has exited.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

// Subscriber represents a renderer subscribed to one timeframe at a time.
//
// Each subscriber maintains its own buffered channel for receiving frames. Every series
// frame is a full replacement, so a slow subscriber only ever loses stale frames.
type Subscriber struct {
	id        string           // Unique identifier for the subscriber
	ch        chan model.Frame // Buffered channel for frame delivery
	timeframe atomic.Value     // Currently selected model.Timeframe
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() string { return s.id }

// Frames returns the delivery channel. It is closed on unsubscribe or dispatcher shutdown.
func (s *Subscriber) Frames() <-chan model.Frame { return s.ch }

// Timeframe returns the currently selected timeframe.
func (s *Subscriber) Timeframe() model.Timeframe {
	return s.timeframe.Load().(model.Timeframe)
}

// DispatcherConfig holds configuration parameters for the Dispatcher.
type DispatcherConfig struct {
	MaxSubscribers   int             // Maximum concurrent subscribers to prevent resource abuse
	BufferSize       int             // Per-subscriber frame buffer
	DefaultTimeframe model.Timeframe // Used when a subscriber does not pick one
}

// timeframeChange is a request to move a subscriber to another timeframe.
type timeframeChange struct {
	sub       *Subscriber
	timeframe model.Timeframe
}

// Dispatcher implements a fan-out message distribution system for chart frames.
//
// The dispatcher uses the actor model pattern where a single goroutine owns and manages
// all shared state (subscribers map, latest raw series, aggregation cache), eliminating
// the need for mutexes. External interactions happen through channels.
type Dispatcher struct {
	cfg              DispatcherConfig       // Configuration parameters
	subscribers      map[string]*Subscriber // Active subscribers (owned by dispatch goroutine)
	subscriptionCh   chan *Subscriber       // Channel for new subscription requests
	unsubscriptionCh chan *Subscriber       // Channel for unsubscription requests
	changeCh         chan timeframeChange   // Channel for timeframe switches
	started          atomic.Bool            // Atomic flag tracking dispatcher state
	stopMu           sync.Mutex             // Orders enqueued subscriptions against shutdown
	stopped          bool                   // Set by the dispatch goroutine on exit (guarded by stopMu)
	count            atomic.Int64           // Number of admitted subscribers
	logger           zerolog.Logger         // Component logger

	// State of the latest update (owned by dispatch goroutine)
	hasData   bool                                       // Whether any update has been received
	hasSeries bool                                       // Whether a series update has been received
	kind      model.UpdateKind                           // Kind of the latest update
	points    []model.RawPoint                           // Raw series of the latest series update
	live      bool                                       // Liveness from the latest update
	quote     *model.Quote                               // Stats from the latest update
	at        time.Time                                  // Time of the latest update
	cache     map[model.Timeframe]*model.TimeframeSeries // Aggregations of points, per timeframe
}

// NewDispatcher creates a new Dispatcher instance with the provided configuration.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 8
	}
	if !cfg.DefaultTimeframe.Valid() {
		cfg.DefaultTimeframe = model.DefaultTimeframe
	}

	return &Dispatcher{
		cfg:              cfg,
		subscribers:      make(map[string]*Subscriber),
		subscriptionCh:   make(chan *Subscriber, 10), // Buffered to prevent blocking
		unsubscriptionCh: make(chan *Subscriber, 10), // Buffered to prevent blocking
		changeCh:         make(chan timeframeChange, 10),
		cache:            make(map[model.Timeframe]*model.TimeframeSeries),
		logger:           log.With().Str("component", "dispatcher").Logger(),
	}
}

// Subscribe creates a new subscription for tf. An empty tf selects the default timeframe.
//
// The subscriber immediately receives the latest frame for its timeframe, if any.
func (b *Dispatcher) Subscribe(tf model.Timeframe) (*Subscriber, error) {
	if !b.started.Load() {
		return nil, errors.New("dispatcher not started")
	}

	if tf == "" {
		tf = b.cfg.DefaultTimeframe
	}
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedTimeframe, tf)
	}

	b.stopMu.Lock()
	defer b.stopMu.Unlock()
	if b.stopped {
		return nil, ErrDispatcherStopped
	}

	if n := b.count.Add(1); b.cfg.MaxSubscribers > 0 && n > int64(b.cfg.MaxSubscribers) {
		b.count.Add(-1)
		return nil, fmt.Errorf("%w: limit is %d", ErrTooManySubscribers, b.cfg.MaxSubscribers)
	}

	sub := &Subscriber{
		id: uuid.NewString(),
		ch: make(chan model.Frame, b.cfg.BufferSize),
	}
	sub.timeframe.Store(tf)

	// write to channel, return error if blocked
	select {
	case b.subscriptionCh <- sub:
	default:
		b.count.Add(-1)
		return nil, fmt.Errorf("subscription channel is full")
	}

	return sub, nil
}

// Unsubscribe removes a subscriber from the dispatcher. After shutdown it is a no-op,
// every subscription having been closed already.
func (b *Dispatcher) Unsubscribe(sub *Subscriber) error {
	if sub == nil {
		return errors.New("subscriber cannot be nil")
	}
	if b.isStopped() {
		return nil
	}

	// write to channel, return error if blocked
	select {
	case b.unsubscriptionCh <- sub:
		return nil
	default:
		return fmt.Errorf("unsubscription channel is full")
	}
}

// ChangeTimeframe switches sub to tf. The retained series is re-aggregated; nothing is re-fetched.
func (b *Dispatcher) ChangeTimeframe(sub *Subscriber, tf model.Timeframe) error {
	if sub == nil {
		return errors.New("subscriber cannot be nil")
	}
	if !tf.Valid() {
		return fmt.Errorf("%w: %q", model.ErrUnsupportedTimeframe, tf)
	}
	if b.isStopped() {
		return ErrDispatcherStopped
	}

	select {
	case b.changeCh <- timeframeChange{sub: sub, timeframe: tf}:
		return nil
	default:
		return fmt.Errorf("timeframe change channel is full")
	}
}

func (b *Dispatcher) isStopped() bool {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()
	return b.stopped
}

// Count returns the number of admitted subscribers.
func (b *Dispatcher) Count() int {
	return int(b.count.Load())
}

// StartDispatching starts the main dispatcher goroutine that handles all subscriber management
// and frame distribution.
//
// The goroutine processes requests from four sources:
//  1. Context cancellation for graceful shutdown
//  2. Subscription/unsubscription requests via channels
//  3. Timeframe switches
//  4. Incoming poll updates for aggregation and distribution
func (b *Dispatcher) StartDispatching(ctx context.Context, updateCh <-chan model.Update) error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.New("dispatcher already started")
	}

	go func() {

		defer func() {
			// Cleanup on shutdown
			b.stopMu.Lock()
			b.stopped = true
			b.stopMu.Unlock()

			for _, sub := range b.subscribers {
				close(sub.ch)
			}
			// requests queued before stopped was set are never subscribed
			for drained := false; !drained; {
				select {
				case sub := <-b.subscriptionCh:
					close(sub.ch)
				default:
					drained = true
				}
			}
			b.subscribers = make(map[string]*Subscriber)
			b.count.Store(0)
		}()

		for {
			select {
			case <-ctx.Done():
				b.logger.Info().Msg("dispatcher stopped")
				return
			case sub := <-b.subscriptionCh:
				b.subscribe(sub)
			case sub := <-b.unsubscriptionCh:
				b.unsubscribe(sub)
			case change := <-b.changeCh:
				b.changeTimeframe(change)
			case update, ok := <-updateCh:
				if !ok {
					// source stopped; keep serving subscribers until ctx is done
					updateCh = nil
					continue
				}
				b.apply(update)
				b.dispatch()
			}
		}
	}()
	return nil
}

// subscribe is an internal method that adds a subscriber and replays the latest frame.
func (b *Dispatcher) subscribe(sub *Subscriber) {
	b.subscribers[sub.id] = sub
	b.logger.Debug().Str("subscriber", sub.id).Str("timeframe", sub.Timeframe().String()).Msg("subscriber added")
	b.replay(sub)
}

// unsubscribe is an internal method that removes a subscriber and cleans up resources.
func (b *Dispatcher) unsubscribe(sub *Subscriber) {
	if _, ok := b.subscribers[sub.id]; ok {
		delete(b.subscribers, sub.id)
		close(sub.ch)
		b.count.Add(-1)
		b.logger.Debug().Str("subscriber", sub.id).Msg("subscriber removed")
	}
}

// changeTimeframe is an internal method that moves a subscriber and replays its new view.
func (b *Dispatcher) changeTimeframe(change timeframeChange) {
	sub, ok := b.subscribers[change.sub.id]
	if !ok {
		return
	}
	sub.timeframe.Store(change.timeframe)
	b.replay(sub)
}

// apply records the state carried by an update.
//
// A series update replaces the raw series and invalidates every cached aggregation.
// A status update only changes liveness and stats; the previous series stays valid.
func (b *Dispatcher) apply(u model.Update) {
	b.hasData = true
	b.kind = u.Kind
	b.live = u.Live
	b.at = u.At
	if u.Quote != nil {
		b.quote = u.Quote
	}

	if u.Kind == model.UpdateSeries {
		b.hasSeries = true
		b.points = u.Points
		b.cache = make(map[model.Timeframe]*model.TimeframeSeries)
	}
}

// dispatch distributes the latest update to all subscribers.
//
// This method is only called from within the dispatcher goroutine. Each timeframe is
// aggregated at most once per update, however many subscribers share it.
func (b *Dispatcher) dispatch() {
	status := b.kind == model.UpdateStatus
	for _, sub := range b.subscribers {
		if status {
			b.deliver(sub, b.statusFrame(sub.Timeframe()))
			continue
		}
		b.deliver(sub, b.seriesFrame(sub.Timeframe()))
	}
}

// replay sends the latest known state to one subscriber.
func (b *Dispatcher) replay(sub *Subscriber) {
	if !b.hasData {
		return
	}
	if !b.hasSeries {
		b.deliver(sub, b.statusFrame(sub.Timeframe()))
		return
	}
	b.deliver(sub, b.seriesFrame(sub.Timeframe()))
}

// seriesFrame builds a full-replacement frame for tf, aggregating on first use.
// The series is shared between subscribers and must be treated as read-only.
func (b *Dispatcher) seriesFrame(tf model.Timeframe) model.Frame {
	series, ok := b.cache[tf]
	if !ok {
		s := candles.Aggregate(b.points, tf)
		series = &s
		b.cache[tf] = series
	}
	return model.Frame{Timeframe: tf, Live: b.live, Series: series, Quote: b.quote, At: b.at}
}

// statusFrame builds a liveness-only frame for tf.
func (b *Dispatcher) statusFrame(tf model.Timeframe) model.Frame {
	return model.Frame{Timeframe: tf, Live: b.live, Quote: b.quote, At: b.at}
}

// deliver sends a frame to a subscriber.
//
// Behavior for slow clients:
//   - If subscriber channel is full, drops oldest buffered frame
//   - Ensures new frame is always delivered (replacing oldest)
func (b *Dispatcher) deliver(sub *Subscriber, frame model.Frame) {
	select {
	case sub.ch <- frame:
		// Successfully delivered without blocking
	default:
		// channel full → drop oldest frame for slow client
		b.logger.Info().Str("subscriber", sub.id).Msg("subscriber is too slow, dropping oldest buffered frame")
		select {
		case <-sub.ch: // Remove oldest frame
		default:
		}
		select {
		case sub.ch <- frame: // Add new frame
		default:
		}
	}
}

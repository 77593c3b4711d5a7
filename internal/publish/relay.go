package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web4389/Qubic-MarketView/internal/model"
	"github.com/web4389/Qubic-MarketView/internal/service"
	"github.com/web4389/Qubic-MarketView/internal/wire"
)

const defaultPublishTimeout = 2 * time.Second

// FrameSource hands out frame subscriptions.
type FrameSource interface {
	Subscribe(tf model.Timeframe) (*service.Subscriber, error)
	Unsubscribe(sub *service.Subscriber) error
}

// RelayConfig configures a Relay.
type RelayConfig struct {
	Prefix         string            // Channel prefix; frames go to "{Prefix}:{timeframe}"
	Timeframes     []model.Timeframe // Timeframes to relay
	PublishTimeout time.Duration     // Bound for each publish call
}

// Relay subscribes to a frame source once per timeframe and forwards every frame.
type Relay struct {
	cfg       RelayConfig
	source    FrameSource
	publisher Publisher
	started   atomic.Bool
	published atomic.Int64
	failed    atomic.Int64
	logger    zerolog.Logger
}

// NewRelay validates cfg and creates a relay.
func NewRelay(cfg RelayConfig, source FrameSource, publisher Publisher) (*Relay, error) {
	if source == nil || publisher == nil {
		return nil, errors.New("frame source and publisher are required")
	}
	if cfg.Prefix == "" {
		return nil, errors.New("channel prefix is required")
	}
	if len(cfg.Timeframes) == 0 {
		return nil, errors.New("at least one timeframe is required")
	}
	for _, tf := range cfg.Timeframes {
		if !tf.Valid() {
			return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedTimeframe, tf)
		}
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	return &Relay{
		cfg:       cfg,
		source:    source,
		publisher: publisher,
		logger:    log.With().Str("component", "relay").Logger(),
	}, nil
}

// Channel returns the channel name frames of tf are published to.
func (r *Relay) Channel(tf model.Timeframe) string {
	return r.cfg.Prefix + ":" + tf.String()
}

// Published returns the number of frames delivered so far.
func (r *Relay) Published() int64 { return r.published.Load() }

// Failed returns the number of frames the publisher rejected.
func (r *Relay) Failed() int64 { return r.failed.Load() }

// Run relays frames until ctx is cancelled or the source closes every subscription.
func (r *Relay) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("relay already started")
	}

	subs := make([]*service.Subscriber, 0, len(r.cfg.Timeframes))
	for _, tf := range r.cfg.Timeframes {
		sub, err := r.source.Subscribe(tf)
		if err != nil {
			for _, s := range subs {
				_ = r.source.Unsubscribe(s)
			}
			return fmt.Errorf("subscribe %s: %w", tf, err)
		}
		subs = append(subs, sub)
	}

	r.logger.Info().Str("prefix", r.cfg.Prefix).Int("timeframes", len(subs)).Msg("relay started")

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *service.Subscriber) {
			defer wg.Done()
			r.forward(ctx, sub)
		}(sub)
	}
	wg.Wait()

	for _, sub := range subs {
		if err := r.source.Unsubscribe(sub); err != nil {
			r.logger.Debug().Err(err).Msg("unsubscribe failed")
		}
	}
	r.logger.Info().Int64("published", r.Published()).Int64("failed", r.Failed()).Msg("relay stopped")
	return nil
}

func (r *Relay) forward(ctx context.Context, sub *service.Subscriber) {
	channel := r.Channel(sub.Timeframe())
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			data, err := wire.EncodeFrame(frame)
			if err != nil {
				r.logger.Error().Err(err).Msg("failed to encode frame")
				continue
			}

			pubCtx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
			err = r.publisher.Publish(pubCtx, channel, data)
			cancel()
			if err != nil {
				r.failed.Add(1)
				r.logger.Warn().Err(err).Str("channel", channel).Msg("publish failed")
				continue
			}
			r.published.Add(1)
		}
	}
}

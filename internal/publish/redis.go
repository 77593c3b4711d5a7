// Package publish relays chart frames to Redis so other processes can consume them.
//
// One Redis channel per relayed timeframe receives every frame as the same JSON document
// the push endpoint sends. The latest frame of each channel is also kept under a
// "{channel}:latest" key for consumers that join between polls.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultLatestTTL   = 10 * time.Minute
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// Publisher delivers encoded frames to a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Close() error
}

// RedisConfig holds connection settings for RedisPublisher.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	LatestTTL   time.Duration // Lifetime of the "{channel}:latest" key
}

// RedisPublisher publishes frames with PUBLISH and caches the latest one with SET.
type RedisPublisher struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisPublisher connects to Redis and verifies the connection with PING.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = defaultLatestTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
		MaxRetries:  2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	logger := log.With().Str("component", "redis").Str("addr", cfg.Addr).Logger()
	logger.Info().Int("db", cfg.DB).Msg("connected to redis")

	return &RedisPublisher{client: client, ttl: cfg.LatestTTL, logger: logger}, nil
}

// Publish sends payload to channel and stores it as the channel's latest frame.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, channel, payload)
		pipe.Set(ctx, channel+":latest", payload, p.ttl)
		return nil
	})
	if errors.Is(err, redis.ErrClosed) {
		return ErrPublisherClosed
	}
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Close releases the connection pool.
func (p *RedisPublisher) Close() error {
	p.logger.Info().Msg("closing redis connection")
	return p.client.Close()
}

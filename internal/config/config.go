// Package config loads the service configuration.
//
// Values come from an optional YAML file, then environment variables (optionally seeded
// from a .env file), then built-in defaults for anything still unset. Command-line flags
// are applied by the binaries on top of the loaded Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/web4389/Qubic-MarketView/internal/history"
	"github.com/web4389/Qubic-MarketView/internal/model"
)

// Supported snapshot providers.
const (
	ProviderCoinGecko = "coingecko"
	ProviderBinance   = "binance"
)

// Config holds all application configuration.
type Config struct {
	Source struct {
		Provider   string        `yaml:"provider"`
		CoinID     string        `yaml:"coin_id"`
		VsCurrency string        `yaml:"vs_currency"`
		Pair       string        `yaml:"pair"`
		BaseURL    string        `yaml:"base_url"`
		APIKey     string        `yaml:"api_key"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"source"`
	Poll struct {
		Schedule string `yaml:"schedule"`
	} `yaml:"poll"`
	History struct {
		Capacity         int           `yaml:"capacity"`
		Lookback         time.Duration `yaml:"lookback"`
		SpreadFactor     float64       `yaml:"spread_factor"`
		VolumeJitterMin  float64       `yaml:"volume_jitter_min"`
		VolumeJitterSpan float64       `yaml:"volume_jitter_span"`
		MinutesPerDay    float64       `yaml:"minutes_per_day"`
		PollsPerMinute   float64       `yaml:"polls_per_minute"`
	} `yaml:"history"`
	Server struct {
		HTTPAddr         string `yaml:"http_addr"`
		GRPCAddr         string `yaml:"grpc_addr"`
		DefaultTimeframe string `yaml:"default_timeframe"`
		MaxSubscribers   int    `yaml:"max_subscribers"`
	} `yaml:"server"`
	Redis struct {
		Addr          string   `yaml:"addr"`
		Password      string   `yaml:"password"`
		DB            int      `yaml:"db"`
		ChannelPrefix string   `yaml:"channel_prefix"`
		Timeframes    []string `yaml:"timeframes"`
	} `yaml:"redis"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// LoadEnvFile seeds the process environment from a .env file.
// A missing file is not an error; existing variables are never overwritten.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads config from a YAML file, then applies environment variable overrides and defaults.
// A missing file yields a configuration built from the environment and defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	// tuning accepts explicit zeros, so its defaults go in before decoding
	cfg.seedTuning()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("MARKETVIEW_PROVIDER"); v != "" {
		c.Source.Provider = v
	}
	if v := os.Getenv("MARKETVIEW_COIN_ID"); v != "" {
		c.Source.CoinID = v
	}
	if v := os.Getenv("MARKETVIEW_VS_CURRENCY"); v != "" {
		c.Source.VsCurrency = v
	}
	if v := os.Getenv("MARKETVIEW_PAIR"); v != "" {
		c.Source.Pair = v
	}
	if v := os.Getenv("MARKETVIEW_BASE_URL"); v != "" {
		c.Source.BaseURL = v
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		c.Source.APIKey = v
	}
	if v := os.Getenv("MARKETVIEW_SOURCE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MARKETVIEW_SOURCE_TIMEOUT: %w", err)
		}
		c.Source.Timeout = d
	}
	if v := os.Getenv("POLL_SCHEDULE"); v != "" {
		c.Poll.Schedule = v
	}
	if v := os.Getenv("HISTORY_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HISTORY_CAPACITY: %w", err)
		}
		c.History.Capacity = n
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.Server.HTTPAddr = v
	}
	if v := os.Getenv("GRPC_ADDR"); v != "" {
		c.Server.GRPCAddr = v
	}
	if v := os.Getenv("DEFAULT_TIMEFRAME"); v != "" {
		c.Server.DefaultTimeframe = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.Redis.DB = n
	}
	if v := os.Getenv("REDIS_TIMEFRAMES"); v != "" {
		c.Redis.Timeframes = splitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// seedTuning sets the tuning constants whose zero value is meaningful.
func (c *Config) seedTuning() {
	defaults := history.DefaultTuning()
	c.History.SpreadFactor = defaults.SpreadFactor.InexactFloat64()
	c.History.VolumeJitterMin = defaults.VolumeJitterMin.InexactFloat64()
	c.History.VolumeJitterSpan = defaults.VolumeJitterSpan.InexactFloat64()
	c.History.MinutesPerDay = defaults.MinutesPerDay.InexactFloat64()
	c.History.PollsPerMinute = defaults.PollsPerMinute.InexactFloat64()
}

// applyDefaults fills every unset value.
func (c *Config) applyDefaults() {
	if c.Source.Provider == "" {
		c.Source.Provider = ProviderCoinGecko
	}
	if c.Source.CoinID == "" {
		c.Source.CoinID = "qubic-network"
	}
	if c.Source.VsCurrency == "" {
		c.Source.VsCurrency = "usd"
	}
	if c.Source.Pair == "" {
		c.Source.Pair = "BTC-USDT"
	}
	if c.Source.Timeout <= 0 {
		c.Source.Timeout = 10 * time.Second
	}
	if c.Poll.Schedule == "" {
		c.Poll.Schedule = "@every 3s"
	}

	defaults := history.DefaultTuning()
	if c.History.Capacity <= 0 {
		c.History.Capacity = history.DefaultCapacity
	}
	if c.History.Lookback <= 0 {
		c.History.Lookback = defaults.Lookback
	}

	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = ":50051"
	}
	if c.Server.DefaultTimeframe == "" {
		c.Server.DefaultTimeframe = string(model.DefaultTimeframe)
	}
	if c.Server.MaxSubscribers <= 0 {
		c.Server.MaxSubscribers = 100
	}

	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = "marketview:frames"
	}
	if len(c.Redis.Timeframes) == 0 {
		c.Redis.Timeframes = []string{string(model.DefaultTimeframe)}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks that all values are usable.
func (c *Config) Validate() error {
	switch c.Source.Provider {
	case ProviderCoinGecko, ProviderBinance:
	default:
		return fmt.Errorf("source.provider must be %q or %q, got %q", ProviderCoinGecko, ProviderBinance, c.Source.Provider)
	}
	if _, err := cron.ParseStandard(c.Poll.Schedule); err != nil {
		return fmt.Errorf("poll.schedule: %w", err)
	}
	if err := c.Tuning().Validate(); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if _, err := model.ParseTimeframe(c.Server.DefaultTimeframe); err != nil {
		return fmt.Errorf("server.default_timeframe: %w", err)
	}
	if _, err := c.RedisTimeframes(); err != nil {
		return fmt.Errorf("redis.timeframes: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Tuning converts the history section into synthesis constants.
func (c *Config) Tuning() history.Tuning {
	return history.Tuning{
		Lookback:         c.History.Lookback,
		SpreadFactor:     decimal.NewFromFloat(c.History.SpreadFactor),
		VolumeJitterMin:  decimal.NewFromFloat(c.History.VolumeJitterMin),
		VolumeJitterSpan: decimal.NewFromFloat(c.History.VolumeJitterSpan),
		MinutesPerDay:    decimal.NewFromFloat(c.History.MinutesPerDay),
		PollsPerMinute:   decimal.NewFromFloat(c.History.PollsPerMinute),
	}
}

// DefaultTimeframe returns the parsed server default timeframe, falling back to 1h.
func (c *Config) DefaultTimeframe() model.Timeframe {
	tf, err := model.ParseTimeframe(c.Server.DefaultTimeframe)
	if err != nil {
		return model.DefaultTimeframe
	}
	return tf
}

// RedisTimeframes returns the timeframes relayed to Redis.
func (c *Config) RedisTimeframes() ([]model.Timeframe, error) {
	out := make([]model.Timeframe, 0, len(c.Redis.Timeframes))
	for _, s := range c.Redis.Timeframes {
		tf, err := model.ParseTimeframe(s)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

// RedisEnabled reports whether a relay should be started.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

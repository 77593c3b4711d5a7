/*
Package main runs the market view server.

The server polls a market-data provider on a cron schedule, keeps a bounded raw price
series seeded with synthetic history, and streams candlestick frames for any supported
timeframe to WebSocket subscribers. It also serves a one-shot series endpoint, a JSON
health probe, gRPC health checks, and optionally relays frames to Redis.

Usage:

	go run ./cmd/server -config=config.yaml -env=.env -provider=coingecko

Configuration comes from the YAML file, then the environment, then flags.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/web4389/Qubic-MarketView/internal/config"
	"github.com/web4389/Qubic-MarketView/internal/exchange"
	"github.com/web4389/Qubic-MarketView/internal/publish"
	"github.com/web4389/Qubic-MarketView/internal/server"
	"github.com/web4389/Qubic-MarketView/internal/service"
	"github.com/web4389/Qubic-MarketView/internal/websocket"
)

// Command-line flags; non-empty values override the loaded configuration.
var (
	configPath = flag.String("config", "", "Path to a YAML configuration file")
	envPath    = flag.String("env", ".env", "Path to a .env file (missing file is ignored)")
	httpAddr   = flag.String("http", "", "HTTP listen address")
	grpcAddr   = flag.String("grpc", "", "gRPC health listen address")
	provider   = flag.String("provider", "", "Snapshot provider: coingecko or binance")
)

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	level, _ := zerolog.ParseLevel(cfg.Log.Level)
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher, err := newFetcher(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create snapshot provider")
	}

	chart, err := service.NewChartService(service.ChartServiceConfig{
		Schedule:     cfg.Poll.Schedule,
		FetchTimeout: cfg.Source.Timeout,
		Capacity:     cfg.History.Capacity,
		Tuning:       cfg.Tuning(),
	}, fetcher, rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create chart service")
	}

	healthServer := health.NewServer()
	healthReporter := service.NewHealthReporter(healthServer)
	chart.AddLivenessReporter(healthReporter)

	relayTimeframes, _ := cfg.RedisTimeframes()
	maxSubscribers := cfg.Server.MaxSubscribers
	if cfg.RedisEnabled() {
		// relay subscriptions do not count against client slots
		maxSubscribers += len(relayTimeframes)
	}
	dispatcher := service.NewDispatcher(service.DispatcherConfig{
		MaxSubscribers:   maxSubscribers,
		DefaultTimeframe: cfg.DefaultTimeframe(),
	})
	if err := dispatcher.StartDispatching(ctx, chart.Updates()); err != nil {
		log.Fatal().Err(err).Msg("failed to start dispatcher")
	}

	if err := chart.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start chart service")
	}
	defer chart.Stop()

	var wg sync.WaitGroup
	if cfg.RedisEnabled() {
		relay, err := newRelay(ctx, cfg, dispatcher)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start redis relay")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(ctx); err != nil {
				log.Error().Err(err).Msg("redis relay stopped")
			}
		}()
	}

	push := websocket.NewHandler(dispatcher, websocket.ServerConfig{})
	httpServer, err := server.New(server.Config{
		Addr:             cfg.Server.HTTPAddr,
		DefaultTimeframe: cfg.DefaultTimeframe(),
	}, chart, dispatcher, push)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create http server")
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen")
	}
	s := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			MaxConnectionAge:  30 * time.Minute,
			Time:              20 * time.Second,
			Timeout:           10 * time.Second,
		}),
	)
	grpc_health_v1.RegisterHealthServer(s, healthServer)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("initiating graceful shutdown")
		healthReporter.Shutdown()
		cancel()
		if err := httpServer.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
		s.GracefulStop()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", cfg.Server.GRPCAddr).Msg("grpc health server starting")
		if err := s.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc server failed")
			cancel()
		}
	}()

	log.Info().
		Str("provider", fetcher.Name()).
		Str("schedule", cfg.Poll.Schedule).
		Str("defaultTimeframe", cfg.DefaultTimeframe().String()).
		Int("capacity", cfg.History.Capacity).
		Msg("server starting")

	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("failed to serve")
	}
	wg.Wait()
	log.Info().Msg("server stopped")
}

// loadConfig reads file, environment and flags, in that order.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(*envPath); err != nil {
		return nil, err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}
	if *grpcAddr != "" {
		cfg.Server.GRPCAddr = *grpcAddr
	}
	if *provider != "" {
		cfg.Source.Provider = *provider
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newFetcher builds the configured snapshot provider.
func newFetcher(cfg *config.Config) (service.SnapshotFetcher, error) {
	ecfg := &exchange.ExchangeConfig{
		BaseURL: cfg.Source.BaseURL,
		Timeout: cfg.Source.Timeout,
		APIKey:  cfg.Source.APIKey,
	}
	switch cfg.Source.Provider {
	case config.ProviderCoinGecko:
		return exchange.NewCoinGeckoConnector(ecfg, cfg.Source.CoinID, cfg.Source.VsCurrency)
	case config.ProviderBinance:
		return exchange.NewBinanceConnector(ecfg, cfg.Source.Pair)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Source.Provider)
	}
}

// newRelay connects to Redis and prepares the frame relay.
func newRelay(ctx context.Context, cfg *config.Config, source publish.FrameSource) (*publish.Relay, error) {
	timeframes, err := cfg.RedisTimeframes()
	if err != nil {
		return nil, err
	}
	pub, err := publish.NewRedisPublisher(ctx, publish.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = pub.Close()
	}()
	return publish.NewRelay(publish.RelayConfig{
		Prefix:     cfg.Redis.ChannelPrefix,
		Timeframes: timeframes,
	}, source, pub)
}

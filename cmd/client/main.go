/*
Package main implements a terminal renderer for the market view server.

The client subscribes to the push endpoint for one timeframe and logs the latest candle
and the stats panel of every frame. Before subscribing it can query the gRPC health
service to report whether the feed is live.

Usage:

	go run ./cmd/client -url=ws://localhost:8080/ws -timeframe=5m -health=localhost:50051

While running, typing a timeframe label (for example "15m") on stdin switches timeframes.
*/
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/web4389/Qubic-MarketView/internal/model"
	"github.com/web4389/Qubic-MarketView/internal/service"
	"github.com/web4389/Qubic-MarketView/internal/websocket"
	"github.com/web4389/Qubic-MarketView/internal/wire"
)

// Command-line flags for configuring the client connection and subscription
var (
	endpoint   = flag.String("url", "ws://localhost:8080/ws", "Push endpoint URL")
	timeframe  = flag.String("timeframe", "", "Initial timeframe (server default when empty)")
	healthAddr = flag.String("health", "", "gRPC health address; empty skips the check")
)

func main() {
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(zerolog.InfoLevel).With().Timestamp().Logger()

	target, err := validateConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	if *healthAddr != "" {
		status, err := checkHealth(ctx, *healthAddr)
		if err != nil {
			log.Warn().Err(err).Msg("health check failed")
		} else {
			log.Info().Str("status", status.String()).Msg("feed health")
		}
	}

	client, err := websocket.NewWebsocketClient(ctx, websocket.Config{Endpoint: target})
	if err != nil {
		log.Fatal().Err(err).Msg("could not subscribe")
	}
	defer client.Close()

	go readTimeframes(ctx, client, log)

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-client.ErrChan():
			log.Info().Err(err).Msg("stream has closed")
			return
		case f, ok := <-client.FrameChan:
			if !ok {
				log.Info().Msg("stream has closed")
				return
			}
			logFrame(log, f)
		}
	}
}

// logFrame prints the newest candle and the stats panel.
func logFrame(log zerolog.Logger, f wire.Frame) {
	event := log.Info().
		Str("type", f.Type).
		Str("timeframe", f.Timeframe).
		Bool("live", f.Live)

	if f.Series != nil && len(f.Series.Candles) > 0 {
		c := f.Series.Candles[len(f.Series.Candles)-1]
		event = event.
			Int("candles", len(f.Series.Candles)).
			Str("start_time", time.Unix(c.Time, 0).Format(time.RFC3339)).
			Float64("open", c.Open).
			Float64("high", c.High).
			Float64("low", c.Low).
			Float64("close", c.Close).
			Float64("volume", c.Volume)
	}
	if f.Quote != nil {
		event = event.
			Str("symbol", f.Quote.Symbol).
			Float64("price", f.Quote.Price).
			Float64("change24h", f.Quote.PriceChange24hPct).
			Float64("marketCap", f.Quote.MarketCap)
	}
	event.Msg("received frame")
}

// readTimeframes switches timeframe for every valid label typed on stdin.
func readTimeframes(ctx context.Context, client *websocket.Client, log zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() && ctx.Err() == nil {
		tf, err := model.ParseTimeframe(scanner.Text())
		if err != nil {
			log.Warn().Err(err).Msg("ignoring input")
			continue
		}
		if err := client.SelectTimeframe(tf); err != nil {
			log.Error().Err(err).Msg("failed to switch timeframe")
			return
		}
	}
}

// checkHealth queries the chart health service once.
func checkHealth(ctx context.Context, addr string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{
		Service: service.HealthServiceName,
	})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// validateConfig checks flags and returns the endpoint with the timeframe query applied.
func validateConfig() (string, error) {
	if *endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}
	u, err := url.Parse(*endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("endpoint scheme must be ws or wss, got %q", u.Scheme)
	}
	if tf := strings.TrimSpace(*timeframe); tf != "" {
		parsed, err := model.ParseTimeframe(tf)
		if err != nil {
			return "", err
		}
		q := u.Query()
		q.Set("timeframe", parsed.String())
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Package server exposes the chart over HTTP: the push endpoint, a one-shot series
// endpoint for renderers that poll, and a JSON health probe.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web4389/Qubic-MarketView/internal/model"
	"github.com/web4389/Qubic-MarketView/internal/wire"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

// ChartReader is the read side of the chart engine.
type ChartReader interface {
	Series(tf model.Timeframe) (model.TimeframeSeries, error)
	Live() bool
	Quote() (model.Quote, bool)
	Len() int
}

// SubscriberCounter reports the number of connected push subscribers.
type SubscriberCounter interface {
	Count() int
}

// Config holds HTTP server settings.
type Config struct {
	Addr              string
	DefaultTimeframe  model.Timeframe
	ReadHeaderTimeout time.Duration
}

// Health is the body of GET /healthz.
type Health struct {
	Live        bool   `json:"live"`
	Points      int    `json:"points"`
	Subscribers int    `json:"subscribers"`
	Status      string `json:"status"`
}

// Server serves the chart endpoints.
type Server struct {
	cfg         Config
	chart       ChartReader
	subscribers SubscriberCounter
	httpServer  *http.Server
	logger      zerolog.Logger
}

// New builds a server. push handles /ws and may be nil to disable the push endpoint.
func New(cfg Config, chart ChartReader, subscribers SubscriberCounter, push http.Handler) (*Server, error) {
	if chart == nil {
		return nil, errors.New("chart reader is required")
	}
	if cfg.Addr == "" {
		return nil, errors.New("listen address is required")
	}
	if !cfg.DefaultTimeframe.Valid() {
		cfg.DefaultTimeframe = model.DefaultTimeframe
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}

	s := &Server{
		cfg:         cfg,
		chart:       chart,
		subscribers: subscribers,
		logger:      log.With().Str("component", "http").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/series", s.handleSeries)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if push != nil {
		mux.Handle("GET /ws", push)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s, nil
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks until the server is shut down. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("http server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
//
// Hijacked push connections are not tracked by net/http; they end when the dispatcher
// closes their subscriptions.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// handleSeries returns the current frame for ?timeframe= (default when absent).
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	tf := s.cfg.DefaultTimeframe
	if q := r.URL.Query().Get("timeframe"); q != "" {
		parsed, err := model.ParseTimeframe(q)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
			return
		}
		tf = parsed
	}

	series, err := s.chart.Series(tf)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
		return
	}

	frame := model.Frame{
		Timeframe: tf,
		Live:      s.chart.Live(),
		Series:    &series,
		At:        time.Now(),
	}
	if q, ok := s.chart.Quote(); ok {
		frame.Quote = &q
	}
	writeJSON(w, http.StatusOK, wire.FromFrame(frame))
}

// handleHealth reports liveness. A stale feed still answers 200; the body says so.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := Health{
		Live:   s.chart.Live(),
		Points: s.chart.Len(),
		Status: "stale",
	}
	if h.Live {
		h.Status = "live"
	}
	if s.subscribers != nil {
		h.Subscribers = s.subscribers.Count()
	}
	writeJSON(w, http.StatusOK, h)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

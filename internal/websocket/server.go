package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web4389/Qubic-MarketView/internal/model"
	"github.com/web4389/Qubic-MarketView/internal/service"
	"github.com/web4389/Qubic-MarketView/internal/wire"
)

// FrameSource hands out per-connection frame subscriptions.
type FrameSource interface {
	Subscribe(tf model.Timeframe) (*service.Subscriber, error)
	Unsubscribe(sub *service.Subscriber) error
	ChangeTimeframe(sub *service.Subscriber, tf model.Timeframe) error
}

// ServerConfig defines settings for the push endpoint.
type ServerConfig struct {
	// PingPeriod is the interval between server pings. Clients missing two pongs are dropped.
	PingPeriod time.Duration

	// SendTimeout bounds each frame write.
	SendTimeout time.Duration

	// CheckOrigin overrides the upgrader's origin policy. Nil accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

// Handler upgrades requests to WebSocket connections and streams frames.
//
// The initial timeframe comes from the "timeframe" query parameter; afterwards the client
// switches with {"timeframe":"5m"} messages. Every series frame replaces what the client
// displays; status frames only update the liveness indicator.
type Handler struct {
	cfg      ServerConfig
	source   FrameSource
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a push endpoint backed by source.
func NewHandler(source FrameSource, cfg ServerConfig) *Handler {
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Handler{
		cfg:    cfg,
		source: source,
		upgrader: websocket.Upgrader{
			HandshakeTimeout:  defaultHandshakeTimeout,
			ReadBufferSize:    1024,
			WriteBufferSize:   16 * 1024,
			CheckOrigin:       checkOrigin,
			EnableCompression: true,
		},
		logger: log.With().Str("component", "ws").Logger(),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var tf model.Timeframe
	if q := r.URL.Query().Get("timeframe"); q != "" {
		parsed, err := model.ParseTimeframe(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		tf = parsed
	}

	sub, err := h.source.Subscribe(tf)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, model.ErrUnsupportedTimeframe) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}

	logger := h.logger.With().Str("subscriber", sub.ID()).Str("remote", r.RemoteAddr).Logger()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written an HTTP error
		logger.Warn().Err(err).Msg("upgrade failed")
		h.unsubscribe(sub, logger)
		return
	}
	defer conn.Close()
	defer h.unsubscribe(sub, logger)

	logger.Info().Str("timeframe", sub.Timeframe().String()).Msg("client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.readLoop(ctx, cancel, conn, sub, logger)
	h.writeLoop(ctx, conn, sub, logger)

	logger.Info().Msg("client disconnected")
}

// readLoop handles timeframe switches and pongs until the client goes away.
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *service.Subscriber, logger zerolog.Logger) {
	defer cancel()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PingPeriod * 2))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PingPeriod * 2))
	})

	for ctx.Err() == nil {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("unexpected websocket closure")
			}
			return
		}

		tf, err := wire.DecodeTimeframeRequest(data)
		if err != nil {
			logger.Debug().Err(err).Msg("ignoring client message")
			continue
		}
		if err := h.source.ChangeTimeframe(sub, tf); err != nil {
			logger.Warn().Err(err).Msg("timeframe switch failed")
			continue
		}
		logger.Debug().Str("timeframe", tf.String()).Msg("timeframe switched")
	}
}

// writeLoop is the connection's only data writer.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *service.Subscriber, logger zerolog.Logger) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				return
			}

			data, err := wire.EncodeFrame(frame)
			if err != nil {
				logger.Error().Err(err).Msg("failed to encode frame")
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(h.cfg.SendTimeout)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.SendTimeout)); err != nil {
				logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (h *Handler) unsubscribe(sub *service.Subscriber, logger zerolog.Logger) {
	if err := h.source.Unsubscribe(sub); err != nil {
		logger.Error().Err(err).Msg("failed to unsubscribe")
	}
}

// writeError writes a JSON error before any upgrade took place.
func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(wire.ErrorResponse{Error: err.Error()})
}

package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coinPayload = `{
	"id": "qubic-network",
	"symbol": "qubic",
	"name": "Qubic",
	"market_data": {
		"current_price": {"usd": 0.0000021, "eur": 0.0000019},
		"total_volume": {"usd": 1234567},
		"market_cap": {"usd": 250000000},
		"high_24h": {"usd": 0.0000022},
		"low_24h": {"usd": 0.0000020},
		"price_change_percentage_24h": -1.5,
		"sparkline_7d": {"price": [0.0000020, 0.00000205, 0.0000021]},
		"last_updated": "2026-10-17T12:00:00.000Z"
	}
}`

// newCoinGeckoServer serves body for the coins endpoint and records the last request.
func newCoinGeckoServer(t *testing.T, status int, body string, last **http.Request) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if last != nil {
			*last = r
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

// Test_NewCoinGeckoConnector tests the connector constructor with various configurations
func Test_NewCoinGeckoConnector(t *testing.T) {
	tests := []struct {
		name        string
		config      *ExchangeConfig
		coinID      string
		vsCurrency  string
		expectError bool
		description string
	}{
		{
			name:        "Nil configuration uses defaults",
			config:      nil,
			coinID:      "qubic-network",
			vsCurrency:  "usd",
			description: "Should use default configuration when nil is provided",
		},
		{
			name:        "Custom base URL",
			config:      &ExchangeConfig{BaseURL: "https://pro-api.coingecko.com/api/v3", APIKey: "k"},
			coinID:      "bitcoin",
			vsCurrency:  "EUR",
			description: "Should accept custom configuration values",
		},
		{
			name:        "Invalid coin id",
			coinID:      "Qubic Network",
			vsCurrency:  "usd",
			expectError: true,
			description: "Should reject malformed coin ids",
		},
		{
			name:        "Unsupported currency",
			coinID:      "qubic-network",
			vsCurrency:  "xyz",
			expectError: true,
			description: "Should reject unknown quote currencies",
		},
		{
			name:        "Bad base URL",
			config:      &ExchangeConfig{BaseURL: "ftp://example.com"},
			coinID:      "qubic-network",
			vsCurrency:  "usd",
			expectError: true,
			description: "Should reject non-http base URLs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connector, err := NewCoinGeckoConnector(tt.config, tt.coinID, tt.vsCurrency)

			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidConfig, tt.description)
				assert.Nil(t, connector, "Should not return connector on error")
				return
			}

			require.NoError(t, err, tt.description)
			require.NotNil(t, connector)
			assert.NotNil(t, connector.validate, "Should have validator")
			assert.Equal(t, "coingecko", connector.Name())
			if tt.config == nil {
				assert.Equal(t, defaultCoinGeckoConfig.BaseURL, connector.config.BaseURL)
			}
		})
	}

	// defaults must never be mutated through a connector
	assert.Equal(t, "https://api.coingecko.com/api/v3", defaultCoinGeckoConfig.BaseURL)
}

// Test_CoinGecko_FetchSnapshot tests payload conversion into a snapshot
func Test_CoinGecko_FetchSnapshot(t *testing.T) {
	var req *http.Request
	srv := newCoinGeckoServer(t, http.StatusOK, coinPayload, &req)
	defer srv.Close()

	connector, err := NewCoinGeckoConnector(&ExchangeConfig{BaseURL: srv.URL, APIKey: "demo-key"}, "qubic-network", "usd")
	require.NoError(t, err)

	snap, err := connector.FetchSnapshot(context.Background())
	require.NoError(t, err)

	// request shape
	require.NotNil(t, req)
	assert.Equal(t, "/coins/qubic-network", req.URL.Path)
	assert.Equal(t, "true", req.URL.Query().Get("sparkline"))
	assert.Equal(t, "true", req.URL.Query().Get("market_data"))
	assert.Equal(t, "false", req.URL.Query().Get("tickers"))
	assert.Equal(t, "demo-key", req.Header.Get("x-cg-demo-api-key"))

	// converted values
	assert.Equal(t, "qubic-network", snap.CoinID)
	assert.Equal(t, "QUBIC", snap.Symbol)
	assert.Equal(t, "Qubic", snap.Name)
	assert.True(t, snap.CurrentPrice.Equal(decimal.RequireFromString("0.0000021")), "price %s", snap.CurrentPrice)
	assert.True(t, snap.TotalVolume24h.Equal(decimal.NewFromInt(1234567)))
	assert.True(t, snap.MarketCap.Equal(decimal.NewFromInt(250000000)))
	assert.True(t, snap.PriceChange24hPct.Equal(decimal.RequireFromString("-1.5")))
	assert.True(t, snap.High24h.Equal(decimal.RequireFromString("0.0000022")))
	assert.True(t, snap.Low24h.Equal(decimal.RequireFromString("0.0000020")))
	require.Len(t, snap.SparklinePrices, 3)
	assert.True(t, snap.SparklinePrices[1].Equal(decimal.RequireFromString("0.00000205")))
	assert.True(t, snap.LastUpdated.Equal(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)))
}

// Test_CoinGecko_FetchSnapshot_MissingOptionalFields tests that absent values become zero
func Test_CoinGecko_FetchSnapshot_MissingOptionalFields(t *testing.T) {
	body := `{
		"id": "qubic-network",
		"symbol": "qubic",
		"market_data": {
			"current_price": {"usd": 0.5},
			"last_updated": "2026-10-17T12:00:00Z"
		}
	}`
	srv := newCoinGeckoServer(t, http.StatusOK, body, nil)
	defer srv.Close()

	connector, err := NewCoinGeckoConnector(&ExchangeConfig{BaseURL: srv.URL}, "qubic-network", "usd")
	require.NoError(t, err)

	snap, err := connector.FetchSnapshot(context.Background())
	require.NoError(t, err)

	assert.True(t, snap.TotalVolume24h.IsZero())
	assert.True(t, snap.MarketCap.IsZero())
	assert.Empty(t, snap.SparklinePrices)
}

// Test_CoinGecko_FetchSnapshot_Errors tests failures that must surface as ErrFetch
func Test_CoinGecko_FetchSnapshot_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		vsCurrency  string
		description string
	}{
		{
			name:        "Rate limited",
			status:      http.StatusTooManyRequests,
			body:        `{"status":{"error_code":429}}`,
			vsCurrency:  "usd",
			description: "Should fail on non-200 status",
		},
		{
			name:        "Malformed JSON",
			status:      http.StatusOK,
			body:        `{"id": "qubic-network", "market_data": `,
			vsCurrency:  "usd",
			description: "Should fail on undecodable body",
		},
		{
			name:        "Missing market data",
			status:      http.StatusOK,
			body:        `{"id": "qubic-network", "symbol": "qubic"}`,
			vsCurrency:  "usd",
			description: "Should fail validation without market_data",
		},
		{
			name:        "Missing id",
			status:      http.StatusOK,
			body:        `{"market_data": {"current_price": {"usd": 1}, "last_updated": "2026-10-17T12:00:00Z"}}`,
			vsCurrency:  "usd",
			description: "Should fail validation without id",
		},
		{
			name:        "Currency not quoted",
			status:      http.StatusOK,
			body:        coinPayload,
			vsCurrency:  "gbp",
			description: "Should fail when the requested currency has no price",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newCoinGeckoServer(t, tt.status, tt.body, nil)
			defer srv.Close()

			connector, err := NewCoinGeckoConnector(&ExchangeConfig{BaseURL: srv.URL}, "qubic-network", tt.vsCurrency)
			require.NoError(t, err)

			_, err = connector.FetchSnapshot(context.Background())
			assert.ErrorIs(t, err, ErrFetch, tt.description)
		})
	}
}

// Package exchange provides market-data connectors that produce chart snapshots.
//
// The CoinGecko connector is the default snapshot source. A single request to the
// coins endpoint returns the current price, 24h volume, market cap, 24h range and a
// 7-day sparkline, which is everything the chart needs to seed and extend its history.
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web4389/Qubic-MarketView/internal/model"
	"github.com/web4389/Qubic-MarketView/internal/utils"
)

var (
	// defaultCoinGeckoConfig provides sensible default configuration values for CoinGecko.
	defaultCoinGeckoConfig = ExchangeConfig{
		BaseURL:   "https://api.coingecko.com/api/v3",
		Timeout:   defaultTimeout,
		UserAgent: "qubic-marketview/1.0",
	}
)

// CoinGeckoConnector fetches snapshots for one coin from the CoinGecko REST API.
type CoinGeckoConnector struct {
	config     ExchangeConfig      // Configuration parameters for the connector
	coinID     string              // Provider coin id (e.g., "qubic-network")
	vsCurrency string              // Quote currency for all values (e.g., "usd")
	client     *http.Client        // HTTP client with timeout
	validate   *validator.Validate // Validator instance for payload validation
}

// coinResponse is the subset of the coins/{id} payload the chart uses.
//
// Example (abridged):
//
//	{
//		"id": "qubic-network",
//		"symbol": "qubic",
//		"market_data": {
//			"current_price": {"usd": 0.0000021},
//			"sparkline_7d": {"price": [0.0000020, 0.0000021]},
//			"last_updated": "2026-10-17T12:00:00.000Z"
//		}
//	}
type coinResponse struct {
	ID         string      `json:"id" validate:"required"`
	Symbol     string      `json:"symbol"`
	Name       string      `json:"name"`
	MarketData *marketData `json:"market_data" validate:"required"`
}

type marketData struct {
	CurrentPrice             map[string]decimal.Decimal `json:"current_price" validate:"required"`
	TotalVolume              map[string]decimal.Decimal `json:"total_volume"`
	MarketCap                map[string]decimal.Decimal `json:"market_cap"`
	High24h                  map[string]decimal.Decimal `json:"high_24h"`
	Low24h                   map[string]decimal.Decimal `json:"low_24h"`
	PriceChangePercentage24h decimal.Decimal            `json:"price_change_percentage_24h"`
	Sparkline7d              struct {
		Price []decimal.Decimal `json:"price"`
	} `json:"sparkline_7d"`
	LastUpdated time.Time `json:"last_updated" validate:"required"`
}

// NewCoinGeckoConnector creates a connector for coinID quoted in vsCurrency.
//
// If cfg is nil the default configuration is used.
func NewCoinGeckoConnector(cfg *ExchangeConfig, coinID, vsCurrency string) (*CoinGeckoConnector, error) {
	if cfg == nil {
		defaults := defaultCoinGeckoConfig
		cfg = &defaults
	}

	if err := validateConfig(cfg, &defaultCoinGeckoConfig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := utils.ValidateCoinID(coinID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := utils.ValidateVsCurrency(vsCurrency); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &CoinGeckoConnector{
		config:     *cfg,
		coinID:     coinID,
		vsCurrency: strings.ToLower(vsCurrency),
		client:     newHTTPClient(cfg.Timeout),
		validate:   validator.New(),
	}, nil
}

// Name identifies the connector in logs.
func (c *CoinGeckoConnector) Name() string { return "coingecko" }

// FetchSnapshot performs one poll and converts the payload into a Snapshot.
func (c *CoinGeckoConnector) FetchSnapshot(ctx context.Context) (model.Snapshot, error) {
	header := make(http.Header)
	header.Set("User-Agent", c.config.UserAgent)
	if c.config.APIKey != "" {
		header.Set("x-cg-demo-api-key", c.config.APIKey)
	}

	var resp coinResponse
	if err := getJSON(ctx, c.client, c.coinURL(), header, &resp); err != nil {
		return model.Snapshot{}, err
	}

	// validate in-place
	if err := c.validate.Struct(&resp); err != nil {
		log.Warn().Err(err).Str("coin", c.coinID).Msg("coin payload validation failed")
		return model.Snapshot{}, fmt.Errorf("%w: invalid payload: %v", ErrFetch, err)
	}

	md := resp.MarketData
	price, ok := md.CurrentPrice[c.vsCurrency]
	if !ok {
		return model.Snapshot{}, fmt.Errorf("%w: no %s price for %s", ErrFetch, c.vsCurrency, c.coinID)
	}

	return model.Snapshot{
		CoinID:            resp.ID,
		Symbol:            strings.ToUpper(resp.Symbol),
		Name:              resp.Name,
		CurrentPrice:      price,
		TotalVolume24h:    md.TotalVolume[c.vsCurrency],
		MarketCap:         md.MarketCap[c.vsCurrency],
		PriceChange24hPct: md.PriceChangePercentage24h,
		High24h:           md.High24h[c.vsCurrency],
		Low24h:            md.Low24h[c.vsCurrency],
		SparklinePrices:   md.Sparkline7d.Price,
		LastUpdated:       md.LastUpdated,
	}, nil
}

// coinURL builds the coins endpoint URL with market data and sparkline enabled.
func (c *CoinGeckoConnector) coinURL() string {
	q := url.Values{}
	q.Set("localization", "false")
	q.Set("tickers", "false")
	q.Set("market_data", "true")
	q.Set("community_data", "false")
	q.Set("developer_data", "false")
	q.Set("sparkline", "true")

	return fmt.Sprintf("%s/coins/%s?%s",
		strings.TrimRight(c.config.BaseURL, "/"), url.PathEscape(c.coinID), q.Encode())
}

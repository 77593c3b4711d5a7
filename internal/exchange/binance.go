// Package exchange provides market-data connectors that produce chart snapshots.
//
// The Binance connector builds a snapshot from two public REST endpoints: the 24h
// rolling ticker supplies price, volume and range, and the last week of hourly
// klines stands in for the sparkline. Binance does not report market capitalization,
// so snapshots from this connector carry a zero market cap.
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

const (
	// sparklineInterval and sparklineLimit select 7 days of hourly closes.
	sparklineInterval = "1h"
	sparklineLimit    = 168

	// klineCloseIndex is the position of the close price in a kline row.
	klineCloseIndex = 4
)

var (
	// defaultBinanceConfig provides sensible default configuration values for Binance.
	defaultBinanceConfig = ExchangeConfig{
		BaseURL:   "https://api.binance.com",
		Timeout:   defaultTimeout,
		UserAgent: "qubic-marketview/1.0",
	}
)

// BinanceConnector fetches snapshots for one trading pair from the Binance REST API.
type BinanceConnector struct {
	config   ExchangeConfig      // Configuration parameters for the connector
	pair     string              // Normalized trading pair (e.g., "BTC-USDT")
	client   *http.Client        // HTTP client with timeout
	validate *validator.Validate // Validator instance for payload validation
}

// ticker24h represents the rolling 24h statistics payload.
//
// Binance uses string representations for numeric values to preserve precision.
//
// Example:
//
//	{
//		"symbol": "BTCUSDT",
//		"priceChangePercent": "-1.25",
//		"lastPrice": "50000.12",
//		"highPrice": "51000.00",
//		"lowPrice": "49000.00",
//		"quoteVolume": "123456789.01",
//		"closeTime": 1634567890123
//	}
type ticker24h struct {
	Symbol             string `json:"symbol" validate:"required"`
	PriceChangePercent string `json:"priceChangePercent" validate:"required,numeric"`
	LastPrice          string `json:"lastPrice" validate:"required,numeric"`
	HighPrice          string `json:"highPrice" validate:"required,numeric"`
	LowPrice           string `json:"lowPrice" validate:"required,numeric"`
	QuoteVolume        string `json:"quoteVolume" validate:"required,numeric"`
	CloseTime          int64  `json:"closeTime" validate:"required,gt=0"`
}

// NewBinanceConnector creates a connector for pair, given in "BASE-QUOTE" form.
//
// If cfg is nil the default configuration is used.
func NewBinanceConnector(cfg *ExchangeConfig, pair string) (*BinanceConnector, error) {
	if cfg == nil {
		defaults := defaultBinanceConfig
		cfg = &defaults
	}

	if err := validateConfig(cfg, &defaultBinanceConfig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := utils.ValidateSymbol(pair); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &BinanceConnector{
		config:   *cfg,
		pair:     strings.ToUpper(pair),
		client:   newHTTPClient(cfg.Timeout),
		validate: validator.New(),
	}, nil
}

// Name identifies the connector in logs.
func (bc *BinanceConnector) Name() string { return "binance" }

// FetchSnapshot performs one poll and converts the payloads into a Snapshot.
func (bc *BinanceConnector) FetchSnapshot(ctx context.Context) (model.Snapshot, error) {
	header := make(http.Header)
	header.Set("User-Agent", bc.config.UserAgent)
	if bc.config.APIKey != "" {
		header.Set("X-MBX-APIKEY", bc.config.APIKey)
	}

	var t ticker24h
	if err := getJSON(ctx, bc.client, bc.endpoint("/api/v3/ticker/24hr", nil), header, &t); err != nil {
		return model.Snapshot{}, err
	}

	// validate in-place
	if err := bc.validate.Struct(&t); err != nil {
		log.Warn().Err(err).Interface("ticker", t).Msg("ticker validation failed")
		return model.Snapshot{}, fmt.Errorf("%w: invalid ticker: %v", ErrFetch, err)
	}

	values, err := parseDecimals(t.LastPrice, t.QuoteVolume, t.PriceChangePercent, t.HighPrice, t.LowPrice)
	if err != nil {
		return model.Snapshot{}, err
	}

	var klines [][]any
	query := url.Values{}
	query.Set("interval", sparklineInterval)
	query.Set("limit", fmt.Sprint(sparklineLimit))
	if err := getJSON(ctx, bc.client, bc.endpoint("/api/v3/klines", query), header, &klines); err != nil {
		return model.Snapshot{}, err
	}

	closes, err := klineCloses(klines)
	if err != nil {
		return model.Snapshot{}, err
	}

	pair := toNormalizedSymbol(t.Symbol)
	base := strings.SplitN(pair, "-", 2)[0]

	return model.Snapshot{
		CoinID:            strings.ToLower(t.Symbol),
		Symbol:            base,
		Name:              pair,
		CurrentPrice:      values[0],
		TotalVolume24h:    values[1],
		PriceChange24hPct: values[2],
		High24h:           values[3],
		Low24h:            values[4],
		SparklinePrices:   closes,
		LastUpdated:       time.UnixMilli(t.CloseTime),
	}, nil
}

// endpoint builds a REST URL for the connector's pair.
func (bc *BinanceConnector) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("symbol", strings.ReplaceAll(bc.pair, "-", ""))

	return fmt.Sprintf("%s%s?%s", strings.TrimRight(bc.config.BaseURL, "/"), path, query.Encode())
}

// parseDecimals converts the ticker's string fields, failing on the first bad value.
func parseDecimals(raw ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(raw))
	for i, s := range raw {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid number %q: %v", ErrFetch, s, err)
		}
		out[i] = d
	}
	return out, nil
}

// klineCloses extracts the close price of every kline row.
//
// Rows are arrays of mixed numbers and strings:
//
//	[1499040000000, "0.0163", "0.8000", "0.0157", "0.0158", "148976.1", ...]
func klineCloses(rows [][]any) ([]decimal.Decimal, error) {
	closes := make([]decimal.Decimal, 0, len(rows))
	for i, row := range rows {
		if len(row) <= klineCloseIndex {
			return nil, fmt.Errorf("%w: kline %d has %d fields", ErrFetch, i, len(row))
		}
		s, ok := row[klineCloseIndex].(string)
		if !ok {
			return nil, fmt.Errorf("%w: kline %d close is %T", ErrFetch, i, row[klineCloseIndex])
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: kline %d close %q: %v", ErrFetch, i, s, err)
		}
		closes = append(closes, d)
	}
	return closes, nil
}

// toNormalizedSymbol converts Binance symbol format to standardized format.
func toNormalizedSymbol(symbol string) string {
	symbol = strings.ToLower(symbol)

	for quote := range utils.QuoteAssetSet {
		quote = strings.ToLower(quote)
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			base := symbol[:len(symbol)-len(quote)]
			return strings.ToUpper(base) + "-" + strings.ToUpper(quote)
		}
	}

	return strings.ToUpper(symbol)
}

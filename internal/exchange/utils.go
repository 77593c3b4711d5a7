// Package exchange provides market-data connectors that produce chart snapshots.
//
// This file contains shared utilities, configuration structures, and the HTTP helper
// used across all connector implementations. Connectors only perform transport,
// status-code checks, decoding and payload validation; everything they return is an
// already parsed model.Snapshot or an error wrapping ErrFetch.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidConfig indicates that the provided ExchangeConfig contains invalid values.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrFetch wraps every transport, status or payload failure of a poll.
	ErrFetch = errors.New("fetch failed")
)

const (
	// defaultTimeout bounds a single HTTP round trip.
	defaultTimeout = 10 * time.Second

	// maxBodySize caps provider responses.
	maxBodySize = 4 << 20 // 4MB
)

// ExchangeConfig provides common configuration parameters for all connectors.
type ExchangeConfig struct {
	// BaseURL is the REST endpoint root for the provider API.
	BaseURL string

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// APIKey is sent to providers that accept one. Optional.
	APIKey string

	// UserAgent identifies the service to the provider.
	UserAgent string
}

// validateConfig ensures all required configuration fields are present and valid,
// applying sensible defaults for optional fields when possible.
func validateConfig(cfg *ExchangeConfig, defaultCfg *ExchangeConfig) error {

	// Apply defaults for optional fields
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCfg.BaseURL
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCfg.Timeout
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultCfg.UserAgent
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("base url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base url must be http or https, got %q", cfg.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("base url has no host: %q", cfg.BaseURL)
	}

	return nil
}

// newHTTPClient returns a client honouring proxy settings from the environment.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// getJSON performs a GET request and decodes a 200 response body into out.
func getJSON(ctx context.Context, client *http.Client, endpoint string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Debug().
			Str("url", endpoint).
			Int("statusCode", resp.StatusCode).
			Int("bytes", len(body)).
			Msg("unexpected provider status")
		return fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrFetch, err)
	}

	return nil
}

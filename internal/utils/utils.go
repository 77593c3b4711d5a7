// Package utils provides common utility functions for data validation.
//
// This package validates the identifiers used to address market-data providers:
// CoinGecko coin ids and quote currencies, and exchange trading pair symbols.
package utils

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error definitions for validation functions
var (
	ErrEmptyIdentifier  = errors.New("identifier cannot be empty")
	ErrUnsupportedQuote = errors.New("unsupported quote asset")
)

// QuoteAssetSet contains the supported quote assets for exchange trading pairs.
var QuoteAssetSet = map[string]bool{
	"USDT":  true, // Tether USD
	"USDC":  true, // USD Coin
	"FDUSD": true, // First Digital USD
	"BTC":   true, // Bitcoin
	"ETH":   true, // Ethereum
}

// VsCurrencySet contains the provider quote currencies a price can be expressed in.
var VsCurrencySet = map[string]bool{
	"usd": true,
	"eur": true,
	"gbp": true,
	"jpy": true,
	"btc": true,
	"eth": true,
}

// supportedQuotesCache is a pre-computed string of supported quote assets
// to avoid rebuilding this string on every validation error.
var supportedQuotesCache = getSupportedQuotes(QuoteAssetSet)

// ValidateSymbol validates that a trading pair symbol follows the expected format
// and uses a supported quote asset.
//
// The expected format is "BASE-QUOTE" where:
//   - BASE is an alphanumeric asset code (e.g., "BTC", "QUBIC")
//   - QUOTE is the quote asset and must be one of the supported quote assets
//
// The validation is case-insensitive.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol: %w", ErrEmptyIdentifier)
	}

	parts := strings.Split(symbol, "-")
	if len(parts) != 2 {
		return fmt.Errorf("invalid symbol format: expected BASE-QUOTE, got %q", symbol)
	}

	if len(parts[0]) == 0 {
		return errors.New("base asset cannot be empty")
	}

	if len(parts[1]) == 0 {
		return errors.New("quote asset cannot be empty")
	}

	if !isAlnum(parts[0]) {
		return fmt.Errorf("invalid base asset: %q", parts[0])
	}

	quote := strings.ToUpper(parts[1])
	if !QuoteAssetSet[quote] {
		return fmt.Errorf("%w: %s (supported: %s)", ErrUnsupportedQuote, quote, supportedQuotesCache)
	}

	return nil
}

// ValidateCoinID checks a provider coin id such as "qubic-network".
//
// Ids are lowercase ASCII letters, digits and single hyphens, without leading or
// trailing hyphens.
func ValidateCoinID(id string) error {
	if id == "" {
		return fmt.Errorf("coin id: %w", ErrEmptyIdentifier)
	}
	if strings.HasPrefix(id, "-") || strings.HasSuffix(id, "-") || strings.Contains(id, "--") {
		return fmt.Errorf("invalid coin id %q: misplaced hyphen", id)
	}
	for _, r := range id {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return fmt.Errorf("invalid coin id %q: unexpected character %q", id, r)
		}
	}
	return nil
}

// ValidateVsCurrency checks the quote currency used for provider prices.
func ValidateVsCurrency(currency string) error {
	if currency == "" {
		return fmt.Errorf("vs currency: %w", ErrEmptyIdentifier)
	}
	if !VsCurrencySet[strings.ToLower(currency)] {
		return fmt.Errorf("%w: %s (supported: %s)", ErrUnsupportedQuote, currency, getSupportedQuotes(VsCurrencySet))
	}
	return nil
}

func isAlnum(s string) bool {
	for _, r := range strings.ToUpper(s) {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// getSupportedQuotes builds a sorted, comma-separated string of the keys of set
// for user-friendly error messages.
func getSupportedQuotes(set map[string]bool) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}

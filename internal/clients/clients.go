// Package clients builds the exchange SDK clients used by the price feeds.
package clients

import (
	"context"

	"github.com/adshao/go-binance/v2"
	"github.com/hirokisan/bybit/v2"
	hyperliquid "github.com/sonirico/go-hyperliquid"
)

// NewBinanceClient builds a Binance REST client. Empty credentials still
// allow public market data endpoints.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}

// NewBybitClient builds an authenticated Bybit V5 client.
func NewBybitClient(apiKey, apiSecret string) *bybit.Client {
	return bybit.NewClient().WithAuth(apiKey, apiSecret)
}

// NewHyperliquidInfo builds a read-only Info client for the Hyperliquid
// public API. Price feeds need no signing key, so no exchange client is
// constructed.
func NewHyperliquidInfo(baseURL string) *hyperliquid.Info {
	if baseURL == "" {
		baseURL = hyperliquid.MainnetAPIURL
	}

	// meta and spot meta are fetched lazily by the SDK
	return hyperliquid.NewInfo(context.Background(), baseURL, true, nil, nil)
}

package pricefeed

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"
)

// HyperliquidFeed fetches mid prices from the Hyperliquid public Info API.
type HyperliquidFeed struct {
	info *hyperliquid.Info
}

func NewHyperliquidFeed(info *hyperliquid.Info) *HyperliquidFeed {
	return &HyperliquidFeed{info: info}
}

func (f *HyperliquidFeed) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if f.info == nil {
		return decimal.Zero, fmt.Errorf("hyperliquid info client is nil")
	}

	mids, err := f.info.AllMids(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	// Hyperliquid mids are keyed by base coin (e.g., "SOL").
	mid, ok := mids[symbol]
	if !ok || mid == "" {
		return decimal.Zero, fmt.Errorf("hyperliquid API returned empty mid price for %s", symbol)
	}
	return decimal.NewFromString(mid)
}

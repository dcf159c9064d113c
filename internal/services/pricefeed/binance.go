package pricefeed

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// BinanceFeed fetches spot prices from the Binance public API without
// requiring authentication.
type BinanceFeed struct {
	client *binance.Client
}

func NewBinanceFeed(client *binance.Client) *BinanceFeed {
	return &BinanceFeed{client: client}
}

// GetPrice fetches the current market price for a symbol like "SOLUSDT".
func (f *BinanceFeed) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := f.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(prices) == 0 {
		return decimal.Decimal{}, fmt.Errorf("binance API returned empty prices for %s", symbol)
	}

	return decimal.NewFromString(prices[0].Price)
}

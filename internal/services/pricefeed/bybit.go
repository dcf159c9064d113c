package pricefeed

import (
	"context"
	"fmt"

	"github.com/hirokisan/bybit/v2"
	"github.com/shopspring/decimal"
)

// BybitFeed fetches spot prices from the Bybit V5 market API.
type BybitFeed struct {
	client *bybit.Client
}

func NewBybitFeed(client *bybit.Client) *BybitFeed {
	return &BybitFeed{client: client}
}

func (f *BybitFeed) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	s := bybit.SymbolV5(symbol)

	result, err := f.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: "spot",
		Symbol:   &s,
	})
	if err != nil {
		return decimal.Decimal{}, err
	}

	if len(result.Result.Spot.List) == 0 {
		return decimal.Decimal{}, fmt.Errorf("bybit API returned empty prices for %s", symbol)
	}

	return decimal.NewFromString(result.Result.Spot.List[0].LastPrice)
}

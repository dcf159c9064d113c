package pricefeed

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceFeed quotes the current USD price for a trading symbol.
type PriceFeed interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

package pricefeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// StaticFeed serves fixed prices set by the caller. Used for dry runs and
// tests where no venue connectivity exists.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewStaticFeed() *StaticFeed {
	return &StaticFeed{prices: make(map[string]decimal.Decimal)}
}

// SetPrice sets or replaces the quoted price for a symbol.
func (f *StaticFeed) SetPrice(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *StaticFeed) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	price, ok := f.prices[symbol]
	if !ok || price.LessThanOrEqual(decimal.Zero) {
		return decimal.Decimal{}, fmt.Errorf("no price set for %s", symbol)
	}
	return price, nil
}

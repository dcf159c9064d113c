package pricefeed

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FallbackFeed queries feeds in order and returns the first good quote.
type FallbackFeed struct {
	feeds  []PriceFeed
	logger *zap.Logger
}

func NewFallbackFeed(logger *zap.Logger, feeds ...PriceFeed) *FallbackFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackFeed{feeds: feeds, logger: logger}
}

func (f *FallbackFeed) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var lastErr error
	for _, feed := range f.feeds {
		price, err := feed.GetPrice(ctx, symbol)
		if err == nil && price.IsPositive() {
			return price, nil
		}
		if err != nil {
			lastErr = err
			f.logger.Debug("feed failed, trying next", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	if lastErr == nil {
		lastErr = errors.Errorf("no feed quoted %s", symbol)
	}
	return decimal.Decimal{}, lastErr
}

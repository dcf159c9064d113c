package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"treasury-engine/internal/domain"
)

// OrderRequest describes one open or close order sent to a venue.
type OrderRequest struct {
	PositionID string
	Token      string
	Symbol     string
	Direction  domain.Direction
	Quantity   decimal.Decimal
	QuotePrice decimal.Decimal
	Wallet     string
}

// Fill is the venue's confirmation of an executed order.
type Fill struct {
	Price       decimal.Decimal
	TxSignature string
	FilledAt    time.Time
}

// Venue executes orders against a trading venue. Implementations must not
// hold ledger locks; calls may block on the network.
type Venue interface {
	ExecuteOpen(ctx context.Context, req OrderRequest) (Fill, error)
	ExecuteClose(ctx context.Context, req OrderRequest) (Fill, error)
}

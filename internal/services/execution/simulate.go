package execution

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"treasury-engine/internal/domain"
)

// SimulatedVenue fills orders at the quoted price shifted by a fixed
// slippage fraction. It records every invocation so dry-run verification
// and tests can assert what would have been sent to a real venue.
type SimulatedVenue struct {
	mu       sync.Mutex
	slippage decimal.Decimal
	logger   *zap.Logger
	failNext error
	calls    []OrderRequest
}

// NewSimulatedVenue creates a simulator with the given slippage fraction
// (0.001 = 10 bps against the taker).
func NewSimulatedVenue(slippage decimal.Decimal, logger *zap.Logger) *SimulatedVenue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedVenue{slippage: slippage, logger: logger}
}

// FailNext makes the next execution return err, then clears itself.
func (v *SimulatedVenue) FailNext(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNext = err
}

// Calls returns a copy of all recorded order requests.
func (v *SimulatedVenue) Calls() []OrderRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]OrderRequest, len(v.calls))
	copy(out, v.calls)
	return out
}

func (v *SimulatedVenue) ExecuteOpen(ctx context.Context, req OrderRequest) (Fill, error) {
	return v.execute(ctx, req, true)
}

func (v *SimulatedVenue) ExecuteClose(ctx context.Context, req OrderRequest) (Fill, error) {
	return v.execute(ctx, req, false)
}

func (v *SimulatedVenue) execute(ctx context.Context, req OrderRequest, opening bool) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	if req.QuotePrice.LessThanOrEqual(decimal.Zero) {
		return Fill{}, errors.Wrap(domain.ErrValidation, "quote price must be positive")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.calls = append(v.calls, req)

	if v.failNext != nil {
		err := v.failNext
		v.failNext = nil
		return Fill{}, errors.Wrap(domain.ErrExecutionFailure, err.Error())
	}

	// slippage always works against the taker: buys fill higher,
	// sells fill lower
	one := decimal.NewFromInt(1)
	buying := (req.Direction == domain.DirectionLong) == opening
	var fillPrice decimal.Decimal
	if buying {
		fillPrice = req.QuotePrice.Mul(one.Add(v.slippage))
	} else {
		fillPrice = req.QuotePrice.Mul(one.Sub(v.slippage))
	}

	v.logger.Debug("simulated fill",
		zap.String("symbol", req.Symbol),
		zap.String("quote_price", req.QuotePrice.String()),
		zap.String("fill_price", fillPrice.String()),
		zap.Bool("opening", opening))

	return Fill{
		Price:       fillPrice,
		TxSignature: "sim-" + req.PositionID,
		FilledAt:    time.Now().UTC(),
	}, nil
}

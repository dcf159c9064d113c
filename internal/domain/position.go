package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Direction represents the side of a treasury position.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Sign returns +1 for long positions and -1 for short positions.
func (d Direction) Sign() decimal.Decimal {
	if d == DirectionShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Status is the lifecycle state of a position.
//
// RESERVED is a transient in-memory slot held while execution is in flight
// and is never persisted. OPEN is the only state the monitor evaluates.
// CLOSED and LIQUIDATED are terminal.
type Status string

const (
	StatusReserved   Status = "RESERVED"
	StatusOpen       Status = "OPEN"
	StatusClosed     Status = "CLOSED"
	StatusLiquidated Status = "LIQUIDATED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusLiquidated
}

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitManual          ExitReason = "manual"
	ExitStopLoss        ExitReason = "stop_loss"
	ExitTakeProfit      ExitReason = "take_profit"
	ExitTrailingStop    ExitReason = "trailing_stop"
	ExitMaxLoss         ExitReason = "max_loss"
	ExitLiquidationRisk ExitReason = "liquidation_risk"
	ExitStale           ExitReason = "stale"
	ExitRapidLoss       ExitReason = "rapid_loss"
)

// Position is a directional treasury position tracked by the ledger.
type Position struct {
	ID           string          `json:"id"`
	Token        string          `json:"token"`
	Symbol       string          `json:"symbol"`
	Direction    Direction       `json:"direction"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Quantity     decimal.Decimal `json:"quantity"`
	NotionalUSD  decimal.Decimal `json:"notional_usd"`
	Leverage     int             `json:"leverage"`

	TakeProfit      decimal.Decimal `json:"take_profit"`
	StopLoss        decimal.Decimal `json:"stop_loss"`
	TrailingStopPct decimal.Decimal `json:"trailing_stop_pct,omitempty"`
	TrailingStop    decimal.Decimal `json:"trailing_stop,omitempty"`

	Status Status `json:"status"`

	SignalGrade string  `json:"signal_grade,omitempty"`
	SignalScore float64 `json:"signal_score,omitempty"`

	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`

	ExitPrice  decimal.Decimal `json:"exit_price,omitempty"`
	ExitReason ExitReason      `json:"exit_reason,omitempty"`

	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPct decimal.Decimal `json:"unrealized_pnl_pct"`
}

// PositionParams carries the fields required to construct an open position.
type PositionParams struct {
	ID              string
	Token           string
	Symbol          string
	Direction       Direction
	EntryPrice      decimal.Decimal
	Quantity        decimal.Decimal
	NotionalUSD     decimal.Decimal
	Leverage        int
	TakeProfit      decimal.Decimal
	StopLoss        decimal.Decimal
	TrailingStopPct decimal.Decimal
	SignalGrade     string
	SignalScore     float64
	OpenedAt        time.Time
}

// NewPosition validates params and constructs an OPEN position.
//
// The exit-level ordering invariant lives here and nowhere else: for longs
// take-profit must sit above entry and stop-loss below it, inverted for
// shorts. Violations are rejected, never clamped.
func NewPosition(p PositionParams) (*Position, error) {
	if p.ID == "" {
		return nil, errors.New("position id is required")
	}
	if p.Token == "" {
		return nil, errors.New("position token is required")
	}
	if p.Direction != DirectionLong && p.Direction != DirectionShort {
		return nil, errors.Errorf("unknown direction %q", p.Direction)
	}
	if p.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("entry price must be greater than zero")
	}
	if p.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("position quantity must be greater than zero")
	}
	if p.NotionalUSD.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("position notional must be greater than zero")
	}
	if p.Leverage < 1 {
		p.Leverage = 1
	}

	switch p.Direction {
	case DirectionLong:
		if !p.TakeProfit.GreaterThan(p.EntryPrice) {
			return nil, errors.Errorf("long take-profit %s must exceed entry %s", p.TakeProfit, p.EntryPrice)
		}
		if !p.StopLoss.LessThan(p.EntryPrice) || p.StopLoss.LessThanOrEqual(decimal.Zero) {
			return nil, errors.Errorf("long stop-loss %s must sit below entry %s", p.StopLoss, p.EntryPrice)
		}
	case DirectionShort:
		if !p.TakeProfit.LessThan(p.EntryPrice) || p.TakeProfit.LessThanOrEqual(decimal.Zero) {
			return nil, errors.Errorf("short take-profit %s must sit below entry %s", p.TakeProfit, p.EntryPrice)
		}
		if !p.StopLoss.GreaterThan(p.EntryPrice) {
			return nil, errors.Errorf("short stop-loss %s must exceed entry %s", p.StopLoss, p.EntryPrice)
		}
	}

	if p.TrailingStopPct.IsNegative() || p.TrailingStopPct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errors.Errorf("trailing stop fraction %s must be in [0, 1)", p.TrailingStopPct)
	}

	openedAt := p.OpenedAt
	if openedAt.IsZero() {
		openedAt = time.Now().UTC()
	}

	return &Position{
		ID:              p.ID,
		Token:           p.Token,
		Symbol:          p.Symbol,
		Direction:       p.Direction,
		EntryPrice:      p.EntryPrice,
		CurrentPrice:    p.EntryPrice,
		Quantity:        p.Quantity,
		NotionalUSD:     p.NotionalUSD,
		Leverage:        p.Leverage,
		TakeProfit:      p.TakeProfit,
		StopLoss:        p.StopLoss,
		TrailingStopPct: p.TrailingStopPct,
		SignalGrade:     p.SignalGrade,
		SignalScore:     p.SignalScore,
		Status:          StatusOpen,
		OpenedAt:        openedAt,
	}, nil
}

// IsOpen reports whether the position is still live.
func (p *Position) IsOpen() bool {
	return p != nil && p.Status == StatusOpen
}

// PnL calculates unrealized profit for the given market price.
//
// for long positions: PnL = (currentPrice - entryPrice) * quantity
// for short positions: PnL = (entryPrice - currentPrice) * quantity
func (p *Position) PnL(currentPrice decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	if p.Direction == DirectionShort {
		return p.EntryPrice.Sub(currentPrice).Mul(p.Quantity)
	}
	return currentPrice.Sub(p.EntryPrice).Mul(p.Quantity)
}

// PnLPct returns the unrealized PnL as a percentage of entry, signed by
// direction.
func (p *Position) PnLPct(currentPrice decimal.Decimal) decimal.Decimal {
	if p == nil || p.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	move := currentPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
	return move.Mul(p.Direction.Sign())
}

// Age returns how long the position has been open.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// Clone returns a copy safe to hand out beyond the ledger lock.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		clone.ClosedAt = &t
	}
	return &clone
}

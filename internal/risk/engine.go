// Package risk holds the pure risk math of the treasury engine: position
// sizing, grade-based exit levels, liquidation distance and exposure limits.
// Nothing here touches I/O or clocks; everything is deterministic on its
// inputs.
package risk

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"treasury-engine/internal/domain"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Engine evaluates risk for proposed and open positions.
type Engine struct {
	maintenanceMargin decimal.Decimal
	minMarginRatio    decimal.Decimal
}

// Option tunes engine parameters.
type Option func(*Engine)

// WithMaintenanceMargin overrides the default 5% maintenance margin.
func WithMaintenanceMargin(m decimal.Decimal) Option {
	return func(e *Engine) { e.maintenanceMargin = m }
}

// NewEngine constructs an engine with a 5% maintenance margin and a 5%
// minimum margin ratio.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		maintenanceMargin: decimal.NewFromFloat(0.05),
		minMarginRatio:    decimal.NewFromFloat(0.05),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PositionSize returns the USD notional for one trade at the given tier.
func (e *Engine) PositionSize(portfolioUSD decimal.Decimal, tier domain.RiskTier) (decimal.Decimal, error) {
	if portfolioUSD.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errors.Wrap(domain.ErrValidation, "portfolio value must be positive")
	}
	fraction, err := tier.Fraction()
	if err != nil {
		return decimal.Zero, errors.Wrap(domain.ErrValidation, err.Error())
	}
	return portfolioUSD.Mul(fraction), nil
}

// ExitLevels derives take-profit and stop-loss prices from the signal grade.
// Unknown grades use the C levels.
func (e *Engine) ExitLevels(grade domain.SignalGrade, entry decimal.Decimal, direction domain.Direction) (tp, sl decimal.Decimal, err error) {
	if entry.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, errors.Wrap(domain.ErrValidation, "entry price must be positive")
	}

	lv := grade.Levels()
	if direction == domain.DirectionShort {
		tp = entry.Mul(one.Sub(lv.TakeProfitPct))
		sl = entry.Mul(one.Add(lv.StopLossPct))
		return tp, sl, nil
	}
	tp = entry.Mul(one.Add(lv.TakeProfitPct))
	sl = entry.Mul(one.Sub(lv.StopLossPct))
	return tp, sl, nil
}

// LiquidationPrice estimates where the position would be liquidated.
// Unleveraged positions (leverage <= 1) cannot be liquidated and return zero.
func (e *Engine) LiquidationPrice(entry decimal.Decimal, leverage int, direction domain.Direction) decimal.Decimal {
	if leverage <= 1 || entry.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	inverse := one.Div(decimal.NewFromInt(int64(leverage)))
	if direction == domain.DirectionShort {
		// short: entry * (1 + 1/leverage - maintenance)
		return entry.Mul(one.Add(inverse).Sub(e.maintenanceMargin))
	}
	// long: entry * (1 - 1/leverage + maintenance)
	return entry.Mul(one.Sub(inverse).Add(e.maintenanceMargin))
}

// HealthFactor compares the position's margin ratio to the minimum margin
// ratio. Values below 1.0 mean liquidation territory.
func (e *Engine) HealthFactor(marginUSD, notionalUSD decimal.Decimal) decimal.Decimal {
	if notionalUSD.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	marginRatio := marginUSD.Div(notionalUSD)
	return marginRatio.Div(e.minMarginRatio)
}

// LiquidationDistance returns how far, in percent of the current price, the
// market sits from the liquidation price. Positions without a liquidation
// price are treated as 100% away.
func (e *Engine) LiquidationDistance(currentPrice, liquidationPrice decimal.Decimal) decimal.Decimal {
	if liquidationPrice.LessThanOrEqual(decimal.Zero) || currentPrice.LessThanOrEqual(decimal.Zero) {
		return hundred
	}
	return currentPrice.Sub(liquidationPrice).Abs().Div(currentPrice).Mul(hundred)
}

// Assess produces a point-in-time risk read for an open position at the
// given price.
func (e *Engine) Assess(pos *domain.Position, currentPrice decimal.Decimal) domain.Assessment {
	liqPrice := e.LiquidationPrice(pos.EntryPrice, pos.Leverage, pos.Direction)
	distance := e.LiquidationDistance(currentPrice, liqPrice)

	lev := pos.Leverage
	if lev < 1 {
		lev = 1
	}
	margin := pos.NotionalUSD.Div(decimal.NewFromInt(int64(lev)))
	health := e.HealthFactor(margin, pos.NotionalUSD)

	return domain.Assessment{
		Level:            riskLevel(health, distance),
		Score:            riskScore(health, distance, pos.Leverage),
		HealthFactor:     health,
		LiquidationPrice: liqPrice,
		DistancePct:      distance,
	}
}

func riskScore(health, distance decimal.Decimal, leverage int) int {
	score := 0

	switch {
	case distance.LessThan(decimal.NewFromInt(5)):
		score += 50
	case distance.LessThan(decimal.NewFromInt(10)):
		score += 30
	case distance.LessThan(decimal.NewFromInt(20)):
		score += 15
	}

	switch {
	case health.LessThan(decimal.NewFromFloat(1.2)):
		score += 30
	case health.LessThan(decimal.NewFromFloat(1.5)):
		score += 15
	}

	switch {
	case leverage > 5:
		score += 20
	case leverage > 3:
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}

func riskLevel(health, distance decimal.Decimal) domain.RiskLevel {
	switch {
	case health.LessThan(one) || distance.LessThan(decimal.NewFromInt(3)):
		return domain.RiskLiquidation
	case health.LessThan(decimal.NewFromFloat(1.2)) || distance.LessThan(decimal.NewFromInt(5)):
		return domain.RiskCritical
	case health.LessThan(decimal.NewFromFloat(1.5)) || distance.LessThan(decimal.NewFromInt(10)):
		return domain.RiskHigh
	case health.LessThan(decimal.NewFromInt(2)) || distance.LessThan(decimal.NewFromInt(20)):
		return domain.RiskModerate
	default:
		return domain.RiskSafe
	}
}

// Candidate describes a proposed position for exposure validation.
type Candidate struct {
	Symbol      string
	NotionalUSD decimal.Decimal
	Leverage    int
}

// ValidateExposure checks a proposed position against the portfolio limits.
// Checks run in a fixed order and the first violation is returned: position
// size, leverage, position count, per-symbol exposure, total exposure.
// The open slice must include in-flight reservations.
func (e *Engine) ValidateExposure(c Candidate, open []*domain.Position, portfolioUSD decimal.Decimal, limits domain.Limits) error {
	if limits.MaxPositionUSD.IsPositive() && c.NotionalUSD.GreaterThan(limits.MaxPositionUSD) {
		return errors.Wrapf(domain.ErrRiskViolation,
			"position size %s exceeds maximum %s", c.NotionalUSD, limits.MaxPositionUSD)
	}

	if limits.MaxLeverage > 0 && c.Leverage > limits.MaxLeverage {
		return errors.Wrapf(domain.ErrRiskViolation,
			"leverage %dx exceeds maximum %dx", c.Leverage, limits.MaxLeverage)
	}

	if limits.MaxPositions > 0 && len(open) >= limits.MaxPositions {
		return errors.Wrapf(domain.ErrCapacityExceeded,
			"%d of %d position slots in use", len(open), limits.MaxPositions)
	}

	if limits.MaxSymbolExposure.IsPositive() && portfolioUSD.IsPositive() {
		symbolNotional := c.NotionalUSD
		for _, p := range open {
			if p.Symbol == c.Symbol {
				symbolNotional = symbolNotional.Add(p.NotionalUSD)
			}
		}
		maxSymbol := portfolioUSD.Mul(limits.MaxSymbolExposure)
		if symbolNotional.GreaterThan(maxSymbol) {
			return errors.Wrapf(domain.ErrRiskViolation,
				"%s exposure %s exceeds per-symbol limit %s", c.Symbol, symbolNotional, maxSymbol)
		}
	}

	if limits.MaxTotalExposure.IsPositive() && portfolioUSD.IsPositive() {
		total := c.NotionalUSD
		for _, p := range open {
			total = total.Add(p.NotionalUSD)
		}
		maxTotal := portfolioUSD.Mul(limits.MaxTotalExposure)
		if total.GreaterThan(maxTotal) {
			return errors.Wrapf(domain.ErrRiskViolation,
				"total exposure %s exceeds limit %s", total, maxTotal)
		}
	}

	return nil
}

// ValidateDailyLoss refuses new trades once realized losses for the UTC day
// reach the configured maximum.
func (e *Engine) ValidateDailyLoss(realizedTodayUSD decimal.Decimal, limits domain.Limits) error {
	if !limits.MaxDailyLoss.IsPositive() {
		return nil
	}
	if realizedTodayUSD.IsNegative() && realizedTodayUSD.Neg().GreaterThanOrEqual(limits.MaxDailyLoss) {
		return errors.Wrapf(domain.ErrRiskViolation,
			"daily loss %s reached limit %s", realizedTodayUSD.Neg(), limits.MaxDailyLoss)
	}
	return nil
}

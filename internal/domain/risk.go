package domain

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// RiskTier selects what fraction of the portfolio a single trade may risk.
type RiskTier string

const (
	TierConservative RiskTier = "conservative"
	TierModerate     RiskTier = "moderate"
	TierAggressive   RiskTier = "aggressive"
	TierMaxRisk      RiskTier = "max-risk"
)

var tierFractions = map[RiskTier]decimal.Decimal{
	TierConservative: decimal.NewFromFloat(0.01),
	TierModerate:     decimal.NewFromFloat(0.02),
	TierAggressive:   decimal.NewFromFloat(0.05),
	TierMaxRisk:      decimal.NewFromFloat(0.10),
}

// Fraction returns the portfolio fraction for the tier.
func (t RiskTier) Fraction() (decimal.Decimal, error) {
	f, ok := tierFractions[t]
	if !ok {
		return decimal.Zero, errors.Errorf("unknown risk tier %q", t)
	}
	return f, nil
}

// Valid reports whether the tier is one of the four known tiers.
func (t RiskTier) Valid() bool {
	_, ok := tierFractions[t]
	return ok
}

// SignalGrade is the externally supplied conviction grade of a trade signal.
type SignalGrade string

const (
	GradeAPlus SignalGrade = "A+"
	GradeA     SignalGrade = "A"
	GradeBPlus SignalGrade = "B+"
	GradeB     SignalGrade = "B"
	GradeC     SignalGrade = "C"
	GradeD     SignalGrade = "D"
	GradeF     SignalGrade = "F"
)

// NormalizeGrade uppercases and trims a raw grade string.
func NormalizeGrade(raw string) SignalGrade {
	return SignalGrade(strings.ToUpper(strings.TrimSpace(raw)))
}

// Tradeable reports whether positions may be opened for the grade.
// D and F signals never trade.
func (g SignalGrade) Tradeable() bool {
	return g != GradeD && g != GradeF
}

// ExitLevels holds the take-profit and stop-loss fractions for a grade.
type ExitLevels struct {
	TakeProfitPct decimal.Decimal
	StopLossPct   decimal.Decimal
}

var gradeExitLevels = map[SignalGrade]ExitLevels{
	GradeAPlus: {TakeProfitPct: decimal.NewFromFloat(0.30), StopLossPct: decimal.NewFromFloat(0.08)},
	GradeA:     {TakeProfitPct: decimal.NewFromFloat(0.30), StopLossPct: decimal.NewFromFloat(0.10)},
	GradeBPlus: {TakeProfitPct: decimal.NewFromFloat(0.20), StopLossPct: decimal.NewFromFloat(0.08)},
	GradeB:     {TakeProfitPct: decimal.NewFromFloat(0.15), StopLossPct: decimal.NewFromFloat(0.08)},
	GradeC:     {TakeProfitPct: decimal.NewFromFloat(0.10), StopLossPct: decimal.NewFromFloat(0.05)},
}

// Levels returns the exit fractions for the grade. Unknown grades fall back
// to the C levels, the most conservative traded tier.
func (g SignalGrade) Levels() ExitLevels {
	if lv, ok := gradeExitLevels[g]; ok {
		return lv
	}
	return gradeExitLevels[GradeC]
}

// RiskLevel buckets how close a position sits to liquidation.
type RiskLevel string

const (
	RiskSafe        RiskLevel = "SAFE"
	RiskModerate    RiskLevel = "MODERATE"
	RiskHigh        RiskLevel = "HIGH"
	RiskCritical    RiskLevel = "CRITICAL"
	RiskLiquidation RiskLevel = "LIQUIDATION"
)

// Severity orders risk levels for comparison; higher is worse.
func (l RiskLevel) Severity() int {
	switch l {
	case RiskLiquidation:
		return 4
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskModerate:
		return 1
	default:
		return 0
	}
}

// Limits is the portfolio risk profile enforced on every open.
type Limits struct {
	MaxPositions       int
	MaxPositionUSD     decimal.Decimal
	MaxLeverage        int
	MaxSymbolExposure  decimal.Decimal // fraction of portfolio per symbol
	MaxTotalExposure   decimal.Decimal // fraction of portfolio overall
	MaxLossPerPosition decimal.Decimal // fraction of entry notional
	MaxDailyLoss       decimal.Decimal // absolute USD
}

// Assessment is the point-in-time risk read for one position.
type Assessment struct {
	Level            RiskLevel
	Score            int
	HealthFactor     decimal.Decimal
	LiquidationPrice decimal.Decimal
	DistancePct      decimal.Decimal
}

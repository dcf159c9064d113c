package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury-engine/internal/domain"
)

func TestPositionSize(t *testing.T) {
	e := NewEngine()
	portfolio := decimal.NewFromInt(10000)

	tests := []struct {
		tier domain.RiskTier
		want int64
	}{
		{domain.TierConservative, 100},
		{domain.TierModerate, 200},
		{domain.TierAggressive, 500},
		{domain.TierMaxRisk, 1000},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			size, err := e.PositionSize(portfolio, tt.tier)
			require.NoError(t, err)
			assert.True(t, size.Equal(decimal.NewFromInt(tt.want)), "got %s", size)
		})
	}

	_, err := e.PositionSize(portfolio, "reckless")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.PositionSize(decimal.Zero, domain.TierModerate)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestExitLevelsByGrade(t *testing.T) {
	e := NewEngine()
	entry := decimal.NewFromInt(100)

	tests := []struct {
		grade  domain.SignalGrade
		wantTP string
		wantSL string
	}{
		{domain.GradeA, "130", "90"},
		{domain.GradeBPlus, "120", "92"},
		{domain.GradeB, "115", "92"},
		{domain.GradeC, "110", "95"},
		{"Z", "110", "95"}, // unknown grades fall back to C
	}

	for _, tt := range tests {
		t.Run(string(tt.grade), func(t *testing.T) {
			tp, sl, err := e.ExitLevels(tt.grade, entry, domain.DirectionLong)
			require.NoError(t, err)
			assert.True(t, tp.Equal(decimal.RequireFromString(tt.wantTP)), "tp %s", tp)
			assert.True(t, sl.Equal(decimal.RequireFromString(tt.wantSL)), "sl %s", sl)
		})
	}
}

func TestExitLevelsShortMirrored(t *testing.T) {
	e := NewEngine()
	entry := decimal.NewFromInt(100)

	tp, sl, err := e.ExitLevels(domain.GradeA, entry, domain.DirectionShort)
	require.NoError(t, err)
	assert.True(t, tp.Equal(decimal.NewFromInt(70)), "tp %s", tp)
	assert.True(t, sl.Equal(decimal.NewFromInt(110)), "sl %s", sl)
}

func TestLiquidationPrice(t *testing.T) {
	e := NewEngine()
	entry := decimal.NewFromInt(100)

	long := e.LiquidationPrice(entry, 3, domain.DirectionLong)
	diff := long.Sub(decimal.RequireFromString("71.67")).Abs()
	assert.True(t, diff.LessThan(decimal.RequireFromString("0.01")), "got %s", long)

	short := e.LiquidationPrice(entry, 3, domain.DirectionShort)
	diffShort := short.Sub(decimal.RequireFromString("128.33")).Abs()
	assert.True(t, diffShort.LessThan(decimal.RequireFromString("0.01")), "got %s", short)

	assert.True(t, e.LiquidationPrice(entry, 1, domain.DirectionLong).IsZero())
	assert.True(t, e.LiquidationPrice(entry, 0, domain.DirectionLong).IsZero())
}

func TestHealthFactor(t *testing.T) {
	e := NewEngine()

	// margin ratio 0.10 against a 0.05 minimum
	health := e.HealthFactor(decimal.NewFromInt(10), decimal.NewFromInt(100))
	assert.True(t, health.Equal(decimal.NewFromInt(2)), "got %s", health)

	assert.True(t, e.HealthFactor(decimal.NewFromInt(10), decimal.Zero).IsZero())
}

func TestAssessBuckets(t *testing.T) {
	e := NewEngine()

	mustPos := func(leverage int) *domain.Position {
		p, err := domain.NewPosition(domain.PositionParams{
			ID:          "pos",
			Token:       "tok",
			Symbol:      "SOL",
			Direction:   domain.DirectionLong,
			EntryPrice:  decimal.NewFromInt(100),
			Quantity:    decimal.NewFromInt(1),
			NotionalUSD: decimal.NewFromInt(100),
			Leverage:    leverage,
			TakeProfit:  decimal.NewFromInt(130),
			StopLoss:    decimal.NewFromInt(90),
		})
		require.NoError(t, err)
		return p
	}

	t.Run("unleveraged position is safe", func(t *testing.T) {
		a := e.Assess(mustPos(1), decimal.NewFromInt(100))
		assert.Equal(t, domain.RiskSafe, a.Level)
		assert.Equal(t, 0, a.Score)
		assert.True(t, a.LiquidationPrice.IsZero())
		assert.True(t, a.DistancePct.Equal(decimal.NewFromInt(100)))
	})

	t.Run("price near liquidation forces LIQUIDATION", func(t *testing.T) {
		pos := mustPos(3)
		// liq ~71.67, price 73 -> distance ~1.8%
		a := e.Assess(pos, decimal.NewFromInt(73))
		assert.Equal(t, domain.RiskLiquidation, a.Level)
		assert.GreaterOrEqual(t, a.Score, 50)
	})

	t.Run("moderate distance", func(t *testing.T) {
		pos := mustPos(3)
		// liq ~71.67, price 85 -> distance ~15.7%
		a := e.Assess(pos, decimal.NewFromInt(85))
		assert.Equal(t, domain.RiskModerate, a.Level)
		assert.Equal(t, 15, a.Score)
	})

	t.Run("high leverage adds score", func(t *testing.T) {
		pos := mustPos(6)
		// health = (1/6)/0.05 ~ 3.33, liq ~88.3, price 100 -> distance ~11.7%
		a := e.Assess(pos, decimal.NewFromInt(100))
		assert.Equal(t, 35, a.Score)
		assert.Equal(t, domain.RiskModerate, a.Level)
	})
}

func TestValidateExposureOrder(t *testing.T) {
	e := NewEngine()
	portfolio := decimal.NewFromInt(10000)

	limits := domain.Limits{
		MaxPositions:      2,
		MaxPositionUSD:    decimal.NewFromInt(1000),
		MaxLeverage:       3,
		MaxSymbolExposure: decimal.NewFromFloat(0.10),
		MaxTotalExposure:  decimal.NewFromFloat(0.15),
	}

	openPos := func(symbol string, notional int64) *domain.Position {
		return &domain.Position{
			Symbol:      symbol,
			Status:      domain.StatusOpen,
			NotionalUSD: decimal.NewFromInt(notional),
		}
	}

	t.Run("oversized position rejected first", func(t *testing.T) {
		err := e.ValidateExposure(Candidate{Symbol: "SOL", NotionalUSD: decimal.NewFromInt(2000), Leverage: 10},
			nil, portfolio, limits)
		require.ErrorIs(t, err, domain.ErrRiskViolation)
		assert.Contains(t, err.Error(), "position size")
	})

	t.Run("leverage checked before count", func(t *testing.T) {
		open := []*domain.Position{openPos("SOL", 500), openPos("ETH", 500)}
		err := e.ValidateExposure(Candidate{Symbol: "SOL", NotionalUSD: decimal.NewFromInt(500), Leverage: 5},
			open, portfolio, limits)
		require.ErrorIs(t, err, domain.ErrRiskViolation)
		assert.Contains(t, err.Error(), "leverage")
	})

	t.Run("capacity includes reservations", func(t *testing.T) {
		open := []*domain.Position{openPos("SOL", 100), {Symbol: "ETH", Status: domain.StatusReserved, NotionalUSD: decimal.NewFromInt(100)}}
		err := e.ValidateExposure(Candidate{Symbol: "BTC", NotionalUSD: decimal.NewFromInt(100), Leverage: 1},
			open, portfolio, limits)
		require.ErrorIs(t, err, domain.ErrCapacityExceeded)
	})

	t.Run("per-symbol exposure", func(t *testing.T) {
		open := []*domain.Position{openPos("SOL", 600)}
		err := e.ValidateExposure(Candidate{Symbol: "SOL", NotionalUSD: decimal.NewFromInt(600), Leverage: 1},
			open, portfolio, limits)
		require.ErrorIs(t, err, domain.ErrRiskViolation)
		assert.Contains(t, err.Error(), "per-symbol")
	})

	t.Run("total exposure", func(t *testing.T) {
		open := []*domain.Position{openPos("SOL", 900)}
		err := e.ValidateExposure(Candidate{Symbol: "ETH", NotionalUSD: decimal.NewFromInt(700), Leverage: 1},
			open, portfolio, limits)
		require.ErrorIs(t, err, domain.ErrRiskViolation)
		assert.Contains(t, err.Error(), "total exposure")
	})

	t.Run("within limits passes", func(t *testing.T) {
		open := []*domain.Position{openPos("SOL", 500)}
		err := e.ValidateExposure(Candidate{Symbol: "ETH", NotionalUSD: decimal.NewFromInt(500), Leverage: 2},
			open, portfolio, limits)
		require.NoError(t, err)
	})
}

func TestValidateDailyLoss(t *testing.T) {
	e := NewEngine()
	limits := domain.Limits{MaxDailyLoss: decimal.NewFromInt(500)}

	require.NoError(t, e.ValidateDailyLoss(decimal.NewFromInt(100), limits))
	require.NoError(t, e.ValidateDailyLoss(decimal.NewFromInt(-499), limits))
	require.ErrorIs(t, e.ValidateDailyLoss(decimal.NewFromInt(-500), limits), domain.ErrRiskViolation)
	require.NoError(t, e.ValidateDailyLoss(decimal.NewFromInt(-10000), domain.Limits{}))
}

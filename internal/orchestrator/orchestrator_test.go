package orchestrator

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury-engine/internal/domain"
	"treasury-engine/internal/ledger"
	"treasury-engine/internal/risk"
	"treasury-engine/internal/services/execution"
	"treasury-engine/internal/services/pricefeed"
)

const adminID int64 = 42

type fixture struct {
	orch  *Orchestrator
	venue *execution.SimulatedVenue
	feed  *pricefeed.StaticFeed
	led   *ledger.Ledger
	audit *ledger.AuditLog
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	store, err := ledger.NewStore(t.TempDir())
	require.NoError(t, err)
	led, err := ledger.New(store, nil)
	require.NoError(t, err)

	audit, err := ledger.NewAuditLog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })

	feed := pricefeed.NewStaticFeed()
	feed.SetPrice("SOL", decimal.NewFromInt(100))
	feed.SetPrice("ETH", decimal.NewFromInt(2000))

	venue := execution.NewSimulatedVenue(decimal.NewFromFloat(0.01), nil)

	cfg := Config{
		AdminIDs: []int64{adminID},
		RiskTier: domain.TierModerate,
		Limits: domain.Limits{
			MaxPositions:      3,
			MaxPositionUSD:    decimal.NewFromInt(1000),
			MaxLeverage:       5,
			MaxSymbolExposure: decimal.NewFromFloat(0.10),
			MaxTotalExposure:  decimal.NewFromFloat(0.20),
			MaxDailyLoss:      decimal.NewFromInt(500),
		},
		TreasuryAddress: "treasury-address",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	portfolio := func(context.Context) (decimal.Decimal, error) {
		return decimal.NewFromInt(10000), nil
	}

	orch, err := New(cfg, led, audit, risk.NewEngine(), feed, venue, portfolio, nil)
	require.NoError(t, err)

	return &fixture{orch: orch, venue: venue, feed: feed, led: led, audit: audit}
}

func openReq() OpenRequest {
	return OpenRequest{
		Token:     "So11111111111111111111111111111111111111112",
		Symbol:    "SOL",
		Direction: domain.DirectionLong,
		Grade:     "A",
		Score:     88,
		Leverage:  1,
	}
}

func TestUnauthorizedActorHasNoSideEffects(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.OpenPosition(context.Background(), 7, openReq())
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	assert.Empty(t, f.led.ListActive())
	assert.Empty(t, f.venue.Calls())

	entries, err := f.audit.EntriesAfter(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditUnauthorized, entries[0].Action)
	assert.Equal(t, int64(7), entries[0].ActorID)
	assert.False(t, entries[0].Success)
}

func TestOpenPositionUsesVenueFillPrice(t *testing.T) {
	f := newFixture(t, nil)

	pos, err := f.orch.OpenPosition(context.Background(), adminID, openReq())
	require.NoError(t, err)

	// quote 100, 1% slippage on the buy
	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromInt(101)), "got %s", pos.EntryPrice)
	// moderate tier on a 10k portfolio
	assert.True(t, pos.NotionalUSD.Equal(decimal.NewFromInt(200)))
	// grade A exit levels derive from the fill price
	assert.True(t, pos.TakeProfit.Equal(decimal.RequireFromString("131.3")), "tp %s", pos.TakeProfit)
	assert.True(t, pos.StopLoss.Equal(decimal.RequireFromString("90.9")), "sl %s", pos.StopLoss)

	assert.True(t, f.led.DailyVolume().Equal(decimal.NewFromInt(200)))
	require.Len(t, f.venue.Calls(), 1)
	assert.Equal(t, "treasury-address", f.venue.Calls()[0].Wallet)
}

func TestOpenRefusesUntradeableGrades(t *testing.T) {
	f := newFixture(t, nil)

	for _, grade := range []string{"D", "F", "d", " f "} {
		req := openReq()
		req.Grade = grade
		_, err := f.orch.OpenPosition(context.Background(), adminID, req)
		require.ErrorIs(t, err, domain.ErrRiskViolation, "grade %q", grade)
	}

	assert.Empty(t, f.venue.Calls())
}

func TestOpenReleasesReservationOnExecutionFailure(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Limits.MaxPositions = 1 })

	f.venue.FailNext(errors.New("venue down"))
	_, err := f.orch.OpenPosition(context.Background(), adminID, openReq())
	require.ErrorIs(t, err, domain.ErrExecutionFailure)

	// slot must be free again
	assert.Empty(t, f.led.ListActive())
	pos, err := f.orch.OpenPosition(context.Background(), adminID, openReq())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, pos.Status)
}

func TestDryRunSkipsVenue(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.DryRun = true })

	pos, err := f.orch.OpenPosition(context.Background(), adminID, openReq())
	require.NoError(t, err)

	assert.Empty(t, f.venue.Calls(), "dry run must not touch the venue")
	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromInt(100)), "dry run fills at quote")
	assert.True(t, f.led.DailyVolume().Equal(decimal.NewFromInt(200)), "volume recorded in dry run")

	closed, err := f.orch.ClosePosition(context.Background(), adminID, pos.ID, domain.ExitManual)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Empty(t, f.venue.Calls())
}

func TestClosePositionUsesVenueFillPrice(t *testing.T) {
	f := newFixture(t, nil)

	pos, err := f.orch.OpenPosition(context.Background(), adminID, openReq())
	require.NoError(t, err)

	f.feed.SetPrice("SOL", decimal.NewFromInt(120))
	closed, err := f.orch.ClosePosition(context.Background(), adminID, pos.ID, domain.ExitManual)
	require.NoError(t, err)

	// quote 120, 1% slippage on the sell
	assert.True(t, closed.ExitPrice.Equal(decimal.RequireFromString("118.8")), "got %s", closed.ExitPrice)
	assert.Equal(t, domain.ExitManual, closed.ExitReason)

	// closing again returns the recorded trade unchanged
	again, err := f.orch.ClosePosition(context.Background(), adminID, pos.ID, domain.ExitManual)
	require.NoError(t, err)
	assert.True(t, again.ExitPrice.Equal(closed.ExitPrice))
	assert.Len(t, f.venue.Calls(), 2)
}

func TestForceCloseBypassesAdminGate(t *testing.T) {
	f := newFixture(t, nil)

	pos, err := f.orch.OpenPosition(context.Background(), adminID, openReq())
	require.NoError(t, err)

	closed, err := f.orch.ForceClose(context.Background(), pos.ID, domain.ExitStopLoss)
	require.NoError(t, err)
	assert.Equal(t, domain.ExitStopLoss, closed.ExitReason)

	entries, err := f.audit.EntriesAfter(0)
	require.NoError(t, err)
	var closeEntry *domain.AuditEntry
	for i := range entries {
		if entries[i].Action == domain.AuditClosePosition {
			closeEntry = &entries[i]
		}
	}
	require.NotNil(t, closeEntry)
	assert.Equal(t, int64(0), closeEntry.ActorID, "system closes audit as actor 0")
}

func TestExposureRejectionIsAudited(t *testing.T) {
	f := newFixture(t, nil)

	req := openReq()
	req.NotionalUSD = decimal.NewFromInt(5000) // above MaxPositionUSD
	_, err := f.orch.OpenPosition(context.Background(), adminID, req)
	require.ErrorIs(t, err, domain.ErrRiskViolation)

	entries, err := f.audit.EntriesAfter(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditOpenRejected, entries[0].Action)
}

func TestGenerateReport(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.DryRun = true })
	ctx := context.Background()

	first, err := f.orch.OpenPosition(ctx, adminID, openReq())
	require.NoError(t, err)
	f.feed.SetPrice("SOL", decimal.NewFromInt(120))
	_, err = f.orch.ClosePosition(ctx, adminID, first.ID, domain.ExitTakeProfit)
	require.NoError(t, err)

	f.feed.SetPrice("SOL", decimal.NewFromInt(100))
	second, err := f.orch.OpenPosition(ctx, adminID, openReq())
	require.NoError(t, err)
	f.feed.SetPrice("SOL", decimal.NewFromInt(90))
	_, err = f.orch.ClosePosition(ctx, adminID, second.ID, domain.ExitStopLoss)
	require.NoError(t, err)

	report := f.orch.GenerateReport()
	assert.Equal(t, 2, report.TotalTrades)
	assert.Equal(t, 1, report.Wins)
	assert.Equal(t, 1, report.Losses)
	assert.True(t, report.WinRatePct.Equal(decimal.NewFromInt(50)))
	assert.True(t, report.BestTrade.GreaterThan(report.WorstTrade))
	assert.Equal(t, 0, report.OpenPositions)
}

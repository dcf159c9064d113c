package orchestrator

import (
	"github.com/shopspring/decimal"

	"treasury-engine/internal/domain"
)

// TradeReport aggregates lifetime trading statistics.
type TradeReport struct {
	TotalTrades     int
	Wins            int
	Losses          int
	WinRatePct      decimal.Decimal
	TotalRealized   decimal.Decimal
	BestTrade       decimal.Decimal
	WorstTrade      decimal.Decimal
	AvgRealized     decimal.Decimal
	OpenPositions   int
	TotalUnrealized decimal.Decimal
	DailyVolumeUSD  decimal.Decimal
}

// GenerateReport summarizes closed-trade history and the open book.
func (o *Orchestrator) GenerateReport() TradeReport {
	history := o.ledger.History()
	open := o.ledger.ListOpen()

	report := TradeReport{
		TotalTrades:    len(history),
		OpenPositions:  len(open),
		DailyVolumeUSD: o.ledger.DailyVolume(),
	}

	for i, trade := range history {
		pnl := trade.RealizedPnL
		report.TotalRealized = report.TotalRealized.Add(pnl)

		if pnl.IsPositive() {
			report.Wins++
		} else if pnl.IsNegative() {
			report.Losses++
		}

		if i == 0 {
			report.BestTrade = pnl
			report.WorstTrade = pnl
			continue
		}
		if pnl.GreaterThan(report.BestTrade) {
			report.BestTrade = pnl
		}
		if pnl.LessThan(report.WorstTrade) {
			report.WorstTrade = pnl
		}
	}

	if len(history) > 0 {
		count := decimal.NewFromInt(int64(len(history)))
		report.WinRatePct = decimal.NewFromInt(int64(report.Wins)).
			Div(count).Mul(decimal.NewFromInt(100))
		report.AvgRealized = report.TotalRealized.Div(count)
	}

	for _, pos := range open {
		report.TotalUnrealized = report.TotalUnrealized.Add(pos.UnrealizedPnL)
	}

	return report
}

// Positions returns snapshots of all open positions.
func (o *Orchestrator) Positions() []*domain.Position {
	return o.ledger.ListOpen()
}

// History returns the closed-trade history, oldest first.
func (o *Orchestrator) History() []*domain.Position {
	return o.ledger.History()
}

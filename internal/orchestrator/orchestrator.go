// Package orchestrator coordinates trade execution: authorization, price
// resolution, sizing, exposure checks and the two-phase
// reserve -> execute -> commit protocol. The ledger lock is never held
// across a venue call.
package orchestrator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"treasury-engine/internal/domain"
	"treasury-engine/internal/ledger"
	"treasury-engine/internal/risk"
	"treasury-engine/internal/services/execution"
	"treasury-engine/internal/services/pricefeed"
	"treasury-engine/pkg/retrier"
)

// PortfolioFunc reports the current portfolio value in USD for sizing and
// exposure math.
type PortfolioFunc func(ctx context.Context) (decimal.Decimal, error)

// Config carries the orchestrator's static settings.
type Config struct {
	AdminIDs        []int64
	RiskTier        domain.RiskTier
	Limits          domain.Limits
	DryRun          bool
	TreasuryAddress string
}

// Orchestrator is the single entry point for opening and closing positions.
type Orchestrator struct {
	cfg       Config
	ledger    *ledger.Ledger
	audit     *ledger.AuditLog
	engine    *risk.Engine
	feed      pricefeed.PriceFeed
	venue     execution.Venue
	portfolio PortfolioFunc
	retrier   *retrier.Retrier
	logger    *zap.Logger
	admins    map[int64]struct{}
}

// New wires an orchestrator. On startup it scans the audit log for an open
// submission without a matching commit, which indicates a crash inside the
// fill-persist window, and warns loudly.
func New(cfg Config, lg *ledger.Ledger, audit *ledger.AuditLog, engine *risk.Engine, feed pricefeed.PriceFeed, venue execution.Venue, portfolio PortfolioFunc, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.RiskTier.Valid() {
		return nil, errors.Wrapf(domain.ErrValidation, "unknown risk tier %q", cfg.RiskTier)
	}
	if len(cfg.AdminIDs) == 0 {
		return nil, errors.Wrap(domain.ErrValidation, "at least one admin id is required")
	}

	admins := make(map[int64]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = struct{}{}
	}

	o := &Orchestrator{
		cfg:       cfg,
		ledger:    lg,
		audit:     audit,
		engine:    engine,
		feed:      feed,
		venue:     venue,
		portfolio: portfolio,
		retrier: retrier.New(
			retrier.WithInitialInterval(time.Second),
			retrier.WithMaxRetries(3),
		),
		logger: logger,
		admins: admins,
	}

	o.warnUnrecordedFills()
	return o, nil
}

// warnUnrecordedFills flags audit trails ending in a submission with no
// commit. A fill may have happened at the venue that the ledger never saw;
// there is no reconciliation pass, so an operator has to check by hand.
func (o *Orchestrator) warnUnrecordedFills() {
	entries, err := o.audit.EntriesAfter(0)
	if err != nil {
		o.logger.Warn("audit scan failed", zap.Error(err))
		return
	}

	submitted := make(map[string]struct{})
	for _, e := range entries {
		id, _ := e.Details["position_id"].(string)
		if id == "" {
			continue
		}
		switch e.Action {
		case domain.AuditOpenSubmitted:
			submitted[id] = struct{}{}
		case domain.AuditOpenCommitted, domain.AuditOpenRejected:
			delete(submitted, id)
		}
	}

	for id := range submitted {
		o.logger.Warn("audit log shows a submitted open with no commit; verify venue state by hand",
			zap.String("position_id", id))
	}
}

// OpenRequest describes a trade an admin wants to open.
type OpenRequest struct {
	Token           string
	Symbol          string
	Direction       domain.Direction
	Grade           string
	Score           float64
	Leverage        int
	TrailingStopPct decimal.Decimal
	// NotionalUSD overrides tier-based sizing when positive.
	NotionalUSD decimal.Decimal
}

// OpenPosition runs the full open protocol for an authorized actor.
func (o *Orchestrator) OpenPosition(ctx context.Context, actorID int64, req OpenRequest) (*domain.Position, error) {
	if err := o.authorize(actorID, "open_position"); err != nil {
		return nil, err
	}

	if req.Token == "" || req.Symbol == "" {
		return nil, errors.Wrap(domain.ErrValidation, "token and symbol are required")
	}
	if req.Direction != domain.DirectionLong && req.Direction != domain.DirectionShort {
		return nil, errors.Wrapf(domain.ErrValidation, "unknown direction %q", req.Direction)
	}
	if req.Leverage < 1 {
		req.Leverage = 1
	}

	grade := domain.NormalizeGrade(req.Grade)
	if !grade.Tradeable() {
		o.auditEntry(domain.AuditOpenRejected, actorID, false, map[string]any{
			"symbol": req.Symbol,
			"reason": "untradeable signal grade " + string(grade),
		})
		return nil, errors.Wrapf(domain.ErrRiskViolation, "grade %s signals are never traded", grade)
	}

	price, err := o.resolvePrice(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	portfolioUSD, err := o.portfolio(ctx)
	if err != nil {
		return nil, errors.Wrap(domain.ErrPriceUnavailable, err.Error())
	}

	notional := req.NotionalUSD
	if !notional.IsPositive() {
		notional, err = o.engine.PositionSize(portfolioUSD, o.cfg.RiskTier)
		if err != nil {
			return nil, err
		}
	}

	if err := o.engine.ValidateExposure(risk.Candidate{
		Symbol:      req.Symbol,
		NotionalUSD: notional,
		Leverage:    req.Leverage,
	}, o.ledger.ListActive(), portfolioUSD, o.cfg.Limits); err != nil {
		o.auditEntry(domain.AuditOpenRejected, actorID, false, map[string]any{
			"symbol": req.Symbol,
			"reason": err.Error(),
		})
		return nil, err
	}

	if err := o.engine.ValidateDailyLoss(o.ledger.RealizedToday(), o.cfg.Limits); err != nil {
		o.auditEntry(domain.AuditOpenRejected, actorID, false, map[string]any{
			"symbol": req.Symbol,
			"reason": err.Error(),
		})
		return nil, err
	}

	// phase one: claim a capacity slot before leaving the lock
	id, err := o.ledger.Reserve(req.Symbol, notional, o.cfg.Limits.MaxPositions)
	if err != nil {
		o.auditEntry(domain.AuditOpenRejected, actorID, false, map[string]any{
			"symbol": req.Symbol,
			"reason": err.Error(),
		})
		return nil, err
	}

	quantity := notional.Div(price)

	fillPrice := price
	if o.cfg.DryRun {
		o.logger.Info("dry run: skipping venue execution",
			zap.String("position_id", id),
			zap.String("symbol", req.Symbol))
	} else {
		o.auditEntry(domain.AuditOpenSubmitted, actorID, true, map[string]any{
			"position_id": id,
			"symbol":      req.Symbol,
		})

		fill, err := o.venue.ExecuteOpen(ctx, execution.OrderRequest{
			PositionID: id,
			Token:      req.Token,
			Symbol:     req.Symbol,
			Direction:  req.Direction,
			Quantity:   quantity,
			QuotePrice: price,
			Wallet:     o.cfg.TreasuryAddress,
		})
		if err != nil {
			o.ledger.Release(id)
			o.auditEntry(domain.AuditOpenRejected, actorID, false, map[string]any{
				"position_id": id,
				"symbol":      req.Symbol,
				"reason":      err.Error(),
			})
			return nil, err
		}
		fillPrice = fill.Price
	}

	tp, sl, err := o.engine.ExitLevels(grade, fillPrice, req.Direction)
	if err != nil {
		o.ledger.Release(id)
		return nil, err
	}

	pos, err := o.ledger.CommitOpen(id, domain.PositionParams{
		Token:           req.Token,
		Symbol:          req.Symbol,
		Direction:       req.Direction,
		EntryPrice:      fillPrice,
		Quantity:        quantity,
		NotionalUSD:     notional,
		Leverage:        req.Leverage,
		TakeProfit:      tp,
		StopLoss:        sl,
		TrailingStopPct: req.TrailingStopPct,
		SignalGrade:     string(grade),
		SignalScore:     req.Score,
	})
	if err != nil {
		// the venue may hold a fill the ledger could not record;
		// keep the reservation out of the way but scream about it
		o.ledger.Release(id)
		o.auditEntry(domain.AuditOpenCommitted, actorID, false, map[string]any{
			"position_id": id,
			"reason":      err.Error(),
		})
		return nil, err
	}

	o.auditEntry(domain.AuditOpenCommitted, actorID, true, map[string]any{
		"position_id": id,
		"symbol":      pos.Symbol,
		"entry_price": pos.EntryPrice.String(),
		"notional":    pos.NotionalUSD.String(),
		"grade":       pos.SignalGrade,
		"dry_run":     o.cfg.DryRun,
	})

	if err := o.ledger.AddDailyVolume(notional); err != nil {
		o.logger.Warn("daily volume update failed", zap.Error(err))
	}

	return pos, nil
}

// ClosePosition closes a position for an authorized actor at market.
func (o *Orchestrator) ClosePosition(ctx context.Context, actorID int64, positionID string, reason domain.ExitReason) (*domain.Position, error) {
	if err := o.authorize(actorID, "close_position"); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = domain.ExitManual
	}
	return o.close(ctx, actorID, positionID, reason)
}

// ForceClose is the unauthenticated close path used by the monitor for
// triggered exits. Actor id 0 marks system actions in the audit trail.
func (o *Orchestrator) ForceClose(ctx context.Context, positionID string, reason domain.ExitReason) (*domain.Position, error) {
	return o.close(ctx, 0, positionID, reason)
}

func (o *Orchestrator) close(ctx context.Context, actorID int64, positionID string, reason domain.ExitReason) (*domain.Position, error) {
	pos, err := o.ledger.Get(positionID)
	if err != nil {
		return nil, err
	}
	if pos.Status.Terminal() {
		// idempotent: repeating a close returns the recorded trade
		return pos, nil
	}
	if pos.Status != domain.StatusOpen {
		return nil, errors.Wrapf(domain.ErrValidation, "position %s is %s", positionID, pos.Status)
	}

	price, err := o.resolvePrice(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}

	exitPrice := price
	if !o.cfg.DryRun {
		fill, err := o.venue.ExecuteClose(ctx, execution.OrderRequest{
			PositionID: pos.ID,
			Token:      pos.Token,
			Symbol:     pos.Symbol,
			Direction:  pos.Direction,
			Quantity:   pos.Quantity,
			QuotePrice: price,
			Wallet:     o.cfg.TreasuryAddress,
		})
		if err != nil {
			o.auditEntry(domain.AuditCloseFailed, actorID, false, map[string]any{
				"position_id": pos.ID,
				"reason":      err.Error(),
			})
			return nil, err
		}
		exitPrice = fill.Price
	}

	closed, err := o.ledger.RecordClose(pos.ID, exitPrice, reason)
	if err != nil {
		o.auditEntry(domain.AuditCloseFailed, actorID, false, map[string]any{
			"position_id": pos.ID,
			"reason":      err.Error(),
		})
		return nil, err
	}

	o.auditEntry(domain.AuditClosePosition, actorID, true, map[string]any{
		"position_id":  closed.ID,
		"symbol":       closed.Symbol,
		"exit_price":   closed.ExitPrice.String(),
		"exit_reason":  string(closed.ExitReason),
		"realized_pnl": closed.RealizedPnL.String(),
		"dry_run":      o.cfg.DryRun,
	})

	if err := o.ledger.AddDailyVolume(closed.Quantity.Mul(exitPrice)); err != nil {
		o.logger.Warn("daily volume update failed", zap.Error(err))
	}

	return closed, nil
}

// authorize gates admin-only operations and audits every rejection.
func (o *Orchestrator) authorize(actorID int64, operation string) error {
	if _, ok := o.admins[actorID]; ok {
		return nil
	}

	o.auditEntry(domain.AuditUnauthorized, actorID, false, map[string]any{
		"operation": operation,
	})
	o.logger.Warn("unauthorized access attempt",
		zap.Int64("actor_id", actorID),
		zap.String("operation", operation))

	return errors.Wrapf(domain.ErrUnauthorized, "actor %d may not %s", actorID, operation)
}

func (o *Orchestrator) resolvePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, err := retrier.DoWithData(o.retrier, ctx, func(ctx context.Context) (decimal.Decimal, error) {
		return o.feed.GetPrice(ctx, symbol)
	})
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(domain.ErrPriceUnavailable, err.Error())
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Decimal{}, errors.Wrapf(domain.ErrPriceUnavailable, "non-positive price for %s", symbol)
	}
	return price, nil
}

func (o *Orchestrator) auditEntry(action string, actorID int64, success bool, details map[string]any) {
	if err := o.audit.Append(domain.AuditEntry{
		Action:  action,
		ActorID: actorID,
		Success: success,
		Details: details,
	}); err != nil {
		o.logger.Error("audit append failed", zap.String("action", action), zap.Error(err))
	}
}

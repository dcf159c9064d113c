// Package monitor watches open positions on a ticker and reacts to exit
// triggers. Evaluation order per position is fixed: stop-loss, take-profit,
// trailing stop, max loss, risk escalation, staleness, rapid loss, then
// profit/loss milestones. At most one action fires per position per tick.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"treasury-engine/internal/domain"
	"treasury-engine/internal/ledger"
	"treasury-engine/internal/risk"
	"treasury-engine/internal/services/pricefeed"
)

const (
	defaultInterval   = 30 * time.Second
	defaultCooldown   = 5 * time.Minute
	defaultStaleAfter = 72 * time.Hour

	// rapid loss: peak-to-current PnL drop of 15 points inside 30 minutes
	rapidLossDropPct = 15.0
	rapidLossWindow  = 30 * time.Minute
)

// profit and loss milestone levels in percent
var (
	profitMilestones = []int{5, 10, 20, 50, 100}
	lossMilestones   = []int{5, 10, 20, 30}
)

// AlertType labels what fired.
type AlertType string

const (
	AlertRiskEscalation  AlertType = "risk_escalation"
	AlertStalePosition   AlertType = "stale_position"
	AlertRapidLoss       AlertType = "rapid_loss"
	AlertProfitMilestone AlertType = "profit_milestone"
	AlertLossMilestone   AlertType = "loss_milestone"
	AlertForcedClose     AlertType = "forced_close"
)

// Alert is delivered to registered handlers.
type Alert struct {
	PositionID string
	Symbol     string
	Type       AlertType
	Message    string
	Price      decimal.Decimal
	PnLPct     decimal.Decimal
	RiskLevel  domain.RiskLevel
}

// Handler consumes alerts. Handlers run asynchronously; a failing handler
// never blocks monitoring or other handlers.
type Handler func(ctx context.Context, alert Alert) error

// PositionCloser closes positions on the monitor's behalf. The orchestrator
// implements this with its two-phase close path.
type PositionCloser interface {
	ForceClose(ctx context.Context, positionID string, reason domain.ExitReason) (*domain.Position, error)
}

// Stats are cumulative monitor counters.
type Stats struct {
	Ticks           uint64
	AlertsSent      uint64
	ClosesTriggered uint64
	HandlerFailures uint64
	Suppressed      uint64
}

// Monitor drives periodic evaluation of all open positions.
type Monitor struct {
	ledger   *ledger.Ledger
	feed     pricefeed.PriceFeed
	engine   *risk.Engine
	closer   PositionCloser
	limits   domain.Limits
	logger   *zap.Logger
	interval time.Duration
	cooldown time.Duration
	stale    time.Duration
	nowFn    func() time.Time

	mu        sync.Mutex
	handlers  []Handler
	lastAlert map[string]time.Time // keyed position_id:alert_type
	peaks     map[string]peak
	stats     Stats
}

type peak struct {
	pnlPct decimal.Decimal
	at     time.Time
}

// Option tunes the monitor.
type Option func(*Monitor)

// WithInterval overrides the default 30s tick interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithCooldown overrides the default 5m alert cooldown.
func WithCooldown(d time.Duration) Option {
	return func(m *Monitor) { m.cooldown = d }
}

// WithStaleAfter overrides the default 72h staleness threshold.
func WithStaleAfter(d time.Duration) Option {
	return func(m *Monitor) { m.stale = d }
}

// New creates a monitor over the given ledger and price feed.
func New(lg *ledger.Ledger, feed pricefeed.PriceFeed, engine *risk.Engine, closer PositionCloser, limits domain.Limits, logger *zap.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Monitor{
		ledger:    lg,
		feed:      feed,
		engine:    engine,
		closer:    closer,
		limits:    limits,
		logger:    logger,
		interval:  defaultInterval,
		cooldown:  defaultCooldown,
		stale:     defaultStaleAfter,
		nowFn:     func() time.Time { return time.Now().UTC() },
		lastAlert: make(map[string]time.Time),
		peaks:     make(map[string]peak),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers an alert handler.
func (m *Monitor) Subscribe(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Stats returns a snapshot of the monitor counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Run evaluates positions every interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("position monitor started", zap.Duration("interval", m.interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("position monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick evaluates every open position once.
func (m *Monitor) Tick(ctx context.Context) {
	m.mu.Lock()
	m.stats.Ticks++
	m.mu.Unlock()

	for _, pos := range m.ledger.ListOpen() {
		m.evaluate(ctx, pos)
	}
}

func (m *Monitor) evaluate(ctx context.Context, pos *domain.Position) {
	price, err := m.feed.GetPrice(ctx, pos.Symbol)
	if err != nil {
		m.logger.Warn("price unavailable, skipping position",
			zap.String("position_id", pos.ID),
			zap.String("symbol", pos.Symbol),
			zap.Error(err))
		return
	}

	// the ListOpen snapshot may be stale: an admin can close the position
	// between ticks, so a failed recompute only skips it
	updated, err := m.ledger.Recompute(pos.ID, price)
	if err != nil {
		m.logger.Warn("recompute failed, skipping position",
			zap.String("position_id", pos.ID),
			zap.Error(err))
		return
	}
	pos = updated

	pnlPct := pos.UnrealizedPnLPct
	m.trackPeak(pos.ID, pnlPct)

	// hard exits first
	if reason, ok := m.exitTrigger(pos, price); ok {
		m.forceClose(ctx, pos, price, reason)
		return
	}

	assessment := m.engine.Assess(pos, price)
	if assessment.Level == domain.RiskLiquidation {
		m.forceClose(ctx, pos, price, domain.ExitLiquidationRisk)
		return
	}
	if assessment.Level.Severity() >= domain.RiskHigh.Severity() {
		if m.alert(ctx, Alert{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Type:       AlertRiskEscalation,
			Message:    fmt.Sprintf("%s risk on %s: health %s, %s%% from liquidation", assessment.Level, pos.Symbol, assessment.HealthFactor.StringFixed(2), assessment.DistancePct.StringFixed(1)),
			Price:      price,
			PnLPct:     pnlPct,
			RiskLevel:  assessment.Level,
		}) {
			return
		}
	}

	if pos.Age(m.nowFn()) > m.stale {
		if m.alert(ctx, Alert{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Type:       AlertStalePosition,
			Message:    fmt.Sprintf("%s position open for %.0fh", pos.Symbol, pos.Age(m.nowFn()).Hours()),
			Price:      price,
			PnLPct:     pnlPct,
		}) {
			return
		}
	}

	if m.rapidLoss(pos.ID, pnlPct) {
		if m.alert(ctx, Alert{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Type:       AlertRapidLoss,
			Message:    fmt.Sprintf("%s dropped %.0f+ points from its high-water mark within %s", pos.Symbol, rapidLossDropPct, rapidLossWindow),
			Price:      price,
			PnLPct:     pnlPct,
		}) {
			return
		}
	}

	m.milestones(ctx, pos, price, pnlPct)
}

// exitTrigger returns the close reason for breached exit levels, checked in
// priority order: stop-loss, take-profit, trailing stop, max loss.
func (m *Monitor) exitTrigger(pos *domain.Position, price decimal.Decimal) (domain.ExitReason, bool) {
	long := pos.Direction == domain.DirectionLong

	if long && price.LessThanOrEqual(pos.StopLoss) || !long && price.GreaterThanOrEqual(pos.StopLoss) {
		return domain.ExitStopLoss, true
	}
	if long && price.GreaterThanOrEqual(pos.TakeProfit) || !long && price.LessThanOrEqual(pos.TakeProfit) {
		return domain.ExitTakeProfit, true
	}
	if pos.TrailingStop.IsPositive() {
		if long && price.LessThanOrEqual(pos.TrailingStop) || !long && price.GreaterThanOrEqual(pos.TrailingStop) {
			return domain.ExitTrailingStop, true
		}
	}
	if m.limits.MaxLossPerPosition.IsPositive() {
		maxLossPct := m.limits.MaxLossPerPosition.Mul(decimal.NewFromInt(100)).Neg()
		if pos.UnrealizedPnLPct.LessThanOrEqual(maxLossPct) {
			return domain.ExitMaxLoss, true
		}
	}
	return "", false
}

func (m *Monitor) forceClose(ctx context.Context, pos *domain.Position, price decimal.Decimal, reason domain.ExitReason) {
	closed, err := m.closer.ForceClose(ctx, pos.ID, reason)
	if err != nil {
		m.logger.Error("trigger close failed",
			zap.String("position_id", pos.ID),
			zap.String("reason", string(reason)),
			zap.Error(err))
		return
	}

	m.mu.Lock()
	m.stats.ClosesTriggered++
	delete(m.peaks, pos.ID)
	m.mu.Unlock()

	// closes bypass the cooldown; operators always hear about them
	m.dispatch(ctx, Alert{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Type:       AlertForcedClose,
		Message:    fmt.Sprintf("%s closed (%s) at %s, realized %s", pos.Symbol, reason, closed.ExitPrice, closed.RealizedPnL),
		Price:      price,
		PnLPct:     closed.PnLPct(closed.ExitPrice),
	})
}

func (m *Monitor) trackPeak(id string, pnlPct decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peaks[id]
	if !ok || pnlPct.GreaterThan(p.pnlPct) {
		m.peaks[id] = peak{pnlPct: pnlPct, at: m.nowFn()}
	}
}

func (m *Monitor) rapidLoss(id string, pnlPct decimal.Decimal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peaks[id]
	if !ok {
		return false
	}
	drop := p.pnlPct.Sub(pnlPct)
	return drop.GreaterThanOrEqual(decimal.NewFromFloat(rapidLossDropPct)) &&
		m.nowFn().Sub(p.at) <= rapidLossWindow
}

func (m *Monitor) milestones(ctx context.Context, pos *domain.Position, price, pnlPct decimal.Decimal) {
	if pnlPct.IsPositive() {
		for i := len(profitMilestones) - 1; i >= 0; i-- {
			level := profitMilestones[i]
			if pnlPct.GreaterThanOrEqual(decimal.NewFromInt(int64(level))) {
				m.alert(ctx, Alert{
					PositionID: pos.ID,
					Symbol:     pos.Symbol,
					Type:       AlertType(fmt.Sprintf("%s_%d", AlertProfitMilestone, level)),
					Message:    fmt.Sprintf("%s up %s%% (milestone +%d%%)", pos.Symbol, pnlPct.StringFixed(1), level),
					Price:      price,
					PnLPct:     pnlPct,
				})
				return
			}
		}
		return
	}

	loss := pnlPct.Neg()
	for i := len(lossMilestones) - 1; i >= 0; i-- {
		level := lossMilestones[i]
		if loss.GreaterThanOrEqual(decimal.NewFromInt(int64(level))) {
			m.alert(ctx, Alert{
				PositionID: pos.ID,
				Symbol:     pos.Symbol,
				Type:       AlertType(fmt.Sprintf("%s_%d", AlertLossMilestone, level)),
				Message:    fmt.Sprintf("%s down %s%% (milestone -%d%%)", pos.Symbol, loss.StringFixed(1), level),
				Price:      price,
				PnLPct:     pnlPct,
			})
			return
		}
	}
}

// alert dispatches unless the position/type pair is still cooling down.
// Returns true when the alert was sent.
func (m *Monitor) alert(ctx context.Context, a Alert) bool {
	key := a.PositionID + ":" + string(a.Type)

	m.mu.Lock()
	if last, ok := m.lastAlert[key]; ok && m.nowFn().Sub(last) < m.cooldown {
		m.stats.Suppressed++
		m.mu.Unlock()
		return false
	}
	m.lastAlert[key] = m.nowFn()
	m.mu.Unlock()

	m.dispatch(ctx, a)
	return true
}

func (m *Monitor) dispatch(ctx context.Context, a Alert) {
	m.mu.Lock()
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.stats.AlertsSent++
	m.mu.Unlock()

	m.logger.Info("alert",
		zap.String("position_id", a.PositionID),
		zap.String("type", string(a.Type)),
		zap.String("message", a.Message))

	for _, h := range handlers {
		go func(h Handler) {
			if err := h(ctx, a); err != nil {
				m.mu.Lock()
				m.stats.HandlerFailures++
				m.mu.Unlock()
				m.logger.Warn("alert handler failed",
					zap.String("type", string(a.Type)),
					zap.Error(err))
			}
		}(h)
	}
}

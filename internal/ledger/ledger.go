// Package ledger is the single source of truth for positions. One mutex
// guards the active set, trade history and every persistence write; venue
// calls never run under it. Execution holds a RESERVED slot between Reserve
// and CommitOpen so capacity covers in-flight trades.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"treasury-engine/internal/domain"
)

// Ledger tracks open positions, reservations and closed-trade history.
type Ledger struct {
	mu sync.Mutex

	store  *Store
	logger *zap.Logger
	nowFn  func() time.Time

	// guarded by mu
	positions map[string]*domain.Position // OPEN and RESERVED
	history   []*domain.Position
	volume    decimal.Decimal
	volumeDay string
}

// New loads ledger state from the store. Reservations never survive a
// restart; terminal records load into history only.
func New(store *Store, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	positions, err := store.LoadPositions()
	if err != nil {
		return nil, err
	}
	history, err := store.LoadHistory()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	volume, err := store.LoadDailyVolume(now)
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		store:     store,
		logger:    logger,
		nowFn:     func() time.Time { return time.Now().UTC() },
		positions: positions,
		history:   history,
		volume:    volume,
		volumeDay: now.Format("2006-01-02"),
	}

	// write back immediately so freshly migrated legacy records land in
	// the canonical files before anything else happens
	if err := l.persistPositionsLocked(); err != nil {
		return nil, err
	}
	if err := store.SaveHistory(history); err != nil {
		return nil, err
	}

	logger.Info("ledger loaded",
		zap.Int("open_positions", len(positions)),
		zap.Int("history_records", len(history)),
		zap.String("daily_volume", volume.String()))

	return l, nil
}

// Reserve claims a capacity slot for an in-flight trade and returns its id.
// The slot exists only in memory and must end in CommitOpen or Release.
func (l *Ledger) Reserve(symbol string, notionalUSD decimal.Decimal, maxPositions int) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if maxPositions > 0 && len(l.positions) >= maxPositions {
		return "", errors.Wrapf(domain.ErrCapacityExceeded,
			"%d of %d position slots in use", len(l.positions), maxPositions)
	}

	id := uuid.NewString()
	l.positions[id] = &domain.Position{
		ID:          id,
		Symbol:      symbol,
		NotionalUSD: notionalUSD,
		Status:      domain.StatusReserved,
		OpenedAt:    l.nowFn(),
	}

	l.logger.Debug("slot reserved", zap.String("position_id", id), zap.String("symbol", symbol))
	return id, nil
}

// Release frees a reservation after a failed or abandoned execution.
// Releasing an unknown or already committed id is a no-op.
func (l *Ledger) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.positions[id]; ok && p.Status == domain.StatusReserved {
		delete(l.positions, id)
		l.logger.Debug("slot released", zap.String("position_id", id))
	}
}

// CommitOpen turns a reservation into an OPEN position and persists it.
// On a persistence failure the reservation is restored and ErrPersistence
// returned; the caller still owns the slot.
func (l *Ledger) CommitOpen(id string, params domain.PositionParams) (*domain.Position, error) {
	params.ID = id

	pos, err := domain.NewPosition(params)
	if err != nil {
		return nil, errors.Wrap(domain.ErrValidation, err.Error())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	reserved, ok := l.positions[id]
	if !ok || reserved.Status != domain.StatusReserved {
		return nil, errors.Wrapf(domain.ErrValidation, "no reservation for position %s", id)
	}

	l.positions[id] = pos
	if err := l.persistPositionsLocked(); err != nil {
		l.positions[id] = reserved
		return nil, err
	}

	l.logger.Info("position opened",
		zap.String("position_id", id),
		zap.String("symbol", pos.Symbol),
		zap.String("direction", string(pos.Direction)),
		zap.String("entry_price", pos.EntryPrice.String()),
		zap.String("notional_usd", pos.NotionalUSD.String()))

	return pos.Clone(), nil
}

// RecordClose finalizes a position at the given exit price and moves it to
// history. Closing an id already in history returns the historical record
// unchanged, so retries are safe.
func (l *Ledger) RecordClose(id string, exitPrice decimal.Decimal, reason domain.ExitReason) (*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, h := range l.history {
		if h.ID == id {
			return h.Clone(), nil
		}
	}

	pos, ok := l.positions[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrPositionNotFound, "position %s", id)
	}
	if pos.Status != domain.StatusOpen {
		return nil, errors.Wrapf(domain.ErrValidation, "position %s is %s, not OPEN", id, pos.Status)
	}
	if exitPrice.LessThanOrEqual(decimal.Zero) {
		return nil, errors.Wrap(domain.ErrValidation, "exit price must be positive")
	}

	closed := pos.Clone()
	closedAt := l.nowFn()
	closed.ClosedAt = &closedAt
	closed.CurrentPrice = exitPrice
	closed.ExitPrice = exitPrice
	closed.ExitReason = reason
	closed.RealizedPnL = closed.PnL(exitPrice)
	closed.UnrealizedPnL = decimal.Zero
	closed.UnrealizedPnLPct = decimal.Zero
	if reason == domain.ExitLiquidationRisk {
		closed.Status = domain.StatusLiquidated
	} else {
		closed.Status = domain.StatusClosed
	}

	delete(l.positions, id)
	l.history = append(l.history, closed)

	if err := l.persistPositionsLocked(); err != nil {
		l.positions[id] = pos
		l.history = l.history[:len(l.history)-1]
		return nil, err
	}
	if err := l.store.SaveHistory(l.history); err != nil {
		// positions file already dropped the record; restore memory and
		// rewrite so state stays consistent.
		l.positions[id] = pos
		l.history = l.history[:len(l.history)-1]
		if rerr := l.persistPositionsLocked(); rerr != nil {
			l.logger.Error("rollback rewrite failed", zap.String("position_id", id), zap.Error(rerr))
		}
		return nil, err
	}

	l.logger.Info("position closed",
		zap.String("position_id", id),
		zap.String("exit_reason", string(reason)),
		zap.String("exit_price", exitPrice.String()),
		zap.String("realized_pnl", closed.RealizedPnL.String()))

	return closed.Clone(), nil
}

// Recompute refreshes a position's mark price, unrealized PnL and trailing
// stop. The trailing stop only ever tightens; repeating the same price is a
// no-op. The updated snapshot is returned.
func (l *Ledger) Recompute(id string, price decimal.Decimal) (*domain.Position, error) {
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, errors.Wrap(domain.ErrValidation, "price must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[id]
	if !ok || pos.Status != domain.StatusOpen {
		return nil, errors.Wrapf(domain.ErrPositionNotFound, "open position %s", id)
	}

	prev := pos.Clone()

	pos.CurrentPrice = price
	pos.UnrealizedPnL = pos.PnL(price)
	pos.UnrealizedPnLPct = pos.PnLPct(price)

	if pos.TrailingStopPct.IsPositive() {
		one := decimal.NewFromInt(1)
		if pos.Direction == domain.DirectionLong {
			candidate := price.Mul(one.Sub(pos.TrailingStopPct))
			if pos.TrailingStop.IsZero() || candidate.GreaterThan(pos.TrailingStop) {
				pos.TrailingStop = candidate
			}
		} else {
			candidate := price.Mul(one.Add(pos.TrailingStopPct))
			if pos.TrailingStop.IsZero() || candidate.LessThan(pos.TrailingStop) {
				pos.TrailingStop = candidate
			}
		}
	}

	if err := l.persistPositionsLocked(); err != nil {
		l.positions[id] = prev
		return nil, err
	}

	return pos.Clone(), nil
}

// Get returns a snapshot of a tracked position.
func (l *Ledger) Get(id string) (*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pos, ok := l.positions[id]; ok {
		return pos.Clone(), nil
	}
	for _, h := range l.history {
		if h.ID == id {
			return h.Clone(), nil
		}
	}
	return nil, errors.Wrapf(domain.ErrPositionNotFound, "position %s", id)
}

// ListOpen returns snapshots of OPEN positions only.
func (l *Ledger) ListOpen() []*domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		if p.Status == domain.StatusOpen {
			out = append(out, p.Clone())
		}
	}
	return out
}

// ListActive returns OPEN positions plus in-flight reservations, the set
// exposure checks must count.
func (l *Ledger) ListActive() []*domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p.Clone())
	}
	return out
}

// History returns closed trades, oldest first.
func (l *Ledger) History() []*domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*domain.Position, 0, len(l.history))
	for _, p := range l.history {
		out = append(out, p.Clone())
	}
	return out
}

// AddDailyVolume adds traded USD volume to the current UTC day, replacing
// the record when the day rolls over.
func (l *Ledger) AddDailyVolume(usd decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.nowFn().Format("2006-01-02")
	prevVolume, prevDay := l.volume, l.volumeDay
	if today != l.volumeDay {
		l.volume = decimal.Zero
		l.volumeDay = today
	}
	l.volume = l.volume.Add(usd)

	if err := l.store.SaveDailyVolume(l.nowFn(), l.volume); err != nil {
		l.volume, l.volumeDay = prevVolume, prevDay
		return err
	}
	return nil
}

// DailyVolume returns the traded USD volume for the current UTC day.
func (l *Ledger) DailyVolume() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.nowFn().Format("2006-01-02") != l.volumeDay {
		return decimal.Zero
	}
	return l.volume
}

// RealizedToday sums realized PnL of trades closed during the current UTC
// day. The daily-loss limit is enforced against this number.
func (l *Ledger) RealizedToday() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.nowFn().Format("2006-01-02")
	total := decimal.Zero
	for _, h := range l.history {
		if h.ClosedAt != nil && h.ClosedAt.UTC().Format("2006-01-02") == today {
			total = total.Add(h.RealizedPnL)
		}
	}
	return total
}

// persistPositionsLocked writes the OPEN subset of the active set. The
// caller must hold mu. Reservations are deliberately excluded.
func (l *Ledger) persistPositionsLocked() error {
	open := make(map[string]*domain.Position, len(l.positions))
	for id, p := range l.positions {
		if p.Status == domain.StatusOpen {
			open[id] = p
		}
	}
	return l.store.SavePositions(open)
}

// ledger/ledger.go
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"riskfortress/logs"
)

var (
	// ErrInsufficientMargin is returned when available balance cannot cover
	// the margin a new position would require.
	ErrInsufficientMargin = errors.New("insufficient margin")

	// ErrPositionNotFound is returned when closing an unknown position id.
	ErrPositionNotFound = errors.New("position not found")
)

// OpenRequest describes the position the coordinator has admitted.
type OpenRequest struct {
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	Exchange   string
}

// Ledger owns the account. All mutations happen through its methods; callers
// that need a consistent view take a Snapshot. The coordinator serializes
// admission-path calls, but the ledger keeps its own lock so emergency
// flattening and mark-to-market ticks are safe from any goroutine.
type Ledger struct {
	mu       sync.RWMutex
	state    AccountState
	leverage decimal.Decimal

	// tracked incrementally and checked against the recomputed sum to catch
	// internal corruption (CheckInvariant)
	trackedExposure decimal.Decimal

	events chan Event
}

// New creates a ledger for an account with the given starting balance.
func New(balance, leverage decimal.Decimal, eventQueueSize int) *Ledger {
	l := &Ledger{
		leverage: leverage,
		state: AccountState{
			Balance:             balance,
			AvailableBalance:    balance,
			EquityHighWaterMark: balance,
			DailyLoss:           decimal.Zero,
			Positions:           make(map[string]Position),
		},
		trackedExposure: decimal.Zero,
		events:          make(chan Event, eventQueueSize),
	}
	return l
}

// Snapshot returns a consistent point-in-time copy of the account state.
func (l *Ledger) Snapshot() AccountState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.clone()
}

// OpenPosition creates a position and updates exposure atomically with the
// margin check. Returns ErrInsufficientMargin when the account cannot carry it.
func (l *Ledger) OpenPosition(req OpenRequest) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	notional := req.Quantity.Mul(req.EntryPrice)
	margin := notional.Div(l.leverage)
	if margin.GreaterThan(l.state.AvailableBalance) {
		return Position{}, fmt.Errorf("%w: required margin %s exceeds available balance %s",
			ErrInsufficientMargin, margin.StringFixed(2), l.state.AvailableBalance.StringFixed(2))
	}

	pos := Position{
		ID:           uuid.NewString(),
		Symbol:       req.Symbol,
		Side:         req.Side,
		Quantity:     req.Quantity,
		EntryPrice:   req.EntryPrice,
		StopLoss:     req.StopLoss,
		CurrentPrice: req.EntryPrice,
		Exchange:     req.Exchange,
		OpenedAt:     time.Now(),
	}

	l.state.Positions[pos.ID] = pos
	l.state.AvailableBalance = l.state.AvailableBalance.Sub(margin)
	l.state.DailyTrades++
	l.trackedExposure = l.trackedExposure.Add(notional)

	l.emit(Event{
		Type:       EventPositionOpened,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Quantity:   pos.Quantity,
		Price:      pos.EntryPrice,
	})
	return pos, nil
}

// ClosePosition removes a position at the given exit price and returns the
// realized PnL. Balance, daily loss and the equity high-water mark are updated.
func (l *Ledger) ClosePosition(positionID string, exitPrice decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.state.Positions[positionID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}

	var pnl decimal.Decimal
	if pos.Side == Short {
		pnl = pos.EntryPrice.Sub(exitPrice).Mul(pos.Quantity)
	} else {
		pnl = exitPrice.Sub(pos.EntryPrice).Mul(pos.Quantity)
	}

	margin := pos.EntryPrice.Mul(pos.Quantity).Div(l.leverage)
	delete(l.state.Positions, positionID)
	l.trackedExposure = l.trackedExposure.Sub(pos.Notional())

	l.state.Balance = l.state.Balance.Add(pnl)
	l.state.AvailableBalance = l.state.AvailableBalance.Add(margin).Add(pnl)
	if pnl.IsNegative() {
		l.state.DailyLoss = l.state.DailyLoss.Add(pnl.Neg())
	}

	equity := l.state.Equity()
	if equity.GreaterThan(l.state.EquityHighWaterMark) {
		l.state.EquityHighWaterMark = equity
	}

	l.emit(Event{
		Type:        EventPositionClosed,
		PositionID:  positionID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Quantity:    pos.Quantity,
		Price:       exitPrice,
		RealizedPnL: pnl,
	})
	return pnl, nil
}

// MarkToMarket updates the current price of every open position in a symbol.
// The high-water mark rises with equity but never falls.
func (l *Ledger) MarkToMarket(symbol string, price decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, pos := range l.state.Positions {
		if pos.Symbol != symbol {
			continue
		}
		l.trackedExposure = l.trackedExposure.Sub(pos.Notional())
		pos.CurrentPrice = price
		l.trackedExposure = l.trackedExposure.Add(pos.Notional())
		l.state.Positions[id] = pos
	}

	equity := l.state.Equity()
	if equity.GreaterThan(l.state.EquityHighWaterMark) {
		l.state.EquityHighWaterMark = equity
	}
}

// Equity returns the current account equity.
func (l *Ledger) Equity() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Equity()
}

// OpenPositionCount returns the number of open positions.
func (l *Ledger) OpenPositionCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.state.Positions)
}

// RollDaily resets the daily loss and trade counters. This is the only way the
// counters reset; there is no wall-clock trigger inside the engine.
func (l *Ledger) RollDaily(ts time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	logs.Infof("[Ledger] Daily rollover at %s. Previous: loss=%s trades=%d",
		ts.Format(time.RFC3339), l.state.DailyLoss.StringFixed(2), l.state.DailyTrades)
	l.state.DailyLoss = decimal.Zero
	l.state.DailyTrades = 0
	l.state.LastRollover = ts

	l.emit(Event{Type: EventDailyRollover, Detail: ts.Format(time.RFC3339)})
}

// ResetHighWaterMark sets the high-water mark to current equity. Explicit
// account-reset operation; nothing else ever lowers the mark.
func (l *Ledger) ResetHighWaterMark() {
	l.mu.Lock()
	defer l.mu.Unlock()

	equity := l.state.Equity()
	logs.Warnf("[Ledger] High-water mark reset: %s -> %s",
		l.state.EquityHighWaterMark.StringFixed(2), equity.StringFixed(2))
	l.state.EquityHighWaterMark = equity

	l.emit(Event{Type: EventHWMReset, Detail: equity.StringFixed(2)})
}

// Restore rehydrates persisted counters after a restart.
func (l *Ledger) Restore(hwm, dailyLoss decimal.Decimal, dailyTrades int, lastRollover time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if hwm.GreaterThan(l.state.EquityHighWaterMark) {
		l.state.EquityHighWaterMark = hwm
	}
	l.state.DailyLoss = dailyLoss
	l.state.DailyTrades = dailyTrades
	l.state.LastRollover = lastRollover
}

// CheckInvariant verifies that incrementally tracked exposure matches the sum
// recomputed from open positions. A mismatch means internal corruption and the
// caller must treat it as fatal.
func (l *Ledger) CheckInvariant() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	recomputed := l.state.TotalExposure()
	if !l.trackedExposure.Equal(recomputed) {
		return fmt.Errorf("ledger invariant violated: tracked exposure %s != recomputed %s",
			l.trackedExposure.String(), recomputed.String())
	}
	return nil
}

// risk/drawdown.go
package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"riskfortress/logs"
)

// softFraction of MaxDrawdown at which the monitor starts tightening
// per-trade risk. Between soft and hard the allowance ramps linearly from the
// base MaxRiskPerTrade down to zero, so the shadow limits are continuous.
var softFraction = decimal.NewFromFloat(0.66)

// HardTriggerFunc is called once when drawdown reaches the hard limit. It is
// invoked outside the monitor's lock.
type HardTriggerFunc func(current, limit decimal.Decimal)

// DrawdownMonitor tracks equity against its high-water mark and derives
// tightened shadow limits as drawdown grows. The base limits are never
// mutated; Adjusted returns an immutable copy or nil.
type DrawdownMonitor struct {
	mu        sync.Mutex
	base      Limits
	hwm       decimal.Decimal
	equity    decimal.Decimal
	adjusted  *Limits
	hardFired bool
	onHard    HardTriggerFunc
}

// NewDrawdownMonitor starts the monitor at the account's initial equity.
func NewDrawdownMonitor(base Limits, initialEquity decimal.Decimal, onHard HardTriggerFunc) *DrawdownMonitor {
	return &DrawdownMonitor{
		base:   base,
		hwm:    initialEquity,
		equity: initialEquity,
		onHard: onHard,
	}
}

// OnEquity recomputes drawdown after an equity-affecting event (position
// close, mark-to-market tick). Returns true when the adjusted limits changed,
// so callers can publish a limit-adjustment event.
func (m *DrawdownMonitor) OnEquity(equity decimal.Decimal) bool {
	m.mu.Lock()

	m.equity = equity
	if equity.GreaterThan(m.hwm) {
		m.hwm = equity
	}

	dd := m.currentLocked()
	hard := m.base.MaxDrawdown

	var fireHard bool
	if dd.GreaterThanOrEqual(hard) && !m.hardFired {
		m.hardFired = true
		fireHard = true
	}

	changed := false
	if adj, tightened := m.base.AdjustedFor(dd); tightened {
		if m.adjusted == nil || !m.adjusted.MaxRiskPerTrade.Equal(adj.MaxRiskPerTrade) {
			m.adjusted = &adj
			changed = true
			logs.Warnf("[Drawdown] Drawdown %s past soft threshold, per-trade risk tightened to %s",
				dd.StringFixed(4), adj.MaxRiskPerTrade.StringFixed(6))
		}
	} else if m.adjusted != nil {
		m.adjusted = nil
		changed = true
		logs.Infof("[Drawdown] Drawdown %s back under soft threshold, base limits restored", dd.StringFixed(4))
	}

	onHard := m.onHard
	m.mu.Unlock()

	if fireHard && onHard != nil {
		logs.Errorf("[Drawdown] Hard drawdown limit reached: %s >= %s", dd.StringFixed(4), hard.String())
		onHard(dd, hard)
	}
	return changed
}

func (m *DrawdownMonitor) currentLocked() decimal.Decimal {
	if !m.hwm.IsPositive() {
		return decimal.Zero
	}
	dd := m.hwm.Sub(m.equity).Div(m.hwm)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

// Current returns the present drawdown fraction.
func (m *DrawdownMonitor) Current() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked()
}

// Adjusted returns the tightened shadow limits, or nil while drawdown is
// under the soft threshold.
func (m *DrawdownMonitor) Adjusted() *Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.adjusted == nil {
		return nil
	}
	cp := *m.adjusted
	return &cp
}

// HighWaterMark returns the equity high-water mark.
func (m *DrawdownMonitor) HighWaterMark() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hwm
}

// Restore rehydrates the high-water mark from persisted state. The mark only
// moves up.
func (m *DrawdownMonitor) Restore(hwm decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hwm.GreaterThan(m.hwm) {
		m.hwm = hwm
	}
}

// Reset drops the high-water mark to current equity and re-arms the hard
// trigger. Explicit account-reset operation, typically part of a confirmed
// recovery.
func (m *DrawdownMonitor) Reset(equity decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logs.Warnf("[Drawdown] High-water mark reset: %s -> %s", m.hwm.StringFixed(2), equity.StringFixed(2))
	m.hwm = equity
	m.equity = equity
	m.adjusted = nil
	m.hardFired = false
}

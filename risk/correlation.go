// risk/correlation.go
package risk

import (
	"github.com/shopspring/decimal"

	"riskfortress/config"
	"riskfortress/ledger"
)

// Bucket is one static correlation group. Exposure is recomputed from the
// live snapshot on every check; there are no cached counters to drift.
type Bucket struct {
	Name    string
	Symbols map[string]bool
	Cap     decimal.Decimal // zero means use the account-level cap
}

// CorrelationRiskManager caps aggregate exposure per operator-defined bucket.
// A symbol may belong to several buckets; the trade must fit in all of them.
type CorrelationRiskManager struct {
	buckets  []Bucket
	bySymbol map[string][]int // symbol -> indexes into buckets
}

// NewCorrelationRiskManager builds the manager from validated bucket config.
func NewCorrelationRiskManager(cfgs []config.BucketConfig) *CorrelationRiskManager {
	m := &CorrelationRiskManager{
		bySymbol: make(map[string][]int),
	}
	for i, c := range cfgs {
		b := Bucket{
			Name:    c.Name,
			Symbols: make(map[string]bool, len(c.Symbols)),
		}
		if c.Cap > 0 {
			b.Cap = decimal.NewFromFloat(c.Cap)
		}
		for _, sym := range c.Symbols {
			b.Symbols[sym] = true
			m.bySymbol[sym] = append(m.bySymbol[sym], i)
		}
		m.buckets = append(m.buckets, b)
	}
	return m
}

// Check sums live exposure for every bucket containing the trade's symbol and
// rejects on the first bucket whose cap the proposed notional would breach.
func (m *CorrelationRiskManager) Check(snapshot ledger.AccountState, trade ProposedTrade, defaultCap decimal.Decimal) *Rejection {
	idxs, ok := m.bySymbol[trade.Symbol]
	if !ok {
		return nil
	}

	for _, i := range idxs {
		b := m.buckets[i]
		capFrac := b.Cap
		if capFrac.IsZero() {
			capFrac = defaultCap
		}
		limit := capFrac.Mul(snapshot.Balance)

		exposure := trade.Notional()
		for _, p := range snapshot.Positions {
			if b.Symbols[p.Symbol] {
				exposure = exposure.Add(p.Notional())
			}
		}
		if exposure.GreaterThan(limit) {
			return Rejectf(ReasonCorrelation,
				"bucket %q exposure %s exceeds max %s (%s of balance %s)",
				b.Name, exposure.StringFixed(2), limit.StringFixed(2),
				capFrac.String(), snapshot.Balance.StringFixed(2))
		}
	}
	return nil
}

// Exposures reports current per-bucket exposure from a snapshot, for status
// and metrics output.
func (m *CorrelationRiskManager) Exposures(snapshot ledger.AccountState) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m.buckets))
	for _, b := range m.buckets {
		sum := decimal.Zero
		for _, p := range snapshot.Positions {
			if b.Symbols[p.Symbol] {
				sum = sum.Add(p.Notional())
			}
		}
		out[b.Name] = sum
	}
	return out
}

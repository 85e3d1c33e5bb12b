// risk/limits.go
package risk

import (
	"github.com/shopspring/decimal"

	"riskfortress/config"
	"riskfortress/ledger"
)

// Limits is the immutable base risk configuration. The drawdown monitor may
// derive a tightened shadow copy; nothing ever mutates the base.
type Limits struct {
	MaxRiskPerTrade       decimal.Decimal // fraction of balance risked per trade
	MaxDailyLoss          decimal.Decimal // fraction of balance
	MaxTotalExposure      decimal.Decimal // multiple of balance
	MaxDrawdown           decimal.Decimal // fraction of high-water mark
	MaxCorrelatedExposure decimal.Decimal // fraction of balance per bucket
}

// LimitsFromConfig converts the validated YAML limits into decimals.
func LimitsFromConfig(c *config.LimitsConfig) Limits {
	return Limits{
		MaxRiskPerTrade:       decimal.NewFromFloat(c.MaxRiskPerTrade),
		MaxDailyLoss:          decimal.NewFromFloat(c.MaxDailyLoss),
		MaxTotalExposure:      decimal.NewFromFloat(c.MaxTotalExposure),
		MaxDrawdown:           decimal.NewFromFloat(c.MaxDrawdown),
		MaxCorrelatedExposure: decimal.NewFromFloat(c.MaxCorrelatedExposure),
	}
}

// Sane reports whether the limits are internally usable. Recovery validation
// refuses to resume trading on nonsense limits.
func (l Limits) Sane() bool {
	one := decimal.NewFromInt(1)
	switch {
	case !l.MaxRiskPerTrade.IsPositive(), l.MaxRiskPerTrade.GreaterThanOrEqual(one):
		return false
	case !l.MaxDailyLoss.IsPositive(), l.MaxDailyLoss.GreaterThanOrEqual(one):
		return false
	case !l.MaxTotalExposure.IsPositive():
		return false
	case !l.MaxDrawdown.IsPositive(), l.MaxDrawdown.GreaterThanOrEqual(one):
		return false
	case !l.MaxCorrelatedExposure.IsPositive():
		return false
	}
	return true
}

// AdjustedFor derives the shadow limits for the given drawdown fraction.
// Between the soft and hard thresholds MaxRiskPerTrade scales down linearly,
// reaching zero at the hard limit; at or below the soft threshold the base
// limits apply unchanged and tightened reports false.
func (l Limits) AdjustedFor(drawdown decimal.Decimal) (adjusted Limits, tightened bool) {
	soft := l.MaxDrawdown.Mul(softFraction)
	if !drawdown.GreaterThan(soft) {
		return l, false
	}
	scale := l.MaxDrawdown.Sub(drawdown).Div(l.MaxDrawdown.Sub(soft))
	if scale.IsNegative() {
		scale = decimal.Zero
	}
	adjusted = l
	adjusted.MaxRiskPerTrade = l.MaxRiskPerTrade.Mul(scale)
	return adjusted, true
}

// ProposedTrade is a trade the strategy layer wants admitted.
type ProposedTrade struct {
	Symbol     string
	Side       ledger.Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	Exchange   string
}

// Notional returns quantity times entry price.
func (t ProposedTrade) Notional() decimal.Decimal {
	return t.Quantity.Mul(t.EntryPrice)
}

// PerUnitRisk is the absolute distance between entry and stop.
func (t ProposedTrade) PerUnitRisk() decimal.Decimal {
	return t.EntryPrice.Sub(t.StopLoss).Abs()
}

// WorstCaseLoss is the loss realized if the stop is hit.
func (t ProposedTrade) WorstCaseLoss() decimal.Decimal {
	return t.PerUnitRisk().Mul(t.Quantity)
}

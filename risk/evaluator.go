// risk/evaluator.go
package risk

import (
	"github.com/shopspring/decimal"

	"riskfortress/ledger"
	"riskfortress/utils"
)

// MaxAllowedSize computes the largest quantity whose stop-out loss stays
// within limits.MaxRiskPerTrade of balance. Callers wanting automatic sizing
// call this explicitly; ValidateTrade never clips a trade silently.
func MaxAllowedSize(snapshot ledger.AccountState, limits Limits, entryPrice, stopLoss decimal.Decimal) (decimal.Decimal, *Rejection) {
	perUnitRisk := entryPrice.Sub(stopLoss).Abs()
	if !perUnitRisk.IsPositive() {
		return decimal.Zero, Rejectf(ReasonInvalidStopLoss,
			"stop loss %s gives non-positive per-unit risk against entry %s",
			stopLoss.String(), entryPrice.String())
	}
	riskAmount := limits.MaxRiskPerTrade.Mul(snapshot.Balance)
	return riskAmount.Div(perUnitRisk), nil
}

// Input bundles everything a single validation needs. Snapshot and Adjusted
// are immutable; the evaluator itself holds no mutable state.
type Input struct {
	Snapshot        ledger.AccountState
	Trade           ProposedTrade
	Adjusted        *Limits // drawdown-tightened shadow limits, nil when inactive
	EmergencyActive bool
}

// Decision is the outcome of a validation.
type Decision struct {
	Allowed   bool
	Rejection *Rejection
}

func allow() Decision            { return Decision{Allowed: true} }
func deny(r *Rejection) Decision { return Decision{Allowed: false, Rejection: r} }

// Evaluator applies the admission checks in a fixed, short-circuiting order:
// emergency gate, per-trade risk, daily loss, total exposure, correlation
// buckets, drawdown-adjusted limits. The first failing check names the
// rejection; later checks are not evaluated.
type Evaluator struct {
	base        Limits
	correlation *CorrelationRiskManager
}

// NewEvaluator creates an evaluator over the base limits and bucket config.
func NewEvaluator(base Limits, correlation *CorrelationRiskManager) *Evaluator {
	return &Evaluator{base: base, correlation: correlation}
}

// BaseLimits returns the immutable base limits.
func (e *Evaluator) BaseLimits() Limits {
	return e.base
}

// Validate runs the full check sequence against a snapshot. All boundaries
// are closed intervals: a trade exactly at a limit is accepted, anything over
// is rejected.
func (e *Evaluator) Validate(in Input) Decision {
	snap := in.Snapshot
	trade := in.Trade
	balance := snap.Balance

	// 1. Emergency gate. The coordinator checks this again at the commit
	// fence; checking here keeps rejections deterministic for callers that
	// use the evaluator directly.
	if in.EmergencyActive {
		return deny(Rejectf(ReasonEmergencyActive, "emergency mode active, all admissions rejected"))
	}

	if !trade.Quantity.IsPositive() {
		return deny(Rejectf(ReasonInvalidQuantity, "quantity %s must be positive", trade.Quantity.String()))
	}

	// 2. Per-trade risk against base limits.
	maxSize, rej := MaxAllowedSize(snap, e.base, trade.EntryPrice, trade.StopLoss)
	if rej != nil {
		return deny(rej)
	}
	riskAmount := e.base.MaxRiskPerTrade.Mul(balance)
	worstCase := trade.WorstCaseLoss()
	if worstCase.GreaterThan(riskAmount) {
		return deny(Rejectf(ReasonPerTradeRisk,
			"trade risk %s exceeds max %s (%s of balance %s); max allowed size %s",
			worstCase.StringFixed(2), riskAmount.StringFixed(2),
			e.base.MaxRiskPerTrade.String(), balance.StringFixed(2),
			maxSize.StringFixed(8)))
	}

	// 3. Daily loss budget.
	dailyBudget := e.base.MaxDailyLoss.Mul(balance)
	projectedLoss := snap.DailyLoss.Add(worstCase)
	if projectedLoss.GreaterThan(dailyBudget) {
		return deny(Rejectf(ReasonDailyLoss,
			"projected daily loss %s exceeds max %s (%s of balance %s)",
			projectedLoss.StringFixed(2), dailyBudget.StringFixed(2),
			e.base.MaxDailyLoss.String(), balance.StringFixed(2)))
	}

	// 4. Total exposure cap.
	maxExposure := e.base.MaxTotalExposure.Mul(balance)
	projectedExposure := snap.TotalExposure().Add(trade.Notional())
	if projectedExposure.GreaterThan(maxExposure) {
		ratio := utils.Ratio(projectedExposure, balance)
		return deny(Rejectf(ReasonTotalExposure,
			"exposure %sx exceeds max %sx (projected %s, balance %s)",
			ratio.StringFixed(2), e.base.MaxTotalExposure.String(),
			projectedExposure.StringFixed(2), balance.StringFixed(2)))
	}

	// 5. Correlation bucket caps.
	if e.correlation != nil {
		if rej := e.correlation.Check(snap, trade, e.base.MaxCorrelatedExposure); rej != nil {
			return deny(rej)
		}
	}

	// 6. Drawdown-adjusted limits, when the monitor has tightened them.
	if in.Adjusted != nil {
		adjustedRisk := in.Adjusted.MaxRiskPerTrade.Mul(balance)
		if worstCase.GreaterThan(adjustedRisk) {
			return deny(Rejectf(ReasonDrawdownAdjusted,
				"trade risk %s exceeds drawdown-adjusted max %s (base max %s)",
				worstCase.StringFixed(2), adjustedRisk.StringFixed(2), riskAmount.StringFixed(2)))
		}
	}

	return allow()
}

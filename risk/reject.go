// risk/reject.go
package risk

import "fmt"

// Reason is a stable machine-readable code for a risk denial. Denials are
// routine outcomes returned as values, never raised as errors.
type Reason string

const (
	ReasonInsufficientMargin  Reason = "insufficient_margin"
	ReasonInvalidStopLoss     Reason = "invalid_stop_loss"
	ReasonInvalidQuantity     Reason = "invalid_quantity"
	ReasonPerTradeRisk        Reason = "risk_limit_per_trade"
	ReasonDailyLoss           Reason = "risk_limit_daily_loss"
	ReasonTotalExposure       Reason = "risk_limit_total_exposure"
	ReasonCorrelation         Reason = "risk_limit_correlation"
	ReasonDrawdownAdjusted    Reason = "risk_limit_drawdown_adjusted"
	ReasonEmergencyActive     Reason = "emergency_mode_active"
	ReasonInvalidConfirmation Reason = "invalid_confirmation"
	ReasonUnresolvedPositions Reason = "unresolved_positions_block_recovery"
	ReasonExchangeUnavailable Reason = "exchange_unavailable"
)

// Rejection carries the reason a trade or operation was denied, plus the
// value and limit that triggered it so operators never have to guess.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) String() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// Rejectf builds a Rejection with a formatted detail message.
func Rejectf(reason Reason, format string, args ...interface{}) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

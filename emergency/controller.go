// emergency/controller.go
package emergency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"riskfortress/logs"
	"riskfortress/risk"
)

// State is the emergency lifecycle state.
type State string

const (
	StateNormal     State = "normal"
	StateHalting    State = "halting"
	StateHalted     State = "halted"
	StateRecovering State = "recovering"
)

// Cause identifies why a shutdown was triggered.
type Cause string

const (
	CauseHardDrawdown       Cause = "hard_drawdown_breach"
	CauseVolatilityShock    Cause = "volatility_shock"
	CauseExchangeOutage     Cause = "exchange_outage"
	CauseManual             Cause = "manual_trigger"
	CauseInvariantViolation Cause = "internal_invariant_violation"
)

// Trigger is one recorded shutdown trigger.
type Trigger struct {
	Cause     Cause     `json:"cause"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// Transition is delivered to the transition hook on every state change, for
// persistence and audit.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Causes    []Trigger `json:"causes,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TransitionHook observes state changes. Called outside the controller lock.
type TransitionHook func(t Transition)

// HealthCheck validates preconditions before recovery may begin: venue
// connectivity, fresh quotes, whatever the deployment requires. A non-nil
// error blocks recovery.
type HealthCheck func() error

// RecoveryOptions controls what a confirmed recovery resets.
type RecoveryOptions struct {
	// ResetHighWaterMark drops the equity high-water mark to current equity,
	// accepting realized losses as the new baseline.
	ResetHighWaterMark bool `json:"reset_high_water_mark"`
	// ResetDailyCounters zeroes the daily loss and trade counters.
	ResetDailyCounters bool `json:"reset_daily_counters"`
}

// Controller owns the emergency state machine.
//
// Trigger is idempotent while a shutdown is in flight: repeated triggers
// append their cause to the record but never restart flattening. The recovery
// token is minted when the controller enters Halted; only its SHA-256 hash is
// retained, so the plaintext exists once - in the operator's log line.
type Controller struct {
	mu         sync.Mutex
	state      State
	causes     []Trigger
	tokenHash  string
	unresolved bool

	onTransition TransitionHook
	healthCheck  HealthCheck
}

// NewController starts in Normal.
func NewController(onTransition TransitionHook, healthCheck HealthCheck) *Controller {
	return &Controller{
		state:        StateNormal,
		onTransition: onTransition,
		healthCheck:  healthCheck,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether admissions must be refused: any state other than
// Normal gates new entries.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateNormal
}

// Causes returns a copy of the recorded triggers.
func (c *Controller) Causes() []Trigger {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Trigger, len(c.causes))
	copy(out, c.causes)
	return out
}

// UnresolvedPositions reports whether flattening left positions open.
func (c *Controller) UnresolvedPositions() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unresolved
}

// TokenHash returns the SHA-256 hex of the active recovery token, empty when
// no token is outstanding.
func (c *Controller) TokenHash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenHash
}

// TriggerShutdown records the cause and, if not already shutting down, moves
// to Halting and returns true: the caller then runs the flattener and calls
// CompleteHalt. A false return means a shutdown is already in flight or done
// and only the cause was appended.
func (c *Controller) TriggerShutdown(cause Cause, detail string) bool {
	c.mu.Lock()

	trig := Trigger{Cause: cause, Detail: detail, Timestamp: time.Now()}
	c.causes = append(c.causes, trig)

	if c.state != StateNormal {
		state := c.state
		c.mu.Unlock()
		logs.Warnf("[Emergency] Trigger %s while %s, cause recorded only: %s", cause, state, detail)
		return false
	}

	from := c.state
	c.state = StateHalting
	causes := make([]Trigger, len(c.causes))
	copy(causes, c.causes)
	hook := c.onTransition
	c.mu.Unlock()

	logs.Errorf("[Emergency] SHUTDOWN TRIGGERED (%s): %s", cause, detail)
	if hook != nil {
		hook(Transition{From: from, To: StateHalting, Causes: causes, Detail: detail, Timestamp: time.Now()})
	}
	return true
}

// CompleteHalt moves Halting to Halted after flattening finishes, mints the
// recovery confirmation token, and returns it. unresolved marks that one or
// more positions could not be closed; recovery is blocked until
// ResolvePositions is called.
func (c *Controller) CompleteHalt(unresolved bool) (string, error) {
	c.mu.Lock()
	if c.state != StateHalting {
		state := c.state
		c.mu.Unlock()
		return "", fmt.Errorf("complete halt in state %s, expected %s", state, StateHalting)
	}

	token := uuid.New().String()
	sum := sha256.Sum256([]byte(token))
	c.tokenHash = hex.EncodeToString(sum[:])
	c.unresolved = unresolved
	from := c.state
	c.state = StateHalted
	hook := c.onTransition
	c.mu.Unlock()

	if unresolved {
		logs.Errorf("[Emergency] Halted with UNRESOLVED positions, manual intervention required before recovery")
	}
	logs.Warnf("[Emergency] Halted. Recovery confirmation token: %s", token)
	if hook != nil {
		hook(Transition{From: from, To: StateHalted, Timestamp: time.Now()})
	}
	return token, nil
}

// ResolvePositions clears the unresolved flag after an operator has manually
// closed or reconciled the stuck positions.
func (c *Controller) ResolvePositions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unresolved {
		c.unresolved = false
		logs.Warnf("[Emergency] Unresolved positions marked resolved by operator")
	}
}

// InitiateRecovery validates the confirmation token and health preconditions,
// then moves Halted to Recovering. The caller applies RecoveryOptions and
// calls FinishRecovery.
func (c *Controller) InitiateRecovery(token string) *risk.Rejection {
	c.mu.Lock()

	if c.state != StateHalted {
		state := c.state
		c.mu.Unlock()
		return risk.Rejectf(risk.ReasonInvalidConfirmation, "recovery requires halted state, currently %s", state)
	}
	if c.unresolved {
		c.mu.Unlock()
		return risk.Rejectf(risk.ReasonUnresolvedPositions, "positions left open by flattening must be resolved first")
	}

	sum := sha256.Sum256([]byte(token))
	if hex.EncodeToString(sum[:]) != c.tokenHash {
		c.mu.Unlock()
		logs.Warnf("[Emergency] Recovery attempt with invalid confirmation token")
		return risk.Rejectf(risk.ReasonInvalidConfirmation, "confirmation token mismatch")
	}

	check := c.healthCheck
	c.mu.Unlock()

	if check != nil {
		if err := check(); err != nil {
			logs.Warnf("[Emergency] Recovery blocked by health check: %v", err)
			return risk.Rejectf(risk.ReasonExchangeUnavailable, "recovery health check failed: %v", err)
		}
	}

	c.mu.Lock()
	if c.state != StateHalted {
		state := c.state
		c.mu.Unlock()
		return risk.Rejectf(risk.ReasonInvalidConfirmation, "recovery requires halted state, currently %s", state)
	}
	from := c.state
	c.state = StateRecovering
	c.tokenHash = ""
	hook := c.onTransition
	c.mu.Unlock()

	logs.Warnf("[Emergency] Recovery confirmed, entering recovering state")
	if hook != nil {
		hook(Transition{From: from, To: StateRecovering, Timestamp: time.Now()})
	}
	return nil
}

// FinishRecovery concludes recovery. On success the controller returns to
// Normal and clears the cause record; on failure it re-enters Halted and
// mints a fresh token, returned to the caller.
func (c *Controller) FinishRecovery(ok bool, detail string) (string, error) {
	c.mu.Lock()
	if c.state != StateRecovering {
		state := c.state
		c.mu.Unlock()
		return "", fmt.Errorf("finish recovery in state %s, expected %s", state, StateRecovering)
	}

	from := c.state
	hook := c.onTransition

	if ok {
		c.state = StateNormal
		c.causes = nil
		c.mu.Unlock()
		logs.Warnf("[Emergency] Recovery complete, normal operation restored")
		if hook != nil {
			hook(Transition{From: from, To: StateNormal, Detail: detail, Timestamp: time.Now()})
		}
		return "", nil
	}

	token := uuid.New().String()
	sum := sha256.Sum256([]byte(token))
	c.tokenHash = hex.EncodeToString(sum[:])
	c.state = StateHalted
	c.mu.Unlock()

	logs.Errorf("[Emergency] Recovery failed (%s), returning to halted. New token: %s", detail, token)
	if hook != nil {
		hook(Transition{From: from, To: StateHalted, Detail: detail, Timestamp: time.Now()})
	}
	return token, nil
}

// RestoreHalted rehydrates a persisted halted state at startup: a restart
// never silently resumes trading after an emergency. The persisted token hash
// stays valid so the original token still confirms recovery.
func (c *Controller) RestoreHalted(causes []Trigger, tokenHash string, unresolved bool) {
	c.mu.Lock()
	c.state = StateHalted
	c.causes = append([]Trigger(nil), causes...)
	c.tokenHash = tokenHash
	c.unresolved = unresolved
	hook := c.onTransition
	c.mu.Unlock()

	logs.Errorf("[Emergency] Restored halted state from disk (%d recorded causes), recovery confirmation required", len(causes))
	if hook != nil {
		hook(Transition{From: StateNormal, To: StateHalted, Detail: "restored from persisted state", Timestamp: time.Now()})
	}
}

// coordinator/coordinator.go
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"riskfortress/config"
	"riskfortress/emergency"
	"riskfortress/execution"
	"riskfortress/ledger"
	"riskfortress/logs"
	"riskfortress/marketdata"
	"riskfortress/risk"
	"riskfortress/utils"
)

// Status is the engine's externally visible posture, served by the monitor.
type Status struct {
	State      emergency.State     `json:"state"`
	Causes     []emergency.Trigger `json:"causes,omitempty"`
	Unresolved bool                `json:"unresolved_positions"`
	Metrics    risk.Metrics        `json:"metrics"`
}

// Coordinator is the single entry point for trade admission and the
// emergency lifecycle. Admissions for the account are serialized under one
// mutex so every evaluation sees a settled snapshot; reads and monitoring
// never take that lock.
type Coordinator struct {
	cfg    *config.Config
	ledger *ledger.Ledger
	feed   *marketdata.Feed

	evaluator  *risk.Evaluator
	corr       *risk.CorrelationRiskManager
	drawdown   *risk.DrawdownMonitor
	controller *emergency.Controller
	flattener  *emergency.Flattener
	clients    []execution.Client

	admitMu sync.Mutex

	// beforeCommit, when set, runs after evaluation and before the commit
	// fence. Tests use it to flip the emergency gate mid-admission.
	beforeCommit func()

	bus      *broadcaster
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New wires the engine. extraTransitionHook is invoked (after the internal
// event publish) on every emergency transition; the orchestrator uses it to
// persist state. Pass nil when not needed.
func New(cfg *config.Config, led *ledger.Ledger, feed *marketdata.Feed,
	clients []execution.Client, extraTransitionHook emergency.TransitionHook) *Coordinator {

	limits := risk.LimitsFromConfig(cfg.Limits)
	if !limits.Sane() {
		logs.Fatalf("[Coordinator] Refusing to start with unusable limits: %+v", cfg.Limits)
	}
	corr := risk.NewCorrelationRiskManager(cfg.Buckets)

	c := &Coordinator{
		cfg:     cfg,
		ledger:  led,
		feed:    feed,
		corr:    corr,
		clients: clients,
		bus:     newBroadcaster(cfg.Audit.QueueSize),
		stopCh:  make(chan struct{}),
	}
	c.evaluator = risk.NewEvaluator(limits, corr)
	c.drawdown = risk.NewDrawdownMonitor(limits, led.Equity(), func(current, limit decimal.Decimal) {
		go c.TriggerShutdown(emergency.CauseHardDrawdown,
			fmt.Sprintf("drawdown %s breached hard limit %s", current.StringFixed(4), limit.String()))
	})
	c.flattener = emergency.NewFlattener(clients,
		cfg.Emergency.FlattenMaxAttempts,
		time.Duration(cfg.Emergency.FlattenBackoffMS)*time.Millisecond,
		time.Duration(cfg.Emergency.FlattenBackoffMaxMS)*time.Millisecond)
	c.controller = emergency.NewController(func(t emergency.Transition) {
		reason := string(t.To)
		if t.To == emergency.StateHalting && len(t.Causes) > 0 {
			reason = string(t.Causes[len(t.Causes)-1].Cause)
		}
		c.bus.publish(Event{
			Type:   EventEmergencyTransition,
			Reason: reason,
			Detail: fmt.Sprintf("%s -> %s %s", t.From, t.To, t.Detail),
		})
		if extraTransitionHook != nil {
			extraTransitionHook(t)
		}
	}, c.recoveryHealthCheck)

	return c
}

// Start launches the ledger event forwarder.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.forwardLedgerEvents()
}

// Stop shuts the event plumbing down.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	c.bus.closeAll()
}

// Subscribe returns a best-effort event stream and its cancel func.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	return c.bus.subscribe()
}

// Controller exposes the emergency controller, read-only usage expected.
func (c *Coordinator) Controller() *emergency.Controller { return c.controller }

// Drawdown exposes the drawdown monitor for status assembly and restore.
func (c *Coordinator) Drawdown() *risk.DrawdownMonitor { return c.drawdown }

func (c *Coordinator) forwardLedgerEvents() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case ev, ok := <-c.ledger.Events():
			if !ok {
				return
			}
			// Admissions are published with their rejection context at the
			// admission site, not replayed from the ledger stream.
			if ev.Type == ledger.EventPositionOpened {
				continue
			}
			c.bus.publish(Event{
				Type:      mapLedgerEvent(ev.Type),
				Timestamp: ev.Timestamp,
				Symbol:    ev.Symbol,
				Detail:    ev.Detail,
			})
		}
	}
}

func mapLedgerEvent(t ledger.EventType) EventType {
	switch t {
	case ledger.EventPositionClosed:
		return EventPositionClosed
	case ledger.EventDailyRollover:
		return EventDailyRollover
	case ledger.EventHWMReset:
		return EventHWMReset
	default:
		return EventPositionClosed
	}
}

// RequestAdmission evaluates and, if allowed, atomically commits a proposed
// trade. A denied trade comes back as a Rejection value; the error return is
// reserved for internal faults.
func (c *Coordinator) RequestAdmission(trade risk.ProposedTrade) (ledger.Position, *risk.Rejection, error) {
	// Fast gate before taking the admission lock.
	if c.controller.Active() {
		rej := risk.Rejectf(risk.ReasonEmergencyActive, "engine state %s, admissions closed", c.controller.State())
		c.publishRejection(trade, rej)
		return ledger.Position{}, rej, nil
	}

	c.admitMu.Lock()
	defer c.admitMu.Unlock()

	if trade.Exchange != "" && !c.feed.Connected(trade.Exchange) {
		rej := risk.Rejectf(risk.ReasonExchangeUnavailable, "venue %s not connected", trade.Exchange)
		c.publishRejection(trade, rej)
		return ledger.Position{}, rej, nil
	}
	if _, ok := c.feed.Quote(trade.Symbol); !ok {
		rej := risk.Rejectf(risk.ReasonExchangeUnavailable, "no fresh quote for %s", trade.Symbol)
		c.publishRejection(trade, rej)
		return ledger.Position{}, rej, nil
	}

	dec := c.evaluator.Validate(risk.Input{
		Snapshot:        c.ledger.Snapshot(),
		Trade:           trade,
		Adjusted:        c.drawdown.Adjusted(),
		EmergencyActive: c.controller.Active(),
	})
	if !dec.Allowed {
		c.publishRejection(trade, dec.Rejection)
		return ledger.Position{}, dec.Rejection, nil
	}

	if c.beforeCommit != nil {
		c.beforeCommit()
	}

	// Commit fence: the emergency gate may have flipped between evaluation
	// and commit. Nothing enters the book once a shutdown has started.
	if c.controller.Active() {
		rej := risk.Rejectf(risk.ReasonEmergencyActive, "shutdown started during evaluation")
		c.publishRejection(trade, rej)
		return ledger.Position{}, rej, nil
	}

	pos, err := c.ledger.OpenPosition(ledger.OpenRequest{
		Symbol:     trade.Symbol,
		Side:       trade.Side,
		Quantity:   trade.Quantity,
		EntryPrice: trade.EntryPrice,
		StopLoss:   trade.StopLoss,
		Exchange:   trade.Exchange,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientMargin) {
			rej := risk.Rejectf(risk.ReasonInsufficientMargin, "%v", err)
			c.publishRejection(trade, rej)
			return ledger.Position{}, rej, nil
		}
		return ledger.Position{}, nil, err
	}

	c.bus.publish(Event{
		Type:   EventTradeAdmitted,
		Symbol: trade.Symbol,
		Detail: fmt.Sprintf("%s %s x%s @ %s stop %s", trade.Side, trade.Symbol, trade.Quantity.String(), trade.EntryPrice.String(), trade.StopLoss.String()),
	})

	c.verifyInvariant()
	return pos, nil, nil
}

// ClosePosition settles a position at the given exit price and refreshes the
// drawdown reading.
func (c *Coordinator) ClosePosition(positionID string, exitPrice decimal.Decimal) (decimal.Decimal, error) {
	c.admitMu.Lock()
	defer c.admitMu.Unlock()

	pnl, err := c.ledger.ClosePosition(positionID, exitPrice)
	if err != nil {
		return decimal.Zero, err
	}
	c.afterEquityChange()
	c.verifyInvariant()
	return pnl, nil
}

// OnTick ingests a market data update: refreshes the feed, marks the book to
// market, and re-evaluates drawdown and volatility triggers.
func (c *Coordinator) OnTick(symbol string, price decimal.Decimal, volatility float64) {
	c.feed.SetQuote(symbol, price, volatility)
	c.ledger.MarkToMarket(symbol, price)
	c.afterEquityChange()

	// The threshold is a closed bound; landing on it within float tolerance
	// counts as a breach.
	threshold := c.cfg.Emergency.VolatilityShockThreshold
	if threshold > 0 && (volatility > threshold || utils.FloatEquals(volatility, threshold)) {
		c.TriggerShutdown(emergency.CauseVolatilityShock,
			fmt.Sprintf("volatility %.4f on %s breached shock threshold %.4f", volatility, symbol, threshold))
	}
}

// OnExchangeStatus ingests venue connectivity changes. A disconnect triggers
// an emergency shutdown; flattening for the dead venue will retry until the
// attempt budget runs out and then mark positions unresolved.
func (c *Coordinator) OnExchangeStatus(exchange string, connected bool) {
	c.feed.SetConnectivity(exchange, connected)
	if !connected {
		c.TriggerShutdown(emergency.CauseExchangeOutage, fmt.Sprintf("venue %s disconnected", exchange))
	}
}

func (c *Coordinator) afterEquityChange() {
	if c.drawdown.OnEquity(c.ledger.Equity()) {
		adj := c.drawdown.Adjusted()
		detail := "base limits restored"
		if adj != nil {
			detail = fmt.Sprintf("per-trade risk tightened to %s", adj.MaxRiskPerTrade.StringFixed(6))
		}
		c.bus.publish(Event{Type: EventLimitAdjusted, Detail: detail})
	}
}

func (c *Coordinator) verifyInvariant() {
	if err := c.ledger.CheckInvariant(); err != nil {
		c.bus.publish(Event{Type: EventInvariantViolation, Detail: err.Error()})
		go c.TriggerShutdown(emergency.CauseInvariantViolation, err.Error())
	}
}

// TriggerShutdown starts (or records a cause on) an emergency shutdown. When
// this call is the one that starts it, it runs the flattening sequence and
// returns the recovery confirmation token; otherwise the token is empty.
func (c *Coordinator) TriggerShutdown(cause emergency.Cause, detail string) string {
	if !c.controller.TriggerShutdown(cause, detail) {
		return ""
	}

	// Wait out any in-flight admission before snapshotting: the gate is
	// already closed, so an admission holding the lock fails its commit
	// fence, and the snapshot below sees the final book. Callers that hold
	// admitMu trigger through a goroutine.
	c.admitMu.Lock()
	defer c.admitMu.Unlock()

	snap := c.ledger.Snapshot()
	positions := make([]ledger.Position, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		positions = append(positions, p)
	}

	_, unresolved := c.flattener.Flatten(context.Background(), positions, func(positionID string, exitPrice decimal.Decimal) {
		if _, err := c.ledger.ClosePosition(positionID, exitPrice); err != nil {
			logs.Errorf("[Coordinator] Settling flattened position %s failed: %v", positionID, err)
		}
	})
	c.afterEquityChange()

	token, err := c.controller.CompleteHalt(unresolved)
	if err != nil {
		logs.Errorf("[Coordinator] Completing halt failed: %v", err)
		return ""
	}
	return token
}

// recoveryHealthCheck blocks recovery while any venue is unreachable or
// market data is dark.
func (c *Coordinator) recoveryHealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, client := range c.clients {
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("venue %s unreachable: %w", client.Name(), err)
		}
	}
	if !c.feed.AllConnected() {
		return errors.New("market data feed not fully connected")
	}
	return nil
}

// validateRecovery is the pass run while Recovering. Trading must not resume
// over nonsense limits, a corrupt book, or positions left open by a halt.
func (c *Coordinator) validateRecovery() error {
	if !risk.LimitsFromConfig(c.cfg.Limits).Sane() {
		return errors.New("configured limits fail sanity check")
	}
	if err := c.ledger.CheckInvariant(); err != nil {
		return fmt.Errorf("ledger invariant violated: %w", err)
	}
	if n := len(c.ledger.Snapshot().Positions); n > 0 {
		return fmt.Errorf("%d positions still open in the book", n)
	}
	return nil
}

// InitiateRecovery validates the operator's confirmation token, runs the
// recovering validation pass, and on success applies the requested resets and
// returns the engine to normal operation. A failed validation re-halts with a
// fresh token.
func (c *Coordinator) InitiateRecovery(token string, opts emergency.RecoveryOptions) *risk.Rejection {
	if rej := c.controller.InitiateRecovery(token); rej != nil {
		return rej
	}

	if err := c.validateRecovery(); err != nil {
		if _, ferr := c.controller.FinishRecovery(false, err.Error()); ferr != nil {
			logs.Errorf("[Coordinator] Returning to halted after failed validation: %v", ferr)
		}
		return risk.Rejectf(risk.ReasonEmergencyActive, "recovery validation failed: %v", err)
	}

	c.admitMu.Lock()
	if opts.ResetHighWaterMark {
		c.ledger.ResetHighWaterMark()
		c.drawdown.Reset(c.ledger.Equity())
	}
	if opts.ResetDailyCounters {
		c.ledger.RollDaily(time.Now())
	}
	c.admitMu.Unlock()

	if _, err := c.controller.FinishRecovery(true, "operator confirmed recovery"); err != nil {
		logs.Errorf("[Coordinator] Finishing recovery failed: %v", err)
		return risk.Rejectf(risk.ReasonInvalidConfirmation, "recovery could not complete: %v", err)
	}
	return nil
}

// ResolvePositions clears the unresolved-positions block after manual
// reconciliation, closing any stragglers out of the ledger at their last
// marked price.
func (c *Coordinator) ResolvePositions() {
	c.admitMu.Lock()
	snap := c.ledger.Snapshot()
	for id, p := range snap.Positions {
		if _, err := c.ledger.ClosePosition(id, p.CurrentPrice); err != nil {
			logs.Errorf("[Coordinator] Reconciling position %s failed: %v", id, err)
		}
	}
	c.admitMu.Unlock()
	c.controller.ResolvePositions()
}

// RollDaily resets the daily loss and trade counters. Driven by the caller's
// clock, typically the orchestrator at session boundaries.
func (c *Coordinator) RollDaily(ts time.Time) {
	c.admitMu.Lock()
	c.ledger.RollDaily(ts)
	c.admitMu.Unlock()
}

// GetStatus assembles the externally visible posture without touching the
// admission lock.
func (c *Coordinator) GetStatus() Status {
	snap := c.ledger.Snapshot()
	return Status{
		State:      c.controller.State(),
		Causes:     c.controller.Causes(),
		Unresolved: c.controller.UnresolvedPositions(),
		Metrics: risk.BuildMetrics(snap, c.drawdown, c.corr,
			c.feed.MaxVolatility(), c.feed.Connectivity()),
	}
}

func (c *Coordinator) publishRejection(trade risk.ProposedTrade, rej *risk.Rejection) {
	logs.Infof("[Coordinator] Admission rejected %s: %s", trade.Symbol, rej.String())
	c.bus.publish(Event{
		Type:   EventTradeRejected,
		Symbol: trade.Symbol,
		Reason: string(rej.Reason),
		Detail: rej.Detail,
	})
}

// emergency/flattener.go
package emergency

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"riskfortress/execution"
	"riskfortress/ledger"
	"riskfortress/logs"
)

// FlattenResult reports the outcome per position.
type FlattenResult struct {
	PositionID string
	Symbol     string
	Attempts   int
	Closed     bool
	ExitPrice  decimal.Decimal
	LastErr    error
}

// Flattener closes every open position with reduce-only market orders,
// retrying transient venue failures with exponential backoff. It never
// opens, hedges, or partially closes anything.
type Flattener struct {
	clients     map[string]execution.Client
	maxAttempts int
	backoff     time.Duration
	backoffMax  time.Duration

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

// NewFlattener builds a flattener over the venue clients, keyed by
// Client.Name().
func NewFlattener(clients []execution.Client, maxAttempts int, backoff, backoffMax time.Duration) *Flattener {
	byName := make(map[string]execution.Client, len(clients))
	for _, c := range clients {
		byName[c.Name()] = c
	}
	return &Flattener{
		clients:     byName,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		backoffMax:  backoffMax,
		sleep:       time.Sleep,
	}
}

// SetSleepFunc replaces the inter-attempt sleep. Test hook.
func (f *Flattener) SetSleepFunc(fn func(time.Duration)) { f.sleep = fn }

// Flatten closes the given positions. onFill is invoked after each successful
// close so the caller can settle the ledger; a position whose attempts are
// exhausted is reported with Closed=false. The second return is true when any
// position was left open.
func (f *Flattener) Flatten(ctx context.Context, positions []ledger.Position,
	onFill func(positionID string, exitPrice decimal.Decimal)) ([]FlattenResult, bool) {

	logs.Warnf("[Flatten] Closing %d open positions", len(positions))

	results := make([]FlattenResult, 0, len(positions))
	unresolved := false

	for _, pos := range positions {
		res := f.flattenOne(ctx, pos)
		if res.Closed && onFill != nil {
			onFill(pos.ID, res.ExitPrice)
		}
		if !res.Closed {
			unresolved = true
		}
		results = append(results, res)
	}

	if unresolved {
		logs.Errorf("[Flatten] Completed with unresolved positions")
	} else {
		logs.Warnf("[Flatten] All positions closed")
	}
	return results, unresolved
}

func (f *Flattener) flattenOne(ctx context.Context, pos ledger.Position) FlattenResult {
	res := FlattenResult{PositionID: pos.ID, Symbol: pos.Symbol}

	client, ok := f.clients[pos.Exchange]
	if !ok {
		// Fall back to any venue rather than leave the position open.
		for _, c := range f.clients {
			client = c
			break
		}
	}
	if client == nil {
		logs.Errorf("[Flatten] No venue client for position %s (%s)", pos.ID, pos.Symbol)
		return res
	}

	wait := f.backoff
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		res.Attempts = attempt

		price, err := client.ClosePosition(ctx, pos.Symbol, pos.Side, pos.Quantity)
		if err == nil {
			res.Closed = true
			res.ExitPrice = price
			logs.Warnf("[Flatten] Closed %s %s x%s @ %s (attempt %d)",
				pos.Side, pos.Symbol, pos.Quantity.String(), price.String(), attempt)
			return res
		}
		res.LastErr = err
		logs.Warnf("[Flatten] Close %s attempt %d/%d failed: %v", pos.Symbol, attempt, f.maxAttempts, err)

		if attempt == f.maxAttempts || ctx.Err() != nil {
			break
		}
		f.sleep(wait)
		wait *= 2
		if wait > f.backoffMax {
			wait = f.backoffMax
		}
	}

	logs.Errorf("[Flatten] Position %s (%s) NOT closed after %d attempts: %v",
		pos.ID, pos.Symbol, res.Attempts, res.LastErr)
	return res
}

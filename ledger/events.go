// ledger/events.go
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"riskfortress/logs"
)

// EventType classifies ledger events.
type EventType string

const (
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
	EventDailyRollover  EventType = "daily_rollover"
	EventHWMReset       EventType = "hwm_reset"
)

// Event describes one ledger mutation for audit and metrics consumers.
// Delivery is fire-and-forget; trading never blocks on it.
type Event struct {
	ID          string
	Type        EventType
	Timestamp   time.Time
	PositionID  string
	Symbol      string
	Side        Side
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	RealizedPnL decimal.Decimal
	Detail      string
}

// emit pushes an event onto the bounded queue. When the queue is full, the
// oldest event is dropped and a warning logged, so a slow consumer can never
// stall a trading operation.
func (l *Ledger) emit(ev Event) {
	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now()

	select {
	case l.events <- ev:
		return
	default:
	}

	select {
	case dropped := <-l.events:
		logs.Warnf("[Ledger] Event queue full, dropping oldest event %s (%s)", dropped.Type, dropped.ID)
	default:
	}
	select {
	case l.events <- ev:
	default:
		logs.Warnf("[Ledger] Event queue still full, dropping event %s", ev.Type)
	}
}

// Events exposes the ledger event stream.
func (l *Ledger) Events() <-chan Event {
	return l.events
}

// coordinator/events.go
package coordinator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"riskfortress/logs"
)

// EventType classifies engine events delivered to subscribers.
type EventType string

const (
	EventTradeAdmitted       EventType = "trade_admitted"
	EventTradeRejected       EventType = "trade_rejected"
	EventPositionClosed      EventType = "position_closed"
	EventLimitAdjusted       EventType = "limit_adjusted"
	EventEmergencyTransition EventType = "emergency_transition"
	EventDailyRollover       EventType = "daily_rollover"
	EventHWMReset            EventType = "hwm_reset"
	EventInvariantViolation  EventType = "invariant_violation"
)

// Event is one engine occurrence. Delivery is best-effort: a slow subscriber
// loses its oldest events, never blocks the trading path.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Detail    string    `json:"detail"`
}

type broadcaster struct {
	mu      sync.Mutex
	subs    map[chan Event]struct{}
	bufSize int
}

func newBroadcaster(bufSize int) *broadcaster {
	if bufSize <= 0 {
		bufSize = 128
	}
	return &broadcaster{subs: make(map[chan Event]struct{}), bufSize: bufSize}
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.bufSize)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// publish delivers to every subscriber, dropping each subscriber's oldest
// event when its buffer is full.
func (b *broadcaster) publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		for {
			select {
			case ch <- ev:
			default:
				select {
				case dropped := <-ch:
					logs.Warnf("[Events] Subscriber queue full, dropped oldest event %s (%s)", dropped.ID, dropped.Type)
					continue
				default:
				}
			}
			break
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

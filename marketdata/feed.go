// Package marketdata holds the latest externally-supplied market and exchange
// status. The engine never owns a data connection; price, volatility and
// connectivity updates are pushed in by the surrounding system and read here
// with a conservative staleness policy: data we do not have, or data that is
// too old, counts as missing.
package marketdata

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the latest observation for one symbol.
type Quote struct {
	Price      decimal.Decimal
	Volatility float64 // annualized fraction, e.g. 0.8 = 80%
	UpdatedAt  time.Time
}

type exchangeStatus struct {
	connected bool
	updatedAt time.Time
}

// Feed is a concurrency-safe store of quotes and per-exchange connectivity.
type Feed struct {
	mu          sync.RWMutex
	quotes      map[string]Quote
	exchanges   map[string]exchangeStatus
	maxQuoteAge time.Duration
	now         func() time.Time // injectable for tests
}

// NewFeed creates a feed that treats quotes older than maxQuoteAge as missing.
func NewFeed(maxQuoteAge time.Duration) *Feed {
	return &Feed{
		quotes:      make(map[string]Quote),
		exchanges:   make(map[string]exchangeStatus),
		maxQuoteAge: maxQuoteAge,
		now:         time.Now,
	}
}

// SetNowFunc overrides the clock. Tests drive staleness deterministically with it.
func (f *Feed) SetNowFunc(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// SetQuote records the latest price and volatility for a symbol.
func (f *Feed) SetQuote(symbol string, price decimal.Decimal, volatility float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[symbol] = Quote{Price: price, Volatility: volatility, UpdatedAt: f.now()}
}

// Quote returns the latest fresh quote for a symbol. The second return is
// false when the symbol has never been quoted or the quote has gone stale.
func (f *Feed) Quote(symbol string) (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[symbol]
	if !ok {
		return Quote{}, false
	}
	if f.now().Sub(q.UpdatedAt) > f.maxQuoteAge {
		return Quote{}, false
	}
	return q, true
}

// SetConnectivity records the connectivity flag for an exchange.
func (f *Feed) SetConnectivity(exchange string, connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges[exchange] = exchangeStatus{connected: connected, updatedAt: f.now()}
}

// Connected reports whether an exchange is known to be connected. An exchange
// we have never heard from is not connected.
func (f *Feed) Connected(exchange string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	st, ok := f.exchanges[exchange]
	return ok && st.connected
}

// AllConnected reports whether every exchange the feed knows about is
// connected, and connectivity has been reported at least once.
func (f *Feed) AllConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.exchanges) == 0 {
		return false
	}
	for _, st := range f.exchanges {
		if !st.connected {
			return false
		}
	}
	return true
}

// Connectivity returns a copy of the per-exchange connectivity map.
func (f *Feed) Connectivity() map[string]bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]bool, len(f.exchanges))
	for name, st := range f.exchanges {
		out[name] = st.connected
	}
	return out
}

// MaxVolatility returns the highest fresh volatility across all quoted symbols.
func (f *Feed) MaxVolatility() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	max := 0.0
	cutoff := f.now().Add(-f.maxQuoteAge)
	for _, q := range f.quotes {
		if q.UpdatedAt.Before(cutoff) {
			continue
		}
		if q.Volatility > max {
			max = q.Volatility
		}
	}
	return max
}

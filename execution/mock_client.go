// execution/mock_client.go
package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"riskfortress/ledger"
	"riskfortress/logs"
)

//
// Mock client for running and testing the engine without a real venue
//

// Ensure MockClient implements Client interface
var _ Client = (*MockClient)(nil)

// MockClient simulates a venue. Prices are set by the test or the
// orchestrator's simulation loop, and close calls can be scripted to fail a
// number of times before succeeding, to exercise the flattening retry path.
type MockClient struct {
	mu     sync.RWMutex
	name   string
	prices map[string]decimal.Decimal

	// failClose[symbol] counts down: each ClosePosition for that symbol fails
	// until the counter reaches zero.
	failClose map[string]int
	failPing  bool

	closeCalls []CloseCall
}

// CloseCall records one ClosePosition invocation for test assertions.
type CloseCall struct {
	Symbol   string
	Side     ledger.Side
	Quantity decimal.Decimal
	Failed   bool
}

// NewMockClient creates a mock venue with the given display name.
func NewMockClient(name string) *MockClient {
	return &MockClient{
		name:      name,
		prices:    make(map[string]decimal.Decimal),
		failClose: make(map[string]int),
	}
}

func (mc *MockClient) Name() string { return mc.name }

// SetPrice sets the simulated last price for a symbol.
func (mc *MockClient) SetPrice(symbol string, price decimal.Decimal) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.prices[symbol] = price
}

// FailNextCloses makes the next n ClosePosition calls for the symbol fail.
func (mc *MockClient) FailNextCloses(symbol string, n int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.failClose[symbol] = n
}

// SetPingFailure toggles Ping failures.
func (mc *MockClient) SetPingFailure(fail bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.failPing = fail
}

// CloseCalls returns a copy of the recorded close attempts.
func (mc *MockClient) CloseCalls() []CloseCall {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	out := make([]CloseCall, len(mc.closeCalls))
	copy(out, mc.closeCalls)
	return out
}

func (mc *MockClient) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	p, ok := mc.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("mock venue %s: no price for %s", mc.name, symbol)
	}
	return p, nil
}

func (mc *MockClient) ClosePosition(ctx context.Context, symbol string, side ledger.Side, quantity decimal.Decimal) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if remaining := mc.failClose[symbol]; remaining > 0 {
		mc.failClose[symbol] = remaining - 1
		mc.closeCalls = append(mc.closeCalls, CloseCall{Symbol: symbol, Side: side, Quantity: quantity, Failed: true})
		return decimal.Zero, fmt.Errorf("mock venue %s: close %s rejected (scripted failure, %d left)", mc.name, symbol, remaining-1)
	}

	p, ok := mc.prices[symbol]
	if !ok {
		mc.closeCalls = append(mc.closeCalls, CloseCall{Symbol: symbol, Side: side, Quantity: quantity, Failed: true})
		return decimal.Zero, fmt.Errorf("mock venue %s: no price for %s", mc.name, symbol)
	}

	mc.closeCalls = append(mc.closeCalls, CloseCall{Symbol: symbol, Side: side, Quantity: quantity})
	logs.Debugf("[MockVenue:%s] Closed %s %s x%s @ %s", mc.name, side, symbol, quantity.String(), p.String())
	return p, nil
}

func (mc *MockClient) Ping(_ context.Context) error {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	if mc.failPing {
		return fmt.Errorf("mock venue %s: ping failed", mc.name)
	}
	return nil
}

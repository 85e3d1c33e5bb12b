// Package ledger is the authoritative in-memory record of open positions,
// exposure and realized PnL for one trading account. Only the ledger mutates
// AccountState; every other component works from point-in-time snapshots.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Position is one open position. Owned exclusively by the ledger; snapshots
// carry value copies.
type Position struct {
	ID           string
	Symbol       string
	Side         Side
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	StopLoss     decimal.Decimal
	CurrentPrice decimal.Decimal
	Exchange     string
	OpenedAt     time.Time
}

// Notional returns quantity times current price.
func (p Position) Notional() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

// UnrealizedPnL marks the position against its current price.
func (p Position) UnrealizedPnL() decimal.Decimal {
	if p.Side == Short {
		return p.EntryPrice.Sub(p.CurrentPrice).Mul(p.Quantity)
	}
	return p.CurrentPrice.Sub(p.EntryPrice).Mul(p.Quantity)
}

// AccountState is a consistent view of the account. The ledger hands out
// copies; mutating a snapshot has no effect on the ledger.
type AccountState struct {
	Balance             decimal.Decimal
	AvailableBalance    decimal.Decimal
	EquityHighWaterMark decimal.Decimal
	DailyLoss           decimal.Decimal
	DailyTrades         int
	LastRollover        time.Time
	Positions           map[string]Position
}

// TotalExposure sums the notional of every open position.
func (s AccountState) TotalExposure() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Positions {
		total = total.Add(p.Notional())
	}
	return total
}

// SymbolExposure sums the notional of open positions in one symbol.
func (s AccountState) SymbolExposure(symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			total = total.Add(p.Notional())
		}
	}
	return total
}

// Equity is balance plus the unrealized PnL of all open positions.
func (s AccountState) Equity() decimal.Decimal {
	eq := s.Balance
	for _, p := range s.Positions {
		eq = eq.Add(p.UnrealizedPnL())
	}
	return eq
}

func (s AccountState) clone() AccountState {
	out := s
	out.Positions = make(map[string]Position, len(s.Positions))
	for id, p := range s.Positions {
		out.Positions[id] = p
	}
	return out
}

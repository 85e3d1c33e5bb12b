// execution/client.go
package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"riskfortress/ledger"
)

// Client is the venue-facing surface the engine needs for emergency
// flattening and price checks. Real adapters and the mock both satisfy it.
type Client interface {
	// ClosePosition submits a reduce-only market order for the full quantity
	// and returns the fill price.
	ClosePosition(ctx context.Context, symbol string, side ledger.Side, quantity decimal.Decimal) (decimal.Decimal, error)
	// GetPrice returns the venue's last price for the symbol.
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// Ping reports venue reachability.
	Ping(ctx context.Context) error
	// Name identifies the venue in logs and audit records.
	Name() string
}

// risk/metrics.go
package risk

import (
	"github.com/shopspring/decimal"

	"riskfortress/ledger"
	"riskfortress/utils"
)

// Metrics is a derived, point-in-time view of risk posture. Assembled from
// the ledger snapshot and monitor readings, never stored.
type Metrics struct {
	Equity               decimal.Decimal            `json:"equity"`
	DailyLoss            decimal.Decimal            `json:"daily_loss"`
	DailyTrades          int                        `json:"daily_trades"`
	TotalExposure        decimal.Decimal            `json:"total_exposure"`
	ExposureRatio        decimal.Decimal            `json:"exposure_ratio"`
	CurrentDrawdown      decimal.Decimal            `json:"current_drawdown"`
	HighWaterMark        decimal.Decimal            `json:"high_water_mark"`
	OpenPositions        int                        `json:"open_positions"`
	MarketVolatility     float64                    `json:"market_volatility"`
	ExchangeConnectivity map[string]bool            `json:"exchange_connectivity"`
	AdjustedLimits       *Limits                    `json:"adjusted_limits,omitempty"`
	BucketExposures      map[string]decimal.Decimal `json:"bucket_exposures,omitempty"`
}

// BuildMetrics assembles the derived view. Limits passed in are the base
// limits; the exposure ratio is exposure/equity regardless of the cap so the
// reading stays meaningful even when limits are tightened.
func BuildMetrics(snap ledger.AccountState, dd *DrawdownMonitor, corr *CorrelationRiskManager,
	volatility float64, connectivity map[string]bool) Metrics {

	equity := snap.Equity()
	exposure := snap.TotalExposure()

	ratio := utils.Ratio(exposure, equity)

	m := Metrics{
		Equity:               equity,
		DailyLoss:            snap.DailyLoss,
		DailyTrades:          snap.DailyTrades,
		TotalExposure:        exposure,
		ExposureRatio:        ratio,
		OpenPositions:        len(snap.Positions),
		MarketVolatility:     volatility,
		ExchangeConnectivity: connectivity,
	}
	if dd != nil {
		m.CurrentDrawdown = dd.Current()
		m.HighWaterMark = dd.HighWaterMark()
		m.AdjustedLimits = dd.Adjusted()
	}
	if corr != nil {
		m.BucketExposures = corr.Exposures(snap)
	}
	return m
}

// monitor/metrics.go
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Admission metrics
	TradesAdmitted prometheus.Counter
	TradesRejected *prometheus.CounterVec

	// Account posture
	Equity          prometheus.Gauge
	DailyLoss       prometheus.Gauge
	TotalExposure   prometheus.Gauge
	ExposureRatio   prometheus.Gauge
	CurrentDrawdown prometheus.Gauge
	HighWaterMark   prometheus.Gauge
	OpenPositions   prometheus.Gauge

	// Emergency metrics
	EmergencyState     *prometheus.GaugeVec
	ShutdownsTriggered *prometheus.CounterVec

	// Market data
	MarketVolatility prometheus.Gauge
	VenuesConnected  prometheus.Gauge
}

// NewMetrics creates a Metrics instance with all metrics registered on the
// default registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "riskfortress"
	}

	return &Metrics{
		TradesAdmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "trades_admitted_total",
			Help:      "Total number of trades admitted into the ledger",
		}),
		TradesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "trades_rejected_total",
			Help:      "Total number of trades rejected, by reason code",
		}, []string{"reason"}),

		Equity: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "equity",
			Help:      "Current account equity including unrealized PnL",
		}),
		DailyLoss: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "daily_loss",
			Help:      "Realized loss accumulated since the last rollover",
		}),
		TotalExposure: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "total_exposure",
			Help:      "Sum of open position notionals",
		}),
		ExposureRatio: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "exposure_ratio",
			Help:      "Total exposure divided by equity",
		}),
		CurrentDrawdown: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "current_drawdown",
			Help:      "Drawdown fraction from the equity high-water mark",
		}),
		HighWaterMark: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "high_water_mark",
			Help:      "Equity high-water mark",
		}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "open_positions",
			Help:      "Number of open positions",
		}),

		EmergencyState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "emergency",
			Name:      "state",
			Help:      "Current emergency state (1 for the active state, 0 otherwise)",
		}, []string{"state"}),
		ShutdownsTriggered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emergency",
			Name:      "shutdowns_triggered_total",
			Help:      "Total emergency shutdown triggers, by cause",
		}, []string{"cause"}),
		MarketVolatility: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "volatility",
			Help:      "Highest rolling volatility across tracked symbols",
		}),
		VenuesConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "venues_connected",
			Help:      "Number of venues currently reporting connected",
		}),
	}
}

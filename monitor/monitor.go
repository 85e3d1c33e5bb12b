// monitor/monitor.go
package monitor

import (
	"time"

	"github.com/shopspring/decimal"

	"riskfortress/config"
	"riskfortress/coordinator"
	"riskfortress/emergency"
	"riskfortress/logs"
)

var allStates = []emergency.State{
	emergency.StateNormal,
	emergency.StateHalting,
	emergency.StateHalted,
	emergency.StateRecovering,
}

// Start runs the monitor loop: it refreshes the Prometheus gauges from the
// coordinator's status on every tick, counts events from the engine stream,
// and emits a periodic heartbeat log line.
func Start(
	coord *coordinator.Coordinator,
	metrics *Metrics,
	cfg *config.MonitorConfig,
	stopChan <-chan struct{},
) {
	ticker := time.NewTicker(time.Duration(cfg.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	lastHeartbeat := time.Now()
	heartbeatInterval := time.Duration(cfg.HeartbeatIntervalMinutes) * time.Minute

	events, cancel := coord.Subscribe()
	defer cancel()

	for {
		select {
		case <-stopChan:
			logs.Info("Monitor received stop signal, exiting.")
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			countEvent(metrics, ev)

		case <-ticker.C:
			st := coord.GetStatus()
			refreshGauges(metrics, st)

			if time.Since(lastHeartbeat) >= heartbeatInterval {
				m := st.Metrics
				logs.Infof("[Heartbeat] state=%s equity=%s exposure=%s (%sx) drawdown=%s daily_loss=%s positions=%d",
					st.State, m.Equity.StringFixed(2), m.TotalExposure.StringFixed(2),
					m.ExposureRatio.StringFixed(2), m.CurrentDrawdown.StringFixed(4),
					m.DailyLoss.StringFixed(2), m.OpenPositions)
				lastHeartbeat = time.Now()
			}
		}
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func countEvent(metrics *Metrics, ev coordinator.Event) {
	switch ev.Type {
	case coordinator.EventTradeAdmitted:
		metrics.TradesAdmitted.Inc()
	case coordinator.EventTradeRejected:
		metrics.TradesRejected.WithLabelValues(ev.Reason).Inc()
	case coordinator.EventEmergencyTransition:
		// Only the entry into halting carries a trigger cause.
		if ev.Reason != "" && ev.Reason != string(emergency.StateHalted) &&
			ev.Reason != string(emergency.StateRecovering) && ev.Reason != string(emergency.StateNormal) {
			metrics.ShutdownsTriggered.WithLabelValues(ev.Reason).Inc()
		}
	}
}

func refreshGauges(metrics *Metrics, st coordinator.Status) {
	m := st.Metrics
	metrics.Equity.Set(toFloat(m.Equity))
	metrics.DailyLoss.Set(toFloat(m.DailyLoss))
	metrics.TotalExposure.Set(toFloat(m.TotalExposure))
	metrics.ExposureRatio.Set(toFloat(m.ExposureRatio))
	metrics.CurrentDrawdown.Set(toFloat(m.CurrentDrawdown))
	metrics.HighWaterMark.Set(toFloat(m.HighWaterMark))
	metrics.OpenPositions.Set(float64(m.OpenPositions))
	metrics.MarketVolatility.Set(m.MarketVolatility)

	connected := 0
	for _, up := range m.ExchangeConnectivity {
		if up {
			connected++
		}
	}
	metrics.VenuesConnected.Set(float64(connected))

	for _, s := range allStates {
		v := 0.0
		if s == st.State {
			v = 1.0
		}
		metrics.EmergencyState.WithLabelValues(string(s)).Set(v)
	}
}

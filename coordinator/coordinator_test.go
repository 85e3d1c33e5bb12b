package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskfortress/config"
	"riskfortress/emergency"
	"riskfortress/execution"
	"riskfortress/ledger"
	"riskfortress/logs"
	"riskfortress/marketdata"
	"riskfortress/risk"
)

func init() {
	logs.InitForTesting()
}

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testConfig() *config.Config {
	return &config.Config{
		Account: &config.AccountConfig{Currency: "USDT", Balance: 10000, Leverage: 5},
		Limits: &config.LimitsConfig{
			MaxRiskPerTrade:       0.02,
			MaxDailyLoss:          0.05,
			MaxTotalExposure:      3,
			MaxDrawdown:           0.15,
			MaxCorrelatedExposure: 0.5,
		},
		Buckets: []config.BucketConfig{
			{Name: "majors", Symbols: []string{"BTCUSDT", "ETHUSDT"}},
		},
		Symbols:   []string{"BTCUSDT", "ETHUSDT"},
		Exchanges: []string{"sim"},
		Emergency: &config.EmergencyConfig{
			FlattenMaxAttempts:       3,
			FlattenBackoffMS:         1,
			FlattenBackoffMaxMS:      2,
			VolatilityShockThreshold: 0.10,
			MaxQuoteAgeSeconds:       60,
		},
		Monitor:       &config.MonitorConfig{ListenAddr: ":0", IntervalSeconds: 1, HeartbeatIntervalMinutes: 60},
		Audit:         &config.AuditConfig{QueueSize: 64},
		UseSimulation: true,
	}
}

type fixture struct {
	coord *Coordinator
	led   *ledger.Ledger
	feed  *marketdata.Feed
	mock  *execution.MockClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testConfig()
	led := ledger.New(d(cfg.Account.Balance), d(cfg.Account.Leverage), cfg.Audit.QueueSize)
	feed := marketdata.NewFeed(time.Duration(cfg.Emergency.MaxQuoteAgeSeconds) * time.Second)
	mock := execution.NewMockClient("sim")
	coord := New(cfg, led, feed, []execution.Client{mock}, nil)

	feed.SetConnectivity("sim", true)
	for _, sym := range cfg.Symbols {
		mock.SetPrice(sym, d(100))
		feed.SetQuote(sym, d(100), 0.01)
	}
	return &fixture{coord: coord, led: led, feed: feed, mock: mock}
}

func trade(symbol string, qty, entry, stop float64) risk.ProposedTrade {
	return risk.ProposedTrade{
		Symbol:     symbol,
		Side:       ledger.Long,
		Quantity:   d(qty),
		EntryPrice: d(entry),
		StopLoss:   d(stop),
		Exchange:   "sim",
	}
}

func TestRequestAdmission_HappyPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pos, rej, err := f.coord.RequestAdmission(trade("BTCUSDT", 1, 100, 90))
	require.NoError(t, err)
	require.Nil(t, rej)
	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, 1, f.led.OpenPositionCount())
}

func TestRequestAdmission_RejectionIsValueNotError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// risk 21*10=210 > 200 budget
	_, rej, err := f.coord.RequestAdmission(trade("BTCUSDT", 21, 100, 90))
	require.NoError(t, err, "denials must never surface as errors")
	require.NotNil(t, rej)
	assert.Equal(t, risk.ReasonPerTradeRisk, rej.Reason)
	assert.Equal(t, 0, f.led.OpenPositionCount())
}

func TestRequestAdmission_NoQuoteRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, rej, err := f.coord.RequestAdmission(trade("DOGEUSDT", 1, 100, 90))
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, risk.ReasonExchangeUnavailable, rej.Reason)
}

func TestRequestAdmission_DisconnectedVenueRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tr := trade("BTCUSDT", 1, 100, 90)
	tr.Exchange = "other"
	_, rej, err := f.coord.RequestAdmission(tr)
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, risk.ReasonExchangeUnavailable, rej.Reason)
}

func TestRequestAdmission_CommitFenceCatchesMidFlightShutdown(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// The venue drops out after evaluation has already passed. The fence
	// must keep the trade out of the book, and the shutdown must wait for
	// the in-flight admission before snapshotting, so the flattened book
	// is final and the halt never ends with a missed live position.
	done := make(chan struct{})
	f.coord.beforeCommit = func() {
		go func() {
			defer close(done)
			f.coord.OnExchangeStatus("sim", false)
		}()
		for !f.coord.Controller().Active() {
			time.Sleep(time.Millisecond)
		}
	}

	_, rej, err := f.coord.RequestAdmission(trade("BTCUSDT", 1, 100, 90))
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, risk.ReasonEmergencyActive, rej.Reason)

	<-done
	assert.Equal(t, emergency.StateHalted, f.coord.Controller().State())
	assert.False(t, f.coord.Controller().UnresolvedPositions())
	assert.Empty(t, f.led.Snapshot().Positions)
}

func TestShutdownAndRecovery_FullCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, rej, err := f.coord.RequestAdmission(trade("BTCUSDT", 1, 100, 90))
	require.NoError(t, err)
	require.Nil(t, rej)
	_, rej, err = f.coord.RequestAdmission(trade("ETHUSDT", 2, 100, 95))
	require.NoError(t, err)
	require.Nil(t, rej)

	f.mock.SetPrice("BTCUSDT", d(99))
	f.mock.SetPrice("ETHUSDT", d(101))

	token := f.coord.TriggerShutdown(emergency.CauseManual, "operator pulled the cord")
	require.NotEmpty(t, token)
	assert.Equal(t, emergency.StateHalted, f.coord.Controller().State())
	assert.Equal(t, 0, f.led.OpenPositionCount(), "every position is flattened")

	// Admissions are closed while halted.
	_, rej, err = f.coord.RequestAdmission(trade("BTCUSDT", 1, 100, 90))
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, risk.ReasonEmergencyActive, rej.Reason)

	// A second trigger only records its cause.
	assert.Empty(t, f.coord.TriggerShutdown(emergency.CauseVolatilityShock, "again"))
	assert.Len(t, f.coord.Controller().Causes(), 2)

	// Wrong token is refused; the right one restores normal operation.
	require.NotNil(t, f.coord.InitiateRecovery("wrong", emergency.RecoveryOptions{}))
	require.Nil(t, f.coord.InitiateRecovery(token, emergency.RecoveryOptions{}))
	assert.Equal(t, emergency.StateNormal, f.coord.Controller().State())

	_, rej, err = f.coord.RequestAdmission(trade("BTCUSDT", 1, 100, 90))
	require.NoError(t, err)
	assert.Nil(t, rej)
}

func TestRecoveryValidation_OpenPositionReturnsToHalted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, rej, err := f.coord.RequestAdmission(trade("BTCUSDT", 1, 100, 90))
	require.NoError(t, err)
	require.Nil(t, rej)

	// Flattening never succeeds, so the halt ends unresolved with the
	// position still in the book.
	f.mock.FailNextCloses("BTCUSDT", 100)
	token := f.coord.TriggerShutdown(emergency.CauseManual, "test")
	require.NotEmpty(t, token)
	require.True(t, f.coord.Controller().UnresolvedPositions())
	require.Equal(t, 1, f.led.OpenPositionCount())

	// An operator clears the flag without actually closing anything; the
	// recovering validation pass must catch the live position and return
	// the engine to halted with a fresh token.
	f.coord.Controller().ResolvePositions()
	rej = f.coord.InitiateRecovery(token, emergency.RecoveryOptions{})
	require.NotNil(t, rej)
	assert.Equal(t, risk.ReasonEmergencyActive, rej.Reason)
	assert.Equal(t, emergency.StateHalted, f.coord.Controller().State())

	// The spent token no longer opens the door.
	rej = f.coord.InitiateRecovery(token, emergency.RecoveryOptions{})
	require.NotNil(t, rej)
	assert.Equal(t, risk.ReasonInvalidConfirmation, rej.Reason)
}

func TestRecoveryOptions_ResetHighWaterMark(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pos, _, err := f.coord.RequestAdmission(trade("BTCUSDT", 10, 100, 95))
	require.NoError(t, err)
	// Realize a loss so equity sits below the mark.
	_, err = f.coord.ClosePosition(pos.ID, d(80))
	require.NoError(t, err)

	token := f.coord.TriggerShutdown(emergency.CauseManual, "test")
	require.NotEmpty(t, token)

	rej := f.coord.InitiateRecovery(token, emergency.RecoveryOptions{
		ResetHighWaterMark: true,
		ResetDailyCounters: true,
	})
	require.Nil(t, rej)

	st := f.coord.GetStatus()
	assert.True(t, st.Metrics.CurrentDrawdown.IsZero())
	assert.True(t, st.Metrics.DailyLoss.IsZero())
	assert.True(t, st.Metrics.HighWaterMark.Equal(f.led.Equity()))
}

func TestVolatilityShock_TriggersShutdown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, _, err := f.coord.RequestAdmission(trade("BTCUSDT", 1, 100, 90))
	require.NoError(t, err)

	f.coord.OnTick("BTCUSDT", d(100), 0.25) // threshold is 0.10

	assert.Equal(t, emergency.StateHalted, f.coord.Controller().State())
	assert.Equal(t, 0, f.led.OpenPositionCount())
	causes := f.coord.Controller().Causes()
	require.NotEmpty(t, causes)
	assert.Equal(t, emergency.CauseVolatilityShock, causes[0].Cause)
}

func TestVolatilityShock_ThresholdWithinFloatTolerance(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	// A reading a rounding error below the threshold still counts as on it.
	f.coord.OnTick("BTCUSDT", d(100), 0.10-1e-12)
	assert.Equal(t, emergency.StateHalted, f.coord.Controller().State())

	// Clearly below the threshold stays open.
	f2 := newFixture(t)
	f2.coord.OnTick("BTCUSDT", d(100), 0.09)
	assert.Equal(t, emergency.StateNormal, f2.coord.Controller().State())
}

func TestExchangeOutage_UnresolvedThenRecover(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, _, err := f.coord.RequestAdmission(trade("BTCUSDT", 1, 100, 90))
	require.NoError(t, err)

	// Venue dies: every close attempt fails, the position stays stuck.
	f.mock.FailNextCloses("BTCUSDT", 100)
	f.coord.OnExchangeStatus("sim", false)

	require.Equal(t, emergency.StateHalted, f.coord.Controller().State())
	require.True(t, f.coord.Controller().UnresolvedPositions())
	assert.Equal(t, 1, f.led.OpenPositionCount())

	// Venue returns, but the unresolved flag still blocks recovery.
	f.coord.OnExchangeStatus("sim", true)
	rej := f.coord.InitiateRecovery("irrelevant", emergency.RecoveryOptions{})
	require.NotNil(t, rej)
	assert.Equal(t, risk.ReasonUnresolvedPositions, rej.Reason)

	// Operator reconciles: stragglers leave the ledger and the flag clears.
	f.coord.ResolvePositions()
	assert.Equal(t, 0, f.led.OpenPositionCount())
	assert.False(t, f.coord.Controller().UnresolvedPositions())
}

func TestHardDrawdown_TriggersShutdown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pos, rej, err := f.coord.RequestAdmission(trade("BTCUSDT", 50, 100, 96))
	require.NoError(t, err)
	require.Nil(t, rej)

	// Lose 16% of a 10000 account in one close: past the 15% hard limit.
	_, err = f.coord.ClosePosition(pos.ID, d(68))
	require.NoError(t, err)

	// The hard trigger fires asynchronously.
	assert.Eventually(t, func() bool {
		return f.coord.Controller().State() == emergency.StateHalted
	}, 2*time.Second, 10*time.Millisecond)

	causes := f.coord.Controller().Causes()
	require.NotEmpty(t, causes)
	assert.Equal(t, emergency.CauseHardDrawdown, causes[0].Cause)
}

func TestConcurrentAdmissions_NeverExceedExposureCap(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// SOLUSDT sits in no correlation bucket, so the binding limit is the
	// 3x exposure cap: 30000 across 50 racing trades of 1000 notional each.
	f.feed.SetQuote("SOLUSDT", d(100), 0.01)
	const workers = 50

	var wg sync.WaitGroup
	var admitted int32
	var mu sync.Mutex
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, rej, err := f.coord.RequestAdmission(trade("SOLUSDT", 10, 100, 99))
			if err != nil {
				t.Error(err)
				return
			}
			if rej == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	snap := f.led.Snapshot()
	assert.True(t, snap.TotalExposure().LessThanOrEqual(d(30000)),
		"exposure %s breached the cap under concurrency", snap.TotalExposure())
	assert.Equal(t, int(admitted), f.led.OpenPositionCount())
	assert.NoError(t, f.led.CheckInvariant())
}

func TestRollDaily_ClearsBudget(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pos, _, err := f.coord.RequestAdmission(trade("BTCUSDT", 10, 100, 96))
	require.NoError(t, err)
	_, err = f.coord.ClosePosition(pos.ID, d(55))
	require.NoError(t, err)

	st := f.coord.GetStatus()
	require.True(t, st.Metrics.DailyLoss.Equal(d(450)))

	// budget = 500; a trade risking 60 busts what is left of today...
	_, rej, err := f.coord.RequestAdmission(trade("BTCUSDT", 6, 100, 90))
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, risk.ReasonDailyLoss, rej.Reason)

	// ...and sails through after the rollover.
	f.coord.RollDaily(time.Now().UTC())
	_, rej, err = f.coord.RequestAdmission(trade("BTCUSDT", 6, 100, 90))
	require.NoError(t, err)
	assert.Nil(t, rej)
}

func TestSubscribe_ReceivesRejectionEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	events, cancel := f.coord.Subscribe()
	defer cancel()

	_, rej, err := f.coord.RequestAdmission(trade("BTCUSDT", 500, 100, 90))
	require.NoError(t, err)
	require.NotNil(t, rej)

	select {
	case ev := <-events:
		assert.Equal(t, EventTradeRejected, ev.Type)
		assert.Equal(t, string(risk.ReasonPerTradeRisk), ev.Reason)
		assert.Equal(t, "BTCUSDT", ev.Symbol)
	case <-time.After(time.Second):
		t.Fatal("expected a rejection event")
	}
}

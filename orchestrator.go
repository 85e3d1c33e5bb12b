// orchestrator.go
package main

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"riskfortress/audit"
	"riskfortress/config"
	"riskfortress/coordinator"
	"riskfortress/emergency"
	"riskfortress/execution"
	"riskfortress/ledger"
	"riskfortress/logs"
	"riskfortress/marketdata"
	"riskfortress/monitor"
	"riskfortress/state"
)

type Orchestrator struct {
	cfg          *config.Config
	ledger       *ledger.Ledger
	feed         *marketdata.Feed
	coord        *coordinator.Coordinator
	clients      []execution.Client
	stateManager state.StateManagerInterface
	journal      *audit.SQLiteJournal
	sink         *audit.Sink
	metrics      *monitor.Metrics
	server       *monitor.Server

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewOrchestrator(cfg *config.Config, envCfg *config.EnvConfig, stateFilePath string) (*Orchestrator, error) {
	if !cfg.UseSimulation {
		return nil, fmt.Errorf("no live venue adapters are wired in this build; set use_simulation: true")
	}

	clients := make([]execution.Client, 0, len(cfg.Exchanges))
	mocks := make([]*execution.MockClient, 0, len(cfg.Exchanges))
	for _, name := range cfg.Exchanges {
		mc := execution.NewMockClient(name)
		clients = append(clients, mc)
		mocks = append(mocks, mc)
	}
	logs.Warnf("<<<<<<<<<< WARNING: Running in simulation mode >>>>>>>>>>")

	stateManager, err := state.NewStateManager(stateFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state manager: %w", err)
	}
	logs.Infof("State manager initialized successfully, state will be persisted to: %s", stateFilePath)

	led := ledger.New(
		decimal.NewFromFloat(cfg.Account.Balance),
		decimal.NewFromFloat(cfg.Account.Leverage),
		cfg.Audit.QueueSize,
	)

	feed := marketdata.NewFeed(time.Duration(cfg.Emergency.MaxQuoteAgeSeconds) * time.Second)

	o := &Orchestrator{
		cfg:          cfg,
		ledger:       led,
		feed:         feed,
		clients:      clients,
		stateManager: stateManager,
		stopChan:     make(chan struct{}),
	}

	o.coord = coordinator.New(cfg, led, feed, clients, o.persistTransition)

	// Rehydrate persisted counters and, if the engine was halted when it last
	// ran, the halted state itself: a restart never resumes trading silently.
	prev := stateManager.GetFullState()
	if hwm, err := decimal.NewFromString(prev.Account.HighWaterMark); err == nil && hwm.IsPositive() {
		dailyLoss, _ := decimal.NewFromString(prev.Account.DailyLoss)
		led.Restore(hwm, dailyLoss, prev.Account.DailyTrades, prev.Account.LastRollover)
		o.coord.Drawdown().Restore(hwm)
	}
	if prev.Emergency.State != emergency.StateNormal {
		o.coord.Controller().RestoreHalted(prev.Emergency.Causes,
			prev.Emergency.RecoveryTokenHash, prev.Emergency.UnresolvedPositions)
	}

	journal, err := audit.NewSQLite(cfg.Audit.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit journal: %w", err)
	}
	o.journal = journal

	o.metrics = monitor.NewMetrics("riskfortress")
	o.server = monitor.NewServer(cfg.Monitor, envCfg, o.coord)

	// Seed the feed so the engine starts with a live picture.
	for _, mc := range mocks {
		o.feed.SetConnectivity(mc.Name(), true)
		for _, sym := range cfg.Symbols {
			price := decimal.NewFromFloat(100)
			mc.SetPrice(sym, price)
			o.feed.SetQuote(sym, price, 0)
		}
	}

	return o, nil
}

func (o *Orchestrator) Start() {
	o.coord.Start()
	o.sink = audit.NewSink(o.journal, o.coord)
	o.server.Start()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		monitor.Start(o.coord, o.metrics, o.cfg.Monitor, o.stopChan)
	}()

	o.wg.Add(1)
	go o.rolloverLoop()

	if o.cfg.UseSimulation {
		o.wg.Add(1)
		go o.simulateMarket()
	}

	logs.Info("Orchestrator started.")
}

func (o *Orchestrator) Stop() {
	logs.Info("Orchestrator stopping...")
	close(o.stopChan)
	o.wg.Wait()

	if o.server != nil {
		o.server.Close()
	}
	if o.sink != nil {
		o.sink.Close()
	}
	o.coord.Stop()
	if o.journal != nil {
		o.journal.Close()
	}
	o.persistAccount()
	logs.Info("Orchestrator stopped.")
}

// persistTransition is invoked on every emergency state change.
func (o *Orchestrator) persistTransition(t emergency.Transition) {
	ctrl := o.coord.Controller()
	err := o.stateManager.UpdateEmergency(&state.EmergencyState{
		State:               ctrl.State(),
		Causes:              ctrl.Causes(),
		RecoveryTokenHash:   ctrl.TokenHash(),
		UnresolvedPositions: ctrl.UnresolvedPositions(),
	})
	if err != nil {
		logs.Errorf("[Orchestrator] Persisting emergency state failed: %v", err)
	}
	if err := o.journal.RecordTransition(audit.TransitionRecord{
		FromState: string(t.From),
		ToState:   string(t.To),
		Time:      t.Timestamp,
		Detail:    t.Detail,
	}); err != nil {
		logs.Warnf("[Orchestrator] Journaling transition failed: %v", err)
	}
	o.persistAccount()
}

func (o *Orchestrator) persistAccount() {
	snap := o.ledger.Snapshot()
	err := o.stateManager.UpdateAccount(&state.AccountMeta{
		HighWaterMark: snap.EquityHighWaterMark.String(),
		DailyLoss:     snap.DailyLoss.String(),
		DailyTrades:   snap.DailyTrades,
		LastRollover:  snap.LastRollover,
	})
	if err != nil {
		logs.Errorf("[Orchestrator] Persisting account counters failed: %v", err)
	}
}

// rolloverLoop drives the explicit daily reset at UTC midnight. The ledger
// itself never consults the wall clock.
func (o *Orchestrator) rolloverLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	lastDay := time.Now().UTC().Truncate(24 * time.Hour)
	for {
		select {
		case <-o.stopChan:
			return
		case now := <-ticker.C:
			day := now.UTC().Truncate(24 * time.Hour)
			if day.After(lastDay) {
				logs.Infof("[Orchestrator] UTC day boundary crossed, rolling daily counters")
				o.coord.RollDaily(now.UTC())
				o.persistAccount()
				lastDay = day
			}
		}
	}
}

// simulateMarket random-walks prices into the coordinator so the engine has
// something to chew on without a live venue.
func (o *Orchestrator) simulateMarket() {
	defer o.wg.Done()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prices := make(map[string]float64, len(o.cfg.Symbols))
	for _, sym := range o.cfg.Symbols {
		prices[sym] = 100
	}

	for {
		select {
		case <-o.stopChan:
			return
		case <-ticker.C:
			for _, sym := range o.cfg.Symbols {
				step := (rng.Float64() - 0.5) * 0.004
				prices[sym] *= 1 + step
				vol := rng.Float64() * 0.01
				o.coord.OnTick(sym, decimal.NewFromFloat(prices[sym]), vol)
			}
		}
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Account: &AccountConfig{Currency: "USDT", Balance: 10000, Leverage: 5},
		Limits: &LimitsConfig{
			MaxRiskPerTrade:       0.02,
			MaxDailyLoss:          0.05,
			MaxTotalExposure:      3,
			MaxDrawdown:           0.15,
			MaxCorrelatedExposure: 0.5,
		},
		Buckets: []BucketConfig{
			{Name: "majors", Symbols: []string{"BTCUSDT", "ETHUSDT"}},
		},
		Symbols:   []string{"BTCUSDT", "ETHUSDT"},
		Exchanges: []string{"sim"},
		Emergency: &EmergencyConfig{
			FlattenMaxAttempts:       5,
			FlattenBackoffMS:         200,
			FlattenBackoffMaxMS:      3000,
			VolatilityShockThreshold: 0.08,
			MaxQuoteAgeSeconds:       30,
		},
		Monitor: &MonitorConfig{ListenAddr: ":9090", IntervalSeconds: 5, HeartbeatIntervalMinutes: 30},
		Audit:   &AuditConfig{JournalPath: "state/audit.db", QueueSize: 256},
		Logs:    &LogConfig{LogLevel: "info", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 7},
		Normal:  &NormalConfig{LogDirectory: "logs", StateDirectory: "state"},
	}
}

func TestValidate_AcceptsCompleteConfig(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_RejectsMissingCriticalParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"zero balance", func(c *Config) { c.Account.Balance = 0 }, "account.balance"},
		{"risk per trade out of range", func(c *Config) { c.Limits.MaxRiskPerTrade = 1 }, "max_risk_per_trade"},
		{"daily loss out of range", func(c *Config) { c.Limits.MaxDailyLoss = 0 }, "max_daily_loss"},
		{"no exposure cap", func(c *Config) { c.Limits.MaxTotalExposure = 0 }, "max_total_exposure"},
		{"drawdown out of range", func(c *Config) { c.Limits.MaxDrawdown = 1.5 }, "max_drawdown"},
		{"no symbols", func(c *Config) { c.Symbols = nil }, "symbols"},
		{"no exchanges", func(c *Config) { c.Exchanges = nil }, "exchanges"},
		{"unnamed bucket", func(c *Config) { c.Buckets[0].Name = "" }, "no name"},
		{"duplicate bucket", func(c *Config) {
			c.Buckets = append(c.Buckets, BucketConfig{Name: "majors", Symbols: []string{"X"}})
		}, "duplicate bucket"},
		{"empty bucket", func(c *Config) { c.Buckets[0].Symbols = nil }, "no symbols"},
		{"no flatten attempts", func(c *Config) { c.Emergency.FlattenMaxAttempts = 0 }, "flatten_max_attempts"},
		{"backoff max below min", func(c *Config) { c.Emergency.FlattenBackoffMaxMS = 10 }, "flatten_backoff_max_ms"},
		{"no shock threshold", func(c *Config) { c.Emergency.VolatilityShockThreshold = 0 }, "volatility_shock_threshold"},
		{"no quote age", func(c *Config) { c.Emergency.MaxQuoteAgeSeconds = 0 }, "max_quote_age_seconds"},
		{"no listen addr", func(c *Config) { c.Monitor.ListenAddr = "" }, "listen_addr"},
		{"no journal path", func(c *Config) { c.Audit.JournalPath = "" }, "journal_path"},
		{"no log level", func(c *Config) { c.Logs.LogLevel = "" }, "log_level"},
		{"no state dir", func(c *Config) { c.Normal.StateDirectory = "" }, "state_directory"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantSub)
		})
	}
}

func TestLoadConfig_FromYAML(t *testing.T) {
	t.Parallel()

	yml := `
account:
  currency: USDT
  balance: 25000
  leverage: 10
limits:
  max_risk_per_trade: 0.01
  max_daily_loss: 0.03
  max_total_exposure: 2
  max_drawdown: 0.2
  max_correlated_exposure: 0.4
buckets:
  - name: majors
    symbols: [BTCUSDT, ETHUSDT]
    cap: 0.3
symbols: [BTCUSDT, ETHUSDT]
exchanges: [sim]
emergency:
  flatten_max_attempts: 4
  flatten_backoff_ms: 100
  flatten_backoff_max_ms: 2000
  volatility_shock_threshold: 0.08
  max_quote_age_seconds: 20
monitor:
  listen_addr: ":9090"
  interval_seconds: 5
  heartbeat_interval_minutes: 30
audit:
  journal_path: state/audit.db
  queue_size: 128
logs:
  log_level: debug
  max_size_mb: 10
  max_backups: 3
  max_age_days: 7
normal_config:
  log_directory: logs
  state_directory: state
use_simulation: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 25000.0, cfg.Account.Balance)
	assert.Equal(t, 0.01, cfg.Limits.MaxRiskPerTrade)
	assert.Equal(t, 0.3, cfg.Buckets[0].Cap)
	assert.True(t, cfg.UseSimulation)
	assert.Equal(t, 4, cfg.Emergency.FlattenMaxAttempts)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

// config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// AccountConfig holds the starting state of the trading account guarded by the engine.
type AccountConfig struct {
	Currency string  `yaml:"currency"`
	Balance  float64 `yaml:"balance"`
	Leverage float64 `yaml:"leverage"`
}

// LimitsConfig holds the immutable base risk limits. All fractional values are
// expressed relative to account balance, except MaxTotalExposure which is a
// multiple of balance.
type LimitsConfig struct {
	MaxRiskPerTrade       float64 `yaml:"max_risk_per_trade"`
	MaxDailyLoss          float64 `yaml:"max_daily_loss"`
	MaxTotalExposure      float64 `yaml:"max_total_exposure"`
	MaxDrawdown           float64 `yaml:"max_drawdown"`
	MaxCorrelatedExposure float64 `yaml:"max_correlated_exposure"`
}

// BucketConfig declares one static correlation bucket. A symbol may appear in
// several buckets. Cap overrides limits.max_correlated_exposure when positive.
type BucketConfig struct {
	Name    string   `yaml:"name"`
	Symbols []string `yaml:"symbols"`
	Cap     float64  `yaml:"cap"`
}

// EmergencyConfig tunes the shutdown controller and its position flattener.
type EmergencyConfig struct {
	FlattenMaxAttempts       int     `yaml:"flatten_max_attempts"`
	FlattenBackoffMS         int     `yaml:"flatten_backoff_ms"`
	FlattenBackoffMaxMS      int     `yaml:"flatten_backoff_max_ms"`
	VolatilityShockThreshold float64 `yaml:"volatility_shock_threshold"`
	MaxQuoteAgeSeconds       int     `yaml:"max_quote_age_seconds"`
}

// MonitorConfig configures the evaluation loop and the ops HTTP endpoint.
type MonitorConfig struct {
	ListenAddr               string `yaml:"listen_addr"`
	IntervalSeconds          int    `yaml:"interval_seconds"`
	HeartbeatIntervalMinutes int    `yaml:"heartbeat_interval_minutes"`
}

// AuditConfig configures the best-effort audit journal.
type AuditConfig struct {
	JournalPath string `yaml:"journal_path"`
	QueueSize   int    `yaml:"queue_size"`
}

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NormalConfig holds general, non-risk configuration.
type NormalConfig struct {
	LogDirectory   string `yaml:"log_directory"`
	StateDirectory string `yaml:"state_directory"`
}

// Config is the top-level configuration structure.
type Config struct {
	Account       *AccountConfig   `yaml:"account"`
	Limits        *LimitsConfig    `yaml:"limits"`
	Buckets       []BucketConfig   `yaml:"buckets"`
	Symbols       []string         `yaml:"symbols"`
	Exchanges     []string         `yaml:"exchanges"`
	Emergency     *EmergencyConfig `yaml:"emergency"`
	Monitor       *MonitorConfig   `yaml:"monitor"`
	Audit         *AuditConfig     `yaml:"audit"`
	Logs          *LogConfig       `yaml:"logs"`
	Normal        *NormalConfig    `yaml:"normal_config"`
	UseSimulation bool             `yaml:"use_simulation"`
}

// NewConfig creates a Config struct with allocations but no magic numbers.
// All critical risk parameters MUST be provided in the config.yaml file.
func NewConfig() *Config {
	return &Config{
		UseSimulation: false,
		Account:       &AccountConfig{Currency: "USDT", Leverage: 1},
		Limits:        &LimitsConfig{},
		Emergency:     &EmergencyConfig{},
		Monitor:       &MonitorConfig{},
		Audit:         &AuditConfig{},
		Logs:          &LogConfig{},
		Normal:        &NormalConfig{},
	}
}

// LoadConfig loads configuration from a given path, applies defaults, and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s, the engine cannot run without one", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	if cfg.Account != nil && cfg.Account.Currency == "" {
		cfg.Account.Currency = "USDT"
	}
	if cfg.Account != nil && cfg.Account.Leverage == 0 {
		cfg.Account.Leverage = 1
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the logical consistency and completeness of the entire configuration.
func (c *Config) Validate() error {
	if c.Account == nil {
		return fmt.Errorf("critical config missing: 'account' block must be provided in config.yaml")
	}
	if c.Account.Balance <= 0 {
		return fmt.Errorf("critical config missing: 'account.balance' must be explicitly specified and be positive")
	}
	if c.Account.Leverage <= 0 {
		return fmt.Errorf("config error: 'account.leverage' must be positive")
	}

	if c.Limits == nil {
		return fmt.Errorf("critical config missing: 'limits' block must be provided in config.yaml")
	}
	if c.Limits.MaxRiskPerTrade <= 0 || c.Limits.MaxRiskPerTrade >= 1 {
		return fmt.Errorf("critical config missing: 'limits.max_risk_per_trade' must be in (0, 1), got %v", c.Limits.MaxRiskPerTrade)
	}
	if c.Limits.MaxDailyLoss <= 0 || c.Limits.MaxDailyLoss >= 1 {
		return fmt.Errorf("critical config missing: 'limits.max_daily_loss' must be in (0, 1), got %v", c.Limits.MaxDailyLoss)
	}
	if c.Limits.MaxTotalExposure <= 0 {
		return fmt.Errorf("critical config missing: 'limits.max_total_exposure' must be explicitly specified and be positive")
	}
	if c.Limits.MaxDrawdown <= 0 || c.Limits.MaxDrawdown >= 1 {
		return fmt.Errorf("critical config missing: 'limits.max_drawdown' must be in (0, 1), got %v", c.Limits.MaxDrawdown)
	}
	if c.Limits.MaxCorrelatedExposure <= 0 {
		return fmt.Errorf("critical config missing: 'limits.max_correlated_exposure' must be explicitly specified and be positive")
	}

	if len(c.Symbols) == 0 {
		return fmt.Errorf("critical config missing: 'symbols' must list at least one tracked symbol")
	}
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("critical config missing: 'exchanges' must list at least one exchange")
	}

	seen := make(map[string]bool, len(c.Buckets))
	for i, b := range c.Buckets {
		if b.Name == "" {
			return fmt.Errorf("config error: buckets[%d] has no name", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("config error: duplicate bucket name %q", b.Name)
		}
		seen[b.Name] = true
		if len(b.Symbols) == 0 {
			return fmt.Errorf("config error: bucket %q lists no symbols", b.Name)
		}
		if b.Cap < 0 {
			return fmt.Errorf("config error: bucket %q has negative cap", b.Name)
		}
	}

	if c.Emergency == nil {
		return fmt.Errorf("critical config missing: 'emergency' block must be provided in config.yaml")
	}
	if c.Emergency.FlattenMaxAttempts <= 0 {
		return fmt.Errorf("critical config missing: 'emergency.flatten_max_attempts' must be explicitly specified and be positive")
	}
	if c.Emergency.FlattenBackoffMS <= 0 {
		return fmt.Errorf("critical config missing: 'emergency.flatten_backoff_ms' must be explicitly specified and be positive")
	}
	if c.Emergency.FlattenBackoffMaxMS < c.Emergency.FlattenBackoffMS {
		return fmt.Errorf("config error: 'emergency.flatten_backoff_max_ms' must be >= 'emergency.flatten_backoff_ms'")
	}
	if c.Emergency.VolatilityShockThreshold <= 0 {
		return fmt.Errorf("critical config missing: 'emergency.volatility_shock_threshold' must be explicitly specified and be positive")
	}
	if c.Emergency.MaxQuoteAgeSeconds <= 0 {
		return fmt.Errorf("critical config missing: 'emergency.max_quote_age_seconds' must be explicitly specified and be positive")
	}

	if c.Monitor == nil {
		return fmt.Errorf("critical config missing: 'monitor' block must be provided in config.yaml")
	}
	if c.Monitor.ListenAddr == "" {
		return fmt.Errorf("critical config missing: 'monitor.listen_addr' must be explicitly specified (e.g., ':9090')")
	}
	if c.Monitor.IntervalSeconds <= 0 {
		return fmt.Errorf("critical config missing: 'monitor.interval_seconds' must be explicitly specified and be positive")
	}
	if c.Monitor.HeartbeatIntervalMinutes <= 0 {
		return fmt.Errorf("critical config missing: 'monitor.heartbeat_interval_minutes' must be explicitly specified and be positive")
	}

	if c.Audit == nil {
		return fmt.Errorf("critical config missing: 'audit' block must be provided in config.yaml")
	}
	if c.Audit.JournalPath == "" {
		return fmt.Errorf("critical config missing: 'audit.journal_path' must be explicitly specified (e.g., 'state/audit.db')")
	}
	if c.Audit.QueueSize <= 0 {
		return fmt.Errorf("critical config missing: 'audit.queue_size' must be explicitly specified and be positive")
	}

	if c.Logs == nil {
		return fmt.Errorf("critical config missing: 'logs' configuration block must be provided in config.yaml")
	}
	if c.Logs.LogLevel == "" {
		return fmt.Errorf("critical config missing: 'logs.log_level' must be explicitly specified (e.g., 'info', 'debug', 'warn', 'error')")
	}
	if c.Logs.MaxSizeMB <= 0 {
		return fmt.Errorf("critical config missing: 'logs.max_size_mb' must be explicitly specified and be positive")
	}
	if c.Logs.MaxBackups <= 0 {
		return fmt.Errorf("critical config missing: 'logs.max_backups' must be explicitly specified and be positive")
	}
	if c.Logs.MaxAgeDays <= 0 {
		return fmt.Errorf("critical config missing: 'logs.max_age_days' must be explicitly specified and be positive")
	}

	if c.Normal == nil {
		return fmt.Errorf("critical config missing: 'normal_config' block must be provided in config.yaml")
	}
	if c.Normal.LogDirectory == "" {
		return fmt.Errorf("critical config missing: 'normal_config.log_directory' must be explicitly specified (e.g., 'logs')")
	}
	if c.Normal.StateDirectory == "" {
		return fmt.Errorf("critical config missing: 'normal_config.state_directory' must be explicitly specified (e.g., 'state')")
	}

	return nil
}

// EnvConfig carries operational secrets loaded from the environment.
type EnvConfig struct {
	AdminToken string // required by the mutating ops endpoints
}

func LoadEnvConfig() *EnvConfig {
	return &EnvConfig{
		AdminToken: os.Getenv("RISK_ADMIN_TOKEN"),
	}
}

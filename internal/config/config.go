package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration. A config that fails
// Validate() aborts startup before any trading happens.
type Config struct {
	Account   AccountConfig   `yaml:"account"`
	Fees      FeesConfig      `yaml:"fees"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Risk      RiskConfig      `yaml:"risk"`
	Surge     SurgeConfig     `yaml:"surge"`
	Execution ExecutionConfig `yaml:"execution"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AccountConfig identifies the single trading account.
type AccountConfig struct {
	ID             string  `yaml:"id"`
	StartingEquity float64 `yaml:"starting_equity"`
	// Simulation accounts pay no fees or taxes.
	Simulation bool `yaml:"simulation"`
}

// FeesConfig holds commission and tax rates as fractions (0.00015 = 0.015%).
type FeesConfig struct {
	BuyRate         float64 `yaml:"buy_rate"`
	SellRate        float64 `yaml:"sell_rate"`
	TransferTaxRate float64 `yaml:"transfer_tax_rate"`
	// SpecialTaxRate is levied on the transfer tax amount, not on proceeds.
	SpecialTaxRate float64 `yaml:"special_tax_rate"`
}

// RateLimitConfig caps gateway request throughput. The defaults sit below the
// gateway's documented limits as a safety margin.
type RateLimitConfig struct {
	QueryPerSec   int `yaml:"query_per_sec"`
	OrderPerSec   int `yaml:"order_per_sec"`
	OrderDailyCap int `yaml:"order_daily_cap"`
}

// RiskConfig holds the account-level risk limits.
type RiskConfig struct {
	StopLossPct     float64 `yaml:"stop_loss_pct"`     // negative, e.g. -0.05
	TakeProfitPct   float64 `yaml:"take_profit_pct"`   // positive, e.g. 0.10
	DailyLossPct    float64 `yaml:"daily_loss_pct"`    // negative, e.g. -0.03
	MaxPositions    int     `yaml:"max_positions"`
	MaxPositionFrac float64 `yaml:"max_position_frac"` // fraction of equity per entry
}

// SurgeConfig controls the surge admission pipeline.
type SurgeConfig struct {
	Cooldown       time.Duration `yaml:"cooldown"`
	ScoreThreshold float64       `yaml:"score_threshold"`
	// ApprovalMode selects the admission strategy: "auto" or "external".
	ApprovalMode string `yaml:"approval_mode"`
	// ApprovalURL is the external decision endpoint, required in external mode.
	ApprovalURL     string        `yaml:"approval_url"`
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
}

// ExecutionConfig controls order submission behaviour.
type ExecutionConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	BackoffStep    time.Duration `yaml:"backoff_step"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

// ServerConfig configures the read-only HTTP query surface.
type ServerConfig struct {
	Port      string `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

// DatabaseConfig configures the durable mirror.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TelemetryConfig configures optional alerting. An empty webhook URL selects
// the no-op notifier.
type TelemetryConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	WSAddr     string `yaml:"ws_addr"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:             "ACC-LOCAL",
			StartingEquity: 10_000_000,
		},
		Fees: FeesConfig{
			BuyRate:         0.00015,
			SellRate:        0.00015,
			TransferTaxRate: 0.0023,
			SpecialTaxRate:  0.0015,
		},
		RateLimit: RateLimitConfig{
			QueryPerSec:   2,
			OrderPerSec:   3,
			OrderDailyCap: 100,
		},
		Risk: RiskConfig{
			StopLossPct:     -0.05,
			TakeProfitPct:   0.10,
			DailyLossPct:    -0.03,
			MaxPositions:    5,
			MaxPositionFrac: 0.20,
		},
		Surge: SurgeConfig{
			Cooldown:        30 * time.Minute,
			ScoreThreshold:  70,
			ApprovalMode:    "auto",
			ApprovalTimeout: 3 * time.Second,
		},
		Execution: ExecutionConfig{
			MaxRetries:     3,
			BackoffStep:    500 * time.Millisecond,
			ConfirmTimeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Port:      "8080",
			JWTSecret: "autotrader-secret-key",
		},
		Database: DatabaseConfig{
			Path: "autotrader.db",
		},
		Telemetry: TelemetryConfig{
			WSAddr: ":8081",
		},
	}
}

// LoadFromFile reads a YAML config file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks threshold sanity. Any violation is fatal at startup.
func (c *Config) Validate() error {
	if c.Account.StartingEquity <= 0 {
		return fmt.Errorf("account.starting_equity must be positive, got %v", c.Account.StartingEquity)
	}
	if c.Fees.BuyRate < 0 || c.Fees.SellRate < 0 || c.Fees.TransferTaxRate < 0 || c.Fees.SpecialTaxRate < 0 {
		return fmt.Errorf("fee rates must be non-negative")
	}
	if c.RateLimit.QueryPerSec <= 0 || c.RateLimit.OrderPerSec <= 0 {
		return fmt.Errorf("rate_limit per-second caps must be positive")
	}
	if c.RateLimit.OrderDailyCap <= 0 {
		return fmt.Errorf("rate_limit.order_daily_cap must be positive, got %d", c.RateLimit.OrderDailyCap)
	}
	if c.Risk.StopLossPct >= 0 {
		return fmt.Errorf("risk.stop_loss_pct must be negative, got %v", c.Risk.StopLossPct)
	}
	if c.Risk.TakeProfitPct <= 0 {
		return fmt.Errorf("risk.take_profit_pct must be positive, got %v", c.Risk.TakeProfitPct)
	}
	if c.Risk.DailyLossPct >= 0 {
		return fmt.Errorf("risk.daily_loss_pct must be negative, got %v", c.Risk.DailyLossPct)
	}
	if c.Risk.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be positive, got %d", c.Risk.MaxPositions)
	}
	if c.Risk.MaxPositionFrac <= 0 || c.Risk.MaxPositionFrac > 1 {
		return fmt.Errorf("risk.max_position_frac must be in (0, 1], got %v", c.Risk.MaxPositionFrac)
	}
	if c.Surge.Cooldown <= 0 {
		return fmt.Errorf("surge.cooldown must be positive, got %v", c.Surge.Cooldown)
	}
	if c.Surge.ApprovalMode != "auto" && c.Surge.ApprovalMode != "external" {
		return fmt.Errorf("surge.approval_mode must be \"auto\" or \"external\", got %q", c.Surge.ApprovalMode)
	}
	if c.Surge.ApprovalMode == "external" && c.Surge.ApprovalURL == "" {
		return fmt.Errorf("surge.approval_url is required in external approval mode")
	}
	if c.Surge.ApprovalTimeout <= 0 {
		return fmt.Errorf("surge.approval_timeout must be positive, got %v", c.Surge.ApprovalTimeout)
	}
	if c.Execution.MaxRetries < 0 {
		return fmt.Errorf("execution.max_retries must be non-negative, got %d", c.Execution.MaxRetries)
	}
	if c.Execution.BackoffStep <= 0 || c.Execution.ConfirmTimeout <= 0 {
		return fmt.Errorf("execution backoff_step and confirm_timeout must be positive")
	}
	return nil
}

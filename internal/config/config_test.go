package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)
	assert.Equal(t, 2, cfg.RateLimit.QueryPerSec)
	assert.Equal(t, 3, cfg.RateLimit.OrderPerSec)
	assert.Equal(t, 100, cfg.RateLimit.OrderDailyCap)
	assert.Equal(t, -0.05, cfg.Risk.StopLossPct)
	assert.Equal(t, 0.10, cfg.Risk.TakeProfitPct)
	assert.Equal(t, 30*time.Minute, cfg.Surge.Cooldown)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	mutate := func(f func(*Config)) *Config {
		cfg := Default()
		f(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			config:  Default(),
			wantErr: false,
		},
		{
			name:    "zero starting equity",
			config:  mutate(func(c *Config) { c.Account.StartingEquity = 0 }),
			wantErr: true,
			errMsg:  "account.starting_equity must be positive",
		},
		{
			name:    "negative fee rate",
			config:  mutate(func(c *Config) { c.Fees.TransferTaxRate = -0.001 }),
			wantErr: true,
			errMsg:  "fee rates must be non-negative",
		},
		{
			name:    "zero daily cap",
			config:  mutate(func(c *Config) { c.RateLimit.OrderDailyCap = 0 }),
			wantErr: true,
			errMsg:  "order_daily_cap must be positive",
		},
		{
			name:    "positive stop loss",
			config:  mutate(func(c *Config) { c.Risk.StopLossPct = 0.05 }),
			wantErr: true,
			errMsg:  "risk.stop_loss_pct must be negative",
		},
		{
			name:    "positive daily loss limit",
			config:  mutate(func(c *Config) { c.Risk.DailyLossPct = 0.03 }),
			wantErr: true,
			errMsg:  "risk.daily_loss_pct must be negative",
		},
		{
			name:    "position fraction over one",
			config:  mutate(func(c *Config) { c.Risk.MaxPositionFrac = 1.5 }),
			wantErr: true,
			errMsg:  "risk.max_position_frac must be in (0, 1]",
		},
		{
			name:    "unknown approval mode",
			config:  mutate(func(c *Config) { c.Surge.ApprovalMode = "manual" }),
			wantErr: true,
			errMsg:  "surge.approval_mode",
		},
		{
			name:    "zero cooldown",
			config:  mutate(func(c *Config) { c.Surge.Cooldown = 0 }),
			wantErr: true,
			errMsg:  "surge.cooldown must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
account:
  id: ACC-TEST
  starting_equity: 5000000
rate_limit:
  order_daily_cap: 50
risk:
  stop_loss_pct: -0.03
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ACC-TEST", cfg.Account.ID)
	assert.Equal(t, 5000000.0, cfg.Account.StartingEquity)
	assert.Equal(t, 50, cfg.RateLimit.OrderDailyCap)
	assert.Equal(t, -0.03, cfg.Risk.StopLossPct)
	// Defaults survive for fields the file does not set.
	assert.Equal(t, 3, cfg.RateLimit.OrderPerSec)
}

func TestLoadFromFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk:\n  stop_loss_pct: 0.05\n"), 0644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.yaml")
	require.Error(t, err)
}

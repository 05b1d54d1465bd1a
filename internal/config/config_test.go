package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
)

const sampleConfig = `
[server]
addr = ":9090"

[database]
host = "db.internal"
name = "vaultflow_test"

[auth]
user_token = "u-token"
operator_token = "o-token"
admin_token = "a-token"

[vault]
principal_asset = "USDC"
deposit_fee_bps = 10
withdraw_fee_bps = 10
loss_tolerance_bps = 100
withdraw_lock = "24h"
cancel_lock = "1h"
loss_epoch = "24h"
freshness_window = "30s"
price_update_interval = "1m"

[[vault.positions]]
asset_type = "aave-usdc"
protocol = "lending"
market_id = "aave-v3-usdc"
supply_asset = "USDC"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "USDC", cfg.Vault.PrincipalAsset)
	assert.Equal(t, 24*time.Hour, cfg.Vault.WithdrawLock.Std())
	assert.Equal(t, 30*time.Second, cfg.Vault.FreshnessWindow.Std())

	// Unset fields keep their defaults.
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, int64(500), cfg.Vault.MaxFeeBps)
	assert.Equal(t, 30*24*time.Hour, cfg.Vault.MaxLock.Std())

	require.Len(t, cfg.Vault.Positions, 1)
	pos := cfg.Vault.Positions[0].Position()
	assert.Equal(t, "aave-usdc", pos.AssetType)
	assert.Equal(t, "aave-v3-usdc", pos.MarketID)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "override.internal")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("ADMIN_TOKEN", "env-admin")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "override.internal", cfg.Database.Host)
	assert.Equal(t, "secret", cfg.Database.Password)
	assert.Equal(t, "env-admin", cfg.Auth.AdminToken)
	assert.Contains(t, cfg.Database.ConnString(), "host=override.internal")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing principal asset", func(c *Config) { c.Vault.PrincipalAsset = "" }},
		{"deposit fee above maximum", func(c *Config) { c.Vault.DepositFeeBps = 501 }},
		{"negative withdraw fee", func(c *Config) { c.Vault.WithdrawFeeBps = -1 }},
		{"loss tolerance above maximum", func(c *Config) { c.Vault.LossToleranceBps = 2001 }},
		{"withdraw lock below minimum", func(c *Config) { c.Vault.WithdrawLock = Duration(time.Second) }},
		{"cancel lock above maximum", func(c *Config) { c.Vault.CancelLock = Duration(90 * 24 * time.Hour) }},
		{"zero loss epoch", func(c *Config) { c.Vault.LossEpoch = 0 }},
		{"zero price update interval", func(c *Config) { c.Vault.PriceUpdateInterval = 0 }},
		{"position without market id", func(c *Config) { c.Vault.Positions[0].MarketID = "" }},
		{"position with unknown protocol", func(c *Config) { c.Vault.Positions[0].Protocol = "perps" }},
		{"missing operator token", func(c *Config) { c.Auth.OperatorToken = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sampleConfig))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), domain.ErrValidation)
		})
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Std())

	assert.Error(t, d.UnmarshalText([]byte("ninety")))
}

// Package config loads the service configuration from a TOML file with
// environment-variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
	"github.com/vaultflow/vaultflow-backend/internal/valuation"
)

// Duration is a time.Duration that unmarshals from TOML strings like "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Server holds the HTTP listener settings.
type Server struct {
	Addr string `toml:"addr"`
}

// Database holds the PostgreSQL connection settings. Every field can be
// overridden by the usual DB_* environment variables.
type Database struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	SSLMode  string `toml:"sslmode"`
}

// ConnString builds a lib/pq connection string.
func (db Database) ConnString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.User, db.Password, db.Name, db.SSLMode)
}

// Auth holds the bearer tokens for each access level.
type Auth struct {
	UserToken     string `toml:"user_token"`
	OperatorToken string `toml:"operator_token"`
	AdminToken    string `toml:"admin_token"`
}

// PositionConfig declares one external position tracked by the vault.
type PositionConfig struct {
	AssetType   string `toml:"asset_type"`
	Protocol    string `toml:"protocol"`
	MarketID    string `toml:"market_id"`
	SupplyAsset string `toml:"supply_asset"`
	BorrowAsset string `toml:"borrow_asset"`
	AssetA      string `toml:"asset_a"`
	AssetB      string `toml:"asset_b"`
}

// Position converts the declaration to a valuation position.
func (p PositionConfig) Position() valuation.Position {
	return valuation.Position{
		AssetType:   p.AssetType,
		Protocol:    p.Protocol,
		MarketID:    p.MarketID,
		SupplyAsset: p.SupplyAsset,
		BorrowAsset: p.BorrowAsset,
		AssetA:      p.AssetA,
		AssetB:      p.AssetB,
	}
}

// Vault holds the vault parameters and their administrative bounds.
type Vault struct {
	PrincipalAsset string `toml:"principal_asset"`

	DepositFeeBps    int64 `toml:"deposit_fee_bps"`
	WithdrawFeeBps   int64 `toml:"withdraw_fee_bps"`
	MaxFeeBps        int64 `toml:"max_fee_bps"`
	LossToleranceBps int64 `toml:"loss_tolerance_bps"`
	MaxLossTolBps    int64 `toml:"max_loss_tolerance_bps"`

	WithdrawLock Duration `toml:"withdraw_lock"`
	CancelLock   Duration `toml:"cancel_lock"`
	MinLock      Duration `toml:"min_lock"`
	MaxLock      Duration `toml:"max_lock"`

	LossEpoch           Duration `toml:"loss_epoch"`
	FreshnessWindow     Duration `toml:"freshness_window"`
	PriceUpdateInterval Duration `toml:"price_update_interval"`

	Positions []PositionConfig `toml:"positions"`
}

// Config is the root configuration.
type Config struct {
	Server   Server   `toml:"server"`
	Database Database `toml:"database"`
	Auth     Auth     `toml:"auth"`
	Vault    Vault    `toml:"vault"`
}

// Load reads the TOML file at path, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: Server{Addr: ":8080"},
		Database: Database{
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			Name:    "vaultflow",
			SSLMode: "disable",
		},
		Vault: Vault{
			MaxFeeBps:           500,
			MaxLossTolBps:       2000,
			MinLock:             Duration(time.Minute),
			MaxLock:             Duration(30 * 24 * time.Hour),
			LossEpoch:           Duration(24 * time.Hour),
			FreshnessWindow:     Duration(time.Minute),
			PriceUpdateInterval: Duration(time.Minute),
		},
	}
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.Database.Host, "DB_HOST")
	override(&c.Database.Port, "DB_PORT")
	override(&c.Database.User, "DB_USER")
	override(&c.Database.Password, "DB_PASSWORD")
	override(&c.Database.Name, "DB_NAME")
	override(&c.Auth.UserToken, "USER_TOKEN")
	override(&c.Auth.OperatorToken, "OPERATOR_TOKEN")
	override(&c.Auth.AdminToken, "ADMIN_TOKEN")
	override(&c.Server.Addr, "SERVER_ADDR")
}

// Validate enforces the parameter bounds at load time so a misconfigured
// deployment fails before it serves a single request.
func (c *Config) Validate() error {
	v := c.Vault
	if v.PrincipalAsset == "" {
		return fmt.Errorf("vault.principal_asset is required: %w", domain.ErrValidation)
	}
	if v.DepositFeeBps < 0 || v.DepositFeeBps > v.MaxFeeBps {
		return fmt.Errorf("vault.deposit_fee_bps must be within [0, %d]: %w", v.MaxFeeBps, domain.ErrValidation)
	}
	if v.WithdrawFeeBps < 0 || v.WithdrawFeeBps > v.MaxFeeBps {
		return fmt.Errorf("vault.withdraw_fee_bps must be within [0, %d]: %w", v.MaxFeeBps, domain.ErrValidation)
	}
	if v.LossToleranceBps < 0 || v.LossToleranceBps > v.MaxLossTolBps {
		return fmt.Errorf("vault.loss_tolerance_bps must be within [0, %d]: %w", v.MaxLossTolBps, domain.ErrValidation)
	}
	for _, lock := range []Duration{v.WithdrawLock, v.CancelLock} {
		if lock.Std() < v.MinLock.Std() || lock.Std() > v.MaxLock.Std() {
			return fmt.Errorf("vault lock %s outside [%s, %s]: %w", lock.Std(), v.MinLock.Std(), v.MaxLock.Std(), domain.ErrValidation)
		}
	}
	if v.LossEpoch.Std() <= 0 {
		return fmt.Errorf("vault.loss_epoch must be positive: %w", domain.ErrValidation)
	}
	if v.FreshnessWindow.Std() < 0 {
		return fmt.Errorf("vault.freshness_window cannot be negative: %w", domain.ErrValidation)
	}
	if v.PriceUpdateInterval.Std() <= 0 {
		return fmt.Errorf("vault.price_update_interval must be positive: %w", domain.ErrValidation)
	}
	for _, pos := range v.Positions {
		if pos.AssetType == "" || pos.MarketID == "" {
			return fmt.Errorf("position declarations need asset_type and market_id: %w", domain.ErrValidation)
		}
		if _, err := valuation.ForProtocol(pos.Protocol); err != nil {
			return err
		}
	}
	if c.Auth.UserToken == "" || c.Auth.OperatorToken == "" || c.Auth.AdminToken == "" {
		return fmt.Errorf("auth tokens for user, operator and admin are required: %w", domain.ErrValidation)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"treasury-engine/internal/domain"
)

// MasterSecretEnv is the environment variable holding the vault master
// secret. It is never part of the YAML file.
const MasterSecretEnv = "TREASURY_MASTER_SECRET"

// Config is the fully parsed engine configuration.
type Config struct {
	Platform        string
	Tokens          map[string]string // symbol -> token address
	AdminIDs        []int64
	DryRun          bool
	RiskTier        domain.RiskTier
	Limits          domain.Limits
	DataDir         string
	PollInterval    time.Duration
	PriceTimeout    time.Duration
	AlertCooldown   time.Duration
	StaleAfter      time.Duration
	AggregatorURL   string
	PortfolioUSD    decimal.Decimal
	Slippage        decimal.Decimal
	LegacyPositions string
	LegacyHistory   string
}

// ConfigTmp mirrors the YAML layout before decimals and tiers are parsed.
type ConfigTmp struct {
	Platform      string            `yaml:"platform"`
	Tokens        map[string]string `yaml:"tokens"`
	AdminIDs      []int64           `yaml:"admin_ids"`
	DryRun        bool              `yaml:"dry_run"`
	RiskTier      string            `yaml:"risk_tier"`
	DataDir       string            `yaml:"data_dir,omitempty"`
	PollInterval  time.Duration     `yaml:"poll_interval,omitempty"`
	PriceTimeout  time.Duration     `yaml:"price_timeout,omitempty"`
	AlertCooldown time.Duration     `yaml:"alert_cooldown,omitempty"`
	StaleAfter    time.Duration     `yaml:"stale_after,omitempty"`
	AggregatorURL string            `yaml:"aggregator_url,omitempty"`
	PortfolioUSD  string            `yaml:"portfolio_usd,omitempty"`
	Slippage      string            `yaml:"slippage,omitempty"`

	Limits struct {
		MaxPositions       int    `yaml:"max_positions,omitempty"`
		MaxPositionUSD     string `yaml:"max_position_usd,omitempty"`
		MaxLeverage        int    `yaml:"max_leverage,omitempty"`
		MaxSymbolExposure  string `yaml:"max_symbol_exposure,omitempty"`
		MaxTotalExposure   string `yaml:"max_total_exposure,omitempty"`
		MaxLossPerPosition string `yaml:"max_loss_per_position,omitempty"`
		MaxDailyLoss       string `yaml:"max_daily_loss,omitempty"`
	} `yaml:"limits"`

	LegacyPositions string `yaml:"legacy_positions_file,omitempty"`
	LegacyHistory   string `yaml:"legacy_history_file,omitempty"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return nil, err
	}

	cfg := &Config{
		Platform:        tmp.Platform,
		Tokens:          tmp.Tokens,
		AdminIDs:        tmp.AdminIDs,
		DryRun:          tmp.DryRun,
		RiskTier:        domain.RiskTier(tmp.RiskTier),
		DataDir:         tmp.DataDir,
		PollInterval:    tmp.PollInterval,
		PriceTimeout:    tmp.PriceTimeout,
		AlertCooldown:   tmp.AlertCooldown,
		StaleAfter:      tmp.StaleAfter,
		AggregatorURL:   tmp.AggregatorURL,
		LegacyPositions: tmp.LegacyPositions,
		LegacyHistory:   tmp.LegacyHistory,
	}

	if cfg.Platform == "" {
		cfg.Platform = "static"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.PriceTimeout == 0 {
		cfg.PriceTimeout = 10 * time.Second
	}
	if cfg.AlertCooldown == 0 {
		cfg.AlertCooldown = 5 * time.Minute
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = 72 * time.Hour
	}
	if cfg.RiskTier == "" {
		cfg.RiskTier = domain.TierModerate
	}
	if !cfg.RiskTier.Valid() {
		return nil, fmt.Errorf("incorrect 'risk_tier' param in yaml config: %s", tmp.RiskTier)
	}
	if len(cfg.AdminIDs) == 0 {
		return nil, fmt.Errorf("'admin_ids' param in yaml config must list at least one id")
	}

	cfg.PortfolioUSD, err = parseDecimal(tmp.PortfolioUSD, "10000")
	if err != nil {
		return nil, fmt.Errorf("incorrect 'portfolio_usd' param in yaml config: %w", err)
	}
	cfg.Slippage, err = parseDecimal(tmp.Slippage, "0.001")
	if err != nil {
		return nil, fmt.Errorf("incorrect 'slippage' param in yaml config: %w", err)
	}

	cfg.Limits.MaxPositions = tmp.Limits.MaxPositions
	if cfg.Limits.MaxPositions == 0 {
		cfg.Limits.MaxPositions = 5
	}
	cfg.Limits.MaxLeverage = tmp.Limits.MaxLeverage
	if cfg.Limits.MaxLeverage == 0 {
		cfg.Limits.MaxLeverage = 3
	}

	for _, p := range []struct {
		raw  string
		def  string
		name string
		dst  *decimal.Decimal
	}{
		{tmp.Limits.MaxPositionUSD, "1000", "max_position_usd", &cfg.Limits.MaxPositionUSD},
		{tmp.Limits.MaxSymbolExposure, "0.10", "max_symbol_exposure", &cfg.Limits.MaxSymbolExposure},
		{tmp.Limits.MaxTotalExposure, "0.25", "max_total_exposure", &cfg.Limits.MaxTotalExposure},
		{tmp.Limits.MaxLossPerPosition, "0.10", "max_loss_per_position", &cfg.Limits.MaxLossPerPosition},
		{tmp.Limits.MaxDailyLoss, "500", "max_daily_loss", &cfg.Limits.MaxDailyLoss},
	} {
		*p.dst, err = parseDecimal(p.raw, p.def)
		if err != nil {
			return nil, fmt.Errorf("incorrect 'limits.%s' param in yaml config: %w", p.name, err)
		}
	}

	return cfg, nil
}

// MasterSecret reads the vault master secret from the environment.
func MasterSecret() (string, error) {
	secret := os.Getenv(MasterSecretEnv)
	if secret == "" {
		return "", fmt.Errorf("%s environment variable must be set", MasterSecretEnv)
	}
	return secret, nil
}

func parseDecimal(raw, def string) (decimal.Decimal, error) {
	if raw == "" {
		raw = def
	}
	return decimal.NewFromString(raw)
}

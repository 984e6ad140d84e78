// Package config loads trader configuration from the environment and an
// optional YAML file via viper. Exchange credentials are only ever read
// from the environment.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey is returned when the exchange access key is not set.
	ErrMissingAPIKey = errors.New("config: KALSHI_API_KEY not set")

	// ErrMissingPrivateKey is returned when the signing key is not set.
	ErrMissingPrivateKey = errors.New("config: KALSHI_PRIVATE_KEY not set")
)

// Config is the full trader configuration.
type Config struct {
	// Exchange credentials and environment.
	APIKey        string `mapstructure:"api_key"`
	PrivateKeyPEM string `mapstructure:"private_key"`
	DemoMode      bool   `mapstructure:"exchange_demo_mode"`

	// Infrastructure.
	DatabasePath  string `mapstructure:"database_path"`
	RedisURL      string `mapstructure:"redis_url"`
	DBPoolSize    int    `mapstructure:"db_pool_size"`
	DBMaxOverflow int    `mapstructure:"db_max_overflow"`

	// Market-data feed.
	WSCacheTTLSeconds int `mapstructure:"kalshi_ws_cache_ttl_seconds"`
	WSRefreshMinutes  int `mapstructure:"kalshi_ws_refresh_minutes"`

	// Learned forecast blending; 0 disables the model entirely.
	ModelBlendWeight float64 `mapstructure:"xgb_ensemble_weight"`

	// Operational.
	LogLevel     string `mapstructure:"log_level"`
	LogPretty    bool   `mapstructure:"log_pretty"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	CycleMinutes int    `mapstructure:"cycle_minutes"`
	WebhookURL   string `mapstructure:"webhook_url"`
	UserID       string `mapstructure:"user_id"`

	Settings UserSettings `mapstructure:"settings"`
}

// UserSettings are the per-user trading controls.
type UserSettings struct {
	TradingMode            string   `mapstructure:"trading_mode"` // auto | manual
	MaxTradeSizeCents      int      `mapstructure:"max_trade_size_cents"`
	DailyLossLimitCents    int      `mapstructure:"daily_loss_limit_cents"`
	MaxDailyExposureCents  int      `mapstructure:"max_daily_exposure_cents"`
	MinEVThreshold         float64  `mapstructure:"min_ev_threshold"`
	CooldownPerLossMinutes int      `mapstructure:"cooldown_per_loss_minutes"`
	ConsecutiveLossLimit   int      `mapstructure:"consecutive_loss_limit"`
	ActiveCities           []string `mapstructure:"active_cities"`
	DemoMode               bool     `mapstructure:"demo_mode"`
	NotificationsEnabled   bool     `mapstructure:"notifications_enabled"`
	UseKellySizing         bool     `mapstructure:"use_kelly_sizing"`
	KellyFraction          float64  `mapstructure:"kelly_fraction"`
	MaxBankrollPctPerTrade float64  `mapstructure:"max_bankroll_pct_per_trade"`
	MaxContractsPerTrade   int      `mapstructure:"max_contracts_per_trade"`
}

// AutoTrading reports whether signals execute without queueing for
// approval.
func (s UserSettings) AutoTrading() bool {
	return strings.EqualFold(s.TradingMode, "auto")
}

// CacheTTL returns the price-cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.WSCacheTTLSeconds) * time.Second
}

// RefreshInterval returns the ticker rediscovery interval.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.WSRefreshMinutes) * time.Minute
}

// CycleInterval returns the trading-cycle period.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.CycleMinutes) * time.Minute
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange_demo_mode", false)
	v.SetDefault("database_path", "./data/trader.db")
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("db_pool_size", 5)
	v.SetDefault("db_max_overflow", 10)
	v.SetDefault("kalshi_ws_cache_ttl_seconds", 120)
	v.SetDefault("kalshi_ws_refresh_minutes", 5)
	v.SetDefault("xgb_ensemble_weight", 0.0)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("metrics_addr", ":9109")
	v.SetDefault("cycle_minutes", 10)
	v.SetDefault("user_id", "default")

	v.SetDefault("settings.trading_mode", "manual")
	v.SetDefault("settings.max_trade_size_cents", 5000)
	v.SetDefault("settings.daily_loss_limit_cents", 10000)
	v.SetDefault("settings.max_daily_exposure_cents", 25000)
	v.SetDefault("settings.min_ev_threshold", 0.05)
	v.SetDefault("settings.cooldown_per_loss_minutes", 30)
	v.SetDefault("settings.consecutive_loss_limit", 3)
	v.SetDefault("settings.active_cities", []string{"CHI", "LAX", "MIA", "NYC"})
	v.SetDefault("settings.demo_mode", false)
	v.SetDefault("settings.notifications_enabled", false)
	v.SetDefault("settings.use_kelly_sizing", false)
	v.SetDefault("settings.kelly_fraction", 0.25)
	v.SetDefault("settings.max_bankroll_pct_per_trade", 0.05)
	v.SetDefault("settings.max_contracts_per_trade", 10)
}

// Load reads configuration from the given file (optional) and the
// environment. Environment variables use the WT_ prefix with dots mapped
// to underscores; the exchange credentials keep their conventional
// KALSHI_* names.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Credentials come only from the environment.
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("KALSHI_API_KEY")
	}
	if cfg.PrivateKeyPEM == "" {
		cfg.PrivateKeyPEM = os.Getenv("KALSHI_PRIVATE_KEY")
	}

	return &cfg, nil
}

// ValidateCredentials checks that exchange credentials are present.
func (c *Config) ValidateCredentials() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.PrivateKeyPEM == "" {
		return ErrMissingPrivateKey
	}
	return nil
}

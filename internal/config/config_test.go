package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.False(t, cfg.DemoMode)
	assert.Equal(t, 120, cfg.WSCacheTTLSeconds)
	assert.Equal(t, 5, cfg.WSRefreshMinutes)
	assert.Equal(t, 0.0, cfg.ModelBlendWeight)
	assert.Equal(t, "manual", cfg.Settings.TradingMode)
	assert.False(t, cfg.Settings.AutoTrading())
	assert.Equal(t, 0.25, cfg.Settings.KellyFraction)
	assert.Equal(t, []string{"CHI", "LAX", "MIA", "NYC"}, cfg.Settings.ActiveCities)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trader.yaml")
	yaml := `
exchange_demo_mode: true
kalshi_ws_cache_ttl_seconds: 45
settings:
  trading_mode: auto
  min_ev_threshold: 0.08
  use_kelly_sizing: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.DemoMode)
	assert.Equal(t, 45, cfg.WSCacheTTLSeconds)
	assert.True(t, cfg.Settings.AutoTrading())
	assert.Equal(t, 0.08, cfg.Settings.MinEVThreshold)
	assert.True(t, cfg.Settings.UseKellySizing)
	// Untouched keys keep their defaults.
	assert.Equal(t, 3, cfg.Settings.ConsecutiveLossLimit)
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv("KALSHI_API_KEY", "ak-test")
	t.Setenv("KALSHI_PRIVATE_KEY", "pem-data")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ak-test", cfg.APIKey)
	assert.Equal(t, "pem-data", cfg.PrivateKeyPEM)
	assert.NoError(t, cfg.ValidateCredentials())
}

func TestValidateCredentialsMissing(t *testing.T) {
	cfg := &Config{}
	assert.ErrorIs(t, cfg.ValidateCredentials(), ErrMissingAPIKey)

	cfg.APIKey = "ak"
	assert.ErrorIs(t, cfg.ValidateCredentials(), ErrMissingPrivateKey)
}

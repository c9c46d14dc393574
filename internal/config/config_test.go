package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, yaml string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "curvewatch-config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(yaml)
	require.NoError(t, err)
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoadConfig(t *testing.T) {
	yaml := `
general:
  instance_id: "test-node"
  environment: "development"
  log_level: "debug"

feed:
  endpoint: "wss://example.test/api/data"
  reconnect_delay_ms: 1000

eviction:
  min_holders_to_keep: 10
  min_market_cap_to_keep: 42.5

prediction:
  enabled: true
  scorer_url: "http://scorer.test/api/predict"
  flag_threshold: 0.9
`
	cfg, err := Load(writeTempConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.Equal(t, "debug", cfg.General.LogLevel)
	assert.Equal(t, "wss://example.test/api/data", cfg.Feed.Endpoint)
	assert.Equal(t, 1000, cfg.Feed.ReconnectDelayMs)
	assert.Equal(t, 10, cfg.Eviction.MinHoldersToKeep)
	assert.Equal(t, 42.5, cfg.Eviction.MinMarketCapToKeep)
	assert.True(t, cfg.Prediction.Enabled)
	assert.Equal(t, "http://scorer.test/api/predict", cfg.Prediction.ScorerURL)
	assert.Equal(t, 0.9, cfg.Prediction.FlagThreshold)
}

func TestLoadConfigDefaults(t *testing.T) {
	yaml := `
general:
  log_level: "warn"
`
	cfg, err := Load(writeTempConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "curvewatch-1", cfg.General.InstanceID)
	assert.Equal(t, "wss://pumpportal.fun/api/data", cfg.Feed.Endpoint)
	assert.Equal(t, 5000, cfg.Feed.ReconnectDelayMs)
	assert.Equal(t, 500, cfg.Buffer.FlushIntervalMs)
	assert.Equal(t, 50, cfg.Buffer.MaxTradesPerMint)
	assert.Equal(t, 5.0, cfg.Eviction.MaxYoungAgeMinutes)
	assert.Equal(t, 30, cfg.Eviction.MinHoldersToKeep)
	assert.Equal(t, 70.0, cfg.Eviction.MinMarketCapToKeep)
	assert.Equal(t, 3, cfg.Prediction.MinTrades)
	assert.Equal(t, 10.0, cfg.Prediction.WindowMinutes)
	assert.Equal(t, 0.8, cfg.Prediction.FlagThreshold)
	assert.Equal(t, 10000, cfg.Dashboard.MaxTokens)
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	os.Setenv("TEST_CURVEWATCH_ENDPOINT", "wss://env.test/feed")
	defer os.Unsetenv("TEST_CURVEWATCH_ENDPOINT")

	yaml := `
feed:
  endpoint: "${TEST_CURVEWATCH_ENDPOINT}"
`
	cfg, err := Load(writeTempConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "wss://env.test/feed", cfg.Feed.Endpoint)
}

func TestValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, Default().Validate())
	})

	t.Run("rejects out-of-range flag threshold", func(t *testing.T) {
		cfg := Default()
		cfg.Prediction.FlagThreshold = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects empty endpoint", func(t *testing.T) {
		cfg := Default()
		cfg.Feed.Endpoint = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects zero buffer interval", func(t *testing.T) {
		cfg := Default()
		cfg.Buffer.FlushIntervalMs = -1
		assert.Error(t, cfg.Validate())
	})
}

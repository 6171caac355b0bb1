package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearKeyEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"CHARTSIGNAL_OPENAI_API_KEY", "DEEPSEEK_API_KEY", "FIREWORKS_API_KEY"} {
		t.Setenv(key, "")
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "XAUUSD", cfg.App.Symbol)
	assert.Equal(t, "EIGHTCAP", cfg.App.Venue)
	assert.Equal(t, "deepseek-chat", cfg.OpenAI.Model)
	assert.Equal(t, "https://api.deepseek.com", cfg.OpenAI.BaseURL)
	assert.InDelta(t, 0.7, cfg.OpenAI.Temperature, 1e-6)
	assert.Equal(t, 1000, cfg.OpenAI.MaxTokens)
	assert.Equal(t, 10, cfg.OpenAI.HistoryLimit)
	assert.Equal(t, 3, cfg.OpenAI.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.OpenAI.Retry.BaseDelay)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 10*time.Second, cfg.Capture.SettleWait)
	assert.Len(t, cfg.Capture.Studies, 3)
	assert.Equal(t, 1.5, cfg.Validation.MinRiskReward)
	assert.False(t, cfg.Validation.HardReject)
	assert.Equal(t, ":5555", cfg.Server.Addr)
	assert.Equal(t, 100, cfg.Server.HistoryLimit)
}

func TestLoad_MissingCredential(t *testing.T) {
	clearKeyEnv(t)

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai.api_key")
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_FileEnvAndOverrides(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("FIREWORKS_API_KEY", "fw-key")
	t.Setenv("CHARTSIGNAL_CAPTURE_STUDIES", "STD;MACD,STD;Relative_Strength_Index")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  symbol: EURUSD
  venue: OANDA
scheduler:
  interval: 5m
validation:
  min_risk_reward: 2
  hard_reject: true
`), 0o644))

	cfg, err := Load(path,
		WithOverride("app.once", true),
		WithOverride("app.symbol", "GBPUSD"),
		WithOverride("scheduler.interval", 15*time.Minute),
	)
	require.NoError(t, err)

	assert.Equal(t, "fw-key", cfg.OpenAI.APIKey)
	assert.Equal(t, "GBPUSD", cfg.App.Symbol)
	assert.Equal(t, "OANDA", cfg.App.Venue)
	assert.True(t, cfg.App.Once)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 2.0, cfg.Validation.MinRiskReward)
	assert.True(t, cfg.Validation.HardReject)
	assert.Equal(t, []string{"STD;MACD", "STD;Relative_Strength_Index"}, cfg.Capture.Studies)
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.symbol")
	assert.Contains(t, err.Error(), "scheduler.interval")
	assert.Contains(t, err.Error(), "logging.level")
}

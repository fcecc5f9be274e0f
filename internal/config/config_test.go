package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 2*time.Second, cfg.SendDelay())
	require.Equal(t, time.Minute, cfg.StaleAfter())
	require.Equal(t, 5, cfg.RetrievalPageSize)
	require.Equal(t, "v18.0", cfg.GraphAPIVersion)
	require.Equal(t, "commercebot.events", cfg.AMQPExchange)
	require.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("PARAM_PREFIX", "/commercebot/prod/")
	t.Setenv("SEND_DELAY_MS", "0")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, "/commercebot/prod", cfg.ParamPrefix)
	require.Equal(t, time.Duration(0), cfg.SendDelay())
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	cfg := &Config{HTTPAddr: ":8080", StaleAfterSeconds: 60, RetrievalPageSize: 5}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "DATABASE_URL")
	require.Contains(t, err.Error(), "provider API key")

	cfg.DatabaseURL = "postgres://x"
	cfg.GeminiAPIKey = "g"
	require.NoError(t, cfg.Validate())

	cfg.SendDelayMS = -1
	require.ErrorContains(t, cfg.Validate(), "SEND_DELAY_MS")
}

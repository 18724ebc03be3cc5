package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promptplay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: DEBUG
  format: text
batch:
  concurrency: 8
  node_timeout: 30s
openai:
  model: gpt-4o
`), 0o644))

	t.Setenv("BATCH_CONCURRENCY", "2")
	t.Setenv("RABBITMQ_URL", "amqp://guest:guest@mq:5672/")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 2, cfg.Batch.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Batch.NodeTimeout)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, "amqp://guest:guest@mq:5672/", cfg.MQ.URL)
	assert.Equal(t, Default().DB.URL, cfg.DB.URL)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envLookup(map[string]string{
		"LOG_LEVEL":       "WARN",
		"DB_URL":          "postgresql://x@db/x",
		"OPENAI_API_KEY":  "sk-test",
		"OPENAI_BASE_URL": "http://localhost:9999/v1",
		"NODE_TIMEOUT":    "5s",
		"METRICS_ADDR":    "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "WARN", cfg.Log.Level)
	assert.Equal(t, "postgresql://x@db/x", cfg.DB.URL)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "http://localhost:9999/v1", cfg.OpenAI.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Batch.NodeTimeout)
	assert.Equal(t, ":8082", cfg.Metrics.Addr, "empty env value keeps default")
}

func TestApplyEnv_Reconnect(t *testing.T) {
	cfg := Default()
	assert.Equal(t, time.Second, cfg.MQ.ReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.MQ.ReconnectMaxDelay)
	assert.Zero(t, cfg.MQ.ReconnectAttempts)

	err := cfg.applyEnv(envLookup(map[string]string{
		"RABBITMQ_RECONNECT_ATTEMPTS":  "5",
		"RABBITMQ_RECONNECT_MAX_DELAY": "10s",
	}))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MQ.ReconnectAttempts)
	assert.Equal(t, 10*time.Second, cfg.MQ.ReconnectMaxDelay)

	err = cfg.applyEnv(envLookup(map[string]string{"RABBITMQ_RECONNECT_ATTEMPTS": "always"}))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestApplyEnv_BadNumber(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envLookup(map[string]string{"BATCH_CONCURRENCY": "many"}))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero concurrency", func(c *Config) { c.Batch.Concurrency = 0 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad log level", func(c *Config) { c.Log.Level = "LOUD" }},
		{"empty db url", func(c *Config) { c.DB.URL = "" }},
		{"bad base url", func(c *Config) { c.OpenAI.BaseURL = "not a url" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

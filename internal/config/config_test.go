package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnv = []string{
	"APP_PORT", "GO_ENV", "LOG_FILE_PATH", "CORS_ALLOWED_ORIGINS", "NATS_URL", "REDIS_URL", "JWT_SECRET",
	"DB_CONNECTION_STRING", "DB_VERBOSE",
	"LLM_PROVIDER", "LLM_MODEL", "OLLAMA_BASE_URL", "ANTHROPIC_API_KEY", "OLLAMA_EMBEDDING_MODEL",
	"RETRIEVAL_BACKEND", "RETRIEVAL_ENDPOINT", "RETRIEVAL_API_KEY", "RETRIEVAL_MAX_RESULTS",
	"RETRIEVAL_SIMILARITY_THRESHOLD", "RETRIEVAL_CACHE_TTL", "RETRIEVAL_CACHE_CAPACITY",
	"PIPELINE_LLM_TIMEOUT", "PIPELINE_RETRIEVAL_TIMEOUT", "PIPELINE_RELEVANCE_WORKERS", "PIPELINE_FINE_FILTER",
	"PIPELINE_MAX_STEPS", "PIPELINE_PROGRESS_TIMEOUT", "PIPELINE_DELIVERY_TIMEOUT", "CATALOG_FILE", "POLICY_FILE",
	"SESSION_STORE", "SESSION_TTL", "SESSION_HISTORY_WINDOW",
	"NOTIFY_NATS_ENABLED", "SLACK_BOT_TOKEN", "NOTIFY_FORWARD_TIMEOUT",
}

// clearEnv unsets every variable Load reads for the rest of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_CONNECTION_STRING", "postgres://localhost/qa")
	cfg := Load()

	assert.Equal(t, "3000", cfg.App.Port)
	assert.Equal(t, "ollama", cfg.Ai.LLMProvider)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.LLMTimeout)
	assert.Equal(t, 4, cfg.Pipeline.RelevanceWorkers)
	assert.True(t, cfg.Pipeline.FineFilter)
	assert.Equal(t, "memory", cfg.Session.Store)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PIPELINE_LLM_TIMEOUT", "45")
	t.Setenv("PIPELINE_RETRIEVAL_TIMEOUT", "1500ms")
	t.Setenv("PIPELINE_FINE_FILTER", "false")
	t.Setenv("RETRIEVAL_SIMILARITY_THRESHOLD", "0.35")
	t.Setenv("SESSION_STORE", "REDIS")
	t.Setenv("PIPELINE_RELEVANCE_WORKERS", "not-a-number")

	cfg := Load()
	assert.Equal(t, 45*time.Second, cfg.Pipeline.LLMTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Pipeline.RetrievalTimeout)
	assert.False(t, cfg.Pipeline.FineFilter)
	assert.Equal(t, 0.35, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, "redis", cfg.Session.Store)
	assert.Equal(t, 4, cfg.Pipeline.RelevanceWorkers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "anthropic without key",
			mutate:  func(c *Config) { c.Ai.LLMProvider, c.Ai.AnthropicAPIKey = "anthropic", "" },
			wantErr: "AnthropicAPIKey",
		},
		{
			name:    "unknown session store",
			mutate:  func(c *Config) { c.Session.Store = "memcached" },
			wantErr: "Store",
		},
		{
			name: "http backend needs endpoint",
			mutate: func(c *Config) {
				c.Retrieval.Backend = "http"
			},
			wantErr: "Endpoint",
		},
		{
			name:    "pgvector needs database",
			mutate:  func(c *Config) { c.Database.Connection = "" },
			wantErr: "DB_CONNECTION_STRING",
		},
		{
			name:   "http backend without database",
			mutate: func(c *Config) { c.Retrieval.Backend, c.Retrieval.Endpoint, c.Database.Connection = "http", "http://search:8080/query", "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("DB_CONNECTION_STRING", "postgres://localhost/qa")
			cfg := Load()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestAnthropicKeyComesFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_CONNECTION_STRING", "postgres://localhost/qa")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg := Load()
	assert.Equal(t, "sk-test", cfg.Ai.AnthropicAPIKey)
	require.NoError(t, cfg.Validate())

	cfg.Ai.AnthropicAPIKey = ""
	assert.ErrorContains(t, cfg.Validate(), "AnthropicAPIKey")
}

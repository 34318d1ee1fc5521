package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "data/querysight.db", cfg.Database.Path)
	assert.Equal(t, time.Hour, cfg.Database.CatalogTTL)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.CacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.IdempotencyTTL)
	assert.Equal(t, 0.3, cfg.Pipeline.ValidationThreshold)
	assert.Equal(t, 0.7, cfg.Index.RelevanceDistance)
	assert.Equal(t, 0.1, cfg.LLM.Temperature)
	assert.Equal(t, 4096, cfg.LLM.MaxTokens)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Addr, cfg.Server.Addr)
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  addr: ":9090"
database:
  path: /tmp/other.db
  catalog_ttl: 30m
pipeline:
  cache_ttl: 1m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/tmp/other.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Minute, cfg.Database.CatalogTTL)
	assert.Equal(t, time.Minute, cfg.Pipeline.CacheTTL)
	// Untouched sections keep defaults.
	assert.Equal(t, "llama3-8b-8192", cfg.LLM.Model)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("DATABASE_PATH", "/tmp/env.db")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("VALIDATION_THRESHOLD", "0.5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gsk_test", cfg.LLM.APIKey)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, "/tmp/env.db", cfg.Index.Path)
	assert.Equal(t, 90*time.Second, cfg.Pipeline.CacheTTL)
	assert.Equal(t, 0.5, cfg.Pipeline.ValidationThreshold)
}

func TestLLMAPIKeyPrecedence(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk_groq")
	t.Setenv("LLM_API_KEY", "key_generic")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "key_generic", cfg.LLM.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"zero cache ttl", func(c *Config) { c.Pipeline.CacheTTL = 0 }},
		{"zero idempotency ttl", func(c *Config) { c.Pipeline.IdempotencyTTL = 0 }},
		{"threshold above one", func(c *Config) { c.Pipeline.ValidationThreshold = 1.5 }},
		{"zero top_k", func(c *Config) { c.Index.TopK = 0 }},
		{"unknown embedding provider", func(c *Config) { c.Embedding.Provider = "word2vec" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

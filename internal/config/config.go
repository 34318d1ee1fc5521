// Package config holds the service configuration, loaded from YAML with
// environment-variable overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the querysight service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the relational store and ingest path.
type DatabaseConfig struct {
	Path       string        `yaml:"path"`
	DataDir    string        `yaml:"data_dir"`
	CatalogTTL time.Duration `yaml:"catalog_ttl"`
	WatchDir   bool          `yaml:"watch_dir"`
}

// LLMConfig configures the gateway to the completion provider.
type LLMConfig struct {
	APIKey      string        `yaml:"api_key"`
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // "ollama" or "genai"
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
}

// IndexConfig configures the descriptive index.
type IndexConfig struct {
	Path              string  `yaml:"path"`
	RelevanceDistance float64 `yaml:"relevance_distance"`
	TopK              int     `yaml:"top_k"`
	BuildConcurrency  int     `yaml:"build_concurrency"`
}

// PipelineConfig holds the knobs shared by the orchestrator and its stages.
type PipelineConfig struct {
	CacheTTL            time.Duration `yaml:"cache_ttl"`
	IdempotencyTTL      time.Duration `yaml:"idempotency_ttl"`
	JobTTL              time.Duration `yaml:"job_ttl"`
	ValidationThreshold float64       `yaml:"validation_threshold"`
	StageTimeout        time.Duration `yaml:"stage_timeout"`
}

// LoggingConfig configures zap construction.
type LoggingConfig struct {
	Level   string `yaml:"level"`   // debug, info, warn, error
	Format  string `yaml:"format"`  // json or console
	LogFile string `yaml:"log_file"` // optional additional sink
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:       "data/querysight.db",
			DataDir:    "data",
			CatalogTTL: time.Hour,
			WatchDir:   false,
		},
		LLM: LLMConfig{
			Endpoint:    "https://api.groq.com/openai/v1/chat/completions",
			Model:       "llama3-8b-8192",
			Temperature: 0.1,
			MaxTokens:   4096,
			Timeout:     120 * time.Second,
			MaxRetries:  3,
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},
		Index: IndexConfig{
			Path:              "data/querysight.db",
			RelevanceDistance: 0.7,
			TopK:              3,
			BuildConcurrency:  4,
		},
		Pipeline: PipelineConfig{
			CacheTTL:            5 * time.Minute,
			IdempotencyTTL:      5 * time.Minute,
			JobTTL:              time.Hour,
			ValidationThreshold: 0.3,
			StageTimeout:        2 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error; the defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers deployment environment variables over the file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	} else if v := os.Getenv("GROQ_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.Database.Path = v
		c.Index.Path = v
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Pipeline.CacheTTL = d
		}
	}
	if v := os.Getenv("IDEMPOTENCY_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Pipeline.IdempotencyTTL = d
		}
	}
	if v := os.Getenv("VALIDATION_THRESHOLD"); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil && f > 0 && f <= 1 {
			c.Pipeline.ValidationThreshold = f
		}
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Pipeline.CacheTTL <= 0 {
		return fmt.Errorf("pipeline.cache_ttl must be positive")
	}
	if c.Pipeline.IdempotencyTTL <= 0 {
		return fmt.Errorf("pipeline.idempotency_ttl must be positive")
	}
	if c.Pipeline.ValidationThreshold <= 0 || c.Pipeline.ValidationThreshold > 1 {
		return fmt.Errorf("pipeline.validation_threshold must be in (0,1]")
	}
	if c.Index.TopK <= 0 {
		return fmt.Errorf("index.top_k must be positive")
	}
	switch c.Embedding.Provider {
	case "ollama", "genai":
	default:
		return fmt.Errorf("embedding.provider must be 'ollama' or 'genai', got %q", c.Embedding.Provider)
	}
	return nil
}

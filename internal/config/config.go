// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix, e.g. BRUNO_MEMORY_BACKEND.
const Prefix = "BRUNO_MEMORY"

// Backend driver names accepted by BACKEND.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverChromem  = "chromem"
)

// Config holds every tunable of the engine. Environment variables are
// parsed from the BRUNO_MEMORY_ prefix.
type Config struct {
	Backend string `envconfig:"BACKEND" default:"sqlite"`

	// SQLite
	SQLitePath string `envconfig:"SQLITE_PATH" default:"bruno-memory.db"`
	SQLiteFTS  bool   `envconfig:"SQLITE_FTS" default:"true"`

	// Postgres
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Redis
	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	RedisNamespace string        `envconfig:"REDIS_NAMESPACE" default:"bruno"`
	RedisTTL       time.Duration `envconfig:"REDIS_TTL" default:"0"`

	// Embeddings
	EmbedProvider string `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedBaseURL  string `envconfig:"EMBED_BASE_URL" default:"http://localhost:11434"`
	EmbedModel    string `envconfig:"EMBED_MODEL" default:"mxbai-embed-large"`
	EmbedDim      int    `envconfig:"EMBED_DIM" default:"1024"`

	// Retrieval scoring
	WeightFullText   float64       `envconfig:"WEIGHT_FULLTEXT" default:"0.35"`
	WeightRecency    float64       `envconfig:"WEIGHT_RECENCY" default:"0.20"`
	WeightSemantic   float64       `envconfig:"WEIGHT_SEMANTIC" default:"0.25"`
	WeightImportance float64       `envconfig:"WEIGHT_IMPORTANCE" default:"0.10"`
	WeightConfidence float64       `envconfig:"WEIGHT_CONFIDENCE" default:"0.10"`
	RecencyHalfLife  time.Duration `envconfig:"RECENCY_HALF_LIFE" default:"168h"`
	CacheTTL         time.Duration `envconfig:"CACHE_TTL" default:"30s"`

	// Retention
	RetentionThreshold float64 `envconfig:"RETENTION_THRESHOLD" default:"0.3"`

	// Context building
	ContextMaxMessages int    `envconfig:"CONTEXT_MAX_MESSAGES" default:"20"`
	ContextStrategy    string `envconfig:"CONTEXT_STRATEGY" default:"sliding_window"`
	ContextTokenBudget int    `envconfig:"CONTEXT_TOKEN_BUDGET" default:"0"`
}

// New loads and validates configuration from the environment.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveDefaults validates the driver selection and cross-field
// requirements.
func (c *Config) ResolveDefaults() error {
	switch c.Backend {
	case DriverSQLite, DriverRedis, DriverChromem:
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres backend needs %s_POSTGRES_DSN", Prefix)
		}
	default:
		return fmt.Errorf("unsupported backend: %s", c.Backend)
	}

	switch c.EmbedProvider {
	case "ollama", "mock", "none":
	default:
		return fmt.Errorf("unsupported embed provider: %s", c.EmbedProvider)
	}
	return nil
}

// Package factory constructs stores and embedding gateways from config.
package factory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bruno-ai/bruno-memory/internal/config"
	"github.com/bruno-ai/bruno-memory/internal/embeddings"
	"github.com/bruno-ai/bruno-memory/internal/embeddings/mock"
	"github.com/bruno-ai/bruno-memory/internal/embeddings/ollama"
	"github.com/bruno-ai/bruno-memory/internal/model"
	"github.com/bruno-ai/bruno-memory/internal/store"
	"github.com/bruno-ai/bruno-memory/internal/store/chromem"
	"github.com/bruno-ai/bruno-memory/internal/store/postgres"
	"github.com/bruno-ai/bruno-memory/internal/store/redis"
	"github.com/bruno-ai/bruno-memory/internal/store/sqlite"
)

// NewEmbeddingGateway creates the gateway selected by config. Provider
// "none" returns nil; callers treat a nil gateway as semantic search
// disabled. Connectivity problems are logged, not fatal: the engine
// degrades to non-semantic retrieval.
func NewEmbeddingGateway(ctx context.Context, cfg *config.Config, log zerolog.Logger) embeddings.Gateway {
	switch cfg.EmbedProvider {
	case "none":
		return nil
	case "mock":
		return mock.New()
	default:
		provider := ollama.New(cfg.EmbedBaseURL, cfg.EmbedModel, cfg.EmbedDim)
		if err := provider.CheckConnection(ctx); err != nil {
			log.Warn().Err(err).
				Str("model", cfg.EmbedModel).
				Msg("embedding provider unreachable, semantic scoring will degrade")
		}
		return provider
	}
}

// NewStore creates the backend selected by config. The chromem backend
// receives the gateway so it can index entries at write time.
func NewStore(cfg *config.Config, gateway embeddings.Gateway, log zerolog.Logger) (store.Store, error) {
	switch cfg.Backend {
	case config.DriverSQLite:
		s, err := sqlite.OpenWithOptions(cfg.SQLitePath, sqlite.Options{DisableFTS: !cfg.SQLiteFTS})
		if err != nil {
			return nil, fmt.Errorf("sqlite backend: %w", err)
		}
		log.Info().Str("path", cfg.SQLitePath).Bool("fts", cfg.SQLiteFTS).Msg("sqlite backend ready")
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres backend: %w", err)
		}
		log.Info().Msg("postgres backend ready")
		return s, nil
	case config.DriverRedis:
		s, err := redis.New(redis.Config{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Namespace: cfg.RedisNamespace,
			TTL:       cfg.RedisTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("redis backend: %w", err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis backend ready")
		return s, nil
	case config.DriverChromem:
		log.Info().Msg("chromem backend ready")
		return chromem.New(gateway), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", model.ErrValidation, cfg.Backend)
	}
}

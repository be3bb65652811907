package factory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bruno-ai/bruno-memory/internal/config"
	"github.com/bruno-ai/bruno-memory/internal/model"
)

func TestNewStoreSQLite(t *testing.T) {
	cfg := &config.Config{
		Backend:    config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "bruno.db"),
	}
	s, err := NewStore(cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.HealthPing(context.Background()))
}

func TestNewStoreChromem(t *testing.T) {
	cfg := &config.Config{Backend: config.DriverChromem, EmbedProvider: "mock"}
	gw := NewEmbeddingGateway(context.Background(), cfg, zerolog.Nop())
	require.NotNil(t, gw)

	s, err := NewStore(cfg, gw, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.HealthPing(context.Background()))
}

func TestNewStoreUnknownBackend(t *testing.T) {
	_, err := NewStore(&config.Config{Backend: "cassandra"}, nil, zerolog.Nop())
	require.True(t, errors.Is(err, model.ErrValidation), "got %v", err)
}

func TestNewEmbeddingGatewayNone(t *testing.T) {
	cfg := &config.Config{EmbedProvider: "none"}
	require.Nil(t, NewEmbeddingGateway(context.Background(), cfg, zerolog.Nop()))
}

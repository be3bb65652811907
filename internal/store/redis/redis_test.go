package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/bruno-ai/bruno-memory/internal/model"
	"github.com/bruno-ai/bruno-memory/internal/store"
	"github.com/bruno-ai/bruno-memory/internal/store/storetest"
)

func newBackend(t *testing.T) store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return NewWithClient(client, Config{Namespace: "brunotest"})
}

func TestCompliance(t *testing.T) {
	storetest.Run(t, newBackend)
}

func TestDanglingIndexEntriesAreDropped(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	b := NewWithClient(client, Config{Namespace: "brunotest", TTL: time.Minute})
	defer b.Close()
	ctx := context.Background()

	e := model.NewMemoryEntry("u1", "volatile", model.MemoryShortTerm)
	_, err := b.StoreMemory(ctx, e)
	require.NoError(t, err)

	// Simulate value expiry while the index still references the id.
	mr.FastForward(2 * time.Minute)

	got, err := b.RetrieveMemories(ctx, model.MemoryQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestHealthPing(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	b := NewWithClient(client, Config{})
	defer b.Close()

	require.NoError(t, b.HealthPing(context.Background()))
}

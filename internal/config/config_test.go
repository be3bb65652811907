package config

import (
	"os"
	"testing"
)

func TestDefaults(t *testing.T) {
	for _, key := range []string{
		"BRUNO_MEMORY_BACKEND",
		"BRUNO_MEMORY_EMBED_PROVIDER",
		"BRUNO_MEMORY_EMBED_MODEL",
	} {
		_ = os.Unsetenv(key)
	}

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.Backend != DriverSQLite {
		t.Fatalf("default backend: %s", cfg.Backend)
	}
	if cfg.EmbedProvider != "ollama" || cfg.EmbedModel != "mxbai-embed-large" {
		t.Fatalf("unexpected default embed config: %+v", cfg)
	}
	if cfg.ContextMaxMessages != 20 {
		t.Fatalf("default context max messages: %d", cfg.ContextMaxMessages)
	}
}

func TestEnvOverride(t *testing.T) {
	_ = os.Setenv("BRUNO_MEMORY_BACKEND", "redis")
	_ = os.Setenv("BRUNO_MEMORY_REDIS_NAMESPACE", "testns")
	defer func() {
		_ = os.Unsetenv("BRUNO_MEMORY_BACKEND")
		_ = os.Unsetenv("BRUNO_MEMORY_REDIS_NAMESPACE")
	}()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.Backend != DriverRedis || cfg.RedisNamespace != "testns" {
		t.Fatalf("env override failed: %+v", cfg)
	}
}

func TestInvalidBackendRejected(t *testing.T) {
	_ = os.Setenv("BRUNO_MEMORY_BACKEND", "cassandra")
	defer func() { _ = os.Unsetenv("BRUNO_MEMORY_BACKEND") }()

	if _, err := New(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestPostgresNeedsDSN(t *testing.T) {
	_ = os.Setenv("BRUNO_MEMORY_BACKEND", "postgres")
	_ = os.Unsetenv("BRUNO_MEMORY_POSTGRES_DSN")
	defer func() { _ = os.Unsetenv("BRUNO_MEMORY_BACKEND") }()

	if _, err := New(); err == nil {
		t.Fatal("expected error for postgres without DSN")
	}
}

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bruno-ai/bruno-memory/internal/model"
)

func fakeOllama(t *testing.T, vec []float64, models ...string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Prompt)
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: vec})
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		type m struct {
			Name string `json:"name"`
		}
		out := struct {
			Models []m `json:"models"`
		}{}
		for _, name := range models {
			out.Models = append(out.Models, m{Name: name})
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedText(t *testing.T) {
	srv := fakeOllama(t, []float64{0.1, 0.2, 0.3}, "mxbai-embed-large")
	p := New(srv.URL, "mxbai-embed-large", 3)

	vec, err := p.EmbedText(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestCheckConnection(t *testing.T) {
	srv := fakeOllama(t, nil, "mxbai-embed-large:latest")
	p := New(srv.URL, "mxbai-embed-large", 1024)
	require.NoError(t, p.CheckConnection(context.Background()))

	missing := New(srv.URL, "other-model", 1024)
	err := missing.CheckConnection(context.Background())
	require.True(t, errors.Is(err, model.ErrCapabilityUnavailable), "got %v", err)
}

func TestUnreachableIsCapabilityUnavailable(t *testing.T) {
	p := New("http://127.0.0.1:1", "mxbai-embed-large", 1024)
	_, err := p.EmbedText(context.Background(), "hello")
	require.True(t, errors.Is(err, model.ErrCapabilityUnavailable), "got %v", err)
}

// Package ollama adapts the Ollama embeddings HTTP API to the
// embeddings.Gateway interface.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bruno-ai/bruno-memory/internal/embeddings"
	"github.com/bruno-ai/bruno-memory/internal/model"
)

// Provider calls a local or remote Ollama instance.
type Provider struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

var _ embeddings.Gateway = (*Provider)(nil)

// New builds a provider for the given base URL and model name. dim is the
// model's embedding width (e.g. 1024 for mxbai-embed-large).
func New(baseURL, modelName string, dim int) *Provider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		dim:     dim,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error"`
}

func (p *Provider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(embedRequest{Model: p.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama embed: %v", model.ErrCapabilityUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: ollama embeddings status %d", model.ErrCapabilityUnavailable, resp.StatusCode)
	}
	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode ollama response: %v", model.ErrCapabilityUnavailable, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: ollama embeddings: %s", model.ErrCapabilityUnavailable, out.Error)
	}
	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// EmbedTexts loops EmbedText; the Ollama embeddings endpoint is
// single-prompt. Input order is preserved.
func (p *Provider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) > embeddings.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds %d", model.ErrValidation, len(texts), embeddings.MaxBatchSize)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.EmbedText(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (p *Provider) Similarity(a, b []float32) float64 { return embeddings.Cosine(a, b) }

func (p *Provider) Dimension() int { return p.dim }

func (p *Provider) SupportsBatch() bool { return false }

// CheckConnection verifies the configured model is present via /api/tags.
func (p *Provider) CheckConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: ollama unreachable: %v", model.ErrCapabilityUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ollama tags status %d", model.ErrCapabilityUnavailable, resp.StatusCode)
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("%w: decode ollama tags: %v", model.ErrCapabilityUnavailable, err)
	}
	for _, m := range tags.Models {
		if m.Name == p.model || strings.HasPrefix(m.Name, p.model+":") {
			return nil
		}
	}
	return fmt.Errorf("%w: model %q not available", model.ErrCapabilityUnavailable, p.model)
}

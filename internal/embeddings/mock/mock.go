// Package mock provides a deterministic embedding gateway for tests.
// Vectors are derived from token hashes, so identical text always embeds
// to the identical vector and overlapping text embeds nearby.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/bruno-ai/bruno-memory/internal/embeddings"
)

const defaultDimension = 64

// Embedder implements embeddings.Gateway without any external calls.
type Embedder struct {
	dim  int
	fail bool
}

var _ embeddings.Gateway = (*Embedder)(nil)

// New returns a mock gateway with the default dimension.
func New() *Embedder { return &Embedder{dim: defaultDimension} }

// NewFailing returns a gateway whose calls all fail, for degradation tests.
func NewFailing() *Embedder { return &Embedder{dim: defaultDimension, fail: true} }

func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, fmt.Errorf("mock embedder: simulated failure")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[int(h.Sum32())%e.dim]++
	}
	return vec, nil
}

func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) > embeddings.MaxBatchSize {
		return nil, fmt.Errorf("mock embedder: batch of %d exceeds %d", len(texts), embeddings.MaxBatchSize)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.EmbedText(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *Embedder) Similarity(a, b []float32) float64 { return embeddings.Cosine(a, b) }

func (e *Embedder) Dimension() int { return e.dim }

func (e *Embedder) SupportsBatch() bool { return true }

func (e *Embedder) CheckConnection(ctx context.Context) error {
	if e.fail {
		return fmt.Errorf("mock embedder: simulated failure")
	}
	return nil
}

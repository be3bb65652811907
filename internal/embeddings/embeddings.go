// Package embeddings defines the external embedding capability consumed
// by the retriever, the vector backend and the compressor. The core never
// computes embeddings itself.
package embeddings

import (
	"context"
	"math"
)

// Gateway produces vector representations for text and compares them.
// Batch calls preserve input order in the output.
type Gateway interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Similarity(a, b []float32) float64
	Dimension() int
	SupportsBatch() bool
	CheckConnection(ctx context.Context) error
}

// MaxBatchSize bounds a single EmbedTexts call. Larger inputs are split
// by the caller.
const MaxBatchSize = 64

// Cosine returns the cosine similarity of a and b mapped into [0,1].
// Mismatched or empty vectors score zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Negative similarity carries no signal for retrieval; clamp to [0,1].
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

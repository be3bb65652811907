package embeddings

import (
	"math"
	"testing"
)

func TestCosineIdentical(t *testing.T) {
	v := []float32{1, 2, 3}
	if got := Cosine(v, v); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("identical vectors: %f", got)
	}
}

func TestCosineOrthogonal(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors: %f", got)
	}
}

func TestCosineOppositeClampsToZero(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{-1, 0}); got != 0 {
		t.Fatalf("opposite vectors must clamp to 0: %f", got)
	}
}

func TestCosineDegenerate(t *testing.T) {
	if got := Cosine(nil, []float32{1}); got != 0 {
		t.Fatalf("mismatched lengths: %f", got)
	}
	if got := Cosine([]float32{0, 0}, []float32{0, 0}); got != 0 {
		t.Fatalf("zero vectors: %f", got)
	}
}

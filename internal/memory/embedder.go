package memory

import (
	"context"
	"math"
)

// EmbedFunc is a function that produces a float32 embedding vector from text.
// Production wiring uses the OpenAI embeddings endpoint; tests use a
// deterministic mock.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// normalizeVector scales v to unit length in place. Zero vectors are left
// untouched. chromem-go compares embeddings with cosine similarity and
// expects normalized vectors.
func normalizeVector(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

// NormalizingEmbedFunc wraps fn so its output is always unit length.
func NormalizingEmbedFunc(fn EmbedFunc) EmbedFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vec, err := fn(ctx, text)
		if err != nil {
			return nil, err
		}
		normalizeVector(vec)
		return vec, nil
	}
}

// Package embedding talks to the external embedding model. Vectors consumed
// by the retrieval index must be unit-normalized on both the corpus side and
// the query side; Normalize enforces that instead of trusting the provider.
package embedding

import (
	"context"
	"math"
)

type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Normalize scales vec to unit length in place and returns it. A zero vector
// is returned unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := 1 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
	return vec
}

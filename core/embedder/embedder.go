// Package embedder maps text to fixed-dimension unit vectors. The production
// implementation wraps an ONNX sentence-embedding model; a deterministic
// hashed embedder serves as fallback and as the test double.
package embedder

import (
	"context"
	"math"

	"github.com/viterin/vek/vek32"

	"github.com/adalundhe/hindsight/core/memory"
)

// Dimension is the embedding width shared by every implementation.
const Dimension = memory.EmbeddingDimension

// Embedder maps text to an L2-normalised vector. Batch outputs match input
// order. Implementations map model failures to errors.ErrEmbedUnavailable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Normalize scales vec to unit L2 norm in place. Zero vectors are left as-is.
func Normalize(vec []float32) {
	norm := float32(math.Sqrt(float64(vek32.Dot(vec, vec))))
	if norm == 0 {
		return
	}
	vek32.MulNumber_Inplace(vec, 1/norm)
}

// Cosine computes cosine similarity between two vectors. Unit-normalised
// inputs make this a plain dot product; unnormalised inputs are handled too.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	dot := float64(vek32.Dot(a, b))
	na := math.Sqrt(float64(vek32.Dot(a, a)))
	nb := math.Sqrt(float64(vek32.Dot(b, b)))
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}

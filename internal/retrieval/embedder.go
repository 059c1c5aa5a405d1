package retrieval

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

// Embedder turns texts into fixed-length feature vectors. The OpenAI-backed
// provider satisfies this; HashEmbedder is the dependency-free default.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// HashEmbedder produces deterministic vectors by hashing tokens into a
// fixed number of buckets. Reproducible from content alone, so rankings are
// stable across runs and hosts.
type HashEmbedder struct {
	Dims int
}

// NewHashEmbedder builds an embedder with the given dimensionality.
func NewHashEmbedder(dims int) HashEmbedder {
	if dims <= 0 {
		dims = 64
	}
	return HashEmbedder{Dims: dims}
}

func (h HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out[i] = h.embedOne(text)
	}
	return out, nil
}

func (h HashEmbedder) embedOne(text string) []float64 {
	vec := make([]float64, h.Dims)
	for _, tok := range tokenize(text) {
		f := fnv.New32a()
		fmt.Fprint(f, tok)
		vec[int(f.Sum32())%h.Dims]++
	}
	normalize(vec)
	return vec
}

func normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}

// Cosine returns the cosine similarity of two equal-length vectors.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

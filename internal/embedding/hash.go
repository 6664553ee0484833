package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/minio/highwayhash"
)

// hashKey seeds highwayhash. Changing it invalidates every stored vector.
var hashKey = []byte("rag-assistant-feature-hash-key!!")

// HashEmbedder is an offline embedder that maps word tokens into a fixed
// number of buckets (feature hashing). Texts sharing words get similar
// vectors, which is enough for tests and runs without a model server.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) (*HashEmbedder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("hash embedder dimension must be positive, got %d", dim)
	}
	return &HashEmbedder{dim: dim}, nil
}

// CreateEmbedding implements embeddings.EmbedderClient.
func (h *HashEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		tokens = []string{strings.TrimSpace(text)}
	}
	for _, tok := range tokens {
		sum := highwayhash.Sum64([]byte(tok), hashKey)
		idx := sum % uint64(h.dim)
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// every token cancelled out
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"

	"rag-assistant/internal/config"
	"rag-assistant/internal/models"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedder_DeterministicAndNormalised(t *testing.T) {
	h, err := NewHashEmbedder(64)
	require.NoError(t, err)

	out, err := h.CreateEmbedding(context.Background(), []string{"Neural networks learn", "Neural networks learn", "...", ""})
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.Equal(t, out[0], out[1])
	for _, v := range out {
		require.Len(t, v, 64)
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, norm, 1e-5)
	}
}

func TestHashEmbedder_SharedWordsAreCloser(t *testing.T) {
	h, err := NewHashEmbedder(256)
	require.NoError(t, err)

	out, err := h.CreateEmbedding(context.Background(), []string{
		"gradient descent optimisation",
		"what is gradient descent",
		"the history of medieval castles",
	})
	require.NoError(t, err)
	assert.Greater(t, cosine(out[0], out[1]), cosine(out[0], out[2]))
}

func TestNewHashEmbedder_RejectsZeroDimension(t *testing.T) {
	_, err := NewHashEmbedder(0)
	require.Error(t, err)
}

func TestNewEmbedder_Providers(t *testing.T) {
	e, err := NewEmbedder(&config.LLMConfig{Provider: "hash", Dimensions: 32, MaxRetries: 1, TimeoutSeconds: 1}, 8)
	require.NoError(t, err)
	v, err := e.EmbedQuery(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, v, 32)

	_, err = NewEmbedder(&config.LLMConfig{Provider: "nope"}, 8)
	require.Error(t, err)

	_, err = NewEmbedder(&config.LLMConfig{Provider: "ollama", Model: "all-minilm", BaseURL: "http://127.0.0.1:11434"}, 8)
	require.NoError(t, err)
}

func TestWithRetry_RecoversFromTransientFailure(t *testing.T) {
	var calls atomic.Int32
	flaky := embeddings.EmbedderClientFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection reset")
		}
		return [][]float32{{1, 0}}, nil
	})

	out, err := WithRetry(flaky, 2, time.Millisecond).CreateEmbedding(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}}, out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWithRetry_ExhaustedIsModelUnavailable(t *testing.T) {
	var calls atomic.Int32
	down := embeddings.EmbedderClientFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	})

	_, err := WithRetry(down, 2, time.Millisecond).CreateEmbedding(context.Background(), []string{"x"})
	require.ErrorIs(t, err, models.ErrModelUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

// lengthEmbedder returns a one-dimensional vector holding the text length.
type lengthEmbedder struct {
	fail string
}

func (l lengthEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if t == l.fail {
			return nil, fmt.Errorf("cannot embed %q", t)
		}
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (l lengthEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}

func TestEmbedAll_PreservesOrder(t *testing.T) {
	texts := make([]string, 23)
	for i := range texts {
		texts[i] = fmt.Sprintf("%0*d", i+1, 0)
	}

	out, err := EmbedAll(context.Background(), lengthEmbedder{}, texts, 4, 3)
	require.NoError(t, err)
	require.Len(t, out, len(texts))
	for i, v := range out {
		assert.Equal(t, float32(i+1), v[0])
	}
}

func TestEmbedAll_FailureReturnsNothing(t *testing.T) {
	out, err := EmbedAll(context.Background(), lengthEmbedder{fail: "bad"}, []string{"a", "b", "bad", "c"}, 1, 2)
	require.Error(t, err)
	assert.Nil(t, out)
}

func TestEmbedAll_Empty(t *testing.T) {
	out, err := EmbedAll(context.Background(), lengthEmbedder{}, nil, 4, 2)
	require.NoError(t, err)
	assert.Empty(t, out)
}

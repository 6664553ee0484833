package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"rag-assistant/internal/config"
	"rag-assistant/internal/helper"
	"rag-assistant/internal/models"
)

const retryInitialInterval = 500 * time.Millisecond

// NewEmbedder builds the embedder selected by cfg.Provider ("openai",
// "ollama" or "hash"). Every backend call is retried with exponential
// backoff; a backend still failing afterwards yields models.ErrModelUnavailable.
func NewEmbedder(cfg *config.LLMConfig, batchSize int) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating embedder")

	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(
		WithRetry(client, cfg.MaxRetries, retryInitialInterval),
		embeddings.WithBatchSize(batchSize),
		embeddings.WithStripNewLines(false),
	)
}

func newClient(cfg *config.LLMConfig) (embeddings.EmbedderClient, error) {
	httpClient := &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}

	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
			openai.WithEmbeddingModel(cfg.Model),
			openai.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("error initializing openai embedder: %w", err)
		}
		return llm, nil
	case "ollama":
		opts := []ollama.Option{
			ollama.WithModel(cfg.Model),
			ollama.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("error initializing ollama embedder: %w", err)
		}
		return llm, nil
	case "hash":
		return NewHashEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// WithRetry wraps client so that failed calls are retried up to maxRetries
// times. Exhausted retries are reported as models.ErrModelUnavailable.
func WithRetry(client embeddings.EmbedderClient, maxRetries int, initial time.Duration) embeddings.EmbedderClient {
	return embeddings.EmbedderClientFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		vectors, err := helper.Retry(ctx, "embed", maxRetries, initial, func() ([][]float32, error) {
			vectors, err := client.CreateEmbedding(ctx, texts)
			if err != nil {
				return nil, err
			}
			if len(vectors) != len(texts) {
				return nil, fmt.Errorf("got %d embeddings for %d texts", len(vectors), len(texts))
			}
			return vectors, nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %w", models.ErrModelUnavailable, err)
		}
		return vectors, nil
	})
}

package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/sync/errgroup"
)

// EmbedAll embeds texts in batches of batchSize, running at most concurrency
// batches at a time. The result is index-aligned with texts and every vector
// has the same dimension. Any failure cancels the remaining batches and no
// vectors are returned.
func EmbedAll(ctx context.Context, e embeddings.Embedder, texts []string, batchSize, concurrency int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, batch := range embeddings.BatchTexts(texts, batchSize) {
		offset := i * batchSize
		g.Go(func() error {
			vectors, err := e.EmbedDocuments(gctx, batch)
			if err != nil {
				return fmt.Errorf("embedding batch at %d: %w", offset, err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedding batch at %d: got %d vectors for %d texts", offset, len(vectors), len(batch))
			}
			copy(out[offset:], vectors)
			log.Debug().Int("offset", offset).Int("size", len(batch)).Msg("batch embedded")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(out[0])
	for i, v := range out {
		if len(v) != dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(v), dim)
		}
	}
	return out, nil
}

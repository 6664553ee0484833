package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"rag-assistant/internal/chunker"
	"rag-assistant/internal/config"
	"rag-assistant/internal/history"
	"rag-assistant/internal/models"
	"rag-assistant/internal/parser"
)

// Store is the vector store the pipeline writes to and searches.
type Store interface {
	Upsert(ctx context.Context, entries []models.Entry) error
	SimilaritySearch(ctx context.Context, vector []float32, k int) ([]models.Result, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Reset(ctx context.Context) error
	Persist(ctx context.Context) error
}

// Generator produces an answer from chat messages.
type Generator interface {
	Generate(ctx context.Context, messages []llms.MessageContent, temperature float64) (string, error)
}

// Loader reads a source document.
type Loader func(path string) (models.Document, error)

// RAG wires retrieval and generation around one vector store. Queries may
// run concurrently; ingestion excludes them while the store is rebuilt.
type RAG struct {
	mu sync.RWMutex

	store     Store
	embedder  embeddings.Embedder
	generator Generator
	splitter  *chunker.Splitter
	prompt    *Prompt
	load      Loader

	topK             int
	embedBatchSize   int
	embedConcurrency int

	state atomic.Int32
}

// NewRAG builds the pipeline. preset selects the prompt templates and
// temperature used by Answer.
func NewRAG(cfg *config.Config, preset config.PromptPreset, store Store, embedder embeddings.Embedder, generator Generator) (*RAG, error) {
	splitter, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, cfg.RAG.Separators)
	if err != nil {
		return nil, err
	}
	prompt, err := NewPrompt(preset, cfg.RAG.MaxContextChars)
	if err != nil {
		return nil, err
	}
	return &RAG{
		store:            store,
		embedder:         embedder,
		generator:        generator,
		splitter:         splitter,
		prompt:           prompt,
		load:             parser.Load,
		topK:             cfg.RAG.TopK,
		embedBatchSize:   cfg.RAG.EmbedBatchSize,
		embedConcurrency: cfg.RAG.EmbedConcurrency,
	}, nil
}

// Retrieve embeds query and returns the topK most similar chunks.
func (r *RAG) Retrieve(ctx context.Context, query string) ([]models.Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.retrieve(ctx, query)
}

func (r *RAG) retrieve(ctx context.Context, query string) ([]models.Result, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := r.store.SimilaritySearch(ctx, vector, r.topK)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Answer runs one retrieval-augmented query. turns is the conversation so
// far, oldest first. An empty retrieval still reaches the model with an
// empty context.
func (r *RAG) Answer(ctx context.Context, query string, turns []models.ChatTurn) (models.Answer, error) {
	if strings.TrimSpace(query) == "" {
		return models.Answer{}, fmt.Errorf("%w: query must not be empty", models.ErrInvalidRequest)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	results, err := r.retrieve(ctx, query)
	if err != nil {
		return models.Answer{}, err
	}
	contextText, used := r.prompt.BuildContext(results)
	log.Debug().Int("retrieved", len(results)).Int("used", len(used)).Int("context_chars", len(contextText)).
		Int("history", len(turns)).Msg("context assembled")

	msgs, err := r.prompt.Messages(contextText, turns, query)
	if err != nil {
		return models.Answer{}, err
	}
	text, err := r.generator.Generate(ctx, msgs, r.prompt.Temperature())
	if err != nil {
		return models.Answer{}, err
	}
	return models.Answer{Query: query, Text: text, Chunks: used}, nil
}

// Session is one conversation: it feeds its history into every query and
// records each exchange afterwards.
type Session struct {
	rag     *RAG
	history *history.History
}

func (r *RAG) NewSession(historySize int) *Session {
	return r.SessionWith(history.New(historySize))
}

// SessionWith continues the conversation held in h.
func (r *RAG) SessionWith(h *history.History) *Session {
	return &Session{rag: r, history: h}
}

// Ask answers query in the context of the session. Failed queries leave
// the history untouched.
func (s *Session) Ask(ctx context.Context, query string) (models.Answer, error) {
	turns, err := s.history.Turns(ctx)
	if err != nil {
		return models.Answer{}, err
	}
	answer, err := s.rag.Answer(ctx, query, turns)
	if err != nil {
		return models.Answer{}, err
	}
	if err := s.history.Append(ctx, query, answer.Text); err != nil {
		return models.Answer{}, err
	}
	return answer, nil
}

func (s *Session) History() *history.History { return s.history }

package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"rag-assistant/internal/chromemdb"
	"rag-assistant/internal/config"
	"rag-assistant/internal/embedding"
	"rag-assistant/internal/models"
)

const (
	page1 = "Gradient descent minimises a loss function step by step."
	page2 = "Photosynthesis converts light into chemical energy.\n\nChlorophyll absorbs mostly blue and red wavelengths."
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls [][]llms.MessageContent
	temps []float64
	err   error
}

func (f *fakeGenerator) Generate(_ context.Context, msgs []llms.MessageContent, temperature float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msgs)
	f.temps = append(f.temps, temperature)
	if f.err != nil {
		return "", f.err
	}
	return "generated answer", nil
}

func (f *fakeGenerator) last() []llms.MessageContent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func text(m llms.MessageContent) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(llms.TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

type fixture struct {
	rag   *RAG
	gen   *fakeGenerator
	store *chromemdb.VectorDBManager
	doc   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	doc := filepath.Join(dir, "book.txt")
	require.NoError(t, os.WriteFile(doc, []byte(page1+"\f"+page2), 0o600))

	cfg := config.Default()
	cfg.RAG.ChunkSize = 80
	cfg.RAG.ChunkOverlap = 10
	cfg.RAG.TopK = 2
	cfg.RAG.EmbedBatchSize = 2

	store, err := chromemdb.NewVectorDBManager(config.StoreConfig{Path: filepath.Join(dir, "chroma_db"), Collection: "documents"}, "")
	require.NoError(t, err)

	embedder, err := embedding.NewEmbedder(&config.LLMConfig{Provider: "hash", Dimensions: 256, MaxRetries: 1, TimeoutSeconds: 5}, cfg.RAG.EmbedBatchSize)
	require.NoError(t, err)

	gen := &fakeGenerator{}
	r, err := NewRAG(cfg, cfg.Prompt.Chat, store, embedder, gen)
	require.NoError(t, err)
	return &fixture{rag: r, gen: gen, store: store, doc: doc}
}

func TestIngestThenAnswer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	assert.Equal(t, StateNotStarted, f.rag.State())

	report, err := f.rag.Ingest(ctx, IngestOptions{Path: f.doc})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, 3, report.Stored)
	assert.Equal(t, StateDone, f.rag.State())

	answer, err := f.rag.Answer(ctx, "Which wavelengths does chlorophyll absorb?", nil)
	require.NoError(t, err)
	assert.Equal(t, "generated answer", answer.Text)
	require.NotEmpty(t, answer.Chunks)

	top := answer.Chunks[0].Chunk
	assert.Equal(t, 2, top.Index)
	assert.Equal(t, 2, top.PageIndex)
	assert.Equal(t, 10, top.Overlap)
	assert.Equal(t, " energy.\n\nChlorophyll absorbs mostly blue and red wavelengths.", top.Content)

	msgs := f.gen.last()
	require.Len(t, msgs, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Contains(t, text(msgs[0]), "Chlorophyll absorbs mostly blue and red wavelengths.")
	assert.Equal(t, "Which wavelengths does chlorophyll absorb?", text(msgs[1]))
	assert.InDelta(t, 0.3, f.gen.temps[0], 1e-9)
}

func TestIngest_TwiceDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.rag.Ingest(ctx, IngestOptions{Path: f.doc})
	require.NoError(t, err)
	report, err := f.rag.Ingest(ctx, IngestOptions{Path: f.doc})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Stored)
}

func TestIngest_MissingDocumentLeavesStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.rag.Ingest(ctx, IngestOptions{Path: f.doc})
	require.NoError(t, err)

	_, err = f.rag.Ingest(ctx, IngestOptions{Path: filepath.Join(t.TempDir(), "missing.pdf")})
	require.ErrorIs(t, err, models.ErrDocumentNotFound)
	assert.Equal(t, StateFailed, f.rag.State())

	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIngest_SkipPagesAndDryRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	report, err := f.rag.Ingest(ctx, IngestOptions{Path: f.doc, SkipPages: 1, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pages)
	assert.Equal(t, 2, report.Chunks)
	assert.True(t, report.DryRun)

	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	report, err = f.rag.Ingest(ctx, IngestOptions{Path: f.doc, SkipPages: 5})
	require.NoError(t, err)
	assert.Zero(t, report.Chunks)
}

func TestAnswer_EmptyStoreStillGenerates(t *testing.T) {
	f := newFixture(t)

	answer, err := f.rag.Answer(context.Background(), "anything there?", nil)
	require.NoError(t, err)
	assert.Equal(t, "generated answer", answer.Text)
	assert.Empty(t, answer.Chunks)
	assert.Contains(t, text(f.gen.last()[0]), "cannot find any information")
}

func TestAnswer_RejectsBlankQuery(t *testing.T) {
	f := newFixture(t)
	_, err := f.rag.Answer(context.Background(), "   ", nil)
	require.ErrorIs(t, err, models.ErrInvalidRequest)
	assert.Empty(t, f.gen.calls)
}

func TestSession_CarriesAndBoundsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.rag.NewSession(4)

	for _, q := range []string{"first question", "second question", "third question"} {
		_, err := s.Ask(ctx, q)
		require.NoError(t, err)
	}

	msgs := f.gen.last()
	// system, two earlier exchanges, new query
	require.Len(t, msgs, 6)
	assert.Equal(t, "first question", text(msgs[1]))
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[2].Role)
	assert.Equal(t, "third question", text(msgs[5]))

	turns, err := s.History().Turns(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "second question", turns[0].Text)
}

func TestSession_FailedQueryKeepsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gen.err = errors.Join(models.ErrGenerationFailed, errors.New("boom"))
	s := f.rag.NewSession(10)

	_, err := s.Ask(ctx, "hello")
	require.ErrorIs(t, err, models.ErrGenerationFailed)

	turns, err := s.History().Turns(ctx)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestAnswer_ConcurrentWithIngest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.rag.Ingest(ctx, IngestOptions{Path: f.doc})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.rag.Answer(ctx, "gradient descent", nil)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := f.rag.Retrieve(ctx, "photosynthesis")
			errs <- err
		}()
	}
	_, err = f.rag.Ingest(ctx, IngestOptions{Path: f.doc})
	require.NoError(t, err)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

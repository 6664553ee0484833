package rag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"rag-assistant/internal/embedding"
	"rag-assistant/internal/models"
)

type IngestState int32

const (
	StateNotStarted IngestState = iota
	StateLoading
	StateChunking
	StateEmbedding
	StateDone
	StateFailed
)

func (s IngestState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateLoading:
		return "loading"
	case StateChunking:
		return "chunking"
	case StateEmbedding:
		return "embedding"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type IngestOptions struct {
	Path string
	// SkipPages drops this many leading pages before chunking.
	SkipPages int
	// DryRun stops after chunking and leaves the store untouched.
	DryRun bool
}

type IngestReport struct {
	Document string        `json:"document"`
	Pages    int           `json:"pages"`
	Chunks   int           `json:"chunks"`
	Stored   int           `json:"stored"`
	DryRun   bool          `json:"dry_run"`
	Duration time.Duration `json:"duration"`
}

// State reports the progress of the current or last ingestion.
func (r *RAG) State() IngestState {
	return IngestState(r.state.Load())
}

func (r *RAG) setState(s IngestState) {
	r.state.Store(int32(s))
	log.Info().Str("state", s.String()).Msg("ingestion")
}

// Ingest rebuilds the store from the document at opts.Path: the store is
// reset, the document loaded, chunked, embedded and written, then persisted.
// A missing document fails with models.ErrDocumentNotFound before the store
// is touched. Queries wait until ingestion finishes.
func (r *RAG) Ingest(ctx context.Context, opts IngestOptions) (report IngestReport, err error) {
	started := time.Now()
	report = IngestReport{Document: opts.Path, DryRun: opts.DryRun}
	defer func() {
		report.Duration = time.Since(started)
		if err != nil {
			r.setState(StateFailed)
			log.Error().Err(err).Str("path", opts.Path).Msg("ingestion failed")
		}
	}()

	if _, err := os.Stat(opts.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return report, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, opts.Path)
		}
		return report, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.setState(StateLoading)
	if !opts.DryRun {
		if err := r.store.Reset(ctx); err != nil {
			return report, fmt.Errorf("failed to reset store: %w", err)
		}
	}
	doc, err := r.load(opts.Path)
	if err != nil {
		return report, err
	}
	if opts.SkipPages > 0 {
		if opts.SkipPages >= len(doc.Pages) {
			log.Warn().Int("skip", opts.SkipPages).Int("pages", len(doc.Pages)).Msg("skipping every page")
			doc.Pages = nil
		} else {
			doc.Pages = doc.Pages[opts.SkipPages:]
		}
	}
	report.Pages = len(doc.Pages)
	log.Info().Str("document", doc.ID).Int("pages", report.Pages).Msg("document loaded")

	r.setState(StateChunking)
	chunks := r.splitter.SplitDocument(doc)
	report.Chunks = len(chunks)
	log.Info().Int("chunks", report.Chunks).Msg("document chunked")

	if opts.DryRun {
		r.setState(StateDone)
		return report, nil
	}

	r.setState(StateEmbedding)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := embedding.EmbedAll(ctx, r.embedder, texts, r.embedBatchSize, r.embedConcurrency)
	if err != nil {
		return report, fmt.Errorf("failed to embed chunks: %w", err)
	}

	entries := make([]models.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = models.Entry{Chunk: c, Embedding: vectors[i]}
	}
	if err := r.store.Upsert(ctx, entries); err != nil {
		return report, fmt.Errorf("failed to write chunks: %w", err)
	}
	if err := r.store.Persist(ctx); err != nil {
		return report, fmt.Errorf("failed to persist store: %w", err)
	}
	if report.Stored, err = r.store.Count(ctx); err != nil {
		return report, err
	}

	r.setState(StateDone)
	log.Info().Int("stored", report.Stored).Dur("took", time.Since(started)).Msg("ingestion finished")
	return report, nil
}

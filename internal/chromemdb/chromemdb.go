package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"rag-assistant/internal/config"
	"rag-assistant/internal/helper"
	"rag-assistant/internal/models"
)

// metadata keys stored with every chunk
const (
	metaDocumentID = "document_id"
	metaPage       = "page"
	metaOffset     = "offset"
	metaIndex      = "index"
	metaOverlap    = "overlap"
	metaSeq        = "seq"
)

var errNoEmbedding = errors.New("chunk has no embedding, vectors must be computed before upsert")

// VectorDBManager keeps chunk embeddings in a chromem-go collection.
//
// In persistent mode every write goes straight to the directory at
// StoreConfig.Path. In memory mode the collection lives in RAM and Persist
// writes a snapshot file (gob, optionally compressed and AES encrypted) that
// the next Open loads again.
type VectorDBManager struct {
	mu            sync.RWMutex
	db            *chromem.DB
	collection    *chromem.Collection
	name          string
	dbPath        string
	inMemory      bool
	compress      bool
	encryptionKey string
	filePath      string
	seq           int
}

// NewVectorDBManager opens (or creates) the store described by cfg.
func NewVectorDBManager(cfg config.StoreConfig, encryptionKey string) (*VectorDBManager, error) {
	m := &VectorDBManager{
		name:          cfg.Collection,
		dbPath:        cfg.Path,
		inMemory:      cfg.InMemory,
		compress:      cfg.Compress,
		encryptionKey: encryptionKey,
		filePath:      filepath.Join(cfg.Path, cfg.Collection+".chromem"),
	}

	if m.inMemory {
		m.db = chromem.NewDB()
		if _, err := os.Stat(m.filePath); err == nil {
			if err := m.db.ImportFromFile(m.filePath, m.encryptionKey, m.name); err != nil {
				return nil, fmt.Errorf("failed to import snapshot %s: %w", m.filePath, err)
			}
			log.Debug().Str("file", m.filePath).Msg("snapshot imported")
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	} else {
		db, err := chromem.NewPersistentDB(m.dbPath, m.compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		m.db = db
	}

	if err := m.openCollection(); err != nil {
		return nil, err
	}
	m.seq = m.collection.Count()
	log.Debug().Str("path", m.dbPath).Str("collection", m.name).Int("count", m.seq).
		Bool("in_memory", m.inMemory).Msg("vector store opened")
	return m, nil
}

func (m *VectorDBManager) openCollection() error {
	c, err := m.db.GetOrCreateCollection(m.name, nil, refuseEmbedding)
	if err != nil {
		return fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return nil
}

// refuseEmbedding stops chromem from calling its default embedding backend.
func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedding
}

// Upsert writes entries keyed by chunk ID, replacing any entry with the same ID.
func (m *VectorDBManager) Upsert(ctx context.Context, entries []models.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		if len(e.Embedding) == 0 {
			return fmt.Errorf("chunk %s: %w", e.Chunk.ID, errNoEmbedding)
		}
		docs[i] = chromem.Document{
			ID:        e.Chunk.ID,
			Content:   e.Chunk.Content,
			Embedding: e.Embedding,
			Metadata: map[string]string{
				metaDocumentID: e.Chunk.DocumentID,
				metaPage:       strconv.Itoa(e.Chunk.PageIndex),
				metaOffset:     strconv.Itoa(e.Chunk.Offset),
				metaIndex:      strconv.Itoa(e.Chunk.Index),
				metaOverlap:    strconv.Itoa(e.Chunk.Overlap),
				metaSeq:        strconv.Itoa(m.seq + i),
			},
		}
	}

	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	m.seq += len(entries)
	return nil
}

// SimilaritySearch returns up to k entries ordered by descending cosine
// similarity, ties broken by insertion order.
func (m *VectorDBManager) SimilaritySearch(ctx context.Context, vector []float32, k int) ([]models.Result, error) {
	if len(vector) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := m.collection.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}

	// Rank the whole collection so the cut at k does not depend on how
	// chromem orders equal scores.
	results, err := m.collection.QueryEmbedding(ctx, vector, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := make([]models.Result, len(results))
	seqs := make([]int, len(results))
	for i, r := range results {
		out[i] = models.Result{Chunk: toChunk(r), Score: r.Similarity}
		seqs[i] = atoi(r.Metadata[metaSeq])
	}
	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if out[ia].Score != out[ib].Score {
			return out[ia].Score > out[ib].Score
		}
		return seqs[ia] < seqs[ib]
	})

	n := min(k, len(idx))
	ranked := make([]models.Result, n)
	for i := 0; i < n; i++ {
		ranked[i] = out[idx[i]]
	}
	return ranked, nil
}

func toChunk(r chromem.Result) models.Chunk {
	return models.Chunk{
		ID:         r.ID,
		DocumentID: r.Metadata[metaDocumentID],
		PageIndex:  atoi(r.Metadata[metaPage]),
		Offset:     atoi(r.Metadata[metaOffset]),
		Index:      atoi(r.Metadata[metaIndex]),
		Overlap:    atoi(r.Metadata[metaOverlap]),
		Content:    r.Content,
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Count returns the number of stored entries.
func (m *VectorDBManager) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collection.Count(), nil
}

// Clear drops every entry but keeps the store location.
func (m *VectorDBManager) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.db.DeleteCollection(m.name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	m.seq = 0
	return m.openCollection()
}

// Reset removes the store location entirely and recreates it empty.
func (m *VectorDBManager) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.db.Reset(); err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	if m.inMemory {
		if err := helper.RemoveFolder(m.dbPath); err != nil {
			return err
		}
		if err := helper.CreateFolder(m.dbPath); err != nil {
			return err
		}
	}
	m.seq = 0
	log.Debug().Str("path", m.dbPath).Msg("vector store reset")
	return m.openCollection()
}

// Persist makes the current contents durable. Persistent stores write
// through, so only in memory stores have work to do.
func (m *VectorDBManager) Persist(ctx context.Context) error {
	if !m.inMemory {
		return nil
	}
	if err := helper.CreateFolder(m.dbPath); err != nil {
		return err
	}
	return m.Export(ctx, m.filePath)
}

// Export writes the collection to a snapshot file at path.
func (m *VectorDBManager) Export(_ context.Context, path string) error {
	if path == "" {
		return errors.New("export path is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Debug().Str("collection", m.name).Str("file", path).Bool("compress", m.compress).
		Bool("encrypted", m.encryptionKey != "").Msg("exporting collection")
	if err := m.db.ExportToFile(path, m.compress, m.encryptionKey, m.name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import replaces the collection with the one stored in the snapshot at path.
func (m *VectorDBManager) Import(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.db.ImportFromFile(path, m.encryptionKey, m.name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	if err := m.openCollection(); err != nil {
		return err
	}
	m.seq = m.collection.Count()
	return nil
}

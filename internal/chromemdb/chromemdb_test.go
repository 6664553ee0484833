package chromemdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-assistant/internal/config"
	"rag-assistant/internal/models"
)

const testKey = "0123456789abcdef0123456789abcdef"

func entry(id string, page int, vec ...float32) models.Entry {
	return models.Entry{
		Chunk: models.Chunk{
			ID:         id,
			DocumentID: "doc.pdf",
			PageIndex:  page,
			Offset:     page * 10,
			Index:      page,
			Overlap:    3,
			Content:    "content of " + id,
		},
		Embedding: vec,
	}
}

func openStore(t *testing.T, dir string, inMemory bool) *VectorDBManager {
	t.Helper()
	m, err := NewVectorDBManager(config.StoreConfig{
		Path:       dir,
		Collection: "documents",
		InMemory:   inMemory,
	}, testKey)
	require.NoError(t, err)
	return m
}

func TestSimilaritySearch_OrdersByScoreThenInsertion(t *testing.T) {
	ctx := context.Background()
	m := openStore(t, t.TempDir(), false)

	require.NoError(t, m.Upsert(ctx, []models.Entry{
		entry("a", 1, 0, 1),
		entry("b", 2, 1, 0),
		entry("c", 3, 1, 0),
		entry("d", 4, 1, 1),
	}))

	res, err := m.SimilaritySearch(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "b", res[0].Chunk.ID)
	assert.Equal(t, "c", res[1].Chunk.ID)
	assert.Equal(t, "d", res[2].Chunk.ID)
	assert.InDelta(t, 1.0, res[0].Score, 1e-5)
	assert.GreaterOrEqual(t, res[1].Score, res[2].Score)

	got := res[0].Chunk
	assert.Equal(t, models.Chunk{
		ID: "b", DocumentID: "doc.pdf", PageIndex: 2, Offset: 20, Index: 2, Overlap: 3, Content: "content of b",
	}, got)
}

func TestSimilaritySearch_ClampsK(t *testing.T) {
	ctx := context.Background()
	m := openStore(t, t.TempDir(), false)

	res, err := m.SimilaritySearch(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, res)

	require.NoError(t, m.Upsert(ctx, []models.Entry{entry("a", 1, 1, 0), entry("b", 2, 0, 1)}))
	res, err = m.SimilaritySearch(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestUpsert_ReplacesSameID(t *testing.T) {
	ctx := context.Background()
	m := openStore(t, t.TempDir(), false)

	require.NoError(t, m.Upsert(ctx, []models.Entry{entry("a", 1, 1, 0)}))
	require.NoError(t, m.Upsert(ctx, []models.Entry{entry("a", 1, 0, 1)}))

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Error(t, m.Upsert(ctx, []models.Entry{{Chunk: models.Chunk{ID: "x"}}}))
	require.NoError(t, m.Upsert(ctx, nil))
}

func TestReset_RebuildHasNoDuplicates(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "chroma_db")
	m := openStore(t, dir, false)

	ingest := func() {
		require.NoError(t, m.Reset(ctx))
		var entries []models.Entry
		for i := 0; i < 5; i++ {
			entries = append(entries, entry(fmt.Sprintf("doc.pdf-p%d-c%d", i, i), i, float32(i+1), 1))
		}
		require.NoError(t, m.Upsert(ctx, entries))
		require.NoError(t, m.Persist(ctx))
	}
	ingest()
	ingest()

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	reopened := openStore(t, dir, false)
	n, err = reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	m := openStore(t, t.TempDir(), false)
	require.NoError(t, m.Upsert(ctx, []models.Entry{entry("a", 1, 1, 0)}))

	require.NoError(t, m.Clear(ctx))
	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInMemory_PersistWritesEncryptedSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := openStore(t, dir, true)
	require.NoError(t, m.Upsert(ctx, []models.Entry{entry("a", 1, 1, 0), entry("b", 2, 0, 1)}))
	require.NoError(t, m.Persist(ctx))
	assert.FileExists(t, filepath.Join(dir, "documents.chromem"))

	reopened := openStore(t, dir, true)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := reopened.SimilaritySearch(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "b", res[0].Chunk.ID)

	_, err = NewVectorDBManager(config.StoreConfig{Path: dir, Collection: "documents", InMemory: true}, "fedcba9876543210fedcba9876543210")
	require.Error(t, err)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := openStore(t, t.TempDir(), false)
	require.NoError(t, src.Upsert(ctx, []models.Entry{entry("a", 1, 1, 0)}))

	file := filepath.Join(t.TempDir(), "snapshot.gob.enc")
	require.NoError(t, src.Export(ctx, file))

	dst := openStore(t, t.TempDir(), false)
	require.NoError(t, dst.Import(ctx, file))
	n, err := dst.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSearchWhileResetting(t *testing.T) {
	ctx := context.Background()
	m := openStore(t, t.TempDir(), false)
	entries := []models.Entry{entry("a", 1, 1, 0), entry("b", 2, 0, 1), entry("c", 3, 1, 1)}
	require.NoError(t, m.Upsert(ctx, entries))

	var wg sync.WaitGroup
	errs := make(chan error, 4*50)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				res, err := m.SimilaritySearch(ctx, []float32{1, 0}, 2)
				if err != nil {
					errs <- err
					continue
				}
				if len(res) > 2 {
					errs <- fmt.Errorf("got %d results for k=2", len(res))
				}
				if _, err := m.Count(ctx); err != nil {
					errs <- err
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, m.Reset(ctx))
		require.NoError(t, m.Upsert(ctx, entries))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.Equal(t, 10, cfg.RAG.HistorySize)
	assert.Equal(t, 13, cfg.Document.SkipPages)
	assert.Equal(t, "./chroma_db", cfg.Store.Path)
	assert.Equal(t, []string{"\n\n", "\n", ".", " ", ""}, cfg.RAG.Separators)
	require.NotNil(t, cfg.Prompt.Chat.Temperature)
	assert.InDelta(t, 0.3, *cfg.Prompt.Chat.Temperature, 1e-9)
	require.NotNil(t, cfg.Prompt.Server.Temperature)
	assert.Zero(t, *cfg.Prompt.Server.Temperature)
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
document:
  path: ./book.pdf
  skip_pages: 2
rag:
  chunk_size: 500
  chunk_overlap: 50
  top_k: 3
store:
  path: ./store
prompt:
  server:
    temperature: 0.7
`)
	t.Setenv("RAG_STORE_PATH", "/tmp/override")
	t.Setenv("RAG_LLM_API_KEY", "secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "./book.pdf", cfg.Document.Path)
	assert.Equal(t, 2, cfg.Document.SkipPages)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 3, cfg.RAG.TopK)
	assert.Equal(t, "/tmp/override", cfg.Store.Path)
	assert.Equal(t, "secret", cfg.LLM.Key)
	assert.InDelta(t, 0.7, *cfg.Prompt.Server.Temperature, 1e-9)
}

func TestLoadConfig_RejectsOverlapNotBelowSize(t *testing.T) {
	path := writeConfig(t, `
rag:
  chunk_size: 100
  chunk_overlap: 100
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_overlap")
}

func TestLoadConfig_RejectsShortEncryptionKey(t *testing.T) {
	path := writeConfig(t, `
rag:
  encryption_key: short
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "rag: [unterminated")
	_, err := LoadConfig(path)
	require.Error(t, err)
}

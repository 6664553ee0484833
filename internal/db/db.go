package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"rag-assistant/internal/config"
	"rag-assistant/internal/models"
)

// ChunkRow is one stored chunk. Seq is assigned by the database on first
// insert and orders results with equal scores.
type ChunkRow struct {
	bun.BaseModel `bun:"table:rag_chunks,alias:c"`

	ID         string          `bun:"id,pk"`
	Seq        int64           `bun:"seq,nullzero"`
	DocumentID string          `bun:"document_id"`
	Page       int             `bun:"page"`
	Offset     int             `bun:"chunk_offset"`
	ChunkIndex int             `bun:"chunk_index"`
	Overlap    int             `bun:"overlap"`
	Content    string          `bun:"content,notnull"`
	Embedding  pgvector.Vector `bun:"embedding,type:vector"`
	Score      float32         `bun:"score,scanonly"`
}

// ChunkStore keeps chunk embeddings in a Postgres table with the pgvector extension.
type ChunkStore struct {
	db         *bun.DB
	table      string
	vectorSize int
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(debug),
		bundebug.WithVerbose(debug),
		bundebug.FromEnv("BUNDEBUG"),
	))
	return db
}

// ConnectDB opens a connection pool with the driver named in cfg.Driver.
// No connection is made until the first query.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	switch cfg.Driver {
	case "pgdriver", "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	case "pq":
		return sql.Open("postgres", cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// NewChunkStore connects to the database and makes sure the table exists.
func NewChunkStore(ctx context.Context, cfg *config.DatabaseConfig) (*ChunkStore, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	s := NewChunkStoreWithDB(NewDB(sqldb, cfg.Debug), cfg.Table, cfg.VectorSize)
	if err := s.InitDB(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}
	return s, nil
}

func NewChunkStoreWithDB(db *bun.DB, table string, vectorSize int) *ChunkStore {
	return &ChunkStore{db: db, table: table, vectorSize: vectorSize}
}

// InitDB creates the vector extension and the table if missing.
func (s *ChunkStore) InitDB(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.createTableSQL()); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

func (s *ChunkStore) createTableSQL() string {
	return s.db.Formatter().FormatQuery(`CREATE TABLE IF NOT EXISTS ? (
	id TEXT PRIMARY KEY,
	seq BIGSERIAL,
	document_id TEXT NOT NULL,
	page INTEGER NOT NULL,
	chunk_offset INTEGER NOT NULL,
	chunk_index INTEGER NOT NULL,
	overlap INTEGER NOT NULL,
	content TEXT NOT NULL,
	embedding vector(?) NOT NULL
)`, bun.Ident(s.table), bun.Safe(strconv.Itoa(s.vectorSize)))
}

// Upsert inserts entries, replacing rows with the same chunk ID.
func (s *ChunkStore) Upsert(ctx context.Context, entries []models.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]ChunkRow, len(entries))
	for i, e := range entries {
		if len(e.Embedding) != s.vectorSize {
			return fmt.Errorf("chunk %s: embedding has dimension %d, table expects %d", e.Chunk.ID, len(e.Embedding), s.vectorSize)
		}
		rows[i] = ChunkRow{
			ID:         e.Chunk.ID,
			DocumentID: e.Chunk.DocumentID,
			Page:       e.Chunk.PageIndex,
			Offset:     e.Chunk.Offset,
			ChunkIndex: e.Chunk.Index,
			Overlap:    e.Chunk.Overlap,
			Content:    e.Chunk.Content,
			Embedding:  pgvector.NewVector(e.Embedding),
		}
	}
	if _, err := s.upsertQuery(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return nil
}

func (s *ChunkStore) upsertQuery(rows *[]ChunkRow) *bun.InsertQuery {
	return s.db.NewInsert().
		Model(rows).
		ModelTableExpr("?", bun.Ident(s.table)).
		On("CONFLICT (id) DO UPDATE").
		Set("document_id = EXCLUDED.document_id").
		Set("page = EXCLUDED.page").
		Set("chunk_offset = EXCLUDED.chunk_offset").
		Set("chunk_index = EXCLUDED.chunk_index").
		Set("overlap = EXCLUDED.overlap").
		Set("content = EXCLUDED.content").
		Set("embedding = EXCLUDED.embedding")
}

// SimilaritySearch returns the k nearest chunks by cosine distance. Score is
// the cosine similarity.
func (s *ChunkStore) SimilaritySearch(ctx context.Context, vector []float32, k int) ([]models.Result, error) {
	if k <= 0 {
		return nil, nil
	}
	var rows []ChunkRow
	if err := s.searchQuery(&rows, vector, k).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	out := make([]models.Result, len(rows))
	for i, r := range rows {
		out[i] = models.Result{
			Chunk: models.Chunk{
				ID:         r.ID,
				DocumentID: r.DocumentID,
				PageIndex:  r.Page,
				Offset:     r.Offset,
				Index:      r.ChunkIndex,
				Overlap:    r.Overlap,
				Content:    r.Content,
			},
			Score: r.Score,
		}
	}
	return out, nil
}

func (s *ChunkStore) searchQuery(rows *[]ChunkRow, vector []float32, k int) *bun.SelectQuery {
	vec := pgvector.NewVector(vector)
	return s.db.NewSelect().
		Model(rows).
		ModelTableExpr("? AS c", bun.Ident(s.table)).
		Column("id", "seq", "document_id", "page", "chunk_offset", "chunk_index", "overlap", "content").
		ColumnExpr("1 - (embedding <=> ?) AS score", vec).
		OrderExpr("embedding <=> ?", vec).
		OrderExpr("seq ASC").
		Limit(k)
}

func (s *ChunkStore) Count(ctx context.Context) (int, error) {
	return s.db.NewSelect().ModelTableExpr("? AS c", bun.Ident(s.table)).Model((*ChunkRow)(nil)).Count(ctx)
}

// Clear removes every row and restarts the insertion sequence.
func (s *ChunkStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE ? RESTART IDENTITY", bun.Ident(s.table)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", s.table, err)
	}
	return nil
}

// Reset drops the table and creates it again.
func (s *ChunkStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS ?", bun.Ident(s.table)); err != nil {
		return fmt.Errorf("failed to drop %s: %w", s.table, err)
	}
	log.Debug().Str("table", s.table).Msg("vector table dropped")
	return s.InitDB(ctx)
}

// Persist is a no-op: every write is committed when it returns.
func (s *ChunkStore) Persist(context.Context) error { return nil }

func (s *ChunkStore) Close() error {
	return s.db.Close()
}

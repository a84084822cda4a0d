package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"docqa/internal/chromemdb"
	"docqa/internal/config"
	"docqa/internal/models"
)

type ChunkRow struct {
	bun.BaseModel `bun:"table:document_chunks,alias:c"`
	ID            string            `bun:"id,pk"`
	Position      int               `bun:"position,notnull"`
	Content       string            `bun:"content,notnull"`
	Metadata      map[string]string `bun:"metadata,type:jsonb"`
	Embedding     pgvector.Vector   `bun:"embedding,notnull,type:vector"`
}

// VectorStore keeps the chunk collection in a Postgres table with the pgvector extension
type VectorStore struct {
	db    *bun.DB
	table string
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(dsn string) *sql.DB {
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
}

// NewVectorStore connects to cfg.DSN and makes sure the extension and table exist
func NewVectorStore(ctx context.Context, cfg config.IndexConfig) (*VectorStore, error) {
	db := NewDB(ConnectDB(cfg.DSN), cfg.Debug)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to connect to postgres: %w", models.ErrRetriever, err)
	}

	s := &VectorStore{db: db, table: cfg.Collection}
	if err := s.InitDB(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *VectorStore) InitDB(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("%w: failed to enable pgvector: %w", models.ErrRetriever, err)
	}
	_, err := s.db.NewCreateTable().
		Model((*ChunkRow)(nil)).
		ModelTableExpr("?", bun.Ident(s.table)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to create table: %w", models.ErrRetriever, err)
	}
	return nil
}

// Reset drops and recreates the chunk table
func (s *VectorStore) Reset(ctx context.Context) error {
	if _, err := s.db.NewDropTable().Table(s.table).IfExists().Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to drop table: %w", models.ErrRetriever, err)
	}
	return s.InitDB(ctx)
}

func (s *VectorStore) Add(ctx context.Context, chunks []string, embeddings [][]float32, metadata []map[string]string) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("%w: %d chunks but %d embeddings", models.ErrRetriever, len(chunks), len(embeddings))
	}
	if metadata != nil && len(metadata) != len(chunks) {
		return fmt.Errorf("%w: %d chunks but %d metadata entries", models.ErrRetriever, len(chunks), len(metadata))
	}
	if len(chunks) == 0 {
		return nil
	}

	rows := make([]ChunkRow, len(chunks))
	for i, chunk := range chunks {
		meta := chromemdb.DefaultMetadata(i)
		if metadata != nil {
			meta = metadata[i]
		}
		rows[i] = ChunkRow{
			ID:        models.ChunkID(i),
			Position:  i,
			Content:   chunk,
			Metadata:  meta,
			Embedding: pgvector.NewVector(embeddings[i]),
		}
	}

	_, err := s.db.NewInsert().
		Model(&rows).
		ModelTableExpr("?", bun.Ident(s.table)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to insert chunks: %w", models.ErrRetriever, err)
	}
	log.Info().Int("chunks", len(rows)).Str("table", s.table).Msg("Added chunks to table")
	return nil
}

// Query orders by cosine distance, closest first
func (s *VectorStore) Query(ctx context.Context, embedding []float32, k int) ([]string, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding is empty", models.ErrRetriever)
	}
	if k <= 0 {
		return nil, nil
	}

	var rows []ChunkRow
	err := s.db.NewSelect().
		Model(&rows).
		ModelTableExpr("? AS c", bun.Ident(s.table)).
		Column("id", "content").
		OrderExpr("embedding <=> ?", pgvector.NewVector(embedding)).
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query by similarity: %w", models.ErrRetriever, err)
	}

	texts := make([]string, len(rows))
	for i, r := range rows {
		texts[i] = r.Content
	}
	return texts, nil
}

func (s *VectorStore) Close() error {
	return s.db.Close()
}

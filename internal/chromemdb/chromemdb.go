package chromemdb

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"docqa/internal/config"
	"docqa/internal/models"
)

// VectorDBManager holds the single chunk collection of the current document
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	name          string
	dbPath        string
	compress      bool
	encryptionKey string
	filePath      string
}

// NewVectorDBManager opens the persistent database under cfg.Dir, or an in-memory one
func NewVectorDBManager(cfg config.IndexConfig, inMemory bool) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Dir, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create database: %w", models.ErrRetriever, err)
		}
	}

	filePath := cfg.ExportFile
	if filePath != "" && !filepath.IsAbs(filePath) && cfg.Dir != "" {
		filePath = filepath.Join(cfg.Dir, filePath)
	}

	m := &VectorDBManager{
		db:            db,
		name:          cfg.Collection,
		dbPath:        cfg.Dir,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
		filePath:      filePath,
	}
	if _, err := m.getOrCreateCollection(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *VectorDBManager) getOrCreateCollection() (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(m.name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create/get collection: %w", models.ErrRetriever, err)
	}
	m.collection = c
	return c, nil
}

// Reset drops the collection and creates it empty. Calling it twice is the same as once.
func (m *VectorDBManager) Reset(ctx context.Context) error {
	if err := m.db.DeleteCollection(m.name); err != nil {
		return fmt.Errorf("%w: failed to drop collection: %w", models.ErrRetriever, err)
	}
	c, err := m.db.CreateCollection(m.name, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create collection: %w", models.ErrRetriever, err)
	}
	m.collection = c
	log.Debug().Str("collection", m.name).Msg("Collection reset")
	return nil
}

// DefaultMetadata is attached to chunk i when the caller provides none
func DefaultMetadata(i int) map[string]string {
	return map[string]string{
		models.ChunkIDMetadata:  strconv.Itoa(i),
		models.PositionMetadata: strconv.Itoa(i),
	}
}

// Add stores the chunks under chunk_<i> IDs. chunks, embeddings and metadata must have equal
// lengths; metadata may be nil.
func (m *VectorDBManager) Add(ctx context.Context, chunks []string, embeddings [][]float32, metadata []map[string]string) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("%w: %d chunks but %d embeddings", models.ErrRetriever, len(chunks), len(embeddings))
	}
	if metadata != nil && len(metadata) != len(chunks) {
		return fmt.Errorf("%w: %d chunks but %d metadata entries", models.ErrRetriever, len(chunks), len(metadata))
	}
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		meta := DefaultMetadata(i)
		if metadata != nil {
			meta = metadata[i]
		}
		docs[i] = chromem.Document{
			ID:        models.ChunkID(i),
			Content:   chunk,
			Metadata:  meta,
			Embedding: embeddings[i],
		}
	}

	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("%w: failed to add documents: %w", models.ErrRetriever, err)
	}
	log.Info().Int("chunks", len(docs)).Str("collection", m.name).Msg("Added chunks to collection")

	if m.filePath != "" {
		return m.Export(ctx)
	}
	return nil
}

// Query returns up to k chunk texts, most similar first
func (m *VectorDBManager) Query(ctx context.Context, embedding []float32, k int) ([]string, error) {
	results, err := m.Search(ctx, embedding, k)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Content
	}
	return texts, nil
}

// Search is Query with the similarity and metadata of every hit
func (m *VectorDBManager) Search(ctx context.Context, embedding []float32, k int) ([]chromem.Result, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding is empty", models.ErrRetriever)
	}
	n := min(k, m.collection.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := m.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: embedding,
		NResults:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query by similarity: %w", models.ErrRetriever, err)
	}
	return results, nil
}

func (m *VectorDBManager) Count() int {
	return m.collection.Count()
}

// Export writes the collection to the configured file, encrypted when a key is set
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.filePath == "" {
		return fmt.Errorf("%w: export file is required", models.ErrRetriever)
	}

	log.Debug().Str("collection", m.name).Str("file", m.filePath).Bool("compress", m.compress).Msg("Exporting collection")
	if err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.name); err != nil {
		return fmt.Errorf("%w: failed to export database: %w", models.ErrRetriever, err)
	}
	return nil
}

func (m *VectorDBManager) Close() error {
	return nil
}

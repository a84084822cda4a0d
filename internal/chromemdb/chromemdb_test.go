package chromemdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/config"
	"docqa/internal/models"
)

func testIndexConfig(t *testing.T) config.IndexConfig {
	cfg := config.Default().Index
	cfg.Dir = filepath.Join(t.TempDir(), "chroma_db")
	return cfg
}

var (
	chunks = []string{"[Page 1] cats purr", "[Page 2] dogs bark", "[Page 3] fish swim"}
	vecs   = [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
)

func TestResetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, err := NewVectorDBManager(testIndexConfig(t), false)
	require.NoError(t, err)

	require.NoError(t, m.Add(ctx, chunks, vecs, nil))
	require.Equal(t, 3, m.Count())

	require.NoError(t, m.Reset(ctx))
	assert.Equal(t, 0, m.Count())
	require.NoError(t, m.Reset(ctx))
	assert.Equal(t, 0, m.Count())

	results, err := m.Query(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAddQueryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, err := NewVectorDBManager(testIndexConfig(t), false)
	require.NoError(t, err)
	require.NoError(t, m.Reset(ctx))
	require.NoError(t, m.Add(ctx, chunks, vecs, nil))

	results, err := m.Query(ctx, []float32{0.1, 0.9, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, chunks[1], results[0])
	assert.Equal(t, chunks[0], results[1])

	hits, err := m.Search(ctx, []float32{0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "chunk_2", hits[0].ID)
	assert.Equal(t, "2", hits[0].Metadata[models.ChunkIDMetadata])
	assert.Equal(t, "2", hits[0].Metadata[models.PositionMetadata])
}

func TestQueryClampsK(t *testing.T) {
	ctx := context.Background()
	m, err := NewVectorDBManager(testIndexConfig(t), true)
	require.NoError(t, err)
	require.NoError(t, m.Add(ctx, chunks[:2], vecs[:2], nil))

	results, err := m.Query(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestAddReplacesDocumentAfterReset(t *testing.T) {
	ctx := context.Background()
	m, err := NewVectorDBManager(testIndexConfig(t), false)
	require.NoError(t, err)

	require.NoError(t, m.Add(ctx, chunks, vecs, nil))
	require.NoError(t, m.Reset(ctx))
	require.NoError(t, m.Add(ctx, []string{"[Page 1] other document"}, [][]float32{{1, 1, 0}}, nil))

	assert.Equal(t, 1, m.Count())
	results, err := m.Query(ctx, []float32{0, 0, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"[Page 1] other document"}, results)
}

func TestAddValidatesLengths(t *testing.T) {
	ctx := context.Background()
	m, err := NewVectorDBManager(testIndexConfig(t), true)
	require.NoError(t, err)

	err = m.Add(ctx, chunks, vecs[:2], nil)
	assert.ErrorIs(t, err, models.ErrRetriever)

	err = m.Add(ctx, chunks, vecs, []map[string]string{{"a": "b"}})
	assert.ErrorIs(t, err, models.ErrRetriever)

	_, err = m.Query(ctx, nil, 3)
	assert.ErrorIs(t, err, models.ErrRetriever)
}

func TestCustomMetadataAndExport(t *testing.T) {
	ctx := context.Background()
	cfg := testIndexConfig(t)
	cfg.ExportFile = "export.gob"
	m, err := NewVectorDBManager(cfg, false)
	require.NoError(t, err)

	meta := []map[string]string{{models.SourceMetadata: "a.pdf"}}
	require.NoError(t, m.Add(ctx, chunks[:1], vecs[:1], meta))

	hits, err := m.Search(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a.pdf", hits[0].Metadata[models.SourceMetadata])

	_, err = os.Stat(filepath.Join(cfg.Dir, "export.gob"))
	assert.NoError(t, err)
}

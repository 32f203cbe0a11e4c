package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yates-Labs/f1rag/internal/rag"
	"github.com/Yates-Labs/f1rag/internal/wiki"
)

// mockDownloader implements CategoryDownloader for testing
type mockDownloader struct {
	results []wiki.Result
	err     error
}

func (m *mockDownloader) DownloadCategory(_ context.Context, _ string, _ int) (<-chan wiki.Result, int, error) {
	if m.err != nil {
		return nil, 0, m.err
	}
	out := make(chan wiki.Result, len(m.results))
	for _, r := range m.results {
		out <- r
	}
	close(out)
	return out, len(m.results), nil
}

func newTestIndexer(t *testing.T, store rag.VectorStore) *rag.Indexer {
	t.Helper()
	ix, err := rag.NewIndexer(rag.NewHashingEmbedder(64), store, nil, rag.DefaultIndexOptions(), nil)
	require.NoError(t, err)
	return ix
}

func TestIngestCategory(t *testing.T) {
	store := rag.NewMemoryStore()
	downloader := &mockDownloader{results: []wiki.Result{
		{Title: "2021 Abu Dhabi Grand Prix", Document: &rag.RawDocument{
			ID: "enwiki:1", Title: "2021 Abu Dhabi Grand Prix", Text: "Max Verstappen won the 2021 Abu Dhabi Grand Prix.",
		}},
		{Title: "Abu Dhabi GP", Err: &wiki.FetchError{Title: "Abu Dhabi GP", Err: wiki.ErrRedirect}},
		{Title: "Broken", Err: &wiki.FetchError{Title: "Broken", Err: errors.New("timeout")}},
	}}
	saveDir := t.TempDir()

	ingestor := NewIngestor(downloader, newTestIndexer(t, store), nil)
	summary, err := ingestor.IngestCategory(context.Background(), "Formula_One_races", 1, saveDir)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Download.Requested)
	assert.Equal(t, 1, summary.Download.Downloaded)
	assert.Equal(t, 1, summary.Download.Skipped)
	assert.Equal(t, 1, summary.Download.Failed)
	assert.Equal(t, 1, summary.Saved)
	assert.Equal(t, 1, summary.Index.Indexed)

	n, _ := store.Count(context.Background())
	assert.Equal(t, 1, n)

	saved, _, err := wiki.LoadArticles(saveDir)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "enwiki:1", saved[0].ID)
}

func TestIngestCategory_NothingIndexed(t *testing.T) {
	downloader := &mockDownloader{results: []wiki.Result{
		{Title: "Broken", Err: &wiki.FetchError{Title: "Broken", Err: errors.New("timeout")}},
	}}

	ingestor := NewIngestor(downloader, newTestIndexer(t, rag.NewMemoryStore()), nil)
	summary, err := ingestor.IngestCategory(context.Background(), "Formula_One_races", 1, "")
	assert.ErrorIs(t, err, ErrNothingIndexed)
	assert.Equal(t, 1, summary.Download.Failed)
}

func TestIngestCategory_ListFailure(t *testing.T) {
	ingestor := NewIngestor(&mockDownloader{err: wiki.ErrCategoryNotFound}, newTestIndexer(t, rag.NewMemoryStore()), nil)
	_, err := ingestor.IngestCategory(context.Background(), "Nope", 1, "")
	assert.ErrorIs(t, err, wiki.ErrCategoryNotFound)

	_, err = NewIngestor(nil, newTestIndexer(t, rag.NewMemoryStore()), nil).IngestCategory(context.Background(), "x", 1, "")
	assert.Error(t, err)
}

func TestIngestDirectory(t *testing.T) {
	dir := writeArticles(t,
		rag.RawDocument{ID: "enwiki:1", Title: "2021 Abu Dhabi Grand Prix", Text: "Max Verstappen won the 2021 Abu Dhabi Grand Prix."},
		rag.RawDocument{ID: "enwiki:2", Title: "1988 Monaco Grand Prix", Text: "Alain Prost won the 1988 Monaco Grand Prix."},
	)

	store := rag.NewMemoryStore()
	ingestor := NewIngestor(nil, newTestIndexer(t, store), nil)

	summary, err := ingestor.IngestDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Download.Downloaded)
	assert.Equal(t, 0, summary.Download.Failed)
	assert.Equal(t, 2, summary.Index.Indexed)

	// Re-ingesting the same files does not grow the store.
	_, err = ingestor.IngestDirectory(context.Background(), dir)
	require.NoError(t, err)
	n, _ := store.Count(context.Background())
	assert.Equal(t, 2, n)
}

func TestIngestDocuments_Empty(t *testing.T) {
	ingestor := NewIngestor(nil, newTestIndexer(t, rag.NewMemoryStore()), nil)
	_, err := ingestor.IngestDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNothingIndexed)

	_, err = ingestor.IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNothingIndexed)
}

func TestIngestDirectory_SkipsMalformedFiles(t *testing.T) {
	dir := writeArticles(t,
		rag.RawDocument{ID: "enwiki:2", Title: "1988 Monaco Grand Prix", Text: "Alain Prost won the 1988 Monaco Grand Prix."},
	)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("random notes"), 0o644))

	store := rag.NewMemoryStore()
	summary, err := NewIngestor(nil, newTestIndexer(t, store), nil).IngestDirectory(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Download.Requested)
	assert.Equal(t, 1, summary.Download.Downloaded)
	assert.Equal(t, 1, summary.Download.Failed)
	require.Len(t, summary.Download.Errors, 1)
	assert.ErrorIs(t, summary.Download.Errors[0], wiki.ErrMalformedArticle)
	assert.Equal(t, 1, summary.Index.Indexed)
}

func writeArticles(t *testing.T, docs ...rag.RawDocument) string {
	t.Helper()
	dir := t.TempDir()
	for _, d := range docs {
		_, err := wiki.SaveArticle(dir, d)
		require.NoError(t, err)
	}
	return dir
}

package rag

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id, docID, text string, vec ...float32) Record {
	return Record{
		Chunk:    Chunk{ID: id, DocumentID: docID, Text: text, Embedding: vec},
		Metadata: map[string]string{MetaDocumentID: docID, MetaTitle: "Title " + docID},
	}
}

func TestMemoryStore_SearchOrderingAndTopK(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Upsert(ctx, []Record{
		record("far", "d1", "far", 0, 1),
		record("near", "d1", "near", 1, 0),
		record("mid", "d2", "mid", 1, 1),
	}))

	chunks, err := store.Search(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "near", chunks[0].ChunkID)
	assert.Equal(t, "mid", chunks[1].ChunkID)
	assert.GreaterOrEqual(t, chunks[0].Score, chunks[1].Score)
	assert.Equal(t, "Title d1", chunks[0].Title)

	all, err := store.Search(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStore_SearchInvalidTopK(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Search(context.Background(), []float32{1}, 0, nil)
	assert.Error(t, err)
}

func TestMemoryStore_SearchEmpty(t *testing.T) {
	chunks, err := NewMemoryStore().Search(context.Background(), []float32{1, 2, 3}, 3, nil)
	require.NoError(t, err)
	assert.NotNil(t, chunks)
	assert.Empty(t, chunks)
}

func TestMemoryStore_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Upsert(ctx, []Record{record("c1", "d1", "old", 1, 0)}))
	require.NoError(t, store.Upsert(ctx, []Record{record("c1", "d1", "new", 0, 1)}))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok := store.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "new", got.Text)
	assert.Equal(t, []float32{0, 1}, got.Embedding)
}

func TestMemoryStore_TiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Upsert(ctx, []Record{record(fmt.Sprintf("c%d", i), "d", "same", 1, 1)}))
	}
	// Replacing c0 does not move it to the back.
	require.NoError(t, store.Upsert(ctx, []Record{record("c0", "d", "same again", 1, 1)}))

	chunks, err := store.Search(ctx, []float32{1, 1}, 5, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 5)
	for i, ch := range chunks {
		assert.Equal(t, fmt.Sprintf("c%d", i), ch.ChunkID)
	}
}

func TestMemoryStore_DimensionChecks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Upsert(ctx, []Record{record("c1", "d1", "a", 1, 0, 0)}))

	err := store.Upsert(ctx, []Record{record("c2", "d1", "b", 1, 0, 0), record("c3", "d1", "c", 1, 0)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// The rejected batch wrote nothing.
	_, ok := store.Get("c2")
	assert.False(t, ok)

	_, err = store.Search(ctx, []float32{1, 0}, 1, nil)
	assert.ErrorIs(t, err, ErrInvalidDimension)

	assert.ErrorIs(t, store.Upsert(ctx, []Record{record("", "d1", "x", 1, 0, 0)}), ErrMissingChunkID)
	assert.ErrorIs(t, store.Upsert(ctx, []Record{record("c9", "d1", "x")}), ErrInvalidDimension)
}

func TestMemoryStore_Filters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, []Record{
		record("a", "monaco", "a", 1, 0),
		record("b", "monza", "b", 1, 0.1),
		record("c", "spa", "c", 0, 1),
	}))

	chunks, err := store.Search(ctx, []float32{1, 0}, 5, &SearchOptions{DocumentIDs: []string{"monza", "spa"}, MinScore: -1})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "b", chunks[0].ChunkID)
	assert.Equal(t, "c", chunks[1].ChunkID)

	chunks, err = store.Search(ctx, []float32{1, 0}, 5, &SearchOptions{Metadata: map[string]string{MetaTitle: "Title monaco"}})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a", chunks[0].ChunkID)

	// MinScore drops orthogonal chunks.
	chunks, err = store.Search(ctx, []float32{1, 0}, 5, &SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestMemoryStore_DeleteClearClose(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, []Record{
		record("a", "d1", "a", 1, 0),
		record("b", "d2", "b", 0, 1),
	}))

	require.NoError(t, store.DeleteByDocument(ctx, []string{"d1"}))
	n, _ := store.Count(ctx)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Clear(ctx))
	n, _ = store.Count(ctx)
	assert.Zero(t, n)

	// Clear forgets the dimension.
	require.NoError(t, store.Upsert(ctx, []Record{record("x", "d3", "x", 1, 2, 3)}))

	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Upsert(ctx, []Record{record("y", "d3", "y", 1, 2, 3)}), ErrStoreClosed)
	_, err := store.Search(ctx, []float32{1, 2, 3}, 1, nil)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := record("a", "d1", "a", 1, 0)
	require.NoError(t, store.Upsert(ctx, []Record{rec}))

	rec.Embedding[0] = 42
	rec.Metadata[MetaTitle] = "mutated"

	got, _ := store.Get("a")
	assert.Equal(t, float32(1), got.Embedding[0])
	assert.Equal(t, "Title d1", got.Metadata[MetaTitle])
}

func TestMemoryStore_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = store.Upsert(ctx, []Record{record(fmt.Sprintf("w%d-%d", w, i), "d", "t", 1, float32(i))})
				_, _ = store.Search(ctx, []float32{1, 1}, 3, nil)
			}
		}(w)
	}
	wg.Wait()

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 400, n)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 0}))
}

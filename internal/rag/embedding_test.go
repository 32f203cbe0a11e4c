package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbeddingServer answers /embeddings with a vector of dim values per input.
// When reverse is set the data entries come back in reverse index order.
func fakeEmbeddingServer(t *testing.T, dim int, reverse bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			vec := make([]float64, dim)
			vec[0] = float64(i + 1)
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": vec}
		}
		if reverse {
			for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
				data[i], data[j] = data[j], data[i]
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestNewOpenAIEmbedder_MissingAPIKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(EmbedderConfig{Model: "sentence-transformers/all-MiniLM-L6-v2"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewEmbedder_SelectsHashing(t *testing.T) {
	e, err := NewEmbedder(EmbedderConfig{Model: "hashing-64"})
	require.NoError(t, err)
	assert.Equal(t, "hashing-64", e.GetModel())
	assert.Equal(t, 64, e.GetDimension())

	_, err = NewEmbedder(EmbedderConfig{Model: "hashing-abc"})
	assert.Error(t, err)
}

func TestOpenAIEmbedder_EmptyTexts(t *testing.T) {
	embedder, err := NewOpenAIEmbedder(EmbedderConfig{Model: "m", APIKey: "test-key", BaseURL: "http://127.0.0.1:1/"})
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), []string{})
	assert.ErrorIs(t, err, ErrEmptyTexts)
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	srv := fakeEmbeddingServer(t, 4, true)
	defer srv.Close()

	embedder, err := NewOpenAIEmbedder(EmbedderConfig{
		Model:     "sentence-transformers/all-MiniLM-L6-v2",
		Dimension: 4,
		BaseURL:   srv.URL + "/v1/",
		APIKey:    "test-key",
	})
	require.NoError(t, err)

	texts := []string{"Monaco", "Silverstone", "Spa"}
	records, err := embedder.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, records, len(texts))

	for i, rec := range records {
		assert.Equal(t, texts[i], rec.Text)
		assert.Equal(t, i, rec.Index)
		assert.Len(t, rec.Embedding, 4)
		// Records are placed by the index the server reported, not arrival order.
		assert.Equal(t, float32(i+1), rec.Embedding[0])
	}
}

func TestOpenAIEmbedder_DimensionMismatch(t *testing.T) {
	srv := fakeEmbeddingServer(t, 3, false)
	defer srv.Close()

	embedder, err := NewOpenAIEmbedder(EmbedderConfig{
		Model:     "m",
		Dimension: 8,
		BaseURL:   srv.URL + "/v1/",
		APIKey:    "test-key",
	})
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), []string{"hello"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestOpenAIEmbedder_Unauthorized(t *testing.T) {
	srv := fakeEmbeddingServer(t, 3, false)
	defer srv.Close()

	embedder, err := NewOpenAIEmbedder(EmbedderConfig{Model: "m", BaseURL: srv.URL + "/v1/", APIKey: "wrong"})
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), []string{"hello"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

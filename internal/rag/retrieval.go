package rag

import (
	"context"
	"fmt"
	"strings"
)

// Retriever provides high-level semantic retrieval over indexed chunks.
type Retriever struct {
	embedder    Embedder
	vectorStore VectorStore
}

// NewRetriever creates a new Retriever instance. embedder must be the one used
// at indexing time; mixing models invalidates the similarity scores.
func NewRetriever(embedder Embedder, vectorStore VectorStore) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if vectorStore == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}

	return &Retriever{
		embedder:    embedder,
		vectorStore: vectorStore,
	}, nil
}

// RetrieveContextForQuery performs semantic search using a free-text query.
func (r *Retriever) RetrieveContextForQuery(
	ctx context.Context,
	query string,
	topK int,
	opts *SearchOptions,
) ([]ContextChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	// An empty store has nothing to rank; skip the embedding call.
	count, err := r.vectorStore.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	if count == 0 {
		return []ContextChunk{}, nil
	}

	// Generate embedding for the query
	embeddingRecords, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embeddingRecords) == 0 {
		return nil, fmt.Errorf("no embedding generated for query")
	}

	queryVector := embeddingRecords[0].Embedding

	// Perform vector similarity search
	chunks, err := r.vectorStore.Search(ctx, queryVector, topK, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search for query: %w", err)
	}

	return chunks, nil
}

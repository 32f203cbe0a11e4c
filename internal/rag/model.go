package rag

import (
	"context"
	"time"
)

// Metadata keys written on every record by the Indexer.
const (
	MetaDocumentID     = "document_id"
	MetaTitle          = "title"
	MetaSourceURL      = "source_url"
	MetaIndexedAt      = "indexed_at"
	MetaEmbeddingModel = "embedding_model"
)

// RawDocument is a downloaded article before chunking. It is immutable once produced.
type RawDocument struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	SourceURL string    `json:"source_url"`
	Summary   string    `json:"summary,omitempty"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
}

// Chunk is a bounded passage of a document, the unit of retrieval.
// DocumentID is a back-reference, not ownership.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Position   int       `json:"position"`
}

// Record is the stored form of a chunk plus arbitrary metadata.
type Record struct {
	Chunk
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ContextChunk is one ranked retrieval hit.
type ContextChunk struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	Title      string            `json:"title,omitempty"`
	Text       string            `json:"text"`
	Position   int               `json:"position"`
	Score      float32           `json:"score"` // cosine similarity, higher is closer
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SearchOptions provides filtering options for vector search
type SearchOptions struct {
	DocumentIDs []string          `json:"document_ids,omitempty"` // Restrict to these documents
	Metadata    map[string]string `json:"metadata,omitempty"`     // Exact-match metadata filters
	MinScore    float32           `json:"min_score,omitempty"`    // Drop hits scoring at or below this
}

// VectorStore defines the interface for chunk storage and similarity search.
// Implementations must be safe for concurrent use.
type VectorStore interface {
	// Upsert writes records, replacing any existing record with the same chunk ID
	Upsert(ctx context.Context, records []Record) error

	// Search returns at most topK records ranked by descending similarity
	Search(ctx context.Context, queryVector []float32, topK int, opts *SearchOptions) ([]ContextChunk, error)

	// DeleteByDocument removes every chunk belonging to the given documents
	DeleteByDocument(ctx context.Context, documentIDs []string) error

	// Clear removes all records
	Clear(ctx context.Context) error

	// Count returns the number of stored records
	Count(ctx context.Context) (int, error)

	// Close releases resources and closes connections
	Close() error
}

// IndexOptions provides configuration for document indexing
type IndexOptions struct {
	// BatchSize determines how many chunks to embed at once
	BatchSize int

	// ForceReindex deletes a document's existing chunks before writing new ones
	ForceReindex bool
}

// DefaultIndexOptions returns sensible defaults for indexing
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{
		BatchSize:    32,
		ForceReindex: false,
	}
}

func toContextChunk(r Record, score float32) ContextChunk {
	return ContextChunk{
		ChunkID:    r.ID,
		DocumentID: r.DocumentID,
		Title:      r.Metadata[MetaTitle],
		Text:       r.Text,
		Position:   r.Position,
		Score:      score,
		Metadata:   copyMetadata(r.Metadata),
	}
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

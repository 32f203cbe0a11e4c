package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Common errors for store operations
var (
	ErrInvalidDimension  = errors.New("invalid vector dimension")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmptyRecords      = errors.New("no records provided for insertion")
	ErrMissingChunkID    = errors.New("record has no chunk ID")
	ErrStoreClosed       = errors.New("store is closed")
)

// Ensure MemoryStore implements the interface.
var _ VectorStore = (*MemoryStore)(nil)

type memoryEntry struct {
	record Record
	seq    uint64 // first-insertion order, used to break score ties
}

// MemoryStore is an in-memory VectorStore using exhaustive cosine similarity.
// The embedding dimension is fixed by the first record written and reset by Clear.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]*memoryEntry
	nextSeq   uint64
	dimension int
	closed    bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

// Upsert stores records, replacing existing ones with the same chunk ID. A replaced
// record keeps its original insertion position. The batch is validated before
// anything is written, so a rejected batch leaves the store untouched.
func (s *MemoryStore) Upsert(_ context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	dim := s.dimension
	for _, r := range records {
		if r.ID == "" {
			return ErrMissingChunkID
		}
		if len(r.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %s has no embedding", ErrInvalidDimension, r.ID)
		}
		if dim == 0 {
			dim = len(r.Embedding)
		}
		if len(r.Embedding) != dim {
			return fmt.Errorf("%w: chunk %s has %d, store has %d", ErrDimensionMismatch, r.ID, len(r.Embedding), dim)
		}
	}
	s.dimension = dim

	for _, r := range records {
		stored := Record{
			Chunk: Chunk{
				ID:         r.ID,
				DocumentID: r.DocumentID,
				Text:       r.Text,
				Embedding:  append([]float32(nil), r.Embedding...),
				Position:   r.Position,
			},
			Metadata: copyMetadata(r.Metadata),
		}
		if existing, ok := s.entries[r.ID]; ok {
			existing.record = stored
			continue
		}
		s.entries[r.ID] = &memoryEntry{record: stored, seq: s.nextSeq}
		s.nextSeq++
	}
	return nil
}

// Search ranks every record by cosine similarity to queryVector.
func (s *MemoryStore) Search(_ context.Context, queryVector []float32, topK int, opts *SearchOptions) ([]ContextChunk, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if len(s.entries) == 0 {
		return []ContextChunk{}, nil
	}
	if len(queryVector) != s.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, s.dimension, len(queryVector))
	}

	type hit struct {
		entry *memoryEntry
		score float32
	}
	hits := make([]hit, 0, len(s.entries))
	for _, e := range s.entries {
		if !matches(e.record, opts) {
			continue
		}
		score := CosineSimilarity(queryVector, e.record.Embedding)
		if opts != nil && score <= opts.MinScore {
			continue
		}
		hits = append(hits, hit{entry: e, score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].entry.seq < hits[j].entry.seq
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	chunks := make([]ContextChunk, len(hits))
	for i, h := range hits {
		chunks[i] = toContextChunk(h.entry.record, h.score)
	}
	return chunks, nil
}

// Get returns a copy of the record with the given chunk ID.
func (s *MemoryStore) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Record{}, false
	}
	r := e.record
	r.Embedding = append([]float32(nil), r.Embedding...)
	r.Metadata = copyMetadata(r.Metadata)
	return r, true
}

// DeleteByDocument removes every chunk belonging to the given documents.
func (s *MemoryStore) DeleteByDocument(_ context.Context, documentIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}
	ids := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		ids[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	for chunkID, e := range s.entries {
		if ids[e.record.DocumentID] {
			delete(s.entries, chunkID)
		}
	}
	return nil
}

// Clear removes all records and forgets the embedding dimension.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.entries = make(map[string]*memoryEntry)
	s.nextSeq = 0
	s.dimension = 0
	return nil
}

// Count returns the number of stored records.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Close drops all records; later calls fail with ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.closed = true
	return nil
}

func matches(r Record, opts *SearchOptions) bool {
	if opts == nil {
		return true
	}
	if len(opts.DocumentIDs) > 0 {
		found := false
		for _, id := range opts.DocumentIDs {
			if r.DocumentID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for k, v := range opts.Metadata {
		if r.Metadata[k] != v {
			return false
		}
	}
	return true
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector is zero or the lengths differ.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// EmbeddingError records a chunk that was skipped because its embedding failed.
type EmbeddingError struct {
	ChunkID    string
	DocumentID string
	Err        error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embed chunk %s of %s: %v", e.ChunkID, e.DocumentID, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// StoreWriteError records a failed upsert of one record.
type StoreWriteError struct {
	ChunkID string
	Err     error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("write chunk %s: %v", e.ChunkID, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// IndexSummary aggregates the outcome of an indexing run.
type IndexSummary struct {
	Documents         int     `json:"documents"`
	Chunks            int     `json:"chunks"`
	Indexed           int     `json:"indexed"`
	EmbeddingFailures int     `json:"embedding_failures"`
	WriteFailures     int     `json:"write_failures"`
	Errors            []error `json:"-"`
}

func (s *IndexSummary) add(o IndexSummary) {
	s.Documents += o.Documents
	s.Chunks += o.Chunks
	s.Indexed += o.Indexed
	s.EmbeddingFailures += o.EmbeddingFailures
	s.WriteFailures += o.WriteFailures
	s.Errors = append(s.Errors, o.Errors...)
}

// Indexer chunks documents, embeds the chunks and upserts them into a VectorStore.
type Indexer struct {
	embedder Embedder
	store    VectorStore
	chunker  *Chunker
	opts     IndexOptions
	logger   *zap.Logger
	now      func() time.Time
}

// NewIndexer creates an indexer. A nil chunker gets the default window sizes and a
// nil logger discards output.
func NewIndexer(embedder Embedder, store VectorStore, chunker *Chunker, opts IndexOptions, logger *zap.Logger) (*Indexer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultIndexOptions().BatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		embedder: embedder,
		store:    store,
		chunker:  chunker,
		opts:     opts,
		logger:   logger.Named("indexer"),
		now:      time.Now,
	}, nil
}

// IndexDocuments indexes every document. Per-chunk embedding failures and per-record
// write failures are logged, counted in the summary and skipped. Only context
// cancellation aborts the run.
func (ix *Indexer) IndexDocuments(ctx context.Context, docs []RawDocument) (IndexSummary, error) {
	var total IndexSummary
	for i := range docs {
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("indexing cancelled: %w", err)
		}
		total.add(ix.IndexDocument(ctx, docs[i]))
	}
	ix.logSummary(total)
	return total, nil
}

// IndexStream indexes documents as they arrive until docs is closed.
func (ix *Indexer) IndexStream(ctx context.Context, docs <-chan RawDocument) (IndexSummary, error) {
	var total IndexSummary
	for {
		select {
		case <-ctx.Done():
			return total, fmt.Errorf("indexing cancelled: %w", ctx.Err())
		case doc, ok := <-docs:
			if !ok {
				ix.logSummary(total)
				return total, nil
			}
			total.add(ix.IndexDocument(ctx, doc))
		}
	}
}

// IndexDocument chunks, embeds and stores a single document.
func (ix *Indexer) IndexDocument(ctx context.Context, doc RawDocument) IndexSummary {
	summary := IndexSummary{Documents: 1}

	chunks := ix.chunker.Split(doc)
	summary.Chunks = len(chunks)
	if len(chunks) == 0 {
		ix.logger.Warn("document produced no chunks", zap.String("document_id", doc.ID), zap.String("title", doc.Title))
		return summary
	}

	if ix.opts.ForceReindex {
		if err := ix.store.DeleteByDocument(ctx, []string{doc.ID}); err != nil {
			ix.logger.Error("failed to delete previous chunks", zap.String("document_id", doc.ID), zap.Error(err))
			summary.Errors = append(summary.Errors, &StoreWriteError{ChunkID: doc.ID, Err: err})
		}
	}

	indexedAt := ix.now().UTC().Format(time.RFC3339)

	// Process chunks in batches
	for batchStart := 0; batchStart < len(chunks); batchStart += ix.opts.BatchSize {
		batchEnd := batchStart + ix.opts.BatchSize
		if batchEnd > len(chunks) {
			batchEnd = len(chunks)
		}
		batch := chunks[batchStart:batchEnd]

		embedded, failures := ix.embedBatch(ctx, batch)
		for _, f := range failures {
			ix.logger.Warn("skipping chunk: embedding failed",
				zap.String("chunk_id", f.ChunkID), zap.String("document_id", f.DocumentID), zap.Error(f.Err))
			summary.EmbeddingFailures++
			summary.Errors = append(summary.Errors, f)
		}

		for _, chunk := range embedded {
			record := Record{
				Chunk: chunk,
				Metadata: map[string]string{
					MetaDocumentID:     doc.ID,
					MetaTitle:          doc.Title,
					MetaSourceURL:      doc.SourceURL,
					MetaIndexedAt:      indexedAt,
					MetaEmbeddingModel: ix.embedder.GetModel(),
				},
			}
			if err := ix.store.Upsert(ctx, []Record{record}); err != nil {
				werr := &StoreWriteError{ChunkID: chunk.ID, Err: err}
				ix.logger.Error("failed to write chunk", zap.String("chunk_id", chunk.ID), zap.Error(err))
				summary.WriteFailures++
				summary.Errors = append(summary.Errors, werr)
				continue
			}
			summary.Indexed++
		}
	}

	ix.logger.Debug("indexed document",
		zap.String("document_id", doc.ID),
		zap.String("title", doc.Title),
		zap.Int("chunks", summary.Chunks),
		zap.Int("indexed", summary.Indexed))
	return summary
}

// embedBatch embeds a batch in one call. When the call fails, each chunk is retried
// on its own so that a single bad chunk does not sink its neighbours.
func (ix *Indexer) embedBatch(ctx context.Context, batch []Chunk) ([]Chunk, []*EmbeddingError) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	records, err := ix.embedder.Embed(ctx, texts)
	if err == nil && len(records) == len(batch) {
		out := make([]Chunk, len(batch))
		for i, c := range batch {
			c.Embedding = records[i].Embedding
			out[i] = c
		}
		return out, nil
	}
	if err == nil {
		err = fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingFailed, len(batch), len(records))
	}
	if len(batch) == 1 || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		failures := make([]*EmbeddingError, len(batch))
		for i, c := range batch {
			failures[i] = &EmbeddingError{ChunkID: c.ID, DocumentID: c.DocumentID, Err: err}
		}
		return nil, failures
	}

	ix.logger.Debug("batch embedding failed, retrying chunks individually", zap.Int("batch_size", len(batch)), zap.Error(err))
	var (
		out      []Chunk
		failures []*EmbeddingError
	)
	for _, c := range batch {
		one, fs := ix.embedBatch(ctx, []Chunk{c})
		out = append(out, one...)
		failures = append(failures, fs...)
	}
	return out, failures
}

func (ix *Indexer) logSummary(s IndexSummary) {
	ix.logger.Info("indexing finished",
		zap.Int("documents", s.Documents),
		zap.Int("chunks", s.Chunks),
		zap.Int("indexed", s.Indexed),
		zap.Int("embedding_failures", s.EmbeddingFailures),
		zap.Int("write_failures", s.WriteFailures))
}

package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Common errors for Milvus operations
var (
	ErrConnectionFailed = errors.New("failed to connect to Milvus")
	ErrInsertFailed     = errors.New("failed to upsert records")
	ErrSearchFailed     = errors.New("failed to search vectors")
)

// Ensure MilvusStore implements the interface.
var _ VectorStore = (*MilvusStore)(nil)

// MilvusConfig holds configuration for Milvus connection and collection
type MilvusConfig struct {
	Address        string // Milvus server address (e.g., "localhost:19530")
	CollectionName string // Name of the collection
	Dimension      int    // Vector dimension (e.g., 384 for all-MiniLM-L6-v2)
	IndexType      string // Index type (default: "HNSW")
	MetricType     string // Similarity metric (default: "COSINE")

	// HNSW index parameters
	M              int // HNSW M parameter (default: 16)
	EfConstruction int // HNSW efConstruction (default: 256)
	Ef             int // HNSW search ef (default: 64)
}

// DefaultMilvusConfig returns the default Milvus configuration
func DefaultMilvusConfig() MilvusConfig {
	return MilvusConfig{
		Address:        "localhost:19530",
		CollectionName: "f1rag_chunks",
		Dimension:      384,
		IndexType:      "HNSW",
		MetricType:     "COSINE",
		M:              16,
		EfConstruction: 256,
		Ef:             64,
	}
}

const (
	milvusFieldChunkID    = "chunk_id"
	milvusFieldDocumentID = "document_id"
	milvusFieldTitle      = "title"
	milvusFieldText       = "text"
	milvusFieldPosition   = "position"
	milvusFieldSeq        = "seq"
	milvusFieldMetadata   = "metadata"
	milvusFieldEmbedding  = "embedding"
)

var milvusOutputFields = []string{
	milvusFieldChunkID, milvusFieldDocumentID, milvusFieldTitle, milvusFieldText,
	milvusFieldPosition, milvusFieldSeq, milvusFieldMetadata,
}

// MilvusStore implements VectorStore using Milvus. Chunk IDs are the primary key,
// so Upsert replaces records natively.
type MilvusStore struct {
	client client.Client
	config MilvusConfig
	seq    atomic.Int64
}

// NewMilvusStore creates a new Milvus vector store instance
// Connects to Milvus and ensures the collection exists with proper schema
func NewMilvusStore(ctx context.Context, config MilvusConfig) (*MilvusStore, error) {
	// Validate configuration
	if config.Dimension <= 0 {
		return nil, ErrInvalidDimension
	}
	if config.Ef <= 0 {
		config.Ef = 64
	}

	// Connect to Milvus
	c, err := client.NewClient(ctx, client.Config{Address: config.Address})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &MilvusStore{
		client: c,
		config: config,
	}
	store.seq.Store(time.Now().UnixNano())

	// Create collection if it doesn't exist
	if err := store.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}

	return store, nil
}

func (m *MilvusStore) schema() *entity.Schema {
	return &entity.Schema{
		CollectionName: m.config.CollectionName,
		Description:    "f1rag document chunks",
		AutoID:         false,
		Fields: []*entity.Field{
			{
				Name:       milvusFieldChunkID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       milvusFieldDocumentID,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       milvusFieldTitle,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:       milvusFieldText,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "65535"},
			},
			{
				Name:     milvusFieldPosition,
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     milvusFieldSeq,
				DataType: entity.FieldTypeInt64, // write order, breaks score ties
			},
			{
				Name:       milvusFieldMetadata,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "8192"}, // JSON object
			},
			{
				Name:       milvusFieldEmbedding,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(m.config.Dimension)},
			},
		},
	}
}

// ensureCollection creates the collection with schema if it doesn't exist
func (m *MilvusStore) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.config.CollectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !has {
		if err := m.client.CreateCollection(ctx, m.schema(), entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexHNSW(entity.COSINE, m.config.M, m.config.EfConstruction)
		if err != nil {
			return fmt.Errorf("failed to create index config: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.config.CollectionName, milvusFieldEmbedding, idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	// Load collection into memory
	if err := m.client.LoadCollection(ctx, m.config.CollectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	return nil
}

// Upsert writes records keyed by chunk ID and flushes them.
func (m *MilvusStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	n := len(records)
	chunkIDs := make([]string, n)
	documentIDs := make([]string, n)
	titles := make([]string, n)
	texts := make([]string, n)
	positions := make([]int64, n)
	seqs := make([]int64, n)
	metadata := make([]string, n)
	embeddings := make([][]float32, n)

	for i, r := range records {
		if r.ID == "" {
			return ErrMissingChunkID
		}
		if len(r.Embedding) != m.config.Dimension {
			return fmt.Errorf("%w: chunk %s has %d, collection has %d",
				ErrDimensionMismatch, r.ID, len(r.Embedding), m.config.Dimension)
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("%w: encode metadata for %s: %v", ErrInsertFailed, r.ID, err)
		}

		chunkIDs[i] = r.ID
		documentIDs[i] = r.DocumentID
		titles[i] = truncateRunes(r.Metadata[MetaTitle], 512)
		texts[i] = r.Text
		positions[i] = int64(r.Position)
		seqs[i] = m.seq.Add(1)
		metadata[i] = string(meta)
		embeddings[i] = r.Embedding
	}

	columns := []entity.Column{
		entity.NewColumnVarChar(milvusFieldChunkID, chunkIDs),
		entity.NewColumnVarChar(milvusFieldDocumentID, documentIDs),
		entity.NewColumnVarChar(milvusFieldTitle, titles),
		entity.NewColumnVarChar(milvusFieldText, texts),
		entity.NewColumnInt64(milvusFieldPosition, positions),
		entity.NewColumnInt64(milvusFieldSeq, seqs),
		entity.NewColumnVarChar(milvusFieldMetadata, metadata),
		entity.NewColumnFloatVector(milvusFieldEmbedding, m.config.Dimension, embeddings),
	}

	if _, err := m.client.Upsert(ctx, m.config.CollectionName, "", columns...); err != nil {
		return fmt.Errorf("%w: %v", ErrInsertFailed, err)
	}

	// Flush to ensure data is persisted
	if err := m.client.Flush(ctx, m.config.CollectionName, false); err != nil {
		return fmt.Errorf("failed to flush data: %w", err)
	}

	return nil
}

// Search performs top-K similarity search with optional filtering. Document ID and
// title filters run inside Milvus; other metadata filters and MinScore are applied
// to an over-fetched candidate set.
func (m *MilvusStore) Search(ctx context.Context, queryVector []float32, topK int, opts *SearchOptions) ([]ContextChunk, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if len(queryVector) != m.config.Dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, m.config.Dimension, len(queryVector))
	}

	expr, clientSide := buildMilvusFilter(opts)
	limit := topK
	if len(clientSide) > 0 {
		limit = topK * 4
	}

	sp, err := entity.NewIndexHNSWSearchParam(max(m.config.Ef, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to create search params: %w", err)
	}

	vectors := []entity.Vector{entity.FloatVector(queryVector)}
	results, err := m.client.Search(
		ctx,
		m.config.CollectionName,
		nil, // partition names
		expr,
		milvusOutputFields,
		vectors,
		milvusFieldEmbedding,
		entity.COSINE,
		limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	if len(results) == 0 {
		return []ContextChunk{}, nil
	}

	type hit struct {
		chunk ContextChunk
		seq   int64
	}
	hits := make([]hit, 0, results[0].ResultCount)

	for i := 0; i < results[0].ResultCount; i++ {
		chunk := ContextChunk{Score: results[0].Scores[i]}
		var seq int64

		for _, field := range results[0].Fields {
			switch field.Name() {
			case milvusFieldChunkID:
				chunk.ChunkID, _ = field.GetAsString(i)
			case milvusFieldDocumentID:
				chunk.DocumentID, _ = field.GetAsString(i)
			case milvusFieldTitle:
				chunk.Title, _ = field.GetAsString(i)
			case milvusFieldText:
				chunk.Text, _ = field.GetAsString(i)
			case milvusFieldPosition:
				pos, _ := field.GetAsInt64(i)
				chunk.Position = int(pos)
			case milvusFieldSeq:
				seq, _ = field.GetAsInt64(i)
			case milvusFieldMetadata:
				raw, _ := field.GetAsString(i)
				if raw != "" && raw != "null" {
					_ = json.Unmarshal([]byte(raw), &chunk.Metadata)
				}
			}
		}

		if opts != nil && chunk.Score <= opts.MinScore {
			continue
		}
		if !metadataMatches(chunk.Metadata, clientSide) {
			continue
		}
		hits = append(hits, hit{chunk: chunk, seq: seq})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].chunk.Score != hits[j].chunk.Score {
			return hits[i].chunk.Score > hits[j].chunk.Score
		}
		return hits[i].seq < hits[j].seq
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	chunks := make([]ContextChunk, len(hits))
	for i, h := range hits {
		chunks[i] = h.chunk
	}
	return chunks, nil
}

// DeleteByDocument removes records by document IDs
func (m *MilvusStore) DeleteByDocument(ctx context.Context, documentIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}

	expr := fmt.Sprintf("%s in %s", milvusFieldDocumentID, quoteList(documentIDs))
	if err := m.client.Delete(ctx, m.config.CollectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	return nil
}

// Clear drops and recreates the collection.
func (m *MilvusStore) Clear(ctx context.Context) error {
	if err := m.client.DropCollection(ctx, m.config.CollectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return m.ensureCollection(ctx)
}

// Count returns the collection row count
func (m *MilvusStore) Count(ctx context.Context) (int, error) {
	stats, err := m.client.GetCollectionStatistics(ctx, m.config.CollectionName)
	if err != nil {
		return 0, fmt.Errorf("failed to get stats: %w", err)
	}
	n, err := strconv.Atoi(stats["row_count"])
	if err != nil {
		return 0, fmt.Errorf("invalid row_count %q: %w", stats["row_count"], err)
	}
	return n, nil
}

// Close releases resources and closes the Milvus connection
func (m *MilvusStore) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// buildMilvusFilter turns SearchOptions into a boolean expression for the fields
// Milvus stores natively, returning the metadata filters it could not express.
func buildMilvusFilter(opts *SearchOptions) (string, map[string]string) {
	if opts == nil {
		return "", nil
	}

	var clauses []string
	if len(opts.DocumentIDs) > 0 {
		clauses = append(clauses, fmt.Sprintf("%s in %s", milvusFieldDocumentID, quoteList(opts.DocumentIDs)))
	}

	var rest map[string]string
	for k, v := range opts.Metadata {
		switch k {
		case MetaTitle:
			clauses = append(clauses, fmt.Sprintf("%s == %s", milvusFieldTitle, strconv.Quote(v)))
		case MetaDocumentID:
			clauses = append(clauses, fmt.Sprintf("%s == %s", milvusFieldDocumentID, strconv.Quote(v)))
		default:
			if rest == nil {
				rest = make(map[string]string)
			}
			rest[k] = v
		}
	}
	sort.Strings(clauses)
	return strings.Join(clauses, " and "), rest
}

func metadataMatches(meta, filters map[string]string) bool {
	for k, v := range filters {
		if meta[k] != v {
			return false
		}
	}
	return true
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

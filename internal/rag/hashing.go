package rag

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// DefaultHashingDimension is the vector size of the "hashing" model.
const DefaultHashingDimension = 512

// HashingEmbedder is a local, deterministic bag-of-words embedder. Each lower-cased
// token is hashed into one of dimension buckets with a signed weight, and the
// resulting vector is L2-normalised. It needs no network access, which makes it
// useful offline and in tests; semantic quality is limited to lexical overlap.
type HashingEmbedder struct {
	dimension int
	model     string
}

// NewHashingEmbedder creates a hashing embedder with the given dimension.
func NewHashingEmbedder(dimension int) *HashingEmbedder {
	if dimension <= 0 {
		dimension = DefaultHashingDimension
	}
	model := "hashing"
	if dimension != DefaultHashingDimension {
		model = fmt.Sprintf("hashing-%d", dimension)
	}
	return &HashingEmbedder{dimension: dimension, model: model}
}

// NewHashingEmbedderForModel parses "hashing" or "hashing-<dim>".
func NewHashingEmbedderForModel(model string) (*HashingEmbedder, error) {
	if model == "hashing" {
		return NewHashingEmbedder(DefaultHashingDimension), nil
	}
	dim, err := strconv.Atoi(strings.TrimPrefix(model, "hashing-"))
	if err != nil || dim <= 0 {
		return nil, fmt.Errorf("%w: invalid hashing model %q", ErrEmbeddingFailed, model)
	}
	return NewHashingEmbedder(dim), nil
}

// GetModel returns the embedding model identifier
func (h *HashingEmbedder) GetModel() string { return h.model }

// GetDimension returns the embedding vector dimension
func (h *HashingEmbedder) GetDimension() int { return h.dimension }

// Embed hashes each text into a normalised vector.
func (h *HashingEmbedder) Embed(ctx context.Context, texts []string) ([]EmbeddingRecord, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyTexts
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	records := make([]EmbeddingRecord, len(texts))
	for i, text := range texts {
		records[i] = EmbeddingRecord{
			Text:      text,
			Embedding: h.vector(text),
			Index:     i,
			Model:     h.model,
		}
	}
	return records, nil
}

func (h *HashingEmbedder) vector(text string) []float32 {
	vec := make([]float32, h.dimension)
	for _, tok := range Tokenize(text) {
		if stopwords[tok] {
			continue
		}
		hasher := fnv.New64a()
		_, _ = hasher.Write([]byte(tok))
		sum := hasher.Sum64()
		bucket := int(sum % uint64(h.dimension))
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// Tokenize lower-cases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "did": true, "do": true, "does": true, "for": true, "from": true, "how": true,
	"in": true, "is": true, "it": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "whom": true, "why": true,
	"with": true,
}

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Yates-Labs/f1rag/internal/generation"
	"github.com/Yates-Labs/f1rag/internal/rag"
)

// NoContextAnswer is returned, without calling the model, when nothing relevant
// was retrieved.
const NoContextAnswer = "I could not find any relevant information in the indexed articles to answer that question."

// RAGConfig holds configuration for the question answering pipeline.
type RAGConfig struct {
	// TopK is the number of chunks to retrieve as context
	TopK int

	// MinScore drops retrieved chunks scoring at or below it
	MinScore float32

	// MaxContextChars caps the total chunk text put into the prompt (0 = no cap).
	// The best chunk is always kept.
	MaxContextChars int

	// GenerationTimeout bounds the model call (0 = caller's deadline only)
	GenerationTimeout time.Duration
}

// DefaultRAGConfig returns sensible defaults for the RAG pipeline.
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{
		TopK:              3,
		MinScore:          0,
		MaxContextChars:   6000,
		GenerationTimeout: 60 * time.Second,
	}
}

// Retriever finds context chunks for a question.
type Retriever interface {
	RetrieveContextForQuery(ctx context.Context, query string, topK int, opts *rag.SearchOptions) ([]rag.ContextChunk, error)
}

// Answer is the result of one question.
type Answer struct {
	ID          uuid.UUID          `json:"id"`
	Question    string             `json:"question"`
	Text        string             `json:"answer"`
	Sources     []string           `json:"sources"`
	Context     []rag.ContextChunk `json:"-"`
	Model       string             `json:"model,omitempty"`
	NoContext   bool               `json:"no_context"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// RAGPipeline orchestrates retrieval, prompt assembly and generation.
// It holds no per-question state and is safe for concurrent use.
type RAGPipeline struct {
	config    RAGConfig
	retriever Retriever
	generator generation.Generator
	logger    *zap.Logger
	now       func() time.Time
}

// NewRAGPipeline creates a new RAG pipeline with the given collaborators.
func NewRAGPipeline(retriever Retriever, generator generation.Generator, config RAGConfig, logger *zap.Logger) (*RAGPipeline, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever cannot be nil")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator cannot be nil")
	}
	if config.TopK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", config.TopK)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RAGPipeline{
		config:    config,
		retriever: retriever,
		generator: generator,
		logger:    logger.Named("rag"),
		now:       time.Now,
	}, nil
}

// Ask answers question from the indexed articles.
// The pipeline: retrieval -> prompt assembly -> LLM generation -> Answer.
// Failures are *QueryError values; an empty retrieval is an Answer with NoContext set.
func (p *RAGPipeline) Ask(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, &QueryError{Kind: KindInvalidQuestion, Err: ErrEmptyQuestion}
	}

	answer := &Answer{ID: uuid.New(), Question: question, Sources: []string{}}
	logger := p.logger.With(zap.String("query_id", answer.ID.String()))

	// Stage 1: Retrieval
	logger.Debug("retrieving context", zap.String("question", question), zap.Int("top_k", p.config.TopK))
	chunks, err := p.retriever.RetrieveContextForQuery(ctx, question, p.config.TopK, &rag.SearchOptions{MinScore: p.config.MinScore})
	if err != nil {
		logger.Error("retrieval failed", zap.Error(err))
		return nil, &QueryError{Kind: KindRetrieval, Err: err}
	}
	if len(chunks) == 0 {
		logger.Info("no relevant context, skipping generation")
		answer.Text = NoContextAnswer
		answer.NoContext = true
		answer.GeneratedAt = p.now()
		return answer, nil
	}

	chunks = trimContext(chunks, p.config.MaxContextChars)
	logger.Debug("retrieved context", zap.Int("chunks", len(chunks)), zap.Float32("best_score", chunks[0].Score))

	// Stage 2: Prompt Assembly
	prompt, err := generation.AssemblePrompt(question, chunks)
	if err != nil {
		return nil, &QueryError{Kind: KindInvalidQuestion, Err: err}
	}

	// Stage 3: LLM Generation
	genCtx := ctx
	if p.config.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, p.config.GenerationTimeout)
		defer cancel()
	}
	start := p.now()
	text, err := p.generator.Generate(genCtx, prompt)
	if err != nil {
		logger.Error("generation failed", zap.Error(err), zap.String("model", p.generator.Model()))
		return nil, &QueryError{Kind: KindGeneration, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &QueryError{Kind: KindGeneration, Err: ErrEmptyAnswer}
	}
	logger.Debug("generated answer", zap.Int("chars", len(text)), zap.Duration("took", p.now().Sub(start)))

	answer.Text = text
	answer.Context = chunks
	answer.Model = p.generator.Model()
	answer.GeneratedAt = p.now()
	for _, ch := range chunks {
		answer.Sources = append(answer.Sources, ch.ChunkID)
	}
	return answer, nil
}

// trimContext keeps ranked chunks while their combined text fits in maxChars runes.
// The first chunk is always kept.
func trimContext(chunks []rag.ContextChunk, maxChars int) []rag.ContextChunk {
	if maxChars <= 0 || len(chunks) <= 1 {
		return chunks
	}
	total := utf8.RuneCountInString(chunks[0].Text)
	for i := 1; i < len(chunks); i++ {
		total += utf8.RuneCountInString(chunks[i].Text)
		if total > maxChars {
			return chunks[:i]
		}
	}
	return chunks
}

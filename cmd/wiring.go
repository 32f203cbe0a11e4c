package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Yates-Labs/f1rag/internal/config"
	"github.com/Yates-Labs/f1rag/internal/generation"
	"github.com/Yates-Labs/f1rag/internal/orchestrator"
	"github.com/Yates-Labs/f1rag/internal/rag"
	"github.com/Yates-Labs/f1rag/internal/wiki"
)

// components are the collaborators shared by the ingest, ask and serve commands.
type components struct {
	cfg      *config.Config
	logger   *zap.Logger
	embedder rag.Embedder
	store    rag.VectorStore
	indexer  *rag.Indexer
}

func newComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, reindex bool) (*components, error) {
	if err := cfg.RequireEmbedder(); err != nil {
		return nil, err
	}
	embedder, err := rag.NewEmbedder(rag.EmbedderConfig{
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		BaseURL:   cfg.Embedding.Endpoint,
		APIKey:    cfg.Embedding.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	store, err := newStore(ctx, cfg, embedder.GetDimension())
	if err != nil {
		return nil, err
	}

	opts := rag.DefaultIndexOptions()
	opts.BatchSize = cfg.Embedding.BatchSize
	opts.ForceReindex = reindex
	chunker := rag.NewChunker(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)
	indexer, err := rag.NewIndexer(embedder, store, chunker, opts, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &components{cfg: cfg, logger: logger, embedder: embedder, store: store, indexer: indexer}, nil
}

func newStore(ctx context.Context, cfg *config.Config, dimension int) (rag.VectorStore, error) {
	switch cfg.Store.Backend {
	case "milvus":
		mc := rag.DefaultMilvusConfig()
		mc.Address = cfg.Store.MilvusAddress
		mc.CollectionName = cfg.Store.MilvusCollection
		mc.Dimension = dimension
		store, err := rag.NewMilvusStore(ctx, mc)
		if err != nil {
			return nil, fmt.Errorf("open milvus store: %w", err)
		}
		return store, nil
	default:
		return rag.NewMemoryStore(), nil
	}
}

func (c *components) Close() error { return c.store.Close() }

func (c *components) newDownloader() *wiki.Downloader {
	client := wiki.NewClient(wiki.ClientConfig{
		APIURL:            c.cfg.Wiki.WikiAPIURL(),
		Language:          c.cfg.Wiki.Language,
		UserAgent:         c.cfg.Wiki.UserAgent,
		RequestsPerSecond: c.cfg.Wiki.RequestsPerSecond,
		MaxArticles:       c.cfg.Wiki.MaxArticles,
	})
	return wiki.NewDownloader(client, c.cfg.Wiki.Workers, c.logger)
}

func (c *components) newIngestor(withDownloader bool) *orchestrator.Ingestor {
	var dl orchestrator.CategoryDownloader
	if withDownloader {
		dl = c.newDownloader()
	}
	return orchestrator.NewIngestor(dl, c.indexer, c.logger)
}

// ensureIndex loads the article files in dir into the store. A persistent store
// that already holds chunks is reused unless reindex is set.
func (c *components) ensureIndex(ctx context.Context, dir string, reindex bool) (orchestrator.IngestSummary, bool, error) {
	if c.cfg.Store.Backend != "memory" && !reindex {
		n, err := c.store.Count(ctx)
		if err != nil {
			return orchestrator.IngestSummary{}, false, fmt.Errorf("count indexed chunks: %w", err)
		}
		if n > 0 {
			c.logger.Info("reusing existing index", zap.Int("chunks", n))
			return orchestrator.IngestSummary{}, false, nil
		}
	}
	summary, err := c.newIngestor(false).IngestDirectory(ctx, dir)
	return summary, true, err
}

func (c *components) newPipeline() (*orchestrator.RAGPipeline, error) {
	if err := c.cfg.RequireLLM(); err != nil {
		return nil, err
	}
	llm, err := generation.NewOpenAIGenerator(generation.Config{
		Endpoint:    c.cfg.LLM.Endpoint,
		APIKey:      c.cfg.LLM.APIKey,
		Model:       c.cfg.LLM.Model,
		Temperature: c.cfg.LLM.Temperature,
		MaxTokens:   c.cfg.LLM.MaxTokens,
		Timeout:     c.cfg.LLM.Timeout.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("create generator: %w", err)
	}
	return c.newPipelineWith(generation.NewBreakerGenerator(llm, generation.DefaultBreakerConfig(), c.logger))
}

func (c *components) newPipelineWith(gen generation.Generator) (*orchestrator.RAGPipeline, error) {
	retriever, err := rag.NewRetriever(c.embedder, c.store)
	if err != nil {
		return nil, err
	}
	return orchestrator.NewRAGPipeline(retriever, gen, orchestrator.RAGConfig{
		TopK:              c.cfg.Retrieval.TopK,
		MinScore:          float32(c.cfg.Retrieval.MinScore),
		MaxContextChars:   c.cfg.Retrieval.MaxContextChars,
		GenerationTimeout: c.cfg.LLM.Timeout.Std(),
	}, c.logger)
}

// indexFailureHint explains an empty index in terms of what the user can do.
func indexFailureHint(err error, dir string) error {
	if errors.Is(err, orchestrator.ErrNothingIndexed) {
		return fmt.Errorf("%w from %s; run `f1rag download` or `f1rag ingest` first", err, dir)
	}
	return err
}

func elapsed(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}

package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Yates-Labs/f1rag/internal/rag"
	"github.com/Yates-Labs/f1rag/internal/wiki"
)

// CategoryDownloader streams the articles of a Wikipedia category.
type CategoryDownloader interface {
	DownloadCategory(ctx context.Context, category string, maxDepth int) (<-chan wiki.Result, int, error)
}

// DocumentIndexer indexes documents into the store.
type DocumentIndexer interface {
	IndexDocuments(ctx context.Context, docs []rag.RawDocument) (rag.IndexSummary, error)
	IndexStream(ctx context.Context, docs <-chan rag.RawDocument) (rag.IndexSummary, error)
}

// IngestSummary combines the download and indexing outcomes of one run.
type IngestSummary struct {
	Download wiki.Summary     `json:"download"`
	Saved    int              `json:"saved"`
	Index    rag.IndexSummary `json:"index"`
}

// Ingestor fills the store from Wikipedia or from saved article files.
type Ingestor struct {
	downloader CategoryDownloader
	indexer    DocumentIndexer
	logger     *zap.Logger
}

// NewIngestor creates an ingestor. downloader may be nil when only IngestDirectory is used.
func NewIngestor(downloader CategoryDownloader, indexer DocumentIndexer, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{downloader: downloader, indexer: indexer, logger: logger.Named("ingest")}
}

// IngestCategory downloads a category and indexes articles as they arrive. When
// saveDir is set each article is also written there. Download failures are
// counted, not fatal; ErrNothingIndexed is returned when no chunk was stored.
func (in *Ingestor) IngestCategory(ctx context.Context, category string, maxDepth int, saveDir string) (IngestSummary, error) {
	var summary IngestSummary
	if in.downloader == nil {
		return summary, fmt.Errorf("no downloader configured")
	}

	g, gctx := errgroup.WithContext(ctx)

	results, requested, err := in.downloader.DownloadCategory(gctx, category, maxDepth)
	if err != nil {
		return summary, fmt.Errorf("list category %s: %w", category, err)
	}

	docs := make(chan rag.RawDocument)

	g.Go(func() error {
		defer close(docs)
		for res := range results {
			summary.Download.Add(res)
			if res.Err != nil {
				in.logger.Warn("article skipped", zap.String("title", res.Title), zap.Error(res.Err))
				continue
			}
			if saveDir != "" {
				if _, err := wiki.SaveArticle(saveDir, *res.Document); err != nil {
					in.logger.Error("failed to save article", zap.String("title", res.Title), zap.Error(err))
				} else {
					summary.Saved++
				}
			}
			select {
			case docs <- *res.Document:
			case <-gctx.Done():
				// The downloader stops on gctx; drain what it already produced.
				for range results {
				}
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		s, err := in.indexer.IndexStream(gctx, docs)
		summary.Index = s
		return err
	})

	if err := g.Wait(); err != nil {
		return summary, err
	}
	summary.Download.Requested = requested

	in.logger.Info("ingest finished",
		zap.String("category", category),
		zap.Int("requested", summary.Download.Requested),
		zap.Int("downloaded", summary.Download.Downloaded),
		zap.Int("skipped", summary.Download.Skipped),
		zap.Int("failed", summary.Download.Failed),
		zap.Int("indexed_chunks", summary.Index.Indexed))

	if summary.Index.Indexed == 0 {
		return summary, ErrNothingIndexed
	}
	return summary, nil
}

// IngestDirectory indexes previously saved article files. Unparseable files are
// counted as failed; a missing or empty dir yields ErrNothingIndexed.
func (in *Ingestor) IngestDirectory(ctx context.Context, dir string) (IngestSummary, error) {
	var summary IngestSummary

	docs, skipped, err := wiki.LoadArticles(dir)
	if err != nil {
		return summary, err
	}
	for _, ferr := range skipped {
		in.logger.Warn("skipping article file", zap.Error(ferr))
	}
	summary.Download = wiki.Summary{
		Requested:  len(docs) + len(skipped),
		Downloaded: len(docs),
		Failed:     len(skipped),
		Errors:     skipped,
	}

	return in.ingestDocuments(ctx, docs, summary)
}

// IngestDocuments indexes documents already in memory.
func (in *Ingestor) IngestDocuments(ctx context.Context, docs []rag.RawDocument) (IngestSummary, error) {
	return in.ingestDocuments(ctx, docs, IngestSummary{})
}

func (in *Ingestor) ingestDocuments(ctx context.Context, docs []rag.RawDocument, summary IngestSummary) (IngestSummary, error) {
	s, err := in.indexer.IndexDocuments(ctx, docs)
	summary.Index = s
	if err != nil {
		return summary, err
	}
	if s.Indexed == 0 {
		return summary, ErrNothingIndexed
	}
	return summary, nil
}

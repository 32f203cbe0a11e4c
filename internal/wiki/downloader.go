package wiki

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Yates-Labs/f1rag/internal/rag"
)

// FetchError records an article that could not be downloaded.
type FetchError struct {
	Title string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q: %v", e.Title, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Skippable reports whether the article was rejected by content rather than by a
// transport or API failure.
func (e *FetchError) Skippable() bool {
	return errors.Is(e.Err, ErrRedirect) || errors.Is(e.Err, ErrDisambiguation) || errors.Is(e.Err, ErrPageNotFound)
}

// Result is one element of a download stream: a document or a *FetchError.
type Result struct {
	Title    string
	Document *rag.RawDocument
	Err      error
}

// Source is the part of Client the Downloader depends on.
type Source interface {
	CategoryMembers(ctx context.Context, category string, maxDepth int) ([]string, error)
	FetchArticle(ctx context.Context, title string) (*rag.RawDocument, error)
}

// Downloader fetches articles concurrently with a bounded number of workers.
type Downloader struct {
	source  Source
	workers int
	logger  *zap.Logger
}

// NewDownloader creates a downloader. workers < 1 means one worker.
func NewDownloader(source Source, workers int, logger *zap.Logger) *Downloader {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{source: source, workers: workers, logger: logger.Named("downloader")}
}

// Download streams one Result per title. Results arrive in completion order. The
// channel is closed once every title has been processed or ctx is done.
func (d *Downloader) Download(ctx context.Context, titles []string) <-chan Result {
	out := make(chan Result)

	go func() {
		defer close(out)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.workers)

		for _, title := range titles {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				res := Result{Title: title}
				doc, err := d.source.FetchArticle(gctx, title)
				if err != nil {
					res.Err = &FetchError{Title: title, Err: err}
					d.logger.Debug("fetch failed", zap.String("title", title), zap.Error(err))
				} else {
					res.Document = doc
					d.logger.Debug("fetched article", zap.String("title", title), zap.String("id", doc.ID))
				}

				select {
				case out <- res:
				case <-gctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	return out
}

// DownloadCategory lists the articles of category down to maxDepth and downloads
// them. It returns the number of titles found alongside the stream.
func (d *Downloader) DownloadCategory(ctx context.Context, category string, maxDepth int) (<-chan Result, int, error) {
	titles, err := d.source.CategoryMembers(ctx, category, maxDepth)
	if err != nil {
		return nil, 0, err
	}
	d.logger.Info("category listed", zap.String("category", category), zap.Int("depth", maxDepth), zap.Int("articles", len(titles)))
	return d.Download(ctx, titles), len(titles), nil
}

// Summary aggregates the outcome of a download run.
type Summary struct {
	Requested  int     `json:"requested"`
	Downloaded int     `json:"downloaded"`
	Skipped    int     `json:"skipped"`
	Failed     int     `json:"failed"`
	Errors     []error `json:"-"`
}

// Add counts one result. Redirects, disambiguation pages and missing pages
// count as skipped, anything else as failed.
func (s *Summary) Add(res Result) {
	s.Requested++
	if res.Err == nil {
		s.Downloaded++
		return
	}
	var fe *FetchError
	if errors.As(res.Err, &fe) && fe.Skippable() {
		s.Skipped++
		return
	}
	s.Failed++
	s.Errors = append(s.Errors, res.Err)
}

// Collect drains results into documents and a summary.
func Collect(results <-chan Result) ([]rag.RawDocument, Summary) {
	var (
		docs    []rag.RawDocument
		summary Summary
	)
	for res := range results {
		summary.Add(res)
		if res.Err == nil {
			docs = append(docs, *res.Document)
		}
	}
	return docs, summary
}

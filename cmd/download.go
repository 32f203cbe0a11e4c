package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Yates-Labs/f1rag/internal/wiki"
)

var (
	downloadCategory    string
	downloadDepth       int
	downloadOut         string
	downloadMaxArticles int
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the articles of a Wikipedia category to text files",
	Long: `Download walks a Wikipedia category (and its subcategories down to --depth),
fetches every article and writes its plain text to one file per article.

Redirects, disambiguation pages and missing pages are skipped. Failed
downloads are reported but do not stop the run.

Examples:
  f1rag download
  f1rag download --category Formula_One_World_Champions --depth 0 --out data/champions`,
	Args: cobra.NoArgs,
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringVar(&downloadCategory, "category", "", "Wikipedia category (default from WIKI_CATEGORY)")
	downloadCmd.Flags().IntVar(&downloadDepth, "depth", -1, "Subcategory depth (default from WIKI_MAX_DEPTH)")
	downloadCmd.Flags().StringVar(&downloadOut, "out", "", "Output directory (default from ARTICLES_DIR)")
	downloadCmd.Flags().IntVar(&downloadMaxArticles, "max-articles", -1, "Maximum articles to download, 0 for no limit")
}

func runDownload(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if downloadCategory != "" {
		cfg.Wiki.Category = downloadCategory
	}
	if downloadDepth >= 0 {
		cfg.Wiki.MaxDepth = downloadDepth
	}
	if downloadOut != "" {
		cfg.Wiki.ArticlesDir = downloadOut
	}
	if downloadMaxArticles >= 0 {
		cfg.Wiki.MaxArticles = downloadMaxArticles
	}

	client := wiki.NewClient(wiki.ClientConfig{
		APIURL:            cfg.Wiki.WikiAPIURL(),
		Language:          cfg.Wiki.Language,
		UserAgent:         cfg.Wiki.UserAgent,
		RequestsPerSecond: cfg.Wiki.RequestsPerSecond,
		MaxArticles:       cfg.Wiki.MaxArticles,
	})
	downloader := wiki.NewDownloader(client, cfg.Wiki.Workers, logger)

	out := cmd.OutOrStdout()
	start := time.Now()
	fmt.Fprintln(out, contextStyle.Render(fmt.Sprintf("→ Listing Category:%s (depth %d)...", cfg.Wiki.Category, cfg.Wiki.MaxDepth)))

	results, total, err := downloader.DownloadCategory(cmd.Context(), cfg.Wiki.Category, cfg.Wiki.MaxDepth)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, contextStyle.Render(fmt.Sprintf("→ Downloading %d articles to %s...", total, cfg.Wiki.ArticlesDir)))

	var (
		summary   wiki.Summary
		saved     int
		saveError error
	)
	for res := range results {
		summary.Add(res)
		if res.Err != nil {
			continue
		}
		path, err := wiki.SaveArticle(cfg.Wiki.ArticlesDir, *res.Document)
		if err != nil {
			logger.Error("failed to save article", zap.String("title", res.Title), zap.Error(err))
			saveError = errors.Join(saveError, err)
			continue
		}
		saved++
		logger.Debug("saved article", zap.String("title", res.Title), zap.String("path", path))
	}
	if err := cmd.Context().Err(); err != nil {
		return fmt.Errorf("download interrupted: %w", err)
	}

	fmt.Fprintln(out, renderDownloadSummary(summary, saved))
	fmt.Fprintln(out, contextStyle.Render("Finished in "+elapsed(start)))

	if saved == 0 {
		if saveError != nil {
			return fmt.Errorf("no articles saved: %w", saveError)
		}
		return errors.New("no articles saved")
	}
	return nil
}

func renderDownloadSummary(s wiki.Summary, saved int) string {
	line := fmt.Sprintf("✓ Downloaded %d/%d articles, saved %d (%d skipped, %d failed)",
		s.Downloaded, s.Requested, saved, s.Skipped, s.Failed)
	if s.Failed > 0 || saved < s.Downloaded {
		return warnStyle.Render(line)
	}
	return successStyle.Render(line)
}

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Yates-Labs/f1rag/internal/orchestrator"
)

var (
	ingestFromDir  string
	ingestCategory string
	ingestDepth    int
	ingestSaveDir  string
	ingestReindex  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Download and index articles into the vector store",
	Long: `Ingest fills the configured vector store. By default it downloads the
configured Wikipedia category and indexes articles as they arrive; with
--from-dir it indexes previously downloaded article files instead.

The command exits with a non-zero status when no chunk was indexed.

Embeddings:
  EMBEDDING_MODEL is sent to the /embeddings route of EMBEDDING_ENDPOINT (default
  LLM_ENDPOINT), so the default model needs an endpoint that serves embeddings for
  it. Set EMBEDDING_MODEL=hashing to embed locally without any network access.
  Index and query with the same model.

Examples:
  f1rag ingest --save-dir data/articles
  f1rag ingest --from-dir data/articles
  VECTOR_STORE=milvus f1rag ingest --from-dir data/articles --reindex`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestFromDir, "from-dir", "", "Index saved article files instead of downloading")
	ingestCmd.Flags().StringVar(&ingestCategory, "category", "", "Wikipedia category (default from WIKI_CATEGORY)")
	ingestCmd.Flags().IntVar(&ingestDepth, "depth", -1, "Subcategory depth (default from WIKI_MAX_DEPTH)")
	ingestCmd.Flags().StringVar(&ingestSaveDir, "save-dir", "", "Also write downloaded articles to this directory")
	ingestCmd.Flags().BoolVar(&ingestReindex, "reindex", false, "Replace previously indexed chunks of each article")
	ingestCmd.MarkFlagsMutuallyExclusive("from-dir", "category")
	ingestCmd.MarkFlagsMutuallyExclusive("from-dir", "save-dir")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if ingestCategory != "" {
		cfg.Wiki.Category = ingestCategory
	}
	if ingestDepth >= 0 {
		cfg.Wiki.MaxDepth = ingestDepth
	}

	ctx := cmd.Context()
	c, err := newComponents(ctx, cfg, logger, ingestReindex)
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	start := time.Now()

	var summary orchestrator.IngestSummary
	if ingestFromDir != "" {
		fmt.Fprintln(out, contextStyle.Render("→ Indexing articles from "+ingestFromDir+"..."))
		summary, err = c.newIngestor(false).IngestDirectory(ctx, ingestFromDir)
	} else {
		fmt.Fprintln(out, contextStyle.Render(fmt.Sprintf("→ Ingesting Category:%s (depth %d)...", cfg.Wiki.Category, cfg.Wiki.MaxDepth)))
		summary, err = c.newIngestor(true).IngestCategory(ctx, cfg.Wiki.Category, cfg.Wiki.MaxDepth, ingestSaveDir)
	}

	fmt.Fprintln(out, renderIngestSummary(summary, cfg.Store.Backend))
	fmt.Fprintln(out, contextStyle.Render("Finished in "+elapsed(start)))
	if err != nil {
		return err
	}
	if cfg.Store.Backend == "memory" {
		fmt.Fprintln(out, warnStyle.Render("Note: the memory store is discarded on exit; `ask` and `serve` rebuild it from article files."))
	}
	return nil
}

func renderIngestSummary(s orchestrator.IngestSummary, backend string) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Ingest summary") + "\n")
	fmt.Fprintf(&b, "  articles:  %d downloaded, %d skipped, %d failed", s.Download.Downloaded, s.Download.Skipped, s.Download.Failed)
	if s.Saved > 0 {
		fmt.Fprintf(&b, ", %d saved", s.Saved)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  documents: %d\n", s.Index.Documents)
	fmt.Fprintf(&b, "  chunks:    %d indexed of %d into %s", s.Index.Indexed, s.Index.Chunks, backend)
	if n := s.Index.EmbeddingFailures + s.Index.WriteFailures; n > 0 {
		b.WriteString("\n" + warnStyle.Render(fmt.Sprintf("  %d chunks failed (%d embedding, %d write)",
			n, s.Index.EmbeddingFailures, s.Index.WriteFailures)))
	}
	return b.String()
}

package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Yates-Labs/f1rag/internal/orchestrator"
	"github.com/Yates-Labs/f1rag/internal/server"
)

var (
	serveAddr    string
	serveFromDir string
	serveReindex bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the question answering API over HTTP",
	Long: `Serve indexes the saved article files and exposes:

  POST /api/v1/ask   {"question": "..."} -> {"answer": "...", "sources": [...]}
  GET  /healthz      liveness
  GET  /readyz       ready once at least one chunk is indexed
  GET  /metrics      Prometheus metrics

Embeddings:
  EMBEDDING_MODEL is sent to the /embeddings route of EMBEDDING_ENDPOINT (default
  LLM_ENDPOINT), so the default model needs an endpoint that serves embeddings for
  it. Set EMBEDDING_MODEL=hashing to embed locally without any network access.
  Index and query with the same model.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from SERVER_ADDR)")
	serveCmd.Flags().StringVar(&serveFromDir, "from-dir", "", "Article files to index (default from ARTICLES_DIR)")
	serveCmd.Flags().BoolVar(&serveReindex, "reindex", false, "Rebuild a persistent index from the article files")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	dir := serveFromDir
	if dir == "" {
		dir = cfg.Wiki.ArticlesDir
	}

	ctx := cmd.Context()
	c, err := newComponents(ctx, cfg, logger, serveReindex)
	if err != nil {
		return err
	}
	defer c.Close()

	pipeline, err := c.newPipeline()
	if err != nil {
		return err
	}

	summary, built, err := c.ensureIndex(ctx, dir, serveReindex)
	switch {
	case errors.Is(err, orchestrator.ErrNothingIndexed):
		// Serve anyway; /readyz reports 503 until the store has chunks.
		logger.Warn("no articles indexed", zap.String("dir", dir))
	case err != nil:
		return err
	case built:
		logger.Info("index built", zap.Int("documents", summary.Index.Documents), zap.Int("chunks", summary.Index.Indexed))
	}

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout.Std(),
		WriteTimeout:    cfg.Server.WriteTimeout.Std(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Std(),
		RequestTimeout:  cfg.LLM.Timeout.Std() + 15*time.Second,
		AllowedOrigins:  server.DefaultConfig().AllowedOrigins,
	}, pipeline, c.store, logger)

	return srv.Run(ctx)
}

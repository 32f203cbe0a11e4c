package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Yates-Labs/f1rag/internal/orchestrator"
)

var (
	askFromDir string
	askReindex bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a Formula 1 trivia question",
	Long: `Ask answers a Formula 1 trivia question using RAG (Retrieval-Augmented Generation).

This command:
1. Indexes the saved article files (skipped when a persistent store already has chunks)
2. Retrieves the passages most similar to your question
3. Generates an answer grounded on those passages with the hosted LLM

Without a question argument it starts an interactive session; type quit to leave.

Required environment variables:
  LLM_API_KEY        - API key for the LLM (and embeddings, unless EMBEDDING_API_KEY is set)

Embeddings:
  EMBEDDING_MODEL is sent to the /embeddings route of EMBEDDING_ENDPOINT (default
  LLM_ENDPOINT), so the default model needs an endpoint that serves embeddings for
  it. Set EMBEDDING_MODEL=hashing to embed locally without any network access.
  Index and query with the same model.

Examples:
  f1rag ask "Who won the 2021 Abu Dhabi Grand Prix?"
  f1rag ask --from-dir data/champions --verbose
  TOP_K=5 f1rag ask "Which circuit hosts the Monaco Grand Prix?"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&askFromDir, "from-dir", "", "Article files to index (default from ARTICLES_DIR)")
	askCmd.Flags().BoolVar(&askReindex, "reindex", false, "Rebuild a persistent index from the article files")
}

// Asker answers one question.
type Asker interface {
	Ask(ctx context.Context, question string) (*orchestrator.Answer, error)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	dir := askFromDir
	if dir == "" {
		dir = cfg.Wiki.ArticlesDir
	}

	c, err := newComponents(ctx, cfg, logger, askReindex)
	if err != nil {
		return err
	}
	defer c.Close()

	pipeline, err := c.newPipeline()
	if err != nil {
		return err
	}

	if verbose {
		fmt.Fprintln(out, contextStyle.Render("→ Indexing articles from "+dir+"..."))
	}
	start := time.Now()
	summary, built, err := c.ensureIndex(ctx, dir, askReindex)
	if err != nil {
		return indexFailureHint(err, dir)
	}
	if verbose && built {
		fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✓ Indexed %d chunks from %d articles in %s",
			summary.Index.Indexed, summary.Index.Documents, elapsed(start))))
	}

	if len(args) == 1 {
		return askOnce(ctx, out, pipeline, args[0], verbose)
	}
	return interactive(ctx, cmd.InOrStdin(), out, pipeline, verbose)
}

func askOnce(ctx context.Context, out io.Writer, asker Asker, question string, detailed bool) error {
	fmt.Fprintln(out)
	fmt.Fprintln(out, headerStyle.Render("Question:"))
	fmt.Fprintln(out, questionStyle.Render(question))
	fmt.Fprintln(out)

	answer, err := asker.Ask(ctx, question)
	if err != nil {
		return describeQueryError(err)
	}
	printAnswer(out, answer, detailed)
	return nil
}

// interactive reads questions line by line until EOF, quit or exit. Query
// errors are printed and the loop continues.
func interactive(ctx context.Context, in io.Reader, out io.Writer, asker Asker, detailed bool) error {
	fmt.Fprintln(out, headerStyle.Render("F1 trivia. Ask a question, or type quit to exit."))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, questionStyle.Render("\n> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(question) {
		case "":
			continue
		case "quit", "exit", "q":
			return nil
		}

		answer, err := asker.Ask(ctx, question)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintln(out, errorStyle.Render("Error:"), describeQueryError(err))
			continue
		}
		printAnswer(out, answer, detailed)
	}
}

func printAnswer(out io.Writer, answer *orchestrator.Answer, detailed bool) {
	fmt.Fprintln(out, headerStyle.Render("Answer:"))
	fmt.Fprintln(out, answerStyle.Render(strings.TrimSpace(answer.Text)))

	if answer.NoContext || len(answer.Context) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, contextStyle.Render("Sources:"))
	for _, c := range answer.Context {
		line := fmt.Sprintf("  • %s", c.Title)
		if c.Title == "" {
			line = fmt.Sprintf("  • %s", c.DocumentID)
		}
		if detailed {
			line += fmt.Sprintf(" [%s, score %.3f]", c.ChunkID, c.Score)
		}
		fmt.Fprintln(out, contextStyle.Render(line))
	}
}

// describeQueryError turns a pipeline error into a message that says which
// stage failed.
func describeQueryError(err error) error {
	switch orchestrator.KindOf(err) {
	case orchestrator.KindInvalidQuestion:
		return fmt.Errorf("please enter a question: %w", err)
	case orchestrator.KindRetrieval:
		return fmt.Errorf("could not search the articles: %w", err)
	case orchestrator.KindGeneration:
		return fmt.Errorf("the language model did not answer: %w", err)
	}
	return err
}

package cmd

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Yates-Labs/f1rag/internal/config"
	"github.com/Yates-Labs/f1rag/internal/generation"
	"github.com/Yates-Labs/f1rag/internal/orchestrator"
	"github.com/Yates-Labs/f1rag/internal/rag"
	"github.com/Yates-Labs/f1rag/internal/wiki"
)

type scriptedAsker struct {
	questions []string
	answer    func(q string) (*orchestrator.Answer, error)
}

func (s *scriptedAsker) Ask(_ context.Context, q string) (*orchestrator.Answer, error) {
	s.questions = append(s.questions, q)
	return s.answer(q)
}

func echoAsker() *scriptedAsker {
	return &scriptedAsker{answer: func(q string) (*orchestrator.Answer, error) {
		return &orchestrator.Answer{ID: uuid.New(), Question: q, Text: "answer to " + q, Sources: []string{}}, nil
	}}
}

func TestInteractive_StopsAtQuit(t *testing.T) {
	asker := echoAsker()
	var out bytes.Buffer

	in := strings.NewReader("Who won the 1988 Monaco Grand Prix?\n\n   \nquit\nnever asked\n")
	require.NoError(t, interactive(context.Background(), in, &out, asker, false))

	assert.Equal(t, []string{"Who won the 1988 Monaco Grand Prix?"}, asker.questions)
	assert.Contains(t, out.String(), "answer to Who won the 1988 Monaco Grand Prix?")
}

func TestInteractive_EndsAtEOF(t *testing.T) {
	asker := echoAsker()
	var out bytes.Buffer

	require.NoError(t, interactive(context.Background(), strings.NewReader("first\nsecond"), &out, asker, false))
	assert.Equal(t, []string{"first", "second"}, asker.questions)
}

func TestInteractive_ContinuesAfterQueryError(t *testing.T) {
	calls := 0
	asker := &scriptedAsker{answer: func(q string) (*orchestrator.Answer, error) {
		calls++
		if calls == 1 {
			return nil, &orchestrator.QueryError{Kind: orchestrator.KindGeneration, Err: errors.New("llm down")}
		}
		return &orchestrator.Answer{ID: uuid.New(), Text: "recovered"}, nil
	}}
	var out bytes.Buffer

	require.NoError(t, interactive(context.Background(), strings.NewReader("one\ntwo\nexit\n"), &out, asker, false))
	assert.Len(t, asker.questions, 2)
	assert.Contains(t, out.String(), "the language model did not answer")
	assert.Contains(t, out.String(), "recovered")
}

func TestDescribeQueryError(t *testing.T) {
	tests := []struct {
		kind orchestrator.Kind
		want string
	}{
		{orchestrator.KindInvalidQuestion, "please enter a question"},
		{orchestrator.KindRetrieval, "could not search the articles"},
		{orchestrator.KindGeneration, "the language model did not answer"},
	}
	for _, tt := range tests {
		cause := errors.New("cause")
		err := describeQueryError(&orchestrator.QueryError{Kind: tt.kind, Err: cause})
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: got %q, want it to contain %q", tt.kind, err, tt.want)
		}
		if !errors.Is(err, cause) {
			t.Errorf("%s: cause not wrapped", tt.kind)
		}
	}

	plain := errors.New("plain")
	if got := describeQueryError(plain); got != plain {
		t.Errorf("unclassified error changed: %v", got)
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Embedding.Model = "hashing-256"
	cfg.Store.Backend = "memory"
	return cfg
}

func writeArticles(t *testing.T, docs ...rag.RawDocument) string {
	t.Helper()
	dir := t.TempDir()
	for _, d := range docs {
		_, err := wiki.SaveArticle(dir, d)
		require.NoError(t, err)
	}
	return dir
}

func TestComponents_IndexAndAsk(t *testing.T) {
	ctx := context.Background()
	dir := writeArticles(t,
		rag.RawDocument{
			ID:        "enwiki:1",
			Title:     "2021 Abu Dhabi Grand Prix",
			SourceURL: "https://en.wikipedia.org/wiki/2021_Abu_Dhabi_Grand_Prix",
			Summary:   "Season finale at Yas Marina.",
			Text:      "Max Verstappen won the 2021 Abu Dhabi Grand Prix and the drivers' championship.",
		},
		rag.RawDocument{
			ID:        "enwiki:2",
			Title:     "1988 Monaco Grand Prix",
			SourceURL: "https://en.wikipedia.org/wiki/1988_Monaco_Grand_Prix",
			Text:      "Alain Prost won the 1988 Monaco Grand Prix.",
		},
	)

	c, err := newComponents(ctx, testConfig(), zap.NewNop(), false)
	require.NoError(t, err)
	defer c.Close()

	summary, built, err := c.ensureIndex(ctx, dir, false)
	require.NoError(t, err)
	assert.True(t, built)
	assert.Equal(t, 2, summary.Index.Documents)
	assert.Equal(t, 2, summary.Index.Indexed)

	gen := generation.NewMockGenerator("Max Verstappen.")
	pipeline, err := c.newPipelineWith(gen)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, askOnce(ctx, &out, pipeline, "Who won the 2021 Abu Dhabi Grand Prix?", true))

	assert.Equal(t, 1, gen.Calls())
	assert.Contains(t, gen.LastPrompt(), "Max Verstappen won the 2021 Abu Dhabi Grand Prix")
	assert.Contains(t, out.String(), "Max Verstappen.")
	assert.Contains(t, out.String(), "2021 Abu Dhabi Grand Prix [")
}

func TestComponents_EmptyDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, err := newComponents(ctx, testConfig(), zap.NewNop(), false)
	require.NoError(t, err)
	defer c.Close()

	_, _, err = c.ensureIndex(ctx, dir, false)
	require.ErrorIs(t, err, orchestrator.ErrNothingIndexed)

	hinted := indexFailureHint(err, dir)
	assert.ErrorIs(t, hinted, orchestrator.ErrNothingIndexed)
	assert.Contains(t, hinted.Error(), "f1rag download")
}

func TestComponents_MissingArticlesDir(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "never-downloaded")

	c, err := newComponents(ctx, testConfig(), zap.NewNop(), false)
	require.NoError(t, err)
	defer c.Close()

	_, built, err := c.ensureIndex(ctx, dir, false)
	assert.True(t, built)
	require.ErrorIs(t, err, orchestrator.ErrNothingIndexed)
	assert.Contains(t, indexFailureHint(err, dir).Error(), "f1rag download")
}

func TestComponents_MissingCredentials(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default() // hosted embedding model, no key
	_, err := newComponents(ctx, cfg, zap.NewNop(), false)
	require.ErrorIs(t, err, config.ErrMissingRequired)

	c, err := newComponents(ctx, testConfig(), zap.NewNop(), false)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.newPipeline()
	var cerr *config.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "LLM_API_KEY", cerr.Key)
}

func TestRenderIngestSummary(t *testing.T) {
	s := orchestrator.IngestSummary{
		Download: wiki.Summary{Requested: 3, Downloaded: 2, Skipped: 1},
		Saved:    2,
		Index:    rag.IndexSummary{Documents: 2, Chunks: 5, Indexed: 4, EmbeddingFailures: 1},
	}
	got := renderIngestSummary(s, "memory")
	assert.Contains(t, got, "2 downloaded, 1 skipped, 0 failed, 2 saved")
	assert.Contains(t, got, "4 indexed of 5 into memory")
	assert.Contains(t, got, "1 chunks failed (1 embedding, 0 write)")
}

func TestHelpDocumentsEmbeddingEndpoint(t *testing.T) {
	for _, c := range []*cobra.Command{askCmd, ingestCmd, serveCmd} {
		assert.Contains(t, c.Long, "EMBEDDING_MODEL=hashing", c.Name())
		assert.Contains(t, c.Long, "/embeddings route of EMBEDDING_ENDPOINT", c.Name())
	}
}

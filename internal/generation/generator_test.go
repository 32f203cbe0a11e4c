package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChatServer answers /chat/completions with reply, echoing the request model.
func fakeChatServer(t *testing.T, reply string, status int) (*httptest.Server, <-chan map[string]any) {
	t.Helper()
	requests := make(chan map[string]any, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests <- body

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad request"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   body["model"],
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func TestNewOpenAIGenerator_InvalidConfig(t *testing.T) {
	_, err := NewOpenAIGenerator(Config{Model: "m"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewOpenAIGenerator(Config{APIKey: "k"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	srv, requests := fakeChatServer(t, "  Max Verstappen won.\n", http.StatusOK)

	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL + "/v1/"
	cfg.APIKey = "test-key"

	gen, err := NewOpenAIGenerator(cfg)
	require.NoError(t, err)
	assert.Equal(t, "mistralai/Mistral-7B-Instruct-v0.2", gen.Model())

	out, err := gen.Generate(context.Background(), "Who won?")
	require.NoError(t, err)
	assert.Equal(t, "Max Verstappen won.", out)

	require.Len(t, requests, 1)
	req := <-requests
	assert.Equal(t, cfg.Model, req["model"])
	assert.InDelta(t, 0.7, req["temperature"], 1e-9)
	assert.EqualValues(t, 512, req["max_tokens"])
}

func TestOpenAIGenerator_Errors(t *testing.T) {
	srv, _ := fakeChatServer(t, "", http.StatusBadRequest)

	gen, err := NewOpenAIGenerator(Config{Endpoint: srv.URL + "/v1/", APIKey: "k", Model: "m"})
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), "q")
	assert.ErrorIs(t, err, ErrLLMFailed)

	_, err = gen.Generate(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestMockGenerator(t *testing.T) {
	m := NewMockGenerator("")
	out, err := m.Generate(context.Background(), "Answer.\nContext:\nc1 text\nQuestion: q\n")
	require.NoError(t, err)
	assert.Equal(t, "c1 text", out)
	assert.Equal(t, 1, m.Calls())
	assert.Contains(t, m.LastPrompt(), "Question: q")

	boom := errors.New("boom")
	_, err = NewMockGeneratorWithError(boom).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, boom)
}

func TestBreakerGenerator_Trips(t *testing.T) {
	boom := errors.New("upstream 500")
	inner := NewMockGeneratorWithError(boom)

	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 2
	cfg.Timeout = time.Hour
	b := NewBreakerGenerator(inner, cfg, nil)
	assert.Equal(t, "mock", b.Model())

	for i := 0; i < 2; i++ {
		_, err := b.Generate(context.Background(), "p")
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, ErrLLMFailed)
	assert.Equal(t, 2, inner.Calls())
}

func TestBreakerGenerator_CancellationDoesNotTrip(t *testing.T) {
	inner := NewMockGeneratorWithError(context.Canceled)
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 1
	b := NewBreakerGenerator(inner, cfg, nil)

	for i := 0; i < 3; i++ {
		_, err := b.Generate(context.Background(), "p")
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerGenerator_PassesThrough(t *testing.T) {
	b := NewBreakerGenerator(NewMockGenerator("ok"), DefaultBreakerConfig(), nil)
	out, err := b.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

// Package generation turns an assembled prompt into an answer using a hosted
// language model. It defines a provider-agnostic Generator interface with an
// OpenAI-compatible implementation, a circuit-breaking wrapper and a deterministic
// mock for tests.
package generation

import (
	"context"
	"errors"
	"time"
)

var (
	ErrLLMFailed     = errors.New("LLM request failed")
	ErrInvalidConfig = errors.New("invalid LLM configuration")
	ErrEmptyPrompt   = errors.New("prompt cannot be empty")
)

// Generator defines the interface for interacting with language models.
// Implementations must be stateless and thread-safe.
type Generator interface {
	// Generate produces text from a prompt using the configured model.
	Generate(ctx context.Context, prompt string) (string, error)

	// Model returns the model identifier used for generation.
	Model() string
}

// Config holds common configuration options for LLM providers.
type Config struct {
	// Endpoint is the base URL of an OpenAI-compatible API
	// (e.g. "https://router.huggingface.co/v1"). Empty means api.openai.com.
	Endpoint string

	// APIKey is the authentication key for the provider
	APIKey string

	// Model specifies the model identifier
	Model string

	// Temperature controls randomness (0 = provider default)
	Temperature float64

	// MaxTokens limits the response length (0 = use provider default)
	MaxTokens int

	// Timeout bounds a single request (0 = no client-side timeout)
	Timeout time.Duration
}

// DefaultConfig returns the defaults used for trivia answers.
func DefaultConfig() Config {
	return Config{
		Endpoint:    "https://router.huggingface.co/v1",
		Model:       "mistralai/Mistral-7B-Instruct-v0.2",
		Temperature: 0.7,
		MaxTokens:   512,
		Timeout:     60 * time.Second,
	}
}

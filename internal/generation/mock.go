package generation

import (
	"context"
	"strings"
	"sync"
)

// MockGenerator is a deterministic Generator for tests. It records every prompt.
type MockGenerator struct {
	// Response is the fixed text returned by Generate. If empty, the prompt's
	// first context line is echoed back.
	Response string

	// Err, if set, is returned by Generate instead of a response.
	Err error

	// GenerateFunc, if set, replaces the fixed behaviour.
	GenerateFunc func(ctx context.Context, prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

// NewMockGenerator creates a mock with the given fixed response.
func NewMockGenerator(response string) *MockGenerator {
	return &MockGenerator{Response: response}
}

// NewMockGeneratorWithError creates a mock that always fails.
func NewMockGeneratorWithError(err error) *MockGenerator {
	return &MockGenerator{Err: err}
}

// Model returns "mock".
func (m *MockGenerator) Model() string { return "mock" }

// Generate returns the configured response or error.
func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	if m.Err != nil {
		return "", m.Err
	}
	if m.Response != "" {
		return m.Response, nil
	}
	return firstContextLine(prompt), nil
}

// Calls returns how many times Generate was invoked.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// LastPrompt returns the most recent prompt, or "".
func (m *MockGenerator) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

func firstContextLine(prompt string) string {
	_, rest, ok := strings.Cut(prompt, "Context:\n")
	if !ok {
		return ""
	}
	for _, line := range strings.Split(rest, "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "Question:") {
			return line
		}
	}
	return ""
}

package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("LLM circuit breaker open")

// BreakerConfig configures the circuit breaker in front of a Generator.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32        // trial requests allowed while half-open
	Interval            time.Duration // closed-state counter reset period
	Timeout             time.Duration // open-state duration before half-open
	ConsecutiveFailures uint32        // failures that trip the breaker
}

// DefaultBreakerConfig returns conservative breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "llm",
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerGenerator stops calling the hosted model after repeated failures.
// Cancellations by the caller do not count as failures.
type BreakerGenerator struct {
	next Generator
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerGenerator wraps next with a circuit breaker.
func NewBreakerGenerator(next Generator, config BreakerConfig, logger *zap.Logger) *BreakerGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ConsecutiveFailures == 0 {
		config.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}
	threshold := config.ConsecutiveFailures

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyPrompt)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &BreakerGenerator{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Model returns the wrapped generator's model.
func (b *BreakerGenerator) Model() string { return b.next.Model() }

// State returns the current breaker state.
func (b *BreakerGenerator) State() gobreaker.State { return b.cb.State() }

// Generate calls the wrapped generator unless the breaker is open.
func (b *BreakerGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, prompt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %w", ErrLLMFailed, ErrCircuitOpen)
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

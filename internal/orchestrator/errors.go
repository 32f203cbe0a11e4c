package orchestrator

import (
	"errors"
	"fmt"
)

// Kind classifies why a question could not be answered.
type Kind string

const (
	// KindInvalidQuestion means the question was empty or malformed.
	KindInvalidQuestion Kind = "invalid_question"
	// KindRetrieval means embedding the question or searching the store failed.
	KindRetrieval Kind = "retrieval_failed"
	// KindGeneration means retrieval succeeded but the language model did not answer.
	KindGeneration Kind = "generation_failed"
)

var (
	ErrEmptyQuestion  = errors.New("question cannot be empty")
	ErrEmptyAnswer    = errors.New("model returned an empty answer")
	ErrNothingIndexed = errors.New("no chunks were indexed")
)

// QueryError is returned by RAGPipeline.Ask.
type QueryError struct {
	Kind Kind
	Err  error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" when err is not a *QueryError.
func KindOf(err error) Kind {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ""
}

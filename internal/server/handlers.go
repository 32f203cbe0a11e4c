package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Yates-Labs/f1rag/internal/orchestrator"
)

const maxBodyBytes = 64 << 10

type askRequest struct {
	Question string `json:"question" validate:"required,max=1000"`
}

type askResponse struct {
	ID        string   `json:"id"`
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	NoContext bool     `json:"no_context"`
	Model     string   `json:"model,omitempty"`
}

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Checks    map[string]any `json:"checks,omitempty"`
}

// handleAsk handles POST /api/v1/ask
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := "internal_error"
	defer func() { s.metrics.ObserveAsk(outcome, time.Since(start)) }()

	var req askRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		outcome = "invalid_request"
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be a JSON object with a question")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		outcome = "invalid_request"
		writeError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}

	answer, err := s.asker.Ask(r.Context(), req.Question)
	if err != nil {
		status, kind := classify(err)
		outcome = kind
		if status >= http.StatusInternalServerError {
			s.logger.Error("ask failed", zap.String("error_kind", kind), zap.Error(err))
		}
		writeError(w, status, kind, err.Error())
		return
	}

	outcome = "answered"
	if answer.NoContext {
		outcome = "no_context"
	}
	writeJSON(w, http.StatusOK, askResponse{
		ID:        answer.ID.String(),
		Answer:    answer.Text,
		Sources:   answer.Sources,
		NoContext: answer.NoContext,
		Model:     answer.Model,
	})
}

// classify maps pipeline errors to an HTTP status and error kind.
func classify(err error) (int, string) {
	switch orchestrator.KindOf(err) {
	case orchestrator.KindInvalidQuestion:
		return http.StatusBadRequest, string(orchestrator.KindInvalidQuestion)
	case orchestrator.KindRetrieval:
		return http.StatusServiceUnavailable, string(orchestrator.KindRetrieval)
	case orchestrator.KindGeneration:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, string(orchestrator.KindGeneration)
		}
		return http.StatusBadGateway, string(orchestrator.KindGeneration)
	}
	return http.StatusInternalServerError, "internal_error"
}

// handleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /readyz
// Ready once at least one chunk is indexed.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ready", Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if s.counter == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	n, err := s.counter.Count(ctx)
	resp.Checks = map[string]any{"indexed_chunks": n}
	switch {
	case err != nil:
		s.logger.Warn("store readiness check failed", zap.Error(err))
		resp.Status = "unavailable"
		resp.Checks["store"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
	case n == 0:
		resp.Status = "empty"
		writeJSON(w, http.StatusServiceUnavailable, resp)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/client"
	"github.com/cschleiden/go-resume/diag"
	"github.com/cschleiden/go-resume/engine"
	"github.com/cschleiden/go-resume/log"
)

type startResponse struct {
	ExecutionID string `json:"executionId"`
}

type resumeRequest struct {
	ExecutionID string `json:"executionId"`
}

type resumeResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewMux returns an *http.ServeMux exposing starting instances and resuming or cancelling executions over HTTP. The
// diagnostics API is served at /api/.
func NewMux(c *client.Client, b backend.Backend) *http.ServeMux {
	mux := http.NewServeMux()
	logger := b.Logger()

	start := func(w http.ResponseWriter, r *http.Request) {
		processKey := r.PathValue("processKey")

		executionID, err := c.StartInstance(r.Context(), processKey)
		if err != nil {
			logger.ErrorContext(r.Context(), "starting instance", log.ProcessKeyKey, processKey, "error", err)

			status := http.StatusInternalServerError
			if errors.Is(err, engine.ErrUnknownProcess) {
				status = http.StatusNotFound
			}

			writeJSON(logger, w, status, &errorResponse{Error: err.Error()})
			return
		}

		writeJSON(logger, w, http.StatusOK, &startResponse{ExecutionID: executionID})
	}

	mux.HandleFunc("GET /start/{processKey}", start)
	mux.HandleFunc("POST /start/{processKey}", start)

	resume := func(w http.ResponseWriter, r *http.Request, executionID string) {
		if executionID == "" {
			writeJSON(logger, w, http.StatusBadRequest, &errorResponse{Error: "executionId is required"})
			return
		}

		// Resumes for unknown executions are accepted, the dispatcher drops them
		if err := c.Resume(r.Context(), executionID); err != nil {
			logger.ErrorContext(r.Context(), "sending resume", log.ExecutionIDKey, executionID, "error", err)
			writeJSON(logger, w, http.StatusServiceUnavailable, &errorResponse{Error: err.Error()})
			return
		}

		writeJSON(logger, w, http.StatusAccepted, &resumeResponse{Status: "sent"})
	}

	resumeByPath := func(w http.ResponseWriter, r *http.Request) {
		resume(w, r, r.PathValue("executionId"))
	}

	mux.HandleFunc("GET /resume/{executionId}", resumeByPath)
	mux.HandleFunc("POST /resume/{executionId}", resumeByPath)

	mux.HandleFunc("POST /resume", func(w http.ResponseWriter, r *http.Request) {
		var req resumeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(logger, w, http.StatusBadRequest, &errorResponse{Error: "invalid request body"})
			return
		}

		resume(w, r, req.ExecutionID)
	})

	mux.HandleFunc("POST /cancel/{executionId}", func(w http.ResponseWriter, r *http.Request) {
		executionID := r.PathValue("executionId")

		reason := r.URL.Query().Get("reason")
		if reason == "" {
			reason = "cancelled"
		}

		if err := c.Cancel(r.Context(), executionID, reason); err != nil {
			if errors.Is(err, backend.ErrUnknownExecution) {
				writeJSON(logger, w, http.StatusNotFound, &errorResponse{Error: err.Error()})
				return
			}

			logger.ErrorContext(r.Context(), "cancelling execution", log.ExecutionIDKey, executionID, "error", err)
			writeJSON(logger, w, http.StatusInternalServerError, &errorResponse{Error: err.Error()})
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})

	mux.Handle("/api/", diag.NewServeMux(b))

	return mux
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("writing response", "error", err)
	}
}

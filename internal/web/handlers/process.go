package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Fixed messages; error detail stays in the log.
const (
	msgIntakeScanFailed   = "intake scan failed"
	msgProcessInterrupted = "processing interrupted; remaining captures stay queued"
)

// Drainer processes every pending capture synchronously.
type Drainer interface {
	ProcessNow(ctx context.Context) (int, error)
}

// ProcessHandler triggers an immediate intake pass.
type ProcessHandler struct {
	drainer Drainer
}

// NewProcessHandler creates a new process handler.
func NewProcessHandler(d Drainer) *ProcessHandler {
	return &ProcessHandler{drainer: d}
}

// ProcessResponse is the result of a manual intake pass.
type ProcessResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Processed int    `json:"processed"`
}

// ProcessNow drains the intake directory and reports how many captures were decided.
func (h *ProcessHandler) ProcessNow(w http.ResponseWriter, r *http.Request) {
	n, err := h.drainer.ProcessNow(r.Context())
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		slog.Warn("process-now interrupted", "processed", n, "error", err)
		respondJSON(w, http.StatusServiceUnavailable, ProcessResponse{
			Success:   false,
			Message:   msgProcessInterrupted,
			Processed: n,
		})
		return
	case err != nil:
		slog.Error("process-now failed", "processed", n, "error", err)
		respondJSON(w, http.StatusInternalServerError, ProcessResponse{
			Success:   false,
			Message:   msgIntakeScanFailed,
			Processed: n,
		})
		return
	}

	respondJSON(w, http.StatusOK, ProcessResponse{
		Success:   true,
		Message:   fmt.Sprintf("processed %d file(s)", n),
		Processed: n,
	})
}

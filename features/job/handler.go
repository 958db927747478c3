package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"docqa/features/document"
	"docqa/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// List serves GET /jobs/failed[?document_id=].
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	documentID := r.URL.Query().Get("document_id")

	jobs, err := h.service.List(ctx, documentID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []Job{}
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": jobs,
		"meta": map[string]int{"count": len(jobs)},
	})
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	slog.InfoContext(ctx, "retrying failed job", "job_id", id)

	if err := h.service.Retry(ctx, id); err != nil {
		h.serviceError(ctx, w, id, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusAccepted, map[string]interface{}{"data": "job retried"})
}

func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if err := h.service.Dismiss(ctx, id); err != nil {
		h.serviceError(ctx, w, id, err)
		return
	}
	slog.InfoContext(ctx, "failed job dismissed", "job_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) serviceError(ctx context.Context, w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		h.writeError(ctx, w, "NOT_FOUND", "Job not found", http.StatusNotFound)
	case errors.Is(err, document.ErrIngestionInFlight):
		h.writeError(ctx, w, "CONFLICT", err.Error(), http.StatusConflict)
	case errors.Is(err, ErrDispatchTimeout):
		slog.WarnContext(ctx, "retry dispatch timed out", "job_id", id, "error", err)
		h.writeError(ctx, w, "UNAVAILABLE", "Ingestion queue did not respond", http.StatusServiceUnavailable)
	default:
		slog.ErrorContext(ctx, "failed job request failed", "job_id", id, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	h.writeJSON(ctx, w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}

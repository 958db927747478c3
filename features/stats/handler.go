package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"docqa/internal/domain"
	"docqa/internal/middleware"
)

type DocumentRepo interface {
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type IndexRegistry interface {
	Resident() int
}

type Handler struct {
	docRepo DocumentRepo
	jobRepo JobRepo
	indexes IndexRegistry
}

func NewHandler(d DocumentRepo, j JobRepo, idx IndexRegistry) *Handler {
	return &Handler{docRepo: d, jobRepo: j, indexes: idx}
}

type StatsResponse struct {
	Documents       int                   `json:"documents"`
	ByStatus        map[domain.Status]int `json:"by_status"`
	InFlight        int                   `json:"in_flight"`
	FailedJobs      int                   `json:"failed_jobs"`
	ResidentIndexes int                   `json:"resident_indexes"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	byStatus, err := h.docRepo.CountByStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count documents", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count documents", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		ByStatus:        map[domain.Status]int{},
		FailedJobs:      jCount,
		ResidentIndexes: h.indexes.Resident(),
	}
	for _, s := range []domain.Status{domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed} {
		resp.ByStatus[s] = byStatus[s]
		resp.Documents += byStatus[s]
	}
	resp.InFlight = byStatus[domain.StatusPending] + byStatus[domain.StatusProcessing]

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

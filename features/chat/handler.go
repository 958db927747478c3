package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"docqa/internal/middleware"
)

type askRequest struct {
	Message string `json:"message"`
	TopK    int    `json:"top_k"`
}

type summarizeRequest struct {
	MaxLength int `json:"max_length"`
}

type timestampRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		h.writeError(ctx, w, "BAD_REQUEST", "message is required", http.StatusBadRequest)
		return
	}

	answer, err := h.service.Ask(ctx, r.PathValue("id"), req.Message, req.TopK)
	if err != nil {
		h.serviceError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": answer})
}

// AskStream answers as server-sent events: content events while generating,
// then one done event carrying the timestamps.
func (h *Handler) AskStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		h.writeError(ctx, w, "BAD_REQUEST", "message is required", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(ctx, w, "INTERNAL_ERROR", "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	started := false
	send := func(payload interface{}) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	timestamps, err := h.service.AskStream(ctx, r.PathValue("id"), req.Message, req.TopK, func(chunk string) error {
		return send(map[string]string{"content": chunk})
	})
	if err != nil {
		if !started {
			h.serviceError(ctx, w, err)
			return
		}
		slog.ErrorContext(ctx, "answer stream aborted", "error", err)
		_ = send(map[string]interface{}{"error": "generation failed", "done": true})
		return
	}
	if err := send(map[string]interface{}{"done": true, "timestamps": timestamps}); err != nil {
		slog.WarnContext(ctx, "failed to finish answer stream", "error", err)
	}
}

func (h *Handler) Timestamps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req timestampRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		h.writeError(ctx, w, "BAD_REQUEST", "query is required", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	ranked, err := h.service.Timestamps(ctx, id, req.Query, req.TopK)
	if err != nil {
		h.serviceError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"document_id": id,
			"query":       req.Query,
			"timestamps":  ranked,
		},
		"meta": map[string]int{"count": len(ranked)},
	})
}

// Summarize accepts an optional {"max_length": n} body.
func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(ctx, w, "BAD_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MaxLength < 0 {
		h.writeError(ctx, w, "BAD_REQUEST", "max_length must be positive", http.StatusBadRequest)
		return
	}

	summary, err := h.service.Summarize(ctx, r.PathValue("id"), req.MaxLength)
	if err != nil {
		h.serviceError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": summary})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	history, err := h.service.History(ctx, r.PathValue("id"))
	if err != nil {
		h.serviceError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": history,
		"meta": map[string]int{"count": len(history.Messages)},
	})
}

func (h *Handler) serviceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		h.writeError(ctx, w, "NOT_FOUND", "Document not found", http.StatusNotFound)
	case errors.Is(err, ErrNotReady):
		h.writeError(ctx, w, "NOT_READY", err.Error(), http.StatusBadRequest)
	default:
		slog.ErrorContext(ctx, "chat request failed", "error", err)
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

package document

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"docqa/internal/domain"
	"docqa/internal/middleware"
)

type Handler struct {
	service     *Service
	uploadDir   string
	maxUploadMB int64
}

func NewHandler(service *Service, uploadDir string, maxUploadMB int64) *Handler {
	return &Handler{service: service, uploadDir: uploadDir, maxUploadMB: maxUploadMB}
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	limit := h.maxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(r.Context(), w, "BAD_REQUEST", fmt.Sprintf("File too large (max %d MB)", h.maxUploadMB), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(r.Context(), w, "BAD_REQUEST", "Unable to retrieve file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	docType, err := domain.DocumentTypeFromExtension(filepath.Ext(header.Filename))
	if err != nil {
		h.writeError(r.Context(), w, "BAD_REQUEST", "Unsupported file type", http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o750); err != nil {
		slog.ErrorContext(r.Context(), "failed to create upload directory", "error", err, "path", filepath.Clean(h.uploadDir))
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to create upload directory", http.StatusInternalServerError)
		return
	}

	original := filepath.Base(header.Filename)
	filename := fmt.Sprintf("%s_%s", uuid.New().String(), original)
	path := filepath.Clean(filepath.Join(h.uploadDir, filename))

	dst, err := os.Create(path) // #nosec G304 -- path is UUID + sanitized basename
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create file", "error", err, "path", path)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to save file", http.StatusInternalServerError)
		return
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(dst, hash), file)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		h.removeFile(r.Context(), path)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to write file", http.StatusInternalServerError)
		return
	}

	doc, err := h.service.Create(r.Context(), Upload{
		Path:             path,
		Filename:         filename,
		OriginalFilename: original,
		Size:             size,
		Hash:             fmt.Sprintf("%x", hash.Sum(nil)),
		Type:             docType,
	})
	if err != nil {
		h.removeFile(r.Context(), path)
		if errors.Is(err, ErrDuplicate) {
			h.writeError(r.Context(), w, "CONFLICT", "Duplicate detected", http.StatusConflict)
			return
		}
		slog.ErrorContext(r.Context(), "upload failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(r.Context(), w, http.StatusCreated, map[string]interface{}{"data": doc})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilter{Status: domain.Status(q.Get("status"))}
	if p, err := strconv.Atoi(q.Get("page")); err == nil {
		f.Page = p
	}
	if ps, err := strconv.Atoi(q.Get("page_size")); err == nil {
		f.PageSize = ps
	}
	if f.Status != "" && !f.Status.Valid() {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "Invalid status filter", http.StatusBadRequest)
		return
	}

	docs, total, err := h.service.List(r.Context(), f)
	if err != nil {
		slog.ErrorContext(r.Context(), "list documents failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}

	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{
		"data": docs,
		"meta": map[string]int{"count": len(docs), "total": total},
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serviceError(r.Context(), w, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"data": doc})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.serviceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Reprocess(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serviceError(r.Context(), w, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusAccepted, map[string]interface{}{"data": doc})
}

func (h *Handler) serviceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		h.writeError(ctx, w, "NOT_FOUND", "Document not found", http.StatusNotFound)
	case errors.Is(err, ErrIngestionInFlight):
		h.writeError(ctx, w, "CONFLICT", err.Error(), http.StatusConflict)
	default:
		slog.ErrorContext(ctx, "operation failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) removeFile(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil { // #nosec G703 -- path is UUID-based
		slog.WarnContext(ctx, "failed to clean up uploaded file", "error", err, "path", filepath.Clean(path))
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

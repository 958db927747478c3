package ingest

import (
	"context"

	"docqa/internal/domain"
	"docqa/internal/media"
)

// Task asks for one ingestion run over a stored document.
type Task struct {
	DocumentID    string              `json:"document_id"`
	FilePath      string              `json:"file_path"`
	Type          domain.DocumentType `json:"document_type"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	// Attempt counts explicit retries of a failed run.
	Attempt       int                 `json:"attempt,omitempty"`
}

type DocumentStore interface {
	UpdateStatus(ctx context.Context, id string, update domain.StatusUpdate) error
}

type PDFExtractor interface {
	Extract(ctx context.Context, path string) (*media.PDFResult, error)
}

type Transcriber interface {
	TranscribeAudio(ctx context.Context, path string) (*media.Transcript, error)
	TranscribeVideo(ctx context.Context, path string) (*media.Transcript, error)
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type IndexWriter interface {
	CreateIndex(ctx context.Context, documentID string, chunks []domain.Chunk, embeddings [][]float32) error
}

// FailureRecorder keeps failed runs around for an explicit retry.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, task Task, cause error) error
}

type Runner interface {
	Run(ctx context.Context, task Task) error
}

// Dispatcher starts an ingestion run without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

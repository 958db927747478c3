package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"docqa/internal/ingest"
	"docqa/internal/logger"
	"docqa/internal/middleware"
)

// DefaultTouchInterval keeps long ingestions under nsqd's default 60s
// message timeout.
const DefaultTouchInterval = 30 * time.Second

// IngestConsumer runs one ingestion per NSQ message. Messages are always
// finished: the pipeline commits failures to the document itself and to the
// failed jobs table, so a requeue would only repeat the same run.
type IngestConsumer struct {
	runner        Runner
	touchInterval time.Duration
}

func NewIngestConsumer(r Runner, touchInterval time.Duration) *IngestConsumer {
	if touchInterval <= 0 {
		touchInterval = DefaultTouchInterval
	}
	return &IngestConsumer{runner: r, touchInterval: touchInterval}
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task ingest.Task
	if err := json.Unmarshal(m.Body, &task); err != nil {
		// Poison pill: invalid json, don't retry
		slog.Error("poison pill: invalid ingestion task", "error", err)
		return nil
	}
	if task.DocumentID == "" || task.FilePath == "" {
		slog.Error("poison pill: incomplete ingestion task", "document_id", task.DocumentID)
		return nil
	}

	if task.CorrelationID == "" {
		task.CorrelationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), task.CorrelationID)
	ctx = logger.WithDocumentID(ctx, task.DocumentID)

	stop := h.keepAlive(m)
	defer stop()

	slog.InfoContext(ctx, "ingestion task received", "attempts", m.Attempts)
	if err := h.runner.Run(ctx, task); err != nil {
		slog.WarnContext(ctx, "ingestion task failed", "error", err)
	}
	return nil
}

func (h *IngestConsumer) keepAlive(m *nsq.Message) func() {
	done := make(chan struct{})
	ticker := time.NewTicker(h.touchInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.Touch()
			}
		}
	}()
	return func() { close(done) }
}

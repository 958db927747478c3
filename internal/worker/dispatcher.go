package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"docqa/internal/config"
	"docqa/internal/ingest"
)

// NSQDispatcher hands ingestion tasks to the worker fleet through NSQ.
type NSQDispatcher struct {
	publisher Publisher
	topic     string
}

var _ ingest.Dispatcher = (*NSQDispatcher)(nil)

func NewNSQDispatcher(p Publisher) *NSQDispatcher {
	return &NSQDispatcher{publisher: p, topic: config.TopicIngestDocument}
}

func (d *NSQDispatcher) Dispatch(ctx context.Context, task ingest.Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := d.publisher.Publish(d.topic, body); err != nil {
		return fmt.Errorf("publish %s: %w", d.topic, err)
	}
	slog.DebugContext(ctx, "ingestion task published", "topic", d.topic, "document_id", task.DocumentID)
	return nil
}

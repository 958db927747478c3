package job

import (
	"context"
	"encoding/json"
	"fmt"

	"docqa/internal/ingest"
)

// Recorder stores failed ingestion runs in failed_jobs.
type Recorder struct {
	repo Repository
}

var _ ingest.FailureRecorder = (*Recorder)(nil)

func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo}
}

func (r *Recorder) RecordFailure(ctx context.Context, task ingest.Task, cause error) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	return r.repo.Save(ctx, &Job{
		DocumentID: task.DocumentID,
		Handler:    HandlerIngestion,
		Payload:    payload,
		Error:      cause.Error(),
		Retries:    task.Attempt,
	})
}

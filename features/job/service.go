package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docqa/internal/domain"
	"docqa/internal/ingest"
	"docqa/internal/middleware"
)

const DefaultDispatchTimeout = 5 * time.Second

var ErrDispatchTimeout = errors.New("timeout waiting for ingestion dispatch")

// Documents hands out the right to start a run for a document. Claim fails
// with document.ErrIngestionInFlight while another run is pending or active.
type Documents interface {
	Claim(ctx context.Context, id string) (*domain.Document, error)
	Release(ctx context.Context, doc *domain.Document)
}

type Service struct {
	repo       Repository
	docs       Documents
	dispatcher ingest.Dispatcher
	timeout    time.Duration
}

func NewService(repo Repository, docs Documents, dispatcher ingest.Dispatcher) *Service {
	return &Service{repo: repo, docs: docs, dispatcher: dispatcher, timeout: DefaultDispatchTimeout}
}

// WithTimeout bounds how long Retry waits for the dispatcher.
func (s *Service) WithTimeout(d time.Duration) *Service {
	s.timeout = d
	return s
}

func (s *Service) List(ctx context.Context, documentID string) ([]Job, error) {
	return s.repo.List(ctx, documentID)
}

// Dismiss drops a failed job without running it again.
func (s *Service) Dismiss(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// Retry dispatches the stored task again and removes the job once the
// dispatcher has accepted it. The document must not have a run pending or in
// progress.
func (s *Service) Retry(ctx context.Context, id string) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	var task ingest.Task
	if err := json.Unmarshal(job.Payload, &task); err != nil {
		return fmt.Errorf("decode job payload: %w", err)
	}
	task.Attempt = job.Retries + 1
	if cid := middleware.GetCorrelationID(ctx); cid != "" {
		task.CorrelationID = cid
	}

	doc, err := s.docs.Claim(ctx, task.DocumentID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.dispatcher.Dispatch(ctx, task)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.docs.Release(ctx, doc)
			return err
		}
	case <-ctx.Done():
		// The dispatch may still land; only give the claim back if it fails.
		go func() {
			if err := <-done; err != nil {
				s.docs.Release(ctx, doc)
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrDispatchTimeout, ctx.Err())
		}
		return ctx.Err()
	}

	slog.InfoContext(ctx, "failed job re-dispatched", "job_id", id, "document_id", task.DocumentID, "attempt", task.Attempt)
	// The task is already queued; a job dismissed meanwhile is not an error.
	if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("delete retried job: %w", err)
	}
	return nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

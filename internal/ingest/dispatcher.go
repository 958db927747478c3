package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

// LocalDispatcher runs ingestions in-process with at most concurrency runs in
// flight. Runs outlive the caller's context but keep its values.
type LocalDispatcher struct {
	runner Runner
	sem    *semaphore.Weighted

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewLocalDispatcher(runner Runner, concurrency int) *LocalDispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &LocalDispatcher{runner: runner, sem: semaphore.NewWeighted(int64(concurrency))}
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, task Task) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(runCtx, 1); err != nil {
			return
		}
		defer d.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(runCtx, "ingestion run panicked", "document_id", task.DocumentID, "panic", r)
			}
		}()

		if err := d.runner.Run(runCtx, task); err != nil {
			slog.WarnContext(runCtx, "ingestion run ended in failure", "document_id", task.DocumentID, "error", err)
		}
	}()
	return nil
}

// Close stops accepting tasks and waits for queued and running ones.
func (d *LocalDispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

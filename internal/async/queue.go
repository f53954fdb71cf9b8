// Package async runs ingestion calls on a bounded worker pool.
package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/weldingest/constants"
	"github.com/joseph-ayodele/weldingest/internal/common"
	"github.com/joseph-ayodele/weldingest/internal/entity"
	"github.com/joseph-ayodele/weldingest/internal/pipeline"
)

// ErrQueueClosed is returned by Enqueue after Shutdown started.
var ErrQueueClosed = errors.New("ingest queue is shut down")

// Job is one file to ingest.
type Job struct {
	Path        string
	RunID       string // optional; shared by every job of one batch
	SubmittedAt time.Time
}

// Ingester is the orchestrator the queue drives.
type Ingester interface {
	Ingest(ctx context.Context, path string) pipeline.Result
}

// IngestQueue feeds jobs to a fixed number of workers and publishes every
// result on Results. Callers must drain Results.
type IngestQueue struct {
	ing     Ingester
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch      chan Job
	results chan pipeline.Result
	wg      sync.WaitGroup
	once    sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*IngestQueue)

func WithWorkers(n int) Option {
	return func(q *IngestQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *IngestQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
			q.results = make(chan pipeline.Result, n)
		}
	}
}

// WithProcessTimeout bounds how long a worker waits for one file. A call
// that exceeds it is abandoned and reported as FAILED; it is not interrupted.
func WithProcessTimeout(d time.Duration) Option {
	return func(q *IngestQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewIngestQueue(ing Ingester, logger *slog.Logger, opts ...Option) *IngestQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &IngestQueue{
		ing:     ing,
		logger:  logger,
		workers: 1,
		ch:      make(chan Job, 64),
		results: make(chan pipeline.Result, 64),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *IngestQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("worker started", "worker_id", workerID)

				for job := range q.ch {
					res := q.process(job)
					if res.Succeeded() {
						q.logger.Debug("processed file", "worker_id", workerID, "path", job.Path, "document_id", *res.DocumentID)
					} else {
						q.logger.Debug("file failed", "worker_id", workerID, "path", job.Path, "state", res.State)
					}
					q.results <- res
				}

				q.logger.Debug("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
		go func() {
			q.wg.Wait()
			close(q.results)
		}()
	})
}

func (q *IngestQueue) process(job Job) pipeline.Result {
	ctx := context.Background()
	if job.RunID != "" {
		ctx = common.WithRunID(ctx, job.RunID)
	}
	if q.timeout <= 0 {
		return q.ing.Ingest(ctx, job.Path)
	}

	done := make(chan pipeline.Result, 1)
	go func() { done <- q.ing.Ingest(ctx, job.Path) }()

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res
	case <-timer.C:
		q.logger.Warn("ingest timed out, abandoning call", "path", job.Path, "timeout", q.timeout)
		return timedOut(job, q.timeout)
	}
}

func timedOut(job Job, d time.Duration) pipeline.Result {
	return pipeline.Result{
		Path:   job.Path,
		RunID:  job.RunID,
		Status: constants.ImportFailed,
		State:  constants.StateFailed,
		Issues: []entity.ValidationIssue{{
			Field:    entity.FieldPipeline,
			Message:  fmt.Sprintf("timed out after %s", d),
			Severity: constants.SeverityError,
		}},
		Duration: d,
	}
}

// Results delivers one Result per accepted job and is closed after Shutdown
// once every worker has finished.
func (q *IngestQueue) Results() <-chan pipeline.Result {
	return q.results
}

// Depth returns the number of jobs waiting for a worker.
func (q *IngestQueue) Depth() int {
	return len(q.ch)
}

// Enqueue blocks while the queue is full, until ctx is done.
func (q *IngestQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "path", job.Path)
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		q.logger.Debug("queued file", "path", job.Path)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish.
func (q *IngestQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Debug("queue drained, shutdown complete")
	}
}

// Package ingest discovers input files and feeds them to the ingestion
// worker pool, either as a one-shot batch or from a folder watch.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/weldingest/internal/async"
	"github.com/joseph-ayodele/weldingest/internal/pipeline"
)

// ExistenceChecker answers whether a file path was already imported.
type ExistenceChecker interface {
	ExistsByPath(ctx context.Context, path string) (bool, error)
}

// BatchOptions configures Batch.Run.
type BatchOptions struct {
	Workers      int
	QueueSize    int
	Timeout      time.Duration
	SkipExisting bool
	SkipHidden   bool
}

// FileOutcome is the per-file batch status.
type FileOutcome struct {
	Path    string           `json:"path"`
	Skipped bool             `json:"skipped,omitempty"`
	Result  *pipeline.Result `json:"result,omitempty"`
}

// Succeeded reports whether the file was imported or deliberately skipped.
func (o FileOutcome) Succeeded() bool {
	return o.Skipped || (o.Result != nil && o.Result.Succeeded())
}

// BatchStats summarizes a batch run.
type BatchStats struct {
	Scanned   int `json:"scanned"`
	Matched   int `json:"matched"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// BatchReport is what Batch.Run returns.
type BatchReport struct {
	RunID      string        `json:"run_id"`
	Outcomes   []FileOutcome `json:"outcomes"`
	WalkErrors []PathError   `json:"walk_errors,omitempty"`
	Stats      BatchStats    `json:"stats"`
}

// OK reports whether every file succeeded or was skipped.
func (r BatchReport) OK() bool {
	return r.Stats.Failed == 0
}

// Batch runs collected files through an IngestQueue.
type Batch struct {
	ing    async.Ingester
	exists ExistenceChecker
	logger *slog.Logger
}

// NewBatch builds a batch runner. exists may be nil when SkipExisting is never used.
func NewBatch(ing async.Ingester, exists ExistenceChecker, logger *slog.Logger) *Batch {
	if logger == nil {
		logger = slog.Default()
	}
	return &Batch{ing: ing, exists: exists, logger: logger}
}

// Run ingests every file named by args. Outcomes come back in input order.
// One file failing never stops the batch.
func (b *Batch) Run(ctx context.Context, args []string, opts BatchOptions) (BatchReport, error) {
	report := BatchReport{RunID: uuid.NewString()}
	files, walkErrs, cstats, err := Collect(ctx, args, opts.SkipHidden)
	report.WalkErrors = walkErrs
	report.Stats.Scanned, report.Stats.Matched = cstats.Scanned, cstats.Matched
	if err != nil {
		return report, err
	}
	logger := b.logger.With("run_id", report.RunID)
	logger.Info("batch started", "files", len(files), "workers", opts.Workers)

	order := make(map[string]int, len(files))
	outcomes := make([]FileOutcome, len(files))
	var todo []string
	for i, f := range files {
		order[f] = i
		outcomes[i].Path = f
		if opts.SkipExisting && b.exists != nil {
			ok, err := b.exists.ExistsByPath(ctx, f)
			if err != nil {
				logger.Warn("existence check failed, ingesting anyway", "path", f, "error", err)
			} else if ok {
				outcomes[i].Skipped = true
				report.Stats.Skipped++
				logger.Info("skipping already imported file", "path", f)
				continue
			}
		}
		todo = append(todo, f)
	}

	q := async.NewIngestQueue(b.ing, logger,
		async.WithWorkers(opts.Workers),
		async.WithQueueSize(opts.QueueSize),
		async.WithProcessTimeout(opts.Timeout),
	)
	runID := report.RunID
	go func() {
		defer q.Shutdown(context.WithoutCancel(ctx))
		for _, f := range todo {
			if err := q.Enqueue(ctx, async.Job{Path: f, RunID: runID}); err != nil {
				logger.Warn("stopped enqueueing", "path", f, "error", err)
				return
			}
		}
	}()

	for res := range q.Results() {
		outcomes[order[res.Path]].Result = &res
		if res.Succeeded() {
			report.Stats.Succeeded++
		} else {
			report.Stats.Failed++
		}
	}

	// files never handed to a worker, e.g. after cancellation
	for i := range outcomes {
		if !outcomes[i].Skipped && outcomes[i].Result == nil {
			report.Stats.Failed++
		}
	}
	report.Outcomes = outcomes

	logger.Info("batch finished",
		"succeeded", report.Stats.Succeeded,
		"skipped", report.Stats.Skipped,
		"failed", report.Stats.Failed,
	)
	return report, ctx.Err()
}

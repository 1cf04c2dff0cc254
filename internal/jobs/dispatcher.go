package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sevigo/reviewcore/internal/core"
)

// dispatcher implements core.JobDispatcher with a pool of worker goroutines
// processing queued GitHub events.
type dispatcher struct {
	reviewJob  core.Job
	jobQueue   chan *core.GitHubEvent
	maxWorkers int
	baseCtx    context.Context // cancellation root for every job
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// NewDispatcher initializes a dispatcher with a worker pool. baseCtx is the
// application's lifetime context: canceling it cancels every in-flight job.
// If maxWorkers is 0 or negative, it defaults to 1.
func NewDispatcher(baseCtx context.Context, reviewJob core.Job, maxWorkers int, logger *slog.Logger) core.JobDispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	d := &dispatcher{
		reviewJob:  reviewJob,
		maxWorkers: maxWorkers,
		jobQueue:   make(chan *core.GitHubEvent, 100),
		baseCtx:    baseCtx,
		logger:     logger,
	}
	d.startWorkers()
	return d
}

func (d *dispatcher) startWorkers() {
	for i := 0; i < d.maxWorkers; i++ {
		d.wg.Add(1)
		go func(workerID int) {
			defer d.wg.Done()
			d.logger.Info("starting review worker", "id", workerID)
			for event := range d.jobQueue {
				d.logger.Info("worker processing job", "worker_id", workerID, "repo", event.RepoFullName)
				if err := d.reviewJob.Run(d.baseCtx, event); err != nil {
					d.logger.Error("code review job failed", "repo", event.RepoFullName, "pr", event.PRNumber, "error", err)
				}
			}
			d.logger.Info("shutting down review worker", "id", workerID)
		}(i)
	}
}

// Dispatch queues a GitHub event for processing by a worker. Returns an
// error if the queue is full.
func (d *dispatcher) Dispatch(ctx context.Context, event *core.GitHubEvent) error {
	d.logger.InfoContext(ctx, "queuing code review job", "repo", event.RepoFullName, "pr", event.PRNumber)
	select {
	case d.jobQueue <- event:
		return nil
	default:
		return fmt.Errorf("job queue is full, cannot accept new review job")
	}
}

// Stop gracefully shuts down the dispatcher, waiting for in-flight jobs.
func (d *dispatcher) Stop() {
	d.logger.Info("stopping dispatcher and waiting for jobs to finish")
	close(d.jobQueue)
	d.wg.Wait()
	d.logger.Info("all review jobs have finished")
}

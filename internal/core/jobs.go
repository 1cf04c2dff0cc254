package core

import (
	"context"
)

// JobDispatcher accepts and queues background review jobs. It decouples the
// event source (the webhook handler) from job execution and provides
// backpressure when the queue is full.
type JobDispatcher interface {
	// Dispatch accepts a GitHubEvent and queues it for processing. It
	// returns an error if the job cannot be queued.
	Dispatch(ctx context.Context, event *GitHubEvent) error

	// Stop drains the queue and waits for in-flight jobs to finish.
	Stop()
}

// Job is a single executable unit of work triggered by a GitHubEvent.
type Job interface {
	Run(ctx context.Context, event *GitHubEvent) error
}

package reconcile

import (
	"context"

	"github.com/kelda/wavectl/pkg/upgrade"
)

// Source is where a session reads a job's state from.
type Source interface {
	// PollJob returns the current counters and status of the job.
	PollJob(ctx context.Context, job string) (upgrade.JobResource, error)

	// StreamLogs opens a subscription to the job's log.
	StreamLogs(ctx context.Context, job string) (LogStream, error)
}

// LogStream delivers text chunks in arrival order. Recv returns io.EOF or
// errors.ErrStreamClosed once the stream has ended.
type LogStream interface {
	Recv() (string, error)
	Close() error
}

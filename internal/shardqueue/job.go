package shardqueue

import "context"

// Job is one unit of work executed by a ShardExecutor. Run must tolerate
// being retried when it returns a recoverable error.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a plain function to a Job.
type JobFunc func(ctx context.Context) error

// Run implements Job.
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

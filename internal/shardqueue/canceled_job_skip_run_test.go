package shardqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// A write whose context is already canceled when the worker reaches it is
// skipped, and the cancellation is reported through the error handler.
func TestWorkerSkipsRunForCanceledJob(t *testing.T) {
	var handlerCalls int32
	cfg := Config{Shards: 1, QueueSize: 2, MaxAttempts: 1}
	cfg.ErrorHandler = func(err error) { atomic.AddInt32(&handlerCalls, 1) }

	ex := NewShardExecutor(cfg)
	defer ex.Stop()

	// Park the worker on the first write.
	blockCtx, unblock := context.WithCancel(context.Background())
	started := make(chan struct{})
	if err := ex.Submit(context.Background(), "ch-general", JobFunc(func(ctx context.Context) error {
		close(started)
		<-blockCtx.Done()
		return nil
	})); err != nil {
		t.Fatalf("submit blocking job: %v", err)
	}
	<-started

	// Queue a second write behind it, then cancel its context before the
	// worker can reach it.
	ran := int32(0)
	jobCtx, cancelJob := context.WithCancel(context.Background())
	if err := ex.Submit(jobCtx, "ch-general", JobFunc(func(ctx context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	})); err != nil {
		t.Fatalf("submit second job: %v", err)
	}

	cancelJob()
	unblock()

	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&ran) == 1 {
		t.Fatal("job Run should not have been called for canceled context")
	}
	if atomic.LoadInt32(&handlerCalls) == 0 {
		t.Fatal("expected error handler to be invoked for canceled job")
	}
}

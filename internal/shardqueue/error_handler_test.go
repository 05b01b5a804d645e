package shardqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// A failed write with MaxAttempts=1 reaches the error handler exactly once.
func TestErrorHandlerCalledOnce(t *testing.T) {
	var calls int32
	cfg := Config{Shards: 1, QueueSize: 8, MaxAttempts: 1}
	cfg.ErrorHandler = func(err error) { atomic.AddInt32(&calls, 1) }

	ex := NewShardExecutor(cfg)
	defer ex.Stop()

	if err := ex.Submit(context.Background(), "ch-general", JobFunc(func(ctx context.Context) error {
		return errors.New("boom")
	})); err != nil {
		t.Fatalf("submit error job: %v", err)
	}

	// A follow-up on the same channel doubles as a drain barrier.
	done := make(chan struct{})
	if err := ex.Submit(context.Background(), "ch-general", JobFunc(func(ctx context.Context) error {
		close(done)
		return nil
	})); err != nil {
		t.Fatalf("submit follow-up job: %v", err)
	}

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for follow-up job")
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("error handler calls = %d, want 1", got)
	}
}

// A panicking error handler must not take the worker down with it.
func TestErrorHandlerPanicRecovered(t *testing.T) {
	cfg := Config{Shards: 1, QueueSize: 8, MaxAttempts: 1}
	cfg.ErrorHandler = func(err error) { panic("handler panic") }

	ex := NewShardExecutor(cfg)
	defer ex.Stop()

	if err := ex.Submit(context.Background(), "ch-general", JobFunc(func(ctx context.Context) error {
		return errors.New("boom")
	})); err != nil {
		t.Fatalf("submit error job: %v", err)
	}

	ran := make(chan struct{})
	if err := ex.Submit(context.Background(), "ch-general", JobFunc(func(ctx context.Context) error {
		close(ran)
		return nil
	})); err != nil {
		t.Fatalf("submit follow-up job: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("worker did not continue after handler panic")
	}
}

// With no error handler configured, write failures are dropped and the
// worker keeps going.
func TestErrorHandlerNilNoCrash(t *testing.T) {
	cfg := Config{Shards: 1, QueueSize: 4, MaxAttempts: 1}

	ex := NewShardExecutor(cfg)
	defer ex.Stop()

	if err := ex.Submit(context.Background(), "ch-general", JobFunc(func(ctx context.Context) error {
		return errors.New("ignored")
	})); err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := make(chan struct{})
	_ = ex.Submit(context.Background(), "ch-general", JobFunc(func(ctx context.Context) error {
		close(done)
		return nil
	}))

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for job after ignored error")
	}
}

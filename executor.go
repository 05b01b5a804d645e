package client

import (
	"context"

	"github.com/relaychat/client-go/internal/shardqueue"
)

// executor abstracts the async job runner behind message writes. All
// clients include one by default; the write paths require it.
type executor interface {
	Submit(ctx context.Context, key string, job shardqueue.Job) error
	Stop()
}

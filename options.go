package client

// Functional options applied by New. Keeping them in a standalone file makes
// the available knobs easy to discover.

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Option configures a Client during construction in New. Options must be
// deterministic and side-effect free.
type Option func(*Client) error

// WithLogger routes the SDK's structured logs to l. The default logger
// discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

// WithQueue sizes the async write queue: shards is the number of worker
// goroutines, size the per-shard buffer. Values must be positive.
func WithQueue(shards, size int) Option {
	return func(c *Client) error {
		if shards <= 0 || size <= 0 {
			return fmt.Errorf("queue shards and size must be > 0")
		}
		c.queueCfg.Shards = shards
		c.queueCfg.QueueSize = size
		return nil
	}
}

// WithWriteErrorHandler installs fn as the handler invoked when an
// asynchronous write ultimately fails. The default logs a warning.
func WithWriteErrorHandler(fn func(error)) Option {
	return func(c *Client) error {
		if fn == nil {
			return fmt.Errorf("write error handler cannot be nil")
		}
		c.queueCfg.ErrorHandler = fn
		return nil
	}
}

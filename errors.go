package client

import (
	"errors"

	"github.com/relaychat/client-go/backend"
	"github.com/relaychat/client-go/internal/shardqueue"
)

// ErrNotSignedIn is returned by operations that require an authenticated
// principal when none exists.
var ErrNotSignedIn = errors.New("not signed in")

// ErrDMAlreadyExists is returned by CreateDM when a direct-message channel
// for the pair exists but its document is unexpectedly empty.
var ErrDMAlreadyExists = errors.New("dm channel already exists")

// ErrDetached is returned when a persistence method is called on an entity
// that is not attached to a manager (for example a Copy).
var ErrDetached = errors.New("entity is detached from its manager")

// ErrNotFound is re-exported so callers compare against a single symbol.
var ErrNotFound = backend.ErrNotFound

// IsBackPressure reports whether err means the async write queue was full.
func IsBackPressure(err error) bool {
	var qf *shardqueue.QueueFullError
	return errors.As(err, &qf)
}

// Package backend defines the contracts the SDK expects from the remote
// document store and the authentication provider. Bindings live in the
// backend/memory and backend/rest subpackages.
package backend

import "context"

// ChangeKind classifies one entry of a collection change feed.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

// String returns the feed wire name of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one push notification from a collection watch.
type Change struct {
	Kind ChangeKind
	ID   string
	Doc  Doc
}

// Snapshot pairs a document with its id, as returned by Query.
type Snapshot struct {
	ID  string
	Doc Doc
}

// Cond is a single equality condition on a document field. Field may use
// dotted paths for nested maps ("participants.u123").
type Cond struct {
	Field  string
	Equals any
}

// Query names a collection and zero or more conditions. No conditions means
// the whole collection.
type Query struct {
	Collection string
	Where      []Cond
}

// Col is shorthand for a whole-collection Query.
func Col(collection string) Query { return Query{Collection: collection} }

// WhereEq returns a copy of q with an extra equality condition.
func (q Query) WhereEq(field string, v any) Query {
	q.Where = append(q.Where[:len(q.Where):len(q.Where)], Cond{Field: field, Equals: v})
	return q
}

// CancelFunc releases a watch. After it returns no further callback fires.
// Safe to call more than once.
type CancelFunc func()

// Store is the document backend: point reads and writes, queries, change
// feeds, and blob storage.
//
// Watch callbacks are invoked sequentially per watch; implementations must
// not invoke a callback after its CancelFunc has returned.
type Store interface {
	// Get reads one document. A missing document yields ErrNotFound.
	Get(ctx context.Context, collection, id string) (Doc, error)

	// Set writes the full document, replacing any previous content.
	Set(ctx context.Context, collection, id string, doc Doc) error

	// Update merges fields into an existing or new document.
	Update(ctx context.Context, collection, id string, fields Doc) error

	// Delete removes the document. Deleting a missing document is not an
	// error.
	Delete(ctx context.Context, collection, id string) error

	// Query returns the documents currently matching q.
	Query(ctx context.Context, q Query) ([]Snapshot, error)

	// Watch subscribes to the change feed for q. Current matches are
	// delivered as Added before the call returns or shortly after.
	Watch(q Query, fn func(Change)) (CancelFunc, error)

	// WatchValue subscribes to a single document, delivering its current
	// content and every subsequent write.
	WatchValue(collection, id string, fn func(Doc)) (CancelFunc, error)

	// Upload stores a blob under path and returns its public URL.
	Upload(ctx context.Context, path string, data []byte) (string, error)
}

// Auth exposes the signed-in principal, if any.
type Auth interface {
	// UID returns the principal's user id, or ok=false when signed out.
	UID() (uid string, ok bool)

	// WatchUID calls fn with the current uid immediately and again on every
	// principal change; an empty uid signals sign-out.
	WatchUID(fn func(uid string)) CancelFunc
}

// Package memory is an in-process backend.Store and backend.Auth used by the
// test suite and local development. Watch callbacks fire synchronously on
// the mutating goroutine, in registration order, which keeps tests
// deterministic.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/relaychat/client-go/backend"
)

type watch struct {
	q  backend.Query
	fn func(backend.Change)

	// dead is guarded by the store lock; wg counts in-flight deliveries so
	// cancel can wait them out.
	dead bool
	wg   sync.WaitGroup
}

type valueWatch struct {
	collection, id string
	fn             func(backend.Doc)

	dead bool
	wg   sync.WaitGroup
}

// Store implements backend.Store over process-local maps.
type Store struct {
	mu      sync.Mutex
	cols    map[string]map[string]backend.Doc
	blobs   map[string][]byte
	watches map[int]*watch
	values  map[int]*valueWatch
	nextID  int

	// ordered ids so callbacks fire in registration order
	watchOrder []int
	valueOrder []int
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		cols:    make(map[string]map[string]backend.Doc),
		blobs:   make(map[string][]byte),
		watches: make(map[int]*watch),
		values:  make(map[int]*valueWatch),
	}
}

func (s *Store) col(name string) map[string]backend.Doc {
	c, ok := s.cols[name]
	if !ok {
		c = make(map[string]backend.Doc)
		s.cols[name] = c
	}
	return c
}

// Get implements backend.Store.
func (s *Store) Get(_ context.Context, collection, id string) (backend.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.col(collection)[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return doc.Clone(), nil
}

// Set implements backend.Store.
func (s *Store) Set(_ context.Context, collection, id string, doc backend.Doc) error {
	s.mu.Lock()
	old, existed := s.col(collection)[id]
	next := doc.Clone()
	s.col(collection)[id] = next
	notify := s.pendingNotifies(collection, id, old, existed, next, true)
	s.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
	return nil
}

// Update implements backend.Store with merge semantics.
func (s *Store) Update(_ context.Context, collection, id string, fields backend.Doc) error {
	s.mu.Lock()
	old, existed := s.col(collection)[id]
	var next backend.Doc
	if existed {
		next = old.Clone()
	} else {
		next = backend.Doc{}
	}
	for k, v := range fields {
		next[k] = v
	}
	s.col(collection)[id] = next
	notify := s.pendingNotifies(collection, id, old, existed, next, true)
	s.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
	return nil
}

// Delete implements backend.Store.
func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	old, existed := s.col(collection)[id]
	delete(s.col(collection), id)
	var notify []func()
	if existed {
		notify = s.pendingNotifies(collection, id, old, true, nil, false)
	}
	s.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
	return nil
}

// Query implements backend.Store.
func (s *Store) Query(_ context.Context, q backend.Query) ([]backend.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []backend.Snapshot
	for id, doc := range s.col(q.Collection) {
		if matches(q, doc) {
			out = append(out, backend.Snapshot{ID: id, Doc: doc.Clone()})
		}
	}
	return out, nil
}

// Watch implements backend.Store. Current matches are delivered as Added
// before Watch returns.
func (s *Store) Watch(q backend.Query, fn func(backend.Change)) (backend.CancelFunc, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	w := &watch{q: q, fn: fn}
	s.watches[id] = w
	s.watchOrder = append(s.watchOrder, id)
	var initial []backend.Change
	for docID, doc := range s.col(q.Collection) {
		if matches(q, doc) {
			initial = append(initial, backend.Change{Kind: backend.Added, ID: docID, Doc: doc.Clone()})
		}
	}
	s.mu.Unlock()
	for _, ch := range initial {
		fn(ch)
	}
	cancel := func() {
		s.mu.Lock()
		w.dead = true
		delete(s.watches, id)
		s.mu.Unlock()
		w.wg.Wait()
	}
	return cancel, nil
}

// WatchValue implements backend.Store. The current document, when present,
// is delivered before WatchValue returns.
func (s *Store) WatchValue(collection, id string, fn func(backend.Doc)) (backend.CancelFunc, error) {
	s.mu.Lock()
	wid := s.nextID
	s.nextID++
	v := &valueWatch{collection: collection, id: id, fn: fn}
	s.values[wid] = v
	s.valueOrder = append(s.valueOrder, wid)
	doc, ok := s.col(collection)[id]
	if ok {
		doc = doc.Clone()
	}
	s.mu.Unlock()
	if ok {
		fn(doc)
	}
	cancel := func() {
		s.mu.Lock()
		v.dead = true
		delete(s.values, wid)
		s.mu.Unlock()
		v.wg.Wait()
	}
	return cancel, nil
}

// Upload implements backend.Store. Blobs are addressable as memory://path.
func (s *Store) Upload(_ context.Context, path string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[path] = cp
	return "memory://" + path, nil
}

// Blob returns an uploaded blob, for assertions in tests.
func (s *Store) Blob(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[path]
	return b, ok
}

// pendingNotifies is called with the state lock held and returns the
// callbacks to run once the lock is released, so a callback may re-enter
// the store. Each returned closure re-checks its watch before delivering:
// a watch canceled between collection and delivery, from another callback
// in the same batch or from another goroutine, must not fire.
func (s *Store) pendingNotifies(collection, id string, old backend.Doc, existed bool, next backend.Doc, exists bool) []func() {
	var out []func()
	for _, wid := range s.watchOrder {
		w, ok := s.watches[wid]
		if !ok || w.q.Collection != collection {
			continue
		}
		before := existed && matches(w.q, old)
		after := exists && matches(w.q, next)
		var kind backend.ChangeKind
		switch {
		case !before && after:
			kind = backend.Added
		case before && after:
			kind = backend.Modified
		case before && !after:
			kind = backend.Removed
		default:
			continue
		}
		var doc backend.Doc
		if after {
			doc = next.Clone()
		} else if existed {
			doc = old.Clone()
		}
		w, ch := w, backend.Change{Kind: kind, ID: id, Doc: doc}
		out = append(out, func() {
			s.mu.Lock()
			if w.dead {
				s.mu.Unlock()
				return
			}
			w.wg.Add(1)
			s.mu.Unlock()
			defer w.wg.Done()
			w.fn(ch)
		})
	}
	if exists {
		for _, vid := range s.valueOrder {
			v, ok := s.values[vid]
			if !ok || v.collection != collection || v.id != id {
				continue
			}
			v, doc := v, next.Clone()
			out = append(out, func() {
				s.mu.Lock()
				if v.dead {
					s.mu.Unlock()
					return
				}
				v.wg.Add(1)
				s.mu.Unlock()
				defer v.wg.Done()
				v.fn(doc)
			})
		}
	}
	return out
}

// matches evaluates q's equality conditions against doc. Dotted field paths
// descend into nested maps.
func matches(q backend.Query, doc backend.Doc) bool {
	for _, c := range q.Where {
		if lookup(doc, c.Field) != c.Equals {
			return false
		}
	}
	return true
}

func lookup(doc backend.Doc, path string) any {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(doc)
	for _, p := range parts {
		switch m := cur.(type) {
		case map[string]any:
			cur = m[p]
		case backend.Doc:
			cur = map[string]any(m)[p]
		case map[string]bool:
			cur = m[p]
		default:
			return nil
		}
	}
	return cur
}

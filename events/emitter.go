// Package events provides the typed publish/subscribe primitives the SDK
// builds its caches on: a generic Emitter and an evented Map.
//
// Callbacks run synchronously on the goroutine that emits. Subscribers that
// need to do slow work should hand off to their own goroutine.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Handle identifies one subscription. It is returned by Subscribe and must be
// passed back to Unsubscribe.
type Handle string

// Emitter fans a value of type T out to every subscriber.
//
// The zero value is ready to use.
type Emitter[T any] struct {
	mu   sync.RWMutex
	subs map[Handle]func(T)
}

// Subscribe registers fn and returns a Handle for later removal.
func (e *Emitter[T]) Subscribe(fn func(T)) Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[Handle]func(T))
	}
	h := Handle(uuid.NewString())
	e.subs[h] = fn
	return h
}

// Unsubscribe removes the subscription for h. Unknown handles are ignored.
func (e *Emitter[T]) Unsubscribe(h Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, h)
}

// Emit delivers ev to every current subscriber.
//
// The subscriber set is snapshotted under the read lock so a callback may
// subscribe or unsubscribe without deadlocking; such changes take effect on
// the next Emit.
func (e *Emitter[T]) Emit(ev T) {
	e.mu.RLock()
	fns := make([]func(T), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Len reports the number of active subscriptions.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

package events

import "sync"

// Op is the closed set of cache event kinds.
type Op int

const (
	// OpSet fires when a slot is inserted or replaced.
	OpSet Op = iota
	// OpDelete fires when a present slot is removed.
	OpDelete
	// OpClear fires exactly once when the map is emptied.
	OpClear
	// OpChanged fires when the value held in a slot was mutated in place.
	// The map never emits it on its own; the owner calls Changed after
	// mutating a held value.
	OpChanged
)

// String returns the event kind name.
func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	case OpClear:
		return "clear"
	case OpChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// CacheEvent describes one mutation of a Map. Key and Value are zero for
// OpClear.
type CacheEvent[K comparable, V any] struct {
	Op    Op
	Key   K
	Value V
}

// Map is an associative container that notifies watchers of every slot
// mutation. It distinguishes "slot replaced" (OpSet) from "held value
// mutated in place" (OpChanged): the former matters to identity-sensitive
// consumers, the latter to identity-stable ones.
//
// Safe for concurrent use. The zero value is not usable; call NewMap.
type Map[K comparable, V any] struct {
	mu      sync.RWMutex
	items   map[K]V
	watcher Emitter[CacheEvent[K, V]]
}

// NewMap returns an empty Map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{items: make(map[K]V)}
}

// Set inserts or replaces the slot for k and emits OpSet.
func (m *Map[K, V]) Set(k K, v V) {
	m.mu.Lock()
	m.items[k] = v
	m.mu.Unlock()
	m.watcher.Emit(CacheEvent[K, V]{Op: OpSet, Key: k, Value: v})
}

// Delete removes the slot for k. It reports whether a value was present and
// emits OpDelete only in that case.
func (m *Map[K, V]) Delete(k K) bool {
	m.mu.Lock()
	v, ok := m.items[k]
	if ok {
		delete(m.items, k)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.watcher.Emit(CacheEvent[K, V]{Op: OpDelete, Key: k, Value: v})
	return true
}

// Clear empties the map and emits a single OpClear, even when the map was
// already empty.
func (m *Map[K, V]) Clear() {
	m.mu.Lock()
	m.items = make(map[K]V)
	m.mu.Unlock()
	m.watcher.Emit(CacheEvent[K, V]{Op: OpClear})
}

// Changed emits OpChanged for k with the currently held value. Owners call
// it after mutating the held value's fields in place. A missing key emits
// nothing.
func (m *Map[K, V]) Changed(k K) {
	m.mu.RLock()
	v, ok := m.items[k]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.watcher.Emit(CacheEvent[K, V]{Op: OpChanged, Key: k, Value: v})
}

// Get returns the value for k.
func (m *Map[K, V]) Get(k K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[k]
	return v, ok
}

// Has reports whether k is present.
func (m *Map[K, V]) Has(k K) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[k]
	return ok
}

// Len returns the number of slots.
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Keys returns a snapshot of the current keys.
func (m *Map[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ks := make([]K, 0, len(m.items))
	for k := range m.items {
		ks = append(ks, k)
	}
	return ks
}

// Values returns a snapshot slice of the current values.
func (m *Map[K, V]) Values() []V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vs := make([]V, 0, len(m.items))
	for _, v := range m.items {
		vs = append(vs, v)
	}
	return vs
}

// Watch subscribes fn to all cache events.
func (m *Map[K, V]) Watch(fn func(CacheEvent[K, V])) Handle {
	return m.watcher.Subscribe(fn)
}

// Unwatch removes a subscription created by Watch.
func (m *Map[K, V]) Unwatch(h Handle) {
	m.watcher.Unsubscribe(h)
}

package client

import (
	"sort"
	"sync"

	"github.com/relaychat/client-go/backend"
)

// BuddyList mirrors one remote buddy-list document: three disjoint id sets
// for mutual friends, pending requests, and blocked users.
type BuddyList struct {
	mu      sync.RWMutex
	id      string
	added   map[string]struct{}
	pending map[string]struct{}
	blocked map[string]struct{}
}

// BuddyListPatch is a partial update for a BuddyList. Nil slices leave the
// corresponding set untouched.
type BuddyListPatch struct {
	Added   []string
	Pending []string
	Blocked []string
}

func newBuddyList(id string) *BuddyList {
	return &BuddyList{
		id:      id,
		added:   make(map[string]struct{}),
		pending: make(map[string]struct{}),
		blocked: make(map[string]struct{}),
	}
}

func newBuddyListFromDoc(id string, doc backend.Doc) *BuddyList {
	b := newBuddyList(id)
	b.Set(buddyListPatchFromDoc(doc))
	return b
}

// ID returns the owning user's id.
func (b *BuddyList) ID() string { return b.id }

// Added returns a sorted snapshot of the mutual-friend ids.
func (b *BuddyList) Added() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sortedKeys(b.added)
}

// Pending returns a sorted snapshot of the pending-request ids.
func (b *BuddyList) Pending() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sortedKeys(b.pending)
}

// Blocked returns a sorted snapshot of the blocked ids.
func (b *BuddyList) Blocked() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sortedKeys(b.blocked)
}

// Has reports whether uid appears in any of the three sets.
func (b *BuddyList) Has(uid string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.added[uid]; ok {
		return true
	}
	if _, ok := b.pending[uid]; ok {
		return true
	}
	_, ok := b.blocked[uid]
	return ok
}

// Set merges p into the list in place and returns the same instance.
func (b *BuddyList) Set(p BuddyListPatch) *BuddyList {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.Added != nil {
		b.added = toSet(p.Added)
	}
	if p.Pending != nil {
		b.pending = toSet(p.Pending)
	}
	if p.Blocked != nil {
		b.blocked = toSet(p.Blocked)
	}
	return b
}

// Copy returns a detached snapshot.
func (b *BuddyList) Copy() *BuddyList {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cp := newBuddyList(b.id)
	for k := range b.added {
		cp.added[k] = struct{}{}
	}
	for k := range b.pending {
		cp.pending[k] = struct{}{}
	}
	for k := range b.blocked {
		cp.blocked[k] = struct{}{}
	}
	return cp
}

// Doc projects the persisted fields, omitting empty sets.
func (b *BuddyList) Doc() backend.Doc {
	b.mu.RLock()
	defer b.mu.RUnlock()
	doc := backend.Doc{}
	if len(b.added) > 0 {
		doc["added"] = sortedKeys(b.added)
	}
	if len(b.pending) > 0 {
		doc["pending"] = sortedKeys(b.pending)
	}
	if len(b.blocked) > 0 {
		doc["blocked"] = sortedKeys(b.blocked)
	}
	return doc
}

func buddyListPatchFromDoc(doc backend.Doc) BuddyListPatch {
	var p BuddyListPatch
	if doc.Has("added") {
		p.Added = orEmpty(doc.Strings("added"))
	}
	if doc.Has("pending") {
		p.Pending = orEmpty(doc.Strings("pending"))
	}
	if doc.Has("blocked") {
		p.Blocked = orEmpty(doc.Strings("blocked"))
	}
	return p
}

func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func toSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, s := range in {
		out[s] = struct{}{}
	}
	return out
}

func sortedKeys(in map[string]struct{}) []string {
	out := make([]string, 0, len(in))
	for k := range in {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

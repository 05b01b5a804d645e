package client

import (
	"sync"

	"github.com/relaychat/client-go/events"
)

// CurrentUserStore holds the latest detached snapshot of the principal's
// user. It never aliases the live cache: every publication is a Copy taken
// at notification time, so consumers can hold a snapshot without seeing
// later cache mutations. A nil snapshot means signed out.
type CurrentUserStore struct {
	mu      sync.RWMutex
	cur     *User
	emitter events.Emitter[*User]
}

func newCurrentUserStore() *CurrentUserStore {
	return &CurrentUserStore{}
}

// Snapshot returns the latest published snapshot, nil when signed out.
func (s *CurrentUserStore) Snapshot() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Watch subscribes fn to snapshot publications.
func (s *CurrentUserStore) Watch(fn func(*User)) events.Handle {
	return s.emitter.Subscribe(fn)
}

// Unwatch removes a subscription created by Watch.
func (s *CurrentUserStore) Unwatch(h events.Handle) {
	s.emitter.Unsubscribe(h)
}

func (s *CurrentUserStore) publish(u *User) {
	s.mu.Lock()
	s.cur = u
	s.mu.Unlock()
	s.emitter.Emit(u)
}

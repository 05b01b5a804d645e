package memory

import (
	"sync"

	"github.com/relaychat/client-go/backend"
)

// Auth implements backend.Auth with an explicitly controlled principal.
type Auth struct {
	mu       sync.Mutex
	uid      string
	watchers map[int]func(string)
	nextID   int
	order    []int
}

// NewAuth returns a signed-out Auth.
func NewAuth() *Auth {
	return &Auth{watchers: make(map[int]func(string))}
}

// UID implements backend.Auth.
func (a *Auth) UID() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.uid, a.uid != ""
}

// WatchUID implements backend.Auth; fn runs with the current uid before
// WatchUID returns.
func (a *Auth) WatchUID(fn func(string)) backend.CancelFunc {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.watchers[id] = fn
	a.order = append(a.order, id)
	uid := a.uid
	a.mu.Unlock()
	fn(uid)
	return func() {
		a.mu.Lock()
		delete(a.watchers, id)
		a.mu.Unlock()
	}
}

// SignIn sets the principal and notifies watchers.
func (a *Auth) SignIn(uid string) { a.swap(uid) }

// SignOut clears the principal and notifies watchers.
func (a *Auth) SignOut() { a.swap("") }

func (a *Auth) swap(uid string) {
	a.mu.Lock()
	if a.uid == uid {
		a.mu.Unlock()
		return
	}
	a.uid = uid
	fns := make([]func(string), 0, len(a.watchers))
	for _, id := range a.order {
		if fn, ok := a.watchers[id]; ok {
			fns = append(fns, fn)
		}
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(uid)
	}
}

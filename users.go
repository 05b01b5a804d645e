package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/relaychat/client-go/backend"
	"github.com/relaychat/client-go/events"
)

// UserManager owns the user cache and the standing presence and profile
// subscriptions that keep it fresh. There is exactly one live User per id;
// re-fetching an id mutates the existing instance unless the fetch is
// forced, in which case a fresh instance replaces the slot and holders of
// the old reference stop seeing updates.
type UserManager struct {
	store backend.Store
	auth  backend.Auth
	log   zerolog.Logger
	cache *events.Map[string, *User]
	me    *CurrentUserStore

	cancels    []backend.CancelFunc
	cacheWatch events.Handle

	mu  sync.Mutex
	uid string
}

func newUserManager(store backend.Store, auth backend.Auth, log zerolog.Logger, me *CurrentUserStore) *UserManager {
	m := &UserManager{
		store: store,
		auth:  auth,
		log:   log.With().Str("manager", "users").Logger(),
		cache: events.NewMap[string, *User](),
		me:    me,
	}
	m.start()
	return m
}

func (m *UserManager) start() {
	// Presence fan-in: every (id, status) record refreshes an already
	// cached user. Presence never creates cache entries.
	if cancel, err := m.store.Watch(backend.Col(statusCollection), m.applyStatusChange); err != nil {
		m.log.Warn().Err(err).Msg("status feed unavailable")
	} else {
		m.cancels = append(m.cancels, cancel)
	}

	// Profile feed: modifications merge into cached instances. Additions
	// are not eagerly cached; Fetch is the insertion path.
	if cancel, err := m.store.Watch(backend.Col(usersCollection), m.applyProfileChange); err != nil {
		m.log.Warn().Err(err).Msg("profile feed unavailable")
	} else {
		m.cancels = append(m.cancels, cancel)
	}

	// Whenever the principal's cache entry changes, publish a detached
	// snapshot to the current-user store.
	m.cacheWatch = m.cache.Watch(func(ev events.CacheEvent[string, *User]) {
		if ev.Op != events.OpSet && ev.Op != events.OpChanged {
			return
		}
		if ev.Key != m.principal() || ev.Value == nil {
			return
		}
		m.me.publish(ev.Value.Copy())
	})
}

func (m *UserManager) close() {
	for _, cancel := range m.cancels {
		cancel()
	}
	m.cancels = nil
	m.cache.Unwatch(m.cacheWatch)
}

func (m *UserManager) setPrincipal(uid string) {
	m.mu.Lock()
	m.uid = uid
	m.mu.Unlock()
	if uid == "" {
		m.me.publish(nil)
	}
}

func (m *UserManager) principal() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uid
}

func (m *UserManager) notifyChanged(id string) {
	m.cache.Changed(id)
}

func (m *UserManager) applyStatusChange(change backend.Change) {
	feedChangesTotal.WithLabelValues("status", change.Kind.String()).Inc()
	if change.Kind == backend.Removed {
		return
	}
	u, ok := m.cache.Get(change.ID)
	if !ok {
		return
	}
	s, a := presenceFromDoc(change.Doc)
	u.setPresence(s, a)
}

func (m *UserManager) applyProfileChange(change backend.Change) {
	feedChangesTotal.WithLabelValues("users", change.Kind.String()).Inc()
	if change.Kind != backend.Modified {
		return
	}
	u, ok := m.cache.Get(change.ID)
	if !ok {
		return
	}
	if u.merge(userPatchFromDoc(change.Doc)) {
		m.cache.Changed(change.ID)
	}
}

// Fetch returns the user for id. Without force a cached instance is
// returned as-is, with zero remote reads. Otherwise the profile and
// presence documents are read, merged into a new User that replaces the
// cache slot, and returned. Read failures and missing documents yield nil.
func (m *UserManager) Fetch(ctx context.Context, id string, force bool) *User {
	if id == "" {
		return nil
	}
	if !force {
		if u, ok := m.cache.Get(id); ok {
			cacheHitsTotal.WithLabelValues("user").Inc()
			return u
		}
	}
	cacheMissesTotal.WithLabelValues("user").Inc()
	doc, err := m.store.Get(ctx, usersCollection, id)
	if err != nil {
		m.log.Debug().Err(err).Str("id", id).Msg("user fetch failed")
		return nil
	}
	u := newUserFromDoc(id, doc)
	if sdoc, err := m.store.Get(ctx, statusCollection, id); err == nil {
		u.applyStatusDoc(sdoc)
	}
	u.notify = m.notifyChanged
	m.cache.Set(id, u)
	return u
}

// CurrentUser returns the authenticated principal's user, nil when signed
// out.
func (m *UserManager) CurrentUser(ctx context.Context, force bool) *User {
	uid, ok := m.auth.UID()
	if !ok {
		return nil
	}
	return m.Fetch(ctx, uid, force)
}

// SetStatus writes the principal's presence state.
func (m *UserManager) SetStatus(ctx context.Context, s Status) error {
	uid, ok := m.auth.UID()
	if !ok {
		return ErrNotSignedIn
	}
	return m.store.Update(ctx, statusCollection, uid, backend.Doc{"state": string(s)})
}

// SetActivity writes the principal's activity descriptor. A nil activity
// clears it.
func (m *UserManager) SetActivity(ctx context.Context, a *Activity) error {
	uid, ok := m.auth.UID()
	if !ok {
		return ErrNotSignedIn
	}
	fields := backend.Doc{"activity": nil}
	if a != nil {
		fields["activity"] = map[string]any{"text": a.Text, "emoji": a.Emoji}
	}
	return m.store.Update(ctx, statusCollection, uid, fields)
}

// CreateNew provisions a profile for the principal. It is idempotent: when
// a profile document already exists it returns (nil, nil) and writes
// nothing. A fresh profile gets a random discriminator and offline status.
func (m *UserManager) CreateNew(ctx context.Context) (*User, error) {
	uid, ok := m.auth.UID()
	if !ok {
		return nil, ErrNotSignedIn
	}
	_, err := m.store.Get(ctx, usersCollection, uid)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, backend.ErrNotFound) {
		return nil, fmt.Errorf("create user: %w", err)
	}
	u := newUser(uid)
	u.discriminator = rand.Intn(9000)
	if err := m.store.Set(ctx, usersCollection, uid, u.Doc()); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := m.store.Set(ctx, statusCollection, uid, backend.Doc{"state": string(StatusOffline)}); err != nil {
		return nil, fmt.Errorf("create user status: %w", err)
	}
	u.notify = m.notifyChanged
	m.cache.Set(uid, u)
	return u, nil
}

// Update merges the patch into the principal's profile document. When an
// avatar blob is supplied it is uploaded first and the resulting URL
// substituted for the image field.
func (m *UserManager) Update(ctx context.Context, p UserPatch, avatar []byte) error {
	uid, ok := m.auth.UID()
	if !ok {
		return ErrNotSignedIn
	}
	if avatar != nil {
		url, err := m.store.Upload(ctx, "avatars/"+uid, avatar)
		if err != nil {
			return fmt.Errorf("upload avatar: %w", err)
		}
		p.Image = &url
	}
	fields := userPatchDoc(p)
	if len(fields) == 0 {
		return nil
	}
	return m.store.Update(ctx, usersCollection, uid, fields)
}

// Get returns the cached user without touching the network.
func (m *UserManager) Get(id string) (*User, bool) { return m.cache.Get(id) }

// Has reports whether id is cached.
func (m *UserManager) Has(id string) bool { return m.cache.Has(id) }

// Values returns a snapshot of the cached users.
func (m *UserManager) Values() []*User { return m.cache.Values() }

// Watch subscribes to the cache's events.
func (m *UserManager) Watch(fn func(events.CacheEvent[string, *User])) events.Handle {
	return m.cache.Watch(fn)
}

// Unwatch removes a cache subscription.
func (m *UserManager) Unwatch(h events.Handle) { m.cache.Unwatch(h) }

// userPatchDoc projects the fields a patch carries into a merge document.
func userPatchDoc(p UserPatch) backend.Doc {
	doc := backend.Doc{}
	if p.Name != nil {
		doc["name"] = *p.Name
	}
	if p.Discriminator != nil {
		doc["discriminator"] = *p.Discriminator
	}
	if p.Banner != nil {
		doc["banner"] = *p.Banner
	}
	if p.About != nil {
		doc["about"] = *p.About
	}
	if p.Image != nil {
		doc["image"] = *p.Image
	}
	if p.Badges != nil {
		doc["badges"] = p.Badges
	}
	return doc
}

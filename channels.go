package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/relaychat/client-go/backend"
	"github.com/relaychat/client-go/events"
	"github.com/relaychat/client-go/internal/shardqueue"
)

// ChannelManager owns the channel cache and the standing membership
// subscription. The subscription follows the principal: on every identity
// change the previous watch is torn down, the cache cleared, and a new
// watch established for "channels where participants[uid] == true".
type ChannelManager struct {
	store backend.Store
	auth  backend.Auth
	exec  executor
	log   zerolog.Logger
	cache *events.Map[string, *Channel]

	mu     sync.Mutex
	uid    string
	cancel backend.CancelFunc
}

func newChannelManager(store backend.Store, auth backend.Auth, exec executor, log zerolog.Logger) *ChannelManager {
	return &ChannelManager{
		store: store,
		auth:  auth,
		exec:  exec,
		log:   log.With().Str("manager", "channels").Logger(),
		cache: events.NewMap[string, *Channel](),
	}
}

func (m *ChannelManager) close() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *ChannelManager) setPrincipal(uid string) {
	m.mu.Lock()
	if uid == m.uid && m.cancel != nil {
		m.mu.Unlock()
		return
	}
	old := m.cancel
	m.cancel = nil
	first := m.uid == "" && old == nil
	m.uid = uid
	m.mu.Unlock()

	// Tear down before re-subscribing so the old feed cannot interleave
	// deliveries with the new one.
	if old != nil {
		old()
	}
	if !first {
		m.cache.Clear()
	}
	if uid == "" {
		return
	}
	q := backend.Col(channelsCollection).WhereEq("participants."+uid, true)
	cancel, err := m.store.Watch(q, m.applyChannelChange)
	if err != nil {
		m.log.Warn().Err(err).Str("uid", uid).Msg("channel feed unavailable")
		return
	}
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
}

func (m *ChannelManager) applyChannelChange(change backend.Change) {
	feedChangesTotal.WithLabelValues("channels", change.Kind.String()).Inc()
	switch change.Kind {
	case backend.Added:
		m.cache.Set(change.ID, newChannelFromDoc(change.ID, change.Doc, m))
	case backend.Modified:
		ch, ok := m.cache.Get(change.ID)
		if !ok {
			// a modification for a channel we never saw added; treat it
			// as an addition
			m.cache.Set(change.ID, newChannelFromDoc(change.ID, change.Doc, m))
			return
		}
		if ch.merge(channelPatchFromDoc(change.Doc)) {
			// both the instance event and the cache changed event fire;
			// UI code relies on either
			m.cache.Changed(change.ID)
		}
	case backend.Removed:
		m.cache.Delete(change.ID)
	}
}

// Fetch returns the channel for id with the same cache-or-network contract
// as UserManager.Fetch, backed by a single document read.
func (m *ChannelManager) Fetch(ctx context.Context, id string, force bool) *Channel {
	if id == "" {
		return nil
	}
	if !force {
		if ch, ok := m.cache.Get(id); ok {
			cacheHitsTotal.WithLabelValues("channel").Inc()
			return ch
		}
	}
	cacheMissesTotal.WithLabelValues("channel").Inc()
	doc, err := m.store.Get(ctx, channelsCollection, id)
	if err != nil {
		m.log.Debug().Err(err).Str("id", id).Msg("channel fetch failed")
		return nil
	}
	ch := newChannelFromDoc(id, doc, m)
	m.cache.Set(id, ch)
	return ch
}

// Upset persists ch, assigning a generated id when it has none, and returns
// the id. The channel document and the participant side-index are written
// separately; both writes are attempted and a failure of either is
// returned, but a partial failure leaves the two stores divergent.
func (m *ChannelManager) Upset(ctx context.Context, ch *Channel) (string, error) {
	ch.mu.Lock()
	if ch.id == "" {
		ch.id = GenerateID()
	}
	id := ch.id
	ch.mgr = m
	ch.mu.Unlock()

	docErr := m.store.Set(ctx, channelsCollection, id, ch.Doc())
	memberErr := m.store.Set(ctx, membersCollection, id, backend.Doc(anyBoolMap(ch.Participants())))
	if docErr != nil {
		return id, fmt.Errorf("upset channel: %w", docErr)
	}
	if memberErr != nil {
		return id, fmt.Errorf("upset channel members: %w", memberErr)
	}
	return id, nil
}

// CreateDM returns the id of the direct-message channel between the
// principal and other, creating it when none exists. A matching channel
// whose document is unexpectedly empty yields ErrDMAlreadyExists.
func (m *ChannelManager) CreateDM(ctx context.Context, other string) (string, error) {
	uid, ok := m.auth.UID()
	if !ok {
		return "", ErrNotSignedIn
	}
	q := backend.Col(channelsCollection).
		WhereEq("isDM", true).
		WhereEq("participants."+uid, true).
		WhereEq("participants."+other, true)
	snaps, err := m.store.Query(ctx, q)
	if err != nil {
		return "", fmt.Errorf("query dm channels: %w", err)
	}
	if len(snaps) > 0 {
		if len(snaps[0].Doc) == 0 {
			return "", ErrDMAlreadyExists
		}
		return snaps[0].ID, nil
	}
	dm := true
	ch := NewChannel("")
	ch.applySilently(ChannelPatch{
		IsDM:         &dm,
		Participants: map[string]bool{uid: true, other: true},
	})
	return m.Upset(ctx, ch)
}

// FetchInvite resolves an invite phrase to its target channel id.
func (m *ChannelManager) FetchInvite(ctx context.Context, phrase string) (string, error) {
	doc, err := m.store.Get(ctx, invitesCollection, phrase)
	if err != nil {
		return "", err
	}
	cid := doc.Str("channel")
	if cid == "" {
		return "", ErrNotFound
	}
	return cid, nil
}

// AcceptInvite resolves the invite and adds the principal to the target
// channel's participant set, persisting both the document and the
// side-index.
func (m *ChannelManager) AcceptInvite(ctx context.Context, phrase string) error {
	uid, ok := m.auth.UID()
	if !ok {
		return ErrNotSignedIn
	}
	cid, err := m.FetchInvite(ctx, phrase)
	if err != nil {
		return err
	}
	doc, err := m.store.Get(ctx, channelsCollection, cid)
	if err != nil {
		return fmt.Errorf("accept invite: %w", err)
	}
	parts := doc.BoolMap("participants")
	if parts == nil {
		parts = make(map[string]bool)
	}
	parts[uid] = true
	if err := m.store.Update(ctx, channelsCollection, cid, backend.Doc{"participants": anyBoolMap(parts)}); err != nil {
		return fmt.Errorf("accept invite: %w", err)
	}
	return m.store.Set(ctx, membersCollection, cid, backend.Doc(anyBoolMap(parts)))
}

func (m *ChannelManager) enqueueWrite(ctx context.Context, key string, fn func(context.Context) error) error {
	return m.exec.Submit(ctx, key, shardqueue.JobFunc(fn))
}

// Get returns the cached channel without touching the network.
func (m *ChannelManager) Get(id string) (*Channel, bool) { return m.cache.Get(id) }

// Has reports whether id is cached.
func (m *ChannelManager) Has(id string) bool { return m.cache.Has(id) }

// Values returns a snapshot of the cached channels.
func (m *ChannelManager) Values() []*Channel { return m.cache.Values() }

// Watch subscribes to the cache's events.
func (m *ChannelManager) Watch(fn func(events.CacheEvent[string, *Channel])) events.Handle {
	return m.cache.Watch(fn)
}

// Unwatch removes a cache subscription.
func (m *ChannelManager) Unwatch(h events.Handle) { m.cache.Unwatch(h) }

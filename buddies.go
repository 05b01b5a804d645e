package client

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/relaychat/client-go/backend"
	"github.com/relaychat/client-go/events"
)

// BuddyListStore follows the principal's buddy-list document. It keeps one
// live BuddyList mutated in place as value updates arrive and publishes a
// detached snapshot per update. The value watch is re-established on every
// principal change, previous watch first.
type BuddyListStore struct {
	store backend.Store
	log   zerolog.Logger

	mu     sync.Mutex
	uid    string
	cancel backend.CancelFunc
	live   *BuddyList
	cur    *BuddyList

	emitter events.Emitter[*BuddyList]
}

func newBuddyListStore(store backend.Store, log zerolog.Logger) *BuddyListStore {
	return &BuddyListStore{
		store: store,
		log:   log.With().Str("store", "buddies").Logger(),
	}
}

func (s *BuddyListStore) close() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *BuddyListStore) setPrincipal(uid string) {
	s.mu.Lock()
	old := s.cancel
	s.cancel = nil
	s.uid = uid
	s.live = nil
	s.mu.Unlock()

	if old != nil {
		old()
	}
	if uid == "" {
		s.publish(nil)
		return
	}
	cancel, err := s.store.WatchValue(buddyListsCollection, uid, s.applyDoc)
	if err != nil {
		s.log.Warn().Err(err).Str("uid", uid).Msg("buddy list feed unavailable")
		return
	}
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

func (s *BuddyListStore) applyDoc(doc backend.Doc) {
	s.mu.Lock()
	uid := s.uid
	if s.live == nil {
		s.live = newBuddyListFromDoc(uid, doc)
	} else {
		s.live.Set(buddyListPatchFromDoc(doc))
	}
	snap := s.live.Copy()
	s.mu.Unlock()
	s.publish(snap)
}

func (s *BuddyListStore) publish(b *BuddyList) {
	s.mu.Lock()
	s.cur = b
	s.mu.Unlock()
	s.emitter.Emit(b)
}

// Snapshot returns the latest published snapshot, nil when signed out or
// before the first value delivery.
func (s *BuddyListStore) Snapshot() *BuddyList {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Watch subscribes fn to snapshot publications.
func (s *BuddyListStore) Watch(fn func(*BuddyList)) events.Handle {
	return s.emitter.Subscribe(fn)
}

// Unwatch removes a subscription created by Watch.
func (s *BuddyListStore) Unwatch(h events.Handle) {
	s.emitter.Unsubscribe(h)
}

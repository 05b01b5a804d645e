package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaychat/client-go/backend"
	"github.com/relaychat/client-go/backend/memory"
	"github.com/relaychat/client-go/events"
)

func TestUpsetWritesDocumentAndMemberIndex(t *testing.T) {
	store := memory.NewStore()
	c, auth := newTestClient(t, store)
	ctx := context.Background()
	auth.SignIn("me")

	ch := NewChannel("general")
	ch.AddParticipant("me")
	id, err := c.Channels.Upset(ctx, ch)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" || ch.ID() != id {
		t.Fatalf("id = %q, ch.ID = %q", id, ch.ID())
	}

	doc, err := store.Get(ctx, channelsCollection, id)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Str("name") != "general" || !doc.BoolMap("participants")["me"] {
		t.Fatalf("channel doc = %v", doc)
	}

	members, err := store.Get(ctx, membersCollection, id)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := members["me"].(bool); !v {
		t.Fatalf("member index = %v", members)
	}

	// The membership feed echoes the write back into the cache.
	if !c.Channels.Has(id) {
		t.Fatal("created channel not cached via the membership feed")
	}
}

func TestUpsetKeepsExistingID(t *testing.T) {
	store := memory.NewStore()
	c, auth := newTestClient(t, store)
	auth.SignIn("me")

	ch := NewChannel("general")
	ch.AddParticipant("me")
	first, err := c.Channels.Upset(context.Background(), ch)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Channels.Upset(context.Background(), ch)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("ids differ: %q vs %q", first, second)
	}
}

func TestCreateDMDeduplicates(t *testing.T) {
	store := memory.NewStore()
	c, auth := newTestClient(t, store)
	ctx := context.Background()

	if _, err := c.Channels.CreateDM(ctx, "other"); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("signed-out CreateDM err = %v", err)
	}

	auth.SignIn("me")
	id1, err := c.Channels.CreateDM(ctx, "other")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := c.Channels.CreateDM(ctx, "other")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("duplicate DM created: %q vs %q", id1, id2)
	}

	snaps, err := store.Query(ctx, backend.Col(channelsCollection).WhereEq("isDM", true))
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 {
		t.Fatalf("found %d DM documents, want 1", len(snaps))
	}
	doc := snaps[0].Doc
	parts := doc.BoolMap("participants")
	if !parts["me"] || !parts["other"] {
		t.Fatalf("participants = %v", parts)
	}
}

// emptyDMStore simulates a backend returning a matching DM whose document
// is empty.
type emptyDMStore struct {
	backend.Store
}

func (s *emptyDMStore) Query(context.Context, backend.Query) ([]backend.Snapshot, error) {
	return []backend.Snapshot{{ID: "dm1", Doc: backend.Doc{}}}, nil
}

func TestCreateDMEmptyMatchIsAnError(t *testing.T) {
	c, auth := newTestClient(t, &emptyDMStore{Store: memory.NewStore()})
	auth.SignIn("me")
	if _, err := c.Channels.CreateDM(context.Background(), "other"); !errors.Is(err, ErrDMAlreadyExists) {
		t.Fatalf("err = %v, want ErrDMAlreadyExists", err)
	}
}

func TestMembershipFeedFollowsPrincipal(t *testing.T) {
	store := memory.NewStore()
	c, auth := newTestClient(t, store)
	ctx := context.Background()

	if err := store.Set(ctx, channelsCollection, "c1", backend.Doc{
		"name": "alpha", "participants": map[string]any{"u1": true},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, channelsCollection, "c2", backend.Doc{
		"name": "beta", "participants": map[string]any{"u2": true},
	}); err != nil {
		t.Fatal(err)
	}

	auth.SignIn("u1")
	if !c.Channels.Has("c1") || c.Channels.Has("c2") {
		t.Fatalf("u1 cache = %v", c.Channels.Values())
	}

	var cleared bool
	c.Channels.Watch(func(ev events.CacheEvent[string, *Channel]) {
		if ev.Op == events.OpClear {
			cleared = true
		}
	})

	auth.SignIn("u2")
	if !cleared {
		t.Fatal("principal change did not clear the cache")
	}
	if !c.Channels.Has("c2") || c.Channels.Has("c1") {
		t.Fatalf("u2 cache = %v", c.Channels.Values())
	}

	auth.SignOut()
	if len(c.Channels.Values()) != 0 {
		t.Fatal("sign-out left channels cached")
	}
}

func TestChannelFeedModifiedMergesInPlace(t *testing.T) {
	store := memory.NewStore()
	c, auth := newTestClient(t, store)
	ctx := context.Background()

	if err := store.Set(ctx, channelsCollection, "c1", backend.Doc{
		"name": "alpha", "participants": map[string]any{"u1": true},
	}); err != nil {
		t.Fatal(err)
	}
	auth.SignIn("u1")

	ch, ok := c.Channels.Get("c1")
	if !ok {
		t.Fatal("channel not cached")
	}

	var changed int
	c.Channels.Watch(func(ev events.CacheEvent[string, *Channel]) {
		if ev.Op == events.OpChanged && ev.Key == "c1" {
			changed++
		}
	})
	var updated int
	ch.Watch(func(ev ChannelEvent) {
		if ev.Kind == ChannelUpdated {
			updated++
		}
	})

	if err := store.Update(ctx, channelsCollection, "c1", backend.Doc{"description": "the topic"}); err != nil {
		t.Fatal(err)
	}

	if got, _ := c.Channels.Get("c1"); got != ch {
		t.Fatal("modification replaced the cached instance")
	}
	if ch.Description() != "the topic" {
		t.Fatalf("description = %q", ch.Description())
	}
	if ch.Name() != "alpha" {
		t.Fatalf("name = %q, merge clobbered an absent field", ch.Name())
	}
	if changed != 1 || updated != 1 {
		t.Fatalf("changed=%d updated=%d, want 1/1 (both signals fire)", changed, updated)
	}
}

func TestChannelFeedRemovedDropsEntry(t *testing.T) {
	store := memory.NewStore()
	c, auth := newTestClient(t, store)
	ctx := context.Background()

	if err := store.Set(ctx, channelsCollection, "c1", backend.Doc{
		"participants": map[string]any{"u1": true},
	}); err != nil {
		t.Fatal(err)
	}
	auth.SignIn("u1")

	var deleted bool
	c.Channels.Watch(func(ev events.CacheEvent[string, *Channel]) {
		if ev.Op == events.OpDelete && ev.Key == "c1" {
			deleted = true
		}
	})

	// Dropping u1 from the participant map removes the doc from the
	// principal's view even though it still exists.
	if err := store.Update(ctx, channelsCollection, "c1", backend.Doc{
		"participants": map[string]any{"u2": true},
	}); err != nil {
		t.Fatal(err)
	}
	if c.Channels.Has("c1") || !deleted {
		t.Fatal("leaving the channel did not evict it")
	}
}

func TestFetchChannelCachesInstance(t *testing.T) {
	store := memory.NewStore()
	c, _ := newTestClient(t, store)
	ctx := context.Background()

	if err := store.Set(ctx, channelsCollection, "c1", backend.Doc{"name": "alpha"}); err != nil {
		t.Fatal(err)
	}

	ch := c.Channels.Fetch(ctx, "c1", false)
	if ch == nil || ch.Name() != "alpha" {
		t.Fatalf("fetch = %+v", ch)
	}
	if again := c.Channels.Fetch(ctx, "c1", false); again != ch {
		t.Fatal("cached fetch returned a different instance")
	}
	if forced := c.Channels.Fetch(ctx, "c1", true); forced == ch {
		t.Fatal("forced fetch returned the cached instance")
	}
	if c.Channels.Fetch(ctx, "ghost", false) != nil {
		t.Fatal("missing channel must yield nil")
	}
}

func TestInvites(t *testing.T) {
	store := memory.NewStore()
	c, auth := newTestClient(t, store)
	ctx := context.Background()

	if err := store.Set(ctx, channelsCollection, "c1", backend.Doc{
		"name": "alpha", "participants": map[string]any{"owner": true},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, invitesCollection, "join-alpha", backend.Doc{"channel": "c1"}); err != nil {
		t.Fatal(err)
	}

	cid, err := c.Channels.FetchInvite(ctx, "join-alpha")
	if err != nil || cid != "c1" {
		t.Fatalf("FetchInvite = %q, %v", cid, err)
	}
	if _, err := c.Channels.FetchInvite(ctx, "bogus"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown invite err = %v", err)
	}

	if err := c.Channels.AcceptInvite(ctx, "join-alpha"); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("signed-out accept err = %v", err)
	}

	auth.SignIn("me")
	if err := c.Channels.AcceptInvite(ctx, "join-alpha"); err != nil {
		t.Fatal(err)
	}

	doc, err := store.Get(ctx, channelsCollection, "c1")
	if err != nil {
		t.Fatal(err)
	}
	parts := doc.BoolMap("participants")
	if !parts["me"] || !parts["owner"] {
		t.Fatalf("participants = %v", parts)
	}
	members, err := store.Get(ctx, membersCollection, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := members["me"].(bool); !v {
		t.Fatalf("member index = %v", members)
	}
	// Joining makes c1 visible on the principal's membership feed.
	if !c.Channels.Has("c1") {
		t.Fatal("accepted channel not cached")
	}
}

// A stale feed record rejected by the revision guard must produce no
// cache notification, not an empty-handed changed event.
func TestChannelFeedStaleRecordEmitsNothing(t *testing.T) {
	store := memory.NewStore()
	c, auth := newTestClient(t, store)
	ctx := context.Background()

	t1 := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	if err := store.Set(ctx, channelsCollection, "c1", backend.Doc{
		"name": "alpha", "participants": map[string]any{"u1": true},
		"updatedAt": t2.Format(time.RFC3339Nano),
	}); err != nil {
		t.Fatal(err)
	}
	auth.SignIn("u1")

	ch, ok := c.Channels.Get("c1")
	if !ok {
		t.Fatal("channel not cached")
	}

	var changed, updated int
	c.Channels.Watch(func(ev events.CacheEvent[string, *Channel]) {
		if ev.Op == events.OpChanged && ev.Key == "c1" {
			changed++
		}
	})
	ch.Watch(func(ev ChannelEvent) {
		if ev.Kind == ChannelUpdated {
			updated++
		}
	})

	// A slow record with an earlier revision arrives after a later one.
	if err := store.Update(ctx, channelsCollection, "c1", backend.Doc{
		"name": "stale", "updatedAt": t1.Format(time.RFC3339Nano),
	}); err != nil {
		t.Fatal(err)
	}

	if ch.Name() != "alpha" {
		t.Fatalf("name = %q, stale patch was applied", ch.Name())
	}
	if changed != 0 || updated != 0 {
		t.Fatalf("changed=%d updated=%d, stale record must emit nothing", changed, updated)
	}

	// A fresh record still flows through both signals.
	if err := store.Update(ctx, channelsCollection, "c1", backend.Doc{
		"name": "beta", "updatedAt": t2.Add(time.Minute).Format(time.RFC3339Nano),
	}); err != nil {
		t.Fatal(err)
	}
	if ch.Name() != "beta" || changed != 1 || updated != 1 {
		t.Fatalf("name=%q changed=%d updated=%d after fresh record", ch.Name(), changed, updated)
	}
}

func TestChannelRevGuard(t *testing.T) {
	ch := NewChannel("alpha")
	name := "newer"
	older := "older"

	t1 := ch.CreatedAt()
	t2 := t1.Add(1)
	ch.Set(ChannelPatch{Name: &name, Rev: t2})
	ch.Set(ChannelPatch{Name: &older, Rev: t1})

	if ch.Name() != "newer" {
		t.Fatalf("Name = %q, stale patch was applied", ch.Name())
	}
}

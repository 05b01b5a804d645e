package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaychat/client-go/backend"
)

func TestGetSetUpdateDelete(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "users", "u1"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("missing Get err = %v", err)
	}

	if err := s.Set(ctx, "users", "u1", backend.Doc{"name": "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Update(ctx, "users", "u1", backend.Doc{"about": "hi"}); err != nil {
		t.Fatal(err)
	}

	doc, err := s.Get(ctx, "users", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Str("name") != "alice" || doc.Str("about") != "hi" {
		t.Fatalf("doc = %v, Update must merge", doc)
	}

	// Update on a missing id creates the document.
	if err := s.Update(ctx, "users", "u2", backend.Doc{"name": "bob"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "users", "u2"); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, "users", "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "users", "u1"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("deleted Get err = %v", err)
	}
	// Deleting again is not an error.
	if err := s.Delete(ctx, "users", "u1"); err != nil {
		t.Fatal(err)
	}
}

func TestGetReturnsDetachedDoc(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	if err := s.Set(ctx, "users", "u1", backend.Doc{"name": "alice"}); err != nil {
		t.Fatal(err)
	}
	doc, _ := s.Get(ctx, "users", "u1")
	doc["name"] = "mutated"
	again, _ := s.Get(ctx, "users", "u1")
	if again.Str("name") != "alice" {
		t.Fatal("Get leaked the stored map")
	}
}

func TestQueryDottedPaths(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(s.Set(ctx, "channels", "c1", backend.Doc{
		"isDM": true, "participants": map[string]any{"a": true, "b": true},
	}))
	must(s.Set(ctx, "channels", "c2", backend.Doc{
		"isDM": true, "participants": map[string]any{"a": true, "c": true},
	}))
	must(s.Set(ctx, "channels", "c3", backend.Doc{
		"participants": map[string]any{"a": true, "b": true},
	}))

	q := backend.Col("channels").
		WhereEq("isDM", true).
		WhereEq("participants.a", true).
		WhereEq("participants.b", true)
	snaps, err := s.Query(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || snaps[0].ID != "c1" {
		t.Fatalf("snaps = %+v, want just c1", snaps)
	}
}

func TestWatchDeliversInitialAndSubsequentChanges(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	if err := s.Set(ctx, "users", "u1", backend.Doc{"name": "alice"}); err != nil {
		t.Fatal(err)
	}

	var changes []backend.Change
	cancel, err := s.Watch(backend.Col("users"), func(ch backend.Change) {
		changes = append(changes, ch)
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(changes) != 1 || changes[0].Kind != backend.Added || changes[0].ID != "u1" {
		t.Fatalf("initial delivery = %+v", changes)
	}

	if err := s.Update(ctx, "users", "u1", backend.Doc{"about": "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "users", "u1"); err != nil {
		t.Fatal(err)
	}

	if len(changes) != 3 {
		t.Fatalf("got %d changes, want 3", len(changes))
	}
	if changes[1].Kind != backend.Modified || changes[2].Kind != backend.Removed {
		t.Fatalf("kinds = %v %v", changes[1].Kind, changes[2].Kind)
	}
	if changes[2].Doc.Str("name") != "alice" {
		t.Fatalf("removal change doc = %v, want the last value", changes[2].Doc)
	}

	cancel()
	if err := s.Set(ctx, "users", "u2", backend.Doc{}); err != nil {
		t.Fatal(err)
	}
	if len(changes) != 3 {
		t.Fatal("change delivered after cancel")
	}
}

func TestWatchFilterTransitions(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	var kinds []backend.ChangeKind
	_, err := s.Watch(backend.Col("channels").WhereEq("participants.me", true), func(ch backend.Change) {
		kinds = append(kinds, ch.Kind)
	})
	if err != nil {
		t.Fatal(err)
	}

	// Not matching yet: no delivery.
	if err := s.Set(ctx, "channels", "c1", backend.Doc{
		"participants": map[string]any{"other": true},
	}); err != nil {
		t.Fatal(err)
	}
	// Entering the filter is an addition, even though the doc existed.
	if err := s.Set(ctx, "channels", "c1", backend.Doc{
		"participants": map[string]any{"me": true},
	}); err != nil {
		t.Fatal(err)
	}
	// Staying inside is a modification.
	if err := s.Update(ctx, "channels", "c1", backend.Doc{"name": "x"}); err != nil {
		t.Fatal(err)
	}
	// Leaving the filter is a removal, even though the doc survives.
	if err := s.Set(ctx, "channels", "c1", backend.Doc{
		"participants": map[string]any{"other": true},
	}); err != nil {
		t.Fatal(err)
	}

	want := []backend.ChangeKind{backend.Added, backend.Modified, backend.Removed}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
	}
}

func TestWatchValue(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	if err := s.Set(ctx, "buddylists", "me", backend.Doc{"added": []string{"a"}}); err != nil {
		t.Fatal(err)
	}

	var docs []backend.Doc
	cancel, err := s.WatchValue("buddylists", "me", func(d backend.Doc) {
		docs = append(docs, d)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("initial deliveries = %d, want 1", len(docs))
	}

	if err := s.Update(ctx, "buddylists", "me", backend.Doc{"pending": []string{"p"}}); err != nil {
		t.Fatal(err)
	}
	// A different id does not notify this watch.
	if err := s.Set(ctx, "buddylists", "you", backend.Doc{}); err != nil {
		t.Fatal(err)
	}

	if len(docs) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(docs))
	}
	if !docs[1].Has("pending") {
		t.Fatalf("second delivery = %v", docs[1])
	}

	cancel()
	if err := s.Update(ctx, "buddylists", "me", backend.Doc{"x": 1}); err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatal("delivery after cancel")
	}
}

func TestWatchValueMissingDocDeliversNothing(t *testing.T) {
	s := NewStore()
	delivered := false
	cancel, err := s.WatchValue("buddylists", "ghost", func(backend.Doc) { delivered = true })
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()
	if delivered {
		t.Fatal("missing doc delivered")
	}
}

func TestCallbacksMayReenterStore(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.Watch(backend.Col("a"), func(ch backend.Change) {
		if ch.Kind == backend.Added {
			if err := s.Set(ctx, "b", ch.ID, backend.Doc{"echo": true}); err != nil {
				t.Error(err)
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Set(ctx, "a", "x", backend.Doc{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "b", "x"); err != nil {
		t.Fatalf("re-entrant write missing: %v", err)
	}
}

// A watch canceled by another callback in the same mutation must not
// receive that mutation's delivery.
func TestWatchCancelFromCallbackStopsSameBatchDelivery(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	var cancelB backend.CancelFunc
	_, err := s.Watch(backend.Col("users"), func(backend.Change) {
		cancelB()
	})
	if err != nil {
		t.Fatal(err)
	}
	var bFired int32
	cancelB, err = s.Watch(backend.Col("users"), func(backend.Change) {
		atomic.AddInt32(&bFired, 1)
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Set(ctx, "users", "u1", backend.Doc{"name": "alice"}); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&bFired); n != 0 {
		t.Fatalf("canceled watch fired %d times", n)
	}
}

// Cancel must block until an in-flight delivery on another goroutine has
// finished, so that no callback runs after cancel returns.
func TestWatchCancelWaitsForInFlightDelivery(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var fired int32
	cancel, err := s.Watch(backend.Col("users"), func(backend.Change) {
		if atomic.AddInt32(&fired, 1) == 1 {
			close(entered)
			<-release
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		if err := s.Set(ctx, "users", "u1", backend.Doc{"name": "alice"}); err != nil {
			t.Error(err)
		}
	}()
	<-entered

	canceled := make(chan struct{})
	go func() {
		cancel()
		close(canceled)
	}()
	select {
	case <-canceled:
		t.Fatal("cancel returned while a delivery was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-canceled

	if err := s.Set(ctx, "users", "u2", backend.Doc{"name": "bob"}); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&fired); n != 1 {
		t.Fatalf("deliveries = %d, want 1", n)
	}
}

func TestWatchValueCancelFromWatchCallback(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	var cancelVal backend.CancelFunc
	_, err := s.Watch(backend.Col("status"), func(backend.Change) {
		cancelVal()
	})
	if err != nil {
		t.Fatal(err)
	}
	var valFired int32
	cancelVal, err = s.WatchValue("status", "u1", func(backend.Doc) {
		atomic.AddInt32(&valFired, 1)
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Set(ctx, "status", "u1", backend.Doc{"state": "online"}); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&valFired); n != 0 {
		t.Fatalf("canceled value watch fired %d times", n)
	}
}

func TestUploadAndBlob(t *testing.T) {
	s := NewStore()
	url, err := s.Upload(context.Background(), "avatars/me", []byte{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if url != "memory://avatars/me" {
		t.Fatalf("url = %q", url)
	}
	b, ok := s.Blob("avatars/me")
	if !ok || len(b) != 2 {
		t.Fatalf("blob = %v, %v", b, ok)
	}
}

func TestAuthSignInNotifiesInOrder(t *testing.T) {
	a := NewAuth()

	if _, ok := a.UID(); ok {
		t.Fatal("fresh auth reported a principal")
	}

	var got []string
	cancel := a.WatchUID(func(uid string) { got = append(got, "w1:"+uid) })
	a.WatchUID(func(uid string) { got = append(got, "w2:"+uid) })

	a.SignIn("me")
	a.SignIn("me") // no-op, same principal
	a.SignOut()

	want := []string{"w1:", "w2:", "w1:me", "w2:me", "w1:", "w2:"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	cancel()
	a.SignIn("you")
	for _, s := range got {
		if s == "w1:you" {
			t.Fatal("canceled watcher notified")
		}
	}
}

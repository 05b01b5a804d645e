package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/relaychat/client-go/backend"
)

type changeEvent struct {
	Kind string      `json:"kind"`
	ID   string      `json:"id"`
	Doc  backend.Doc `json:"doc"`
}

func (e changeEvent) kind() (backend.ChangeKind, error) {
	switch e.Kind {
	case "added":
		return backend.Added, nil
	case "modified":
		return backend.Modified, nil
	case "removed":
		return backend.Removed, nil
	default:
		return 0, errors.Errorf("unknown change kind %q", e.Kind)
	}
}

// Watch implements backend.Store. The stream reconnects with exponential
// backoff; after a reconnect the server replays current matches as "added"
// events, which is the same contract as the initial subscription.
func (s *Store) Watch(q backend.Query, fn func(backend.Change)) (backend.CancelFunc, error) {
	where, err := json.Marshal(queryBody(q).Where)
	if err != nil {
		return nil, errors.Wrap(err, "watch")
	}
	u := fmt.Sprintf("%s/api/collections/%s/watch?where=%s",
		s.baseURL, url.PathEscape(q.Collection), url.QueryEscape(string(where)))
	return s.stream(u, func(event string, data []byte) {
		if event != "change" {
			return
		}
		var ev changeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Err(err).Str("collection", q.Collection).Msg("rest: bad change event")
			return
		}
		kind, err := ev.kind()
		if err != nil {
			log.Warn().Err(err).Str("collection", q.Collection).Msg("rest: bad change event")
			return
		}
		fn(backend.Change{Kind: kind, ID: ev.ID, Doc: ev.Doc})
	}), nil
}

// WatchValue implements backend.Store. The current document is delivered on
// every (re)connect, then on each change.
func (s *Store) WatchValue(collection, id string, fn func(backend.Doc)) (backend.CancelFunc, error) {
	u := s.docURL(collection, id) + "/watch"
	return s.stream(u, func(event string, data []byte) {
		if event != "doc" {
			return
		}
		var doc backend.Doc
		if err := json.Unmarshal(data, &doc); err != nil {
			log.Warn().Err(err).Str("collection", collection).Str("id", id).Msg("rest: bad doc event")
			return
		}
		fn(doc)
	}), nil
}

// stream runs an SSE read loop against u, reconnecting until canceled.
// Callbacks for a single stream are sequential; cancel waits for the loop to
// exit so no callback fires after it returns.
func (s *Store) stream(u string, deliver func(event string, data []byte)) backend.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		bo := backoff.NewExponentialBackOff()
		bo.MaxInterval = 30 * time.Second
		bo.MaxElapsedTime = 0
		for {
			err := s.readStream(ctx, u, deliver, bo)
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			log.Debug().Err(err).Str("url", u).Dur("retry_in", wait).Msg("rest: stream disconnected")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (s *Store) readStream(ctx context.Context, u string, deliver func(string, []byte), bo *backoff.ExponentialBackOff) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The store-wide timeout would sever a healthy long-lived stream, so
	// streaming requests go through a client without one.
	streaming := &http.Client{Transport: s.http.Transport}
	resp, err := streaming.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("stream status %d", resp.StatusCode)
	}

	sr := newSSEReader(resp.Body)
	for sr.Next() {
		bo.Reset()
		deliver(sr.Event, sr.Data)
	}
	return sr.Err()
}

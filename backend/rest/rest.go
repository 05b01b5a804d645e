// Package rest binds backend.Store to the Relay HTTP API: point reads and
// writes over JSON, change feeds over Server-Sent Events with automatic
// reconnect, and blob upload.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	"github.com/relaychat/client-go/backend"
	"github.com/relaychat/client-go/internal/xerrors"
)

// Config holds the rest binding's tunables, taken from environment
// variables with the prefix "RELAY_".
type Config struct {
	BaseURL     string        `envconfig:"BASE_URL"`
	APIKey      string        `envconfig:"API_KEY"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
}

// LoadConfig populates Config from environment variables (prefix RELAY_).
func LoadConfig() (Config, error) {
	var c Config
	return c, envconfig.Process("RELAY", &c)
}

var _ backend.Store = (*Store)(nil)

// Store implements backend.Store over the Relay HTTP API.
type Store struct {
	baseURL string
	http    *http.Client
}

// New constructs a Store for the given base URL and API key. The key is
// attached to every request as a bearer token.
func New(baseURL, apiKey string, opts ...Option) *Store {
	if baseURL == "" {
		panic("baseURL cannot be empty")
	}
	s := &Store{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			panic(err)
		}
	}
	base := s.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	s.http.Transport = &apiKeyTransport{base: base, apiKey: apiKey}
	return s
}

// FromEnv constructs a Store from RELAY_* environment variables.
func FromEnv(opts ...Option) (*Store, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("rest: RELAY_BASE_URL is not set")
	}
	opts = append([]Option{WithHTTPTimeout(cfg.HTTPTimeout)}, opts...)
	return New(cfg.BaseURL, cfg.APIKey, opts...), nil
}

// apiKeyTransport adds the Authorization header to every request.
type apiKeyTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.apiKey == "" {
		return t.base.RoundTrip(req)
	}
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+t.apiKey)
	return t.base.RoundTrip(cloned)
}

func (s *Store) docURL(collection, id string) string {
	return fmt.Sprintf("%s/api/collections/%s/docs/%s",
		s.baseURL, url.PathEscape(collection), url.PathEscape(id))
}

// Get implements backend.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (backend.Doc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.docURL(collection, id), nil)
	if err != nil {
		return nil, errors.Wrap(err, "get doc")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, xerrors.Network("get doc", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return nil, backend.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.FromHTTPStatus(resp.StatusCode, "get doc")
	}
	var doc backend.Doc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode doc")
	}
	return doc, nil
}

// Set implements backend.Store.
func (s *Store) Set(ctx context.Context, collection, id string, doc backend.Doc) error {
	return s.writeDoc(ctx, http.MethodPut, collection, id, doc, "set doc")
}

// Update implements backend.Store with merge semantics.
func (s *Store) Update(ctx context.Context, collection, id string, fields backend.Doc) error {
	return s.writeDoc(ctx, http.MethodPatch, collection, id, fields, "update doc")
}

func (s *Store) writeDoc(ctx context.Context, method, collection, id string, doc backend.Doc, op string) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, op)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.docURL(collection, id), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, op)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return xerrors.Network(op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return xerrors.FromHTTPStatus(resp.StatusCode, op)
	}
	return nil
}

// Delete implements backend.Store. Deleting a missing document succeeds.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.docURL(collection, id), nil)
	if err != nil {
		return errors.Wrap(err, "delete doc")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return xerrors.Network("delete doc", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return xerrors.FromHTTPStatus(resp.StatusCode, "delete doc")
	}
	return nil
}

type queryRequest struct {
	Where []queryCond `json:"where,omitempty"`
}

type queryCond struct {
	Field  string `json:"field"`
	Equals any    `json:"equals"`
}

type querySnapshot struct {
	ID  string      `json:"id"`
	Doc backend.Doc `json:"doc"`
}

// Query implements backend.Store.
func (s *Store) Query(ctx context.Context, q backend.Query) ([]backend.Snapshot, error) {
	body, err := json.Marshal(queryBody(q))
	if err != nil {
		return nil, errors.Wrap(err, "query")
	}
	u := fmt.Sprintf("%s/api/collections/%s/query", s.baseURL, url.PathEscape(q.Collection))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "query")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, xerrors.Network("query", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.FromHTTPStatus(resp.StatusCode, "query")
	}
	var snaps []querySnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snaps); err != nil {
		return nil, errors.Wrap(err, "decode query result")
	}
	out := make([]backend.Snapshot, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, backend.Snapshot{ID: sn.ID, Doc: sn.Doc})
	}
	return out, nil
}

func queryBody(q backend.Query) queryRequest {
	var body queryRequest
	for _, c := range q.Where {
		body.Where = append(body.Where, queryCond{Field: c.Field, Equals: c.Equals})
	}
	return body
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload implements backend.Store.
func (s *Store) Upload(ctx context.Context, path string, data []byte) (string, error) {
	u := fmt.Sprintf("%s/api/blobs/%s", s.baseURL, url.PathEscape(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "upload blob")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := s.http.Do(req)
	if err != nil {
		return "", xerrors.Network("upload blob", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", xerrors.FromHTTPStatus(resp.StatusCode, "upload blob")
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read upload response")
	}
	var ur uploadResponse
	if err := json.Unmarshal(b, &ur); err != nil {
		return "", errors.Wrap(err, "decode upload response")
	}
	return ur.URL, nil
}

package rest

import (
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/rs/zerolog"
)

// Option customizes a Store at construction time.
type Option func(*Store) error

// WithHTTPTimeout overrides the default 30s request timeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(s *Store) error {
		s.http.Timeout = d
		return nil
	}
}

// WithHTTPClient substitutes the underlying HTTP client. The bearer-token
// transport is still layered on top of the client's transport.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) error {
		s.http = c
		return nil
	}
}

// WithDebugLogging dumps every request and response to the given logger at
// debug level. Bodies are included; do not enable in production.
func WithDebugLogging(log zerolog.Logger) Option {
	return func(s *Store) error {
		base := s.http.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		s.http.Transport = &debugTransport{base: base, log: log}
		return nil
	}
}

type debugTransport struct {
	base http.RoundTripper
	log  zerolog.Logger
}

func (t *debugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if dump, err := httputil.DumpRequestOut(req, true); err == nil {
		t.log.Debug().Str("direction", "request").Msg(string(dump))
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.log.Debug().Err(err).Str("url", req.URL.String()).Msg("round trip failed")
		return nil, err
	}
	if dump, err := httputil.DumpResponse(resp, true); err == nil {
		t.log.Debug().Str("direction", "response").Msg(string(dump))
	}
	return resp, nil
}

package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// redirectTrackingTransport observes every hop of one retrieval so the fetcher
// can report permanent redirects and the final URL.
type redirectTrackingTransport struct {
	base  http.RoundTripper
	state *redirectState
}

func (t *redirectTrackingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("redirect transport received nil request")
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("redirect transport roundtrip: %w", err)
	}
	t.state.observe(req.URL, resp.StatusCode)
	return resp, nil
}

// redirectState records the status of the first hop and the last URL requested.
type redirectState struct {
	mu          sync.Mutex
	hops        int
	firstStatus int
	finalURL    string
}

func newRedirectState() *redirectState {
	return &redirectState{}
}

func (s *redirectState) observe(u *url.URL, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hops == 0 {
		s.firstStatus = status
	}
	s.hops++
	if u != nil {
		s.finalURL = u.String()
	}
}

// final returns the last URL requested, if any.
func (s *redirectState) final() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalURL
}

// movedPermanently reports the final URL when the chain started with a
// permanent redirect.
func (s *redirectState) movedPermanently() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hops < 2 {
		return "", false
	}
	if s.firstStatus != http.StatusMovedPermanently && s.firstStatus != http.StatusPermanentRedirect {
		return "", false
	}
	return s.finalURL, true
}

// proxyFunc maps a request scheme onto the configured proxy for it, embedding
// proxy credentials in the proxy URL.
func proxyFunc(proxies map[string]string, user, password string) (func(*http.Request) (*url.URL, error), error) {
	parsed := make(map[string]*url.URL, len(proxies))
	for scheme, raw := range proxies {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s proxy: %w", scheme, err)
		}
		if user != "" && password != "" {
			u.User = url.UserPassword(user, password)
		}
		parsed[strings.ToLower(scheme)] = u
	}
	return func(req *http.Request) (*url.URL, error) {
		if u, ok := parsed[req.URL.Scheme]; ok {
			return u, nil
		}
		return http.ProxyFromEnvironment(req)
	}, nil
}

// isTimeout reports errors a feed reader treats as "no response".
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "Client.Timeout exceeded")
}

package repository

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/libbyhq/libby/pkg/errors"
)

// Factory turns repository URLs into Repositories, applying shared
// settings: one HTTP client, credentials by URL prefix, and one rate
// limiter per host.
//
// A Factory is safe for concurrent use and caches what it builds.
type Factory struct {
	// Client is shared by every Remote. Nil uses NewHTTPClient.
	Client *http.Client
	// UserAgent overrides the default "libby/<version>".
	UserAgent string
	// Credentials maps URL prefixes to credentials; the longest matching
	// prefix wins.
	Credentials map[string]Credentials
	// RateLimit caps requests per second per host (0 = unlimited).
	RateLimit rate.Limit
	// Burst is the limiter burst size (minimum 1).
	Burst int

	once     sync.Once
	mu       sync.Mutex
	repos    map[string]Repository
	limiters map[string]*rate.Limiter
}

// Open returns the repository for a base URL, template, file:// URL,
// filesystem path, or shorthand understood by Lookup.
func (f *Factory) Open(raw string) (Repository, error) {
	return f.get("repo:"+raw, raw, false)
}

// Direct returns a repository that always fetches exactly raw.
func (f *Factory) Direct(raw string) (Repository, error) {
	return f.get("direct:"+raw, raw, true)
}

// HTTPClient returns the client shared by the factory's remotes.
func (f *Factory) HTTPClient() *http.Client {
	f.init()
	return f.Client
}

func (f *Factory) init() {
	f.once.Do(func() {
		if f.Client == nil {
			f.Client = NewHTTPClient()
		}
		f.repos = make(map[string]Repository)
		f.limiters = make(map[string]*rate.Limiter)
	})
}

func (f *Factory) get(key, raw string, direct bool) (Repository, error) {
	f.init()

	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.repos[key]; ok {
		return r, nil
	}

	raw = Lookup(raw)
	if err := errors.ValidateRepositoryURL(raw); err != nil {
		return nil, err
	}

	var r Repository
	if IsLocal(raw) {
		l := NewLocal(raw)
		if direct {
			l.template = ""
		}
		r = l
	} else {
		opts := []RemoteOption{WithHTTPClient(f.Client)}
		if f.UserAgent != "" {
			opts = append(opts, WithUserAgent(f.UserAgent))
		}
		if c := f.credentialsFor(raw); c != nil {
			opts = append(opts, WithCredentials(c))
		}
		if l := f.limiterFor(raw); l != nil {
			opts = append(opts, WithLimiter(l))
		}
		if direct {
			r = NewDirect(raw, opts...)
		} else {
			r = NewRemote(raw, opts...)
		}
	}
	f.repos[key] = r
	return r, nil
}

// CredentialHeaders renders each configured credential into the headers it
// sets, keyed by URL prefix, so the credentials can cross a process
// boundary. Dynamic credentials are evaluated once, now.
func (f *Factory) CredentialHeaders(ctx context.Context) (map[string]http.Header, error) {
	if len(f.Credentials) == 0 {
		return nil, nil
	}
	out := make(map[string]http.Header, len(f.Credentials))
	for prefix, c := range f.Credentials {
		u, err := url.Parse(prefix)
		if err != nil {
			u = &url.URL{}
		}
		req := (&http.Request{Method: http.MethodGet, URL: u, Header: make(http.Header)}).WithContext(ctx)
		if err := c.Apply(ctx, req); err != nil {
			return nil, fmt.Errorf("credentials for %s: %w", prefix, err)
		}
		out[prefix] = req.Header
	}
	return out, nil
}

func (f *Factory) credentialsFor(raw string) Credentials {
	var best Credentials
	bestLen := -1
	for prefix, c := range f.Credentials {
		if strings.HasPrefix(raw, prefix) && len(prefix) > bestLen {
			best, bestLen = c, len(prefix)
		}
	}
	return best
}

// limiterFor must be called with f.mu held.
func (f *Factory) limiterFor(raw string) *rate.Limiter {
	if f.RateLimit <= 0 {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	if l, ok := f.limiters[u.Host]; ok {
		return l
	}
	l := rate.NewLimiter(f.RateLimit, max(f.Burst, 1))
	f.limiters[u.Host] = l
	return l
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/libbyhq/libby/pkg/buildinfo"
	"github.com/libbyhq/libby/pkg/httputil"
	"github.com/libbyhq/libby/pkg/observability"
)

const (
	connectTimeout = 5 * time.Second
	headerTimeout  = 30 * time.Second
)

// NewHTTPClient creates an HTTP client with connect and header timeouts.
// The overall deadline of a fetch comes from its context.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: headerTimeout,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// UserAgent is sent with every request.
func UserAgent() string { return "libby/" + buildinfo.Version }

// Remote is an HTTP(S) repository.
type Remote struct {
	name     string
	template string
	http     *http.Client
	creds    Credentials
	limiter  *rate.Limiter
	agent    string
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) RemoteOption { return func(r *Remote) { r.http = c } }

// WithCredentials authenticates every request.
func WithCredentials(c Credentials) RemoteOption { return func(r *Remote) { r.creds = c } }

// WithLimiter throttles requests. Remotes on the same host may share one.
func WithLimiter(l *rate.Limiter) RemoteOption { return func(r *Remote) { r.limiter = l } }

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) RemoteOption { return func(r *Remote) { r.agent = ua } }

// NewRemote creates a repository from a base URL or URL template
// (see DefaultLayout for the placeholders).
func NewRemote(baseURL string, opts ...RemoteOption) *Remote {
	return newRemote(baseURL, expandTemplate(baseURL), opts)
}

// NewDirect creates a repository that always fetches exactly url.
// Descriptors use it for direct download links.
func NewDirect(url string, opts ...RemoteOption) *Remote {
	return newRemote(url, url, opts)
}

func newRemote(name, template string, opts []RemoteOption) *Remote {
	r := &Remote{name: name, template: template, agent: UserAgent()}
	for _, o := range opts {
		o(r)
	}
	if r.http == nil {
		r.http = NewHTTPClient()
	}
	return r
}

func (r *Remote) Name() string { return r.name }

func (r *Remote) URL(req Request) string { return render(r.template, req) }

// Fetch downloads req. 404 and 410 are ErrNotFound; connection failures,
// 429 and 5xx are retryable; any other status is a permanent ErrNetwork.
func (r *Remote) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	url := r.URL(req)
	body, err := r.doRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, httputil.Retryable(fmt.Errorf("%w: reading %s: %v", ErrNetwork, url, err))
	}
	return data, nil
}

func (r *Remote) doRequest(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.agent)
	if r.creds != nil {
		if err := r.creds.Apply(ctx, req); err != nil {
			return nil, fmt.Errorf("credentials for %s: %w", r.name, err)
		}
	}

	hooks := observability.HTTP()
	host, path := req.URL.Host, req.URL.Path
	hooks.OnRequest(ctx, req.Method, host, path)
	start := time.Now()

	resp, err := r.http.Do(req)
	if err != nil {
		hooks.OnError(ctx, req.Method, host, path, err)
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, httputil.Retryable(fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	hooks.OnResponse(ctx, req.Method, host, path, resp.StatusCode, time.Since(start))

	if err := checkStatus(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return ErrNotFound
	case code == http.StatusTooManyRequests || code >= 500:
		return httputil.Retryable(fmt.Errorf("%w: status %d", ErrNetwork, code))
	default:
		return fmt.Errorf("%w: status %d", ErrNetwork, code)
	}
}

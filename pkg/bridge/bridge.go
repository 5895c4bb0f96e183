// Package bridge expands transitive dependencies through an isolated
// resolution engine.
//
// The engine (see package engine) is shipped inside the host binary as an
// embedded asset, extracted into the cache on first use and started as a
// child process. A Bridge owns that process: it is started lazily, shared
// by every caller and stopped by Close. If starting fails, nothing is
// remembered and the next call tries again.
//
// Every failure surfaces as a TRANSITIVE_FAILED error.
package bridge

import (
	"context"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/libbyhq/libby/pkg/buildinfo"
	"github.com/libbyhq/libby/pkg/engine"
	"github.com/libbyhq/libby/pkg/errors"
	"github.com/libbyhq/libby/pkg/library"
	"github.com/libbyhq/libby/pkg/repository"
)

// Options configures a Bridge.
type Options struct {
	// Launcher starts the engine. Nil uses a ProcessLauncher.
	Launcher Launcher
	// Asset holds engine.json and the engine builds. Nil uses Embedded().
	Asset fs.FS
	// CacheRoot is the artifact cache root; the engine is extracted to
	// <CacheRoot>/engine/<version>/ and keeps POMs in <CacheRoot>/engine/poms.
	CacheRoot string
	// Platform selects the engine build (default buildinfo.Platform()).
	Platform string
	// Resolver is used by Expand and Closure. Its global repositories are
	// merged with each descriptor's own according to the descriptor's
	// mode, and its credentials, retry policy, timeout and rate limit are
	// forwarded to the engine. Nil sends the descriptor's repositories
	// only and leaves fetching to the engine's defaults.
	Resolver *repository.Resolver
	Logger   *log.Logger
}

// Bridge talks to one engine instance. It is safe for concurrent use.
type Bridge struct {
	opts    Options
	factory *repository.Factory // renders direct URLs when no resolver is given

	mu      sync.Mutex
	client  *client
	version string
}

// New creates a Bridge. The engine is not started until first use.
func New(opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Launcher == nil {
		opts.Launcher = &ProcessLauncher{Logger: opts.Logger}
	}
	if opts.Asset == nil {
		opts.Asset = Embedded()
	}
	if opts.Platform == "" {
		opts.Platform = buildinfo.Platform()
	}
	return &Bridge{opts: opts, factory: &repository.Factory{}}
}

var (
	sharedMu sync.Mutex
	shared   *Bridge
)

// Shared returns the process-wide Bridge, creating it from opts on the
// first call. Later calls ignore opts.
func Shared(opts Options) *Bridge {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		shared = New(opts)
	}
	return shared
}

// CloseShared stops the process-wide Bridge, if any.
func CloseShared() error {
	sharedMu.Lock()
	b := shared
	shared = nil
	sharedMu.Unlock()
	if b == nil {
		return nil
	}
	return b.Close()
}

func (b *Bridge) engineDir() string { return filepath.Join(b.opts.CacheRoot, "engine") }

// conn returns a live client, starting the engine when there is none or
// the previous one died. Concurrent callers wait for one start.
func (b *Bridge) conn(ctx context.Context) (*client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil && b.client.alive() {
		return b.client, nil
	}
	if b.client != nil {
		b.opts.Logger.Warn("engine exited, restarting", "err", b.client.err)
		b.client.close()
		b.client = nil
	}
	if b.opts.CacheRoot == "" {
		return nil, fmt.Errorf("bridge: cache root is required")
	}

	var binary string
	if b.opts.Launcher.NeedsBinary() {
		inst, err := Install(b.opts.Asset, b.engineDir(), b.opts.Platform)
		if err != nil {
			return nil, err
		}
		binary = inst.Path
	}
	conn, err := b.opts.Launcher.Launch(ctx, binary, filepath.Join(b.engineDir(), "poms"))
	if err != nil {
		return nil, err
	}
	c := newClient(conn)

	var ping engine.PingResult
	if err := c.call(ctx, engine.MethodPing, nil, &ping); err != nil {
		c.close()
		return nil, fmt.Errorf("engine did not answer ping: %w", err)
	}
	b.opts.Logger.Debug("engine started", "version", ping.Version, "binary", binary)
	b.client = c
	b.version = ping.Version
	return c, nil
}

// Version returns the running engine's version, starting it if needed.
func (b *Bridge) Version(ctx context.Context) (string, error) {
	if _, err := b.conn(ctx); err != nil {
		return "", failed(err, "")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version, nil
}

// Closure returns the raw engine answer for d: every artifact in its
// runtime closure, root excluded, with descriptor exclusions applied.
func (b *Bridge) Closure(ctx context.Context, d *library.Descriptor) (*engine.ResolveResult, error) {
	return b.ClosureWith(ctx, b.opts.Resolver, d)
}

// ClosureWith is Closure with the repositories and fetch settings of r
// instead of the Bridge's own. Hosts that share one engine pass their
// resolver here.
func (b *Bridge) ClosureWith(ctx context.Context, r *repository.Resolver, d *library.Descriptor) (*engine.ResolveResult, error) {
	c, err := b.conn(ctx)
	if err != nil {
		return nil, failed(err, d.String())
	}
	coord := d.Coordinate()
	p := engine.ResolveParams{
		Group:      coord.Group,
		Artifact:   coord.Artifact,
		Version:    coord.Version,
		Classifier: coord.Classifier,
	}
	if r != nil {
		p.Repositories = repository.Ordered(d, r.Global())
		if p.Fetch, err = fetchSettings(ctx, r); err != nil {
			return nil, failed(err, d.String())
		}
	} else {
		p.Repositories = repository.Ordered(d, nil)
	}
	for _, x := range d.Exclusions() {
		p.Exclusions = append(p.Exclusions, engine.Exclusion{Group: x.Group, Artifact: x.Artifact})
	}
	var res engine.ResolveResult
	if err := c.call(ctx, engine.MethodResolve, p, &res); err != nil {
		return nil, failed(err, d.String())
	}
	return &res, nil
}

// fetchSettings describes how r fetches, for the engine to do the same.
func fetchSettings(ctx context.Context, r *repository.Resolver) (*engine.FetchSettings, error) {
	f := r.Factory()
	headers, err := f.CredentialHeaders(ctx)
	if err != nil {
		return nil, err
	}
	o := r.Options()
	settings := &engine.FetchSettings{
		Attempts:   o.Retry.Attempts,
		DelayMs:    o.Retry.Delay.Milliseconds(),
		MaxDelayMs: o.Retry.MaxDelay.Milliseconds(),
		TimeoutMs:  o.Timeout.Milliseconds(),
		Burst:      f.Burst,
		Headers:    headers,
	}
	if limit := float64(f.RateLimit); limit > 0 && !math.IsInf(limit, 0) {
		settings.RateLimit = limit
	}
	return settings, nil
}

// Expand returns a descriptor for every transitive dependency of d.
// Each inherits d's repositories, mode, isolation, loader id and
// relocations, and is itself non-transitive. When the engine saw the
// artifact's POM in a repository, a direct URL into that repository is
// tried first. A non-transitive d expands to nothing.
func (b *Bridge) Expand(ctx context.Context, d *library.Descriptor) ([]*library.Descriptor, error) {
	return b.ExpandWith(ctx, b.opts.Resolver, d)
}

// ExpandWith is Expand with the repositories and fetch settings of r.
func (b *Bridge) ExpandWith(ctx context.Context, r *repository.Resolver, d *library.Descriptor) ([]*library.Descriptor, error) {
	if !d.Transitive() {
		return nil, nil
	}
	res, err := b.ClosureWith(ctx, r, d)
	if err != nil {
		return nil, err
	}

	root := d.Coordinate()
	out := make([]*library.Descriptor, 0, len(res.Artifacts))
	for _, a := range res.Artifacts {
		c := library.Coordinate{Group: a.Group, Artifact: a.Artifact, Version: a.Version, Classifier: a.Classifier}
		if c.ID() == root.ID() || d.Excludes(c) {
			continue
		}
		bld := library.NewBuilder(c.Group, c.Artifact, c.Version).
			Classifier(c.Classifier).
			Repositories(d.Repositories()).
			Relocation(d.Relocations()...).
			Mode(d.Mode()).
			Isolated(d.Isolated()).
			Transitive(false)
		if id := d.LoaderID(); id != "" {
			bld.LoaderID(id)
		}
		if u := b.directURL(r, a.Repository, c); u != "" {
			bld.URL(u)
		}
		nd, err := bld.Build()
		if err != nil {
			return nil, failed(err, d.String())
		}
		out = append(out, nd)
	}
	return out, nil
}

// directURL renders the jar URL for c inside repo, or "" when it cannot.
// SNAPSHOT file names depend on repository metadata, so they get none.
func (b *Bridge) directURL(r *repository.Resolver, repo string, c library.Coordinate) string {
	if repo == "" || c.IsSnapshot() {
		return ""
	}
	f := b.factory
	if r != nil {
		f = r.Factory()
	}
	rp, err := f.Open(repo)
	if err != nil {
		return ""
	}
	return rp.URL(repository.Request{Coordinate: c, Ext: "jar"})
}

// Close stops the engine. The Bridge may be used again afterwards; the
// engine is then restarted.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.close()
	b.client = nil
	return err
}

func failed(err error, coord string) error {
	if errors.Is(err, errors.ErrCodeTransitive) {
		return err
	}
	return errors.Wrap(errors.ErrCodeTransitive, err, "transitive resolution failed").
		At(errors.StageTransitive, coord, "")
}

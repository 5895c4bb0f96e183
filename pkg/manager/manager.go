// Package manager resolves library descriptors into local artifacts.
//
// For every concrete descriptor the Manager checks the cache; on a miss it
// enters a single-flight slot keyed by the cache key, downloads the jar
// from the first repository that has it, verifies its checksum, applies
// relocation rules and publishes the result. Transitive descriptors are
// expanded through the isolated engine first.
//
//	m, err := manager.New(manager.Options{Store: store, Repositories: []string{repository.MavenCentral}})
//	arts, err := m.Resolve(ctx, d)
package manager

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/libbyhq/libby/pkg/bridge"
	"github.com/libbyhq/libby/pkg/cache"
	"github.com/libbyhq/libby/pkg/checksum"
	"github.com/libbyhq/libby/pkg/errors"
	"github.com/libbyhq/libby/pkg/inject"
	"github.com/libbyhq/libby/pkg/library"
	"github.com/libbyhq/libby/pkg/observability"
	"github.com/libbyhq/libby/pkg/relocate"
	"github.com/libbyhq/libby/pkg/repository"
)

// TransitiveFallback decides what happens when transitive expansion fails.
type TransitiveFallback int

const (
	// TransitiveAbort fails the resolution.
	TransitiveAbort TransitiveFallback = iota
	// TransitiveDirectOnly logs a warning and resolves only the declared
	// library.
	TransitiveDirectOnly
)

func (f TransitiveFallback) String() string {
	if f == TransitiveDirectOnly {
		return "direct-only"
	}
	return "abort"
}

// ParseTransitiveFallback parses "abort" or "direct-only".
func ParseTransitiveFallback(s string) (TransitiveFallback, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return TransitiveAbort, nil
	case "direct-only", "direct_only", "direct":
		return TransitiveDirectOnly, nil
	}
	return 0, errors.New(errors.ErrCodeInvalidInput, "unknown transitive fallback %q", s)
}

const defaultConcurrency = 4

// Options configures a Manager.
type Options struct {
	// Store is the artifact cache (required).
	Store *cache.Store
	// Resolver locates artifacts. Nil builds one over Repositories.
	Resolver *repository.Resolver
	// Repositories are the global repositories used when Resolver is nil.
	Repositories []string
	// Bridge expands transitive descriptors. Nil uses the process-wide
	// bridge.Shared, which extracts the engine under the cache root of the
	// first Manager and is stopped by bridge.CloseShared. The Manager's
	// resolver settings travel with every request either way.
	Bridge *bridge.Bridge

	ChecksumPolicy     checksum.Policy
	TransitiveFallback TransitiveFallback
	// Concurrency bounds parallel resolutions in ResolveAll and among the
	// dependencies of one transitive descriptor (default 4).
	Concurrency int
	Logger      *log.Logger
}

// Manager resolves descriptors. It is safe for concurrent use.
type Manager struct {
	store    *cache.Store
	resolver *repository.Resolver
	bridge   *bridge.Bridge
	policy   checksum.Policy
	fallback TransitiveFallback
	limit    int
	logger   *log.Logger
}

// New creates a Manager.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "manager: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	m := &Manager{
		store:    opts.Store,
		resolver: opts.Resolver,
		bridge:   opts.Bridge,
		policy:   opts.ChecksumPolicy,
		fallback: opts.TransitiveFallback,
		limit:    opts.Concurrency,
		logger:   logger,
	}
	for _, u := range opts.Repositories {
		if err := errors.ValidateRepositoryURL(repository.Lookup(u)); err != nil {
			return nil, err
		}
	}
	if m.resolver == nil {
		m.resolver = repository.NewResolver(&repository.Factory{}, opts.Repositories, repository.Options{Logger: logger})
	}
	if m.bridge == nil {
		m.bridge = bridge.Shared(bridge.Options{CacheRoot: opts.Store.Root(), Logger: logger})
	}
	if m.limit <= 0 {
		m.limit = defaultConcurrency
	}
	return m, nil
}

// Store returns the artifact cache.
func (m *Manager) Store() *cache.Store { return m.store }

// Bridge returns the transitive bridge.
func (m *Manager) Bridge() *bridge.Bridge { return m.bridge }

// Resolve returns the artifacts for d: d itself first, then its transitive
// dependencies when d is transitive.
func (m *Manager) Resolve(ctx context.Context, d *library.Descriptor) ([]inject.LocalArtifact, error) {
	ds, err := m.expand(ctx, d)
	if err != nil {
		return nil, err
	}
	if len(ds) == 1 {
		a, err := m.ResolveOne(ctx, d)
		if err != nil {
			return nil, err
		}
		return []inject.LocalArtifact{a}, nil
	}

	out := make([]inject.LocalArtifact, len(ds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.limit)
	for i, nd := range ds {
		g.Go(func() error {
			a, err := m.ResolveOne(gctx, nd)
			if err != nil {
				return err
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// expand returns d followed by its transitive dependencies.
func (m *Manager) expand(ctx context.Context, d *library.Descriptor) ([]*library.Descriptor, error) {
	if !d.Transitive() {
		return []*library.Descriptor{d}, nil
	}
	start := time.Now()
	deps, err := m.bridge.ExpandWith(ctx, m.resolver, d)
	observability.Resolve().OnTransitive(ctx, d.String(), len(deps), time.Since(start), err)
	if err != nil {
		if m.fallback == TransitiveAbort || ctx.Err() != nil {
			return nil, err
		}
		m.logger.Warn("transitive resolution failed, resolving declared library only",
			"coordinate", d.String(), "err", errors.UserMessage(err))
		return []*library.Descriptor{d}, nil
	}
	m.logger.Debug("expanded", "coordinate", d.String(), "dependencies", len(deps))
	return append([]*library.Descriptor{d}, deps...), nil
}

// ResolveOne resolves exactly d, ignoring its transitive flag.
func (m *Manager) ResolveOne(ctx context.Context, d *library.Descriptor) (a inject.LocalArtifact, err error) {
	coord := d.String()
	start := time.Now()
	source := observability.SourceCache
	observability.Resolve().OnResolveStart(ctx, coord)
	defer func() {
		observability.Resolve().OnResolveComplete(ctx, coord, source, time.Since(start), err)
	}()

	key := d.Key()
	snapshot := d.Coordinate().IsSnapshot()
	if !snapshot {
		e, err := m.store.Get(ctx, key)
		if err == nil {
			return artifact(d, e, true), nil
		}
		if !stderrors.Is(err, cache.ErrMiss) {
			return a, annotate(err, errors.StageCache, coord, "")
		}
	}

	e, shared, err := m.store.Do(ctx, key, func(ctx context.Context) (*cache.Entry, error) {
		if snapshot {
			return m.refresh(ctx, d, key)
		}
		// Another process may have published while we waited for the slot.
		if e, err := m.store.Get(ctx, key); err == nil {
			return e, nil
		}
		return m.download(ctx, d, key)
	})
	source = observability.SourceRemote
	if shared {
		source = observability.SourceShared
	}
	if err != nil {
		return a, err
	}
	return artifact(d, e, false), nil
}

// refresh downloads a SNAPSHOT descriptor again so a newer build replaces
// the cached one. When no repository can supply it, the cached build is
// used.
func (m *Manager) refresh(ctx context.Context, d *library.Descriptor, key string) (*cache.Entry, error) {
	e, err := m.fetch(ctx, d, key, m.store.Replace)
	if err == nil || ctx.Err() != nil || !errors.Is(err, errors.ErrCodeNotFound) {
		return e, err
	}
	cached, cerr := m.store.Get(ctx, key)
	if cerr != nil {
		return nil, err
	}
	m.logger.Warn("snapshot unavailable, using cached build",
		"coordinate", d.String(), "err", errors.UserMessage(err))
	return cached, nil
}

// download runs locate, verify, relocate and publish for one descriptor.
func (m *Manager) download(ctx context.Context, d *library.Descriptor, key string) (*cache.Entry, error) {
	return m.fetch(ctx, d, key, m.store.Put)
}

type publishFunc func(ctx context.Context, key string, data []byte, meta cache.Meta) (*cache.Entry, error)

func (m *Manager) fetch(ctx context.Context, d *library.Descriptor, key string, publish publishFunc) (*cache.Entry, error) {
	coord := d.String()
	loc, err := m.resolver.Locate(ctx, d)
	if err != nil {
		return nil, annotate(err, errors.StageLocate, coord, "")
	}

	res, err := checksum.Check(loc.Data, d.Checksum(), m.policy)
	if err != nil {
		return nil, annotate(err, errors.StageVerify, coord, loc.URL)
	}
	if res == checksum.Skipped {
		observability.Resolve().OnChecksumSkipped(ctx, coord)
		if m.policy == checksum.PolicyWarn {
			m.logger.Warn("no checksum declared, accepting download", "coordinate", coord, "url", loc.URL)
		}
	}

	data := loc.Data
	if d.HasRelocations() {
		if data, err = relocate.Relocate(loc.Data, d.Relocations()); err != nil {
			return nil, annotate(err, errors.StageRelocate, coord, loc.URL)
		}
	}

	e, err := publish(ctx, key, data, cache.Meta{
		Coordinate:            coord,
		FileName:              d.Coordinate().FileName("", "jar"),
		SourceChecksum:        checksum.Compute(loc.Data),
		RelocationFingerprint: d.RelocationFingerprint(),
		Repository:            loc.Repository,
		URL:                   loc.URL,
	})
	if err != nil {
		return nil, annotate(err, errors.StageCache, coord, loc.URL)
	}
	m.logger.Info("downloaded", "coordinate", coord, "from", loc.Repository, "bytes", len(loc.Data))
	return e, nil
}

func artifact(d *library.Descriptor, e *cache.Entry, hit bool) inject.LocalArtifact {
	return inject.LocalArtifact{
		Descriptor: d,
		Path:       e.Path,
		Isolated:   d.Isolated(),
		LoaderID:   d.LoaderID(),
		Checksum:   e.Checksum,
		CacheHit:   hit,
	}
}

// annotate attaches pipeline context to err. Plain errors other than
// context cancellation become INTERNAL.
func annotate(err error, stage errors.Stage, coord, repo string) error {
	if e := errors.Context(err); e != nil {
		e.At(stage, coord, repo)
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Wrap(errors.ErrCodeInternal, err, "%s failed", stage).At(stage, coord, repo)
}

// Outcome is the result of resolving one descriptor in ResolveAll.
type Outcome struct {
	Descriptor *library.Descriptor
	Artifacts  []inject.LocalArtifact
	Err        error
}

// ResolveAll resolves ds concurrently and returns one Outcome per
// descriptor in input order. A failure does not stop the others.
func (m *Manager) ResolveAll(ctx context.Context, ds []*library.Descriptor) []Outcome {
	out := make([]Outcome, len(ds))
	var g errgroup.Group
	g.SetLimit(m.limit)
	for i, d := range ds {
		out[i].Descriptor = d
		g.Go(func() error {
			out[i].Artifacts, out[i].Err = m.Resolve(ctx, d)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Load resolves ds and hands every artifact to inj, isolated ones through
// AddIsolated. Artifacts of descriptors that resolved are injected even
// when others failed; the failures are returned joined.
func (m *Manager) Load(ctx context.Context, inj inject.Injector, ds ...*library.Descriptor) error {
	var errs []error
	for _, o := range m.ResolveAll(ctx, ds) {
		if o.Err != nil {
			errs = append(errs, o.Err)
			continue
		}
		for _, a := range o.Artifacts {
			if err := inject.Inject(ctx, inj, a); err != nil {
				errs = append(errs, annotate(err, errors.StageInject, a.Descriptor.String(), ""))
			}
		}
	}
	return stderrors.Join(errs...)
}

// Failed returns the outcomes that carry an error.
func Failed(outcomes []Outcome) []Outcome {
	var out []Outcome
	for _, o := range outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// String summarizes an outcome for logs.
func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s: %s", o.Descriptor, errors.UserMessage(o.Err))
	}
	return fmt.Sprintf("%s: %d artifact(s)", o.Descriptor, len(o.Artifacts))
}

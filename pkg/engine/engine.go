// Package engine computes transitive dependency closures of Maven
// coordinates.
//
// The engine runs in its own process (cmd/libby-engine) so that nothing it
// loads can collide with the host. It speaks newline-delimited JSON on
// stdin/stdout (see [Serve]) and answers "resolve" requests with the
// runtime closure of a coordinate:
//
//   - parent POMs are merged, properties interpolated
//   - dependencyManagement applies, including imported BOMs; the root's
//     management overrides versions throughout the tree
//   - compile and runtime scopes are followed; test, provided, system and
//     optional dependencies are not
//   - exclusions prune whole subtrees
//   - the nearest declaration of a group:artifact wins (breadth first)
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/libbyhq/libby/pkg/httputil"
	"github.com/libbyhq/libby/pkg/library"
	"github.com/libbyhq/libby/pkg/repository"
)

const (
	maxParentDepth = 16
	maxNodes       = 10000
	snapshotTTL    = 10 * time.Minute
	maxScoped      = 64
)

// Options configures an Engine.
type Options struct {
	// Resolver fetches POMs. Nil builds one with default settings.
	Resolver *repository.Resolver
	// CacheDir keeps fetched POMs between runs. Empty disables the cache.
	CacheDir string
	Logger   *log.Logger
}

// Engine resolves closures. It is safe for concurrent use.
type Engine struct {
	resolver *repository.Resolver
	poms     *httputil.Cache
	logger   *log.Logger

	mu     sync.Mutex
	scoped map[string]*repository.Resolver // by encoded FetchSettings
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{resolver: opts.Resolver, logger: logger}
	if e.resolver == nil {
		e.resolver = repository.NewResolver(&repository.Factory{}, nil, repository.Options{Logger: logger})
	}
	if opts.CacheDir != "" {
		c, err := httputil.NewCache(opts.CacheDir, 0)
		if err != nil {
			return nil, fmt.Errorf("pom cache: %w", err)
		}
		e.poms = c.Namespace("pom:")
	}
	return e, nil
}

// resolverFor returns a resolver applying the host's fetch settings, or the
// engine's own when there are none. Resolvers are reused per distinct
// setting so rate limits hold across requests.
func (e *Engine) resolverFor(fs *FetchSettings) (*repository.Resolver, error) {
	if fs == nil {
		return e.resolver, nil
	}
	raw, err := json.Marshal(fs)
	if err != nil {
		return nil, fmt.Errorf("fetch settings: %w", err)
	}
	key := string(raw)

	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.scoped[key]; ok {
		return r, nil
	}

	base := e.resolver.Factory()
	f := &repository.Factory{
		Client:    base.HTTPClient(),
		UserAgent: base.UserAgent,
		RateLimit: rate.Limit(fs.RateLimit),
		Burst:     fs.Burst,
	}
	if len(fs.Headers) > 0 {
		f.Credentials = make(map[string]repository.Credentials, len(fs.Headers))
		for prefix, h := range fs.Headers {
			f.Credentials[prefix] = repository.Headers(h)
		}
	}
	opts := e.resolver.Options()
	if fs.Attempts > 0 {
		opts.Retry.Attempts = fs.Attempts
		opts.Retry.Delay = time.Duration(fs.DelayMs) * time.Millisecond
		opts.Retry.MaxDelay = time.Duration(fs.MaxDelayMs) * time.Millisecond
	}
	if fs.TimeoutMs > 0 {
		opts.Timeout = time.Duration(fs.TimeoutMs) * time.Millisecond
	}

	if e.scoped == nil || len(e.scoped) >= maxScoped {
		e.scoped = make(map[string]*repository.Resolver)
	}
	r := repository.NewResolver(f, nil, opts)
	e.scoped[key] = r
	return r, nil
}

type cachedPOM struct {
	Repository string `json:"repository"`
	Data       []byte `json:"data"`
}

// model is a POM with its parents merged and properties applied.
type model struct {
	coord      library.Coordinate
	repository string
	props      map[string]string
	managed    map[string]pomDependency
	deps       []pomDependency
}

// session memoizes models for one Resolve call.
type session struct {
	e        *Engine
	resolver *repository.Resolver
	repos    []repository.Repository
	mu     sync.Mutex
	models map[string]*model
}

// Resolve returns the closure of p, root excluded.
func (e *Engine) Resolve(ctx context.Context, p ResolveParams) (*ResolveResult, error) {
	root := library.Coordinate{Group: p.Group, Artifact: p.Artifact, Version: p.Version, Classifier: p.Classifier}
	if err := root.Validate(); err != nil {
		return nil, err
	}

	r, err := e.resolverFor(p.Fetch)
	if err != nil {
		return nil, err
	}
	s := &session{e: e, resolver: r, models: make(map[string]*model)}
	f := r.Factory()
	for _, u := range p.Repositories {
		r, err := f.Open(u)
		if err != nil {
			return nil, err
		}
		s.repos = append(s.repos, r)
	}

	rootModel, err := s.model(ctx, root, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", root, err)
	}

	type node struct {
		m          *model
		coord      library.Coordinate
		exclusions []Exclusion
		depth      int
	}
	selected := map[string]bool{root.ID(): true}
	var out []Artifact
	queue := []node{{m: rootModel, coord: root, exclusions: p.Exclusions}}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		for _, dep := range n.m.deps {
			dep = n.m.effective(dep, rootModel)
			if !follow(dep) || excluded(n.exclusions, dep) || selected[dep.id()] {
				continue
			}
			if dep.Version == "" {
				e.logger.Warn("dependency without version", "parent", n.coord.String(), "dependency", dep.id())
				continue
			}
			selected[dep.id()] = true

			c := library.Coordinate{Group: dep.GroupID, Artifact: dep.ArtifactID, Version: dep.Version, Classifier: dep.Classifier}
			if err := c.Validate(); err != nil {
				e.logger.Warn("skipping malformed dependency", "parent", n.coord.String(), "dependency", c.String(), "err", err)
				continue
			}
			a := Artifact{
				Group:      c.Group,
				Artifact:   c.Artifact,
				Version:    c.Version,
				Classifier: c.Classifier,
				Parent:     n.coord.String(),
				Depth:      n.depth + 1,
			}

			child, err := s.model(ctx, c, 0)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				// A jar without a POM still belongs to the closure; it just
				// contributes no dependencies.
				e.logger.Warn("no pom", "coordinate", c.String(), "err", err)
			} else {
				a.Repository = child.repository
				excl := append(append([]Exclusion(nil), n.exclusions...), toExclusions(dep.Exclusions)...)
				queue = append(queue, node{m: child, coord: c, exclusions: excl, depth: n.depth + 1})
			}
			out = append(out, a)
			if len(out) > maxNodes {
				return nil, fmt.Errorf("%s: closure exceeds %d artifacts", root, maxNodes)
			}
		}
	}
	return &ResolveResult{Artifacts: out}, nil
}

// effective fills in version and scope from dependencyManagement and
// expands properties. The root's management wins over the declaring POM's.
func (m *model) effective(d pomDependency, root *model) pomDependency {
	d.GroupID = interpolate(d.GroupID, m.props)
	d.ArtifactID = interpolate(d.ArtifactID, m.props)
	d.Version = interpolate(d.Version, m.props)
	d.Classifier = interpolate(d.Classifier, m.props)
	d.Type = interpolate(d.Type, m.props)
	d.Scope = interpolate(d.Scope, m.props)
	d.Optional = interpolate(d.Optional, m.props)

	key := d.managedKey()
	if md, ok := root.managed[key]; ok && root != m {
		d.Version = md.Version
		if md.Scope != "" {
			d.Scope = md.Scope
		}
	} else if md, ok := m.managed[key]; ok {
		if d.Version == "" {
			d.Version = md.Version
		}
		if d.Scope == "" {
			d.Scope = md.Scope
		}
		if len(d.Exclusions) == 0 {
			d.Exclusions = md.Exclusions
		}
	}
	d.Version = resolveVersion(d.Version)
	return d
}

// follow reports whether a dependency is on the runtime class path.
func follow(d pomDependency) bool {
	switch d.Scope {
	case "", "compile", "runtime":
	default:
		return false
	}
	if strings.EqualFold(d.Optional, "true") {
		return false
	}
	switch d.Type {
	case "", "jar", "bundle":
		return true
	}
	return false
}

func excluded(ex []Exclusion, d pomDependency) bool {
	for _, x := range ex {
		if (x.Group == "*" || x.Group == d.GroupID) && (x.Artifact == "*" || x.Artifact == d.ArtifactID) {
			return true
		}
	}
	return false
}

func toExclusions(in []pomExclusion) []Exclusion {
	out := make([]Exclusion, len(in))
	for i, x := range in {
		out[i] = Exclusion{Group: x.GroupID, Artifact: x.ArtifactID}
	}
	return out
}

// model builds the effective model of c, merging its parents.
func (s *session) model(ctx context.Context, c library.Coordinate, depth int) (*model, error) {
	if depth > maxParentDepth {
		return nil, fmt.Errorf("parent chain of %s is deeper than %d", c, maxParentDepth)
	}
	c.Classifier = ""
	key := c.String()
	s.mu.Lock()
	if m, ok := s.models[key]; ok {
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()

	data, repo, err := s.fetchPOM(ctx, c)
	if err != nil {
		return nil, err
	}
	p, err := parsePOM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c, err)
	}

	m := &model{
		coord:      c,
		repository: repo,
		props:      make(map[string]string),
		managed:    make(map[string]pomDependency),
	}

	if p.Parent != nil {
		pc := library.Coordinate{Group: p.Parent.GroupID, Artifact: p.Parent.ArtifactID, Version: p.Parent.Version}
		parent, err := s.model(ctx, pc, depth+1)
		if err != nil {
			return nil, fmt.Errorf("parent of %s: %w", c, err)
		}
		for k, v := range parent.props {
			m.props[k] = v
		}
		for k, v := range parent.managed {
			m.managed[k] = v
		}
		m.deps = append(m.deps, parent.deps...)
		m.props["project.parent.groupId"] = pc.Group
		m.props["project.parent.version"] = pc.Version
		if p.GroupID == "" {
			p.GroupID = pc.Group
		}
		if p.Version == "" {
			p.Version = pc.Version
		}
	}

	for k, v := range p.Properties {
		m.props[k] = v
	}
	p.GroupID = interpolate(p.GroupID, m.props)
	p.Version = interpolate(p.Version, m.props)
	for _, prefix := range []string{"project.", "pom.", ""} {
		m.props[prefix+"groupId"] = p.GroupID
		m.props[prefix+"artifactId"] = p.ArtifactID
		m.props[prefix+"version"] = p.Version
	}

	for _, md := range p.DependencyManagement {
		md.GroupID = interpolate(md.GroupID, m.props)
		md.ArtifactID = interpolate(md.ArtifactID, m.props)
		md.Version = interpolate(md.Version, m.props)
		if md.Scope == "import" && md.Type == "pom" {
			bom, err := s.model(ctx, library.Coordinate{Group: md.GroupID, Artifact: md.ArtifactID, Version: resolveVersion(md.Version)}, depth+1)
			if err != nil {
				s.e.logger.Warn("cannot import bom", "bom", md.id()+":"+md.Version, "into", c.String(), "err", err)
				continue
			}
			for k, v := range bom.managed {
				if _, ok := m.managed[k]; !ok {
					m.managed[k] = v
				}
			}
			continue
		}
		m.managed[md.managedKey()] = md
	}

	// Child declarations replace inherited ones for the same group:artifact.
	own := make(map[string]bool, len(p.Dependencies))
	for _, d := range p.Dependencies {
		own[d.id()] = true
	}
	inherited := m.deps[:0]
	for _, d := range m.deps {
		if !own[d.id()] {
			inherited = append(inherited, d)
		}
	}
	m.deps = append(inherited, p.Dependencies...)

	s.mu.Lock()
	s.models[key] = m
	s.mu.Unlock()
	return m, nil
}

func (s *session) fetchPOM(ctx context.Context, c library.Coordinate) ([]byte, string, error) {
	cacheable := s.e.poms != nil
	cache := s.e.poms
	if cacheable && c.IsSnapshot() {
		cache = cache.WithTTL(snapshotTTL)
	}
	key := c.String()
	if cacheable {
		var hit cachedPOM
		if ok, _ := cache.Get(key, &hit); ok {
			return hit.Data, hit.Repository, nil
		}
	}

	loc, err := s.resolver.FetchFrom(ctx, s.repos, repository.Request{Coordinate: c, Ext: "pom"})
	if err != nil {
		return nil, "", err
	}
	if cacheable {
		if err := cache.Set(key, cachedPOM{Repository: loc.Repository, Data: loc.Data}); err != nil {
			s.e.logger.Debug("pom cache write failed", "coordinate", key, "err", err)
		}
	}
	return loc.Data, loc.Repository, nil
}

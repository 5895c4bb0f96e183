// Package library describes the artifacts a host application asks for at
// runtime.
//
// A [Descriptor] is built once with a [Builder] and never changes. Its
// [Descriptor.Key] identifies the bytes that end up on disk: the coordinate,
// the declared checksum and the relocation rule set. Where the bytes come
// from (repositories, direct URLs) and how they are loaded (isolation,
// loader id) are deliberately not part of the key.
package library

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/libbyhq/libby/pkg/checksum"
	"github.com/libbyhq/libby/pkg/errors"
)

// Mode orders a descriptor's own repositories against the global defaults.
type Mode int

const (
	// LibraryFirst tries the descriptor's repositories before global ones.
	LibraryFirst Mode = iota
	// GlobalFirst tries global repositories before the descriptor's.
	GlobalFirst
	// LibraryOnly ignores global repositories.
	LibraryOnly
)

func (m Mode) String() string {
	switch m {
	case GlobalFirst:
		return "global-first"
	case LibraryOnly:
		return "library-only"
	default:
		return "library-first"
	}
}

// ParseMode accepts the String forms plus the upper-case manifest names
// (LIBRARY_FIRST, GLOBAL_FIRST, DEFAULT).
func ParseMode(s string) (Mode, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case "", "default", "library-first":
		return LibraryFirst, nil
	case "global-first":
		return GlobalFirst, nil
	case "library-only":
		return LibraryOnly, nil
	}
	return LibraryFirst, errors.New(errors.ErrCodeInvalidInput, "unknown resolution mode %q", s)
}

// Exclusion drops group:artifact from a transitive expansion.
type Exclusion struct {
	Group    string `json:"groupId"`
	Artifact string `json:"artifactId"`
}

// ID is "group:artifact".
func (e Exclusion) ID() string { return e.Group + ":" + e.Artifact }

// Descriptor is an immutable request for one artifact.
type Descriptor struct {
	coord       Coordinate
	checksum    digest.Digest
	repos       []string
	urls        []string
	relocations []Relocation
	transitive  bool
	exclusions  []Exclusion
	isolated    bool
	loaderID    string
	mode        Mode
}

func (d *Descriptor) Coordinate() Coordinate { return d.coord }
func (d *Descriptor) String() string         { return d.coord.String() }

// Checksum is the normalized expected digest, or "" when none was declared.
func (d *Descriptor) Checksum() digest.Digest { return d.checksum }

// Repositories returns the descriptor's own repository URLs in priority order.
func (d *Descriptor) Repositories() []string { return slices.Clone(d.repos) }

// URLs returns direct download URLs, tried before any repository.
func (d *Descriptor) URLs() []string { return slices.Clone(d.urls) }

// Relocations returns the ordered relocation rules.
func (d *Descriptor) Relocations() []Relocation {
	out := make([]Relocation, len(d.relocations))
	for i, r := range d.relocations {
		out[i] = r.clone()
	}
	return out
}

func (d *Descriptor) HasRelocations() bool { return len(d.relocations) > 0 }
func (d *Descriptor) Transitive() bool     { return d.transitive }
func (d *Descriptor) Exclusions() []Exclusion {
	return slices.Clone(d.exclusions)
}
func (d *Descriptor) Isolated() bool { return d.isolated }
func (d *Descriptor) LoaderID() string {
	return d.loaderID
}
func (d *Descriptor) Mode() Mode { return d.mode }

// Excludes reports whether c is listed in the transitive exclusions.
func (d *Descriptor) Excludes(c Coordinate) bool {
	for _, e := range d.exclusions {
		if e.Group == c.Group && e.Artifact == c.Artifact {
			return true
		}
	}
	return false
}

// RelocationFingerprint is [Fingerprint] of the descriptor's rules.
func (d *Descriptor) RelocationFingerprint() string { return Fingerprint(d.relocations) }

type keyMaterial struct {
	Group       string `json:"g"`
	Artifact    string `json:"a"`
	Version     string `json:"v"`
	Classifier  string `json:"c,omitempty"`
	Checksum    string `json:"sum,omitempty"`
	Relocations string `json:"rel,omitempty"`
}

// Key is the content address of the resolved artifact: SHA-256 over the
// coordinate, the expected checksum and the relocation fingerprint.
func (d *Descriptor) Key() string {
	data, _ := json.Marshal(keyMaterial{
		Group:       d.coord.Group,
		Artifact:    d.coord.Artifact,
		Version:     d.coord.Version,
		Classifier:  d.coord.Classifier,
		Checksum:    d.checksum.String(),
		Relocations: d.RelocationFingerprint(),
	})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Equal reports whether two descriptors resolve to the same bytes.
func (d *Descriptor) Equal(o *Descriptor) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.Key() == o.Key()
}

// Builder assembles a Descriptor. The zero value is ready to use; methods
// return the builder for chaining and Build validates everything at once.
type Builder struct {
	d        Descriptor
	checksum string
}

// NewBuilder starts a descriptor for the given coordinate parts.
func NewBuilder(group, artifact, version string) *Builder {
	return &Builder{d: Descriptor{coord: Coordinate{
		Group:    Unescape(group),
		Artifact: Unescape(artifact),
		Version:  version,
	}}}
}

// From starts a builder pre-filled with every attribute of d.
func From(d *Descriptor) *Builder {
	b := &Builder{d: *d, checksum: d.checksum.String()}
	b.d.repos = d.Repositories()
	b.d.urls = d.URLs()
	b.d.relocations = d.Relocations()
	b.d.exclusions = d.Exclusions()
	return b
}

func (b *Builder) Classifier(c string) *Builder { b.d.coord.Classifier = c; return b }
func (b *Builder) Version(v string) *Builder    { b.d.coord.Version = v; return b }

// Checksum sets the expected SHA-256 (base64, hex, or sha256:hex).
func (b *Builder) Checksum(s string) *Builder { b.checksum = s; return b }

func (b *Builder) Repository(urls ...string) *Builder {
	b.d.repos = append(b.d.repos, urls...)
	return b
}

// Repositories replaces the repository list.
func (b *Builder) Repositories(urls []string) *Builder {
	b.d.repos = slices.Clone(urls)
	return b
}

func (b *Builder) URL(urls ...string) *Builder {
	b.d.urls = append(b.d.urls, urls...)
	return b
}

// Relocate appends a rule without include or exclude filters.
func (b *Builder) Relocate(pattern, relocated string) *Builder {
	return b.Relocation(NewRelocation(pattern, relocated, nil, nil))
}

func (b *Builder) Relocation(rules ...Relocation) *Builder {
	for _, r := range rules {
		b.d.relocations = append(b.d.relocations, r.clone())
	}
	return b
}

func (b *Builder) Transitive(on bool) *Builder { b.d.transitive = on; return b }

func (b *Builder) Exclude(group, artifact string) *Builder {
	b.d.exclusions = append(b.d.exclusions, Exclusion{Group: Unescape(group), Artifact: Unescape(artifact)})
	return b
}

func (b *Builder) Isolated(on bool) *Builder { b.d.isolated = on; return b }

// LoaderID names the isolated group; it implies Isolated.
func (b *Builder) LoaderID(id string) *Builder {
	b.d.loaderID = id
	if id != "" {
		b.d.isolated = true
	}
	return b
}

func (b *Builder) Mode(m Mode) *Builder { b.d.mode = m; return b }

// Build validates and returns an independent Descriptor.
func (b *Builder) Build() (*Descriptor, error) {
	d := b.d
	coord := d.coord.String()

	if err := d.coord.Validate(); err != nil {
		return nil, err
	}
	sum, err := checksum.ParseExpected(b.checksum)
	if err != nil {
		return nil, errors.Context(err).At("", coord, "")
	}
	d.checksum = sum

	for _, u := range append(slices.Clone(d.repos), d.urls...) {
		if err := errors.ValidateRepositoryURL(u); err != nil {
			return nil, errors.Context(err).At("", coord, "")
		}
	}
	for _, r := range d.relocations {
		if err := r.Validate(); err != nil {
			return nil, errors.Context(err).At("", coord, "")
		}
	}
	for _, e := range d.exclusions {
		if e.Group == "" || e.Artifact == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "exclusion needs group and artifact").At("", coord, "")
		}
	}

	d.repos = dedupe(d.repos)
	d.urls = dedupe(d.urls)
	d.relocations = slices.Clone(d.relocations)
	d.exclusions = slices.Clone(d.exclusions)
	return &d, nil
}

// MustBuild is Build for static descriptors; it panics on invalid input.
func (b *Builder) MustBuild() *Descriptor {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

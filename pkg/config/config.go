// Package config reads library manifests.
//
// A manifest lists repositories, global relocations and libraries. It may
// be written in JSON, YAML or TOML; the field names are the same in all
// three:
//
//	{
//	  "version": 0,
//	  "repositories": ["https://repo1.maven.org/maven2/"],
//	  "relocations": [{"pattern": "com{}google{}gson", "relocatedPattern": "me.app.libs.gson"}],
//	  "libraries": [{"groupId": "com{}google{}code{}gson", "artifactId": "gson", "version": "2.10.1"}]
//	}
//
// Global relocations are appended to every library's own relocations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"sigs.k8s.io/yaml"

	"github.com/libbyhq/libby/pkg/errors"
	"github.com/libbyhq/libby/pkg/library"
	"github.com/libbyhq/libby/pkg/repository"
)

// Version is the only manifest format version understood.
const Version = 0

// Format is a manifest encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks a format from a file extension. Unknown extensions are
// read as JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	}
	return FormatJSON
}

// File is the on-disk manifest shape.
type File struct {
	Version      *int         `json:"version,omitempty" toml:"version"`
	Repositories []string     `json:"repositories,omitempty" toml:"repositories"`
	Relocations  []Relocation `json:"relocations,omitempty" toml:"relocations"`
	Libraries    []Library    `json:"libraries,omitempty" toml:"libraries"`
}

// Relocation is one relocation rule.
type Relocation struct {
	Pattern          string   `json:"pattern" toml:"pattern"`
	RelocatedPattern string   `json:"relocatedPattern" toml:"relocatedPattern"`
	Includes         []string `json:"includes,omitempty" toml:"includes"`
	Excludes         []string `json:"excludes,omitempty" toml:"excludes"`
}

// Exclusion names a transitive dependency to leave out.
type Exclusion struct {
	GroupID    string `json:"groupId" toml:"groupId"`
	ArtifactID string `json:"artifactId" toml:"artifactId"`
}

// Library is one library entry.
type Library struct {
	GroupID                        string       `json:"groupId" toml:"groupId"`
	ArtifactID                     string       `json:"artifactId" toml:"artifactId"`
	Version                        string       `json:"version" toml:"version"`
	Classifier                     string       `json:"classifier,omitempty" toml:"classifier"`
	Checksum                       string       `json:"checksum,omitempty" toml:"checksum"`
	ChecksumFromBase64             string       `json:"checksumFromBase64,omitempty" toml:"checksumFromBase64"`
	URLs                           []string     `json:"urls,omitempty" toml:"urls"`
	Repositories                   []string     `json:"repositories,omitempty" toml:"repositories"`
	Relocations                    []Relocation `json:"relocations,omitempty" toml:"relocations"`
	IsolatedLoad                   bool         `json:"isolatedLoad,omitempty" toml:"isolatedLoad"`
	LoaderID                       string       `json:"loaderId,omitempty" toml:"loaderId"`
	ResolveTransitiveDependencies  bool         `json:"resolveTransitiveDependencies,omitempty" toml:"resolveTransitiveDependencies"`
	ExcludedTransitiveDependencies []Exclusion  `json:"excludedTransitiveDependencies,omitempty" toml:"excludedTransitiveDependencies"`
	ResolutionMode                 string       `json:"resolutionMode,omitempty" toml:"resolutionMode"`
}

// Config is a validated manifest.
type Config struct {
	Repositories []string
	Relocations  []library.Relocation
	Libraries    []*library.Descriptor
}

// Load reads the manifest at path, choosing the format by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "read manifest %s", path)
	}
	cfg, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a manifest.
func Parse(data []byte, format Format) (*Config, error) {
	var f File
	var err error
	switch format {
	case FormatTOML:
		err = toml.Unmarshal(data, &f)
	case FormatJSON, FormatYAML:
		// JSON is a subset of YAML; both go through the JSON tags.
		err = yaml.Unmarshal(data, &f)
	default:
		return nil, errors.New(errors.ErrCodeInvalidInput, "unknown manifest format %q", format)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "malformed manifest")
	}
	return f.Build()
}

// Build validates f and turns it into descriptors.
func (f *File) Build() (*Config, error) {
	if f.Version != nil && *f.Version != Version {
		return nil, errors.New(errors.ErrCodeInvalidInput,
			"manifest is version %d but only version %d is supported", *f.Version, Version)
	}

	cfg := &Config{Repositories: expand(f.Repositories)}
	for i, u := range cfg.Repositories {
		if err := errors.ValidateRepositoryURL(u); err != nil {
			return nil, fmt.Errorf("repositories[%d]: %w", i, err)
		}
	}
	global, err := relocations(f.Relocations, "relocations")
	if err != nil {
		return nil, err
	}
	cfg.Relocations = global

	for i, lib := range f.Libraries {
		d, err := lib.descriptor(fmt.Sprintf("libraries[%d]", i), global)
		if err != nil {
			return nil, err
		}
		cfg.Libraries = append(cfg.Libraries, d)
	}
	return cfg, nil
}

func relocations(in []Relocation, where string) ([]library.Relocation, error) {
	out := make([]library.Relocation, 0, len(in))
	for i, r := range in {
		if r.Pattern == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "%s[%d]: pattern is required", where, i)
		}
		if r.RelocatedPattern == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "%s[%d]: relocatedPattern is required", where, i)
		}
		out = append(out, library.NewRelocation(r.Pattern, r.RelocatedPattern, r.Includes, r.Excludes))
	}
	return out, nil
}

func (l Library) descriptor(where string, global []library.Relocation) (*library.Descriptor, error) {
	for _, f := range []struct{ name, value string }{
		{"groupId", l.GroupID},
		{"artifactId", l.ArtifactID},
		{"version", l.Version},
	} {
		if f.value == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "%s: %s is required", where, f.name)
		}
	}
	own, err := relocations(l.Relocations, where+".relocations")
	if err != nil {
		return nil, err
	}

	b := library.NewBuilder(l.GroupID, l.ArtifactID, l.Version).
		Classifier(l.Classifier).
		Repositories(expand(l.Repositories)).
		URL(l.URLs...).
		Relocation(own...).
		Relocation(global...).
		Transitive(l.ResolveTransitiveDependencies).
		Isolated(l.IsolatedLoad)
	switch {
	case l.Checksum != "" && l.ChecksumFromBase64 != "":
		return nil, errors.New(errors.ErrCodeInvalidInput, "%s: set checksum or checksumFromBase64, not both", where)
	case l.Checksum != "":
		b.Checksum(l.Checksum)
	case l.ChecksumFromBase64 != "":
		b.Checksum(l.ChecksumFromBase64)
	}
	if l.LoaderID != "" {
		b.LoaderID(l.LoaderID)
	}
	for j, x := range l.ExcludedTransitiveDependencies {
		if x.GroupID == "" || x.ArtifactID == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "%s.excludedTransitiveDependencies[%d]: groupId and artifactId are required", where, j)
		}
		b.Exclude(x.GroupID, x.ArtifactID)
	}
	if l.ResolutionMode != "" {
		mode, err := library.ParseMode(l.ResolutionMode)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		b.Mode(mode)
	}

	d, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", where, err)
	}
	return d, nil
}

// expand replaces repository shorthands such as "central" with their URLs.
func expand(repos []string) []string {
	if len(repos) == 0 {
		return nil
	}
	out := make([]string, len(repos))
	for i, r := range repos {
		out[i] = repository.Lookup(r)
	}
	return out
}

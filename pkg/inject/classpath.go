package inject

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/libbyhq/libby/pkg/errors"
)

// ManifestVersion is the format version written by WriteManifest.
const ManifestVersion = 1

// ClassPath collects artifacts into class path lists.
// It is safe for concurrent use; each path is kept once per group, in the
// order it was first added.
type ClassPath struct {
	mu       sync.Mutex
	shared   []Element
	isolated map[string][]Element
	groups   []string
}

// Element is one class path entry.
type Element struct {
	Coordinate string        `json:"coordinate"`
	Path       string        `json:"path"`
	Checksum   digest.Digest `json:"checksum,omitempty"`
}

// Manifest is the serialized form of a ClassPath.
type Manifest struct {
	Version   int                  `json:"version"`
	ClassPath []Element            `json:"classPath"`
	Isolated  map[string][]Element `json:"isolated,omitempty"`
}

// NewClassPath returns an empty ClassPath.
func NewClassPath() *ClassPath {
	return &ClassPath{isolated: make(map[string][]Element)}
}

func element(a LocalArtifact) (Element, error) {
	if a.Path == "" || !filepath.IsAbs(a.Path) {
		return Element{}, errors.New(errors.ErrCodeInvalidInput, "artifact path must be absolute: %q", a.Path).
			At(errors.StageInject, coordinate(a), "")
	}
	return Element{Coordinate: coordinate(a), Path: a.Path, Checksum: a.Checksum}, nil
}

func coordinate(a LocalArtifact) string {
	if a.Descriptor == nil {
		return ""
	}
	return a.Descriptor.String()
}

func appendUnique(list []Element, e Element) []Element {
	if slices.ContainsFunc(list, func(x Element) bool { return x.Path == e.Path }) {
		return list
	}
	return append(list, e)
}

// Add puts a on the shared class path.
func (c *ClassPath) Add(_ context.Context, a LocalArtifact) error {
	e, err := element(a)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shared = appendUnique(c.shared, e)
	return nil
}

// AddIsolated puts a into the isolated group loaderID.
func (c *ClassPath) AddIsolated(_ context.Context, loaderID string, a LocalArtifact) error {
	e, err := element(a)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.isolated[loaderID]; !ok {
		c.groups = append(c.groups, loaderID)
	}
	c.isolated[loaderID] = appendUnique(c.isolated[loaderID], e)
	return nil
}

// String renders the shared class path with the platform list separator.
func (c *ClassPath) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return join(c.shared)
}

// Isolated renders the class path of one isolated group.
func (c *ClassPath) Isolated(loaderID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return join(c.isolated[loaderID])
}

// Groups lists isolated loader ids in first-use order.
func (c *ClassPath) Groups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.groups)
}

func join(es []Element) string {
	paths := make([]string, len(es))
	for i, e := range es {
		paths[i] = e.Path
	}
	return strings.Join(paths, string(os.PathListSeparator))
}

// Manifest snapshots the collected class paths.
func (c *ClassPath) Manifest() Manifest {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := Manifest{Version: ManifestVersion, ClassPath: slices.Clone(c.shared)}
	if m.ClassPath == nil {
		m.ClassPath = []Element{}
	}
	if len(c.isolated) > 0 {
		m.Isolated = make(map[string][]Element, len(c.isolated))
		for id, es := range c.isolated {
			m.Isolated[id] = slices.Clone(es)
		}
	}
	return m
}

// WriteManifest writes the manifest as indented JSON, replacing path
// atomically.
func (c *ClassPath) WriteManifest(path string) error {
	data, err := json.MarshalIndent(c.Manifest(), "", "  ")
	if err != nil {
		return err
	}
	fail := func(err error) error {
		return errors.Wrap(errors.ErrCodeInternal, err, "write manifest %s", path).At(errors.StageInject, "", "")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return fail(err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fail(err)
	}
	return nil
}

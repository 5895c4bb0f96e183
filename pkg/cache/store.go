// Package cache is the on-disk store of resolved artifacts.
//
// Entries are content addressed by the descriptor key (see
// library.Descriptor.Key) and laid out as
//
//	<root>/artifacts/<key[:2]>/<key>/<file>.jar
//	<root>/artifacts/<key[:2]>/<key>/metadata.json
//
// An entry is written into a temporary directory next to its final location
// and renamed into place, so readers never see a partial entry. Published
// entries are never modified; a concurrent writer that loses the rename
// adopts the winner's entry. Entries that fail validation are reported as
// CACHE_CORRUPTION, treated as misses and replaced by the next Put.
//
// [Store.Do] collapses concurrent resolutions of one key into one.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"

	"github.com/libbyhq/libby/pkg/checksum"
	"github.com/libbyhq/libby/pkg/errors"
	"github.com/libbyhq/libby/pkg/observability"
)

// ErrMiss is returned by Get when no valid entry exists.
var ErrMiss = stderrors.New("cache miss")

const (
	artifactsDir = "artifacts"
	engineDir    = "engine"
	metadataFile = "metadata.json"
	hookKind     = "artifact"
)

// Meta describes the bytes handed to Put.
type Meta struct {
	Coordinate            string
	FileName              string
	SourceChecksum        digest.Digest // digest of the downloaded bytes
	RelocationFingerprint string
	Repository            string
	URL                   string
}

// Entry is a published artifact.
type Entry struct {
	Key                   string        `json:"key"`
	Coordinate            string        `json:"coordinate"`
	File                  string        `json:"file"`
	Checksum              digest.Digest `json:"checksum"`
	SourceChecksum        digest.Digest `json:"source_checksum,omitempty"`
	RelocationFingerprint string        `json:"relocation_fingerprint,omitempty"`
	Repository            string        `json:"repository,omitempty"`
	URL                   string        `json:"url,omitempty"`
	Size                  int64         `json:"size"`
	CreatedAt             time.Time     `json:"created_at"`

	// Path is the absolute path of the artifact file.
	Path string `json:"-"`
}

// Options configures a Store.
type Options struct {
	Logger *log.Logger
}

// Store is the artifact cache. It is safe for concurrent use, including by
// several processes sharing one root.
type Store struct {
	root   string
	logger *log.Logger
	flight singleflight.Group
}

// New opens (creating if needed) a store rooted at root.
func New(root string, opts Options) (*Store, error) {
	if root == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "cache root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "cache root %q", root)
	}
	if err := os.MkdirAll(filepath.Join(abs, artifactsDir), 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create cache root")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Store{root: abs, logger: logger}, nil
}

// Root returns the absolute cache root.
func (s *Store) Root() string { return s.root }

// EngineDir is where the transitive resolution engine keeps its files.
func (s *Store) EngineDir() string { return filepath.Join(s.root, engineDir) }

func (s *Store) entryDir(key string) string {
	return filepath.Join(s.root, artifactsDir, key[:2], key)
}

func validKey(key string) error {
	if len(key) != 64 {
		return errors.New(errors.ErrCodeInvalidInput, "cache key %q is not a sha256 hex digest", key)
	}
	if _, err := hex.DecodeString(key); err != nil {
		return errors.New(errors.ErrCodeInvalidInput, "cache key %q is not a sha256 hex digest", key)
	}
	return nil
}

// Get returns the published entry for key, or ErrMiss. A corrupt entry is
// logged and reported as a miss.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	e, err := s.read(key)
	switch {
	case err == nil:
		observability.Cache().OnCacheHit(ctx, hookKind)
		return e, nil
	case stderrors.Is(err, ErrMiss):
	case errors.Is(err, errors.ErrCodeCacheCorruption):
		observability.Cache().OnCacheCorrupt(ctx, hookKind)
		s.logger.Warn("ignoring corrupt cache entry", "key", key, "err", err)
	default:
		return nil, err
	}
	observability.Cache().OnCacheMiss(ctx, hookKind)
	return nil, ErrMiss
}

// read loads and validates an entry without reporting hooks.
func (s *Store) read(key string) (*Entry, error) {
	dir := s.entryDir(key)
	raw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if os.IsNotExist(err) {
		if _, statErr := os.Stat(dir); statErr == nil {
			return nil, corrupt(key, "metadata missing", nil)
		}
		return nil, ErrMiss
	}
	if err != nil {
		return nil, corrupt(key, "read metadata", err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, corrupt(key, "decode metadata", err)
	}
	if e.Key != key {
		return nil, corrupt(key, fmt.Sprintf("metadata names key %s", e.Key), nil)
	}
	if e.File == "" || strings.ContainsAny(e.File, `/\`) {
		return nil, corrupt(key, fmt.Sprintf("invalid file name %q", e.File), nil)
	}
	e.Path = filepath.Join(dir, e.File)
	info, err := os.Stat(e.Path)
	if err != nil {
		return nil, corrupt(key, "artifact missing", err)
	}
	if info.Size() != e.Size {
		return nil, corrupt(key, fmt.Sprintf("artifact is %d bytes, metadata says %d", info.Size(), e.Size), nil)
	}
	return &e, nil
}

// Put publishes data under key and returns the entry. If a valid entry is
// already present it is returned untouched.
func (s *Store) Put(ctx context.Context, key string, data []byte, meta Meta) (*Entry, error) {
	return s.put(ctx, key, data, meta, false)
}

// Replace publishes data under key like Put, but a valid entry with
// different content is swapped out. SNAPSHOT artifacts use it so a newer
// build supersedes the cached one.
func (s *Store) Replace(ctx context.Context, key string, data []byte, meta Meta) (*Entry, error) {
	return s.put(ctx, key, data, meta, true)
}

func (s *Store) put(ctx context.Context, key string, data []byte, meta Meta, replace bool) (*Entry, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	if meta.FileName == "" || strings.ContainsAny(meta.FileName, `/\`) {
		return nil, errors.New(errors.ErrCodeInvalidInput, "invalid artifact file name %q", meta.FileName)
	}

	if existing, err := s.read(key); err == nil {
		if !replace || (existing.Checksum == checksum.Compute(data) && existing.File == meta.FileName) {
			return existing, nil
		}
	}

	dir := s.entryDir(key)
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, cacheErr(err, "create %s", parent)
	}
	tmp, err := os.MkdirTemp(parent, ".tmp-"+key[:12]+"-")
	if err != nil {
		return nil, cacheErr(err, "create temp entry")
	}
	defer os.RemoveAll(tmp)

	e := &Entry{
		Key:                   key,
		Coordinate:            meta.Coordinate,
		File:                  meta.FileName,
		Checksum:              checksum.Compute(data),
		SourceChecksum:        meta.SourceChecksum,
		RelocationFingerprint: meta.RelocationFingerprint,
		Repository:            meta.Repository,
		URL:                   meta.URL,
		Size:                  int64(len(data)),
		CreatedAt:             time.Now().UTC(),
	}
	if err := writeSynced(filepath.Join(tmp, e.File), data); err != nil {
		return nil, cacheErr(err, "write artifact")
	}
	metaJSON, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, cacheErr(err, "encode metadata")
	}
	if err := writeSynced(filepath.Join(tmp, metadataFile), metaJSON); err != nil {
		return nil, cacheErr(err, "write metadata")
	}

	if _, statErr := os.Stat(dir); statErr == nil {
		if replace {
			s.logger.Debug("replacing cache entry", "coordinate", meta.Coordinate, "key", key[:12])
		} else {
			// Only a corrupt entry can be here; valid ones returned above.
			s.logger.Warn("replacing corrupt cache entry", "key", key)
		}
		// Move the old entry aside first so the rename below never sees a
		// populated directory.
		old := tmp + ".old"
		if err := os.Rename(dir, old); err != nil && !os.IsNotExist(err) {
			return nil, cacheErr(err, "retire entry")
		}
		defer os.RemoveAll(old)
	}

	if err := os.Rename(tmp, dir); err != nil {
		if won, rerr := s.read(key); rerr == nil {
			return won, nil
		}
		return nil, cacheErr(err, "publish entry")
	}

	e.Path = filepath.Join(dir, e.File)
	observability.Cache().OnCacheSet(ctx, hookKind, len(data))
	s.logger.Debug("cached", "coordinate", meta.Coordinate, "key", key[:12], "bytes", len(data))
	return e, nil
}

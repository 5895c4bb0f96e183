package httputil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// ErrExpired is returned by [Cache.Get] and [Cache.GetBytes] when an entry
// exists but has exceeded its TTL. The stale data is still on disk; callers
// should refetch and overwrite it.
var ErrExpired = errors.New("cache entry expired")

// Cache stores fetched documents on disk.
//
// Each entry is a file named by the SHA-256 of its key, so keys may contain
// any characters. Writes go through a temporary file and a rename, which
// makes a Cache safe to share between goroutines and between processes
// pointed at the same directory.
//
// Entries expire by modification time. A TTL of 0 means entries never expire.
//
// Use [Cache.Namespace] to scope keys per document kind:
//
//	poms := cache.Namespace("pom:")
//	meta := cache.Namespace("metadata:")
type Cache struct {
	dir    string
	ttl    time.Duration
	prefix string
}

// NewCache creates a Cache that stores entries in dir with the given TTL.
// The directory is created with mode 0755 if it does not exist.
func NewCache(dir string, ttl time.Duration) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("httputil: cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir, ttl: ttl}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// TTL returns the time-to-live for entries.
func (c *Cache) TTL() time.Duration { return c.ttl }

// GetBytes returns the raw entry for key.
//
//   - (data, true, nil): fresh hit
//   - (nil, false, nil): miss
//   - (nil, false, ErrExpired): stale entry
func (c *Cache) GetBytes(key string) ([]byte, bool, error) {
	path := c.keyPath(c.prefix + key)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if c.ttl > 0 && time.Since(info.ModTime()) > c.ttl {
		return nil, false, ErrExpired
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// SetBytes stores data under key, replacing any previous entry.
func (c *Cache) SetBytes(key string, data []byte) error {
	return writeFileAtomic(c.keyPath(c.prefix+key), data)
}

// Get unmarshals the JSON entry for key into v. Outcomes match [Cache.GetBytes].
func (c *Cache) Get(key string, v any) (bool, error) {
	data, ok, err := c.GetBytes(key)
	if !ok || err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, v)
}

// Set stores v as JSON under key.
func (c *Cache) Set(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SetBytes(key, data)
}

// Namespace returns a view of the cache that prefixes every key with prefix.
// Calls chain: c.Namespace("a:").Namespace("b:") uses prefix "a:b:".
func (c *Cache) Namespace(prefix string) *Cache {
	return &Cache{
		dir:    c.dir,
		ttl:    c.ttl,
		prefix: c.prefix + prefix,
	}
}

// WithTTL returns a view of the cache using a different TTL.
func (c *Cache) WithTTL(ttl time.Duration) *Cache {
	return &Cache{dir: c.dir, ttl: ttl, prefix: c.prefix}
}

func (c *Cache) keyPath(key string) string {
	h := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(h[:]))
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}

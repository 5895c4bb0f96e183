package cache

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/libbyhq/libby/pkg/checksum"
	"github.com/libbyhq/libby/pkg/errors"
)

// List returns every valid entry, newest first. Corrupt entries are
// skipped and returned separately by key.
func (s *Store) List() (entries []*Entry, corruptKeys []string, err error) {
	base := filepath.Join(s.root, artifactsDir)
	shards, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, cacheErr(err, "list cache")
	}
	for _, shard := range shards {
		if !shard.IsDir() || strings.HasPrefix(shard.Name(), ".") {
			continue
		}
		dirs, err := os.ReadDir(filepath.Join(base, shard.Name()))
		if err != nil {
			return nil, nil, cacheErr(err, "list cache")
		}
		for _, d := range dirs {
			key := d.Name()
			if !d.IsDir() || strings.HasPrefix(key, ".") || validKey(key) != nil {
				continue
			}
			e, err := s.read(key)
			switch {
			case err == nil:
				entries = append(entries, e)
			case errors.Is(err, errors.ErrCodeCacheCorruption):
				corruptKeys = append(corruptKeys, key)
			case !stderrors.Is(err, ErrMiss):
				return nil, nil, err
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	return entries, corruptKeys, nil
}

// Verify recomputes the checksum of a published entry.
func (s *Store) Verify(ctx context.Context, key string) error {
	e, err := s.read(key)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return corrupt(key, "read artifact", err)
	}
	if r := checksum.Verify(data, e.Checksum); r != checksum.Match {
		return corrupt(key, "artifact bytes do not match recorded checksum", nil)
	}
	return nil
}

// Remove deletes one entry. Removing a missing entry is not an error.
func (s *Store) Remove(key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := os.RemoveAll(s.entryDir(key)); err != nil {
		return cacheErr(err, "remove %s", key)
	}
	return nil
}

// Clear deletes every artifact entry. The engine directory is kept.
func (s *Store) Clear() error {
	base := filepath.Join(s.root, artifactsDir)
	if err := os.RemoveAll(base); err != nil {
		return cacheErr(err, "clear cache")
	}
	return os.MkdirAll(base, 0o755)
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func corrupt(key, msg string, cause error) *errors.Error {
	e := errors.Wrap(errors.ErrCodeCacheCorruption, cause, "entry %s: %s", key[:12], msg)
	e.Stage = errors.StageCache
	return e
}

func cacheErr(cause error, format string, args ...any) *errors.Error {
	e := errors.Wrap(errors.ErrCodeInternal, cause, format, args...)
	e.Stage = errors.StageCache
	return e
}

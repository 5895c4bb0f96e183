// Package repository fetches artifact bytes from Maven-layout repositories.
//
// A [Repository] answers one question: given a coordinate, return the bytes
// or [ErrNotFound]. [Remote] speaks HTTP(S), [Local] reads a directory tree
// such as ~/.m2/repository. [Resolver] walks an ordered list of
// repositories for one descriptor, retrying transient failures and falling
// through on misses.
package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/libbyhq/libby/pkg/library"
)

var (
	// ErrNotFound is returned when a repository does not have the file.
	ErrNotFound = errors.New("not found")

	// ErrNetwork is returned for HTTP failures (timeouts, connection
	// errors, unexpected statuses).
	ErrNetwork = errors.New("network error")
)

// Well-known repositories.
const (
	MavenCentral = "https://repo1.maven.org/maven2/"
	Sonatype     = "https://oss.sonatype.org/content/groups/public/"
	JitPack      = "https://jitpack.io/"
	Google       = "https://maven.google.com/"
)

// MetadataFile is the per-version metadata document of SNAPSHOT builds.
const MetadataFile = "maven-metadata.xml"

// MavenLocal returns the local repository under the user's home directory.
func MavenLocal() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".m2", "repository")
}

// Lookup resolves a repository shorthand ("central", "sonatype", "jitpack",
// "google", "local") to its URL. Anything else is returned unchanged.
func Lookup(name string) string {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "central", "maven-central":
		return MavenCentral
	case "sonatype":
		return Sonatype
	case "jitpack":
		return JitPack
	case "google":
		return Google
	case "local", "maven-local":
		return MavenLocal()
	}
	return name
}

// IsLocal reports whether raw (or the shorthand it stands for) names a
// repository or file on the local filesystem.
func IsLocal(raw string) bool {
	raw = Lookup(raw)
	return strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "file:")
}

// Request names one file in a repository.
type Request struct {
	Coordinate library.Coordinate
	Ext        string // file extension, "jar" when empty
	// FileVersion replaces Version in the file name; timestamped SNAPSHOT
	// builds use it.
	FileVersion string
	// File, when set, names a file in the version directory directly
	// (for example maven-metadata.xml).
	File string
}

func (r Request) ext() string {
	if r.Ext == "" {
		return "jar"
	}
	return r.Ext
}

// FileName is the file the request resolves to.
func (r Request) FileName() string {
	if r.File != "" {
		return r.File
	}
	return r.Coordinate.FileName(r.FileVersion, r.ext())
}

// Repository fetches files by coordinate.
type Repository interface {
	// Name identifies the repository in logs and errors.
	Name() string
	// URL returns the location req would be fetched from.
	URL(req Request) string
	// Fetch returns the file's bytes, ErrNotFound, or another error.
	// Errors wrapped in httputil.RetryableError may succeed on retry.
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

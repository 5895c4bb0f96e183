// Package inject hands resolved artifacts to whatever loads them.
//
// The loader is platform specific, so it hides behind [Injector]. Artifacts
// go either on the shared class path ([Injector.Add]) or into an isolated
// group ([Injector.AddIsolated]); artifacts sharing a loader id share one
// isolated group, and the empty id names the default isolated group.
// [ClassPath] is the reference strategy: it builds class path strings and a
// JSON manifest a launcher can read.
package inject

import (
	"context"

	"github.com/opencontainers/go-digest"

	"github.com/libbyhq/libby/pkg/library"
)

// LocalArtifact is a resolved artifact on local disk.
type LocalArtifact struct {
	Descriptor *library.Descriptor
	// Path is the absolute path of the final (possibly relocated) bytes.
	Path     string
	Isolated bool
	LoaderID string
	// Checksum is the digest of the bytes at Path.
	Checksum digest.Digest
	// CacheHit reports that no repository was contacted.
	CacheHit bool
}

// Injector makes artifacts loadable.
type Injector interface {
	Add(ctx context.Context, a LocalArtifact) error
	AddIsolated(ctx context.Context, loaderID string, a LocalArtifact) error
}

// Inject routes a to the shared or isolated side of inj.
func Inject(ctx context.Context, inj Injector, a LocalArtifact) error {
	if a.Isolated {
		return inj.AddIsolated(ctx, a.LoaderID, a)
	}
	return inj.Add(ctx, a)
}

package bridge

import (
	_ "crypto/sha256"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"

	"github.com/opencontainers/go-digest"
)

// ManifestFile names the manifest inside an asset filesystem.
const ManifestFile = "engine.json"

//go:embed assets/*
var embedded embed.FS

// Embedded returns the engine assets compiled into this binary. `make
// engine` cross-compiles cmd/libby-engine into pkg/bridge/assets and
// rewrites the manifest before the host is built.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "assets")
	if err != nil {
		panic(err)
	}
	return sub
}

// Manifest describes the engine builds in an asset filesystem.
type Manifest struct {
	Version  string            `json:"version"`
	Binaries map[string]Binary `json:"binaries"`
}

// Binary is one platform build.
type Binary struct {
	File   string        `json:"file"`
	Digest digest.Digest `json:"sha256"`
}

// ReadManifest loads and checks the manifest in fsys.
func ReadManifest(fsys fs.FS) (*Manifest, error) {
	data, err := fs.ReadFile(fsys, ManifestFile)
	if err != nil {
		return nil, fmt.Errorf("read engine manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse engine manifest: %w", err)
	}
	if m.Version == "" {
		return nil, fmt.Errorf("engine manifest has no version")
	}
	for platform, b := range m.Binaries {
		if b.File == "" {
			return nil, fmt.Errorf("engine manifest: %s has no file", platform)
		}
		if err := b.Digest.Validate(); err != nil {
			return nil, fmt.Errorf("engine manifest: %s: %w", platform, err)
		}
	}
	return &m, nil
}

// For returns the build for platform ("GOOS-GOARCH").
func (m *Manifest) For(platform string) (Binary, error) {
	b, ok := m.Binaries[platform]
	if !ok {
		return Binary{}, fmt.Errorf("no engine build for %s (engine %s)", platform, m.Version)
	}
	return b, nil
}

package bridge

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
)

// BinaryName is the file name of an extracted engine.
const BinaryName = "libby-engine"

// Installed is an engine binary ready to launch.
type Installed struct {
	Path    string
	Version string
	Digest  digest.Digest
}

// Install extracts the engine for platform from fsys into
// <dir>/<version>/libby-engine, unless a copy with the right digest is
// already there, and verifies the result.
func Install(fsys fs.FS, dir, platform string) (*Installed, error) {
	m, err := ReadManifest(fsys)
	if err != nil {
		return nil, err
	}
	bin, err := m.For(platform)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, m.Version, BinaryName)
	inst := &Installed{Path: path, Version: m.Version, Digest: bin.Digest}

	if VerifyFile(path, bin.Digest) == nil {
		return inst, nil
	}

	data, err := fs.ReadFile(fsys, bin.File)
	if err != nil {
		return nil, fmt.Errorf("read engine asset: %w", err)
	}
	if got := digest.SHA256.FromBytes(data); got != bin.Digest {
		return nil, fmt.Errorf("engine asset %s: digest %s, manifest says %s", bin.File, got, bin.Digest)
	}
	if err := writeExecutable(path, data); err != nil {
		return nil, fmt.Errorf("extract engine: %w", err)
	}
	if err := VerifyFile(path, bin.Digest); err != nil {
		return nil, err
	}
	return inst, nil
}

// VerifyFile checks that the file at path has digest d.
func VerifyFile(path string, d digest.Digest) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	v := d.Verifier()
	if _, err := io.Copy(v, f); err != nil {
		return err
	}
	if !v.Verified() {
		return fmt.Errorf("%s does not match %s", path, d)
	}
	return nil
}

// writeExecutable publishes data at path through a temp file and rename so
// that concurrent installers never see a partial binary.
func writeExecutable(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+BinaryName+"-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Package buildinfo provides build-time version information.
//
// Variables are set via ldflags during build:
//
//	go build -ldflags "-X github.com/libbyhq/libby/pkg/buildinfo.Version=v1.0.0 \
//	    -X github.com/libbyhq/libby/pkg/buildinfo.Commit=$(git rev-parse HEAD) \
//	    -X github.com/libbyhq/libby/pkg/buildinfo.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildinfo

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version (e.g., "v1.2.3"). It is also the
	// User-Agent suffix sent to repositories.
	Version = "dev"

	// Commit is the git commit SHA.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// Platform is the GOOS-GOARCH pair used to pick the embedded engine binary.
func Platform() string { return runtime.GOOS + "-" + runtime.GOARCH }

// String returns the formatted build information.
func String() string {
	return fmt.Sprintf("version: %s\ncommit: %s\nbuilt: %s\nplatform: %s", Version, Commit, Date, Platform())
}

// Template returns the version template string for cobra.
func Template() string {
	return fmt.Sprintf("{{.Name}} version %s\ncommit: %s\nbuilt: %s\n", Version, Commit, Date)
}

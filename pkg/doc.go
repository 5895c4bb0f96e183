// Package pkg provides the libraries behind libby, a runtime dependency
// resolver for JVM artifacts.
//
// # Overview
//
// Libby turns a library descriptor (Maven coordinate plus checksum,
// repositories, relocation rules and loading options) into verified jar
// files on local disk, ready to be put on a class path. Downloads are
// cached by content so the second resolution of the same descriptor never
// touches the network.
//
// # Architecture
//
// The data flow for one descriptor:
//
//	library.Descriptor
//	         ↓
//	    [bridge] (transitive expansion through the embedded engine)
//	         ↓
//	    [repository] (locate: direct URLs, then repositories in mode order)
//	         ↓
//	    [checksum] (verify against the declared SHA-256)
//	         ↓
//	    [relocate] (rewrite packages inside the jar)
//	         ↓
//	    [cache] (atomic publish, single flight per key)
//	         ↓
//	    [inject] (shared or isolated class path groups)
//
// [manager] ties these stages together.
//
// # Quick Start
//
//	store, _ := cache.New(dir, cache.Options{})
//	m, _ := manager.New(manager.Options{Store: store, Repositories: []string{"central"}})
//	defer bridge.CloseShared()
//
//	d := library.NewBuilder("com{}google{}code{}gson", "gson", "2.10.1").
//	    Checksum("QkHBSncnw0/+6mUH7IAxijPUqQ8HDkVWgQefuU7kxZM=").
//	    Relocate("com{}google{}gson", "me.app.libs.gson").
//	    MustBuild()
//
//	cp := inject.NewClassPath()
//	if err := m.Load(ctx, cp, d); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cp.String())
//
// # Main Packages
//
// ## Model
//
// [library] - Coordinates, relocation rules and immutable descriptors built
// with a validating builder.
//
// [config] - Library manifests in JSON, YAML or TOML.
//
// [errors] - Structured errors carrying a code, the pipeline stage, the
// coordinate and the repository involved.
//
// ## Resolution
//
// [repository] - Remote, local and direct repositories behind one
// interface, with retries, per-host rate limits and credentials.
//
// [checksum] - SHA-256 parsing (hex or base64), verification and the
// missing-checksum policy.
//
// [relocate] - Jar rewriting: class references, resource paths and
// service files move from one package prefix to another.
//
// [cache] - The content-addressed artifact store.
//
// [manager] - Resolution orchestration, concurrency and fallbacks.
//
// [inject] - Class path assembly and manifests.
//
// ## Transitive Dependencies
//
// [engine] - POM-based closure computation: parents, properties,
// dependency management, BOM imports, exclusions and nearest-wins
// mediation. Runs as the libby-engine child process.
//
// [bridge] - Extracts, verifies, starts and talks to the engine.
//
// [dag] - Dependency graphs layered by depth, rendered by [render/dot]
// and saved or loaded by [render/graphjson].
//
// ## Infrastructure
//
// [httputil] - Retry with backoff and a TTL file cache.
//
// [observability] - Resolve, cache and HTTP hooks with a Prometheus
// implementation.
//
// [server] - HTTP daemon exposing resolution and cache listing.
//
// [buildinfo] - Version information injected at build time.
//
// [library]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/library
// [config]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/config
// [errors]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/errors
// [repository]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/repository
// [checksum]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/checksum
// [relocate]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/relocate
// [cache]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/cache
// [manager]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/manager
// [inject]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/inject
// [engine]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/engine
// [bridge]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/bridge
// [dag]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/dag
// [render/dot]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/render/dot
// [render/graphjson]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/render/graphjson
// [httputil]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/httputil
// [observability]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/observability
// [server]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/server
// [buildinfo]: https://pkg.go.dev/github.com/libbyhq/libby/pkg/buildinfo
package pkg

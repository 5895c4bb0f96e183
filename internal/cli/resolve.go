package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/libbyhq/libby/pkg/config"
	"github.com/libbyhq/libby/pkg/errors"
	"github.com/libbyhq/libby/pkg/inject"
	"github.com/libbyhq/libby/pkg/library"
	"github.com/libbyhq/libby/pkg/manager"
	"github.com/libbyhq/libby/pkg/repository"
)

// resolveOpts holds the flags that shape descriptors built from the
// command line.
type resolveOpts struct {
	manifest      string
	transitive    bool
	relocations   []string
	excludes      []string
	checksum      string
	loaderID      string
	repositories  []string
	classpath     bool
	writeManifest string
}

// resolveCommand creates the resolve command.
func (c *CLI) resolveCommand() *cobra.Command {
	var opts resolveOpts

	cmd := &cobra.Command{
		Use:   "resolve [group:artifact:version[:classifier]...]",
		Short: "Download, verify and cache libraries",
		Long: `Resolve libraries into the local cache.

Libraries come from coordinates on the command line or from a manifest
(-f libby.json, .yaml or .toml). Each resolved file is printed with whether it
came from the cache.`,
		Example: `  libby resolve com.google.code.gson:gson:2.10.1
  libby resolve -f libby.json --classpath
  libby resolve org.slf4j:slf4j-simple:2.0.9 --transitive --relocate org.slf4j=me.app.slf4j`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := opts.descriptors(args)
			if err != nil {
				return err
			}
			return c.runResolve(cmd, ds, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.manifest, "file", "f", "", "library manifest (json, yaml or toml)")
	f.BoolVarP(&opts.transitive, "transitive", "t", false, "also resolve runtime dependencies")
	f.StringArrayVar(&opts.relocations, "relocate", nil, "relocation rule pattern=relocated (repeatable)")
	f.StringArrayVar(&opts.excludes, "exclude", nil, "transitive dependency group:artifact to skip (repeatable)")
	f.StringVar(&opts.checksum, "checksum", "", "expected SHA-256 (hex or base64); single coordinate only")
	f.StringVar(&opts.loaderID, "loader-id", "", "load into the named isolated group")
	f.StringArrayVarP(&opts.repositories, "repo", "r", nil, "repository for these libraries (repeatable)")
	f.BoolVar(&opts.classpath, "classpath", false, "print the resulting class path")
	f.StringVar(&opts.writeManifest, "write-manifest", "", "write the class path manifest as JSON to this file")

	return cmd
}

// descriptors builds the libraries named by a manifest and by args.
// Command-line flags apply only to args.
func (o resolveOpts) descriptors(args []string) ([]*library.Descriptor, error) {
	var ds []*library.Descriptor
	if o.manifest != "" {
		cfg, err := config.Load(o.manifest)
		if err != nil {
			return nil, err
		}
		ds = append(ds, withRepositories(cfg.Libraries, cfg.Repositories)...)
	}
	if o.checksum != "" && len(args) != 1 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "--checksum needs exactly one coordinate")
	}
	for _, arg := range args {
		d, err := o.descriptor(arg)
		if err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}
	if len(ds) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "nothing to resolve: pass coordinates or -f manifest")
	}
	return ds, nil
}

func (o resolveOpts) descriptor(arg string) (*library.Descriptor, error) {
	coord, err := library.ParseCoordinate(arg)
	if err != nil {
		return nil, err
	}
	b := library.NewBuilder(coord.Group, coord.Artifact, coord.Version).
		Classifier(coord.Classifier).
		Checksum(o.checksum).
		Repositories(expandRepositories(o.repositories)).
		Transitive(o.transitive).
		LoaderID(o.loaderID)
	for _, r := range o.relocations {
		pattern, relocated, ok := strings.Cut(r, "=")
		if !ok {
			return nil, errors.New(errors.ErrCodeInvalidInput, "relocation %q is not pattern=relocated", r)
		}
		b.Relocate(pattern, relocated)
	}
	for _, x := range o.excludes {
		group, artifact, ok := strings.Cut(x, ":")
		if !ok {
			return nil, errors.New(errors.ErrCodeInvalidInput, "exclusion %q is not group:artifact", x)
		}
		b.Exclude(group, artifact)
	}
	return b.Build()
}

// withRepositories appends manifest-level repositories to every library.
func withRepositories(ds []*library.Descriptor, repos []string) []*library.Descriptor {
	if len(repos) == 0 {
		return ds
	}
	out := make([]*library.Descriptor, len(ds))
	for i, d := range ds {
		out[i] = library.From(d).Repository(repos...).MustBuild()
	}
	return out
}

func (c *CLI) runResolve(cmd *cobra.Command, ds []*library.Descriptor, opts resolveOpts) error {
	ctx := cmd.Context()
	m, err := c.newManager()
	if err != nil {
		return err
	}

	prog := newProgress(loggerFromContext(ctx))
	spinner := newSpinnerWithContext(ctx, fmt.Sprintf("Resolving %d libraries...", len(ds)))
	spinner.Start()
	outcomes := m.ResolveAll(ctx, ds)
	spinner.Stop()

	cp := inject.NewClassPath()
	var files, hits int
	for _, o := range outcomes {
		if o.Err != nil {
			printError("%s", o.String())
			continue
		}
		printSuccess("%s", o.Descriptor)
		for _, a := range o.Artifacts {
			printArtifact(a)
			files++
			if a.CacheHit {
				hits++
			}
			if err := inject.Inject(ctx, cp, a); err != nil {
				return err
			}
		}
	}
	printResolveStats(len(ds), files, hits)

	if opts.classpath {
		printNewline()
		fmt.Println(cp.String())
		for _, id := range cp.Groups() {
			printKeyValue(id, cp.Isolated(id))
		}
	}
	if opts.writeManifest != "" {
		if err := cp.WriteManifest(opts.writeManifest); err != nil {
			return err
		}
		printFile(opts.writeManifest)
	}

	if failed := manager.Failed(outcomes); len(failed) > 0 {
		return fmt.Errorf("%d of %d libraries failed", len(failed), len(ds))
	}
	prog.done(fmt.Sprintf("Resolved %d libraries", len(ds)))
	return nil
}

func expandRepositories(repos []string) []string {
	out := make([]string, 0, len(repos))
	for _, r := range repos {
		out = append(out, repository.Lookup(r))
	}
	return out
}

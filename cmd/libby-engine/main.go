// Command libby-engine computes transitive dependency closures for libby.
//
// It is embedded in the libby library and launched as a child process;
// requests arrive as JSON lines on stdin and answers leave on stdout. Logs
// go to stderr.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/libbyhq/libby/pkg/buildinfo"
	"github.com/libbyhq/libby/pkg/engine"
	"github.com/libbyhq/libby/pkg/repository"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "libby-engine",
		Short:         "Transitive dependency engine for libby",
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCommand())
	return root
}

func serveCommand() *cobra.Command {
	var (
		cacheDir string
		verbose  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer resolve requests on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "engine"})
			if verbose {
				logger.SetLevel(log.DebugLevel)
			}
			e, err := engine.New(engine.Options{
				Resolver: repository.NewResolver(&repository.Factory{}, nil, repository.Options{Logger: logger}),
				CacheDir: cacheDir,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			logger.Debug("serving", "version", buildinfo.Version, "cache", cacheDir)
			return e.Serve(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "directory for cached POMs")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

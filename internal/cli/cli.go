package cli

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/libbyhq/libby/pkg/buildinfo"
	"github.com/libbyhq/libby/pkg/cache"
	"github.com/libbyhq/libby/pkg/manager"
	"github.com/libbyhq/libby/pkg/repository"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "libby"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configFile string
	settings   *Settings
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "libby",
		Short:        "Libby downloads, verifies and relocates JVM libraries at runtime",
		Long:         `Libby resolves Maven artifacts from remote or local repositories, verifies their checksums, optionally relocates their packages and builds class paths from a persistent content-addressed cache.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			return c.loadSettings(cmd)
		},
	}

	root.SetVersionTemplate(buildinfo.Template())

	root.PersistentFlags().StringVar(&c.configFile, "config", "", "settings file (default $XDG_CONFIG_HOME/libby/config.{toml,yaml,json})")
	addSettingsFlags(root.PersistentFlags())
	registerFlagCompletions(root)

	root.AddCommand(c.resolveCommand())
	root.AddCommand(c.treeCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.engineCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.versionCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// addSettingsFlags registers the flags named in flagKeys.
func addSettingsFlags(fs *pflag.FlagSet) {
	fs.String("cache-dir", "", "artifact cache directory")
	fs.StringSlice("repository", nil, "global repository URL or name (repeatable)")
	fs.String("checksum-policy", "", "missing checksum handling: warn, ignore or strict")
	fs.Duration("timeout", 0, "timeout for a single repository request")
	fs.Int("concurrency", 0, "parallel resolutions")
	fs.String("transitive-fallback", "", "on engine failure: abort or direct-only")
}

func (c *CLI) loadSettings(cmd *cobra.Command) error {
	v, err := newViper(c.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	s, err := loadSettings(v)
	if err != nil {
		return err
	}
	if s.ConfigFile != "" {
		c.Logger.Debug("settings loaded", "file", s.ConfigFile)
	}
	c.settings = s
	return nil
}

// =============================================================================
// Manager Factory
// =============================================================================

// openStore opens the artifact cache named by the settings.
func (c *CLI) openStore() (*cache.Store, error) {
	return cache.New(c.settings.CacheDir, cache.Options{Logger: c.Logger})
}

// newManager builds a Manager from the settings. Every Manager in the
// process shares one engine, stopped by bridge.CloseShared on exit.
func (c *CLI) newManager() (*manager.Manager, error) {
	store, err := c.openStore()
	if err != nil {
		return nil, err
	}
	s := c.settings
	factory := &repository.Factory{RateLimit: s.RateLimit}
	resolver := repository.NewResolver(factory, s.Repositories, repository.Options{
		Retry:   s.Retry,
		Timeout: s.Timeout,
		Logger:  c.Logger,
	})
	return manager.New(manager.Options{
		Store:              store,
		Resolver:           resolver,
		Repositories:       s.Repositories,
		ChecksumPolicy:     s.ChecksumPolicy,
		TransitiveFallback: s.TransitiveFallback,
		Concurrency:        s.Concurrency,
		Logger:             c.Logger,
	})
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/libby/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

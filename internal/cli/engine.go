package cli

import (
	"github.com/spf13/cobra"

	"github.com/libbyhq/libby/pkg/bridge"
	"github.com/libbyhq/libby/pkg/buildinfo"
)

// engineCommand creates the engine inspection command.
func (c *CLI) engineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Inspect the embedded transitive resolution engine",
	}

	cmd.AddCommand(c.engineInfoCommand())
	cmd.AddCommand(c.engineVerifyCommand())

	return cmd
}

// engineInfoCommand creates the "engine info" subcommand.
func (c *CLI) engineInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the embedded engine builds",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := bridge.ReadManifest(bridge.Embedded())
			if err != nil {
				return err
			}
			printKeyValue("version", m.Version)
			printKeyValue("platform", buildinfo.Platform())
			if bin, err := m.For(buildinfo.Platform()); err == nil {
				printKeyValue("binary", bin.File)
				printKeyValue("digest", bin.Digest.String())
			} else {
				printWarning("no engine build for %s", buildinfo.Platform())
			}
			for platform := range m.Binaries {
				printDetail("available: %s", platform)
			}
			return nil
		},
	}
}

// engineVerifyCommand creates the "engine verify" subcommand.
func (c *CLI) engineVerifyCommand() *cobra.Command {
	var ping bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Extract the engine into the cache and check its digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			inst, err := bridge.Install(bridge.Embedded(), store.EngineDir(), buildinfo.Platform())
			if err != nil {
				return err
			}
			printSuccess("Engine %s verified", inst.Version)
			printFile(inst.Path)
			printDetail("%s", inst.Digest)

			if !ping {
				return nil
			}
			b := bridge.New(bridge.Options{CacheRoot: store.Root(), Logger: c.Logger})
			defer b.Close()
			v, err := b.Version(cmd.Context())
			if err != nil {
				return err
			}
			printSuccess("Engine responded (version %s)", v)
			return nil
		},
	}

	cmd.Flags().BoolVar(&ping, "ping", false, "also start the engine and ping it")
	return cmd
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/libbyhq/libby/pkg/bridge"
	"github.com/libbyhq/libby/pkg/buildinfo"
)

// versionCommand creates the version command.
func (c *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(buildinfo.String())
			if m, err := bridge.ReadManifest(bridge.Embedded()); err == nil {
				fmt.Printf("engine: %s\n", m.Version)
			}
			return nil
		},
	}
}

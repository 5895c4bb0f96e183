package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/libbyhq/libby/pkg/cache"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the artifact cache",
	}

	cmd.AddCommand(c.cachePathCommand())
	cmd.AddCommand(c.cacheListCommand())
	cmd.AddCommand(c.cacheVerifyCommand())
	cmd.AddCommand(c.cacheClearCommand())

	return cmd
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(c.settings.CacheDir)
			return nil
		},
	}
}

// cacheListCommand creates the "cache list" subcommand.
func (c *CLI) cacheListCommand() *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached artifacts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			entries, corrupt, err := store.List()
			if err != nil {
				return err
			}

			if interactive {
				model := NewCacheModel(cmd.Context(), store, entries)
				_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
				return err
			}

			if len(entries) == 0 && len(corrupt) == 0 {
				printInfo("Cache is empty")
				return nil
			}
			var total int64
			for _, e := range entries {
				total += e.Size
				fmt.Println(StyleValue.Render(e.Coordinate) + StyleDim.Render("  "+formatBytes(e.Size)+"  "+e.Key))
			}
			for _, key := range corrupt {
				printWarning("corrupt entry %s", key)
			}
			printDetail("%d entries, %s", len(entries), formatBytes(total))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "browse, verify and remove entries interactively")
	return cmd
}

// cacheVerifyCommand creates the "cache verify" subcommand.
func (c *CLI) cacheVerifyCommand() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute checksums of every cached artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			bad, err := verifyStore(cmd, store, repair)
			if err != nil {
				return err
			}
			if bad > 0 {
				if repair {
					printWarning("Removed %d damaged entries", bad)
					return nil
				}
				return fmt.Errorf("%d damaged entries (rerun with --repair to remove them)", bad)
			}
			printSuccess("All entries verified")
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "remove damaged entries")
	return cmd
}

// verifyStore checks every entry and returns how many were damaged.
func verifyStore(cmd *cobra.Command, store *cache.Store, repair bool) (int, error) {
	entries, corrupt, err := store.List()
	if err != nil {
		return 0, err
	}
	damaged := corrupt
	for _, e := range entries {
		if err := cmd.Context().Err(); err != nil {
			return 0, err
		}
		if err := store.Verify(cmd.Context(), e.Key); err != nil {
			printError("%s: %v", e.Coordinate, err)
			damaged = append(damaged, e.Key)
		}
	}
	for _, key := range corrupt {
		printError("%s: unreadable metadata", key)
	}
	if repair {
		for _, key := range damaged {
			if err := store.Remove(key); err != nil {
				return 0, err
			}
		}
	}
	return len(damaged), nil
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			entries, _, err := store.List()
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			printSuccess("Cleared %d cached entries", len(entries))
			printDetail("Directory: %s", store.Root())
			return nil
		},
	}
}

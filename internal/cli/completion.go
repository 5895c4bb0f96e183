package cli

import (
	"github.com/spf13/cobra"
)

// flagValues lists the fixed values offered when completing settings flags.
var flagValues = map[string][]cobra.Completion{
	"checksum-policy": {
		cobra.CompletionWithDesc("warn", "log artifacts without a checksum"),
		cobra.CompletionWithDesc("ignore", "accept artifacts without a checksum"),
		cobra.CompletionWithDesc("strict", "reject artifacts without a checksum"),
	},
	"transitive-fallback": {
		cobra.CompletionWithDesc("abort", "fail when the engine cannot resolve"),
		cobra.CompletionWithDesc("direct-only", "keep direct libraries only"),
	},
	"repository": {
		cobra.CompletionWithDesc("central", "Maven Central"),
		cobra.CompletionWithDesc("sonatype", "Sonatype OSS"),
		cobra.CompletionWithDesc("jitpack", "JitPack"),
		cobra.CompletionWithDesc("google", "Google Maven"),
		cobra.CompletionWithDesc("local", "~/.m2/repository"),
	},
}

// registerFlagCompletions attaches flagValues to the persistent flags of root.
// Repository names are completed alongside URLs, so file completion stays on.
func registerFlagCompletions(root *cobra.Command) {
	for name, values := range flagValues {
		directive := cobra.ShellCompDirectiveNoFileComp
		if name == "repository" {
			directive = cobra.ShellCompDirectiveDefault
		}
		_ = root.RegisterFlagCompletionFunc(name, cobra.FixedCompletions(values, directive))
	}
}

// completionCommand creates the completion command for generating shell completions.
func (c *CLI) completionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for libby.

To load completions:

Bash:
  $ source <(libby completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ libby completion bash > /etc/bash_completion.d/libby
  # macOS:
  $ libby completion bash > $(brew --prefix)/etc/bash_completion.d/libby

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ libby completion zsh > "${fpath[1]}/_libby"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ libby completion fish | source

  # To load completions for each session, execute once:
  $ libby completion fish > ~/.config/fish/completions/libby.fish

PowerShell:
  PS> libby completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> libby completion powershell > libby.ps1
  # and source this file from your PowerShell profile.
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(out, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}

	return cmd
}

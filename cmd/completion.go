package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/trobanga/sisyphus/internal/models"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script",
	Long: `Generate shell completion script for sisyphus.

Analysis names are completed from the catalog of the active config.

Bash:
  $ source <(sisyphus completion bash)

  # To load completions for each session, execute once:
  $ sisyphus completion bash > /etc/bash_completion.d/sisyphus

Zsh:
  # If shell completion is not already enabled in your environment,
  # enable it once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  $ sisyphus completion zsh > "${fpath[1]}/_sisyphus"

Fish:
  $ sisyphus completion fish > ~/.config/fish/completions/sisyphus.fish

PowerShell:
  PS> sisyphus completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		default:
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)

	analysisStatusCmd.ValidArgsFunction = completeAnalysisNames(models.AnalysisFilter{})
	analysisResetCmd.ValidArgsFunction = completeAnalysisNames(models.AnalysisFilter{Status: models.AnalysisStatusError})

	types := []string{string(models.AnalysisTypeAlign), string(models.AnalysisTypeHmmcopy), string(models.AnalysisTypePseudobulk)}
	_ = runCmd.RegisterFlagCompletionFunc("type", cobra.FixedCompletions(types, cobra.ShellCompDirectiveNoFileComp))
	_ = analysisDiscoverCmd.RegisterFlagCompletionFunc("type", cobra.FixedCompletions(types, cobra.ShellCompDirectiveNoFileComp))
	_ = runCmd.RegisterFlagCompletionFunc("aligner", cobra.FixedCompletions([]string{"A", "M"}, cobra.ShellCompDirectiveNoFileComp))
}

// completeAnalysisNames completes the first argument with analysis names from the catalog
func completeAnalysisNames(filter models.AnalysisFilter) cobra.CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		env, err := openEnvironment(cmd.Context())
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		defer env.Close()

		analyses, err := env.catalog.ListAnalyses(cmd.Context(), filter)
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		var names []string
		for _, a := range analyses {
			if strings.HasPrefix(a.Name, toComplete) {
				names = append(names, a.Name)
			}
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	}
}

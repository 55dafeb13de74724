package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scripthost",
		Short: "scripthost - component container for node.js projects",
		Long: `scripthost deploys JavaScript components into a component container.

Identifiers have the form prefix:name. The nodejs factory resolves
zip archives and directories holding a package.json with a node engines
entry or a node_modules directory, extracts archives next to themselves
and runs the project's main script. The js factory runs single script
files.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "host config file (.cue, .yaml, .json) or CUE directory")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newExtractCommand())
	rootCmd.AddCommand(newInspectCommand())
	rootCmd.AddCommand(newProbeCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}

// printResult writes v as indented JSON when --json is set, otherwise text.
func printResult(w io.Writer, v interface{}, text string) error {
	if !jsonOutput {
		_, err := fmt.Fprintln(w, text)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

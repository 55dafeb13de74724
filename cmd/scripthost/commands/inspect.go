package commands

import (
	"fmt"
	"strings"

	"github.com/openfroyo/scripthost/pkg/loader"
	"github.com/openfroyo/scripthost/pkg/nodejs"
	"github.com/spf13/cobra"
)

type inspectResult struct {
	Root       string           `json:"root"`
	Manifest   *nodejs.Manifest `json:"manifest,omitempty"`
	HasModules bool             `json:"has_node_modules"`
	Eligible   bool             `json:"eligible"`
	Main       string           `json:"main,omitempty"`
}

func newInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <archive|directory>",
		Short: "Show whether a project is a node project",
		Long: `Read package.json from an archive or directory and report the
eligibility signals: a node engines entry and a node_modules directory.`,
		Example: `  scripthost inspect ./dist/http-server.zip --json`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := loader.NewShared(args[0])
			if err != nil {
				return err
			}
			defer l.Close()

			project, err := nodejs.Detect(l)
			if err != nil {
				return err
			}

			res := inspectResult{Root: args[0]}
			if project != nil {
				entry, err := nodejs.EntryScript(project.Manifest, l)
				if err != nil {
					return err
				}
				res.Manifest = project.Manifest
				res.HasModules = project.HasModules
				res.Eligible = project.Eligible()
				res.Main = entry
			}

			return printResult(cmd.OutOrStdout(), res, formatInspect(res))
		},
	}

	return cmd
}

func formatInspect(res inspectResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "root:         %s\n", res.Root)
	if res.Manifest != nil {
		fmt.Fprintf(&b, "name:         %s\n", res.Manifest.Name)
		fmt.Fprintf(&b, "version:      %s\n", res.Manifest.Version)
		fmt.Fprintf(&b, "main:         %s\n", res.Main)
		if node, ok := res.Manifest.Engines["node"]; ok {
			fmt.Fprintf(&b, "engines.node: %s\n", node)
		}
	} else {
		b.WriteString("manifest:     none\n")
	}
	fmt.Fprintf(&b, "node_modules: %v\n", res.HasModules)
	fmt.Fprintf(&b, "eligible:     %v", res.Eligible)
	return b.String()
}

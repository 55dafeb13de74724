package commands

import (
	"fmt"
	"strings"

	"github.com/openfroyo/scripthost/pkg/container"
	"github.com/openfroyo/scripthost/pkg/policy"
	"github.com/openfroyo/scripthost/pkg/telemetry"
	"github.com/spf13/cobra"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test deployment admission policies",
		Long: `Admission policies are Rego modules evaluated before a deployment is
resolved. Built-in policies are always loaded; the host config adds files
and directories under policy.paths.`,
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyCheckCommand())

	return cmd
}

// newPolicyEngine builds an engine holding the configured policies.
func newPolicyEngine(cmd *cobra.Command, extra []string) (*policy.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	engine, err := policy.NewEngine(telemetry.NewNop())
	if err != nil {
		return nil, err
	}
	paths := append(append([]string{}, cfg.Policy.Paths...), extra...)
	if err := engine.LoadPolicies(cmd.Context(), paths); err != nil {
		return nil, err
	}
	for _, name := range cfg.Policy.Disabled {
		if err := engine.DisablePolicy(name); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

func newPolicyListCommand() *cobra.Command {
	var paths []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List admission policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newPolicyEngine(cmd, paths)
			if err != nil {
				return err
			}

			policies := engine.ListPolicies()
			var b strings.Builder
			for i, p := range policies {
				if i > 0 {
					b.WriteString("\n")
				}
				state := "enabled"
				if !p.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(&b, "%-24s %-8s %-8s %s", p.Name, p.Severity, state, p.Description)
			}
			return printResult(cmd.OutOrStdout(), policies, b.String())
		},
	}

	cmd.Flags().StringSliceVar(&paths, "path", nil, "additional policy files or directories")

	return cmd
}

func newPolicyCheckCommand() *cobra.Command {
	var (
		paths     []string
		isolated  bool
		classpath []string
	)

	cmd := &cobra.Command{
		Use:   "check <identifier>",
		Short: "Evaluate admission for an identifier",
		Example: `  scripthost policy check nodejs:dist/http-server.zip --isolated
  scripthost policy check js:main.js --path ./policies`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newPolicyEngine(cmd, paths)
			if err != nil {
				return err
			}

			prefix, name, ok := container.SplitIdentifier(args[0])
			if !ok {
				return fmt.Errorf("identifier %q has no factory prefix", args[0])
			}
			err = engine.Admit(cmd.Context(), container.AdmissionRequest{
				Identifier: args[0],
				Prefix:     prefix,
				Name:       name,
				Options:    container.DeploymentOptions{Isolated: isolated, Classpath: classpath},
			})
			if err != nil {
				_ = printResult(cmd.OutOrStdout(), map[string]string{"identifier": args[0], "denied": err.Error()}, "denied: "+err.Error())
				return err
			}
			return printResult(cmd.OutOrStdout(), map[string]string{"identifier": args[0], "admitted": "true"}, "admitted "+args[0])
		},
	}

	cmd.Flags().StringSliceVar(&paths, "path", nil, "additional policy files or directories")
	cmd.Flags().BoolVar(&isolated, "isolated", false, "evaluate with an isolating loader")
	cmd.Flags().StringSliceVar(&classpath, "classpath", nil, "classpath to evaluate with")

	return cmd
}

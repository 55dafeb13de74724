package commands

import (
	"fmt"
	"strings"

	"github.com/openfroyo/scripthost/pkg/interp"
	"github.com/openfroyo/scripthost/pkg/nodejs"
	"github.com/spf13/cobra"
)

func newProbeCommand() *cobra.Command {
	var minVersion string

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check whether node project resolution is available",
		Long: `Run the capability probe: the linked interpreter modules, the
interpreter implementation version and an optional minimum version.`,
		Example: `  scripthost probe
  scripthost probe --min-version 0.0.0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if minVersion == "" {
				minVersion = cfg.NodeJS.MinVersion
			}

			capability := nodejs.Probe(nodejs.ProbeConfig{
				Engine:        interp.NewGojaEngine(),
				VersionPrefix: cfg.NodeJS.VersionPrefix,
				MinVersion:    minVersion,
			})

			var b strings.Builder
			b.WriteString(capability.String())
			for _, name := range capability.ModuleNames() {
				fmt.Fprintf(&b, "\n  %s %s", name, capability.Modules[name])
			}

			if err := printResult(cmd.OutOrStdout(), capability, b.String()); err != nil {
				return err
			}
			if !capability.Enabled {
				return fmt.Errorf("%s: %s", nodejs.MsgDisabled, capability.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&minVersion, "min-version", "", "minimum interpreter module version")

	return cmd
}

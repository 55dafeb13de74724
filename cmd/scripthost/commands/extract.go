package commands

import (
	"fmt"

	"github.com/openfroyo/scripthost/pkg/nodejs"
	"github.com/openfroyo/scripthost/pkg/telemetry"
	"github.com/spf13/cobra"
)

func newExtractCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <archive>",
		Short: "Extract a project archive next to itself",
		Long: `Extract a zip archive into a directory named after the archive without
its final suffix. An existing directory of that name is removed first.`,
		Example: `  # Produces ./dist/http-server/
  scripthost extract ./dist/http-server.zip`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() { _ = tel.Shutdown(cmd.Context()) }()

			target, err := nodejs.NewExtractor(tel).Extract(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return printResult(cmd.OutOrStdout(),
				map[string]string{"archive": args[0], "target": target},
				"extracted to "+target)
		},
	}

	return cmd
}

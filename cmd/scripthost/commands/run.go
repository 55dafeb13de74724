package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/scripthost/pkg/config"
	"github.com/openfroyo/scripthost/pkg/container"
	"github.com/openfroyo/scripthost/pkg/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var (
		isolated  bool
		classpath []string
		keepAlive bool
	)

	cmd := &cobra.Command{
		Use:   "run [identifier...]",
		Short: "Deploy components and run until they finish",
		Long: `Deploy the components listed in the host config and on the command line.

The command returns once every deployed script has exited, or on an
interrupt signal. With --keep-alive it only returns on a signal. A
faulted deployment makes the command fail.`,
		Example: `  # Run a packaged node project with a private loader
  scripthost run nodejs:./dist/http-server.zip --isolated

  # Run a single script
  scripthost run js:hello.js --classpath ./scripts

  # Run the deployments of a host config and serve metrics
  scripthost run -c host.cue --keep-alive`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, id := range args {
				cfg.Deployments = append(cfg.Deployments, config.DeploymentConfig{
					Identifier: id,
					Isolated:   isolated,
					Classpath:  classpath,
				})
			}
			if len(cfg.Deployments) == 0 {
				return fmt.Errorf("nothing to deploy: pass identifiers or configure deployments")
			}

			return run(cmd.Context(), cfg, keepAlive)
		},
	}

	cmd.Flags().BoolVar(&isolated, "isolated", false, "use a private loader for command line identifiers")
	cmd.Flags().StringSliceVar(&classpath, "classpath", nil, "archives and directories for command line identifiers")
	cmd.Flags().BoolVar(&keepAlive, "keep-alive", false, "keep running after all scripts exited")

	return cmd
}

func run(ctx context.Context, cfg *config.HostConfig, keepAlive bool) error {
	h, err := newHost(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Host.ShutdownTimeout())
		defer cancel()
		if err := h.close(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Shutdown failed")
		}
	}()

	if err := h.tel.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	exits := make(chan struct{}, 1)
	h.tel.Events.Subscribe(func(telemetry.Event) {
		select {
		case exits <- struct{}{}:
		default:
		}
	}, telemetry.FilterByType(telemetry.EventTypeScriptExited, telemetry.EventTypeScriptFaulted))

	for _, d := range cfg.Deployments {
		dep, err := h.container.Deploy(ctx, d.Identifier, d.Options())
		if err != nil {
			return fmt.Errorf("failed to deploy %s: %w", d.Identifier, err)
		}
		log.Info().
			Str("deployment", dep.ID).
			Str("identifier", dep.Identifier).
			Str("prefix", dep.Prefix).
			Msg("Deployed")
	}

	// Events may be disabled, so health is also polled.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !keepAlive && finished(h.container.Deployments()) {
			return summarize(h.container.Deployments())
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("Received interrupt signal, shutting down...")
			return nil
		case <-exits:
		case <-ticker.C:
		}
	}
}

// finished reports whether every deployment reached a terminal health.
func finished(deps []container.Deployment) bool {
	for _, d := range deps {
		if d.Health == container.HealthStarting || d.Health == container.HealthRunning {
			return false
		}
	}
	return true
}

func summarize(deps []container.Deployment) error {
	faulted := 0
	for _, d := range deps {
		ev := log.Info()
		if d.Health == container.HealthFaulted {
			faulted++
			ev = log.Error()
		}
		if d.LastFault != nil {
			ev = ev.Int("exit_code", d.LastFault.ExitCode).AnErr("cause", d.LastFault.Cause)
		}
		ev.Str("identifier", d.Identifier).Str("health", string(d.Health)).Msg("Deployment finished")
	}
	if faulted > 0 {
		return fmt.Errorf("%d of %d deployments faulted", faulted, len(deps))
	}
	return nil
}

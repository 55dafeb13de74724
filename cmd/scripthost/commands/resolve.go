package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/scripthost/pkg/container"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type resolveResult struct {
	Identifier string `json:"identifier"`
	Factory    string `json:"factory,omitempty"`
	Order      int    `json:"order"`
	Resolved   string `json:"resolved,omitempty"`
	Error      string `json:"error,omitempty"`
}

func newResolveCommand() *cobra.Command {
	var (
		isolated  bool
		classpath []string
	)

	cmd := &cobra.Command{
		Use:   "resolve <identifier>",
		Short: "Resolve an identifier without creating a component",
		Long: `Run the resolution phase of a deployment.

Factories registered for the identifier's prefix are consulted in order.
For a node project this extracts the archive next to itself when the
loader is isolating.`,
		Example: `  # Resolve and extract a packaged project
  scripthost resolve nodejs:./dist/http-server.zip --isolated

  # Check how a shared loader is refused
  scripthost resolve nodejs:./dist/http-server.zip`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Store.Enabled = false

			ctx := cmd.Context()
			h, err := newHost(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = h.close(context.Background()) }()

			opts := container.DeploymentOptions{Isolated: isolated, Classpath: classpath}
			res, err := resolveIdentifier(ctx, h.container, args[0], opts)
			if err != nil {
				res.Error = err.Error()
				_ = printResult(cmd.OutOrStdout(), res, "unresolved: "+res.Error)
				return err
			}

			log.Debug().Str("factory", res.Factory).Int("order", res.Order).Msg("Resolved")
			return printResult(cmd.OutOrStdout(), res,
				fmt.Sprintf("resolved %s by %s (order %d)", res.Resolved, res.Factory, res.Order))
		},
	}

	cmd.Flags().BoolVar(&isolated, "isolated", false, "use a private loader")
	cmd.Flags().StringSliceVar(&classpath, "classpath", nil, "archives and directories for the loader")

	return cmd
}

func resolveIdentifier(ctx context.Context, c *container.Container, identifier string, opts container.DeploymentOptions) (resolveResult, error) {
	res := resolveResult{Identifier: identifier}

	prefix, name, ok := container.SplitIdentifier(identifier)
	if !ok {
		return res, fmt.Errorf("identifier %q has no factory prefix", identifier)
	}
	factories := c.Factories(prefix)
	if len(factories) == 0 {
		return res, fmt.Errorf("no factory registered for prefix %q", prefix)
	}

	l, err := c.BuildLoader(name, opts)
	if err != nil {
		return res, err
	}
	defer l.Close()

	var errs []error
	for _, f := range factories {
		resolved, err := f.Resolve(ctx, identifier, opts, l)
		if err != nil {
			errs = append(errs, fmt.Errorf("factory %s (order %d): %w", f.Prefix(), f.Order(), err))
			continue
		}
		res.Factory = fmt.Sprintf("%T", f)
		res.Order = f.Order()
		res.Resolved = resolved
		return res, nil
	}
	return res, errors.Join(errs...)
}

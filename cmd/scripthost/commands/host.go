package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/scripthost/pkg/config"
	"github.com/openfroyo/scripthost/pkg/container"
	"github.com/openfroyo/scripthost/pkg/interp"
	"github.com/openfroyo/scripthost/pkg/jsfactory"
	"github.com/openfroyo/scripthost/pkg/nodejs"
	"github.com/openfroyo/scripthost/pkg/policy"
	"github.com/openfroyo/scripthost/pkg/stores"
	"github.com/openfroyo/scripthost/pkg/telemetry"
	"github.com/rs/zerolog/log"
)

// loadConfig loads the host config named by --config, or the defaults.
func loadConfig() (*config.HostConfig, error) {
	loader := config.NewLoader()
	if configPath == "" {
		cfg := config.Default()
		return cfg, loader.Validate(cfg)
	}

	cfg, err := loader.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
	}
	return cfg, nil
}

// host wires telemetry, factories, the container and the optional store.
type host struct {
	cfg        *config.HostConfig
	tel        *telemetry.Telemetry
	engine     interp.Engine
	capability nodejs.Capability
	nodeJS     *nodejs.Factory
	container  *container.Container
	store      *stores.SQLiteStore
	policies   *policy.Engine
	watcher    *policy.Loader
}

func newHost(ctx context.Context, cfg *config.HostConfig) (*host, error) {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	h := &host{
		cfg:    cfg,
		tel:    tel,
		engine: interp.NewGojaEngine(),
	}

	var recorder container.Recorder
	if cfg.Store.Enabled {
		store, err := stores.Open(ctx, cfg.Store.Path)
		if err != nil {
			_ = tel.Shutdown(ctx)
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		h.store = store
		recorder = store
		tel.Events.Subscribe(store.EventSubscriber(func(err error) {
			tel.Logger.WithError(err).Warn("failed to store event")
		}), nil)
	}

	var admitter container.Admitter
	if cfg.Policy.Enabled {
		if err := h.setupPolicies(ctx); err != nil {
			_ = h.close(ctx)
			return nil, err
		}
		admitter = h.policies
	}

	h.container = container.New(container.Options{
		Classpath: cfg.Host.Classpath,
		Recorder:  recorder,
		Admitter:  admitter,
		Telemetry: tel,
	})

	if cfg.NodeJS.Enabled {
		h.capability = nodejs.Probe(nodejs.ProbeConfig{
			Engine:        h.engine,
			VersionPrefix: cfg.NodeJS.VersionPrefix,
			MinVersion:    cfg.NodeJS.MinVersion,
		})
		h.nodeJS = nodejs.NewFactory(nodejs.FactoryConfig{
			Prefix:     cfg.NodeJS.Prefix,
			Order:      cfg.NodeJS.Order,
			Capability: h.capability,
			Engine:     h.engine,
			Env:        cfg.NodeJS.Env,
			Args:       cfg.NodeJS.Args,
			Telemetry:  tel,
		})
		if err := h.container.Register(h.nodeJS); err != nil {
			_ = h.close(ctx)
			return nil, err
		}
	}

	if cfg.Scripts.Enabled {
		f := jsfactory.New(cfg.Scripts.Prefix, cfg.Scripts.Order, h.engine, tel)
		if err := h.container.Register(f); err != nil {
			_ = h.close(ctx)
			return nil, err
		}
	}

	log.Debug().
		Str("capability", h.capability.String()).
		Bool("store", h.store != nil).
		Msg("Host initialized")

	return h, nil
}

// setupPolicies builds the admission engine and optionally watches its paths.
func (h *host) setupPolicies(ctx context.Context) error {
	engine, err := policy.NewEngine(h.tel)
	if err != nil {
		return err
	}

	cfg := h.cfg.Policy
	apply := func(policies []policy.Policy) error {
		if err := engine.ReplacePolicies(ctx, policies); err != nil {
			return err
		}
		for _, name := range cfg.Disabled {
			if err := engine.DisablePolicy(name); err != nil {
				return err
			}
		}
		return nil
	}

	loader := policy.NewLoader(h.tel.Logger)
	policies, err := loader.LoadFromPaths(ctx, cfg.Paths)
	if err != nil {
		return err
	}
	if err := apply(policies); err != nil {
		return fmt.Errorf("failed to apply policies: %w", err)
	}

	if cfg.Watch && len(cfg.Paths) > 0 {
		if err := loader.Watch(ctx, cfg.Paths, apply); err != nil {
			return err
		}
		h.watcher = loader
	}

	h.policies = engine
	return nil
}

// close undeploys everything, then closes the store and telemetry.
func (h *host) close(ctx context.Context) error {
	var errs []error
	if h.watcher != nil {
		_ = h.watcher.StopWatching()
	}
	if h.container != nil {
		if err := h.container.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("container: %w", err))
		}
	}
	// Flush pending events into the store before closing it.
	if err := h.tel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	if h.store != nil {
		if err := h.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	return errors.Join(errs...)
}

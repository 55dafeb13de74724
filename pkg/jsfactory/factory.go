package jsfactory

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/scripthost/pkg/container"
	"github.com/openfroyo/scripthost/pkg/interp"
	"github.com/openfroyo/scripthost/pkg/loader"
	"github.com/openfroyo/scripthost/pkg/telemetry"
)

const (
	// DefaultPrefix is the identifier prefix served by the factory.
	DefaultPrefix = "js"

	// DefaultOrder is the order of the generic factory.
	DefaultOrder = 0
)

// Factory creates script components without a resolution step.
type Factory struct {
	prefix string
	order  int
	engine interp.Engine
	tel    *telemetry.Telemetry
	logger *telemetry.Logger
}

// New creates a factory for prefix. An empty prefix selects DefaultPrefix;
// a nil engine selects goja.
func New(prefix string, order int, engine interp.Engine, tel *telemetry.Telemetry) *Factory {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if engine == nil {
		engine = interp.NewGojaEngine()
	}
	if tel == nil {
		tel = telemetry.NewNop()
	}
	return &Factory{
		prefix: prefix,
		order:  order,
		engine: engine,
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("jsfactory"),
	}
}

func (f *Factory) Prefix() string        { return f.prefix }
func (f *Factory) Order() int            { return f.order }
func (f *Factory) RequiresResolve() bool { return false }

// Resolve returns identifier unchanged.
func (f *Factory) Resolve(_ context.Context, identifier string, _ container.DeploymentOptions, _ loader.Loader) (string, error) {
	return identifier, nil
}

// Create compiles the named script from a directory root of l.
func (f *Factory) Create(_ context.Context, name string, l loader.Loader) (container.Component, error) {
	name = strings.TrimPrefix(name, f.prefix+":")
	normalized, ok := loader.Normalize(name)
	if !ok {
		f.tel.Metrics.RecordComponentCreated(f.prefix, "failure")
		return nil, fmt.Errorf("invalid script name %q", name)
	}

	c, err := f.create(normalized, l)
	if err != nil {
		f.tel.Metrics.RecordComponentCreated(f.prefix, "failure")
		return nil, err
	}
	f.tel.Metrics.RecordComponentCreated(f.prefix, "success")
	return c, nil
}

func (f *Factory) create(name string, l loader.Loader) (*Component, error) {
	loc, ok := l.Resource(name)
	if !ok || loc.Dir {
		return nil, fmt.Errorf("script %s not found", name)
	}
	if loc.InArchive {
		return nil, fmt.Errorf("script %s is inside archive %s; deploy the archive as a project", name, loc.Root)
	}

	env, err := f.engine.NewEnvironment(interp.EnvironmentOptions{Dir: loc.Root})
	if err != nil {
		return nil, fmt.Errorf("failed to create interpreter environment: %w", err)
	}
	script, err := env.CreateScript(name, filepath.Join(loc.Root, filepath.FromSlash(name)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", name, err)
	}

	f.logger.Debugf("compiled %s from %s", name, loc.Root)

	return &Component{
		name:   name,
		script: script,
		tel:    f.tel,
		logger: f.logger.WithComponent(name),
	}, nil
}

// Component runs a single script.
type Component struct {
	name   string
	script interp.Script
	tel    *telemetry.Telemetry
	logger *telemetry.Logger

	mu       sync.Mutex
	started  bool
	stopped  bool
	depID    string
	reporter container.FaultReporter
}

// SetFaultReporter implements container.FaultAware.
func (c *Component) SetFaultReporter(deploymentID string, r container.FaultReporter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.depID = deploymentID
	c.reporter = r
}

// Start implements container.Component.
func (c *Component) Start(_ context.Context) error {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("script %s cannot be started twice", c.name)
	}
	c.started = true
	c.mu.Unlock()

	future, err := c.script.Execute()
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", c.name, err)
	}
	c.tel.Metrics.ComponentStarted()
	future.SetListener(c.onExit)
	return nil
}

func (c *Component) onExit(_ interp.Script, status interp.Status) {
	c.mu.Lock()
	id, reporter, stopped := c.depID, c.reporter, c.stopped
	c.mu.Unlock()

	if status.HasCause() {
		c.logger.WithError(status.Cause).Errorf("script exited with code %d", status.ExitCode)
		c.tel.Metrics.RecordScriptExit("fault")
	} else {
		c.logger.Infof("script exited with code %d", status.ExitCode)
		c.tel.Metrics.RecordScriptExit("success")
	}
	_ = c.tel.Events.PublishScriptExited(id, c.name, status.ExitCode, status.Cause)

	if reporter != nil && !stopped {
		reporter.ReportFault(id, container.Fault{
			Component: c.name,
			ExitCode:  status.ExitCode,
			Cause:     status.Cause,
			At:        time.Now(),
		})
	}
}

// Stop implements container.Component.
func (c *Component) Stop(_ context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	started := c.started
	c.mu.Unlock()

	if started {
		c.tel.Metrics.ComponentStopped()
	}
	return c.script.Close()
}

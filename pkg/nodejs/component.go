package nodejs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfroyo/scripthost/pkg/container"
	"github.com/openfroyo/scripthost/pkg/interp"
	"github.com/openfroyo/scripthost/pkg/telemetry"
)

type componentState int

const (
	stateConstructed componentState = iota
	stateStarted
	stateStopped
)

// Component runs one compiled script inside the container lifecycle.
type Component struct {
	name   string
	dir    string
	script interp.Script
	tel    *telemetry.Telemetry
	logger *telemetry.Logger

	mu           sync.Mutex
	state        componentState
	future       interp.Future
	deploymentID string
	reporter     container.FaultReporter
}

func newComponent(name, dir string, script interp.Script, tel *telemetry.Telemetry) *Component {
	return &Component{
		name:   name,
		dir:    dir,
		script: script,
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("nodejs").WithComponent(name),
	}
}

// Name returns the component name without its prefix.
func (c *Component) Name() string {
	return c.name
}

// Dir returns the project directory the script runs in.
func (c *Component) Dir() string {
	return c.dir
}

// SetFaultReporter implements container.FaultAware.
func (c *Component) SetFaultReporter(deploymentID string, r container.FaultReporter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deploymentID = deploymentID
	c.reporter = r
}

// Start submits the script for execution and returns without waiting for it.
func (c *Component) Start(_ context.Context) error {
	c.mu.Lock()
	switch c.state {
	case stateStarted:
		c.mu.Unlock()
		return fmt.Errorf("component %s already started", c.name)
	case stateStopped:
		c.mu.Unlock()
		return fmt.Errorf("component %s is stopped", c.name)
	}

	future, err := c.script.Execute()
	if err != nil {
		c.mu.Unlock()
		return newError(KindExecution, "failed to start script", err).WithIdentifier(c.name)
	}
	c.state = stateStarted
	c.future = future
	deploymentID := c.deploymentID
	c.mu.Unlock()

	c.tel.Metrics.ComponentStarted()
	_ = c.tel.Events.PublishComponentStarted(deploymentID, c.name)
	c.logger.Info("component started")

	// The listener may run synchronously when the script already finished.
	future.SetListener(c.onExit)
	return nil
}

func (c *Component) onExit(_ interp.Script, status interp.Status) {
	c.mu.Lock()
	deploymentID := c.deploymentID
	reporter := c.reporter
	stopped := c.state == stateStopped
	c.mu.Unlock()

	logger := c.logger.WithField("exit_code", status.ExitCode)
	if deploymentID != "" {
		logger = logger.WithDeployment(deploymentID)
	}

	outcome := "success"
	switch {
	case status.HasCause():
		outcome = "fault"
		logger.WithError(status.Cause).Error("script exited with failure")
	case status.ExitCode != interp.ExitCodeSuccess:
		outcome = "nonzero"
		logger.Warn("script exited")
	default:
		logger.Info("script exited")
	}

	c.tel.Metrics.RecordScriptExit(outcome)
	_ = c.tel.Events.PublishScriptExited(deploymentID, c.name, status.ExitCode, status.Cause)

	if reporter != nil && !stopped {
		reporter.ReportFault(deploymentID, container.Fault{
			Component: c.name,
			ExitCode:  status.ExitCode,
			Cause:     status.Cause,
			At:        time.Now(),
		})
	}
}

// Stop closes the script exactly once. It always reports success.
func (c *Component) Stop(_ context.Context) error {
	c.mu.Lock()
	if c.state == stateStopped {
		c.mu.Unlock()
		return nil
	}
	wasStarted := c.state == stateStarted
	c.state = stateStopped
	deploymentID := c.deploymentID
	c.mu.Unlock()

	if err := c.script.Close(); err != nil {
		c.logger.WithError(err).Warn("failed to close script")
	}

	if wasStarted {
		c.tel.Metrics.ComponentStopped()
		_ = c.tel.Events.PublishComponentStopped(deploymentID, c.name)
	}
	c.logger.Info("component stopped")
	return nil
}

// Wait blocks until the started script finishes or ctx is done.
func (c *Component) Wait(ctx context.Context) (interp.Status, error) {
	c.mu.Lock()
	future := c.future
	c.mu.Unlock()

	if future == nil {
		return interp.Status{}, fmt.Errorf("component %s was not started", c.name)
	}
	return future.Wait(ctx)
}

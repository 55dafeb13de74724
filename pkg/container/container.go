package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/scripthost/pkg/loader"
	"github.com/openfroyo/scripthost/pkg/telemetry"
)

// Recorder persists deployments and their health transitions.
type Recorder interface {
	DeploymentCreated(ctx context.Context, d Deployment) error
	HealthChanged(ctx context.Context, deploymentID string, health Health, fault *Fault) error
}

// Options configures a Container.
type Options struct {
	// Classpath is appended to every deployment's classpath.
	Classpath []string

	// Recorder is optional.
	Recorder Recorder

	// Admitter is consulted before resolution. Optional.
	Admitter Admitter

	// Telemetry is optional.
	Telemetry *telemetry.Telemetry
}

// Container deploys components through registered factories.
type Container struct {
	// mu protects factories and deployments.
	mu sync.RWMutex

	// factories maps prefix to factories sorted by Order.
	factories map[string][]Factory

	// deployments maps deployment ID to deployment.
	deployments map[string]*Deployment

	classpath []string
	recorder  Recorder
	admitter  Admitter
	tel       *telemetry.Telemetry
	logger    *telemetry.Logger
}

// New creates an empty container.
func New(opts Options) *Container {
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NewNop()
	}

	return &Container{
		factories:   make(map[string][]Factory),
		deployments: make(map[string]*Deployment),
		classpath:   opts.Classpath,
		recorder:    opts.Recorder,
		admitter:    opts.Admitter,
		tel:         opts.Telemetry,
		logger:      opts.Telemetry.Logger.NewComponentLogger("container"),
	}
}

// Register adds a factory. Two factories may share a prefix only with
// different orders.
func (c *Container) Register(f Factory) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := f.Prefix()
	if prefix == "" {
		return fmt.Errorf("factory prefix is required")
	}
	for _, existing := range c.factories[prefix] {
		if existing.Order() == f.Order() {
			return fmt.Errorf("factory for prefix %s with order %d already registered", prefix, f.Order())
		}
	}

	list := append(c.factories[prefix], f)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Order() < list[j].Order()
	})
	c.factories[prefix] = list

	c.logger.WithFields(map[string]interface{}{
		"prefix": prefix,
		"order":  f.Order(),
	}).Debug("registered factory")

	return nil
}

// Factories returns the factories for prefix in consultation order.
func (c *Container) Factories(prefix string) []Factory {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Factory, len(c.factories[prefix]))
	copy(out, c.factories[prefix])
	return out
}

// Deploy resolves, creates and starts the component named by identifier.
func (c *Container) Deploy(ctx context.Context, identifier string, opts DeploymentOptions) (Deployment, error) {
	id := uuid.New().String()
	ctx, span := c.tel.Tracer.StartDeploymentSpan(ctx, id, identifier)
	defer span.End()

	dep, err := c.deploy(ctx, id, identifier, opts)
	if err != nil {
		c.tel.Metrics.RecordDeployment("failure")
		_ = c.tel.Events.PublishDeploymentFailed(id, identifier, err.Error())
		telemetry.RecordError(span, err)
		c.logger.WithDeployment(id).WithError(err).Warnf("deployment of %s failed", identifier)
		return Deployment{}, err
	}

	c.tel.Metrics.RecordDeployment("success")
	_ = c.tel.Events.PublishDeploymentCompleted(id, identifier)
	telemetry.RecordSuccess(span)
	c.logger.WithDeployment(id).Infof("deployed %s", identifier)

	return dep, nil
}

func (c *Container) deploy(ctx context.Context, id, identifier string, opts DeploymentOptions) (Deployment, error) {
	prefix, name, ok := SplitIdentifier(identifier)
	if !ok {
		return Deployment{}, fmt.Errorf("identifier %q has no factory prefix", identifier)
	}

	candidates := c.Factories(prefix)
	if len(candidates) == 0 {
		return Deployment{}, fmt.Errorf("no factory registered for prefix %q", prefix)
	}

	if c.admitter != nil {
		req := AdmissionRequest{Identifier: identifier, Prefix: prefix, Name: name, Options: opts}
		if err := c.admitter.Admit(ctx, req); err != nil {
			return Deployment{}, err
		}
	}

	l, err := c.BuildLoader(name, opts)
	if err != nil {
		return Deployment{}, err
	}

	factory, resolved, err := resolve(ctx, candidates, identifier, opts, l)
	if err != nil {
		closeLoader(l)
		return Deployment{}, err
	}

	comp, err := factory.Create(ctx, RemovePrefix(resolved), l)
	if err != nil {
		closeLoader(l)
		return Deployment{}, fmt.Errorf("failed to create %s: %w", resolved, err)
	}

	dep := &Deployment{
		ID:         id,
		Identifier: identifier,
		Prefix:     prefix,
		Factory:    factory,
		Component:  comp,
		Loader:     l,
		Health:     HealthStarting,
		DeployedAt: time.Now(),
	}

	// Registered and recorded before Start so faults raised during Start find it.
	c.mu.Lock()
	c.deployments[id] = dep
	snapshot := *dep
	c.mu.Unlock()
	c.record(id, func(r Recorder) error { return r.DeploymentCreated(ctx, snapshot) })

	if fa, ok := comp.(FaultAware); ok {
		fa.SetFaultReporter(id, c)
	}

	if err := comp.Start(ctx); err != nil {
		c.mu.Lock()
		delete(c.deployments, id)
		c.mu.Unlock()
		_ = comp.Stop(ctx)
		closeLoader(l)
		fault := &Fault{Cause: err, At: time.Now()}
		c.record(id, func(r Recorder) error { return r.HealthChanged(ctx, id, HealthStopped, fault) })
		return Deployment{}, fmt.Errorf("failed to start %s: %w", identifier, err)
	}

	c.mu.Lock()
	running := dep.Health == HealthStarting
	if running {
		dep.Health = HealthRunning
	}
	snapshot = *dep
	c.mu.Unlock()

	if running {
		c.record(id, func(r Recorder) error { return r.HealthChanged(ctx, id, HealthRunning, nil) })
	}
	return snapshot, nil
}

func (c *Container) record(id string, fn func(Recorder) error) {
	if c.recorder == nil {
		return
	}
	if err := fn(c.recorder); err != nil {
		c.logger.WithDeployment(id).WithError(err).Warn("failed to record deployment state")
	}
}

// resolve consults candidates in order and returns the first factory whose
// resolution succeeds.
func resolve(ctx context.Context, candidates []Factory, identifier string, opts DeploymentOptions, l loader.Loader) (Factory, string, error) {
	var errs []error
	for _, f := range candidates {
		if !f.RequiresResolve() {
			return f, identifier, nil
		}
		resolved, err := f.Resolve(ctx, identifier, opts, l)
		if err == nil {
			return f, resolved, nil
		}
		errs = append(errs, fmt.Errorf("factory %s (order %d): %w", f.Prefix(), f.Order(), err))
	}
	return nil, "", fmt.Errorf("failed to resolve %s: %w", identifier, errors.Join(errs...))
}

// BuildLoader builds the loader for a deployment of name. A name that is an
// existing archive file is placed first on the classpath.
func (c *Container) BuildLoader(name string, opts DeploymentOptions) (*loader.ClasspathLoader, error) {
	var roots []string
	if loader.IsArchiveName(name) {
		if info, err := os.Stat(name); err == nil && info.Mode().IsRegular() {
			roots = append(roots, name)
		}
	}
	roots = append(roots, opts.Classpath...)
	roots = append(roots, c.classpath...)

	if len(roots) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		roots = append(roots, wd)
	}

	for i, root := range roots {
		roots[i] = filepath.Clean(root)
	}

	l, err := loader.New(opts.Isolated, roots...)
	if err != nil {
		return nil, fmt.Errorf("failed to build loader: %w", err)
	}
	return l, nil
}

// ReportFault implements FaultReporter.
func (c *Container) ReportFault(deploymentID string, fault Fault) {
	c.mu.Lock()
	dep, ok := c.deployments[deploymentID]
	if !ok || dep.Health == HealthStopped {
		c.mu.Unlock()
		return
	}
	health := HealthExited
	if fault.Cause != nil || fault.ExitCode != 0 {
		health = HealthFaulted
	}
	dep.Health = health
	dep.LastFault = &fault
	c.mu.Unlock()

	logger := c.logger.WithDeployment(deploymentID).WithField("health", string(health))
	if fault.Cause != nil {
		logger = logger.WithError(fault.Cause)
	}
	logger.Infof("component %s exited with code %d", fault.Component, fault.ExitCode)

	c.record(deploymentID, func(r Recorder) error {
		return r.HealthChanged(context.Background(), deploymentID, health, &fault)
	})
}

// Get returns a snapshot of a deployment.
func (c *Container) Get(id string) (Deployment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dep, ok := c.deployments[id]
	if !ok {
		return Deployment{}, false
	}
	return *dep, true
}

// Deployments returns snapshots of all deployments ordered by deployment time.
func (c *Container) Deployments() []Deployment {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Deployment, 0, len(c.deployments))
	for _, dep := range c.deployments {
		out = append(out, *dep)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DeployedAt.Before(out[j].DeployedAt)
	})
	return out
}

// Undeploy stops a deployment and releases its loader.
func (c *Container) Undeploy(ctx context.Context, id string) error {
	c.mu.Lock()
	dep, ok := c.deployments[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("deployment %s not found", id)
	}
	dep.Health = HealthStopped
	delete(c.deployments, id)
	c.mu.Unlock()

	err := dep.Component.Stop(ctx)
	closeLoader(dep.Loader)

	c.record(id, func(r Recorder) error { return r.HealthChanged(ctx, id, HealthStopped, nil) })

	if err != nil {
		return fmt.Errorf("failed to stop %s: %w", dep.Identifier, err)
	}
	c.logger.WithDeployment(id).Infof("undeployed %s", dep.Identifier)
	return nil
}

// Close undeploys everything.
func (c *Container) Close(ctx context.Context) error {
	c.mu.RLock()
	ids := make([]string, 0, len(c.deployments))
	for id := range c.deployments {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := c.Undeploy(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeLoader(l loader.Loader) {
	if closer, ok := l.(io.Closer); ok {
		_ = closer.Close()
	}
}

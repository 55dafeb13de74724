package container

import (
	"context"
	"strings"
	"time"

	"github.com/openfroyo/scripthost/pkg/loader"
)

// Component is a unit of deployable service logic.
type Component interface {
	// Start starts the component. It must not block on long-running work.
	Start(ctx context.Context) error

	// Stop stops the component and releases its resources.
	Stop(ctx context.Context) error
}

// Factory turns identifiers into components.
type Factory interface {
	// Prefix is the identifier namespace served by the factory.
	Prefix() string

	// Order ranks factories sharing a prefix; lower is consulted first.
	Order() int

	// RequiresResolve reports whether Resolve must run before Create.
	RequiresResolve() bool

	// Resolve checks that identifier can be created and performs any
	// filesystem preparation. It returns the identifier to create.
	Resolve(ctx context.Context, identifier string, opts DeploymentOptions, l loader.Loader) (string, error)

	// Create builds a component. name has its prefix removed.
	Create(ctx context.Context, name string, l loader.Loader) (Component, error)
}

// FaultReporter receives faults raised after a component started.
type FaultReporter interface {
	ReportFault(deploymentID string, fault Fault)
}

// FaultAware is implemented by components that report post-start faults.
type FaultAware interface {
	SetFaultReporter(deploymentID string, r FaultReporter)
}

// Fault describes a post-start failure or exit of a component.
type Fault struct {
	Component string
	ExitCode  int
	Cause     error
	At        time.Time
}

// DeploymentOptions control how a deployment is resolved.
type DeploymentOptions struct {
	// Isolated requests a loader private to this deployment.
	Isolated bool `json:"isolated" yaml:"isolated"`

	// Classpath lists archives and directories visible to the loader.
	Classpath []string `json:"classpath,omitempty" yaml:"classpath,omitempty"`

	// Config is passed through to the component.
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
}

// AdmissionRequest describes a deployment before it is resolved.
type AdmissionRequest struct {
	Identifier string
	Prefix     string
	Name       string
	Options    DeploymentOptions
}

// Admitter decides whether a deployment may proceed.
type Admitter interface {
	Admit(ctx context.Context, req AdmissionRequest) error
}

// Health is the observed state of a deployment.
type Health string

const (
	HealthStarting Health = "starting"
	HealthRunning  Health = "running"
	HealthExited   Health = "exited"
	HealthFaulted  Health = "faulted"
	HealthStopped  Health = "stopped"
)

// Deployment is a deployed component.
type Deployment struct {
	ID         string
	Identifier string
	Prefix     string
	Factory    Factory
	Component  Component
	Loader     loader.Loader
	Health     Health
	LastFault  *Fault
	DeployedAt time.Time
}

// SplitIdentifier splits "prefix:name". ok is false when there is no prefix.
func SplitIdentifier(identifier string) (prefix, name string, ok bool) {
	i := strings.Index(identifier, ":")
	if i <= 0 {
		return "", identifier, false
	}
	return identifier[:i], identifier[i+1:], true
}

// RemovePrefix strips the factory prefix from identifier.
func RemovePrefix(identifier string) string {
	_, name, _ := SplitIdentifier(identifier)
	return name
}

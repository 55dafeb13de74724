package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/scripthost/pkg/container"
	"github.com/openfroyo/scripthost/pkg/telemetry"
)

// HostConfig is the complete script host configuration.
type HostConfig struct {
	// Host contains container-wide settings.
	Host HostSettings `json:"host" yaml:"host"`

	// NodeJS configures the node project factory.
	NodeJS NodeJSConfig `json:"nodejs" yaml:"nodejs"`

	// Scripts configures the generic script factory.
	Scripts ScriptsConfig `json:"scripts" yaml:"scripts"`

	// Store configures the deployment store.
	Store StoreConfig `json:"store" yaml:"store"`

	// Policy configures deployment admission policies.
	Policy PolicyConfig `json:"policy" yaml:"policy"`

	// Telemetry configures logging, tracing, metrics and events.
	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`

	// Deployments are deployed at startup, in order.
	Deployments []DeploymentConfig `json:"deployments,omitempty" yaml:"deployments,omitempty" validate:"dive"`
}

// HostSettings contains container-wide settings.
type HostSettings struct {
	// Classpath is appended to every deployment's classpath.
	Classpath []string `json:"classpath,omitempty" yaml:"classpath,omitempty"`

	// ShutdownTimeoutSeconds bounds undeployment on shutdown.
	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds" validate:"gte=0"`
}

// ShutdownTimeout returns the shutdown timeout as a duration.
func (h HostSettings) ShutdownTimeout() time.Duration {
	return time.Duration(h.ShutdownTimeoutSeconds) * time.Second
}

// NodeJSConfig configures the node project factory.
type NodeJSConfig struct {
	// Enabled registers the factory. A disabled capability still registers it.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Prefix is the identifier prefix (default "nodejs").
	Prefix string `json:"prefix" yaml:"prefix" validate:"required_if=Enabled true"`

	// Order ranks the factory among factories sharing its prefix.
	Order int `json:"order" yaml:"order"`

	// VersionPrefix is the required interpreter implementation version prefix.
	VersionPrefix string `json:"version_prefix" yaml:"version_prefix" validate:"required"`

	// MinVersion is an optional minimum interpreter module version.
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty" validate:"omitempty,semver"`

	// Env holds extra environment variables for scripts.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Args are appended to every script's argv.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// ScriptsConfig configures the generic script factory.
type ScriptsConfig struct {
	// Enabled registers the factory.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Prefix is the identifier prefix (default "js").
	Prefix string `json:"prefix" yaml:"prefix" validate:"required_if=Enabled true"`

	// Order ranks the factory among factories sharing its prefix.
	Order int `json:"order" yaml:"order"`
}

// StoreConfig configures the SQLite deployment store.
type StoreConfig struct {
	// Enabled turns on persistence.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path is the database file.
	Path string `json:"path" yaml:"path" validate:"required_if=Enabled true"`
}

// PolicyConfig configures admission policies.
type PolicyConfig struct {
	// Enabled turns on admission. Built-in policies always apply when enabled.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Paths lists .rego and .json policy files or directories.
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`

	// Watch reloads Paths when policy files change.
	Watch bool `json:"watch" yaml:"watch"`

	// Disabled names policies to switch off, built-in ones included.
	Disabled []string `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// DeploymentConfig describes a deployment made at startup.
type DeploymentConfig struct {
	// Identifier is "prefix:name".
	Identifier string `json:"identifier" yaml:"identifier" validate:"required,contains=:"`

	// Isolated requests a private loader.
	Isolated bool `json:"isolated" yaml:"isolated"`

	// Classpath lists archives and directories for the loader.
	Classpath []string `json:"classpath,omitempty" yaml:"classpath,omitempty"`

	// Config is passed to the component.
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
}

// Options converts the deployment into container options.
func (d DeploymentConfig) Options() container.DeploymentOptions {
	return container.DeploymentOptions{
		Isolated:  d.Isolated,
		Classpath: d.Classpath,
		Config:    d.Config,
	}
}

// Default returns the default host configuration.
func Default() *HostConfig {
	return &HostConfig{
		Host: HostSettings{
			ShutdownTimeoutSeconds: 10,
		},
		NodeJS: NodeJSConfig{
			Enabled:       true,
			Prefix:        "nodejs",
			Order:         -1,
			VersionPrefix: "goja ",
		},
		Scripts: ScriptsConfig{
			Enabled: true,
			Prefix:  "js",
			Order:   0,
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    "scripthost.db",
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	// File is the source file where the error occurred.
	File string `json:"file,omitempty"`

	// Line is the line number where the error occurred.
	Line int `json:"line,omitempty"`

	// Column is the column number where the error occurred.
	Column int `json:"column,omitempty"`

	// Path is the field path of the invalid value.
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// String implements fmt.Stringer.
func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is returned when a configuration fails validation.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.String()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

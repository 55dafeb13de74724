package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for the script host.
type Config struct {
	// ServiceName is the name of the service for telemetry identification.
	ServiceName string `json:"service_name" yaml:"service_name"`

	// ServiceVersion is the version of the service.
	ServiceVersion string `json:"service_version" yaml:"service_version"`

	// Environment specifies the deployment environment (dev, staging, prod).
	Environment string `json:"environment" yaml:"environment"`

	// Logging contains logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Events contains event publishing configuration.
	Events EventsConfig `json:"events" yaml:"events"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `json:"level" yaml:"level"`

	// Format specifies the log format (console, json).
	Format string `json:"format" yaml:"format"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `json:"output" yaml:"output"`

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool `json:"enable_caller" yaml:"enable_caller"`

	// TimeFormat specifies the timestamp format (unix, unixms, rfc3339).
	TimeFormat string `json:"time_format" yaml:"time_format"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string `json:"exporter" yaml:"exporter"`

	// Endpoint is the exporter endpoint (e.g., "otel-collector:4317").
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate"`

	// ExportTimeout is the timeout for trace export.
	ExportTimeout time.Duration `json:"export_timeout" yaml:"export_timeout"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `json:"insecure" yaml:"insecure"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// ListenAddress is the address for the metrics HTTP endpoint.
	ListenAddress string `json:"listen_address" yaml:"listen_address"`

	// Path is the HTTP path for metrics (default: /metrics).
	Path string `json:"path" yaml:"path"`

	// Namespace is the metrics namespace prefix.
	Namespace string `json:"namespace" yaml:"namespace"`
}

// EventsConfig configures the event publishing system.
type EventsConfig struct {
	// Enabled controls whether event publishing is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// BufferSize is the size of the event buffer.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`

	// EnableAsync enables asynchronous event publishing.
	EnableAsync bool `json:"enable_async" yaml:"enable_async"`
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "scripthost",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "scripthost",
		},
		Events: EventsConfig{
			Enabled:     true,
			BufferSize:  256,
			EnableAsync: true,
		},
	}
}

// TestConfig returns a configuration that keeps everything in-process and
// quiet: no exporters, no metrics server, synchronous events.
func TestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "test"
	cfg.Logging.Level = "error"
	cfg.Logging.Format = "json"
	cfg.Tracing.Enabled = false
	cfg.Metrics.ListenAddress = ""
	cfg.Events.EnableAsync = false
	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}

	return nil
}

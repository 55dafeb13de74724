package nodejs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/scripthost/pkg/container"
	"github.com/openfroyo/scripthost/pkg/interp"
	"github.com/openfroyo/scripthost/pkg/loader"
	"github.com/openfroyo/scripthost/pkg/telemetry"
)

const (
	// DefaultPrefix is the identifier prefix served by the factory.
	DefaultPrefix = "nodejs"

	// DefaultOrder places the factory before the generic script factory.
	DefaultOrder = -1
)

// FactoryConfig configures a Factory.
type FactoryConfig struct {
	// Prefix is the identifier prefix.
	Prefix string

	// Order ranks the factory among factories sharing its prefix.
	Order int

	// Capability gates resolution. It is normally the result of Probe.
	Capability Capability

	// Engine runs the scripts. Defaults to goja.
	Engine interp.Engine

	// Env holds extra environment variables exposed to scripts.
	Env map[string]string

	// Args are passed to every script after its file name.
	Args []string

	// Telemetry receives logs, spans, metrics and events. Optional.
	Telemetry *telemetry.Telemetry
}

// DefaultFactoryConfig returns the configuration for the default prefix and order.
func DefaultFactoryConfig(capability Capability) FactoryConfig {
	return FactoryConfig{
		Prefix:     DefaultPrefix,
		Order:      DefaultOrder,
		Capability: capability,
	}
}

// Factory resolves and creates node project components.
type Factory struct {
	prefix     string
	order      int
	capability Capability
	engine     interp.Engine
	env        map[string]string
	args       []string
	extractor  *Extractor
	tel        *telemetry.Telemetry
	logger     *telemetry.Logger
}

// NewFactory creates a factory.
func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Engine == nil {
		cfg.Engine = interp.NewGojaEngine()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NewNop()
	}

	f := &Factory{
		prefix:     cfg.Prefix,
		order:      cfg.Order,
		capability: cfg.Capability,
		engine:     cfg.Engine,
		env:        cfg.Env,
		args:       cfg.Args,
		extractor:  NewExtractor(cfg.Telemetry),
		tel:        cfg.Telemetry,
		logger:     cfg.Telemetry.Logger.NewComponentLogger("nodejs"),
	}

	if !f.capability.Enabled {
		f.logger.WithField("reason", f.capability.Reason).Warn(MsgDisabled)
		_ = f.tel.Events.PublishCapabilityDisabled(f.capability.Reason)
	}

	return f
}

// Prefix implements container.Factory.
func (f *Factory) Prefix() string {
	return f.prefix
}

// Order implements container.Factory.
func (f *Factory) Order() int {
	return f.order
}

// RequiresResolve implements container.Factory.
func (f *Factory) RequiresResolve() bool {
	return true
}

// Capability returns the descriptor gating the factory.
func (f *Factory) Capability() Capability {
	return f.capability
}

// Resolve implements container.Factory. On success the project archive
// has been extracted next to itself and identifier is returned unchanged.
func (f *Factory) Resolve(ctx context.Context, identifier string, _ container.DeploymentOptions, l loader.Loader) (string, error) {
	ctx, span := f.tel.Tracer.StartResolutionSpan(ctx, f.prefix, identifier)
	defer span.End()
	timer := telemetry.NewTimer()

	err := f.resolve(ctx, identifier, l)
	if err != nil {
		kind := KindOf(err)
		f.tel.Metrics.RecordResolution(f.prefix, "failure", timer.Duration())
		f.tel.Metrics.RecordError(string(kind))
		_ = f.tel.Events.PublishResolutionFailed(f.prefix, identifier, string(kind), err.Error())
		telemetry.RecordError(span, err)
		f.logger.WithField("identifier", identifier).WithError(err).Debug("resolution failed")
		return "", err
	}

	f.tel.Metrics.RecordResolution(f.prefix, "success", timer.Duration())
	telemetry.RecordSuccess(span)
	return identifier, nil
}

func (f *Factory) resolve(ctx context.Context, identifier string, l loader.Loader) error {
	if !f.capability.Enabled {
		return newError(KindCapability, MsgDisabled, nil).WithIdentifier(identifier)
	}
	if l == nil || !l.Isolated() {
		return newError(KindConfiguration, MsgIsolationRequired, nil).WithIdentifier(identifier)
	}

	project, err := Detect(l)
	if err != nil {
		if errors.Is(err, ErrMalformedManifest) {
			return newError(KindMalformed, "invalid "+ManifestName, err).WithIdentifier(identifier)
		}
		return newError(KindIO, "failed to inspect project", err).WithIdentifier(identifier)
	}
	if project == nil || !project.Eligible() {
		return newError(KindNotFound, MsgNotEligible, nil).WithIdentifier(identifier)
	}

	archive := project.Archive()
	if archive == "" {
		return nil
	}
	if _, err := f.extractor.Extract(ctx, archive); err != nil {
		var e *Error
		if errors.As(err, &e) {
			return e.WithIdentifier(identifier)
		}
		return newError(KindIO, "failed to extract project", err).WithIdentifier(identifier)
	}
	return nil
}

// Create implements container.Factory. name may still carry the prefix.
func (f *Factory) Create(ctx context.Context, name string, l loader.Loader) (container.Component, error) {
	c, err := f.create(ctx, name, l)
	if err != nil {
		f.tel.Metrics.RecordComponentCreated(f.prefix, "failure")
		f.tel.Metrics.RecordError(string(KindOf(err)))
		return nil, err
	}
	f.tel.Metrics.RecordComponentCreated(f.prefix, "success")
	return c, nil
}

func (f *Factory) create(_ context.Context, name string, l loader.Loader) (*Component, error) {
	name = strings.TrimPrefix(name, f.prefix+":")
	normalized, ok := loader.Normalize(name)
	if !ok {
		return nil, newError(KindConfiguration, "invalid component name", nil).WithIdentifier(name)
	}

	entry, err := f.entryScript(normalized, l)
	if err != nil {
		return nil, err
	}

	loc, ok := l.Resource(entry)
	if !ok || loc.Dir {
		return nil, newError(KindNotFound, "script "+entry+" not found", nil).WithIdentifier(name)
	}

	dir := loc.Root
	if loc.InArchive {
		if dir, err = TargetDir(loc.Root); err != nil {
			return nil, newError(KindIO, "cannot derive project directory", err).WithIdentifier(name)
		}
	}

	file := filepath.Join(dir, filepath.FromSlash(entry))
	if err := readFully(file); err != nil {
		return nil, newError(KindIO, "failed to read script "+entry, err).WithIdentifier(name)
	}

	env, err := f.engine.NewEnvironment(interp.EnvironmentOptions{Dir: dir, Env: f.env})
	if err != nil {
		return nil, newError(KindExecution, "failed to create interpreter environment", err).WithIdentifier(name)
	}

	script, err := env.CreateScript(entry, file, f.args)
	if err != nil {
		return nil, newError(KindExecution, "failed to compile "+entry, err).WithIdentifier(name)
	}

	f.logger.WithFields(map[string]interface{}{
		"component": name,
		"script":    entry,
		"dir":       dir,
	}).Debug("created component")

	return newComponent(name, dir, script, f.tel), nil
}

// entryScript picks the script for name: the name itself, or for an archive
// name the manifest's main entry.
func (f *Factory) entryScript(name string, l loader.Loader) (string, error) {
	if !loader.IsArchiveName(name) {
		return name, nil
	}

	m, _, ok, err := LoadManifest(l)
	if err != nil {
		if errors.Is(err, ErrMalformedManifest) {
			return "", newError(KindMalformed, "invalid "+ManifestName, err).WithIdentifier(name)
		}
		return "", newError(KindIO, "failed to read "+ManifestName, err).WithIdentifier(name)
	}
	if !ok {
		return "", newError(KindNotFound, fmt.Sprintf("%s not found for %s", ManifestName, name), nil).WithIdentifier(name)
	}

	entry, err := EntryScript(m, l)
	if err != nil {
		return "", newError(KindMalformed, "invalid "+ManifestName, err).WithIdentifier(name)
	}
	return entry, nil
}

func readFully(file string) error {
	r, err := os.Open(file)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(io.Discard, r)
	return err
}

package nodejs

import (
	"fmt"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/openfroyo/scripthost/pkg/interp"
)

const (
	// DefaultVersionPrefix is the implementation version prefix of the
	// supported interpreter.
	DefaultVersionPrefix = "goja "

	// CodecModule provides the archive codec used by loaders and the extractor.
	CodecModule = "github.com/klauspost/compress"
)

// Capability describes whether node project resolution is available.
// It is computed once by Probe and never changes.
type Capability struct {
	// Enabled is true when every check passed.
	Enabled bool `json:"enabled"`

	// Reason explains why the capability is disabled.
	Reason string `json:"reason,omitempty"`

	// EngineVersion is the implementation version reported by the interpreter.
	EngineVersion string `json:"engine_version,omitempty"`

	// Modules lists the linked module versions that were checked.
	Modules map[string]string `json:"modules,omitempty"`
}

// String implements fmt.Stringer.
func (c Capability) String() string {
	if c.Enabled {
		return "enabled (" + c.EngineVersion + ")"
	}
	return "disabled: " + c.Reason
}

// EnabledCapability returns an enabled descriptor without probing.
func EnabledCapability(engineVersion string) Capability {
	return Capability{Enabled: true, EngineVersion: engineVersion}
}

// DisabledCapability returns a disabled descriptor.
func DisabledCapability(reason string) Capability {
	return Capability{Reason: reason}
}

// ModuleLister reports the module versions linked into the binary.
type ModuleLister func() (map[string]string, bool)

// ProbeConfig configures Probe.
type ProbeConfig struct {
	// Engine is the interpreter to check. Defaults to goja.
	Engine interp.Engine

	// VersionPrefix is the required implementation version prefix.
	// Defaults to DefaultVersionPrefix.
	VersionPrefix string

	// MinVersion is an optional minimum semantic version of the interpreter module.
	MinVersion string

	// Modules lists linked modules. Defaults to BuildInfoModules.
	Modules ModuleLister
}

// Probe checks that the interpreter can serve node projects. It never
// panics and never fails; problems yield a disabled descriptor.
func Probe(cfg ProbeConfig) (c Capability) {
	if cfg.Engine == nil {
		cfg.Engine = interp.NewGojaEngine()
	}
	if cfg.VersionPrefix == "" {
		cfg.VersionPrefix = DefaultVersionPrefix
	}
	if cfg.Modules == nil {
		cfg.Modules = BuildInfoModules
	}

	defer func() {
		if r := recover(); r != nil {
			c = DisabledCapability(fmt.Sprintf("capability probe panicked: %v", r))
		}
	}()

	mods, ok := cfg.Modules()
	if !ok {
		return DisabledCapability("module information unavailable")
	}

	checked := make(map[string]string)
	required := []string{interp.GojaModule, interp.GojaNodeModule, CodecModule}
	for _, path := range required {
		v, ok := mods[path]
		if !ok {
			return DisabledCapability(fmt.Sprintf("required module %s is not linked", path))
		}
		checked[path] = v
	}

	version, err := cfg.Engine.ImplementationVersion()
	if err != nil {
		return Capability{Reason: fmt.Sprintf("interpreter check failed: %v", err), Modules: checked}
	}
	if !strings.HasPrefix(version, cfg.VersionPrefix) {
		return Capability{
			Reason:        fmt.Sprintf("unsupported interpreter %q, want prefix %q", version, cfg.VersionPrefix),
			EngineVersion: version,
			Modules:       checked,
		}
	}

	if cfg.MinVersion != "" {
		if err := checkMinVersion(checked[interp.GojaModule], cfg.MinVersion); err != nil {
			return Capability{Reason: err.Error(), EngineVersion: version, Modules: checked}
		}
	}

	return Capability{Enabled: true, EngineVersion: version, Modules: checked}
}

func checkMinVersion(have, want string) error {
	minimum, err := semver.NewVersion(want)
	if err != nil {
		return fmt.Errorf("invalid minimum interpreter version %q: %v", want, err)
	}
	v, err := semver.NewVersion(have)
	if err != nil {
		return fmt.Errorf("interpreter module version %q is not a semantic version", have)
	}
	if v.LessThan(minimum) {
		return fmt.Errorf("interpreter module version %s is older than %s", v, minimum)
	}
	return nil
}

// BuildInfoModules lists the modules recorded in the running binary.
func BuildInfoModules() (map[string]string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, false
	}
	mods := make(map[string]string, len(info.Deps))
	for _, dep := range info.Deps {
		version := dep.Version
		if dep.Replace != nil {
			version = dep.Replace.Version
		}
		mods[dep.Path] = version
	}
	return mods, true
}

// ModuleNames returns the checked module paths in sorted order.
func (c Capability) ModuleNames() []string {
	names := make([]string, 0, len(c.Modules))
	for name := range c.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

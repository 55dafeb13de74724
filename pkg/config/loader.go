package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Loader loads host configuration from CUE or YAML sources.
type Loader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	ctx := cuecontext.New()
	return &Loader{
		ctx:       ctx,
		schema:    ctx.CompileString(hostSchema, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#HostConfig")),
		validator: validator.New(),
	}
}

// LoadFile loads a configuration file. The format follows the extension:
// .cue, .json, .yaml or .yml. A directory is loaded as a CUE package.
func (l *Loader) LoadFile(path string) (*HostConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return l.LoadDirectory(path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(content, path)
	case ".cue", ".json":
		return l.LoadCUE(string(content), path)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}
}

// LoadDirectory loads a directory as a CUE package.
func (l *Loader) LoadDirectory(dir string) (*HostConfig, error) {
	instances := load.Instances([]string{dir}, nil)
	if len(instances) == 0 {
		return nil, ValidationErrors{{File: dir, Message: "no CUE files found"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, convertCUEErrors(inst.Err)
	}

	val := l.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	return l.decode(val)
}

// LoadCUE loads inline CUE content. filename is used in error positions.
func (l *Loader) LoadCUE(content, filename string) (*HostConfig, error) {
	if filename == "" {
		filename = "inline"
	}
	val := l.ctx.CompileString(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	return l.decode(val)
}

// LoadYAML loads YAML content.
func (l *Loader) LoadYAML(content []byte, filename string) (*HostConfig, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, ValidationErrors{{File: filename, Message: fmt.Sprintf("failed to parse YAML: %v", err)}}
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	val := l.ctx.Encode(raw)
	if err := val.Err(); err != nil {
		return nil, ValidationErrors{{File: filename, Message: fmt.Sprintf("failed to encode YAML: %v", err)}}
	}
	return l.decode(val)
}

// decode checks val against the schema and overlays it on the defaults.
func (l *Loader) decode(val cue.Value) (*HostConfig, error) {
	unified := l.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}

	data, err := unified.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the telemetry section.
func (l *Loader) Validate(cfg *HostConfig) error {
	var verrs ValidationErrors

	if err := l.validator.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validation failed: %w", err)
		}
		for _, fe := range fieldErrs {
			verrs = append(verrs, ValidationError{
				Path:    fe.Namespace(),
				Message: fmt.Sprintf("failed on the %q rule", fe.Tag()),
			})
		}
	}

	if err := cfg.Telemetry.Validate(); err != nil {
		verrs = append(verrs, ValidationError{Path: "telemetry", Message: err.Error()})
	}

	if len(verrs) > 0 {
		return verrs
	}
	return nil
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}

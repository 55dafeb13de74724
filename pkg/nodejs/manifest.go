package nodejs

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/openfroyo/scripthost/pkg/loader"
)

const (
	// ManifestName is the project descriptor resource.
	ManifestName = "package.json"

	// SentinelName marks a project carrying its dependencies.
	SentinelName = "node_modules"

	// DefaultMain is the first entry script tried when the manifest names none.
	DefaultMain = "index.js"

	// DefaultServer is tried after DefaultMain, as npm start does.
	DefaultServer = "server.js"
)

// Manifest is the subset of package.json the host understands. Fields of an
// unexpected JSON type are ignored rather than rejected.
type Manifest struct {
	Name    string            `json:"name"`
	Version string            `json:"version"`
	Main    string            `json:"main"`
	Engines Engines           `json:"engines,omitempty"`
	Scripts map[string]string `json:"scripts,omitempty"`
}

// UnmarshalJSON requires a JSON object and keeps whatever fields it can use.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("package.json must be an object")
	}

	*m = Manifest{
		Name:    stringValue(raw["name"]),
		Version: stringValue(raw["version"]),
		Main:    stringValue(raw["main"]),
	}
	if data, ok := raw["engines"]; ok {
		m.Engines = parseEngines(data)
	}
	if data, ok := raw["scripts"]; ok {
		var scripts map[string]json.RawMessage
		if json.Unmarshal(data, &scripts) == nil {
			m.Scripts = make(map[string]string, len(scripts))
			for k, v := range scripts {
				m.Scripts[k] = stringValue(v)
			}
		}
	}
	return nil
}

// Engines maps engine names to version ranges. Only the key set matters;
// ranges are informational and empty when not a string.
type Engines map[string]string

// parseEngines accepts the object form and the legacy array form
// (["node >= 0.8"]). Anything else declares no engines.
func parseEngines(data json.RawMessage) Engines {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		out := make(Engines, len(obj))
		for k, v := range obj {
			out[k] = stringValue(v)
		}
		return out
	}

	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		return nil
	}
	out := make(Engines, len(list))
	for _, raw := range list {
		item := stringValue(raw)
		fields := strings.Fields(item)
		if len(fields) == 0 {
			continue
		}
		out[fields[0]] = strings.TrimSpace(strings.TrimPrefix(item, fields[0]))
	}
	return out
}

func stringValue(data json.RawMessage) string {
	var s string
	if len(data) == 0 || json.Unmarshal(data, &s) != nil {
		return ""
	}
	return s
}

// ParseManifest parses package.json content. Only content that is not a
// JSON object is malformed.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	return &m, nil
}

// RequiresNode reports whether the manifest declares a node engine.
func (m *Manifest) RequiresNode() bool {
	_, ok := m.Engines["node"]
	return ok
}

// EntryPoints returns the normalized entry script candidates in order: the
// main entry when set, otherwise DefaultMain then DefaultServer.
func (m *Manifest) EntryPoints() ([]string, error) {
	if m.Main == "" {
		return []string{DefaultMain, DefaultServer}, nil
	}
	if cleaned := path.Clean(m.Main); cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return nil, fmt.Errorf("main entry %q escapes the project", m.Main)
	}
	name, ok := loader.Normalize(m.Main)
	if !ok {
		return nil, fmt.Errorf("invalid main entry %q", m.Main)
	}
	return []string{name}, nil
}

// EntryScript picks the first entry point l can find. When none exists the
// first candidate is returned so the caller reports it as missing.
func EntryScript(m *Manifest, l loader.Loader) (string, error) {
	candidates, err := m.EntryPoints()
	if err != nil {
		return "", err
	}
	for _, name := range candidates {
		if loc, ok := l.Resource(name); ok && !loc.Dir {
			return name, nil
		}
	}
	return candidates[0], nil
}

// LoadManifest reads and parses package.json through l. ok is false when
// the loader has no manifest.
func LoadManifest(l loader.Loader) (m *Manifest, loc *loader.Locator, ok bool, err error) {
	loc, found := l.Resource(ManifestName)
	if !found || loc.Dir {
		return nil, nil, false, nil
	}

	r, err := l.Open(ManifestName)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to open %s: %w", loc, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to read %s: %w", loc, err)
	}

	m, err = ParseManifest(data)
	if err != nil {
		return nil, loc, true, fmt.Errorf("%s: %w", loc, err)
	}
	return m, loc, true, nil
}

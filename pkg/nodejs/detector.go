package nodejs

import (
	"fmt"

	"github.com/openfroyo/scripthost/pkg/loader"
)

// Project is a detected script project.
type Project struct {
	// Manifest is the parsed package.json.
	Manifest *Manifest

	// Locator points at package.json.
	Locator *loader.Locator

	// HasModules is true when the node_modules sentinel sits next to the manifest.
	HasModules bool
}

// Eligible reports whether the project can be hosted.
func (p *Project) Eligible() bool {
	return p.HasModules || p.Manifest.RequiresNode()
}

// Archive returns the archive holding the project, or "" for a directory root.
func (p *Project) Archive() string {
	if !p.Locator.InArchive {
		return ""
	}
	return p.Locator.Root
}

// Detect looks for a project visible through l. It returns nil without an
// error when l holds no package.json. A package.json that cannot be parsed
// is an error wrapping ErrMalformedManifest.
func Detect(l loader.Loader) (*Project, error) {
	m, loc, ok, err := LoadManifest(l)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	sentinel, found, err := loc.Sibling(SentinelName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s next to %s: %w", SentinelName, loc, err)
	}

	return &Project{
		Manifest:   m,
		Locator:    loc,
		HasModules: found && (sentinel.Dir || sentinel.Size == 0),
	}, nil
}

// IsEligible reports whether l exposes an eligible project.
func IsEligible(l loader.Loader) (bool, error) {
	p, err := Detect(l)
	if err != nil || p == nil {
		return false, err
	}
	return p.Eligible(), nil
}

package loader

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
)

// ErrNotFound is returned by Open when no root holds the named resource.
var ErrNotFound = errors.New("resource not found")

// Loader resolves resource names.
type Loader interface {
	// Resource locates name. ok is false when no root holds it.
	Resource(name string) (loc *Locator, ok bool)

	// Open returns the content of name. Returns ErrNotFound when absent.
	Open(name string) (io.ReadCloser, error)

	// Isolated reports whether the loader is private to one component.
	Isolated() bool
}

// Locator points at a resource inside a root.
type Locator struct {
	// Root is the absolute path of the archive file or directory holding the resource.
	Root string

	// Name is the slash-separated resource name inside the root.
	Name string

	// InArchive is true when Root is an archive file.
	InArchive bool

	// Size is the uncompressed size of the resource.
	Size int64

	// Dir is true when the resource is a directory.
	Dir bool
}

// Archive returns the archive file holding the resource.
func (l *Locator) Archive() (string, error) {
	if !l.InArchive {
		return "", fmt.Errorf("resource %s is not inside an archive (root %s)", l.Name, l.Root)
	}
	return l.Root, nil
}

// Sibling looks up another entry of the same root as l.
func (l *Locator) Sibling(name string) (*Locator, bool, error) {
	if l.InArchive {
		r, err := zip.OpenReader(l.Root)
		if err != nil {
			return nil, false, fmt.Errorf("failed to open archive %s: %w", l.Root, err)
		}
		defer r.Close()
		loc, ok := findInArchive(l.Root, r.File, name)
		return loc, ok, nil
	}

	loc, ok, err := findInDir(l.Root, name)
	return loc, ok, err
}

// String implements fmt.Stringer.
func (l *Locator) String() string {
	if l.InArchive {
		return l.Root + "!/" + l.Name
	}
	return filepath.Join(l.Root, filepath.FromSlash(l.Name))
}

// ClasspathLoader is a Loader over archives and directories.
type ClasspathLoader struct {
	roots    []string
	isolated bool

	mu       sync.Mutex
	archives map[string]*zip.ReadCloser
}

// New creates a loader over roots. Roots must exist; a root that is a regular
// file is treated as a zip archive.
func New(isolated bool, roots ...string) (*ClasspathLoader, error) {
	abs := make([]string, 0, len(roots))
	for _, root := range roots {
		p, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
		}
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("invalid root %s: %w", root, err)
		}
		abs = append(abs, p)
	}

	return &ClasspathLoader{
		roots:    abs,
		isolated: isolated,
		archives: make(map[string]*zip.ReadCloser),
	}, nil
}

// NewIsolating creates an isolating loader over roots.
func NewIsolating(roots ...string) (*ClasspathLoader, error) {
	return New(true, roots...)
}

// NewShared creates a shared, non-isolating loader over roots.
func NewShared(roots ...string) (*ClasspathLoader, error) {
	return New(false, roots...)
}

// Roots returns the absolute roots in lookup order.
func (c *ClasspathLoader) Roots() []string {
	out := make([]string, len(c.roots))
	copy(out, c.roots)
	return out
}

// Isolated implements Loader.
func (c *ClasspathLoader) Isolated() bool {
	return c.isolated
}

// Resource implements Loader.
func (c *ClasspathLoader) Resource(name string) (*Locator, bool) {
	name, ok := Normalize(name)
	if !ok {
		return nil, false
	}

	for _, root := range c.roots {
		if isArchive(root) {
			r, err := c.archive(root)
			if err != nil {
				continue
			}
			if loc, ok := findInArchive(root, r.File, name); ok {
				return loc, true
			}
			continue
		}

		if loc, ok, err := findInDir(root, name); err == nil && ok {
			return loc, true
		}
	}

	return nil, false
}

// Open implements Loader.
func (c *ClasspathLoader) Open(name string) (io.ReadCloser, error) {
	loc, ok := c.Resource(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if loc.Dir {
		return nil, fmt.Errorf("%s is a directory", loc)
	}

	if !loc.InArchive {
		return os.Open(filepath.Join(loc.Root, filepath.FromSlash(loc.Name)))
	}

	r, err := c.archive(loc.Root)
	if err != nil {
		return nil, err
	}
	for _, f := range r.File {
		if f.Name == loc.Name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// Close releases open archives.
func (c *ClasspathLoader) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for root, r := range c.archives {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close archive %s: %w", root, err))
		}
	}
	c.archives = make(map[string]*zip.ReadCloser)
	return errors.Join(errs...)
}

func (c *ClasspathLoader) archive(root string) (*zip.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.archives[root]; ok {
		return r, nil
	}
	r, err := zip.OpenReader(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", root, err)
	}
	c.archives[root] = r
	return r, nil
}

// Normalize cleans a resource name into slash form without a leading slash.
// It reports false for empty names and names escaping the root.
func Normalize(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" || name == "." {
		return "", false
	}
	return name, true
}

// IsArchiveName reports whether name carries a zip-compatible suffix.
func IsArchiveName(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".zip", ".jar", ".nar":
		return true
	}
	return false
}

func isArchive(root string) bool {
	info, err := os.Stat(root)
	return err == nil && info.Mode().IsRegular()
}

// findInArchive matches name against explicit entries. A directory matches
// either its "name/" entry or, failing that, any entry below it.
func findInArchive(root string, files []*zip.File, name string) (*Locator, bool) {
	var implicit bool
	for _, f := range files {
		switch {
		case f.Name == name:
			return &Locator{
				Root:      root,
				Name:      name,
				InArchive: true,
				Size:      int64(f.UncompressedSize64),
				Dir:       f.FileInfo().IsDir(),
			}, true
		case f.Name == name+"/":
			return &Locator{Root: root, Name: name, InArchive: true, Dir: true}, true
		case strings.HasPrefix(f.Name, name+"/"):
			implicit = true
		}
	}
	if implicit {
		return &Locator{Root: root, Name: name, InArchive: true, Dir: true}, true
	}
	return nil, false
}

func findInDir(root, name string) (*Locator, bool, error) {
	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(name)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return &Locator{
		Root: root,
		Name: name,
		Size: info.Size(),
		Dir:  info.IsDir(),
	}, true, nil
}

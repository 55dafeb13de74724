// Package loadertest builds zip archives for tests.
package loadertest

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
)

// WriteArchive writes a zip archive at path holding entries. Names ending in
// "/" become directory entries; everything else is stored with its content.
// Entries are written in lexical order.
func WriteArchive(t testing.TB, path string, entries map[string]string) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create archive dir: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}
	defer f.Close()

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	w := zip.NewWriter(f)
	for _, name := range names {
		if strings.HasSuffix(name, "/") {
			if _, err := w.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store}); err != nil {
				t.Fatalf("Failed to add dir %s: %v", name, err)
			}
			continue
		}
		ew, err := w.Create(name)
		if err != nil {
			t.Fatalf("Failed to add %s: %v", name, err)
		}
		if _, err := ew.Write([]byte(entries[name])); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to finish archive: %v", err)
	}

	return path
}

package loader

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/scripthost/pkg/loader/loadertest"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "package.json", want: "package.json", wantOK: true},
		{in: "/lib/../server.js", want: "server.js", wantOK: true},
		{in: "lib\\util.js", want: "lib/util.js", wantOK: true},
		{in: "../../etc/passwd", want: "etc/passwd", wantOK: true},
		{in: "", wantOK: false},
		{in: "/", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Normalize(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("Normalize(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestClasspathLoader(t *testing.T) {
	dir := t.TempDir()
	archive := loadertest.WriteArchive(t, filepath.Join(dir, "app.zip"), map[string]string{
		"package.json":        `{"name":"app"}`,
		"lib/":                "",
		"lib/util.js":         "module.exports = 1;",
		"node_modules/x/a.js": "",
		"empty":               "",
	})

	plain := filepath.Join(dir, "plain")
	if err := os.MkdirAll(filepath.Join(plain, "scripts"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(plain, "scripts", "hello.js"), []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := NewIsolating(archive, plain)
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	defer l.Close()

	if !l.Isolated() {
		t.Error("Expected isolating loader")
	}

	t.Run("ArchiveFile", func(t *testing.T) {
		loc, ok := l.Resource("package.json")
		if !ok {
			t.Fatal("Expected package.json to be found")
		}
		if !loc.InArchive || loc.Root != archive {
			t.Errorf("Expected archive locator in %s, got %+v", archive, loc)
		}
		got, err := loc.Archive()
		if err != nil || got != archive {
			t.Errorf("Archive() = %q, %v", got, err)
		}
	})

	t.Run("ExplicitDir", func(t *testing.T) {
		loc, ok := l.Resource("lib")
		if !ok || !loc.Dir {
			t.Fatalf("Expected lib directory, got %+v ok=%v", loc, ok)
		}
	})

	t.Run("ImplicitDir", func(t *testing.T) {
		loc, ok := l.Resource("node_modules")
		if !ok || !loc.Dir {
			t.Fatalf("Expected implicit node_modules directory, got %+v ok=%v", loc, ok)
		}
	})

	t.Run("ZeroLengthEntry", func(t *testing.T) {
		loc, ok := l.Resource("empty")
		if !ok || loc.Dir || loc.Size != 0 {
			t.Fatalf("Expected zero-length file entry, got %+v ok=%v", loc, ok)
		}
	})

	t.Run("DirectoryRoot", func(t *testing.T) {
		loc, ok := l.Resource("scripts/hello.js")
		if !ok {
			t.Fatal("Expected scripts/hello.js to be found")
		}
		if loc.InArchive || loc.Root != plain {
			t.Errorf("Expected directory locator in %s, got %+v", plain, loc)
		}
		if _, err := loc.Archive(); err == nil {
			t.Error("Expected Archive() to fail for directory root")
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, ok := l.Resource("nope.js"); ok {
			t.Error("Expected missing resource")
		}
		if _, err := l.Open("nope.js"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Open", func(t *testing.T) {
		rc, err := l.Open("lib/util.js")
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "module.exports = 1;" {
			t.Errorf("Unexpected content %q", data)
		}
	})

	t.Run("Sibling", func(t *testing.T) {
		loc, _ := l.Resource("package.json")
		sib, ok, err := loc.Sibling("node_modules")
		if err != nil || !ok || !sib.Dir {
			t.Errorf("Expected node_modules sibling, got %+v ok=%v err=%v", sib, ok, err)
		}
	})
}

func TestNewRejectsMissingRoot(t *testing.T) {
	if _, err := NewShared(filepath.Join(t.TempDir(), "missing.zip")); err == nil {
		t.Error("Expected error for missing root")
	}
}

func TestIsArchiveName(t *testing.T) {
	for name, want := range map[string]bool{
		"http-server.zip": true,
		"lib.JAR":         true,
		"server.js":       false,
		"noext":           false,
	} {
		if got := IsArchiveName(name); got != want {
			t.Errorf("IsArchiveName(%q) = %v, want %v", name, got, want)
		}
	}
}

package nodejs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/scripthost/pkg/loader/loadertest"
)

func TestTargetDir(t *testing.T) {
	tests := []struct {
		archive string
		want    string
		wantErr bool
	}{
		{archive: "/srv/app/http-server.zip", want: "/srv/app/http-server"},
		{archive: "/srv/app/lib.v2.jar", want: "/srv/app/lib.v2"},
		{archive: "/srv/app/noext", wantErr: true},
		{archive: "/srv/app/.zip", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.archive, func(t *testing.T) {
			got, err := TargetDir(filepath.FromSlash(tt.archive))
			if (err != nil) != tt.wantErr {
				t.Fatalf("TargetDir() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != filepath.FromSlash(tt.want) {
				t.Errorf("TargetDir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	ctx := t.Context()

	t.Run("writes entries and replaces stale content", func(t *testing.T) {
		dir := t.TempDir()
		archive := loadertest.WriteArchive(t, filepath.Join(dir, "app.zip"), map[string]string{
			"package.json":          `{"name":"app"}`,
			"lib/":                  "",
			"lib/util.js":           "module.exports = 1;",
			"deep/nested/file.txt":  "implicit parents",
			"node_modules/":         "",
			"node_modules/x/pkg.js": "x",
		})

		target := filepath.Join(dir, "app")
		if err := os.MkdirAll(target, 0o755); err != nil {
			t.Fatal(err)
		}
		stale := filepath.Join(target, "stale.js")
		if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
			t.Fatal(err)
		}

		got, err := NewExtractor(nil).Extract(ctx, archive)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if got != target {
			t.Errorf("Extract() = %q, want %q", got, target)
		}

		if _, err := os.Stat(stale); !os.IsNotExist(err) {
			t.Error("stale file should have been removed")
		}
		for _, name := range []string{"package.json", "lib/util.js", "deep/nested/file.txt", "node_modules/x/pkg.js"} {
			if _, err := os.Stat(filepath.Join(target, filepath.FromSlash(name))); err != nil {
				t.Errorf("missing extracted entry %s: %v", name, err)
			}
		}
		data, err := os.ReadFile(filepath.Join(target, "lib", "util.js"))
		if err != nil || string(data) != "module.exports = 1;" {
			t.Errorf("lib/util.js = %q, %v", data, err)
		}
	})

	t.Run("directory entry replaces file of same name", func(t *testing.T) {
		dir := t.TempDir()
		archive := loadertest.WriteArchive(t, filepath.Join(dir, "clash.zip"), map[string]string{
			"data":  "file first",
			"data/": "",
		})

		target, err := NewExtractor(nil).Extract(ctx, archive)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		info, err := os.Stat(filepath.Join(target, "data"))
		if err != nil || !info.IsDir() {
			t.Errorf("data should be a directory: %v", err)
		}
	})

	t.Run("rejects entries escaping the target", func(t *testing.T) {
		dir := t.TempDir()
		archive := loadertest.WriteArchive(t, filepath.Join(dir, "sub", "evil.zip"), map[string]string{
			"../escaped.js": "bad",
		})

		if _, err := NewExtractor(nil).Extract(ctx, archive); err == nil {
			t.Fatal("Extract() should fail for an escaping entry")
		}
		if _, err := os.Stat(filepath.Join(dir, "sub", "escaped.js")); !os.IsNotExist(err) {
			t.Error("escaping entry must not be written")
		}
	})

	t.Run("missing archive", func(t *testing.T) {
		_, err := NewExtractor(nil).Extract(ctx, filepath.Join(t.TempDir(), "missing.zip"))
		if !IsKind(err, KindIO) {
			t.Errorf("Extract() error = %v, want io kind", err)
		}
	})
}

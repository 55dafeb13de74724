package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLoadFromPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "isolate-scripts.rego"), denyScripts)
	writeFile(t, filepath.Join(dir, "nested", "named.json"),
		`{"name": "from-json", "severity": "error", "rego": "package scripthost.admission.json\n\nimport rego.v1\n\ndeny contains \"no\" if { false }\n"}`)
	writeFile(t, filepath.Join(dir, "nested", "nameless.json"), `{"rego": "package x"}`)
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")

	policies, err := NewLoader(nil).LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("loaded %d policies, want 2: %+v", len(policies), policies)
	}

	byName := map[string]Policy{}
	for _, p := range policies {
		byName[p.Name] = p
	}

	rego, ok := byName["isolate-scripts"]
	if !ok {
		t.Fatal("rego policy not loaded")
	}
	if rego.Severity != SeverityWarning || !rego.Enabled || rego.Builtin {
		t.Errorf("rego defaults = %+v", rego)
	}
	if rego.Description != "Plain scripts must be isolated." {
		t.Errorf("Description = %q", rego.Description)
	}
	if rego.Source != filepath.Join(dir, "isolate-scripts.rego") {
		t.Errorf("Source = %q", rego.Source)
	}

	if byName["from-json"].Severity != SeverityError {
		t.Errorf("json severity = %s", byName["from-json"].Severity)
	}

	if _, err := NewLoader(nil).LoadFromPaths(context.Background(), []string{filepath.Join(dir, "absent")}); err == nil {
		t.Error("LoadFromPaths() should fail for a missing path")
	}
}

func TestEngineLoadPolicies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "isolate-scripts.rego"), denyScripts)

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(t.Context(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}
	if len(eng.ListPolicies()) != 3 {
		t.Errorf("ListPolicies() = %d policies, want 3", len(eng.ListPolicies()))
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "first.rego"), denyScripts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 4)
	l := NewLoader(nil)
	err := l.Watch(ctx, []string{dir}, func(p []Policy) error {
		reloaded <- p
		return nil
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer l.StopWatching()

	writeFile(t, filepath.Join(dir, "second.rego"), denyScripts)

	select {
	case policies := <-reloaded:
		if len(policies) != 2 {
			t.Errorf("reloaded %d policies, want 2", len(policies))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("policies were not reloaded")
	}
}

package nodejs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/scripthost/pkg/container"
	"github.com/openfroyo/scripthost/pkg/interp"
	"github.com/openfroyo/scripthost/pkg/loader"
	"github.com/openfroyo/scripthost/pkg/loader/loadertest"
	"github.com/openfroyo/scripthost/pkg/telemetry"
)

const httpServerManifest = `{"engines":{"node":"0.10.x"}}`

type faultRecorder struct {
	mu     sync.Mutex
	faults []container.Fault
	ch     chan container.Fault
}

func newFaultRecorder() *faultRecorder {
	return &faultRecorder{ch: make(chan container.Fault, 8)}
}

func (r *faultRecorder) ReportFault(_ string, fault container.Fault) {
	r.mu.Lock()
	r.faults = append(r.faults, fault)
	r.mu.Unlock()
	r.ch <- fault
}

func (r *faultRecorder) wait(t *testing.T) container.Fault {
	t.Helper()
	select {
	case f := <-r.ch:
		return f
	case <-time.After(10 * time.Second):
		t.Fatal("no fault reported")
		return container.Fault{}
	}
}

func (r *faultRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.faults)
}

func newTestFactory(t *testing.T, capability Capability) (*Factory, *telemetry.Telemetry) {
	t.Helper()
	tel := telemetry.NewNop()
	cfg := DefaultFactoryConfig(capability)
	cfg.Telemetry = tel
	return NewFactory(cfg), tel
}

func writeHTTPServer(t *testing.T, dir, server string) string {
	t.Helper()
	return loadertest.WriteArchive(t, filepath.Join(dir, "http-server.zip"), map[string]string{
		"package.json": httpServerManifest,
		"server.js":    server,
	})
}

func waitStatus(t *testing.T, c *Component) interp.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return status
}

func TestFactoryDefaults(t *testing.T) {
	f, _ := newTestFactory(t, EnabledCapability("goja test"))
	if f.Prefix() != "nodejs" {
		t.Errorf("Prefix() = %q, want nodejs", f.Prefix())
	}
	if f.Order() != -1 {
		t.Errorf("Order() = %d, want -1", f.Order())
	}
	if !f.RequiresResolve() {
		t.Error("RequiresResolve() should be true")
	}
}

func TestResolveAndRunHTTPServer(t *testing.T) {
	ctx := t.Context()
	dir := t.TempDir()
	archive := writeHTTPServer(t, dir, `var served = 0; setTimeout(function () { served++; }, 10);`)

	l, err := loader.NewIsolating(archive)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	f, tel := newTestFactory(t, EnabledCapability("goja test"))
	var extracted []telemetry.Event
	tel.Events.Subscribe(func(e telemetry.Event) { extracted = append(extracted, e) },
		telemetry.FilterByType(telemetry.EventTypeProjectExtracted))

	identifier := "nodejs:http-server.zip"
	got, err := f.Resolve(ctx, identifier, container.DeploymentOptions{Isolated: true}, l)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != identifier {
		t.Errorf("Resolve() = %q, want %q", got, identifier)
	}

	target := filepath.Join(dir, "http-server")
	for _, name := range []string{"package.json", "server.js"} {
		if _, err := os.Stat(filepath.Join(target, name)); err != nil {
			t.Errorf("%s not extracted: %v", name, err)
		}
	}
	if len(extracted) != 1 {
		t.Errorf("expected 1 extraction event, got %d", len(extracted))
	}

	comp, err := f.Create(ctx, identifier, l)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	c := comp.(*Component)
	if c.Name() != "http-server.zip" {
		t.Errorf("Name() = %q", c.Name())
	}
	if c.Dir() != target {
		t.Errorf("Dir() = %q, want %q", c.Dir(), target)
	}

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if status := waitStatus(t, c); !status.OK() {
		t.Errorf("script status = %v, want clean exit", status)
	}
	if err := c.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestResolveSharedLoaderLeavesFilesystemUntouched(t *testing.T) {
	dir := t.TempDir()
	archive := writeHTTPServer(t, dir, `1;`)

	l, err := loader.NewShared(archive)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	f, _ := newTestFactory(t, EnabledCapability("goja test"))
	_, err = f.Resolve(t.Context(), "nodejs:http-server.zip", container.DeploymentOptions{}, l)
	if !IsKind(err, KindConfiguration) {
		t.Fatalf("Resolve() error = %v, want configuration kind", err)
	}
	if !strings.Contains(err.Error(), MsgIsolationRequired) {
		t.Errorf("error %q should mention %q", err, MsgIsolationRequired)
	}
	if _, err := os.Stat(filepath.Join(dir, "http-server")); !os.IsNotExist(err) {
		t.Error("shared loader resolution must not create the extraction directory")
	}
}

func TestResolveFailures(t *testing.T) {
	tests := []struct {
		name       string
		capability Capability
		entries    map[string]string
		wantKind   ErrorKind
		wantMsg    string
	}{
		{
			name:       "capability disabled",
			capability: DisabledCapability("interpreter missing"),
			entries:    map[string]string{"package.json": httpServerManifest},
			wantKind:   KindCapability,
			wantMsg:    MsgDisabled,
		},
		{
			name:       "no manifest",
			capability: EnabledCapability("goja test"),
			entries:    map[string]string{"server.js": "1;"},
			wantKind:   KindNotFound,
			wantMsg:    MsgNotEligible,
		},
		{
			name:       "manifest without signals",
			capability: EnabledCapability("goja test"),
			entries:    map[string]string{"package.json": `{"name":"lib"}`},
			wantKind:   KindNotFound,
			wantMsg:    MsgNotEligible,
		},
		{
			name:       "malformed manifest",
			capability: EnabledCapability("goja test"),
			entries:    map[string]string{"package.json": `{"engines":`, "node_modules/": ""},
			wantKind:   KindMalformed,
			wantMsg:    "invalid package.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			archive := loadertest.WriteArchive(t, filepath.Join(dir, "app.zip"), tt.entries)
			l, err := loader.NewIsolating(archive)
			if err != nil {
				t.Fatal(err)
			}
			defer l.Close()

			f, _ := newTestFactory(t, tt.capability)
			_, err = f.Resolve(t.Context(), "nodejs:app.zip", container.DeploymentOptions{Isolated: true}, l)
			if !IsKind(err, tt.wantKind) {
				t.Fatalf("Resolve() error = %v, want kind %s", err, tt.wantKind)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should contain %q", err, tt.wantMsg)
			}
			if tt.wantKind == KindMalformed && !errors.Is(err, ErrMalformedManifest) {
				t.Error("malformed error should wrap ErrMalformedManifest")
			}
			if _, err := os.Stat(filepath.Join(dir, "app")); !os.IsNotExist(err) {
				t.Error("failed resolution must not extract")
			}
		})
	}
}

func TestResolveDirectoryRoot(t *testing.T) {
	ctx := t.Context()
	root := t.TempDir()
	files := map[string]string{
		"package.json":             `{"name":"dir-app"}`,
		"main.js":                  `var greeting = require("greeting"); if (greeting !== "hi") { throw new Error(greeting); }`,
		"node_modules/greeting.js": `module.exports = "hi";`,
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	l, err := loader.NewIsolating(root)
	if err != nil {
		t.Fatal(err)
	}

	f, _ := newTestFactory(t, EnabledCapability("goja test"))
	if _, err := f.Resolve(ctx, "nodejs:main.js", container.DeploymentOptions{Isolated: true}, l); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	comp, err := f.Create(ctx, "main.js", l)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	c := comp.(*Component)
	if c.Dir() != root {
		t.Errorf("Dir() = %q, want %q", c.Dir(), root)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if status := waitStatus(t, c); !status.OK() {
		t.Errorf("script status = %v, want clean exit", status)
	}
	_ = c.Stop(ctx)
}

func TestCreateFailures(t *testing.T) {
	dir := t.TempDir()
	archive := loadertest.WriteArchive(t, filepath.Join(dir, "app.zip"), map[string]string{
		"package.json": `{"engines":{"node":"*"},"main":"missing.js"}`,
		"broken.js":    "function (",
		"extra.js":     "1;",
	})
	l, err := loader.NewIsolating(archive)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	f, _ := newTestFactory(t, EnabledCapability("goja test"))
	ctx := t.Context()
	if _, err := f.Resolve(ctx, "nodejs:app.zip", container.DeploymentOptions{Isolated: true}, l); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "app", "extra.js")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		id       string
		wantKind ErrorKind
	}{
		{name: "main entry missing", id: "app.zip", wantKind: KindNotFound},
		{name: "extracted copy missing", id: "extra.js", wantKind: KindIO},
		{name: "script missing", id: "nodejs:other.js", wantKind: KindNotFound},
		{name: "compile error", id: "broken.js", wantKind: KindExecution},
		{name: "empty name", id: "nodejs:", wantKind: KindConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Create(ctx, tt.id, l)
			if !IsKind(err, tt.wantKind) {
				t.Errorf("Create(%q) error = %v, want kind %s", tt.id, err, tt.wantKind)
			}
		})
	}
}

func createComponent(t *testing.T, script string) *Component {
	t.Helper()
	dir := t.TempDir()
	archive := writeHTTPServer(t, dir, script)
	l, err := loader.NewIsolating(archive)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	f, _ := newTestFactory(t, EnabledCapability("goja test"))
	ctx := t.Context()
	if _, err := f.Resolve(ctx, "nodejs:http-server.zip", container.DeploymentOptions{Isolated: true}, l); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	comp, err := f.Create(ctx, "http-server.zip", l)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return comp.(*Component)
}

func TestComponentLifecycle(t *testing.T) {
	t.Run("exception is reported as fault", func(t *testing.T) {
		c := createComponent(t, `throw new Error("listen EADDRINUSE");`)
		rec := newFaultRecorder()
		c.SetFaultReporter("dep-1", rec)

		if err := c.Start(t.Context()); err != nil {
			t.Fatalf("Start() should not surface execution faults, got %v", err)
		}
		fault := rec.wait(t)
		if fault.ExitCode != interp.ExitCodeFailure || fault.Cause == nil {
			t.Errorf("fault = %+v, want exit 1 with cause", fault)
		}
		if !strings.Contains(fault.Cause.Error(), "EADDRINUSE") {
			t.Errorf("cause = %v", fault.Cause)
		}
		if err := c.Stop(t.Context()); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})

	t.Run("process exit code is reported", func(t *testing.T) {
		c := createComponent(t, `process.exit(3);`)
		rec := newFaultRecorder()
		c.SetFaultReporter("dep-2", rec)

		if err := c.Start(t.Context()); err != nil {
			t.Fatal(err)
		}
		fault := rec.wait(t)
		if fault.ExitCode != 3 || fault.Cause != nil {
			t.Errorf("fault = %+v, want exit 3 without cause", fault)
		}
		_ = c.Stop(t.Context())
	})

	t.Run("stop terminates running script", func(t *testing.T) {
		c := createComponent(t, `setInterval(function () {}, 5);`)
		rec := newFaultRecorder()
		c.SetFaultReporter("dep-3", rec)

		if err := c.Start(t.Context()); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
		if err := c.Stop(t.Context()); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
		if status := waitStatus(t, c); status.ExitCode != interp.ExitCodeTerminated {
			t.Errorf("status = %v, want exit %d", status, interp.ExitCodeTerminated)
		}
		if rec.count() != 0 {
			t.Errorf("stopped component reported %d faults", rec.count())
		}
	})

	t.Run("stop without start", func(t *testing.T) {
		c := createComponent(t, `1;`)
		if err := c.Stop(t.Context()); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
		if err := c.Stop(t.Context()); err != nil {
			t.Errorf("second Stop() error = %v", err)
		}
		if err := c.Start(t.Context()); err == nil {
			t.Error("Start() after Stop() should fail")
		}
		if _, err := c.Wait(t.Context()); err == nil {
			t.Error("Wait() on a component never started should fail")
		}
	})

	t.Run("start twice", func(t *testing.T) {
		c := createComponent(t, `1;`)
		if err := c.Start(t.Context()); err != nil {
			t.Fatal(err)
		}
		if err := c.Start(t.Context()); err == nil {
			t.Error("second Start() should fail")
		}
		waitStatus(t, c)
		_ = c.Stop(t.Context())
	})
}

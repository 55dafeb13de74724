package jsfactory

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/scripthost/pkg/container"
	"github.com/openfroyo/scripthost/pkg/loader"
	"github.com/openfroyo/scripthost/pkg/loader/loadertest"
)

type reporter struct {
	once sync.Once
	ch   chan container.Fault
}

func (r *reporter) ReportFault(_ string, f container.Fault) {
	r.once.Do(func() { r.ch <- f })
}

func TestFactory(t *testing.T) {
	ctx := t.Context()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "main.js"), []byte(`process.exit(7);`), 0o644); err != nil {
		t.Fatal(err)
	}
	archive := loadertest.WriteArchive(t, filepath.Join(t.TempDir(), "bundle.zip"), map[string]string{
		"packed.js": "1;",
	})

	l, err := loader.NewShared(root, archive)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	f := New("", DefaultOrder, nil, nil)
	if f.Prefix() != "js" || f.Order() != 0 || f.RequiresResolve() {
		t.Fatalf("unexpected defaults: %s %d %v", f.Prefix(), f.Order(), f.RequiresResolve())
	}

	t.Run("runs script from directory root", func(t *testing.T) {
		comp, err := f.Create(ctx, "js:main.js", l)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		r := &reporter{ch: make(chan container.Fault, 1)}
		comp.(container.FaultAware).SetFaultReporter("dep", r)
		if err := comp.Start(ctx); err != nil {
			t.Fatal(err)
		}

		select {
		case fault := <-r.ch:
			if fault.ExitCode != 7 {
				t.Errorf("ExitCode = %d, want 7", fault.ExitCode)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("script did not finish")
		}
		if err := comp.Stop(context.Background()); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})

	t.Run("rejects scripts inside archives", func(t *testing.T) {
		if _, err := f.Create(ctx, "packed.js", l); err == nil {
			t.Error("Create() should reject archive entries")
		}
	})

	t.Run("missing script", func(t *testing.T) {
		if _, err := f.Create(ctx, "absent.js", l); err == nil {
			t.Error("Create() should fail for a missing script")
		}
	})
}

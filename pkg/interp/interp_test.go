package interp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runScript(t *testing.T, dir, file string) Status {
	t.Helper()

	env, err := NewGojaEngine().NewEnvironment(EnvironmentOptions{Dir: dir})
	if err != nil {
		t.Fatalf("Failed to create environment: %v", err)
	}
	script, err := env.CreateScript("test", file, []string{"--flag"})
	if err != nil {
		t.Fatalf("Failed to create script: %v", err)
	}
	defer script.Close()

	future, err := script.Execute()
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, err := future.Wait(ctx)
	if err != nil {
		t.Fatalf("Script did not complete: %v", err)
	}
	return status
}

func TestGojaScriptExecution(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		dir := t.TempDir()
		file := writeScript(t, dir, "main.js", `var x = 1 + 1; if (x !== 2) { throw new Error("math"); }`)
		status := runScript(t, dir, file)
		if !status.OK() {
			t.Errorf("Expected clean exit, got %v", status)
		}
	})

	t.Run("Exception", func(t *testing.T) {
		dir := t.TempDir()
		file := writeScript(t, dir, "main.js", `throw new Error("boom");`)
		status := runScript(t, dir, file)
		if status.ExitCode != ExitCodeFailure || !status.HasCause() {
			t.Fatalf("Expected failure with cause, got %v", status)
		}
		if !strings.Contains(status.Cause.Error(), "boom") {
			t.Errorf("Expected cause to mention boom, got %v", status.Cause)
		}
	})

	t.Run("ProcessExit", func(t *testing.T) {
		dir := t.TempDir()
		file := writeScript(t, dir, "main.js", `process.exit(3); throw new Error("unreachable");`)
		status := runScript(t, dir, file)
		if status.ExitCode != 3 || status.HasCause() {
			t.Errorf("Expected exit 3 without cause, got %v", status)
		}
	})

	t.Run("ProcessArgv", func(t *testing.T) {
		dir := t.TempDir()
		file := writeScript(t, dir, "main.js", `if (process.argv[2] !== "--flag") { throw new Error("argv " + process.argv); }`)
		status := runScript(t, dir, file)
		if !status.OK() {
			t.Errorf("Expected clean exit, got %v", status)
		}
	})

	t.Run("RequireRelative", func(t *testing.T) {
		dir := t.TempDir()
		writeScript(t, dir, "lib/answer.js", `module.exports = 42;`)
		file := writeScript(t, dir, "main.js", `var a = require("./lib/answer.js"); if (a !== 42) { throw new Error("got " + a); }`)
		status := runScript(t, dir, file)
		if !status.OK() {
			t.Errorf("Expected clean exit, got %v", status)
		}
	})

	t.Run("RequireNodeModules", func(t *testing.T) {
		dir := t.TempDir()
		writeScript(t, dir, "node_modules/greeting/index.js", `module.exports = function () { return "hi"; };`)
		file := writeScript(t, dir, "main.js", `if (require("greeting")() !== "hi") { throw new Error("bad module"); }`)
		status := runScript(t, dir, file)
		if !status.OK() {
			t.Errorf("Expected clean exit, got %v", status)
		}
	})

	t.Run("Shebang", func(t *testing.T) {
		dir := t.TempDir()
		file := writeScript(t, dir, "main.js", "#!/usr/bin/env node\nvar ok = true;\n")
		status := runScript(t, dir, file)
		if !status.OK() {
			t.Errorf("Expected clean exit, got %v", status)
		}
	})
}

func TestGojaCompileError(t *testing.T) {
	dir := t.TempDir()
	file := writeScript(t, dir, "main.js", `function (`)

	env, err := NewGojaEngine().NewEnvironment(EnvironmentOptions{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.CreateScript("bad", file, nil); err == nil {
		t.Error("Expected compile error")
	}
	if _, err := env.CreateScript("missing", filepath.Join(dir, "missing.js"), nil); err == nil {
		t.Error("Expected read error")
	}
}

func TestGojaScriptLifecycle(t *testing.T) {
	dir := t.TempDir()
	file := writeScript(t, dir, "main.js", `var done = true;`)

	env, err := NewGojaEngine().NewEnvironment(EnvironmentOptions{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("CloseBeforeExecute", func(t *testing.T) {
		script, err := env.CreateScript("a", file, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := script.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := script.Close(); err != nil {
			t.Errorf("Second Close failed: %v", err)
		}
		if _, err := script.Execute(); !errors.Is(err, ErrClosed) {
			t.Errorf("Expected ErrClosed, got %v", err)
		}
	})

	t.Run("ExecuteTwice", func(t *testing.T) {
		script, err := env.CreateScript("b", file, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer script.Close()
		future, err := script.Execute()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := script.Execute(); !errors.Is(err, ErrAlreadyExecuted) {
			t.Errorf("Expected ErrAlreadyExecuted, got %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := future.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	})
}

func TestExecutionFutureListener(t *testing.T) {
	t.Run("BeforeCompletion", func(t *testing.T) {
		f := NewExecutionFuture(nil)
		var calls atomic.Int32
		f.SetListener(func(_ Script, st Status) {
			if st.ExitCode != 7 {
				t.Errorf("Expected exit 7, got %v", st)
			}
			calls.Add(1)
		})
		f.Complete(Status{ExitCode: 7})
		f.Complete(Status{ExitCode: 9})
		if calls.Load() != 1 {
			t.Errorf("Expected one listener call, got %d", calls.Load())
		}
	})

	t.Run("AfterCompletion", func(t *testing.T) {
		f := NewExecutionFuture(nil)
		f.Complete(Status{ExitCode: 0})
		var called bool
		f.SetListener(func(_ Script, _ Status) { called = true })
		if !called {
			t.Error("Expected listener to run immediately")
		}
		select {
		case <-f.Done():
		default:
			t.Error("Expected Done to be closed")
		}
	})
}

func TestGojaImplementationVersion(t *testing.T) {
	v, err := NewGojaEngine().ImplementationVersion()
	if err != nil {
		t.Fatalf("ImplementationVersion failed: %v", err)
	}
	if !strings.HasPrefix(v, "goja ") {
		t.Errorf("Expected goja prefix, got %q", v)
	}
}

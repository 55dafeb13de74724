package interp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
)

// GojaModule is the module path of the interpreter core.
const GojaModule = "github.com/dop251/goja"

// GojaNodeModule is the module path of the node compatibility layer.
const GojaNodeModule = "github.com/dop251/goja_nodejs"

// GojaEngine runs scripts on goja with the goja_nodejs event loop.
type GojaEngine struct{}

// NewGojaEngine creates the goja engine.
func NewGojaEngine() *GojaEngine {
	return &GojaEngine{}
}

// Name implements Engine.
func (e *GojaEngine) Name() string {
	return "goja"
}

// ImplementationVersion implements Engine. The version is read from the
// linked module and reported as "goja <version>".
func (e *GojaEngine) ImplementationVersion() (string, error) {
	vm := goja.New()
	v, err := vm.RunString(`typeof Object.keys`)
	if err != nil {
		return "", fmt.Errorf("failed to evaluate in throwaway context: %w", err)
	}
	if v.String() != "function" {
		return "", fmt.Errorf("throwaway context is missing builtins")
	}

	return "goja " + ModuleVersion(GojaModule), nil
}

// NewEnvironment implements Engine.
func (e *GojaEngine) NewEnvironment(opts EnvironmentOptions) (Environment, error) {
	var folders []string
	if opts.Dir != "" {
		abs, err := filepath.Abs(opts.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve project dir: %w", err)
		}
		opts.Dir = abs
		folders = append(folders, filepath.Join(abs, "node_modules"))
	}

	return &gojaEnvironment{
		opts:     opts,
		registry: require.NewRegistry(require.WithGlobalFolders(folders...)),
	}, nil
}

// ModuleVersion returns the version of a linked module, "(devel)" when the
// build carries no module information for it.
func ModuleVersion(path string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "(devel)"
	}
	for _, dep := range info.Deps {
		if dep.Path == path {
			if dep.Replace != nil && dep.Replace.Version != "" {
				return dep.Replace.Version
			}
			return dep.Version
		}
	}
	return "(devel)"
}

type gojaEnvironment struct {
	opts     EnvironmentOptions
	registry *require.Registry
}

// CreateScript implements Environment.
func (e *gojaEnvironment) CreateScript(name, file string, args []string) (Script, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve script path: %w", err)
	}

	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", abs, err)
	}

	prog, err := goja.Compile(abs, stripShebang(string(src)), false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script %s: %w", abs, err)
	}

	return &gojaScript{
		name: name,
		file: abs,
		args: args,
		env:  e,
		prog: prog,
	}, nil
}

type gojaScript struct {
	name string
	file string
	args []string
	env  *gojaEnvironment
	prog *goja.Program

	mu       sync.Mutex
	loop     *eventloop.EventLoop
	vm       *goja.Runtime
	future   *ExecutionFuture
	executed bool
	closed   bool
	exitCode *int
}

// exitSignal interrupts the runtime when the script calls process.exit.
type exitSignal struct {
	code int
}

// closeSignal interrupts the runtime when the script is closed.
type closeSignal struct{}

func (s *gojaScript) Name() string {
	return s.name
}

// Execute implements Script.
func (s *gojaScript) Execute() (Future, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.executed {
		return nil, ErrAlreadyExecuted
	}
	s.executed = true

	s.loop = eventloop.NewEventLoop(eventloop.WithRegistry(s.env.registry))
	s.future = NewExecutionFuture(s)

	go s.run()

	return s.future, nil
}

func (s *gojaScript) run() {
	var runErr error
	s.loop.Run(func(vm *goja.Runtime) {
		s.mu.Lock()
		s.vm = vm
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		if err := s.installProcess(vm); err != nil {
			runErr = err
			return
		}
		_, runErr = vm.RunProgram(s.prog)
	})

	s.future.Complete(s.status(runErr))
}

func (s *gojaScript) status(runErr error) Status {
	s.mu.Lock()
	exitCode := s.exitCode
	closed := s.closed
	s.mu.Unlock()

	if exitCode != nil {
		return Status{ExitCode: *exitCode}
	}

	var interrupted *goja.InterruptedError
	switch {
	case runErr == nil && closed:
		return Status{ExitCode: ExitCodeTerminated}
	case runErr == nil:
		return Status{ExitCode: ExitCodeSuccess}
	case errors.As(runErr, &interrupted):
		if sig, ok := interrupted.Value().(exitSignal); ok {
			return Status{ExitCode: sig.code}
		}
		return Status{ExitCode: ExitCodeTerminated}
	default:
		return Status{ExitCode: ExitCodeFailure, Cause: runErr}
	}
}

// installProcess exposes a minimal process object: argv, env, cwd and exit.
func (s *gojaScript) installProcess(vm *goja.Runtime) error {
	process := vm.NewObject()

	argv := append([]string{"node", s.file}, s.args...)
	if err := process.Set("argv", argv); err != nil {
		return err
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for k, v := range s.env.opts.Env {
		env[k] = v
	}
	if err := process.Set("env", env); err != nil {
		return err
	}

	dir := s.env.opts.Dir
	if dir == "" {
		dir = filepath.Dir(s.file)
	}
	if err := process.Set("cwd", func() string { return dir }); err != nil {
		return err
	}

	if err := process.Set("exit", func(call goja.FunctionCall) goja.Value {
		code := 0
		if len(call.Arguments) > 0 {
			code = int(call.Argument(0).ToInteger())
		}
		s.mu.Lock()
		s.exitCode = &code
		loop := s.loop
		s.mu.Unlock()
		vm.Interrupt(exitSignal{code: code})
		loop.StopNoWait()
		return goja.Undefined()
	}); err != nil {
		return err
	}

	return vm.Set("process", process)
}

// Close implements Script.
func (s *gojaScript) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	vm := s.vm
	loop := s.loop
	s.mu.Unlock()

	if vm != nil {
		vm.Interrupt(closeSignal{})
	}
	if loop != nil {
		loop.StopNoWait()
	}
	return nil
}

func stripShebang(src string) string {
	if strings.HasPrefix(src, "#!") {
		if i := strings.IndexByte(src, '\n'); i >= 0 {
			return "//" + src[2:i] + src[i:]
		}
		return ""
	}
	return src
}

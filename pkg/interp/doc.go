// Package interp defines the boundary between the component host and an
// embedded script interpreter, and provides the goja-backed implementation.
//
// The lifecycle of one hosted script is:
//
//	env, _ := engine.NewEnvironment(interp.EnvironmentOptions{Dir: projectDir})
//	script, _ := env.CreateScript("server", "/path/server.js", nil)
//	future, _ := script.Execute()
//	future.SetListener(func(s interp.Script, st interp.Status) { ... })
//	...
//	script.Close()
//
// A Script is compiled when it is created and runs on its own goroutine when
// executed. Close terminates the interpreter instance backing it; it does not
// wait for the running program to unwind.
package interp

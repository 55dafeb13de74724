// Package container hosts components behind a two-phase deployment protocol.
//
// A deployment identifier has the form "prefix:name". Factories register
// under a prefix; when several share one, they are consulted in ascending
// Order. A factory that requires resolution is asked to Resolve the
// identifier first and may touch the filesystem while doing so. The first
// factory whose resolution succeeds creates the component, which is then
// started.
//
// Components report faults that happen after Start has returned through the
// FaultReporter handed to them, so a script that dies after deployment still
// shows up in the deployment's health.
package container

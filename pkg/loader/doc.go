// Package loader resolves classpath-style resource names against an ordered
// list of roots. A root is either a zip archive or a directory on disk.
//
// Lookups walk the roots in order and return the first match. A missing
// resource is a normal outcome and is reported with ok=false, never as an
// error.
//
// A loader is either isolating or shared. Isolating loaders are created per
// deployment and never hand their roots to another component, which is what
// embedded script interpreters need to run side by side.
package loader

// Package stores persists script host deployments and component events in
// SQLite. The schema is managed with embedded golang-migrate migrations.
//
// SQLiteStore implements container.Recorder, so a container can write
// deployment health straight into the store, and EventSubscriber adapts it
// to the telemetry event publisher.
package stores

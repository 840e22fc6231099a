// Package internal documents the eventbook server internals.
//
// The internal tree is organized by responsibility:
// - api: HTTP handlers, middleware, public pages, and routing
// - domain: users, events, and bookings with their state machines
// - storage: Postgres repositories and migrations (pgx)
// - jobs: River workers for notifications and the expiry sweep
// - auth, audit, tickets, config, metrics, telemetry: shared infrastructure
// - testauth, loadtest: local tooling, never linked into the server
//
// Code in internal/ is not meant for external import.
package internal

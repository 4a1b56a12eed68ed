// Package app bootstraps the long-running qguard service.
//
// NewApplication loads configuration (dot-env file, config.yaml and QGUARD_*
// overrides), initializes logging and wires the services:
//
//   - the execution store (PostgreSQL when database.url is set, in-memory otherwise)
//   - the optional Redis dispatch lock
//   - the optional MinIO report archiver
//   - the runner, executor and recurrence scheduler
//   - the trigger API server
//
// Run starts the scheduler and the server and blocks until the context is
// cancelled or SIGINT/SIGTERM arrives, then shuts everything down.
package app

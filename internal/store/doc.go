// Package store persists execution records and environments.
//
// An execution record moves through the lifecycle
//
//	pending -> running -> passed | failed | error | cancelled
//
// and never leaves a terminal state. Two implementations are provided: an
// in-memory store used by tests and single-process deployments, and a
// PostgreSQL store backed by pgxpool.
package store

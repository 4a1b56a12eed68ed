// Package logging provides subsystem-tagged structured logging for qguard.
//
// The package wraps Go's standard slog package behind a small set of
// printf-style helpers. Every entry carries a "subsystem" attribute so that
// output from the resolver, runner, scheduler and stores can be filtered
// independently.
//
// # Usage
//
//	logging.Init(logging.LevelInfo, logging.FormatJSON, os.Stderr)
//
//	logging.Info("Scheduler", "found %d pending runs", n)
//	logging.Debug("Resolver", "resolved path %s", path)
//	logging.Warn("Extractor", "extractor %q has no path", name)
//	logging.Error("Store", err, "failed to complete run %s", id)
//
// # Levels
//
//   - Debug: detailed tracing of resolution and evaluation
//   - Info: lifecycle events (runs started/finished, scheduler ticks)
//   - Warn: recoverable anomalies (skipped records, failed archiving)
//   - Error: failures that abort a single operation
//
// Messages logged before Init or InitForCLI are dropped. The logger is safe
// for concurrent use.
//
// Process logs are not the run transcript: the transcript persisted with an
// execution record is produced by the runner package.
package logging

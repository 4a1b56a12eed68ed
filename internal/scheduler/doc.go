// Package scheduler polls pending scheduled executions, dispatches the ones
// that are due and spawns the successor record of each recurring run.
//
// The poll loop is driven by robfig/cron with a fixed "@every" schedule and
// never blocks on in-flight executions: each due record is claimed and then
// run on its own goroutine. A record's lifecycle is
//
//	pending -> running -> passed | failed | error
//	pending -> cancelled            (time_range window closed)
//
// Optionally, a Redis lock per record keeps several replicas from claiming
// the same record at the same time.
package scheduler

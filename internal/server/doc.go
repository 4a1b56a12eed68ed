// Package server exposes the trigger API over HTTP using gin.
//
// Routes:
//
//	GET  /healthz                         liveness probe
//	GET  /api/v1/executions/:id           stored execution record
//	POST /api/v1/executions/:id/run       claim a pending record and run it now
//	POST /api/v1/runs                     run an ad hoc configuration, nothing is stored
//
// Running a stored record on demand does not spawn a successor; recurrence
// is owned by the scheduler.
package server

package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"qguard/pkg/logging"
)

// ShutdownTimeout bounds how long in-flight executions and requests may
// take to finish once shutdown begins.
var ShutdownTimeout = 30 * time.Second

// runService starts the scheduler and the server, waits for ctx, a
// termination signal or a server failure, and then shuts down.
func runService(ctx context.Context, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer services.Close()

	if services.Scheduler != nil {
		// Executions outlive the signal; Stop decides when to cancel them.
		if err := services.Scheduler.Start(context.WithoutCancel(ctx)); err != nil {
			return err
		}
	}

	serveErr, err := services.Server.Start()
	if err != nil {
		shutdownScheduler(services)
		return err
	}

	logging.Info("Service", "qguard is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info("Service", "Shutting down")
	case err, ok := <-serveErr:
		if ok && err != nil {
			logging.Error("Service", err, "Server stopped unexpectedly")
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	var errs []error
	if err := services.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if services.Scheduler != nil {
		if err := services.Scheduler.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
		}
	}
	if len(errs) > 0 {
		logging.Warn("Service", "Shutdown incomplete: %v", errors.Join(errs...))
	}
	return runErr
}

func shutdownScheduler(services *Services) {
	if services.Scheduler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := services.Scheduler.Stop(ctx); err != nil {
		logging.Warn("Service", "Scheduler shutdown: %v", err)
	}
}

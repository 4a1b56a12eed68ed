package app

import (
	"context"
	"fmt"

	"qguard/internal/config"
	"qguard/internal/execution"
	"qguard/internal/report"
	"qguard/internal/runner"
	"qguard/internal/scheduler"
	"qguard/internal/server"
	"qguard/internal/store"
	"qguard/internal/transport"
	"qguard/pkg/logging"
)

// Services holds everything the service mode runs.
type Services struct {
	Store    store.Store
	Executor *execution.Executor
	// Scheduler is nil when scheduler.enabled is false.
	Scheduler *scheduler.Scheduler
	Server    *server.Server

	closers []func()
}

// Close releases external connections in reverse order of creation.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// InitializeServices connects to the configured backends and wires the
// runner, executor, scheduler and server. On error everything opened so
// far is closed again.
func InitializeServices(ctx context.Context, cfg config.Config) (_ *Services, err error) {
	svc := &Services{}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	svc.Store = st
	svc.closers = append(svc.closers, st.Close)

	var opts []execution.Option
	if cfg.MinIO.Endpoint != "" {
		archiver, err := openArchiver(ctx, cfg.MinIO)
		if err != nil {
			return nil, err
		}
		opts = append(opts, execution.WithArchiver(archiver))
	}

	r := runner.New(transport.NewClient(cfg.Runner.Timeout), runner.Options{
		ConcurrencyThreshold: cfg.Runner.ConcurrencyThreshold,
		MaxWorkers:           cfg.Runner.MaxWorkers,
		ProgressPercent:      cfg.Runner.ProgressPercent,
	})
	svc.Executor = execution.NewExecutor(st, execution.NewBuilder(st), r, opts...)

	if cfg.Scheduler.Enabled {
		sched, err := newScheduler(ctx, cfg, svc)
		if err != nil {
			return nil, err
		}
		svc.Scheduler = sched
	} else {
		logging.Info("Bootstrap", "Scheduler disabled")
	}

	svc.Server = server.New(st, svc.Executor, server.Options{ListenAddr: cfg.Server.ListenAddr})
	return svc, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	if cfg.URL == "" {
		logging.Warn("Bootstrap", "No database configured, executions are kept in memory only")
		return store.NewMemory(nil), nil
	}
	pg, err := store.OpenPostgres(ctx, cfg.URL, store.PostgresOptions{
		MaxConns:    cfg.MaxConns,
		PingTimeout: cfg.PingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return pg, nil
}

func openArchiver(ctx context.Context, cfg config.MinIOConfig) (*report.Archiver, error) {
	client, err := report.NewMinIOClient(report.MinIOConfig{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		UseSSL:    cfg.UseSSL,
		Prefix:    cfg.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	archiver := report.NewArchiver(client, cfg.Bucket, cfg.Prefix)
	if err := archiver.EnsureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	logging.Info("Bootstrap", "Archiving reports to %s/%s", cfg.Bucket, cfg.Prefix)
	return archiver, nil
}

func newScheduler(ctx context.Context, cfg config.Config, svc *Services) (*scheduler.Scheduler, error) {
	loc, err := cfg.Scheduler.LoadLocation()
	if err != nil {
		return nil, err
	}
	opts := scheduler.Options{
		Interval: cfg.Scheduler.PollInterval,
		Location: loc,
		LockTTL:  cfg.Scheduler.LockTTL,
	}
	if cfg.Redis.Addr != "" {
		client, err := scheduler.ConnectRedis(ctx, scheduler.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, func() { _ = client.Close() })
		opts.Locker = scheduler.NewRedisLocker(client, cfg.Redis.LockPrefix)
	}
	return scheduler.New(svc.Store, svc.Executor, opts), nil
}

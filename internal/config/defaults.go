package config

import "time"

const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 10 * time.Minute
	DefaultLockTTL      = time.Minute
	DefaultListenAddr   = "localhost:8090"
	DefaultLockPrefix   = "qguard:dispatch:"
	DefaultReportPrefix = "reports"
)

// GetDefaultConfig returns the configuration used when nothing is set.
func GetDefaultConfig() Config {
	return Config{
		Runner: RunnerConfig{
			Timeout:              DefaultTimeout,
			ConcurrencyThreshold: 10,
			MaxWorkers:           20,
			ProgressPercent:      5,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			PollInterval: DefaultPollInterval,
			Location:     "Local",
			LockTTL:      DefaultLockTTL,
		},
		Database: DatabaseConfig{
			PingTimeout: 5 * time.Second,
			MaxConns:    10,
			Migrate:     true,
		},
		Redis: RedisConfig{
			LockPrefix: DefaultLockPrefix,
		},
		MinIO: MinIOConfig{
			Region: "us-east-1",
			Prefix: DefaultReportPrefix,
		},
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

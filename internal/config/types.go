package config

import (
	"strings"
	"time"
)

// Config is the top-level configuration structure for qguard.
type Config struct {
	Runner    RunnerConfig    `yaml:"runner"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RunnerConfig tunes the execution orchestrator.
type RunnerConfig struct {
	Timeout              time.Duration `yaml:"timeout,omitempty"`               // HTTP timeout per request
	ConcurrencyThreshold int           `yaml:"concurrency_threshold,omitempty"` // rows above this run concurrently
	MaxWorkers           int           `yaml:"max_workers,omitempty"`
	ProgressPercent      int           `yaml:"progress_percent,omitempty"`
}

// SchedulerConfig tunes the recurrence scheduler.
type SchedulerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	// Location is an IANA zone name; empty or "Local" means the host zone.
	Location string        `yaml:"location,omitempty"`
	LockTTL  time.Duration `yaml:"lock_ttl,omitempty"`
}

// LoadLocation resolves Location.
func (s SchedulerConfig) LoadLocation() (*time.Location, error) {
	if s.Location == "" || strings.EqualFold(s.Location, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(s.Location)
}

// DatabaseConfig selects the PostgreSQL store. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL         string        `yaml:"url,omitempty"`
	PingTimeout time.Duration `yaml:"ping_timeout,omitempty"`
	MaxConns    int32         `yaml:"max_conns,omitempty"`
	Migrate     bool          `yaml:"migrate"`
}

// RedisConfig enables the distributed dispatch lock when Addr is set.
type RedisConfig struct {
	Addr       string `yaml:"addr,omitempty"`
	Password   string `yaml:"password,omitempty"`
	DB         int    `yaml:"db,omitempty"`
	LockPrefix string `yaml:"lock_prefix,omitempty"`
}

// MinIOConfig enables report archiving when Endpoint is set.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	Region    string `yaml:"region,omitempty"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix,omitempty"`
}

// ServerConfig configures the trigger API.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn or error
	Format string `yaml:"format,omitempty"` // text or json
}

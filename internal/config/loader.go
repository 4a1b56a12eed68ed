package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"qguard/pkg/logging"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/qguard"
	configFileName = "config.yaml"
	envPrefix      = "QGUARD_"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// GetDefaultConfigPath returns ~/.config/qguard.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadDotEnv loads path into the process environment. Variables that are
// already set keep their values; a missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	logging.Debug("ConfigLoader", "Loaded environment from %s", path)
	return nil
}

// LoadConfig loads config.yaml from configPath and applies QGUARD_*
// overrides from the process environment.
func LoadConfig(configPath string) (Config, error) {
	return LoadConfigWithEnv(configPath, os.LookupEnv)
}

// LoadConfigWithEnv is LoadConfig with an explicit environment lookup.
func LoadConfigWithEnv(configPath string, lookup func(string) (string, bool)) (Config, error) {
	config := GetDefaultConfig()

	configFilePath := filepath.Join(configPath, configFileName)
	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, fmt.Errorf("read %s: %w", configFilePath, err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	if err := applyEnv(&config, lookup); err != nil {
		return Config{}, err
	}
	return config, nil
}

type envBinding struct {
	name string
	set  func(c *Config, v string) error
}

func str(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func duration(dst func(c *Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func integer(dst func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolean(dst func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

var envBindings = []envBinding{
	{"RUNNER_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Runner.Timeout })},
	{"MAX_WORKERS", integer(func(c *Config) *int { return &c.Runner.MaxWorkers })},
	{"SCHEDULER_ENABLED", boolean(func(c *Config) *bool { return &c.Scheduler.Enabled })},
	{"POLL_INTERVAL", duration(func(c *Config) *time.Duration { return &c.Scheduler.PollInterval })},
	{"SCHEDULER_LOCATION", str(func(c *Config) *string { return &c.Scheduler.Location })},
	{"DATABASE_URL", str(func(c *Config) *string { return &c.Database.URL })},
	{"REDIS_ADDR", str(func(c *Config) *string { return &c.Redis.Addr })},
	{"REDIS_PASSWORD", str(func(c *Config) *string { return &c.Redis.Password })},
	{"REDIS_DB", integer(func(c *Config) *int { return &c.Redis.DB })},
	{"MINIO_ENDPOINT", str(func(c *Config) *string { return &c.MinIO.Endpoint })},
	{"MINIO_ACCESS_KEY", str(func(c *Config) *string { return &c.MinIO.AccessKey })},
	{"MINIO_SECRET_KEY", str(func(c *Config) *string { return &c.MinIO.SecretKey })},
	{"MINIO_BUCKET", str(func(c *Config) *string { return &c.MinIO.Bucket })},
	{"MINIO_USE_SSL", boolean(func(c *Config) *bool { return &c.MinIO.UseSSL })},
	{"LISTEN_ADDR", str(func(c *Config) *string { return &c.Server.ListenAddr })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Logging.Format })},
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	var errs ValidationErrors
	for _, b := range envBindings {
		name := envPrefix + b.name
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(c, v); err != nil {
			errs.Add(name, fmt.Sprintf("invalid value: %v", err), v)
			continue
		}
		logging.Debug("ConfigLoader", "Applied %s from environment", name)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"qguard/internal/config"
	"qguard/pkg/logging"
)

const defaultEnvFile = ".env"

// Application is the bootstrapped qguard service.
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads configuration, initializes logging and wires all
// services. Connections to external systems are verified here, so a
// misconfigured database or bucket fails the bootstrap.
func NewApplication(ctx context.Context, cfg *Config) (*Application, error) {
	if cfg.QGuardConfig == nil {
		loaded, err := loadConfig(cfg)
		if err != nil {
			return nil, err
		}
		cfg.QGuardConfig = &loaded
	}
	if err := cfg.QGuardConfig.Validate(); err != nil {
		return nil, err
	}

	initLogging(cfg)

	services, err := InitializeServices(ctx, *cfg.QGuardConfig)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// Services exposes the wired services.
func (a *Application) Services() *Services {
	return a.services
}

// Run serves until ctx is cancelled or a termination signal arrives.
func (a *Application) Run(ctx context.Context) error {
	return runService(ctx, a.services)
}

func loadConfig(cfg *Config) (config.Config, error) {
	envFile := cfg.EnvFile
	if envFile == "" {
		envFile = defaultEnvFile
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, err
	}

	configPath := cfg.ConfigPath
	if configPath == "" {
		p, err := config.GetDefaultConfigPath()
		if err != nil {
			return config.Config{}, err
		}
		configPath = p
	}

	loaded, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load qguard configuration from %s: %w", configPath, err)
	}
	return loaded, nil
}

func initLogging(cfg *Config) {
	level, _ := logging.ParseLevel(cfg.QGuardConfig.Logging.Level)
	if cfg.Debug {
		level = logging.LevelDebug
	}

	var output io.Writer = os.Stdout
	if cfg.LogOutput != nil {
		output = cfg.LogOutput
	}
	if cfg.Silent {
		output = io.Discard
	}
	logging.Init(level, logging.Format(cfg.QGuardConfig.Logging.Format), output)
}

package cmd

import (
	"context"
	"fmt"

	"qguard/internal/app"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the trigger API",
		Long: `Starts the long-running qguard service.

The service opens the execution store (PostgreSQL when database.url is set,
otherwise an in-memory store), connects to Redis for the dispatch lock and
to MinIO for report archiving when those are configured, then starts the
recurrence scheduler and the HTTP trigger API.

Configuration is read from config.yaml in --config-path (default
~/.config/qguard). Variables from --env-file are loaded first, and QGUARD_*
environment variables override file values, for example:

  QGUARD_DATABASE_URL=postgres://qguard@localhost/qguard qguard serve

The service stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.NewConfig(debug, configPath)
			cfg.EnvFile = envFile
			cfg.LogOutput = cmd.OutOrStdout()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			application, err := app.NewApplication(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return application.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Dot-env file to load before reading configuration (default .env)")
	return cmd
}

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qguard/internal/config"
	"qguard/internal/execution"
	"qguard/internal/report"
	"qguard/internal/runner"
	"qguard/internal/store"
	"qguard/internal/transport"
	"qguard/pkg/logging"

	"github.com/briandowns/spinner"
	"github.com/buger/jsonparser"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

// RunFailedError is returned when a run completed with failed rows or was
// interrupted before every row ran.
type RunFailedError struct {
	Summary runner.Summary
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run failed: %d of %d rows failed, %d skipped",
		e.Summary.Failed, e.Summary.Total, e.Summary.Skipped)
}

type runOptions struct {
	caseFile string
	dataFile string
	baseURL  string
	env      string
	output   string
	verbose  bool
	quiet    bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run -f case.yaml [-d data.yaml]",
		Short: "Run a test case against its data rows",
		Long: `Runs a test case once, without persisting anything, and prints the result.

The case file is YAML or JSON. It either holds a full run configuration
(test_case, environment, base_url, data) or just the test case itself
(name, request, assertions, extractors, token_config). The data file holds
a list of data rows and replaces any rows from the case file.

With --env the named environment is loaded from the configured database and
contributes its base URL, default headers, default params and variables.

The exit code is 0 when every row passed, 2 when at least one row failed
and 1 on any other error.`,
		Example: `  qguard run -f login.yaml -d users.yaml --base-url https://api.example.com
  qguard run -f case.json --env staging -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCase(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.caseFile, "file", "f", "", "Test case file (YAML or JSON)")
	cmd.Flags().StringVarP(&opts.dataFile, "data", "d", "", "Data rows file (YAML or JSON list)")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Base URL, overrides the environment's")
	cmd.Flags().StringVar(&opts.env, "env", "", "Environment key to load from the database")
	cmd.Flags().StringVarP(&opts.output, "output", "o", string(report.FormatTable), "Output format: table or json")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print the run transcript to stderr")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not show the progress spinner")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runCase(cmd *cobra.Command, opts runOptions) error {
	format := report.Format(opts.output)
	if format != report.FormatTable && format != report.FormatJSON {
		return fmt.Errorf("unknown output format %q, expected table or json", opts.output)
	}

	runCfg, err := loadRunConfig(opts)
	if err != nil {
		return err
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	envs, closeEnvs, err := openEnvironments(ctx, settings.Database, runCfg.Environment)
	if err != nil {
		return err
	}
	defer closeEnvs()

	r := runner.New(transport.NewClient(settings.Runner.Timeout), runner.Options{
		ConcurrencyThreshold: settings.Runner.ConcurrencyThreshold,
		MaxWorkers:           settings.Runner.MaxWorkers,
		ProgressPercent:      settings.Runner.ProgressPercent,
	})
	executor := execution.NewExecutor(store.NewMemory(nil), execution.NewBuilder(envs), r)

	name := runCfg.TestCase.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(opts.caseFile), filepath.Ext(opts.caseFile))
	}

	var s *spinner.Spinner
	if format == report.FormatTable && !opts.quiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		s.Suffix = fmt.Sprintf(" Running %s (%d rows)...", name, max(len(runCfg.Data), 1))
		s.Start()
	}

	run, err := executor.RunConfig(ctx, name, runCfg)
	if s != nil {
		s.Stop()
	}
	if err != nil {
		return err
	}

	if opts.verbose {
		for _, line := range run.Transcript {
			fmt.Fprintln(cmd.ErrOrStderr(), line)
		}
	}

	if err := report.Write(cmd.OutOrStdout(), run, format); err != nil {
		return err
	}
	if run.Summary.Status != runner.ResultPassed || !run.Summary.Complete() {
		return &RunFailedError{Summary: run.Summary}
	}
	return nil
}

// loadRunConfig reads the case file and applies the data file and flag
// overrides.
func loadRunConfig(opts runOptions) (*execution.RunConfig, error) {
	raw, err := readYAMLAsJSON(opts.caseFile)
	if err != nil {
		return nil, err
	}
	if _, _, _, err := jsonparser.Get(raw, "test_case"); errors.Is(err, jsonparser.KeyPathNotFoundError) {
		raw, err = json.Marshal(map[string]json.RawMessage{"test_case": raw})
		if err != nil {
			return nil, err
		}
	}

	cfg, err := execution.ParseConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opts.caseFile, err)
	}
	if cfg.IsScheduled() {
		return nil, fmt.Errorf("%s: scheduling is handled by qguard serve, remove it to run once", opts.caseFile)
	}
	cfg.Scheduling = nil

	if opts.dataFile != "" {
		data, err := readYAMLAsJSON(opts.dataFile)
		if err != nil {
			return nil, err
		}
		var rows []runner.DataRow
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("%s: expected a list of data rows: %w", opts.dataFile, err)
		}
		cfg.Data = rows
	}
	if opts.baseURL != "" {
		cfg.BaseURL = opts.baseURL
	}
	if opts.env != "" {
		cfg.Environment = opts.env
	}
	if cfg.BaseURL == "" && cfg.Environment == "" {
		return nil, fmt.Errorf("no base URL: set base_url, --base-url or --env")
	}
	return cfg, nil
}

func readYAMLAsJSON(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	out, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

// loadSettings reads config.yaml for runner and database settings. A
// missing file yields the defaults.
func loadSettings() (config.Config, error) {
	dir := configPath
	if dir == "" {
		p, err := config.GetDefaultConfigPath()
		if err != nil {
			return config.Config{}, err
		}
		dir = p
	}
	if err := config.LoadDotEnv(".env"); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.LoadConfig(dir)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openEnvironments connects to the database only when an environment is
// needed.
func openEnvironments(ctx context.Context, db config.DatabaseConfig, env string) (store.Environments, func(), error) {
	noop := func() {}
	if env == "" {
		return nil, noop, nil
	}
	if db.URL == "" {
		return nil, noop, fmt.Errorf("environment %s requested but no database is configured (database.url or QGUARD_DATABASE_URL)", env)
	}
	pg, err := store.OpenPostgres(ctx, db.URL, store.PostgresOptions{
		MaxConns:    db.MaxConns,
		PingTimeout: db.PingTimeout,
	})
	if err != nil {
		return nil, noop, fmt.Errorf("failed to open database: %w", err)
	}
	logging.Debug("Run", "Loading environment %s from the database", env)
	return pg, pg.Close, nil
}

package cmd

import (
	"errors"
	"os"

	"qguard/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes returned by qguard.
const (
	// ExitCodeSuccess indicates the command completed and every row passed
	ExitCodeSuccess = 0
	// ExitCodeError indicates a usage, configuration or infrastructure error
	ExitCodeError = 1
	// ExitCodeRunFailed indicates the run completed but at least one row failed
	ExitCodeRunFailed = 2
)

var (
	configPath string
	debug      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "qguard",
	Short: "Data-driven API test runner and scheduler",
	Long: `qguard runs data-driven HTTP API test cases: every data row is sent as a
request, checked against assertions and may extract variables for the rows
that follow. Runs can be started from the command line, triggered over the
HTTP API, or scheduled (once, daily, weekly or within a time range) by the
long-running service.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.LevelWarn
		if debug {
			level = logging.LevelDebug
		}
		logging.InitForCLI(level, cmd.ErrOrStderr())
	},
}

// SetVersion sets the version reported by --version and the version command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the version set with SetVersion.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with the mapped exit code on error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "qguard version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	var runFailed *RunFailedError
	if errors.As(err, &runFailed) {
		return ExitCodeRunFailed
	}
	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Configuration directory containing config.yaml (default ~/.config/qguard)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
}

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"qguard/internal/runner"
)

func TestSetVersion(t *testing.T) {
	original := rootCmd.Version
	defer func() { rootCmd.Version = original }()

	SetVersion("1.2.3-test")
	if GetVersion() != "1.2.3-test" {
		t.Errorf("Expected version to be 1.2.3-test, got %s", GetVersion())
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "qguard" {
		t.Errorf("Expected Use to be 'qguard', got %s", rootCmd.Use)
	}
	if rootCmd.Short == "" || rootCmd.Long == "" {
		t.Error("Expected descriptions to be set")
	}
	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}
	for _, flag := range []string{"config-path", "debug"} {
		if rootCmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("Expected persistent flag --%s", flag)
		}
	}
}

func TestSubcommands(t *testing.T) {
	found := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		found[c.Name()] = true
	}
	for _, expected := range []string{"version", "run", "serve"} {
		if !found[expected] {
			t.Errorf("Expected subcommand %s to be registered", expected)
		}
	}
}

func TestVersionFlag(t *testing.T) {
	original := rootCmd.Version
	defer func() {
		rootCmd.Version = original
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	}()

	SetVersion("1.0.0")
	rootCmd.SetVersionTemplate(`{{printf "qguard version %s\n" .Version}}`)
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"--version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Error executing --version: %v", err)
	}
	if buf.String() != "qguard version 1.0.0\n" {
		t.Errorf("Unexpected version output %q", buf.String())
	}
}

func TestGetExitCode(t *testing.T) {
	failed := &RunFailedError{Summary: runner.Summary{Total: 2, Failed: 1}}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitCodeSuccess},
		{"plain error", errors.New("boom"), ExitCodeError},
		{"run failed", failed, ExitCodeRunFailed},
		{"wrapped run failed", fmt.Errorf("outer: %w", failed), ExitCodeRunFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getExitCode(tt.err); got != tt.want {
				t.Errorf("getExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRunFailedErrorMessage(t *testing.T) {
	err := &RunFailedError{Summary: runner.Summary{Total: 5, Failed: 2, Skipped: 1}}
	if err.Error() != "run failed: 2 of 5 rows failed, 1 skipped" {
		t.Errorf("Unexpected message %q", err.Error())
	}
}

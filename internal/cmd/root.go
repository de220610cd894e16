// Package cmd provides CLI commands for the chrysolite tool.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:     "chrysolite",
	Short:   "Drive interactive command-line programs",
	Version: Version,
	Long: `Chrysolite runs a command-line program as a child process and turns its
output into discrete messages, including prompts that never end in a newline.

Use "run" to drive a program from this terminal, or "serve" to expose it over
HTTP and WebSocket.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		// Commands that mirror a child's exit status signal it this way.
		if code, ok := IsSilentExit(err); ok {
			return code
		}
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (default warn for run, info otherwise)")
}

// setupLogging installs the process-wide slog handler. Logs go to stderr so
// they never mix with a driven program's stdout.
func setupLogging(cmd *cobra.Command, args []string) error {
	level := logLevel
	if level == "" {
		level = "info"
		if cmd.Name() == "run" {
			level = "warn"
		}
	}

	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

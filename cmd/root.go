package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/tempo-booker/internal/config"
	"github.com/Tiliavir/tempo-booker/internal/telemetry"
)

// version is set at build time with -ldflags "-X github.com/Tiliavir/tempo-booker/cmd.version=...".
var version = "dev"

var (
	configPath string
	verbose    bool
	logFormat  string

	logger = slog.New(slog.DiscardHandler)
)

var rootCmd = &cobra.Command{
	Use:   "tbk",
	Short: "tempo-booker – book time from a CSV file into Tempo",
	Long: `tbk reconciles a CSV of worklogs with Tempo: new rows are added,
changed rows are updated, overlapping worklogs are replaced and rows
flagged for deletion are removed. Running it twice changes nothing.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

// exitError carries a process exit code: 1 for usage, configuration and
// conflict errors, 2 when remote operations failed.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErr(err error) error  { return &exitError{code: 1, err: err} }
func failedErr(err error) error { return &exitError{code: 2, err: err} }

// exitCode maps an error returned by a command to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// Execute is the entry point called from main.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.tbk/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging on stderr")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text, json")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(versionCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	l, err := newLogger(logFormat, verbose)
	if err != nil {
		return usageErr(err)
	}
	logger = l
	slog.SetDefault(logger)

	if err := telemetry.Init(cmd.Context(), "tbk", version); err != nil {
		logger.Warn("telemetry disabled", "err", err)
	}
	return nil
}

func newLogger(format string, debug bool) (*slog.Logger, error) {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown --log-format %q (want text or json)", format)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, usageErr(err)
	}
	return cfg, nil
}

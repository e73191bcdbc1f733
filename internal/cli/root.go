// Package cli implements the pdleague command line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdleague/pdleague/internal/config"
	"github.com/pdleague/pdleague/internal/store"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // optional config file path
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the pdleague CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "pdleague",
		Short: "Prisoner's dilemma league",
		Long: `A serverless prisoner's dilemma tournament. Four players, pairwise
matches of ten rounds, all state in a shared append-only action log.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "config file (defaults to the built-in tournament)")

	cmd.AddCommand(NewPlayCommand(opts))
	cmd.AddCommand(NewStandingsCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// setupLogging installs the process-wide slog handler. Diagnostics go to
// stderr so they never corrupt command output on stdout.
func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

// loadConfig resolves the effective configuration: the --config file when
// given, the built-in tournament otherwise.
func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.Config == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// openLog opens the action log backend the configuration selects.
func openLog(cfg config.Config) (store.Log, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return store.NewMemory(), nil
	case config.DriverSQLite:
		log, err := store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open sqlite store", err)
		}
		return log, nil
	case config.DriverNATS:
		log, err := store.OpenNATS(cfg.Store.URL)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect to nats", err)
		}
		return log, nil
	default:
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown store driver %q", cfg.Store.Driver))
	}
}

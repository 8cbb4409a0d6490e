package cli

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/wec/internal/collector"
)

// Version is the tool version recorded in reports. Set at build time.
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	LogFormat string // "json" | "text"
	Config    string // YAML profile path
	EnvFile   string

	// Launcher overrides the browser launcher (for testing).
	// If nil, a chromedp launcher is built from the configuration.
	Launcher collector.Launcher
	// RunIDs overrides the run ID generator (for testing).
	RunIDs collector.RunIDGenerator
	// Clock overrides the wall clock (for testing).
	Clock func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the wec CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wec",
		Short: "wec - website evidence collector",
		Long: `Collect evidence of how a website stores data on and tracks its visitors.

A collection loads one page in an instrumented browser and records every
cookie write, localStorage write, Set-Cookie response header and request to a
known tracker, each with where it came from, in an append-only evidence log.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if !isValidFormat(opts.LogFormat) {
				return fmt.Errorf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats)
			}
			slog.SetDefault(newLogger(opts, cmd.ErrOrStderr()))
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format on stderr (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "YAML profile file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file with WEC_* variables")

	cmd.AddCommand(NewCollectCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewMatchCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// newLogger builds the process logger: text or JSON lines on w, debug level
// when verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

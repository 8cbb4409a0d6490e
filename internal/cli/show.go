package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/wec/internal/report"
	"github.com/roach88/wec/internal/store"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Database     string
	ReportFormat string
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the report of a stored run",
		Long: `Rebuild the report of a stored run from the database and print it.

Events are printed in log order.

Example:
  wec show --db runs.db 01890a5d-ac96-774b-bcce-b302099a8057
  wec show --db runs.db --report-format yaml <run-id>`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := report.ParseFormat(opts.ReportFormat)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid report format", err)
			}

			st, err := openExistingStore(opts.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.ReadRun(cmd.Context(), args[0])
			if errors.Is(err, store.ErrRunNotFound) {
				return WrapExitError(ExitCommandError, "run not found", err)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read run", err)
			}
			if run.Status == store.StatusFailed {
				return NewExitError(ExitFailure, fmt.Sprintf("run %s failed: %s", run.ID, run.Error))
			}

			doc, err := documentFromRun(run)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to rebuild report", err)
			}
			if err := report.Write(cmd.OutOrStdout(), doc, format); err != nil {
				return WrapExitError(ExitFailure, "failed to write report", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.ReportFormat, "report-format", "json", "report format (json|yaml)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// openExistingStore opens a database that must already exist.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

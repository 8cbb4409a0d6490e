package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/wec/internal/store"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Database string
}

// RunList is the list command's result.
type RunList struct {
	Runs []store.RunSummary `json:"runs"`
}

// Text renders one line per run.
func (l RunList) Text() string {
	if len(l.Runs) == 0 {
		return "No runs stored.\n"
	}
	var b strings.Builder
	for _, r := range l.Runs {
		fmt.Fprintf(&b, "%s  %s  %-8s  %4d events  %s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Status, r.EventCount, r.URL)
	}
	return b.String()
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs",
		Long: `List the runs stored in a database, oldest first.

Example:
  wec list --db runs.db
  wec list --db runs.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openExistingStore(opts.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list runs", err)
			}
			formatter := &OutputFormatter{
				Format:    opts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Verbose,
			}
			formatter.VerboseLog("%d runs in %s", len(runs), opts.Database)
			return formatter.Success(RunList{Runs: runs})
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/wec/internal/store"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
}

// VerifyResult is the verify command's result.
type VerifyResult struct {
	RunID    string `json:"run_id"`
	Verified bool   `json:"verified"`
}

// Text renders the result for humans.
func (r VerifyResult) Text() string {
	return fmt.Sprintf("✓ run %s: evidence log matches its digest\n", r.RunID)
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <run-id>",
		Short: "Check a stored evidence log against its digest",
		Long: `Recompute the digest of a stored run's events and compare it with the
digest recorded when the run finished.

Exit codes:
  0 - log matches its digest
  1 - digest mismatch
  2 - command error (database or run not found)

Example:
  wec verify --db runs.db <run-id>`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openExistingStore(opts.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			err = st.VerifyRun(cmd.Context(), args[0])
			switch {
			case errors.Is(err, store.ErrRunNotFound):
				return WrapExitError(ExitCommandError, "run not found", err)
			case errors.Is(err, store.ErrDigestMismatch):
				return WrapExitError(ExitFailure, "verification failed", err)
			case err != nil:
				return WrapExitError(ExitFailure, "failed to verify run", err)
			}

			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			return formatter.Success(VerifyResult{RunID: args[0], Verified: true})
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

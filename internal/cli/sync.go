package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/b00skit/antelope-sync/internal/engine"
	"github.com/b00skit/antelope-sync/internal/syncerr"
	"github.com/b00skit/antelope-sync/pkg/retry"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Attempts int
	Backoff  time.Duration
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync <kind>",
		Short: "Preview and commit in one step",
		Long: `Preview and commit in one step.

Members are always committed so the snapshot timestamp moves. Other kinds
are only committed when the preview shows changes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.Attempts, "attempts", 1, "attempts for transient failures")
	cmd.Flags().DurationVar(&opts.Backoff, "backoff", time.Second, "wait before the first retry")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions, rawKind string) error {
	kind, err := parseKind(rawKind)
	if err != nil {
		return err
	}
	if opts.Attempts < 1 {
		return fmt.Errorf("--attempts must be at least 1")
	}
	ctx := opts.context(cmd.Context())

	rt, err := opts.runtime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	retryOpts := retry.DefaultOptions()
	retryOpts.MaxAttempts = opts.Attempts
	retryOpts.InitialInterval = opts.Backoff
	retryOpts.Classifier = syncerr.Retryable
	retryOpts.OnRetry = func(attempt int, wait time.Duration, err error) {
		fmt.Fprintf(cmd.ErrOrStderr(), "attempt %d failed: %v, retrying in %s\n", attempt, err, wait)
	}

	var res engine.SyncResult
	err = retry.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = rt.Engine.Sync(ctx, opts.FactionID, kind)
		return err
	}, retryOpts)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(w, res)
	}
	if !res.Committed {
		fmt.Fprintf(w, "%s for faction %d is up to date\n", kind, opts.FactionID)
		return nil
	}
	fmt.Fprintf(w, "%s for faction %d: %s\n", kind, opts.FactionID, statsLine(res.Stats))
	writeAudit(w, *res.Audit)
	return nil
}

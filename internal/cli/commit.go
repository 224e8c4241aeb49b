package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/b00skit/antelope-sync/internal/model"
)

// CommitOptions holds flags for the commit command.
type CommitOptions struct {
	*RootOptions
	PreviewID string
	File      string
	Kind      string
}

// NewCommitCommand creates the commit command.
func NewCommitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CommitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Apply a previously computed preview",
		Long: `Apply a previously computed preview.

Example:
  syncctl commit --faction 4 --id 6f1c0b6e-0d7c-4b43-9d7e-6f0a3f6b1c11
  syncctl commit --faction 4 --kind abas --file abas-preview.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommit(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.PreviewID, "id", "", "id of a saved preview")
	cmd.Flags().StringVar(&opts.File, "file", "", "preview payload as JSON")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "kind of the payload in --file")

	return cmd
}

func runCommit(cmd *cobra.Command, opts *CommitOptions) error {
	if (opts.PreviewID == "") == (opts.File == "") {
		return errors.New("exactly one of --id or --file is required")
	}
	ctx := opts.context(cmd.Context())

	rt, err := opts.runtime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	var (
		kind    model.SyncKind
		payload []byte
	)
	if opts.PreviewID != "" {
		if rt.Previews == nil {
			return errors.New("preview storage is disabled")
		}
		rec, err := rt.Previews.Load(ctx, opts.PreviewID)
		if err != nil {
			return fmt.Errorf("failed to load preview %s: %w", opts.PreviewID, err)
		}
		if rec.FactionID != opts.FactionID {
			return fmt.Errorf("preview %s belongs to faction %d", rec.ID, rec.FactionID)
		}
		kind, payload = model.SyncKind(rec.Kind), rec.Payload
	} else {
		if kind, err = parseKind(opts.Kind); err != nil {
			return err
		}
		if payload, err = os.ReadFile(opts.File); err != nil {
			return err
		}
	}

	entry, err := rt.Engine.CommitJSON(ctx, opts.FactionID, kind, payload)
	if err != nil {
		return err
	}
	if opts.PreviewID != "" {
		_ = rt.Previews.Delete(ctx, opts.PreviewID)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), entry)
	}
	writeAudit(cmd.OutOrStdout(), entry)
	return nil
}

package cli

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/b00skit/antelope-sync/internal/diff"
	"github.com/b00skit/antelope-sync/internal/model"
)

// PreviewOptions holds flags for the preview command.
type PreviewOptions struct {
	*RootOptions
	NoSave bool
}

// PreviewOutput is printed in json format
type PreviewOutput struct {
	PreviewID string          `json:"preview_id,omitempty"`
	FactionID int64           `json:"faction_id"`
	Kind      model.SyncKind  `json:"kind"`
	Stats     diff.Stats      `json:"stats"`
	Payload   json.RawMessage `json:"payload"`
}

// NewPreviewCommand creates the preview command.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PreviewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "preview <kind>",
		Short: "Compute what a sync would change without writing",
		Long: `Compute what a sync would change without writing.

The preview is saved so it can be committed later with
  syncctl commit --faction 4 --id <preview-id>`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.NoSave, "no-save", false, "do not keep the preview for a later commit")

	return cmd
}

func runPreview(cmd *cobra.Command, opts *PreviewOptions, rawKind string) error {
	kind, err := parseKind(rawKind)
	if err != nil {
		return err
	}
	ctx := opts.context(cmd.Context())

	rt, err := opts.runtime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	p, stats, err := rt.Engine.Preview(ctx, opts.FactionID, kind)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode preview: %w", err)
	}

	out := PreviewOutput{FactionID: opts.FactionID, Kind: kind, Stats: stats, Payload: payload}
	if !opts.NoSave && rt.Previews != nil {
		rec, err := rt.Previews.Save(ctx, opts.FactionID, string(kind), payload)
		if err != nil {
			return fmt.Errorf("failed to save preview: %w", err)
		}
		out.PreviewID = rec.ID
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(w, out)
	}
	fmt.Fprintf(w, "%s preview for faction %d: %s\n", kind, opts.FactionID, statsLine(stats))
	if out.PreviewID != "" {
		fmt.Fprintf(w, "preview id: %s\n", out.PreviewID)
	}
	return nil
}

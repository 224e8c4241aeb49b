// Package cli implements the syncctl command line
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/b00skit/antelope-sync/internal/audit"
	"github.com/b00skit/antelope-sync/internal/bootstrap"
	"github.com/b00skit/antelope-sync/internal/diff"
	"github.com/b00skit/antelope-sync/internal/engine"
	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/internal/upstream"
	"github.com/b00skit/antelope-sync/pkg/config"
	"github.com/b00skit/antelope-sync/pkg/logger"
	"github.com/b00skit/antelope-sync/pkg/preview"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Engine is the engine surface the commands drive
type Engine interface {
	Preview(ctx context.Context, factionID int64, kind model.SyncKind) (any, diff.Stats, error)
	CommitJSON(ctx context.Context, factionID int64, kind model.SyncKind, payload []byte) (model.AuditEntry, error)
	Sync(ctx context.Context, factionID int64, kind model.SyncKind) (engine.SyncResult, error)
	AuditLog(ctx context.Context, factionID int64, limit int) ([]model.AuditEntry, error)
}

// Runtime is what a command runs against
type Runtime struct {
	Engine   Engine
	Previews preview.Store
	Close    func() error
}

// Opener builds the runtime from the root options
type Opener func(ctx context.Context, opts *RootOptions) (*Runtime, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
	FactionID  int64
	Actor      string
	Token      string
	Verbose    bool

	open Opener
}

// NewRootCommand creates the root command. A nil opener connects to the
// configured store.
func NewRootCommand(open Opener) *cobra.Command {
	if open == nil {
		open = openFromConfig
	}
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Preview and commit faction roster syncs",
		Long: `Preview and commit faction roster syncs.

Previews never write. A preview is saved locally and can be committed
later by id, or committed from a JSON file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.FactionID <= 0 {
				return fmt.Errorf("--faction must be a positive id")
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().Int64VarP(&opts.FactionID, "faction", "f", 0, "faction id")
	cmd.PersistentFlags().StringVar(&opts.Actor, "actor", "", "user recorded in the audit log")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "roster API bearer token, overrides the configured one")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	cmd.AddCommand(NewPreviewCommand(opts))
	cmd.AddCommand(NewCommitCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))

	return cmd
}

// context attaches the actor and bearer flags
func (o *RootOptions) context(ctx context.Context) context.Context {
	if o.Actor != "" {
		ctx = audit.WithActor(ctx, o.Actor)
	}
	if o.Token != "" {
		ctx = upstream.WithBearer(ctx, o.Token)
	}
	return ctx
}

func (o *RootOptions) runtime(ctx context.Context) (*Runtime, error) {
	rt, err := o.open(ctx, o)
	if err != nil {
		return nil, err
	}
	if rt.Close == nil {
		rt.Close = func() error { return nil }
	}
	return rt, nil
}

func openFromConfig(ctx context.Context, opts *RootOptions) (*Runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	// the CLI keeps previews next to the user, never in the shared cache
	cfg.Preview.Backend = config.PreviewFile

	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	l, err := logger.New(logger.Config{
		Level:       level,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName + "-ctl",
	})
	if err != nil {
		return nil, err
	}

	c, err := bootstrap.Setup(ctx, cfg, l)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		Engine:   c.Engine,
		Previews: c.Previews,
		Close: func() error {
			defer l.Sync()
			return c.Close()
		},
	}, nil
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

func parseKind(s string) (model.SyncKind, error) {
	kind, ok := model.ParseSyncKind(s)
	if !ok {
		return "", fmt.Errorf("unknown kind %q: must be one of members, abas, forum_groups, organization", s)
	}
	return kind, nil
}

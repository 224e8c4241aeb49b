package engine

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/b00skit/antelope-sync/internal/diff"
	"github.com/b00skit/antelope-sync/internal/executor"
	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/internal/syncerr"
)

// Preview computes the preview of one kind and summarises it. The returned
// value is one of the executor preview types.
func (e *Engine) Preview(ctx context.Context, factionID int64, kind model.SyncKind) (any, diff.Stats, error) {
	switch kind {
	case model.KindMembers:
		p, err := e.PreviewMembersDiff(ctx, factionID)
		return p, p.Diff.Stats(), err
	case model.KindAbas:
		p, err := e.PreviewAbasDiff(ctx, factionID)
		return p, p.Diff.Stats(), err
	case model.KindForumGroups:
		p, err := e.PreviewForumGroupDiff(ctx, factionID)
		return p, ForumGroupStats(p), err
	case model.KindOrganization:
		p, err := e.PreviewOrganizationDiff(ctx, factionID)
		return p, OrganizationStats(p), err
	default:
		return nil, diff.Stats{}, fmt.Errorf("%w: unknown kind %q", syncerr.ErrInvalidPayload, kind)
	}
}

// CommitJSON decodes a serialized preview of the given kind and commits it.
// A payload that does not decode is an invalid payload.
func (e *Engine) CommitJSON(ctx context.Context, factionID int64, kind model.SyncKind, payload []byte) (model.AuditEntry, error) {
	var (
		p   any
		err error
	)
	switch kind {
	case model.KindMembers:
		var v executor.MembersPreview
		err = json.Unmarshal(payload, &v)
		p = v
	case model.KindAbas:
		var v executor.AbasPreview
		err = json.Unmarshal(payload, &v)
		p = v
	case model.KindForumGroups:
		var v executor.ForumGroupsPreview
		err = json.Unmarshal(payload, &v)
		p = v
	case model.KindOrganization:
		var v executor.OrganizationPreview
		err = json.Unmarshal(payload, &v)
		p = v
	default:
		return model.AuditEntry{}, fmt.Errorf("%w: unknown kind %q", syncerr.ErrInvalidPayload, kind)
	}
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("%w: %v", syncerr.ErrInvalidPayload, err)
	}
	return e.commitPreview(ctx, factionID, p)
}

func (e *Engine) commitPreview(ctx context.Context, factionID int64, p any) (model.AuditEntry, error) {
	switch v := p.(type) {
	case executor.MembersPreview:
		return e.CommitMembers(ctx, factionID, v)
	case executor.AbasPreview:
		return e.CommitAbas(ctx, factionID, v)
	case executor.ForumGroupsPreview:
		return e.CommitForumGroups(ctx, factionID, v)
	case executor.OrganizationPreview:
		return e.CommitOrganization(ctx, factionID, v)
	default:
		return model.AuditEntry{}, fmt.Errorf("%w: unsupported preview %T", syncerr.ErrInvalidPayload, p)
	}
}

// ForumGroupStats sums the per-group diffs
func ForumGroupStats(p executor.ForumGroupsPreview) diff.Stats {
	var total diff.Stats
	for _, g := range p.Groups {
		s := g.Diff.Stats()
		total.Added += s.Added
		total.Updated += s.Updated
		total.Removed += s.Removed
	}
	return total
}

// OrganizationStats counts membership additions and removals over all units
func OrganizationStats(p executor.OrganizationPreview) diff.Stats {
	var total diff.Stats
	for _, u := range p.Units {
		total.Added += len(u.Added)
		total.Removed += len(u.Removed)
	}
	return total
}

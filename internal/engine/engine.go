// Package engine is the caller-facing surface of the reconciliation engine.
// Previews fetch live data and diff it against the store without writing;
// commits hand a confirmed preview to the executor.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/b00skit/antelope-sync/internal/diff"
	"github.com/b00skit/antelope-sync/internal/executor"
	"github.com/b00skit/antelope-sync/internal/identity"
	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/internal/orgsync"
	"github.com/b00skit/antelope-sync/internal/store"
	"github.com/b00skit/antelope-sync/internal/syncerr"
	"github.com/b00skit/antelope-sync/pkg/logger"
	"github.com/b00skit/antelope-sync/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RosterSource serves the live roster and activity scores
type RosterSource interface {
	Members(ctx context.Context, factionID int64) ([]model.CharacterRecord, error)
	Abas(ctx context.Context, factionID int64) ([]model.AbasEntry, error)
}

// ForumSource serves live forum groups
type ForumSource interface {
	Group(ctx context.Context, integration *model.ForumIntegration, groupID int64) (model.ForumGroup, error)
}

// Config holds the engine defaults. They are resolved once at start-up and
// passed in; nothing below reads configuration on its own.
type Config struct {
	// MemberFields lists the compared member fields, see diff.MemberFields
	MemberFields []string
	// StaleAfter is the age after which a roster snapshot needs a sync
	StaleAfter time.Duration
	// ForumConcurrency bounds parallel forum group fetches
	ForumConcurrency int
}

// Engine implements the preview and commit operations
type Engine struct {
	cfg          Config
	store        store.Store
	roster       RosterSource
	forum        ForumSource
	executor     *executor.Executor
	memberFields []diff.Field[model.CharacterRecord]
	logger       *logger.Logger
	now          func() time.Time
}

// New wires an engine. Executor options such as the audit publisher are passed through.
func New(cfg Config, st store.Store, roster RosterSource, forum ForumSource, l *logger.Logger, opts ...executor.Option) (*Engine, error) {
	fields, err := diff.MemberFields(cfg.MemberFields)
	if err != nil {
		return nil, fmt.Errorf("invalid member fields: %w", err)
	}
	if cfg.ForumConcurrency <= 0 {
		cfg.ForumConcurrency = 4
	}

	opts = append([]executor.Option{executor.WithMemberFields(fields)}, opts...)
	return &Engine{
		cfg:          cfg,
		store:        st,
		roster:       roster,
		forum:        forum,
		executor:     executor.New(st, l, opts...),
		memberFields: fields,
		logger:       l,
		now:          time.Now,
	}, nil
}

// PreviewMembersDiff diffs the live roster against the cached snapshot
func (e *Engine) PreviewMembersDiff(ctx context.Context, factionID int64) (executor.MembersPreview, error) {
	live, err := e.roster.Members(ctx, factionID)
	if err != nil {
		return executor.MembersPreview{}, e.previewFailed(model.KindMembers, factionID, err)
	}

	snap, err := e.store.RosterSnapshot(ctx, factionID)
	if err != nil {
		return executor.MembersPreview{}, e.previewFailed(model.KindMembers, factionID, fmt.Errorf("failed to load roster snapshot: %w", err))
	}
	var cached []model.CharacterRecord
	if snap != nil {
		cached = snap.Members
	}

	d := diff.Compute(live, cached, diff.MemberOptions(e.memberFields))
	e.previewDone(model.KindMembers, d.Stats())
	return executor.MembersPreview{FactionID: factionID, Diff: d, FetchedAt: e.now()}, nil
}

// PreviewAbasDiff diffs live activity scores against the cache. Characters
// missing from the live data are never reported as removed.
func (e *Engine) PreviewAbasDiff(ctx context.Context, factionID int64) (executor.AbasPreview, error) {
	live, err := e.roster.Abas(ctx, factionID)
	if err != nil {
		return executor.AbasPreview{}, e.previewFailed(model.KindAbas, factionID, err)
	}

	records, err := e.store.AbasRecords(ctx, factionID)
	if err != nil {
		return executor.AbasPreview{}, e.previewFailed(model.KindAbas, factionID, fmt.Errorf("failed to load activity scores: %w", err))
	}
	cached := make([]model.AbasEntry, len(records))
	for i, r := range records {
		cached[i] = r.Entry()
	}

	d := diff.Compute(live, cached, diff.AbasOptions())
	e.previewDone(model.KindAbas, d.Stats())
	return executor.AbasPreview{FactionID: factionID, Diff: d, FetchedAt: e.now()}, nil
}

// PreviewForumGroupDiff diffs every forum group linked to the faction. A
// faction without a forum integration yields an empty preview.
func (e *Engine) PreviewForumGroupDiff(ctx context.Context, factionID int64) (executor.ForumGroupsPreview, error) {
	out := executor.ForumGroupsPreview{FactionID: factionID, Groups: []executor.ForumGroupPreview{}}

	integration, err := e.store.ForumIntegration(ctx, factionID)
	if err != nil {
		return out, e.previewFailed(model.KindForumGroups, factionID, fmt.Errorf("failed to load forum integration: %w", err))
	}
	if !integration.Active() {
		e.inactive(model.KindForumGroups, factionID)
		return out, nil
	}

	groups, err := e.fetchGroups(ctx, integration, integration.GroupIDs)
	if err != nil {
		return out, e.previewFailed(model.KindForumGroups, factionID, err)
	}

	snapshots, err := e.store.ForumGroupSnapshots(ctx, factionID)
	if err != nil {
		return out, e.previewFailed(model.KindForumGroups, factionID, fmt.Errorf("failed to load forum group snapshots: %w", err))
	}
	cached := make(map[int64][]model.ForumGroupMember, len(snapshots))
	for _, s := range snapshots {
		cached[s.GroupID] = s.Members
	}

	now := e.now()
	var total diff.Stats
	for _, id := range integration.GroupIDs {
		g := groups[id]
		d := diff.Compute(g.Members, cached[id], diff.ForumMemberOptions())
		s := d.Stats()
		total.Added += s.Added
		total.Updated += s.Updated
		total.Removed += s.Removed
		out.Groups = append(out.Groups, executor.ForumGroupPreview{FactionID: factionID, GroupID: id, Name: g.Name, Diff: d, FetchedAt: now})
	}
	e.previewDone(model.KindForumGroups, total)
	return out, nil
}

// PreviewOrganizationDiff computes the membership delta of every unit and
// detail linked to a forum group. Forum usernames are resolved against the
// cached roster; names that match no character are dropped.
func (e *Engine) PreviewOrganizationDiff(ctx context.Context, factionID int64) (executor.OrganizationPreview, error) {
	out := executor.OrganizationPreview{FactionID: factionID, Units: []executor.UnitPreview{}}
	log := e.logger.ForFaction(factionID, string(model.KindOrganization))

	integration, err := e.store.ForumIntegration(ctx, factionID)
	if err != nil {
		return out, e.previewFailed(model.KindOrganization, factionID, fmt.Errorf("failed to load forum integration: %w", err))
	}
	if !integration.Active() {
		e.inactive(model.KindOrganization, factionID)
		return out, nil
	}

	categories, err := e.store.Categories(ctx, factionID)
	if err != nil {
		return out, e.previewFailed(model.KindOrganization, factionID, fmt.Errorf("failed to load organization categories: %w", err))
	}
	var linked []model.OrganizationCategory
	var groupIDs []int64
	seenGroup := make(map[int64]struct{})
	for _, c := range categories {
		if c.ForumGroupID == nil {
			continue
		}
		linked = append(linked, c)
		if _, ok := seenGroup[*c.ForumGroupID]; !ok {
			seenGroup[*c.ForumGroupID] = struct{}{}
			groupIDs = append(groupIDs, *c.ForumGroupID)
		}
	}
	if len(linked) == 0 {
		e.previewDone(model.KindOrganization, diff.Stats{})
		return out, nil
	}

	snap, err := e.store.RosterSnapshot(ctx, factionID)
	if err != nil {
		return out, e.previewFailed(model.KindOrganization, factionID, fmt.Errorf("failed to load roster snapshot: %w", err))
	}
	var roster []model.CharacterRecord
	if snap != nil {
		roster = snap.Members
	}
	resolver := identity.NewResolver(roster)

	groups, err := e.fetchGroups(ctx, integration, groupIDs)
	if err != nil {
		return out, e.previewFailed(model.KindOrganization, factionID, err)
	}

	var total diff.Stats
	for _, c := range linked {
		g := groups[*c.ForumGroupID]
		usernames := make([]string, len(g.Members))
		for i, m := range g.Members {
			usernames[i] = m.Username
		}
		resolved, unknown := resolver.ResolveAll(usernames)
		if len(unknown) > 0 {
			log.Debug("dropping unresolved forum members",
				zap.String("type", string(c.Type)),
				zap.Int64("category_id", c.CategoryID),
				zap.Strings("usernames", unknown))
		}
		if resolved == nil {
			resolved = []identity.Resolved{}
		}

		current, err := e.store.Memberships(ctx, c.Type, c.CategoryID)
		if err != nil {
			return out, e.previewFailed(model.KindOrganization, factionID, fmt.Errorf("failed to load %s %d memberships: %w", c.Type, c.CategoryID, err))
		}
		unit := executor.UnitPreview{
			Type:         c.Type,
			CategoryID:   c.CategoryID,
			Name:         c.Name,
			ForumGroupID: *c.ForumGroupID,
			SourceData:   resolved,
		}
		unit.Change = orgsync.Plan(current, unit.DesiredIDs())
		total.Added += len(unit.Added)
		total.Removed += len(unit.Removed)
		out.Units = append(out.Units, unit)
	}
	e.previewDone(model.KindOrganization, total)
	return out, nil
}

// fetchGroups loads the given groups concurrently. The first failure cancels
// the remaining fetches and is returned.
func (e *Engine) fetchGroups(ctx context.Context, integration *model.ForumIntegration, ids []int64) (map[int64]model.ForumGroup, error) {
	results := make([]model.ForumGroup, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ForumConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			group, err := e.forum.Group(gctx, integration, id)
			if err != nil {
				return err
			}
			results[i] = group
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[int64]model.ForumGroup, len(ids))
	for i, id := range ids {
		out[id] = results[i]
	}
	return out, nil
}

// CommitMembers applies a members preview to the faction
func (e *Engine) CommitMembers(ctx context.Context, factionID int64, p executor.MembersPreview) (model.AuditEntry, error) {
	if err := matchFaction(factionID, &p.FactionID); err != nil {
		return model.AuditEntry{}, err
	}
	return e.executor.CommitMembers(ctx, p)
}

// CommitAbas applies an activity-score preview to the faction
func (e *Engine) CommitAbas(ctx context.Context, factionID int64, p executor.AbasPreview) (model.AuditEntry, error) {
	if err := matchFaction(factionID, &p.FactionID); err != nil {
		return model.AuditEntry{}, err
	}
	return e.executor.CommitAbas(ctx, p)
}

// CommitForumGroups applies a forum group preview to the faction
func (e *Engine) CommitForumGroups(ctx context.Context, factionID int64, p executor.ForumGroupsPreview) (model.AuditEntry, error) {
	if err := matchFaction(factionID, &p.FactionID); err != nil {
		return model.AuditEntry{}, err
	}
	return e.executor.CommitForumGroups(ctx, p)
}

// CommitOrganization applies an organization preview to the faction
func (e *Engine) CommitOrganization(ctx context.Context, factionID int64, p executor.OrganizationPreview) (model.AuditEntry, error) {
	if err := matchFaction(factionID, &p.FactionID); err != nil {
		return model.AuditEntry{}, err
	}
	return e.executor.CommitOrganization(ctx, p)
}

// SyncResult reports an unattended preview and commit
type SyncResult struct {
	Kind      model.SyncKind    `json:"kind"`
	Stats     diff.Stats        `json:"stats"`
	Committed bool              `json:"committed"`
	Audit     *model.AuditEntry `json:"audit,omitempty"`
}

// Sync previews and immediately commits one kind. Members are always
// committed so the snapshot timestamp moves; other kinds skip the commit
// when the preview shows no change.
func (e *Engine) Sync(ctx context.Context, factionID int64, kind model.SyncKind) (SyncResult, error) {
	res := SyncResult{Kind: kind}

	p, stats, err := e.Preview(ctx, factionID, kind)
	if err != nil {
		return res, err
	}
	res.Stats = stats
	if kind != model.KindMembers && !stats.HasChanges() {
		return res, nil
	}

	entry, err := e.commitPreview(ctx, factionID, p)
	if err != nil {
		return res, err
	}

	res.Committed = true
	res.Audit = &entry
	return res, nil
}

// NeedsSync reports whether a snapshot is missing or older than staleAfter
func NeedsSync(snap *model.RosterSnapshot, now time.Time, staleAfter time.Duration) bool {
	if snap == nil || snap.LastSync.IsZero() {
		return true
	}
	return now.Sub(snap.LastSync) >= staleAfter
}

// NeedsMembersSync applies NeedsSync to the faction's stored snapshot using
// the configured threshold
func (e *Engine) NeedsMembersSync(ctx context.Context, factionID int64) (bool, error) {
	snap, err := e.store.RosterSnapshot(ctx, factionID)
	if err != nil {
		return false, fmt.Errorf("failed to load roster snapshot: %w", err)
	}
	return NeedsSync(snap, e.now(), e.cfg.StaleAfter), nil
}

// AuditLog returns the newest audit entries of a faction
func (e *Engine) AuditLog(ctx context.Context, factionID int64, limit int) ([]model.AuditEntry, error) {
	return e.store.AuditLog(ctx, factionID, limit)
}

// Alternates returns the stored alternate entries of a faction
func (e *Engine) Alternates(ctx context.Context, factionID int64) ([]model.AlternateCharacterEntry, error) {
	return e.store.AlternateEntries(ctx, factionID)
}

func matchFaction(factionID int64, payloadFaction *int64) error {
	if factionID <= 0 {
		return fmt.Errorf("%w: invalid faction id %d", syncerr.ErrInvalidPayload, factionID)
	}
	if *payloadFaction == 0 {
		*payloadFaction = factionID
	}
	if *payloadFaction != factionID {
		return fmt.Errorf("%w: payload belongs to faction %d", syncerr.ErrInvalidPayload, *payloadFaction)
	}
	return nil
}

func (e *Engine) previewDone(kind model.SyncKind, s diff.Stats) {
	k := string(kind)
	metrics.PreviewsTotal.WithLabelValues(k, metrics.ResultSuccess).Inc()
	metrics.PreviewChanges.WithLabelValues(k, "added").Add(float64(s.Added))
	metrics.PreviewChanges.WithLabelValues(k, "updated").Add(float64(s.Updated))
	metrics.PreviewChanges.WithLabelValues(k, "removed").Add(float64(s.Removed))
}

func (e *Engine) inactive(kind model.SyncKind, factionID int64) {
	metrics.PreviewsTotal.WithLabelValues(string(kind), metrics.ResultSuccess).Inc()
	e.logger.ForFaction(factionID, string(kind)).Debug("no active forum integration, nothing to preview")
}

func (e *Engine) previewFailed(kind model.SyncKind, factionID int64, err error) error {
	metrics.PreviewsTotal.WithLabelValues(string(kind), metrics.ResultError).Inc()
	if errors.Is(err, syncerr.ErrUpstreamAuthExpired) {
		e.logger.ForFaction(factionID, string(kind)).Warn("upstream credential rejected")
	} else {
		e.logger.ForFaction(factionID, string(kind)).Error("preview failed", err)
	}
	return err
}

// Package executor applies confirmed previews to the store. Each commit runs in
// a single transaction and appends exactly one audit entry.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/b00skit/antelope-sync/internal/alternates"
	"github.com/b00skit/antelope-sync/internal/audit"
	"github.com/b00skit/antelope-sync/internal/diff"
	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/internal/orgsync"
	"github.com/b00skit/antelope-sync/internal/store"
	"github.com/b00skit/antelope-sync/internal/syncerr"
	"github.com/b00skit/antelope-sync/pkg/logger"
	"github.com/b00skit/antelope-sync/pkg/metrics"

	"go.uber.org/zap"
)

// Executor commits previews
type Executor struct {
	store        store.Store
	classifier   *alternates.Classifier
	memberFields []diff.Field[model.CharacterRecord]
	publisher    audit.Publisher
	logger       *logger.Logger
	now          func() time.Time
}

// Option configures an Executor
type Option func(*Executor)

// WithPublisher forwards committed audit entries. Publishing is best-effort.
func WithPublisher(p audit.Publisher) Option {
	return func(e *Executor) { e.publisher = p }
}

// WithMemberFields overrides the compared member fields used for the audit summary
func WithMemberFields(fields []diff.Field[model.CharacterRecord]) Option {
	return func(e *Executor) { e.memberFields = fields }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an executor
func New(st store.Store, l *logger.Logger, opts ...Option) *Executor {
	fields, _ := diff.MemberFields(nil)
	e := &Executor{
		store:        st,
		classifier:   alternates.NewClassifier(l),
		memberFields: fields,
		logger:       l,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type membersDetail struct {
	Stats      diff.Stats        `json:"stats"`
	Alternates alternates.Result `json:"alternates"`
}

// CommitMembers replaces the roster snapshot with the preview's source data,
// recomputes alternate entries and appends the audit entry. A failure in any
// step rolls back all of them.
func (e *Executor) CommitMembers(ctx context.Context, p MembersPreview) (model.AuditEntry, error) {
	if p.FactionID <= 0 {
		return model.AuditEntry{}, fmt.Errorf("%w: missing faction id", syncerr.ErrInvalidPayload)
	}
	// an absent source_data decodes to nil; only an explicit [] empties the roster
	members := p.Diff.SourceData
	if members == nil {
		return model.AuditEntry{}, fmt.Errorf("%w: missing source data", syncerr.ErrInvalidPayload)
	}

	var entry model.AuditEntry
	err := e.commit(ctx, model.KindMembers, func(ctx context.Context, tx store.Tx) error {
		var cached []model.CharacterRecord
		snap, err := tx.RosterSnapshot(ctx, p.FactionID)
		if err != nil {
			return fmt.Errorf("failed to load roster snapshot: %w", err)
		}
		if snap != nil {
			cached = snap.Members
		}
		d := diff.Compute(members, cached, diff.MemberOptions(e.memberFields))

		now := e.now()
		if err := tx.ReplaceRosterSnapshot(ctx, model.RosterSnapshot{FactionID: p.FactionID, Members: members, LastSync: now}); err != nil {
			return fmt.Errorf("failed to replace roster snapshot: %w", err)
		}

		res, err := e.classifier.Reconcile(ctx, tx, p.FactionID, members)
		if err != nil {
			return err
		}

		stats := d.Stats()
		entry, err = e.appendAudit(ctx, tx, p.FactionID, model.KindMembers, stats, membersDetail{Stats: stats, Alternates: res}, now)
		return err
	})
	if err != nil {
		return model.AuditEntry{}, err
	}

	e.publish(ctx, entry)
	return entry, nil
}

type abasDetail struct {
	Stats    diff.Stats `json:"stats"`
	Upserted int        `json:"upserted"`
}

// CommitAbas upserts every activity score of the preview's source data. Scores
// missing from the source are left untouched.
func (e *Executor) CommitAbas(ctx context.Context, p AbasPreview) (model.AuditEntry, error) {
	if p.FactionID <= 0 {
		return model.AuditEntry{}, fmt.Errorf("%w: missing faction id", syncerr.ErrInvalidPayload)
	}
	if p.Diff.SourceData == nil {
		return model.AuditEntry{}, fmt.Errorf("%w: missing source data", syncerr.ErrInvalidPayload)
	}

	var entry model.AuditEntry
	err := e.commit(ctx, model.KindAbas, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.AbasRecords(ctx, p.FactionID)
		if err != nil {
			return fmt.Errorf("failed to load activity scores: %w", err)
		}
		cached := make([]model.AbasEntry, len(existing))
		for i, r := range existing {
			cached[i] = r.Entry()
		}
		d := diff.Compute(p.Diff.SourceData, cached, diff.AbasOptions())

		now := e.now()
		seen := make(map[int64]struct{}, len(d.SourceData))
		records := make([]model.AbasRecord, 0, len(d.SourceData))
		for _, s := range d.SourceData {
			if _, dup := seen[s.CharacterID]; dup {
				continue
			}
			seen[s.CharacterID] = struct{}{}
			records = append(records, model.AbasRecord{CharacterID: s.CharacterID, FactionID: p.FactionID, Abas: s.Abas, LastSync: now})
		}
		if len(records) > 0 {
			if err := tx.UpsertAbas(ctx, records); err != nil {
				return fmt.Errorf("failed to upsert activity scores: %w", err)
			}
		}

		stats := d.Stats()
		entry, err = e.appendAudit(ctx, tx, p.FactionID, model.KindAbas, stats, abasDetail{Stats: stats, Upserted: len(records)}, now)
		return err
	})
	if err != nil {
		return model.AuditEntry{}, err
	}

	e.publish(ctx, entry)
	return entry, nil
}

type groupDetail struct {
	GroupID int64      `json:"group_id"`
	Name    string     `json:"name"`
	Stats   diff.Stats `json:"stats"`
}

// CommitForumGroups replaces the cached member list of every group in the
// preview. Groups must belong to the faction's forum integration.
func (e *Executor) CommitForumGroups(ctx context.Context, p ForumGroupsPreview) (model.AuditEntry, error) {
	if p.FactionID <= 0 {
		return model.AuditEntry{}, fmt.Errorf("%w: missing faction id", syncerr.ErrInvalidPayload)
	}

	var entry model.AuditEntry
	err := e.commit(ctx, model.KindForumGroups, func(ctx context.Context, tx store.Tx) error {
		integration, err := tx.ForumIntegration(ctx, p.FactionID)
		if err != nil {
			return fmt.Errorf("failed to load forum integration: %w", err)
		}
		if !integration.Active() {
			return syncerr.ErrNoActiveConfiguration
		}
		allowed := make(map[int64]struct{}, len(integration.GroupIDs))
		for _, id := range integration.GroupIDs {
			allowed[id] = struct{}{}
		}

		snapshots, err := tx.ForumGroupSnapshots(ctx, p.FactionID)
		if err != nil {
			return fmt.Errorf("failed to load forum group snapshots: %w", err)
		}
		cached := make(map[int64][]model.ForumGroupMember, len(snapshots))
		for _, s := range snapshots {
			cached[s.GroupID] = s.Members
		}

		now := e.now()
		var total diff.Stats
		details := make([]groupDetail, 0, len(p.Groups))
		for _, g := range p.Groups {
			if g.FactionID != 0 && g.FactionID != p.FactionID {
				return fmt.Errorf("%w: group %d belongs to faction %d", syncerr.ErrInvalidPayload, g.GroupID, g.FactionID)
			}
			if _, ok := allowed[g.GroupID]; !ok {
				return fmt.Errorf("%w: group %d is not linked to faction %d", syncerr.ErrInvalidPayload, g.GroupID, p.FactionID)
			}
			if g.Diff.SourceData == nil {
				return fmt.Errorf("%w: group %d has no source data", syncerr.ErrInvalidPayload, g.GroupID)
			}

			d := diff.Compute(g.Diff.SourceData, cached[g.GroupID], diff.ForumMemberOptions())
			if err := tx.ReplaceForumGroupSnapshot(ctx, model.ForumGroupSnapshot{
				FactionID: p.FactionID,
				GroupID:   g.GroupID,
				Name:      g.Name,
				Members:   d.SourceData,
				LastSync:  now,
			}); err != nil {
				return fmt.Errorf("failed to replace forum group %d: %w", g.GroupID, err)
			}

			s := d.Stats()
			total.Added += s.Added
			total.Updated += s.Updated
			total.Removed += s.Removed
			details = append(details, groupDetail{GroupID: g.GroupID, Name: g.Name, Stats: s})
		}

		entry, err = e.appendAudit(ctx, tx, p.FactionID, model.KindForumGroups, total, details, now)
		return err
	})
	if err != nil {
		return model.AuditEntry{}, err
	}

	e.publish(ctx, entry)
	return entry, nil
}

type unitDetail struct {
	Type       model.OrganizationType `json:"type"`
	CategoryID int64                  `json:"category_id"`
	orgsync.Change
}

type categoryKey struct {
	typ model.OrganizationType
	id  int64
}

// CommitOrganization reconciles every unit of the batch against its resolved
// forum members. Manual memberships are never touched.
func (e *Executor) CommitOrganization(ctx context.Context, p OrganizationPreview) (model.AuditEntry, error) {
	if p.FactionID <= 0 {
		return model.AuditEntry{}, fmt.Errorf("%w: missing faction id", syncerr.ErrInvalidPayload)
	}

	var entry model.AuditEntry
	err := e.commit(ctx, model.KindOrganization, func(ctx context.Context, tx store.Tx) error {
		categories, err := tx.Categories(ctx, p.FactionID)
		if err != nil {
			return fmt.Errorf("failed to load organization categories: %w", err)
		}
		known := make(map[categoryKey]struct{}, len(categories))
		for _, c := range categories {
			known[categoryKey{c.Type, c.CategoryID}] = struct{}{}
		}

		now := e.now()
		var total model.AuditSummary
		details := make([]unitDetail, 0, len(p.Units))
		for _, u := range p.Units {
			if _, ok := known[categoryKey{u.Type, u.CategoryID}]; !ok {
				return fmt.Errorf("%w: %s %d does not belong to faction %d", syncerr.ErrInvalidPayload, u.Type, u.CategoryID, p.FactionID)
			}
			if u.SourceData == nil {
				return fmt.Errorf("%w: %s %d has no source data", syncerr.ErrInvalidPayload, u.Type, u.CategoryID)
			}
			ch, err := orgsync.Apply(ctx, tx, u.Type, u.CategoryID, u.DesiredIDs(), now)
			if err != nil {
				return err
			}
			total.Added += len(ch.Added)
			total.Removed += len(ch.Removed)
			details = append(details, unitDetail{Type: u.Type, CategoryID: u.CategoryID, Change: ch})
		}

		entry, err = e.appendAudit(ctx, tx, p.FactionID, model.KindOrganization, diff.Stats{Added: total.Added, Removed: total.Removed}, details, now)
		return err
	})
	if err != nil {
		return model.AuditEntry{}, err
	}

	e.publish(ctx, entry)
	return entry, nil
}

// commit runs fn in a transaction and records the outcome. Store failures are
// reported as ErrTransactionFailure; payload and configuration errors keep
// their own kind.
func (e *Executor) commit(ctx context.Context, kind model.SyncKind, fn store.TxFunc) error {
	start := time.Now()
	err := e.store.WithinTx(ctx, fn)
	metrics.CommitLatency.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	metrics.CommitsTotal.WithLabelValues(string(kind), metrics.Outcome(err)).Inc()

	if err == nil {
		return nil
	}
	if errors.Is(err, syncerr.ErrInvalidPayload) || errors.Is(err, syncerr.ErrNoActiveConfiguration) {
		return err
	}
	e.logger.Error("commit rolled back", err, zap.String("kind", string(kind)))
	return syncerr.Transaction(err)
}

func (e *Executor) appendAudit(ctx context.Context, tx store.Tx, factionID int64, kind model.SyncKind, stats diff.Stats, detail any, at time.Time) (model.AuditEntry, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("failed to serialize audit detail: %w", err)
	}
	entry := model.AuditEntry{
		FactionID: factionID,
		Kind:      kind,
		Actor:     audit.ActorFrom(ctx),
		Summary:   model.AuditSummary{Added: stats.Added, Updated: stats.Updated, Removed: stats.Removed},
		Detail:    raw,
		CreatedAt: at,
	}
	id, err := tx.AppendAudit(ctx, entry)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("failed to append audit entry: %w", err)
	}
	entry.ID = id
	return entry, nil
}

// publish forwards a committed entry. The commit already succeeded, so a
// failure is only logged.
func (e *Executor) publish(ctx context.Context, entry model.AuditEntry) {
	log := e.logger.ForFaction(entry.FactionID, string(entry.Kind))
	log.Info("commit applied",
		zap.Int64("audit_id", entry.ID),
		zap.String("actor", entry.Actor),
		zap.Int("added", entry.Summary.Added),
		zap.Int("updated", entry.Summary.Updated),
		zap.Int("removed", entry.Summary.Removed))

	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, entry); err != nil {
		metrics.AuditPublishErrorsTotal.Inc()
		log.Error("failed to publish audit entry", err, zap.Int64("audit_id", entry.ID))
	}
}

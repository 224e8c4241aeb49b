package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/b00skit/antelope-sync/internal/model"

	"github.com/jackc/pgx/v5"
)

type reader struct {
	q querier
}

func (r reader) RosterSnapshot(ctx context.Context, factionID int64) (*model.RosterSnapshot, error) {
	var (
		raw  []byte
		snap = model.RosterSnapshot{FactionID: factionID}
	)
	err := r.q.QueryRow(ctx,
		`SELECT members, last_sync FROM roster_snapshots WHERE faction_id = $1`, factionID,
	).Scan(&raw, &snap.LastSync)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &snap.Members); err != nil {
		return nil, fmt.Errorf("failed to decode roster snapshot: %w", err)
	}
	return &snap, nil
}

func (r reader) AbasRecords(ctx context.Context, factionID int64) ([]model.AbasRecord, error) {
	rows, err := r.q.Query(ctx,
		`SELECT character_id, faction_id, abas, last_sync FROM abas_records WHERE faction_id = $1 ORDER BY character_id`, factionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AbasRecord, error) {
		var rec model.AbasRecord
		err := row.Scan(&rec.CharacterID, &rec.FactionID, &rec.Abas, &rec.LastSync)
		return rec, err
	})
}

func (r reader) AlternateEntries(ctx context.Context, factionID int64) ([]model.AlternateCharacterEntry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT user_id, faction_id, character_id, character_name, rank, manually_set, alternative_characters, updated_at
		FROM alternate_characters WHERE faction_id = $1 ORDER BY user_id`, factionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AlternateCharacterEntry, error) {
		var (
			e   model.AlternateCharacterEntry
			raw []byte
		)
		if err := row.Scan(&e.UserID, &e.FactionID, &e.CharacterID, &e.CharacterName, &e.Rank, &e.ManuallySet, &raw, &e.UpdatedAt); err != nil {
			return e, err
		}
		if err := json.Unmarshal(raw, &e.Alternatives); err != nil {
			return e, fmt.Errorf("failed to decode alternatives of user %d: %w", e.UserID, err)
		}
		return e, nil
	})
}

func (r reader) Categories(ctx context.Context, factionID int64) ([]model.OrganizationCategory, error) {
	rows, err := r.q.Query(ctx, `
		SELECT type, category_id, faction_id, name, forum_group_id
		FROM organization_categories WHERE faction_id = $1 ORDER BY type, category_id`, factionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.OrganizationCategory, error) {
		var (
			c   model.OrganizationCategory
			typ string
		)
		if err := row.Scan(&typ, &c.CategoryID, &c.FactionID, &c.Name, &c.ForumGroupID); err != nil {
			return c, err
		}
		t, err := model.ParseOrganizationType(typ)
		if err != nil {
			return c, err
		}
		c.Type = t
		return c, nil
	})
}

func (r reader) Memberships(ctx context.Context, typ model.OrganizationType, categoryID int64) ([]model.OrganizationMembership, error) {
	rows, err := r.q.Query(ctx, `
		SELECT character_id, manual, created_at
		FROM organization_memberships WHERE type = $1 AND category_id = $2 ORDER BY character_id`, string(typ), categoryID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.OrganizationMembership, error) {
		m := model.OrganizationMembership{Type: typ, CategoryID: categoryID}
		err := row.Scan(&m.CharacterID, &m.Manual, &m.CreatedAt)
		return m, err
	})
}

func (r reader) ForumIntegration(ctx context.Context, factionID int64) (*model.ForumIntegration, error) {
	f := model.ForumIntegration{FactionID: factionID}
	err := r.q.QueryRow(ctx,
		`SELECT base_url, api_key, group_ids FROM forum_integrations WHERE faction_id = $1`, factionID,
	).Scan(&f.BaseURL, &f.APIKey, &f.GroupIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r reader) ForumGroupSnapshots(ctx context.Context, factionID int64) ([]model.ForumGroupSnapshot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT group_id, name, members, last_sync
		FROM forum_group_snapshots WHERE faction_id = $1 ORDER BY group_id`, factionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ForumGroupSnapshot, error) {
		var (
			s   = model.ForumGroupSnapshot{FactionID: factionID}
			raw []byte
		)
		if err := row.Scan(&s.GroupID, &s.Name, &raw, &s.LastSync); err != nil {
			return s, err
		}
		if err := json.Unmarshal(raw, &s.Members); err != nil {
			return s, fmt.Errorf("failed to decode forum group %d: %w", s.GroupID, err)
		}
		return s, nil
	})
}

func (r reader) AuditLog(ctx context.Context, factionID int64, limit int) ([]model.AuditEntry, error) {
	query := `
		SELECT id, faction_id, kind, actor, summary, detail, created_at
		FROM sync_audit_log WHERE faction_id = $1 ORDER BY id DESC`
	args := []any{factionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AuditEntry, error) {
		var (
			e       model.AuditEntry
			kind    string
			summary []byte
			detail  []byte
		)
		if err := row.Scan(&e.ID, &e.FactionID, &kind, &e.Actor, &summary, &detail, &e.CreatedAt); err != nil {
			return e, err
		}
		e.Kind = model.SyncKind(kind)
		e.Detail = json.RawMessage(detail)
		if err := json.Unmarshal(summary, &e.Summary); err != nil {
			return e, fmt.Errorf("failed to decode audit summary %d: %w", e.ID, err)
		}
		return e, nil
	})
}

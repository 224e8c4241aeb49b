package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/pkg/logger"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// copyThreshold is the batch size from which activity scores are loaded with COPY
const copyThreshold = 100

// Tx implements store.Tx on a pgx transaction
type Tx struct {
	reader
	tx     pgx.Tx
	logger *logger.Logger
}

func (t *Tx) ReplaceRosterSnapshot(ctx context.Context, snap model.RosterSnapshot) error {
	members := snap.Members
	if members == nil {
		members = []model.CharacterRecord{}
	}
	raw, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("failed to encode roster snapshot: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO roster_snapshots (faction_id, members, last_sync)
		VALUES ($1, $2, $3)
		ON CONFLICT (faction_id) DO UPDATE SET
			members = EXCLUDED.members,
			last_sync = EXCLUDED.last_sync`,
		snap.FactionID, raw, snap.LastSync)
	return err
}

// UpsertAbas writes activity scores using the best available protocol. When
// the batch repeats a character, the first record wins.
func (t *Tx) UpsertAbas(ctx context.Context, records []model.AbasRecord) error {
	records = uniqueAbas(records)
	if len(records) == 0 {
		return nil
	}
	if ShouldUseCopy(len(records)) {
		return t.upsertAbasCopy(ctx, records)
	}
	return t.upsertAbasInsert(ctx, records)
}

func (t *Tx) upsertAbasInsert(ctx context.Context, records []model.AbasRecord) error {
	const query = `
		INSERT INTO abas_records (character_id, faction_id, abas, last_sync)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (character_id, faction_id) DO UPDATE SET
			abas = EXCLUDED.abas,
			last_sync = EXCLUDED.last_sync
		RETURNING (xmax = 0) AS inserted
	`
	for _, r := range records {
		var inserted bool
		if err := t.tx.QueryRow(ctx, query, r.CharacterID, r.FactionID, r.Abas, r.LastSync).Scan(&inserted); err != nil {
			return err
		}

		status := "updated"
		if inserted {
			status = "inserted"
		}
		t.logger.Debug("abas upsert complete", zap.Int64("character_id", r.CharacterID), zap.String("status", status))
	}
	return nil
}

// upsertAbasCopy loads the batch into a temp table with COPY and merges it
func (t *Tx) upsertAbasCopy(ctx context.Context, records []model.AbasRecord) error {
	_, err := t.tx.Exec(ctx, "CREATE TEMP TABLE abas_records_temp (LIKE abas_records) ON COMMIT DROP")
	if err != nil {
		return fmt.Errorf("failed to create temp table: %w", err)
	}

	_, err = t.tx.CopyFrom(
		ctx,
		pgx.Identifier{"abas_records_temp"},
		abasColumns,
		pgx.CopyFromRows(abasRows(records)),
	)
	if err != nil {
		return fmt.Errorf("copy from failed: %w", err)
	}

	const upsertQuery = `
		INSERT INTO abas_records (character_id, faction_id, abas, last_sync)
		SELECT character_id, faction_id, abas, last_sync FROM abas_records_temp
		ON CONFLICT (character_id, faction_id) DO UPDATE SET
			abas = EXCLUDED.abas,
			last_sync = EXCLUDED.last_sync
	`
	if _, err := t.tx.Exec(ctx, upsertQuery); err != nil {
		return fmt.Errorf("upsert from temp table failed: %w", err)
	}
	_, err = t.tx.Exec(ctx, "DROP TABLE abas_records_temp")
	return err
}

func (t *Tx) UpsertAlternate(ctx context.Context, e model.AlternateCharacterEntry) error {
	alts := e.Alternatives
	if alts == nil {
		alts = []model.CharacterRecord{}
	}
	raw, err := json.Marshal(alts)
	if err != nil {
		return fmt.Errorf("failed to encode alternatives: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO alternate_characters
			(user_id, faction_id, character_id, character_name, rank, manually_set, alternative_characters, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, faction_id) DO UPDATE SET
			character_id = EXCLUDED.character_id,
			character_name = EXCLUDED.character_name,
			rank = EXCLUDED.rank,
			manually_set = EXCLUDED.manually_set,
			alternative_characters = EXCLUDED.alternative_characters,
			updated_at = EXCLUDED.updated_at`,
		e.UserID, e.FactionID, e.CharacterID, e.CharacterName, e.Rank, e.ManuallySet, raw, e.UpdatedAt)
	return err
}

func (t *Tx) DeleteAlternate(ctx context.Context, userID, factionID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM alternate_characters WHERE user_id = $1 AND faction_id = $2`, userID, factionID)
	return err
}

func (t *Tx) DeleteAutomaticMemberships(ctx context.Context, typ model.OrganizationType, categoryID int64, characterIDs []int64) error {
	if len(characterIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `
		DELETE FROM organization_memberships
		WHERE type = $1 AND category_id = $2 AND character_id = ANY($3) AND NOT manual`,
		string(typ), categoryID, characterIDs)
	return err
}

func (t *Tx) InsertAutomaticMemberships(ctx context.Context, typ model.OrganizationType, categoryID int64, characterIDs []int64, at time.Time) error {
	if len(characterIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO organization_memberships (type, category_id, character_id, manual, created_at)
		SELECT $1, $2, id, FALSE, $4 FROM unnest($3::bigint[]) AS id
		ON CONFLICT (type, category_id, character_id) DO NOTHING`,
		string(typ), categoryID, characterIDs, at)
	return err
}

func (t *Tx) ReplaceForumGroupSnapshot(ctx context.Context, snap model.ForumGroupSnapshot) error {
	members := snap.Members
	if members == nil {
		members = []model.ForumGroupMember{}
	}
	raw, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("failed to encode forum group members: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO forum_group_snapshots (faction_id, group_id, name, members, last_sync)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (faction_id, group_id) DO UPDATE SET
			name = EXCLUDED.name,
			members = EXCLUDED.members,
			last_sync = EXCLUDED.last_sync`,
		snap.FactionID, snap.GroupID, snap.Name, raw, snap.LastSync)
	return err
}

func (t *Tx) AppendAudit(ctx context.Context, e model.AuditEntry) (int64, error) {
	summary, err := json.Marshal(e.Summary)
	if err != nil {
		return 0, fmt.Errorf("failed to encode audit summary: %w", err)
	}
	detail := []byte(e.Detail)
	if len(detail) == 0 {
		detail = []byte("{}")
	}

	var id int64
	err = t.tx.QueryRow(ctx, `
		INSERT INTO sync_audit_log (faction_id, kind, actor, summary, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		e.FactionID, string(e.Kind), e.Actor, summary, detail, e.CreatedAt,
	).Scan(&id)
	return id, err
}

var abasColumns = []string{"character_id", "faction_id", "abas", "last_sync"}

func abasRows(records []model.AbasRecord) [][]any {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.CharacterID, r.FactionID, r.Abas, r.LastSync}
	}
	return rows
}

type abasKey struct{ character, faction int64 }

func uniqueAbas(records []model.AbasRecord) []model.AbasRecord {
	seen := make(map[abasKey]struct{}, len(records))
	out := make([]model.AbasRecord, 0, len(records))
	for _, r := range records {
		k := abasKey{r.CharacterID, r.FactionID}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// ShouldUseCopy reports whether a batch of n activity scores is loaded with COPY
func ShouldUseCopy(n int) bool {
	return n >= copyThreshold
}

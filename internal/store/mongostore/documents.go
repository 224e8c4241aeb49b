package mongostore

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/b00skit/antelope-sync/internal/model"
)

// Collection names
const (
	collRosters      = "roster_snapshots"
	collAbas         = "abas_records"
	collAlternates   = "alternate_characters"
	collCategories   = "organization_categories"
	collMemberships  = "organization_memberships"
	collIntegrations = "forum_integrations"
	collForumGroups  = "forum_group_snapshots"
	collAudit        = "sync_audit_log"
	collCounters     = "counters"
)

type rosterDoc struct {
	FactionID int64                   `bson:"_id"`
	Members   []model.CharacterRecord `bson:"members"`
	LastSync  time.Time               `bson:"last_sync"`
}

type abasDoc struct {
	ID          string    `bson:"_id"`
	CharacterID int64     `bson:"character_id"`
	FactionID   int64     `bson:"faction_id"`
	Abas        string    `bson:"abas"`
	LastSync    time.Time `bson:"last_sync"`
}

type alternateDoc struct {
	ID            string                  `bson:"_id"`
	UserID        int64                   `bson:"user_id"`
	FactionID     int64                   `bson:"faction_id"`
	CharacterID   int64                   `bson:"character_id"`
	CharacterName string                  `bson:"character_name"`
	Rank          int                     `bson:"rank"`
	ManuallySet   bool                    `bson:"manually_set"`
	Alternatives  []model.CharacterRecord `bson:"alternative_characters"`
	UpdatedAt     time.Time               `bson:"updated_at"`
}

type categoryDoc struct {
	ID           string `bson:"_id"`
	Type         string `bson:"type"`
	CategoryID   int64  `bson:"category_id"`
	FactionID    int64  `bson:"faction_id"`
	Name         string `bson:"name"`
	ForumGroupID *int64 `bson:"forum_group_id,omitempty"`
}

type membershipDoc struct {
	ID          string    `bson:"_id"`
	Type        string    `bson:"type"`
	CategoryID  int64     `bson:"category_id"`
	CharacterID int64     `bson:"character_id"`
	Manual      bool      `bson:"manual"`
	CreatedAt   time.Time `bson:"created_at"`
}

type integrationDoc struct {
	FactionID int64   `bson:"_id"`
	BaseURL   string  `bson:"base_url"`
	APIKey    string  `bson:"api_key"`
	GroupIDs  []int64 `bson:"group_ids"`
}

type forumGroupDoc struct {
	ID        string                   `bson:"_id"`
	FactionID int64                    `bson:"faction_id"`
	GroupID   int64                    `bson:"group_id"`
	Name      string                   `bson:"name"`
	Members   []model.ForumGroupMember `bson:"members"`
	LastSync  time.Time                `bson:"last_sync"`
}

type auditDoc struct {
	ID        int64              `bson:"_id"`
	FactionID int64              `bson:"faction_id"`
	Kind      string             `bson:"kind"`
	Actor     string             `bson:"actor"`
	Summary   model.AuditSummary `bson:"summary"`
	Detail    string             `bson:"detail"`
	CreatedAt time.Time          `bson:"created_at"`
}

func pairID(a, b int64) string {
	return fmt.Sprintf("%d:%d", a, b)
}

func membershipID(typ model.OrganizationType, categoryID, characterID int64) string {
	return fmt.Sprintf("%s:%d:%d", typ, categoryID, characterID)
}

func toAbasDoc(r model.AbasRecord) abasDoc {
	return abasDoc{
		ID:          pairID(r.CharacterID, r.FactionID),
		CharacterID: r.CharacterID,
		FactionID:   r.FactionID,
		Abas:        r.Abas,
		LastSync:    r.LastSync.UTC(),
	}
}

func (d abasDoc) record() model.AbasRecord {
	return model.AbasRecord{CharacterID: d.CharacterID, FactionID: d.FactionID, Abas: d.Abas, LastSync: d.LastSync}
}

func toAlternateDoc(e model.AlternateCharacterEntry) alternateDoc {
	alts := e.Alternatives
	if alts == nil {
		alts = []model.CharacterRecord{}
	}
	return alternateDoc{
		ID:            pairID(e.UserID, e.FactionID),
		UserID:        e.UserID,
		FactionID:     e.FactionID,
		CharacterID:   e.CharacterID,
		CharacterName: e.CharacterName,
		Rank:          e.Rank,
		ManuallySet:   e.ManuallySet,
		Alternatives:  alts,
		UpdatedAt:     e.UpdatedAt.UTC(),
	}
}

func (d alternateDoc) entry() model.AlternateCharacterEntry {
	return model.AlternateCharacterEntry{
		UserID:        d.UserID,
		FactionID:     d.FactionID,
		CharacterID:   d.CharacterID,
		CharacterName: d.CharacterName,
		Rank:          d.Rank,
		ManuallySet:   d.ManuallySet,
		Alternatives:  d.Alternatives,
		UpdatedAt:     d.UpdatedAt,
	}
}

func (d categoryDoc) category() (model.OrganizationCategory, error) {
	typ, err := model.ParseOrganizationType(d.Type)
	if err != nil {
		return model.OrganizationCategory{}, err
	}
	return model.OrganizationCategory{
		Type:         typ,
		CategoryID:   d.CategoryID,
		FactionID:    d.FactionID,
		Name:         d.Name,
		ForumGroupID: d.ForumGroupID,
	}, nil
}

func (d membershipDoc) membership() model.OrganizationMembership {
	return model.OrganizationMembership{
		Type:        model.OrganizationType(d.Type),
		CategoryID:  d.CategoryID,
		CharacterID: d.CharacterID,
		Manual:      d.Manual,
		CreatedAt:   d.CreatedAt,
	}
}

func toForumGroupDoc(s model.ForumGroupSnapshot) forumGroupDoc {
	members := s.Members
	if members == nil {
		members = []model.ForumGroupMember{}
	}
	return forumGroupDoc{
		ID:        pairID(s.FactionID, s.GroupID),
		FactionID: s.FactionID,
		GroupID:   s.GroupID,
		Name:      s.Name,
		Members:   members,
		LastSync:  s.LastSync.UTC(),
	}
}

func (d forumGroupDoc) snapshot() model.ForumGroupSnapshot {
	return model.ForumGroupSnapshot{FactionID: d.FactionID, GroupID: d.GroupID, Name: d.Name, Members: d.Members, LastSync: d.LastSync}
}

func toAuditDoc(id int64, e model.AuditEntry) auditDoc {
	detail := string(e.Detail)
	if detail == "" {
		detail = "{}"
	}
	return auditDoc{
		ID:        id,
		FactionID: e.FactionID,
		Kind:      string(e.Kind),
		Actor:     e.Actor,
		Summary:   e.Summary,
		Detail:    detail,
		CreatedAt: e.CreatedAt.UTC(),
	}
}

func (d auditDoc) entry() model.AuditEntry {
	return model.AuditEntry{
		ID:        d.ID,
		FactionID: d.FactionID,
		Kind:      model.SyncKind(d.Kind),
		Actor:     d.Actor,
		Summary:   d.Summary,
		Detail:    json.RawMessage(d.Detail),
		CreatedAt: d.CreatedAt,
	}
}

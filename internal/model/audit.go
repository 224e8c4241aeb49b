package model

import (
	"time"

	"github.com/goccy/go-json"
)

// SyncKind names the data set a preview or commit operates on
type SyncKind string

const (
	KindMembers      SyncKind = "members"
	KindAbas         SyncKind = "abas"
	KindForumGroups  SyncKind = "forum_groups"
	KindOrganization SyncKind = "organization"
)

// ParseSyncKind validates a kind coming from a request
func ParseSyncKind(s string) (SyncKind, bool) {
	switch SyncKind(s) {
	case KindMembers, KindAbas, KindForumGroups, KindOrganization:
		return SyncKind(s), true
	}
	return "", false
}

// AuditEntry is appended once per commit. Detail is stored as opaque JSON.
type AuditEntry struct {
	ID        int64           `json:"id"`
	FactionID int64           `json:"faction_id"`
	Kind      SyncKind        `json:"kind"`
	Actor     string          `json:"actor"`
	Summary   AuditSummary    `json:"summary"`
	Detail    json.RawMessage `json:"detail"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditSummary counts what a commit changed
type AuditSummary struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

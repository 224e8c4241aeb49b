package model

import (
	"fmt"
	"strings"
	"time"
)

// OrganizationType distinguishes the two nesting levels below a division
type OrganizationType string

const (
	OrganizationUnit   OrganizationType = "unit"
	OrganizationDetail OrganizationType = "detail"
)

// ParseOrganizationType validates a type coming from a payload or URL
func ParseOrganizationType(s string) (OrganizationType, error) {
	switch OrganizationType(s) {
	case OrganizationUnit, OrganizationDetail:
		return OrganizationType(s), nil
	default:
		return "", fmt.Errorf("unknown organization type %q", s)
	}
}

// OrganizationCategory is a unit or detail that may be linked to a forum group
type OrganizationCategory struct {
	Type         OrganizationType `json:"type"`
	CategoryID   int64            `json:"category_id"`
	FactionID    int64            `json:"faction_id"`
	Name         string           `json:"name"`
	ForumGroupID *int64           `json:"forum_group_id"`
}

// OrganizationMembership is keyed by (type, category, character). Manual rows
// are never touched by sync.
type OrganizationMembership struct {
	Type        OrganizationType `json:"type"`
	CategoryID  int64            `json:"category_id"`
	CharacterID int64            `json:"character_id"`
	Manual      bool             `json:"manual"`
	CreatedAt   time.Time        `json:"created_at"`
}

// ForumIntegration holds the per-faction forum API settings. A faction without
// one has forum features disabled.
type ForumIntegration struct {
	FactionID int64   `json:"faction_id"`
	BaseURL   string  `json:"base_url"`
	APIKey    string  `json:"-"`
	GroupIDs  []int64 `json:"group_ids"`
}

// Active reports whether the integration is usable
func (f *ForumIntegration) Active() bool {
	return f != nil && f.BaseURL != "" && f.APIKey != ""
}

// ForumGroupMember is one member of a forum group
type ForumGroupMember struct {
	Username string `json:"username" bson:"username"`
	Leader   bool   `json:"leader" bson:"leader"`
}

// Name is the member's username in character name form
func (m ForumGroupMember) Name() string {
	return NormalizeUsername(m.Username)
}

// NameSeparator is the character forum usernames use in place of spaces
const NameSeparator = "_"

// NormalizeUsername turns a forum username into a character name
func NormalizeUsername(username string) string {
	return strings.TrimSpace(strings.ReplaceAll(username, NameSeparator, " "))
}

// ForumGroup is the live forum API view of a group
type ForumGroup struct {
	GroupID int64              `json:"group_id"`
	Name    string             `json:"name"`
	Members []ForumGroupMember `json:"members"`
}

// ForumGroupSnapshot is the cached member list of a forum group
type ForumGroupSnapshot struct {
	FactionID int64              `json:"faction_id"`
	GroupID   int64              `json:"group_id"`
	Name      string             `json:"name"`
	Members   []ForumGroupMember `json:"members"`
	LastSync  time.Time          `json:"last_sync"`
}

package executor

import (
	"time"

	"github.com/b00skit/antelope-sync/internal/diff"
	"github.com/b00skit/antelope-sync/internal/identity"
	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/internal/orgsync"
)

type (
	MembersDiff     = diff.Diff[model.CharacterRecord, int64]
	AbasDiff        = diff.Diff[model.AbasEntry, int64]
	ForumMemberDiff = diff.Diff[model.ForumGroupMember, string]
)

// MembersPreview is produced by a members preview and replayed by its commit
type MembersPreview struct {
	FactionID int64       `json:"faction_id"`
	Diff      MembersDiff `json:"diff"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// AbasPreview is produced by an activity-score preview
type AbasPreview struct {
	FactionID int64     `json:"faction_id"`
	Diff      AbasDiff  `json:"diff"`
	FetchedAt time.Time `json:"fetched_at"`
}

// ForumGroupPreview is the diff of one forum group
type ForumGroupPreview struct {
	FactionID int64           `json:"faction_id"`
	GroupID   int64           `json:"group_id"`
	Name      string          `json:"name"`
	Diff      ForumMemberDiff `json:"diff"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// ForumGroupsPreview bundles the per-group diffs of a faction
type ForumGroupsPreview struct {
	FactionID int64               `json:"faction_id"`
	Groups    []ForumGroupPreview `json:"groups"`
}

// UnitPreview is the membership delta of one unit or detail. SourceData
// holds the resolved forum members the delta was computed from.
type UnitPreview struct {
	Type         model.OrganizationType `json:"type"`
	CategoryID   int64                  `json:"category_id"`
	Name         string                 `json:"name"`
	ForumGroupID int64                  `json:"forum_group_id"`
	orgsync.Change
	SourceData []identity.Resolved `json:"source_data"`
}

// DesiredIDs returns the character ids of the source data
func (u UnitPreview) DesiredIDs() []int64 {
	ids := make([]int64, len(u.SourceData))
	for i, r := range u.SourceData {
		ids[i] = r.CharacterID
	}
	return ids
}

// OrganizationPreview bundles the per-unit deltas of a faction
type OrganizationPreview struct {
	FactionID int64         `json:"faction_id"`
	Units     []UnitPreview `json:"units"`
}

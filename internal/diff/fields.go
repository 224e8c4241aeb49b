package diff

import (
	"fmt"
	"strconv"
	"time"

	"github.com/b00skit/antelope-sync/internal/model"
)

// Member field names as they appear in change records
const (
	FieldCharacterName = "character_name"
	FieldUserID        = "user_id"
	FieldRank          = "rank"
	FieldRankName      = "rank_name"
	FieldLastOnline    = "last_online"
	FieldLastDuty      = "last_duty"
	FieldAbas          = "abas"
	FieldLeader        = "leader"
)

// DefaultMemberFields is the compared field set for roster members. Activity
// timestamps are left out because they change on nearly every sync.
var DefaultMemberFields = []string{FieldCharacterName, FieldUserID, FieldRank, FieldRankName}

var memberFields = map[string]Field[model.CharacterRecord]{
	FieldCharacterName: {Name: FieldCharacterName, Value: func(c model.CharacterRecord) string { return c.CharacterName }},
	FieldUserID:        {Name: FieldUserID, Value: func(c model.CharacterRecord) string { return strconv.FormatInt(c.UserID, 10) }},
	FieldRank:          {Name: FieldRank, Value: func(c model.CharacterRecord) string { return strconv.Itoa(c.Rank) }},
	FieldRankName:      {Name: FieldRankName, Value: func(c model.CharacterRecord) string { return c.RankName }},
	FieldLastOnline:    {Name: FieldLastOnline, Value: func(c model.CharacterRecord) string { return formatTime(c.LastOnline) }},
	FieldLastDuty:      {Name: FieldLastDuty, Value: func(c model.CharacterRecord) string { return formatTime(c.LastDuty) }},
}

// MemberFields resolves field names to member accessors
func MemberFields(names []string) ([]Field[model.CharacterRecord], error) {
	if len(names) == 0 {
		names = DefaultMemberFields
	}
	out := make([]Field[model.CharacterRecord], 0, len(names))
	for _, n := range names {
		f, ok := memberFields[n]
		if !ok {
			return nil, fmt.Errorf("unknown member field %q", n)
		}
		out = append(out, f)
	}
	return out, nil
}

// MemberOptions diffs roster members by character id
func MemberOptions(fields []Field[model.CharacterRecord]) Options[model.CharacterRecord, int64] {
	return Options[model.CharacterRecord, int64]{
		Key:           func(c model.CharacterRecord) int64 { return c.CharacterID },
		Fields:        fields,
		TrackRemovals: true,
	}
}

// AbasOptions diffs activity scores by character id without removal tracking
func AbasOptions() Options[model.AbasEntry, int64] {
	return Options[model.AbasEntry, int64]{
		Key: func(e model.AbasEntry) int64 { return e.CharacterID },
		Fields: []Field[model.AbasEntry]{
			{Name: FieldAbas, Value: func(e model.AbasEntry) string { return e.Abas }},
		},
	}
}

// ForumMemberOptions diffs forum group members by normalized username, so
// "Jane_Roe" and "Jane Roe" are the same member
func ForumMemberOptions() Options[model.ForumGroupMember, string] {
	return Options[model.ForumGroupMember, string]{
		Key: model.ForumGroupMember.Name,
		Fields: []Field[model.ForumGroupMember]{
			{Name: FieldLeader, Value: func(m model.ForumGroupMember) string { return strconv.FormatBool(m.Leader) }},
		},
		TrackRemovals: true,
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

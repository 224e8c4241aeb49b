package model

import "time"

// CharacterRecord is one character as reported by the roster API
type CharacterRecord struct {
	CharacterID   int64      `json:"character_id" bson:"character_id"`
	CharacterName string     `json:"character_name" bson:"character_name"`
	UserID        int64      `json:"user_id" bson:"user_id"`
	Rank          int        `json:"rank" bson:"rank"`
	RankName      string     `json:"rank_name" bson:"rank_name"`
	LastOnline    *time.Time `json:"last_online" bson:"last_online,omitempty"`
	LastDuty      *time.Time `json:"last_duty" bson:"last_duty,omitempty"`
}

// RosterSnapshot holds the full external roster of a faction as of LastSync.
// It is always replaced as a whole.
type RosterSnapshot struct {
	FactionID int64             `json:"faction_id"`
	Members   []CharacterRecord `json:"members"`
	LastSync  time.Time         `json:"last_sync"`
}

// AbasEntry is one row of the activity-score API response
type AbasEntry struct {
	CharacterID int64  `json:"character_id"`
	Abas        string `json:"abas"`
}

// AbasRecord is the cached activity score of a character within a faction
type AbasRecord struct {
	CharacterID int64     `json:"character_id"`
	FactionID   int64     `json:"faction_id"`
	Abas        string    `json:"abas"`
	LastSync    time.Time `json:"last_sync"`
}

// Entry returns the comparable upstream view of the cached record
func (r AbasRecord) Entry() AbasEntry {
	return AbasEntry{CharacterID: r.CharacterID, Abas: r.Abas}
}

// AlternateCharacterEntry exists only while an account has two or more
// characters in the faction.
type AlternateCharacterEntry struct {
	UserID        int64             `json:"user_id"`
	FactionID     int64             `json:"faction_id"`
	CharacterID   int64             `json:"character_id"`
	CharacterName string            `json:"character_name"`
	Rank          int               `json:"rank"`
	ManuallySet   bool              `json:"manually_set"`
	Alternatives  []CharacterRecord `json:"alternative_characters"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// AlternateIDs lists the character ids of the alternates in stored order
func (e AlternateCharacterEntry) AlternateIDs() []int64 {
	ids := make([]int64, len(e.Alternatives))
	for i, c := range e.Alternatives {
		ids[i] = c.CharacterID
	}
	return ids
}

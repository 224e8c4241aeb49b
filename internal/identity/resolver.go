// Package identity maps external identifiers onto canonical character ids
// using the latest cached roster as the lookup table.
package identity

import (
	"github.com/b00skit/antelope-sync/internal/model"
)

// Resolver is built once per reconciliation pass. Lookups are O(1). When the
// roster holds duplicate names or ids, the first occurrence in roster order wins.
type Resolver struct {
	byName map[string]model.CharacterRecord
	byID   map[int64]model.CharacterRecord
	byUser map[int64][]model.CharacterRecord
}

// NewResolver indexes a roster
func NewResolver(roster []model.CharacterRecord) *Resolver {
	r := &Resolver{
		byName: make(map[string]model.CharacterRecord, len(roster)),
		byID:   make(map[int64]model.CharacterRecord, len(roster)),
		byUser: make(map[int64][]model.CharacterRecord),
	}
	for _, c := range roster {
		if _, ok := r.byID[c.CharacterID]; ok {
			continue
		}
		r.byID[c.CharacterID] = c
		r.byUser[c.UserID] = append(r.byUser[c.UserID], c)
		if _, ok := r.byName[c.CharacterName]; !ok {
			r.byName[c.CharacterName] = c
		}
	}
	return r
}

// ResolveUsername maps a forum username to a character id
func (r *Resolver) ResolveUsername(username string) (int64, bool) {
	c, ok := r.byName[model.NormalizeUsername(username)]
	if !ok {
		return 0, false
	}
	return c.CharacterID, true
}

// Character looks up a character by id
func (r *Resolver) Character(id int64) (model.CharacterRecord, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// CharactersOf returns the characters owned by an account in roster order
func (r *Resolver) CharactersOf(userID int64) []model.CharacterRecord {
	return r.byUser[userID]
}

// Resolved is a username that matched a roster character
type Resolved struct {
	Username    string `json:"username"`
	CharacterID int64  `json:"character_id"`
}

// ResolveAll maps usernames to characters in input order. Unknown names are
// returned separately; they usually belong to another faction.
func (r *Resolver) ResolveAll(usernames []string) (resolved []Resolved, unknown []string) {
	seen := make(map[int64]struct{}, len(usernames))
	for _, u := range usernames {
		id, ok := r.ResolveUsername(u)
		if !ok {
			unknown = append(unknown, u)
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		resolved = append(resolved, Resolved{Username: u, CharacterID: id})
	}
	return resolved, unknown
}

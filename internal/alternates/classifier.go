// Package alternates derives the primary character and the alternates of every
// account that owns more than one character in a faction.
package alternates

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/internal/store"
	"github.com/b00skit/antelope-sync/pkg/logger"

	"go.uber.org/zap"
)

// Result lists the accounts whose entry was written or removed
type Result struct {
	Upserted  []int64 `json:"upserted"`
	Deleted   []int64 `json:"deleted"`
	Unchanged int     `json:"unchanged"`
	Skipped   int     `json:"skipped"`
}

// Classifier recomputes alternate entries from a full roster
type Classifier struct {
	logger *logger.Logger
	now    func() time.Time
}

// NewClassifier creates a classifier
func NewClassifier(l *logger.Logger) *Classifier {
	return &Classifier{logger: l, now: time.Now}
}

type account struct {
	userID     int64
	characters []model.CharacterRecord
}

// Reconcile recomputes every alternate entry of the faction.
//
// Malformed records are logged and skipped without affecting other accounts.
// Store errors are returned as is; the caller owns the transaction and rolls
// back the whole faction.
func (c *Classifier) Reconcile(ctx context.Context, st store.AlternateStore, factionID int64, members []model.CharacterRecord) (Result, error) {
	var res Result
	log := c.logger.ForFaction(factionID, "alternates")

	existing, err := st.AlternateEntries(ctx, factionID)
	if err != nil {
		return res, fmt.Errorf("failed to load alternate entries: %w", err)
	}
	byUser := make(map[int64]model.AlternateCharacterEntry, len(existing))
	for _, e := range existing {
		byUser[e.UserID] = e
	}

	accounts, skipped := group(members, log)
	res.Skipped = skipped
	present := make(map[int64]struct{}, len(accounts))
	now := c.now()

	for _, acc := range accounts {
		present[acc.userID] = struct{}{}
		prev, hasPrev := byUser[acc.userID]

		if len(acc.characters) < 2 {
			if hasPrev {
				if err := st.DeleteAlternate(ctx, acc.userID, factionID); err != nil {
					return res, fmt.Errorf("failed to delete alternate entry for user %d: %w", acc.userID, err)
				}
				res.Deleted = append(res.Deleted, acc.userID)
			}
			continue
		}

		var pinned *model.AlternateCharacterEntry
		if hasPrev && prev.ManuallySet {
			pinned = &prev
		}
		entry, ok := classify(factionID, acc, pinned)
		if !ok {
			if hasPrev {
				if err := st.DeleteAlternate(ctx, acc.userID, factionID); err != nil {
					return res, fmt.Errorf("failed to delete alternate entry for user %d: %w", acc.userID, err)
				}
				res.Deleted = append(res.Deleted, acc.userID)
			}
			continue
		}

		if hasPrev && sameEntry(prev, entry) {
			res.Unchanged++
			continue
		}

		entry.UpdatedAt = now
		if err := st.UpsertAlternate(ctx, entry); err != nil {
			return res, fmt.Errorf("failed to upsert alternate entry for user %d: %w", acc.userID, err)
		}
		res.Upserted = append(res.Upserted, acc.userID)
	}

	// accounts that no longer have any character in the faction
	for _, e := range existing {
		if _, ok := present[e.UserID]; ok {
			continue
		}
		if err := st.DeleteAlternate(ctx, e.UserID, factionID); err != nil {
			return res, fmt.Errorf("failed to delete alternate entry for user %d: %w", e.UserID, err)
		}
		res.Deleted = append(res.Deleted, e.UserID)
	}

	log.Debug("alternates reconciled",
		zap.Int("upserted", len(res.Upserted)),
		zap.Int("deleted", len(res.Deleted)),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("skipped", res.Skipped))

	return res, nil
}

// group buckets members by account keeping first-seen order of accounts and
// input order of characters
func group(members []model.CharacterRecord, log *logger.Logger) ([]account, int) {
	var accounts []account
	index := make(map[int64]int)
	seenChar := make(map[int64]struct{}, len(members))
	skipped := 0

	for _, m := range members {
		if m.UserID <= 0 || m.CharacterID <= 0 {
			log.Warn("skipping malformed roster record",
				zap.Int64("character_id", m.CharacterID),
				zap.Int64("user_id", m.UserID))
			skipped++
			continue
		}
		if _, dup := seenChar[m.CharacterID]; dup {
			log.Warn("skipping duplicate roster record", zap.Int64("character_id", m.CharacterID))
			skipped++
			continue
		}
		seenChar[m.CharacterID] = struct{}{}

		i, ok := index[m.UserID]
		if !ok {
			i = len(accounts)
			index[m.UserID] = i
			accounts = append(accounts, account{userID: m.UserID})
		}
		accounts[i].characters = append(accounts[i].characters, m)
	}
	return accounts, skipped
}

// classify picks the primary character. A manual pin wins while the pinned
// character is still present; otherwise the highest rank wins and ties keep
// roster order. ok is false when no alternates remain.
func classify(factionID int64, acc account, pinned *model.AlternateCharacterEntry) (model.AlternateCharacterEntry, bool) {
	chars := acc.characters
	primaryIdx := -1
	manual := false

	if pinned != nil {
		for i, ch := range chars {
			if ch.CharacterID == pinned.CharacterID {
				primaryIdx = i
				manual = true
				break
			}
		}
	}

	if primaryIdx < 0 {
		ordered := make([]model.CharacterRecord, len(chars))
		copy(ordered, chars)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Rank > ordered[j].Rank })
		chars = ordered
		primaryIdx = 0
	}

	primary := chars[primaryIdx]
	alts := make([]model.CharacterRecord, 0, len(chars)-1)
	for i, ch := range chars {
		if i != primaryIdx {
			alts = append(alts, ch)
		}
	}
	if len(alts) == 0 {
		return model.AlternateCharacterEntry{}, false
	}

	return model.AlternateCharacterEntry{
		UserID:        acc.userID,
		FactionID:     factionID,
		CharacterID:   primary.CharacterID,
		CharacterName: primary.CharacterName,
		Rank:          primary.Rank,
		ManuallySet:   manual,
		Alternatives:  alts,
	}, true
}

func sameEntry(a, b model.AlternateCharacterEntry) bool {
	if a.CharacterID != b.CharacterID || a.CharacterName != b.CharacterName ||
		a.Rank != b.Rank || a.ManuallySet != b.ManuallySet ||
		len(a.Alternatives) != len(b.Alternatives) {
		return false
	}
	for i := range a.Alternatives {
		x, y := a.Alternatives[i], b.Alternatives[i]
		if x.CharacterID != y.CharacterID || x.CharacterName != y.CharacterName ||
			x.Rank != y.Rank || x.RankName != y.RankName {
			return false
		}
	}
	return true
}

// Package orgsync reconciles unit and detail memberships with the member list
// of the linked forum group. Rows added by an administrator are never touched.
package orgsync

import (
	"context"
	"fmt"
	"time"

	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/internal/store"
)

// Change is the membership delta of one unit or detail
type Change struct {
	Added   []int64 `json:"added"`
	Removed []int64 `json:"removed"`
}

// Empty reports whether the change is a no-op
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// Plan computes the delta between the current rows of a unit and the desired
// character ids.
//
// removed holds automatic rows that are no longer desired. added holds desired
// ids without any row, so a manual membership is never duplicated by an
// automatic one.
func Plan(current []model.OrganizationMembership, desired []int64) Change {
	want := make(map[int64]struct{}, len(desired))
	for _, id := range desired {
		want[id] = struct{}{}
	}

	have := make(map[int64]struct{}, len(current))
	ch := Change{Added: []int64{}, Removed: []int64{}}
	for _, m := range current {
		have[m.CharacterID] = struct{}{}
		if m.Manual {
			continue
		}
		if _, ok := want[m.CharacterID]; !ok {
			ch.Removed = append(ch.Removed, m.CharacterID)
		}
	}

	queued := make(map[int64]struct{}, len(desired))
	for _, id := range desired {
		if _, ok := have[id]; ok {
			continue
		}
		if _, ok := queued[id]; ok {
			continue
		}
		queued[id] = struct{}{}
		ch.Added = append(ch.Added, id)
	}
	return ch
}

// Apply reads the current rows of one unit, plans the delta and writes it as
// delete-then-insert through the caller's transaction
func Apply(ctx context.Context, st store.MembershipStore, typ model.OrganizationType, categoryID int64, desired []int64, at time.Time) (Change, error) {
	current, err := st.Memberships(ctx, typ, categoryID)
	if err != nil {
		return Change{}, fmt.Errorf("failed to load %s %d memberships: %w", typ, categoryID, err)
	}

	ch := Plan(current, desired)
	if len(ch.Removed) > 0 {
		if err := st.DeleteAutomaticMemberships(ctx, typ, categoryID, ch.Removed); err != nil {
			return Change{}, fmt.Errorf("failed to remove %s %d memberships: %w", typ, categoryID, err)
		}
	}
	if len(ch.Added) > 0 {
		if err := st.InsertAutomaticMemberships(ctx, typ, categoryID, ch.Added, at); err != nil {
			return Change{}, fmt.Errorf("failed to add %s %d memberships: %w", typ, categoryID, err)
		}
	}
	return ch, nil
}

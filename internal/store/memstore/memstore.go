// Package memstore is an in-memory implementation of store.Store. Transactions
// work on a copy of the state that replaces the live state on commit.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/internal/store"
)

type userFaction struct{ userID, factionID int64 }
type characterFaction struct{ characterID, factionID int64 }
type factionGroup struct{ factionID, groupID int64 }
type membershipKey struct {
	typ         model.OrganizationType
	categoryID  int64
	characterID int64
}

type state struct {
	rosters      map[int64]model.RosterSnapshot
	abas         map[characterFaction]model.AbasRecord
	alternates   map[userFaction]model.AlternateCharacterEntry
	categories   []model.OrganizationCategory
	memberships  map[membershipKey]model.OrganizationMembership
	integrations map[int64]model.ForumIntegration
	forumGroups  map[factionGroup]model.ForumGroupSnapshot
	audit        []model.AuditEntry
	nextAuditID  int64
}

func newState() *state {
	return &state{
		rosters:      make(map[int64]model.RosterSnapshot),
		abas:         make(map[characterFaction]model.AbasRecord),
		alternates:   make(map[userFaction]model.AlternateCharacterEntry),
		memberships:  make(map[membershipKey]model.OrganizationMembership),
		integrations: make(map[int64]model.ForumIntegration),
		forumGroups:  make(map[factionGroup]model.ForumGroupSnapshot),
		nextAuditID:  1,
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.rosters {
		v.Members = append([]model.CharacterRecord(nil), v.Members...)
		c.rosters[k] = v
	}
	for k, v := range s.abas {
		c.abas[k] = v
	}
	for k, v := range s.alternates {
		v.Alternatives = append([]model.CharacterRecord(nil), v.Alternatives...)
		c.alternates[k] = v
	}
	c.categories = append(c.categories, s.categories...)
	for k, v := range s.memberships {
		c.memberships[k] = v
	}
	for k, v := range s.integrations {
		c.integrations[k] = v
	}
	for k, v := range s.forumGroups {
		v.Members = append([]model.ForumGroupMember(nil), v.Members...)
		c.forumGroups[k] = v
	}
	c.audit = append(c.audit, s.audit...)
	c.nextAuditID = s.nextAuditID
	return c
}

// Store keeps all data in maps guarded by a mutex. Transactions are serialized.
type Store struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	state *state

	// FailWrite, when set, is consulted before every write inside a
	// transaction. Returning an error aborts the transaction.
	FailWrite func(op string) error
}

// New creates an empty store
func New() *Store {
	return &Store{state: newState()}
}

var _ store.Store = (*Store)(nil)

// WithinTx runs fn against a private copy of the state and publishes it on success
func (s *Store) WithinTx(ctx context.Context, fn store.TxFunc) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	work := s.state.clone()
	s.mu.Unlock()

	tx := &Tx{view: view{st: work}, failWrite: s.FailWrite}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transaction panicked: %v", r)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

func (s *Store) read() view {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{st: s.state}
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op
func (s *Store) Close() error { return nil }

func (s *Store) RosterSnapshot(ctx context.Context, factionID int64) (*model.RosterSnapshot, error) {
	return s.read().RosterSnapshot(ctx, factionID)
}

func (s *Store) AbasRecords(ctx context.Context, factionID int64) ([]model.AbasRecord, error) {
	return s.read().AbasRecords(ctx, factionID)
}

func (s *Store) AlternateEntries(ctx context.Context, factionID int64) ([]model.AlternateCharacterEntry, error) {
	return s.read().AlternateEntries(ctx, factionID)
}

func (s *Store) Categories(ctx context.Context, factionID int64) ([]model.OrganizationCategory, error) {
	return s.read().Categories(ctx, factionID)
}

func (s *Store) Memberships(ctx context.Context, typ model.OrganizationType, categoryID int64) ([]model.OrganizationMembership, error) {
	return s.read().Memberships(ctx, typ, categoryID)
}

func (s *Store) ForumIntegration(ctx context.Context, factionID int64) (*model.ForumIntegration, error) {
	return s.read().ForumIntegration(ctx, factionID)
}

func (s *Store) ForumGroupSnapshots(ctx context.Context, factionID int64) ([]model.ForumGroupSnapshot, error) {
	return s.read().ForumGroupSnapshots(ctx, factionID)
}

func (s *Store) AuditLog(ctx context.Context, factionID int64, limit int) ([]model.AuditEntry, error) {
	return s.read().AuditLog(ctx, factionID, limit)
}

// Seeding helpers write outside of a transaction. They model data owned by
// other parts of the panel (admin screens, integration settings).

// PutRoster stores a roster snapshot
func (s *Store) PutRoster(snap model.RosterSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.rosters[snap.FactionID] = snap
}

// PutAbas stores an activity score record
func (s *Store) PutAbas(rec model.AbasRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.abas[characterFaction{rec.CharacterID, rec.FactionID}] = rec
}

// PutAlternate stores an alternate entry, e.g. a manual pin
func (s *Store) PutAlternate(e model.AlternateCharacterEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.alternates[userFaction{e.UserID, e.FactionID}] = e
}

// PutCategory registers a unit or detail
func (s *Store) PutCategory(c model.OrganizationCategory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.categories = append(s.state.categories, c)
}

// PutMembership stores a membership row as given
func (s *Store) PutMembership(m model.OrganizationMembership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.memberships[membershipKey{m.Type, m.CategoryID, m.CharacterID}] = m
}

// PutForumIntegration configures forum access for a faction
func (s *Store) PutForumIntegration(f model.ForumIntegration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.integrations[f.FactionID] = f
}

// PutForumGroup stores a forum group snapshot
func (s *Store) PutForumGroup(snap model.ForumGroupSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.forumGroups[factionGroup{snap.FactionID, snap.GroupID}] = snap
}

type view struct {
	st *state
}

func (v view) RosterSnapshot(ctx context.Context, factionID int64) (*model.RosterSnapshot, error) {
	snap, ok := v.st.rosters[factionID]
	if !ok {
		return nil, nil
	}
	snap.Members = append([]model.CharacterRecord(nil), snap.Members...)
	return &snap, nil
}

func (v view) AbasRecords(ctx context.Context, factionID int64) ([]model.AbasRecord, error) {
	var out []model.AbasRecord
	for k, rec := range v.st.abas {
		if k.factionID == factionID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CharacterID < out[j].CharacterID })
	return out, nil
}

func (v view) AlternateEntries(ctx context.Context, factionID int64) ([]model.AlternateCharacterEntry, error) {
	var out []model.AlternateCharacterEntry
	for k, e := range v.st.alternates {
		if k.factionID == factionID {
			e.Alternatives = append([]model.CharacterRecord(nil), e.Alternatives...)
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (v view) Categories(ctx context.Context, factionID int64) ([]model.OrganizationCategory, error) {
	var out []model.OrganizationCategory
	for _, c := range v.st.categories {
		if c.FactionID == factionID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (v view) Memberships(ctx context.Context, typ model.OrganizationType, categoryID int64) ([]model.OrganizationMembership, error) {
	var out []model.OrganizationMembership
	for k, m := range v.st.memberships {
		if k.typ == typ && k.categoryID == categoryID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CharacterID < out[j].CharacterID })
	return out, nil
}

func (v view) ForumIntegration(ctx context.Context, factionID int64) (*model.ForumIntegration, error) {
	f, ok := v.st.integrations[factionID]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (v view) ForumGroupSnapshots(ctx context.Context, factionID int64) ([]model.ForumGroupSnapshot, error) {
	var out []model.ForumGroupSnapshot
	for k, snap := range v.st.forumGroups {
		if k.factionID == factionID {
			snap.Members = append([]model.ForumGroupMember(nil), snap.Members...)
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out, nil
}

func (v view) AuditLog(ctx context.Context, factionID int64, limit int) ([]model.AuditEntry, error) {
	var out []model.AuditEntry
	for i := len(v.st.audit) - 1; i >= 0; i-- {
		if v.st.audit[i].FactionID != factionID {
			continue
		}
		out = append(out, v.st.audit[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Tx writes into the private copy owned by one WithinTx call
type Tx struct {
	view
	failWrite func(op string) error
}

func (t *Tx) check(op string) error {
	if t.failWrite == nil {
		return nil
	}
	return t.failWrite(op)
}

func (t *Tx) ReplaceRosterSnapshot(ctx context.Context, snap model.RosterSnapshot) error {
	if err := t.check("replace_roster"); err != nil {
		return err
	}
	snap.Members = append([]model.CharacterRecord(nil), snap.Members...)
	t.st.rosters[snap.FactionID] = snap
	return nil
}

func (t *Tx) UpsertAbas(ctx context.Context, records []model.AbasRecord) error {
	if err := t.check("upsert_abas"); err != nil {
		return err
	}
	for _, r := range records {
		t.st.abas[characterFaction{r.CharacterID, r.FactionID}] = r
	}
	return nil
}

func (t *Tx) UpsertAlternate(ctx context.Context, e model.AlternateCharacterEntry) error {
	if err := t.check("upsert_alternate"); err != nil {
		return err
	}
	e.Alternatives = append([]model.CharacterRecord(nil), e.Alternatives...)
	t.st.alternates[userFaction{e.UserID, e.FactionID}] = e
	return nil
}

func (t *Tx) DeleteAlternate(ctx context.Context, userID, factionID int64) error {
	if err := t.check("delete_alternate"); err != nil {
		return err
	}
	delete(t.st.alternates, userFaction{userID, factionID})
	return nil
}

func (t *Tx) DeleteAutomaticMemberships(ctx context.Context, typ model.OrganizationType, categoryID int64, characterIDs []int64) error {
	if err := t.check("delete_memberships"); err != nil {
		return err
	}
	for _, id := range characterIDs {
		k := membershipKey{typ, categoryID, id}
		if m, ok := t.st.memberships[k]; ok && !m.Manual {
			delete(t.st.memberships, k)
		}
	}
	return nil
}

func (t *Tx) InsertAutomaticMemberships(ctx context.Context, typ model.OrganizationType, categoryID int64, characterIDs []int64, at time.Time) error {
	if err := t.check("insert_memberships"); err != nil {
		return err
	}
	for _, id := range characterIDs {
		k := membershipKey{typ, categoryID, id}
		if _, ok := t.st.memberships[k]; ok {
			continue
		}
		t.st.memberships[k] = model.OrganizationMembership{Type: typ, CategoryID: categoryID, CharacterID: id, CreatedAt: at}
	}
	return nil
}

func (t *Tx) ReplaceForumGroupSnapshot(ctx context.Context, snap model.ForumGroupSnapshot) error {
	if err := t.check("replace_forum_group"); err != nil {
		return err
	}
	snap.Members = append([]model.ForumGroupMember(nil), snap.Members...)
	t.st.forumGroups[factionGroup{snap.FactionID, snap.GroupID}] = snap
	return nil
}

func (t *Tx) AppendAudit(ctx context.Context, entry model.AuditEntry) (int64, error) {
	if err := t.check("append_audit"); err != nil {
		return 0, err
	}
	entry.ID = t.st.nextAuditID
	t.st.nextAuditID++
	t.st.audit = append(t.st.audit, entry)
	return entry.ID, nil
}

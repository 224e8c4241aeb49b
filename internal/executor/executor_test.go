package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/b00skit/antelope-sync/internal/audit"
	"github.com/b00skit/antelope-sync/internal/diff"
	"github.com/b00skit/antelope-sync/internal/identity"
	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/internal/store/memstore"
	"github.com/b00skit/antelope-sync/internal/syncerr"
	"github.com/b00skit/antelope-sync/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(ctx context.Context, entry model.AuditEntry) error {
	return m.Called(ctx, entry).Error(0)
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newExecutor(st *memstore.Store, opts ...Option) *Executor {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(st, logger.Nop(), opts...)
}

func membersPreview(factionID int64, members ...model.CharacterRecord) MembersPreview {
	return MembersPreview{FactionID: factionID, Diff: MembersDiff{SourceData: members}}
}

func TestCommitMembersReplacesSnapshotAndClassifies(t *testing.T) {
	ctx := audit.WithActor(context.Background(), "Jane_Roe")
	st := memstore.New()
	st.PutRoster(model.RosterSnapshot{FactionID: 1, Members: []model.CharacterRecord{
		{CharacterID: 1, CharacterName: "Alice", UserID: 10, Rank: 5, RankName: "Captain"},
		{CharacterID: 2, CharacterName: "Bob", UserID: 20, Rank: 1, RankName: "Cadet"},
	}})

	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e model.AuditEntry) bool {
		return e.Kind == model.KindMembers && e.Actor == "Jane_Roe"
	})).Return(nil)

	ex := newExecutor(st, WithPublisher(pub))
	entry, err := ex.CommitMembers(ctx, membersPreview(1,
		model.CharacterRecord{CharacterID: 2, CharacterName: "Bob", UserID: 20, Rank: 2, RankName: "Officer"},
		model.CharacterRecord{CharacterID: 3, CharacterName: "Carol", UserID: 30, Rank: 3, RankName: "Sergeant"},
		model.CharacterRecord{CharacterID: 4, CharacterName: "Carol Alt", UserID: 30, Rank: 1, RankName: "Cadet"},
	))
	require.NoError(t, err)

	assert.Equal(t, model.AuditSummary{Added: 2, Updated: 1, Removed: 1}, entry.Summary)
	assert.Equal(t, fixedNow, entry.CreatedAt)
	assert.NotZero(t, entry.ID)

	snap, err := st.RosterSnapshot(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Len(t, snap.Members, 3)
	assert.Equal(t, fixedNow, snap.LastSync)

	alts, err := st.AlternateEntries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, alts, 1)
	assert.Equal(t, int64(3), alts[0].CharacterID)
	assert.Equal(t, []int64{4}, alts[0].AlternateIDs())

	log, err := st.AuditLog(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, log, 1)
	pub.AssertExpectations(t)
}

func TestCommitMembersRollsBackOnClassifierFailure(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	st.PutRoster(model.RosterSnapshot{FactionID: 1, Members: []model.CharacterRecord{{CharacterID: 1, UserID: 10}}})
	st.FailWrite = func(op string) error {
		if op == "upsert_alternate" {
			return errors.New("deadlock detected")
		}
		return nil
	}

	pub := new(MockPublisher)
	ex := newExecutor(st, WithPublisher(pub))
	_, err := ex.CommitMembers(ctx, membersPreview(1,
		model.CharacterRecord{CharacterID: 1, UserID: 10, Rank: 2},
		model.CharacterRecord{CharacterID: 2, UserID: 10, Rank: 1},
	))
	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrTransactionFailure)
	assert.ErrorContains(t, err, "deadlock detected")

	snap, _ := st.RosterSnapshot(ctx, 1)
	require.NotNil(t, snap)
	assert.Len(t, snap.Members, 1, "snapshot must not change")

	log, _ := st.AuditLog(ctx, 1, 0)
	assert.Empty(t, log)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestCommitMembersIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	ex := newExecutor(st)
	p := membersPreview(1,
		model.CharacterRecord{CharacterID: 1, UserID: 10, Rank: 2},
		model.CharacterRecord{CharacterID: 2, UserID: 10, Rank: 1},
	)

	_, err := ex.CommitMembers(ctx, p)
	require.NoError(t, err)
	first, _ := st.AlternateEntries(ctx, 1)

	second, err := ex.CommitMembers(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, model.AuditSummary{}, second.Summary)

	again, _ := st.AlternateEntries(ctx, 1)
	assert.Equal(t, first, again)
}

func TestCommitMembersRejectsMissingFaction(t *testing.T) {
	ex := newExecutor(memstore.New())
	_, err := ex.CommitMembers(context.Background(), MembersPreview{})
	assert.ErrorIs(t, err, syncerr.ErrInvalidPayload)
}

func TestCommitRejectsMissingSourceData(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	st.PutRoster(model.RosterSnapshot{FactionID: 1, Members: []model.CharacterRecord{{CharacterID: 1, UserID: 10}}})
	st.PutCategory(model.OrganizationCategory{Type: model.OrganizationUnit, CategoryID: 5, FactionID: 1})
	st.PutMembership(model.OrganizationMembership{Type: model.OrganizationUnit, CategoryID: 5, CharacterID: 1})
	st.PutForumIntegration(model.ForumIntegration{FactionID: 1, BaseURL: "https://forum.example", APIKey: "k", GroupIDs: []int64{40}})
	st.PutForumGroup(model.ForumGroupSnapshot{FactionID: 1, GroupID: 40, Members: []model.ForumGroupMember{{Username: "Alice"}}})
	ex := newExecutor(st)

	_, err := ex.CommitMembers(ctx, MembersPreview{FactionID: 1})
	assert.ErrorIs(t, err, syncerr.ErrInvalidPayload)
	_, err = ex.CommitAbas(ctx, AbasPreview{FactionID: 1})
	assert.ErrorIs(t, err, syncerr.ErrInvalidPayload)
	_, err = ex.CommitForumGroups(ctx, ForumGroupsPreview{FactionID: 1, Groups: []ForumGroupPreview{{GroupID: 40}}})
	assert.ErrorIs(t, err, syncerr.ErrInvalidPayload)
	_, err = ex.CommitOrganization(ctx, OrganizationPreview{FactionID: 1, Units: []UnitPreview{{Type: model.OrganizationUnit, CategoryID: 5}}})
	assert.ErrorIs(t, err, syncerr.ErrInvalidPayload)

	snap, err := st.RosterSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, snap.Members, 1)
	rows, err := st.Memberships(ctx, model.OrganizationUnit, 5)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	groups, err := st.ForumGroupSnapshots(ctx, 1)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Members, 1)
}

func TestCommitMembersPublishFailureKeepsCommit(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	ex := newExecutor(st, WithPublisher(pub))
	_, err := ex.CommitMembers(ctx, membersPreview(1, model.CharacterRecord{CharacterID: 1, UserID: 10}))
	require.NoError(t, err)

	snap, _ := st.RosterSnapshot(ctx, 1)
	assert.NotNil(t, snap)
	pub.AssertExpectations(t)
}

func TestCommitAbasUpsertsWithoutRemoving(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	st.PutAbas(model.AbasRecord{CharacterID: 1, FactionID: 1, Abas: "12.00"})
	st.PutAbas(model.AbasRecord{CharacterID: 2, FactionID: 1, Abas: "3.50"})

	ex := newExecutor(st)
	entry, err := ex.CommitAbas(ctx, AbasPreview{FactionID: 1, Diff: AbasDiff{SourceData: []model.AbasEntry{
		{CharacterID: 1, Abas: "12.0"},
		{CharacterID: 3, Abas: "1.00"},
	}}})
	require.NoError(t, err)
	assert.Equal(t, model.AuditSummary{Added: 1, Updated: 1}, entry.Summary)

	recs, err := st.AbasRecords(ctx, 1)
	require.NoError(t, err)
	byChar := map[int64]string{}
	for _, r := range recs {
		byChar[r.CharacterID] = r.Abas
	}
	assert.Equal(t, map[int64]string{1: "12.0", 2: "3.50", 3: "1.00"}, byChar)
}

func TestCommitOrganizationPreservesManualRows(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	st.PutCategory(model.OrganizationCategory{Type: model.OrganizationUnit, CategoryID: 5, FactionID: 1, Name: "SWAT"})
	st.PutMembership(model.OrganizationMembership{Type: model.OrganizationUnit, CategoryID: 5, CharacterID: 10, Manual: true})
	st.PutMembership(model.OrganizationMembership{Type: model.OrganizationUnit, CategoryID: 5, CharacterID: 11})

	ex := newExecutor(st)
	entry, err := ex.CommitOrganization(ctx, OrganizationPreview{FactionID: 1, Units: []UnitPreview{{
		Type:       model.OrganizationUnit,
		CategoryID: 5,
		SourceData: []identity.Resolved{{Username: "Dan Doe", CharacterID: 12}},
	}}})
	require.NoError(t, err)
	assert.Equal(t, model.AuditSummary{Added: 1, Removed: 1}, entry.Summary)

	rows, err := st.Memberships(ctx, model.OrganizationUnit, 5)
	require.NoError(t, err)
	ids := map[int64]bool{}
	for _, r := range rows {
		ids[r.CharacterID] = r.Manual
	}
	assert.Equal(t, map[int64]bool{10: true, 12: false}, ids)
}

func TestCommitOrganizationRejectsForeignCategory(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	st.PutCategory(model.OrganizationCategory{Type: model.OrganizationUnit, CategoryID: 5, FactionID: 1})
	st.PutCategory(model.OrganizationCategory{Type: model.OrganizationDetail, CategoryID: 6, FactionID: 2})

	ex := newExecutor(st)
	_, err := ex.CommitOrganization(ctx, OrganizationPreview{FactionID: 1, Units: []UnitPreview{
		{Type: model.OrganizationUnit, CategoryID: 5, SourceData: []identity.Resolved{{CharacterID: 1}}},
		{Type: model.OrganizationDetail, CategoryID: 6, SourceData: []identity.Resolved{{CharacterID: 2}}},
	}})
	assert.ErrorIs(t, err, syncerr.ErrInvalidPayload)
	assert.NotErrorIs(t, err, syncerr.ErrTransactionFailure)

	rows, _ := st.Memberships(ctx, model.OrganizationUnit, 5)
	assert.Empty(t, rows, "first unit must be rolled back with the batch")
}

func TestCommitForumGroups(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	st.PutForumIntegration(model.ForumIntegration{FactionID: 1, BaseURL: "https://forum.example", APIKey: "k", GroupIDs: []int64{40}})
	st.PutForumGroup(model.ForumGroupSnapshot{FactionID: 1, GroupID: 40, Members: []model.ForumGroupMember{
		{Username: "Alice"}, {Username: "Bob"},
	}})

	ex := newExecutor(st)
	entry, err := ex.CommitForumGroups(ctx, ForumGroupsPreview{FactionID: 1, Groups: []ForumGroupPreview{{
		GroupID: 40,
		Name:    "Command",
		Diff: ForumMemberDiff{SourceData: []model.ForumGroupMember{
			{Username: "Alice", Leader: true},
			{Username: "Carol"},
		}},
	}}})
	require.NoError(t, err)
	assert.Equal(t, model.AuditSummary{Added: 1, Updated: 1, Removed: 1}, entry.Summary)

	snaps, err := st.ForumGroupSnapshots(ctx, 1)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "Command", snaps[0].Name)
	assert.Len(t, snaps[0].Members, 2)
}

func TestCommitForumGroupsValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("no integration", func(t *testing.T) {
		ex := newExecutor(memstore.New())
		_, err := ex.CommitForumGroups(ctx, ForumGroupsPreview{FactionID: 1})
		assert.ErrorIs(t, err, syncerr.ErrNoActiveConfiguration)
	})

	t.Run("unlinked group", func(t *testing.T) {
		st := memstore.New()
		st.PutForumIntegration(model.ForumIntegration{FactionID: 1, BaseURL: "https://forum.example", APIKey: "k", GroupIDs: []int64{40}})
		ex := newExecutor(st)
		_, err := ex.CommitForumGroups(ctx, ForumGroupsPreview{FactionID: 1, Groups: []ForumGroupPreview{{GroupID: 41}}})
		assert.ErrorIs(t, err, syncerr.ErrInvalidPayload)
	})
}

func TestMemberFieldsOption(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	st.PutRoster(model.RosterSnapshot{FactionID: 1, Members: []model.CharacterRecord{{CharacterID: 1, UserID: 10, Rank: 1}}})

	fields, err := diff.MemberFields([]string{diff.FieldCharacterName})
	require.NoError(t, err)

	ex := newExecutor(st, WithMemberFields(fields))
	entry, err := ex.CommitMembers(ctx, membersPreview(1, model.CharacterRecord{CharacterID: 1, UserID: 10, Rank: 4}))
	require.NoError(t, err)
	assert.Equal(t, 0, entry.Summary.Updated, "rank is not compared")
}

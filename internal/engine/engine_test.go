package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/b00skit/antelope-sync/internal/diff"
	"github.com/b00skit/antelope-sync/internal/executor"
	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/internal/store/memstore"
	"github.com/b00skit/antelope-sync/internal/syncerr"
	"github.com/b00skit/antelope-sync/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRoster struct{ mock.Mock }

func (m *MockRoster) Members(ctx context.Context, factionID int64) ([]model.CharacterRecord, error) {
	args := m.Called(ctx, factionID)
	members, _ := args.Get(0).([]model.CharacterRecord)
	return members, args.Error(1)
}

func (m *MockRoster) Abas(ctx context.Context, factionID int64) ([]model.AbasEntry, error) {
	args := m.Called(ctx, factionID)
	entries, _ := args.Get(0).([]model.AbasEntry)
	return entries, args.Error(1)
}

type MockForum struct{ mock.Mock }

func (m *MockForum) Group(ctx context.Context, integration *model.ForumIntegration, groupID int64) (model.ForumGroup, error) {
	args := m.Called(ctx, integration, groupID)
	return args.Get(0).(model.ForumGroup), args.Error(1)
}

func newEngine(t *testing.T, st *memstore.Store, roster RosterSource, forum ForumSource) *Engine {
	t.Helper()
	e, err := New(Config{StaleAfter: time.Hour}, st, roster, forum, logger.Nop())
	require.NoError(t, err)
	return e
}

func int64p(v int64) *int64 { return &v }

func TestPreviewMembersDiffScenario(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	st.PutRoster(model.RosterSnapshot{FactionID: 1, Members: []model.CharacterRecord{
		{CharacterID: 1, CharacterName: "Bob", RankName: "Cadet"},
	}})
	roster := new(MockRoster)
	roster.On("Members", mock.Anything, int64(1)).Return([]model.CharacterRecord{
		{CharacterID: 1, CharacterName: "Bob", RankName: "Officer"},
	}, nil)

	p, err := newEngine(t, st, roster, nil).PreviewMembersDiff(ctx, 1)
	require.NoError(t, err)

	assert.Empty(t, p.Diff.Added)
	assert.Empty(t, p.Diff.Removed)
	require.Len(t, p.Diff.Updated, 1)
	rec := p.Diff.Updated[0]
	assert.Equal(t, int64(1), rec.Key)

	rank, ok := rec.Field(diff.FieldRankName)
	require.True(t, ok)
	assert.Equal(t, diff.FieldChange{Field: diff.FieldRankName, Old: "Cadet", New: "Officer", Changed: true}, rank)
	name, ok := rec.Field(diff.FieldCharacterName)
	require.True(t, ok)
	assert.False(t, name.Changed)
	assert.Equal(t, "Bob", name.New)

	// previews never write
	log, _ := st.AuditLog(ctx, 1, 0)
	assert.Empty(t, log)
	snap, _ := st.RosterSnapshot(ctx, 1)
	assert.Equal(t, "Cadet", snap.Members[0].RankName)
}

func TestPreviewPropagatesUpstreamErrors(t *testing.T) {
	roster := new(MockRoster)
	roster.On("Members", mock.Anything, int64(1)).Return(nil, &syncerr.UpstreamError{Source: "roster", StatusCode: 401, Kind: syncerr.ErrUpstreamAuthExpired})
	roster.On("Abas", mock.Anything, int64(1)).Return(nil, syncerr.Malformed("abas", errors.New("bad shape")))

	e := newEngine(t, memstore.New(), roster, nil)
	_, err := e.PreviewMembersDiff(context.Background(), 1)
	assert.ErrorIs(t, err, syncerr.ErrUpstreamAuthExpired)

	_, err = e.PreviewAbasDiff(context.Background(), 1)
	assert.ErrorIs(t, err, syncerr.ErrMalformedUpstreamPayload)
}

func TestPreviewAbasDiffIsSparse(t *testing.T) {
	st := memstore.New()
	st.PutAbas(model.AbasRecord{CharacterID: 1, FactionID: 1, Abas: "12.00"})
	st.PutAbas(model.AbasRecord{CharacterID: 2, FactionID: 1, Abas: "4.00"})
	roster := new(MockRoster)
	roster.On("Abas", mock.Anything, int64(1)).Return([]model.AbasEntry{{CharacterID: 1, Abas: "12.0"}}, nil)

	p, err := newEngine(t, st, roster, nil).PreviewAbasDiff(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, diff.Stats{Updated: 1}, p.Diff.Stats())
}

func TestForumPreviewsWithoutIntegrationAreEmpty(t *testing.T) {
	forum := new(MockForum)
	e := newEngine(t, memstore.New(), nil, forum)

	groups, err := e.PreviewForumGroupDiff(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, groups.Groups)
	assert.NotNil(t, groups.Groups)

	org, err := e.PreviewOrganizationDiff(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, org.Units)

	forum.AssertNotCalled(t, "Group", mock.Anything, mock.Anything, mock.Anything)
}

func TestPreviewForumGroupDiff(t *testing.T) {
	st := memstore.New()
	st.PutForumIntegration(model.ForumIntegration{FactionID: 1, BaseURL: "https://forum.example", APIKey: "k", GroupIDs: []int64{40, 41}})
	st.PutForumGroup(model.ForumGroupSnapshot{FactionID: 1, GroupID: 40, Members: []model.ForumGroupMember{{Username: "Alice_Doe"}}})

	forum := new(MockForum)
	forum.On("Group", mock.Anything, mock.Anything, int64(40)).Return(model.ForumGroup{GroupID: 40, Name: "Command", Members: []model.ForumGroupMember{
		{Username: "Alice_Doe", Leader: true},
	}}, nil)
	forum.On("Group", mock.Anything, mock.Anything, int64(41)).Return(model.ForumGroup{GroupID: 41, Name: "SWAT", Members: []model.ForumGroupMember{
		{Username: "Bob_Roe"},
	}}, nil)

	p, err := newEngine(t, st, nil, forum).PreviewForumGroupDiff(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, p.Groups, 2)
	assert.Equal(t, int64(40), p.Groups[0].GroupID)
	assert.Equal(t, diff.Stats{Updated: 1}, p.Groups[0].Diff.Stats())
	assert.Equal(t, diff.Stats{Added: 1}, p.Groups[1].Diff.Stats())
}

func TestPreviewForumGroupDiffFailsAsAWhole(t *testing.T) {
	st := memstore.New()
	st.PutForumIntegration(model.ForumIntegration{FactionID: 1, BaseURL: "https://forum.example", APIKey: "k", GroupIDs: []int64{40}})
	forum := new(MockForum)
	forum.On("Group", mock.Anything, mock.Anything, int64(40)).Return(model.ForumGroup{}, syncerr.FromStatus("forum", 503))

	_, err := newEngine(t, st, nil, forum).PreviewForumGroupDiff(context.Background(), 1)
	assert.ErrorIs(t, err, syncerr.ErrUpstreamUnavailable)
}

func seedOrganization(st *memstore.Store) {
	st.PutForumIntegration(model.ForumIntegration{FactionID: 1, BaseURL: "https://forum.example", APIKey: "k", GroupIDs: []int64{40}})
	st.PutRoster(model.RosterSnapshot{FactionID: 1, Members: []model.CharacterRecord{
		{CharacterID: 10, CharacterName: "Alice Doe", UserID: 1},
		{CharacterID: 11, CharacterName: "Bob Roe", UserID: 2},
		{CharacterID: 12, CharacterName: "Carl Poe", UserID: 3},
	}})
	st.PutCategory(model.OrganizationCategory{Type: model.OrganizationUnit, CategoryID: 5, FactionID: 1, Name: "SWAT", ForumGroupID: int64p(40)})
	st.PutCategory(model.OrganizationCategory{Type: model.OrganizationDetail, CategoryID: 6, FactionID: 1, Name: "Unlinked"})
	// manual row for a character missing from the forum group
	st.PutMembership(model.OrganizationMembership{Type: model.OrganizationUnit, CategoryID: 5, CharacterID: 12, Manual: true})
	st.PutMembership(model.OrganizationMembership{Type: model.OrganizationUnit, CategoryID: 5, CharacterID: 11})
}

func TestOrganizationPreviewAndCommit(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seedOrganization(st)

	forum := new(MockForum)
	forum.On("Group", mock.Anything, mock.Anything, int64(40)).Return(model.ForumGroup{GroupID: 40, Members: []model.ForumGroupMember{
		{Username: "Alice_Doe"},
		{Username: "Stranger_Danger"},
	}}, nil)

	e := newEngine(t, st, nil, forum)
	p, err := e.PreviewOrganizationDiff(ctx, 1)
	require.NoError(t, err)
	require.Len(t, p.Units, 1, "only categories linked to a group are synced")

	unit := p.Units[0]
	assert.Equal(t, []int64{10}, unit.Added)
	assert.Equal(t, []int64{11}, unit.Removed)
	assert.Equal(t, []int64{10}, unit.DesiredIDs())

	entry, err := e.CommitOrganization(ctx, 1, p)
	require.NoError(t, err)
	assert.Equal(t, model.AuditSummary{Added: 1, Removed: 1}, entry.Summary)

	rows, _ := st.Memberships(ctx, model.OrganizationUnit, 5)
	got := map[int64]bool{}
	for _, r := range rows {
		got[r.CharacterID] = r.Manual
	}
	assert.Equal(t, map[int64]bool{10: false, 12: true}, got)

	// a second pass converges
	again, err := e.PreviewOrganizationDiff(ctx, 1)
	require.NoError(t, err)
	assert.True(t, again.Units[0].Empty())
}

func TestCommitRejectsForeignPayload(t *testing.T) {
	e := newEngine(t, memstore.New(), nil, nil)
	_, err := e.CommitMembers(context.Background(), 1, executor.MembersPreview{FactionID: 2})
	assert.ErrorIs(t, err, syncerr.ErrInvalidPayload)

	_, err = e.CommitAbas(context.Background(), 0, executor.AbasPreview{})
	assert.ErrorIs(t, err, syncerr.ErrInvalidPayload)
}

func TestSyncMembersThenFresh(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	roster := new(MockRoster)
	roster.On("Members", mock.Anything, int64(1)).Return([]model.CharacterRecord{
		{CharacterID: 101, UserID: 9, Rank: 10},
		{CharacterID: 102, UserID: 9, Rank: 3},
	}, nil)

	e := newEngine(t, st, roster, nil)
	needs, err := e.NeedsMembersSync(ctx, 1)
	require.NoError(t, err)
	assert.True(t, needs)

	res, err := e.Sync(ctx, 1, model.KindMembers)
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Equal(t, diff.Stats{Added: 2}, res.Stats)

	alts, err := e.Alternates(ctx, 1)
	require.NoError(t, err)
	require.Len(t, alts, 1)
	assert.Equal(t, int64(101), alts[0].CharacterID)
	assert.Equal(t, []int64{102}, alts[0].AlternateIDs())

	needs, err = e.NeedsMembersSync(ctx, 1)
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestSyncSkipsUnchangedAbas(t *testing.T) {
	st := memstore.New()
	st.PutAbas(model.AbasRecord{CharacterID: 1, FactionID: 1, Abas: "3.00"})
	roster := new(MockRoster)
	roster.On("Abas", mock.Anything, int64(1)).Return([]model.AbasEntry{{CharacterID: 1, Abas: "3.00"}}, nil)

	res, err := newEngine(t, st, roster, nil).Sync(context.Background(), 1, model.KindAbas)
	require.NoError(t, err)
	assert.False(t, res.Committed)

	log, _ := st.AuditLog(context.Background(), 1, 0)
	assert.Empty(t, log)
}

func TestSyncUnknownKind(t *testing.T) {
	_, err := newEngine(t, memstore.New(), nil, nil).Sync(context.Background(), 1, model.SyncKind("ranks"))
	assert.ErrorIs(t, err, syncerr.ErrInvalidPayload)
}

func TestNeedsSync(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		snap *model.RosterSnapshot
		want bool
	}{
		{"never synced", nil, true},
		{"zero timestamp", &model.RosterSnapshot{}, true},
		{"fresh", &model.RosterSnapshot{LastSync: now.Add(-10 * time.Minute)}, false},
		{"exactly stale", &model.RosterSnapshot{LastSync: now.Add(-time.Hour)}, true},
		{"stale", &model.RosterSnapshot{LastSync: now.Add(-3 * time.Hour)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsSync(tt.snap, now, time.Hour))
		})
	}
}

func TestNewRejectsUnknownMemberField(t *testing.T) {
	_, err := New(Config{MemberFields: []string{"shoe_size"}}, memstore.New(), nil, nil, logger.Nop())
	assert.Error(t, err)
}

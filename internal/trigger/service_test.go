package trigger

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/b00skit/antelope-sync/internal/audit"
	"github.com/b00skit/antelope-sync/internal/diff"
	"github.com/b00skit/antelope-sync/internal/engine"
	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/internal/syncerr"
	"github.com/b00skit/antelope-sync/pkg/consumer"
	"github.com/b00skit/antelope-sync/pkg/logger"
	"github.com/b00skit/antelope-sync/pkg/retry"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type MockSyncer struct{ mock.Mock }

func (m *MockSyncer) Sync(ctx context.Context, factionID int64, kind model.SyncKind) (engine.SyncResult, error) {
	args := m.Called(ctx, factionID, kind)
	return args.Get(0).(engine.SyncResult), args.Error(1)
}

func (m *MockSyncer) NeedsMembersSync(ctx context.Context, factionID int64) (bool, error) {
	args := m.Called(ctx, factionID)
	return args.Bool(0), args.Error(1)
}

type MockConsumer struct{ mock.Mock }

func (m *MockConsumer) Consume(ctx context.Context) (<-chan consumer.Message, <-chan error) {
	args := m.Called(ctx)
	return args.Get(0).(<-chan consumer.Message), args.Get(1).(<-chan error)
}
func (m *MockConsumer) Commit(ctx context.Context, msg consumer.Message) error {
	return m.Called(ctx, msg).Error(0)
}
func (m *MockConsumer) Close() error { return m.Called().Error(0) }

func fastRetry() retry.RetryOptions {
	opts := retry.DefaultOptions()
	opts.MaxAttempts = 3
	opts.InitialInterval = time.Microsecond
	opts.MaxInterval = 10 * time.Microsecond
	return opts
}

func newService(t *testing.T, s Syncer) (*Service, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return NewService(logger.FromZap(zap.New(core)), new(MockConsumer), s, 1, fastRetry()), logs
}

func msg(value string) consumer.Message {
	return consumer.Message{Key: []byte("4"), Value: []byte(value)}
}

func TestDecodeRequest(t *testing.T) {
	r, err := DecodeRequest([]byte(`{"faction_id":4,"kind":"abas","actor":"Jane_Roe"}`))
	require.NoError(t, err)
	assert.Equal(t, Request{FactionID: 4, Kind: model.KindAbas, Actor: "Jane_Roe"}, r)

	for _, bad := range []string{
		`not json`,
		`{"faction_id":0,"kind":"members"}`,
		`{"faction_id":-3,"kind":"members"}`,
		`{"faction_id":4,"kind":"ranks"}`,
		`{"faction_id":4}`,
	} {
		_, err := DecodeRequest([]byte(bad))
		assert.ErrorIs(t, err, ErrBadRequest, bad)
	}
}

func TestDecodeRequestProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("positive faction ids with a known kind decode", prop.ForAll(
		func(id int64, kind string) bool {
			r, err := DecodeRequest([]byte(`{"faction_id":` + strconv.FormatInt(id, 10) + `,"kind":"` + kind + `"}`))
			return err == nil && r.FactionID == id && string(r.Kind) == kind
		},
		gen.Int64Range(1, 1<<40),
		gen.OneConstOf("members", "abas", "forum_groups", "organization"),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestHandleMalformedIsCommitted(t *testing.T) {
	ms := new(MockSyncer)
	s, logs := newService(t, ms)

	assert.NoError(t, s.Handle(context.Background(), msg(`{"kind":"members"}`)))
	assert.Equal(t, 1, logs.FilterMessage("skipping malformed sync request").Len())
	ms.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleSkipsFreshRoster(t *testing.T) {
	ms := new(MockSyncer)
	ms.On("NeedsMembersSync", mock.Anything, int64(4)).Return(false, nil)
	s, _ := newService(t, ms)

	assert.NoError(t, s.Handle(context.Background(), msg(`{"faction_id":4,"kind":"members"}`)))
	ms.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleForceBypassesStaleness(t *testing.T) {
	ms := new(MockSyncer)
	ms.On("Sync", mock.Anything, int64(4), model.KindMembers).
		Return(engine.SyncResult{Kind: model.KindMembers, Committed: true, Stats: diff.Stats{Added: 2}}, nil)
	s, logs := newService(t, ms)

	assert.NoError(t, s.Handle(context.Background(), msg(`{"faction_id":4,"kind":"members","force":true}`)))
	ms.AssertNotCalled(t, "NeedsMembersSync", mock.Anything, mock.Anything)
	entries := logs.FilterMessage("sync committed").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 2, entries[0].ContextMap()["added"])
}

func TestHandlePropagatesActor(t *testing.T) {
	ms := new(MockSyncer)
	ms.On("Sync", mock.MatchedBy(func(ctx context.Context) bool {
		return audit.ActorFrom(ctx) == "Jane_Roe"
	}), int64(4), model.KindAbas).Return(engine.SyncResult{Kind: model.KindAbas}, nil)
	s, _ := newService(t, ms)

	assert.NoError(t, s.Handle(context.Background(), msg(`{"faction_id":4,"kind":"abas","actor":"Jane_Roe"}`)))
	ms.AssertExpectations(t)
}

func TestHandleRetriesTransientFailures(t *testing.T) {
	ms := new(MockSyncer)
	ms.On("Sync", mock.Anything, int64(4), model.KindAbas).
		Return(engine.SyncResult{}, syncerr.Unavailable("roster", errors.New("connection refused"))).Twice()
	ms.On("Sync", mock.Anything, int64(4), model.KindAbas).
		Return(engine.SyncResult{Kind: model.KindAbas, Committed: true}, nil).Once()
	s, logs := newService(t, ms)

	assert.NoError(t, s.Handle(context.Background(), msg(`{"faction_id":4,"kind":"abas"}`)))
	ms.AssertNumberOfCalls(t, "Sync", 3)
	assert.Equal(t, 2, logs.FilterMessage("sync failed, retrying").Len())
}

func TestHandleDropsExpiredCredential(t *testing.T) {
	ms := new(MockSyncer)
	ms.On("Sync", mock.Anything, int64(4), model.KindAbas).
		Return(engine.SyncResult{}, syncerr.FromStatus("roster", 401))
	s, logs := newService(t, ms)

	assert.NoError(t, s.Handle(context.Background(), msg(`{"faction_id":4,"kind":"abas"}`)))
	ms.AssertNumberOfCalls(t, "Sync", 1)

	dropped := logs.FilterMessage("dropping sync request, upstream credential expired").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, zapcore.ErrorLevel, dropped[0].Level)
}

func TestHandleGivesUpAfterMaxAttempts(t *testing.T) {
	ms := new(MockSyncer)
	ms.On("Sync", mock.Anything, int64(4), model.KindOrganization).
		Return(engine.SyncResult{}, syncerr.Transaction(errors.New("serialization failure")))
	s, logs := newService(t, ms)

	assert.NoError(t, s.Handle(context.Background(), msg(`{"faction_id":4,"kind":"organization"}`)))
	ms.AssertNumberOfCalls(t, "Sync", 3)
	assert.Equal(t, 1, logs.FilterMessage("sync request failed").Len())
}

func TestHandleCancelledLeavesMessageUncommitted(t *testing.T) {
	ms := new(MockSyncer)
	ctx, cancel := context.WithCancel(context.Background())
	ms.On("Sync", mock.Anything, int64(4), model.KindAbas).
		Run(func(mock.Arguments) { cancel() }).
		Return(engine.SyncResult{}, syncerr.Unavailable("roster", context.Canceled))
	s, _ := newService(t, ms)

	assert.ErrorIs(t, s.Handle(ctx, msg(`{"faction_id":4,"kind":"abas"}`)), context.Canceled)
}

func TestStartProcessesAndCommits(t *testing.T) {
	ms := new(MockSyncer)
	ms.On("Sync", mock.Anything, int64(4), model.KindAbas).Return(engine.SyncResult{Kind: model.KindAbas}, nil)

	msgs := make(chan consumer.Message, 1)
	errs := make(chan error)
	m := msg(`{"faction_id":4,"kind":"abas"}`)
	msgs <- m
	close(msgs)

	mc := new(MockConsumer)
	mc.On("Consume", mock.Anything).Return((<-chan consumer.Message)(msgs), (<-chan error)(errs))
	mc.On("Commit", mock.Anything, m).Return(nil)
	mc.On("Close").Return(nil)

	s := NewService(logger.Nop(), mc, ms, 2, fastRetry())
	require.NoError(t, s.Start(context.Background()))

	mc.AssertCalled(t, "Commit", mock.Anything, m)
	mc.AssertCalled(t, "Close")
}

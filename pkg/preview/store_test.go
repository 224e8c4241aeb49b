package preview

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestPreviewStoreProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	_, client := newRedis(t)

	fileStore, err := NewFileStore(t.TempDir(), time.Hour)
	require.NoError(t, err)
	redisStore := NewRedisStore(client, "preview:", time.Hour)

	roundTrip := func(s Store) func(factionID int64, kind string, payload map[string]string) bool {
		return func(factionID int64, kind string, payload map[string]string) bool {
			body := []byte(`{}`)
			if len(payload) > 0 {
				body = []byte(`{"k":"v"}`)
			}
			saved, err := s.Save(context.Background(), factionID, kind, body)
			if err != nil {
				return false
			}
			loaded, err := s.Load(context.Background(), saved.ID)
			if err != nil {
				return false
			}
			return loaded.FactionID == factionID && loaded.Kind == kind && string(loaded.Payload) == string(body)
		}
	}

	properties.Property("FileStore persists and loads previews", prop.ForAll(
		roundTrip(fileStore),
		gen.Int64Range(1, 1<<30),
		gen.OneConstOf("members", "abas", "forum_groups", "organization"),
		gen.MapOf(gen.Identifier(), gen.AlphaString()),
	))

	properties.Property("RedisStore persists and loads previews", prop.ForAll(
		roundTrip(redisStore),
		gen.Int64Range(1, 1<<30),
		gen.OneConstOf("members", "abas", "forum_groups", "organization"),
		gen.MapOf(gen.Identifier(), gen.AlphaString()),
	))

	properties.Property("File and Redis backends are equivalent", prop.ForAll(
		func(factionID int64) bool {
			body := []byte(`{"diff":{"added":[]}}`)
			f, err := fileStore.Save(context.Background(), factionID, "members", body)
			if err != nil {
				return false
			}
			r, err := redisStore.Save(context.Background(), factionID, "members", body)
			if err != nil {
				return false
			}
			fl, err1 := fileStore.Load(context.Background(), f.ID)
			rl, err2 := redisStore.Load(context.Background(), r.ID)
			return err1 == nil && err2 == nil &&
				fl.FactionID == rl.FactionID && fl.Kind == rl.Kind && string(fl.Payload) == string(rl.Payload)
		},
		gen.Int64Range(1, 1<<30),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestUnknownAndMalformedIDs(t *testing.T) {
	_, client := newRedis(t)
	fileStore, err := NewFileStore(t.TempDir(), time.Hour)
	require.NoError(t, err)

	for _, s := range []Store{fileStore, NewRedisStore(client, "preview:", time.Hour)} {
		_, err := s.Load(context.Background(), "../../etc/passwd")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Load(context.Background(), "1b4e28ba-2fa1-11d2-883f-0016d3cca427")
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestDeleteConsumesPreview(t *testing.T) {
	_, client := newRedis(t)
	fileStore, err := NewFileStore(t.TempDir(), time.Hour)
	require.NoError(t, err)

	for _, s := range []Store{fileStore, NewRedisStore(client, "preview:", time.Hour)} {
		rec, err := s.Save(context.Background(), 1, "abas", []byte(`{}`))
		require.NoError(t, err)
		require.NoError(t, s.Delete(context.Background(), rec.ID))
		_, err = s.Load(context.Background(), rec.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestExpiry(t *testing.T) {
	mr, client := newRedis(t)
	redisStore := NewRedisStore(client, "preview:", time.Minute)
	rec, err := redisStore.Save(context.Background(), 1, "members", []byte(`{}`))
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = redisStore.Load(context.Background(), rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	fileStore, err := NewFileStore(t.TempDir(), time.Minute)
	require.NoError(t, err)
	rec, err = fileStore.Save(context.Background(), 1, "members", []byte(`{}`))
	require.NoError(t, err)
	fileStore.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = fileStore.Load(context.Background(), rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

package redisstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartparking/internal/models"
	"smartparking/internal/service"
	"smartparking/libs/redis"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "parking:snapshot:abc", key("abc"))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := decode([]byte("{"))
	require.Error(t, err)

	snap, err := decode([]byte(`{"session":{"id":"s-1","status":"active","payment":{"status":"pending","amount_cents":120}},"stale":true}`))
	require.NoError(t, err)
	assert.True(t, snap.Stale)
	assert.Equal(t, int64(120), snap.Session.Payment.AmountCents)
}

// newTestClient connects to REDIS_TEST_ADDR when set, otherwise to an in-process server.
func newTestClient(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	var mr *miniredis.Miniredis
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		mr = miniredis.RunT(t)
		addr = mr.Addr()
	}
	client, err := redis.NewRedisClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	client, _ := newTestClient(t)

	ctx := context.Background()
	store := NewSnapshotStore(client, time.Minute)
	id := "test-" + time.Now().Format("150405.000000")
	defer func() { _ = store.Delete(ctx, id) }()

	missing, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, missing)

	session := &models.Session{ID: id, Status: models.SessionStatusActive, Payment: models.Payment{AmountCents: 250}}
	require.NoError(t, store.Put(ctx, service.CachedSnapshot{Session: session, FetchedAt: time.Now().UTC()}))

	fresh, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.False(t, fresh.Stale)

	require.NoError(t, store.MarkStale(ctx, id))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Stale)
	assert.Equal(t, int64(250), got.Session.Payment.AmountCents)

	ttl, err := client.TTL(ctx, key(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestSnapshotStoreMarkStaleMissingIsNoop(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewSnapshotStore(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.MarkStale(ctx, "never-cached"))
	got, err := store.Get(ctx, "never-cached")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSnapshotStoreExpires(t *testing.T) {
	if os.Getenv("REDIS_TEST_ADDR") != "" {
		t.Skip("needs the in-process server clock")
	}
	client, mr := newTestClient(t)
	store := NewSnapshotStore(client, time.Minute)
	ctx := context.Background()

	session := &models.Session{ID: "s-exp", Status: models.SessionStatusActive}
	require.NoError(t, store.Put(ctx, service.CachedSnapshot{Session: session}))

	mr.FastForward(30 * time.Second)
	require.NoError(t, store.MarkStale(ctx, "s-exp"))
	// the stale marker keeps the original expiry
	mr.FastForward(31 * time.Second)

	got, err := store.Get(ctx, "s-exp")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFetcherInvalidatesThroughRedis(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewSnapshotStore(client, time.Minute)
	ctx := context.Background()

	fetcher := service.NewSnapshotFetcher(staticSessions{
		"s-9": {ID: "s-9", Status: models.SessionStatusActive, Payment: models.Payment{AmountCents: 75}},
	}, store, zap.NewNop())

	_, err := fetcher.Fetch(ctx, "s-9")
	require.NoError(t, err)
	cached, ok := fetcher.Cached(ctx, "s-9")
	require.True(t, ok)
	assert.False(t, cached.Stale)

	fetcher.Invalidate(ctx, "s-9")
	cached, ok = fetcher.Cached(ctx, "s-9")
	require.True(t, ok)
	assert.True(t, cached.Stale)
	assert.Equal(t, int64(75), cached.Session.Payment.AmountCents)
}

type staticSessions map[string]*models.Session

func (s staticSessions) GetSession(_ context.Context, id string) (*models.Session, error) {
	session, ok := s[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *session
	return &cp, nil
}

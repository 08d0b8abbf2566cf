package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartparking/internal/clients"
)

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (*CachedSnapshot, error) {
	return nil, errors.New("cache down")
}

func (brokenStore) Put(context.Context, CachedSnapshot) error {
	return errors.New("cache down")
}

func (brokenStore) MarkStale(context.Context, string) error {
	return errors.New("cache down")
}

func TestFetcherReplacesCachedSnapshot(t *testing.T) {
	backend := newFakeBackend()
	backend.put(activeSnapshot("s-1", 100))
	f := NewSnapshotFetcher(backend, nil, zap.NewNop())
	ctx := context.Background()

	_, ok := f.Cached(ctx, "s-1")
	assert.False(t, ok)

	got, err := f.Fetch(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Payment.AmountCents)

	backend.put(activeSnapshot("s-1", 90))
	_, err = f.Fetch(ctx, "s-1")
	require.NoError(t, err)

	cached, ok := f.Cached(ctx, "s-1")
	require.True(t, ok)
	assert.Equal(t, int64(90), cached.Session.Payment.AmountCents, "the fetcher never merges amounts")
	assert.False(t, cached.Stale)
	assert.False(t, cached.FetchedAt.IsZero())
}

func TestFetcherInvalidate(t *testing.T) {
	backend := newFakeBackend()
	backend.put(activeSnapshot("s-1", 100))
	f := NewSnapshotFetcher(backend, nil, zap.NewNop())
	ctx := context.Background()

	f.Invalidate(ctx, "missing")
	_, err := f.Fetch(ctx, "s-1")
	require.NoError(t, err)
	f.Invalidate(ctx, "s-1")

	cached, ok := f.Cached(ctx, "s-1")
	require.True(t, ok)
	assert.True(t, cached.Stale)

	_, err = f.Fetch(ctx, "s-1")
	require.NoError(t, err)
	cached, _ = f.Cached(ctx, "s-1")
	assert.False(t, cached.Stale)
}

func TestFetcherNotFound(t *testing.T) {
	f := NewSnapshotFetcher(newFakeBackend(), nil, zap.NewNop())
	_, err := f.Fetch(context.Background(), "nope")
	assert.ErrorIs(t, err, clients.ErrNotFound)
}

func TestFetcherToleratesCacheFailures(t *testing.T) {
	backend := newFakeBackend()
	backend.put(activeSnapshot("s-1", 100))
	f := NewSnapshotFetcher(backend, brokenStore{}, zap.NewNop())
	ctx := context.Background()

	got, err := f.Fetch(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", got.ID)

	_, ok := f.Cached(ctx, "s-1")
	assert.False(t, ok)
	f.Invalidate(ctx, "s-1")
}

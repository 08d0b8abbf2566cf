package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"smartparking/internal/service"
)

const defaultTTL = 10 * time.Minute

// SnapshotStore caches session snapshots in redis so several clients on one host share them.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotStore returns redis-backed store.
func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &SnapshotStore{client: client, ttl: ttl}
}

func key(sessionID string) string {
	return fmt.Sprintf("parking:snapshot:%s", sessionID)
}

// Put caches the snapshot, replacing any previous one.
func (s *SnapshotStore) Put(ctx context.Context, snap service.CachedSnapshot) error {
	if snap.Session == nil {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key(snap.Session.ID), data, s.ttl).Err()
}

// Get returns the cached snapshot or nil when there is none.
func (s *SnapshotStore) Get(ctx context.Context, sessionID string) (*service.CachedSnapshot, error) {
	result, err := s.client.Get(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(result)
}

// MarkStale flags the cached snapshot. The remaining TTL is kept.
func (s *SnapshotStore) MarkStale(ctx context.Context, sessionID string) error {
	snap, err := s.Get(ctx, sessionID)
	if err != nil || snap == nil {
		return err
	}
	snap.Stale = true
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.SetArgs(ctx, key(sessionID), data, redis.SetArgs{KeepTTL: true}).Err()
}

// Delete removes cached snapshot.
func (s *SnapshotStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, key(sessionID)).Err()
}

func decode(data []byte) (*service.CachedSnapshot, error) {
	var snap service.CachedSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode cached snapshot: %w", err)
	}
	return &snap, nil
}

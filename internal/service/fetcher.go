package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartparking/internal/models"
)

// SessionGetter fetches the authoritative session record.
type SessionGetter interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
}

// CachedSnapshot is a stored snapshot plus its freshness.
type CachedSnapshot struct {
	Session   *models.Session `json:"session"`
	Stale     bool            `json:"stale"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// SnapshotStore caches the latest snapshot per session id.
type SnapshotStore interface {
	Get(ctx context.Context, id string) (*CachedSnapshot, error)
	Put(ctx context.Context, snap CachedSnapshot) error
	MarkStale(ctx context.Context, id string) error
}

// SnapshotFetcher requests session records and replaces the cached copy. It never merges amounts.
type SnapshotFetcher struct {
	getter SessionGetter
	store  SnapshotStore
	logger *zap.Logger
	now    func() time.Time
}

// NewSnapshotFetcher builds fetcher. A nil store falls back to an in-memory one.
func NewSnapshotFetcher(getter SessionGetter, store SnapshotStore, logger *zap.Logger) *SnapshotFetcher {
	if store == nil {
		store = NewMemorySnapshotStore()
	}
	return &SnapshotFetcher{
		getter: getter,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Fetch retrieves the session and replaces the cached snapshot.
func (f *SnapshotFetcher) Fetch(ctx context.Context, id string) (*models.Session, error) {
	session, err := f.getter.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := f.store.Put(ctx, CachedSnapshot{Session: session, FetchedAt: f.now().UTC()}); err != nil {
		f.logger.Warn("failed to cache session snapshot", zap.String("session_id", id), zap.Error(err))
	}
	return session, nil
}

// Cached returns the last stored snapshot, if any. Cache failures read as a miss.
func (f *SnapshotFetcher) Cached(ctx context.Context, id string) (*CachedSnapshot, bool) {
	snap, err := f.store.Get(ctx, id)
	if err != nil {
		f.logger.Warn("failed to read session snapshot cache", zap.String("session_id", id), zap.Error(err))
		return nil, false
	}
	return snap, snap != nil
}

// Invalidate marks the cached snapshot stale so the next read goes to the backend.
func (f *SnapshotFetcher) Invalidate(ctx context.Context, id string) {
	if err := f.store.MarkStale(ctx, id); err != nil {
		f.logger.Warn("failed to invalidate session snapshot", zap.String("session_id", id), zap.Error(err))
	}
}

// MemorySnapshotStore keeps snapshots in process memory.
type MemorySnapshotStore struct {
	mu   sync.RWMutex
	data map[string]CachedSnapshot
}

// NewMemorySnapshotStore returns initialized store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{data: make(map[string]CachedSnapshot)}
}

// Get returns a copy of the stored snapshot or nil.
func (s *MemorySnapshotStore) Get(_ context.Context, id string) (*CachedSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.data[id]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// Put replaces the snapshot for its session id.
func (s *MemorySnapshotStore) Put(_ context.Context, snap CachedSnapshot) error {
	if snap.Session == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[snap.Session.ID] = snap
	return nil
}

// MarkStale flags the snapshot; missing entries are ignored.
func (s *MemorySnapshotStore) MarkStale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.data[id]; ok {
		snap.Stale = true
		s.data[id] = snap
	}
	return nil
}

package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"smartparking/internal/models"
)

const defaultHistoryLimit = 30

// HistoryLister returns recent sessions from the backend.
type HistoryLister interface {
	History(ctx context.Context, limit int) ([]models.Session, error)
}

// HistoryArchive keeps completed sessions locally.
type HistoryArchive interface {
	Upsert(ctx context.Context, sessions []models.Session) error
	List(ctx context.Context, limit int) ([]models.Session, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// HistoryService lists past sessions, backed by an optional local archive.
type HistoryService struct {
	lister  HistoryLister
	archive HistoryArchive
	logger  *zap.Logger
}

// NewHistoryService builds service. archive may be nil.
func NewHistoryService(lister HistoryLister, archive HistoryArchive, logger *zap.Logger) *HistoryService {
	return &HistoryService{lister: lister, archive: archive, logger: logger}
}

// Recent returns the newest sessions first. Completed sessions are archived; when the backend
// is unreachable the archive is served instead.
func (s *HistoryService) Recent(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	sessions, err := s.lister.History(ctx, limit)
	if err != nil {
		if s.archive == nil {
			return nil, err
		}
		s.logger.Warn("history unavailable, serving archive", zap.Error(err))
		archived, archiveErr := s.archive.List(ctx, limit)
		if archiveErr != nil {
			s.logger.Warn("history archive read failed", zap.Error(archiveErr))
			return nil, err
		}
		return archived, nil
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})

	if s.archive != nil {
		completed := make([]models.Session, 0, len(sessions))
		for _, session := range sessions {
			if session.Completed() {
				completed = append(completed, session)
			}
		}
		if err := s.archive.Upsert(ctx, completed); err != nil {
			s.logger.Warn("history archive write failed", zap.Error(err))
		}
	}
	return sessions, nil
}

// PruneArchive removes archived sessions older than retention. Without an archive it does nothing.
func (s *HistoryService) PruneArchive(ctx context.Context, retention time.Duration) error {
	if s.archive == nil || retention <= 0 {
		return nil
	}
	removed, err := s.archive.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.Info("pruned history archive", zap.Int64("removed", removed))
	}
	return nil
}

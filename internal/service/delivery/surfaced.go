package delivery

import (
	"context"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/restaurant-notify/internal/repository"
	"github.com/jwalitptl/restaurant-notify/pkg/logger"
)

// SurfacedSet tracks notification ids the user has already been shown.
// Entries expire after ttl so a long-lived agent stays bounded; with a
// repository attached the set reads and writes through to it.
type SurfacedSet struct {
	cache  *cache.Cache
	ttl    time.Duration
	repo   repository.SurfacedRepository
	logger *logger.Logger
	now    func() time.Time
}

func NewSurfacedSet(ttl, cleanup time.Duration, repo repository.SurfacedRepository, logger *logger.Logger) *SurfacedSet {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &SurfacedSet{
		cache:  cache.New(ttl, cleanup),
		ttl:    ttl,
		repo:   repo,
		logger: logger.Component("surfaced"),
		now:    time.Now,
	}
}

func key(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (s *SurfacedSet) Contains(ctx context.Context, id int64) bool {
	if _, ok := s.cache.Get(key(id)); ok {
		return true
	}
	if s.repo == nil {
		return false
	}

	ok, err := s.repo.IsSurfaced(ctx, id)
	if err != nil {
		s.logger.Error(err, "Failed to look up surfaced id", "notification_id", id)
		return false
	}
	if ok {
		s.cache.SetDefault(key(id), struct{}{})
	}
	return ok
}

func (s *SurfacedSet) Add(ctx context.Context, id int64) {
	s.cache.SetDefault(key(id), struct{}{})
	if s.repo == nil {
		return
	}
	if err := s.repo.MarkSurfaced(ctx, id, s.now()); err != nil {
		s.logger.Error(err, "Failed to persist surfaced id", "notification_id", id)
	}
}

// SeedAll marks every id of a history fetch as surfaced.
func (s *SurfacedSet) SeedAll(ctx context.Context, ids []int64) {
	for _, id := range ids {
		s.Add(ctx, id)
	}
}

// Warm loads ids surfaced within the ttl from the repository.
func (s *SurfacedSet) Warm(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	since := time.Time{}
	if s.ttl > 0 {
		since = s.now().Add(-s.ttl)
	}
	ids, err := s.repo.ListSurfacedSince(ctx, since)
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.cache.SetDefault(key(id), struct{}{})
	}
	s.logger.Debug("Surfaced set warmed", "count", len(ids))
	return nil
}

// Prune drops persisted ids older than the ttl.
func (s *SurfacedSet) Prune(ctx context.Context) (int64, error) {
	if s.repo == nil || s.ttl <= 0 {
		return 0, nil
	}
	return s.repo.DeleteSurfacedBefore(ctx, s.now().Add(-s.ttl))
}

func (s *SurfacedSet) Len() int {
	return s.cache.ItemCount()
}

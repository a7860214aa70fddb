package redis

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/ilindan-dev/notification-scheduler/internal/domain/model"
	repo "github.com/ilindan-dev/notification-scheduler/internal/domain/repository"
	"github.com/rs/zerolog"
	"time"
)

// Ensure CachedNotificationStore implements the interface
var _ repo.NotificationStore = (*CachedNotificationStore)(nil)

// DefaultCacheTTL is used when no TTL is configured.
const DefaultCacheTTL = 24 * time.Hour

// CachedNotificationStore is a decorator for a NotificationStore that caches lookups by id.
//
// Only terminal records are cached. They never change again, so the cache cannot serve a
// pending record that a concurrent cancel or dispatch has already moved on.
type CachedNotificationStore struct {
	primary repo.NotificationStore
	cache   repo.NotificationCache
	logger  zerolog.Logger
	ttl     time.Duration
}

// NewCachedNotificationStore wraps primary with cache.
func NewCachedNotificationStore(
	primary repo.NotificationStore,
	cache repo.NotificationCache,
	ttl time.Duration,
	logger *zerolog.Logger,
) *CachedNotificationStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedNotificationStore{
		primary: primary,
		cache:   cache,
		logger:  logger.With().Str("layer", "cached_store").Logger(),
		ttl:     ttl,
	}
}

// Insert stores a new pending record; pending records are not cached.
func (s *CachedNotificationStore) Insert(ctx context.Context, n *model.ScheduledNotification) (uuid.UUID, error) {
	return s.primary.Insert(ctx, n)
}

// Get implements the cache-aside pattern for terminal records.
func (s *CachedNotificationStore) Get(ctx context.Context, id uuid.UUID) (*model.ScheduledNotification, error) {
	cached, err := s.cache.Get(ctx, id)
	switch {
	case err == nil && cached.Status.Terminal():
		return cached, nil
	case err == nil:
		// Only terminal records are ever written, so anything else is foreign or stale.
		s.logger.Warn().Stringer("id", id).Str("status", string(cached.Status)).Msg("evicting non-terminal cache entry")
		if err := s.cache.Delete(ctx, id); err != nil {
			s.logger.Error().Err(err).Stringer("id", id).Msg("failed to evict cache entry")
		}
	case !errors.Is(err, repo.ErrNotFound):
		s.logger.Error().Err(err).Stringer("id", id).Msg("cache get error, falling back to primary store")
	}

	n, err := s.primary.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if n.Status.Terminal() {
		if err := s.cache.Set(ctx, n, s.ttl); err != nil {
			s.logger.Error().Err(err).Stringer("id", id).Msg("failed to set cache after store fetch")
		}
	}
	return n, nil
}

func (s *CachedNotificationStore) FindDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return s.primary.FindDue(ctx, now)
}

func (s *CachedNotificationStore) Claim(ctx context.Context, id uuid.UUID, until time.Time) (bool, error) {
	return s.primary.Claim(ctx, id, until)
}

func (s *CachedNotificationStore) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.primary.Release(ctx, id)
}

func (s *CachedNotificationStore) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	return s.primary.MarkSent(ctx, id, sentAt)
}

func (s *CachedNotificationStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	return s.primary.MarkFailed(ctx, id, errMsg)
}

func (s *CachedNotificationStore) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.primary.Cancel(ctx, id)
}

func (s *CachedNotificationStore) Query(ctx context.Context, filter model.Filter) ([]model.ScheduledNotification, error) {
	return s.primary.Query(ctx, filter)
}

func (s *CachedNotificationStore) Stats(ctx context.Context) (model.AggregateStats, error) {
	return s.primary.Stats(ctx)
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/ilindan-dev/notification-scheduler/internal/domain/model"
	repo "github.com/ilindan-dev/notification-scheduler/internal/domain/repository"
	"github.com/ilindan-dev/notification-scheduler/pkg/keybuilder"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"time"
)

// Ensure NotificationCache implements the interface
var _ repo.NotificationCache = (*NotificationCache)(nil)

// cacheClient is the part of goredis.Client the cache uses.
type cacheClient interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// cachedNotification is the JSON form of a record in redis.
type cachedNotification struct {
	ID          uuid.UUID         `json:"id"`
	Kind        model.Kind        `json:"kind"`
	Address     string            `json:"recipient_address"`
	DisplayName string            `json:"recipient_name,omitempty"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	Status      model.Status      `json:"status"`
	ContextData map[string]string `json:"context_data,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	SentAt      *time.Time        `json:"sent_at,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	Attempt     int               `json:"attempt"`
	RetryOf     *uuid.UUID        `json:"retry_of,omitempty"`
}

// NotificationCache keeps terminal notifications in redis, keyed by id.
type NotificationCache struct {
	redis  cacheClient
	logger zerolog.Logger
}

// NewNotificationCache creates a new instance of the NotificationCache.
func NewNotificationCache(logger *zerolog.Logger, redis *goredis.Client) *NotificationCache {
	return newNotificationCache(logger, redis)
}

func newNotificationCache(logger *zerolog.Logger, redis cacheClient) *NotificationCache {
	return &NotificationCache{
		redis:  redis,
		logger: logger.With().Str("layer", "redis_cache").Logger(),
	}
}

// Get returns the cached record or repository.ErrNotFound on a miss. An entry that no longer
// decodes is dropped and reported as a miss.
func (c *NotificationCache) Get(ctx context.Context, id uuid.UUID) (*model.ScheduledNotification, error) {
	key := keybuilder.RedisNotificationKeyBuild(id)
	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			c.logger.Debug().Str("key", key).Str("cache", "miss").Msg("notification not found in cache")
			return nil, repo.ErrNotFound
		}
		c.logger.Error().Err(err).Str("key", key).Msg("failed to get key from redis")
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}

	n, err := decodeCached(val)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		if delErr := c.Delete(ctx, id); delErr != nil {
			return nil, delErr
		}
		return nil, repo.ErrNotFound
	}

	c.logger.Debug().Str("key", key).Str("cache", "hit").Msg("notification found in cache")
	return n, nil
}

// Set stores n for the given duration.
func (c *NotificationCache) Set(ctx context.Context, n *model.ScheduledNotification, expiration time.Duration) error {
	key := keybuilder.RedisNotificationKeyBuild(n.ID)
	b, err := encodeCached(n)
	if err != nil {
		return err
	}
	if err := c.redis.Set(ctx, key, b, expiration).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("failed to set key in redis")
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Delete removes the entry for id. A missing entry is not an error.
func (c *NotificationCache) Delete(ctx context.Context, id uuid.UUID) error {
	key := keybuilder.RedisNotificationKeyBuild(id)
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("failed to delete key from redis")
		return fmt.Errorf("redis: delete %s: %w", key, err)
	}
	return nil
}

func encodeCached(n *model.ScheduledNotification) ([]byte, error) {
	b, err := json.Marshal(cachedNotification{
		ID:          n.ID,
		Kind:        n.Kind,
		Address:     n.Recipient.Address,
		DisplayName: n.Recipient.DisplayName,
		ScheduledAt: n.ScheduledAt,
		Status:      n.Status,
		ContextData: n.ContextData,
		CreatedAt:   n.CreatedAt,
		SentAt:      n.SentAt,
		LastError:   n.LastError,
		Attempt:     n.Attempt,
		RetryOf:     n.RetryOf,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: encode notification %s: %w", n.ID, err)
	}
	return b, nil
}

func decodeCached(b []byte) (*model.ScheduledNotification, error) {
	var c cachedNotification
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("redis: decode cached notification: %w", err)
	}
	if c.ID == uuid.Nil || !c.Status.Valid() || !c.Kind.Valid() {
		return nil, errors.New("redis: cached notification is incomplete")
	}
	return &model.ScheduledNotification{
		ID:          c.ID,
		Kind:        c.Kind,
		Recipient:   model.Recipient{Address: c.Address, DisplayName: c.DisplayName},
		ScheduledAt: c.ScheduledAt,
		Status:      c.Status,
		ContextData: c.ContextData,
		CreatedAt:   c.CreatedAt,
		SentAt:      c.SentAt,
		LastError:   c.LastError,
		Attempt:     c.Attempt,
		RetryOf:     c.RetryOf,
	}, nil
}

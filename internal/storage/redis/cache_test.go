package redis

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/ilindan-dev/notification-scheduler/internal/domain/model"
	repo "github.com/ilindan-dev/notification-scheduler/internal/domain/repository"
	"github.com/ilindan-dev/notification-scheduler/pkg/keybuilder"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

type fakeCacheClient struct {
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
	delErr error
	dels   []string
}

func newFakeCacheClient() *fakeCacheClient {
	return &fakeCacheClient{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *fakeCacheClient) Get(_ context.Context, key string) *goredis.StringCmd {
	if c.getErr != nil {
		return goredis.NewStringResult("", c.getErr)
	}
	v, ok := c.values[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (c *fakeCacheClient) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd {
	c.values[key] = string(value.([]byte))
	c.ttls[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func (c *fakeCacheClient) Del(_ context.Context, keys ...string) *goredis.IntCmd {
	c.dels = append(c.dels, keys...)
	if c.delErr != nil {
		return goredis.NewIntResult(0, c.delErr)
	}
	var n int64
	for _, k := range keys {
		if _, ok := c.values[k]; ok {
			delete(c.values, k)
			n++
		}
	}
	return goredis.NewIntResult(n, nil)
}

func newTestCache(client cacheClient) *NotificationCache {
	logger := zerolog.Nop()
	return newNotificationCache(&logger, client)
}

func sentNotification() *model.ScheduledNotification {
	n := model.NewScheduledNotification(model.KindMarketing, model.Recipient{Address: "ada@example.com"}, epoch,
		map[string]string{model.DataTemplate: "promotion"})
	n.Status = model.StatusSent
	sentAt := epoch.Add(time.Second)
	n.SentAt = &sentAt
	n.CreatedAt = epoch
	return n
}

func TestNotificationCache_SetThenGet(t *testing.T) {
	client := newFakeCacheClient()
	c := newTestCache(client)
	ctx := context.Background()
	n := sentNotification()

	require.NoError(t, c.Set(ctx, n, time.Hour))
	assert.Equal(t, time.Hour, client.ttls[keybuilder.RedisNotificationKeyBuild(n.ID)])

	got, err := c.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestNotificationCache_Miss(t *testing.T) {
	_, err := newTestCache(newFakeCacheClient()).Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestNotificationCache_GetError(t *testing.T) {
	client := newFakeCacheClient()
	client.getErr = errors.New("i/o timeout")

	_, err := newTestCache(client).Get(context.Background(), uuid.New())
	assert.ErrorContains(t, err, "i/o timeout")
	assert.NotErrorIs(t, err, repo.ErrNotFound)
}

func TestNotificationCache_DropsUndecodableEntry(t *testing.T) {
	client := newFakeCacheClient()
	c := newTestCache(client)
	id := uuid.New()
	key := keybuilder.RedisNotificationKeyBuild(id)
	client.values[key] = `{"id":`

	_, err := c.Get(context.Background(), id)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.Equal(t, []string{key}, client.dels)
	assert.NotContains(t, client.values, key)
}

func TestNotificationCache_DeleteError(t *testing.T) {
	client := newFakeCacheClient()
	client.delErr = errors.New("READONLY")

	err := newTestCache(client).Delete(context.Background(), uuid.New())
	assert.ErrorContains(t, err, "READONLY")
}

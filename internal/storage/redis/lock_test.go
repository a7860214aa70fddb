package redis

import (
	"context"
	"errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

// fakeLockClient keeps keys in a map and runs the release script by hand.
type fakeLockClient struct {
	goredis.Scripter

	mu      sync.Mutex
	keys    map[string]string
	ttls    []time.Duration
	setErr  error
	evalErr error
	evals   int
}

func newFakeLockClient() *fakeLockClient {
	return &fakeLockClient{keys: make(map[string]string)}
}

func (c *fakeLockClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttls = append(c.ttls, expiration)
	if c.setErr != nil {
		return goredis.NewBoolResult(false, c.setErr)
	}
	if _, held := c.keys[key]; held {
		return goredis.NewBoolResult(false, nil)
	}
	c.keys[key] = value.(string)
	return goredis.NewBoolResult(true, nil)
}

func (c *fakeLockClient) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *goredis.Cmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evals++
	if c.evalErr != nil {
		return goredis.NewCmdResult(nil, c.evalErr)
	}
	if c.keys[keys[0]] == args[0] {
		delete(c.keys, keys[0])
		return goredis.NewCmdResult(int64(1), nil)
	}
	return goredis.NewCmdResult(int64(0), nil)
}

func (c *fakeLockClient) holder(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.keys[key]
	return v, ok
}

func newTestLock(client lockClient, ttl time.Duration) *TickLock {
	logger := zerolog.Nop()
	return newTickLock(client, "dispatch", ttl, &logger)
}

func TestTickLock_ExcludesSecondHolder(t *testing.T) {
	client := newFakeLockClient()
	a := newTestLock(client, 50*time.Second)
	b := newTestLock(client, 50*time.Second)
	ctx := context.Background()

	release, ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, release)
	assert.Equal(t, []time.Duration{50 * time.Second}, client.ttls)

	_, held := client.holder("redis:lock:scheduler:dispatch")
	assert.True(t, held)

	other, ok, err := b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, other)

	release()
	_, held = client.holder("redis:lock:scheduler:dispatch")
	assert.False(t, held)

	release, ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestTickLock_ReleaseKeepsForeignToken(t *testing.T) {
	client := newFakeLockClient()
	l := newTestLock(client, time.Second)
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// The lock expired and another instance took it.
	client.mu.Lock()
	client.keys["redis:lock:scheduler:dispatch"] = "someone-else"
	client.mu.Unlock()

	release()
	token, held := client.holder("redis:lock:scheduler:dispatch")
	assert.True(t, held)
	assert.Equal(t, "someone-else", token)
}

func TestTickLock_ReleaseOutlivesCancelledTick(t *testing.T) {
	client := newFakeLockClient()
	l := newTestLock(client, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	release, ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	cancel()
	release()
	_, held := client.holder("redis:lock:scheduler:dispatch")
	assert.False(t, held)
}

func TestTickLock_Errors(t *testing.T) {
	t.Run("set error", func(t *testing.T) {
		client := newFakeLockClient()
		client.setErr = errors.New("connection refused")

		release, ok, err := newTestLock(client, time.Second).TryLock(context.Background())
		assert.ErrorContains(t, err, "connection refused")
		assert.False(t, ok)
		assert.Nil(t, release)
	})

	t.Run("non-positive ttl never writes a key", func(t *testing.T) {
		client := newFakeLockClient()

		_, ok, err := newTestLock(client, 0).TryLock(context.Background())
		assert.Error(t, err)
		assert.False(t, ok)
		assert.Empty(t, client.ttls)
	})

	t.Run("release error is swallowed", func(t *testing.T) {
		client := newFakeLockClient()
		release, ok, err := newTestLock(client, time.Second).TryLock(context.Background())
		require.NoError(t, err)
		require.True(t, ok)

		client.evalErr = errors.New("redis down")
		assert.NotPanics(t, release)
		assert.Equal(t, 1, client.evals)
	})
}

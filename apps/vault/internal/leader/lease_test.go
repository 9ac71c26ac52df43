package leader

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return s, client
}

func TestRedisLease_SingleHolder(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()

	a := NewRedisLease(client, "vault:watcher", 30*time.Second, zap.NewNop())
	b := NewRedisLease(client, "vault:watcher", 30*time.Second, zap.NewNop())

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// Holder renews.
	ok, err = a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLease_ExpiresAndFailsOver(t *testing.T) {
	s, client := newClient(t)
	ctx := context.Background()

	a := NewRedisLease(client, "vault:watcher", 10*time.Second, zap.NewNop())
	b := NewRedisLease(client, "vault:watcher", 10*time.Second, zap.NewNop())

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	s.FastForward(11 * time.Second)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLease_RenewExtendsTTL(t *testing.T) {
	s, client := newClient(t)
	ctx := context.Background()

	a := NewRedisLease(client, "vault:watcher", 10*time.Second, zap.NewNop())
	_, err := a.Acquire(ctx)
	require.NoError(t, err)

	s.FastForward(8 * time.Second)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	s.FastForward(8 * time.Second)
	assert.True(t, s.Exists("vault:watcher"))
}

func TestRedisLease_Release(t *testing.T) {
	s, client := newClient(t)
	ctx := context.Background()

	a := NewRedisLease(client, "vault:watcher", 30*time.Second, zap.NewNop())
	b := NewRedisLease(client, "vault:watcher", 30*time.Second, zap.NewNop())

	_, err := a.Acquire(ctx)
	require.NoError(t, err)

	// Only the holder can release.
	require.NoError(t, b.Release(ctx))
	assert.True(t, s.Exists("vault:watcher"))

	require.NoError(t, a.Release(ctx))
	assert.False(t, s.Exists("vault:watcher"))

	ok, err := b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStandalone(t *testing.T) {
	ok, err := Standalone{}.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, Standalone{}.Release(context.Background()))
}

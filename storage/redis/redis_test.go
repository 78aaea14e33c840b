package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/idp-sessions-go/storage"
	"github.com/ggoodman/idp-sessions-go/storage/redis"
	"github.com/ggoodman/idp-sessions-go/storage/storagetest"
)

func newStorage(t *testing.T) (*redis.Storage, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s, err := redis.New(redis.Config{Client: client, KeyPrefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStorage_Contract(t *testing.T) {
	storagetest.RunStorageTests(t, func(t *testing.T) storage.Storage {
		s, _ := newStorage(t)
		return s
	})
}

func TestRedisStorage_KeysCarryGraceTTL(t *testing.T) {
	s, mr := newStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "session", "abc", []byte("v"), storage.WithTTL(time.Minute)))

	assert.True(t, mr.Exists("test:p:session:abc"))
	ttl := mr.TTL("test:p:session:abc")
	assert.Greater(t, ttl, time.Minute, "redis TTL should extend past the item expiry")
	assert.LessOrEqual(t, ttl, time.Minute+5*time.Minute)

	members, err := mr.ZMembers("test:x:session")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, members)
}

func TestRedisStorage_SetLongExpiredDeletes(t *testing.T) {
	s, mr := newStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "session", "abc", []byte("v")))
	require.NoError(t, s.Set(ctx, "session", "abc", []byte("v"), storage.WithExpiresAt(time.Now().Add(-time.Hour))))

	assert.False(t, mr.Exists("test:p:session:abc"))
}

func TestRedisStorage_SweepNotifiesExpired(t *testing.T) {
	s, _ := newStorage(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []storage.Eviction
	s.NotifyEvictions("session", func(ev storage.Eviction) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	require.NoError(t, s.Set(ctx, "session", "old", []byte("x"), storage.WithExpiresAt(time.Now().Add(-time.Second))))
	require.NoError(t, s.Set(ctx, "session", "fresh", []byte("y"), storage.WithTTL(time.Hour)))

	require.NoError(t, s.Sweep(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "session", got[0].Partition)
	assert.Equal(t, "old", got[0].Key)
	assert.Nil(t, got[0].Item)

	item, err := s.Get(ctx, "session", "old")
	require.NoError(t, err)
	require.NotNil(t, item, "expired item should stay until its owner deletes it")
	assert.True(t, item.IsExpired())
}

func TestRedisStorage_SweepWithoutNotifierDeletes(t *testing.T) {
	s, mr := newStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "session", "old", []byte("x"), storage.WithExpiresAt(time.Now().Add(-time.Second))))
	require.NoError(t, s.Sweep(ctx))

	assert.False(t, mr.Exists("test:p:session:old"))
	assert.False(t, mr.Exists("test:x:session"))
}

func TestRedisStorage_SweepPrunesVanishedKeys(t *testing.T) {
	s, mr := newStorage(t)
	ctx := context.Background()

	var calls int
	s.NotifyEvictions("session", func(storage.Eviction) { calls++ })

	require.NoError(t, s.Set(ctx, "session", "gone", []byte("x"), storage.WithExpiresAt(time.Now().Add(-time.Second))))
	mr.Del("test:p:session:gone")

	require.NoError(t, s.Sweep(ctx))
	assert.Equal(t, 0, calls)
	assert.False(t, mr.Exists("test:x:session"))
}

func TestRedisStorage_SweepIsScopedToWatchedPartitions(t *testing.T) {
	s, mr := newStorage(t)
	ctx := context.Background()

	var calls int
	s.NotifyEvictions("session", func(storage.Eviction) { calls++ })

	past := time.Now().Add(-time.Second)
	require.NoError(t, s.Set(ctx, "session", "watched", []byte("x"), storage.WithExpiresAt(past)))
	require.NoError(t, s.Set(ctx, "artifact", "unwatched", []byte("y"), storage.WithExpiresAt(past)))

	require.NoError(t, s.Sweep(ctx))
	assert.Equal(t, 1, calls)
	assert.True(t, mr.Exists("test:p:session:watched"))
	assert.False(t, mr.Exists("test:p:artifact:unwatched"))
}

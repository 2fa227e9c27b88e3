package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "TextRelay/internal/errors"
	"TextRelay/internal/storage/redis"
)

// startRedis 启动一个临时 Redis 容器，Docker 不可用时跳过测试。
func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping docker-backed test in short mode")
	}
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	pool.MaxWait = 30 * time.Second

	resource, err := pool.Run("redis", "7-alpine", nil)
	if err != nil {
		t.Skipf("cannot start redis container: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	addr := resource.GetHostPort("6379/tcp")
	err = pool.Retry(func() error {
		client := goredis.NewClient(&goredis.Options{Addr: addr})
		defer client.Close()
		return client.Ping(context.Background()).Err()
	})
	require.NoError(t, err)
	return addr
}

func newRedisStore(t *testing.T, addr string) *RedisStore {
	t.Helper()
	client, err := redis.NewClient(redis.Config{Address: addr, OpTimeout: time.Second})
	require.NoError(t, err)
	store := NewRedisStore(client, MustKeyScheme(fmt.Sprintf("test-%d", time.Now().UnixNano())), time.Second)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStoreAgainstContainer(t *testing.T) {
	addr := startRedis(t)
	store := newRedisStore(t, addr)
	ctx := context.Background()

	require.NoError(t, store.HealthCheck(ctx))
	assert.Equal(t, "redis", store.Backend())

	in := sampleTask("r1", time.Now().UTC())
	require.NoError(t, store.Put(ctx, "r1", in, time.Minute))

	out, found, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, in.Input, out.Input)

	ids, err := store.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, ids)

	ttl, err := store.client.TTL(ctx, store.scheme.Key(NamespaceTask, "r1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	require.NoError(t, store.Delete(ctx, "r1"))
	_, found, err = store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.client.Set(ctx, store.scheme.Key(NamespaceTask, "junk"), "{", time.Minute).Err())
	_, _, err = store.Get(ctx, "junk")
	assert.True(t, errors.Is(err, ErrStoreCorrupt))
}

func TestRedisBackedManagerRoundTrip(t *testing.T) {
	addr := startRedis(t)
	store := newRedisStore(t, addr)

	queueClient, err := redis.NewClient(redis.Config{Address: addr, OpTimeout: time.Second})
	require.NoError(t, err)
	queue := NewRedisQueue(queueClient, store.scheme, "", 200*time.Millisecond)
	m := NewManager(store, queue, &scriptedProcessor{result: "Hello world"})
	t.Cleanup(func() { _ = m.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = NewWorker(m, queue, WithWorkerCount(2)).Start(ctx) }()

	submitted, err := m.Submit(ctx, translateRequest())
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	final, err := m.WaitUntilCompleted(waitCtx, submitted.ID, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "Hello world", final.Result)
}

func TestRedisUnreachableDegradesToMemory(t *testing.T) {
	client, err := redis.NewClient(redis.Config{Address: "127.0.0.1:1", OpTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	preferred := NewRedisStore(client, MustKeyScheme("test"), 100*time.Millisecond)

	sel := SelectStore(context.Background(), preferred, func() ResultStore {
		return NewMemoryStore(MustKeyScheme("test"), 0)
	}, 200*time.Millisecond, nil)
	t.Cleanup(func() { _ = sel.Store.Close() })

	assert.True(t, sel.Degraded)
	assert.Equal(t, xerrors.CodeStoreUnavailable, xerrors.CodeOf(sel.Reason))

	ctx := context.Background()
	require.NoError(t, sel.Store.Put(ctx, "x", sampleTask("x", time.Now()), time.Minute))
	_, found, err := sel.Store.Get(ctx, "x")
	require.NoError(t, err)
	assert.True(t, found)
}

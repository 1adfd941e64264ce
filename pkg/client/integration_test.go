package client_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pzhenzhou/rediscodec/pkg/backend"
	"github.com/pzhenzhou/rediscodec/pkg/client"
	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

// These tests talk to a real server and compare results with go-redis.
// Set REDIS_ADDR (host:port) to run them.
func setupLive(t *testing.T) (*client.Client, *redis.Client, string) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	conn, err := backend.Dial(ctx, addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ref := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = ref.Close() })
	require.NoError(t, ref.Ping(ctx).Err())

	prefix := "rediscodec:" + shortuuid.New() + ":"
	t.Cleanup(func() {
		keys, _ := ref.Keys(context.Background(), prefix+"*").Result()
		if len(keys) > 0 {
			ref.Del(context.Background(), keys...)
		}
	})
	return client.New(conn), ref, prefix
}

func TestLive_Strings(t *testing.T) {
	c, ref, prefix := setupLive(t)
	ctx := context.Background()
	key := prefix + "str"

	require.NoError(t, c.Set(ctx, key, "v\r\n1", 0))
	got, err := ref.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "v\r\n1", got)

	require.NoError(t, ref.Set(ctx, key, "from-ref", 0).Err())
	v, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "from-ref", v)

	require.NoError(t, c.Set(ctx, key, "ttl", 1500*time.Millisecond))
	ttl, err := ref.PTTL(ctx, key).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= 1500*time.Millisecond, ttl.String())

	n, err := c.IncrBy(ctx, prefix+"n", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	refN, err := ref.Get(ctx, prefix+"n").Int64()
	require.NoError(t, err)
	assert.Equal(t, n, refN)

	values, missing, err := c.MGet(ctx, key, prefix+"absent")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{key: "ttl"}, values)
	assert.Equal(t, []string{prefix + "absent"}, missing)

	_, err = c.Incr(ctx, key)
	assert.True(t, client.IsServerError(err))
}

func TestLive_Hash(t *testing.T) {
	c, ref, prefix := setupLive(t)
	ctx := context.Background()
	key := prefix + "hash"

	require.NoError(t, c.HMSet(ctx, key, map[string]string{"a": "1", "b": "2"}))
	want, err := ref.HGetAll(ctx, key).Result()
	require.NoError(t, err)
	fields, found, err := c.HGetAll(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, fields)

	_, found, err = c.HGetAll(ctx, prefix+"nohash")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLive_SortedSet(t *testing.T) {
	c, ref, prefix := setupLive(t)
	ctx := context.Background()
	key := prefix + "zset"

	added, err := c.ZAdd(ctx, key,
		client.ScoredMember{Member: "a", Score: 1.5},
		client.ScoredMember{Member: "b", Score: -2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), added)

	want, err := ref.ZRangeWithScores(ctx, key, 0, -1).Result()
	require.NoError(t, err)
	got, err := c.ZRangeWithScores(ctx, key, 0, -1)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Member, got[i].Member)
		assert.Equal(t, want[i].Score, got[i].Score)
	}

	byScore, err := c.ZRangeByScore(ctx, key, "-inf", "+inf")
	require.NoError(t, err)
	assert.Equal(t, got, byScore)
}

func TestLive_Transaction(t *testing.T) {
	c, ref, prefix := setupLive(t)
	ctx := context.Background()
	key := prefix + "tx"

	replies, err := c.Transaction(ctx, []string{key},
		respio.NewCommand("SET", key, "1"),
		respio.NewCommand("INCR", key))
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, int64(2), replies[1].Int)

	v, err := ref.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

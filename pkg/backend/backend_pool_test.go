package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pzhenzhou/rediscodec/pkg/client"
	"github.com/pzhenzhou/rediscodec/pkg/common"
	"github.com/pzhenzhou/rediscodec/pkg/respio"
	"github.com/pzhenzhou/rediscodec/pkg/resptest"
)

func TestBackendPool_GetPut(t *testing.T) {
	srv := startServer(t)
	pool := NewBackendPool(testPoolOptions(srv, 2))
	defer pool.Close()
	ctx := context.Background()

	c1, err := pool.Get(ctx)
	require.NoError(t, err)
	c2, err := pool.Get(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, c1.Id, c2.Id)

	_, err = pool.Get(ctx)
	assert.ErrorIs(t, err, ErrPoolTimeout)

	pool.Put(c1)
	c3, err := pool.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, c1.Id, c3.Id)
	pool.Put(c2)
	pool.Put(c3)

	status := pool.Status()
	assert.Equal(t, uint32(2), status.Conns)
	assert.Equal(t, uint32(2), status.IdleConns)
	assert.Equal(t, uint32(1), status.ImmediateGets)
	assert.Equal(t, uint32(2), status.DelayedGets)
	assert.Equal(t, uint32(1), status.Timeouts)
	assert.Eventually(t, func() bool { return srv.Accepted() == 2 }, time.Second, 10*time.Millisecond)
}

func TestBackendPool_DropsBrokenConn(t *testing.T) {
	srv := startServer(t)
	pool := NewBackendPool(testPoolOptions(srv, 1))
	defer pool.Close()
	ctx := context.Background()

	_, err := pool.Do(ctx, respio.NewCommand("CLOSE"))
	require.Error(t, err)
	assert.Equal(t, 0, pool.Size())

	require.NoError(t, client.New(pool).Ping(ctx))
	assert.Equal(t, 1, pool.Size())
	assert.Equal(t, int64(2), srv.Accepted())
}

func TestBackendPool_HealthCheckOnGet(t *testing.T) {
	srv := startServer(t)
	pool := NewBackendPool(testPoolOptions(srv, 1))
	defer pool.Close()
	ctx := context.Background()

	require.NoError(t, client.New(pool).Ping(ctx))
	srv.DropConnections()
	time.Sleep(50 * time.Millisecond)

	// The idle connection is dead; Get notices and dials a new one.
	require.NoError(t, client.New(pool).Ping(ctx))
	assert.Equal(t, uint32(1), pool.Status().StaleConns)
}

func TestBackendPool_MinIdle(t *testing.T) {
	srv := startServer(t)
	opts := testPoolOptions(srv, 4)
	opts.MinIdle = 2
	pool := NewBackendPool(opts)
	defer pool.Close()

	require.Eventually(t, func() bool {
		return pool.Status().IdleConns == 2
	}, time.Second, 10*time.Millisecond)
}

func TestBackendPool_Auth(t *testing.T) {
	srv := startServer(t, resptest.WithPassword("secret"))
	pool := NewBackendPool(testPoolOptions(srv, 2))
	defer pool.Close()

	require.NoError(t, client.New(pool).Ping(context.Background()))
}

func TestBackendPool_DialFailures(t *testing.T) {
	srv := startServer(t)
	ep := srv.Endpoint()
	srv.Close()

	opts := NewPoolOptions(ep, testPoolConfig(2), common.NewCredentialStore())
	pool := NewBackendPool(opts)
	defer pool.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := pool.Get(ctx)
		require.Error(t, err)
		assert.True(t, common.IsBackendUnavailable(err), err.Error())
	}
	_, err := pool.Get(ctx)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.GreaterOrEqual(t, pool.Status().DialErrors, uint32(2))
}

func TestBackendPool_Transaction(t *testing.T) {
	srv := startServer(t)
	pool := NewBackendPool(testPoolOptions(srv, 2))
	defer pool.Close()

	replies, err := client.New(pool).Transaction(context.Background(), nil,
		respio.NewCommand("SET", "a", "1"),
		respio.NewCommand("INCR", "a"))
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, int64(2), replies[1].Int)
}

func TestBackendPool_Close(t *testing.T) {
	srv := startServer(t)
	pool := NewBackendPool(testPoolOptions(srv, 1))
	require.NoError(t, client.New(pool).Ping(context.Background()))
	require.NoError(t, pool.Close())
	assert.ErrorIs(t, pool.Close(), ErrClosed)

	_, err := pool.Get(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFixedPool(t *testing.T) {
	srv := startServer(t)
	opts := testPoolOptions(srv, 3)
	pool, err := NewFixedPool(context.Background(), opts)
	require.NoError(t, err)
	defer pool.Close()
	ctx := context.Background()

	assert.Eventually(t, func() bool { return srv.Accepted() == 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint32(3), pool.Status().Conns)

	a, err := pool.GetConnByKey([]byte("user:1"))
	require.NoError(t, err)
	b, err := pool.GetConnByKey([]byte("user:1"))
	require.NoError(t, err)
	assert.Same(t, a, b)

	c := client.New(pool)
	require.NoError(t, c.Set(ctx, "user:1", "ann", 0))
	v, found, err := c.Get(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ann", v)

	replies, err := c.Transaction(ctx, []string{"user:1"}, respio.NewCommand("INCR", "n"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), replies[0].Int)
}

func TestFixedPool_ReplacesFailedConn(t *testing.T) {
	srv := startServer(t)
	pool, err := NewFixedPool(context.Background(), testPoolOptions(srv, 2))
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Do(context.Background(), respio.NewCommand("CLOSE", "key"))
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return pool.Status().StaleConns == 1 && pool.Status().Conns == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return srv.Accepted() == 3 }, time.Second, 10*time.Millisecond)
	require.NoError(t, client.New(pool).Ping(context.Background()))
}

func TestFixedPool_DialError(t *testing.T) {
	srv := startServer(t)
	ep := srv.Endpoint()
	srv.Close()
	_, err := NewFixedPool(context.Background(), NewPoolOptions(ep, testPoolConfig(2), common.NewCredentialStore()))
	assert.Error(t, err)
}

func TestBackendManager(t *testing.T) {
	srv := startServer(t, resptest.WithPassword("secret"))
	creds := common.NewCredentialStore()
	mgr := NewBackendManager(testPoolConfig(2), creds)
	defer mgr.Close()
	ctx := context.Background()

	ep := srv.Endpoint()
	ep.Name = "cache"
	pool, err := mgr.Register(ctx, ep)
	require.NoError(t, err)
	again, err := mgr.Register(ctx, ep)
	require.NoError(t, err)
	assert.Same(t, pool, again)

	auth, ok := creds.Get("cache")
	require.True(t, ok)
	assert.Equal(t, "secret", string(auth.Password))

	c, err := mgr.Client("cache")
	require.NoError(t, err)
	require.NoError(t, c.Ping(ctx))

	_, err = mgr.Client("nope")
	assert.Error(t, err)

	assert.Equal(t, []string{"cache"}, mgr.Names())
	statuses := mgr.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "cache", statuses[0].Name)

	assert.True(t, mgr.Remove("cache"))
	assert.False(t, mgr.Remove("cache"))
	_, ok = creds.Get("cache")
	assert.False(t, ok)
	assert.Empty(t, mgr.Names())
}

func TestBackendManager_Fixed(t *testing.T) {
	srv := startServer(t)
	cfg := testPoolConfig(2)
	cfg.IsFixed = true
	mgr := NewBackendManager(cfg, common.NewCredentialStore())
	defer mgr.Close()

	pool, err := mgr.Register(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	_, isFixed := pool.(*FixedPool)
	assert.True(t, isFixed)
	assert.Equal(t, srv.Endpoint().EndpointName(), pool.Name())
}

func TestBackendManager_Endpoints(t *testing.T) {
	srv := startServer(t)
	mgr := NewBackendManager(testPoolConfig(1), common.NewCredentialStore())
	defer mgr.Close()

	ep := srv.Endpoint()
	ep.Name = "b"
	_, err := mgr.Register(context.Background(), ep)
	require.NoError(t, err)
	ep.Name = "a"
	_, err = mgr.Register(context.Background(), ep)
	require.NoError(t, err)

	eps := mgr.Endpoints()
	require.Len(t, eps, 2)
	assert.Equal(t, "a", eps[0].Name)
	assert.Equal(t, "b", eps[1].Name)

	_, err = mgr.Register(context.Background(), common.EndpointConfig{Host: "h", Port: -1})
	assert.Error(t, err)
}

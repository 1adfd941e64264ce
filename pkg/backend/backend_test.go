package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pzhenzhou/rediscodec/pkg/client"
	"github.com/pzhenzhou/rediscodec/pkg/common"
	"github.com/pzhenzhou/rediscodec/pkg/respio"
	"github.com/pzhenzhou/rediscodec/pkg/resptest"
)

func startServer(t *testing.T, opts ...resptest.Option) *resptest.Server {
	t.Helper()
	srv, err := resptest.Start(opts...)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func testPoolConfig(size int) *common.PoolConfig {
	return &common.PoolConfig{
		MaxSize:     size,
		MaxIdle:     size,
		WaitTimeout: 100 * time.Millisecond,
		DialTimeout: time.Second,
		Balance:     "round-robin",
	}
}

func testPoolOptions(srv *resptest.Server, size int) *PoolOptions {
	ep := srv.Endpoint()
	creds := common.NewCredentialStore()
	common.RegisterCredentials(creds, []common.EndpointConfig{ep})
	return NewPoolOptions(ep, testPoolConfig(size), creds)
}

func TestBackendConn_Do(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	conn, err := Dial(ctx, srv.Addr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	c := client.New(conn)
	require.NoError(t, c.Set(ctx, "greeting", "hello\r\nworld", 0))
	v, found, err := c.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello\r\nworld", v)

	_, found, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, conn.Buffered())
}

func TestBackendConn_PartialFrames(t *testing.T) {
	srv := startServer(t, resptest.WithChunkedReplies(1))
	value := strings.Repeat("x", 300)
	srv.Set("big", value)

	conn, err := Dial(context.Background(), srv.Addr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	v, found, err := client.New(conn).Get(context.Background(), "big")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, value, v)
}

func TestBackendConn_Failures(t *testing.T) {
	srv := startServer(t)
	tests := []struct {
		name  string
		cmd   string
		check func(t *testing.T, err error)
	}{
		{"timeout mid request", "HANG", func(t *testing.T, err error) {
			assert.True(t, common.IsTimeout(err), err.Error())
		}},
		{"protocol error", "GARBAGE", func(t *testing.T, err error) {
			assert.ErrorIs(t, err, respio.ErrProtocol)
		}},
		{"peer closed", "CLOSE", func(t *testing.T, err error) {
			assert.True(t, common.IsBackendUnavailable(err), err.Error())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := Dial(context.Background(), srv.Addr(), time.Second)
			require.NoError(t, err)
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_, err = conn.Do(ctx, respio.NewCommand(tt.cmd))
			require.Error(t, err)
			tt.check(t, err)
			assert.True(t, conn.IsClosed())

			_, err = conn.Do(context.Background(), respio.NewCommand("PING"))
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestBackendConn_Cancel(t *testing.T) {
	srv := startServer(t)
	conn, err := Dial(context.Background(), srv.Addr(), time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err = conn.Do(ctx, respio.NewCommand("HANG"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, conn.IsClosed())
}

func TestDialEndpoint_Handshake(t *testing.T) {
	srv := startServer(t, resptest.WithPassword("secret"))
	ctx := context.Background()
	ep := srv.Endpoint()
	ep.Index = 2

	conn, err := DialEndpoint(ctx, &ep, ep.AuthInfo(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, client.New(conn).Ping(ctx))

	_, err = DialEndpoint(ctx, &ep, &common.AuthInfo{Password: []byte("wrong")}, time.Second)
	assert.True(t, client.IsServerError(err))

	ep.Index = 99
	_, err = DialEndpoint(ctx, &ep, ep.AuthInfo(), time.Second)
	assert.True(t, client.IsServerError(err))
}

func TestBackendConn_ConcurrentCallers(t *testing.T) {
	srv := startServer(t)
	conn, err := Dial(context.Background(), srv.Addr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	c := client.New(conn)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			for j := 0; j < 20; j++ {
				val := fmt.Sprintf("%d-%d", i, j)
				assert.NoError(t, c.Set(context.Background(), key, val, 0))
				got, _, err := c.Get(context.Background(), key)
				assert.NoError(t, err)
				assert.Equal(t, val, got)
			}
		}(i)
	}
	wg.Wait()
}

func TestProbeConn(t *testing.T) {
	srv := startServer(t)
	conn, err := Dial(context.Background(), srv.Addr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	assert.NoError(t, probeConn(conn.conn))
	srv.DropConnections()
	require.Eventually(t, func() bool {
		return probeConn(conn.conn) != nil
	}, time.Second, 10*time.Millisecond)
}

func TestBalancer(t *testing.T) {
	rr := NewBalancer(GetBalancerType("Round-Robin"))
	got := []int{rr.Next(3), rr.Next(3), rr.Next(3), rr.Next(3)}
	assert.Equal(t, []int{0, 1, 2, 0}, got)

	random := NewBalancer(GetBalancerType("random"))
	for i := 0; i < 50; i++ {
		n := random.Next(4)
		assert.True(t, n >= 0 && n < 4)
	}
}

package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pzhenzhou/rediscodec/pkg/backend"
	"github.com/pzhenzhou/rediscodec/pkg/common"
	"github.com/pzhenzhou/rediscodec/pkg/respio"
	"github.com/pzhenzhou/rediscodec/pkg/resptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newManager(t *testing.T) (*backend.BackendManager, *resptest.Server) {
	t.Helper()
	srv, err := resptest.Start(resptest.WithPassword("secret"))
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	mgr := backend.NewBackendManager(&common.PoolConfig{MaxSize: 2, MaxIdle: 2, DialTimeout: time.Second},
		common.NewCredentialStore())
	t.Cleanup(mgr.Close)
	ep := srv.Endpoint()
	ep.Name = "cache"
	_, err = mgr.Register(context.Background(), ep)
	require.NoError(t, err)
	return mgr, srv
}

func doRequest(t *testing.T, h http.Handler, method, path string, body []byte) (int, ApiResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, bytes.NewReader(body)))
	var resp ApiResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w.Code, resp
}

func TestWebServer_Handlers(t *testing.T) {
	mgr, srv := newManager(t)
	web := NewWebServer(&common.AdminConfig{}, mgr, nil, "")
	h := web.Handler()

	code, _ := doRequest(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)

	code, resp := doRequest(t, h, http.MethodGet, EndpointsPath, nil)
	require.Equal(t, http.StatusOK, code)
	eps := resp.Data.([]any)
	require.Len(t, eps, 1)
	first := eps[0].(map[string]any)
	assert.Equal(t, "cache", first["name"])
	assert.Equal(t, maskedCredential, first["pass"])

	add, err := json.Marshal(map[string]any{"name": "second", "host": "127.0.0.1", "port": srv.Endpoint().Port, "pass": "secret"})
	require.NoError(t, err)
	code, resp = doRequest(t, h, http.MethodPost, EndpointsPath, add)
	require.Equal(t, http.StatusOK, code, resp.Message)
	assert.Equal(t, []string{"cache", "second"}, mgr.Names())

	code, _ = doRequest(t, h, http.MethodPost, EndpointsPath, []byte(`{"host":"h","port":70000}`))
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = doRequest(t, h, http.MethodGet, PoolStatusPath, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Data, 2)

	code, _ = doRequest(t, h, http.MethodDelete, EndpointsPath+"/second", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = doRequest(t, h, http.MethodDelete, EndpointsPath+"/second", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_SharedPort(t *testing.T) {
	mgr, _ := newManager(t)
	srv := NewServer(NewWebServer(&common.AdminConfig{}, mgr, nil, ""), NewRespAdmin(mgr))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	addr := ln.Addr().String()

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")

	conn, err := backend.Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	pong, err := conn.Do(ctx, respio.NewCommand("ping"))
	require.NoError(t, err)
	assert.True(t, pong.IsStatus(respio.PongStatus))

	names, err := conn.Do(ctx, respio.NewCommand("ENDPOINTS"))
	require.NoError(t, err)
	require.Len(t, names.Array, 1)
	assert.Equal(t, "cache", names.Array[0].Text())

	info, err := conn.Do(ctx, respio.NewCommand("INFO"))
	require.NoError(t, err)
	assert.Contains(t, info.Text(), "cache:addr=")

	unknown, err := conn.Do(ctx, respio.NewCommand("FLUSHALL"))
	require.NoError(t, err)
	assert.True(t, unknown.IsError())

	srv.Shutdown(context.Background())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("admin server did not stop")
	}
}

package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gometrics "github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pzhenzhou/rediscodec/pkg/backend"
	"github.com/pzhenzhou/rediscodec/pkg/client"
	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&client.ServerError{Msg: "ERR boom"}, ErrKindServer},
		{fmt.Errorf("GET: %w", client.ErrShapeMismatch), ErrKindShape},
		{client.ErrConflict, ErrKindConflict},
		{fmt.Errorf("read: %w", respio.ErrProtocol), ErrKindProtocol},
		{respio.ErrTooLarge, ErrKindTooLarge},
		{backend.ErrPoolTimeout, ErrKindPool},
		{context.Canceled, ErrKindCanceled},
		{fmt.Errorf("read: %w", os.ErrDeadlineExceeded), ErrKindTimeout},
		{io.EOF, ErrKindTransport},
		{backend.ErrClosed, ErrKindTransport},
		{errors.New("?"), ErrKindOther},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorKind(tt.err))
		})
	}
}

func newTestCollector(t *testing.T) *hashicorpMetricsCollector {
	t.Helper()
	c, err := newCollector(NewInMemoryConfig("test"))
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c
}

type stubDoer struct {
	reply *respio.RespPacket
	err   error
	pins  int
}

func (s *stubDoer) Do(context.Context, *respio.Command) (*respio.RespPacket, error) {
	return s.reply, s.err
}

func (s *stubDoer) Pin(context.Context) (client.Doer, func(), error) {
	s.pins++
	return s, func() {}, nil
}

func counterSums(t *testing.T, c *hashicorpMetricsCollector) map[string]int {
	t.Helper()
	intervals := c.inm.Data()
	require.NotEmpty(t, intervals)
	out := make(map[string]int)
	for _, iv := range intervals {
		iv.RLock()
		for _, sv := range iv.Counters {
			out[sv.Name+labelSuffix(sv.Labels)] += sv.Count
		}
		iv.RUnlock()
	}
	return out
}

func labelSuffix(labels []gometrics.Label) string {
	s := ""
	for _, l := range labels {
		if l.Name != "service" {
			s += ";" + l.Name + "=" + l.Value
		}
	}
	return s
}

func TestMiddleware_WrapDo(t *testing.T) {
	c := newTestCollector(t)
	m := NewCommandMetricsMiddleware(c)
	ctx := context.Background()

	ok := m.Wrap(&stubDoer{reply: respio.StatusPacket("OK")})
	_, err := ok.Do(ctx, respio.NewCommand("set", "k", "v"))
	require.NoError(t, err)

	srvErr := m.Wrap(&stubDoer{reply: respio.ErrorPacket("ERR no")})
	_, err = srvErr.Do(ctx, respio.NewCommand("GET", "k"))
	require.NoError(t, err)

	broken := m.Wrap(&stubDoer{err: io.EOF})
	_, err = broken.Do(ctx, respio.NewCommand("GET", "k"))
	require.ErrorIs(t, err, io.EOF)

	sums := counterSums(t, c)
	assert.Equal(t, 1, sums["test.command.count;command=SET"])
	assert.Equal(t, 2, sums["test.command.count;command=GET"])
	assert.Equal(t, 1, sums["test.errors;kind=server"])
	assert.Equal(t, 1, sums["test.errors;kind=transport"])
}

func TestMiddleware_TransactionIsMetered(t *testing.T) {
	c := newTestCollector(t)
	m := NewCommandMetricsMiddleware(c)
	stub := &stubDoer{reply: respio.StatusPacket("OK")}

	err := client.New(m.Wrap(stub)).Ping(context.Background())
	require.Error(t, err) // OK is not PONG
	assert.ErrorIs(t, err, client.ErrShapeMismatch)

	pinned, release, err := m.Wrap(stub).(client.Pinner).Pin(context.Background())
	require.NoError(t, err)
	defer release()
	_, err = pinned.Do(context.Background(), respio.NewCommand("MULTI"))
	require.NoError(t, err)
	assert.Equal(t, 1, stub.pins)
	assert.Equal(t, 1, counterSums(t, c)["test.command.count;command=MULTI"])
}

func TestReportGauges(t *testing.T) {
	c := newTestCollector(t)
	m := NewCommandMetricsMiddleware(c)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.ReportGauges(ctx, 10*time.Millisecond, func() []*backend.PoolStatus {
			return []*backend.PoolStatus{{Name: "cache", Conns: 3, IdleConns: 2}}
		}, func() int64 { return 4 })
	}()
	require.Eventually(t, func() bool {
		for _, iv := range c.inm.Data() {
			iv.RLock()
			g, ok := iv.Gauges["test.pool.conns;service=test;endpoint=cache"]
			iv.RUnlock()
			if ok && g.Value == 3 {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestInMemoryHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := newTestCollector(t)
	c.IncrementCommandCounter("PING")

	r := gin.New()
	r.GET(ExposeMetricURL, c.Handler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, ExposeMetricURL, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "command.count")
}

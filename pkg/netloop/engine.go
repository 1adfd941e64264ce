package netloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/panjf2000/gnet/v2"

	"github.com/pzhenzhou/rediscodec/pkg/client"
	"github.com/pzhenzhou/rediscodec/pkg/common"
	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

var (
	logger = common.InitLogger().WithName("netloop")

	ErrClosed = errors.New("netloop: closed")
	// errUnsolicited is a reply that arrived while no request was pending.
	errUnsolicited = fmt.Errorf("%w: reply without a pending request", respio.ErrProtocol)
)

// Engine runs the gnet event loops that serve every Conn dialed through it.
// Reads and framing happen on the loops; callers block in Conn.Do.
type Engine struct {
	gnet.BuiltinEventEngine
	cli     *gnet.Client
	stopped atomic.Bool
	open    atomic.Int64
}

func NewEngine(cfg *common.TransportConfig) (*Engine, error) {
	e := &Engine{}
	var opts []gnet.Option
	if cfg != nil {
		opts = cfg.GNetOptions()
	}
	opts = append(opts, gnet.WithTCPNoDelay(gnet.TCPNoDelay))
	cli, err := gnet.NewClient(e, opts...)
	if err != nil {
		return nil, err
	}
	if err := cli.Start(); err != nil {
		return nil, err
	}
	e.cli = cli
	logger.Info("Event loop client started")
	return e, nil
}

// Dial connects to addr without a handshake.
func (e *Engine) Dial(ctx context.Context, addr string) (*Conn, error) {
	if e.stopped.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cn := newConn(addr)
	gc, err := e.cli.DialContext("tcp", addr, cn)
	if err != nil {
		logger.Error(err, "Failed to dial backend", "Addr", addr)
		return nil, err
	}
	cn.gc = gc
	return cn, nil
}

// DialEndpoint dials ep and runs AUTH and SELECT as needed.
func (e *Engine) DialEndpoint(ctx context.Context, ep *common.EndpointConfig, auth *common.AuthInfo, timeout time.Duration) (*Conn, error) {
	if timeout <= 0 {
		timeout = common.DefaultDialTimeout
	}
	hsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cn, err := e.Dial(hsCtx, ep.Addr())
	if err != nil {
		return nil, err
	}
	if err := client.Handshake(hsCtx, cn, auth, ep.Index); err != nil {
		_ = cn.Close()
		return nil, err
	}
	return cn, nil
}

// Open is the number of connections currently attached to the loops.
func (e *Engine) Open() int64 {
	return e.open.Load()
}

func (e *Engine) Stop() error {
	if e.stopped.Swap(true) {
		return ErrClosed
	}
	return e.cli.Stop()
}

func (e *Engine) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	e.open.Add(1)
	return nil, gnet.None
}

func (e *Engine) OnTraffic(c gnet.Conn) gnet.Action {
	cn, ok := c.Context().(*Conn)
	if !ok {
		return gnet.Close
	}
	buf, err := c.Next(-1)
	if err != nil {
		cn.deliver(nil, err)
		return gnet.Close
	}
	in := buf
	for {
		pkt, complete, err := cn.state.FeedReply(in)
		in = nil
		if err != nil {
			cn.deliver(nil, err)
			return gnet.Close
		}
		if !complete {
			return gnet.None
		}
		if !cn.deliver(pkt, nil) {
			logger.Info("Unsolicited reply", "connId", cn.Id, "Reply", pkt.Kind())
			return gnet.Close
		}
		if cn.state.Buffered() == 0 {
			return gnet.None
		}
	}
}

func (e *Engine) OnClose(c gnet.Conn, err error) gnet.Action {
	e.open.Add(-1)
	cn, ok := c.Context().(*Conn)
	if !ok {
		return gnet.None
	}
	if err == nil {
		err = io.EOF
	}
	cn.deliver(nil, err)
	cn.markClosed()
	cn.state.Reset()
	logger.V(1).Info("Event loop connection closed", "connId", cn.Id, "Addr", cn.addr)
	return gnet.None
}

func newConnId() string {
	return shortuuid.New()
}

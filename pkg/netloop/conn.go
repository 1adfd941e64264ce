package netloop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/gnet/v2"

	"github.com/pzhenzhou/rediscodec/pkg/client"
	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

var (
	_ client.Doer   = (*Conn)(nil)
	_ client.Pinner = (*Conn)(nil)
)

type result struct {
	pkt *respio.RespPacket
	err error
}

// Conn is a connection served by an Engine. Its DecodeState is only touched
// by the event loop that owns the socket. Like BackendConn it has at most
// one request in flight and is closed after any failure.
type Conn struct {
	Id   string
	addr string
	gc   gnet.Conn

	state   *respio.DecodeState
	mu      sync.Mutex
	pending atomic.Bool
	replies chan result
	closed  atomic.Bool
	done    chan struct{}
}

func newConn(addr string) *Conn {
	return &Conn{
		Id:      newConnId(),
		addr:    addr,
		state:   respio.NewDecodeState(),
		replies: make(chan result, 1),
		done:    make(chan struct{}),
	}
}

// deliver hands a reply or failure to the waiting caller. It reports false
// for a reply nobody asked for.
func (cn *Conn) deliver(pkt *respio.RespPacket, err error) bool {
	if !cn.pending.CompareAndSwap(true, false) {
		return pkt == nil
	}
	cn.replies <- result{pkt: pkt, err: err}
	return true
}

func (cn *Conn) markClosed() {
	if !cn.closed.Swap(true) {
		close(cn.done)
	}
}

func (cn *Conn) Do(ctx context.Context, cmd *respio.Command) (*respio.RespPacket, error) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.roundTrip(ctx, cmd)
}

func (cn *Conn) Pin(ctx context.Context) (client.Doer, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	cn.mu.Lock()
	var once sync.Once
	return client.DoerFunc(cn.roundTrip), func() { once.Do(cn.mu.Unlock) }, nil
}

func (cn *Conn) roundTrip(ctx context.Context, cmd *respio.Command) (*respio.RespPacket, error) {
	if cn.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cn.pending.Store(true)
	err := cn.gc.AsyncWrite(cmd.Encode(), func(_ gnet.Conn, err error) error {
		if err != nil {
			cn.deliver(nil, err)
		}
		return nil
	})
	if err != nil {
		cn.pending.Store(false)
		return nil, cn.fail(cmd, err)
	}
	select {
	case r := <-cn.replies:
		return cn.result(cmd, r)
	case <-cn.done:
		select {
		case r := <-cn.replies:
			return cn.result(cmd, r)
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		cn.pending.Store(false)
		return nil, cn.fail(cmd, ctx.Err())
	}
}

func (cn *Conn) result(cmd *respio.Command, r result) (*respio.RespPacket, error) {
	if r.err != nil {
		return nil, cn.fail(cmd, r.err)
	}
	return r.pkt, nil
}

func (cn *Conn) fail(cmd *respio.Command, err error) error {
	_ = cn.Close()
	logger.Info("Conn closed after failure", "connId", cn.Id, "Cmd", cmd.Name(), "error", err.Error())
	return fmt.Errorf("%s: %w", cn.addr, err)
}

func (cn *Conn) IsClosed() bool {
	return cn.closed.Load()
}

// Close detaches the socket from its loop. The loop discards the decode
// state when it processes the close.
func (cn *Conn) Close() error {
	if cn.closed.Load() {
		return nil
	}
	cn.markClosed()
	return cn.gc.Close()
}

// Done is closed once the connection is closed by either side.
func (cn *Conn) Done() <-chan struct{} {
	return cn.done
}

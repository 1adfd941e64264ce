package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sys/unix"

	"github.com/pzhenzhou/rediscodec/pkg/client"
	"github.com/pzhenzhou/rediscodec/pkg/common"
	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

var (
	logger = common.InitLogger().WithName("backend")

	// ErrClosed performs any operation on a closed connection or pool.
	ErrClosed = errors.New("backend: closed")

	// aLongTimeAgo is a deadline in the past, used to unblock a pending read.
	aLongTimeAgo = time.Unix(1, 0)
)

var (
	_ client.Doer   = (*BackendConn)(nil)
	_ client.Pinner = (*BackendConn)(nil)
)

// BackendConn is one blocking TCP connection to a server. Requests are
// serialized: the next command is written only after the previous reply has
// been read in full. Any transport or protocol failure closes the
// connection, since the position in the reply stream is no longer known.
type BackendConn struct {
	Id      string
	addr    string
	conn    net.Conn
	reader  *respio.RespReader
	writer  *respio.RespWriter
	mu      sync.Mutex
	closed  atomic.Bool
	created time.Time
	usedAt  int64
}

func newDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout: timeout,
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					ctrlErr = fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					ctrlErr = fmt.Errorf("failed to set SO_REUSEPORT: %w", err)
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
}

// Dial opens a connection to addr. No handshake is performed.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*BackendConn, error) {
	if timeout <= 0 {
		timeout = common.DefaultDialTimeout
	}
	conn, err := newDialer(timeout).DialContext(ctx, "tcp", addr)
	if err != nil {
		logger.Error(err, "Failed to dial backend", "Addr", addr)
		return nil, err
	}
	now := time.Now()
	return &BackendConn{
		Id:      shortuuid.New(),
		addr:    addr,
		conn:    conn,
		reader:  respio.NewRespReader(conn),
		writer:  respio.NewRespWriter(conn),
		created: now,
		usedAt:  now.Unix(),
	}, nil
}

// DialEndpoint dials ep and runs the connection handshake with auth and the
// endpoint's database index. The connection is closed if the handshake fails.
func DialEndpoint(ctx context.Context, ep *common.EndpointConfig, auth *common.AuthInfo, timeout time.Duration) (*BackendConn, error) {
	bc, err := Dial(ctx, ep.Addr(), timeout)
	if err != nil {
		return nil, err
	}
	hsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Handshake(hsCtx, bc, auth, ep.Index); err != nil {
		_ = bc.Close()
		logger.Info("BackendConn handshake failed", "Endpoint", ep.EndpointName(), "error", err.Error())
		return nil, err
	}
	return bc, nil
}

// Do sends cmd and waits for its reply. The context deadline bounds both the
// write and the read; cancelling ctx mid-reply closes the connection.
func (bc *BackendConn) Do(ctx context.Context, cmd *respio.Command) (*respio.RespPacket, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.roundTrip(ctx, cmd)
}

// Pin holds the connection exclusively until release is called. The
// returned Doer must only be used by the caller holding the pin.
func (bc *BackendConn) Pin(ctx context.Context) (client.Doer, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	bc.mu.Lock()
	var once sync.Once
	return client.DoerFunc(bc.roundTrip), func() { once.Do(bc.mu.Unlock) }, nil
}

func (bc *BackendConn) roundTrip(ctx context.Context, cmd *respio.Command) (*respio.RespPacket, error) {
	if bc.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline, _ := ctx.Deadline()
	if err := bc.conn.SetDeadline(deadline); err != nil {
		return nil, bc.fail(ctx, "deadline", cmd, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = bc.conn.SetDeadline(aLongTimeAgo)
	})
	defer stop()

	if err := bc.writer.WriteCommand(cmd); err != nil {
		return nil, bc.fail(ctx, "write", cmd, err)
	}
	if err := bc.writer.Flush(); err != nil {
		return nil, bc.fail(ctx, "write", cmd, err)
	}
	pkt, err := bc.reader.Read()
	if err != nil {
		return nil, bc.fail(ctx, "read", cmd, err)
	}
	bc.SetUsedAt(time.Now())
	return pkt, nil
}

func (bc *BackendConn) fail(ctx context.Context, op string, cmd *respio.Command, err error) error {
	_ = bc.Close()
	if ctxErr := ctx.Err(); ctxErr != nil && common.IsTimeout(err) {
		err = ctxErr
	}
	logger.Info("BackendConn closed after failure", "Id", bc.Id, "Op", op, "Cmd", cmd.Name(), "error", err.Error())
	return fmt.Errorf("%s %s: %w", op, bc.addr, err)
}

// Buffered is the number of received bytes not yet consumed. A healthy idle
// connection has none.
func (bc *BackendConn) Buffered() int {
	return bc.reader.Buffered()
}

func (bc *BackendConn) IsClosed() bool {
	return bc.closed.Load()
}

func (bc *BackendConn) Close() error {
	if bc.closed.Swap(true) {
		return nil
	}
	err := bc.conn.Close()
	logger.V(1).Info("BackendConn connection closed", "connId", bc.Id, "Addr", bc.addr)
	return err
}

func (bc *BackendConn) UsedAt() time.Time {
	return time.Unix(atomic.LoadInt64(&bc.usedAt), 0)
}

func (bc *BackendConn) SetUsedAt(t time.Time) {
	atomic.StoreInt64(&bc.usedAt, t.Unix())
}

func (bc *BackendConn) Created() time.Time {
	return bc.created
}

func (bc *BackendConn) RemoteAddr() net.Addr {
	return bc.conn.RemoteAddr()
}

package admin

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/pzhenzhou/rediscodec/pkg/backend"
	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

// RespAdmin answers a few read-only commands over RESP on the admin port,
// so redis-cli -p <admin port> works next to curl:
//
//	PING [message]
//	ENDPOINTS        names of the registered endpoints
//	INFO             one line of pool status per endpoint
//	QUIT
type RespAdmin struct {
	mgr   *backend.BackendManager
	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewRespAdmin(mgr *backend.BackendManager) *RespAdmin {
	return &RespAdmin{mgr: mgr, conns: make(map[net.Conn]struct{})}
}

// Serve blocks until l is closed.
func (s *RespAdmin) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *RespAdmin) serveConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
		s.wg.Done()
	}()
	reader := respio.NewRespReader(conn)
	writer := respio.NewRespWriter(conn)
	for {
		req, err := reader.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Info("RESP admin read failed", "Remote", conn.RemoteAddr().String(), "error", err.Error())
			}
			return
		}
		args := requestArgs(req)
		reply := s.dispatch(args)
		if err := writer.Write(reply); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
		if len(args) > 0 && args[0] == "QUIT" {
			return
		}
	}
}

// requestArgs accepts multi-bulk requests only; the verb is upper-cased.
func requestArgs(req *respio.RespPacket) []string {
	if req.Type != respio.RespArray || req.IsNil() {
		return nil
	}
	args := lo.Map(req.Array, func(item *respio.RespPacket, _ int) string {
		return item.Text()
	})
	if len(args) > 0 {
		args[0] = strings.ToUpper(args[0])
	}
	return args
}

func (s *RespAdmin) dispatch(args []string) *respio.RespPacket {
	if len(args) == 0 {
		return respio.ErrorPacket("ERR expected a multi-bulk request")
	}
	switch args[0] {
	case "PING":
		if len(args) > 1 {
			return respio.BulkPacket([]byte(args[1]))
		}
		return respio.StatusPacket(string(respio.PongStatus))
	case "QUIT":
		return respio.StatusPacket(string(respio.OkStatus))
	case "ENDPOINTS":
		names := lo.Map(s.mgr.Names(), func(name string, _ int) *respio.RespPacket {
			return respio.BulkPacket([]byte(name))
		})
		return respio.ArrayPacket(names...)
	case "INFO":
		var b strings.Builder
		for _, st := range s.mgr.Statuses() {
			fmt.Fprintf(&b, "%s:addr=%s,conns=%d,idle=%d,stale=%d,timeouts=%d,dial_errors=%d\r\n",
				st.Name, st.Addr, st.Conns, st.IdleConns, st.StaleConns, st.Timeouts, st.DialErrors)
		}
		return respio.BulkPacket([]byte(b.String()))
	default:
		return respio.ErrorPacket(fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(args[0])))
	}
}

// Close drops open sessions and waits for them to finish.
func (s *RespAdmin) Close() {
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

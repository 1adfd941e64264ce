// Package resptest runs an in-process RESP server for tests. It understands
// enough of the command set to exercise clients end to end: strings, counters,
// AUTH, SELECT and MULTI/EXEC, plus a few fault commands.
package resptest

import (
	"bytes"
	"fmt"
	"net"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pzhenzhou/rediscodec/pkg/common"
	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

var (
	logger = common.InitLogger().WithName("resptest")
)

// HandlerFunc may answer a command before the built-in table. Returning
// ok=false falls through to the defaults.
type HandlerFunc func(args []string) (reply *respio.RespPacket, ok bool)

type Option func(*Server)

// WithPassword requires AUTH before any other command.
func WithPassword(password string) Option {
	return func(s *Server) {
		s.password = password
	}
}

// WithChunkedReplies writes every reply in pieces of n bytes so clients see
// partial frames.
func WithChunkedReplies(n int) Option {
	return func(s *Server) {
		s.chunk = n
	}
}

func WithHandler(h HandlerFunc) Option {
	return func(s *Server) {
		s.extra = h
	}
}

type Server struct {
	ln       net.Listener
	password string
	chunk    int
	extra    HandlerFunc

	mu    sync.Mutex
	data  map[string]string
	conns map[net.Conn]struct{}

	accepted atomic.Int64
	commands atomic.Int64
	closed   atomic.Bool
	wg       sync.WaitGroup
}

type session struct {
	authed  bool
	db      int
	inMulti bool
	queued  [][]string
}

// Start listens on a random loopback port.
func Start(opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:    ln,
		data:  make(map[string]string),
		conns: make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Endpoint describes the server as a client endpoint.
func (s *Server) Endpoint() common.EndpointConfig {
	tcpAddr := s.ln.Addr().(*net.TCPAddr)
	return common.EndpointConfig{
		Host:     tcpAddr.IP.String(),
		Port:     tcpAddr.Port,
		Password: s.password,
	}
}

// Accepted is the number of connections accepted so far.
func (s *Server) Accepted() int64 {
	return s.accepted.Load()
}

// Commands is the number of commands received so far.
func (s *Server) Commands() int64 {
	return s.commands.Load()
}

func (s *Server) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

func (s *Server) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// DropConnections closes every open client connection.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *Server) Close() {
	if s.closed.Swap(true) {
		return
	}
	_ = s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
		s.wg.Done()
	}()
	reader := respio.NewRespReader(conn)
	sess := &session{authed: s.password == ""}
	var out bytes.Buffer
	for {
		req, err := reader.Read()
		if err != nil {
			return
		}
		s.commands.Add(1)
		args := make([]string, len(req.Array))
		for i, item := range req.Array {
			args[i] = string(item.Data)
		}
		if len(args) == 0 {
			return
		}
		switch strings.ToUpper(args[0]) {
		case "CLOSE":
			return
		case "GARBAGE":
			_, _ = conn.Write([]byte("$x\r\n"))
			continue
		case "HANG":
			continue
		}
		reply := s.dispatch(sess, args)
		out.Reset()
		w := respio.NewRespWriter(&out)
		if err := w.Write(reply); err != nil {
			logger.Error(err, "resptest write reply")
			return
		}
		_ = w.Flush()
		if err := s.writeReply(conn, out.Bytes()); err != nil {
			return
		}
		if strings.EqualFold(args[0], "QUIT") {
			return
		}
	}
}

func (s *Server) writeReply(conn net.Conn, b []byte) error {
	if s.chunk <= 0 {
		_, err := conn.Write(b)
		return err
	}
	for len(b) > 0 {
		n := min(s.chunk, len(b))
		if _, err := conn.Write(b[:n]); err != nil {
			return err
		}
		b = b[n:]
		time.Sleep(time.Millisecond)
	}
	return nil
}

func (s *Server) dispatch(sess *session, args []string) *respio.RespPacket {
	name := strings.ToUpper(args[0])
	if name == "AUTH" {
		return s.auth(sess, args)
	}
	if !sess.authed {
		return respio.ErrorPacket("NOAUTH Authentication required.")
	}
	if sess.inMulti {
		switch name {
		case "EXEC":
			sess.inMulti = false
			replies := make([]*respio.RespPacket, 0, len(sess.queued))
			for _, q := range sess.queued {
				replies = append(replies, s.exec(sess, q))
			}
			sess.queued = nil
			return respio.ArrayPacket(replies...)
		case "DISCARD":
			sess.inMulti = false
			sess.queued = nil
			return respio.StatusPacket("OK")
		case "MULTI":
			return respio.ErrorPacket("ERR MULTI calls can not be nested")
		}
		sess.queued = append(sess.queued, args)
		return respio.StatusPacket("QUEUED")
	}
	switch name {
	case "MULTI":
		sess.inMulti = true
		return respio.StatusPacket("OK")
	case "EXEC", "DISCARD":
		return respio.ErrorPacket("ERR " + name + " without MULTI")
	}
	return s.exec(sess, args)
}

func (s *Server) auth(sess *session, args []string) *respio.RespPacket {
	if len(args) < 2 || len(args) > 3 {
		return respio.ErrorPacket("ERR wrong number of arguments for 'auth' command")
	}
	if s.password == "" {
		return respio.ErrorPacket("ERR AUTH <password> called without any password configured for the default user.")
	}
	if args[len(args)-1] != s.password {
		return respio.ErrorPacket("WRONGPASS invalid username-password pair or user is disabled.")
	}
	sess.authed = true
	return respio.StatusPacket("OK")
}

func (s *Server) exec(sess *session, args []string) *respio.RespPacket {
	if s.extra != nil {
		if reply, ok := s.extra(args); ok {
			return reply
		}
	}
	name := strings.ToUpper(args[0])
	arity := func(n int) bool { return len(args) == n }
	wrongArity := respio.ErrorPacket(fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(name)))

	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case "PING":
		return respio.StatusPacket("PONG")
	case "ECHO":
		if !arity(2) {
			return wrongArity
		}
		return respio.BulkPacket([]byte(args[1]))
	case "QUIT", "UNWATCH":
		return respio.StatusPacket("OK")
	case "WATCH":
		if len(args) < 2 {
			return wrongArity
		}
		return respio.StatusPacket("OK")
	case "SELECT":
		if !arity(2) {
			return wrongArity
		}
		db, err := strconv.Atoi(args[1])
		if err != nil || db < 0 || db > 15 {
			return respio.ErrorPacket("ERR DB index is out of range")
		}
		sess.db = db
		return respio.StatusPacket("OK")
	case "SLEEP":
		if !arity(2) {
			return wrongArity
		}
		ms, _ := strconv.Atoi(args[1])
		s.mu.Unlock()
		time.Sleep(time.Duration(ms) * time.Millisecond)
		s.mu.Lock()
		return respio.StatusPacket("OK")
	case "GET":
		if !arity(2) {
			return wrongArity
		}
		if v, ok := s.data[args[1]]; ok {
			return respio.BulkPacket([]byte(v))
		}
		return respio.NilBulkPacket()
	case "SET":
		if !arity(3) {
			return wrongArity
		}
		s.data[args[1]] = args[2]
		return respio.StatusPacket("OK")
	case "DEL":
		if len(args) < 2 {
			return wrongArity
		}
		var n int64
		for _, k := range args[1:] {
			if _, ok := s.data[k]; ok {
				delete(s.data, k)
				n++
			}
		}
		return respio.IntPacket(n)
	case "INCR", "DECR":
		if !arity(2) {
			return wrongArity
		}
		n, err := strconv.ParseInt(s.valueOr(args[1], "0"), 10, 64)
		if err != nil {
			return respio.ErrorPacket("ERR value is not an integer or out of range")
		}
		if name == "INCR" {
			n++
		} else {
			n--
		}
		s.data[args[1]] = strconv.FormatInt(n, 10)
		return respio.IntPacket(n)
	case "KEYS":
		if !arity(2) {
			return wrongArity
		}
		keys := make([]string, 0)
		for k := range s.data {
			if ok, _ := path.Match(args[1], k); ok {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		items := make([]*respio.RespPacket, len(keys))
		for i, k := range keys {
			items[i] = respio.BulkPacket([]byte(k))
		}
		return respio.ArrayPacket(items...)
	default:
		return respio.ErrorPacket(fmt.Sprintf("ERR unknown command '%s'", args[0]))
	}
}

func (s *Server) valueOr(key, def string) string {
	if v, ok := s.data[key]; ok {
		return v
	}
	return def
}

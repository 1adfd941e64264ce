package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
)

// Server shares one admin port between HTTP (gin) and RESP (RespAdmin).
// cmux routes each connection by its first bytes.
type Server struct {
	web  *WebServer
	resp *RespAdmin

	mu       sync.Mutex
	mux      cmux.CMux
	ln       net.Listener
	stopping bool
}

func NewServer(web *WebServer, resp *RespAdmin) *Server {
	return &Server{web: web, resp: resp}
}

func (s *Server) ListenAndServe(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// Serve blocks until Shutdown or a listener failure.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	m := cmux.New(ln)
	s.ln, s.mux = ln, m
	// HTTP must be matched before the catch-all.
	httpL := m.Match(cmux.HTTP1Fast())
	respL := m.Match(cmux.Any())
	s.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error { return s.web.Serve(httpL) })
	g.Go(func() error {
		err := s.resp.Serve(respL)
		if s.isStopping() || errors.Is(err, cmux.ErrListenerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := m.Serve()
		if s.isStopping() || errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	})
	logger.Info("Admin server listening", "Addr", ln.Addr().String())
	return g.Wait()
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	m, ln := s.mux, s.ln
	s.mu.Unlock()

	s.web.Shutdown(ctx)
	if m != nil {
		m.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.resp.Close()
}

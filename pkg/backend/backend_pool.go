package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/pzhenzhou/rediscodec/pkg/client"
	"github.com/pzhenzhou/rediscodec/pkg/common"
	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

var (
	// ephemeralTimers is a pool of stopped timers for slot waits.
	ephemeralTimers = sync.Pool{
		New: func() interface{} {
			t := time.NewTimer(time.Hour)
			t.Stop()
			return t
		},
	}
)

var (
	// ErrPoolExhausted is returned when the pool keeps failing to dial and
	// refuses new attempts until a background probe succeeds.
	ErrPoolExhausted = errors.New("backend: connection pool exhausted")

	// ErrPoolTimeout timed out waiting to get a connection from the pool.
	ErrPoolTimeout = errors.New("backend: connection pool timeout")

	defaultRetryMaxElapsed = 5 * time.Minute
)

var (
	_ client.Doer   = (*BackendPool)(nil)
	_ client.Pinner = (*BackendPool)(nil)
)

// PoolOptions configures a pool for one endpoint.
type PoolOptions struct {
	Name   string
	Addr   string
	Dialer func(context.Context) (*BackendConn, error) `json:"-"`
	// MaxSize bounds the connections handed out at the same time.
	MaxSize int
	// MaxIdle bounds the idle list. 0 means no bound.
	MaxIdle int
	// MinIdle connections are dialed ahead of demand.
	MinIdle         int
	WaitTimeout     time.Duration
	ConnMaxLifetime time.Duration
	// RetryMaxElapsed bounds the background redial after repeated failures.
	RetryMaxElapsed time.Duration
	Balance         string
}

// NewPoolOptions builds pool options for ep. Every dial looks the endpoint's
// credential up in creds, so credentials set later apply to new connections.
func NewPoolOptions(ep common.EndpointConfig, cfg *common.PoolConfig, creds *common.CredentialStore) *PoolOptions {
	name := ep.EndpointName()
	dialTimeout := cfg.DialTimeout
	opts := &PoolOptions{
		Name:            name,
		Addr:            ep.Addr(),
		MaxSize:         cfg.MaxSize,
		MaxIdle:         cfg.MaxIdle,
		MinIdle:         cfg.MinIdle,
		WaitTimeout:     cfg.WaitTimeout,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		RetryMaxElapsed: defaultRetryMaxElapsed,
		Balance:         cfg.Balance,
	}
	opts.Dialer = func(ctx context.Context) (*BackendConn, error) {
		auth, _ := creds.Get(name)
		return DialEndpoint(ctx, &ep, auth, dialTimeout)
	}
	return opts
}

type PoolStatus struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
	// ImmediateGets got an idle connection without dialing
	ImmediateGets uint32 `json:"immediate_gets"`
	// DelayedGets had to dial
	DelayedGets uint32 `json:"delayed_gets"`
	// Timeouts waited for a slot in vain
	Timeouts   uint32 `json:"timeouts"`
	Conns      uint32 `json:"conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
	DialErrors uint32 `json:"dial_errors"`
}

type dialFailure struct {
	err error
}

// BackendPool hands out exclusive connections to one endpoint. A connection
// taken with Get belongs to the caller until Put or Remove.
type BackendPool struct {
	opts      *PoolOptions
	queue     chan struct{}
	mu        sync.Mutex
	conns     []*BackendConn
	idleConns []*BackendConn
	// pendingIdle counts background dials started to satisfy MinIdle
	pendingIdle int

	errNums     atomic.Uint32
	probing     atomic.Bool
	lastDialErr atomic.Pointer[dialFailure]
	closed      atomic.Bool
	ctx         context.Context
	cancel      context.CancelFunc

	immediateGets atomic.Uint32
	delayedGets   atomic.Uint32
	timeouts      atomic.Uint32
	staleConns    atomic.Uint32
	dialErrors    atomic.Uint32
}

func NewBackendPool(opts *PoolOptions) *BackendPool {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1
	}
	if opts.RetryMaxElapsed <= 0 {
		opts.RetryMaxElapsed = defaultRetryMaxElapsed
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	pool := &BackendPool{
		opts:      opts,
		queue:     make(chan struct{}, opts.MaxSize),
		conns:     make([]*BackendConn, 0, opts.MaxSize),
		idleConns: make([]*BackendConn, 0, opts.MaxSize),
		ctx:       ctx,
		cancel:    cancel,
	}
	pool.mu.Lock()
	pool.checkMinIdleConns()
	pool.mu.Unlock()
	return pool
}

func (p *BackendPool) Name() string {
	return p.opts.Name
}

// checkMinIdleConns must be called with p.mu held.
func (p *BackendPool) checkMinIdleConns() {
	if p.opts.MinIdle == 0 || p.closed.Load() {
		return
	}
	for len(p.conns)+p.pendingIdle < p.opts.MaxSize && len(p.idleConns)+p.pendingIdle < p.opts.MinIdle {
		p.pendingIdle++
		go func() {
			conn, err := p.dialConn(p.ctx)
			p.mu.Lock()
			defer p.mu.Unlock()
			p.pendingIdle--
			if err != nil {
				if !errors.Is(err, ErrClosed) {
					logger.Error(err, "add idle connection failed", "Pool", p.opts.Name)
				}
				return
			}
			if p.closed.Load() {
				_ = conn.Close()
				return
			}
			p.conns = append(p.conns, conn)
			p.idleConns = append(p.idleConns, conn)
		}()
	}
}

func (p *BackendPool) IsClosed() bool {
	return p.closed.Load()
}

func (p *BackendPool) freeSlot() {
	<-p.queue
}

func (p *BackendPool) getSlot(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	select {
	case p.queue <- struct{}{}:
		return nil
	default:
	}

	timer := ephemeralTimers.Get().(*time.Timer)
	timer.Reset(p.opts.WaitTimeout)
	defer func() {
		// Since go1.23 Stop also discards a pending tick, so the timer is
		// clean for the next Reset.
		timer.Stop()
		ephemeralTimers.Put(timer)
	}()

	select {
	case p.queue <- struct{}{}:
		return nil
	case <-timer.C:
		p.timeouts.Add(1)
		return ErrPoolTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns a connection owned by the caller. Idle connections are
// health-checked before reuse; a new one is dialed when none is usable.
func (p *BackendPool) Get(ctx context.Context) (*BackendConn, error) {
	if p.IsClosed() {
		return nil, ErrClosed
	}
	if err := p.getSlot(ctx); err != nil {
		return nil, err
	}
	for {
		p.mu.Lock()
		conn := p.popIdle()
		p.mu.Unlock()
		if conn == nil {
			break
		}
		if !p.health(conn) {
			p.mu.Lock()
			p.tryRemoveConn(conn)
			p.mu.Unlock()
			_ = conn.Close()
			continue
		}
		p.immediateGets.Add(1)
		return conn, nil
	}
	p.delayedGets.Add(1)
	conn, err := p.dialConn(ctx)
	if err != nil {
		p.freeSlot()
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		_ = conn.Close()
		p.freeSlot()
		return nil, ErrClosed
	}
	p.conns = append(p.conns, conn)
	return conn, nil
}

// popIdle must be called with p.mu held.
func (p *BackendPool) popIdle() *BackendConn {
	n := len(p.idleConns)
	if n == 0 {
		return nil
	}
	conn := p.idleConns[n-1]
	p.idleConns = p.idleConns[:n-1]
	p.checkMinIdleConns()
	return conn
}

// Put returns conn to the idle list, or closes it when it is broken, has
// unread bytes or the idle list is full.
func (p *BackendPool) Put(conn *BackendConn) {
	if conn.IsClosed() || conn.Buffered() > 0 {
		if conn.Buffered() > 0 {
			logger.Info("WARN: put connection with buffered data", "Pool", p.opts.Name,
				"DataBuffer", conn.Buffered())
		}
		p.Remove(conn)
		return
	}
	var closeConn bool
	p.mu.Lock()
	switch {
	case p.closed.Load():
		closeConn = true
	case p.opts.MaxIdle == 0 || len(p.idleConns) < p.opts.MaxIdle:
		p.idleConns = append(p.idleConns, conn)
	default:
		p.tryRemoveConn(conn)
		closeConn = true
	}
	p.mu.Unlock()
	p.freeSlot()
	if closeConn {
		_ = conn.Close()
	}
}

// Remove closes conn and releases its slot.
func (p *BackendPool) Remove(conn *BackendConn) {
	p.mu.Lock()
	p.tryRemoveConn(conn)
	p.mu.Unlock()
	_ = conn.Close()
	p.freeSlot()
}

// tryRemoveConn must be called with p.mu held.
func (p *BackendPool) tryRemoveConn(conn *BackendConn) {
	for i, c := range p.conns {
		if c == conn {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			p.staleConns.Add(1)
			p.checkMinIdleConns()
			return
		}
	}
}

func (p *BackendPool) health(conn *BackendConn) bool {
	now := time.Now()
	if lifetime := p.opts.ConnMaxLifetime; lifetime > 0 {
		if now.Sub(conn.Created()) > lifetime || now.Sub(conn.UsedAt()) > lifetime {
			return false
		}
	}
	if conn.IsClosed() || probeConn(conn.conn) != nil {
		return false
	}
	conn.SetUsedAt(now)
	return true
}

func (p *BackendPool) dialConn(ctx context.Context) (*BackendConn, error) {
	if p.IsClosed() {
		return nil, ErrClosed
	}
	if p.errNums.Load() >= uint32(p.opts.MaxSize) {
		return nil, fmt.Errorf("%w: %s: %v", ErrPoolExhausted, p.opts.Name, p.lastDialError())
	}
	conn, err := p.opts.Dialer(ctx)
	if err != nil {
		p.dialErrors.Add(1)
		p.lastDialErr.Store(&dialFailure{err: err})
		if p.errNums.Add(1) >= uint32(p.opts.MaxSize) && p.probing.CompareAndSwap(false, true) {
			go p.probeDial()
		}
		return nil, err
	}
	p.errNums.Store(0)
	return conn, nil
}

// probeDial redials with exponential backoff until the endpoint answers or
// RetryMaxElapsed passes, then lets Get dial again.
func (p *BackendPool) probeDial() {
	defer p.probing.Store(false)
	logger.Info("Backend unreachable, probing", "Pool", p.opts.Name, "error", p.lastDialError())
	conn, err := backoff.Retry(p.ctx, func() (*BackendConn, error) {
		if p.IsClosed() {
			return nil, backoff.Permanent(ErrClosed)
		}
		c, dialErr := p.opts.Dialer(p.ctx)
		if dialErr != nil {
			p.dialErrors.Add(1)
			p.lastDialErr.Store(&dialFailure{err: dialErr})
			return nil, dialErr
		}
		return c, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(p.opts.RetryMaxElapsed))
	// Allow dialing again either way; a failed probe only delays the next attempt.
	p.errNums.Store(0)
	if err != nil {
		logger.Info("Backend probe gave up", "Pool", p.opts.Name, "error", err.Error())
		return
	}
	logger.Info("Backend reachable again", "Pool", p.opts.Name)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() || (p.opts.MaxIdle > 0 && len(p.idleConns) >= p.opts.MaxIdle) {
		_ = conn.Close()
		return
	}
	p.conns = append(p.conns, conn)
	p.idleConns = append(p.idleConns, conn)
}

func (p *BackendPool) lastDialError() error {
	if f := p.lastDialErr.Load(); f != nil {
		return f.err
	}
	return nil
}

// Do runs cmd on a pooled connection.
func (p *BackendPool) Do(ctx context.Context, cmd *respio.Command) (*respio.RespPacket, error) {
	conn, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}
	pkt, err := conn.Do(ctx, cmd)
	p.Put(conn)
	return pkt, err
}

// Pin takes a connection out of the pool until release is called.
func (p *BackendPool) Pin(ctx context.Context) (client.Doer, func(), error) {
	conn, err := p.Get(ctx)
	if err != nil {
		return nil, nil, err
	}
	var once sync.Once
	return conn, func() { once.Do(func() { p.Put(conn) }) }, nil
}

func (p *BackendPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *BackendPool) Status() *PoolStatus {
	p.mu.Lock()
	conns, idle := len(p.conns), len(p.idleConns)
	p.mu.Unlock()
	return &PoolStatus{
		Name:          p.opts.Name,
		Addr:          p.opts.Addr,
		ImmediateGets: p.immediateGets.Load(),
		DelayedGets:   p.delayedGets.Load(),
		Timeouts:      p.timeouts.Load(),
		Conns:         uint32(conns),
		IdleConns:     uint32(idle),
		StaleConns:    p.staleConns.Load(),
		DialErrors:    p.dialErrors.Load(),
	}
}

func (p *BackendPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	var returnErr error
	for _, conn := range p.conns {
		if err := conn.Close(); err != nil && returnErr == nil {
			logger.Error(err, "close connection failed", "Pool", p.opts.Name)
			returnErr = err
		}
	}
	p.conns = nil
	p.idleConns = nil
	return returnErr
}

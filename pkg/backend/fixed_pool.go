package backend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/buraksezer/consistent"
	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/pzhenzhou/rediscodec/pkg/client"
	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

type Member struct {
	key string
}

func (m Member) String() string {
	return m.key
}

type memberHash struct{}

func (h memberHash) Sum64(key []byte) uint64 {
	return xxhash.Sum64(key)
}

var (
	consistentCfg = consistent.Config{
		PartitionCount:    271,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            memberHash{},
	}
)

var (
	_ client.Doer   = (*FixedPool)(nil)
	_ client.Pinner = (*FixedPool)(nil)
)

// FixedPool keeps MaxSize long-lived connections and shares them between
// callers. Commands with a key always go to the connection the key hashes
// to, so commands on one key keep their order; keyless commands are spread
// by the balancer. A connection that fails is replaced in the background.
type FixedPool struct {
	opts     *PoolOptions
	balancer Balancer
	mu       sync.RWMutex
	members  []*BackendConn
	onLines  *xsync.MapOf[string, *BackendConn]
	// replacing holds the ids of failed connections being redialed
	replacing *xsync.MapOf[string, struct{}]
	cHasher   *consistent.Consistent
	closed    atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc

	replaced atomic.Uint32
}

// NewFixedPool dials all MaxSize connections before returning.
func NewFixedPool(ctx context.Context, opts *PoolOptions) (*FixedPool, error) {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1
	}
	poolCtx, cancel := context.WithCancel(context.Background())
	f := &FixedPool{
		opts:      opts,
		balancer:  NewBalancer(GetBalancerType(opts.Balance)),
		members:   make([]*BackendConn, 0, opts.MaxSize),
		onLines:   xsync.NewMapOf[string, *BackendConn](),
		replacing: xsync.NewMapOf[string, struct{}](),
		cHasher:   consistent.New(nil, consistentCfg),
		ctx:       poolCtx,
		cancel:    cancel,
	}
	for i := 0; i < opts.MaxSize; i++ {
		conn, err := opts.Dialer(ctx)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		f.members = append(f.members, conn)
		f.onLines.Store(conn.Id, conn)
		f.cHasher.Add(Member{key: conn.Id})
	}
	logger.Info("FixedPool ready", "Pool", opts.Name, "Size", opts.MaxSize)
	return f, nil
}

func (f *FixedPool) Name() string {
	return f.opts.Name
}

// GetConnByKey returns the connection key hashes to.
func (f *FixedPool) GetConnByKey(key []byte) (*BackendConn, error) {
	if f.closed.Load() {
		return nil, ErrClosed
	}
	member := f.cHasher.LocateKey(key)
	if conn, ok := f.onLines.Load(member.String()); ok {
		return conn, nil
	}
	return nil, errors.New("backend: no connection found for key")
}

// GetConn returns a connection chosen by the balancer.
func (f *FixedPool) GetConn() (*BackendConn, error) {
	if f.closed.Load() {
		return nil, ErrClosed
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.members) == 0 {
		return nil, ErrClosed
	}
	return f.members[f.balancer.Next(len(f.members))], nil
}

func (f *FixedPool) pick(cmd *respio.Command) (*BackendConn, error) {
	if key := cmd.Key(); key != nil {
		return f.GetConnByKey(key)
	}
	return f.GetConn()
}

func (f *FixedPool) Do(ctx context.Context, cmd *respio.Command) (*respio.RespPacket, error) {
	conn, err := f.pick(cmd)
	if err != nil {
		return nil, err
	}
	pkt, err := conn.Do(ctx, cmd)
	if err != nil && conn.IsClosed() {
		f.replace(conn)
	}
	return pkt, err
}

// Pin holds one shared connection exclusively. Other callers whose keys
// hash to it wait until release.
func (f *FixedPool) Pin(ctx context.Context) (client.Doer, func(), error) {
	conn, err := f.GetConn()
	if err != nil {
		return nil, nil, err
	}
	doer, unlock, err := conn.Pin(ctx)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		unlock()
		if conn.IsClosed() {
			f.replace(conn)
		}
	}
	return doer, release, nil
}

// replace redials a failed member in the background. The failed connection
// stays in the ring until its successor is ready, so lookups keep resolving.
func (f *FixedPool) replace(old *BackendConn) {
	if f.closed.Load() {
		return
	}
	if _, loaded := f.replacing.LoadOrStore(old.Id, struct{}{}); loaded {
		return
	}
	go func() {
		defer f.replacing.Delete(old.Id)
		conn, err := backoff.Retry(f.ctx, func() (*BackendConn, error) {
			if f.closed.Load() {
				return nil, backoff.Permanent(ErrClosed)
			}
			return f.opts.Dialer(f.ctx)
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(f.opts.RetryMaxElapsed))
		if err != nil {
			logger.Info("FixedPool replacement failed", "Pool", f.opts.Name, "Old", old.Id, "error", err.Error())
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.closed.Load() {
			_ = conn.Close()
			return
		}
		for i, m := range f.members {
			if m == old {
				f.members[i] = conn
				break
			}
		}
		f.onLines.Store(conn.Id, conn)
		f.cHasher.Add(Member{key: conn.Id})
		f.cHasher.Remove(old.Id)
		f.onLines.Delete(old.Id)
		f.replaced.Add(1)
		logger.Info("FixedPool connection replaced", "Pool", f.opts.Name, "Old", old.Id, "New", conn.Id)
	}()
}

func (f *FixedPool) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.members)
}

func (f *FixedPool) Status() *PoolStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var alive uint32
	for _, m := range f.members {
		if !m.IsClosed() {
			alive++
		}
	}
	return &PoolStatus{
		Name:       f.opts.Name,
		Addr:       f.opts.Addr,
		Conns:      alive,
		StaleConns: f.replaced.Load(),
	}
}

func (f *FixedPool) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	f.cancel()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		_ = m.Close()
	}
	f.members = nil
	f.onLines.Clear()
	return nil
}

package backend

import (
	"context"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/pzhenzhou/rediscodec/pkg/client"
	"github.com/pzhenzhou/rediscodec/pkg/common"
)

// Pool is what the manager keeps per endpoint: a BackendPool or a FixedPool.
type Pool interface {
	client.Doer
	client.Pinner
	Name() string
	Status() *PoolStatus
	Close() error
}

var (
	_ Pool = (*BackendPool)(nil)
	_ Pool = (*FixedPool)(nil)
)

// BackendManager maps logical endpoint names to their pools.
type BackendManager struct {
	config    *common.PoolConfig
	creds     *common.CredentialStore
	pools     *xsync.MapOf[string, Pool]
	endpoints *xsync.MapOf[string, common.EndpointConfig]
}

func NewBackendManager(config *common.PoolConfig, creds *common.CredentialStore) *BackendManager {
	if creds == nil {
		creds = common.GlobalCredentials()
	}
	return &BackendManager{
		config: config,
		creds:  creds,
		pools:     xsync.NewMapOf[string, Pool](),
		endpoints: xsync.NewMapOf[string, common.EndpointConfig](),
	}
}

// Register creates the pool for ep unless one exists under the same name.
// The endpoint's credential is stored before the first dial.
func (m *BackendManager) Register(ctx context.Context, ep common.EndpointConfig) (Pool, error) {
	name := ep.EndpointName()
	if pool, ok := m.pools.Load(name); ok {
		return pool, nil
	}
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	if auth := ep.AuthInfo(); auth != nil {
		m.creds.Set(name, auth)
	}
	opts := NewPoolOptions(ep, m.config, m.creds)
	var pool Pool
	if m.config.IsFixed {
		fixed, err := NewFixedPool(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", name, err)
		}
		pool = fixed
	} else {
		pool = NewBackendPool(opts)
	}
	actual, loaded := m.pools.LoadOrStore(name, pool)
	if loaded {
		_ = pool.Close()
		return actual, nil
	}
	m.endpoints.Store(name, ep)
	logger.Info("Endpoint online", "Endpoint", name, "Addr", ep.Addr(), "Fixed", m.config.IsFixed)
	return pool, nil
}

func (m *BackendManager) Get(name string) (Pool, bool) {
	return m.pools.Load(name)
}

// Client returns a client bound to the named endpoint.
func (m *BackendManager) Client(name string) (*client.Client, error) {
	pool, ok := m.pools.Load(name)
	if !ok {
		return nil, fmt.Errorf("no endpoint registered as %q", name)
	}
	return client.New(pool), nil
}

// Remove closes and forgets the named endpoint and its credential.
func (m *BackendManager) Remove(name string) bool {
	pool, ok := m.pools.LoadAndDelete(name)
	if !ok {
		return false
	}
	m.creds.Delete(name)
	m.endpoints.Delete(name)
	_ = pool.Close()
	logger.Info("Endpoint offline", "Endpoint", name)
	return true
}

// Names returns the registered endpoint names in sorted order.
func (m *BackendManager) Names() []string {
	names := make([]string, 0, m.pools.Size())
	m.pools.Range(func(name string, _ Pool) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Endpoints returns the registered endpoint configs in name order,
// credentials included.
func (m *BackendManager) Endpoints() []common.EndpointConfig {
	eps := make([]common.EndpointConfig, 0, m.endpoints.Size())
	for _, name := range m.Names() {
		if ep, ok := m.endpoints.Load(name); ok {
			eps = append(eps, ep)
		}
	}
	return eps
}

func (m *BackendManager) Statuses() []*PoolStatus {
	statuses := make([]*PoolStatus, 0, m.pools.Size())
	for _, name := range m.Names() {
		if pool, ok := m.pools.Load(name); ok {
			statuses = append(statuses, pool.Status())
		}
	}
	return statuses
}

func (m *BackendManager) Close() {
	m.pools.Range(func(name string, pool Pool) bool {
		_ = pool.Close()
		m.pools.Delete(name)
		return true
	})
	m.endpoints.Clear()
}

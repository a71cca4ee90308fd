package cluster

import (
	"context"
	"maps"
	"sync"

	"go.uber.org/multierr"

	"github.com/cosmez/rediskit/internal/conn"
	"github.com/cosmez/rediskit/internal/pool"
)

// Pools holds one connection pool per node address, created on first use.
// Unless per-node limits are requested, all pools draw from one budget so
// MaxConnections caps the whole cluster client.
type Pools struct {
	conn   conn.Options
	pool   pool.Options
	budget *pool.Budget

	mu    sync.Mutex
	pools map[string]*pool.Pool
}

// NewPools returns an empty set. connOpts.Addr and poolOpts.Dial are filled
// in per node.
func NewPools(connOpts conn.Options, poolOpts pool.Options, perNode bool) *Pools {
	p := &Pools{
		conn:  connOpts,
		pool:  poolOpts,
		pools: make(map[string]*pool.Pool),
	}
	if !perNode {
		p.budget = pool.NewBudget(poolOpts.MaxConnections)
	}
	return p
}

// Dial opens a standalone connection to addr with the shared settings.
func (p *Pools) Dial(ctx context.Context, addr string) (*conn.Connection, error) {
	opts := p.conn
	opts.Addr = addr
	return conn.Connect(ctx, &opts)
}

// Get returns the pool for addr, creating it if needed.
func (p *Pools) Get(addr string) *pool.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if np, ok := p.pools[addr]; ok {
		return np
	}

	opts := p.pool
	opts.Budget = p.budget
	opts.Dial = func(ctx context.Context) (*conn.Connection, error) {
		return p.Dial(ctx, addr)
	}
	np := pool.New(opts)
	p.pools[addr] = np
	return np
}

func (p *Pools) snapshot() map[string]*pool.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.pools)
}

// DisconnectAll closes every connection of every pool.
func (p *Pools) DisconnectAll() error {
	var err error
	for _, np := range p.snapshot() {
		err = multierr.Append(err, np.Disconnect())
	}
	return err
}

// ResetAll forgets the idle connections of every pool.
func (p *Pools) ResetAll() {
	for _, np := range p.snapshot() {
		np.Reset()
	}
}

// Close closes every pool.
func (p *Pools) Close() error {
	var err error
	for _, np := range p.snapshot() {
		err = multierr.Append(err, np.Close())
	}
	return err
}

// Stats returns the counts of every pool by address.
func (p *Pools) Stats() map[string]pool.Stats {
	out := make(map[string]pool.Stats)
	for addr, np := range p.snapshot() {
		out[addr] = np.Stats()
	}
	return out
}

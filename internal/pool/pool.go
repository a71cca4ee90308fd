// Package pool keeps reusable connections to one server address under a
// ceiling on how many may be checked out at once.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cosmez/rediskit/internal/conn"
)

var (
	// ErrPoolExhausted is returned when no connection slot became free in
	// time (blocking pools) or right away (non-blocking pools).
	ErrPoolExhausted = errors.New("too many connections")
	// ErrClosed is returned by Acquire after Close.
	ErrClosed = errors.New("connection pool closed")
)

const (
	DefaultWaitTimeout       = 20 * time.Second
	DefaultIdleCheckInterval = time.Second
)

// Budget is a ceiling on checked-out connections. One budget may be shared by
// several pools to cap a whole cluster client.
type Budget struct {
	tokens chan struct{}
}

// NewBudget returns a budget of n slots, or nil (unbounded) when n <= 0.
func NewBudget(n int) *Budget {
	if n <= 0 {
		return nil
	}
	return &Budget{tokens: make(chan struct{}, n)}
}

// Cap is the number of slots; 0 means unbounded.
func (b *Budget) Cap() int {
	if b == nil {
		return 0
	}
	return cap(b.tokens)
}

func (b *Budget) tryTake() bool {
	select {
	case b.tokens <- struct{}{}:
		return true
	default:
		return false
	}
}

func (b *Budget) give() {
	if b == nil {
		return
	}
	<-b.tokens
}

// Options configures a Pool.
type Options struct {
	Dial func(ctx context.Context) (*conn.Connection, error)

	// MaxConnections bounds checked-out connections; 0 means unbounded.
	// Ignored when Budget is set.
	MaxConnections int
	Budget         *Budget

	// Blocking pools wait up to WaitTimeout for a free slot.
	Blocking    bool
	WaitTimeout time.Duration

	// MaxIdleTime of 0 keeps idle connections forever.
	MaxIdleTime       time.Duration
	IdleCheckInterval time.Duration

	Logger *zap.Logger
}

// Stats is a snapshot of the pool's connection counts.
type Stats struct {
	Idle  int
	InUse int
	Total int
}

// Pool hands out connections to one address. Checked-out connections must
// be returned with Release.
type Pool struct {
	opts   Options
	budget *Budget
	log    *zap.Logger

	mu     sync.Mutex
	idle   []*conn.Connection
	inUse  map[*conn.Connection]struct{}
	closed bool

	nextSweep atomic.Int64
}

// New returns an empty pool. No connection is opened until Acquire.
func New(opts Options) *Pool {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.IdleCheckInterval <= 0 {
		opts.IdleCheckInterval = DefaultIdleCheckInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	budget := opts.Budget
	if budget == nil {
		budget = NewBudget(opts.MaxConnections)
	}
	return &Pool{
		opts:   opts,
		budget: budget,
		log:    opts.Logger,
		inUse:  make(map[*conn.Connection]struct{}),
	}
}

// Acquire returns a connected connection, reusing an idle one when possible.
// A cancelled ctx while waiting returns ctx.Err() and changes nothing.
func (p *Pool) Acquire(ctx context.Context) (*conn.Connection, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if err := p.waitTurn(ctx); err != nil {
		return nil, err
	}
	p.sweepIfDue()

	p.mu.Lock()
	for len(p.idle) > 0 {
		c := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if !c.IsConnected() {
			continue
		}
		p.inUse[c] = struct{}{}
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := p.opts.Dial(ctx)
	if err != nil {
		p.budget.give()
		return nil, err
	}

	p.mu.Lock()
	p.inUse[c] = struct{}{}
	p.mu.Unlock()
	return c, nil
}

func (p *Pool) waitTurn(ctx context.Context) error {
	if p.budget == nil {
		return nil
	}
	if p.budget.tryTake() {
		return nil
	}
	if !p.opts.Blocking {
		return ErrPoolExhausted
	}

	timer := time.NewTimer(p.opts.WaitTimeout)
	defer timer.Stop()
	select {
	case p.budget.tokens <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrPoolExhausted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns c to the pool. Connections that are closed or still owe a
// reply are disconnected and dropped. Connections the pool did not hand out
// are ignored.
func (p *Pool) Release(c *conn.Connection) {
	p.mu.Lock()
	if _, ok := p.inUse[c]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.inUse, c)
	discard := p.closed || !c.IsConnected() || c.AwaitingResponse()
	if !discard {
		p.idle = append(p.idle, c)
	}
	p.mu.Unlock()

	if discard {
		c.Disconnect()
	}
	p.budget.give()
}

func (p *Pool) sweepIfDue() {
	if p.opts.MaxIdleTime <= 0 {
		return
	}
	now := time.Now()
	next := p.nextSweep.Load()
	if now.UnixNano() < next {
		return
	}
	if !p.nextSweep.CompareAndSwap(next, now.Add(p.opts.IdleCheckInterval).UnixNano()) {
		return
	}

	cutoff := now.Add(-p.opts.MaxIdleTime)
	var stale []*conn.Connection
	p.mu.Lock()
	kept := p.idle[:0]
	for _, c := range p.idle {
		if c.LastActivity().Before(cutoff) {
			stale = append(stale, c)
			continue
		}
		kept = append(kept, c)
	}
	p.idle = kept
	p.mu.Unlock()

	for _, c := range stale {
		c.Disconnect()
	}
	if len(stale) > 0 {
		p.log.Debug("reaped idle connections", zap.Int("count", len(stale)))
	}
}

// Disconnect closes every connection. Checked-out ones stay tracked and are
// dropped when released.
func (p *Pool) Disconnect() error {
	p.mu.Lock()
	all := make([]*conn.Connection, 0, len(p.idle)+len(p.inUse))
	all = append(all, p.idle...)
	for c := range p.inUse {
		all = append(all, c)
	}
	p.idle = nil
	p.mu.Unlock()

	var err error
	for _, c := range all {
		err = multierr.Append(err, c.Disconnect())
	}
	return err
}

// Reset forgets idle connections, disconnecting them.
func (p *Pool) Reset() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, c := range idle {
		c.Disconnect()
	}
	p.nextSweep.Store(0)
}

// Close disconnects everything and makes further Acquire calls fail.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.Disconnect()
}

// Stats returns the current connection counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Idle:  len(p.idle),
		InUse: len(p.inUse),
		Total: len(p.idle) + len(p.inUse),
	}
}

package cluster

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/cosmez/rediskit/internal/conn"
	"github.com/cosmez/rediskit/resp"
)

var (
	// ErrRetriesExhausted is returned when a request used up its TTL.
	ErrRetriesExhausted = errors.New("cluster: TTL exhausted")
	// ErrCrossNode is returned when a batch touches more than one node.
	ErrCrossNode = errors.New("cluster: commands map to more than one node")
	// ErrBlockedCommand is returned for commands refused in cluster mode.
	ErrBlockedCommand = errors.New("cluster: command is blocked in cluster mode")
	// ErrNeedsSlot is returned for slot-addressed commands sent through Do.
	ErrNeedsSlot = errors.New("cluster: command needs an explicit slot")
)

const (
	DefaultTTL              = 16
	DefaultTryAgainBackoff  = 50 * time.Millisecond
	DefaultConnErrorBackoff = 100 * time.Millisecond
)

// RouterOptions configures a Router. The flag and merge tables belong to
// the router once passed in.
type RouterOptions struct {
	Topology *Topology
	Pools    *Pools
	Encoder  *resp.Encoder

	TTL              int
	TryAgainBackoff  time.Duration
	ConnErrorBackoff time.Duration

	// ReadonlyReads sends read commands to replicas as well as masters.
	ReadonlyReads    bool
	ReadOnlyCommands map[string]bool
	RetryOnTimeout   bool

	NodeFlags map[string]NodeFlag
	Merges    map[string]MergeFunc

	Logger *zap.Logger
}

// Router sends commands to the node that owns their slot and follows the
// cluster's redirects.
type Router struct {
	topo  *Topology
	pools *Pools
	enc   *resp.Encoder
	opts  RouterOptions
	log   *zap.Logger

	moved       atomic.Bool
	clusterDown atomic.Bool
}

// NewRouter returns a router over opts.Topology and opts.Pools.
func NewRouter(opts RouterOptions) *Router {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.TryAgainBackoff <= 0 {
		opts.TryAgainBackoff = DefaultTryAgainBackoff
	}
	if opts.ConnErrorBackoff <= 0 {
		opts.ConnErrorBackoff = DefaultConnErrorBackoff
	}
	if opts.NodeFlags == nil {
		opts.NodeFlags = make(map[string]NodeFlag)
	}
	if opts.Merges == nil {
		opts.Merges = make(map[string]MergeFunc)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Router{
		topo:  opts.Topology,
		pools: opts.Pools,
		enc:   opts.Encoder,
		opts:  opts,
		log:   opts.Logger,
	}
}

// Topology returns the router's slot table.
func (r *Router) Topology() *Topology { return r.topo }

// Pools returns the router's per-node pools.
func (r *Router) Pools() *Pools { return r.pools }

// SetNodeFlag overrides how a command is dispatched.
func (r *Router) SetNodeFlag(name string, flag NodeFlag) {
	r.opts.NodeFlags[strings.ToUpper(name)] = flag
}

// SetMerge registers how the replies of a fanned-out command are combined.
func (r *Router) SetMerge(name string, m MergeFunc) {
	r.opts.Merges[strings.ToUpper(name)] = m
}

// MarkMoved makes the next request refresh the topology first.
func (r *Router) MarkMoved() { r.moved.Store(true) }

// Close closes all node pools.
func (r *Router) Close() error { return r.pools.Close() }

// EnsureInitialized loads the topology if no refresh has succeeded yet.
func (r *Router) EnsureInitialized(ctx context.Context) error {
	if r.topo.Initialized() {
		return nil
	}
	return r.topo.Initialize(ctx)
}

// Do runs cmd on the node that owns its slot, or on the nodes its flag
// names. Error replies are returned as *resp.ServerError.
func (r *Router) Do(ctx context.Context, cmd resp.Command) (resp.Reply, error) {
	if err := r.EnsureInitialized(ctx); err != nil {
		return nil, err
	}

	name := cmd.Upper()
	switch flag := r.opts.NodeFlags[name]; flag {
	case FlagBlocked:
		return nil, fmt.Errorf("%w: %s", ErrBlockedCommand, name)
	case FlagSlotID:
		return nil, fmt.Errorf("%w: %s", ErrNeedsSlot, name)
	case FlagRandom:
		n := r.topo.RandomNode()
		if n == nil {
			return nil, ErrClusterUnreachable
		}
		return r.doOnNodes(ctx, []*Node{n}, cmd)
	case FlagAllMasters:
		return r.doOnNodes(ctx, r.topo.Masters(), cmd)
	case FlagAllNodes:
		return r.doOnNodes(ctx, r.topo.Nodes(), cmd)
	}

	if err := r.refreshIfFlagged(ctx); err != nil {
		return nil, err
	}
	slot, err := CommandSlot(r.enc, cmd)
	if err != nil {
		return nil, err
	}
	return r.route(ctx, slot, cmd)
}

// DoOnSlot runs cmd on the master of slot.
func (r *Router) DoOnSlot(ctx context.Context, slot int, cmd resp.Command) (resp.Reply, error) {
	if err := r.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	n := r.topo.MasterForSlot(slot)
	if n == nil {
		return nil, fmt.Errorf("cluster: slot %d is not served", slot)
	}
	return r.doOnNodes(ctx, []*Node{n}, cmd)
}

// DoOnNode runs cmd on the node at addr without following redirects.
func (r *Router) DoOnNode(ctx context.Context, addr string, cmd resp.Command) (resp.Reply, error) {
	if err := r.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	reply, err := r.doOnNode(ctx, addr, cmd)
	if err != nil {
		return nil, err
	}
	if e, ok := reply.(resp.Error); ok {
		return nil, e.Err()
	}
	return reply, nil
}

// NodeForCommands returns the address of the single master that owns the
// slots of all cmds.
func (r *Router) NodeForCommands(ctx context.Context, cmds []resp.Command) (string, error) {
	if err := r.EnsureInitialized(ctx); err != nil {
		return "", err
	}
	if err := r.refreshIfFlagged(ctx); err != nil {
		return "", err
	}
	var addr string
	for _, cmd := range cmds {
		slot, err := CommandSlot(r.enc, cmd)
		if err != nil {
			return "", err
		}
		n := r.topo.MasterForSlot(slot)
		if n == nil {
			return "", fmt.Errorf("cluster: slot %d is not served", slot)
		}
		if addr != "" && n.Addr != addr {
			return "", ErrCrossNode
		}
		addr = n.Addr
	}
	if addr == "" {
		return "", ErrNoKey
	}
	return addr, nil
}

// refreshIfFlagged reloads the topology after a MOVED or CLUSTERDOWN. An
// unreachable cluster is only an error after MOVED.
func (r *Router) refreshIfFlagged(ctx context.Context) error {
	moved, down := r.moved.Load(), r.clusterDown.Load()
	if !moved && !down {
		return nil
	}
	if err := r.topo.Initialize(ctx); err != nil {
		if moved || !errors.Is(err, ErrClusterUnreachable) {
			return err
		}
	}
	r.moved.Store(false)
	r.clusterDown.Store(false)
	return nil
}

func (r *Router) route(ctx context.Context, slot int, cmd resp.Command) (resp.Reply, error) {
	readonly := r.opts.ReadonlyReads && r.opts.ReadOnlyCommands[cmd.Upper()]

	var (
		askAddr   string
		asking    bool
		tryRandom bool
	)
	for ttl := r.opts.TTL; ttl > 0; {
		ttl--

		var addr string
		switch {
		case asking:
			addr = askAddr
		case tryRandom:
			tryRandom = false
			if n := r.topo.RandomNode(); n != nil {
				addr = n.Addr
			}
		default:
			if n := r.topo.NodeForSlot(slot, readonly && !r.moved.Load()); n != nil {
				addr = n.Addr
			}
		}
		if addr == "" {
			n := r.topo.RandomNode()
			if n == nil {
				return nil, ErrClusterUnreachable
			}
			addr = n.Addr
		}

		reply, err := r.attempt(ctx, addr, cmd, asking)
		asking = false
		if err == nil {
			e, ok := reply.(resp.Error)
			if !ok {
				return reply, nil
			}
			err = e.Err()
		}
		if ctx.Err() != nil {
			return nil, err
		}

		var se *resp.ServerError
		switch {
		case errors.As(err, &se):
			switch se.Kind {
			case resp.KindMoved:
				r.moved.Store(true)
				if err := r.topo.IncrementReinitializeCounter(ctx); err != nil {
					r.log.Debug("topology refresh after MOVED failed", zap.Error(err))
				}
				n, perr := r.topo.SetNodeAddr(se.Addr, RoleMaster)
				if perr != nil {
					return nil, se
				}
				r.topo.SetSlotMaster(se.Slot, n)
				r.log.Debug("moved", zap.Int("slot", se.Slot), zap.String("to", se.Addr))
			case resp.KindAsk:
				askAddr, asking = se.Addr, true
				r.log.Debug("ask", zap.Int("slot", se.Slot), zap.String("to", se.Addr))
			case resp.KindTryAgain, resp.KindBusyLoading:
				if err := sleep(ctx, r.opts.TryAgainBackoff); err != nil {
					return nil, err
				}
			case resp.KindClusterDown:
				r.log.Warn("cluster down", zap.String("addr", addr), zap.Error(se))
				if err := r.pools.DisconnectAll(); err != nil {
					r.log.Debug("disconnect after CLUSTERDOWN", zap.Error(err))
				}
				r.pools.ResetAll()
				r.clusterDown.Store(true)
				return nil, se
			default:
				return nil, se
			}
		case conn.IsNetworkError(err):
			tryRandom = true
			if ttl < r.opts.TTL/2 {
				if err := sleep(ctx, r.opts.ConnErrorBackoff); err != nil {
					return nil, err
				}
			}
		default:
			return nil, err
		}
	}
	return nil, ErrRetriesExhausted
}

// attempt runs cmd once on addr, preceded by ASKING after an ASK redirect.
func (r *Router) attempt(ctx context.Context, addr string, cmd resp.Command, asking bool) (resp.Reply, error) {
	p := r.pools.Get(addr)
	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(c)

	if asking {
		reply, err := c.Do(ctx, resp.NewCommand("ASKING"))
		if err != nil {
			return nil, err
		}
		if e, ok := reply.(resp.Error); ok {
			return e, nil
		}
	}
	return c.Do(ctx, cmd)
}

func (r *Router) doOnNodes(ctx context.Context, nodes []*Node, cmd resp.Command) (resp.Reply, error) {
	replies := make([]NodeReply, 0, len(nodes))
	for _, n := range nodes {
		reply, err := r.doOnNode(ctx, n.Addr, cmd)
		if err != nil {
			return nil, err
		}
		replies = append(replies, NodeReply{Addr: n.Addr, Reply: reply})
	}
	slices.SortFunc(replies, func(a, b NodeReply) int { return cmp.Compare(a.Addr, b.Addr) })

	merge, ok := r.opts.Merges[cmd.Upper()]
	if !ok {
		merge = MergeFirst
	}
	reply, err := merge(replies)
	if err != nil {
		return nil, err
	}
	if e, ok := reply.(resp.Error); ok {
		return nil, e.Err()
	}
	return reply, nil
}

// doOnNode runs cmd on one node, retrying once on a fresh connection after
// a transport failure. Timeouts are only retried with RetryOnTimeout.
func (r *Router) doOnNode(ctx context.Context, addr string, cmd resp.Command) (resp.Reply, error) {
	p := r.pools.Get(addr)
	var lastErr error
	for try := 0; try < 2; try++ {
		c, err := p.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		reply, err := c.Do(ctx, cmd)
		p.Release(c)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil || !conn.IsNetworkError(err) {
			return nil, err
		}
		if conn.IsTimeout(err) && !r.opts.RetryOnTimeout {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package client

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"

	"github.com/cosmez/rediskit/internal/cluster"
	"github.com/cosmez/rediskit/internal/conn"
	"github.com/cosmez/rediskit/internal/pool"
	"github.com/cosmez/rediskit/resp"
)

// Dispatch rules for commands that do not route by key.
type NodeFlag = cluster.NodeFlag

const (
	FlagBlocked    = cluster.FlagBlocked
	FlagRandom     = cluster.FlagRandom
	FlagAllMasters = cluster.FlagAllMasters
	FlagAllNodes   = cluster.FlagAllNodes
	FlagSlotID     = cluster.FlagSlotID
)

type (
	// NodeReply is one node's answer to a fanned-out command.
	NodeReply = cluster.NodeReply
	// MergeFunc combines the per-node replies of a fanned-out command.
	MergeFunc = cluster.MergeFunc
)

// byNode lists the fanned-out commands whose default merge keeps one reply
// per node. Their callbacks are applied to each node's reply.
var byNode = []string{
	"INFO", "TIME", "LASTSAVE", "CONFIG GET", "SLOWLOG GET", "CLIENT LIST",
	"CLIENT GETNAME", "CLIENT KILL", "SAVE", "BGSAVE", "BGREWRITEAOF",
}

// ClusterClient routes commands across the nodes of a cluster. It is safe
// for concurrent use.
type ClusterClient struct {
	Strings
	Keys
	Server
	Collections

	opts      ClusterOptions
	enc       *resp.Encoder
	router    *cluster.Router
	callbacks *Callbacks
	shaper    shaper
	log       *zap.Logger
}

// NewCluster returns a cluster client. The topology is loaded on the first
// command.
func NewCluster(opts ClusterOptions) (*ClusterClient, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxConnections == 0 {
		opts.MaxConnections = DefaultClusterMaxConnections
	}
	enc, err := opts.encoder()
	if err != nil {
		return nil, err
	}
	co, err := opts.connOptions(enc)
	if err != nil {
		return nil, err
	}
	co.Network = "tcp"
	co.Readonly = opts.ReadonlyReads
	log := opts.logger()

	pools := cluster.NewPools(co, opts.poolOptions(), opts.MaxConnectionsPerNode)
	topo := cluster.NewTopology(cluster.TopologyOptions{
		StartupNodes:          opts.startupNodes(),
		ReinitializeSteps:     opts.ReinitializeSteps,
		SkipFullCoverageCheck: opts.SkipFullCoverageCheck,
		FollowCluster:         opts.FollowCluster,
		Dial:                  pools.Dial,
		Logger:                log,
	})
	router := cluster.NewRouter(cluster.RouterOptions{
		Topology:         topo,
		Pools:            pools,
		Encoder:          enc,
		TTL:              opts.TTL,
		ReadonlyReads:    opts.ReadonlyReads,
		ReadOnlyCommands: cluster.DefaultReadOnlyCommands(),
		RetryOnTimeout:   opts.RetryOnTimeout,
		NodeFlags:        cluster.DefaultNodeFlags(),
		Merges:           cluster.DefaultMerges(),
		Logger:           log,
	})

	sh := shaper{enc: enc, decode: opts.DecodeResponses}
	callbacks := NewCallbacks()
	for _, name := range byNode {
		callbacks.Set(name, perNode(callbacks.Get(name), sh))
	}

	c := &ClusterClient{
		opts:      opts,
		enc:       enc,
		router:    router,
		callbacks: callbacks,
		shaper:    sh,
		log:       log,
	}
	c.Strings = Strings{c}
	c.Keys = Keys{c}
	c.Server = Server{c}
	c.Collections = Collections{doer: c}
	return c, nil
}

// perNode applies cb to every reply of a flat [addr, reply, ...] array and
// returns the results keyed by node address.
func perNode(cb Callback, sh shaper) Callback {
	return func(r resp.Reply) (any, error) {
		arr, ok := r.(resp.Array)
		if !ok {
			return nil, fmt.Errorf("expected per-node array, got %s", r.Type())
		}
		out := make(map[string]any, len(arr.Values)/2)
		for i := 0; i+1 < len(arr.Values); i += 2 {
			v, err := sh.apply(cb, arr.Values[i+1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", arr.Values[i].Text(), err)
			}
			out[arr.Values[i].Text()] = v
		}
		return out, nil
	}
}

// Options returns the options the client was built with.
func (c *ClusterClient) Options() ClusterOptions { return c.opts }

// Callbacks returns the client's reply callback registry.
func (c *ClusterClient) Callbacks() *Callbacks { return c.callbacks }

// SetNodeFlag changes how name is dispatched.
func (c *ClusterClient) SetNodeFlag(name string, flag NodeFlag) {
	c.router.SetNodeFlag(name, flag)
}

// SetMerge registers how the per-node replies of name are combined.
func (c *ClusterClient) SetMerge(name string, m MergeFunc) {
	c.router.SetMerge(name, m)
}

// Stats reports connection counts per node address.
func (c *ClusterClient) Stats() map[string]pool.Stats {
	return c.router.Pools().Stats()
}

// Masters returns the addresses of the master nodes, loading the topology
// if needed.
func (c *ClusterClient) Masters(ctx context.Context) ([]string, error) {
	if err := c.router.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	var addrs []string
	for _, n := range c.router.Topology().Masters() {
		addrs = append(addrs, n.Addr)
	}
	return addrs, nil
}

// Execute routes name with args and shapes the reply with the callback
// registered for name.
func (c *ClusterClient) Execute(ctx context.Context, name string, args ...any) (any, error) {
	cmd := resp.NewCommand(name, args...)
	reply, err := c.Do(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return c.shaper.apply(c.callbacks.Get(cmd.Upper()), reply)
}

// ExecuteOnSlot runs name on the master of slot. It is required for
// commands such as CLUSTER GETKEYSINSLOT.
func (c *ClusterClient) ExecuteOnSlot(ctx context.Context, slot int, name string, args ...any) (any, error) {
	cmd := resp.NewCommand(name, args...)
	reply, err := c.router.DoOnSlot(ctx, slot, cmd)
	if err != nil {
		return nil, err
	}
	return c.shaper.apply(c.callbacks.Get(cmd.Upper()), reply)
}

// ExecuteOnNode runs name on the node at addr without following redirects.
func (c *ClusterClient) ExecuteOnNode(ctx context.Context, addr, name string, args ...any) (any, error) {
	cmd := resp.NewCommand(name, args...)
	reply, err := c.router.DoOnNode(ctx, addr, cmd)
	if err != nil {
		return nil, err
	}
	return c.shaper.apply(c.callbacks.Get(cmd.Upper()), reply)
}

// Do routes cmd and returns the raw reply.
func (c *ClusterClient) Do(ctx context.Context, cmd resp.Command) (resp.Reply, error) {
	return c.router.Do(ctx, cmd)
}

// Scan iterates the keys matching pattern on every master in turn.
func (c *ClusterClient) Scan(ctx context.Context, pattern string) iter.Seq2[resp.Reply, error] {
	return func(yield func(resp.Reply, error) bool) {
		masters, err := c.Masters(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, addr := range masters {
			node := doerFunc(func(ctx context.Context, cmd resp.Command) (resp.Reply, error) {
				return c.router.DoOnNode(ctx, addr, cmd)
			})
			for k, err := range scanKeys(ctx, node, pattern) {
				if !yield(k, err) || err != nil {
					return
				}
			}
		}
	}
}

// Pipeline returns an empty pipeline. All queued commands must map to one
// node; Execute fails with ErrCrossNode before sending otherwise.
func (c *ClusterClient) Pipeline(tx bool) *Pipeline {
	return newPipeline(tx, c.callbacks, c.shaper, c.reserve, c.afterPipeline)
}

func (c *ClusterClient) reserve(ctx context.Context, cmds []resp.Command) (*conn.Connection, func(), error) {
	addr, err := c.router.NodeForCommands(ctx, cmds)
	if err != nil {
		return nil, nil, err
	}
	p := c.router.Pools().Get(addr)
	cn, err := p.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return cn, func() { p.Release(cn) }, nil
}

// afterPipeline makes the next request refresh the topology when a
// pipelined command was redirected.
func (c *ClusterClient) afterPipeline(results []Result) {
	for _, r := range results {
		if IsKind(r.Err, resp.KindMoved) || IsKind(r.Err, resp.KindAsk) {
			c.log.Debug("pipeline redirected, refreshing topology", zap.Error(r.Err))
			c.router.MarkMoved()
			return
		}
	}
}

// Close closes all node pools.
func (c *ClusterClient) Close() error {
	return c.router.Close()
}

func (c *ClusterClient) String() string {
	return "ClusterClient<" + strings.Join(c.router.Topology().StartupNodes(), ", ") + ">"
}

// Package cluster routes commands across a sharded deployment: it keeps the
// slot-to-node table, one connection pool per node, and the redirect and
// retry loop that follows MOVED/ASK replies.
package cluster

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"slices"
	"strconv"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/cosmez/rediskit/internal/conn"
	"github.com/cosmez/rediskit/resp"
)

var (
	// ErrClusterUnreachable is returned when no startup node answered the
	// topology query.
	ErrClusterUnreachable = errors.New("cluster unreachable")
	// ErrIncompleteCoverage is returned when the slot table has holes and
	// the servers require full coverage.
	ErrIncompleteCoverage = errors.New("not all slots are covered")
)

// DefaultReinitializeSteps is how many MOVED replies trigger a full refresh.
const DefaultReinitializeSteps = 25

// Role is a node's replication role.
type Role int

const (
	RoleMaster Role = iota
	RoleReplica
)

func (r Role) String() string {
	if r == RoleReplica {
		return "replica"
	}
	return "master"
}

// Node is one server of the cluster. Nodes are never modified after they
// are published; updates replace the pointer.
type Node struct {
	ID   string
	Host string
	Port int
	Addr string
	Role Role
}

func newNode(host string, port int, id string, role Role) *Node {
	return &Node{
		ID:   id,
		Host: host,
		Port: port,
		Addr: net.JoinHostPort(host, strconv.Itoa(port)),
		Role: role,
	}
}

type slotEntry struct {
	master   atomic.Pointer[Node]
	replicas []*Node
}

type slotTable struct {
	slots   [SlotCount]slotEntry
	covered int
}

// TopologyOptions configures a Topology.
type TopologyOptions struct {
	StartupNodes          []string
	ReinitializeSteps     int
	SkipFullCoverageCheck bool
	// FollowCluster adds discovered masters to the startup set so later
	// refreshes can still find the cluster after the original nodes leave.
	FollowCluster bool

	// Dial opens a one-off connection used for the topology query.
	Dial   func(ctx context.Context, addr string) (*conn.Connection, error)
	Logger *zap.Logger
}

// Topology maps every slot to its master (and replicas) and tracks the set
// of known nodes. The whole slot table is swapped on refresh; MOVED
// corrections replace a single slot entry.
type Topology struct {
	opts TopologyOptions
	log  *zap.Logger

	table       atomic.Pointer[slotTable]
	initialized atomic.Bool
	reinitCount atomic.Int64

	initMu sync.Mutex

	mu      sync.RWMutex
	nodes   map[string]*Node
	startup []string
}

// NewTopology returns an uninitialized topology.
func NewTopology(opts TopologyOptions) *Topology {
	if opts.ReinitializeSteps <= 0 {
		opts.ReinitializeSteps = DefaultReinitializeSteps
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	t := &Topology{
		opts:    opts,
		log:     opts.Logger,
		nodes:   make(map[string]*Node),
		startup: slices.Clone(opts.StartupNodes),
	}
	t.table.Store(&slotTable{})
	return t
}

// Initialized reports whether a refresh has succeeded at least once.
func (t *Topology) Initialized() bool { return t.initialized.Load() }

// StartupNodes returns the addresses tried by Initialize, in order.
func (t *Topology) StartupNodes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.startup)
}

// Initialize rebuilds the slot table from the first startup node that
// answers CLUSTER SLOTS.
func (t *Topology) Initialize(ctx context.Context) error {
	t.initMu.Lock()
	defer t.initMu.Unlock()

	var lastErr error
	for _, addr := range t.StartupNodes() {
		table, nodes, err := t.query(ctx, addr)
		if err != nil {
			if errors.Is(err, ErrIncompleteCoverage) || ctx.Err() != nil {
				return err
			}
			t.log.Debug("startup node failed", zap.String("addr", addr), zap.Error(err))
			lastErr = err
			continue
		}

		t.table.Store(table)
		t.mu.Lock()
		t.nodes = nodes
		if t.opts.FollowCluster {
			for _, n := range nodes {
				if n.Role == RoleMaster && !slices.Contains(t.startup, n.Addr) {
					t.startup = append(t.startup, n.Addr)
				}
			}
		}
		t.mu.Unlock()
		t.initialized.Store(true)
		t.reinitCount.Store(0)

		t.log.Info("cluster topology refreshed",
			zap.String("from", addr),
			zap.Int("nodes", len(nodes)),
			zap.Int("covered_slots", table.covered))
		return nil
	}
	if lastErr == nil {
		return fmt.Errorf("%w: no startup nodes", ErrClusterUnreachable)
	}
	return fmt.Errorf("%w: %v", ErrClusterUnreachable, lastErr)
}

func (t *Topology) query(ctx context.Context, addr string) (*slotTable, map[string]*Node, error) {
	c, err := t.opts.Dial(ctx, addr)
	if err != nil {
		return nil, nil, err
	}
	defer c.Disconnect()

	reply, err := c.Do(ctx, resp.NewCommand("CLUSTER SLOTS"))
	if err != nil {
		return nil, nil, err
	}
	if e, ok := reply.(resp.Error); ok {
		return nil, nil, e.Err()
	}

	host, _, _ := net.SplitHostPort(addr)
	table, nodes, err := parseClusterSlots(reply, host)
	if err != nil {
		return nil, nil, err
	}

	if table.covered < SlotCount && !t.opts.SkipFullCoverageCheck {
		required, err := requiresFullCoverage(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		if required {
			return nil, nil, fmt.Errorf("%w: %d of %d", ErrIncompleteCoverage, table.covered, SlotCount)
		}
	}
	return table, nodes, nil
}

func requiresFullCoverage(ctx context.Context, c *conn.Connection) (bool, error) {
	reply, err := c.Do(ctx, resp.NewCommand("CONFIG GET", "cluster-require-full-coverage"))
	if err != nil {
		return false, err
	}
	arr, ok := reply.(resp.Array)
	if !ok || len(arr.Values) < 2 {
		return false, nil
	}
	return arr.Values[1].Text() == "yes", nil
}

// parseClusterSlots builds a table from a CLUSTER SLOTS reply:
//
//	[[start, end, [host, port, id], [replica host, port, id]...]...]
//
// An empty host means the node that answered.
func parseClusterSlots(reply resp.Reply, queriedHost string) (*slotTable, map[string]*Node, error) {
	entries, ok := reply.(resp.Array)
	if !ok {
		return nil, nil, fmt.Errorf("CLUSTER SLOTS: unexpected reply %s", reply.Type())
	}

	table := &slotTable{}
	nodes := make(map[string]*Node)
	register := func(v resp.Reply, role Role) (*Node, error) {
		info, ok := v.(resp.Array)
		if !ok || len(info.Values) < 2 {
			return nil, fmt.Errorf("CLUSTER SLOTS: malformed node entry")
		}
		host := info.Values[0].Text()
		if host == "" {
			host = queriedHost
		}
		port, ok := info.Values[1].(resp.Integer)
		if !ok {
			return nil, fmt.Errorf("CLUSTER SLOTS: malformed port")
		}
		var id string
		if len(info.Values) > 2 {
			id = info.Values[2].Text()
		}
		n := newNode(host, int(port.Value), id, role)
		if prev, ok := nodes[n.Addr]; ok && prev.Role == RoleMaster {
			return prev, nil
		}
		nodes[n.Addr] = n
		return n, nil
	}

	for _, e := range entries.Values {
		entry, ok := e.(resp.Array)
		if !ok || len(entry.Values) < 3 {
			return nil, nil, fmt.Errorf("CLUSTER SLOTS: malformed slot range")
		}
		start, ok1 := entry.Values[0].(resp.Integer)
		end, ok2 := entry.Values[1].(resp.Integer)
		if !ok1 || !ok2 || start.Value < 0 || end.Value >= SlotCount || start.Value > end.Value {
			return nil, nil, fmt.Errorf("CLUSTER SLOTS: invalid range")
		}
		master, err := register(entry.Values[2], RoleMaster)
		if err != nil {
			return nil, nil, err
		}
		var replicas []*Node
		for _, rv := range entry.Values[3:] {
			r, err := register(rv, RoleReplica)
			if err != nil {
				return nil, nil, err
			}
			replicas = append(replicas, r)
		}
		for s := start.Value; s <= end.Value; s++ {
			if table.slots[s].master.Load() == nil {
				table.covered++
			}
			table.slots[s].master.Store(master)
			table.slots[s].replicas = replicas
		}
	}
	return table, nodes, nil
}

// IncrementReinitializeCounter counts one MOVED reply and runs a full
// Initialize every ReinitializeSteps calls.
func (t *Topology) IncrementReinitializeCounter(ctx context.Context) error {
	if t.reinitCount.Inc()%int64(t.opts.ReinitializeSteps) != 0 {
		return nil
	}
	return t.Initialize(ctx)
}

// SetNode registers a node or updates its role, and returns it.
func (t *Topology) SetNode(host string, port int, role Role) *Node {
	n := newNode(host, port, "", role)
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.nodes[n.Addr]; ok {
		if prev.Role == role {
			return prev
		}
		n.ID = prev.ID
	}
	t.nodes[n.Addr] = n
	return n
}

// SetNodeAddr is SetNode for a "host:port" address.
func (t *Topology) SetNodeAddr(addr string, role Role) (*Node, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in %q", addr)
	}
	return t.SetNode(host, port, role), nil
}

// SetSlotMaster points one slot at node.
func (t *Topology) SetSlotMaster(slot int, node *Node) {
	if slot < 0 || slot >= SlotCount || node == nil {
		return
	}
	t.table.Load().slots[slot].master.Store(node)
}

// MasterForSlot returns the slot's master or nil if the slot is unassigned.
func (t *Topology) MasterForSlot(slot int) *Node {
	if slot < 0 || slot >= SlotCount {
		return nil
	}
	return t.table.Load().slots[slot].master.Load()
}

// NodeForSlot returns the slot's master, or with readonly a random pick
// among the master and its replicas.
func (t *Topology) NodeForSlot(slot int, readonly bool) *Node {
	if slot < 0 || slot >= SlotCount {
		return nil
	}
	e := &t.table.Load().slots[slot]
	master := e.master.Load()
	if !readonly || len(e.replicas) == 0 || master == nil {
		return master
	}
	i := rand.IntN(len(e.replicas) + 1)
	if i == 0 {
		return master
	}
	return e.replicas[i-1]
}

// Node looks a node up by address.
func (t *Topology) Node(addr string) *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[addr]
}

// Nodes returns every known node ordered by address.
func (t *Topology) Nodes() []*Node {
	t.mu.RLock()
	out := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Node) int { return cmp.Compare(a.Addr, b.Addr) })
	return out
}

// Masters returns the master nodes ordered by address.
func (t *Topology) Masters() []*Node {
	return slices.DeleteFunc(t.Nodes(), func(n *Node) bool { return n.Role != RoleMaster })
}

// RandomNode returns any known node, or nil before the first refresh.
func (t *Topology) RandomNode() *Node {
	nodes := t.Nodes()
	if len(nodes) == 0 {
		return nil
	}
	return nodes[rand.IntN(len(nodes))]
}

package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cosmez/rediskit/internal/conn"
	"github.com/cosmez/rediskit/internal/pool"
	"github.com/cosmez/rediskit/resp"
)

type slotRange struct {
	start, end int
	addr       string
	replicas   []string
}

// session is the per-connection state of a fake node.
type session struct {
	asking bool
}

type handlerFunc func(s *session, args []string) string

// fakeNode answers requests on every pipe dialed to its address.
type fakeNode struct {
	addr    string
	cluster *fakeCluster

	mu      sync.Mutex
	handler handlerFunc
	log     []string
}

func (n *fakeNode) setHandler(h handlerFunc) {
	n.mu.Lock()
	n.handler = h
	n.mu.Unlock()
}

func (n *fakeNode) commands() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.log...)
}

func (n *fakeNode) count(prefix string) int {
	var c int
	for _, l := range n.commands() {
		if strings.HasPrefix(l, prefix) {
			c++
		}
	}
	return c
}

func (n *fakeNode) serve(nc net.Conn) {
	out := make(chan string, 64)
	go func() {
		for msg := range out {
			if _, err := nc.Write([]byte(msg)); err != nil {
				return
			}
		}
	}()
	defer close(out)
	defer nc.Close()

	rd := resp.NewReader(nc)
	s := &session{}
	for {
		r, err := rd.ReadReply()
		if err != nil {
			return
		}
		arr, ok := r.(resp.Array)
		if !ok {
			return
		}
		args := make([]string, len(arr.Values))
		for i, v := range arr.Values {
			args[i] = v.Text()
		}
		out <- n.reply(s, args)
	}
}

func (n *fakeNode) reply(s *session, args []string) string {
	line := strings.Join(args, " ")
	n.mu.Lock()
	n.log = append(n.log, line)
	h := n.handler
	n.mu.Unlock()

	upper := strings.ToUpper(line)
	switch {
	case upper == "CLUSTER SLOTS":
		return n.cluster.slotsReply()
	case upper == "ASKING":
		s.asking = true
		return "+OK\r\n"
	}
	defer func() { s.asking = false }()
	if h != nil {
		if out := h(s, args); out != "" {
			return out
		}
	}
	return defaultReply(args)
}

// defaultReply implements just enough of a key-value server for the tests.
func defaultReply(args []string) string {
	switch strings.ToUpper(args[0]) {
	case "PING":
		return "+PONG\r\n"
	case "SET":
		return "+OK\r\n"
	case "GET":
		return bulk("value-of-" + args[1])
	case "CONFIG":
		return "*2\r\n" + bulk("cluster-require-full-coverage") + bulk("no")
	}
	return "-ERR unknown command '" + args[0] + "'\r\n"
}

func bulk(s string) string {
	return "$" + strconv.Itoa(len(s)) + "\r\n" + s + "\r\n"
}

type fakeCluster struct {
	mu     sync.Mutex
	nodes  map[string]*fakeNode
	ranges []slotRange
}

func newFakeCluster(ranges ...slotRange) *fakeCluster {
	fc := &fakeCluster{nodes: make(map[string]*fakeNode)}
	fc.setRanges(ranges...)
	return fc
}

func (fc *fakeCluster) setRanges(ranges ...slotRange) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.ranges = ranges
	for _, r := range ranges {
		for _, a := range append([]string{r.addr}, r.replicas...) {
			if _, ok := fc.nodes[a]; !ok {
				fc.nodes[a] = &fakeNode{addr: a, cluster: fc}
			}
		}
	}
}

// remove makes dials to addr fail.
func (fc *fakeCluster) remove(addr string) {
	fc.mu.Lock()
	delete(fc.nodes, addr)
	fc.mu.Unlock()
}

func (fc *fakeCluster) node(addr string) *fakeNode {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.nodes[addr]
}

func (fc *fakeCluster) slotsReply() string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(fc.ranges))
	nodeEntry := func(addr string) {
		host, port, _ := net.SplitHostPort(addr)
		fmt.Fprintf(&b, "*3\r\n%s:%s\r\n%s", bulk(host), port, bulk("id-"+port))
	}
	for _, r := range fc.ranges {
		fmt.Fprintf(&b, "*%d\r\n:%d\r\n:%d\r\n", 3+len(r.replicas), r.start, r.end)
		nodeEntry(r.addr)
		for _, rep := range r.replicas {
			nodeEntry(rep)
		}
	}
	return b.String()
}

func (fc *fakeCluster) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	n := fc.node(addr)
	if n == nil {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	go n.serve(server)
	return client, nil
}

func (fc *fakeCluster) startupNodes() []string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	var out []string
	for _, r := range fc.ranges {
		out = append(out, r.addr)
	}
	return out
}

// newTestRouter wires a router to the fake cluster with tiny backoffs.
func newTestRouter(t *testing.T, fc *fakeCluster, opts RouterOptions) *Router {
	t.Helper()
	pools := NewPools(conn.Options{Dialer: fc.dial}, pool.Options{}, false)
	topo := NewTopology(TopologyOptions{
		StartupNodes: fc.startupNodes(),
		Dial:         pools.Dial,
	})
	opts.Topology = topo
	opts.Pools = pools
	if opts.TryAgainBackoff == 0 {
		opts.TryAgainBackoff = time.Millisecond
	}
	if opts.ConnErrorBackoff == 0 {
		opts.ConnErrorBackoff = time.Millisecond
	}
	r := NewRouter(opts)
	t.Cleanup(func() { r.Close() })
	return r
}

const (
	nodeA = "127.0.0.1:7000"
	nodeB = "127.0.0.1:7001"
	nodeC = "127.0.0.1:7002"
)

// twoNodes splits the slots evenly between nodeA and nodeB.
func twoNodes() []slotRange {
	return []slotRange{
		{start: 0, end: 8191, addr: nodeA},
		{start: 8192, end: 16383, addr: nodeB},
	}
}

package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/cosmez/rediskit/resp"
)

// hookFunc intercepts a command. handled=false falls through to the
// built-in behavior; handled=true with an empty reply sends nothing.
type hookFunc func(args []string) (reply string, handled bool)

// memServer is an in-memory server speaking just enough of the protocol
// for the client tests.
type memServer struct {
	mu      sync.Mutex
	strs    map[string]string
	sets    map[string][]string
	hashes  map[string][]string
	lists   map[string][]string
	version map[string]int
	log     []string
	dials   int
	hook    hookFunc

	// slots, when set, is the CLUSTER SLOTS reply.
	slots string
}

func newMemServer() *memServer {
	return &memServer{
		strs:    make(map[string]string),
		sets:    make(map[string][]string),
		hashes:  make(map[string][]string),
		lists:   make(map[string][]string),
		version: make(map[string]int),
	}
}

func (s *memServer) setHook(h hookFunc) {
	s.mu.Lock()
	s.hook = h
	s.mu.Unlock()
}

func (s *memServer) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

func (s *memServer) count(prefix string) int {
	var n int
	for _, l := range s.commands() {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

func (s *memServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *memServer) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	s.mu.Lock()
	s.dials++
	s.mu.Unlock()
	client, server := net.Pipe()
	go s.serve(server)
	return client, nil
}

type txState struct {
	multi   bool
	dirty   bool
	queued  [][]string
	watched map[string]int
}

func (s *memServer) serve(nc net.Conn) {
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
	tx := &txState{}
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
		if reply := s.handle(tx, args); reply != "" {
			out <- reply
		}
	}
}

func (s *memServer) handle(tx *txState, args []string) string {
	s.mu.Lock()
	s.log = append(s.log, strings.Join(args, " "))
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		if reply, handled := hook(args); handled {
			return reply
		}
	}

	name := strings.ToUpper(args[0])
	if tx.multi && name != "EXEC" && name != "DISCARD" {
		if !known(name) {
			tx.dirty = true
			return "-ERR unknown command '" + args[0] + "'\r\n"
		}
		tx.queued = append(tx.queued, args)
		return "+QUEUED\r\n"
	}

	switch name {
	case "MULTI":
		tx.multi = true
		return "+OK\r\n"
	case "WATCH":
		s.mu.Lock()
		if tx.watched == nil {
			tx.watched = make(map[string]int)
		}
		for _, k := range args[1:] {
			tx.watched[k] = s.version[k]
		}
		s.mu.Unlock()
		return "+OK\r\n"
	case "EXEC":
		defer func() { *tx = txState{} }()
		if tx.dirty {
			return "-EXECABORT Transaction discarded because of previous errors.\r\n"
		}
		s.mu.Lock()
		for k, v := range tx.watched {
			if s.version[k] != v {
				s.mu.Unlock()
				return "*-1\r\n"
			}
		}
		s.mu.Unlock()
		var b strings.Builder
		fmt.Fprintf(&b, "*%d\r\n", len(tx.queued))
		for _, q := range tx.queued {
			b.WriteString(s.exec(q))
		}
		return b.String()
	}
	return s.exec(args)
}

func known(name string) bool {
	switch name {
	case "PING", "SET", "GET", "DEL", "INCR", "TYPE", "SCAN", "SSCAN", "HSCAN",
		"LRANGE", "INFO", "SELECT", "CLUSTER", "DBSIZE":
		return true
	}
	return false
}

func (s *memServer) exec(args []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.ToUpper(args[0]) {
	case "PING":
		return "+PONG\r\n"
	case "SELECT":
		return "+OK\r\n"
	case "SET":
		s.strs[args[1]] = args[2]
		s.version[args[1]]++
		return "+OK\r\n"
	case "GET":
		v, ok := s.strs[args[1]]
		if !ok {
			return "$-1\r\n"
		}
		return bulkString(v)
	case "DEL":
		var n int
		for _, k := range args[1:] {
			if _, ok := s.strs[k]; ok {
				delete(s.strs, k)
				s.version[k]++
				n++
			}
		}
		return ":" + strconv.Itoa(n) + "\r\n"
	case "INCR":
		n, err := strconv.Atoi(s.strsOr(args[1], "0"))
		if err != nil {
			return "-ERR value is not an integer or out of range\r\n"
		}
		n++
		s.strs[args[1]] = strconv.Itoa(n)
		s.version[args[1]]++
		return ":" + strconv.Itoa(n) + "\r\n"
	case "DBSIZE":
		return ":" + strconv.Itoa(len(s.strs)) + "\r\n"
	case "TYPE":
		k := args[1]
		switch {
		case s.has(s.strs, k):
			return "+string\r\n"
		case len(s.sets[k]) > 0:
			return "+set\r\n"
		case len(s.hashes[k]) > 0:
			return "+hash\r\n"
		case len(s.lists[k]) > 0:
			return "+list\r\n"
		}
		return "+none\r\n"
	case "SCAN":
		pattern := "*"
		for i := 2; i+1 < len(args); i++ {
			if strings.EqualFold(args[i], "MATCH") {
				pattern = args[i+1]
			}
		}
		var keys []string
		for k := range s.strs {
			if ok, _ := path.Match(pattern, k); ok {
				keys = append(keys, k)
			}
		}
		slices.Sort(keys)
		return scanPage(keys, args[1], 1)
	case "SSCAN":
		return scanPage(s.sets[args[1]], args[2], 1)
	case "HSCAN":
		return scanPage(s.hashes[args[1]], args[2], 2)
	case "LRANGE":
		l := s.lists[args[1]]
		start, _ := strconv.Atoi(args[2])
		stop, _ := strconv.Atoi(args[3])
		if start >= len(l) {
			return "*0\r\n"
		}
		stop = min(stop, len(l)-1)
		return bulkArray(l[start : stop+1])
	case "INFO":
		return bulkString("# Server\r\nredis_version:7.2.0\r\nrole:master\r\n\r\n# Keyspace\r\ndb0:keys=1\r\n")
	case "CLUSTER":
		if s.slots != "" && len(args) > 1 && strings.EqualFold(args[1], "SLOTS") {
			return s.slots
		}
	}
	return "-ERR unknown command '" + args[0] + "'\r\n"
}

func (s *memServer) strsOr(k, def string) string {
	if v, ok := s.strs[k]; ok {
		return v
	}
	return def
}

func (s *memServer) has(m map[string]string, k string) bool {
	_, ok := m[k]
	return ok
}

// scanPage serves 10 items per call. The cursor is the next item index.
func scanPage(items []string, cursor string, group int) string {
	start, _ := strconv.Atoi(cursor)
	end := min(start+10*group, len(items))
	next := strconv.Itoa(end)
	if end >= len(items) {
		next = "0"
	}
	return "*2\r\n" + bulkString(next) + bulkArray(items[start:end])
}

func bulkString(v string) string {
	return "$" + strconv.Itoa(len(v)) + "\r\n" + v + "\r\n"
}

func bulkArray(items []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(items))
	for _, it := range items {
		b.WriteString(bulkString(it))
	}
	return b.String()
}

func newTestClient(t *testing.T, srv *memServer, opts Options) *Client {
	t.Helper()
	opts.Dialer = srv.dial
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func asServerError(t *testing.T, err error) *ServerError {
	t.Helper()
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ServerError, got %T: %v", err, err)
	}
	return se
}

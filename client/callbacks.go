package client

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cosmez/rediskit/resp"
)

// Callback turns a raw reply into the value Execute returns. It is not
// called for error replies.
type Callback func(reply resp.Reply) (any, error)

// Callbacks maps upper-case command names ("SET", "CONFIG GET") to reply
// callbacks. Each client owns its own registry.
type Callbacks struct {
	mu sync.RWMutex
	m  map[string]Callback
}

// NewCallbacks returns a registry holding the default callbacks.
func NewCallbacks() *Callbacks {
	m := make(map[string]Callback)
	register := func(cb Callback, names ...string) {
		for _, n := range names {
			m[n] = cb
		}
	}
	register(okBool, "MSET", "FLUSHALL", "FLUSHDB", "SELECT", "SAVE", "RENAME",
		"LSET", "LTRIM", "HMSET", "SWAPDB", "CONFIG SET", "CONFIG RESETSTAT",
		"CLIENT SETNAME", "SCRIPT FLUSH", "SCRIPT KILL")
	register(intBool, "SETNX", "MSETNX", "EXPIRE", "PEXPIRE", "EXPIREAT",
		"PEXPIREAT", "PERSIST", "RENAMENX", "MOVE", "HSETNX", "SISMEMBER", "SMOVE")
	register(toFloat, "INCRBYFLOAT", "HINCRBYFLOAT", "ZINCRBY", "ZSCORE")
	register(func(r resp.Reply) (any, error) {
		if resp.IsNil(r) {
			return false, nil
		}
		return r.Text() == "OK", nil
	}, "SET")
	register(func(r resp.Reply) (any, error) { return r.Text() == "PONG", nil }, "PING")
	register(pairMap, "CONFIG GET", "HGETALL")
	register(ParseInfo, "INFO")
	register(parseCommands, "COMMAND")
	register(parseTime, "TIME")
	register(func(r resp.Reply) (any, error) {
		n, err := integer(r)
		if err != nil {
			return nil, err
		}
		return time.Unix(n, 0), nil
	}, "LASTSAVE")
	return &Callbacks{m: m}
}

// Set registers cb for name. A nil cb removes the callback.
func (c *Callbacks) Set(name string, cb Callback) {
	name = normalize(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb == nil {
		delete(c.m, name)
		return
	}
	c.m[name] = cb
}

// Get returns the callback for name, or nil.
func (c *Callbacks) Get(name string) Callback {
	name = normalize(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m[name]
}

func normalize(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}

func integer(r resp.Reply) (int64, error) {
	switch v := r.(type) {
	case resp.Integer:
		return v.Value, nil
	case resp.Bulk, resp.Status:
		return strconv.ParseInt(v.Text(), 10, 64)
	}
	return 0, fmt.Errorf("expected integer reply, got %s", r.Type())
}

func okBool(r resp.Reply) (any, error) {
	return r.Text() == "OK", nil
}

func intBool(r resp.Reply) (any, error) {
	n, err := integer(r)
	if err != nil {
		return nil, err
	}
	return n != 0, nil
}

func toFloat(r resp.Reply) (any, error) {
	if resp.IsNil(r) {
		return nil, nil
	}
	return strconv.ParseFloat(r.Text(), 64)
}

// pairMap turns a flat [k1, v1, k2, v2, ...] array into a map.
func pairMap(r resp.Reply) (any, error) {
	arr, ok := r.(resp.Array)
	if !ok {
		return nil, fmt.Errorf("expected array reply, got %s", r.Type())
	}
	m := make(map[string]string, len(arr.Values)/2)
	for i := 0; i+1 < len(arr.Values); i += 2 {
		m[arr.Values[i].Text()] = arr.Values[i+1].Text()
	}
	return m, nil
}

func parseTime(r resp.Reply) (any, error) {
	arr, ok := r.(resp.Array)
	if !ok || len(arr.Values) != 2 {
		return nil, fmt.Errorf("unexpected TIME reply")
	}
	sec, err := integer(arr.Values[0])
	if err != nil {
		return nil, err
	}
	usec, err := integer(arr.Values[1])
	if err != nil {
		return nil, err
	}
	return time.Unix(sec, usec*int64(time.Microsecond)), nil
}

// ParseInfo turns an INFO reply into a map of field to value. Section
// headers and blank lines are skipped.
func ParseInfo(r resp.Reply) (any, error) {
	if r.Type() != resp.TypeBulk {
		return nil, fmt.Errorf("expected bulk string for INFO, got %s", r.Type())
	}
	info := make(map[string]string)
	for _, line := range strings.Split(r.Text(), "\r\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			info[k] = v
		}
	}
	return info, nil
}

// CommandInfo describes one entry of the COMMAND reply.
type CommandInfo struct {
	Name        string // e.g. "CONFIG SET"
	Arity       int64  // positive = exact arg count, negative = minimum
	ACLCats     []string
	Subcommands []CommandInfo
}

// parseCommands converts a COMMAND reply into []CommandInfo, skipping
// malformed entries.
func parseCommands(r resp.Reply) (any, error) {
	arr, ok := r.(resp.Array)
	if !ok {
		return nil, fmt.Errorf("expected array for COMMAND, got %s", r.Type())
	}
	cmds := make([]CommandInfo, 0, len(arr.Values))
	for _, entry := range arr.Values {
		if ci, ok := parseCommandEntry(entry); ok {
			cmds = append(cmds, ci)
		}
	}
	return cmds, nil
}

// parseCommandEntry reads [name, arity, flags, first, last, step, acl
// categories, tips, key specs, subcommands]. Servers before 7.0 send only
// the first six fields.
func parseCommandEntry(r resp.Reply) (CommandInfo, bool) {
	arr, ok := r.(resp.Array)
	if !ok || len(arr.Values) < 2 {
		return CommandInfo{}, false
	}
	ci := CommandInfo{
		// "config|set" -> "CONFIG SET"
		Name: strings.ToUpper(strings.ReplaceAll(arr.Values[0].Text(), "|", " ")),
	}
	if n, ok := arr.Values[1].(resp.Integer); ok {
		ci.Arity = n.Value
	}
	if len(arr.Values) > 6 {
		if cats, ok := arr.Values[6].(resp.Array); ok {
			for _, c := range cats.Values {
				ci.ACLCats = append(ci.ACLCats, c.Text())
			}
		}
	}
	if len(arr.Values) > 9 {
		if subs, ok := arr.Values[9].(resp.Array); ok {
			for _, s := range subs.Values {
				if sub, ok := parseCommandEntry(s); ok {
					ci.Subcommands = append(ci.Subcommands, sub)
				}
			}
		}
	}
	return ci, true
}

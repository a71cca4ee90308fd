package cluster

import (
	"fmt"

	"github.com/cosmez/rediskit/resp"
)

// NodeFlag tells the router that a command does not follow its key's slot.
type NodeFlag int

const (
	FlagNone NodeFlag = iota
	// FlagBlocked commands are refused in cluster mode.
	FlagBlocked
	// FlagRandom commands go to any one node.
	FlagRandom
	// FlagAllMasters commands go to every master and the replies are merged.
	FlagAllMasters
	// FlagAllNodes commands go to every known node and the replies are merged.
	FlagAllNodes
	// FlagSlotID commands need an explicit slot (see Router.DoOnSlot).
	FlagSlotID
)

// NodeReply is one node's answer to a fanned-out command.
type NodeReply struct {
	Addr  string
	Reply resp.Reply
}

// MergeFunc combines the replies of a fanned-out command, ordered by node
// address, into one reply.
type MergeFunc func(replies []NodeReply) (resp.Reply, error)

// MergeFirst returns the first reply. It is the merge used when a command
// has none registered.
func MergeFirst(replies []NodeReply) (resp.Reply, error) {
	if len(replies) == 0 {
		return resp.Nil{}, nil
	}
	return replies[0].Reply, nil
}

// MergeAllOK returns OK when every node replied OK, otherwise the first
// other reply.
func MergeAllOK(replies []NodeReply) (resp.Reply, error) {
	for _, r := range replies {
		if s, ok := r.Reply.(resp.Status); !ok || s.Value != "OK" {
			return r.Reply, nil
		}
	}
	return resp.Status{Value: "OK"}, nil
}

// MergeSum adds up integer replies.
func MergeSum(replies []NodeReply) (resp.Reply, error) {
	var sum int64
	for _, r := range replies {
		switch v := r.Reply.(type) {
		case resp.Integer:
			sum += v.Value
		case resp.Error:
			return v, nil
		default:
			return nil, fmt.Errorf("%s: expected integer reply, got %s", r.Addr, v.Type())
		}
	}
	return resp.Integer{Value: sum}, nil
}

// MergeByNode keeps every reply as a flat [addr, reply, addr, reply...]
// array, the shape of a map reply.
func MergeByNode(replies []NodeReply) (resp.Reply, error) {
	out := make([]resp.Reply, 0, 2*len(replies))
	for _, r := range replies {
		out = append(out, resp.Bulk{Value: []byte(r.Addr)}, r.Reply)
	}
	return resp.Array{Values: out}, nil
}

// DefaultNodeFlags returns a new table of the commands that do not route by
// key. Callers own the returned map.
func DefaultNodeFlags() map[string]NodeFlag {
	flags := make(map[string]NodeFlag)
	set := func(f NodeFlag, names ...string) {
		for _, n := range names {
			flags[n] = f
		}
	}
	set(FlagBlocked,
		"SHUTDOWN", "SLAVEOF", "REPLICAOF", "CLIENT SETNAME", "BITOP", "MOVE", "SELECT",
		"SENTINEL GET-MASTER-ADDR-BY-NAME", "SENTINEL MASTER", "SENTINEL MASTERS",
		"SENTINEL MONITOR", "SENTINEL REMOVE", "SENTINEL SENTINELS", "SENTINEL SET",
		"SENTINEL SLAVES")
	set(FlagRandom, "RANDOMKEY", "CLUSTER INFO", "CLUSTER NODES", "CLUSTER SLOTS", "CLUSTER MYID")
	set(FlagAllMasters, "FLUSHALL", "FLUSHDB", "SCRIPT LOAD", "SCRIPT FLUSH", "SCRIPT KILL", "KEYS")
	set(FlagAllNodes,
		"PING", "ECHO", "INFO", "TIME", "SAVE", "LASTSAVE", "DBSIZE", "BGSAVE", "BGREWRITEAOF",
		"SLOWLOG LEN", "SLOWLOG RESET", "SLOWLOG GET",
		"CONFIG GET", "CONFIG SET", "CONFIG RESETSTAT", "CONFIG REWRITE",
		"CLIENT KILL", "CLIENT LIST", "CLIENT GETNAME")
	set(FlagSlotID, "CLUSTER COUNTKEYSINSLOT", "CLUSTER GETKEYSINSLOT")
	return flags
}

// DefaultMerges returns a new table of merge rules for fanned-out commands.
// Callers own the returned map.
func DefaultMerges() map[string]MergeFunc {
	merges := make(map[string]MergeFunc)
	set := func(m MergeFunc, names ...string) {
		for _, n := range names {
			merges[n] = m
		}
	}
	set(MergeAllOK, "FLUSHALL", "FLUSHDB", "SCRIPT FLUSH", "CONFIG SET", "CONFIG RESETSTAT",
		"CONFIG REWRITE", "SLOWLOG RESET")
	set(MergeSum, "DBSIZE", "SLOWLOG LEN")
	set(MergeByNode, "INFO", "TIME", "LASTSAVE", "CONFIG GET", "SLOWLOG GET",
		"CLIENT LIST", "CLIENT GETNAME", "CLIENT KILL", "SAVE", "BGSAVE", "BGREWRITEAOF")
	set(mergeKeys, "KEYS")
	return merges
}

// mergeKeys concatenates array replies.
func mergeKeys(replies []NodeReply) (resp.Reply, error) {
	var out []resp.Reply
	for _, r := range replies {
		switch v := r.Reply.(type) {
		case resp.Array:
			out = append(out, v.Values...)
		case resp.Error:
			return v, nil
		}
	}
	return resp.Array{Values: out}, nil
}

// DefaultReadOnlyCommands returns a new set of commands that may be served
// by replicas when readonly reads are enabled.
func DefaultReadOnlyCommands() map[string]bool {
	set := make(map[string]bool)
	for _, n := range []string{
		"GET", "MGET", "STRLEN", "GETRANGE", "GETBIT", "BITCOUNT", "BITPOS",
		"EXISTS", "TYPE", "TTL", "PTTL", "DUMP",
		"HGET", "HMGET", "HGETALL", "HKEYS", "HVALS", "HLEN", "HEXISTS", "HSTRLEN", "HSCAN",
		"LRANGE", "LLEN", "LINDEX",
		"SMEMBERS", "SCARD", "SISMEMBER", "SRANDMEMBER", "SSCAN",
		"ZRANGE", "ZREVRANGE", "ZRANGEBYSCORE", "ZREVRANGEBYSCORE", "ZSCORE", "ZCARD",
		"ZCOUNT", "ZRANK", "ZREVRANK", "ZSCAN",
		"XRANGE", "XREVRANGE", "XLEN",
	} {
		set[n] = true
	}
	return set
}

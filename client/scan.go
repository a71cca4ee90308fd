package client

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/cosmez/rediskit/resp"
)

// ScanCount is the COUNT hint and page size used by the iterators.
const ScanCount = 100

// ErrNoSuchKey is returned by KeyValue for a missing key.
var ErrNoSuchKey = errors.New("key does not exist")

type doerFunc func(ctx context.Context, cmd resp.Command) (resp.Reply, error)

func (f doerFunc) Do(ctx context.Context, cmd resp.Command) (resp.Reply, error) {
	return f(ctx, cmd)
}

// Collections walks keys and collection values in pages so large values
// never arrive in a single reply. Iteration stops at the first error, which
// is yielded with a nil reply.
type Collections struct {
	doer Doer
}

// Scan iterates the keys matching pattern.
func (c Collections) Scan(ctx context.Context, pattern string) iter.Seq2[resp.Reply, error] {
	return scanKeys(ctx, c.doer, pattern)
}

// SScan iterates the members of a set.
func (c Collections) SScan(ctx context.Context, key string) iter.Seq2[resp.Reply, error] {
	return cursorLoop(ctx, c.doer, func(cursor string) resp.Command {
		return resp.NewCommand("SSCAN", key, cursor, "COUNT", ScanCount)
	}, 1)
}

// HScan iterates the fields of a hash as [field, value] arrays.
func (c Collections) HScan(ctx context.Context, key string) iter.Seq2[resp.Reply, error] {
	return cursorLoop(ctx, c.doer, func(cursor string) resp.Command {
		return resp.NewCommand("HSCAN", key, cursor, "COUNT", ScanCount)
	}, 2)
}

// ZScan iterates a sorted set as [member, score] arrays.
func (c Collections) ZScan(ctx context.Context, key string) iter.Seq2[resp.Reply, error] {
	return cursorLoop(ctx, c.doer, func(cursor string) resp.Command {
		return resp.NewCommand("ZSCAN", key, cursor, "COUNT", ScanCount)
	}, 2)
}

// ListRange iterates the elements of a list with LRANGE pages.
func (c Collections) ListRange(ctx context.Context, key string) iter.Seq2[resp.Reply, error] {
	return func(yield func(resp.Reply, error) bool) {
		for start := 0; ; start += ScanCount {
			reply, err := c.doer.Do(ctx, resp.NewCommand("LRANGE", key, start, start+ScanCount-1))
			if err != nil {
				yield(nil, err)
				return
			}
			arr, ok := reply.(resp.Array)
			if !ok {
				yield(nil, fmt.Errorf("unexpected LRANGE reply: %s", reply.Type()))
				return
			}
			for _, v := range arr.Values {
				if !yield(v, nil) {
					return
				}
			}
			if len(arr.Values) < ScanCount {
				return
			}
		}
	}
}

// StreamRange iterates the entries of a stream with XRANGE pages. Each
// entry is an [id, [field, value, ...]] array.
func (c Collections) StreamRange(ctx context.Context, key string) iter.Seq2[resp.Reply, error] {
	return func(yield func(resp.Reply, error) bool) {
		start := "-"
		for {
			reply, err := c.doer.Do(ctx, resp.NewCommand("XRANGE", key, start, "+", "COUNT", ScanCount))
			if err != nil {
				yield(nil, err)
				return
			}
			arr, ok := reply.(resp.Array)
			if !ok {
				yield(nil, fmt.Errorf("unexpected XRANGE reply: %s", reply.Type()))
				return
			}
			for _, v := range arr.Values {
				if !yield(v, nil) {
					return
				}
			}
			if len(arr.Values) < ScanCount {
				return
			}
			last, ok := arr.Values[len(arr.Values)-1].(resp.Array)
			if !ok || len(last.Values) == 0 {
				yield(nil, errors.New("unexpected XRANGE entry"))
				return
			}
			// Exclusive start, so the last entry is not read twice.
			start = "(" + last.Values[0].Text()
		}
	}
}

// KeyValue is a key's type plus either its value or an iterator over its
// elements.
type KeyValue struct {
	Type  string
	Value resp.Reply
	Items iter.Seq2[resp.Reply, error]
}

// KeyValue looks up the type of key and returns its string value, or an
// iterator for collection types.
func (c Collections) KeyValue(ctx context.Context, key string) (KeyValue, error) {
	reply, err := c.doer.Do(ctx, resp.NewCommand("TYPE", key))
	if err != nil {
		return KeyValue{}, fmt.Errorf("TYPE %s: %w", key, err)
	}
	kv := KeyValue{Type: reply.Text()}
	switch kv.Type {
	case "string":
		kv.Value, err = c.doer.Do(ctx, resp.NewCommand("GET", key))
		if err != nil {
			return kv, fmt.Errorf("GET %s: %w", key, err)
		}
	case "list":
		kv.Items = c.ListRange(ctx, key)
	case "set":
		kv.Items = c.SScan(ctx, key)
	case "zset":
		kv.Items = c.ZScan(ctx, key)
	case "hash":
		kv.Items = c.HScan(ctx, key)
	case "stream":
		kv.Items = c.StreamRange(ctx, key)
	case "none":
		return kv, ErrNoSuchKey
	default:
		return kv, fmt.Errorf("unsupported key type: %s", kv.Type)
	}
	return kv, nil
}

func scanKeys(ctx context.Context, d Doer, pattern string) iter.Seq2[resp.Reply, error] {
	return cursorLoop(ctx, d, func(cursor string) resp.Command {
		if pattern == "" {
			return resp.NewCommand("SCAN", cursor, "COUNT", ScanCount)
		}
		return resp.NewCommand("SCAN", cursor, "MATCH", pattern, "COUNT", ScanCount)
	}, 1)
}

// cursorLoop drives a *SCAN command until the cursor returns to "0". With
// group > 1 the elements are yielded as arrays of that many values.
func cursorLoop(ctx context.Context, d Doer, next func(cursor string) resp.Command, group int) iter.Seq2[resp.Reply, error] {
	return func(yield func(resp.Reply, error) bool) {
		cursor := "0"
		for {
			cmd := next(cursor)
			reply, err := d.Do(ctx, cmd)
			if err != nil {
				yield(nil, err)
				return
			}
			arr, ok := reply.(resp.Array)
			if !ok || len(arr.Values) < 2 {
				yield(nil, fmt.Errorf("unexpected %s reply", cmd.Upper()))
				return
			}
			page, ok := arr.Values[1].(resp.Array)
			if !ok {
				yield(nil, fmt.Errorf("unexpected %s page", cmd.Upper()))
				return
			}
			cursor = arr.Values[0].Text()

			for i := 0; i+group <= len(page.Values); i += group {
				var item resp.Reply = page.Values[i]
				if group > 1 {
					item = resp.Array{Values: page.Values[i : i+group]}
				}
				if !yield(item, nil) {
					return
				}
			}
			if cursor == "0" {
				return
			}
		}
	}
}

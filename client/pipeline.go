package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/cosmez/rediskit/internal/conn"
	"github.com/cosmez/rediskit/resp"
)

// Result is the outcome of one pipelined command.
type Result struct {
	Value any
	Err   error
}

type queued struct {
	cmd resp.Command
	cb  Callback
}

type reserveFunc func(ctx context.Context, cmds []resp.Command) (cn *conn.Connection, release func(), err error)

// Pipeline queues commands and sends them in one round trip on a single
// connection. A Pipeline is not safe for concurrent use.
type Pipeline struct {
	tx        bool
	callbacks *Callbacks
	shaper    shaper
	reserve   reserveFunc
	after     func([]Result)

	watch []any
	queue []queued
}

func newPipeline(tx bool, cb *Callbacks, sh shaper, reserve reserveFunc, after func([]Result)) *Pipeline {
	return &Pipeline{tx: tx, callbacks: cb, shaper: sh, reserve: reserve, after: after}
}

// Queue appends a command. Its callback is looked up now, so later
// registry changes do not affect it.
func (p *Pipeline) Queue(name string, args ...any) *Pipeline {
	cmd := resp.NewCommand(name, args...)
	p.queue = append(p.queue, queued{cmd: cmd, cb: p.callbacks.Get(cmd.Upper())})
	return p
}

// Watch adds keys to WATCH before the transaction starts. It has no effect
// on a non-transactional pipeline.
func (p *Pipeline) Watch(keys ...any) *Pipeline {
	p.watch = append(p.watch, keys...)
	return p
}

// Len returns the number of queued commands.
func (p *Pipeline) Len() int { return len(p.queue) }

// Reset drops the queued commands and watched keys.
func (p *Pipeline) Reset() {
	p.queue = nil
	p.watch = nil
}

// Execute sends the queued commands and returns one Result per command, in
// queue order. The queue is emptied whether or not execution succeeds.
//
// In a transaction a nil EXEC returns ErrTxAborted, and an EXECABORT
// returns the *ServerError together with the per-command queueing errors.
func (p *Pipeline) Execute(ctx context.Context) ([]Result, error) {
	queue, watch := p.queue, p.watch
	p.Reset()
	if len(queue) == 0 {
		return nil, nil
	}

	cmds := make([]resp.Command, 0, len(queue)+3)
	if p.tx {
		if len(watch) > 0 {
			cmds = append(cmds, resp.NewCommand("WATCH", watch...))
		}
		cmds = append(cmds, resp.NewCommand("MULTI"))
	}
	for _, q := range queue {
		cmds = append(cmds, q.cmd)
	}
	if p.tx {
		cmds = append(cmds, resp.NewCommand("EXEC"))
	}

	cn, release, err := p.reserve(ctx, cmds)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := cn.Send(ctx, cmds...); err != nil {
		return nil, err
	}
	replies := make([]resp.Reply, len(cmds))
	for i := range cmds {
		if replies[i], err = cn.Receive(ctx); err != nil {
			cn.Disconnect()
			return nil, err
		}
	}

	var results []Result
	if p.tx {
		results, err = p.unpackTx(queue, replies, len(watch) > 0)
	} else {
		results = make([]Result, len(queue))
		for i, q := range queue {
			results[i].Value, results[i].Err = p.shaper.apply(q.cb, replies[i])
		}
	}
	if p.after != nil {
		p.after(results)
	}
	return results, err
}

// unpackTx reads [WATCH], MULTI, one QUEUED per command and EXEC.
func (p *Pipeline) unpackTx(queue []queued, replies []resp.Reply, watched bool) ([]Result, error) {
	if watched {
		if e, ok := replies[0].(resp.Error); ok {
			return nil, fmt.Errorf("WATCH: %w", e.Err())
		}
		replies = replies[1:]
	}
	if e, ok := replies[0].(resp.Error); ok {
		return nil, fmt.Errorf("MULTI: %w", e.Err())
	}

	results := make([]Result, len(queue))
	for i, r := range replies[1 : len(replies)-1] {
		if e, ok := r.(resp.Error); ok {
			results[i].Err = e.Err()
		}
	}

	switch exec := replies[len(replies)-1].(type) {
	case resp.Nil:
		return nil, ErrTxAborted
	case resp.Error:
		return results, exec.Err()
	case resp.Array:
		if len(exec.Values) != len(queue) {
			return nil, &ProtocolError{Msg: fmt.Sprintf("EXEC returned %d replies for %d commands", len(exec.Values), len(queue))}
		}
		for i, q := range queue {
			results[i].Value, results[i].Err = p.shaper.apply(q.cb, exec.Values[i])
		}
		return results, nil
	default:
		return nil, errors.New("unexpected EXEC reply: " + exec.Type().String())
	}
}

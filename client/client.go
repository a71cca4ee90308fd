// Package client is a RESP client for a single server or a cluster.
//
// Both Client and ClusterClient run arbitrary commands through Execute,
// which shapes replies with a per-client callback registry, and expose the
// typed helpers of the Strings, Keys and Server groups. Pipelines batch
// commands over one connection, optionally as a MULTI/EXEC transaction.
package client

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cosmez/rediskit/internal/conn"
	"github.com/cosmez/rediskit/internal/pool"
	"github.com/cosmez/rediskit/resp"
)

// Executor runs a command and returns its shaped reply.
type Executor interface {
	Execute(ctx context.Context, name string, args ...any) (any, error)
}

// Doer runs a command and returns the raw reply. Error replies come back
// as *ServerError errors.
type Doer interface {
	Do(ctx context.Context, cmd resp.Command) (resp.Reply, error)
}

// Client talks to a single server through a connection pool. It is safe
// for concurrent use.
type Client struct {
	Strings
	Keys
	Server
	Collections

	opts      Options
	enc       *resp.Encoder
	pool      *pool.Pool
	callbacks *Callbacks
	shaper    shaper
	log       *zap.Logger
}

// New returns a client for opts. No connection is opened until the first
// command.
func New(opts Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	enc, err := opts.encoder()
	if err != nil {
		return nil, err
	}
	co, err := opts.connOptions(enc)
	if err != nil {
		return nil, err
	}

	po := opts.poolOptions()
	po.Dial = func(ctx context.Context) (*conn.Connection, error) {
		return conn.Connect(ctx, &co)
	}

	c := &Client{
		opts:      opts,
		enc:       enc,
		pool:      pool.New(po),
		callbacks: NewCallbacks(),
		shaper:    shaper{enc: enc, decode: opts.DecodeResponses},
		log:       opts.logger(),
	}
	c.Strings = Strings{c}
	c.Keys = Keys{c}
	c.Server = Server{c}
	c.Collections = Collections{doer: c}
	return c, nil
}

// NewFromURL is New(ParseURL(rawURL)).
func NewFromURL(rawURL string) (*Client, error) {
	opts, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return New(*opts)
}

// Options returns the options the client was built with.
func (c *Client) Options() Options { return c.opts }

// Callbacks returns the client's reply callback registry.
func (c *Client) Callbacks() *Callbacks { return c.callbacks }

// Stats reports the pool's connection counts.
func (c *Client) Stats() pool.Stats { return c.pool.Stats() }

// Execute sends name with args and returns the reply shaped by the
// callback registered for name.
func (c *Client) Execute(ctx context.Context, name string, args ...any) (any, error) {
	cmd := resp.NewCommand(name, args...)
	reply, err := c.Do(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return c.shaper.apply(c.callbacks.Get(cmd.Upper()), reply)
}

// Do sends cmd on a pooled connection and reads one reply. With
// RetryOnTimeout a timed-out command is sent once more on another
// connection. Cancellation is never retried.
func (c *Client) Do(ctx context.Context, cmd resp.Command) (resp.Reply, error) {
	reply, err := c.do(ctx, cmd)
	if err != nil && c.opts.RetryOnTimeout && conn.IsTimeout(err) && ctx.Err() == nil {
		c.log.Debug("retrying after timeout", zap.String("cmd", cmd.Upper()), zap.Error(err))
		reply, err = c.do(ctx, cmd)
	}
	if err != nil {
		return nil, err
	}
	if e, ok := reply.(resp.Error); ok {
		return nil, e.Err()
	}
	return reply, nil
}

func (c *Client) do(ctx context.Context, cmd resp.Command) (resp.Reply, error) {
	cn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(cn)
	return cn.Do(ctx, cmd)
}

// Pipeline returns an empty pipeline. With tx the batch runs as a
// MULTI/EXEC transaction.
func (c *Client) Pipeline(tx bool) *Pipeline {
	return newPipeline(tx, c.callbacks, c.shaper, c.reserve, nil)
}

func (c *Client) reserve(ctx context.Context, _ []resp.Command) (*conn.Connection, func(), error) {
	cn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return cn, func() { c.pool.Release(cn) }, nil
}

// Disconnect closes every pooled connection. The client stays usable.
func (c *Client) Disconnect() error {
	return c.pool.Disconnect()
}

// Close closes the pool. Later commands fail with ErrClosed.
func (c *Client) Close() error {
	return c.pool.Close()
}

func (c *Client) String() string {
	_, addr := c.opts.Addr()
	return fmt.Sprintf("Client<%s db=%d>", addr, c.opts.DB)
}

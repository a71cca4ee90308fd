// Package conn implements a single client connection: dialing, the
// connect-time handshake, and sending commands and reading their replies
// with timeouts and cancellation.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/cosmez/rediskit/resp"
)

var nextID atomic.Uint64

// aLongTimeAgo is used as a deadline to abort blocked I/O on cancellation.
var aLongTimeAgo = time.Unix(1, 0)

// Connection is one transport to one server. It is not safe for concurrent
// Send/Receive; the pool hands it to one user at a time. Disconnect may be
// called from any goroutine.
type Connection struct {
	ID uint64

	opts *Options
	enc  *resp.Encoder
	log  *zap.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *resp.Reader

	connected    atomic.Bool
	awaiting     atomic.Bool
	lastActivity atomic.Int64
}

// New returns an unconnected connection.
func New(opts *Options) *Connection {
	c := &Connection{
		ID:   nextID.Inc(),
		opts: opts,
		enc:  opts.Encoder,
	}
	c.log = opts.logger().With(zap.String("addr", opts.Addr), zap.Uint64("conn", c.ID))
	c.touch()
	return c
}

// Connect dials a new connection and runs the handshake.
func Connect(ctx context.Context, opts *Options) (*Connection, error) {
	c := New(opts)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Addr returns the server address this connection talks to.
func (c *Connection) Addr() string { return c.opts.Addr }

// Encoder returns the argument encoder of this connection.
func (c *Connection) Encoder() *resp.Encoder { return c.enc }

// IsConnected reports whether the transport is open.
func (c *Connection) IsConnected() bool { return c.connected.Load() }

// AwaitingResponse reports whether a request was written whose reply has not
// been read yet. Such a connection must not be handed to another user.
func (c *Connection) AwaitingResponse() bool { return c.awaiting.Load() }

// LastActivity is the time of the last successful read or write.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Connect opens the transport and runs the handshake. It is a no-op on an
// open connection.
func (c *Connection) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	if c.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancel()
	}

	nc, err := dial(ctx, c.opts)
	if err != nil {
		c.log.Debug("dial failed", zap.Error(err))
		if isNetTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{Op: "dial", Addr: c.opts.Addr, After: c.opts.ConnectTimeout, Err: err}
		}
		return &TransportError{Op: "dial", Addr: c.opts.Addr, Err: err}
	}

	c.mu.Lock()
	c.conn = nc
	c.reader = resp.NewReader(nc)
	c.mu.Unlock()
	c.connected.Store(true)
	c.awaiting.Store(false)
	c.touch()

	if err := c.handshake(ctx); err != nil {
		c.log.Warn("handshake failed", zap.Error(err))
		c.Disconnect()
		return err
	}
	return nil
}

func (c *Connection) handshake(ctx context.Context) error {
	var steps []resp.Command
	if c.opts.Password != "" {
		if c.opts.Username != "" {
			steps = append(steps, resp.NewCommand("AUTH", c.opts.Username, c.opts.Password))
		} else {
			steps = append(steps, resp.NewCommand("AUTH", c.opts.Password))
		}
	}
	if c.opts.DB != 0 {
		steps = append(steps, resp.NewCommand("SELECT", strconv.Itoa(c.opts.DB)))
	}
	if c.opts.ClientName != "" {
		steps = append(steps, resp.NewCommand("CLIENT SETNAME", c.opts.ClientName))
	}
	if c.opts.Readonly {
		steps = append(steps, resp.NewCommand("READONLY"))
	}

	for _, cmd := range steps {
		reply, err := c.Do(ctx, cmd)
		if err != nil {
			return err
		}
		switch r := reply.(type) {
		case resp.Status:
			if r.Value == "OK" {
				continue
			}
		case resp.Error:
			return &TransportError{Op: "handshake " + cmd.Words()[0], Addr: c.opts.Addr, Err: r.Err()}
		}
		return &TransportError{
			Op:   "handshake " + cmd.Words()[0],
			Addr: c.opts.Addr,
			Err:  fmt.Errorf("unexpected reply %s %q", reply.Type(), reply.Text()),
		}
	}
	return nil
}

// Disconnect closes the transport. It is idempotent.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	nc := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.connected.Store(false)
	c.awaiting.Store(false)
	if nc == nil {
		return nil
	}
	return nc.Close()
}

func (c *Connection) netConn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// watch arms ctx so that cancellation aborts blocked I/O. The returned stop
// reports false if cancellation fired.
// watch must be armed after the operation's own deadline is set so a
// cancellation is never overwritten by it.
func (c *Connection) watch(ctx context.Context, nc net.Conn) func() bool {
	if ctx.Done() == nil {
		return func() bool { return true }
	}
	return context.AfterFunc(ctx, func() {
		nc.SetDeadline(aLongTimeAgo)
	})
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var t time.Time
	if timeout > 0 {
		t = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (t.IsZero() || d.Before(t)) {
		t = d
	}
	return t
}

// Send packs and writes cmds back to back. Encoding errors are returned
// before anything is written and leave the connection usable.
func (c *Connection) Send(ctx context.Context, cmds ...resp.Command) error {
	chunks, err := c.enc.PackMany(cmds)
	if err != nil {
		return err
	}
	return c.SendPacked(ctx, chunks)
}

// SendPacked writes already packed chunks. A closed connection is reconnected
// first. Any write failure disconnects; nothing is re-sent.
func (c *Connection) SendPacked(ctx context.Context, chunks [][]byte) error {
	if !c.IsConnected() {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}
	nc := c.netConn()
	if nc == nil {
		return &TransportError{Op: "write", Addr: c.opts.Addr, Err: ErrClosed}
	}

	nc.SetWriteDeadline(deadline(ctx, c.opts.WriteTimeout))
	stop := c.watch(ctx, nc)
	bufs := net.Buffers(chunks)
	_, err := bufs.WriteTo(nc)
	if !stop() {
		c.Disconnect()
		return ctx.Err()
	}
	if err != nil {
		return c.fail(ctx, "write", c.opts.WriteTimeout, err)
	}

	c.awaiting.Store(true)
	c.touch()
	return nil
}

// Receive reads one reply. Error replies are returned as resp.Error values,
// not as Go errors, except the server's "max clients" refusal which is a
// transport failure.
func (c *Connection) Receive(ctx context.Context) (resp.Reply, error) {
	c.mu.Lock()
	nc, rd := c.conn, c.reader
	c.mu.Unlock()
	if nc == nil {
		return nil, &TransportError{Op: "read", Addr: c.opts.Addr, Err: ErrClosed}
	}

	nc.SetReadDeadline(deadline(ctx, c.opts.ReadTimeout))
	stop := c.watch(ctx, nc)
	reply, err := rd.ReadReply()
	if !stop() {
		c.Disconnect()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, c.fail(ctx, "read", c.opts.ReadTimeout, err)
	}

	c.awaiting.Store(false)
	c.touch()

	if e, ok := reply.(resp.Error); ok && e.Code == "ERR" && e.Message == resp.MsgMaxClients {
		c.Disconnect()
		return nil, &TransportError{Op: "read", Addr: c.opts.Addr, Err: e.Err()}
	}
	return reply, nil
}

// Do sends cmd and reads its reply.
func (c *Connection) Do(ctx context.Context, cmd resp.Command) (resp.Reply, error) {
	if err := c.Send(ctx, cmd); err != nil {
		return nil, err
	}
	return c.Receive(ctx)
}

// fail disconnects and converts an I/O error into the typed error callers
// dispatch on.
func (c *Connection) fail(ctx context.Context, op string, timeout time.Duration, err error) error {
	c.Disconnect()
	c.log.Debug("connection dropped", zap.String("op", op), zap.Error(err))

	var perr *resp.ProtocolError
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.As(err, &perr):
		return err
	case isNetTimeout(err):
		return &TimeoutError{Op: op, Addr: c.opts.Addr, After: timeout, Err: err}
	default:
		return &TransportError{Op: op, Addr: c.opts.Addr, Err: err}
	}
}

func (c *Connection) String() string {
	return fmt.Sprintf("conn#%d(%s)", c.ID, c.opts.Addr)
}

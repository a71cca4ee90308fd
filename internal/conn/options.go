package conn

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/cosmez/rediskit/resp"
)

// Dialer opens the raw transport. Tests replace it with in-memory pipes.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// Options configures a single connection.
type Options struct {
	// Network is "tcp" (default) or "unix". For "unix" Addr is the socket path.
	Network string
	Addr    string

	Username   string
	Password   string
	DB         int
	ClientName string

	// Readonly sends READONLY after connecting so replica reads are served.
	Readonly bool

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	KeepAlive      time.Duration

	TLSConfig *tls.Config
	Encoder   *resp.Encoder
	Dialer    Dialer
	Logger    *zap.Logger
}

func (o *Options) network() string {
	if o.Network == "" {
		return "tcp"
	}
	return o.Network
}

func (o *Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

package conn

import (
	"context"
	"crypto/tls"
	"net"
)

// dial opens the transport described by opts. TLS is layered on top of
// whatever the dialer returns, so a custom Dialer still gets encryption.
func dial(ctx context.Context, opts *Options) (net.Conn, error) {
	network := opts.network()

	var (
		nc  net.Conn
		err error
	)
	if opts.Dialer != nil {
		nc, err = opts.Dialer(ctx, network, opts.Addr)
	} else {
		d := &net.Dialer{KeepAlive: opts.KeepAlive}
		if network == "tcp" || network == "tcp4" || network == "tcp6" {
			d.Control = setSockopts
		}
		nc, err = d.DialContext(ctx, network, opts.Addr)
	}
	if err != nil {
		return nil, err
	}

	if opts.TLSConfig == nil {
		return nc, nil
	}
	cfg := opts.TLSConfig
	if cfg.ServerName == "" && !cfg.InsecureSkipVerify && cfg.VerifyConnection == nil {
		host, _, splitErr := net.SplitHostPort(opts.Addr)
		if splitErr == nil {
			cfg = cfg.Clone()
			cfg.ServerName = host
		}
	}
	tc := tls.Client(nc, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return tc, nil
}

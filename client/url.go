package client

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseURL builds Options from a connection URL:
//
//	redis://[[username]:password@]host[:port][/db][?option=value...]
//	rediss://...  (TLS)
//	unix://[[username]:password@]/path/to/socket[?db=N]
//
// The db query option wins over the path. Unknown options are ignored;
// malformed values of known options are an error.
func ParseURL(rawURL string) (*Options, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	opts := &Options{}
	if u.User != nil {
		opts.Username = u.User.Username()
		opts.Password, _ = u.User.Password()
	}

	switch u.Scheme {
	case "redis", "rediss":
		opts.Host = u.Hostname()
		if opts.Host == "" {
			opts.Host = DefaultHost
		}
		opts.Port = DefaultPort
		if p := u.Port(); p != "" {
			if opts.Port, err = strconv.Atoi(p); err != nil {
				return nil, fmt.Errorf("invalid port %q", p)
			}
		}
		if path := strings.Trim(u.Path, "/"); path != "" {
			if opts.DB, err = strconv.Atoi(path); err != nil {
				return nil, fmt.Errorf("invalid db %q in path", path)
			}
		}
		if u.Scheme == "rediss" {
			opts.TLS.Enabled = true
		}
	case "unix":
		if u.Path == "" {
			return nil, fmt.Errorf("unix url %q has no socket path", rawURL)
		}
		opts.UnixPath = u.Path
	default:
		return nil, fmt.Errorf("unsupported url scheme %q (expected redis://, rediss:// or unix://)", u.Scheme)
	}

	if err := applyQuery(opts, u.Query()); err != nil {
		return nil, err
	}
	return opts, opts.Validate()
}

func applyQuery(opts *Options, q url.Values) error {
	var err error
	for name := range q {
		v := q.Get(name)
		if v == "" {
			continue
		}
		switch name {
		case "db":
			opts.DB, err = strconv.Atoi(v)
		case "connect_timeout":
			opts.ConnectTimeout, err = parseDuration(v)
		case "stream_timeout", "read_timeout", "socket_timeout":
			opts.ReadTimeout, err = parseDuration(v)
		case "write_timeout":
			opts.WriteTimeout, err = parseDuration(v)
		case "pool_timeout":
			opts.PoolTimeout, err = parseDuration(v)
		case "max_idle_time":
			opts.MaxIdleTime, err = parseDuration(v)
		case "idle_check_interval":
			opts.IdleCheckInterval, err = parseDuration(v)
		case "max_connections":
			opts.MaxConnections, err = strconv.Atoi(v)
		case "retry_on_timeout":
			opts.RetryOnTimeout, err = parseBool(v)
		case "blocking":
			opts.Blocking, err = parseBool(v)
		case "decode_responses":
			opts.DecodeResponses, err = parseBool(v)
		case "client_name":
			opts.ClientName = v
		case "encoding":
			opts.Encoding = v
		case "ssl_cert_reqs":
			opts.TLS.VerifyMode = v
		case "ssl_keyfile":
			opts.TLS.KeyFile = v
		case "ssl_certfile":
			opts.TLS.CertFile = v
		case "ssl_ca_certs":
			opts.TLS.CACerts = v
		}
		if err != nil {
			return fmt.Errorf("invalid value %q for %s: %w", v, name, err)
		}
	}
	return nil
}

// parseBool accepts the spellings people put in URLs: 1/0, y/n, yes/no,
// true/false and t/f, in any case.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "y", "yes", "t", "true":
		return true, nil
	case "0", "n", "no", "f", "false":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean")
}

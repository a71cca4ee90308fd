package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/ghodss/yaml"
	"go.uber.org/zap"

	"github.com/cosmez/rediskit/internal/conn"
	"github.com/cosmez/rediskit/internal/pool"
	"github.com/cosmez/rediskit/resp"
)

const (
	DefaultHost        = "localhost"
	DefaultPort        = 6379
	DefaultClusterPort = 7000

	// DefaultClusterMaxConnections caps a cluster client when MaxConnections
	// is left at zero.
	DefaultClusterMaxConnections = 32
)

// Duration is a time.Duration that reads "1.5s"-style strings or plain
// numbers of seconds from YAML and JSON.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*d = Duration(v * float64(time.Second))
		return nil
	case string:
		parsed, err := parseDuration(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case nil:
		*d = 0
		return nil
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
}

// parseDuration accepts Go duration strings and bare seconds ("2.5").
func parseDuration(s string) (Duration, error) {
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return Duration(td), nil
}

// TLSOptions enables TLS. VerifyMode is "none", "optional" or "required"
// (the default).
type TLSOptions struct {
	Enabled    bool   `json:"enabled"`
	KeyFile    string `json:"keyfile"`
	CertFile   string `json:"certfile"`
	CACerts    string `json:"ca_certs"`
	VerifyMode string `json:"verify_mode"`
}

// Dialer opens the raw transport to addr. It replaces the default TCP or
// unix socket dialer, for example to go through a proxy.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// Options configures a single-node client.
type Options struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	UnixPath string `json:"unix_path"`

	Username   string `json:"username"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	ClientName string `json:"client_name"`
	// Encoding is the charset used for string arguments and DecodeResponses.
	Encoding        string `json:"encoding"`
	DecodeResponses bool   `json:"decode_responses"`

	ConnectTimeout Duration `json:"connect_timeout"`
	ReadTimeout    Duration `json:"read_timeout"`
	WriteTimeout   Duration `json:"write_timeout"`
	KeepAlive      Duration `json:"keepalive"`
	RetryOnTimeout bool     `json:"retry_on_timeout"`

	// MaxConnections of 0 means unbounded for a single node.
	MaxConnections    int      `json:"max_connections"`
	Blocking          bool     `json:"blocking"`
	PoolTimeout       Duration `json:"pool_timeout"`
	MaxIdleTime       Duration `json:"max_idle_time"`
	IdleCheckInterval Duration `json:"idle_check_interval"`

	TLS TLSOptions `json:"tls"`

	Dialer Dialer      `json:"-"`
	Logger *zap.Logger `json:"-"`
}

// ClusterOptions configures a cluster client. Host and Port, when set, are
// used as one more startup node.
type ClusterOptions struct {
	Options

	StartupNodes          []string `json:"startup_nodes"`
	MaxConnectionsPerNode bool     `json:"max_connections_per_node"`
	ReadonlyReads         bool     `json:"readonly"`
	ReinitializeSteps     int      `json:"reinitialize_steps"`
	SkipFullCoverageCheck bool     `json:"skip_full_coverage_check"`
	FollowCluster         bool     `json:"follow_cluster"`
	TTL                   int      `json:"ttl"`
}

// Validate checks for settings that cannot work.
func (o *Options) Validate() error {
	if o.UnixPath == "" && (o.Port < 0 || o.Port > 65535) {
		return fmt.Errorf("invalid port %d", o.Port)
	}
	if o.DB < 0 {
		return fmt.Errorf("invalid db index %d", o.DB)
	}
	if o.MaxConnections < 0 {
		return errors.New("max_connections must not be negative")
	}
	switch o.TLS.VerifyMode {
	case "", "none", "optional", "required":
	default:
		return fmt.Errorf("invalid tls verify_mode %q", o.TLS.VerifyMode)
	}
	if o.Encoding != "" {
		if _, err := resp.NewEncoder(o.Encoding); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks for settings that cannot work in cluster mode.
func (o *ClusterOptions) Validate() error {
	if o.DB != 0 {
		return errors.New("db is not supported in cluster mode")
	}
	if len(o.startupNodes()) == 0 {
		return errors.New("no startup nodes")
	}
	if o.TTL < 0 || o.ReinitializeSteps < 0 {
		return errors.New("ttl and reinitialize_steps must not be negative")
	}
	return o.Options.Validate()
}

// Addr returns the network and address the options point at.
func (o *Options) Addr() (network, addr string) {
	if o.UnixPath != "" {
		return "unix", o.UnixPath
	}
	host, port := o.Host, o.Port
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}
	return "tcp", net.JoinHostPort(host, strconv.Itoa(port))
}

func (o *ClusterOptions) startupNodes() []string {
	nodes := append([]string(nil), o.StartupNodes...)
	if o.Host != "" {
		port := o.Port
		if port == 0 {
			port = DefaultClusterPort
		}
		nodes = append(nodes, net.JoinHostPort(o.Host, strconv.Itoa(port)))
	}
	return nodes
}

func (o *Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Options) encoder() (*resp.Encoder, error) {
	return resp.NewEncoder(o.Encoding)
}

// connOptions translates o into per-connection settings.
func (o *Options) connOptions(enc *resp.Encoder) (conn.Options, error) {
	network, addr := o.Addr()
	tlsConfig, err := o.TLS.config()
	if err != nil {
		return conn.Options{}, err
	}
	co := conn.Options{
		Network:        network,
		Addr:           addr,
		Username:       o.Username,
		Password:       o.Password,
		DB:             o.DB,
		ClientName:     o.ClientName,
		ConnectTimeout: o.ConnectTimeout.Std(),
		ReadTimeout:    o.ReadTimeout.Std(),
		WriteTimeout:   o.WriteTimeout.Std(),
		KeepAlive:      o.KeepAlive.Std(),
		TLSConfig:      tlsConfig,
		Encoder:        enc,
		Logger:         o.logger(),
	}
	if o.Dialer != nil {
		co.Dialer = conn.Dialer(o.Dialer)
	}
	return co, nil
}

func (o *Options) poolOptions() pool.Options {
	return pool.Options{
		MaxConnections:    o.MaxConnections,
		Blocking:          o.Blocking,
		WaitTimeout:       o.PoolTimeout.Std(),
		MaxIdleTime:       o.MaxIdleTime.Std(),
		IdleCheckInterval: o.IdleCheckInterval.Std(),
		Logger:            o.logger(),
	}
}

// LoadOptions reads single-node options from a YAML (or JSON) file.
func LoadOptions(path string) (*Options, error) {
	opts := &Options{}
	if err := loadYAML(path, opts); err != nil {
		return nil, err
	}
	return opts, opts.Validate()
}

// LoadClusterOptions reads cluster options from a YAML (or JSON) file.
func LoadClusterOptions(path string) (*ClusterOptions, error) {
	opts := &ClusterOptions{}
	if err := loadYAML(path, opts); err != nil {
		return nil, err
	}
	return opts, opts.Validate()
}

func loadYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

package client

import (
	"context"
	"fmt"
	"time"
)

// Strings holds the string commands.
type Strings struct{ x Executor }

// Get returns the value of key, or nil when the key does not exist.
func (s Strings) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.x.Execute(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	return asBytes(v)
}

// Set stores value at key. A positive expire sets a TTL with millisecond
// precision.
func (s Strings) Set(ctx context.Context, key string, value any, expire time.Duration) error {
	args := []any{key, value}
	if expire > 0 {
		args = append(args, "PX", expire.Milliseconds())
	}
	_, err := s.x.Execute(ctx, "SET", args...)
	return err
}

// SetNX stores value only if key does not exist and reports whether it did.
func (s Strings) SetNX(ctx context.Context, key string, value any) (bool, error) {
	return asBool(s.x.Execute(ctx, "SETNX", key, value))
}

// GetSet stores value and returns the old value.
func (s Strings) GetSet(ctx context.Context, key string, value any) ([]byte, error) {
	v, err := s.x.Execute(ctx, "GETSET", key, value)
	if err != nil {
		return nil, err
	}
	return asBytes(v)
}

// MGet returns the values of keys; missing keys are nil.
func (s Strings) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	v, err := s.x.Execute(ctx, "MGET", strArgs(keys)...)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected MGET reply %T", v)
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		if out[i], err = asBytes(item); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MSet stores key/value pairs given as alternating arguments.
func (s Strings) MSet(ctx context.Context, pairs ...any) error {
	if len(pairs) == 0 || len(pairs)%2 != 0 {
		return fmt.Errorf("MSET needs key/value pairs: %w", ErrInvalidArgument)
	}
	_, err := s.x.Execute(ctx, "MSET", pairs...)
	return err
}

func (s Strings) Incr(ctx context.Context, key string) (int64, error) {
	return asInt(s.x.Execute(ctx, "INCR", key))
}

func (s Strings) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return asInt(s.x.Execute(ctx, "INCRBY", key, n))
}

func (s Strings) Decr(ctx context.Context, key string) (int64, error) {
	return asInt(s.x.Execute(ctx, "DECR", key))
}

// Append appends value and returns the new length.
func (s Strings) Append(ctx context.Context, key string, value any) (int64, error) {
	return asInt(s.x.Execute(ctx, "APPEND", key, value))
}

func (s Strings) StrLen(ctx context.Context, key string) (int64, error) {
	return asInt(s.x.Execute(ctx, "STRLEN", key))
}

// Keys holds the generic key commands.
type Keys struct{ x Executor }

// Del removes keys and returns how many existed. In a cluster all keys must
// share one slot.
func (k Keys) Del(ctx context.Context, keys ...string) (int64, error) {
	return asInt(k.x.Execute(ctx, "DEL", strArgs(keys)...))
}

// Exists returns how many of keys exist.
func (k Keys) Exists(ctx context.Context, keys ...string) (int64, error) {
	return asInt(k.x.Execute(ctx, "EXISTS", strArgs(keys)...))
}

// Expire sets a TTL with second precision and reports whether key exists.
func (k Keys) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return asBool(k.x.Execute(ctx, "EXPIRE", key, int64(ttl/time.Second)))
}

func (k Keys) Persist(ctx context.Context, key string) (bool, error) {
	return asBool(k.x.Execute(ctx, "PERSIST", key))
}

// TTL returns the remaining time to live. Negative values follow the
// server: -1 for no TTL, -2 for a missing key.
func (k Keys) TTL(ctx context.Context, key string) (time.Duration, error) {
	n, err := asInt(k.x.Execute(ctx, "PTTL", key))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return time.Duration(n), nil
	}
	return time.Duration(n) * time.Millisecond, nil
}

// Type returns the type name of key ("none" when missing).
func (k Keys) Type(ctx context.Context, key string) (string, error) {
	v, err := k.x.Execute(ctx, "TYPE", key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("unexpected TYPE reply %T", v)
	}
	return s, nil
}

func (k Keys) Rename(ctx context.Context, key, newKey string) error {
	_, err := k.x.Execute(ctx, "RENAME", key, newKey)
	return err
}

// Server holds server management commands.
type Server struct{ x Executor }

// Ping reports whether the server answered PONG.
func (s Server) Ping(ctx context.Context) (bool, error) {
	return asBool(s.x.Execute(ctx, "PING"))
}

func (s Server) Echo(ctx context.Context, msg string) ([]byte, error) {
	v, err := s.x.Execute(ctx, "ECHO", msg)
	if err != nil {
		return nil, err
	}
	return asBytes(v)
}

// DBSize returns the number of keys. A cluster client sums all masters.
func (s Server) DBSize(ctx context.Context) (int64, error) {
	return asInt(s.x.Execute(ctx, "DBSIZE"))
}

func (s Server) FlushDB(ctx context.Context) error {
	_, err := s.x.Execute(ctx, "FLUSHDB")
	return err
}

// Info returns the INFO fields of section (all sections when empty). A
// cluster client returns a map of node address to field map.
func (s Server) Info(ctx context.Context, section string) (any, error) {
	if section == "" {
		return s.x.Execute(ctx, "INFO")
	}
	return s.x.Execute(ctx, "INFO", section)
}

// ConfigGet returns the configuration parameters matching pattern.
func (s Server) ConfigGet(ctx context.Context, pattern string) (any, error) {
	return s.x.Execute(ctx, "CONFIG GET", pattern)
}

func (s Server) ConfigSet(ctx context.Context, param string, value any) error {
	_, err := s.x.Execute(ctx, "CONFIG SET", param, value)
	return err
}

// CommandList returns the server's COMMAND table.
func (s Server) CommandList(ctx context.Context) ([]CommandInfo, error) {
	v, err := s.x.Execute(ctx, "COMMAND")
	if err != nil {
		return nil, err
	}
	cmds, ok := v.([]CommandInfo)
	if !ok {
		return nil, fmt.Errorf("unexpected COMMAND reply %T", v)
	}
	return cmds, nil
}

func strArgs(keys []string) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}

func asBytes(v any) ([]byte, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("unexpected reply %T", v)
}

func asInt(v any, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("expected integer reply, got %T", v)
	}
	return n, nil
}

func asBool(v any, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	switch v := v.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	}
	return false, fmt.Errorf("expected boolean reply, got %T", v)
}

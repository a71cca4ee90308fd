package client

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/cosmez/rediskit/resp"
)

func mustRead(t *testing.T, wire string) resp.Reply {
	t.Helper()
	r, err := resp.NewReader(strings.NewReader(wire)).ReadReply()
	if err != nil {
		t.Fatalf("ReadReply(%q) failed: %v", wire, err)
	}
	return r
}

func TestDefaultCallbacks(t *testing.T) {
	cbs := NewCallbacks()

	tests := []struct {
		cmd  string
		wire string
		want any
	}{
		{cmd: "SET", wire: "+OK\r\n", want: true},
		{cmd: "SET", wire: "$-1\r\n", want: false},
		{cmd: "SETNX", wire: ":0\r\n", want: false},
		{cmd: "EXPIRE", wire: ":1\r\n", want: true},
		{cmd: "FLUSHDB", wire: "+OK\r\n", want: true},
		{cmd: "INCRBYFLOAT", wire: "$4\r\n10.5\r\n", want: 10.5},
		{cmd: "ZSCORE", wire: "$-1\r\n", want: nil},
		{cmd: "config get", wire: "*4\r\n$7\r\nmaxmem0\r\n$1\r\n0\r\n$4\r\nport\r\n$4\r\n6379\r\n", want: map[string]string{"maxmem0": "0", "port": "6379"}},
		{cmd: "HGETALL", wire: "*0\r\n", want: map[string]string{}},
		{cmd: "TIME", wire: "*2\r\n$10\r\n1700000000\r\n$6\r\n250000\r\n", want: time.Unix(1700000000, 250000000)},
		{cmd: "LASTSAVE", wire: ":1700000000\r\n", want: time.Unix(1700000000, 0)},
	}
	for _, tt := range tests {
		cb := cbs.Get(tt.cmd)
		if cb == nil {
			t.Fatalf("no callback for %s", tt.cmd)
		}
		got, err := cb(mustRead(t, tt.wire))
		if err != nil {
			t.Fatalf("%s callback failed: %v", tt.cmd, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s(%q) = %#v, want %#v", tt.cmd, tt.wire, got, tt.want)
		}
	}
}

func TestCallbacks_Independent(t *testing.T) {
	a, b := NewCallbacks(), NewCallbacks()
	a.Set("SET", nil)
	if a.Get("SET") != nil {
		t.Error("Set(nil) should remove the callback")
	}
	if b.Get("SET") == nil {
		t.Error("registries must not share state")
	}
}

func TestParseInfo(t *testing.T) {
	got, err := ParseInfo(resp.Bulk{Value: []byte("# Server\r\nredis_version:7.2.0\r\nexecutable:/usr/bin/redis:server\r\n\r\n")})
	if err != nil {
		t.Fatalf("ParseInfo failed: %v", err)
	}
	want := map[string]string{"redis_version": "7.2.0", "executable": "/usr/bin/redis:server"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if _, err := ParseInfo(resp.Integer{Value: 1}); err == nil {
		t.Error("expected an error for a non-bulk reply")
	}
}

func TestParseCommands(t *testing.T) {
	// One Redis 7 entry with a subcommand and one pre-7 entry.
	wire := "*2\r\n" +
		"*10\r\n$6\r\nconfig\r\n:-2\r\n*0\r\n:0\r\n:0\r\n:0\r\n*1\r\n$6\r\n@admin\r\n*0\r\n*0\r\n" +
		"*1\r\n*10\r\n$10\r\nconfig|get\r\n:-3\r\n*0\r\n:0\r\n:0\r\n:0\r\n*0\r\n*0\r\n*0\r\n*0\r\n" +
		"*6\r\n$3\r\nget\r\n:2\r\n*0\r\n:1\r\n:1\r\n:1\r\n"

	got, err := parseCommands(mustRead(t, wire))
	if err != nil {
		t.Fatalf("parseCommands failed: %v", err)
	}
	want := []CommandInfo{
		{
			Name: "CONFIG", Arity: -2, ACLCats: []string{"@admin"},
			Subcommands: []CommandInfo{{Name: "CONFIG GET", Arity: -3}},
		},
		{Name: "GET", Arity: 2},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got  %+v\nwant %+v", got, want)
	}
}

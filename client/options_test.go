package client

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOptions(t *testing.T) {
	path := writeConfig(t, `
host: cache.internal
port: 6380
db: 2
password: s3cret
connect_timeout: 1.5s
read_timeout: 2
max_connections: 16
blocking: true
pool_timeout: 500ms
tls:
  enabled: true
  verify_mode: none
`)
	got, err := LoadOptions(path)
	if err != nil {
		t.Fatalf("LoadOptions failed: %v", err)
	}
	want := &Options{
		Host: "cache.internal", Port: 6380, DB: 2, Password: "s3cret",
		ConnectTimeout: Duration(1500 * time.Millisecond),
		ReadTimeout:    Duration(2 * time.Second),
		MaxConnections: 16, Blocking: true,
		PoolTimeout: Duration(500 * time.Millisecond),
		TLS:         TLSOptions{Enabled: true, VerifyMode: "none"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got  %+v\nwant %+v", got, want)
	}
}

func TestLoadClusterOptions(t *testing.T) {
	path := writeConfig(t, `
startup_nodes: ["10.0.0.1:7000", "10.0.0.2:7000"]
readonly: true
reinitialize_steps: 10
ttl: 8
`)
	got, err := LoadClusterOptions(path)
	if err != nil {
		t.Fatalf("LoadClusterOptions failed: %v", err)
	}
	if len(got.StartupNodes) != 2 || !got.ReadonlyReads || got.ReinitializeSteps != 10 || got.TTL != 8 {
		t.Errorf("unexpected options %+v", got)
	}
}

func TestLoadOptions_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "Bad Duration", body: "connect_timeout: soon", want: "invalid duration"},
		{name: "Bad Port", body: "port: 70000", want: "invalid port"},
		{name: "Bad Encoding", body: "encoding: klingon", want: "unknown encoding"},
		{name: "Bad Verify Mode", body: "tls: {verify_mode: maybe}", want: "verify_mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadOptions(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if _, err := LoadOptions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestClusterOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    ClusterOptions
		wantErr bool
	}{
		{name: "Startup Nodes", opts: ClusterOptions{StartupNodes: []string{"a:7000"}}},
		{name: "Host Only", opts: ClusterOptions{Options: Options{Host: "a"}}},
		{name: "No Nodes", opts: ClusterOptions{}, wantErr: true},
		{name: "DB Rejected", opts: ClusterOptions{Options: Options{Host: "a", DB: 1}}, wantErr: true},
		{name: "Negative TTL", opts: ClusterOptions{StartupNodes: []string{"a:7000"}, TTL: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	opts := ClusterOptions{Options: Options{Host: "a"}, StartupNodes: []string{"b:7001"}}
	if got := opts.startupNodes(); !reflect.DeepEqual(got, []string{"b:7001", "a:7000"}) {
		t.Errorf("startupNodes = %v", got)
	}
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	for in, want := range map[string]time.Duration{
		`"250ms"`: 250 * time.Millisecond,
		`3`:       3 * time.Second,
		`"0.25"`:  250 * time.Millisecond,
		`null`:    0,
	} {
		if err := d.UnmarshalJSON([]byte(in)); err != nil {
			t.Fatalf("UnmarshalJSON(%s) failed: %v", in, err)
		}
		if d.Std() != want {
			t.Errorf("UnmarshalJSON(%s) = %v, want %v", in, d.Std(), want)
		}
	}
	if err := d.UnmarshalJSON([]byte(`true`)); err == nil {
		t.Error("expected an error for a boolean")
	}
}

package resp

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name     string
		cmd      Command
		expected string
		wantErr  bool
	}{
		{
			name:     "Name Only",
			cmd:      NewCommand("PING"),
			expected: "*1\r\n$4\r\nPING\r\n",
		},
		{
			name:     "String Args",
			cmd:      NewCommand("SET", "key", "value"),
			expected: "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n",
		},
		{
			name:     "Multi Word Name",
			cmd:      NewCommand("CONFIG GET", "maxmemory"),
			expected: "*3\r\n$6\r\nCONFIG\r\n$3\r\nGET\r\n$9\r\nmaxmemory\r\n",
		},
		{
			name:     "Integers",
			cmd:      NewCommand("EXPIRE", "k", 10, int64(-3), uint8(7)),
			expected: "*5\r\n$6\r\nEXPIRE\r\n$1\r\nk\r\n$2\r\n10\r\n$2\r\n-3\r\n$1\r\n7\r\n",
		},
		{
			name:     "Float",
			cmd:      NewCommand("INCRBYFLOAT", "k", 1.5),
			expected: "*3\r\n$11\r\nINCRBYFLOAT\r\n$1\r\nk\r\n$3\r\n1.5\r\n",
		},
		{
			name:     "Empty String",
			cmd:      NewCommand("SET", "k", ""),
			expected: "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$0\r\n\r\n",
		},
		{
			name:     "Binary With CRLF",
			cmd:      NewCommand("SET", "k", []byte("a\r\nb")),
			expected: "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$4\r\na\r\nb\r\n",
		},
		{
			name:    "Bool Rejected",
			cmd:     NewCommand("SET", "k", true),
			wantErr: true,
		},
		{
			name:    "Nil Rejected",
			cmd:     NewCommand("SET", "k", nil),
			wantErr: true,
		},
		{
			name:    "Empty Name",
			cmd:     NewCommand("  "),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := defaultEncoder.Encode(tt.cmd)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Encode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("expected ErrInvalidArgument, got %v", err)
				}
				return
			}
			if string(got) != tt.expected {
				t.Errorf("Encode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPack_LargeArgumentIsSeparateChunk(t *testing.T) {
	big := bytes.Repeat([]byte("x"), ChunkCutoff+1)
	chunks, err := defaultEncoder.Pack(NewCommand("SET", "k", big))
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if &chunks[1][0] != &big[0] {
		t.Error("large argument should be passed through without copying")
	}
	if string(chunks[2]) != "\r\n" {
		t.Errorf("trailing chunk = %q, want CRLF", chunks[2])
	}

	joined := bytes.Join(chunks, nil)
	want := "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$6001\r\n" + string(big) + "\r\n"
	if string(joined) != want {
		t.Error("joined chunks do not match the single-buffer encoding")
	}
}

func TestPack_SmallArgumentsShareBuffer(t *testing.T) {
	chunks, err := defaultEncoder.Pack(NewCommand("MSET", "a", "1", "b", "2"))
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("expected a single chunk, got %d", len(chunks))
	}
}

func TestPackMany(t *testing.T) {
	cmds := []Command{
		NewCommand("SET", "a", "1"),
		NewCommand("GET", "a"),
	}
	chunks, err := defaultEncoder.PackMany(cmds)
	if err != nil {
		t.Fatalf("PackMany failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("small commands should be coalesced, got %d chunks", len(chunks))
	}
	want := "*3\r\n$3\r\nSET\r\n$1\r\na\r\n$1\r\n1\r\n*2\r\n$3\r\nGET\r\n$1\r\na\r\n"
	if got := string(bytes.Join(chunks, nil)); got != want {
		t.Errorf("PackMany() = %q, want %q", got, want)
	}
}

func TestPackMany_InvalidArgument(t *testing.T) {
	cmds := []Command{NewCommand("GET", "a"), NewCommand("SET", "a", struct{}{})}
	if _, err := defaultEncoder.PackMany(cmds); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	values := []string{"", "plain", "with space", "crlf\r\ninside", "\x00\xff", strings.Repeat("z", 7000)}
	for _, v := range values {
		wire, err := defaultEncoder.Encode(NewCommand("ECHO", v))
		if err != nil {
			t.Fatalf("Encode(%q) failed: %v", v, err)
		}
		got, err := NewReader(bytes.NewReader(wire)).ReadReply()
		if err != nil {
			t.Fatalf("ReadReply failed: %v", err)
		}
		want := Array{Values: []Reply{Bulk{Value: []byte("ECHO")}, Bulk{Value: []byte(v)}}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip of %q changed the value", v)
		}
	}
}

func TestNewEncoder_Charset(t *testing.T) {
	enc, err := NewEncoder("latin1")
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	b, err := enc.Arg("café")
	if err != nil {
		t.Fatalf("Arg failed: %v", err)
	}
	if !bytes.Equal(b, []byte("caf\xe9")) {
		t.Errorf("Arg() = %q, want latin1 bytes", b)
	}
	s, err := enc.Decode(b)
	if err != nil || s != "café" {
		t.Errorf("Decode() = %q, %v", s, err)
	}
}

func TestNewEncoder_Unknown(t *testing.T) {
	if _, err := NewEncoder("klingon-8"); err == nil {
		t.Error("expected error for unknown charset")
	}
}

func TestCommand(t *testing.T) {
	cmd := NewCommand("client  setname", "app")
	if got := cmd.Upper(); got != "CLIENT SETNAME" {
		t.Errorf("Upper() = %q", got)
	}
	if cmd.Len() != 3 {
		t.Errorf("Len() = %d, want 3", cmd.Len())
	}
	if a, ok := cmd.Arg(2); !ok || a != "app" {
		t.Errorf("Arg(2) = %v, %v", a, ok)
	}
	if _, ok := cmd.Arg(3); ok {
		t.Error("Arg(3) should be out of range")
	}
}

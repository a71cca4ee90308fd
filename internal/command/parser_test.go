package command

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/cosmez/rediskit/resp"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "Simple", input: "GET mykey", expected: []string{"GET", "mykey"}},
		{name: "Quoted String", input: `SET key "hello world"`, expected: []string{"SET", "key", "hello world"}},
		{name: "Escaped Quotes", input: `SET key "hello \"world\""`, expected: []string{"SET", "key", `hello "world"`}},
		{name: "Unclosed Quotes", input: `SET key "hello`, expected: []string{"SET", "key", "hello"}},
		{name: "Multiple Spaces", input: "  GET   mykey  ", expected: []string{"GET", "mykey"}},
		{name: "Single Quotes Literal", input: `SET key 'a\nb'`, expected: []string{"SET", "key", `a\nb`}},
		{name: "Escaped Single Quote", input: `SET key 'it\'s'`, expected: []string{"SET", "key", "it's"}},
		{name: "Double Quote Escapes", input: `SET key "a\tb\n"`, expected: []string{"SET", "key", "a\tb\n"}},
		{name: "Hex Escape", input: `SET key "\x41\x00"`, expected: []string{"SET", "key", "A\x00"}},
		{name: "Empty Quoted", input: `SET key ""`, expected: []string{"SET", "key", ""}},
		{name: "Adjacent Quotes", input: `SET key pre"fix"`, expected: []string{"SET", "key", "prefix"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenize(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("tokenize() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParse(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}

	tests := []struct {
		name         string
		input        string
		expectedName string
		expectedArgs []string
		expectedMod  string
		expectedPipe string
		expectedCmd  string
		expectedRESP []byte
		wantErr      bool
	}{
		{
			name:         "Simple Command",
			input:        "get mykey",
			expectedName: "GET",
			expectedArgs: []string{"mykey"},
			expectedCmd:  "GET",
			expectedRESP: []byte("*2\r\n$3\r\nGET\r\n$5\r\nmykey\r\n"),
		},
		{
			name:         "With Codec",
			input:        "GET mykey#:gzip",
			expectedName: "GET",
			expectedArgs: []string{"mykey"},
			expectedMod:  "gzip",
			expectedCmd:  "GET",
			expectedRESP: []byte("*2\r\n$3\r\nGET\r\n$5\r\nmykey\r\n"),
		},
		{
			name:         "With Codec and Pipe",
			input:        "GET mykey#:gzip | jq .",
			expectedName: "GET",
			expectedArgs: []string{"mykey"},
			expectedMod:  "gzip",
			expectedPipe: "jq .",
			expectedCmd:  "GET",
			expectedRESP: []byte("*2\r\n$3\r\nGET\r\n$5\r\nmykey\r\n"),
		},
		{
			name:         "SET with Codec",
			input:        "SET key value#:base64",
			expectedName: "SET",
			expectedArgs: []string{"key", "value"},
			expectedMod:  "base64",
			expectedCmd:  "SET",
			expectedRESP: []byte("*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$8\r\ndmFsdWU=\r\n"),
		},
		{
			name:         "Documented Compound",
			input:        "client info",
			expectedName: "CLIENT",
			expectedArgs: []string{"info"},
			expectedCmd:  "CLIENT INFO",
			expectedRESP: []byte("*2\r\n$6\r\nCLIENT\r\n$4\r\nINFO\r\n"),
		},
		{
			name:         "Container Compound",
			input:        "config rewrite",
			expectedName: "CONFIG",
			expectedArgs: []string{"rewrite"},
			expectedCmd:  "CONFIG REWRITE",
			expectedRESP: []byte("*2\r\n$6\r\nCONFIG\r\n$7\r\nREWRITE\r\n"),
		},
		{
			name:    "Unknown Codec",
			input:   "SET key value#:unknown",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input, reg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			if got.Name != tt.expectedName {
				t.Errorf("Parse() Name = %v, want %v", got.Name, tt.expectedName)
			}
			if !reflect.DeepEqual(got.Args, tt.expectedArgs) {
				t.Errorf("Parse() Args = %v, want %v", got.Args, tt.expectedArgs)
			}
			if got.Modifier != tt.expectedMod {
				t.Errorf("Parse() Modifier = %v, want %v", got.Modifier, tt.expectedMod)
			}
			if got.Pipe != tt.expectedPipe {
				t.Errorf("Parse() Pipe = %v, want %v", got.Pipe, tt.expectedPipe)
			}
			if got.Command.Name != tt.expectedCmd {
				t.Errorf("Parse() Command.Name = %q, want %q", got.Command.Name, tt.expectedCmd)
			}
			wire, err := (&resp.Encoder{}).Encode(got.Command)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if !bytes.Equal(wire, tt.expectedRESP) {
				t.Errorf("Parse() wire = %q, want %q", wire, tt.expectedRESP)
			}
		})
	}
}

func TestParse_Blank(t *testing.T) {
	got, err := Parse("   ", nil)
	if err != nil || !got.Empty() {
		t.Errorf("Parse(blank) = %+v, %v", got, err)
	}
	got, err = Parse("#:gzip", nil)
	if err != nil || !got.Empty() || got.Modifier != "gzip" {
		t.Errorf("Parse(modifier only) = %+v, %v", got, err)
	}
}

func TestParse_DocLookup(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Parse("CONFIG GET maxmemory", reg)
	if err != nil {
		t.Fatal(err)
	}
	if got.Doc == nil || got.Doc.Command != "CONFIG GET" {
		t.Errorf("Doc = %+v, want CONFIG GET", got.Doc)
	}
	if !reflect.DeepEqual(got.Command.Args, []any{"maxmemory"}) {
		t.Errorf("Command.Args = %v", got.Command.Args)
	}
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}

	t.Run("Get Exact", func(t *testing.T) {
		doc := reg.Get("GET")
		if doc == nil || doc.Command != "GET" {
			t.Errorf("Expected GET doc, got %v", doc)
		}
	})

	t.Run("Get Compound", func(t *testing.T) {
		doc := reg.Get("CLIENT INFO")
		if doc == nil || doc.Command != "CLIENT INFO" {
			t.Errorf("Expected CLIENT INFO doc, got %v", doc)
		}
	})

	t.Run("Get Application Command", func(t *testing.T) {
		doc := reg.Get("EXIT")
		if doc == nil || doc.Group != "application" {
			t.Errorf("Expected EXIT app doc, got %v", doc)
		}
	})

	t.Run("IsDangerous", func(t *testing.T) {
		if !reg.IsDangerous("FLUSHDB") {
			t.Error("Expected FLUSHDB to be dangerous")
		}
		if reg.IsDangerous("GET") {
			t.Error("Expected GET to not be dangerous")
		}
	})

	t.Run("GetCommands Prefix", func(t *testing.T) {
		cmds := reg.GetCommands("CLI")
		found := false
		for _, cmd := range cmds {
			if cmd == "CLIENT INFO" {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected CLIENT INFO in prefix search for CLI, got %v", cmds)
		}
	})
}

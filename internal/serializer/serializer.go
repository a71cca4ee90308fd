// Package serializer holds the value codecs selectable with "#:name" in the
// REPL. SET serializes its value with the codec, and replies are decoded
// with it before display.
package serializer

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/golang/snappy"
)

// Serializer converts values to and from their stored form.
type Serializer interface {
	Serialize([]byte) ([]byte, error)
	Deserialize([]byte) ([]byte, error)
}

type codec struct {
	encode func([]byte) ([]byte, error)
	decode func([]byte) ([]byte, error)
}

func (c codec) Serialize(b []byte) ([]byte, error)   { return c.encode(b) }
func (c codec) Deserialize(b []byte) ([]byte, error) { return c.decode(b) }

var codecs = map[string]Serializer{
	"base64": codec{
		encode: func(b []byte) ([]byte, error) {
			return base64.StdEncoding.AppendEncode(nil, b), nil
		},
		decode: func(b []byte) ([]byte, error) {
			return base64.StdEncoding.AppendDecode(nil, b)
		},
	},
	"hex": codec{
		encode: func(b []byte) ([]byte, error) { return hex.AppendEncode(nil, b), nil },
		decode: func(b []byte) ([]byte, error) { return hex.AppendDecode(nil, b) },
	},
	"gzip": codec{encode: gzipEncode, decode: gzipDecode},
	"snappy": codec{
		encode: func(b []byte) ([]byte, error) { return snappy.Encode(nil, b), nil },
		decode: func(b []byte) ([]byte, error) { return snappy.Decode(nil, b) },
	},
}

// Get returns the codec registered under name, case-insensitively.
func Get(name string) (Serializer, error) {
	s, ok := codecs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown serializer %q (have %s)", name, strings.Join(Names(), ", "))
	}
	return s, nil
}

// Names lists the registered codecs in order.
func Names() []string {
	names := make([]string, 0, len(codecs))
	for n := range codecs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func gzipEncode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	// Close writes the footer, so it must happen before reading buf.
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func gzipDecode(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader init failed: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}
	return out, nil
}

package resp

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// ChunkCutoff is the size above which argument payloads are emitted as their
// own chunk instead of being copied into the surrounding buffer.
const ChunkCutoff = 6000

// Encoder packs commands into wire chunks. The zero value and a nil
// *Encoder both encode strings as UTF-8.
type Encoder struct {
	charset string
	enc     *encoding.Encoder
	dec     *encoding.Decoder
	cutoff  int
}

var defaultEncoder = &Encoder{charset: "utf-8"}

// NewEncoder returns an encoder that converts string arguments to charset.
// Charset names follow the WHATWG encoding labels ("utf-8", "latin1",
// "windows-1252", "shift_jis", ...).
func NewEncoder(charset string) (*Encoder, error) {
	name := strings.ToLower(strings.TrimSpace(charset))
	if name == "" || name == "utf-8" || name == "utf8" {
		return &Encoder{charset: "utf-8"}, nil
	}
	e, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", charset, err)
	}
	return &Encoder{
		charset: name,
		enc:     e.NewEncoder(),
		dec:     e.NewDecoder(),
	}, nil
}

// Charset returns the configured text encoding name.
func (e *Encoder) Charset() string {
	if e == nil || e.charset == "" {
		return "utf-8"
	}
	return e.charset
}

// Decode converts bytes received from the server back to a UTF-8 string.
func (e *Encoder) Decode(b []byte) (string, error) {
	if e == nil || e.dec == nil {
		return string(b), nil
	}
	out, err := e.dec.Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (e *Encoder) chunkCutoff() int {
	if e == nil || e.cutoff <= 0 {
		return ChunkCutoff
	}
	return e.cutoff
}

// Arg returns the wire bytes of a single argument.
func (e *Encoder) Arg(v any) ([]byte, error) {
	switch v := v.(type) {
	case []byte:
		return v, nil
	case string:
		if e == nil || e.enc == nil {
			return []byte(v), nil
		}
		b, err := e.enc.Bytes([]byte(v))
		if err != nil {
			return nil, fmt.Errorf("encode %q as %s: %w", v, e.charset, err)
		}
		return b, nil
	case int:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int8:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int16:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int64:
		return strconv.AppendInt(nil, v, 10), nil
	case uint:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint8:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint16:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint32:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint64:
		return strconv.AppendUint(nil, v, 10), nil
	case float32:
		return strconv.AppendFloat(nil, float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.AppendFloat(nil, v, 'f', -1, 64), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidArgument, v)
	}
}

// Pack encodes cmd as an array of bulk strings. Small arguments are copied
// into a shared buffer; large ones are appended as separate chunks so they
// are never copied. Writing the chunks in order produces the exact wire form.
func (e *Encoder) Pack(cmd Command) ([][]byte, error) {
	words := cmd.Words()
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: empty command name", ErrInvalidArgument)
	}

	cutoff := e.chunkCutoff()
	var out [][]byte
	buf := make([]byte, 0, 64)
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(words)+len(cmd.Args)), 10)
	buf = append(buf, '\r', '\n')

	emit := func(arg []byte) {
		if len(buf) > cutoff || len(arg) > cutoff {
			buf = appendBulkHeader(buf, len(arg))
			out = append(out, buf, arg)
			buf = []byte{'\r', '\n'}
			return
		}
		buf = appendBulkHeader(buf, len(arg))
		buf = append(buf, arg...)
		buf = append(buf, '\r', '\n')
	}

	for _, w := range words {
		emit([]byte(w))
	}
	for i, a := range cmd.Args {
		b, err := e.Arg(a)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", cmd.Name, i+1, err)
		}
		emit(b)
	}
	return append(out, buf), nil
}

// PackMany packs a batch of commands, joining small chunks so that the
// number of writes stays low.
func (e *Encoder) PackMany(cmds []Command) ([][]byte, error) {
	cutoff := e.chunkCutoff()
	var (
		out     [][]byte
		pending []byte
	)
	for _, cmd := range cmds {
		chunks, err := e.Pack(cmd)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			if len(c) > cutoff {
				if len(pending) > 0 {
					out = append(out, pending)
					pending = nil
				}
				out = append(out, c)
				continue
			}
			pending = append(pending, c...)
		}
		if len(pending) > cutoff {
			out = append(out, pending)
			pending = nil
		}
	}
	if len(pending) > 0 {
		out = append(out, pending)
	}
	return out, nil
}

// Encode returns the whole wire form of cmd in one slice.
func (e *Encoder) Encode(cmd Command) ([]byte, error) {
	chunks, err := e.Pack(cmd)
	if err != nil {
		return nil, err
	}
	var n int
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out, nil
}

func appendBulkHeader(b []byte, n int) []byte {
	b = append(b, '$')
	b = strconv.AppendInt(b, int64(n), 10)
	return append(b, '\r', '\n')
}

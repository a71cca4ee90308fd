package resp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Reader decodes replies from a buffered stream. It blocks on the underlying
// reader when a reply is incomplete, so a server writing in arbitrarily small
// chunks is handled without polling.
type Reader struct {
	rd *bufio.Reader
}

// NewReader wraps rd. A *bufio.Reader is used as is.
func NewReader(rd io.Reader) *Reader {
	if br, ok := rd.(*bufio.Reader); ok {
		return &Reader{rd: br}
	}
	return &Reader{rd: bufio.NewReader(rd)}
}

// Buffered returns the number of bytes already read from the stream but not
// yet decoded.
func (r *Reader) Buffered() int {
	return r.rd.Buffered()
}

// Reset discards buffered data and switches to a new stream.
func (r *Reader) Reset(rd io.Reader) {
	r.rd.Reset(rd)
}

// ReadReply reads exactly one complete reply. Nothing is returned until the
// whole reply, including nested array elements, has been read.
func (r *Reader) ReadReply() (Reply, error) {
	line, err := r.readLine()
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, protocolErrorf("empty line")
	}

	switch line[0] {
	case '+':
		return Status{Value: string(line[1:])}, nil
	case '-':
		return NewError(string(line[1:])), nil
	case ':':
		n, err := parseInt(line[1:])
		if err != nil {
			return nil, protocolErrorf("invalid integer %q", line[1:])
		}
		return Integer{Value: n}, nil
	case '$':
		return r.readBulk(line[1:])
	case '*':
		return r.readArray(line[1:])
	default:
		return nil, protocolErrorf("unknown reply type byte %q in %q", line[0], line)
	}
}

// readLine reads up to and including CRLF and returns the line without it.
// The returned slice is only valid until the next read.
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.rd.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		// Lines longer than the buffer are rare (huge status replies); fall
		// back to an allocating read.
		full := append([]byte(nil), line...)
		rest, err := r.rd.ReadBytes('\n')
		if err != nil {
			return nil, unexpectedEOF(err)
		}
		line = append(full, rest...)
	} else if err != nil {
		if len(line) > 0 {
			return nil, unexpectedEOF(err)
		}
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, protocolErrorf("line not terminated by CRLF: %q", line)
	}
	return line[:len(line)-2], nil
}

// MaxBulkLen is the largest bulk payload the reader accepts, matching the
// server's default proto-max-bulk-len of 512 MiB.
const MaxBulkLen = 512 << 20

const (
	maxArrayLen   = math.MaxInt32
	arrayPrealloc = 1024
)

func (r *Reader) readBulk(header []byte) (Reply, error) {
	n, err := parseInt(header)
	if err != nil {
		return nil, protocolErrorf("invalid bulk length %q", header)
	}
	if n == -1 {
		return Nil{}, nil
	}
	if n < -1 || n > MaxBulkLen {
		return nil, protocolErrorf("invalid bulk length %d", n)
	}

	// Read payload and trailing CRLF in one go to stay binary-safe.
	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r.rd, buf); err != nil {
		return nil, unexpectedEOF(err)
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return nil, protocolErrorf("expected CRLF after bulk payload, got %q", buf[n:])
	}
	return Bulk{Value: buf[:n:n]}, nil
}

func (r *Reader) readArray(header []byte) (Reply, error) {
	n, err := parseInt(header)
	if err != nil {
		return nil, protocolErrorf("invalid array count %q", header)
	}
	if n == -1 {
		return Nil{}, nil
	}
	if n < -1 || n > maxArrayLen {
		return nil, protocolErrorf("invalid array count %d", n)
	}

	// The count comes off the wire; grow as elements actually arrive.
	values := make([]Reply, 0, min(n, arrayPrealloc))
	for i := range n {
		v, err := r.ReadReply()
		if err != nil {
			return nil, fmt.Errorf("array element %d: %w", i, unexpectedEOF(err))
		}
		values = append(values, v)
	}
	return Array{Values: values}, nil
}

func parseInt(b []byte) (int64, error) {
	if len(b) == 0 || bytes.ContainsAny(b, " \t") {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(string(b), 10, 64)
}

// unexpectedEOF turns an EOF in the middle of a reply into
// io.ErrUnexpectedEOF so callers can tell a truncated reply from a clean close.
func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

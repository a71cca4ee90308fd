package conn

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrClosed is wrapped by operations on a connection that has no transport.
var ErrClosed = errors.New("connection closed")

// TransportError reports a failed dial, handshake, read or write. The
// connection that produced it has been disconnected.
type TransportError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError reports an I/O operation that did not finish within the
// configured timeout. The connection that produced it has been disconnected.
type TimeoutError struct {
	Op    string
	Addr  string
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("%s %s: timeout after %s", e.Op, e.Addr, e.After)
	}
	return fmt.Sprintf("%s %s: timeout", e.Op, e.Addr)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout lets callers treat the error like a net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// IsNetworkError reports whether err came from the transport (including
// timeouts) rather than from the server or from the caller's context.
func IsNetworkError(err error) bool {
	var te *TransportError
	var to *TimeoutError
	return errors.As(err, &te) || errors.As(err, &to)
}

// IsTimeout reports whether err is a *TimeoutError.
func IsTimeout(err error) bool {
	var to *TimeoutError
	return errors.As(err, &to)
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

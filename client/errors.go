package client

import (
	"errors"

	"github.com/cosmez/rediskit/internal/cluster"
	"github.com/cosmez/rediskit/internal/conn"
	"github.com/cosmez/rediskit/internal/pool"
	"github.com/cosmez/rediskit/resp"
)

// Error types returned by Execute and Pipeline.Execute. Use errors.As to
// inspect them.
type (
	// ServerError is an error reply from the server.
	ServerError = resp.ServerError
	// ProtocolError means the byte stream could not be decoded.
	ProtocolError = resp.ProtocolError
	// TransportError means the connection failed.
	TransportError = conn.TransportError
	// TimeoutError means a connect, read or write deadline passed.
	TimeoutError = conn.TimeoutError

	ErrorKind = resp.ErrorKind
)

var (
	ErrPoolExhausted      = pool.ErrPoolExhausted
	ErrRetriesExhausted   = cluster.ErrRetriesExhausted
	ErrClusterUnreachable = cluster.ErrClusterUnreachable
	ErrCrossNode          = cluster.ErrCrossNode
	ErrInvalidArgument    = resp.ErrInvalidArgument
	ErrClosed             = pool.ErrClosed

	// ErrTxAborted is returned when EXEC answers nil because a watched key
	// changed.
	ErrTxAborted = errors.New("transaction aborted: watched key modified")
)

// IsKind reports whether err is a ServerError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return resp.IsKind(err, kind)
}

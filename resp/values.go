// Package resp implements the request/reply wire format: encoding commands
// as arrays of bulk strings and decoding the five reply kinds from a
// buffered stream.
package resp

import (
	"strconv"
	"strings"
)

// ReplyType identifies the kind of a decoded reply.
type ReplyType int

const (
	TypeNone ReplyType = iota
	TypeStatus
	TypeInteger
	TypeBulk
	TypeArray
	TypeNil
	TypeError
)

func (t ReplyType) String() string {
	switch t {
	case TypeStatus:
		return "status"
	case TypeInteger:
		return "integer"
	case TypeBulk:
		return "bulk"
	case TypeArray:
		return "array"
	case TypeNil:
		return "nil"
	case TypeError:
		return "error"
	default:
		return "none"
	}
}

// Reply is implemented by every decoded value.
//
// Text returns a printable form of scalar replies. Arrays and nil return ""
// and leave presentation to the caller.
type Reply interface {
	Type() ReplyType
	Text() string
}

// Status is a simple string reply (+OK).
type Status struct {
	Value string
}

func (s Status) Type() ReplyType { return TypeStatus }
func (s Status) Text() string    { return s.Value }

// Integer is a signed 64-bit integer reply (:42).
type Integer struct {
	Value int64
}

func (i Integer) Type() ReplyType { return TypeInteger }
func (i Integer) Text() string    { return strconv.FormatInt(i.Value, 10) }

// Bulk is a binary-safe byte string reply ($3\r\nfoo). A nil bulk string
// ($-1) never decodes to Bulk; it decodes to Nil.
type Bulk struct {
	Value []byte
}

func (b Bulk) Type() ReplyType { return TypeBulk }
func (b Bulk) Text() string    { return string(b.Value) }

// Array is a possibly nested multi-bulk reply. Elements may be Nil.
type Array struct {
	Values []Reply
}

func (a Array) Type() ReplyType { return TypeArray }
func (a Array) Text() string    { return "" }

// Nil is the null bulk string ($-1) or the null array (*-1).
type Nil struct{}

func (n Nil) Type() ReplyType { return TypeNil }
func (n Nil) Text() string    { return "" }

// Error is a well-formed error reply (-ERR message). Code is the first word
// of the line, Message the remainder.
type Error struct {
	Code    string
	Message string
}

// NewError splits an error line into its code and message.
func NewError(line string) Error {
	code, msg, found := strings.Cut(line, " ")
	if !found {
		return Error{Code: code}
	}
	return Error{Code: code, Message: msg}
}

func (e Error) Type() ReplyType { return TypeError }

func (e Error) Text() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + " " + e.Message
}

// Err converts the reply into a classified *ServerError.
func (e Error) Err() *ServerError {
	return classify(e.Code, e.Message)
}

// IsNil reports whether r is a nil reply.
func IsNil(r Reply) bool {
	_, ok := r.(Nil)
	return ok
}

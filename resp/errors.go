package resp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidArgument is returned by the encoder for argument types that have
// no canonical wire form (bool, nil, structs, ...).
var ErrInvalidArgument = errors.New("resp: invalid argument type")

// ProtocolError reports a reply that does not follow the wire grammar. The
// stream position is unknown afterwards, so the connection must be dropped.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "resp: invalid response: " + e.Msg
}

func protocolErrorf(format string, args ...any) error {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

// ErrorKind refines a server error reply.
type ErrorKind int

const (
	KindGeneric ErrorKind = iota
	KindAuth
	KindMoved
	KindAsk
	KindTryAgain
	KindBusyLoading
	KindClusterDown
	KindCrossSlot
	KindNoPermission
	KindReadOnly
	KindExecAbort
	KindNoScript
	KindModule
)

var kindNames = map[ErrorKind]string{
	KindGeneric:      "generic",
	KindAuth:         "auth",
	KindMoved:        "moved",
	KindAsk:          "ask",
	KindTryAgain:     "tryagain",
	KindBusyLoading:  "busyloading",
	KindClusterDown:  "clusterdown",
	KindCrossSlot:    "crossslot",
	KindNoPermission: "nopermission",
	KindReadOnly:     "readonly",
	KindExecAbort:    "execabort",
	KindNoScript:     "noscript",
	KindModule:       "module",
}

func (k ErrorKind) String() string { return kindNames[k] }

// Messages that refine the generic ERR code.
const (
	msgAuthNotSet        = "Client sent AUTH, but no password is set"
	msgInvalidPassword   = "invalid password"
	msgAuthArityLower    = "wrong number of arguments for 'auth' command"
	msgAuthArityUpper    = "wrong number of arguments for 'AUTH' command"
	msgModuleLoad        = "Error loading the extension. Please check the server logs."
	msgModuleNoSuch      = "Error unloading module: no such module with that name"
	msgModuleNotPossible = "Error unloading module: operation not possible."
	msgModuleDataTypes   = "Error unloading module: the module exports one or more module-side data types, can't unload"

	// MsgMaxClients is the ERR message a server sends when it refuses a new
	// client. It is a connection failure, not a command failure.
	MsgMaxClients = "max number of clients reached"
)

var codeKinds = map[string]ErrorKind{
	"EXECABORT":   KindExecAbort,
	"LOADING":     KindBusyLoading,
	"NOSCRIPT":    KindNoScript,
	"READONLY":    KindReadOnly,
	"ASK":         KindAsk,
	"TRYAGAIN":    KindTryAgain,
	"MOVED":       KindMoved,
	"CLUSTERDOWN": KindClusterDown,
	"CROSSSLOT":   KindCrossSlot,
	"WRONGPASS":   KindAuth,
	"NOAUTH":      KindAuth,
	"NOPERM":      KindNoPermission,
}

var errMessageKinds = map[string]ErrorKind{
	msgAuthNotSet:        KindAuth,
	msgInvalidPassword:   KindAuth,
	msgAuthArityLower:    KindAuth,
	msgAuthArityUpper:    KindAuth,
	msgModuleLoad:        KindModule,
	msgModuleNoSuch:      KindModule,
	msgModuleNotPossible: KindModule,
	msgModuleDataTypes:   KindModule,
}

// ServerError is an error reply returned as a Go error. It keeps the server's
// original text. For MOVED and ASK replies Slot and Addr hold the redirect.
type ServerError struct {
	Kind    ErrorKind
	Code    string
	Message string

	Slot int
	Addr string
}

// ParseServerError classifies a raw error line (without the leading '-').
func ParseServerError(line string) *ServerError {
	e := NewError(line)
	return classify(e.Code, e.Message)
}

func classify(code, msg string) *ServerError {
	se := &ServerError{Kind: KindGeneric, Code: code, Message: msg, Slot: -1}
	if code == "ERR" {
		if k, ok := errMessageKinds[msg]; ok {
			se.Kind = k
		}
		return se
	}
	k, ok := codeKinds[code]
	if !ok {
		return se
	}
	se.Kind = k
	if k == KindMoved || k == KindAsk {
		// MOVED 3999 127.0.0.1:6381
		slot, addr, found := strings.Cut(msg, " ")
		if n, err := strconv.Atoi(slot); found && err == nil {
			se.Slot = n
			se.Addr = addr
		}
	}
	return se
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + " " + e.Message
}

// Redirect returns the slot and target address of a MOVED or ASK error.
func (e *ServerError) Redirect() (slot int, addr string, ok bool) {
	if (e.Kind != KindMoved && e.Kind != KindAsk) || e.Addr == "" {
		return 0, "", false
	}
	return e.Slot, e.Addr, true
}

// IsKind reports whether err is a *ServerError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Kind == kind
}

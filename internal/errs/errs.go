package errs

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindNoHealthyBackend Kind = "NoHealthyBackend"
	KindBackendError     Kind = "BackendError"
	KindBackendTimeout   Kind = "BackendTimeout"
	KindInvalidParameter Kind = "InvalidParameter"
	KindServerNotFound   Kind = "ServerNotFound"
	KindAlreadyRunning   Kind = "AlreadyRunning"
	KindNotRunning       Kind = "NotRunning"
	KindInternal         Kind = "Internal"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrNoHealthyBackend = &Error{Kind: KindNoHealthyBackend, Msg: "no healthy backend available"}
	ErrBackend          = &Error{Kind: KindBackendError, Msg: "backend error"}
	ErrBackendTimeout   = &Error{Kind: KindBackendTimeout, Msg: "backend timeout"}
	ErrInvalidParameter = &Error{Kind: KindInvalidParameter, Msg: "invalid parameter"}
	ErrServerNotFound   = &Error{Kind: KindServerNotFound, Msg: "server not found"}
	ErrAlreadyRunning   = &Error{Kind: KindAlreadyRunning, Msg: "server already running"}
	ErrNotRunning       = &Error{Kind: KindNotRunning, Msg: "server not running"}
)

// Error carries a stable kind plus the server it concerns, if any.
type Error struct {
	Kind   Kind
	Server string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Server != "" {
		msg = e.Server + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so that wrapped errors match the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, server, msg string) *Error {
	return &Error{Kind: kind, Server: server, Msg: msg}
}

func Wrap(kind Kind, server, msg string, err error) *Error {
	return &Error{Kind: kind, Server: server, Msg: msg, Err: err}
}

func NotFound(server string) *Error {
	return &Error{Kind: KindServerNotFound, Server: server, Msg: "server not found"}
}

func Invalid(msg string) *Error {
	return &Error{Kind: KindInvalidParameter, Msg: msg}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ServerOf returns the server id attached to err, if any.
func ServerOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Server
	}
	return ""
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNoHealthyBackend:
		return http.StatusServiceUnavailable
	case KindBackendError, KindBackendTimeout, KindInternal:
		return http.StatusInternalServerError
	case KindServerNotFound:
		return http.StatusNotFound
	case KindInvalidParameter, KindAlreadyRunning, KindNotRunning:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

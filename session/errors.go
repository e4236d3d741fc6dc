package session

import (
	"errors"

	"cometa/handshake"
)

// Code is the small closed set of outcomes the public API surfaces to
// firmware callers. It lives here, not in the root package, so both
// session and cometa can depend on it without a cycle; cometa.Reply is a
// type alias over it.
type Code int32

const (
	OK Code = iota
	Timeout
	NetError
	HTTPError
	AuthError
	ParamError
	Error
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Timeout:
		return "TIMEOUT"
	case NetError:
		return "NET_ERROR"
	case HTTPError:
		return "HTTP_ERROR"
	case AuthError:
		return "AUTH_ERROR"
	case ParamError:
		return "PAR_ERROR"
	default:
		return "ERROR"
	}
}

// classify maps a handshake error (or any other error) to the Code the
// public API's LastError returns.
func classify(err error) Code {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, handshake.ErrParam):
		return ParamError
	case errors.Is(err, handshake.ErrNetwork):
		return NetError
	case errors.Is(err, handshake.ErrHTTP):
		return HTTPError
	case errors.Is(err, handshake.ErrAuth):
		return AuthError
	default:
		return Error
	}
}

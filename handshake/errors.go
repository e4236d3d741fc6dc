package handshake

import "errors"

// Sentinel error categories the public API classifies into cometa.Reply
// codes via errors.Is. Every error Run returns wraps exactly one of these.
var (
	// ErrParam marks a malformed or incomplete handshake configuration —
	// e.g. only two of the three app-server parameters supplied.
	ErrParam = errors.New("handshake: parameter error")
	// ErrNetwork marks a DNS, connect, read, or write failure.
	ErrNetwork = errors.New("handshake: network error")
	// ErrHTTP marks a malformed or unexpected HTTP response from the
	// relay or app server.
	ErrHTTP = errors.New("handshake: http error")
	// ErrAuth marks an authentication failure: a 403 from the relay, an
	// "Application key mismatch." from the app server, or a missing
	// signature.
	ErrAuth = errors.New("handshake: authentication error")
)

// Package middleware wraps the session's dispatch path with cross-cutting
// behavior — logging, rate limiting, slow-callback detection — without the
// receive loop or the send path knowing any of it exists.
//
// A Middleware wraps a HandlerFunc and returns another; Chain folds a
// list of them into one, first in the list outermost. There is no RPC
// envelope to decorate in this protocol — a device trades raw payload
// bytes against one bound callback — so the unit being wrapped is a
// DispatchContext rather than a message type. A middleware is free to act
// before its wrapped handler, after it, or to not call it at all and
// answer in its place.
package middleware

import "context"

// DispatchContext carries one inbound message through the chain on its way
// to the user's bound callback. DeviceID is the process-wide device
// identity (useful for log correlation); Payload is the inbound frame's
// raw bytes, delivered undecorated — downstream frames carry no marker
// byte, and nothing is stripped.
type DispatchContext struct {
	DeviceID string
	Payload  []byte
}

// DispatchResult is what the chain hands back: the bytes to frame and
// write as the response chunk (nil means an empty-body response), and an
// error a middleware can set to short-circuit logging/retry decisions
// without altering the wire response.
type DispatchResult struct {
	Response []byte
	Err      error
}

// HandlerFunc is the function signature for dispatch handlers. Both the
// bound user callback (adapted into this shape) and middleware-wrapped
// handlers share it.
type HandlerFunc func(ctx context.Context, req *DispatchContext) *DispatchResult

// Middleware takes a handler and returns a new handler that wraps it.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain folds middlewares into a single Middleware. Ordering follows the
// argument list from the outside in: Chain(a, b)(h) dispatches through a,
// then b, then h, and results bubble back out in reverse. An empty Chain
// is the identity — handy when a Subscribe call configured no middleware
// at all.
func Chain(middlewares ...Middleware) Middleware {
	if len(middlewares) == 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	outer, inner := middlewares[0], Chain(middlewares[1:]...)
	return func(next HandlerFunc) HandlerFunc {
		return outer(inner(next))
	}
}

package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware drops messages that arrive faster than the firmware
// side can reasonably service them. A token bucket refills at r tokens
// per second up to burst; each dispatch spends one, and a dispatch that
// finds the bucket empty short-circuits with an error instead of reaching
// the callback. The same middleware value on the send side caps how fast
// a device floods the relay upstream.
func RateLimitMiddleware(r float64, burst int) Middleware {
	// One limiter per middleware value, captured here: the budget is
	// shared across every message on the session for its whole lifetime.
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *DispatchContext) *DispatchResult {
			if limiter.Allow() {
				return next(ctx, req)
			}
			return &DispatchResult{Err: fmt.Errorf("middleware: rate over %v/s (burst %d), message dropped", r, burst)}
		}
	}
}

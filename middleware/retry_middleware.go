package middleware

import (
	"context"
	"log"
	"math/rand"
	"strings"
	"time"
)

// Backoff is the exponential-backoff-with-jitter helper used by the
// session's heartbeat-triggered reconnection loop, which wants a small
// randomized delay to avoid thundering-herd reconnection. RetryMiddleware
// below does not call it: its retry delay doubles without jitter.
//
// Backoff computes the delay before reconnect attempt n (0-based): base *
// 2^n, capped at max, plus up to ±25% jitter to avoid many devices
// reconnecting against the ensemble in lockstep after a shared outage.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	delay := base * time.Duration(1<<uint(attempt))
	if delay <= 0 || delay > max {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - delay/4
	delay += jitter
	if delay < 0 {
		delay = base
	}
	return delay
}

// RetryMiddleware wraps a dispatch handler, retrying it when the result
// carries an error whose message suggests a transient condition
// ("timeout", "connection refused"). It's a domain-stack addition for
// integrators whose bound callback talks to a flaky local peripheral bus —
// the wire protocol itself never retries a frame.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *DispatchContext) *DispatchResult {
			result := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if result == nil || result.Err == nil {
					return result
				}
				if !isTransient(result.Err.Error()) {
					return result
				}
				log.Printf("middleware: retry attempt %d for device %s after error: %v", i+1, req.DeviceID, result.Err)
				time.Sleep(baseDelay * time.Duration(int64(1)<<uint(i)))
				result = next(ctx, req)
			}
			return result
		}
	}
}

func isTransient(msg string) bool {
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused")
}

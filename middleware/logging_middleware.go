package middleware

import (
	"context"
	"log"
	"time"
)

// LoggingMiddleware traces every dispatched message: which device, how
// many payload bytes, how long the wrapped handler held the receive loop,
// and how it ended. The duration is the number to watch — the callback
// runs on the receive-loop goroutine, so time spent here is time the
// session is not reading frames.
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *DispatchContext) *DispatchResult {
			start := time.Now()
			result := next(ctx, req)

			outcome := "ok"
			if result != nil && result.Err != nil {
				outcome = result.Err.Error()
			}
			log.Printf("dispatch device=%s bytes=%d took=%s result=%s",
				req.DeviceID, len(req.Payload), time.Since(start), outcome)
			return result
		}
	}
}

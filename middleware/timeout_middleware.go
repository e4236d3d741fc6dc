package middleware

import (
	"context"
	"fmt"
	"log"
	"time"
)

// TimeoutWarnMiddleware bounds how long a dispatch may hold the receive
// loop. The wire protocol itself has no per-message deadline, so nothing
// is negotiated with the relay; this is purely a local guard against a
// bound callback that forgets it must return promptly. The wrapped
// handler gets a context that expires after d, and once it does the
// middleware stops waiting and returns an error result so the stall is
// visible. A handler that overruns keeps executing on its own goroutine;
// whatever it eventually returns is discarded.
func TimeoutWarnMiddleware(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *DispatchContext) *DispatchResult {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			// Capacity 1 so the abandoned handler can deliver its late
			// result and exit rather than block forever.
			results := make(chan *DispatchResult, 1)
			go func() { results <- next(tctx, req) }()

			select {
			case result := <-results:
				return result
			case <-tctx.Done():
				log.Printf("middleware: device %s dispatch still running after %s, abandoning wait", req.DeviceID, d)
				return &DispatchResult{Err: fmt.Errorf("middleware: dispatch exceeded %s", d)}
			}
		}
	}
}

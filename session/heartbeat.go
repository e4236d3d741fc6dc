package session

import (
	"context"
	"log"
	"time"

	"cometa/framer"
	"cometa/middleware"
)

// minBackoff is the base and maxBackoff the cap of the delay between
// reconnect attempts, before middleware.Backoff adds its ±25% jitter.
// Reconnecting immediately on every heartbeat failure thundering-herds
// the ensemble when many devices lose their relay at once;
// middleware.Backoff supplies the exponential-plus-jitter shape.
const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 60 * time.Second
)

// heartbeatLoop runs for the session's entire lifetime — it is never
// replaced or cancelled by a reconnect, only by Close. It sleeps the
// negotiated period, writes the heartbeat frame under the lock, and
// triggers reconnection on write failure or a disconnect flag already set
// by the receive loop.
func (s *Session) heartbeatLoop() {
	defer close(s.heartbeatDone)
	attempt := 0
	for {
		if !s.sleep(s.currentHeartbeatPeriod()) {
			return
		}

		if err := s.writeHeartbeat(); err != nil || s.disconnected.Load() {
			ok, nextAttempt := s.reconnectWithBackoff(attempt)
			if !ok {
				return
			}
			attempt = nextAttempt
			continue
		}
		attempt = 0
	}
}

// sleep waits for d. A timer has no signal-interruption spurious wakeup
// to retry around; the select form instead keeps the wait responsive to
// Close. Returns false if the session was closed during the wait.
func (s *Session) sleep(d time.Duration) bool {
	select {
	case <-s.heartbeatStop:
		return false
	case <-time.After(d):
		return true
	}
}

func (s *Session) writeHeartbeat() error {
	s.mu.Lock()
	conn := s.conn
	_, err := conn.Write(framer.Heartbeat)
	s.mu.Unlock()
	return err
}

// reconnectWithBackoff retries Connect with a jittered, exponentially
// growing delay between attempts until it succeeds or the session is
// closed. Returns (false, _) if the session closed during the retry loop.
func (s *Session) reconnectWithBackoff(attempt int) (ok bool, nextAttempt int) {
	for {
		delay := middleware.Backoff(minBackoff, maxBackoff, attempt)
		if !s.sleep(delay) {
			return false, attempt
		}

		if err := s.reconnect(context.Background()); err != nil {
			log.Printf("session: reconnect attempt %d failed: %v", attempt+1, err)
			attempt++
			continue
		}
		return true, 0
	}
}

// reconnect cancels and joins the current receive loop, reruns the
// handshake against a freshly resolved ensemble member — joining the old
// loop before reading from the new connection guarantees previously
// queued inbound frames are never replayed to the replacement loop —
// swaps in the new connection, and starts the replacement receive loop.
// The old connection is closed before the join: the loop may be parked in
// a blocking read on a connection that died without an RST (the heartbeat
// saw the write fail, the read never returns), and only the close
// unblocks it.
func (s *Session) reconnect(ctx context.Context) error {
	s.loopMu.Lock()
	cancel, done := s.recvCancel, s.recvDone
	s.loopMu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.mu.Lock()
	old := s.conn
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	if done != nil {
		<-done
	}

	result, err := s.connector.Connect(ctx)
	if err != nil {
		s.lastErr.Store(int32(classify(err)))
		return err
	}

	s.mu.Lock()
	s.conn = result.Conn
	s.reader = result.Reader
	s.mu.Unlock()
	s.storeHeartbeatPeriod(result.HeartbeatPeriod)

	s.disconnected.Store(false)
	s.lastErr.Store(int32(OK))
	s.startRecvLoop()
	return nil
}

// Package session owns one subscribed device's live connection: the
// chosen relay endpoint, the shared transport, the session lock, and the
// two long-running loops that share them.
//
// A Session is created by Open, which runs the handshake, starts the
// heartbeat loop for the lifetime of the session, and starts the first
// receive loop. Reconnection (triggered by the heartbeat, never by the
// receive loop itself) cancels and joins the current receive loop, reruns
// the handshake against a freshly resolved ensemble member, and starts a
// replacement receive loop — the heartbeat loop is never replaced.
package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"cometa/framer"
	"cometa/middleware"
)

// Callback is the user handler bound to a session. It receives a
// downstream payload and returns the bytes to frame back as the response,
// or nil for an empty-body response. It executes on the receive loop
// goroutine, with no lock held, and must return promptly: no further
// frames are read while it runs. It must not call back into the same
// session (Send included).
type Callback func(payload []byte) []byte

// Session is the device's one live connection to the relay, plus the
// state the two loops and the send path share.
type Session struct {
	connector Connector
	deviceID  string

	// mu is the single mutual-exclusion lock the session requires. It
	// is a sync.RWMutex used exclusively via Lock/Unlock (never RLock) —
	// see SPEC_FULL.md §4.5 for why a reader/writer lock holds a purely
	// exclusive job. It covers the entire framed-write sequence for
	// every writer (Send, the receive loop's response write, the
	// heartbeat write) and the conn/reader swap a reconnect performs.
	mu     sync.RWMutex
	conn   net.Conn
	reader *bufio.Reader

	heartbeatPeriod   atomic.Int64  // nanoseconds; set by Open/reconnect
	heartbeatOverride time.Duration // nonzero pins the period, ignoring negotiation

	callbackMu sync.Mutex
	callback   Callback

	middlewares   []middleware.Middleware
	dispatchChain middleware.HandlerFunc

	disconnected atomic.Bool
	lastErr      atomic.Int32

	// loopMu guards the receive-loop handles, which the heartbeat
	// goroutine swaps on reconnect while Close may be reading them.
	loopMu     sync.Mutex
	recvCancel context.CancelFunc
	recvDone   chan struct{}

	heartbeatStop chan struct{}
	heartbeatDone chan struct{}

	closeOnce sync.Once
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithMiddleware appends to the chain wrapping every dispatched inbound
// message before it reaches the bound callback.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(s *Session) {
		s.middlewares = append(s.middlewares, mw...)
	}
}

// WithHeartbeatPeriod pins the heartbeat period to d, overriding whatever
// the relay negotiates on each handshake.
func WithHeartbeatPeriod(d time.Duration) Option {
	return func(s *Session) {
		s.heartbeatOverride = d
	}
}

// New builds a Session that has not yet connected. Call Open to run the
// handshake and start the loops.
func New(connector Connector, deviceID string, opts ...Option) *Session {
	s := &Session{
		connector: connector,
		deviceID:  deviceID,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dispatchChain = middleware.Chain(s.middlewares...)(s.terminalHandler())
	s.heartbeatPeriod.Store(int64(60 * time.Second))
	return s
}

// Open runs the handshake, then starts the heartbeat loop (for the
// session's lifetime) and the first receive loop.
func (s *Session) Open(ctx context.Context) error {
	result, err := s.connector.Connect(ctx)
	if err != nil {
		s.lastErr.Store(int32(classify(err)))
		return err
	}

	s.conn = result.Conn
	s.reader = result.Reader
	s.storeHeartbeatPeriod(result.HeartbeatPeriod)
	s.lastErr.Store(int32(OK))

	s.startRecvLoop()

	s.heartbeatStop = make(chan struct{})
	s.heartbeatDone = make(chan struct{})
	go s.heartbeatLoop()

	return nil
}

// BindCallback stores the callback pointer on the session. The swap is
// guarded by callbackMu, so it may race a running dispatch safely; a
// frame dispatched before the swap goes to the previous callback, or,
// with none bound, is answered with an empty-body response.
func (s *Session) BindCallback(cb Callback) {
	s.callbackMu.Lock()
	s.callback = cb
	s.callbackMu.Unlock()
}

func (s *Session) getCallback() Callback {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	return s.callback
}

// LastError returns the session's last reply code.
func (s *Session) LastError() Code {
	return Code(s.lastErr.Load())
}

// Send acquires the lock and writes the upstream-framed message (length
// line + 0x07 marker + payload + CRLF) as a single Write call of the
// fully assembled frame: the lock guarantees bytes of distinct frames
// never interleave on the wire, the single write keeps syscalls down.
func (s *Session) Send(payload []byte) error {
	frame := framer.EncodeUpstream(payload)

	s.mu.Lock()
	conn := s.conn
	_, err := conn.Write(frame)
	s.mu.Unlock()

	if err != nil {
		s.disconnected.Store(true)
		return fmt.Errorf("session: send: %w", err)
	}
	return nil
}

// WriteResponse writes a response chunk back to the relay in answer to a
// relay-initiated request (no upstream marker). A nil or empty payload
// writes an empty-body chunk.
func (s *Session) WriteResponse(payload []byte) error {
	frame := framer.EncodeResponse(payload)

	s.mu.Lock()
	conn := s.conn
	_, err := conn.Write(frame)
	s.mu.Unlock()

	if err != nil {
		s.disconnected.Store(true)
		return fmt.Errorf("session: write response: %w", err)
	}
	return nil
}

// Close cancels the receive loop, stops the heartbeat loop, and closes
// the transport. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.heartbeatStop != nil {
			close(s.heartbeatStop)
		}
		if s.heartbeatDone != nil {
			<-s.heartbeatDone
		}

		s.loopMu.Lock()
		cancel, done := s.recvCancel, s.recvDone
		s.loopMu.Unlock()
		if cancel != nil {
			cancel()
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}

		if done != nil {
			<-done
		}
	})
	return err
}

func (s *Session) currentHeartbeatPeriod() time.Duration {
	return time.Duration(s.heartbeatPeriod.Load())
}

func (s *Session) storeHeartbeatPeriod(negotiated time.Duration) {
	if s.heartbeatOverride > 0 {
		negotiated = s.heartbeatOverride
	}
	s.heartbeatPeriod.Store(int64(negotiated))
}

// terminalHandler adapts the bound user callback into the middleware
// chain's HandlerFunc shape, so logging/rate-limit/timeout-warn wrap the
// callback invocation without the receive loop knowing about them.
func (s *Session) terminalHandler() middleware.HandlerFunc {
	return func(ctx context.Context, req *middleware.DispatchContext) *middleware.DispatchResult {
		cb := s.getCallback()
		if cb == nil {
			return &middleware.DispatchResult{}
		}
		return &middleware.DispatchResult{Response: cb(req.Payload)}
	}
}

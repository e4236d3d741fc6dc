package session

import (
	"bufio"
	"context"
	"errors"
	"log"
	"time"

	"cometa/framer"
	"cometa/middleware"
)

// startRecvLoop launches a new receive-loop generation bound to the
// session's current reader. Each generation gets its own cancellable
// context; reconnection cancels and joins the old one before this is
// called again for the replacement.
func (s *Session) startRecvLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.loopMu.Lock()
	s.recvCancel = cancel
	s.recvDone = done
	s.loopMu.Unlock()
	reader := s.reader
	go s.recvLoop(ctx, reader, done)
}

// recvLoop implements the receive state machine: READ_LEN_LINE →
// READ_BODY → READ_TRAILING_LF → DISPATCH → WRITE_RESPONSE →
// READ_LEN_LINE. framer.ReadFrame folds the first three states into one
// call; oversized frames are logged and skipped without tearing the
// connection down; any other read error sets the disconnect flag and
// pauses a second to let the heartbeat trigger reconnection — this loop
// never reconnects itself.
func (s *Session) recvLoop(ctx context.Context, reader *bufio.Reader, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := framer.ReadFrame(reader)
		if err != nil {
			if errors.Is(err, framer.ErrOversized) {
				log.Printf("session: %v", err)
				continue
			}
			s.disconnected.Store(true)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		s.dispatch(ctx, payload)
	}
}

// dispatch invokes the bound callback (if any) through the configured
// middleware chain and writes the response chunk it returns.
func (s *Session) dispatch(ctx context.Context, payload []byte) {
	dctx := &middleware.DispatchContext{DeviceID: s.deviceID, Payload: payload}
	result := s.dispatchChain(ctx, dctx)

	var response []byte
	if result != nil {
		if result.Err != nil {
			log.Printf("session: dispatch error for device %s: %v", s.deviceID, result.Err)
		}
		response = result.Response
	}

	if err := s.WriteResponse(response); err != nil {
		log.Printf("session: writing response for device %s: %v", s.deviceID, err)
	}
}

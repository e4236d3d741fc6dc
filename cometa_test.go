package cometa

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"cometa/ensemble"
	"cometa/framer"
)

type fixedSource struct{ addr string }

func (s fixedSource) Discover(ctx context.Context) ([]ensemble.RelayInstance, error) {
	return []ensemble.RelayInstance{{Addr: s.addr}}, nil
}
func (s fixedSource) Watch(ctx context.Context) <-chan []ensemble.RelayInstance { return nil }

func httpOK(body string) string {
	return fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
}

// relayChunk frames body the way the relay does: a standard chunk whose
// hex length covers the payload only.
func relayChunk(body string) []byte {
	return []byte(fmt.Sprintf("%x\r\n%s\r\n", len(body), body))
}

// startMockRelay accepts one connection, completes a one-way handshake,
// then hands the live connection to onConn.
func startMockRelay(t *testing.T, onConn func(conn net.Conn, reader *bufio.Reader)) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		reader := bufio.NewReader(conn)
		if _, err := http.ReadRequest(reader); err != nil {
			conn.Close()
			return
		}
		conn.Write([]byte(httpOK("")))
		conn.Write(relayChunk(`{"status":"200","heartbeat":"60"}`))
		onConn(conn, reader)
	}()
	t.Cleanup(func() { l.Close() })
	return l.Addr().String()
}

func resetIdentity() {
	identityMu.Lock()
	identity = nil
	identityMu.Unlock()
}

func TestInitRejectsOversizedDeviceID(t *testing.T) {
	defer resetIdentity()
	oversized := make([]byte, MaxDeviceIDLen+1)
	for i := range oversized {
		oversized[i] = 'a'
	}
	if got := Init(string(oversized), "key", "linux"); got != ParamError {
		t.Fatalf("Init() = %v, want ParamError", got)
	}
}

func TestInitRejectsMissingFields(t *testing.T) {
	defer resetIdentity()
	if got := Init("", "key", "linux"); got != ParamError {
		t.Fatalf("Init() = %v, want ParamError", got)
	}
	if got := Init("dev1", "", "linux"); got != ParamError {
		t.Fatalf("Init() = %v, want ParamError", got)
	}
}

func TestInitAcceptsValidIdentity(t *testing.T) {
	defer resetIdentity()
	if got := Init("dev1", "key1", "linux_client"); got != OK {
		t.Fatalf("Init() = %v, want OK", got)
	}
}

func TestSubscribeFailsWithoutInit(t *testing.T) {
	resetIdentity()
	handle, err := Subscribe("myapp", "appkey", "", "", "")
	if err == nil {
		t.Fatal("expected an error when Subscribe is called before Init")
	}
	if got := LastError(handle); got != ParamError {
		t.Fatalf("LastError() = %v, want ParamError", got)
	}
}

func TestSubscribeSendBindCallbackAndClose(t *testing.T) {
	defer resetIdentity()
	if got := Init("dev1", "key1", "linux_client"); got != OK {
		t.Fatalf("Init() = %v, want OK", got)
	}

	responses := make(chan string, 1)
	upstream := make(chan []byte, 1)
	addr := startMockRelay(t, func(conn net.Conn, reader *bufio.Reader) {
		defer conn.Close()

		// Wait for the device's first upstream message before sending
		// anything downstream, so the callback is bound by the time the
		// downstream frame arrives.
		frame, err := framer.ReadFrame(reader)
		if err != nil {
			return
		}
		upstream <- frame

		conn.Write(relayChunk("Hello"))

		reply, err := framer.ReadReplyFrame(reader)
		if err != nil {
			return
		}
		responses <- string(reply)
	})

	handle, err := Subscribe("myapp", "appkey", "", "", "",
		WithTLS(false),
		WithSource(fixedSource{addr: addr}),
		WithSelector(&ensemble.RoundRobinSelector{}),
	)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer Close(handle)

	if got := LastError(handle); got != OK {
		t.Fatalf("LastError() after Subscribe = %v, want OK", got)
	}

	received := make(chan string, 1)
	if got := BindCallback(handle, func(payload []byte) []byte {
		received <- string(payload)
		return []byte("Pong!")
	}); got != OK {
		t.Fatalf("BindCallback() = %v, want OK", got)
	}

	if got := Send(handle, []byte("status-ok")); got != OK {
		t.Fatalf("Send() = %v, want OK", got)
	}

	select {
	case frame := <-upstream:
		if len(frame) == 0 || frame[0] != framer.UpstreamMarker {
			t.Fatalf("upstream frame missing marker: %v", frame)
		}
		if string(frame[1:]) != "status-ok" {
			t.Fatalf("upstream payload = %q, want %q", frame[1:], "status-ok")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for upstream frame")
	}

	select {
	case payload := <-received:
		if payload != "Hello" {
			t.Fatalf("callback payload = %q, want %q", payload, "Hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback was never invoked")
	}

	select {
	case reply := <-responses:
		if reply != "Pong!" {
			t.Fatalf("relay received response %q, want %q", reply, "Pong!")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response frame")
	}
}

func TestSendRejectsOversizedPayload(t *testing.T) {
	defer resetIdentity()
	Init("dev1", "key1", "linux_client")

	addr := startMockRelay(t, func(conn net.Conn, reader *bufio.Reader) {
		defer conn.Close()
		time.Sleep(2 * time.Second)
	})

	handle, err := Subscribe("myapp", "appkey", "", "", "",
		WithTLS(false),
		WithSource(fixedSource{addr: addr}),
		WithSelector(&ensemble.RoundRobinSelector{}),
	)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer Close(handle)

	tooLarge := make([]byte, MaxSendSize+1)
	if got := Send(handle, tooLarge); got != ParamError {
		t.Fatalf("Send(oversized) = %v, want ParamError", got)
	}

	justRight := make([]byte, MaxSendSize)
	if got := Send(handle, justRight); got != OK {
		t.Fatalf("Send(MaxSendSize) = %v, want OK", got)
	}
}

func TestLastErrorOnNilHandle(t *testing.T) {
	if got := LastError(nil); got != Error {
		t.Fatalf("LastError(nil) = %v, want Error", got)
	}
}

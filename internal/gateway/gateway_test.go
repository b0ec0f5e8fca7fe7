package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/gabbar/chat-engine/internal/engine"
	"github.com/gabbar/chat-engine/internal/transport"
)

// pipeConn wraps one end of a net.Pipe as a gateway Conn and returns
// the client end for reading server frames.
func pipeConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	c := &Conn{Conn: server, CreatedAt: time.Now()}
	c.Touch()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return c, client
}

type frameResult struct {
	data []byte
	err  error
}

// readFrame reads one server text frame from the client end in the
// background; net.Pipe writes block until the peer reads.
func readFrame(client net.Conn) chan frameResult {
	done := make(chan frameResult, 1)
	go func() {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		data, err := wsutil.ReadServerText(client)
		done <- frameResult{data: data, err: err}
	}()
	return done
}

// awaitJSON decodes the frame read by readFrame into a generic map.
func awaitJSON(t *testing.T, done chan frameResult) map[string]interface{} {
	t.Helper()
	res := <-done
	if res.err != nil {
		t.Fatalf("read server frame: %v", res.err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(res.data, &m); err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return m
}

func newTestServer(t *testing.T) (*Server, *Registry) {
	t.Helper()
	reg := NewRegistry()
	tr := NewTransport(reg, nil)
	eng := engine.New(engine.Config{Transport: tr})
	return NewServer(DefaultConfig(), eng, reg, nil, nil), reg
}

func TestRegistryBindReplacesPrevious(t *testing.T) {
	reg := NewRegistry()
	first, _ := pipeConn(t)
	second, _ := pipeConn(t)

	if prev := reg.Bind(7, first); prev != nil {
		t.Fatalf("first bind returned previous conn %v", prev)
	}
	prev := reg.Bind(7, second)
	if prev != first {
		t.Fatalf("second bind: got prev %v, want first conn", prev)
	}
	if reg.Get(7) != second {
		t.Fatal("registry does not hold the latest connection")
	}

	// Removing the evicted connection must not unregister the new one.
	if reg.Remove(first) {
		t.Fatal("stale connection removal reported success")
	}
	if reg.Get(7) != second {
		t.Fatal("stale removal dropped the current connection")
	}
	if !reg.Remove(second) {
		t.Fatal("current connection removal failed")
	}
	if reg.Count() != 0 {
		t.Fatalf("count = %d after removal, want 0", reg.Count())
	}
}

func TestTransportDeliverLocal(t *testing.T) {
	reg := NewRegistry()
	c, client := pipeConn(t)
	reg.Bind(42, c)
	tr := NewTransport(reg, nil)

	done := readFrame(client)

	err := tr.Deliver(context.Background(), 42, transport.Payload{
		Kind: transport.KindText,
		Text: "hello there",
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	got := awaitJSON(t, done)
	if got["type"] != "partner_message" || got["kind"] != "text" || got["text"] != "hello there" {
		t.Fatalf("unexpected frame: %v", got)
	}
}

func TestTransportDeliverNoticeFrame(t *testing.T) {
	reg := NewRegistry()
	c, client := pipeConn(t)
	reg.Bind(42, c)
	tr := NewTransport(reg, nil)

	done := readFrame(client)

	if err := tr.Deliver(context.Background(), 42, transport.Notice("partner left")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	got := awaitJSON(t, done)
	if got["type"] != "notice" || got["text"] != "partner left" {
		t.Fatalf("unexpected frame: %v", got)
	}
}

func TestTransportDeliverUnconnected(t *testing.T) {
	tr := NewTransport(NewRegistry(), nil)

	err := tr.Deliver(context.Background(), 99, transport.Notice("anyone home"))
	var de *transport.DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("Deliver error = %v, want DeliveryError", err)
	}
	if de.UserID != 99 || !errors.Is(err, ErrNotConnected) {
		t.Fatalf("DeliveryError = %v, want user 99 not connected", de)
	}
}

func TestHandleMessageRequiresHello(t *testing.T) {
	s, _ := newTestServer(t)
	c, client := pipeConn(t)

	done := readFrame(client)

	s.handleMessage(context.Background(), c, []byte(`{"type":"start"}`))

	got := awaitJSON(t, done)
	if got["type"] != "error" || got["code"] != "not_bound" {
		t.Fatalf("unexpected frame: %v", got)
	}
}

func TestHandleMessageHelloThenStartPromptsGender(t *testing.T) {
	s, reg := newTestServer(t)
	c, client := pipeConn(t)

	s.handleMessage(context.Background(), c, []byte(`{"type":"hello","user_id":5}`))
	if reg.Get(5) != c {
		t.Fatal("hello did not bind the connection")
	}

	done := readFrame(client)

	s.handleMessage(context.Background(), c, []byte(`{"type":"start"}`))

	got := awaitJSON(t, done)
	if got["type"] != "prompt" || got["field"] != "gender" {
		t.Fatalf("unexpected frame: %v", got)
	}
}

func TestHandleMessageRejectsBadRelayKind(t *testing.T) {
	s, _ := newTestServer(t)
	c, client := pipeConn(t)
	s.handleMessage(context.Background(), c, []byte(`{"type":"hello","user_id":5}`))

	done := readFrame(client)

	s.handleMessage(context.Background(), c, []byte(`{"type":"message","kind":"notice","text":"spoof"}`))

	got := awaitJSON(t, done)
	if got["type"] != "error" || got["code"] != "bad_kind" {
		t.Fatalf("unexpected frame: %v", got)
	}
}

func TestHandleMessagePing(t *testing.T) {
	s, _ := newTestServer(t)
	c, client := pipeConn(t)

	done := readFrame(client)

	s.handleMessage(context.Background(), c, []byte(`{"type":"ping"}`))

	if got := awaitJSON(t, done); got["type"] != "pong" {
		t.Fatalf("unexpected frame: %v", got)
	}
}

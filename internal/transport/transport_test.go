package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/nyx/internal/protocol"
)

func newFakeServer(t *testing.T) (*httptest.Server, chan *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade error: %v", err)
			return
		}
		connCh <- conn
	}))
	return server, connCh
}

func TestConnectPerformsHelloHandshake(t *testing.T) {
	server, connCh := newFakeServer(t)
	defer server.Close()

	go func() {
		conn := <-connCh
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !strings.Contains(string(data), `"type":"hello"`) {
			t.Errorf("expected client hello, got %s", data)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello","transport":"websocket","session_id":"s-123"}`))
	}()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	sess := NewWebSocketSession()
	defer sess.Close()

	sessionID, err := sess.Connect(context.Background(), Endpoint{URL: wsURL, DeviceID: "d1", ClientID: "c1"}, protocol.AudioParams{
		Format: "opus", SampleRate: 16000, Channels: 1, FrameDurationMS: 60,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if sessionID != "s-123" {
		t.Fatalf("sessionID = %q, want s-123", sessionID)
	}
}

func TestConnectTimesOutWithoutServerHello(t *testing.T) {
	server, connCh := newFakeServer(t)
	defer server.Close()
	go func() { <-connCh }() // accept but never reply

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	sess := NewWebSocketSession()
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := sess.Connect(ctx, Endpoint{URL: wsURL, DeviceID: "d1", ClientID: "c1"}, protocol.AudioParams{SampleRate: 16000})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestInboundAndAudioDeliveredAfterHandshake(t *testing.T) {
	server, connCh := newFakeServer(t)
	defer server.Close()

	go func() {
		conn := <-connCh
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello","transport":"websocket","session_id":"s-1"}`))
		time.Sleep(20 * time.Millisecond)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stt","text":"hello there"}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
	}()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	sess := NewWebSocketSession()
	defer sess.Close()

	_, err := sess.Connect(context.Background(), Endpoint{URL: wsURL, DeviceID: "d1", ClientID: "c1"}, protocol.AudioParams{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case in := <-sess.Inbound():
		stt, ok := in.Message.(protocol.STTMessage)
		if !ok || stt.Text != "hello there" {
			t.Fatalf("unexpected inbound message: %+v", in.Message)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for inbound message")
	}

	select {
	case frame := <-sess.Audio():
		if len(frame) != 3 {
			t.Fatalf("unexpected audio frame len %d", len(frame))
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for audio frame")
	}
}

func TestMQTTSessionIsDocumentedStub(t *testing.T) {
	s := NewMQTTSession()
	_, err := s.Connect(context.Background(), Endpoint{}, protocol.AudioParams{})
	if err != ErrUnsupportedTransport {
		t.Fatalf("error = %v, want ErrUnsupportedTransport", err)
	}
}

// Package transport implements the single logical channel spec §4.4
// describes: JSON control frames and binary audio frames over one
// persistent client-initiated connection. Grounded on the
// other_examples xiaozhi-go reference client's dial/handshake sequence
// for the client-side direction, and on the teacher's
// internal/httpapi/server.go reader/writer-goroutine plumbing (here
// inverted from server Upgrade to client Dial).
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/nyx/internal/protocol"
)

// ErrNetworkError is the sentinel for any transport I/O failure (spec
// §7's "Transport" error kind).
var ErrNetworkError = errors.New("transport: network error")

// ErrUnsupportedTransport is returned by transport variants that do
// not yet implement Connect, per the explicit decision in DESIGN.md
// for spec §9's open question (a): WebSocket is authoritative, MQTT is
// a documented stub pending clarified wire semantics.
var ErrUnsupportedTransport = errors.New("transport: unsupported transport variant")

const helloTimeout = 10 * time.Second

// Endpoint bundles what a session needs to dial out.
type Endpoint struct {
	URL         string
	AccessToken string
	DeviceID    string
	ClientID    string
}

// Inbound is delivered for every parsed JSON control frame.
type Inbound struct {
	Message any // one of protocol.ServerHello/TTSMessage/STTMessage/LLMMessage/IoTCommands
}

// Session is the transport contract the orchestrator depends on. A
// single implementation (WebSocket) is authoritative; MQTTSession
// satisfies the same interface as a documented stub.
type Session interface {
	// Connect dials out, performs the hello handshake, and returns once
	// audio_channel_opened can be signaled (session_id assigned).
	Connect(ctx context.Context, ep Endpoint, audio protocol.AudioParams) (sessionID string, err error)
	SendJSON(v any) error
	SendAudio(frame []byte) error
	// Inbound delivers parsed JSON messages; Audio delivers binary audio
	// frames. Both close when the connection closes.
	Inbound() <-chan Inbound
	Audio() <-chan []byte
	// Closed delivers exactly one network-error reason when the
	// connection drops for any reason other than an explicit Close.
	Closed() <-chan error
	Close() error
}

// WebSocketSession is the authoritative client-side implementation of
// Session.
type WebSocketSession struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	closing   bool

	inbound chan Inbound
	audio   chan []byte
	closed  chan error

	writeMu sync.Mutex
}

// NewWebSocketSession constructs an unconnected session.
func NewWebSocketSession() *WebSocketSession {
	return &WebSocketSession{
		inbound: make(chan Inbound, 64),
		audio:   make(chan []byte, 64),
		closed:  make(chan error, 1),
	}
}

// Connect implements spec §4.4's bring-up sequence.
func (s *WebSocketSession) Connect(ctx context.Context, ep Endpoint, audio protocol.AudioParams) (string, error) {
	u, err := url.Parse(ep.URL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid url: %v", ErrNetworkError, err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+ep.AccessToken)
	header.Set("Protocol-Version", "1")
	header.Set("Device-Id", ep.DeviceID)
	header.Set("Client-Id", ep.ClientID)

	dialCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), header)
	if err != nil {
		return "", fmt.Errorf("%w: dial: %v", ErrNetworkError, err)
	}
	s.conn = conn

	hello := protocol.Hello{
		Type:        protocol.TypeHello,
		Version:     1,
		Transport:   "websocket",
		AudioParams: audio,
	}
	if err := s.writeJSON(hello); err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("%w: send hello: %v", ErrNetworkError, err)
	}

	sessionID, err := s.awaitServerHello(dialCtx)
	if err != nil {
		_ = conn.Close()
		return "", err
	}
	s.sessionID = sessionID

	go s.readLoop()

	return sessionID, nil
}

func (s *WebSocketSession) awaitServerHello(ctx context.Context) (string, error) {
	type result struct {
		id  string
		err error
	}
	resCh := make(chan result, 1)

	go func() {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			resCh <- result{err: fmt.Errorf("%w: read hello: %v", ErrNetworkError, err)}
			return
		}
		msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			resCh <- result{err: fmt.Errorf("%w: parse hello: %v", ErrNetworkError, err)}
			return
		}
		hello, ok := msg.(protocol.ServerHello)
		if !ok || hello.Transport != "websocket" {
			resCh <- result{err: fmt.Errorf("%w: unexpected first message", ErrNetworkError)}
			return
		}
		resCh <- result{id: hello.SessionID}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: hello timeout", ErrNetworkError)
	case res := <-resCh:
		return res.id, res.err
	}
}

func (s *WebSocketSession) readLoop() {
	defer close(s.inbound)
	defer close(s.audio)

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if !closing {
				s.signalClosed(fmt.Errorf("%w: %v", ErrNetworkError, err))
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.audio <- data
		case websocket.TextMessage:
			msg, err := protocol.ParseServerMessage(data)
			if err != nil {
				// Malformed or unsupported frame: discarded here, so the
				// orchestrator only ever receives frames that parse.
				continue
			}
			s.inbound <- Inbound{Message: msg}
		}
	}
}

func (s *WebSocketSession) signalClosed(err error) {
	select {
	case s.closed <- err:
	default:
	}
}

func (s *WebSocketSession) SendJSON(v any) error {
	if err := s.writeJSON(v); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	return nil
}

func (s *WebSocketSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *WebSocketSession) SendAudio(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	return nil
}

func (s *WebSocketSession) Inbound() <-chan Inbound { return s.inbound }
func (s *WebSocketSession) Audio() <-chan []byte    { return s.audio }
func (s *WebSocketSession) Closed() <-chan error    { return s.closed }

func (s *WebSocketSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// MQTTSession is the documented stub for spec §9's open question (a):
// the same Session interface, returning ErrUnsupportedTransport from
// Connect until the MQTT+UDP-like wire semantics are clarified.
type MQTTSession struct{}

func NewMQTTSession() *MQTTSession { return &MQTTSession{} }

func (s *MQTTSession) Connect(context.Context, Endpoint, protocol.AudioParams) (string, error) {
	return "", ErrUnsupportedTransport
}
func (s *MQTTSession) SendJSON(any) error      { return ErrUnsupportedTransport }
func (s *MQTTSession) SendAudio([]byte) error  { return ErrUnsupportedTransport }
func (s *MQTTSession) Inbound() <-chan Inbound { return nil }
func (s *MQTTSession) Audio() <-chan []byte    { return nil }
func (s *MQTTSession) Closed() <-chan error    { return nil }
func (s *MQTTSession) Close() error            { return nil }

// Package protocol defines the wire schema spec §4.1/§4.4/§6 describes:
// typed hello/listen/abort/iot/tts/stt/llm JSON messages, discriminated
// by a "type" field, plus a switch-based parser. Grounded on the
// teacher's internal/protocol/messages.go (MessageType constants +
// ParseClientMessage shape), cross-checked against the xiaozhi-go
// reference client's message handling.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies the "type" discriminator of a JSON control
// frame.
type MessageType string

const (
	TypeHello  MessageType = "hello"
	TypeListen MessageType = "listen"
	TypeAbort  MessageType = "abort"
	TypeIoT    MessageType = "iot"
	TypeTTS    MessageType = "tts"
	TypeSTT    MessageType = "stt"
	TypeLLM    MessageType = "llm"
)

// ErrUnsupportedType is returned for frames whose "type" is not
// recognized. Callers should log at warning and discard, per spec §7.
var ErrUnsupportedType = errors.New("protocol: unsupported message type")

// ErrMalformed wraps any structurally invalid message for a known type.
var ErrMalformed = errors.New("protocol: malformed message")

// AudioParams describes the capture stream's encoding, sent in the
// client hello per spec §4.4.
type AudioParams struct {
	Format          string `json:"format"`
	SampleRate      int    `json:"sample_rate"`
	Channels        int    `json:"channels"`
	FrameDurationMS int    `json:"frame_duration"`
}

// Hello is the outbound client hello.
type Hello struct {
	Type        MessageType `json:"type"`
	Version     int         `json:"version"`
	Transport   string      `json:"transport"`
	AudioParams AudioParams `json:"audio_params"`
}

// ServerHello is the inbound server acknowledgement assigning a
// session_id.
type ServerHello struct {
	Type      MessageType `json:"type"`
	Transport string      `json:"transport"`
	SessionID string      `json:"session_id"`
}

// Listen is the outbound listen-state control message.
type Listen struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	State     string      `json:"state"` // "start" | "stop" | "detect"
	Mode      string      `json:"mode,omitempty"`
	Text      string      `json:"text,omitempty"`
}

// Abort is the outbound abort control message.
type Abort struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// IoTDescriptors is the outbound one-per-session descriptor dump.
type IoTDescriptors struct {
	Type        MessageType       `json:"type"`
	SessionID   string            `json:"session_id,omitempty"`
	Descriptors []json.RawMessage `json:"descriptors"`
}

// IoTStates is the outbound (possibly delta) state report.
type IoTStates struct {
	Type      MessageType       `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	States    []json.RawMessage `json:"states"`
}

// IoTCommand is a single inbound device-invocation request.
type IoTCommand struct {
	Name       string         `json:"name"`
	Method     string         `json:"method"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// IoTCommands is the inbound batch of invocation requests.
type IoTCommands struct {
	Type      MessageType  `json:"type"`
	SessionID string       `json:"session_id,omitempty"`
	Commands  []IoTCommand `json:"commands"`
}

// TTSMessage is an inbound tts.* event.
type TTSMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	State     string      `json:"state"` // "start" | "sentence_start" | "stop"
	Text      string      `json:"text,omitempty"`
}

// STTMessage is an inbound stt.text event.
type STTMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Text      string      `json:"text"`
}

// LLMMessage is an inbound llm.emotion event.
type LLMMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Emotion   string      `json:"emotion"`
}

type inboundEnvelope struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Transport string          `json:"transport"`
	State     string          `json:"state"`
	Text      string          `json:"text"`
	Emotion   string          `json:"emotion"`
	Commands  []IoTCommand    `json:"commands"`
	Raw       json.RawMessage `json:"-"`
}

// ParseServerMessage parses an inbound JSON control frame into one of
// ServerHello, TTSMessage, STTMessage, LLMMessage, or IoTCommands,
// dispatched by the "type" discriminator (spec §4.1 "Incoming JSON
// dispatch").
func ParseServerMessage(raw []byte) (any, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid envelope: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeHello:
		if env.SessionID == "" {
			return nil, fmt.Errorf("%w: hello missing session_id", ErrMalformed)
		}
		return ServerHello{Type: TypeHello, Transport: env.Transport, SessionID: env.SessionID}, nil
	case TypeTTS:
		if env.State == "" {
			return nil, fmt.Errorf("%w: tts missing state", ErrMalformed)
		}
		return TTSMessage{Type: TypeTTS, SessionID: env.SessionID, State: env.State, Text: env.Text}, nil
	case TypeSTT:
		return STTMessage{Type: TypeSTT, SessionID: env.SessionID, Text: env.Text}, nil
	case TypeLLM:
		return LLMMessage{Type: TypeLLM, SessionID: env.SessionID, Emotion: env.Emotion}, nil
	case TypeIoT:
		return IoTCommands{Type: TypeIoT, SessionID: env.SessionID, Commands: env.Commands}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

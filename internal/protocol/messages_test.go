package protocol

import (
	"errors"
	"testing"
)

func TestParseServerMessageHello(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"type":"hello","transport":"websocket","session_id":"s-1"}`))
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	hello, ok := msg.(ServerHello)
	if !ok {
		t.Fatalf("expected ServerHello, got %T", msg)
	}
	if hello.SessionID != "s-1" {
		t.Fatalf("SessionID = %q, want s-1", hello.SessionID)
	}
}

func TestParseServerMessageHelloMissingSessionID(t *testing.T) {
	_, err := ParseServerMessage([]byte(`{"type":"hello","transport":"websocket"}`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}
}

func TestParseServerMessageTTS(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"type":"tts","state":"sentence_start","text":"your code is 1 2 3 4 5 6"}`))
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	tts, ok := msg.(TTSMessage)
	if !ok {
		t.Fatalf("expected TTSMessage, got %T", msg)
	}
	if tts.State != "sentence_start" || tts.Text == "" {
		t.Fatalf("unexpected TTSMessage: %+v", tts)
	}
}

func TestParseServerMessageIoTCommands(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"type":"iot","commands":[{"name":"Lamp","method":"TurnOn"}]}`))
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	cmds, ok := msg.(IoTCommands)
	if !ok {
		t.Fatalf("expected IoTCommands, got %T", msg)
	}
	if len(cmds.Commands) != 1 || cmds.Commands[0].Name != "Lamp" {
		t.Fatalf("unexpected commands: %+v", cmds.Commands)
	}
}

func TestParseServerMessageUnsupportedType(t *testing.T) {
	_, err := ParseServerMessage([]byte(`{"type":"bogus"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseServerMessageInvalidJSON(t *testing.T) {
	_, err := ParseServerMessage([]byte(`not json`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}
}

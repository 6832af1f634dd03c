// Package orchestrator implements the session state machine spec
// §4.1 describes: the finite-state machine tying the transport, audio
// codec, wake detector, and thing registry together behind a single
// owned value (spec §9: "singleton -> explicit handle") driven by one
// goroutine's event loop. Grounded on the teacher's
// internal/voice/orchestrator.go RunConnection select-loop, generalized
// from many-caller server semantics to a single-device-session.
package orchestrator

import "fmt"

// DeviceState is the session's tagged-variant state, spec §3.
type DeviceState int

const (
	StateIdle DeviceState = iota
	StateConnecting
	StateListening
	StateSpeaking
)

func (s DeviceState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ListeningMode determines server-side VAD behavior, transmitted on
// the outbound listen{start} message, spec §3.
type ListeningMode int

const (
	ModeAlwaysOn ListeningMode = iota
	ModeAutoStop
	ModeManual
)

// wireMode is the "mode" field value sent on the wire for each
// ListeningMode, per spec §4.4's listen message schema.
func (m ListeningMode) wireMode() string {
	switch m {
	case ModeAlwaysOn:
		return "realtime"
	case ModeAutoStop:
		return "auto"
	case ModeManual:
		return "manual"
	default:
		return "manual"
	}
}

// AbortReason is why a Speaking turn was aborted, spec §3.
type AbortReason int

const (
	AbortNone AbortReason = iota
	AbortWakeWordDetected
	AbortUserInterruption
)

func (r AbortReason) wireReason() string {
	switch r {
	case AbortWakeWordDetected:
		return "wake_word_detected"
	case AbortUserInterruption:
		return "user_interruption"
	default:
		return ""
	}
}

// Command is the typed command enum spec §9 calls for in place of
// handing the whole orchestrator to the UI/CLI shell: "the UI and CLI
// each receive a small command interface (a channel of
// OrchestratorCommands) rather than the whole instance."
type Command struct {
	Kind         CommandKind
	AbortReason  AbortReason
	ChatRole     string
	ChatText     string
	EmotionName  string
}

// CommandKind discriminates a Command.
type CommandKind int

const (
	CommandStartListening CommandKind = iota
	CommandStopListening
	CommandToggleChatState
	CommandAbortSpeaking
	CommandSetChatMessage
	CommandSetEmotion
	CommandShutdown
)

// task is the scheduled-closure unit spec §4.1/§5 describes: "a
// mutex-guarded task queue (orchestrator <- everyone)". Every public
// operation and every collaborator callback (codec, transport, wake,
// UI) submits one of these instead of touching state directly.
type task func()

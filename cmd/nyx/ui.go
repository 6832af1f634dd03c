package main

import (
	"fmt"
	"os"

	"github.com/antoniostano/nyx/internal/orchestrator"
)

// stdioUISink is the out-of-scope GUI/CLI shell's stand-in: it writes
// status/chat/emotion updates to stdout and verification codes to
// stderr so a CLI run of this binary is observable end to end, per
// spec §1/§7's "the UI is out of scope; reach it only through a narrow
// sink interface."
type stdioUISink struct {
	mode string
}

func newStdioUISink(mode string) *stdioUISink {
	return &stdioUISink{mode: mode}
}

func (s *stdioUISink) UpdateStatus(text string) {
	fmt.Printf("[%s] status: %s\n", s.mode, text)
}

func (s *stdioUISink) Alert(title, message string) {
	fmt.Printf("[%s] alert: %s — %s\n", s.mode, title, message)
}

func (s *stdioUISink) SetChatMessage(role, text string) {
	fmt.Printf("[%s] %s: %s\n", s.mode, role, text)
}

func (s *stdioUISink) SetEmotion(name string) {
	fmt.Printf("[%s] emotion: %s\n", s.mode, name)
}

func (s *stdioUISink) ShowCode(code string) {
	fmt.Fprintf(os.Stderr, "[%s] verification code: %s\n", s.mode, code)
}

// stderrVerificationSink satisfies activation.VerificationSink during
// the one-time device-activation handshake, separate from
// stdioUISink because activation happens before an Orchestrator
// exists.
type stderrVerificationSink struct{}

func (stderrVerificationSink) ShowVerificationCode(message, code string) error {
	fmt.Fprintf(os.Stderr, "%s\nVerification code: %s\n", message, code)
	return nil
}

// speakerHandle adapts the orchestrator to things.SessionHandle so the
// Speaker example thing (internal/things/examples.go) can raise
// volume/wake events without holding a cyclic back-reference, spec §9.
// SetVolume reports the new volume to the UI sink as an emotion update
// ("volume:N"); it does not change playback gain.
type speakerHandle struct {
	orch *orchestrator.Orchestrator
}

func newSpeakerHandle(orch *orchestrator.Orchestrator) *speakerHandle {
	return &speakerHandle{orch: orch}
}

func (h *speakerHandle) SetVolume(percent int) {
	h.orch.SetEmotion(fmt.Sprintf("volume:%d", percent))
}

func (h *speakerHandle) SignalWake() {
	h.orch.StartListening()
}

// Package wake implements the wake-word detector spec §4.3 describes:
// an RMS-threshold speech state machine (grounded on
// aimuz-transy/livetranslate/vad.go) extended with a keyword-match
// stage consulted once speech is detected, since the keyword-spotting
// model itself is out of scope (spec §1).
package wake

import (
	"math"
	"strings"
	"sync"
	"sync/atomic"
)

// EventType mirrors the speech-state transitions the underlying VAD
// observes; ground truth for the shape is aimuz-transy's vad.go.
type EventType int

const (
	EventNone EventType = iota
	EventSpeechStart
	EventSpeechContinue
	EventSpeechEnd
)

// KeywordMatcher decides whether an utterance contains a configured
// wake word. The real keyword-spotting model is out of scope (spec
// §1); NewSubstringMatcher builds a substring matcher sufficient to
// drive the orchestrator's contract.
type KeywordMatcher interface {
	Match(utterance string) (wakeWord string, ok bool)
}

type substringMatcher struct {
	words []string
}

// NewSubstringMatcher builds a case-insensitive substring KeywordMatcher.
func NewSubstringMatcher(words []string) KeywordMatcher {
	lower := make([]string, len(words))
	for i, w := range words {
		lower[i] = strings.ToLower(w)
	}
	return &substringMatcher{words: lower}
}

func (m *substringMatcher) Match(utterance string) (string, bool) {
	lower := strings.ToLower(utterance)
	for _, w := range m.words {
		if strings.Contains(lower, w) {
			return w, true
		}
	}
	return "", false
}

// Detector consumes PCM frames tee'd from the capture stream and
// reports wake events. Contract per spec §4.3: start/pause/resume
// cooperative, on_detected/on_error callbacks marshaled by the caller.
type Detector struct {
	threshold float32
	matcher   KeywordMatcher

	paused atomic.Bool

	mu         sync.Mutex
	inSpeech   bool
	utterance  strings.Builder
	onDetected func(wakeWord, fullUtterance string)
	onError    func(error)
}

// New constructs a Detector. matcher may be nil to disable wake-word
// matching (frames are still consumed, no detection ever fires).
func New(threshold float32, matcher KeywordMatcher) *Detector {
	return &Detector{threshold: threshold, matcher: matcher}
}

// OnDetected registers the wake-detection callback. Per spec §4.3 this
// callback runs off the orchestrator's goroutine and must be marshaled
// by the caller (internal/orchestrator schedules it onto its task
// queue).
func (d *Detector) OnDetected(cb func(wakeWord, fullUtterance string)) {
	d.mu.Lock()
	d.onDetected = cb
	d.mu.Unlock()
}

// OnError registers the runtime-error callback.
func (d *Detector) OnError(cb func(error)) {
	d.mu.Lock()
	d.onError = cb
	d.mu.Unlock()
}

// Start reports whether the detector is ready, in the shape of spec
// §4.3's start(capture). It always returns true: the substring matcher
// has no model to load. ProcessFrame does not depend on Start having
// been called.
func (d *Detector) Start() bool {
	return true
}

// ReportError surfaces a runtime error through the registered
// on_error callback (spec §4.3).
func (d *Detector) ReportError(err error) {
	d.mu.Lock()
	cb := d.onError
	d.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// Pause discards frames until Resume is called. Cooperative, not
// preemptive: in-flight frame processing still completes.
func (d *Detector) Pause() { d.paused.Store(true) }

// Resume re-enables frame processing.
func (d *Detector) Resume() { d.paused.Store(false) }

// Paused reports the current pause state.
func (d *Detector) Paused() bool { return d.paused.Load() }

// ProcessFrame feeds one PCM16 frame (as float32 samples normalized to
// [-1, 1]) and a best-effort transcript fragment for the frame's
// speech segment. The transcript fragment is supplied by the caller's
// STT pipeline when available. A speech segment that ends with no
// transcript text fires no detection.
func (d *Detector) ProcessFrame(samples []float32, transcriptFragment string) {
	if d.Paused() {
		return
	}

	rms := calculateRMS(samples)
	isSpeech := rms > d.threshold

	d.mu.Lock()
	defer d.mu.Unlock()

	if isSpeech {
		if !d.inSpeech {
			d.inSpeech = true
			d.utterance.Reset()
		}
		if transcriptFragment != "" {
			if d.utterance.Len() > 0 {
				d.utterance.WriteByte(' ')
			}
			d.utterance.WriteString(transcriptFragment)
		}
		return
	}

	if !d.inSpeech {
		return
	}
	d.inSpeech = false

	full := d.utterance.String()
	if d.matcher == nil || full == "" {
		return
	}
	if wakeWord, ok := d.matcher.Match(full); ok && d.onDetected != nil {
		d.onDetected(wakeWord, full)
	}
}

func calculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}

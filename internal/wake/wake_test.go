package wake

import (
	"errors"
	"testing"
)

func TestSubstringMatcherIsCaseInsensitive(t *testing.T) {
	m := NewSubstringMatcher([]string{"hey assistant"})
	word, ok := m.Match("well HEY ASSISTANT how are you")
	if !ok || word != "hey assistant" {
		t.Fatalf("Match() = (%q, %v), want (\"hey assistant\", true)", word, ok)
	}
}

func TestDetectorFiresOnDetectedAfterSpeechEnds(t *testing.T) {
	d := New(0.1, NewSubstringMatcher([]string{"hey assistant"}))

	var gotWord, gotUtterance string
	fired := false
	d.OnDetected(func(wakeWord, utterance string) {
		fired = true
		gotWord = wakeWord
		gotUtterance = utterance
	})

	loud := make([]float32, 160)
	for i := range loud {
		loud[i] = 0.5
	}
	silent := make([]float32, 160)

	d.ProcessFrame(loud, "hey assistant")
	if fired {
		t.Fatalf("should not fire mid-speech")
	}
	d.ProcessFrame(silent, "")
	if !fired {
		t.Fatalf("expected detection to fire once speech ends")
	}
	if gotWord != "hey assistant" || gotUtterance != "hey assistant" {
		t.Fatalf("unexpected callback args: word=%q utterance=%q", gotWord, gotUtterance)
	}
}

func TestDetectorDiscardsFramesWhilePaused(t *testing.T) {
	d := New(0.1, NewSubstringMatcher([]string{"hey assistant"}))
	fired := false
	d.OnDetected(func(string, string) { fired = true })

	d.Pause()
	if !d.Paused() {
		t.Fatalf("expected Paused() true")
	}

	loud := make([]float32, 160)
	for i := range loud {
		loud[i] = 0.5
	}
	silent := make([]float32, 160)

	d.ProcessFrame(loud, "hey assistant")
	d.ProcessFrame(silent, "")
	if fired {
		t.Fatalf("should not process frames while paused")
	}

	d.Resume()
	d.ProcessFrame(loud, "hey assistant")
	d.ProcessFrame(silent, "")
	if !fired {
		t.Fatalf("expected detection after resume")
	}
}

func TestDetectorReportsErrorsThroughCallback(t *testing.T) {
	d := New(0.1, nil)
	var got error
	d.OnError(func(err error) { got = err })

	wantErr := errors.New("model unreachable")
	d.ReportError(wantErr)
	if got != wantErr {
		t.Fatalf("ReportError callback got %v, want %v", got, wantErr)
	}
}

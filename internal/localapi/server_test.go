package localapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/antoniostano/nyx/internal/orchestrator"
)

type fakeCommander struct {
	ready chan struct{}
	got   []orchestrator.Command
}

func (f *fakeCommander) Dispatch(cmd orchestrator.Command) { f.got = append(f.got, cmd) }
func (f *fakeCommander) Ready() <-chan struct{}             { return f.ready }

func TestHealthzReflectsReadiness(t *testing.T) {
	fc := &fakeCommander{ready: make(chan struct{})}
	srv := New(fc)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status before ready = %d, want 503", rec.Code)
	}

	close(fc.ready)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status after ready = %d, want 200", rec.Code)
	}
}

func TestCommandEndpointsDispatch(t *testing.T) {
	fc := &fakeCommander{ready: make(chan struct{})}
	srv := New(fc)

	req := httptest.NewRequest(http.MethodPost, "/v1/commands/toggle-chat-state", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(fc.got) != 1 || fc.got[0].Kind != orchestrator.CommandToggleChatState {
		t.Fatalf("dispatched commands = %+v", fc.got)
	}
}

func TestAbortEndpointMapsReason(t *testing.T) {
	fc := &fakeCommander{ready: make(chan struct{})}
	srv := New(fc)

	body := `{"reason":"wake_word_detected"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/commands/abort-speaking", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(fc.got) != 1 || fc.got[0].AbortReason != orchestrator.AbortWakeWordDetected {
		t.Fatalf("dispatched commands = %+v", fc.got)
	}
}

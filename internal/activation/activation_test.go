package activation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/antoniostano/nyx/internal/identity"
)

func TestGenerateHMACIsDeterministic(t *testing.T) {
	a := GenerateHMAC("secret-key", "abc")
	b := GenerateHMAC("secret-key", "abc")
	if a != b {
		t.Fatalf("HMAC not deterministic: %q != %q", a, b)
	}
	if GenerateHMAC("other-key", "abc") == a {
		t.Fatalf("HMAC should differ with a different key")
	}
}

type recordingSink struct {
	code string
}

func (r *recordingSink) ShowVerificationCode(message, code string) error {
	r.code = code
	return nil
}

func TestProcessSucceedsAfterOnePending(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "identity.json")
	store, id, err := identity.Open(path)
	if err != nil {
		t.Fatalf("identity.Open() error = %v", err)
	}

	a := New(store, server.Client(), "device-1", "client-1")
	a.maxAttempts = 3
	a.interval = 0

	sink := &recordingSink{}
	err = a.Process(context.Background(), server.URL, &id, Challenge{
		Challenge:    "chal-1",
		Code:         "123456",
		SerialNumber: "SN-1",
		HMACKey:      "key-1",
	}, sink)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !id.Activated {
		t.Fatalf("expected identity to be marked activated")
	}
	if sink.code != "123456" {
		t.Fatalf("sink.code = %q, want 123456", sink.code)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 HTTP calls (202 then 200), got %d", calls)
	}
}

func TestProcessFailsWithoutSerialNumber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	store, id, err := identity.Open(path)
	if err != nil {
		t.Fatalf("identity.Open() error = %v", err)
	}

	a := New(store, nil, "device-1", "client-1")
	err = a.Process(context.Background(), "http://example.invalid/", &id, Challenge{
		Challenge: "chal-1",
		Code:      "123456",
	}, nil)
	if err == nil {
		t.Fatalf("expected error when no serial number is available")
	}
}

func TestProcessExhaustsRetryBudget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "identity.json")
	store, id, err := identity.Open(path)
	if err != nil {
		t.Fatalf("identity.Open() error = %v", err)
	}

	a := New(store, server.Client(), "device-1", "client-1")
	a.maxAttempts = 2
	a.interval = 0

	err = a.Process(context.Background(), server.URL, &id, Challenge{
		Challenge:    "chal-1",
		Code:         "123456",
		SerialNumber: "SN-1",
		HMACKey:      "key-1",
	}, nil)
	if err == nil {
		t.Fatalf("expected ErrDenied after exhausting retry budget")
	}
}

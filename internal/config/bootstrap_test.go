package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchBootstrapParsesActivationChallenge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"websocket": {"url": "wss://example.com/ws", "token": "tok-1"},
			"activation": {"challenge": "abc", "code": "123456", "message": "Enter the code"}
		}`))
	}))
	defer server.Close()

	resp, err := FetchBootstrap(context.Background(), nil, server.URL, "dev-1", "client-1", DeviceFingerprint{})
	if err != nil {
		t.Fatalf("FetchBootstrap() error = %v", err)
	}
	if resp.Websocket == nil || resp.Websocket.URL != "wss://example.com/ws" {
		t.Fatalf("websocket = %+v", resp.Websocket)
	}
	if resp.Activation == nil || resp.Activation.Code != "123456" {
		t.Fatalf("activation = %+v", resp.Activation)
	}

	cfg := defaults()
	ApplyBootstrap(&cfg, resp)
	if cfg.SystemOptions.Network.WebsocketURL != "wss://example.com/ws" {
		t.Fatalf("WebsocketURL = %q after ApplyBootstrap", cfg.SystemOptions.Network.WebsocketURL)
	}
}

func TestFetchBootstrapRejectsNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := FetchBootstrap(context.Background(), nil, server.URL, "dev-1", "client-1", DeviceFingerprint{}); err == nil {
		t.Fatalf("expected error for non-200 status")
	}
}

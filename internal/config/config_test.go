package config

import (
	"path/filepath"
	"testing"
)

func TestLoadWritesDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	// No OTA URL set anywhere yet; defaults alone fail validation, so we
	// provide it via environment override before load.
	t.Setenv("NYX_OTA_VERSION_URL", "https://ota.example.com/")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.WakeWordOptions.UseWakeWord {
		t.Fatalf("UseWakeWord = false, want true default")
	}
	if len(cfg.WakeWordOptions.WakeWords) == 0 {
		t.Fatalf("WakeWords empty, want defaults")
	}
	if cfg.SystemOptions.Network.OTAVersionURL != "https://ota.example.com/" {
		t.Fatalf("OTAVersionURL = %q, want env override applied", cfg.SystemOptions.Network.OTAVersionURL)
	}
}

func TestLoadRejectsEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("Load(\"\") error = nil, want error")
	}
}

func TestLoadRejectsUnknownActivationVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := defaults()
	cfg.SystemOptions.Network.OTAVersionURL = "https://ota.example.com/"
	cfg.SystemOptions.Network.ActivationVersion = "v9"
	if err := save(path, cfg); err != nil {
		t.Fatalf("save() error = %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("Load() error = nil, want validation error for bad activation version")
	}
}

func TestLoadRejectsMissingWakeWordsWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := defaults()
	cfg.SystemOptions.Network.OTAVersionURL = "https://ota.example.com/"
	cfg.WakeWordOptions.UseWakeWord = true
	cfg.WakeWordOptions.WakeWords = nil
	if err := save(path, cfg); err != nil {
		t.Fatalf("save() error = %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("Load() error = nil, want validation error for empty wake words")
	}
}

func TestEnvOverrideTakesPrecedenceOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := defaults()
	cfg.SystemOptions.Network.OTAVersionURL = "https://ota.example.com/"
	cfg.SystemOptions.Network.WebsocketURL = "wss://file-value.example.com"
	if err := save(path, cfg); err != nil {
		t.Fatalf("save() error = %v", err)
	}

	t.Setenv("NYX_WEBSOCKET_URL", "wss://env-value.example.com")

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.SystemOptions.Network.WebsocketURL != "wss://env-value.example.com" {
		t.Fatalf("WebsocketURL = %q, want env override", loaded.SystemOptions.Network.WebsocketURL)
	}
}

// Package config resolves the device's nested runtime configuration:
// a persisted JSON document under SYSTEM_OPTIONS/WAKE_WORD_OPTIONS,
// merged with a handful of environment overrides for values that
// should never sit in a committed file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Network holds the transport endpoints resolved at bootstrap time.
type Network struct {
	OTAVersionURL        string `json:"OTA_VERSION_URL"`
	WebsocketURL         string `json:"WEBSOCKET_URL"`
	WebsocketAccessToken string `json:"WEBSOCKET_ACCESS_TOKEN"`
	ActivationVersion    string `json:"ACTIVATION_VERSION"`
}

// SystemOptions is the SYSTEM_OPTIONS.* namespace from spec §6.
type SystemOptions struct {
	ClientID string  `json:"CLIENT_ID"`
	DeviceID string  `json:"DEVICE_ID"`
	Network  Network `json:"NETWORK"`
}

// WakeWordOptions is the WAKE_WORD_OPTIONS.* namespace from spec §6.
type WakeWordOptions struct {
	UseWakeWord bool     `json:"USE_WAKE_WORD"`
	WakeWords   []string `json:"WAKE_WORDS"`
}

// Config is the resolved, effectively-immutable runtime configuration.
type Config struct {
	SystemOptions   SystemOptions   `json:"SYSTEM_OPTIONS"`
	WakeWordOptions WakeWordOptions `json:"WAKE_WORD_OPTIONS"`

	// LocalAPIBindAddr is ambient (not in spec §6's table): the loopback
	// status/metrics surface bind address.
	LocalAPIBindAddr string `json:"-"`
	MetricsNamespace string `json:"-"`
	ShutdownTimeout  string `json:"-"`
}

// defaults mirrors the teacher's Load()-builds-a-populated-struct shape,
// just against a nested document instead of a flat env namespace.
func defaults() Config {
	return Config{
		WakeWordOptions: WakeWordOptions{
			UseWakeWord: true,
			WakeWords:   []string{"hey assistant", "nyx"},
		},
		LocalAPIBindAddr: "127.0.0.1:8088",
		MetricsNamespace: "nyx",
		ShutdownTimeout:  "5s",
	}
}

// Load reads the persisted config file at path (creating it with
// defaults if absent), then applies environment overrides, then
// validates. path == "" is invalid: callers must resolve a real path
// first (see cmd/nyx for the XDG-style default).
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, fmt.Errorf("config: path must not be empty")
	}

	cfg := defaults()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		if writeErr := save(path, cfg); writeErr != nil {
			return Config{}, fmt.Errorf("config: write default %s: %w", path, writeErr)
		}
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save persists cfg back to path, mode 0600 — the same restrictive
// permission the identity file uses, since the bearer token lives here
// unless overridden by environment.
func Save(path string, cfg Config) error {
	return save(path, cfg)
}

func save(path string, cfg Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func applyEnvOverrides(cfg *Config) {
	if v := envOrDefault("NYX_WEBSOCKET_ACCESS_TOKEN", ""); v != "" {
		cfg.SystemOptions.Network.WebsocketAccessToken = v
	}
	if v := envOrDefault("NYX_WEBSOCKET_URL", ""); v != "" {
		cfg.SystemOptions.Network.WebsocketURL = v
	}
	if v := envOrDefault("NYX_OTA_VERSION_URL", ""); v != "" {
		cfg.SystemOptions.Network.OTAVersionURL = v
	}
	if v := envOrDefault("NYX_LOCAL_API_BIND_ADDR", ""); v != "" {
		cfg.LocalAPIBindAddr = v
	}
}

func validate(cfg Config) error {
	if cfg.SystemOptions.Network.ActivationVersion == "" {
		cfg.SystemOptions.Network.ActivationVersion = "v2"
	}
	if cfg.SystemOptions.Network.ActivationVersion != "v1" && cfg.SystemOptions.Network.ActivationVersion != "v2" {
		return fmt.Errorf("config: SYSTEM_OPTIONS.NETWORK.ACTIVATION_VERSION must be v1 or v2, got %q", cfg.SystemOptions.Network.ActivationVersion)
	}
	if cfg.SystemOptions.Network.OTAVersionURL == "" {
		return fmt.Errorf("config: SYSTEM_OPTIONS.NETWORK.OTA_VERSION_URL is required")
	}
	if cfg.WakeWordOptions.UseWakeWord && len(cfg.WakeWordOptions.WakeWords) == 0 {
		return fmt.Errorf("config: WAKE_WORD_OPTIONS.WAKE_WORDS must be non-empty when USE_WAKE_WORD is true")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// Command nyx is the voice-assistant device client: it wires
// identity/activation, config resolution, the audio codec, wake
// detector, thing registry, and transport into a session orchestrator
// and runs it until a shutdown signal arrives. Grounded on the
// teacher's cmd/samantha/main.go construction order and graceful
// shutdown, adapted from a server's HTTP listener to a device
// session's background goroutines with golang.org/x/sync/errgroup in
// place of the teacher's ad hoc goroutine + signal channel, per
// DESIGN.md's domain-stack note promoting errgroup to a direct
// dependency.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/nyx/internal/activation"
	"github.com/antoniostano/nyx/internal/audio"
	"github.com/antoniostano/nyx/internal/config"
	"github.com/antoniostano/nyx/internal/identity"
	"github.com/antoniostano/nyx/internal/localapi"
	"github.com/antoniostano/nyx/internal/logging"
	"github.com/antoniostano/nyx/internal/observability"
	"github.com/antoniostano/nyx/internal/orchestrator"
	"github.com/antoniostano/nyx/internal/protocol"
	"github.com/antoniostano/nyx/internal/things"
	"github.com/antoniostano/nyx/internal/transport"
	"github.com/antoniostano/nyx/internal/wake"
)

func main() {
	mode := flag.String("mode", "cli", "UI shell: gui|cli (non-core; this binary runs the core headless either way)")
	protocolFlag := flag.String("protocol", "websocket", "transport variant: websocket|mqtt")
	configPath := flag.String("config", defaultConfigPath(), "path to the device config file")
	identityPath := flag.String("identity", defaultIdentityPath(), "path to the device identity file")
	flag.Parse()

	if *mode != "gui" && *mode != "cli" {
		log.Fatalf("invalid --mode: %q (expected gui|cli)", *mode)
	}
	if *protocolFlag != "websocket" && *protocolFlag != "mqtt" {
		log.Fatalf("invalid --protocol: %q (expected websocket|mqtt)", *protocolFlag)
	}

	log := logging.New("nyx")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	store, id, err := identity.Open(*identityPath)
	if err != nil {
		log.Fatalf("identity error: %v", err)
	}
	if cfg.SystemOptions.ClientID == "" {
		cfg.SystemOptions.ClientID = id.UUID
	}
	if cfg.SystemOptions.DeviceID == "" {
		cfg.SystemOptions.DeviceID = id.MACAddress
	}

	if err := resolveTransportEndpoint(&cfg, store, &id); err != nil {
		log.Fatalf("bootstrap/activation error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	driver := audio.NewLoopbackDriver()
	captureRate, captureFrameMS, playbackRate, playbackFrameMS := resolveAudioParams(cfg.SystemOptions.Network.WebsocketURL)
	codec, err := audio.New(driver, audio.NoopAudioProcessor(), captureRate, captureFrameMS, playbackRate, playbackFrameMS)
	if err != nil {
		log.Fatalf("codec init failed: %v", err)
	}

	var matcher wake.KeywordMatcher
	if cfg.WakeWordOptions.UseWakeWord {
		matcher = wake.NewSubstringMatcher(cfg.WakeWordOptions.WakeWords)
	}
	detector := wake.New(0.02, matcher)
	if cfg.WakeWordOptions.UseWakeWord {
		if ok := detector.Start(); !ok {
			log.Warnf("wake detector failed to load; continuing without wake word")
		}
	} else {
		detector.Pause()
	}

	// Tee every captured PCM frame to the wake detector before Opus
	// encoding, spec §2/§5: the detector shares the codec's capture
	// stream rather than opening its own.
	codec.OnCapturePCM(func(pcm []int16) {
		detector.ProcessFrame(audio.PCM16ToFloat32(pcm), "")
	})

	if err := codec.Start(); err != nil {
		log.Fatalf("codec start failed: %v", err)
	}

	registry := things.NewRegistry()
	registry.Add(things.NewLamp())

	ui := newStdioUISink(*mode)

	var newSession func() transport.Session
	if *protocolFlag == "mqtt" {
		newSession = func() transport.Session { return transport.NewMQTTSession() }
	} else {
		newSession = func() transport.Session { return transport.NewWebSocketSession() }
	}

	orch := orchestrator.New(orchestrator.Config{
		Endpoint: transport.Endpoint{
			URL:         cfg.SystemOptions.Network.WebsocketURL,
			AccessToken: cfg.SystemOptions.Network.WebsocketAccessToken,
			DeviceID:    cfg.SystemOptions.DeviceID,
			ClientID:    cfg.SystemOptions.ClientID,
		},
		AudioParams: protocol.AudioParams{
			Format:          "opus",
			SampleRate:      captureRate,
			Channels:        1,
			FrameDurationMS: captureFrameMS,
		},
	}, newSession, codec, detector, registry, ui, ui, metrics)

	registry.Add(things.NewSpeaker(newSpeakerHandle(orch)))

	shutdownTimeout, err := time.ParseDuration(cfg.ShutdownTimeout)
	if err != nil {
		shutdownTimeout = 5 * time.Second
	}

	localServer := &http.Server{
		Addr:    cfg.LocalAPIBindAddr,
		Handler: localapi.New(orch).Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return orch.Run(gCtx)
	})
	g.Go(func() error {
		log.Infof("local api listening on %s", cfg.LocalAPIBindAddr)
		if err := localServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("local api listen error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
			log.Infof("shutdown signal received")
		case <-gCtx.Done():
		}
		runCancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = localServer.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Errorf("fatal: %v", err)
		os.Exit(1)
	}
	log.Infof("shutdown complete")
}

// resolveTransportEndpoint implements spec §4.6's activation flow,
// short-circuiting entirely when a websocket URL is already
// configured (scenario S1: "cold start, no activation needed").
func resolveTransportEndpoint(cfg *config.Config, store *identity.Store, id *identity.Identity) error {
	if cfg.SystemOptions.Network.WebsocketURL != "" {
		return nil
	}
	if cfg.SystemOptions.Network.OTAVersionURL == "" {
		return fmt.Errorf("no WEBSOCKET_URL configured and no OTA_VERSION_URL to bootstrap from")
	}

	ctx := context.Background()
	fingerprint := config.DeviceFingerprint{
		MACAddress:    id.MACAddress,
		UUID:          id.UUID,
		Application:   "nyx",
		AppVersion:    "1.0.0",
		ChipModelName: "generic",
	}

	resp, err := config.FetchBootstrap(ctx, nil, cfg.SystemOptions.Network.OTAVersionURL, cfg.SystemOptions.DeviceID, cfg.SystemOptions.ClientID, fingerprint)
	if err != nil {
		return fmt.Errorf("ota bootstrap: %w", err)
	}

	if resp.Activation != nil && !id.Activated {
		activator := activation.New(store, nil, cfg.SystemOptions.DeviceID, cfg.SystemOptions.ClientID)
		challenge := activation.Challenge{
			Challenge:    resp.Activation.Challenge,
			Code:         resp.Activation.Code,
			Message:      resp.Activation.Message,
			SerialNumber: resp.Activation.SerialNumber,
			HMACKey:      resp.Activation.HMACKey,
		}
		if err := activator.Process(ctx, cfg.SystemOptions.Network.OTAVersionURL, id, challenge, stderrVerificationSink{}); err != nil {
			return fmt.Errorf("activation: %w", err)
		}
		resp, err = config.FetchBootstrap(ctx, nil, cfg.SystemOptions.Network.OTAVersionURL, cfg.SystemOptions.DeviceID, cfg.SystemOptions.ClientID, fingerprint)
		if err != nil {
			return fmt.Errorf("ota re-bootstrap after activation: %w", err)
		}
	}

	config.ApplyBootstrap(cfg, resp)
	if cfg.SystemOptions.Network.WebsocketURL == "" {
		return fmt.Errorf("ota bootstrap did not return a websocket endpoint")
	}
	return nil
}

// resolveAudioParams derives the duplex sample rates/frame durations
// per spec §4.2: 20ms on Windows/macOS, 60ms on Linux and for
// non-official servers; 24kHz playback for the official server
// fingerprint api.tenclass.net, 16kHz otherwise.
func resolveAudioParams(websocketURL string) (captureRate, captureFrameMS, playbackRate, playbackFrameMS int) {
	captureRate = 16000
	frameMS := 60
	if (runtime.GOOS == "windows" || runtime.GOOS == "darwin") && containsOfficialServer(websocketURL) {
		frameMS = 20
	}
	playbackRate = 16000
	if containsOfficialServer(websocketURL) {
		playbackRate = 24000
	}
	return captureRate, frameMS, playbackRate, frameMS
}

func containsOfficialServer(url string) bool {
	return strings.Contains(url, "api.tenclass.net")
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "nyx", "config.json")
}

func defaultIdentityPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "nyx", "identity.json")
}

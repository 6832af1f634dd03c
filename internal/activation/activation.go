// Package activation implements the v2 device activation handshake
// that follows an OTA bootstrap (fetched by internal/config): an
// HMAC-SHA256 challenge/response and a poll-retry loop against the
// /activate endpoint. Grounded on
// original_source/src/utils/device_activator.py's activate()/
// process_activation() flow.
package activation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/nyx/internal/identity"
	"github.com/antoniostano/nyx/internal/logging"
	"github.com/antoniostano/nyx/internal/reliability"
)

// ErrDenied is returned once the poll-retry budget is exhausted
// without the server ever returning 200.
var ErrDenied = errors.New("activation: exhausted retry budget without success")

const (
	maxAttempts   = 60
	retryInterval = 5 * time.Second
)

// Challenge is the activation block of an OTA bootstrap response.
type Challenge struct {
	Challenge    string `json:"challenge"`
	Code         string `json:"code"`
	Message      string `json:"message"`
	SerialNumber string `json:"serial_number,omitempty"`
	HMACKey      string `json:"hmac_key,omitempty"`
}

// VerificationSink receives the human-readable verification code to
// surface to the user (display and/or speak it). This is the UI sink
// collaborator spec §4.1/§7 keeps out of the orchestrator's core.
type VerificationSink interface {
	ShowVerificationCode(message, code string) error
}

// Activator drives the challenge/response handshake against the OTA
// endpoint described in spec §4.6.
type Activator struct {
	store       *identity.Store
	httpClient  *http.Client
	deviceID    string
	clientID    string
	log         *logging.Logger
	maxAttempts int
	interval    time.Duration
}

// New constructs an Activator. httpClient may be nil, in which case a
// client with a 10s per-request timeout is used.
func New(store *identity.Store, httpClient *http.Client, deviceID, clientID string) *Activator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Activator{
		store:       store,
		httpClient:  httpClient,
		deviceID:    deviceID,
		clientID:    clientID,
		log:         logging.New("nyx.activation"),
		maxAttempts: maxAttempts,
		interval:    retryInterval,
	}
}

// Process handles one activation challenge end to end: burns
// serial/key if the server supplied fresh ones, surfaces the
// verification code, computes the HMAC response, and polls the
// activate endpoint until success or budget exhaustion.
func (a *Activator) Process(ctx context.Context, otaActivateURL string, id *identity.Identity, chal Challenge, sink VerificationSink) error {
	if chal.Challenge == "" || chal.Code == "" {
		return fmt.Errorf("activation: challenge data missing challenge or code field")
	}

	if chal.SerialNumber != "" {
		if err := a.store.BurnSerialNumber(id, chal.SerialNumber); err != nil {
			return fmt.Errorf("activation: burn serial number: %w", err)
		}
	}
	if chal.HMACKey != "" {
		if err := a.store.BurnHMACKey(id, chal.HMACKey); err != nil {
			return fmt.Errorf("activation: burn hmac key: %w", err)
		}
	}
	if id.SerialNumber == "" {
		return fmt.Errorf("activation: device has no serial number, cannot activate")
	}

	message := chal.Message
	if message == "" {
		message = "Enter the verification code to continue."
	}
	if sink != nil {
		if err := sink.ShowVerificationCode(message, chal.Code); err != nil {
			a.log.Warnf("verification sink failed: %v", err)
		}
	}

	return a.activate(ctx, otaActivateURL, id, chal.Challenge)
}

func (a *Activator) activate(ctx context.Context, otaActivateURL string, id *identity.Identity, challenge string) error {
	signature := a.generateHMAC(id.HMACKey, challenge)

	payload := struct {
		Payload struct {
			Algorithm    string `json:"algorithm"`
			SerialNumber string `json:"serial_number"`
			Challenge    string `json:"challenge"`
			HMAC         string `json:"hmac"`
		} `json:"Payload"`
	}{}
	payload.Payload.Algorithm = "hmac-sha256"
	payload.Payload.SerialNumber = id.SerialNumber
	payload.Payload.Challenge = challenge
	payload.Payload.HMAC = signature

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("activation: marshal payload: %w", err)
	}

	activateURL := otaActivateURL
	if !strings.HasSuffix(activateURL, "/") {
		activateURL += "/"
	}
	activateURL += "activate"

	var lastErr error
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		a.log.Infof("activation attempt %d/%d", attempt+1, a.maxAttempts)

		status, respErr := a.postOnce(ctx, activateURL, body)
		switch {
		case respErr != nil:
			lastErr = respErr
			a.log.Warnf("activation request failed: %v", respErr)
		case status == http.StatusOK:
			return a.store.SetActivated(id, true)
		case status == http.StatusAccepted:
			a.log.Infof("waiting for user to enter verification code")
		case reliability.IsRetryableHTTPStatus(status):
			lastErr = fmt.Errorf("activation: retryable status %d", status)
		default:
			lastErr = fmt.Errorf("activation: unexpected status %d", status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.interval):
		}
	}

	return fmt.Errorf("%w: last error: %v", ErrDenied, lastErr)
}

func (a *Activator) postOnce(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Activation-Version", "2")
	req.Header.Set("Device-Id", a.deviceID)
	req.Header.Set("Client-Id", a.clientID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// GenerateHMAC computes HMAC-SHA256(key, challenge) and returns it hex
// encoded. Exported for the testable property in spec §8 item 7.
func GenerateHMAC(hexOrRawKey string, challenge string) string {
	return (&Activator{}).generateHMAC(hexOrRawKey, challenge)
}

func (a *Activator) generateHMAC(key, challenge string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

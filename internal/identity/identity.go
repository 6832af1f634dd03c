// Package identity persists the device's serial number, HMAC secret,
// and activation status — the single opaque file described in spec
// §4.6/§6. Serial and key are write-once: a second Set with a
// different value is a programmer/protocol error, not silently
// accepted, matching the "burn" semantics of a simulated efuse in
// original_source/src/utils/device_fingerprint.py (referenced by the
// activator but not itself kept in the retrieval pack).
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/google/uuid"
)

// ErrImmutable is returned when burning a serial number or HMAC key
// that has already been set to a different value.
var ErrImmutable = errors.New("identity: serial number and hmac key are write-once")

// Identity is the persisted device identity document.
type Identity struct {
	SerialNumber string `json:"serial_number"`
	HMACKey      string `json:"hmac_key"`
	Activated    bool   `json:"activated"`
	MACAddress   string `json:"mac_address"`
	UUID         string `json:"uuid"`
}

// Store loads and saves an Identity from a single file, mode 0600.
type Store struct {
	path string
}

// Open loads the identity at path, creating a fresh one (random UUID,
// best-effort MAC address, empty serial/key, not activated) if the
// file does not yet exist.
func Open(path string) (*Store, Identity, error) {
	s := &Store{path: path}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		var id Identity
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, Identity{}, fmt.Errorf("identity: parse %s: %w", path, err)
		}
		return s, id, nil
	case os.IsNotExist(err):
		id := Identity{
			MACAddress: discoverMACAddress(),
			UUID:       uuid.NewString(),
		}
		if err := s.write(id); err != nil {
			return nil, Identity{}, fmt.Errorf("identity: create %s: %w", path, err)
		}
		return s, id, nil
	default:
		return nil, Identity{}, fmt.Errorf("identity: read %s: %w", path, err)
	}
}

// BurnSerialNumber sets the serial number once. A repeat call with the
// same value is a no-op; a repeat call with a different value fails.
func (s *Store) BurnSerialNumber(id *Identity, serial string) error {
	if id.SerialNumber != "" {
		if id.SerialNumber == serial {
			return nil
		}
		return ErrImmutable
	}
	id.SerialNumber = serial
	return s.write(*id)
}

// BurnHMACKey sets the HMAC key once, same semantics as BurnSerialNumber.
func (s *Store) BurnHMACKey(id *Identity, key string) error {
	if id.HMACKey != "" {
		if id.HMACKey == key {
			return nil
		}
		return ErrImmutable
	}
	id.HMACKey = key
	return s.write(*id)
}

// SetActivated persists the activation flag.
func (s *Store) SetActivated(id *Identity, activated bool) error {
	id.Activated = activated
	return s.write(*id)
}

func (s *Store) write(id Identity) error {
	raw, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o600)
}

// discoverMACAddress returns the hardware address of the first active
// non-loopback interface, or a stable hash of the hostname as a
// fallback when no interface is available (containers, sandboxes).
func discoverMACAddress() string {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
				continue
			}
			if len(iface.HardwareAddr) == 0 {
				continue
			}
			return iface.HardwareAddr.String()
		}
	}
	return fallbackMACAddress()
}

func fallbackMACAddress() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		var buf [6]byte
		_, _ = rand.Read(buf[:])
		host = hex.EncodeToString(buf[:])
	}
	sum := sha256.Sum256([]byte(host))
	// Format as a locally-administered MAC so it is visually
	// distinguishable from a real hardware address.
	b := sum[:6]
	b[0] = (b[0] | 0x02) & 0xfe
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}

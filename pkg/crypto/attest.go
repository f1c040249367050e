package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/ed25519"
	"golang.org/x/crypto/sha3"
)

// Smart meters attest to produced energy with an ed25519 signature over the
// reading. A producer's mint request carries the attestation; the node checks
// it against the device key registered with the resident before minting.

// MeterAttestation is the signed telemetry packet a meter emits.
type MeterAttestation struct {
	DeviceID  string `json:"device_id"`
	KwhAmount uint64 `json:"kwh_amount"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"` // hex-encoded ed25519 signature
}

// MeterKey is a meter's ed25519 key pair. Firmware holds the private half;
// the public half is registered alongside the resident.
type MeterKey struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func GenerateMeterKey() (*MeterKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meter key: %w", err)
	}
	return &MeterKey{pub: pub, priv: priv}, nil
}

// PublicKeyHex returns the hex-encoded public key for registration.
func (k *MeterKey) PublicKeyHex() string {
	return hex.EncodeToString(k.pub)
}

// Attest signs a reading and returns the attestation packet.
func (k *MeterKey) Attest(deviceID string, kwhAmount uint64, timestamp int64) *MeterAttestation {
	digest := attestationDigest(deviceID, kwhAmount, timestamp)
	sig := ed25519.Sign(k.priv, digest)
	return &MeterAttestation{
		DeviceID:  deviceID,
		KwhAmount: kwhAmount,
		Timestamp: timestamp,
		Signature: hex.EncodeToString(sig),
	}
}

// VerifyAttestation checks the attestation signature against a hex-encoded
// registered device public key.
func VerifyAttestation(devicePubKeyHex string, att *MeterAttestation) (bool, error) {
	pubBytes, err := hex.DecodeString(strings.TrimPrefix(devicePubKeyHex, "0x"))
	if err != nil {
		return false, fmt.Errorf("invalid device public key: %w", err)
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		return false, fmt.Errorf("device public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pubBytes))
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(att.Signature, "0x"))
	if err != nil {
		return false, fmt.Errorf("invalid attestation signature: %w", err)
	}

	digest := attestationDigest(att.DeviceID, att.KwhAmount, att.Timestamp)
	return ed25519.Verify(ed25519.PublicKey(pubBytes), digest, sig), nil
}

// attestationDigest is keccak256 over the canonical reading encoding.
// Must match what meter firmware signs.
func attestationDigest(deviceID string, kwhAmount uint64, timestamp int64) []byte {
	msg := fmt.Sprintf("METER:%s:%d:%d", deviceID, kwhAmount, timestamp)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(msg))
	return h.Sum(nil)
}

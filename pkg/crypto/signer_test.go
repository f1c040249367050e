package crypto

import (
	"testing"
)

func TestSignAndRecover(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}

	hash := Keccak256([]byte("ORDER:0xabc:2:50:10:meter-01:1"))
	sig, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}

	recovered, err := RecoverAddress(hash, sig)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}

	if !VerifySignature(signer.Address(), hash, sig) {
		t.Error("verify returned false for valid signature")
	}
}

func TestSign_WrongHashLength(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("expected error for non-32-byte hash")
	}
}

func TestVerifySignature_WrongAddress(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	other, err := GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}

	hash := Keccak256([]byte("payload"))
	sig, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if VerifySignature(other.Address(), hash, sig) {
		t.Error("signature verified against the wrong address")
	}
}

func TestVerifySignature_WrongHash(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}

	sig, err := signer.SignMessage([]byte("original"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if VerifySignature(signer.Address(), Keccak256([]byte("tampered")), sig) {
		t.Error("signature verified against a different message")
	}
}

func TestKeyRoundTrip(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}

	restored, err := FromPrivateKeyHex(signer.PrivateKeyHex())
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restored.Address() != signer.Address() {
		t.Errorf("restored address %s, want %s", restored.Address().Hex(), signer.Address().Hex())
	}
}

package transaction

import (
	"fmt"
	"testing"

	gridcrypto "github.com/los-tecnicos/gridledger/pkg/crypto"
)

func signTx(t *testing.T, signer *gridcrypto.Signer, tx *SignedTx) *SignedTx {
	t.Helper()
	digest, err := tx.Digest()
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	tx.Signature = fmt.Sprintf("0x%x", sig)
	return tx
}

func TestVerify_CreateOrder(t *testing.T) {
	signer, err := gridcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}

	tx := signTx(t, signer, &SignedTx{
		Type: TxTypeCreateOrder,
		CreateOrder: &CreateOrderPayload{
			Owner:    signer.Address().Hex(),
			Side:     2,
			Quantity: 50,
			Price:    10,
			DeviceID: "meter-01",
			Nonce:    1,
		},
	})

	recovered, err := NewVerifier().Verify(tx)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}

func TestVerify_TamperedPayload(t *testing.T) {
	signer, err := gridcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}

	tx := signTx(t, signer, &SignedTx{
		Type: TxTypeCreateOrder,
		CreateOrder: &CreateOrderPayload{
			Owner:    signer.Address().Hex(),
			Side:     2,
			Quantity: 50,
			Price:    10,
			DeviceID: "meter-01",
			Nonce:    1,
		},
	})

	// Changing any signed field after signing must fail verification
	tx.CreateOrder.Price = 1
	if _, err := NewVerifier().Verify(tx); err == nil {
		t.Fatal("expected verification failure for tampered payload")
	}
}

func TestVerify_PrincipalMismatch(t *testing.T) {
	signer, err := gridcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	other, err := gridcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}

	// Signed by one key but claiming another address as owner
	tx := signTx(t, signer, &SignedTx{
		Type: TxTypeCancelOrder,
		CancelOrder: &CancelOrderPayload{
			Owner:   other.Address().Hex(),
			OrderID: 3,
			Nonce:   1,
		},
	})

	if _, err := NewVerifier().Verify(tx); err == nil {
		t.Fatal("expected verification failure for principal mismatch")
	}
}

func TestVerify_Register(t *testing.T) {
	adminKey, err := gridcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	resident, err := gridcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}

	// The admin signs on behalf of the resident being registered; the
	// recovered signer is the admin, not the resident
	tx := signTx(t, adminKey, &SignedTx{
		Type: TxTypeRegister,
		Register: &RegisterPayload{
			Resident:     resident.Address().Hex(),
			ResidentType: "producer",
			Name:         "rooftop-7",
			Nonce:        1,
		},
	})

	recovered, err := NewVerifier().Verify(tx)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if recovered != adminKey.Address() {
		t.Errorf("recovered %s, want admin %s", recovered.Hex(), adminKey.Address().Hex())
	}
}

func TestVerify_MissingSignature(t *testing.T) {
	tx := &SignedTx{
		Type:  TxTypeMatch,
		Match: &MatchPayload{Admin: "0xAD00000000000000000000000000000000000000", SellID: 1, BuyID: 2, Nonce: 1},
	}
	if _, err := NewVerifier().Verify(tx); err == nil {
		t.Fatal("expected verification failure for missing signature")
	}
}

func TestParse(t *testing.T) {
	raw := []byte(`{"type":"match_orders","match":{"admin":"0xAD00000000000000000000000000000000000000","sell_id":1,"buy_id":2,"nonce":7},"signature":"0x00"}`)
	tx, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if tx.Type != TxTypeMatch {
		t.Errorf("type = %s, want %s", tx.Type, TxTypeMatch)
	}
	if tx.Match.SellID != 1 || tx.Match.BuyID != 2 {
		t.Errorf("match payload wrong: %+v", tx.Match)
	}
	if tx.Nonce() != 7 {
		t.Errorf("nonce = %d, want 7", tx.Nonce())
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte(`{"broken`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := Parse([]byte(`{"signature":"0x00"}`)); err == nil {
		t.Error("expected error for missing type")
	}
}

package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	gridcrypto "github.com/los-tecnicos/gridledger/pkg/crypto"
)

// Verifier is the authorization gate's cryptographic half: it recovers the
// signer of an envelope and checks the signer matches the principal the
// payload claims. Which principal each operation ultimately requires (self
// for burn and order creation, admin for mint and matching) is enforced by
// the components the recovered address is handed to.
type Verifier struct{}

func NewVerifier() *Verifier { return &Verifier{} }

// Verify checks the envelope signature and returns the recovered signer.
// The signer must equal the principal named in the payload; a mismatch means
// somebody signed a payload claiming another identity.
func (v *Verifier) Verify(tx *SignedTx) (common.Address, error) {
	digest, err := tx.Digest()
	if err != nil {
		return common.Address{}, err
	}

	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, err
	}

	signer, err := gridcrypto.RecoverAddress(digest, sigBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature verification failed: %w", err)
	}

	// Register envelopes are signed by the admin, not by the resident the
	// payload names; the admin check happens against the recovered signer.
	if tx.Type == TxTypeRegister {
		return signer, nil
	}

	claimed, err := tx.principal()
	if err != nil {
		return common.Address{}, err
	}
	if signer != claimed {
		return common.Address{}, fmt.Errorf("signer %s does not match claimed principal %s", signer.Hex(), claimed.Hex())
	}

	return signer, nil
}

// principal extracts the identity the payload claims to act as.
func (tx *SignedTx) principal() (common.Address, error) {
	var hexAddr string
	switch tx.Type {
	case TxTypeMint:
		hexAddr = tx.Mint.Account
	case TxTypeBurn:
		hexAddr = tx.Burn.Account
	case TxTypeCreateOrder:
		hexAddr = tx.CreateOrder.Owner
	case TxTypeCancelOrder:
		hexAddr = tx.CancelOrder.Owner
	case TxTypeMatch:
		hexAddr = tx.Match.Admin
	default:
		return common.Address{}, fmt.Errorf("unsupported transaction type: %s", tx.Type)
	}

	if !common.IsHexAddress(hexAddr) {
		return common.Address{}, fmt.Errorf("invalid principal address: %q", hexAddr)
	}
	return common.HexToAddress(hexAddr), nil
}

func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	return sigBytes, nil
}

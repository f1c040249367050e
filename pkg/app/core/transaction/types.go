package transaction

import (
	"encoding/json"
	"fmt"

	gridcrypto "github.com/los-tecnicos/gridledger/pkg/crypto"
)

// TxType discriminates the signed envelope payload.
type TxType string

const (
	TxTypeRegister    TxType = "register_resident"
	TxTypeMint        TxType = "mint_energy"
	TxTypeBurn        TxType = "purchase_energy"
	TxTypeCreateOrder TxType = "create_order"
	TxTypeCancelOrder TxType = "cancel_order"
	TxTypeMatch       TxType = "match_orders"
)

// SignedTx is the envelope every mutating request arrives in. Exactly one
// payload field is set, per Type. Signature is the hex-encoded secp256k1
// signature over the payload digest; the recovered signer is the claimed
// principal the authorization gate checks.
type SignedTx struct {
	Type        TxType              `json:"type"`
	Register    *RegisterPayload    `json:"register,omitempty"`
	Mint        *MintPayload        `json:"mint,omitempty"`
	Burn        *BurnPayload        `json:"burn,omitempty"`
	CreateOrder *CreateOrderPayload `json:"create_order,omitempty"`
	CancelOrder *CancelOrderPayload `json:"cancel_order,omitempty"`
	Match       *MatchPayload       `json:"match,omitempty"`
	Signature   string              `json:"signature"` // 0x-prefixed hex, 65 bytes
}

// RegisterPayload registers a community resident. Signed by the community
// admin.
type RegisterPayload struct {
	Resident     string `json:"resident"` // address being registered
	ResidentType string `json:"resident_type"`
	Name         string `json:"name"`
	DevicePubKey string `json:"device_pub_key,omitempty"`
	Nonce        uint64 `json:"nonce"`
}

// MintPayload mints tokens for produced energy. Signed by the producer;
// Attestation is the meter's signed reading backing the claim.
type MintPayload struct {
	Account     string                       `json:"account"`
	KwhAmount   uint64                       `json:"kwh_amount"`
	Nonce       uint64                       `json:"nonce"`
	Attestation *gridcrypto.MeterAttestation `json:"attestation,omitempty"`
}

// BurnPayload burns tokens for consumed energy. Signed by the account owner.
type BurnPayload struct {
	Account     string `json:"account"`
	TokenAmount int64  `json:"token_amount"`
	Nonce       uint64 `json:"nonce"`
}

// CreateOrderPayload places a new order. Signed by the owner.
type CreateOrderPayload struct {
	Owner    string `json:"owner"`
	Side     uint8  `json:"side"` // 1=buy, 2=sell
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
	DeviceID string `json:"device_id"`
	Nonce    uint64 `json:"nonce"`
}

// CancelOrderPayload cancels an open order. Signed by the owner.
type CancelOrderPayload struct {
	Owner   string `json:"owner"`
	OrderID uint64 `json:"order_id"`
	Nonce   uint64 `json:"nonce"`
}

// MatchPayload settles a sell/buy pair. Signed by the marketplace admin.
type MatchPayload struct {
	Admin  string `json:"admin"`
	SellID uint64 `json:"sell_id"`
	BuyID  uint64 `json:"buy_id"`
	Nonce  uint64 `json:"nonce"`
}

// Parse decodes a signed transaction from JSON.
func Parse(data []byte) (*SignedTx, error) {
	var tx SignedTx
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	if tx.Type == "" {
		return nil, fmt.Errorf("missing transaction type")
	}
	return &tx, nil
}

// Digest returns the keccak256 hash of the canonical payload encoding for
// tx.Type. Signing and verification both run over this digest, so the
// encoding is part of the wire format: field order and separators must not
// change.
func (tx *SignedTx) Digest() ([]byte, error) {
	var msg string
	switch tx.Type {
	case TxTypeRegister:
		if tx.Register == nil {
			return nil, fmt.Errorf("missing register payload")
		}
		p := tx.Register
		msg = fmt.Sprintf("REGISTER:%s:%s:%s:%s:%d", p.Resident, p.ResidentType, p.Name, p.DevicePubKey, p.Nonce)

	case TxTypeMint:
		if tx.Mint == nil {
			return nil, fmt.Errorf("missing mint payload")
		}
		p := tx.Mint
		msg = fmt.Sprintf("MINT:%s:%d:%d", p.Account, p.KwhAmount, p.Nonce)

	case TxTypeBurn:
		if tx.Burn == nil {
			return nil, fmt.Errorf("missing burn payload")
		}
		p := tx.Burn
		msg = fmt.Sprintf("BURN:%s:%d:%d", p.Account, p.TokenAmount, p.Nonce)

	case TxTypeCreateOrder:
		if tx.CreateOrder == nil {
			return nil, fmt.Errorf("missing create_order payload")
		}
		p := tx.CreateOrder
		msg = fmt.Sprintf("ORDER:%s:%d:%d:%d:%s:%d", p.Owner, p.Side, p.Quantity, p.Price, p.DeviceID, p.Nonce)

	case TxTypeCancelOrder:
		if tx.CancelOrder == nil {
			return nil, fmt.Errorf("missing cancel_order payload")
		}
		p := tx.CancelOrder
		msg = fmt.Sprintf("CANCEL:%s:%d:%d", p.Owner, p.OrderID, p.Nonce)

	case TxTypeMatch:
		if tx.Match == nil {
			return nil, fmt.Errorf("missing match payload")
		}
		p := tx.Match
		msg = fmt.Sprintf("MATCH:%s:%d:%d:%d", p.Admin, p.SellID, p.BuyID, p.Nonce)

	default:
		return nil, fmt.Errorf("unsupported transaction type: %s", tx.Type)
	}

	return gridcrypto.Keccak256([]byte(msg)), nil
}

// Nonce returns the payload's replay-protection nonce.
func (tx *SignedTx) Nonce() uint64 {
	switch tx.Type {
	case TxTypeRegister:
		return tx.Register.Nonce
	case TxTypeMint:
		return tx.Mint.Nonce
	case TxTypeBurn:
		return tx.Burn.Nonce
	case TxTypeCreateOrder:
		return tx.CreateOrder.Nonce
	case TxTypeCancelOrder:
		return tx.CancelOrder.Nonce
	case TxTypeMatch:
		return tx.Match.Nonce
	default:
		return 0
	}
}

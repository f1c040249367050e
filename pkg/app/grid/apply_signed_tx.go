package grid

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/los-tecnicos/gridledger/pkg/app/core/market"
	"github.com/los-tecnicos/gridledger/pkg/app/core/order"
	"github.com/los-tecnicos/gridledger/pkg/app/core/registry"
	"github.com/los-tecnicos/gridledger/pkg/app/core/transaction"
	"github.com/los-tecnicos/gridledger/pkg/storage"
)

// ApplyResult reports what a signed transaction did.
type ApplyResult struct {
	Type       transaction.TxType `json:"type"`
	Signer     string             `json:"signer"`
	OrderID    uint64             `json:"order_id,omitempty"`
	Minted     int64              `json:"minted,omitempty"`
	Settlement *market.Settlement `json:"settlement,omitempty"`
}

// ApplySignedTx verifies, replay-checks, and dispatches one signed envelope.
// The recovered signer is the principal every downstream authorization check
// runs against; nonces are per-account and strictly increasing.
//
// The nonce check, the operation, and the nonce store run under the app
// mutex as one unit, so two concurrent submissions of the same envelope can
// never both pass the replay check.
func (a *App) ApplySignedTx(raw []byte) (*ApplyResult, error) {
	tx, err := transaction.Parse(raw)
	if err != nil {
		return nil, err
	}

	signer, err := a.verifier.Verify(tx)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkNonce(signer, tx.Nonce()); err != nil {
		return nil, err
	}

	result := &ApplyResult{Type: tx.Type, Signer: signer.Hex()}

	switch tx.Type {
	case transaction.TxTypeRegister:
		p := tx.Register
		if !common.IsHexAddress(p.Resident) {
			return nil, fmt.Errorf("invalid resident address: %q", p.Resident)
		}
		err = a.registerResident(signer, &registry.Resident{
			Address:      common.HexToAddress(p.Resident),
			Type:         registry.ResidentType(p.ResidentType),
			Name:         p.Name,
			DevicePubKey: p.DevicePubKey,
		})

	case transaction.TxTypeMint:
		result.Minted, err = a.mintEnergyTokens(signer, tx.Mint.KwhAmount, tx.Mint.Attestation)

	case transaction.TxTypeBurn:
		err = a.purchaseEnergy(signer, tx.Burn.TokenAmount)

	case transaction.TxTypeCreateOrder:
		p := tx.CreateOrder
		result.OrderID, err = a.createOrder(signer, order.Side(p.Side), p.Quantity, p.Price, p.DeviceID)

	case transaction.TxTypeCancelOrder:
		err = a.cancelOrder(signer, tx.CancelOrder.OrderID)

	case transaction.TxTypeMatch:
		result.Settlement, err = a.matchOrders(signer, tx.Match.SellID, tx.Match.BuyID)

	default:
		return nil, fmt.Errorf("unsupported transaction type: %s", tx.Type)
	}

	if err != nil {
		return nil, err
	}

	// Record the nonce only after the operation succeeded, so a rejected
	// envelope can be re-signed and resubmitted with the same nonce.
	if err := a.storeNonce(signer, tx.Nonce()); err != nil {
		a.log.Warnw("nonce_store_failed", "signer", signer.Hex(), "err", err)
	}
	return result, nil
}

func (a *App) checkNonce(signer common.Address, nonce uint64) error {
	val, found, err := a.kv.Get(storage.NonceKey(signer))
	if err != nil {
		return fmt.Errorf("failed to read nonce for %s: %w", signer.Hex(), err)
	}
	if !found {
		return nil
	}
	last := storage.DecodeUint64(val)
	if nonce <= last {
		return fmt.Errorf("nonce %d too low for %s (last %d): replay rejected", nonce, signer.Hex(), last)
	}
	return nil
}

func (a *App) storeNonce(signer common.Address, nonce uint64) error {
	return a.kv.Set(storage.NonceKey(signer), storage.EncodeUint64(nonce))
}

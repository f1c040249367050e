package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/los-tecnicos/gridledger/pkg/storage"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Ledger owns the account-balance map. Balances are non-negative int64 token
// units; accounts are created implicitly on first credit and never deleted.
// Every balance change is an exact integer amount, no rounding.
//
// Callers must serialize mutating calls (the grid App holds the lock); reads
// are safe at any time and see either the pre- or post-state of an in-flight
// mutation, never a partial one.
type Ledger struct {
	kv    storage.KV
	admin common.Address // designated minting authority
}

func New(kv storage.KV, admin common.Address) *Ledger {
	return &Ledger{kv: kv, admin: admin}
}

// Admin returns the designated minting authority.
func (l *Ledger) Admin() common.Address { return l.admin }

// Mint credits amount token units to account. Only the minting authority may
// mint. Also bumps the persisted mint counter.
func (l *Ledger) Mint(caller, account common.Address, amount int64) error {
	if caller != l.admin {
		return fmt.Errorf("mint: caller %s is not the minting authority: %w", caller.Hex(), ErrUnauthorized)
	}
	if amount <= 0 {
		return fmt.Errorf("mint: %d: %w", amount, ErrInvalidAmount)
	}

	balance, err := l.balance(account)
	if err != nil {
		return err
	}
	mints, err := l.counter(storage.KeyMintSeq)
	if err != nil {
		return err
	}

	b := l.kv.NewBatch()
	defer b.Close()
	if err := b.Set(storage.BalanceKey(account), storage.EncodeUint64(uint64(balance+amount))); err != nil {
		return fmt.Errorf("mint: stage balance: %w", err)
	}
	if err := b.Set([]byte(storage.KeyMintSeq), storage.EncodeUint64(mints+1)); err != nil {
		return fmt.Errorf("mint: stage counter: %w", err)
	}
	return b.Commit()
}

// Burn debits amount token units from account. Only the account owner may
// burn, and only up to the current balance.
func (l *Ledger) Burn(caller, account common.Address, amount int64) error {
	if caller != account {
		return fmt.Errorf("burn: caller %s does not own account %s: %w", caller.Hex(), account.Hex(), ErrUnauthorized)
	}
	if amount <= 0 {
		return fmt.Errorf("burn: %d: %w", amount, ErrInvalidAmount)
	}

	balance, err := l.balance(account)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("burn: have %d, need %d: %w", balance, amount, ErrInsufficientBalance)
	}

	return l.kv.Set(storage.BalanceKey(account), storage.EncodeUint64(uint64(balance-amount)))
}

// BalanceOf returns the balance of account, 0 for unknown accounts.
// Never errors; a storage failure reads as an absent account.
func (l *Ledger) BalanceOf(account common.Address) int64 {
	balance, err := l.balance(account)
	if err != nil {
		return 0
	}
	return balance
}

// MintCount returns the number of successful mints on this deployment.
func (l *Ledger) MintCount() uint64 {
	n, err := l.counter(storage.KeyMintSeq)
	if err != nil {
		return 0
	}
	return n
}

// StageSettlement stages the balance movement of a matched trade into b:
// buyer pays notional, seller receives notional plus the yield bonus. Nothing
// is applied until the caller commits the batch; the order-status writes go
// into the same batch so the four mutations land together or not at all.
//
// The engine calls this instead of touching balance keys itself, preserving
// single-writer discipline over the balance map.
func (l *Ledger) StageSettlement(b storage.Batch, buyer, seller common.Address, notional, yield int64) error {
	if notional <= 0 {
		return fmt.Errorf("settle: notional %d: %w", notional, ErrInvalidAmount)
	}
	if yield < 0 {
		return fmt.Errorf("settle: yield %d: %w", yield, ErrInvalidAmount)
	}

	buyerBal, err := l.balance(buyer)
	if err != nil {
		return err
	}
	if buyerBal < notional {
		return fmt.Errorf("settle: buyer has %d, needs %d: %w", buyerBal, notional, ErrInsufficientBalance)
	}

	sellerBal, err := l.balance(seller)
	if err != nil {
		return err
	}

	if err := b.Set(storage.BalanceKey(buyer), storage.EncodeUint64(uint64(buyerBal-notional))); err != nil {
		return fmt.Errorf("settle: stage buyer balance: %w", err)
	}
	if err := b.Set(storage.BalanceKey(seller), storage.EncodeUint64(uint64(sellerBal+notional+yield))); err != nil {
		return fmt.Errorf("settle: stage seller balance: %w", err)
	}
	return nil
}

func (l *Ledger) balance(account common.Address) (int64, error) {
	val, found, err := l.kv.Get(storage.BalanceKey(account))
	if err != nil {
		return 0, fmt.Errorf("failed to read balance of %s: %w", account.Hex(), err)
	}
	if !found {
		return 0, nil
	}
	return int64(storage.DecodeUint64(val)), nil
}

func (l *Ledger) counter(key string) (uint64, error) {
	val, found, err := l.kv.Get([]byte(key))
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", key, err)
	}
	if !found {
		return 0, nil
	}
	return storage.DecodeUint64(val), nil
}

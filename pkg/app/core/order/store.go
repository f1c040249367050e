package order

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/los-tecnicos/gridledger/pkg/storage"
	"github.com/los-tecnicos/gridledger/pkg/util"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidPrice    = errors.New("price must be positive")
	ErrMissingDeviceID = errors.New("device id required")
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotOpen    = errors.New("order is not open")
)

// Store persists orders and allocates sequence ids. Ids start at 1 and are
// strictly increasing with no gaps across successful creates: the counter
// advances in the same batch that writes the order, so a failed create never
// consumes an id.
//
// Mutating calls are serialized by the grid App.
type Store struct {
	kv    storage.KV
	clock util.Clock
}

func NewStore(kv storage.KV, clock util.Clock) *Store {
	return &Store{kv: kv, clock: clock}
}

// Create validates and persists a new open order owned by owner. Callers may
// only create orders for themselves, no delegation.
func (s *Store) Create(caller, owner common.Address, side Side, quantity, price int64, deviceID string) (uint64, error) {
	if caller != owner {
		return 0, fmt.Errorf("create order: caller %s is not owner %s: %w", caller.Hex(), owner.Hex(), ErrUnauthorized)
	}
	if !side.Valid() {
		return 0, fmt.Errorf("create order: invalid side %d", side)
	}
	if quantity <= 0 {
		return 0, fmt.Errorf("create order: %d: %w", quantity, ErrInvalidQuantity)
	}
	if price <= 0 {
		return 0, fmt.Errorf("create order: %d: %w", price, ErrInvalidPrice)
	}
	if deviceID == "" {
		return 0, fmt.Errorf("create order: %w", ErrMissingDeviceID)
	}

	seq, err := s.counter()
	if err != nil {
		return 0, err
	}
	id := seq + 1

	now := s.clock.Now().UnixMilli()
	ord := &Order{
		ID:        id,
		Owner:     owner,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Status:    StatusOpen,
		DeviceID:  deviceID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(ord)
	if err != nil {
		return 0, fmt.Errorf("create order: marshal: %w", err)
	}

	b := s.kv.NewBatch()
	defer b.Close()
	if err := b.Set(storage.OrderKey(id), data); err != nil {
		return 0, fmt.Errorf("create order: stage order: %w", err)
	}
	if err := b.Set([]byte(storage.KeyOrderSeq), storage.EncodeUint64(id)); err != nil {
		return 0, fmt.Errorf("create order: stage counter: %w", err)
	}
	if err := b.Commit(); err != nil {
		return 0, fmt.Errorf("create order: commit: %w", err)
	}
	return id, nil
}

// Get returns the order with the given id, or nil if it does not exist.
// Absence is not an error.
func (s *Store) Get(id uint64) (*Order, error) {
	data, found, err := s.kv.Get(storage.OrderKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", id, err)
	}
	if !found {
		return nil, nil
	}

	var ord Order
	if err := json.Unmarshal(data, &ord); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order %d: %w", id, err)
	}
	return &ord, nil
}

// Cancel moves an open order to Cancelled. Only the owner may cancel.
// The record is kept for audit, never deleted.
func (s *Store) Cancel(caller common.Address, id uint64) error {
	ord, err := s.Get(id)
	if err != nil {
		return err
	}
	if ord == nil {
		return fmt.Errorf("cancel order %d: %w", id, ErrOrderNotFound)
	}
	if caller != ord.Owner {
		return fmt.Errorf("cancel order %d: caller %s is not owner: %w", id, caller.Hex(), ErrUnauthorized)
	}
	if !ord.Status.CanTransition(StatusCancelled) {
		return fmt.Errorf("cancel order %d: status %s: %w", id, ord.Status, ErrOrderNotOpen)
	}

	ord.Status = StatusCancelled
	ord.UpdatedAt = s.clock.Now().UnixMilli()
	return s.put(ord)
}

// StageComplete stages the transition of ord to Completed into b, recording
// the settlement price and, for the sell side, its yield. The write becomes
// visible only when the engine commits the settlement batch.
func (s *Store) StageComplete(b storage.Batch, ord *Order, settledPrice, yield int64) error {
	if !ord.Status.CanTransition(StatusCompleted) {
		return fmt.Errorf("complete order %d: status %s: %w", ord.ID, ord.Status, ErrOrderNotOpen)
	}

	upd := *ord
	upd.Status = StatusCompleted
	upd.SettledPrice = settledPrice
	upd.YieldEarned = yield
	upd.UpdatedAt = s.clock.Now().UnixMilli()

	data, err := json.Marshal(&upd)
	if err != nil {
		return fmt.Errorf("complete order %d: marshal: %w", ord.ID, err)
	}
	if err := b.Set(storage.OrderKey(ord.ID), data); err != nil {
		return fmt.Errorf("complete order %d: stage: %w", ord.ID, err)
	}
	return nil
}

// NextID returns the id the next successful create will be assigned.
func (s *Store) NextID() uint64 {
	seq, err := s.counter()
	if err != nil {
		return 0
	}
	return seq + 1
}

func (s *Store) put(ord *Order) error {
	data, err := json.Marshal(ord)
	if err != nil {
		return fmt.Errorf("failed to marshal order %d: %w", ord.ID, err)
	}
	return s.kv.Set(storage.OrderKey(ord.ID), data)
}

func (s *Store) counter() (uint64, error) {
	val, found, err := s.kv.Get([]byte(storage.KeyOrderSeq))
	if err != nil {
		return 0, fmt.Errorf("failed to read order counter: %w", err)
	}
	if !found {
		return 0, nil
	}
	return storage.DecodeUint64(val), nil
}

package market

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/los-tecnicos/gridledger/pkg/app/core/ledger"
	"github.com/los-tecnicos/gridledger/pkg/app/core/order"
	"github.com/los-tecnicos/gridledger/pkg/storage"
	"github.com/los-tecnicos/gridledger/pkg/util"
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderNotOpen      = errors.New("order is not open")
	ErrInvalidOrderTypes = errors.New("invalid order types for matching")
	ErrQuantityMismatch  = errors.New("quantities must match")
	ErrPriceTooLow       = errors.New("buy price below sell price")
)

// yieldRatePct is the simulated annualized return credited to the seller for
// capital locked during settlement: 5% of the trade notional, truncating
// integer division.
const yieldRatePct = 5

// Settlement is the persisted, queryable outcome of a matched pair.
type Settlement struct {
	SellID    uint64         `json:"sell_id"`
	BuyID     uint64         `json:"buy_id"`
	Seller    common.Address `json:"seller"`
	Buyer     common.Address `json:"buyer"`
	Quantity  int64          `json:"quantity"`
	Price     int64          `json:"price"` // seller's ask, the settlement price
	Notional  int64          `json:"notional"`
	Yield     int64          `json:"yield"`
	SettledAt int64          `json:"settled_at"` // Unix milliseconds
}

// Engine validates a sell/buy pair and settles it atomically: both orders
// move to Completed and value moves between the two accounts in a single
// batch commit. It never writes balance keys itself; balance movement is
// staged through the Ledger.
type Engine struct {
	kv     storage.KV
	orders *order.Store
	ledger *ledger.Ledger
	admin  common.Address
	clock  util.Clock
	log    *zap.SugaredLogger
}

func NewEngine(kv storage.KV, orders *order.Store, l *ledger.Ledger, admin common.Address, clock util.Clock, log *zap.SugaredLogger) *Engine {
	return &Engine{kv: kv, orders: orders, ledger: l, admin: admin, clock: clock, log: log}
}

// CalculateYield returns the yield bonus for a trade notional.
func CalculateYield(notional int64) int64 {
	return notional * yieldRatePct / 100
}

// MatchOrders settles exactly the two orders given: sellID must name a Sell
// and buyID a Buy; the slots are not symmetric and are never swapped
// silently. Quantities must be exactly equal (no partial fills) and the
// buyer's limit must cover the seller's ask. The trade executes at the
// seller's ask: sellers are paid their ask, buyers are not charged their bid.
//
// All validation happens before any write. On success the buyer is debited
// the notional, the seller credited notional plus yield, and both orders are
// completed, in one atomic commit. Validation failures leave every store
// untouched.
func (e *Engine) MatchOrders(caller common.Address, sellID, buyID uint64) (*Settlement, error) {
	if caller != e.admin {
		return nil, fmt.Errorf("match %d/%d: caller %s is not the marketplace admin: %w", sellID, buyID, caller.Hex(), ErrUnauthorized)
	}

	sell, err := e.orders.Get(sellID)
	if err != nil {
		return nil, err
	}
	if sell == nil {
		return nil, fmt.Errorf("match: sell order %d: %w", sellID, ErrOrderNotFound)
	}
	buy, err := e.orders.Get(buyID)
	if err != nil {
		return nil, err
	}
	if buy == nil {
		return nil, fmt.Errorf("match: buy order %d: %w", buyID, ErrOrderNotFound)
	}

	if !sell.IsOpen() {
		return nil, fmt.Errorf("match: sell order %d is %s: %w", sellID, sell.Status, ErrOrderNotOpen)
	}
	if !buy.IsOpen() {
		return nil, fmt.Errorf("match: buy order %d is %s: %w", buyID, buy.Status, ErrOrderNotOpen)
	}

	if sell.Side != order.Sell || buy.Side != order.Buy {
		return nil, fmt.Errorf("match: got %s/%s in sell/buy slots: %w", sell.Side, buy.Side, ErrInvalidOrderTypes)
	}

	if sell.Quantity != buy.Quantity {
		return nil, fmt.Errorf("match: sell qty %d vs buy qty %d: %w", sell.Quantity, buy.Quantity, ErrQuantityMismatch)
	}

	if buy.Price < sell.Price {
		return nil, fmt.Errorf("match: buy limit %d below ask %d: %w", buy.Price, sell.Price, ErrPriceTooLow)
	}

	notional := sell.Quantity * sell.Price
	yield := CalculateYield(notional)

	stl := &Settlement{
		SellID:    sellID,
		BuyID:     buyID,
		Seller:    sell.Owner,
		Buyer:     buy.Owner,
		Quantity:  sell.Quantity,
		Price:     sell.Price,
		Notional:  notional,
		Yield:     yield,
		SettledAt: e.clock.Now().UnixMilli(),
	}

	b := e.kv.NewBatch()
	defer b.Close()

	// The buyer-funds check lives in StageSettlement; it runs before the
	// batch commits, so an underfunded buyer surfaces as a validation
	// failure with no partial writes.
	if err := e.ledger.StageSettlement(b, buy.Owner, sell.Owner, notional, yield); err != nil {
		return nil, err
	}
	if err := e.orders.StageComplete(b, sell, sell.Price, yield); err != nil {
		return nil, err
	}
	if err := e.orders.StageComplete(b, buy, sell.Price, 0); err != nil {
		return nil, err
	}

	data, err := json.Marshal(stl)
	if err != nil {
		return nil, fmt.Errorf("match: marshal settlement: %w", err)
	}
	if err := b.Set(storage.SettlementKey(sellID), data); err != nil {
		return nil, fmt.Errorf("match: stage settlement: %w", err)
	}

	if err := b.Commit(); err != nil {
		return nil, fmt.Errorf("match: commit: %w", err)
	}

	e.log.Infow("orders_settled",
		"sell_id", sellID, "buy_id", buyID,
		"seller", sell.Owner.Hex(), "buyer", buy.Owner.Hex(),
		"qty_kwh", stl.Quantity, "price", stl.Price,
		"notional", notional, "yield", yield,
	)
	return stl, nil
}

// GetSettlement returns the settlement keyed by its sell order id, or nil if
// the pair has not settled.
func (e *Engine) GetSettlement(sellID uint64) (*Settlement, error) {
	data, found, err := e.kv.Get(storage.SettlementKey(sellID))
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement %d: %w", sellID, err)
	}
	if !found {
		return nil, nil
	}

	var stl Settlement
	if err := json.Unmarshal(data, &stl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settlement %d: %w", sellID, err)
	}
	return &stl, nil
}

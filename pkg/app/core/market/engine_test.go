package market

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/los-tecnicos/gridledger/pkg/app/core/ledger"
	"github.com/los-tecnicos/gridledger/pkg/app/core/order"
	"github.com/los-tecnicos/gridledger/pkg/storage"
	"github.com/los-tecnicos/gridledger/pkg/util"
)

var (
	admin  = common.HexToAddress("0xAD00000000000000000000000000000000000000")
	seller = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	buyer  = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

type fixture struct {
	kv     *storage.MemStore
	orders *order.Store
	ledger *ledger.Ledger
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := storage.NewMemStore()
	clock := util.FixedClock{T: time.UnixMilli(1700000000000)}
	l := ledger.New(kv, admin)
	orders := order.NewStore(kv, clock)
	return &fixture{
		kv:     kv,
		orders: orders,
		ledger: l,
		engine: NewEngine(kv, orders, l, admin, clock, zap.NewNop().Sugar()),
	}
}

// openPair creates a matchable sell/buy pair and funds the buyer.
// Sell: 50 kWh at 10, buy: 50 kWh limit 12. Returns (sellID, buyID).
func (f *fixture) openPair(t *testing.T) (uint64, uint64) {
	t.Helper()
	sellID, err := f.orders.Create(seller, seller, order.Sell, 50, 10, "meter-a")
	if err != nil {
		t.Fatalf("create sell: %v", err)
	}
	buyID, err := f.orders.Create(buyer, buyer, order.Buy, 50, 12, "meter-b")
	if err != nil {
		t.Fatalf("create buy: %v", err)
	}
	if err := f.ledger.Mint(admin, buyer, 10000); err != nil {
		t.Fatalf("fund buyer: %v", err)
	}
	return sellID, buyID
}

func TestMatchOrders(t *testing.T) {
	f := newFixture(t)
	sellID, buyID := f.openPair(t)

	stl, err := f.engine.MatchOrders(admin, sellID, buyID)
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}

	// Trade executes at the seller's ask: notional 50*10=500, yield 5% = 25
	if stl.Price != 10 {
		t.Errorf("settlement price = %d, want 10 (seller's ask)", stl.Price)
	}
	if stl.Notional != 500 {
		t.Errorf("notional = %d, want 500", stl.Notional)
	}
	if stl.Yield != 25 {
		t.Errorf("yield = %d, want 25", stl.Yield)
	}

	// Buyer pays notional only; seller receives notional plus yield
	if got := f.ledger.BalanceOf(buyer); got != 9500 {
		t.Errorf("buyer balance = %d, want 9500", got)
	}
	if got := f.ledger.BalanceOf(seller); got != 525 {
		t.Errorf("seller balance = %d, want 525", got)
	}

	// Both orders completed, yield recorded on the sell side only
	sell, _ := f.orders.Get(sellID)
	if sell.Status != order.StatusCompleted {
		t.Errorf("sell status = %s, want completed", sell.Status)
	}
	if sell.SettledPrice != 10 || sell.YieldEarned != 25 {
		t.Errorf("sell settlement fields: price=%d yield=%d", sell.SettledPrice, sell.YieldEarned)
	}
	buy, _ := f.orders.Get(buyID)
	if buy.Status != order.StatusCompleted {
		t.Errorf("buy status = %s, want completed", buy.Status)
	}
	if buy.YieldEarned != 0 {
		t.Errorf("buy yield = %d, want 0", buy.YieldEarned)
	}

	// The settlement record is queryable by sell id
	got, err := f.engine.GetSettlement(sellID)
	if err != nil {
		t.Fatalf("get settlement: %v", err)
	}
	if got == nil || got.BuyID != buyID || got.Seller != seller || got.Buyer != buyer {
		t.Errorf("settlement record wrong: %+v", got)
	}
}

func TestMatchOrders_Unauthorized(t *testing.T) {
	f := newFixture(t)
	sellID, buyID := f.openPair(t)

	_, err := f.engine.MatchOrders(seller, sellID, buyID)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	f.assertUntouched(t, sellID, buyID)
}

func TestMatchOrders_NotFound(t *testing.T) {
	f := newFixture(t)
	sellID, _ := f.openPair(t)

	if _, err := f.engine.MatchOrders(admin, 99, sellID); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("missing sell: expected ErrOrderNotFound, got %v", err)
	}
	if _, err := f.engine.MatchOrders(admin, sellID, 99); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("missing buy: expected ErrOrderNotFound, got %v", err)
	}
}

func TestMatchOrders_SwappedSlots(t *testing.T) {
	f := newFixture(t)
	sellID, buyID := f.openPair(t)

	// Slots are positional: passing the buy order in the sell slot must be
	// rejected, never silently reordered
	_, err := f.engine.MatchOrders(admin, buyID, sellID)
	if !errors.Is(err, ErrInvalidOrderTypes) {
		t.Fatalf("expected ErrInvalidOrderTypes, got %v", err)
	}
	f.assertUntouched(t, sellID, buyID)
}

func TestMatchOrders_SameSide(t *testing.T) {
	f := newFixture(t)
	sellID, _ := f.openPair(t)

	sell2, err := f.orders.Create(buyer, buyer, order.Sell, 50, 10, "meter-b")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.MatchOrders(admin, sellID, sell2); !errors.Is(err, ErrInvalidOrderTypes) {
		t.Fatalf("expected ErrInvalidOrderTypes, got %v", err)
	}
}

func TestMatchOrders_QuantityMismatch(t *testing.T) {
	f := newFixture(t)

	sellID, err := f.orders.Create(seller, seller, order.Sell, 50, 10, "meter-a")
	if err != nil {
		t.Fatalf("create sell: %v", err)
	}
	// 49 kWh does not fill a 50 kWh offer; no partial fills
	buyID, err := f.orders.Create(buyer, buyer, order.Buy, 49, 12, "meter-b")
	if err != nil {
		t.Fatalf("create buy: %v", err)
	}
	if err := f.ledger.Mint(admin, buyer, 10000); err != nil {
		t.Fatalf("fund buyer: %v", err)
	}

	_, err = f.engine.MatchOrders(admin, sellID, buyID)
	if !errors.Is(err, ErrQuantityMismatch) {
		t.Fatalf("expected ErrQuantityMismatch, got %v", err)
	}
	f.assertUntouched(t, sellID, buyID)
}

func TestMatchOrders_PriceTooLow(t *testing.T) {
	f := newFixture(t)

	sellID, err := f.orders.Create(seller, seller, order.Sell, 50, 12, "meter-a")
	if err != nil {
		t.Fatalf("create sell: %v", err)
	}
	buyID, err := f.orders.Create(buyer, buyer, order.Buy, 50, 10, "meter-b")
	if err != nil {
		t.Fatalf("create buy: %v", err)
	}
	if err := f.ledger.Mint(admin, buyer, 10000); err != nil {
		t.Fatalf("fund buyer: %v", err)
	}

	_, err = f.engine.MatchOrders(admin, sellID, buyID)
	if !errors.Is(err, ErrPriceTooLow) {
		t.Fatalf("expected ErrPriceTooLow, got %v", err)
	}
	f.assertUntouched(t, sellID, buyID)
}

func TestMatchOrders_ExactPriceMatches(t *testing.T) {
	f := newFixture(t)

	sellID, err := f.orders.Create(seller, seller, order.Sell, 50, 10, "meter-a")
	if err != nil {
		t.Fatalf("create sell: %v", err)
	}
	buyID, err := f.orders.Create(buyer, buyer, order.Buy, 50, 10, "meter-b")
	if err != nil {
		t.Fatalf("create buy: %v", err)
	}
	if err := f.ledger.Mint(admin, buyer, 500); err != nil {
		t.Fatalf("fund buyer: %v", err)
	}

	// buy limit == ask is a valid match, and the buyer may spend their
	// entire balance on it
	stl, err := f.engine.MatchOrders(admin, sellID, buyID)
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if stl.Notional != 500 {
		t.Errorf("notional = %d, want 500", stl.Notional)
	}
	if got := f.ledger.BalanceOf(buyer); got != 0 {
		t.Errorf("buyer balance = %d, want 0", got)
	}
}

func TestMatchOrders_NotOpen(t *testing.T) {
	f := newFixture(t)
	sellID, buyID := f.openPair(t)

	if _, err := f.engine.MatchOrders(admin, sellID, buyID); err != nil {
		t.Fatalf("first match failed: %v", err)
	}
	// A settled pair cannot settle again
	if _, err := f.engine.MatchOrders(admin, sellID, buyID); !errors.Is(err, ErrOrderNotOpen) {
		t.Fatalf("expected ErrOrderNotOpen, got %v", err)
	}
}

func TestMatchOrders_BuyerUnderfunded(t *testing.T) {
	f := newFixture(t)

	sellID, err := f.orders.Create(seller, seller, order.Sell, 50, 10, "meter-a")
	if err != nil {
		t.Fatalf("create sell: %v", err)
	}
	buyID, err := f.orders.Create(buyer, buyer, order.Buy, 50, 12, "meter-b")
	if err != nil {
		t.Fatalf("create buy: %v", err)
	}
	if err := f.ledger.Mint(admin, buyer, 499); err != nil {
		t.Fatalf("fund buyer: %v", err)
	}

	_, err = f.engine.MatchOrders(admin, sellID, buyID)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	f.assertUntouched(t, sellID, buyID)
	if got := f.ledger.BalanceOf(buyer); got != 499 {
		t.Errorf("failed match changed buyer balance: %d", got)
	}
}

func TestMatchOrders_BalanceConservation(t *testing.T) {
	f := newFixture(t)
	sellID, buyID := f.openPair(t)

	before := f.ledger.BalanceOf(seller) + f.ledger.BalanceOf(buyer)
	stl, err := f.engine.MatchOrders(admin, sellID, buyID)
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	after := f.ledger.BalanceOf(seller) + f.ledger.BalanceOf(buyer)

	// Total supply grows by exactly the minted yield
	if after-before != stl.Yield {
		t.Errorf("supply delta = %d, want yield %d", after-before, stl.Yield)
	}
}

func TestCalculateYield(t *testing.T) {
	tests := []struct {
		notional, want int64
	}{
		{500, 25},
		{100, 5},
		{19, 0}, // truncating division
		{39, 1},
		{0, 0},
	}
	for _, tt := range tests {
		if got := CalculateYield(tt.notional); got != tt.want {
			t.Errorf("CalculateYield(%d) = %d, want %d", tt.notional, got, tt.want)
		}
	}
}

func TestGetSettlement_Absent(t *testing.T) {
	f := newFixture(t)

	stl, err := f.engine.GetSettlement(7)
	if err != nil {
		t.Fatalf("get settlement: %v", err)
	}
	if stl != nil {
		t.Errorf("expected nil, got %+v", stl)
	}
}

// assertUntouched verifies a rejected match wrote nothing: both orders are
// still open and no settlement record exists.
func (f *fixture) assertUntouched(t *testing.T, sellID, buyID uint64) {
	t.Helper()
	sell, _ := f.orders.Get(sellID)
	if sell.Status != order.StatusOpen {
		t.Errorf("sell status = %s, want open", sell.Status)
	}
	buy, _ := f.orders.Get(buyID)
	if buy.Status != order.StatusOpen {
		t.Errorf("buy status = %s, want open", buy.Status)
	}
	if stl, _ := f.engine.GetSettlement(sellID); stl != nil {
		t.Errorf("unexpected settlement record: %+v", stl)
	}
}

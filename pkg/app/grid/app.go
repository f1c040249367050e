package grid

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/los-tecnicos/gridledger/params"
	"github.com/los-tecnicos/gridledger/pkg/app/core/ledger"
	"github.com/los-tecnicos/gridledger/pkg/app/core/market"
	"github.com/los-tecnicos/gridledger/pkg/app/core/order"
	"github.com/los-tecnicos/gridledger/pkg/app/core/registry"
	"github.com/los-tecnicos/gridledger/pkg/app/core/transaction"
	gridcrypto "github.com/los-tecnicos/gridledger/pkg/crypto"
	"github.com/los-tecnicos/gridledger/pkg/storage"
	"github.com/los-tecnicos/gridledger/pkg/util"
)

var (
	ErrNotAProducer = fmt.Errorf("resident is not a producer")
	ErrNotAConsumer = fmt.Errorf("resident is not a consumer")
)

// SettlementSink receives settled trades, e.g. the WebSocket hub and the
// community mesh announcer. Publish must not block the settlement path.
type SettlementSink interface {
	PublishSettlement(stl *market.Settlement)
}

// App is the marketplace application: one Ledger plus one Order Store per
// deployment, fronted by the authorization gate. A single mutex serializes
// every mutating operation, giving each the same run-to-completion semantics
// the contract runtime provided; reads go straight to storage and may see the
// pre- or post-state of an in-flight mutation but never a partial one.
type App struct {
	mu sync.Mutex

	admin    common.Address
	kv       storage.KV
	ledger   *ledger.Ledger
	orders   *order.Store
	engine   *market.Engine
	registry *registry.Registry
	verifier *transaction.Verifier
	audit    storage.AuditLog
	clock    util.Clock
	log      *zap.SugaredLogger
	sinks    []SettlementSink
}

type Options struct {
	Admin common.Address
	KV    storage.KV
	Audit storage.AuditLog
	Clock util.Clock
	Log   *zap.SugaredLogger
}

func NewApp(opts Options) *App {
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Audit == nil {
		opts.Audit = storage.NewNopAudit()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}

	l := ledger.New(opts.KV, opts.Admin)
	orders := order.NewStore(opts.KV, opts.Clock)

	return &App{
		admin:    opts.Admin,
		kv:       opts.KV,
		ledger:   l,
		orders:   orders,
		engine:   market.NewEngine(opts.KV, orders, l, opts.Admin, opts.Clock, opts.Log),
		registry: registry.New(opts.KV, opts.Admin),
		verifier: transaction.NewVerifier(),
		audit:    opts.Audit,
		clock:    opts.Clock,
		log:      opts.Log,
	}
}

// AddSettlementSink registers a sink for settled trades. Not safe to call
// after the node starts serving.
func (a *App) AddSettlementSink(s SettlementSink) {
	a.sinks = append(a.sinks, s)
}

// Admin returns the marketplace administrator address.
func (a *App) Admin() common.Address { return a.admin }

// RegisterResident records a community member. Admin only.
func (a *App) RegisterResident(caller common.Address, res *registry.Resident) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registerResident(caller, res)
}

func (a *App) registerResident(caller common.Address, res *registry.Resident) error {
	if err := a.registry.Register(caller, res); err != nil {
		return err
	}
	a.audit.Append(fmt.Sprintf("register resident=%s type=%s", res.Address.Hex(), res.Type))
	a.log.Infow("resident_registered", "resident", res.Address.Hex(), "type", res.Type)
	return nil
}

// MintEnergyTokens converts a producer's metered kilowatt-hours into token
// units and mints them to the producer's account. The caller must be a
// registered producer; when the resident has a registered meter key the
// request must carry a valid attestation over the same reading. The app
// exercises the community's minting authority once those checks pass.
func (a *App) MintEnergyTokens(caller common.Address, kwhAmount uint64, att *gridcrypto.MeterAttestation) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mintEnergyTokens(caller, kwhAmount, att)
}

func (a *App) mintEnergyTokens(caller common.Address, kwhAmount uint64, att *gridcrypto.MeterAttestation) (int64, error) {
	res, err := a.registry.Get(caller)
	if err != nil {
		return 0, err
	}
	if res == nil {
		return 0, fmt.Errorf("mint: %s: %w", caller.Hex(), registry.ErrNotRegistered)
	}
	if res.Type != registry.Producer {
		return 0, fmt.Errorf("mint: %s: %w", caller.Hex(), ErrNotAProducer)
	}

	if res.DevicePubKey != "" {
		if att == nil {
			return 0, fmt.Errorf("mint: meter attestation required for %s", caller.Hex())
		}
		if att.KwhAmount != kwhAmount {
			return 0, fmt.Errorf("mint: attestation covers %d kWh, request claims %d", att.KwhAmount, kwhAmount)
		}
		ok, err := gridcrypto.VerifyAttestation(res.DevicePubKey, att)
		if err != nil {
			return 0, fmt.Errorf("mint: %w", err)
		}
		if !ok {
			return 0, fmt.Errorf("mint: attestation signature invalid for device %s", att.DeviceID)
		}
	}

	if kwhAmount == 0 {
		return 0, fmt.Errorf("mint: 0 kWh: %w", ledger.ErrInvalidAmount)
	}
	tokenAmount := int64(kwhAmount) * params.KwhToTokenRatio

	if err := a.ledger.Mint(a.admin, caller, tokenAmount); err != nil {
		return 0, err
	}

	a.audit.Append(fmt.Sprintf("mint account=%s kwh=%d tokens=%d", caller.Hex(), kwhAmount, tokenAmount))
	a.log.Infow("energy_minted", "account", caller.Hex(), "kwh", kwhAmount, "tokens", tokenAmount)
	return tokenAmount, nil
}

// PurchaseEnergy burns token units from a consumer's account in exchange for
// grid energy. The caller must be a registered consumer and own the balance.
func (a *App) PurchaseEnergy(caller common.Address, tokenAmount int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.purchaseEnergy(caller, tokenAmount)
}

func (a *App) purchaseEnergy(caller common.Address, tokenAmount int64) error {
	res, err := a.registry.Get(caller)
	if err != nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("purchase: %s: %w", caller.Hex(), registry.ErrNotRegistered)
	}
	if res.Type != registry.Consumer {
		return fmt.Errorf("purchase: %s: %w", caller.Hex(), ErrNotAConsumer)
	}

	if err := a.ledger.Burn(caller, caller, tokenAmount); err != nil {
		return err
	}

	a.audit.Append(fmt.Sprintf("burn account=%s tokens=%d", caller.Hex(), tokenAmount))
	a.log.Infow("energy_purchased", "account", caller.Hex(), "tokens", tokenAmount)
	return nil
}

// CreateOrder places a new open order owned by the caller.
func (a *App) CreateOrder(caller common.Address, side order.Side, quantity, price int64, deviceID string) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.createOrder(caller, side, quantity, price, deviceID)
}

func (a *App) createOrder(caller common.Address, side order.Side, quantity, price int64, deviceID string) (uint64, error) {
	id, err := a.orders.Create(caller, caller, side, quantity, price, deviceID)
	if err != nil {
		return 0, err
	}

	a.audit.Append(fmt.Sprintf("order id=%d owner=%s side=%s qty=%d price=%d", id, caller.Hex(), side, quantity, price))
	a.log.Infow("order_created", "id", id, "owner", caller.Hex(), "side", side.String(), "qty_kwh", quantity, "price", price)
	return id, nil
}

// CancelOrder cancels the caller's open order.
func (a *App) CancelOrder(caller common.Address, id uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelOrder(caller, id)
}

func (a *App) cancelOrder(caller common.Address, id uint64) error {
	if err := a.orders.Cancel(caller, id); err != nil {
		return err
	}
	a.audit.Append(fmt.Sprintf("cancel id=%d owner=%s", id, caller.Hex()))
	a.log.Infow("order_cancelled", "id", id, "owner", caller.Hex())
	return nil
}

// MatchOrders settles the given sell/buy pair. Admin only.
func (a *App) MatchOrders(caller common.Address, sellID, buyID uint64) (*market.Settlement, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.matchOrders(caller, sellID, buyID)
}

func (a *App) matchOrders(caller common.Address, sellID, buyID uint64) (*market.Settlement, error) {
	stl, err := a.engine.MatchOrders(caller, sellID, buyID)
	if err != nil {
		return nil, err
	}

	a.audit.Append(fmt.Sprintf("settle sell=%d buy=%d notional=%d yield=%d", sellID, buyID, stl.Notional, stl.Yield))
	for _, s := range a.sinks {
		s.PublishSettlement(stl)
	}
	return stl, nil
}

// ---- reads (no lock: storage reads are atomic per key, and settlement
// batches commit atomically) ----

func (a *App) BalanceOf(account common.Address) int64 {
	return a.ledger.BalanceOf(account)
}

func (a *App) MintCount() uint64 {
	return a.ledger.MintCount()
}

func (a *App) GetOrder(id uint64) (*order.Order, error) {
	return a.orders.Get(id)
}

func (a *App) GetResident(addr common.Address) (*registry.Resident, error) {
	return a.registry.Get(addr)
}

func (a *App) GetSettlement(sellID uint64) (*market.Settlement, error) {
	return a.engine.GetSettlement(sellID)
}

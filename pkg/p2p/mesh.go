package p2p

import (
	"context"
	"encoding/json"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/los-tecnicos/gridledger/pkg/app/core/market"
)

const topicSettlements = "gridledger/settlements/1"

// Mesh gossips settlement events to other community nodes. Mesh relays
// (rooftop gateways, substation monitors) subscribe to mirror the trade feed
// without polling the REST API. Publishing is fire-and-forget: the ledger is
// the source of truth and a missed announcement changes nothing.
type Mesh struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *zap.SugaredLogger
}

type MeshConfig struct {
	ListenAddr string   // multiaddr, e.g. /ip4/0.0.0.0/tcp/9000
	Bootstrap  []string // multiaddrs of known community nodes
	Logger     *zap.SugaredLogger
}

// SettlementAnnouncement is the wire format on the settlements topic.
type SettlementAnnouncement struct {
	SellID   uint64 `json:"sell_id"`
	BuyID    uint64 `json:"buy_id"`
	Seller   string `json:"seller"`
	Buyer    string `json:"buyer"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
	Notional int64  `json:"notional"`
	Yield    int64  `json:"yield"`
}

func NewMesh(ctx context.Context, cfg MeshConfig) (*Mesh, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	m := &Mesh{h: h, ps: ps, log: cfg.Logger}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if m.topic, err = ps.Join(topicSettlements); err != nil {
		return nil, err
	}
	if m.sub, err = m.topic.Subscribe(); err != nil {
		return nil, err
	}

	go m.handleAnnouncements(ctx)

	cfg.Logger.Infow("mesh_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return m, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

// PublishSettlement implements grid.SettlementSink.
func (m *Mesh) PublishSettlement(stl *market.Settlement) {
	ann := SettlementAnnouncement{
		SellID:   stl.SellID,
		BuyID:    stl.BuyID,
		Seller:   stl.Seller.Hex(),
		Buyer:    stl.Buyer.Hex(),
		Quantity: stl.Quantity,
		Price:    stl.Price,
		Notional: stl.Notional,
		Yield:    stl.Yield,
	}
	data, err := json.Marshal(ann)
	if err != nil {
		m.log.Warnw("mesh_marshal_failed", "err", err)
		return
	}
	if err := m.topic.Publish(context.Background(), data); err != nil {
		m.log.Warnw("mesh_publish_failed", "err", err)
	}
}

func (m *Mesh) handleAnnouncements(ctx context.Context) {
	for {
		msg, err := m.sub.Next(ctx)
		if err != nil {
			return // context cancelled or subscription closed
		}
		if msg.ReceivedFrom == m.h.ID() {
			continue // our own announcement
		}

		var ann SettlementAnnouncement
		if err := json.Unmarshal(msg.Data, &ann); err != nil {
			m.log.Warnw("mesh_bad_announcement", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}
		m.log.Infow("mesh_settlement_observed",
			"from", msg.ReceivedFrom.String(),
			"sell_id", ann.SellID, "buy_id", ann.BuyID,
			"notional", ann.Notional,
		)
	}
}

func (m *Mesh) Close() error {
	m.sub.Cancel()
	return m.h.Close()
}

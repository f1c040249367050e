package api

// REST response shapes. Balances and amounts are integer token units
// (6 decimals); quantities are whole kWh.

type BalanceResponse struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

type OrderResponse struct {
	ID           uint64 `json:"id"`
	Owner        string `json:"owner"`
	Side         string `json:"side"`
	Quantity     int64  `json:"quantity"`
	Price        int64  `json:"price"`
	Status       string `json:"status"`
	DeviceID     string `json:"device_id"`
	SettledPrice int64  `json:"settled_price,omitempty"`
	YieldEarned  int64  `json:"yield_earned,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

type ResidentResponse struct {
	Address      string `json:"address"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	DevicePubKey string `json:"device_pub_key,omitempty"`
}

type SettlementResponse struct {
	SellID    uint64 `json:"sell_id"`
	BuyID     uint64 `json:"buy_id"`
	Seller    string `json:"seller"`
	Buyer     string `json:"buyer"`
	Quantity  int64  `json:"quantity"`
	Price     int64  `json:"price"`
	Notional  int64  `json:"notional"`
	Yield     int64  `json:"yield"`
	SettledAt int64  `json:"settled_at"`
}

type StatsResponse struct {
	MintCount uint64 `json:"mint_count"`
	Admin     string `json:"admin"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WSSubscribeRequest is the client → hub control message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSSettlementEvent is pushed on the "settlements" channel.
type WSSettlementEvent struct {
	Channel string             `json:"channel"`
	Data    SettlementResponse `json:"data"`
}

package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/los-tecnicos/gridledger/pkg/app/core/market"
	"github.com/los-tecnicos/gridledger/pkg/app/core/order"
	"github.com/los-tecnicos/gridledger/pkg/app/grid"
)

// Server exposes the marketplace over REST and WebSocket. All mutations go
// through POST /api/v1/tx as signed envelopes; everything else is read-only.
type Server struct {
	app    *grid.App
	router *mux.Router
	hub    *Hub
}

func NewServer(app *grid.App) *Server {
	s := &Server{
		app:    app,
		router: mux.NewRouter(),
		hub:    NewHub(),
	}
	app.AddSettlementSink(s)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/balances/{address}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/residents/{address}", s.handleGetResident).Methods("GET")
	api.HandleFunc("/settlements/{sellId}", s.handleGetSettlement).Methods("GET")
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")

	// Signed transaction submission (mint, burn, orders, match)
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// PublishSettlement implements grid.SettlementSink: settled trades are pushed
// to WebSocket subscribers of the "settlements" channel.
func (s *Server) PublishSettlement(stl *market.Settlement) {
	s.hub.BroadcastSettlement(WSSettlementEvent{
		Channel: channelSettlements,
		Data:    settlementResponse(stl),
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r, "address")
	if !ok {
		return
	}
	respondJSON(w, BalanceResponse{
		Address: addr.Hex(),
		Balance: s.app.BalanceOf(addr),
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	ord, err := s.app.GetOrder(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load order", err.Error())
		return
	}
	if ord == nil {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}
	respondJSON(w, orderResponse(ord))
}

func (s *Server) handleGetResident(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r, "address")
	if !ok {
		return
	}

	res, err := s.app.GetResident(addr)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load resident", err.Error())
		return
	}
	if res == nil {
		respondError(w, http.StatusNotFound, "resident not found", "")
		return
	}
	respondJSON(w, ResidentResponse{
		Address:      res.Address.Hex(),
		Type:         string(res.Type),
		Name:         res.Name,
		DevicePubKey: res.DevicePubKey,
	})
}

func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	sellID, err := strconv.ParseUint(mux.Vars(r)["sellId"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid sell order id", err.Error())
		return
	}

	stl, err := s.app.GetSettlement(sellID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load settlement", err.Error())
		return
	}
	if stl == nil {
		respondError(w, http.StatusNotFound, "settlement not found", "")
		return
	}
	respondJSON(w, settlementResponse(stl))
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, StatsResponse{
		MintCount: s.app.MintCount(),
		Admin:     s.app.Admin().Hex(),
	})
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	result, err := s.app.ApplySignedTx(body)
	if err != nil {
		// Validation and authorization failures are terminal and
		// surfaced verbatim; callers resubmit, nothing is retried.
		respondError(w, http.StatusUnprocessableEntity, "transaction rejected", err.Error())
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func parseAddress(w http.ResponseWriter, r *http.Request, key string) (common.Address, bool) {
	raw := mux.Vars(r)[key]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func orderResponse(ord *order.Order) OrderResponse {
	return OrderResponse{
		ID:           ord.ID,
		Owner:        ord.Owner.Hex(),
		Side:         ord.Side.String(),
		Quantity:     ord.Quantity,
		Price:        ord.Price,
		Status:       ord.Status.String(),
		DeviceID:     ord.DeviceID,
		SettledPrice: ord.SettledPrice,
		YieldEarned:  ord.YieldEarned,
		CreatedAt:    ord.CreatedAt,
		UpdatedAt:    ord.UpdatedAt,
	}
}

func settlementResponse(stl *market.Settlement) SettlementResponse {
	return SettlementResponse{
		SellID:    stl.SellID,
		BuyID:     stl.BuyID,
		Seller:    stl.Seller.Hex(),
		Buyer:     stl.Buyer.Hex(),
		Quantity:  stl.Quantity,
		Price:     stl.Price,
		Notional:  stl.Notional,
		Yield:     stl.Yield,
		SettledAt: stl.SettledAt,
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Details: details})
}

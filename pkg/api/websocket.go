package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// The marketplace pushes exactly one kind of event over WebSocket: settled
// trades, on the "settlements" channel. Clients send subscribe/unsubscribe
// control messages; there is no client-to-client traffic and client messages
// are never re-broadcast.

const channelSettlements = "settlements"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS layer on the REST side
		return true
	},
}

// Hub fans settled trades out to subscribed connections. Each event is
// marshalled once and delivered to every subscriber of its channel.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	events     chan WSSettlementEvent
	register   chan *Client
	unregister chan *Client
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		events:     make(chan WSSettlementEvent, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run owns the client set. Register, unregister, and fan-out all go through
// this loop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("[ws] client connected: %s (total: %d)", c.id, n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("[ws] client disconnected: %s (total: %d)", c.id, n)

		case ev := <-h.events:
			h.fanOut(ev)
		}
	}
}

// BroadcastSettlement queues a settled trade for delivery. It never blocks
// the settlement path: when the queue is full the event is dropped, the
// ledger remains the source of truth and clients can re-query over REST.
func (h *Hub) BroadcastSettlement(ev WSSettlementEvent) {
	select {
	case h.events <- ev:
	default:
		log.Printf("[ws] event queue full, dropped settlement sell=%d", ev.Data.SellID)
	}
}

func (h *Hub) fanOut(ev WSSettlementEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[ws] marshal error: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(ev.Channel) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Slow client; drop the event for it rather than stall
		}
	}
}

// Client is one WebSocket subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	mu       sync.RWMutex
	channels map[string]bool
}

func (c *Client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

func (c *Client) setSubscribed(channel string, on bool) {
	c.mu.Lock()
	if on {
		c.channels[channel] = true
	} else {
		delete(c.channels, channel)
	}
	c.mu.Unlock()
}

// readPump consumes subscribe/unsubscribe requests until the peer goes away.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			return
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			log.Printf("[ws] invalid request from %s: %v", c.id, err)
			continue
		}

		switch req.Op {
		case "subscribe", "unsubscribe":
			for _, channel := range req.Channels {
				c.setSubscribed(channel, req.Op == "subscribe")
			}
			log.Printf("[ws] client %s %s %v", c.id, req.Op, req.Channels)
		default:
			log.Printf("[ws] unknown op %q from %s", req.Op, c.id)
		}
	}
}

// writePump delivers queued events and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	c := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 64),
		id:   conn.RemoteAddr().String(),
		// New connections receive the trade feed immediately; the
		// subscribe op exists to opt back in after an unsubscribe
		channels: map[string]bool{channelSettlements: true},
	}
	s.hub.register <- c

	go c.writePump()
	go c.readPump()
}

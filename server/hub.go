package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/uaroundserver/chatcore/internal/metrics"
	"github.com/uaroundserver/chatcore/internal/protocol"
)

// Client represents a connected WebSocket client. A connection belongs
// to at most one room.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	connID string
	userID string
	name   string
	send   chan []byte
	roomMu sync.RWMutex
	room   string // joined room id, "" if none

	sendMu sync.Mutex // guards closed and writes into send
	closed bool
}

// Hub manages WebSocket connections and event fanout. Rooms are the
// unit of delivery: a committed event is fanned out to every
// connection currently joined to the relevant room.
type Hub struct {
	clients    map[*Client]bool
	clientsMu  sync.RWMutex
	rooms      map[string]map[*Client]bool // roomID -> clients
	roomsMu    sync.RWMutex
	register   chan *Client
	unregister chan *Client
	broadcast  chan *outbound
}

type outbound struct {
	roomID string  // "" targets all clients
	userID string  // set: deliver only to this user's clients outside roomID
	skip   *Client // set: excluded from the room fanout
	data   []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *outbound, 256),
	}
}

// Run starts the hub's main loop. Within one room, events are
// delivered in the order they were enqueued.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client] = true
			h.clientsMu.Unlock()
			metrics.ActiveConnections.Inc()
			slog.Debug("client connected", "userId", client.userID, "connId", client.connID)

		case client := <-h.unregister:
			h.drop(client)
			slog.Debug("client disconnected", "userId", client.userID, "connId", client.connID)

		case msg := <-h.broadcast:
			for _, client := range h.targets(msg) {
				select {
				case client.send <- msg.data:
				default:
					// Buffer full. Evict inline: the loop must
					// never block on its own unregister channel.
					slog.Warn("dropping slow client", "userId", client.userID, "connId", client.connID)
					h.drop(client)
				}
			}
		}
	}
}

// drop removes a client from the hub and closes its outbound buffer.
// Only the Run goroutine calls it, for normal unregisters and for
// slow clients evicted on the broadcast path alike. Dropping an
// already dropped client is a no-op.
func (h *Hub) drop(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		metrics.ActiveConnections.Dec()
		client.closeSend()
	}
	h.clientsMu.Unlock()
	h.leaveRoom(client)
}

func (h *Hub) targets(msg *outbound) []*Client {
	if msg.userID != "" {
		// A user's connections that are not viewing the room.
		h.clientsMu.RLock()
		defer h.clientsMu.RUnlock()
		var out []*Client
		for client := range h.clients {
			if client.userID == msg.userID && client.Room() != msg.roomID {
				out = append(out, client)
			}
		}
		return out
	}
	if msg.roomID == "" {
		h.clientsMu.RLock()
		defer h.clientsMu.RUnlock()
		out := make([]*Client, 0, len(h.clients))
		for client := range h.clients {
			out = append(out, client)
		}
		return out
	}
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	out := make([]*Client, 0, len(h.rooms[msg.roomID]))
	for client := range h.rooms[msg.roomID] {
		if client == msg.skip {
			continue
		}
		out = append(out, client)
	}
	return out
}

// Join adds a client to a room, leaving any previous one first.
func (h *Hub) Join(client *Client, roomID string) {
	h.leaveRoom(client)

	h.roomsMu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
	h.roomsMu.Unlock()

	client.roomMu.Lock()
	client.room = roomID
	client.roomMu.Unlock()
}

// Leave removes a client from its room.
func (h *Hub) Leave(client *Client) {
	h.leaveRoom(client)
}

func (h *Hub) leaveRoom(client *Client) {
	client.roomMu.Lock()
	roomID := client.room
	client.room = ""
	client.roomMu.Unlock()
	if roomID == "" {
		return
	}

	h.roomsMu.Lock()
	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.roomsMu.Unlock()
}

// BroadcastRoom fans an event out to every connection joined to a
// room. Callers invoke it strictly after the corresponding store
// commit; enqueue order is delivery order within the room.
func (h *Hub) BroadcastRoom(roomID string, eventType protocol.EventType, payload interface{}) {
	h.enqueue(&outbound{roomID: roomID}, eventType, payload)
}

// BroadcastRoomExcept fans an event out to a room, skipping one
// connection. Typing relays use it: the originating connection
// already knows its own state.
func (h *Hub) BroadcastRoomExcept(roomID string, skip *Client, eventType protocol.EventType, payload interface{}) {
	h.enqueue(&outbound{roomID: roomID, skip: skip}, eventType, payload)
}

// BroadcastAll fans an event out to every connection regardless of
// room. Used for moderation events, which are room-independent.
func (h *Hub) BroadcastAll(eventType protocol.EventType, payload interface{}) {
	h.enqueue(&outbound{}, eventType, payload)
}

// SendToUserOutsideRoom delivers an event to the given user's
// connections that are not joined to roomID. This is the notification
// path for idle recipients.
func (h *Hub) SendToUserOutsideRoom(userID, roomID string, eventType protocol.EventType, payload interface{}) {
	h.enqueue(&outbound{roomID: roomID, userID: userID}, eventType, payload)
}

func (h *Hub) enqueue(msg *outbound, eventType protocol.EventType, payload interface{}) {
	env, err := protocol.NewEnvelope(eventType, payload)
	if err != nil {
		slog.Error("failed to create event envelope", "type", eventType, "err", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("failed to marshal event", "type", eventType, "err", err)
		return
	}
	msg.data = data
	metrics.BroadcastsTotal.WithLabelValues(string(eventType)).Inc()
	h.broadcast <- msg
}

// NewClient creates a new client for the hub.
func (h *Hub) NewClient(conn *websocket.Conn, connID, userID, name string) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		connID: connID,
		userID: userID,
		name:   name,
		send:   make(chan []byte, 256),
	}
}

// Register registers a client with the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister unregisters a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Room returns the room the client is joined to, or "".
func (c *Client) Room() string {
	c.roomMu.RLock()
	defer c.roomMu.RUnlock()
	return c.room
}

// Send queues data for delivery to the client. Drops on a full buffer;
// the hub evicts such clients on the broadcast path. Sending to a
// client that has already been dropped is a no-op.
func (c *Client) Send(data []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// SendEnvelope sends a typed event to this client only.
func (c *Client) SendEnvelope(eventType protocol.EventType, payload interface{}) error {
	env, err := protocol.NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.Send(raw)
	return nil
}

// Ack answers one inbound operation. It goes only to the calling
// connection, independent of any room broadcast.
func (c *Client) Ack(seq uint64, data interface{}) {
	ack := protocol.Ack{Seq: seq, OK: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			slog.Error("failed to marshal ack data", "err", err)
		} else {
			ack.Data = raw
		}
	}
	c.sendAck(ack)
}

// Nack answers one inbound operation with a classified failure.
func (c *Client) Nack(seq uint64, kind, message string) {
	c.sendAck(protocol.Ack{Seq: seq, OK: false, Kind: kind, Error: message})
}

func (c *Client) sendAck(ack protocol.Ack) {
	raw, err := json.Marshal(ack)
	if err != nil {
		return
	}
	env := protocol.Envelope{Type: protocol.TypeAck, Seq: ack.Seq, Data: raw}
	data, err := json.Marshal(&env)
	if err != nil {
		return
	}
	c.Send(data)
}

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/uaroundserver/chatcore/internal/auth"
	"github.com/uaroundserver/chatcore/internal/chaterr"
	"github.com/uaroundserver/chatcore/internal/config"
	"github.com/uaroundserver/chatcore/internal/metrics"
	"github.com/uaroundserver/chatcore/internal/models"
	"github.com/uaroundserver/chatcore/internal/notify"
	"github.com/uaroundserver/chatcore/internal/presence"
	"github.com/uaroundserver/chatcore/internal/protocol"
	"github.com/uaroundserver/chatcore/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server holds the chat server's dependencies.
type Server struct {
	hub      *Hub
	store    *store.Store
	auth     *auth.Verifier
	presence *presence.Registry
	notify   *notify.Router
	cfg      *config.Config

	// sendMu keeps room broadcast order aligned with store commit
	// order: append and fanout enqueue happen under the same lock.
	sendMu sync.Mutex

	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex
}

// NewServer creates a new server instance.
func NewServer(hub *Hub, st *store.Store, verifier *auth.Verifier, cfg *config.Config) *Server {
	return &Server{
		hub:      hub,
		store:    st,
		auth:     verifier,
		presence: presence.NewRegistry(),
		notify:   notify.NewRouter(st),
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// HandleWebSocket handles WebSocket connections. The bearer credential
// is verified once at the handshake; a bad credential is the only
// failure that is fatal for the connection.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.FromRequest(r)
	if err != nil {
		slog.Info("handshake rejected", "remote", r.RemoteAddr, "err", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := s.store.UpsertUser(identity.UserID, identity.DisplayName(), ""); err != nil {
		slog.Error("failed to upsert user", "userId", identity.UserID, "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	user, err := s.store.GetUser(identity.UserID)
	if err != nil {
		slog.Error("failed to load user", "userId", identity.UserID, "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	room, err := s.store.GetOrCreateRoom(s.cfg.RoomKey, s.cfg.RoomTitle)
	if err != nil {
		slog.Error("failed to get room", "key", s.cfg.RoomKey, "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := s.hub.NewClient(conn, uuid.New().String(), user.ID, user.Name)
	s.hub.Register(client)

	// join=none opens a notification-only connection that receives
	// global and direct events but no room traffic.
	if r.URL.Query().Get("join") != "none" {
		s.hub.Join(client, room.ID)
	}

	if s.presence.Add(user.ID, client.connID) {
		s.hub.BroadcastRoom(room.ID, protocol.TypePresence,
			protocol.PresenceUpdate{UserID: user.ID, Online: true})
	}

	if err := client.SendEnvelope(protocol.TypeAuthOK, protocol.AuthOK{User: *user, Room: *room}); err != nil {
		slog.Warn("failed to send auth_ok", "userId", user.ID, "err", err)
	}

	go s.writePump(client)
	s.readPump(client, room.ID)
}

func (s *Server) readPump(client *Client, roomID string) {
	defer func() {
		s.disconnect(client, roomID)
	}()

	client.conn.SetReadLimit(65536)
	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read error", "userId", client.userID, "err", err)
			}
			break
		}

		s.handleEvent(client, message)
	}
}

// disconnect tears a connection down. Removal from presence is
// idempotent, so a disconnect replayed or delivered out of order is
// harmless. The offline transition, and only that transition, records
// lastSeen and broadcasts presence.
func (s *Server) disconnect(client *Client, roomID string) {
	s.hub.Unregister(client)
	client.conn.Close()

	if s.presence.Remove(client.userID, client.connID) {
		if err := s.store.SetLastSeen(client.userID, time.Now().UTC()); err != nil {
			slog.Warn("failed to record last seen", "userId", client.userID, "err", err)
		}
		s.hub.BroadcastRoom(roomID, protocol.TypePresence,
			protocol.PresenceUpdate{UserID: client.userID, Online: false})
	}
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleEvent dispatches one inbound event. Every operation answers
// through the ack path; a failed operation never closes the
// connection.
func (s *Server) handleEvent(client *Client, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		client.SendEnvelope(protocol.TypeError, protocol.ErrorEvent{
			Kind:    string(chaterr.KindValidation),
			Message: "invalid event format",
		})
		return
	}

	switch env.Type {
	case protocol.TypeSend:
		var req protocol.SendRequest
		if !s.decode(client, env, &req) {
			return
		}
		s.handleSend(client, env.Seq, &req)

	case protocol.TypeEdit:
		var req protocol.EditRequest
		if !s.decode(client, env, &req) {
			return
		}
		s.handleEdit(client, env.Seq, &req)

	case protocol.TypeDelete:
		var req protocol.DeleteRequest
		if !s.decode(client, env, &req) {
			return
		}
		s.handleDelete(client, env.Seq, &req)

	case protocol.TypeReact:
		var req protocol.ReactRequest
		if !s.decode(client, env, &req) {
			return
		}
		s.handleReact(client, env.Seq, &req)

	case protocol.TypeRead:
		var req protocol.ReadRequest
		if !s.decode(client, env, &req) {
			return
		}
		s.handleRead(client, env.Seq, &req)

	case protocol.TypeTyping:
		var req protocol.TypingRequest
		if !s.decode(client, env, &req) {
			return
		}
		s.handleTyping(client, env.Seq, &req)

	case protocol.TypeAdminBan, protocol.TypeAdminUnban, protocol.TypeAdminMute, protocol.TypeAdminUnmute:
		var req protocol.AdminRequest
		if !s.decode(client, env, &req) {
			return
		}
		s.handleAdmin(client, env.Seq, env.Type, &req)

	default:
		client.Nack(env.Seq, string(chaterr.KindValidation), "unknown event type")
	}
}

func (s *Server) decode(client *Client, env *protocol.Envelope, into interface{}) bool {
	if err := json.Unmarshal(env.Data, into); err != nil {
		client.Nack(env.Seq, string(chaterr.KindValidation), "invalid "+string(env.Type)+" payload")
		return false
	}
	return true
}

func (s *Server) handleSend(client *Client, seq uint64, req *protocol.SendRequest) {
	roomID := client.Room()
	if roomID == "" {
		client.Nack(seq, string(chaterr.KindValidation), "not joined to a room")
		return
	}
	if req.Text == "" && len(req.Attachments) == 0 {
		client.Nack(seq, string(chaterr.KindValidation), "empty message")
		return
	}

	sender, err := s.checkSender(client.userID)
	if err != nil {
		s.nackError(client, seq, err)
		return
	}

	// Append and enqueue under one lock so broadcast order within the
	// room matches commit order.
	s.sendMu.Lock()
	msg, err := s.store.AppendMessage(roomID, sender, req.Text, req.Attachments, req.ReplyTo, req.Mentions)
	if err != nil {
		s.sendMu.Unlock()
		s.nackError(client, seq, err)
		return
	}
	s.resolveReplyPreview(msg)
	s.hub.BroadcastRoom(roomID, protocol.TypeMessageNew, protocol.MessageNew{Message: *msg})
	s.sendMu.Unlock()

	metrics.MessagesTotal.Inc()
	client.Ack(seq, map[string]interface{}{"id": msg.ID, "delivered": true})

	s.routeNotifications(msg)
}

// routeNotifications delivers notify:reply to users whose earlier
// message was replied to (or who were mentioned) while they were not
// viewing the room.
func (s *Server) routeNotifications(msg *models.Message) {
	seen := map[string]bool{}
	candidates := make([]string, 0, 1+len(msg.Mentions))
	if msg.ReplyToOwnerID != "" {
		candidates = append(candidates, msg.ReplyToOwnerID)
	}
	candidates = append(candidates, msg.Mentions...)

	for _, userID := range candidates {
		if userID == "" || userID == msg.SenderID || seen[userID] {
			continue
		}
		seen[userID] = true
		if !s.notify.IsReplyToMe(msg, userID) {
			continue
		}
		if !s.presence.Online(userID) {
			continue
		}
		s.hub.SendToUserOutsideRoom(userID, msg.RoomID, protocol.TypeNotifyReply,
			protocol.NotifyReply{Message: *msg})
	}
}

func (s *Server) handleEdit(client *Client, seq uint64, req *protocol.EditRequest) {
	if req.ID == "" {
		client.Nack(seq, string(chaterr.KindValidation), "id required")
		return
	}
	if _, err := s.checkCaller(client.userID); err != nil {
		s.nackError(client, seq, err)
		return
	}

	msg, err := s.store.EditMessage(req.ID, client.userID, req.Text)
	if err != nil {
		s.nackError(client, seq, err)
		return
	}

	s.hub.BroadcastRoom(msg.RoomID, protocol.TypeMessageEdited, protocol.MessageEdited{
		ID:       msg.ID,
		Text:     msg.Text,
		EditedAt: *msg.EditedAt,
	})
	client.Ack(seq, nil)
}

func (s *Server) handleDelete(client *Client, seq uint64, req *protocol.DeleteRequest) {
	if req.ID == "" {
		client.Nack(seq, string(chaterr.KindValidation), "id required")
		return
	}
	caller, err := s.checkCaller(client.userID)
	if err != nil {
		s.nackError(client, seq, err)
		return
	}

	msg, err := s.store.GetMessage(req.ID)
	if err != nil {
		s.nackError(client, seq, err)
		return
	}
	if err := s.store.DeleteMessage(req.ID, caller); err != nil {
		s.nackError(client, seq, err)
		return
	}

	s.hub.BroadcastRoom(msg.RoomID, protocol.TypeMessageDeleted, protocol.MessageDeleted{ID: req.ID})
	client.Ack(seq, nil)
}

func (s *Server) handleReact(client *Client, seq uint64, req *protocol.ReactRequest) {
	if req.ID == "" || req.Emoji == "" {
		client.Nack(seq, string(chaterr.KindValidation), "id and emoji required")
		return
	}
	if _, err := s.checkCaller(client.userID); err != nil {
		s.nackError(client, seq, err)
		return
	}

	counts, err := s.store.ToggleReaction(req.ID, client.userID, req.Emoji)
	if err != nil {
		s.nackError(client, seq, err)
		return
	}

	msg, err := s.store.GetMessage(req.ID)
	if err != nil {
		s.nackError(client, seq, err)
		return
	}
	update := protocol.ReactionsUpdate{ID: req.ID, Reactions: counts}
	if update.Reactions == nil {
		update.Reactions = []models.ReactionCount{}
	}
	s.hub.BroadcastRoom(msg.RoomID, protocol.TypeReactions, update)
	client.Ack(seq, update)
}

func (s *Server) handleRead(client *Client, seq uint64, req *protocol.ReadRequest) {
	if len(req.IDs) == 0 {
		client.Nack(seq, string(chaterr.KindValidation), "ids required")
		return
	}
	if _, err := s.checkCaller(client.userID); err != nil {
		s.nackError(client, seq, err)
		return
	}

	if err := s.store.MarkRead(req.IDs, client.userID); err != nil {
		s.nackError(client, seq, err)
		return
	}

	roomID := client.Room()
	if roomID != "" {
		s.hub.BroadcastRoom(roomID, protocol.TypeReads, protocol.ReadsUpdate{
			IDs:    req.IDs,
			UserID: client.userID,
		})
	}
	client.Ack(seq, nil)
}

func (s *Server) handleTyping(client *Client, seq uint64, req *protocol.TypingRequest) {
	roomID := client.Room()
	if roomID != "" {
		// The typist's own connection is excluded from the relay.
		s.hub.BroadcastRoomExcept(roomID, client, protocol.TypeTypingUpdate, protocol.TypingUpdate{
			UserID:   client.userID,
			IsTyping: req.IsTyping,
		})
	}
	if seq != 0 {
		client.Ack(seq, nil)
	}
}

func (s *Server) nackError(client *Client, seq uint64, err error) {
	kind := chaterr.KindOf(err)
	if kind == chaterr.KindInternal {
		slog.Error("operation failed", "userId", client.userID, "err", err)
	}
	metrics.RejectedOpsTotal.WithLabelValues(string(kind)).Inc()
	client.Nack(seq, string(kind), chaterr.UserMessage(err))
}

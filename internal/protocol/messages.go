package protocol

import (
	"encoding/json"
	"time"

	"github.com/uaroundserver/chatcore/internal/models"
)

// EventType identifies the type of WebSocket event.
type EventType string

const (
	// Client -> Server
	TypeSend        EventType = "message:send"
	TypeEdit        EventType = "message:edit"
	TypeDelete      EventType = "message:delete"
	TypeReact       EventType = "message:react"
	TypeRead        EventType = "message:read"
	TypeTyping      EventType = "typing"
	TypeAdminBan    EventType = "admin:ban"
	TypeAdminUnban  EventType = "admin:unban"
	TypeAdminMute   EventType = "admin:mute"
	TypeAdminUnmute EventType = "admin:unmute"

	// Server -> Client
	TypeAuthOK         EventType = "auth_ok"
	TypeAck            EventType = "ack"
	TypeError          EventType = "error"
	TypeMessageNew     EventType = "message:new"
	TypeMessageEdited  EventType = "message:edited"
	TypeMessageDeleted EventType = "message:deleted"
	TypeReactions      EventType = "message:reactions"
	TypeReads          EventType = "message:reads"
	TypePresence       EventType = "presence:update"
	TypeTypingUpdate   EventType = "typing:update"
	TypeNotifyReply    EventType = "notify:reply"
	TypeUserBanned     EventType = "admin:userBanned"
	TypeUserUnbanned   EventType = "admin:userUnbanned"
	TypeUserMuted      EventType = "admin:userMuted"
	TypeUserUnmuted    EventType = "admin:userUnmuted"
)

// Envelope wraps all WebSocket events with a type field. Seq is set by
// the client on requests that want an acknowledgment; the server echoes
// it back in the Ack.
type Envelope struct {
	Type EventType       `json:"type"`
	Seq  uint64          `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Ack is the per-operation acknowledgment. It is sent only to the
// calling connection, independently of any room broadcast.
type Ack struct {
	Seq   uint64          `json:"seq"`
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Kind  string          `json:"kind,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendRequest asks the server to append a message to the caller's room.
type SendRequest struct {
	Text        string              `json:"text"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	ReplyTo     string              `json:"replyTo,omitempty"`
	Mentions    []string            `json:"mentions,omitempty"`
}

// EditRequest changes the text of the caller's own message.
type EditRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// DeleteRequest soft-deletes a message.
type DeleteRequest struct {
	ID string `json:"id"`
}

// ReactRequest toggles the caller's (emoji) reaction on a message.
type ReactRequest struct {
	ID    string `json:"id"`
	Emoji string `json:"emoji"`
}

// ReadRequest marks messages as read by the caller.
type ReadRequest struct {
	IDs []string `json:"ids"`
}

// TypingRequest reports the caller's typing state.
type TypingRequest struct {
	IsTyping bool `json:"isTyping"`
}

// AdminRequest targets a user for a moderation flag change.
type AdminRequest struct {
	TargetID string `json:"targetId"`
}

// AuthOK is sent once after a successful handshake.
type AuthOK struct {
	User models.User `json:"user"`
	Room models.Room `json:"room"`
}

// MessageNew carries a freshly committed message, with its reply
// preview resolved, to every connection in the room.
type MessageNew struct {
	Message models.Message `json:"message"`
}

// MessageEdited announces an accepted edit.
type MessageEdited struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	EditedAt time.Time `json:"editedAt"`
}

// MessageDeleted announces a soft delete.
type MessageDeleted struct {
	ID string `json:"id"`
}

// ReactionsUpdate carries the grouped per-emoji counts after a toggle.
// Raw per-user reaction lists are never broadcast.
type ReactionsUpdate struct {
	ID        string                 `json:"id"`
	Reactions []models.ReactionCount `json:"reactions"`
}

// ReadsUpdate is the batched read-receipt broadcast.
type ReadsUpdate struct {
	IDs    []string `json:"ids"`
	UserID string   `json:"userId"`
}

// PresenceUpdate announces an online/offline transition.
type PresenceUpdate struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// TypingUpdate relays a typing signal to the rest of the room.
type TypingUpdate struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// ModerationUpdate announces a ban/mute flag change to all
// connections. Moderation is room-independent.
type ModerationUpdate struct {
	UserID string `json:"userId"`
}

// NotifyReply is routed directly to a user whose earlier message was
// replied to while they were not viewing the room.
type NotifyReply struct {
	Message models.Message `json:"message"`
}

// ErrorEvent is sent for failures outside the request/ack cycle.
type ErrorEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewEnvelope creates an envelope with the given type and data.
func NewEnvelope(eventType EventType, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type: eventType,
		Data: raw,
	}, nil
}

// ParseEnvelope parses a JSON message into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

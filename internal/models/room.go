package models

import "time"

// LastMessage is the denormalized snapshot of the most recent accepted,
// non-deleted write to a room. It is updated inside the same serialized
// write path that appends messages, so a slow concurrent sender can
// never clobber it with a stale value.
type LastMessage struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Room is a named channel messages are broadcast through. Rooms are
// created lazily by logical key ("global" is the well-known default).
type Room struct {
	ID          string       `json:"id"`
	Key         string       `json:"key"`
	Title       string       `json:"title"`
	Avatar      string       `json:"avatar,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
}

// RoomSummary is what the room list endpoint returns: the room plus a
// live unread count for the requesting user.
type RoomSummary struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Avatar      string       `json:"avatar,omitempty"`
	LastMessage *LastMessage `json:"lastMessage"`
	Unread      int          `json:"unread"`
}

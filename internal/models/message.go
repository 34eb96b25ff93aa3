package models

import "time"

// Attachment is an opaque file descriptor returned by the upload
// endpoint. The server stores and forwards it without interpreting
// the file contents.
type Attachment struct {
	URL          string `json:"url"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
	OriginalName string `json:"originalname"`
}

// Reaction is a (user, emoji) membership fact on a message.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// ReactionCount is the grouped view sent to clients: how many distinct
// users reacted with an emoji.
type ReactionCount struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// Read records that a user has seen a message.
type Read struct {
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

// ReplyPreview is a bounded projection of the message a reply points
// at. Exactly one nesting level; a reply to a reply shows only its
// immediate parent.
type ReplyPreview struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
	Thumb      string `json:"thumb,omitempty"`
}

// Message is a chat message. ID, RoomID, SenderID and CreatedAt never
// change after creation. Text mutates only through edit (sender) or
// delete (sender or moderator), which blanks it and sets Deleted.
type Message struct {
	ID             string       `json:"id"`
	RoomID         string       `json:"roomId"`
	SenderID       string       `json:"senderId"`
	SenderName     string       `json:"senderName"`
	SenderAvatar   string       `json:"senderAvatar,omitempty"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ReplyTo        string       `json:"replyTo,omitempty"`
	ReplyToOwnerID string       `json:"replyToOwnerId,omitempty"`
	Mentions       []string     `json:"mentions,omitempty"`
	Reactions      []Reaction   `json:"reactions,omitempty"`
	Reads          []Read       `json:"reads,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	EditedAt       *time.Time   `json:"editedAt,omitempty"`
	Deleted        bool         `json:"deleted"`

	// Preview is filled on fanout when ReplyTo resolves.
	Preview *ReplyPreview `json:"replyPreview,omitempty"`
}

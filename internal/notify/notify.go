// Package notify decides whether an incoming message constitutes a
// "reply to me" event for a user who is not actively viewing the room.
// Active viewers already receive room-scoped events directly, so this
// check only runs for idle recipients.
package notify

import (
	"log/slog"

	"github.com/uaroundserver/chatcore/internal/cache"
	"github.com/uaroundserver/chatcore/internal/models"
)

// ownerCacheSize bounds the message-id -> owner-id cache.
const ownerCacheSize = 200

// OwnerLookup resolves a message id to its full record. Satisfied by
// the store.
type OwnerLookup interface {
	GetMessage(id string) (*models.Message, error)
}

// Router classifies incoming messages for idle users.
type Router struct {
	store  OwnerLookup
	owners *cache.Cache
}

// NewRouter creates a router backed by the given message lookup.
func NewRouter(store OwnerLookup) *Router {
	return &Router{
		store:  store,
		owners: cache.New(ownerCacheSize),
	}
}

// IsReplyToMe reports whether msg replies to a message authored by
// userID. A user's own messages are never classified reply-to-me.
// Resolution order: the replyToOwnerId annotation captured at append,
// then the bounded owner cache with a store fallback, then the
// explicit mentions list.
func (r *Router) IsReplyToMe(msg *models.Message, userID string) bool {
	if msg.SenderID == userID {
		return false
	}
	if msg.ReplyToOwnerID != "" {
		return msg.ReplyToOwnerID == userID
	}
	if msg.ReplyTo != "" {
		if owner := r.ownerOf(msg.ReplyTo); owner != "" {
			return owner == userID
		}
	}
	for _, m := range msg.Mentions {
		if m == userID {
			return true
		}
	}
	return false
}

func (r *Router) ownerOf(messageID string) string {
	if owner, ok := r.owners.Get(messageID); ok {
		return owner
	}
	parent, err := r.store.GetMessage(messageID)
	if err != nil {
		slog.Debug("notify: reply owner lookup failed", "messageId", messageID, "err", err)
		return ""
	}
	r.owners.Set(messageID, parent.SenderID)
	return parent.SenderID
}

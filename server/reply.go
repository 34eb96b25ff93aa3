package server

import (
	"log/slog"

	"github.com/uaroundserver/chatcore/internal/models"
)

// attachmentPlaceholder stands in for the text of a reply target that
// only carried files.
const attachmentPlaceholder = "Attachment"

// resolveReplyPreview fills msg.Preview with a bounded projection of
// the message it replies to. Exactly one nesting level: the parent's
// own reply chain is not followed. Deleted parents still resolve, so
// reply headers stay intact after a delete; a reference that no longer
// resolves just leaves the preview off rather than failing the send.
func (s *Server) resolveReplyPreview(msg *models.Message) {
	if msg.ReplyTo == "" {
		return
	}
	parent, err := s.store.GetMessage(msg.ReplyTo)
	if err != nil {
		slog.Debug("reply preview skipped", "messageId", msg.ID, "replyTo", msg.ReplyTo, "err", err)
		return
	}

	preview := &models.ReplyPreview{
		ID:         parent.ID,
		SenderID:   parent.SenderID,
		SenderName: parent.SenderName,
		Text:       parent.Text,
	}
	if preview.Text == "" && len(parent.Attachments) > 0 {
		preview.Text = attachmentPlaceholder
	}
	if len(parent.Attachments) > 0 {
		preview.Thumb = parent.Attachments[0].URL
	}
	msg.Preview = preview
}

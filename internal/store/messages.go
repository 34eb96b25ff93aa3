package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/uaroundserver/chatcore/internal/chaterr"
	"github.com/uaroundserver/chatcore/internal/models"
)

// maxTextRunes is the message length cap in code points. Longer text
// is truncated at ingestion, never rejected.
const maxTextRunes = 5000

func truncateText(text string) string {
	runes := []rune(text)
	if len(runes) > maxTextRunes {
		return string(runes[:maxTextRunes])
	}
	return text
}

// AppendMessage persists a new message and updates the room's
// lastMessage snapshot in the same transaction. The sender's display
// identity is denormalized onto the row, and if the message is a
// reply the owner of the referenced message is captured so
// notification routing can avoid a lookup later. A dangling replyTo
// is dropped silently rather than failing the send.
func (s *Store) AppendMessage(roomID string, sender *models.User, text string, attachments []models.Attachment, replyTo string, mentions []string) (*models.Message, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	msg := &models.Message{
		ID:           uuid.New().String(),
		RoomID:       roomID,
		SenderID:     sender.ID,
		SenderName:   sender.Name,
		SenderAvatar: sender.Avatar,
		Text:         truncateText(text),
		Attachments:  attachments,
		Mentions:     mentions,
		CreatedAt:    time.Now().UTC(),
	}

	if replyTo != "" {
		var ownerID string
		err := tx.QueryRow(`SELECT sender_id FROM messages WHERE id = ?`, replyTo).Scan(&ownerID)
		switch {
		case err == sql.ErrNoRows:
			// Reference does not resolve; send goes through without it.
		case err != nil:
			return nil, err
		default:
			msg.ReplyTo = replyTo
			msg.ReplyToOwnerID = ownerID
		}
	}

	attachJSON, err := json.Marshal(msg.Attachments)
	if err != nil {
		return nil, fmt.Errorf("marshal attachments: %w", err)
	}
	mentionsJSON, err := json.Marshal(msg.Mentions)
	if err != nil {
		return nil, fmt.Errorf("marshal mentions: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO messages (id, room_id, sender_id, sender_name, sender_avatar, text,
			attachments, reply_to, reply_to_owner_id, mentions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.RoomID, msg.SenderID, msg.SenderName, msg.SenderAvatar, msg.Text,
		string(attachJSON), nullable(msg.ReplyTo), nullable(msg.ReplyToOwnerID),
		string(mentionsJSON), msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		UPDATE rooms SET last_msg_id = ?, last_msg_text = ?, last_msg_sender_id = ?,
			last_msg_sender_name = ?, last_msg_created_at = ?
		WHERE id = ?
	`, msg.ID, msg.Text, msg.SenderID, msg.SenderName, msg.CreatedAt, msg.RoomID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// EditMessage replaces the text of the caller's own message.
func (s *Store) EditMessage(id, callerID, text string) (*models.Message, error) {
	var senderID string
	err := s.db.QueryRow(`SELECT sender_id FROM messages WHERE id = ?`, id).Scan(&senderID)
	if err == sql.ErrNoRows {
		return nil, chaterr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if senderID != callerID {
		return nil, chaterr.ErrNotYourMessage
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(`UPDATE messages SET text = ?, edited_at = ? WHERE id = ?`,
		truncateText(text), now, id)
	if err != nil {
		return nil, err
	}
	return s.GetMessage(id)
}

// DeleteMessage soft-deletes a message: the text is blanked and the
// row retained so the id stays resolvable. Allowed for the original
// sender or a caller with a moderator role or above.
func (s *Store) DeleteMessage(id string, caller *models.User) error {
	var senderID string
	err := s.db.QueryRow(`SELECT sender_id FROM messages WHERE id = ?`, id).Scan(&senderID)
	if err == sql.ErrNoRows {
		return chaterr.ErrNotFound
	}
	if err != nil {
		return err
	}
	if senderID != caller.ID && !caller.Role.CanModerate() {
		return chaterr.ErrNotYourMessage
	}

	_, err = s.db.Exec(`UPDATE messages SET deleted = 1, text = '' WHERE id = ?`, id)
	return err
}

// GetMessage returns a single message by id regardless of deletion
// state, with its reactions and reads loaded.
func (s *Store) GetMessage(id string) (*models.Message, error) {
	msg, err := s.scanMessage(s.db.QueryRow(`
		SELECT id, room_id, sender_id, sender_name, sender_avatar, text,
			attachments, reply_to, reply_to_owner_id, mentions, created_at, edited_at, deleted
		FROM messages WHERE id = ?
	`, id))
	if err != nil {
		return nil, err
	}
	if msg.Reactions, err = s.messageReactions(id); err != nil {
		return nil, err
	}
	if msg.Reads, err = s.messageReads(id); err != nil {
		return nil, err
	}
	return msg, nil
}

// ToggleReaction flips the (user, emoji) membership on a message and
// returns the updated grouped counts. Applying the same toggle twice
// is a net no-op.
func (s *Store) ToggleReaction(messageID, userID, emoji string) ([]models.ReactionCount, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE id = ?`, messageID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, chaterr.ErrNotFound
	}

	res, err := tx.Exec(`DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?`,
		messageID, userID, emoji)
	if err != nil {
		return nil, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		_, err = tx.Exec(`INSERT INTO reactions (message_id, user_id, emoji) VALUES (?, ?, ?)`,
			messageID, userID, emoji)
		if err != nil {
			return nil, err
		}
	}

	counts, err := groupedReactions(tx, messageID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return counts, nil
}

// GroupedReactions returns the per-emoji distinct-user counts for a
// message. Clients only ever see this grouped form.
func (s *Store) GroupedReactions(messageID string) ([]models.ReactionCount, error) {
	return groupedReactions(s.db, messageID)
}

type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func groupedReactions(q querier, messageID string) ([]models.ReactionCount, error) {
	rows, err := q.Query(`
		SELECT emoji, COUNT(DISTINCT user_id) FROM reactions
		WHERE message_id = ? GROUP BY emoji ORDER BY emoji
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.ReactionCount
	for rows.Next() {
		var rc models.ReactionCount
		if err := rows.Scan(&rc.Emoji, &rc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, rc)
	}
	return counts, rows.Err()
}

// MarkRead records that the user has seen each of the given messages.
// Replaying the same ids is a no-op: reads are a set, one entry per
// user per message. Unknown ids are skipped rather than failing the
// batch.
func (s *Store) MarkRead(ids []string, userID string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, id := range ids {
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO reads (message_id, user_id, read_at)
			SELECT id, ?, ? FROM messages WHERE id = ?
		`, userID, now, id)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UnreadCount computes, by live query, how many non-deleted messages
// in the room the user has neither sent nor read.
func (s *Store) UnreadCount(roomID, userID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM messages m
		WHERE m.room_id = ? AND m.deleted = 0 AND m.sender_id != ?
			AND NOT EXISTS (SELECT 1 FROM reads r WHERE r.message_id = m.id AND r.user_id = ?)
	`, roomID, userID, userID).Scan(&n)
	return n, err
}

func (s *Store) messageReactions(messageID string) ([]models.Reaction, error) {
	rows, err := s.db.Query(`
		SELECT user_id, emoji FROM reactions WHERE message_id = ? ORDER BY rowid
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reactions []models.Reaction
	for rows.Next() {
		var r models.Reaction
		if err := rows.Scan(&r.UserID, &r.Emoji); err != nil {
			return nil, err
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}

func (s *Store) messageReads(messageID string) ([]models.Read, error) {
	rows, err := s.db.Query(`
		SELECT user_id, read_at FROM reads WHERE message_id = ? ORDER BY read_at
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reads []models.Read
	for rows.Next() {
		var r models.Read
		if err := rows.Scan(&r.UserID, &r.At); err != nil {
			return nil, err
		}
		reads = append(reads, r)
	}
	return reads, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	var attachJSON, mentionsJSON string
	var replyTo, replyToOwner sql.NullString
	var editedAt sql.NullTime
	err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &m.SenderAvatar, &m.Text,
		&attachJSON, &replyTo, &replyToOwner, &mentionsJSON, &m.CreatedAt, &editedAt, &m.Deleted)
	if err == sql.ErrNoRows {
		return nil, chaterr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attachJSON), &m.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments for %s: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(mentionsJSON), &m.Mentions); err != nil {
		return nil, fmt.Errorf("decode mentions for %s: %w", m.ID, err)
	}
	m.ReplyTo = replyTo.String
	m.ReplyToOwnerID = replyToOwner.String
	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}
	return &m, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// IsNotFound reports whether err is the store's not-found rejection.
func IsNotFound(err error) bool {
	return errors.Is(err, chaterr.ErrNotFound)
}

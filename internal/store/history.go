package store

import (
	"database/sql"
	"time"

	"github.com/uaroundserver/chatcore/internal/chaterr"
	"github.com/uaroundserver/chatcore/internal/models"
)

const selectMessageCols = `
	SELECT id, room_id, sender_id, sender_name, sender_avatar, text,
		attachments, reply_to, reply_to_owner_id, mentions, created_at, edited_at, deleted
	FROM messages
`

// ListMessages returns up to limit non-deleted messages for a room in
// chronological order. beforeID, when set, must be the id of the
// oldest message the caller already has in that room: strictly older
// messages are returned, and an id from another room does not resolve. The query runs descending on (created_at, id) so that
// timestamp ties break deterministically, then the page is reversed.
func (s *Store) ListMessages(roomID string, limit int, beforeID string) ([]models.Message, error) {
	if beforeID == "" {
		return s.listMessages(roomID, limit, nil, "")
	}

	var cursorAt time.Time
	var cursorID string
	err := s.db.QueryRow(`SELECT created_at, id FROM messages WHERE id = ? AND room_id = ?`,
		beforeID, roomID).Scan(&cursorAt, &cursorID)
	if err == sql.ErrNoRows {
		return nil, chaterr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.listMessages(roomID, limit, &cursorAt, cursorID)
}

// ListMessagesBefore pages by raw timestamp, for callers that hold a
// time cursor instead of a message id. Ties on the timestamp itself
// are excluded, matching a strict "older than" contract.
func (s *Store) ListMessagesBefore(roomID string, limit int, before time.Time) ([]models.Message, error) {
	rows, err := s.db.Query(selectMessageCols+`
		WHERE room_id = ? AND deleted = 0 AND created_at < ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, roomID, before.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return s.collectReversed(rows)
}

func (s *Store) listMessages(roomID string, limit int, cursorAt *time.Time, cursorID string) ([]models.Message, error) {
	var rows *sql.Rows
	var err error
	if cursorAt != nil {
		rows, err = s.db.Query(selectMessageCols+`
			WHERE room_id = ? AND deleted = 0
				AND (created_at < ? OR (created_at = ? AND id < ?))
			ORDER BY created_at DESC, id DESC LIMIT ?
		`, roomID, *cursorAt, *cursorAt, cursorID, limit)
	} else {
		rows, err = s.db.Query(selectMessageCols+`
			WHERE room_id = ? AND deleted = 0
			ORDER BY created_at DESC, id DESC LIMIT ?
		`, roomID, limit)
	}
	if err != nil {
		return nil, err
	}
	return s.collectReversed(rows)
}

// SearchMessages filters a room's non-deleted history by a
// case-insensitive substring and/or an exact sender, in chronological
// order, capped at limit.
func (s *Store) SearchMessages(roomID, textQuery, senderID string, limit int) ([]models.Message, error) {
	query := selectMessageCols + ` WHERE room_id = ? AND deleted = 0`
	args := []any{roomID}
	if textQuery != "" {
		query += ` AND text LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(textQuery)+"%")
	}
	if senderID != "" {
		query += ` AND sender_id = ?`
		args = append(args, senderID)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return s.collect(rows)
}

func (s *Store) collect(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()
	var messages []models.Message
	for rows.Next() {
		m, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s.attachOverlays(messages)
}

func (s *Store) collectReversed(rows *sql.Rows) ([]models.Message, error) {
	messages, err := s.collect(rows)
	if err != nil {
		return nil, err
	}
	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *Store) attachOverlays(messages []models.Message) ([]models.Message, error) {
	for i := range messages {
		reactions, err := s.messageReactions(messages[i].ID)
		if err != nil {
			return nil, err
		}
		reads, err := s.messageReads(messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].Reactions = reactions
		messages[i].Reads = reads
	}
	return messages, nil
}

// escapeLike escapes the sqlite LIKE wildcards so user input matches
// literally. LIKE is case-insensitive for ASCII by default, which is
// the search contract.
func escapeLike(q string) string {
	out := make([]rune, 0, len(q))
	for _, r := range q {
		switch r {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

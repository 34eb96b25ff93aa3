// Package store persists messages, rooms and user moderation state in
// sqlite. Messages are append-mostly: rows are never removed, edits
// mutate only the text, deletes blank it and flip a flag so ids stay
// resolvable for reply previews and audit.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/uaroundserver/chatcore/internal/chaterr"
	"github.com/uaroundserver/chatcore/internal/models"
)

// Store handles all database operations for the chat core.
type Store struct {
	db *sql.DB

	// writeMu serializes the append path so the denormalized
	// lastMessage snapshot can never be overwritten by a slower
	// concurrent sender with a staler message.
	writeMu sync.Mutex
}

// Open opens or creates the chat database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_fk=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			avatar TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'user',
			is_banned INTEGER NOT NULL DEFAULT 0,
			is_muted INTEGER NOT NULL DEFAULT 0,
			last_seen DATETIME
		);

		CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			key TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			avatar TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			last_msg_id TEXT,
			last_msg_text TEXT,
			last_msg_sender_id TEXT,
			last_msg_sender_name TEXT,
			last_msg_created_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			sender_id TEXT NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			sender_avatar TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			attachments TEXT NOT NULL DEFAULT '[]',
			reply_to TEXT,
			reply_to_owner_id TEXT,
			mentions TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			edited_at DATETIME,
			deleted INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at, id);

		CREATE TABLE IF NOT EXISTS reactions (
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			emoji TEXT NOT NULL,
			PRIMARY KEY (message_id, user_id, emoji)
		);

		CREATE TABLE IF NOT EXISTS reads (
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			read_at DATETIME NOT NULL,
			PRIMARY KEY (message_id, user_id)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetOrCreateRoom returns the room with the given logical key,
// creating it on first access.
func (s *Store) GetOrCreateRoom(key, title string) (*models.Room, error) {
	_, err := s.db.Exec(`
		INSERT INTO rooms (id, key, title, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, uuid.New().String(), key, title, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return s.getRoomBy(`key = ?`, key)
}

// GetRoom returns a room by id.
func (s *Store) GetRoom(id string) (*models.Room, error) {
	return s.getRoomBy(`id = ?`, id)
}

func (s *Store) getRoomBy(where string, arg any) (*models.Room, error) {
	var r models.Room
	var lastID, lastText, lastSenderID, lastSenderName sql.NullString
	var lastCreated sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, key, title, avatar, created_at,
			last_msg_id, last_msg_text, last_msg_sender_id, last_msg_sender_name, last_msg_created_at
		FROM rooms WHERE `+where,
		arg).Scan(&r.ID, &r.Key, &r.Title, &r.Avatar, &r.CreatedAt,
		&lastID, &lastText, &lastSenderID, &lastSenderName, &lastCreated)
	if err == sql.ErrNoRows {
		return nil, chaterr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastID.Valid {
		r.LastMessage = &models.LastMessage{
			ID:         lastID.String,
			Text:       lastText.String,
			SenderID:   lastSenderID.String,
			SenderName: lastSenderName.String,
			CreatedAt:  lastCreated.Time,
		}
	}
	return &r, nil
}

// ListRoomSummaries returns every room with its last message snapshot
// and a live unread count for the given user. Unread is always
// computed by query, never kept as a counter.
func (s *Store) ListRoomSummaries(userID string) ([]models.RoomSummary, error) {
	rows, err := s.db.Query(`
		SELECT id, title, avatar,
			last_msg_id, last_msg_text, last_msg_sender_id, last_msg_sender_name, last_msg_created_at
		FROM rooms ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.RoomSummary
	for rows.Next() {
		var sum models.RoomSummary
		var lastID, lastText, lastSenderID, lastSenderName sql.NullString
		var lastCreated sql.NullTime
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Avatar,
			&lastID, &lastText, &lastSenderID, &lastSenderName, &lastCreated); err != nil {
			return nil, err
		}
		if lastID.Valid {
			sum.LastMessage = &models.LastMessage{
				ID:         lastID.String,
				Text:       lastText.String,
				SenderID:   lastSenderID.String,
				SenderName: lastSenderName.String,
				CreatedAt:  lastCreated.Time,
			}
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range summaries {
		unread, err := s.UnreadCount(summaries[i].ID, userID)
		if err != nil {
			return nil, err
		}
		summaries[i].Unread = unread
	}
	return summaries, nil
}

// UpsertUser creates or refreshes the stored identity for a user.
// Moderation flags and role are left untouched for existing rows.
func (s *Store) UpsertUser(id, name, avatar string) error {
	_, err := s.db.Exec(`
		INSERT INTO users (id, name, avatar) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
			avatar = CASE WHEN excluded.avatar != '' THEN excluded.avatar ELSE users.avatar END
	`, id, name, avatar)
	return err
}

// GetUser returns a user's identity and current moderation state.
func (s *Store) GetUser(id string) (*models.User, error) {
	var u models.User
	var role string
	var lastSeen sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, name, avatar, role, is_banned, is_muted, last_seen
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Name, &u.Avatar, &role, &u.IsBanned, &u.IsMuted, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, chaterr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	if lastSeen.Valid {
		t := lastSeen.Time
		u.LastSeen = &t
	}
	return &u, nil
}

// SetRole changes a user's role.
func (s *Store) SetRole(id string, role models.Role) error {
	return s.updateUserFlag(`UPDATE users SET role = ? WHERE id = ?`, string(role), id)
}

// SetBanned toggles the ban flag for a user.
func (s *Store) SetBanned(id string, banned bool) error {
	return s.updateUserFlag(`UPDATE users SET is_banned = ? WHERE id = ?`, banned, id)
}

// SetMuted toggles the mute flag for a user.
func (s *Store) SetMuted(id string, muted bool) error {
	return s.updateUserFlag(`UPDATE users SET is_muted = ? WHERE id = ?`, muted, id)
}

func (s *Store) updateUserFlag(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return chaterr.ErrNotFound
	}
	return nil
}

// SetLastSeen records when a user's last connection closed.
func (s *Store) SetLastSeen(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE users SET last_seen = ? WHERE id = ?`, at.UTC(), id)
	return err
}

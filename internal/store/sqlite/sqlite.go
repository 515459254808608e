package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wiresync/internal/chat"
	"github.com/vovakirdan/wiresync/internal/store"
)

// Schema creates the tables used by SQLiteStore. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	last_message      TEXT NOT NULL DEFAULT '',
	last_message_time INTEGER NOT NULL DEFAULT 0,
	unread_count      INTEGER NOT NULL DEFAULT 0,
	participants      TEXT NOT NULL DEFAULT '[]',
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id        TEXT PRIMARY KEY,
	temp_id   TEXT,
	room_id   TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	user_name TEXT NOT NULL,
	text      TEXT NOT NULL,
	ts        INTEGER NOT NULL,
	delivered BOOLEAN NOT NULL DEFAULT 0,
	read      BOOLEAN NOT NULL DEFAULT 0,
	type      TEXT NOT NULL DEFAULT 'text',
	reactions TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages (room_id, ts);
CREATE INDEX IF NOT EXISTS idx_messages_temp_id ON messages (temp_id);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new SQLite store and applies Schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== RoomStore implementation ====

// SaveRoom inserts or replaces a room.
func (s *SQLiteStore) SaveRoom(ctx context.Context, room *store.Room) error {
	participants, err := json.Marshal(nonNil(room.Participants))
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	now := s.now()
	createdAt := room.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO rooms (id, name, description, last_message, last_message_time, unread_count, participants, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			last_message = excluded.last_message,
			last_message_time = excluded.last_message_time,
			unread_count = excluded.unread_count,
			participants = excluded.participants,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		room.ID, room.Name, room.Description, room.LastMessage, unixNano(room.LastMessageTime),
		room.UnreadCount, string(participants), createdAt.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert room: %w", err)
	}
	return nil
}

// GetRoom retrieves a room by id.
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*store.Room, error) {
	query := `
		SELECT id, name, description, last_message, last_message_time, unread_count, participants, created_at, updated_at
		FROM rooms
		WHERE id = ?
	`
	room, err := scanRoom(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query room: %w", err)
	}
	return room, nil
}

// ListRooms lists rooms, most recently active first.
func (s *SQLiteStore) ListRooms(ctx context.Context) ([]*store.Room, error) {
	query := `
		SELECT id, name, description, last_message, last_message_time, unread_count, participants, created_at, updated_at
		FROM rooms
		ORDER BY updated_at DESC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*store.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return rooms, nil
}

// ==== MessageStore implementation ====

// SaveMessage inserts or replaces a message and bumps the room's last message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *chat.Message) error {
	reactions, err := encodeReactions(msg.Reactions)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO messages (id, temp_id, room_id, user_id, user_name, text, ts, delivered, read, type, reactions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			temp_id = excluded.temp_id,
			room_id = excluded.room_id,
			user_id = excluded.user_id,
			user_name = excluded.user_name,
			text = excluded.text,
			ts = excluded.ts,
			delivered = excluded.delivered,
			read = excluded.read,
			type = excluded.type,
			reactions = excluded.reactions
	`
	if _, err := tx.ExecContext(ctx, query,
		msg.ID, nullString(msg.TempID), msg.RoomID, msg.UserID, msg.UserName, msg.Text,
		msg.Timestamp.UnixNano(), msg.Delivered, msg.Read, string(msg.Type), reactions,
	); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	now := s.now().UnixNano()
	touch := `
		INSERT INTO rooms (id, name, last_message, last_message_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message = excluded.last_message,
			last_message_time = excluded.last_message_time,
			updated_at = excluded.updated_at
		WHERE excluded.last_message_time >= rooms.last_message_time
	`
	if _, err := tx.ExecContext(ctx, touch, msg.RoomID, msg.RoomID, msg.Text, msg.Timestamp.UnixNano(), now, now); err != nil {
		return fmt.Errorf("touch room: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ConfirmDelivery moves the record stored under tempID to messageID.
func (s *SQLiteStore) ConfirmDelivery(ctx context.Context, tempID, messageID string, ts time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE id = ?`, messageID).Scan(&exists); err != nil {
		return fmt.Errorf("query message: %w", err)
	}

	if exists > 0 {
		// The confirmed copy arrived first: drop the optimistic row.
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE temp_id = ? AND id != ?`, tempID, messageID); err != nil {
			return fmt.Errorf("delete pending message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET temp_id = NULL, delivered = 1 WHERE id = ?`, messageID); err != nil {
			return fmt.Errorf("mark delivered: %w", err)
		}
	} else {
		query := `UPDATE messages SET id = ?, temp_id = NULL, delivered = 1, ts = COALESCE(?, ts) WHERE temp_id = ?`
		res, err := tx.ExecContext(ctx, query, messageID, nullTime(ts), tempID)
		if err != nil {
			return fmt.Errorf("confirm delivery: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("message %s: %w", tempID, store.ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListMessages returns one page of a room's messages in ascending order, paging back from the newest.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]chat.Message, error) {
	query := `
		SELECT id, COALESCE(temp_id, ''), room_id, user_id, user_name, text, ts, delivered, read, type, reactions
		FROM messages
		WHERE room_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0, limit)
	for rows.Next() {
		var (
			m         chat.Message
			ts        int64
			msgType   string
			reactions sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.TempID, &m.RoomID, &m.UserID, &m.UserName, &m.Text, &ts, &m.Delivered, &m.Read, &msgType, &reactions); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = time.Unix(0, ts).UTC()
		m.Type = chat.MessageType(msgType)
		if reactions.Valid && reactions.String != "" {
			if err := json.Unmarshal([]byte(reactions.String), &m.Reactions); err != nil {
				return nil, fmt.Errorf("decode reactions: %w", err)
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	slices.Reverse(messages)
	return messages, nil
}

// CountMessages returns the number of messages stored for a room.
func (s *SQLiteStore) CountMessages(ctx context.Context, roomID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE room_id = ?`, roomID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// MarkRead flags the given messages as read.
func (s *SQLiteStore) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `UPDATE messages SET read = 1 WHERE id IN (` + placeholders + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(row scanner) (*store.Room, error) {
	var (
		room                 store.Room
		lastMessageTime      int64
		createdAt, updatedAt int64
		participants         string
	)
	if err := row.Scan(&room.ID, &room.Name, &room.Description, &room.LastMessage, &lastMessageTime,
		&room.UnreadCount, &participants, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if lastMessageTime > 0 {
		room.LastMessageTime = time.Unix(0, lastMessageTime).UTC()
	}
	room.CreatedAt = time.Unix(0, createdAt).UTC()
	room.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if err := json.Unmarshal([]byte(participants), &room.Participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	return &room, nil
}

func encodeReactions(r map[string][]string) (sql.NullString, error) {
	if len(r) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode reactions: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullInt64 {
	return sql.NullInt64{Int64: t.UnixNano(), Valid: !t.IsZero()}
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

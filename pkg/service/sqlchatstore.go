// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package service

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/plainclass/plain-rtc/pkg/rtc"
	"github.com/plainclass/plain-rtc/pkg/rtc/types"
)

const chatSchema = `
CREATE TABLE IF NOT EXISTS chat_rooms (
  chat_id     TEXT PRIMARY KEY,
  lecture_id  TEXT NOT NULL,
  chat_name   TEXT NOT NULL,
  chat_status TEXT NOT NULL,
  updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_rooms_lecture_id ON chat_rooms (lecture_id);

CREATE TABLE IF NOT EXISTS chat_members (
  chat_id       TEXT NOT NULL REFERENCES chat_rooms (chat_id),
  user_id       TEXT NOT NULL,
  joined_at     INTEGER NOT NULL,
  last_read_seq INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (chat_id, user_id)
);
CREATE INDEX IF NOT EXISTS chat_members_user_id ON chat_members (user_id);

CREATE TABLE IF NOT EXISTS chat_messages (
  seq         INTEGER PRIMARY KEY AUTOINCREMENT,
  message_id  TEXT NOT NULL UNIQUE,
  chat_id     TEXT NOT NULL REFERENCES chat_rooms (chat_id),
  sender_id   TEXT NOT NULL,
  sender_name TEXT NOT NULL DEFAULT '',
  content     TEXT NOT NULL,
  created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_messages_chat_id ON chat_messages (chat_id, seq);
`

// SQLChatStore keeps chat data in a SQLite database.
type SQLChatStore struct {
	db *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func NewSQLChatStore(path string) (*SQLChatStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("chat database path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open sqlite db")
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrap(err, "ping sqlite db")
	}
	if _, err = db.Exec(chatSchema); err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrap(err, "create chat schema")
	}
	return &SQLChatStore{db: db}, nil
}

func (s *SQLChatStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLChatStore) CreateChatRoom(ctx context.Context, room types.ChatRoom) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_rooms (chat_id, lecture_id, chat_name, chat_status, updated_at) VALUES (?, ?, ?, ?, ?)`,
		room.ChatID, room.LectureID, room.Name, string(room.Status), toMillis(room.UpdatedAt),
	)
	if err != nil {
		return pkgerrors.Wrap(err, "could not create chat room")
	}
	return nil
}

func (s *SQLChatStore) LoadChatRoom(ctx context.Context, chatID string) (*types.ChatRoom, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, lecture_id, chat_name, chat_status, updated_at FROM chat_rooms WHERE chat_id = ?`,
		chatID,
	)
	room, err := scanChatRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rtc.ErrRoomNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "could not load chat room")
	}
	return room, nil
}

func (s *SQLChatStore) ListChatRoomsByLecture(ctx context.Context, lectureID string) ([]*types.ChatRoom, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, lecture_id, chat_name, chat_status, updated_at
		   FROM chat_rooms
		  WHERE lecture_id = ? AND chat_status = ?
		  ORDER BY updated_at DESC`,
		lectureID, string(types.ChatRoomStatusActive),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "could not list chat rooms")
	}
	defer rows.Close()

	var rooms []*types.ChatRoom
	for rows.Next() {
		room, err := scanChatRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *SQLChatStore) SetChatRoomStatus(ctx context.Context, chatID string, status types.ChatRoomStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_rooms SET chat_status = ?, updated_at = ? WHERE chat_id = ?`,
		string(status), toMillis(time.Now()), chatID,
	)
	if err != nil {
		return pkgerrors.Wrap(err, "could not update chat room")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rtc.ErrRoomNotFound
	}
	return nil
}

func (s *SQLChatStore) AddMember(ctx context.Context, chatID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_members (chat_id, user_id, joined_at) VALUES (?, ?, ?)`,
		chatID, userID, toMillis(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return rtc.ErrAlreadyJoined
		}
		return pkgerrors.Wrap(err, "could not add chat member")
	}
	return nil
}

func (s *SQLChatStore) RemoveMember(ctx context.Context, chatID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_members WHERE chat_id = ? AND user_id = ?`,
		chatID, userID,
	)
	if err != nil {
		return pkgerrors.Wrap(err, "could not remove chat member")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rtc.ErrNotAParticipant
	}
	return nil
}

func (s *SQLChatStore) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chat_members WHERE chat_id = ? AND user_id = ?`,
		chatID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, pkgerrors.Wrap(err, "could not check chat membership")
	}
	return true, nil
}

func (s *SQLChatStore) ListMemberRooms(ctx context.Context, userID string) ([]*types.ChatRoom, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.chat_id, r.lecture_id, r.chat_name, r.chat_status, r.updated_at,
		        (SELECT COUNT(*) FROM chat_messages m
		          WHERE m.chat_id = r.chat_id AND m.seq > cm.last_read_seq AND m.sender_id <> cm.user_id)
		   FROM chat_members cm
		   JOIN chat_rooms r ON r.chat_id = cm.chat_id
		  WHERE cm.user_id = ? AND r.chat_status = ?
		  ORDER BY r.updated_at DESC`,
		userID, string(types.ChatRoomStatusActive),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "could not list member chat rooms")
	}
	defer rows.Close()

	var rooms []*types.ChatRoom
	for rows.Next() {
		var (
			room      types.ChatRoom
			status    string
			updatedAt int64
		)
		if err := rows.Scan(&room.ChatID, &room.LectureID, &room.Name, &status, &updatedAt, &room.UnreadCount); err != nil {
			return nil, err
		}
		room.Status = types.ChatRoomStatus(status)
		room.UpdatedAt = fromMillis(updatedAt)
		rooms = append(rooms, &room)
	}
	return rooms, rows.Err()
}

// InsertMessage also bumps the room's updated_at.
func (s *SQLChatStore) InsertMessage(ctx context.Context, msg types.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	created := toMillis(msg.CreatedAt)
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO chat_messages (message_id, chat_id, sender_id, sender_name, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.ChatID, msg.SenderID, msg.SenderName, msg.Content, created,
	); err != nil {
		return pkgerrors.Wrap(err, "could not insert chat message")
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE chat_rooms SET updated_at = ? WHERE chat_id = ?`,
		created, msg.ChatID,
	); err != nil {
		return pkgerrors.Wrap(err, "could not update chat room")
	}
	return tx.Commit()
}

func (s *SQLChatStore) ListMessages(ctx context.Context, chatID, viewerID string, limit int) ([]*types.ChatMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.message_id, m.chat_id, m.sender_id, m.sender_name, m.content, m.created_at,
		        m.sender_id = ? OR m.seq <= COALESCE(
		          (SELECT last_read_seq FROM chat_members WHERE chat_id = m.chat_id AND user_id = ?), 0)
		   FROM chat_messages m
		  WHERE m.chat_id = ?
		  ORDER BY m.seq DESC
		  LIMIT ?`,
		viewerID, viewerID, chatID, limit,
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "could not list chat messages")
	}
	return scanChatMessages(rows)
}

func (s *SQLChatStore) ListUnreadMessages(ctx context.Context, chatID, userID string) ([]*types.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.message_id, m.chat_id, m.sender_id, m.sender_name, m.content, m.created_at, 0
		   FROM chat_messages m
		   JOIN chat_members cm ON cm.chat_id = m.chat_id AND cm.user_id = ?
		  WHERE m.chat_id = ? AND m.seq > cm.last_read_seq AND m.sender_id <> cm.user_id
		  ORDER BY m.seq DESC`,
		userID, chatID,
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "could not list unread chat messages")
	}
	return scanChatMessages(rows)
}

func (s *SQLChatStore) MarkRead(ctx context.Context, chatID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_members
		    SET last_read_seq = COALESCE((SELECT MAX(seq) FROM chat_messages WHERE chat_id = ?), 0)
		  WHERE chat_id = ? AND user_id = ?`,
		chatID, chatID, userID,
	)
	if err != nil {
		return pkgerrors.Wrap(err, "could not mark chat messages read")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rtc.ErrNotAParticipant
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChatRoom(row rowScanner) (*types.ChatRoom, error) {
	var (
		room      types.ChatRoom
		status    string
		updatedAt int64
	)
	if err := row.Scan(&room.ChatID, &room.LectureID, &room.Name, &status, &updatedAt); err != nil {
		return nil, err
	}
	room.Status = types.ChatRoomStatus(status)
	room.UpdatedAt = fromMillis(updatedAt)
	return &room, nil
}

func scanChatMessages(rows *sql.Rows) ([]*types.ChatMessage, error) {
	defer rows.Close()

	messages := make([]*types.ChatMessage, 0)
	for rows.Next() {
		var (
			msg       types.ChatMessage
			createdAt int64
		)
		if err := rows.Scan(&msg.MessageID, &msg.ChatID, &msg.SenderID, &msg.SenderName, &msg.Content, &createdAt, &msg.Checked); err != nil {
			return nil, err
		}
		msg.CreatedAt = fromMillis(createdAt)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

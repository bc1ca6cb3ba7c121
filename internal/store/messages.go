package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

func (r Role) Valid() bool {
	return r == RoleHuman || r == RoleAI
}

type Message struct {
	ID        int64
	ThreadID  int64
	Role      Role
	Content   string
	CreatedAt time.Time
}

// AddMessage appends one message to the thread.
func (s *Store) AddMessage(threadID int64, role Role, content string) (*Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	var m *Message
	err := s.inTx("add message", func(tx *sql.Tx) error {
		if err := threadExists(tx, threadID); err != nil {
			return err
		}
		var err error
		m, err = insertMessage(tx, threadID, role, content)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// AppendTurn records a completed turn: the user's utterance followed by the
// assistant's reply, committed together.
func (s *Store) AppendTurn(threadID int64, human, ai string) error {
	return s.inTx("append turn", func(tx *sql.Tx) error {
		if err := threadExists(tx, threadID); err != nil {
			return err
		}
		if _, err := insertMessage(tx, threadID, RoleHuman, human); err != nil {
			return err
		}
		_, err := insertMessage(tx, threadID, RoleAI, ai)
		return err
	})
}

func insertMessage(tx *sql.Tx, threadID int64, role Role, content string) (*Message, error) {
	ts := now()
	res, err := tx.Exec(
		`INSERT INTO messages (thread_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		threadID, string(role), content, ts)
	if err != nil {
		return nil, storageErr("insert message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storageErr("insert message", err)
	}
	return &Message{
		ID:        id,
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		CreatedAt: parseTime(ts),
	}, nil
}

// GetHistory returns all messages of the thread, oldest first.
func (s *Store) GetHistory(threadID int64) ([]Message, error) {
	history := []Message{}
	err := s.inTx("get history", func(tx *sql.Tx) error {
		if err := threadExists(tx, threadID); err != nil {
			return err
		}
		rows, err := tx.Query(`SELECT id, thread_id, role, content, created_at
			FROM messages WHERE thread_id = ? ORDER BY id ASC`, threadID)
		if err != nil {
			return storageErr("get history", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				m    Message
				role string
				ts   string
			)
			if err := rows.Scan(&m.ID, &m.ThreadID, &role, &m.Content, &ts); err != nil {
				return storageErr("scan message", err)
			}
			m.Role = Role(role)
			m.CreatedAt = parseTime(ts)
			history = append(history, m)
		}
		return storageErr("get history", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

// ClearMessages wipes the thread's history and returns how many messages
// were removed. The thread itself stays.
func (s *Store) ClearMessages(threadID int64) (int64, error) {
	var n int64
	err := s.inTx("clear messages", func(tx *sql.Tx) error {
		if err := threadExists(tx, threadID); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM messages WHERE thread_id = ?`, threadID)
		if err != nil {
			return storageErr("clear messages", err)
		}
		n, err = res.RowsAffected()
		return storageErr("clear messages", err)
	})
	return n, err
}

func (s *Store) CountMessages(threadID int64) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE thread_id = ?`, threadID).Scan(&n); err != nil {
		return 0, storageErr("count messages", err)
	}
	return n, nil
}

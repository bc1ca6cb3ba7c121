package store

import (
	"database/sql"
	"errors"
	"time"
)

// DefaultPersona is used when a thread is created without one.
const DefaultPersona = "neuromind"

type Thread struct {
	ID        int64
	Name      string
	Persona   string
	CreatedAt time.Time
}

type ThreadSummary struct {
	Name         string
	Persona      string
	MessageCount int
}

func (s *Store) GetThread(name string) (*Thread, error) {
	t, err := scanThread(s.db.QueryRow(
		`SELECT id, name, persona, created_at FROM threads WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get thread", err)
	}
	return t, nil
}

// GetOrCreateThread returns the thread called name, inserting it with persona
// when it does not exist yet. persona is ignored for existing threads. The
// bool reports whether this call created the row.
func (s *Store) GetOrCreateThread(name, persona string) (*Thread, bool, error) {
	if persona == "" {
		persona = DefaultPersona
	}
	var (
		t       *Thread
		created bool
	)
	err := s.inTx("get or create thread", func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO threads (name, persona, created_at) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING`,
			name, persona, now())
		if err != nil {
			return storageErr("insert thread", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return storageErr("insert thread", err)
		}
		created = n == 1

		t, err = scanThread(tx.QueryRow(
			`SELECT id, name, persona, created_at FROM threads WHERE name = ?`, name))
		if err != nil {
			return storageErr("select thread", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return t, created, nil
}

// ListThreads returns every thread with its message count, in creation order.
func (s *Store) ListThreads() ([]ThreadSummary, error) {
	rows, err := s.db.Query(`SELECT t.name, t.persona, COUNT(m.id)
		FROM threads t LEFT JOIN messages m ON m.thread_id = t.id
		GROUP BY t.id ORDER BY t.id`)
	if err != nil {
		return nil, storageErr("list threads", err)
	}
	defer rows.Close()

	result := []ThreadSummary{}
	for rows.Next() {
		var ts ThreadSummary
		if err := rows.Scan(&ts.Name, &ts.Persona, &ts.MessageCount); err != nil {
			return nil, storageErr("scan thread summary", err)
		}
		result = append(result, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list threads", err)
	}
	return result, nil
}

func scanThread(row *sql.Row) (*Thread, error) {
	var (
		t  Thread
		ts string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Persona, &ts); err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(ts)
	return &t, nil
}

// threadExists must run inside tx so the check and the write see the same state.
func threadExists(tx *sql.Tx, threadID int64) error {
	var one int
	err := tx.QueryRow(`SELECT 1 FROM threads WHERE id = ?`, threadID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return storageErr("check thread", err)
	}
	return nil
}

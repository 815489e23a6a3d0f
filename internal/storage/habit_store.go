// Package storage provides persistence for quest-tracker.
package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Georgexzy/quest-tracker/internal/core"
)

// HabitStore handles habit persistence. Reconciliation never reads or writes
// this collection; it exists so the habit screens round-trip locally.
type HabitStore struct {
	db *DB
}

// NewHabitStore creates a new habit store
func NewHabitStore(db *DB) *HabitStore {
	return &HabitStore{db: db}
}

// Insert inserts a new habit and returns its assigned id
func (s *HabitStore) Insert(h *core.HabitRecord) (int64, error) {
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now().UTC()
	}
	if h.Fields == nil {
		h.Fields = map[string]any{}
	}

	fields, _ := json.Marshal(h.Fields)

	res, err := s.db.conn.Exec(`
		INSERT INTO habits (fields, timestamp) VALUES (?, ?)
	`, string(fields), h.Timestamp)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	h.ID = id
	return id, nil
}

// Update upserts a habit by its id; the habit must carry one.
func (s *HabitStore) Update(h *core.HabitRecord) error {
	if h.ID == 0 {
		return core.ErrMissingRecordID
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now().UTC()
	}
	now := time.Now().UTC()
	h.UpdatedAt = &now

	fields, _ := json.Marshal(h.Fields)

	_, err := s.db.conn.Exec(`
		INSERT INTO habits (id, fields, timestamp, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    fields = excluded.fields,
		    updated_at = excluded.updated_at
	`, h.ID, string(fields), h.Timestamp, h.UpdatedAt)

	return err
}

// GetByID returns a habit by id
func (s *HabitStore) GetByID(id int64) (*core.HabitRecord, error) {
	row := s.db.conn.QueryRow(`
		SELECT id, fields, timestamp, updated_at FROM habits WHERE id = ?
	`, id)

	h, err := scanHabit(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrRecordNotFound
	}
	return h, err
}

// GetAll returns every habit
func (s *HabitStore) GetAll() ([]*core.HabitRecord, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, fields, timestamp, updated_at FROM habits ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var habits []*core.HabitRecord
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, err
		}
		habits = append(habits, h)
	}
	return habits, rows.Err()
}

func scanHabit(row rowScanner) (*core.HabitRecord, error) {
	h := &core.HabitRecord{}
	var fields string
	var updatedAt sql.NullTime

	err := row.Scan(&h.ID, &fields, &h.Timestamp, &updatedAt)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(fields), &h.Fields)
	if updatedAt.Valid {
		h.UpdatedAt = &updatedAt.Time
	}

	return h, nil
}

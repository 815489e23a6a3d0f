// Package storage provides persistence for quest-tracker.
package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Georgexzy/quest-tracker/internal/core"
)

// StepsStore handles step record persistence. One row per ingestion event;
// daily totals are always computed at query time.
type StepsStore struct {
	db *DB
}

// NewStepsStore creates a new steps store
func NewStepsStore(db *DB) *StepsStore {
	return &StepsStore{db: db}
}

// Insert inserts a new record and returns its assigned id. Timestamp is set
// to the insert instant when zero.
func (s *StepsStore) Insert(rec *core.StepsRecord) (int64, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}

	metadata, _ := json.Marshal(rec.Metadata)

	res, err := s.db.conn.Exec(`
		INSERT INTO steps (date, steps, source, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Date, rec.Steps, rec.Source, string(metadata), rec.Timestamp)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	rec.ID = id
	return id, nil
}

// Update upserts a record by its id. The record must carry one; ids are
// assigned by Insert and immutable thereafter.
func (s *StepsStore) Update(rec *core.StepsRecord) error {
	if rec.ID == 0 {
		return core.ErrMissingRecordID
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	now := time.Now().UTC()
	rec.UpdatedAt = &now

	metadata, _ := json.Marshal(rec.Metadata)

	_, err := s.db.conn.Exec(`
		INSERT INTO steps (id, date, steps, source, metadata, timestamp, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    date = excluded.date,
		    steps = excluded.steps,
		    source = excluded.source,
		    metadata = excluded.metadata,
		    updated_at = excluded.updated_at
	`, rec.ID, rec.Date, rec.Steps, rec.Source, string(metadata), rec.Timestamp, rec.UpdatedAt)

	return err
}

// GetByID returns a record by id
func (s *StepsStore) GetByID(id int64) (*core.StepsRecord, error) {
	row := s.db.conn.QueryRow(`
		SELECT id, date, steps, source, metadata, timestamp, updated_at
		FROM steps WHERE id = ?
	`, id)

	rec, err := scanStepsRecord(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrRecordNotFound
	}
	return rec, err
}

// GetAll returns every record in the collection
func (s *StepsStore) GetAll() ([]*core.StepsRecord, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, date, steps, source, metadata, timestamp, updated_at
		FROM steps
		ORDER BY date ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanStepsRecords(rows)
}

// QueryByDateRange returns records whose date falls within [start, end],
// bounds inclusive, using the date index.
func (s *StepsStore) QueryByDateRange(start, end string) ([]*core.StepsRecord, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, date, steps, source, metadata, timestamp, updated_at
		FROM steps
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC, id ASC
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanStepsRecords(rows)
}

// SumForDate returns the step total for one calendar date.
func (s *StepsStore) SumForDate(date string) (int, error) {
	var total int
	err := s.db.conn.QueryRow(
		"SELECT COALESCE(SUM(steps), 0) FROM steps WHERE date = ?", date,
	).Scan(&total)
	return total, err
}

// Count returns total record count
func (s *StepsStore) Count() (int, error) {
	var count int
	err := s.db.conn.QueryRow("SELECT COUNT(*) FROM steps").Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStepsRecord(row rowScanner) (*core.StepsRecord, error) {
	rec := &core.StepsRecord{}
	var metadata string
	var updatedAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.Date, &rec.Steps, &rec.Source, &metadata, &rec.Timestamp, &updatedAt)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(metadata), &rec.Metadata)
	if updatedAt.Valid {
		rec.UpdatedAt = &updatedAt.Time
	}

	return rec, nil
}

func scanStepsRecords(rows *sql.Rows) ([]*core.StepsRecord, error) {
	var records []*core.StepsRecord
	for rows.Next() {
		rec, err := scanStepsRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Package storage provides persistence for quest-tracker.
package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Georgexzy/quest-tracker/internal/core"
)

// HealthStore handles health data persistence. Payloads are stored verbatim;
// type and date are lifted out so the secondary indexes can serve filter and
// range queries without a full scan.
type HealthStore struct {
	db *DB
}

// NewHealthStore creates a new health data store
func NewHealthStore(db *DB) *HealthStore {
	return &HealthStore{db: db}
}

// Insert inserts a new record and returns its assigned id
func (s *HealthStore) Insert(rec *core.HealthRecord) (int64, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Payload == nil {
		rec.Payload = map[string]any{}
	}

	payload, _ := json.Marshal(rec.Payload)

	res, err := s.db.conn.Exec(`
		INSERT INTO health_data (type, date, payload, timestamp)
		VALUES (?, ?, ?, ?)
	`, rec.Type, rec.Date, string(payload), rec.Timestamp)
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

// Update upserts a record by its id; the record must carry one.
func (s *HealthStore) Update(rec *core.HealthRecord) error {
	if rec.ID == 0 {
		return core.ErrMissingRecordID
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	payload, _ := json.Marshal(rec.Payload)

	_, err := s.db.conn.Exec(`
		INSERT INTO health_data (id, type, date, payload, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    type = excluded.type,
		    date = excluded.date,
		    payload = excluded.payload
	`, rec.ID, rec.Type, rec.Date, string(payload), rec.Timestamp)

	return err
}

// GetByID returns a record by id
func (s *HealthStore) GetByID(id int64) (*core.HealthRecord, error) {
	row := s.db.conn.QueryRow(`
		SELECT id, type, date, payload, timestamp
		FROM health_data WHERE id = ?
	`, id)

	rec, err := scanHealthRecord(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrRecordNotFound
	}
	return rec, err
}

// GetAll returns every record in the collection
func (s *HealthStore) GetAll() ([]*core.HealthRecord, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, type, date, payload, timestamp
		FROM health_data
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHealthRecords(rows)
}

// GetByType returns records of one type via the type index.
func (s *HealthStore) GetByType(recordType string) ([]*core.HealthRecord, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, type, date, payload, timestamp
		FROM health_data
		WHERE type = ?
		ORDER BY id ASC
	`, recordType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHealthRecords(rows)
}

// QueryByDateRange returns records whose date falls within [start, end],
// bounds inclusive.
func (s *HealthStore) QueryByDateRange(start, end string) ([]*core.HealthRecord, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, type, date, payload, timestamp
		FROM health_data
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC, id ASC
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHealthRecords(rows)
}

// Count returns total record count
func (s *HealthStore) Count() (int, error) {
	var count int
	err := s.db.conn.QueryRow("SELECT COUNT(*) FROM health_data").Scan(&count)
	return count, err
}

func scanHealthRecord(row rowScanner) (*core.HealthRecord, error) {
	rec := &core.HealthRecord{}
	var payload string

	err := row.Scan(&rec.ID, &rec.Type, &rec.Date, &payload, &rec.Timestamp)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(payload), &rec.Payload)
	return rec, nil
}

func scanHealthRecords(rows *sql.Rows) ([]*core.HealthRecord, error) {
	var records []*core.HealthRecord
	for rows.Next() {
		rec, err := scanHealthRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

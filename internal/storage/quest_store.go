// Package storage provides persistence for quest-tracker.
package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Georgexzy/quest-tracker/internal/core"
)

// QuestStore handles quest persistence. Quests are written by ingestion and
// by the reconciliation engine; nothing deletes them.
type QuestStore struct {
	db *DB
}

// NewQuestStore creates a new quest store
func NewQuestStore(db *DB) *QuestStore {
	return &QuestStore{db: db}
}

// Insert inserts a new quest and returns its assigned id
func (s *QuestStore) Insert(q *core.Quest) (int64, error) {
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now().UTC()
	}
	if q.Target == nil {
		q.Target = map[string]any{}
	}

	target, _ := json.Marshal(q.Target)

	res, err := s.db.conn.Exec(`
		INSERT INTO quests (category, type, status, target, progress, completed, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, q.Category, q.Type, q.Status, string(target), q.Progress, q.Completed, q.Timestamp)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	q.ID = id
	return id, nil
}

// Update upserts a quest by its id; the quest must carry one. Sets updatedAt.
func (s *QuestStore) Update(q *core.Quest) error {
	if q.ID == 0 {
		return core.ErrMissingRecordID
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now().UTC()
	}
	now := time.Now().UTC()
	q.UpdatedAt = &now

	target, _ := json.Marshal(q.Target)

	_, err := s.db.conn.Exec(`
		INSERT INTO quests (id, category, type, status, target, progress, completed, timestamp, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    category = excluded.category,
		    type = excluded.type,
		    status = excluded.status,
		    target = excluded.target,
		    progress = excluded.progress,
		    completed = excluded.completed,
		    updated_at = excluded.updated_at
	`, q.ID, q.Category, q.Type, q.Status, string(target), q.Progress, q.Completed, q.Timestamp, q.UpdatedAt)

	return err
}

// GetByID returns a quest by id
func (s *QuestStore) GetByID(id int64) (*core.Quest, error) {
	row := s.db.conn.QueryRow(`
		SELECT id, category, type, status, target, progress, completed, timestamp, updated_at
		FROM quests WHERE id = ?
	`, id)

	q, err := scanQuest(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrRecordNotFound
	}
	return q, err
}

// GetAll returns every quest
func (s *QuestStore) GetAll() ([]*core.Quest, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, category, type, status, target, progress, completed, timestamp, updated_at
		FROM quests
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanQuests(rows)
}

// GetByCategory returns quests in a category via the category index.
func (s *QuestStore) GetByCategory(category string) ([]*core.Quest, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, category, type, status, target, progress, completed, timestamp, updated_at
		FROM quests
		WHERE category = ?
		ORDER BY id ASC
	`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanQuests(rows)
}

// GetByStatus returns quests with a status via the status index.
func (s *QuestStore) GetByStatus(status string) ([]*core.Quest, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, category, type, status, target, progress, completed, timestamp, updated_at
		FROM quests
		WHERE status = ?
		ORDER BY id ASC
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanQuests(rows)
}

func scanQuest(row rowScanner) (*core.Quest, error) {
	q := &core.Quest{}
	var target string
	var updatedAt sql.NullTime

	err := row.Scan(&q.ID, &q.Category, &q.Type, &q.Status, &target, &q.Progress, &q.Completed, &q.Timestamp, &updatedAt)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(target), &q.Target)
	if updatedAt.Valid {
		q.UpdatedAt = &updatedAt.Time
	}

	return q, nil
}

func scanQuests(rows *sql.Rows) ([]*core.Quest, error) {
	var quests []*core.Quest
	for rows.Next() {
		q, err := scanQuest(rows)
		if err != nil {
			return nil, err
		}
		quests = append(quests, q)
	}
	return quests, rows.Err()
}

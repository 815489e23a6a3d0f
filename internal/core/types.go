// Package core defines the fundamental types for the quest-tracker sync core.
package core

import (
	"encoding/json"
	"time"
)

// Collection is a type-safe name for a persistent record collection.
type Collection string

// The four record collections.
const (
	CollectionSteps      Collection = "steps"
	CollectionHealthData Collection = "health_data"
	CollectionQuests     Collection = "quests"
	CollectionHabits     Collection = "habits"
)

// DateFormat is the ISO calendar date layout used for all record dates.
const DateFormat = "2006-01-02"

// -----------------------------------------------------------------------------
// STEPS - One record per ingestion event, not per day
// -----------------------------------------------------------------------------

// StepsRecord is a single step-count observation. Multiple records may share
// the same date; daily totals are always a query-time sum.
type StepsRecord struct {
	ID        int64          `json:"id"`
	Date      string         `json:"date"`  // ISO calendar date (local)
	Steps     int            `json:"steps"` // non-negative
	Source    string         `json:"source"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty"`
}

// -----------------------------------------------------------------------------
// HEALTH DATA - Heterogeneous shared payloads stored verbatim
// -----------------------------------------------------------------------------

// HealthRecord holds an arbitrary shared health document. Type determines
// downstream interpretation but is not validated against a fixed enum.
type HealthRecord struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Date      string         `json:"date,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// -----------------------------------------------------------------------------
// QUEST - A user-defined goal reconciled against recorded activity
// -----------------------------------------------------------------------------

// Quest is a user-defined goal. Progress is recomputed from the full current
// step set, never incremented, so repeated reconciliation converges.
type Quest struct {
	ID        int64          `json:"id"`
	Category  string         `json:"category"`
	Type      string         `json:"type"`
	Status    string         `json:"status"`
	Target    map[string]any `json:"target,omitempty"` // structured goal, optionally {"steps": N}
	Progress  int            `json:"progress"`
	Completed bool           `json:"completed"`
	Timestamp time.Time      `json:"timestamp"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty"`
}

// TargetSteps returns the numeric step target, if the quest carries one.
// Target documents come from JSON, so the value may arrive as float64,
// json.Number, or int.
func (q *Quest) TargetSteps() (int, bool) {
	if q.Target == nil {
		return 0, false
	}
	switch v := q.Target["steps"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// -----------------------------------------------------------------------------
// HABIT - Reserved; not touched by reconciliation
// -----------------------------------------------------------------------------

// HabitRecord is an open document. The reconciliation engine never reads or
// writes habits; they round-trip through the store for the habit screens.
type HabitRecord struct {
	ID        int64          `json:"id"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty"`
}

// -----------------------------------------------------------------------------
// MESSAGES - Control and broadcast message types
// -----------------------------------------------------------------------------

// Inbound control message types, sent by application instances to the core.
const (
	MsgSkipWaiting          = "SKIP_WAITING"
	MsgSaveStepsData        = "SAVE_STEPS_DATA"
	MsgSaveHealthData       = "SAVE_HEALTH_DATA"
	MsgSaveQuestData        = "SAVE_QUEST_DATA"
	MsgGetStepsData         = "GET_STEPS_DATA"
	MsgGetQuestData         = "GET_QUEST_DATA"
	MsgSyncRequest          = "SYNC_REQUEST"
	MsgScheduleNotification = "SCHEDULE_NOTIFICATION"
	MsgUpdateQuestProgress  = "UPDATE_QUEST_PROGRESS"
)

// Outbound broadcast message types, sent to all connected instances.
const (
	MsgHealthDataReceived     = "HEALTH_DATA_RECEIVED"
	MsgQuestProgressUpdated   = "QUEST_PROGRESS_UPDATED"
	MsgBackgroundSyncComplete = "BACKGROUND_SYNC_COMPLETE"
	MsgDailyQuestCheck        = "DAILY_QUEST_CHECK"
	MsgNetworkStatusChange    = "NETWORK_STATUS_CHANGE"
	MsgNotification           = "NOTIFICATION"
)

// Reply message types for request/response control messages.
const (
	MsgStepsData = "STEPS_DATA"
	MsgQuestData = "QUEST_DATA"
)

// Deferred-sync tags.
const (
	SyncTagSteps      = "sync-steps"
	SyncTagQuestCheck = "quest-check"
	SyncTagHabits     = "sync-habits"
	SyncTagHealth     = "sync-health"
)

// -----------------------------------------------------------------------------
// CLOCK - Injected so tests can supply fixed values
// -----------------------------------------------------------------------------

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current local time.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. For tests.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.T }

// LocalDate formats t as an ISO calendar date in t's location.
func LocalDate(t time.Time) string {
	return t.Format(DateFormat)
}

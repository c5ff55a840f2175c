package storage

import (
	"time"
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON documents + JSONL delivery log (default)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Message is one entry of the rotating pool.
//
// The ID is a surrogate identifier assigned once at creation; rotation
// state references messages by ID so deleting a pool entry cannot shift
// which message the rotation points at.
type Message struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	MediaPaths []string `json:"media,omitempty"`
	Caption    string   `json:"caption,omitempty"`
}

// Destination is a chat the scheduler posts to.
type Destination struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Enabled  bool       `json:"enabled"`
	LastSent *time.Time `json:"last_sent,omitempty"`
}

type Mode string

const (
	ModeInterval   Mode = "interval"
	ModeFixedTimes Mode = "fixed_times"
)

type Rotation string

const (
	RotationSequential Rotation = "sequential"
	RotationRandom     Rotation = "random"
)

// Interval is a posting interval in whole minutes or hours.
type Interval struct {
	Value int    `json:"value"`
	Unit  string `json:"unit"` // "minutes" or "hours"
}

func (iv Interval) Duration() time.Duration {
	v := iv.Value
	if v <= 0 {
		v = 15
	}
	if iv.Unit == "hours" {
		return time.Duration(v) * time.Hour
	}
	return time.Duration(v) * time.Minute
}

// SchedulerState is the single persisted record governing scheduling.
// It is read-modify-written by every post cycle; last writer wins.
type SchedulerState struct {
	Active     bool     `json:"active"`
	Mode       Mode     `json:"mode"`
	Interval   Interval `json:"interval"`
	FixedTimes []string `json:"fixed_times,omitempty"`
	Rotation   Rotation `json:"rotation"`

	// CurrentMessageID points at the next message to post (sequential
	// rotation). CurrentMessageIndex is kept as a fallback for when the
	// referenced message has been deleted, and for display.
	CurrentMessageID    string `json:"current_message_id,omitempty"`
	CurrentMessageIndex int    `json:"current_message_index"`

	IsResting         bool      `json:"is_resting"`
	LastActivityStart time.Time `json:"last_activity_start,omitzero"`
	RestStart         time.Time `json:"rest_start,omitzero"`

	// Durations are stored in whole seconds.
	ActivitySeconds int `json:"activity_duration"`
	RestSeconds     int `json:"rest_duration"`

	NextFireTime *time.Time `json:"next_fire_time,omitempty"`
}

// DefaultState is what a first run (or a corrupt state record) starts from.
func DefaultState() SchedulerState {
	return SchedulerState{
		Active:          false,
		Mode:            ModeInterval,
		Interval:        Interval{Value: 15, Unit: "minutes"},
		Rotation:        RotationSequential,
		ActivitySeconds: 3600,
		RestSeconds:     600,
	}
}

type LogStatus string

const (
	StatusSuccess LogStatus = "Success"
	StatusFailed  LogStatus = "Failed"
	StatusResting LogStatus = "Resting"
	StatusResumed LogStatus = "Resumed"
)

// AllDestinations is the destination marker for cycle-wide log entries.
const AllDestinations = "All"

// LogEntry is one append-only delivery log record. Never mutated after
// append; there is no retention policy (accepted limitation).
type LogEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Destination string    `json:"destination"`
	Preview     string    `json:"message_preview"`
	Status      LogStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
}

package models

import (
	"encoding/json"
	"time"
)

// Activity log levels
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Levels lists the accepted activity log levels.
var Levels = []string{LevelInfo, LevelSuccess, LevelWarning, LevelError}

// ValidLevel reports whether level is one of Levels.
func ValidLevel(level string) bool {
	for _, l := range Levels {
		if l == level {
			return true
		}
	}
	return false
}

// LogEntry is one row of the append-only activity log
type LogEntry struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `json:"created_at" gorm:"index;not null"`
	Level     string    `json:"level" gorm:"index;not null"`
	Message   string    `json:"message" gorm:"not null"`
	Context   string    `json:"-" gorm:"type:text"` // JSON object
	Actor     string    `json:"actor" gorm:"not null;default:'anonymous'"`
	SourceIP  string    `json:"source_ip"`
}

// TableName specifies the table name for LogEntry
func (LogEntry) TableName() string {
	return "activity_logs"
}

// MarshalJSON inlines the stored context as an object.
func (e LogEntry) MarshalJSON() ([]byte, error) {
	type alias LogEntry
	var ctx json.RawMessage
	if e.Context != "" && json.Valid([]byte(e.Context)) {
		ctx = json.RawMessage(e.Context)
	}
	return json.Marshal(struct {
		alias
		Context json.RawMessage `json:"context,omitempty"`
	}{alias: alias(e), Context: ctx})
}

// LogStats summarizes the activity log for the admin dashboard
type LogStats struct {
	Total    int64            `json:"total"`
	Today    int64            `json:"today"`
	LastWeek int64            `json:"last_7_days"`
	ByLevel  map[string]int64 `json:"by_level"`
}

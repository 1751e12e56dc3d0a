// internal/model/event.go
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category classifies a log entry
type Category string

const (
	CategoryInfo     Category = "INFO"
	CategorySent     Category = "SENT"
	CategoryReceived Category = "RECEIVED"
	CategoryError    Category = "ERROR"
)

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryInfo, CategorySent, CategoryReceived, CategoryError:
		return true
	}
	return false
}

// LogEntry is one timestamped observation of a lifecycle or I/O event.
// Entries are immutable once appended.
type LogEntry struct {
	ID        uuid.UUID  `json:"id"`
	Seq       uint64     `json:"seq"`
	Timestamp time.Time  `json:"timestamp"`
	Category  Category   `json:"category"`
	Message   string     `json:"message"`
	LinkID    *uuid.UUID `json:"link_id,omitempty"`
}

// Display renders the entry the way the operator console shows it
func (e LogEntry) Display() string {
	ts := e.Timestamp.Format("15:04:05")
	switch e.Category {
	case CategorySent:
		return fmt.Sprintf("[%s] TX: %s", ts, e.Message)
	case CategoryReceived:
		return fmt.Sprintf("[%s] RX: %s", ts, e.Message)
	default:
		return fmt.Sprintf("[%s] %s", ts, e.Message)
	}
}

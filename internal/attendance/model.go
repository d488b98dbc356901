// Package attendance keeps the attendance and lateness tables: lateness
// rules, the record stores behind them, the cached ledger and the reports
// built from it.
package attendance

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStoreUnavailable means a table could not be read or written. Readers get
// this instead of an empty table.
var ErrStoreUnavailable = errors.New("attendance store unavailable")

// EventType distinguishes arrival and departure checks.
type EventType string

const (
	Arrival   EventType = "Arrival"
	Departure EventType = "Departure"
)

// ParseEventType accepts the labels case-insensitively.
func ParseEventType(s string) (EventType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arrival", "in":
		return Arrival, nil
	case "departure", "out":
		return Departure, nil
	}
	return "", fmt.Errorf("unknown check type %q", s)
}

// Layouts of the persisted Date and Time columns.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// AttendanceEvent is one row of the attendance table.
type AttendanceEvent struct {
	Name    string    `json:"name"`
	Service string    `json:"service"`
	Date    string    `json:"date"`
	Time    string    `json:"time"`
	Type    EventType `json:"type"`
	Status  string    `json:"status"`
}

// LatenessEvent is one row of the lateness table, written only when the
// paired attendance row is late.
type LatenessEvent struct {
	Name            string    `json:"name"`
	Service         string    `json:"service"`
	Date            string    `json:"date"`
	CheckTime       string    `json:"check_time"`
	OfficialTime    string    `json:"official_time"`
	Type            EventType `json:"type"`
	LatenessMinutes int       `json:"lateness_minutes"`
}

// StatusColumn is the value persisted in the Status column.
func StatusColumn(minutes int) string {
	if minutes <= 0 {
		return "On time"
	}
	return fmt.Sprintf("Late by %d min", minutes)
}

// StatusMessage is the status shown to the person checking in.
func StatusMessage(minutes int) string {
	if minutes <= 0 {
		return "On time"
	}
	return fmt.Sprintf("Late by %d minutes", minutes)
}

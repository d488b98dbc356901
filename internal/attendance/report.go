package attendance

import (
	"context"
	"slices"
	"strings"
	"time"
)

// HistoryFilter selects attendance rows. Empty fields match everything.
type HistoryFilter struct {
	Date    string
	Service string
	Name    string
}

func (f HistoryFilter) match(e AttendanceEvent) bool {
	return (f.Date == "" || e.Date == f.Date) &&
		(f.Service == "" || e.Service == f.Service) &&
		(f.Name == "" || e.Name == f.Name)
}

// LatenessFilter selects lateness rows. Empty fields match everything.
type LatenessFilter struct {
	Date    string
	Type    EventType
	Service string
}

func (f LatenessFilter) match(e LatenessEvent) bool {
	return (f.Date == "" || e.Date == f.Date) &&
		(f.Type == "" || e.Type == f.Type) &&
		(f.Service == "" || e.Service == f.Service)
}

// LatenessStats summarizes a set of lateness rows.
type LatenessStats struct {
	Count       int     `json:"count"`
	MeanMinutes float64 `json:"mean_minutes"`
	MaxMinutes  int     `json:"max_minutes"`
}

// LatenessReport is the filtered lateness table with its statistics.
type LatenessReport struct {
	Rows  []LatenessEvent `json:"rows"`
	Stats LatenessStats   `json:"stats"`
}

// FilterHistory returns the matching rows, newest first.
func FilterHistory(rows []AttendanceEvent, f HistoryFilter) []AttendanceEvent {
	out := make([]AttendanceEvent, 0)
	for _, e := range rows {
		if f.match(e) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b AttendanceEvent) int {
		return compareStamp(b.Date, b.Time, a.Date, a.Time)
	})
	return out
}

// FilterLateness returns the matching rows, newest first.
func FilterLateness(rows []LatenessEvent, f LatenessFilter) []LatenessEvent {
	out := make([]LatenessEvent, 0)
	for _, e := range rows {
		if f.match(e) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b LatenessEvent) int {
		return compareStamp(b.Date, b.CheckTime, a.Date, a.CheckTime)
	})
	return out
}

// Summarize computes count, mean and max lateness.
func Summarize(rows []LatenessEvent) LatenessStats {
	var stats LatenessStats
	total := 0
	for _, e := range rows {
		stats.Count++
		total += e.LatenessMinutes
		stats.MaxMinutes = max(stats.MaxMinutes, e.LatenessMinutes)
	}
	if stats.Count > 0 {
		stats.MeanMinutes = float64(total) / float64(stats.Count)
	}
	return stats
}

// WorkedHours is the span from the first arrival to the last departure of
// name/service on date. It is zero when either end is missing or the
// departure precedes the arrival.
func WorkedHours(rows []AttendanceEvent, name, service, date string) time.Duration {
	var first, last string
	for _, e := range rows {
		if e.Name != name || e.Service != service || e.Date != date {
			continue
		}
		switch e.Type {
		case Arrival:
			if first == "" || e.Time < first {
				first = e.Time
			}
		case Departure:
			if e.Time > last {
				last = e.Time
			}
		}
	}
	if first == "" || last == "" {
		return 0
	}
	in, err1 := time.Parse(TimeLayout, first)
	out, err2 := time.Parse(TimeLayout, last)
	if err1 != nil || err2 != nil || out.Before(in) {
		return 0
	}
	return out.Sub(in)
}

// Recent returns the latest n rows of name/service, newest first.
func Recent(rows []AttendanceEvent, name, service string, n int) []AttendanceEvent {
	out := FilterHistory(rows, HistoryFilter{Name: name, Service: service})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func compareStamp(dateA, timeA, dateB, timeB string) int {
	if c := strings.Compare(dateA, dateB); c != 0 {
		return c
	}
	return strings.Compare(timeA, timeB)
}

// History returns the filtered attendance table, newest first.
func (l *Ledger) History(ctx context.Context, f HistoryFilter) ([]AttendanceEvent, error) {
	rows, err := l.Attendance(ctx)
	if err != nil {
		return nil, err
	}
	return FilterHistory(rows, f), nil
}

// LatenessReport returns the filtered lateness table and its statistics.
func (l *Ledger) LatenessReport(ctx context.Context, f LatenessFilter) (LatenessReport, error) {
	rows, err := l.Lateness(ctx)
	if err != nil {
		return LatenessReport{}, err
	}
	filtered := FilterLateness(rows, f)
	return LatenessReport{Rows: filtered, Stats: Summarize(filtered)}, nil
}

// WorkedHours returns the worked span of name/service on date.
func (l *Ledger) WorkedHours(ctx context.Context, name, service, date string) (time.Duration, error) {
	rows, err := l.Attendance(ctx)
	if err != nil {
		return 0, err
	}
	return WorkedHours(rows, name, service, date), nil
}

// Recent returns the latest n checks of name/service.
func (l *Ledger) Recent(ctx context.Context, name, service string, n int) ([]AttendanceEvent, error) {
	rows, err := l.Attendance(ctx)
	if err != nil {
		return nil, err
	}
	return Recent(rows, name, service, n), nil
}

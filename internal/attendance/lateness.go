package attendance

import (
	"fmt"
	"time"

	"faceattend/internal/gallery"
)

// TimeOfDay is a wall-clock time at minute granularity.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (seconds, if present, are ignored).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", TimeLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("invalid time of day %q, want HH:MM", s)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Column formats the time as persisted in the Official Time column.
func (t TimeOfDay) Column() string {
	return fmt.Sprintf("%02d:%02d:00", t.Hour, t.Minute)
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

// Schedule holds the official arrival and departure times.
type Schedule struct {
	Arrival   TimeOfDay
	Departure TimeOfDay
}

// NewSchedule parses the official times.
func NewSchedule(arrival, departure string) (Schedule, error) {
	a, err := ParseTimeOfDay(arrival)
	if err != nil {
		return Schedule{}, fmt.Errorf("official arrival: %w", err)
	}
	d, err := ParseTimeOfDay(departure)
	if err != nil {
		return Schedule{}, fmt.Errorf("official departure: %w", err)
	}
	return Schedule{Arrival: a, Departure: d}, nil
}

// Official returns the reference time for an event type.
func (s Schedule) Official(et EventType) TimeOfDay {
	if et == Departure {
		return s.Departure
	}
	return s.Arrival
}

// For applies the identity's own official times over s. Unparsable overrides
// are ignored.
func (s Schedule) For(id gallery.Identity) Schedule {
	out := s
	if id.Arrival != "" {
		if t, err := ParseTimeOfDay(id.Arrival); err == nil {
			out.Arrival = t
		}
	}
	if id.Departure != "" {
		if t, err := ParseTimeOfDay(id.Departure); err == nil {
			out.Departure = t
		}
	}
	return out
}

// ComputeLateness returns the minutes by which a check misses its official
// time: after it for an arrival, before it for a departure. The result is
// never negative. The check is compared on its own calendar day at minute
// granularity, so a departure at 00:30 counts as early against that day's
// official departure.
func ComputeLateness(check time.Time, et EventType, s Schedule) int {
	at := check.Hour()*60 + check.Minute()
	official := s.Official(et).minutes()

	var late int
	if et == Departure {
		late = official - at
	} else {
		late = at - official
	}
	if late < 0 {
		return 0
	}
	return late
}

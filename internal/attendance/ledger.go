package attendance

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"faceattend/internal/clock"
	"faceattend/internal/gallery"
	"faceattend/internal/observability"
)

// table is a cached snapshot of one store table.
type table[T any] struct {
	rows      []T
	loaded    bool
	refreshed time.Time
}

func (t *table[T]) stale(now time.Time, expiration time.Duration) bool {
	return !t.loaded || now.Sub(t.refreshed) > expiration
}

// Outcome describes a recorded check.
type Outcome struct {
	Event    AttendanceEvent
	Lateness *LatenessEvent
	Minutes  int
	// Message is the user-facing status ("On time" or "Late by N minutes").
	Message string
}

// Ledger caches both tables in front of a Store and is the single writer for
// them. Record updates the store and the cached snapshots under one lock so
// readers never observe an attendance row without its lateness row.
type Ledger struct {
	store      Store
	clock      clock.Clock
	expiration time.Duration
	schedule   Schedule
	loc        *time.Location

	mu         sync.Mutex
	attendance table[AttendanceEvent]
	lateness   table[LatenessEvent]
}

// LedgerOption customizes a Ledger.
type LedgerOption func(*Ledger)

// WithLocation sets the zone used to stamp dates and times. Defaults to time.Local.
func WithLocation(loc *time.Location) LedgerOption {
	return func(l *Ledger) { l.loc = loc }
}

// NewLedger builds a ledger over store.
func NewLedger(store Store, clk clock.Clock, expiration time.Duration, schedule Schedule, opts ...LedgerOption) *Ledger {
	if clk == nil {
		clk = clock.Real()
	}
	l := &Ledger{
		store:      store,
		clock:      clk,
		expiration: expiration,
		schedule:   schedule,
		loc:        time.Local,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Schedule returns the default official times.
func (l *Ledger) Schedule() Schedule { return l.schedule }

// Attendance returns a copy of the attendance table, reloading it when stale.
func (l *Ledger) Attendance(ctx context.Context) ([]AttendanceEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refreshAttendance(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(l.attendance.rows), nil
}

// Lateness returns a copy of the lateness table, reloading it when stale.
func (l *Ledger) Lateness(ctx context.Context) ([]LatenessEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refreshLateness(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(l.lateness.rows), nil
}

func (l *Ledger) refreshAttendance(ctx context.Context) error {
	now := l.clock.Now()
	if !l.attendance.stale(now, l.expiration) {
		return nil
	}
	rows, err := l.store.LoadAttendance(ctx)
	if err != nil {
		return fmt.Errorf("load attendance: %w", err)
	}
	l.attendance = table[AttendanceEvent]{rows: rows, loaded: true, refreshed: now}
	return nil
}

func (l *Ledger) refreshLateness(ctx context.Context) error {
	now := l.clock.Now()
	if !l.lateness.stale(now, l.expiration) {
		return nil
	}
	rows, err := l.store.LoadLateness(ctx)
	if err != nil {
		return fmt.Errorf("load lateness: %w", err)
	}
	l.lateness = table[LatenessEvent]{rows: rows, loaded: true, refreshed: now}
	return nil
}

// Record appends a check for id stamped with the current time. A lateness
// row is added when the check misses the identity's official time.
func (l *Ledger) Record(ctx context.Context, id gallery.Identity, et EventType) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now().In(l.loc)
	schedule := l.schedule.For(id)
	minutes := ComputeLateness(now, et, schedule)

	event := AttendanceEvent{
		Name:    id.Name,
		Service: id.Service,
		Date:    now.Format(DateLayout),
		Time:    now.Format(TimeLayout),
		Type:    et,
		Status:  StatusColumn(minutes),
	}
	var late *LatenessEvent
	if minutes > 0 {
		late = &LatenessEvent{
			Name:            id.Name,
			Service:         id.Service,
			Date:            event.Date,
			CheckTime:       event.Time,
			OfficialTime:    schedule.Official(et).Column(),
			Type:            et,
			LatenessMinutes: minutes,
		}
	}

	if err := l.store.AppendCheck(ctx, event, late); err != nil {
		return Outcome{}, fmt.Errorf("record check: %w", err)
	}

	// Unloaded tables pick the rows up from the store on first read.
	if l.attendance.loaded {
		l.attendance.rows = append(l.attendance.rows, event)
	}
	if late != nil && l.lateness.loaded {
		l.lateness.rows = append(l.lateness.rows, *late)
	}

	status := "on_time"
	if minutes > 0 {
		status = "late"
	}
	observability.AttendanceRecorded.WithLabelValues(string(et), status).Inc()

	return Outcome{Event: event, Lateness: late, Minutes: minutes, Message: StatusMessage(minutes)}, nil
}

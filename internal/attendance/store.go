package attendance

import "context"

// Store persists the two tables. AppendCheck writes the attendance row and,
// when late is non-nil, its lateness row as one unit: either both are
// durable or neither is.
type Store interface {
	AppendCheck(ctx context.Context, event AttendanceEvent, late *LatenessEvent) error
	LoadAttendance(ctx context.Context) ([]AttendanceEvent, error)
	LoadLateness(ctx context.Context) ([]LatenessEvent, error)
}

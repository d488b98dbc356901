// Package checkin turns a captured face into an attendance record and owns
// enrollment of new faces. Every check-in outcome is reported as a Result
// that is safe to show to the person at the terminal.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"faceattend/internal/attendance"
	"faceattend/internal/clock"
	"faceattend/internal/gallery"
	"faceattend/internal/observability"
	"faceattend/internal/queue"
	"faceattend/internal/recognition"
)

// Result codes.
const (
	CodeRecorded         = "recorded"
	CodeNotRecognized    = "not_recognized"
	CodeProbeError       = "probe_error"
	CodeStoreUnavailable = "store_unavailable"
	CodeRecognitionError = "recognition_error"
)

// User-facing messages for failed check-ins.
const (
	MsgNotRecognized    = "Face not recognized. Please see the administrator."
	MsgProbeError       = "The captured image could not be processed. Please try again."
	MsgStoreUnavailable = "Attendance store unavailable. Please try again later."
	MsgRecognitionError = "Recognition failed. Please try again."
)

// ErrInvalidEnrollment wraps every enrollment validation failure.
var ErrInvalidEnrollment = errors.New("invalid enrollment")

// Recognizer resolves a probe image to an identity.
type Recognizer interface {
	Recognize(ctx context.Context, probe []byte) (recognition.Match, error)
}

// Ledger records checks and serves recent rows.
type Ledger interface {
	Record(ctx context.Context, id gallery.Identity, et attendance.EventType) (attendance.Outcome, error)
	Recent(ctx context.Context, name, service string, n int) ([]attendance.AttendanceEvent, error)
}

// FaceStore persists enrolled faces.
type FaceStore interface {
	Save(id gallery.Identity, jpeg []byte) (string, error)
	SetArchiveURL(ref, url string) error
}

// Invalidator drops a cached gallery snapshot.
type Invalidator interface {
	Invalidate()
}

// Archiver keeps an off-site copy of enrolled faces.
type Archiver interface {
	Archive(ctx context.Context, ref string, jpeg []byte) (string, error)
}

// Publisher sends notifications; queue.Queue satisfies it.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Deps are the collaborators of a Service. Archiver and Publisher are optional.
type Deps struct {
	Recognizer Recognizer
	Ledger     Ledger
	Faces      FaceStore
	Cache      Invalidator
	Archiver   Archiver
	Publisher  Publisher
	Clock      clock.Clock
}

// Service runs enrollments and check-ins.
type Service struct {
	deps Deps
}

// NewService builds a service.
func NewService(deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	return &Service{deps: deps}
}

// EnrollRequest is a face to enroll. Arrival and Departure optionally
// override the official times for this person ("HH:MM").
type EnrollRequest struct {
	Name      string
	Service   string
	Image     []byte
	Arrival   string
	Departure string
}

// Enrollment is the stored identity and its gallery reference.
type Enrollment struct {
	Identity gallery.Identity `json:"identity"`
	Ref      string           `json:"ref"`
}

// Enroll stores the face for (name, service), replacing an earlier one, and
// makes it visible to the very next recognition.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (Enrollment, error) {
	id := gallery.Identity{
		Name:      strings.TrimSpace(req.Name),
		Service:   strings.TrimSpace(req.Service),
		Arrival:   strings.TrimSpace(req.Arrival),
		Departure: strings.TrimSpace(req.Departure),
	}
	if id.Name == "" || id.Service == "" {
		return Enrollment{}, fmt.Errorf("%w: name and service are required", ErrInvalidEnrollment)
	}
	for _, t := range []string{id.Arrival, id.Departure} {
		if t == "" {
			continue
		}
		if _, err := attendance.ParseTimeOfDay(t); err != nil {
			return Enrollment{}, fmt.Errorf("%w: %v", ErrInvalidEnrollment, err)
		}
	}
	if len(req.Image) == 0 {
		return Enrollment{}, fmt.Errorf("%w: image is required", ErrInvalidEnrollment)
	}

	jpeg, err := gallery.NormalizeJPEG(req.Image)
	if err != nil {
		return Enrollment{}, fmt.Errorf("%w: %v", ErrInvalidEnrollment, err)
	}

	id.EnrolledAt = s.deps.Clock.Now().UTC()

	ref, err := s.deps.Faces.Save(id, jpeg)
	if errors.Is(err, gallery.ErrKeyCollision) {
		return Enrollment{}, fmt.Errorf("%w: %w", ErrInvalidEnrollment, err)
	}
	if err != nil {
		return Enrollment{}, fmt.Errorf("save face: %w", err)
	}
	if s.deps.Archiver != nil {
		if url, err := s.deps.Archiver.Archive(ctx, ref, jpeg); err != nil {
			slog.Warn("face archive failed", "ref", ref, "error", err)
		} else if err := s.deps.Faces.SetArchiveURL(ref, url); err != nil {
			slog.Warn("face archive url not recorded", "ref", ref, "error", err)
		} else {
			id.ArchiveURL = url
		}
	}
	s.deps.Cache.Invalidate()
	observability.Enrollments.Inc()

	slog.Info("face enrolled", "name", id.Name, "service", id.Service, "ref", ref)
	return Enrollment{Identity: id, Ref: ref}, nil
}

// Result is the outcome of a check-in as shown to the user.
type Result struct {
	OK              bool                         `json:"ok"`
	Code            string                       `json:"code"`
	Message         string                       `json:"message"`
	Identity        string                       `json:"identity,omitempty"`
	Service         string                       `json:"service,omitempty"`
	Type            attendance.EventType         `json:"type,omitempty"`
	Status          string                       `json:"status,omitempty"`
	LatenessMinutes int                          `json:"lateness_minutes,omitempty"`
	Distance        float64                      `json:"distance,omitempty"`
	Recent          []attendance.AttendanceEvent `json:"recent,omitempty"`
}

// RecordedNotification is published after every successful check-in.
type RecordedNotification struct {
	Name            string               `json:"name"`
	Service         string               `json:"service"`
	Type            attendance.EventType `json:"type"`
	Date            string               `json:"date"`
	Time            string               `json:"time"`
	Status          string               `json:"status"`
	LatenessMinutes int                  `json:"lateness_minutes"`
	Distance        float64              `json:"distance"`
}

// CheckIn recognizes the probe and, on a match, records the check. It never
// returns an error: failures are folded into the Result.
func (s *Service) CheckIn(ctx context.Context, probe []byte, et attendance.EventType) Result {
	match, err := s.deps.Recognizer.Recognize(ctx, probe)
	switch {
	case errors.Is(err, recognition.ErrProbe):
		slog.Warn("probe rejected", "error", err)
		return Result{Code: CodeProbeError, Message: MsgProbeError}
	case err != nil:
		slog.Error("recognition failed", "error", err)
		return Result{Code: CodeRecognitionError, Message: MsgRecognitionError}
	case !match.Known:
		slog.Info("face not recognized", "type", et)
		return Result{Code: CodeNotRecognized, Message: MsgNotRecognized}
	}

	id := match.Identity
	outcome, err := s.deps.Ledger.Record(ctx, id, et)
	if err != nil {
		slog.Error("record check failed", "name", id.Name, "service", id.Service, "error", err)
		return Result{
			Code:     CodeStoreUnavailable,
			Message:  MsgStoreUnavailable,
			Identity: id.Name,
			Service:  id.Service,
		}
	}

	slog.Info("check recorded",
		"name", id.Name,
		"service", id.Service,
		"type", et,
		"status", outcome.Event.Status,
		"distance", match.Distance,
	)
	s.notify(ctx, RecordedNotification{
		Name:            id.Name,
		Service:         id.Service,
		Type:            et,
		Date:            outcome.Event.Date,
		Time:            outcome.Event.Time,
		Status:          outcome.Event.Status,
		LatenessMinutes: outcome.Minutes,
		Distance:        match.Distance,
	})

	recent, err := s.deps.Ledger.Recent(ctx, id.Name, id.Service, 3)
	if err != nil {
		slog.Warn("load recent checks", "error", err)
	}

	return Result{
		OK:              true,
		Code:            CodeRecorded,
		Message:         fmt.Sprintf("%s recorded for %s (%s) - %s", et, id.Name, id.Service, outcome.Message),
		Identity:        id.Name,
		Service:         id.Service,
		Type:            et,
		Status:          outcome.Message,
		LatenessMinutes: outcome.Minutes,
		Distance:        match.Distance,
		Recent:          recent,
	}
}

func (s *Service) notify(ctx context.Context, n RecordedNotification) {
	if s.deps.Publisher == nil {
		return
	}
	msg, err := queue.NewMessage(queue.TypeAttendanceRecorded, n)
	if err != nil {
		slog.Warn("encode notification", "error", err)
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.deps.Publisher.Publish(pubCtx, msg); err != nil {
		slog.Warn("publish attendance notification", "error", err)
	}
}

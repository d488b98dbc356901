package attendance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenCSVCreatesHeaders(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "database")
	if _, err := OpenCSV(dir); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, AttendanceFile))
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "Name,Service,Date,Time,Type,Status\n" {
		t.Errorf("unexpected attendance header %q", got)
	}
	data, err = os.ReadFile(filepath.Join(dir, LatenessFile))
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "Name,Service,Date,Check Time,Official Time,Type,Lateness Minutes\n" {
		t.Errorf("unexpected lateness header %q", got)
	}
}

func TestOpenCSVKeepsExistingRows(t *testing.T) {
	dir := t.TempDir()
	existing := "Name,Service,Date,Time,Type,Status\nalice,HR,2024-03-01,08:20:00,Arrival,On time\n"
	if err := os.WriteFile(filepath.Join(dir, AttendanceFile), []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := OpenCSV(dir)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := s.LoadAttendance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Name != "alice" || rows[0].Type != Arrival {
		t.Errorf("unexpected rows %+v", rows)
	}
}

func TestCSVStoreAppendAndLoad(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenCSV(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	onTime := AttendanceEvent{Name: "alice", Service: "HR", Date: "2024-03-04", Time: "08:25:00", Type: Arrival, Status: "On time"}
	if err := s.AppendCheck(ctx, onTime, nil); err != nil {
		t.Fatal(err)
	}
	late := AttendanceEvent{Name: "Bob Stone", Service: "IT, Support", Date: "2024-03-04", Time: "08:46:00", Type: Arrival, Status: "Late by 16 min"}
	lateRow := &LatenessEvent{Name: "Bob Stone", Service: "IT, Support", Date: "2024-03-04", CheckTime: "08:46:00", OfficialTime: "08:30:00", Type: Arrival, LatenessMinutes: 16}
	if err := s.AppendCheck(ctx, late, lateRow); err != nil {
		t.Fatal(err)
	}

	rows, err := s.LoadAttendance(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0] != onTime || rows[1] != late {
		t.Errorf("unexpected attendance rows %+v", rows)
	}
	lates, err := s.LoadLateness(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(lates) != 1 || lates[0] != *lateRow {
		t.Errorf("unexpected lateness rows %+v", lates)
	}

	data, _ := os.ReadFile(filepath.Join(dir, AttendanceFile))
	if !strings.Contains(string(data), `"IT, Support"`) {
		t.Errorf("expected quoted service column, got %s", data)
	}
}

func TestCSVStoreRollsBackAttendanceWhenLatenessFails(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenCSV(dir)
	if err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(filepath.Join(dir, AttendanceFile))

	// A directory in place of the lateness file makes the second append fail.
	if err := os.Remove(filepath.Join(dir, LatenessFile)); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, LatenessFile), 0o755); err != nil {
		t.Fatal(err)
	}

	event := AttendanceEvent{Name: "bob", Service: "IT", Date: "2024-03-04", Time: "09:00:00", Type: Arrival, Status: "Late by 30 min"}
	late := &LatenessEvent{Name: "bob", Service: "IT", Date: "2024-03-04", CheckTime: "09:00:00", OfficialTime: "08:30:00", Type: Arrival, LatenessMinutes: 30}
	err = s.AppendCheck(context.Background(), event, late)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}

	after, _ := os.ReadFile(filepath.Join(dir, AttendanceFile))
	if string(after) != string(before) {
		t.Errorf("attendance file not rolled back:\n%s", after)
	}
}

func TestCSVStoreUnavailable(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenCSV(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := os.Remove(filepath.Join(dir, AttendanceFile)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadAttendance(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("missing file: expected ErrStoreUnavailable, got %v", err)
	}

	corrupt := "Name,Service,Date,Check Time,Official Time,Type,Lateness Minutes\nbob,IT,2024-03-04,09:00:00,08:30:00,Arrival,lots\n"
	if err := os.WriteFile(filepath.Join(dir, LatenessFile), []byte(corrupt), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadLateness(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("corrupt file: expected ErrStoreUnavailable, got %v", err)
	}

	wrongHeader := "Nom,Service,Date,Heure,Type,Statut\n"
	if err := os.WriteFile(filepath.Join(dir, AttendanceFile), []byte(wrongHeader), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadAttendance(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("foreign header: expected ErrStoreUnavailable, got %v", err)
	}
}

package attendance

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
)

const (
	AttendanceFile = "attendance.csv"
	LatenessFile   = "late_attendance.csv"
)

var (
	attendanceHeader = []string{"Name", "Service", "Date", "Time", "Type", "Status"}
	latenessHeader   = []string{"Name", "Service", "Date", "Check Time", "Official Time", "Type", "Lateness Minutes"}
)

// CSVStore keeps the tables as two CSV files in a data directory.
type CSVStore struct {
	attendancePath string
	latenessPath   string
	mu             sync.Mutex
}

// OpenCSV creates the data directory and any missing table file with its header.
func OpenCSV(dir string) (*CSVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &CSVStore{
		attendancePath: filepath.Join(dir, AttendanceFile),
		latenessPath:   filepath.Join(dir, LatenessFile),
	}
	if err := ensureTable(s.attendancePath, attendanceHeader); err != nil {
		return nil, err
	}
	if err := ensureTable(s.latenessPath, latenessHeader); err != nil {
		return nil, err
	}
	return s, nil
}

func ensureTable(path string, header []string) error {
	info, err := os.Stat(path)
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// AppendCheck appends the attendance row, then the lateness row. If the
// second append fails the attendance file is cut back to its previous size.
func (s *CSVStore) AppendCheck(_ context.Context, event AttendanceEvent, late *LatenessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	size, err := appendRecord(s.attendancePath, attendanceRecord(event))
	if err != nil {
		return fmt.Errorf("%w: append attendance: %v", ErrStoreUnavailable, err)
	}
	if late == nil {
		return nil
	}
	if _, err := appendRecord(s.latenessPath, latenessRecord(*late)); err != nil {
		if terr := os.Truncate(s.attendancePath, size); terr != nil {
			return fmt.Errorf("%w: append lateness: %v (rollback failed: %v)", ErrStoreUnavailable, err, terr)
		}
		return fmt.Errorf("%w: append lateness: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// appendRecord appends one CSV record and returns the file size before the write.
func appendRecord(path string, record []string) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, err
	}
	size := info.Size()

	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		f.Close()
		os.Truncate(path, size)
		return size, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Truncate(path, size)
		return size, err
	}
	if err := f.Close(); err != nil {
		os.Truncate(path, size)
		return size, err
	}
	return size, nil
}

// LoadAttendance reads the attendance table in file order.
func (s *CSVStore) LoadAttendance(_ context.Context) ([]AttendanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := readTable(s.attendancePath, attendanceHeader)
	if err != nil {
		return nil, err
	}
	events := make([]AttendanceEvent, 0, len(records))
	for _, r := range records {
		events = append(events, AttendanceEvent{
			Name:    r[0],
			Service: r[1],
			Date:    r[2],
			Time:    r[3],
			Type:    EventType(r[4]),
			Status:  r[5],
		})
	}
	return events, nil
}

// LoadLateness reads the lateness table in file order.
func (s *CSVStore) LoadLateness(_ context.Context) ([]LatenessEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := readTable(s.latenessPath, latenessHeader)
	if err != nil {
		return nil, err
	}
	events := make([]LatenessEvent, 0, len(records))
	for i, r := range records {
		minutes, err := strconv.Atoi(r[6])
		if err != nil {
			return nil, fmt.Errorf("%w: %s row %d: lateness minutes %q", ErrStoreUnavailable, LatenessFile, i+2, r[6])
		}
		events = append(events, LatenessEvent{
			Name:            r[0],
			Service:         r[1],
			Date:            r[2],
			CheckTime:       r[3],
			OfficialTime:    r[4],
			Type:            EventType(r[5]),
			LatenessMinutes: minutes,
		})
	}
	return events, nil
}

// readTable returns the data records of a table file. A missing or malformed
// file is reported as ErrStoreUnavailable.
func readTable(path string, header []string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)
	first, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, filepath.Base(path), err)
	}
	if !slices.Equal(first, header) {
		return nil, fmt.Errorf("%w: %s: unexpected header %v", ErrStoreUnavailable, filepath.Base(path), first)
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, filepath.Base(path), err)
	}
	return records, nil
}

func attendanceRecord(e AttendanceEvent) []string {
	return []string{e.Name, e.Service, e.Date, e.Time, string(e.Type), e.Status}
}

func latenessRecord(e LatenessEvent) []string {
	return []string{e.Name, e.Service, e.Date, e.CheckTime, e.OfficialTime, string(e.Type), strconv.Itoa(e.LatenessMinutes)}
}

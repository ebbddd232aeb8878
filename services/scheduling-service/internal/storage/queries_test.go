package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflict"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

type call struct {
	sql  string
	args []any
}

// recorder is a pgx.Tx that records statements and answers them from
// scripted rows.
type recorder struct {
	pgx.Tx
	calls []call
	rows  [][]any
	row   []any
	err   error
}

func (r *recorder) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	r.calls = append(r.calls, call{sql, args})
	if r.err != nil {
		return nil, r.err
	}
	return &scriptRows{rows: r.rows, i: -1}, nil
}

func (r *recorder) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	r.calls = append(r.calls, call{sql, args})
	if r.err != nil {
		return scriptRow{err: r.err}
	}
	return scriptRow{vals: r.row}
}

type scriptRows struct {
	pgx.Rows
	rows [][]any
	i    int
}

func (s *scriptRows) Next() bool             { s.i++; return s.i < len(s.rows) }
func (s *scriptRows) Err() error             { return nil }
func (s *scriptRows) Close()                 {}
func (s *scriptRows) Scan(dest ...any) error { return assign(s.rows[s.i], dest) }

type scriptRow struct {
	vals []any
	err  error
}

func (s scriptRow) Scan(dest ...any) error {
	if s.err != nil {
		return s.err
	}
	return assign(s.vals, dest)
}

func assign(vals, dest []any) error {
	if len(vals) != len(dest) {
		return fmt.Errorf("scan: %d values into %d targets", len(vals), len(dest))
	}
	for i, v := range vals {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported target %T", d)
		}
	}
	return nil
}

var day = time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)

func TestOverlappingPicksHolderPerResourceKind(t *testing.T) {
	window := interval.New(day.Add(9*time.Hour), day.Add(10*time.Hour))
	cases := map[conflict.Kind]string{
		conflict.Doctor:      "a.doctor_id = $1",
		conflict.Room:        "a.room_id = $1",
		conflict.Patient:     "a.patient_id = $1",
		conflict.Participant: "FROM appointment_participants p WHERE p.appointment_id = a.id AND p.employee_id = $1",
	}
	for kind, holder := range cases {
		rec := &recorder{}
		if _, err := NewAppointmentRepository(nil).Overlapping(context.Background(), rec, conflict.Resource{Kind: kind, ID: "res-1"}, window, nil); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if len(rec.calls) != 1 || !strings.Contains(rec.calls[0].sql, holder) {
			t.Fatalf("%s: expected %q in %v", kind, holder, rec.calls)
		}
	}
}

func TestOverlappingArgumentsAndRows(t *testing.T) {
	window := interval.New(day.Add(9*time.Hour), day.Add(10*time.Hour))
	rec := &recorder{rows: [][]any{
		{"a-1", "APT-20260128-001", day.Add(8*time.Hour + 30*time.Minute), day.Add(9*time.Hour + 15*time.Minute)},
		{"a-2", "APT-20260128-002", day.Add(9*time.Hour + 45*time.Minute), day.Add(10*time.Hour + 15*time.Minute)},
	}}
	got, err := NewAppointmentRepository(nil).Overlapping(context.Background(), rec, conflict.Resource{Kind: conflict.Room, ID: "room-1"}, window, nil)
	if err != nil {
		t.Fatalf("Overlapping: %v", err)
	}
	if len(got) != 2 || got[0].AppointmentCode != "APT-20260128-001" || !got[1].Window.End.Equal(day.Add(10*time.Hour+15*time.Minute)) {
		t.Fatalf("unexpected bookings %+v", got)
	}

	args := rec.calls[0].args
	if args[0] != "room-1" {
		t.Fatalf("expected resource id first, got %v", args[0])
	}
	if statuses := args[1].([]string); len(statuses) != len(model.ActiveStatuses) {
		t.Fatalf("expected active statuses, got %v", statuses)
	}
	// Half-open overlap: start < window end and end > window start.
	sql := rec.calls[0].sql
	if !strings.Contains(sql, "a.start_time < $4") || !strings.Contains(sql, "a.end_time > $3") {
		t.Fatalf("unexpected overlap predicate in %s", sql)
	}
	if !args[2].(time.Time).Equal(window.Start) || !args[3].(time.Time).Equal(window.End) {
		t.Fatalf("unexpected window args %v %v", args[2], args[3])
	}
	// A nil exclusion list must go out as an empty array: ANY(NULL) would
	// turn the NOT into NULL and hide every row.
	if exclude, ok := args[4].([]string); !ok || exclude == nil || len(exclude) != 0 {
		t.Fatalf("expected empty exclusion array, got %#v", args[4])
	}
}

func TestOverlappingRejectsUnknownKind(t *testing.T) {
	rec := &recorder{}
	_, err := NewAppointmentRepository(nil).Overlapping(context.Background(), rec, conflict.Resource{Kind: "desk"}, interval.New(day, day.Add(time.Hour)), nil)
	if err == nil || len(rec.calls) != 0 {
		t.Fatalf("expected an error without a query, got %v after %d calls", err, len(rec.calls))
	}
}

func TestNextCodeFormatsCounter(t *testing.T) {
	rec := &recorder{row: []any{7}}
	code, err := NewAppointmentRepository(nil).NextCode(context.Background(), rec, day)
	if err != nil {
		t.Fatalf("NextCode: %v", err)
	}
	if code != "APT-20260128-007" {
		t.Fatalf("expected APT-20260128-007, got %s", code)
	}
	c := rec.calls[0]
	if c.args[0] != "2026-01-28" || !strings.Contains(c.sql, "ON CONFLICT (day) DO UPDATE") {
		t.Fatalf("unexpected counter statement %q %v", c.sql, c.args)
	}

	boom := errors.New("connection reset")
	if _, err := NewAppointmentRepository(nil).NextCode(context.Background(), &recorder{err: boom}, day); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestSearchPassesFilterInOrder(t *testing.T) {
	rec := &recorder{}
	f := model.Filter{RoomCode: "ROOM-1", From: day, To: day.AddDate(0, 0, 1)}
	views, err := NewAppointmentRepository(nil).Search(context.Background(), rec, f)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected no views, got %d", len(views))
	}
	args := rec.calls[0].args
	want := []any{f.From, f.To, "", "ROOM-1", ""}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg %d: expected %v, got %v", i+1, want[i], args[i])
		}
	}
	if !strings.Contains(rec.calls[0].sql, "a.start_time < $2") || !strings.Contains(rec.calls[0].sql, "a.end_time > $1") {
		t.Fatalf("unexpected window predicate in %s", rec.calls[0].sql)
	}

	boom := errors.New("timeout")
	if _, err := NewAppointmentRepository(nil).Search(context.Background(), &recorder{err: boom}, f); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

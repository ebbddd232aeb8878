package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflict"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/testkit"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type testServer struct {
	clinic *testkit.Clinic
	svc    *booking.Service
	mux    *http.ServeMux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	c := testkit.NewClinic()
	now := func() time.Time { return testkit.Now }
	checker := conflict.NewChecker(c.World)
	svc := booking.NewService(booking.Deps{
		Store:    c.World,
		Plans:    c.World,
		Catalog:  c.World,
		Shifts:   c.World,
		Checker:  checker,
		Audit:    c.World,
		Events:   c.World.Outbox(),
		Notifier: c.World,
		Logger:   discard,
		Policy: booking.Policy{
			MinLead:        15 * time.Minute,
			MaxAdvance:     180 * 24 * time.Hour,
			Location:       time.UTC,
			HouseActorCode: "SYSTEM",
		},
		Now: now,
	})
	engine := availability.NewEngine(nil, c.World, c.World, checker, availability.Config{Location: time.UTC, Now: now})

	mux := http.NewServeMux()
	Register(mux, NewAvailabilityHandler(engine, time.UTC, discard), NewAppointmentHandler(svc, discard), nil)
	t.Cleanup(svc.Wait)
	return &testServer{clinic: c, svc: svc, mux: mux}
}

func (s *testServer) do(t *testing.T, method, target, actor, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if actor != "" {
		req.Header.Set(httpx.ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

const examBooking = `{"patient_code":"P-1","doctor_code":"DOC-1","room_code":"ROOM-1","start_time":"2026-01-28T09:00:00Z","service_codes":["EXAM"]}`

func appointmentOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	appt, ok := body["appointment"].(map[string]any)
	if !ok {
		t.Fatalf("expected appointment in %v", body)
	}
	return appt
}

func TestBookCreated(t *testing.T) {
	s := newTestServer(t)
	rec, body := s.do(t, http.MethodPost, "/api/v1/appointments/book", "DOC-1", examBooking)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	appt := appointmentOf(t, body)
	if appt["code"] != "APT-20260128-001" || appt["status"] != "SCHEDULED" {
		t.Fatalf("unexpected appointment %v", appt)
	}
	if appt["start_time"] != "2026-01-28T09:00:00Z" || appt["end_time"] != "2026-01-28T09:30:00Z" {
		t.Fatalf("unexpected window %v - %v", appt["start_time"], appt["end_time"])
	}
	if doctor := appt["doctor"].(map[string]any); doctor["code"] != "DOC-1" {
		t.Fatalf("unexpected doctor %v", doctor)
	}
}

func TestBookConflictIs409(t *testing.T) {
	s := newTestServer(t)
	if rec, _ := s.do(t, http.MethodPost, "/api/v1/appointments/book", "", examBooking); rec.Code != http.StatusCreated {
		t.Fatalf("first booking: %d %s", rec.Code, rec.Body.String())
	}
	again := strings.Replace(examBooking, "P-1", "P-2", 1)
	rec, body := s.do(t, http.MethodPost, "/api/v1/appointments/book", "", again)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["kind"] != "resource_conflict" || body["conflicting_appointment"] != "APT-20260128-001" {
		t.Fatalf("unexpected error body %v", body)
	}
	if body["resource"] == nil || body["error"] == nil {
		t.Fatalf("expected resource and message in %v", body)
	}
}

func TestBookPreconditionIs422(t *testing.T) {
	s := newTestServer(t)
	blocked := strings.Replace(examBooking, "P-1", "P-BLOCKED", 1)
	rec, body := s.do(t, http.MethodPost, "/api/v1/appointments/book", "", blocked)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["reason"] != apperr.ReasonPatientBlocked {
		t.Fatalf("unexpected reason %v", body["reason"])
	}
}

func TestBookRejectsMalformedRequests(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"missing patient", `{"doctor_code":"DOC-1","room_code":"ROOM-1","start_time":"2026-01-28T09:00:00Z","service_codes":["EXAM"]}`, "patient_code"},
		{"bad start", `{"patient_code":"P-1","doctor_code":"DOC-1","room_code":"ROOM-1","start_time":"tomorrow","service_codes":["EXAM"]}`, "start_time"},
		{"blank service", `{"patient_code":"P-1","doctor_code":"DOC-1","room_code":"ROOM-1","start_time":"2026-01-28T09:00:00Z","service_codes":[""]}`, "service_codes"},
		{"participant without code", `{"patient_code":"P-1","doctor_code":"DOC-1","room_code":"ROOM-1","start_time":"2026-01-28T09:00:00Z","service_codes":["EXAM"],"participants":[{"role":"ASSISTANT"}]}`, "participants"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := s.do(t, http.MethodPost, "/api/v1/appointments/book", "", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			fields, _ := body["fields"].(map[string]any)
			if _, ok := fields[tc.field]; !ok {
				t.Fatalf("expected field %s in %v", tc.field, body)
			}
		})
	}

	rec, _ := s.do(t, http.MethodPost, "/api/v1/appointments/book", "", `{"patient":"P-1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown field to be rejected, got %d", rec.Code)
	}
	rec, _ = s.do(t, http.MethodGet, "/api/v1/appointments/book", "", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if n := len(s.clinic.World.Appointments()); n != 0 {
		t.Fatalf("expected nothing booked, got %d", n)
	}
}

func TestStatusTransitions(t *testing.T) {
	s := newTestServer(t)
	if rec, _ := s.do(t, http.MethodPost, "/api/v1/appointments/book", "", examBooking); rec.Code != http.StatusCreated {
		t.Fatalf("book: %d %s", rec.Code, rec.Body.String())
	}

	rec, body := s.do(t, http.MethodPost, "/api/v1/appointments/status", "NURSE-1", `{"code":"APT-20260128-001","action":"check_in"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("check in: %d %s", rec.Code, rec.Body.String())
	}
	if appointmentOf(t, body)["status"] != "CHECKED_IN" {
		t.Fatalf("unexpected status %v", body)
	}

	rec, body = s.do(t, http.MethodPost, "/api/v1/appointments/status", "", `{"code":"APT-20260128-001","action":"COMPLETE"}`)
	if rec.Code != http.StatusConflict || body["kind"] != "invalid_state_transition" {
		t.Fatalf("expected invalid transition, got %d %v", rec.Code, body)
	}

	rec, body = s.do(t, http.MethodPost, "/api/v1/appointments/status", "", `{"code":"APT-20260128-001","action":"EXPLODE"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d %v", rec.Code, body)
	}

	rec, body = s.do(t, http.MethodPost, "/api/v1/appointments/status", "", `{"code":"APT-20260128-404","action":"CANCEL"}`)
	if rec.Code != http.StatusNotFound || body["reason"] != apperr.ReasonAppointmentNotFound {
		t.Fatalf("expected 404, got %d %v", rec.Code, body)
	}
}

func TestRescheduleAndDelay(t *testing.T) {
	s := newTestServer(t)
	if rec, _ := s.do(t, http.MethodPost, "/api/v1/appointments/book", "", examBooking); rec.Code != http.StatusCreated {
		t.Fatalf("book: %d %s", rec.Code, rec.Body.String())
	}

	rec, body := s.do(t, http.MethodPost, "/api/v1/appointments/delay", "", `{"code":"APT-20260128-001","new_start_time":"2026-01-28T09:10:00Z","reason_code":"LATE"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("delay: %d %s", rec.Code, rec.Body.String())
	}
	if appt := appointmentOf(t, body); appt["end_time"] != "2026-01-28T09:40:00Z" {
		t.Fatalf("unexpected delayed window %v", appt)
	}

	rec, body = s.do(t, http.MethodPost, "/api/v1/appointments/reschedule", "", `{"code":"APT-20260128-001","start_time":"2026-01-28T10:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reschedule: %d %s", rec.Code, rec.Body.String())
	}
	prev := body["previous"].(map[string]any)
	next := body["replacement"].(map[string]any)
	if prev["status"] != "CANCELLED" || prev["replaced_by"] != next["code"] || next["start_time"] != "2026-01-28T10:00:00Z" {
		t.Fatalf("unexpected reschedule result %v", body)
	}

	rec, _ = s.do(t, http.MethodPost, "/api/v1/appointments/reschedule", "", `{"code":"APT-20260128-001"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without start_time, got %d", rec.Code)
	}
}

func TestGetAndSearch(t *testing.T) {
	s := newTestServer(t)
	if rec, _ := s.do(t, http.MethodPost, "/api/v1/appointments/book", "", examBooking); rec.Code != http.StatusCreated {
		t.Fatalf("book: %d %s", rec.Code, rec.Body.String())
	}

	rec, body := s.do(t, http.MethodGet, "/api/v1/appointments?code=APT-20260128-001", "", "")
	if rec.Code != http.StatusOK || appointmentOf(t, body)["code"] != "APT-20260128-001" {
		t.Fatalf("get: %d %v", rec.Code, body)
	}
	rec, _ = s.do(t, http.MethodGet, "/api/v1/appointments?code=APT-20260128-002", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec, _ = s.do(t, http.MethodGet, "/api/v1/appointments", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without code, got %d", rec.Code)
	}

	rec, body = s.do(t, http.MethodGet, "/api/v1/appointments/search?room_code=ROOM-1&from=2026-01-28T00:00:00Z&to=2026-01-29T00:00:00Z", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("search: %d %s", rec.Code, rec.Body.String())
	}
	if items := body["appointments"].([]any); len(items) != 1 {
		t.Fatalf("expected one appointment, got %v", items)
	}

	rec, body = s.do(t, http.MethodGet, "/api/v1/appointments/search?from=2026-01-28T00:00:00Z&to=2026-01-29T00:00:00Z", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a resource, got %d %v", rec.Code, body)
	}
	rec, body = s.do(t, http.MethodGet, "/api/v1/appointments/search?doctor_code=DOC-1&room_code=ROOM-1&from=2026-01-28T00:00:00Z&to=2026-01-29T00:00:00Z", "", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 with two resources, got %d %v", rec.Code, body)
	}
}

func TestAvailabilityEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodGet, "/api/v1/availability/slots?date=2026-01-28&doctor_code=DOC-1&duration_minutes=30", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("slots: %d %s", rec.Code, rec.Body.String())
	}
	slots := body["slots"].([]any)
	if len(slots) != 1 {
		t.Fatalf("expected one slot, got %v", slots)
	}
	if slot := slots[0].(map[string]any); slot["start_time"] != "2026-01-28T08:00:00Z" || slot["suggested"] != true {
		t.Fatalf("unexpected slot %v", slot)
	}

	rec, body = s.do(t, http.MethodGet, "/api/v1/availability/slots?date=2026-01-28&doctor_code=DOC-1&duration_minutes=0", "", "")
	if rec.Code != http.StatusUnprocessableEntity || body["reason"] != apperr.ReasonInvalidDuration {
		t.Fatalf("expected 422 for zero duration, got %d %v", rec.Code, body)
	}
	rec, body = s.do(t, http.MethodGet, "/api/v1/availability/slots?date=28-01-2026&doctor_code=DOC-1&duration_minutes=abc", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if fields := body["fields"].(map[string]any); fields["date"] == nil || fields["duration_minutes"] == nil {
		t.Fatalf("expected date and duration errors, got %v", fields)
	}

	rec, body = s.do(t, http.MethodGet, "/api/v1/availability/doctors?date=2026-01-28&service_codes=FILLING", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("doctors: %d %s", rec.Code, rec.Body.String())
	}
	doctors := body["doctors"].([]any)
	if len(doctors) != 1 || doctors[0].(map[string]any)["code"] != "DOC-1" {
		t.Fatalf("expected only DOC-1 for FILLING, got %v", doctors)
	}

	rec, body = s.do(t, http.MethodGet, "/api/v1/availability/resources?start_time=2026-01-28T09:00:00Z&end_time=2026-01-28T09:30:00Z&service_codes=XRAY", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resources: %d %s", rec.Code, rec.Body.String())
	}
	if rooms := body["rooms"].([]any); len(rooms) != 2 {
		t.Fatalf("expected ROOM-1 and ROOM-3 for XRAY, got %v", rooms)
	}

	rec, body = s.do(t, http.MethodGet, "/api/v1/availability/times?date=2026-01-28&doctor_code=DOC-1&service_codes=EXAM,XRAY", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("times: %d %s", rec.Code, rec.Body.String())
	}
	if body["total_duration_minutes"] != float64(50) || len(body["slots"].([]any)) == 0 {
		t.Fatalf("unexpected times %v", body)
	}
}

type failingScheduler struct {
	Scheduler
	err error
}

func (f failingScheduler) Get(context.Context, string) (model.AppointmentView, error) {
	return model.AppointmentView{}, f.err
}

func TestInternalErrorsAreHidden(t *testing.T) {
	h := NewAppointmentHandler(failingScheduler{err: errors.New("connection refused")}, discard)
	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/appointments?code=APT-20260128-001", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}

	h = NewAppointmentHandler(failingScheduler{err: apperr.Integrity("expected 2 plan items, changed 1")}, discard)
	rec = httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/appointments?code=APT-20260128-001", nil))
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "integrity_mismatch") {
		t.Fatalf("expected integrity 500, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindNotFound:          http.StatusNotFound,
		apperr.KindPrecondition:      http.StatusUnprocessableEntity,
		apperr.KindConflict:          http.StatusConflict,
		apperr.KindInvalidTransition: http.StatusConflict,
		apperr.KindIntegrity:         http.StatusInternalServerError,
		apperr.KindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusFor(kind); got != want {
			t.Fatalf("%s: expected %d, got %d", kind, want, got)
		}
	}
}

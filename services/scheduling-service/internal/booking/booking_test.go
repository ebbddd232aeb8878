package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflict"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/testkit"
)

type eligibilityFunc func(patientID string, serviceIDs []string, day time.Time) error

func (f eligibilityFunc) Validate(_ context.Context, patientID string, serviceIDs []string, day time.Time) error {
	return f(patientID, serviceIDs, day)
}

func newService(c *testkit.Clinic, tweak ...func(*Deps)) *Service {
	d := Deps{
		Store:    c.World,
		Plans:    c.World,
		Catalog:  c.World,
		Shifts:   c.World,
		Checker:  conflict.NewChecker(c.World),
		Audit:    c.World,
		Events:   c.World.Outbox(),
		Notifier: c.World,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Policy: Policy{
			MinLead:        15 * time.Minute,
			MaxAdvance:     180 * 24 * time.Hour,
			Location:       time.UTC,
			HouseActorCode: "SYSTEM",
		},
		Now: func() time.Time { return testkit.Now },
	}
	for _, fn := range tweak {
		fn(&d)
	}
	return NewService(d)
}

func examAt(h, m int) BookRequest {
	return BookRequest{
		PatientCode:  "P-1",
		DoctorCode:   "DOC-1",
		RoomCode:     "ROOM-1",
		StartTime:    testkit.At(h, m),
		ServiceCodes: []string{"EXAM"},
	}
}

func assertNothingWritten(t *testing.T, c *testkit.Clinic) {
	t.Helper()
	if n := len(c.World.Appointments()); n != 0 {
		t.Fatalf("expected no appointments, got %d", n)
	}
	if n := len(c.World.AuditEntries()); n != 0 {
		t.Fatalf("expected no audit rows, got %d", n)
	}
	if n := len(c.World.Events()); n != 0 {
		t.Fatalf("expected no outbox events, got %d", n)
	}
}

func TestBookSuccess(t *testing.T) {
	c := testkit.NewClinic()
	svc := newService(c)

	req := examAt(9, 0)
	req.ServiceCodes = []string{"EXAM", "XRAY"}
	req.Participants = []ParticipantRequest{{EmployeeCode: "NURSE-1"}}
	req.Notes = "first visit"

	view, err := svc.Book(context.Background(), "DOC-1", req)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	svc.Wait()

	if view.Code != "APT-20260128-001" {
		t.Fatalf("unexpected code %q", view.Code)
	}
	// (20+10) + (15+5) minutes.
	if !view.StartTime.Equal(testkit.At(9, 0)) || !view.EndTime.Equal(testkit.At(9, 50)) {
		t.Fatalf("unexpected window %s-%s", view.StartTime, view.EndTime)
	}
	if view.Status != model.StatusScheduled || view.Patient.Code != "P-1" || view.Doctor.Code != "DOC-1" || view.Room.Code != "ROOM-1" {
		t.Fatalf("unexpected view %+v", view)
	}
	if len(view.Services) != 2 || len(view.Participants) != 1 || view.Participants[0].Role != model.RoleAssistant {
		t.Fatalf("unexpected associations %+v %+v", view.Services, view.Participants)
	}

	audit := c.World.AuditEntries()
	if len(audit) != 1 {
		t.Fatalf("expected one audit row, got %d", len(audit))
	}
	if audit[0].Action != model.ActionCreate || audit[0].NewStatus != model.StatusScheduled || audit[0].ActorID != c.Doc1.ID || audit[0].Notes != "first visit" {
		t.Fatalf("unexpected audit row %+v", audit[0])
	}

	events := c.World.Events()
	if len(events) != 1 || events[0].EventType != outbox.TopicBooked || events[0].AggregateID != view.ID {
		t.Fatalf("unexpected events %+v", events)
	}
	if n := len(c.World.Notifications()); n != 2 {
		t.Fatalf("expected doctor and nurse notified, got %d", n)
	}

	locks := c.World.LockedKeys
	want := []string{"doctor:" + c.Doc1.ID, "doctor:" + c.Nurse1.ID, "patient:" + c.Patient.ID, "room:" + c.Room1.ID}
	if len(locks) != 1 || len(locks[0]) != len(want) {
		t.Fatalf("unexpected locks %v", locks)
	}
	for i := range want {
		if locks[0][i] != want[i] {
			t.Fatalf("expected sorted lock keys %v, got %v", want, locks[0])
		}
	}

	second, err := svc.Book(context.Background(), "DOC-1", examAt(11, 0))
	if err != nil {
		t.Fatalf("second Book: %v", err)
	}
	if second.Code != "APT-20260128-002" {
		t.Fatalf("expected daily sequence to advance, got %q", second.Code)
	}
}

func TestBookRoomIncompatibleWritesNothing(t *testing.T) {
	c := testkit.NewClinic()
	svc := newService(c)

	req := examAt(9, 0)
	req.RoomCode = "ROOM-2"
	req.ServiceCodes = []string{"EXAM", "XRAY"}
	_, err := svc.Book(context.Background(), "DOC-1", req)
	if apperr.ReasonOf(err) != apperr.ReasonRoomIncompatible || apperr.KindOf(err) != apperr.KindPrecondition {
		t.Fatalf("expected room incompatibility, got %v", err)
	}
	assertNothingWritten(t, c)
}

func TestBookRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*BookRequest)
		kind   apperr.Kind
		reason string
	}{
		{"unknown patient", func(r *BookRequest) { r.PatientCode = "P-NONE" }, apperr.KindNotFound, apperr.ReasonPatientNotFound},
		{"inactive patient", func(r *BookRequest) { r.PatientCode = "P-OFF" }, apperr.KindPrecondition, apperr.ReasonPatientInactive},
		{"blocked patient", func(r *BookRequest) { r.PatientCode = "P-BLOCKED" }, apperr.KindPrecondition, apperr.ReasonPatientBlocked},
		{"unknown doctor", func(r *BookRequest) { r.DoctorCode = "DOC-NONE" }, apperr.KindNotFound, apperr.ReasonDoctorNotFound},
		{"inactive doctor", func(r *BookRequest) { r.DoctorCode = "DOC-OFF" }, apperr.KindPrecondition, apperr.ReasonDoctorInactive},
		{"not medical", func(r *BookRequest) { r.DoctorCode = "CLERK-1" }, apperr.KindPrecondition, apperr.ReasonNotMedicalStaff},
		{"unknown room", func(r *BookRequest) { r.RoomCode = "ROOM-9" }, apperr.KindNotFound, apperr.ReasonRoomNotFound},
		{"inactive room", func(r *BookRequest) { r.RoomCode = "ROOM-4" }, apperr.KindPrecondition, apperr.ReasonRoomInactive},
		{"unknown service", func(r *BookRequest) { r.ServiceCodes = []string{"EXAM", "NOPE"} }, apperr.KindNotFound, apperr.ReasonServicesNotFound},
		{"no services", func(r *BookRequest) { r.ServiceCodes = nil }, apperr.KindPrecondition, apperr.ReasonNoServices},
		{"both modes", func(r *BookRequest) { r.PlanItemIDs = []string{"item-1"} }, apperr.KindPrecondition, apperr.ReasonBookingMode},
		{"unqualified doctor", func(r *BookRequest) { r.DoctorCode = "DOC-3"; r.ServiceCodes = []string{"FILLING"} }, apperr.KindPrecondition, apperr.ReasonDoctorNotQualified},
		{"start in past", func(r *BookRequest) { r.StartTime = testkit.Now.Add(-time.Hour) }, apperr.KindPrecondition, apperr.ReasonStartInPast},
		{"lead time", func(r *BookRequest) { r.StartTime = testkit.Now.Add(10 * time.Minute) }, apperr.KindPrecondition, apperr.ReasonLeadTime},
		{"beyond horizon", func(r *BookRequest) { r.StartTime = testkit.Now.AddDate(0, 0, 200) }, apperr.KindPrecondition, apperr.ReasonBeyondHorizon},
		{"no shift", func(r *BookRequest) { r.StartTime = testkit.At(9, 0).AddDate(0, 0, 1) }, apperr.KindPrecondition, apperr.ReasonNoShift},
		{"shift ends early", func(r *BookRequest) { r.StartTime = testkit.At(11, 45) }, apperr.KindPrecondition, apperr.ReasonShiftNotCovering},
		{"participant off shift", func(r *BookRequest) {
			r.Participants = []ParticipantRequest{{EmployeeCode: "NURSE-2"}}
		}, apperr.KindPrecondition, apperr.ReasonShiftNotCovering},
		{"participant unknown", func(r *BookRequest) {
			r.Participants = []ParticipantRequest{{EmployeeCode: "NURSE-9"}}
		}, apperr.KindNotFound, apperr.ReasonParticipantNotFound},
		{"participant not medical", func(r *BookRequest) {
			r.Participants = []ParticipantRequest{{EmployeeCode: "CLERK-1"}}
		}, apperr.KindPrecondition, apperr.ReasonNotMedicalStaff},
		{"participant is doctor", func(r *BookRequest) {
			r.Participants = []ParticipantRequest{{EmployeeCode: "DOC-1"}}
		}, apperr.KindPrecondition, apperr.ReasonParticipantIsDoctor},
		{"participant bad role", func(r *BookRequest) {
			r.Participants = []ParticipantRequest{{EmployeeCode: "NURSE-1", Role: "SURGEON"}}
		}, apperr.KindPrecondition, apperr.ReasonInvalidRole},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := testkit.NewClinic()
			svc := newService(c)
			req := examAt(9, 0)
			tc.mutate(&req)

			_, err := svc.Book(context.Background(), "DOC-1", req)
			e, ok := apperr.As(err)
			if !ok || e.Kind != tc.kind || e.Reason != tc.reason {
				t.Fatalf("expected %s/%s, got %v", tc.kind, tc.reason, err)
			}
			assertNothingWritten(t, c)
		})
	}
}

func TestBookConflicts(t *testing.T) {
	cases := []struct {
		name     string
		seed     func(c *testkit.Clinic) model.Appointment
		resource string
	}{
		{"doctor", func(c *testkit.Clinic) model.Appointment {
			return c.Book(c.Doc1, c.Room2, c.Patient2, testkit.At(9, 15), testkit.At(9, 45))
		}, "doctor"},
		{"doctor assisting elsewhere", func(c *testkit.Clinic) model.Appointment {
			return c.Book(c.Doc3, c.Room2, c.Patient2, testkit.At(8, 45), testkit.At(9, 15), c.Doc1)
		}, "doctor"},
		{"room", func(c *testkit.Clinic) model.Appointment {
			return c.Book(c.Doc3, c.Room1, c.Patient2, testkit.At(9, 0), testkit.At(9, 30))
		}, "room"},
		{"patient", func(c *testkit.Clinic) model.Appointment {
			return c.Book(c.Doc3, c.Room2, c.Patient, testkit.At(9, 20), testkit.At(10, 0))
		}, "patient"},
		{"participant", func(c *testkit.Clinic) model.Appointment {
			return c.Book(c.Nurse1, c.Room2, c.Patient2, testkit.At(9, 0), testkit.At(9, 30))
		}, "participant"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := testkit.NewClinic()
			existing := tc.seed(c)
			svc := newService(c)

			req := examAt(9, 0)
			req.Participants = []ParticipantRequest{{EmployeeCode: "NURSE-1"}}
			_, err := svc.Book(context.Background(), "DOC-1", req)
			e, ok := apperr.As(err)
			if !ok || e.Kind != apperr.KindConflict {
				t.Fatalf("expected conflict, got %v", err)
			}
			if e.Resource != tc.resource || e.ConflictingAppointment != existing.Code {
				t.Fatalf("expected %s conflict with %s, got %+v", tc.resource, existing.Code, e)
			}
			if n := len(c.World.Appointments()); n != 1 {
				t.Fatalf("expected only the seeded appointment, got %d", n)
			}
		})
	}
}

func TestTouchingBookingsDoNotConflict(t *testing.T) {
	c := testkit.NewClinic()
	svc := newService(c)
	if _, err := svc.Book(context.Background(), "DOC-1", examAt(9, 0)); err != nil {
		t.Fatalf("first Book: %v", err)
	}
	// EXAM is 30 minutes, so 09:30 starts exactly where the first ends.
	if _, err := svc.Book(context.Background(), "DOC-1", examAt(9, 30)); err != nil {
		t.Fatalf("touching Book: %v", err)
	}
}

func TestBookAfterMidnightOnOvernightShift(t *testing.T) {
	c := testkit.NewClinic()
	c.World.AddShift(c.Doc1.ID, testkit.At(20, 0), testkit.At(26, 0))
	svc := newService(c)

	view, err := svc.Book(context.Background(), "DOC-1", examAt(24, 0))
	if err != nil {
		t.Fatalf("Book inside the overnight shift: %v", err)
	}
	if !view.StartTime.Equal(testkit.At(24, 0)) {
		t.Fatalf("unexpected start %s", view.StartTime)
	}

	_, err = svc.Book(context.Background(), "DOC-1", examAt(25, 45))
	if apperr.ReasonOf(err) != apperr.ReasonShiftNotCovering {
		t.Fatalf("expected shift not covering past 02:00, got %v", err)
	}
}

func TestConcurrentDoubleBookingHasOneWinner(t *testing.T) {
	c := testkit.NewClinic()
	svc := newService(c)

	first, second := examAt(9, 0), examAt(9, 0)
	second.PatientCode = "P-2"
	second.RoomCode = "ROOM-3"

	// The second booking starts while the first sits between its conflict
	// check and its insert. It must wait on the doctor's lock and then see
	// the first row, not commit alongside it.
	var (
		started   atomic.Bool
		secondErr error
		wg        sync.WaitGroup
	)
	c.World.BeforeInsert = func(model.Appointment) {
		if !started.CompareAndSwap(false, true) {
			return
		}
		done := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(done)
			_, secondErr = svc.Book(context.Background(), "DOC-1", second)
		}()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	_, firstErr := svc.Book(context.Background(), "DOC-1", first)
	wg.Wait()
	svc.Wait()

	if firstErr != nil {
		t.Fatalf("first Book: %v", firstErr)
	}
	if apperr.KindOf(secondErr) != apperr.KindConflict {
		t.Fatalf("expected the second Book to conflict, got %v", secondErr)
	}
	scheduled := 0
	for _, a := range c.World.Appointments() {
		if a.DoctorID == c.Doc1.ID && a.Status == model.StatusScheduled {
			scheduled++
		}
	}
	if scheduled != 1 {
		t.Fatalf("expected exactly one scheduled appointment, got %d", scheduled)
	}
}

func TestNotificationFailureDoesNotFailBooking(t *testing.T) {
	c := testkit.NewClinic()
	c.World.NotifyErr = errors.New("smtp down")
	svc := newService(c)

	if _, err := svc.Book(context.Background(), "DOC-1", examAt(9, 0)); err != nil {
		t.Fatalf("Book must succeed when notification fails, got %v", err)
	}
	svc.Wait()
	if n := len(c.World.Appointments()); n != 1 {
		t.Fatalf("expected committed appointment, got %d", n)
	}
}

func TestEligibilityRejectionWritesNothing(t *testing.T) {
	c := testkit.NewClinic()
	var gotDay time.Time
	svc := newService(c, func(d *Deps) {
		d.Eligibility = eligibilityFunc(func(_ string, _ []string, day time.Time) error {
			gotDay = day
			return apperr.Precondition(apperr.ReasonIneligible, "contraindicated")
		})
	})

	_, err := svc.Book(context.Background(), "DOC-1", examAt(9, 0))
	if apperr.ReasonOf(err) != apperr.ReasonIneligible {
		t.Fatalf("expected eligibility rejection, got %v", err)
	}
	if !gotDay.Equal(testkit.Day) {
		t.Fatalf("expected clinic day, got %s", gotDay)
	}
	assertNothingWritten(t, c)
}

func TestActorResolution(t *testing.T) {
	c := testkit.NewClinic()
	svc := newService(c)
	ctx := context.Background()

	if _, err := svc.Book(ctx, "GHOST", examAt(9, 0)); apperr.ReasonOf(err) != apperr.ReasonEmployeeNotFound {
		t.Fatalf("expected unknown actor rejected, got %v", err)
	}
	if _, err := svc.Book(ctx, "SYSTEM", examAt(9, 0)); err != nil {
		t.Fatalf("house actor Book: %v", err)
	}
	audit := c.World.AuditEntries()
	if len(audit) != 1 || audit[0].ActorID != "" {
		t.Fatalf("expected system audit row, got %+v", audit)
	}
	actor, err := svc.ResolveActor(ctx, "")
	if err != nil || !actor.House {
		t.Fatalf("expected empty code to resolve to house actor, got %+v %v", actor, err)
	}
}

func seedPlan(c *testkit.Clinic) {
	c.World.AddPlan("plan-1", model.PlanPending)
	c.World.AddPlanItem(model.PlanItem{ID: "item-1", PlanID: "plan-1", PatientID: c.Patient.ID, ServiceID: c.Exam.ID, Status: model.PlanItemReady})
	c.World.AddPlanItem(model.PlanItem{ID: "item-2", PlanID: "plan-1", PatientID: c.Patient.ID, ServiceID: c.Xray.ID, Status: model.PlanItemReady})
	c.World.AddPlanItem(model.PlanItem{ID: "item-other", PlanID: "plan-2", PatientID: c.Patient2.ID, ServiceID: c.Exam.ID, Status: model.PlanItemReady})
	c.World.AddPlanItem(model.PlanItem{ID: "item-done", PlanID: "plan-1", PatientID: c.Patient.ID, ServiceID: c.Exam.ID, Status: model.PlanItemCompleted})
}

func planRequest(ids ...string) BookRequest {
	req := examAt(9, 0)
	req.ServiceCodes = nil
	req.PlanItemIDs = ids
	return req
}

func TestBookFromPlanItems(t *testing.T) {
	c := testkit.NewClinic()
	seedPlan(c)
	svc := newService(c)

	view, err := svc.Book(context.Background(), "DOC-1", planRequest("item-1", "item-2"))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if !view.EndTime.Equal(testkit.At(9, 50)) || len(view.PlanItemIDs) != 2 {
		t.Fatalf("unexpected view %+v", view)
	}
	for _, id := range []string{"item-1", "item-2"} {
		if st := c.World.PlanItem(id).Status; st != model.PlanItemScheduled {
			t.Fatalf("expected %s scheduled, got %s", id, st)
		}
	}
	if st := c.World.PlanStatus("plan-1"); st != model.PlanInProgress {
		t.Fatalf("expected plan started, got %s", st)
	}

	// The items are now SCHEDULED and cannot be booked twice.
	req := planRequest("item-1")
	req.StartTime = testkit.At(11, 0)
	if _, err := svc.Book(context.Background(), "DOC-1", req); apperr.ReasonOf(err) != apperr.ReasonPlanItemNotReady {
		t.Fatalf("expected plan item not ready, got %v", err)
	}
}

func TestBookFromPlanItemsRejections(t *testing.T) {
	cases := []struct {
		ids    []string
		reason string
	}{
		{[]string{"item-missing"}, apperr.ReasonPlanItemNotFound},
		{[]string{"item-other"}, apperr.ReasonPlanItemPatient},
		{[]string{"item-done"}, apperr.ReasonPlanItemNotReady},
	}
	for _, tc := range cases {
		t.Run(tc.reason, func(t *testing.T) {
			c := testkit.NewClinic()
			seedPlan(c)
			svc := newService(c)
			_, err := svc.Book(context.Background(), "DOC-1", planRequest(tc.ids...))
			if apperr.ReasonOf(err) != tc.reason {
				t.Fatalf("expected %s, got %v", tc.reason, err)
			}
			assertNothingWritten(t, c)
			if st := c.World.PlanStatus("plan-1"); st != model.PlanPending {
				t.Fatalf("plan must stay pending, got %s", st)
			}
		})
	}
}

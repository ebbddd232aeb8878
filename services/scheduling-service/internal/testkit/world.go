// Package testkit is an in-memory clinic for tests. One World stands in for
// the master-data catalog, the shift calendar and every table the engine
// writes. Transactions read committed state plus their own writes, and
// publish those writes only on Commit.
package testkit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/catalog"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflict"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

type World struct {
	mu sync.Mutex
	// locks are the row and advisory locks transactions hold until they end.
	locks map[string]*sync.Mutex

	patients  map[string]model.Patient
	employees map[string]model.Employee
	rooms     map[string]model.Room
	services  map[string]model.Service
	shifts    map[string][]interval.Interval

	state state

	notifications []notify.Notification
	// NotifyErr, when set, is returned by every Notify call.
	NotifyErr error
	// LockedKeys records the key list of every LockResources call.
	LockedKeys [][]string
	// BeforeInsert, when set, runs inside the booking transaction just
	// before the appointment row is written, with that tx's locks held.
	BeforeInsert func(model.Appointment)
}

// state is everything a transaction can change.
type state struct {
	appointments map[string]model.Appointment
	planItems    map[string]model.PlanItem
	plans        map[string]model.PlanStatus
	counters     map[string]int
	audit        []model.AuditEntry
	events       []outbox.Event
}

func (s state) clone() state {
	c := state{
		appointments: make(map[string]model.Appointment, len(s.appointments)),
		planItems:    make(map[string]model.PlanItem, len(s.planItems)),
		plans:        make(map[string]model.PlanStatus, len(s.plans)),
		counters:     make(map[string]int, len(s.counters)),
		audit:        append([]model.AuditEntry(nil), s.audit...),
		events:       append([]outbox.Event(nil), s.events...),
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.planItems {
		c.planItems[k] = v
	}
	for k, v := range s.plans {
		c.plans[k] = v
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	return c
}

func NewWorld() *World {
	return &World{
		patients:  map[string]model.Patient{},
		employees: map[string]model.Employee{},
		rooms:     map[string]model.Room{},
		services:  map[string]model.Service{},
		shifts:    map[string][]interval.Interval{},
		locks:     map[string]*sync.Mutex{},
		state: state{
			appointments: map[string]model.Appointment{},
			planItems:    map[string]model.PlanItem{},
			plans:        map[string]model.PlanStatus{},
			counters:     map[string]int{},
		},
	}
}

var (
	_ catalog.ResourceCatalog = (*World)(nil)
	_ catalog.ShiftCalendar   = (*World)(nil)
	_ conflict.Source         = (*World)(nil)
)

// memTx satisfies pgx.Tx for code that only commits and rolls back. Writes
// made through it are queued in ops and replayed onto the committed state
// on Commit; locks taken through it are released when it ends.
type memTx struct {
	pgx.Tx
	w    *World
	ops  []func(*state)
	held map[string]*sync.Mutex
	done bool
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.w.mu.Lock()
	for _, op := range t.ops {
		op(&t.w.state)
	}
	t.done = true
	t.w.mu.Unlock()
	t.release()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.w.mu.Lock()
	t.ops = nil
	t.done = true
	t.w.mu.Unlock()
	t.release()
	return nil
}

func (t *memTx) release() {
	for key, m := range t.held {
		delete(t.held, key)
		m.Unlock()
	}
}

func (w *World) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memTx{w: w, held: map[string]*sync.Mutex{}}, nil
}

func openTx(q any) (*memTx, bool) {
	t, ok := q.(*memTx)
	return t, ok && !t.done
}

// visible is the state q reads: the committed state, plus q's own queued
// writes when q is an open transaction. Callers hold w.mu.
func (w *World) visible(q any) *state {
	t, ok := openTx(q)
	if !ok || len(t.ops) == 0 {
		return &w.state
	}
	s := w.state.clone()
	for _, op := range t.ops {
		op(&s)
	}
	return &s
}

// write queues op on an open transaction, or applies it to the committed
// state directly. Callers hold w.mu.
func (w *World) write(q any, op func(*state)) {
	if t, ok := openTx(q); ok {
		t.ops = append(t.ops, op)
		return
	}
	op(&w.state)
}

// lock blocks until q's transaction owns key. Outside a transaction it is a
// no-op. Callers must not hold w.mu.
func (w *World) lock(ctx context.Context, q any, key string) error {
	t, ok := openTx(q)
	if !ok {
		return nil
	}
	if _, mine := t.held[key]; mine {
		return nil
	}
	w.mu.Lock()
	m := w.locks[key]
	if m == nil {
		m = &sync.Mutex{}
		w.locks[key] = m
	}
	w.mu.Unlock()
	m.Lock()
	if err := ctx.Err(); err != nil {
		m.Unlock()
		return err
	}
	t.held[key] = m
	return nil
}

// Seeding.

func (w *World) AddPatient(p model.Patient) model.Patient {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p.ID == "" {
		p.ID = "pat-" + p.Code
	}
	w.patients[p.Code] = p
	return p
}

func (w *World) AddEmployee(e model.Employee) model.Employee {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e.ID == "" {
		e.ID = "emp-" + e.Code
	}
	w.employees[e.Code] = e
	return e
}

func (w *World) AddRoom(r model.Room) model.Room {
	w.mu.Lock()
	defer w.mu.Unlock()
	if r.ID == "" {
		r.ID = "room-" + r.Code
	}
	w.rooms[r.Code] = r
	return r
}

func (w *World) AddService(s model.Service) model.Service {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s.ID == "" {
		s.ID = "svc-" + s.Code
	}
	w.services[s.Code] = s
	return s
}

func shiftKey(employeeID string, day time.Time) string {
	return employeeID + "|" + day.Format("2006-01-02")
}

// AddShift files the shift under the calendar day of start in start's location.
func (w *World) AddShift(employeeID string, start, end time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := shiftKey(employeeID, start)
	w.shifts[key] = append(w.shifts[key], interval.New(start, end))
}

func (w *World) AddPlan(id string, status model.PlanStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.plans[id] = status
}

func (w *World) AddPlanItem(item model.PlanItem) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.planItems[item.ID] = item
}

func (w *World) RemovePlanItem(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.state.planItems, id)
}

// SeedAppointment stores an appointment as if booked earlier.
func (w *World) SeedAppointment(a model.Appointment) model.Appointment {
	w.mu.Lock()
	defer w.mu.Unlock()
	if a.ID == "" {
		a.ID = fmt.Sprintf("seed-%d", len(w.state.appointments)+1)
	}
	if a.Code == "" {
		a.Code = fmt.Sprintf("SEED-%03d", len(w.state.appointments)+1)
	}
	if a.Status == "" {
		a.Status = model.StatusScheduled
	}
	w.state.appointments[a.ID] = a
	return a
}

// Inspection.

func (w *World) Appointments() []model.Appointment {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]model.Appointment, 0, len(w.state.appointments))
	for _, a := range w.state.appointments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (w *World) Appointment(code string) (model.Appointment, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, a := range w.state.appointments {
		if a.Code == code {
			return a, true
		}
	}
	return model.Appointment{}, false
}

func (w *World) AuditEntries() []model.AuditEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.AuditEntry(nil), w.state.audit...)
}

func (w *World) Events() []outbox.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]outbox.Event(nil), w.state.events...)
}

func (w *World) Notifications() []notify.Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]notify.Notification(nil), w.notifications...)
}

func (w *World) PlanItem(id string) model.PlanItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.planItems[id]
}

func (w *World) PlanStatus(id string) model.PlanStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.plans[id]
}

// Catalog.

func (w *World) FindEmployee(_ context.Context, code string) (model.Employee, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.employees[code]
	if !ok {
		return model.Employee{}, apperr.NotFound(apperr.ReasonEmployeeNotFound, "employee", code)
	}
	return e, nil
}

func (w *World) FindActivePatient(_ context.Context, code string) (model.Patient, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.patients[code]
	if !ok {
		return model.Patient{}, apperr.NotFound(apperr.ReasonPatientNotFound, "patient", code)
	}
	return p, catalog.CheckPatient(p)
}

func (w *World) FindActiveDoctor(_ context.Context, code string) (model.Employee, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.employees[code]
	if !ok {
		return model.Employee{}, apperr.NotFound(apperr.ReasonDoctorNotFound, "doctor", code)
	}
	return e, catalog.CheckDoctor(e)
}

func (w *World) FindActiveRoom(_ context.Context, code string) (model.Room, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rooms[code]
	if !ok {
		return model.Room{}, apperr.NotFound(apperr.ReasonRoomNotFound, "room", code)
	}
	return r, catalog.CheckRoom(r)
}

func (w *World) FindServicesByCode(_ context.Context, codes []string) ([]model.Service, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	codes = catalog.NormalizeCodes(codes)
	var found []model.Service
	for _, c := range codes {
		if s, ok := w.services[c]; ok {
			found = append(found, s)
		}
	}
	return catalog.OrderServices(codes, found)
}

func (w *World) FindServicesByID(_ context.Context, ids []string) ([]model.Service, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []model.Service
	for _, id := range ids {
		s, ok := w.serviceByID(id)
		if !ok {
			return nil, apperr.NotFound(apperr.ReasonServicesNotFound, "service", id)
		}
		if !s.Active {
			return nil, apperr.Precondition(apperr.ReasonServiceInactive, "service %s is inactive", s.Code)
		}
		out = append(out, s)
	}
	return out, nil
}

func (w *World) FindActiveParticipants(_ context.Context, codes []string) ([]model.Employee, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	codes = catalog.NormalizeCodes(codes)
	var found []model.Employee
	for _, c := range codes {
		if e, ok := w.employees[c]; ok {
			found = append(found, e)
		}
	}
	return catalog.OrderParticipants(codes, found)
}

func (w *World) ListMedicalStaff(context.Context) ([]model.Employee, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []model.Employee
	for _, e := range w.employees {
		if e.Active && e.Medical {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (w *World) ListActiveRooms(context.Context) ([]model.Room, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []model.Room
	for _, r := range w.rooms {
		if r.Active {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (w *World) ShiftsFor(_ context.Context, employeeID string, day time.Time) ([]interval.Interval, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	shifts := append([]interval.Interval(nil), w.shifts[shiftKey(employeeID, day)]...)
	return catalog.SortShifts(shifts), nil
}

func (w *World) serviceByID(id string) (model.Service, bool) {
	for _, s := range w.services {
		if s.ID == id {
			return s, true
		}
	}
	return model.Service{}, false
}

func (w *World) employeeByID(id string) (model.Employee, bool) {
	for _, e := range w.employees {
		if e.ID == id {
			return e, true
		}
	}
	return model.Employee{}, false
}

func (w *World) patientByID(id string) (model.Patient, bool) {
	for _, p := range w.patients {
		if p.ID == id {
			return p, true
		}
	}
	return model.Patient{}, false
}

func (w *World) roomByID(id string) (model.Room, bool) {
	for _, r := range w.rooms {
		if r.ID == id {
			return r, true
		}
	}
	return model.Room{}, false
}

// Conflict source.

func (w *World) Overlapping(_ context.Context, q db.Querier, r conflict.Resource, window interval.Interval, exclude []string) ([]conflict.Booking, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	skip := map[string]bool{}
	for _, id := range exclude {
		skip[id] = true
	}
	var out []conflict.Booking
	for _, a := range w.visible(q).appointments {
		if skip[a.ID] || !a.Status.Active() || !interval.Overlaps(a.Window(), window) {
			continue
		}
		if holds(a, r) {
			out = append(out, conflict.Booking{AppointmentID: a.ID, AppointmentCode: a.Code, Window: a.Window()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Window.Start.Before(out[j].Window.Start) })
	return out, nil
}

func holds(a model.Appointment, r conflict.Resource) bool {
	switch r.Kind {
	case conflict.Doctor:
		return a.DoctorID == r.ID
	case conflict.Room:
		return a.RoomID == r.ID
	case conflict.Patient:
		return a.PatientID == r.ID
	case conflict.Participant:
		for _, p := range a.Participants {
			if p.EmployeeID == r.ID {
				return true
			}
		}
	}
	return false
}

package testkit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

// LockResources takes every key in order and holds them until tx ends, the
// way pg_advisory_xact_lock does.
func (w *World) LockResources(ctx context.Context, tx pgx.Tx, keys []string) error {
	w.mu.Lock()
	w.LockedKeys = append(w.LockedKeys, append([]string(nil), keys...))
	w.mu.Unlock()
	for _, key := range keys {
		if err := w.lock(ctx, tx, key); err != nil {
			return err
		}
	}
	return nil
}

// NextCode locks the day's counter row for the rest of tx.
func (w *World) NextCode(ctx context.Context, tx pgx.Tx, day time.Time) (string, error) {
	key := day.Format("20060102")
	if err := w.lock(ctx, tx, "code-counter:"+key); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	next := w.visible(tx).counters[key] + 1
	w.write(tx, func(s *state) { s.counters[key] = next })
	return model.FormatCode(day, next), nil
}

func (w *World) Insert(_ context.Context, tx pgx.Tx, appt *model.Appointment) error {
	if hook := w.BeforeInsert; hook != nil {
		hook(*appt)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, a := range w.visible(tx).appointments {
		if a.Code == appt.Code {
			return fmt.Errorf("duplicate appointment code %s", appt.Code)
		}
	}
	now := time.Now()
	appt.CreatedAt, appt.UpdatedAt = now, now
	row := *appt
	w.write(tx, func(s *state) { s.appointments[row.ID] = row })
	return nil
}

func (w *World) findByCode(q any, code string) (model.Appointment, error) {
	for _, a := range w.visible(q).appointments {
		if a.Code == code {
			return a, nil
		}
	}
	return model.Appointment{}, apperr.NotFound(apperr.ReasonAppointmentNotFound, "appointment", code)
}

func (w *World) GetByCode(_ context.Context, q db.Querier, code string) (model.Appointment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.findByCode(q, code)
}

func (w *World) GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (model.Appointment, error) {
	if err := w.lock(ctx, tx, "appointment:"+code); err != nil {
		return model.Appointment{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.findByCode(tx, code)
}

// updateAppointment rewrites row id as seen by tx.
func (w *World) updateAppointment(tx pgx.Tx, id string, change func(*model.Appointment)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.visible(tx).appointments[id]; !ok {
		return apperr.NotFound(apperr.ReasonAppointmentNotFound, "appointment", id)
	}
	now := time.Now()
	w.write(tx, func(s *state) {
		a := s.appointments[id]
		change(&a)
		a.UpdatedAt = now
		s.appointments[id] = a
	})
	return nil
}

func (w *World) UpdateStatus(_ context.Context, tx pgx.Tx, id string, status model.Status, replacedBy string) error {
	return w.updateAppointment(tx, id, func(a *model.Appointment) {
		a.Status = status
		if replacedBy != "" {
			a.ReplacedBy = replacedBy
		}
	})
}

func (w *World) UpdateWindow(_ context.Context, tx pgx.Tx, id string, window interval.Interval) error {
	return w.updateAppointment(tx, id, func(a *model.Appointment) {
		a.StartTime, a.EndTime = window.Start, window.End
	})
}

func (w *World) LoadView(_ context.Context, q db.Querier, id string) (model.AppointmentView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.visible(q)
	a, ok := st.appointments[id]
	if !ok {
		return model.AppointmentView{}, apperr.NotFound(apperr.ReasonAppointmentNotFound, "appointment", id)
	}
	return w.view(st, a), nil
}

func (w *World) view(st *state, a model.Appointment) model.AppointmentView {
	v := model.AppointmentView{Appointment: a}
	if p, ok := w.patientByID(a.PatientID); ok {
		v.Patient = model.Summary{ID: p.ID, Code: p.Code, Name: p.FullName}
	}
	if e, ok := w.employeeByID(a.DoctorID); ok {
		v.Doctor = model.Summary{ID: e.ID, Code: e.Code, Name: e.FullName}
	}
	if r, ok := w.roomByID(a.RoomID); ok {
		v.Room = model.Summary{ID: r.ID, Code: r.Code, Name: r.Name}
	}
	for _, id := range a.ServiceIDs {
		if s, ok := w.serviceByID(id); ok {
			v.Services = append(v.Services, model.ServiceSummary{
				Summary:         model.Summary{ID: s.ID, Code: s.Code, Name: s.Name},
				DurationMinutes: s.DurationMinutes,
				BufferMinutes:   s.BufferMinutes,
			})
		}
	}
	for _, p := range a.Participants {
		if e, ok := w.employeeByID(p.EmployeeID); ok {
			v.Participants = append(v.Participants, model.ParticipantSummary{
				Summary: model.Summary{ID: e.ID, Code: e.Code, Name: e.FullName},
				Role:    p.Role,
			})
		}
	}
	if a.ReplacedBy != "" {
		v.ReplacedByCode = st.appointments[a.ReplacedBy].Code
	}
	return v
}

func (w *World) Search(_ context.Context, q db.Querier, f model.Filter) ([]model.AppointmentView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.visible(q)
	window := interval.New(f.From, f.To)
	var out []model.AppointmentView
	for _, a := range st.appointments {
		if !interval.Overlaps(a.Window(), window) {
			continue
		}
		v := w.view(st, a)
		switch {
		case f.DoctorCode != "" && v.Doctor.Code == f.DoctorCode,
			f.RoomCode != "" && v.Room.Code == f.RoomCode,
			f.PatientCode != "" && v.Patient.Code == f.PatientCode:
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (w *World) ListOverdue(_ context.Context, q db.Querier, cutoff time.Time, limit int) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var due []model.Appointment
	for _, a := range w.visible(q).appointments {
		if a.Status == model.StatusScheduled && a.StartTime.Before(cutoff) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].StartTime.Before(due[j].StartTime) })
	var codes []string
	for _, a := range due {
		if limit > 0 && len(codes) == limit {
			break
		}
		codes = append(codes, a.Code)
	}
	return codes, nil
}

// Plans.

func (w *World) LockPlanItems(ctx context.Context, tx pgx.Tx, ids []string) ([]model.PlanItem, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for _, id := range sorted {
		if err := w.lock(ctx, tx, "plan-item:"+id); err != nil {
			return nil, err
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.visible(tx)
	var out []model.PlanItem
	for _, id := range ids {
		if item, ok := st.planItems[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (w *World) SetPlanItemStatus(_ context.Context, tx pgx.Tx, ids []string, status model.PlanItemStatus) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.visible(tx)
	var hit []string
	for _, id := range ids {
		if _, ok := st.planItems[id]; ok {
			hit = append(hit, id)
		}
	}
	w.write(tx, func(s *state) {
		for _, id := range hit {
			item := s.planItems[id]
			item.Status = status
			s.planItems[id] = item
		}
	})
	return int64(len(hit)), nil
}

func (w *World) StartPlans(_ context.Context, tx pgx.Tx, planIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := append([]string(nil), planIDs...)
	w.write(tx, func(s *state) {
		for _, id := range ids {
			if s.plans[id] == model.PlanPending {
				s.plans[id] = model.PlanInProgress
			}
		}
	})
	return nil
}

// Audit, outbox and notifications.

func (w *World) Append(_ context.Context, q db.Querier, e model.AuditEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e.CreatedAt = time.Now()
	w.write(q, func(s *state) {
		e.ID = int64(len(s.audit) + 1)
		s.audit = append(s.audit, e)
	})
	return nil
}

// Outbox returns the outbox half of the World. Insert would otherwise clash
// with the appointment store's Insert.
func (w *World) Outbox() *Outbox {
	return &Outbox{w: w}
}

type Outbox struct {
	w *World
}

func (o *Outbox) Insert(_ context.Context, q db.Querier, evt outbox.Event) error {
	o.w.mu.Lock()
	defer o.w.mu.Unlock()
	o.w.write(q, func(s *state) { s.events = append(s.events, evt) })
	return nil
}

func (w *World) Notify(_ context.Context, n notify.Notification) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.NotifyErr != nil {
		return w.NotifyErr
	}
	w.notifications = append(w.notifications, n)
	return nil
}

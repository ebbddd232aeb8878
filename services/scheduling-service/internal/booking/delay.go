package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflict"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

type DelayRequest struct {
	Code       string
	NewStart   time.Time
	ReasonCode string
	Notes      string
}

// Delay pushes an appointment later in place, keeping its length.
func (s *Service) Delay(ctx context.Context, actorCode string, req DelayRequest) (model.AppointmentView, error) {
	started := s.now()
	ctx, span := s.startSpan(ctx, "Delay")
	view, err := s.delay(ctx, actorCode, req)
	s.finish(span, "delay", started, err)
	if err != nil {
		return model.AppointmentView{}, err
	}

	s.logger.Info("appointment delayed", "appointment_code", view.Code, "start", view.StartTime)
	s.notifyAsync(ctx, staffNotifications(view, notify.TypeDelayed, "Appointment delayed",
		fmt.Sprintf("%s now starts at %s", view.Code, s.formatTime(view.StartTime))))
	return view, nil
}

func (s *Service) delay(ctx context.Context, actorCode string, req DelayRequest) (model.AppointmentView, error) {
	actor, err := s.ResolveActor(ctx, actorCode)
	if err != nil {
		return model.AppointmentView{}, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.AppointmentView{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.store.GetByCodeForUpdate(ctx, tx, req.Code)
	if err != nil {
		return model.AppointmentView{}, err
	}
	if !appt.Status.Movable() {
		return model.AppointmentView{}, apperr.InvalidTransition("appointment %s is %s and cannot be delayed", appt.Code, appt.Status)
	}
	if !req.NewStart.After(appt.StartTime) {
		e := apperr.InvalidTransition("new start %s is not later than %s", s.formatTime(req.NewStart), s.formatTime(appt.StartTime))
		e.Reason = apperr.ReasonNotLater
		return model.AppointmentView{}, e
	}
	if !req.NewStart.After(s.now()) {
		e := apperr.InvalidTransition("cannot delay an appointment into the past (%s)", s.formatTime(req.NewStart))
		e.Reason = apperr.ReasonStartInPast
		return model.AppointmentView{}, e
	}
	window := interval.New(req.NewStart, req.NewStart.Add(appt.EndTime.Sub(appt.StartTime)))

	current, err := s.store.LoadView(ctx, tx, appt.ID)
	if err != nil {
		return model.AppointmentView{}, err
	}
	resources := []conflict.Resource{
		{Kind: conflict.Doctor, ID: current.Doctor.ID, Code: current.Doctor.Code},
		{Kind: conflict.Room, ID: current.Room.ID, Code: current.Room.Code},
		{Kind: conflict.Patient, ID: current.Patient.ID, Code: current.Patient.Code},
	}
	for _, p := range current.Participants {
		resources = append(resources, conflict.Resource{Kind: conflict.Participant, ID: p.ID, Code: p.Code})
	}
	if err := s.store.LockResources(ctx, tx, lockKeys(appt.RoomID, appt.PatientID, appt.StaffIDs())); err != nil {
		return model.AppointmentView{}, err
	}
	if err := s.checker.Check(ctx, tx, resources, window, appt.ID); err != nil {
		return model.AppointmentView{}, err
	}

	if err := s.store.UpdateWindow(ctx, tx, appt.ID, window); err != nil {
		return model.AppointmentView{}, err
	}
	if err := s.audit.Append(ctx, tx, model.AuditEntry{
		AppointmentID: appt.ID,
		ActorID:       actorID(actor),
		Action:        model.ActionDelay,
		OldStatus:     appt.Status,
		NewStatus:     appt.Status,
		OldStart:      timePtr(appt.StartTime),
		NewStart:      timePtr(window.Start),
		ReasonCode:    req.ReasonCode,
		Notes:         req.Notes,
	}); err != nil {
		return model.AppointmentView{}, err
	}

	prev := appt
	appt.StartTime, appt.EndTime = window.Start, window.End
	if err := s.emit(ctx, tx, outbox.TopicDelayed, appt, actor, &prev); err != nil {
		return model.AppointmentView{}, err
	}
	view, err := s.store.LoadView(ctx, tx, appt.ID)
	if err != nil {
		return model.AppointmentView{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.AppointmentView{}, err
	}
	return view, nil
}

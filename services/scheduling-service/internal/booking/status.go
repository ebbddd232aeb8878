package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

type TransitionRequest struct {
	Code       string
	To         model.Status
	ReasonCode string
	Notes      string
}

// TargetStatus accepts either an action name (CHECK_IN, START, COMPLETE,
// CANCEL, NO_SHOW) or a status name.
func TargetStatus(action string) (model.Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case "CHECK_IN":
		return model.StatusCheckedIn, true
	case "START":
		return model.StatusInProgress, true
	case "COMPLETE":
		return model.StatusCompleted, true
	case "CANCEL":
		return model.StatusCancelled, true
	}
	st, ok := model.ParseStatus(strings.ToUpper(strings.TrimSpace(action)))
	if !ok || st == model.StatusScheduled {
		return "", false
	}
	return st, true
}

// Transition moves an appointment along the status machine. Plan items
// linked to it go back to READY_FOR_BOOKING on cancel or no-show and become
// COMPLETED on completion.
func (s *Service) Transition(ctx context.Context, actorCode string, req TransitionRequest) (model.AppointmentView, error) {
	started := s.now()
	ctx, span := s.startSpan(ctx, "Transition")
	view, from, err := s.transition(ctx, actorCode, req)
	s.finish(span, "transition", started, err)
	if err != nil {
		return model.AppointmentView{}, err
	}

	s.metrics.Transition(string(from), string(req.To))
	s.logger.Info("appointment status changed", "appointment_code", view.Code, "from", from, "to", req.To)
	if req.To == model.StatusCancelled || req.To == model.StatusNoShow {
		s.notifyAsync(ctx, staffNotifications(view, notify.TypeStatusChanged, "Appointment "+strings.ToLower(string(req.To)),
			fmt.Sprintf("%s at %s is now %s", view.Code, s.formatTime(view.StartTime), req.To)))
	}
	return view, nil
}

func (s *Service) transition(ctx context.Context, actorCode string, req TransitionRequest) (model.AppointmentView, model.Status, error) {
	actor, err := s.ResolveActor(ctx, actorCode)
	if err != nil {
		return model.AppointmentView{}, "", err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.AppointmentView{}, "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.store.GetByCodeForUpdate(ctx, tx, req.Code)
	if err != nil {
		return model.AppointmentView{}, "", err
	}
	from := appt.Status
	if !from.CanTransitionTo(req.To) {
		return model.AppointmentView{}, from, apperr.InvalidTransition("appointment %s cannot move from %s to %s", appt.Code, from, req.To)
	}
	if err := s.store.UpdateStatus(ctx, tx, appt.ID, req.To, ""); err != nil {
		return model.AppointmentView{}, from, err
	}

	if len(appt.PlanItemIDs) > 0 {
		switch req.To {
		case model.StatusCancelled, model.StatusNoShow:
			err = s.setPlanItems(ctx, tx, appt, appt.PlanItemIDs, model.PlanItemReady)
		case model.StatusCompleted:
			err = s.setPlanItems(ctx, tx, appt, appt.PlanItemIDs, model.PlanItemCompleted)
		}
		if err != nil {
			return model.AppointmentView{}, from, err
		}
	}

	if err := s.audit.Append(ctx, tx, model.AuditEntry{
		AppointmentID: appt.ID,
		ActorID:       actorID(actor),
		Action:        model.ActionFor(req.To),
		OldStatus:     from,
		NewStatus:     req.To,
		ReasonCode:    req.ReasonCode,
		Notes:         req.Notes,
	}); err != nil {
		return model.AppointmentView{}, from, err
	}

	prev := appt
	appt.Status = req.To
	if err := s.emit(ctx, tx, outbox.TopicStatusChanged, appt, actor, &prev); err != nil {
		return model.AppointmentView{}, from, err
	}
	view, err := s.store.LoadView(ctx, tx, appt.ID)
	if err != nil {
		return model.AppointmentView{}, from, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.AppointmentView{}, from, err
	}
	return view, from, nil
}

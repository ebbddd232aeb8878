package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

// RescheduleRequest moves an appointment to StartTime. Empty fields keep the
// current value; a nil Participants keeps the current participants and an
// empty non-nil slice removes them.
type RescheduleRequest struct {
	Code         string
	StartTime    time.Time
	PatientCode  string
	DoctorCode   string
	RoomCode     string
	ServiceCodes []string
	Participants []ParticipantRequest
	Notes        string
	ReasonCode   string
}

type Rescheduled struct {
	Previous    model.AppointmentView
	Replacement model.AppointmentView
}

// Reschedule cancels an appointment and books its replacement as one unit.
// The cancelled appointment points at the replacement via ReplacedBy.
func (s *Service) Reschedule(ctx context.Context, actorCode string, req RescheduleRequest) (Rescheduled, error) {
	started := s.now()
	ctx, span := s.startSpan(ctx, "Reschedule")
	res, err := s.reschedule(ctx, actorCode, req)
	s.finish(span, "reschedule", started, err)
	if err != nil {
		return Rescheduled{}, err
	}

	s.logger.Info("appointment rescheduled",
		"appointment_code", res.Previous.Code, "replacement_code", res.Replacement.Code, "start", res.Replacement.StartTime)
	s.notifyAsync(ctx, staffNotifications(res.Replacement, notify.TypeRescheduled, "Appointment rescheduled",
		fmt.Sprintf("%s moved to %s as %s", res.Previous.Code, s.formatTime(res.Replacement.StartTime), res.Replacement.Code)))
	return res, nil
}

func (s *Service) reschedule(ctx context.Context, actorCode string, req RescheduleRequest) (Rescheduled, error) {
	actor, err := s.ResolveActor(ctx, actorCode)
	if err != nil {
		return Rescheduled{}, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return Rescheduled{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	old, err := s.store.GetByCodeForUpdate(ctx, tx, req.Code)
	if err != nil {
		return Rescheduled{}, err
	}
	if !old.Status.Movable() {
		return Rescheduled{}, apperr.InvalidTransition("appointment %s is %s and cannot be rescheduled", old.Code, old.Status)
	}
	current, err := s.store.LoadView(ctx, tx, old.ID)
	if err != nil {
		return Rescheduled{}, err
	}

	next := BookRequest{
		PatientCode: firstNonEmpty(req.PatientCode, current.Patient.Code),
		DoctorCode:  firstNonEmpty(req.DoctorCode, current.Doctor.Code),
		RoomCode:    firstNonEmpty(req.RoomCode, current.Room.Code),
		StartTime:   req.StartTime,
		Notes:       firstNonEmpty(req.Notes, old.Notes),
	}
	if len(old.PlanItemIDs) > 0 {
		if len(req.ServiceCodes) > 0 {
			return Rescheduled{}, apperr.Precondition(apperr.ReasonBookingMode,
				"%s was booked from plan items; its services cannot be replaced", old.Code)
		}
		// The items are SCHEDULED under the old booking. Putting them back to
		// READY lets the new booking claim them; rollback undoes this.
		if err := s.setPlanItems(ctx, tx, old, old.PlanItemIDs, model.PlanItemReady); err != nil {
			return Rescheduled{}, err
		}
		next.PlanItemIDs = old.PlanItemIDs
	} else if len(req.ServiceCodes) > 0 {
		next.ServiceCodes = req.ServiceCodes
	} else {
		for _, svc := range current.Services {
			next.ServiceCodes = append(next.ServiceCodes, svc.Code)
		}
	}
	if req.Participants != nil {
		next.Participants = req.Participants
	} else {
		for _, p := range current.Participants {
			next.Participants = append(next.Participants, ParticipantRequest{EmployeeCode: p.Code, Role: p.Role})
		}
	}

	// Release the old window first so the replacement may overlap it.
	if err := s.store.UpdateStatus(ctx, tx, old.ID, model.StatusCancelled, ""); err != nil {
		return Rescheduled{}, err
	}
	replacement, err := s.create(ctx, tx, actor, draft{
		req:        next,
		action:     model.ActionRescheduleTarget,
		reasonCode: req.ReasonCode,
		exclude:    []string{old.ID},
		reschedule: true,
	})
	if err != nil {
		return Rescheduled{}, err
	}
	if err := s.store.UpdateStatus(ctx, tx, old.ID, model.StatusCancelled, replacement.ID); err != nil {
		return Rescheduled{}, err
	}

	if err := s.audit.Append(ctx, tx, model.AuditEntry{
		AppointmentID: old.ID,
		ActorID:       actorID(actor),
		Action:        model.ActionRescheduleSource,
		OldStatus:     old.Status,
		NewStatus:     model.StatusCancelled,
		OldStart:      timePtr(old.StartTime),
		NewStart:      timePtr(replacement.StartTime),
		ReasonCode:    req.ReasonCode,
		Notes:         req.Notes,
	}); err != nil {
		return Rescheduled{}, err
	}
	if err := s.emit(ctx, tx, outbox.TopicRescheduled, replacement, actor, &old); err != nil {
		return Rescheduled{}, err
	}

	var res Rescheduled
	if res.Previous, err = s.store.LoadView(ctx, tx, old.ID); err != nil {
		return Rescheduled{}, err
	}
	if res.Replacement, err = s.store.LoadView(ctx, tx, replacement.ID); err != nil {
		return Rescheduled{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Rescheduled{}, err
	}
	return res, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

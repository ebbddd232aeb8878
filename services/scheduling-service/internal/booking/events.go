package booking

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

type appointmentEvent struct {
	AppointmentID  string     `json:"appointment_id"`
	Code           string     `json:"code"`
	PatientID      string     `json:"patient_id"`
	DoctorID       string     `json:"doctor_id"`
	RoomID         string     `json:"room_id"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	Status         string     `json:"status"`
	ActorID        string     `json:"actor_id,omitempty"`
	PreviousCode   string     `json:"previous_code,omitempty"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	PreviousStart  *time.Time `json:"previous_start,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// emit writes a domain event to the outbox in the same transaction as the
// change it describes.
func (s *Service) emit(ctx context.Context, tx pgx.Tx, topic string, appt model.Appointment, actor model.Actor, prev *model.Appointment) error {
	if s.events == nil {
		return nil
	}
	body := appointmentEvent{
		AppointmentID: appt.ID,
		Code:          appt.Code,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		RoomID:        appt.RoomID,
		StartTime:     appt.StartTime.UTC(),
		EndTime:       appt.EndTime.UTC(),
		Status:        string(appt.Status),
		ActorID:       actorID(actor),
		OccurredAt:    s.now().UTC(),
	}
	if prev != nil {
		body.PreviousCode = prev.Code
		body.PreviousStatus = string(prev.Status)
		body.PreviousStart = timePtr(prev.StartTime.UTC())
	}
	evt, err := outbox.NewEvent("appointment", appt.ID, topic, body)
	if err != nil {
		return err
	}
	return s.events.Insert(ctx, tx, evt)
}

package storage

import (
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// Exclusion constraints on appointments, see migrations/002_appointments.sql.
const (
	constraintDoctorOverlap  = "appointments_doctor_no_overlap"
	constraintRoomOverlap    = "appointments_room_no_overlap"
	constraintPatientOverlap = "appointments_patient_no_overlap"
)

// writeError classifies a failed write against appt. An exclusion violation
// means a concurrent writer slipped past the advisory locks; it surfaces as
// the same conflict the checker would have reported.
func writeError(err error, appt model.Appointment, op string) error {
	if err == nil {
		return nil
	}
	if db.IsExclusionViolation(err) {
		resource, id := overlapResource(db.ConstraintName(err), appt)
		return &apperr.Error{
			Kind:         apperr.KindConflict,
			Resource:     resource,
			ResourceCode: id,
			Message:      fmt.Sprintf("%s %s is already booked", resource, id),
			Err:          err,
		}
	}
	return fmt.Errorf("%s appointment %s: %w", op, appt.Code, err)
}

func overlapResource(constraint string, appt model.Appointment) (string, string) {
	switch {
	case strings.HasPrefix(constraint, constraintRoomOverlap):
		return "room", appt.RoomID
	case strings.HasPrefix(constraint, constraintPatientOverlap):
		return "patient", appt.PatientID
	default:
		return "doctor", appt.DoctorID
	}
}

func notFound(code string) error {
	return apperr.NotFound(apperr.ReasonAppointmentNotFound, "appointment", code)
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// LoadView resolves the references of one appointment for responses and
// events.
func (r *AppointmentRepository) LoadView(ctx context.Context, q db.Querier, id string) (model.AppointmentView, error) {
	var v model.AppointmentView
	var status string
	var staff, roles []string
	a := &v.Appointment
	err := q.QueryRow(ctx, `
		SELECT `+appointmentCols+`,
			p.code, p.full_name, d.code, d.full_name, r.code, r.name,
			COALESCE(rb.code, '')
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN employees d ON d.id = a.doctor_id
		JOIN rooms r ON r.id = a.room_id
		LEFT JOIN appointments rb ON rb.id = a.replaced_by
		WHERE a.id = $1
	`, id).Scan(
		&a.ID, &a.Code, &a.PatientID, &a.DoctorID, &a.RoomID,
		&a.StartTime, &a.EndTime, &status, &a.Notes,
		&a.CreatedBy, &a.ReplacedBy, &a.CreatedAt, &a.UpdatedAt,
		&a.ServiceIDs, &staff, &roles, &a.PlanItemIDs,
		&v.Patient.Code, &v.Patient.Name, &v.Doctor.Code, &v.Doctor.Name, &v.Room.Code, &v.Room.Name,
		&v.ReplacedByCode,
	)
	if db.IsNoRows(err) {
		return model.AppointmentView{}, notFound(id)
	}
	if err != nil {
		return model.AppointmentView{}, fmt.Errorf("load appointment view %s: %w", id, err)
	}
	a.Status = model.Status(status)
	for i, sid := range staff {
		a.Participants = append(a.Participants, model.Participant{EmployeeID: sid, Role: model.ParticipantRole(roles[i])})
	}
	v.Patient.ID, v.Doctor.ID, v.Room.ID = a.PatientID, a.DoctorID, a.RoomID

	if v.Services, err = r.viewServices(ctx, q, id); err != nil {
		return model.AppointmentView{}, err
	}
	if v.Participants, err = r.viewParticipants(ctx, q, id); err != nil {
		return model.AppointmentView{}, err
	}
	return v, nil
}

func (r *AppointmentRepository) viewServices(ctx context.Context, q db.Querier, id string) ([]model.ServiceSummary, error) {
	rows, err := q.Query(ctx, `
		SELECT s.id::text, s.code, s.name, s.duration_minutes, s.buffer_minutes
		FROM appointment_services x
		JOIN services s ON s.id = x.service_id
		WHERE x.appointment_id = $1
		ORDER BY x.position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment services: %w", err)
	}
	defer rows.Close()

	var out []model.ServiceSummary
	for rows.Next() {
		var s model.ServiceSummary
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.DurationMinutes, &s.BufferMinutes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *AppointmentRepository) viewParticipants(ctx context.Context, q db.Querier, id string) ([]model.ParticipantSummary, error) {
	rows, err := q.Query(ctx, `
		SELECT e.id::text, e.code, e.full_name, x.role
		FROM appointment_participants x
		JOIN employees e ON e.id = x.employee_id
		WHERE x.appointment_id = $1
		ORDER BY x.position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment participants: %w", err)
	}
	defer rows.Close()

	var out []model.ParticipantSummary
	for rows.Next() {
		var p model.ParticipantSummary
		var role string
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &role); err != nil {
			return nil, err
		}
		p.Role = model.ParticipantRole(role)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Search returns views of the appointments held by the filter's doctor, room
// or patient that overlap [From, To), ordered by start.
func (r *AppointmentRepository) Search(ctx context.Context, q db.Querier, f model.Filter) ([]model.AppointmentView, error) {
	rows, err := q.Query(ctx, `
		SELECT a.id::text
		FROM appointments a
		JOIN employees d ON d.id = a.doctor_id
		JOIN rooms r ON r.id = a.room_id
		JOIN patients p ON p.id = a.patient_id
		WHERE a.start_time < $2
			AND a.end_time > $1
			AND (($3 <> '' AND d.code = $3) OR ($4 <> '' AND r.code = $4) OR ($5 <> '' AND p.code = $5))
		ORDER BY a.start_time, a.code
	`, f.From, f.To, f.DoctorCode, f.RoomCode, f.PatientCode)
	if err != nil {
		return nil, fmt.Errorf("search appointments: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	views := make([]model.AppointmentView, 0, len(ids))
	for _, id := range ids {
		v, err := r.LoadView(ctx, q, id)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// ListOverdue returns codes of SCHEDULED appointments that started before
// cutoff, oldest first.
func (r *AppointmentRepository) ListOverdue(ctx context.Context, q db.Querier, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.Query(ctx, `
		SELECT code
		FROM appointments
		WHERE status = 'SCHEDULED' AND start_time < $1
		ORDER BY start_time
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue appointments: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

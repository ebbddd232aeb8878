// Package storage keeps appointments, plan items and their audit trail in
// Postgres. Every write takes the caller's transaction.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflict"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// LockResources takes a transaction-scoped advisory lock per key. Callers pass
// keys sorted so two bookers never wait on each other in opposite order.
func (r *AppointmentRepository) LockResources(ctx context.Context, tx pgx.Tx, keys []string) error {
	for _, key := range keys {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
	}
	return nil
}

// NextCode bumps the per-day counter. The counter row stays locked until tx
// ends, so concurrent bookers for the same day get consecutive numbers.
func (r *AppointmentRepository) NextCode(ctx context.Context, tx pgx.Tx, day time.Time) (string, error) {
	var seq int
	err := tx.QueryRow(ctx, `
		INSERT INTO appointment_code_counters (day, last_seq)
		VALUES ($1::date, 1)
		ON CONFLICT (day) DO UPDATE SET last_seq = appointment_code_counters.last_seq + 1
		RETURNING last_seq
	`, day.Format("2006-01-02")).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("next appointment code: %w", err)
	}
	return model.FormatCode(day, seq), nil
}

func (r *AppointmentRepository) Insert(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, code, patient_id, doctor_id, room_id, start_time, end_time, status, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, '')::uuid)
		RETURNING created_at, updated_at
	`, appt.ID, appt.Code, appt.PatientID, appt.DoctorID, appt.RoomID,
		appt.StartTime, appt.EndTime, string(appt.Status), appt.Notes, appt.CreatedBy).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return writeError(err, *appt, "insert")
	}

	for i, id := range appt.ServiceIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO appointment_services (appointment_id, service_id, position)
			VALUES ($1, $2, $3)
		`, appt.ID, id, i); err != nil {
			return fmt.Errorf("link service %s: %w", id, err)
		}
	}
	for i, p := range appt.Participants {
		if _, err := tx.Exec(ctx, `
			INSERT INTO appointment_participants (appointment_id, employee_id, role, position)
			VALUES ($1, $2, $3, $4)
		`, appt.ID, p.EmployeeID, string(p.Role), i); err != nil {
			return fmt.Errorf("link participant %s: %w", p.EmployeeID, err)
		}
	}
	for i, id := range appt.PlanItemIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO appointment_plan_items (appointment_id, plan_item_id, position)
			VALUES ($1, $2, $3)
		`, appt.ID, id, i); err != nil {
			return fmt.Errorf("link plan item %s: %w", id, err)
		}
	}
	return nil
}

const appointmentCols = `
	a.id::text, a.code, a.patient_id::text, a.doctor_id::text, a.room_id::text,
		a.start_time, a.end_time, a.status, a.notes,
		COALESCE(a.created_by::text, ''), COALESCE(a.replaced_by::text, ''),
		a.created_at, a.updated_at,
		ARRAY(SELECT s.service_id::text FROM appointment_services s
			WHERE s.appointment_id = a.id ORDER BY s.position),
		ARRAY(SELECT p.employee_id::text FROM appointment_participants p
			WHERE p.appointment_id = a.id ORDER BY p.position),
		ARRAY(SELECT p.role FROM appointment_participants p
			WHERE p.appointment_id = a.id ORDER BY p.position),
		ARRAY(SELECT i.plan_item_id::text FROM appointment_plan_items i
			WHERE i.appointment_id = a.id ORDER BY i.position)`

const appointmentSelect = `SELECT ` + appointmentCols + ` FROM appointments a`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status string
	var staff, roles []string
	err := row.Scan(
		&a.ID,
		&a.Code,
		&a.PatientID,
		&a.DoctorID,
		&a.RoomID,
		&a.StartTime,
		&a.EndTime,
		&status,
		&a.Notes,
		&a.CreatedBy,
		&a.ReplacedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.ServiceIDs,
		&staff,
		&roles,
		&a.PlanItemIDs,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Status = model.Status(status)
	for i, id := range staff {
		a.Participants = append(a.Participants, model.Participant{EmployeeID: id, Role: model.ParticipantRole(roles[i])})
	}
	return a, nil
}

func (r *AppointmentRepository) GetByCode(ctx context.Context, q db.Querier, code string) (model.Appointment, error) {
	a, err := scanAppointment(q.QueryRow(ctx, appointmentSelect+` WHERE a.code = $1`, code))
	if db.IsNoRows(err) {
		return model.Appointment{}, notFound(code)
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("load appointment %s: %w", code, err)
	}
	return a, nil
}

// GetByCodeForUpdate row-locks the appointment for the rest of tx.
func (r *AppointmentRepository) GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (model.Appointment, error) {
	a, err := scanAppointment(tx.QueryRow(ctx, appointmentSelect+` WHERE a.code = $1 FOR UPDATE OF a`, code))
	if db.IsNoRows(err) {
		return model.Appointment{}, notFound(code)
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("lock appointment %s: %w", code, err)
	}
	return a, nil
}

func (r *AppointmentRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status model.Status, replacedBy string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			replaced_by = COALESCE(NULLIF($3, '')::uuid, replaced_by),
			updated_at = now()
		WHERE id = $1
	`, id, string(status), replacedBy)
	if err != nil {
		return writeError(err, model.Appointment{ID: id, Code: id}, "update status of")
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (r *AppointmentRepository) UpdateWindow(ctx context.Context, tx pgx.Tx, id string, window interval.Interval) error {
	var appt model.Appointment
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $2, end_time = $3, updated_at = now()
		WHERE id = $1
		RETURNING code, patient_id::text, doctor_id::text, room_id::text
	`, id, window.Start, window.End).Scan(&appt.Code, &appt.PatientID, &appt.DoctorID, &appt.RoomID)
	if db.IsNoRows(err) {
		return notFound(id)
	}
	if err != nil {
		// The failed statement returned no row; name the appointment by id.
		return writeError(err, model.Appointment{ID: id, Code: id}, "move")
	}
	return nil
}

// Overlapping lists active appointments holding res during window. A
// participant is matched through appointment_participants.
func (r *AppointmentRepository) Overlapping(ctx context.Context, q db.Querier, res conflict.Resource, window interval.Interval, exclude []string) ([]conflict.Booking, error) {
	var holder string
	switch res.Kind {
	case conflict.Doctor:
		holder = `a.doctor_id = $1`
	case conflict.Room:
		holder = `a.room_id = $1`
	case conflict.Patient:
		holder = `a.patient_id = $1`
	case conflict.Participant:
		holder = `EXISTS (SELECT 1 FROM appointment_participants p WHERE p.appointment_id = a.id AND p.employee_id = $1)`
	default:
		return nil, fmt.Errorf("unknown resource kind %q", res.Kind)
	}
	if exclude == nil {
		exclude = []string{}
	}

	rows, err := q.Query(ctx, `
		SELECT a.id::text, a.code, a.start_time, a.end_time
		FROM appointments a
		WHERE `+holder+`
			AND a.status = ANY($2)
			AND a.start_time < $4
			AND a.end_time > $3
			AND NOT (a.id::text = ANY($5))
		ORDER BY a.start_time
	`, res.ID, activeStatuses(), window.Start, window.End, exclude)
	if err != nil {
		return nil, fmt.Errorf("overlapping %s appointments: %w", res.Kind, err)
	}
	defer rows.Close()

	var out []conflict.Booking
	for rows.Next() {
		var b conflict.Booking
		if err := rows.Scan(&b.AppointmentID, &b.AppointmentCode, &b.Window.Start, &b.Window.End); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func activeStatuses() []string {
	out := make([]string, 0, len(model.ActiveStatuses))
	for _, s := range model.ActiveStatuses {
		out = append(out, string(s))
	}
	return out
}

var (
	_ conflict.Source   = (*AppointmentRepository)(nil)
	_ booking.Store     = (*AppointmentRepository)(nil)
	_ booking.PlanStore = (*PlanRepository)(nil)
	_ booking.AuditSink = (*AuditRepository)(nil)
)

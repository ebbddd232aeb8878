package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// Postgres reads master data from the clinic database. The tables are
// maintained by the master-data services; this type never writes them.
type Postgres struct {
	pool *db.Pool
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const employeeCols = `id::text, code, full_name, active, medical, specializations`

func scanEmployee(row pgx.Row) (model.Employee, error) {
	var e model.Employee
	err := row.Scan(&e.ID, &e.Code, &e.FullName, &e.Active, &e.Medical, &e.Specializations)
	return e, err
}

func (p *Postgres) FindEmployee(ctx context.Context, code string) (model.Employee, error) {
	e, err := scanEmployee(p.pool.QueryRow(ctx, `SELECT `+employeeCols+` FROM employees WHERE code = $1`, code))
	if db.IsNoRows(err) {
		return model.Employee{}, apperr.NotFound(apperr.ReasonEmployeeNotFound, "employee", code)
	}
	if err != nil {
		return model.Employee{}, fmt.Errorf("load employee %s: %w", code, err)
	}
	return e, nil
}

func (p *Postgres) FindActiveDoctor(ctx context.Context, code string) (model.Employee, error) {
	e, err := scanEmployee(p.pool.QueryRow(ctx, `SELECT `+employeeCols+` FROM employees WHERE code = $1`, code))
	if db.IsNoRows(err) {
		return model.Employee{}, apperr.NotFound(apperr.ReasonDoctorNotFound, "doctor", code)
	}
	if err != nil {
		return model.Employee{}, fmt.Errorf("load doctor %s: %w", code, err)
	}
	if err := CheckDoctor(e); err != nil {
		return model.Employee{}, err
	}
	return e, nil
}

func (p *Postgres) FindActivePatient(ctx context.Context, code string) (model.Patient, error) {
	var pt model.Patient
	err := p.pool.QueryRow(ctx, `
		SELECT id::text, code, full_name, active, blocked
		FROM patients
		WHERE code = $1
	`, code).Scan(&pt.ID, &pt.Code, &pt.FullName, &pt.Active, &pt.Blocked)
	if db.IsNoRows(err) {
		return model.Patient{}, apperr.NotFound(apperr.ReasonPatientNotFound, "patient", code)
	}
	if err != nil {
		return model.Patient{}, fmt.Errorf("load patient %s: %w", code, err)
	}
	if err := CheckPatient(pt); err != nil {
		return model.Patient{}, err
	}
	return pt, nil
}

const roomSelect = `
	SELECT r.id::text, r.code, r.name, r.active,
		COALESCE(array_agg(rs.service_id::text) FILTER (WHERE rs.service_id IS NOT NULL), '{}')
	FROM rooms r
	LEFT JOIN room_services rs ON rs.room_id = r.id
`

func scanRoom(row pgx.Row) (model.Room, error) {
	var r model.Room
	err := row.Scan(&r.ID, &r.Code, &r.Name, &r.Active, &r.ServiceIDs)
	return r, err
}

func (p *Postgres) FindActiveRoom(ctx context.Context, code string) (model.Room, error) {
	r, err := scanRoom(p.pool.QueryRow(ctx, roomSelect+` WHERE r.code = $1 GROUP BY r.id`, code))
	if db.IsNoRows(err) {
		return model.Room{}, apperr.NotFound(apperr.ReasonRoomNotFound, "room", code)
	}
	if err != nil {
		return model.Room{}, fmt.Errorf("load room %s: %w", code, err)
	}
	if err := CheckRoom(r); err != nil {
		return model.Room{}, err
	}
	return r, nil
}

func (p *Postgres) ListActiveRooms(ctx context.Context) ([]model.Room, error) {
	rows, err := p.pool.Query(ctx, roomSelect+` WHERE r.active GROUP BY r.id ORDER BY r.code`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []model.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

const serviceCols = `id::text, code, name, active, duration_minutes, buffer_minutes, required_specializations`

func (p *Postgres) queryServices(ctx context.Context, where string, arg any) ([]model.Service, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+serviceCols+` FROM services WHERE `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("load services: %w", err)
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Active, &s.DurationMinutes, &s.BufferMinutes, &s.RequiredSpecializations); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) FindServicesByCode(ctx context.Context, codes []string) ([]model.Service, error) {
	codes = NormalizeCodes(codes)
	found, err := p.queryServices(ctx, `code = ANY($1)`, codes)
	if err != nil {
		return nil, err
	}
	return OrderServices(codes, found)
}

func (p *Postgres) FindServicesByID(ctx context.Context, ids []string) ([]model.Service, error) {
	found, err := p.queryServices(ctx, `id::text = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Service, len(found))
	for _, s := range found {
		byID[s.ID] = s
	}
	out := make([]model.Service, 0, len(ids))
	for _, id := range ids {
		s, ok := byID[id]
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

func (p *Postgres) queryEmployees(ctx context.Context, where string, args ...any) ([]model.Employee, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+employeeCols+` FROM employees WHERE `+where+` ORDER BY code`, args...)
	if err != nil {
		return nil, fmt.Errorf("load employees: %w", err)
	}
	defer rows.Close()

	var out []model.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) FindActiveParticipants(ctx context.Context, codes []string) ([]model.Employee, error) {
	codes = NormalizeCodes(codes)
	if len(codes) == 0 {
		return nil, nil
	}
	found, err := p.queryEmployees(ctx, `code = ANY($1)`, codes)
	if err != nil {
		return nil, err
	}
	return OrderParticipants(codes, found)
}

func (p *Postgres) ListMedicalStaff(ctx context.Context) ([]model.Employee, error) {
	return p.queryEmployees(ctx, `active AND medical`)
}

// ShiftsFor reads employee_shifts for the given calendar day.
func (p *Postgres) ShiftsFor(ctx context.Context, employeeID string, day time.Time) ([]interval.Interval, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM employee_shifts
		WHERE employee_id = $1 AND shift_date = $2::date
		ORDER BY start_time
	`, employeeID, day.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("load shifts: %w", err)
	}
	defer rows.Close()

	var shifts []interval.Interval
	for rows.Next() {
		var iv interval.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		shifts = append(shifts, interval.Interval{Start: iv.Start.In(day.Location()), End: iv.End.In(day.Location())})
	}
	return shifts, rows.Err()
}

var (
	_ ResourceCatalog = (*Postgres)(nil)
	_ ShiftCalendar   = (*Postgres)(nil)
)

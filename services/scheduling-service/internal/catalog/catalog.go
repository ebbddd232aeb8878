// Package catalog is the read-only view of master data the engine books
// against: patients, staff, rooms, services and staff shifts. The data is
// owned elsewhere; this package only looks it up.
package catalog

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// ResourceCatalog lookups return apperr NotFound for unknown codes and
// apperr Precondition for inactive records, so callers can tell them apart.
type ResourceCatalog interface {
	FindEmployee(ctx context.Context, code string) (model.Employee, error)
	FindActivePatient(ctx context.Context, code string) (model.Patient, error)
	FindActiveDoctor(ctx context.Context, code string) (model.Employee, error)
	FindActiveRoom(ctx context.Context, code string) (model.Room, error)
	// FindServicesByCode returns services in request order, duplicates removed.
	FindServicesByCode(ctx context.Context, codes []string) ([]model.Service, error)
	FindServicesByID(ctx context.Context, ids []string) ([]model.Service, error)
	FindActiveParticipants(ctx context.Context, codes []string) ([]model.Employee, error)
	ListMedicalStaff(ctx context.Context) ([]model.Employee, error)
	ListActiveRooms(ctx context.Context) ([]model.Room, error)
}

// ShiftCalendar returns an employee's working windows on a calendar day.
// day is midnight in the clinic location.
type ShiftCalendar interface {
	ShiftsFor(ctx context.Context, employeeID string, day time.Time) ([]interval.Interval, error)
}

func CheckPatient(p model.Patient) error {
	if !p.Active {
		return apperr.Precondition(apperr.ReasonPatientInactive, "patient %s is inactive", p.Code)
	}
	return nil
}

func CheckDoctor(e model.Employee) error {
	if !e.Active {
		return apperr.Precondition(apperr.ReasonDoctorInactive, "doctor %s is inactive", e.Code)
	}
	return nil
}

func CheckRoom(r model.Room) error {
	if !r.Active {
		return apperr.Precondition(apperr.ReasonRoomInactive, "room %s is inactive", r.Code)
	}
	return nil
}

// OrderServices matches found services to the requested codes. Unknown codes
// yield one NotFound naming all of them; inactive ones a Precondition.
func OrderServices(codes []string, found []model.Service) ([]model.Service, error) {
	byCode := make(map[string]model.Service, len(found))
	for _, s := range found {
		byCode[s.Code] = s
	}
	var missing []string
	out := make([]model.Service, 0, len(codes))
	seen := map[string]bool{}
	for _, code := range codes {
		if seen[code] {
			continue
		}
		seen[code] = true
		s, ok := byCode[code]
		if !ok {
			missing = append(missing, code)
			continue
		}
		out = append(out, s)
	}
	if len(missing) > 0 {
		return nil, apperr.NotFound(apperr.ReasonServicesNotFound, "service", strings.Join(missing, ","))
	}
	for _, s := range out {
		if !s.Active {
			return nil, apperr.Precondition(apperr.ReasonServiceInactive, "service %s is inactive", s.Code)
		}
	}
	return out, nil
}

// OrderParticipants is OrderServices for staff.
func OrderParticipants(codes []string, found []model.Employee) ([]model.Employee, error) {
	byCode := make(map[string]model.Employee, len(found))
	for _, e := range found {
		byCode[e.Code] = e
	}
	out := make([]model.Employee, 0, len(codes))
	seen := map[string]bool{}
	for _, code := range codes {
		if seen[code] {
			continue
		}
		seen[code] = true
		e, ok := byCode[code]
		if !ok {
			return nil, apperr.NotFound(apperr.ReasonParticipantNotFound, "participant", code)
		}
		if !e.Active {
			return nil, apperr.Precondition(apperr.ReasonParticipantInactive, "participant %s is inactive", e.Code)
		}
		out = append(out, e)
	}
	return out, nil
}

// NormalizeCodes trims, drops empties and dedupes while keeping order.
func NormalizeCodes(codes []string) []string {
	out := make([]string, 0, len(codes))
	seen := map[string]bool{}
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// ShiftsAround returns the shifts filed under day and the day before. A
// shift belongs to the day it starts, so one running past midnight is the
// only cover for the early hours of the next day.
func ShiftsAround(ctx context.Context, cal ShiftCalendar, employeeID string, day time.Time) ([]interval.Interval, error) {
	prev, err := cal.ShiftsFor(ctx, employeeID, day.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}
	cur, err := cal.ShiftsFor(ctx, employeeID, day)
	if err != nil {
		return nil, err
	}
	return SortShifts(append(prev, cur...)), nil
}

// Span is the smallest window holding every shift. ok is false for none.
func Span(shifts []interval.Interval) (span interval.Interval, ok bool) {
	for i, s := range shifts {
		if i == 0 {
			span = s
			continue
		}
		if s.Start.Before(span.Start) {
			span.Start = s.Start
		}
		if s.End.After(span.End) {
			span.End = s.End
		}
	}
	return span, len(shifts) > 0
}

// SortShifts orders shifts by start; calendars may return them in any order.
func SortShifts(shifts []interval.Interval) []interval.Interval {
	sort.Slice(shifts, func(i, j int) bool { return shifts[i].Start.Before(shifts[j].Start) })
	return shifts
}

// Package availability answers "when and where can this be booked" from
// shifts and existing bookings. Its answers are advisory: the booking
// pipeline re-checks everything under lock.
package availability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/db"
	otelx "github.com/md-rashed-zaman/clinicsched/libs/otel"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/catalog"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflict"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"go.opentelemetry.io/otel/trace"
)

const DefaultStride = 15 * time.Minute

type Config struct {
	Stride   time.Duration
	Location *time.Location
	Now      func() time.Time
}

type Engine struct {
	db      db.Querier
	catalog catalog.ResourceCatalog
	shifts  catalog.ShiftCalendar
	checker *conflict.Checker
	stride  time.Duration
	loc     *time.Location
	now     func() time.Time
	tracer  trace.Tracer
}

// NewEngine reads through q, normally the pool rather than a transaction.
func NewEngine(q db.Querier, cat catalog.ResourceCatalog, shifts catalog.ShiftCalendar, checker *conflict.Checker, cfg Config) *Engine {
	if cfg.Stride <= 0 {
		cfg.Stride = DefaultStride
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		db:      q,
		catalog: cat,
		shifts:  shifts,
		checker: checker,
		stride:  cfg.Stride,
		loc:     cfg.Location,
		now:     cfg.Now,
		tracer:  otelx.Tracer("scheduling-service/availability"),
	}
}

type DoctorAvailability struct {
	Doctor model.Employee
	Shifts []interval.Interval
}

type TimeSlot struct {
	interval.Interval
	Suggested bool
}

type Resources struct {
	Rooms      []model.Room
	Assistants []model.Employee
}

// Slot is one candidate start with the compatible rooms free for its whole
// window.
type Slot struct {
	interval.Interval
	RoomCodes []string
}

type Times struct {
	TotalDuration time.Duration
	Slots         []Slot
	// Message explains an empty result that is not an error.
	Message string
}

func (e *Engine) day(date time.Time) time.Time {
	local := date.In(e.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)
}

// AvailableDoctors lists active medical staff qualified for every requested
// service who have at least one shift on date.
func (e *Engine) AvailableDoctors(ctx context.Context, date time.Time, serviceCodes []string) ([]DoctorAvailability, error) {
	ctx, span := e.tracer.Start(ctx, "availability.AvailableDoctors")
	defer span.End()

	var services []model.Service
	if codes := catalog.NormalizeCodes(serviceCodes); len(codes) > 0 {
		var err error
		if services, err = e.catalog.FindServicesByCode(ctx, codes); err != nil {
			return nil, err
		}
	}
	required := model.RequiredSpecializations(services)

	staff, err := e.catalog.ListMedicalStaff(ctx)
	if err != nil {
		return nil, err
	}
	day := e.day(date)
	var out []DoctorAvailability
	for _, doc := range staff {
		if !model.Qualified(doc, required) {
			continue
		}
		shifts, err := e.shifts.ShiftsFor(ctx, doc.ID, day)
		if err != nil {
			return nil, err
		}
		if len(shifts) == 0 {
			continue
		}
		out = append(out, DoctorAvailability{Doctor: doc, Shifts: catalog.SortShifts(shifts)})
	}
	return out, nil
}

// AvailableTimeSlots returns the doctor's free gaps of at least
// durationMinutes on date; the earliest is Suggested. A doctor without a
// shift that day has no slots.
func (e *Engine) AvailableTimeSlots(ctx context.Context, date time.Time, doctorCode string, durationMinutes int) ([]TimeSlot, error) {
	ctx, span := e.tracer.Start(ctx, "availability.AvailableTimeSlots")
	defer span.End()

	if durationMinutes <= 0 {
		return nil, apperr.Precondition(apperr.ReasonInvalidDuration, "duration must be positive, got %d minutes", durationMinutes)
	}
	doc, err := e.catalog.FindActiveDoctor(ctx, doctorCode)
	if err != nil {
		return nil, err
	}
	shifts, err := e.shifts.ShiftsFor(ctx, doc.ID, e.day(date))
	if err != nil {
		return nil, err
	}

	length := time.Duration(durationMinutes) * time.Minute
	var gaps []interval.Interval
	for _, shift := range shifts {
		busy, err := e.checker.Busy(ctx, e.db, conflict.Resource{Kind: conflict.Doctor, ID: doc.ID}, shift)
		if err != nil {
			return nil, err
		}
		gaps = append(gaps, interval.AtLeast(interval.SubtractAll(shift, busy), length)...)
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i].Start.Before(gaps[j].Start) })

	slots := make([]TimeSlot, 0, len(gaps))
	for i, g := range gaps {
		slots = append(slots, TimeSlot{Interval: g, Suggested: i == 0})
	}
	return slots, nil
}

// AvailableResources lists the rooms that support every requested service
// and are free for [start, end), and the medical staff whose shift covers
// the window and who are not booked in any role.
func (e *Engine) AvailableResources(ctx context.Context, start, end time.Time, serviceCodes []string) (Resources, error) {
	ctx, span := e.tracer.Start(ctx, "availability.AvailableResources")
	defer span.End()

	if !end.After(start) {
		return Resources{}, apperr.Precondition(apperr.ReasonInvalidWindow, "end must be after start")
	}
	window := interval.New(start, end)

	var services []model.Service
	if codes := catalog.NormalizeCodes(serviceCodes); len(codes) > 0 {
		var err error
		if services, err = e.catalog.FindServicesByCode(ctx, codes); err != nil {
			return Resources{}, err
		}
	}

	var res Resources
	rooms, err := e.compatibleRooms(ctx, services)
	if err != nil {
		return Resources{}, err
	}
	for _, room := range rooms {
		free, err := e.checker.Free(ctx, e.db, conflict.Resource{Kind: conflict.Room, ID: room.ID}, window)
		if err != nil {
			return Resources{}, err
		}
		if free {
			res.Rooms = append(res.Rooms, room)
		}
	}

	staff, err := e.catalog.ListMedicalStaff(ctx)
	if err != nil {
		return Resources{}, err
	}
	day := e.day(start)
	for _, member := range staff {
		shifts, err := catalog.ShiftsAround(ctx, e.shifts, member.ID, day)
		if err != nil {
			return Resources{}, err
		}
		if !covered(shifts, window) {
			continue
		}
		free, err := e.checker.Free(ctx, e.db, conflict.Resource{Kind: conflict.Participant, ID: member.ID}, window)
		if err != nil {
			return Resources{}, err
		}
		if free {
			res.Assistants = append(res.Assistants, member)
		}
	}
	return res, nil
}

// FindAvailableTimes combines the doctor, participants and rooms into
// bookable start times on date, stepping by the engine's stride. Each slot
// carries the compatible rooms free for that exact window; slots without a
// free room are left out.
func (e *Engine) FindAvailableTimes(ctx context.Context, date time.Time, doctorCode string, serviceCodes, participantCodes []string) (Times, error) {
	ctx, span := e.tracer.Start(ctx, "availability.FindAvailableTimes")
	defer span.End()

	day := e.day(date)
	now := e.now()
	if day.Before(e.day(now)) {
		return Times{}, apperr.Precondition(apperr.ReasonDateInPast, "%s is in the past", day.Format("2006-01-02"))
	}

	doc, err := e.catalog.FindActiveDoctor(ctx, doctorCode)
	if err != nil {
		return Times{}, err
	}
	if !doc.Medical {
		return Times{}, apperr.Precondition(apperr.ReasonNotMedicalStaff, "%s is not medical staff", doc.Code)
	}
	codes := catalog.NormalizeCodes(serviceCodes)
	if len(codes) == 0 {
		return Times{}, apperr.Precondition(apperr.ReasonNoServices, "at least one service is required")
	}
	services, err := e.catalog.FindServicesByCode(ctx, codes)
	if err != nil {
		return Times{}, err
	}
	var participants []model.Employee
	if pcodes := catalog.NormalizeCodes(participantCodes); len(pcodes) > 0 {
		if participants, err = e.catalog.FindActiveParticipants(ctx, pcodes); err != nil {
			return Times{}, err
		}
		for _, p := range participants {
			if !p.Medical {
				return Times{}, apperr.Precondition(apperr.ReasonNotMedicalStaff, "participant %s is not medical staff", p.Code)
			}
		}
	}

	total := model.TotalDuration(services)
	if total <= 0 {
		return Times{}, apperr.Precondition(apperr.ReasonInvalidDuration, "selected services have no duration")
	}
	result := Times{TotalDuration: total}

	required := model.RequiredSpecializations(services)
	if !model.Qualified(doc, required) {
		return Times{}, apperr.Precondition(apperr.ReasonDoctorNotQualified, "doctor %s lacks specializations %s",
			doc.Code, strings.Join(model.MissingSpecializations(doc, required), ", "))
	}

	rooms, err := e.compatibleRooms(ctx, services)
	if err != nil {
		return Times{}, err
	}
	if len(rooms) == 0 {
		result.Message = fmt.Sprintf("no active room supports all of %s", strings.Join(codes, ", "))
		return result, nil
	}

	// Shifts belong to the day they start and may run past midnight, so
	// busy time is loaded for the span of the shifts, not the calendar day.
	shifts, err := e.shifts.ShiftsFor(ctx, doc.ID, day)
	if err != nil {
		return Times{}, err
	}
	window, ok := catalog.Span(shifts)
	if !ok {
		return result, nil
	}
	roomBusy := make(map[string][]interval.Interval, len(rooms))
	for _, room := range rooms {
		if roomBusy[room.ID], err = e.checker.Busy(ctx, e.db, conflict.Resource{Kind: conflict.Room, ID: room.ID}, window); err != nil {
			return Times{}, err
		}
	}
	var staffBusy []interval.Interval
	for _, member := range append([]model.Employee{doc}, participants...) {
		busy, err := e.checker.Busy(ctx, e.db, conflict.Resource{Kind: conflict.Doctor, ID: member.ID}, window)
		if err != nil {
			return Times{}, err
		}
		staffBusy = append(staffBusy, busy...)
	}

	notBefore := day
	if now.After(notBefore) {
		notBefore = now
	}

	seen := map[int64]bool{}
	for _, shift := range shifts {
		free := interval.AtLeast(interval.SubtractAll(shift, staffBusy), total)
		for _, gap := range free {
			for _, start := range interval.Starts(gap, total, e.stride, notBefore) {
				if seen[start.UnixNano()] {
					continue
				}
				window := interval.New(start, start.Add(total))
				var roomCodes []string
				for _, room := range rooms {
					if !overlapsAny(roomBusy[room.ID], window) {
						roomCodes = append(roomCodes, room.Code)
					}
				}
				if len(roomCodes) == 0 {
					continue
				}
				seen[start.UnixNano()] = true
				sort.Strings(roomCodes)
				result.Slots = append(result.Slots, Slot{Interval: window, RoomCodes: roomCodes})
			}
		}
	}
	sort.Slice(result.Slots, func(i, j int) bool { return result.Slots[i].Start.Before(result.Slots[j].Start) })
	return result, nil
}

func (e *Engine) compatibleRooms(ctx context.Context, services []model.Service) ([]model.Room, error) {
	rooms, err := e.catalog.ListActiveRooms(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Room
	for _, room := range rooms {
		if room.Supports(services) {
			out = append(out, room)
		}
	}
	return out, nil
}

func covered(shifts []interval.Interval, window interval.Interval) bool {
	for _, s := range shifts {
		if interval.Contains(s, window) {
			return true
		}
	}
	return false
}

func overlapsAny(busy []interval.Interval, window interval.Interval) bool {
	for _, b := range busy {
		if interval.Overlaps(b, window) {
			return true
		}
	}
	return false
}

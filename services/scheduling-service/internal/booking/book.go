package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/catalog"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflict"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

type ParticipantRequest struct {
	EmployeeCode string
	// Role defaults to ASSISTANT.
	Role model.ParticipantRole
}

// BookRequest books either an explicit list of services or the services of
// a set of treatment-plan items, never both.
type BookRequest struct {
	PatientCode  string
	DoctorCode   string
	RoomCode     string
	StartTime    time.Time
	ServiceCodes []string
	PlanItemIDs  []string
	Participants []ParticipantRequest
	Notes        string
}

// draft is one run of the creation pipeline.
type draft struct {
	req        BookRequest
	action     model.AuditAction
	reasonCode string
	// exclude lists appointments ignored by the conflict re-check.
	exclude []string
	// reschedule turns a start in the past into an invalid transition.
	reschedule bool
}

type resolved struct {
	patient      model.Patient
	doctor       model.Employee
	room         model.Room
	services     []model.Service
	participants []model.Employee
	roles        []model.ParticipantRole
	planItems    []model.PlanItem
}

func (r resolved) serviceIDs() []string {
	ids := make([]string, 0, len(r.services))
	for _, svc := range r.services {
		ids = append(ids, svc.ID)
	}
	return ids
}

// staffIDs returns the doctor followed by every participant.
func (r resolved) staffIDs() []string {
	ids := make([]string, 0, len(r.participants)+1)
	ids = append(ids, r.doctor.ID)
	for _, p := range r.participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// Book runs the creation pipeline in one transaction and returns the stored
// appointment with its references resolved.
func (s *Service) Book(ctx context.Context, actorCode string, req BookRequest) (model.AppointmentView, error) {
	started := s.now()
	ctx, span := s.startSpan(ctx, "Book")
	view, err := s.book(ctx, actorCode, req)
	s.finish(span, "book", started, err)
	if err != nil {
		return model.AppointmentView{}, err
	}

	s.logger.Info("appointment booked",
		"appointment_code", view.Code, "doctor_code", view.Doctor.Code, "room_code", view.Room.Code, "start", view.StartTime)
	s.notifyAsync(ctx, staffNotifications(view, notify.TypeBooked, "New appointment",
		fmt.Sprintf("%s: %s at %s in %s", view.Code, view.Patient.Name, s.formatTime(view.StartTime), view.Room.Name)))
	return view, nil
}

func (s *Service) book(ctx context.Context, actorCode string, req BookRequest) (model.AppointmentView, error) {
	actor, err := s.ResolveActor(ctx, actorCode)
	if err != nil {
		return model.AppointmentView{}, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.AppointmentView{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.create(ctx, tx, actor, draft{req: req, action: model.ActionCreate})
	if err != nil {
		return model.AppointmentView{}, err
	}
	if err := s.emit(ctx, tx, outbox.TopicBooked, appt, actor, nil); err != nil {
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

// create validates and inserts one appointment inside tx. Nothing is
// written until every check has passed.
func (s *Service) create(ctx context.Context, tx pgx.Tx, actor model.Actor, d draft) (model.Appointment, error) {
	req := d.req
	r, err := s.resolve(ctx, tx, req)
	if err != nil {
		return model.Appointment{}, err
	}

	required := model.RequiredSpecializations(r.services)
	if !model.Qualified(r.doctor, required) {
		missing := model.MissingSpecializations(r.doctor, required)
		return model.Appointment{}, apperr.Precondition(apperr.ReasonDoctorNotQualified,
			"doctor %s lacks specializations %s", r.doctor.Code, strings.Join(missing, ", "))
	}

	if missing := r.room.Unsupported(r.services); len(missing) > 0 {
		return model.Appointment{}, apperr.Precondition(apperr.ReasonRoomIncompatible,
			"room %s does not support %s", r.room.Code, strings.Join(missing, ", "))
	}

	length := model.TotalDuration(r.services)
	if length <= 0 {
		return model.Appointment{}, apperr.Precondition(apperr.ReasonInvalidDuration, "selected services have no duration")
	}
	window := interval.New(req.StartTime, req.StartTime.Add(length))

	if err := s.checkTiming(window.Start, r.patient, d.reschedule); err != nil {
		return model.Appointment{}, err
	}

	if err := s.requireShift(ctx, r.doctor, "doctor", window); err != nil {
		return model.Appointment{}, err
	}
	for _, p := range r.participants {
		if err := s.requireShift(ctx, p, "participant", window); err != nil {
			return model.Appointment{}, err
		}
	}

	if err := s.store.LockResources(ctx, tx, lockKeys(r.room.ID, r.patient.ID, r.staffIDs())); err != nil {
		return model.Appointment{}, err
	}
	resources := []conflict.Resource{
		{Kind: conflict.Doctor, ID: r.doctor.ID, Code: r.doctor.Code},
		{Kind: conflict.Room, ID: r.room.ID, Code: r.room.Code},
		{Kind: conflict.Patient, ID: r.patient.ID, Code: r.patient.Code},
	}
	for _, p := range r.participants {
		resources = append(resources, conflict.Resource{Kind: conflict.Participant, ID: p.ID, Code: p.Code})
	}
	if err := s.checker.Check(ctx, tx, resources, window, d.exclude...); err != nil {
		return model.Appointment{}, err
	}

	day := s.dayOf(window.Start)
	if s.eligibility != nil {
		if err := s.eligibility.Validate(ctx, r.patient.ID, r.serviceIDs(), day); err != nil {
			return model.Appointment{}, err
		}
	}

	code, err := s.store.NextCode(ctx, tx, day)
	if err != nil {
		return model.Appointment{}, err
	}
	appt := model.Appointment{
		ID:         uuid.NewString(),
		Code:       code,
		PatientID:  r.patient.ID,
		DoctorID:   r.doctor.ID,
		RoomID:     r.room.ID,
		StartTime:  window.Start,
		EndTime:    window.End,
		Status:     model.StatusScheduled,
		Notes:      req.Notes,
		CreatedBy:  actorID(actor),
		ServiceIDs: r.serviceIDs(),
	}
	for i, p := range r.participants {
		appt.Participants = append(appt.Participants, model.Participant{EmployeeID: p.ID, Role: r.roles[i]})
	}
	for _, item := range r.planItems {
		appt.PlanItemIDs = append(appt.PlanItemIDs, item.ID)
	}
	if err := s.store.Insert(ctx, tx, &appt); err != nil {
		return model.Appointment{}, err
	}
	if err := s.schedulePlanItems(ctx, tx, appt, r.planItems); err != nil {
		return model.Appointment{}, err
	}

	if err := s.audit.Append(ctx, tx, model.AuditEntry{
		AppointmentID: appt.ID,
		ActorID:       actorID(actor),
		Action:        d.action,
		NewStatus:     model.StatusScheduled,
		NewStart:      timePtr(appt.StartTime),
		ReasonCode:    d.reasonCode,
		Notes:         req.Notes,
	}); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// resolve loads and validates every resource the request names.
func (s *Service) resolve(ctx context.Context, tx pgx.Tx, req BookRequest) (resolved, error) {
	var r resolved
	var err error

	if r.patient, err = s.catalog.FindActivePatient(ctx, req.PatientCode); err != nil {
		return r, err
	}
	if r.doctor, err = s.catalog.FindActiveDoctor(ctx, req.DoctorCode); err != nil {
		return r, err
	}
	if !r.doctor.Medical {
		return r, apperr.Precondition(apperr.ReasonNotMedicalStaff, "%s is not medical staff", r.doctor.Code)
	}
	if r.room, err = s.catalog.FindActiveRoom(ctx, req.RoomCode); err != nil {
		return r, err
	}

	serviceCodes := catalog.NormalizeCodes(req.ServiceCodes)
	itemIDs := catalog.NormalizeCodes(req.PlanItemIDs)
	switch {
	case len(serviceCodes) > 0 && len(itemIDs) > 0:
		return r, apperr.Precondition(apperr.ReasonBookingMode, "book either services or plan items, not both")
	case len(itemIDs) > 0:
		if r.planItems, r.services, err = s.resolvePlanItems(ctx, tx, r.patient, itemIDs); err != nil {
			return r, err
		}
	case len(serviceCodes) > 0:
		if r.services, err = s.catalog.FindServicesByCode(ctx, serviceCodes); err != nil {
			return r, err
		}
	default:
		return r, apperr.Precondition(apperr.ReasonNoServices, "at least one service or plan item is required")
	}

	return r, s.resolveParticipants(ctx, &r, req.Participants)
}

func (s *Service) resolveParticipants(ctx context.Context, r *resolved, reqs []ParticipantRequest) error {
	roleByCode := map[string]model.ParticipantRole{}
	codes := make([]string, 0, len(reqs))
	for _, p := range reqs {
		code := strings.TrimSpace(p.EmployeeCode)
		role, ok := model.ParseRole(string(p.Role))
		if !ok {
			return apperr.Precondition(apperr.ReasonInvalidRole, "unknown participant role %q", p.Role)
		}
		if _, seen := roleByCode[code]; !seen {
			roleByCode[code] = role
		}
		codes = append(codes, code)
	}
	codes = catalog.NormalizeCodes(codes)
	if len(codes) == 0 {
		return nil
	}

	staff, err := s.catalog.FindActiveParticipants(ctx, codes)
	if err != nil {
		return err
	}
	for _, e := range staff {
		if !e.Medical {
			return apperr.Precondition(apperr.ReasonNotMedicalStaff, "participant %s is not medical staff", e.Code)
		}
		if e.ID == r.doctor.ID {
			return apperr.Precondition(apperr.ReasonParticipantIsDoctor, "%s is already the primary doctor", e.Code)
		}
		r.participants = append(r.participants, e)
		r.roles = append(r.roles, roleByCode[e.Code])
	}
	return nil
}

// resolvePlanItems locks the items and derives the services to book. Every
// item must be ready for booking and belong to the patient.
func (s *Service) resolvePlanItems(ctx context.Context, tx pgx.Tx, patient model.Patient, ids []string) ([]model.PlanItem, []model.Service, error) {
	found, err := s.plans.LockPlanItems(ctx, tx, ids)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]model.PlanItem, len(found))
	for _, item := range found {
		byID[item.ID] = item
	}

	items := make([]model.PlanItem, 0, len(ids))
	var serviceIDs []string
	seen := map[string]bool{}
	for _, id := range ids {
		item, ok := byID[id]
		if !ok {
			return nil, nil, apperr.NotFound(apperr.ReasonPlanItemNotFound, "plan item", id)
		}
		if item.PatientID != patient.ID {
			return nil, nil, apperr.Precondition(apperr.ReasonPlanItemPatient, "plan item %s belongs to another patient", id)
		}
		if item.Status != model.PlanItemReady {
			return nil, nil, apperr.Precondition(apperr.ReasonPlanItemNotReady, "plan item %s is %s", id, item.Status)
		}
		items = append(items, item)
		if !seen[item.ServiceID] {
			seen[item.ServiceID] = true
			serviceIDs = append(serviceIDs, item.ServiceID)
		}
	}

	services, err := s.catalog.FindServicesByID(ctx, serviceIDs)
	if err != nil {
		return nil, nil, err
	}
	return items, services, nil
}

// schedulePlanItems marks the booked items SCHEDULED and starts their plans.
func (s *Service) schedulePlanItems(ctx context.Context, tx pgx.Tx, appt model.Appointment, items []model.PlanItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := s.setPlanItems(ctx, tx, appt, planItemIDs(items), model.PlanItemScheduled); err != nil {
		return err
	}
	var planIDs []string
	seen := map[string]bool{}
	for _, item := range items {
		if !seen[item.PlanID] {
			seen[item.PlanID] = true
			planIDs = append(planIDs, item.PlanID)
		}
	}
	return s.plans.StartPlans(ctx, tx, planIDs)
}

// setPlanItems changes the status of exactly len(ids) items or fails the
// transaction with an integrity error.
func (s *Service) setPlanItems(ctx context.Context, tx pgx.Tx, appt model.Appointment, ids []string, status model.PlanItemStatus) error {
	n, err := s.plans.SetPlanItemStatus(ctx, tx, ids, status)
	if err != nil {
		return err
	}
	if n != int64(len(ids)) {
		s.logger.Error("plan item update count mismatch",
			"appointment_code", appt.Code, "appointment_id", appt.ID, "plan_item_ids", ids,
			"target_status", status, "expected", len(ids), "updated", n)
		return apperr.Integrity("updated %d of %d plan items of %s to %s", n, len(ids), appt.Code, status)
	}
	return nil
}

func planItemIDs(items []model.PlanItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func (s *Service) checkTiming(start time.Time, patient model.Patient, reschedule bool) error {
	now := s.now()
	if !start.After(now) {
		if reschedule {
			e := apperr.InvalidTransition("cannot move an appointment into the past (%s)", s.formatTime(start))
			e.Reason = apperr.ReasonStartInPast
			return e
		}
		return apperr.Precondition(apperr.ReasonStartInPast, "start %s is not in the future", s.formatTime(start))
	}
	if s.policy.MinLead > 0 && start.Before(now.Add(s.policy.MinLead)) {
		return apperr.Precondition(apperr.ReasonLeadTime, "start must be at least %s from now", s.policy.MinLead)
	}
	if s.policy.MaxAdvance > 0 && start.After(now.Add(s.policy.MaxAdvance)) {
		return apperr.Precondition(apperr.ReasonBeyondHorizon, "start is beyond the %s booking horizon", s.policy.MaxAdvance)
	}
	if patient.Blocked {
		return apperr.Precondition(apperr.ReasonPatientBlocked, "patient %s is blocked from booking", patient.Code)
	}
	return nil
}

// requireShift demands a single shift that fully contains window. Shifts
// from the day before count when they run into window's day.
func (s *Service) requireShift(ctx context.Context, e model.Employee, role string, window interval.Interval) error {
	day := s.dayOf(window.Start)
	around, err := catalog.ShiftsAround(ctx, s.shifts, e.ID, day)
	if err != nil {
		return err
	}
	var shifts []interval.Interval
	for _, sh := range around {
		if sh.End.After(day) {
			shifts = append(shifts, sh)
		}
	}
	if len(shifts) == 0 {
		return apperr.Precondition(apperr.ReasonNoShift, "%s %s has no shift on %s", role, e.Code, day.Format("2006-01-02"))
	}
	for _, sh := range shifts {
		if interval.Contains(sh, window) {
			return nil
		}
	}
	return apperr.Precondition(apperr.ReasonShiftNotCovering, "no shift of %s %s covers %s to %s",
		role, e.Code, s.formatTime(window.Start), s.formatTime(window.End))
}

func (s *Service) formatTime(t time.Time) string {
	return t.In(s.policy.Location).Format("2006-01-02 15:04")
}

// Package booking owns every write to appointments: the booking pipeline,
// reschedule, delay and status transitions. Each operation runs in a single
// database transaction and either fully commits or leaves no trace.
package booking

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/libs/metrics"
	otelx "github.com/md-rashed-zaman/clinicsched/libs/otel"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/catalog"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflict"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/notify"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SystemActor is the audit name of the house actor.
const SystemActor = "system"

// Policy holds the timing rules and the clinic calendar.
type Policy struct {
	MinLead    time.Duration
	MaxAdvance time.Duration
	Location   *time.Location
	// HouseActorCode is the principal used by jobs and integrations. It maps
	// to the house actor unless an employee with that code exists.
	HouseActorCode string
}

type Deps struct {
	DB          db.Querier
	Store       Store
	Plans       PlanStore
	Catalog     catalog.ResourceCatalog
	Shifts      catalog.ShiftCalendar
	Checker     *conflict.Checker
	Eligibility Eligibility
	Audit       AuditSink
	Events      EventLog
	Notifier    Notifier
	Metrics     *metrics.Collector
	Logger      *slog.Logger
	Policy      Policy
	Now         func() time.Time
}

type Service struct {
	db          db.Querier
	store       Store
	plans       PlanStore
	catalog     catalog.ResourceCatalog
	shifts      catalog.ShiftCalendar
	checker     *conflict.Checker
	eligibility Eligibility
	audit       AuditSink
	events      EventLog
	notifier    Notifier
	metrics     *metrics.Collector
	logger      *slog.Logger
	policy      Policy
	now         func() time.Time
	tracer      trace.Tracer

	wg sync.WaitGroup
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Policy.Location == nil {
		d.Policy.Location = time.UTC
	}
	return &Service{
		db:          d.DB,
		store:       d.Store,
		plans:       d.Plans,
		catalog:     d.Catalog,
		shifts:      d.Shifts,
		checker:     d.Checker,
		eligibility: d.Eligibility,
		audit:       d.Audit,
		events:      d.Events,
		notifier:    d.Notifier,
		metrics:     d.Metrics,
		logger:      d.Logger,
		policy:      d.Policy,
		now:         d.Now,
		tracer:      otelx.Tracer("scheduling-service/booking"),
	}
}

// ResolveActor maps the caller's employee code to an actor. An empty code or
// the house principal without an employee record becomes the house actor.
func (s *Service) ResolveActor(ctx context.Context, code string) (model.Actor, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return model.Actor{Code: SystemActor, House: true}, nil
	}
	e, err := s.catalog.FindEmployee(ctx, code)
	if err != nil {
		if code == s.policy.HouseActorCode && apperr.KindOf(err) == apperr.KindNotFound {
			return model.Actor{Code: code, House: true}, nil
		}
		return model.Actor{}, err
	}
	return model.Actor{ID: e.ID, Code: e.Code}, nil
}

// Wait blocks until every in-flight notification has been handed off.
func (s *Service) Wait() {
	s.wg.Wait()
}

// dayOf is the clinic calendar day of t, at midnight.
func (s *Service) dayOf(t time.Time) time.Time {
	local := t.In(s.policy.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.policy.Location)
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "booking."+name)
}

// finish records the outcome of one operation on its span and in metrics.
func (s *Service) finish(span trace.Span, op string, started time.Time, err error) {
	defer span.End()
	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindConflict {
			s.metrics.Conflict(e.Resource)
		}
		if apperr.KindOf(err) == apperr.KindIntegrity {
			s.logger.Error("integrity mismatch, transaction rolled back", "operation", op, "err", err)
		}
	}
	s.metrics.ObserveBooking(op, outcome, s.now().Sub(started))
}

// notifyAsync hands notifications to the dispatcher after commit. Failures
// are logged and counted, never returned.
func (s *Service) notifyAsync(ctx context.Context, notes []notify.Notification) {
	if s.notifier == nil || len(notes) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.metrics.NotificationFailed()
				s.logger.Error("notification dispatch panicked", "panic", r)
			}
		}()
		for _, n := range notes {
			if err := s.notifier.Notify(ctx, n); err != nil {
				s.metrics.NotificationFailed()
				s.logger.Warn("notification dispatch failed",
					"err", err, "user_id", n.UserID, "type", n.Type, "related_entity", n.RelatedEntity)
			}
		}
	}()
}

// staffNotifications addresses one notification to every staff member on
// the appointment.
func staffNotifications(v model.AppointmentView, typ, title, message string) []notify.Notification {
	ids := []string{v.DoctorID}
	for _, p := range v.Participants {
		ids = append(ids, p.ID)
	}
	out := make([]notify.Notification, 0, len(ids))
	for _, id := range ids {
		out = append(out, notify.Notification{
			UserID:        id,
			Type:          typ,
			Title:         title,
			Message:       message,
			RelatedEntity: v.Code,
		})
	}
	return out
}

// lockKeys returns the advisory lock keys of an appointment's resources in
// sorted order. staff holds the doctor and every participant; they share one
// key per person whatever their role.
func lockKeys(roomID, patientID string, staff []string) []string {
	set := map[string]struct{}{
		"room:" + roomID:       {},
		"patient:" + patientID: {},
	}
	for _, id := range staff {
		set["doctor:"+id] = struct{}{}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func actorID(a model.Actor) string {
	if a.House {
		return ""
	}
	return a.ID
}

func timePtr(t time.Time) *time.Time {
	return &t
}

package booking

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

// Store persists appointments and their association rows. Methods taking a
// pgx.Tx must run inside the caller's transaction.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	// LockResources takes transaction-scoped locks on keys in the given order.
	LockResources(ctx context.Context, tx pgx.Tx, keys []string) error
	NextCode(ctx context.Context, tx pgx.Tx, day time.Time) (string, error)
	// Insert writes the appointment with its services, participants and
	// plan-item links.
	Insert(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error
	GetByCode(ctx context.Context, q db.Querier, code string) (model.Appointment, error)
	GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (model.Appointment, error)
	// UpdateStatus leaves replaced_by untouched when replacedBy is empty.
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status model.Status, replacedBy string) error
	UpdateWindow(ctx context.Context, tx pgx.Tx, id string, window interval.Interval) error
	LoadView(ctx context.Context, q db.Querier, id string) (model.AppointmentView, error)
	Search(ctx context.Context, q db.Querier, f model.Filter) ([]model.AppointmentView, error)
	// ListOverdue returns codes of SCHEDULED appointments starting before cutoff.
	ListOverdue(ctx context.Context, q db.Querier, cutoff time.Time, limit int) ([]string, error)
}

// PlanStore is the slice of the treatment-plan tables the engine writes.
type PlanStore interface {
	// LockPlanItems returns the items that exist, locked for update.
	LockPlanItems(ctx context.Context, tx pgx.Tx, ids []string) ([]model.PlanItem, error)
	// SetPlanItemStatus returns the number of rows changed.
	SetPlanItemStatus(ctx context.Context, tx pgx.Tx, ids []string, status model.PlanItemStatus) (int64, error)
	// StartPlans moves PENDING plans to IN_PROGRESS.
	StartPlans(ctx context.Context, tx pgx.Tx, planIDs []string) error
}

type AuditSink interface {
	Append(ctx context.Context, q db.Querier, e model.AuditEntry) error
}

type EventLog interface {
	Insert(ctx context.Context, q db.Querier, evt outbox.Event) error
}

type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// Eligibility returns an apperr precondition error when clinical rules forbid
// the services for the patient on day.
type Eligibility interface {
	Validate(ctx context.Context, patientID string, serviceIDs []string, day time.Time) error
}

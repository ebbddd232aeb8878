package model

import "time"

type AuditAction string

const (
	ActionCreate           AuditAction = "CREATE"
	ActionCancel           AuditAction = "CANCEL"
	ActionDelay            AuditAction = "DELAY"
	ActionRescheduleSource AuditAction = "RESCHEDULE_SOURCE"
	ActionRescheduleTarget AuditAction = "RESCHEDULE_TARGET"
	ActionCheckIn          AuditAction = "CHECK_IN"
	ActionStart            AuditAction = "START"
	ActionComplete         AuditAction = "COMPLETE"
	ActionNoShow           AuditAction = "NO_SHOW"
)

// ActionFor maps a status change to the audit action that records it.
func ActionFor(to Status) AuditAction {
	switch to {
	case StatusCheckedIn:
		return ActionCheckIn
	case StatusInProgress:
		return ActionStart
	case StatusCompleted:
		return ActionComplete
	case StatusNoShow:
		return ActionNoShow
	default:
		return ActionCancel
	}
}

// AuditEntry is one append-only row of appointment history.
type AuditEntry struct {
	ID            int64
	AppointmentID string
	// ActorID is empty for the house actor ("system").
	ActorID    string
	Action     AuditAction
	OldStatus  Status
	NewStatus  Status
	OldStart   *time.Time
	NewStart   *time.Time
	ReasonCode string
	Notes      string
	CreatedAt  time.Time
}

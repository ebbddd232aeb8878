package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/interval"
)

// Status of an appointment. Allowed moves:
//
//	SCHEDULED  → CHECKED_IN | CANCELLED | NO_SHOW
//	CHECKED_IN → IN_PROGRESS | CANCELLED | NO_SHOW
//	IN_PROGRESS → COMPLETED
//
// COMPLETED, CANCELLED and NO_SHOW are terminal.
type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusCheckedIn  Status = "CHECKED_IN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusNoShow     Status = "NO_SHOW"
)

var transitions = map[Status][]Status{
	StatusScheduled:  {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted},
}

// ActiveStatuses hold their resources; only these count as conflicts.
var ActiveStatuses = []Status{StatusScheduled, StatusCheckedIn, StatusInProgress}

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusScheduled, StatusCheckedIn, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return st, true
	}
	return "", false
}

func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusCheckedIn || s == StatusInProgress
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Movable reports whether the appointment may still be delayed or rescheduled.
func (s Status) Movable() bool {
	return s == StatusScheduled || s == StatusCheckedIn
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type ParticipantRole string

const (
	RoleAssistant       ParticipantRole = "ASSISTANT"
	RoleSecondaryDoctor ParticipantRole = "SECONDARY_DOCTOR"
	RoleObserver        ParticipantRole = "OBSERVER"
)

func ParseRole(s string) (ParticipantRole, bool) {
	switch r := ParticipantRole(s); r {
	case "":
		return RoleAssistant, true
	case RoleAssistant, RoleSecondaryDoctor, RoleObserver:
		return r, true
	}
	return "", false
}

type Participant struct {
	EmployeeID string
	Role       ParticipantRole
}

type Appointment struct {
	ID        string
	Code      string
	PatientID string
	DoctorID  string
	RoomID    string
	StartTime time.Time
	EndTime   time.Time
	Status    Status
	Notes     string
	// CreatedBy is empty when the house actor booked it.
	CreatedBy  string
	ReplacedBy string

	ServiceIDs   []string
	Participants []Participant
	PlanItemIDs  []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Appointment) Window() interval.Interval {
	return interval.Interval{Start: a.StartTime, End: a.EndTime}
}

// StaffIDs returns the primary doctor followed by every participant.
func (a Appointment) StaffIDs() []string {
	ids := make([]string, 0, len(a.Participants)+1)
	ids = append(ids, a.DoctorID)
	for _, p := range a.Participants {
		ids = append(ids, p.EmployeeID)
	}
	return ids
}

const codePrefix = "APT-"

// FormatCode renders APT-YYYYMMDD-NNN. The sequence is zero padded to three
// digits and simply widens past 999.
func FormatCode(day time.Time, seq int) string {
	return fmt.Sprintf("%s%s-%03d", codePrefix, day.Format("20060102"), seq)
}

// ParseCode splits a code into its calendar day (UTC midnight) and sequence.
func ParseCode(code string) (time.Time, int, error) {
	rest, ok := strings.CutPrefix(code, codePrefix)
	if !ok {
		return time.Time{}, 0, fmt.Errorf("invalid appointment code %q", code)
	}
	datePart, seqPart, ok := strings.Cut(rest, "-")
	if !ok || len(datePart) != 8 {
		return time.Time{}, 0, fmt.Errorf("invalid appointment code %q", code)
	}
	day, err := time.Parse("20060102", datePart)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid appointment code %q: %w", code, err)
	}
	seq, err := strconv.Atoi(seqPart)
	if err != nil || seq <= 0 {
		return time.Time{}, 0, fmt.Errorf("invalid appointment code %q", code)
	}
	return day, seq, nil
}

// Summary identifies a referenced resource in an appointment view.
type Summary struct {
	ID   string
	Code string
	Name string
}

type ServiceSummary struct {
	Summary
	DurationMinutes int
	BufferMinutes   int
}

type ParticipantSummary struct {
	Summary
	Role ParticipantRole
}

// AppointmentView is an appointment with its references resolved.
type AppointmentView struct {
	Appointment
	Patient        Summary
	Doctor         Summary
	Room           Summary
	Services       []ServiceSummary
	Participants   []ParticipantSummary
	ReplacedByCode string
}

// Filter selects appointments overlapping [From, To) held by exactly one of
// the doctor, room or patient codes.
type Filter struct {
	DoctorCode  string
	RoomCode    string
	PatientCode string
	From        time.Time
	To          time.Time
}

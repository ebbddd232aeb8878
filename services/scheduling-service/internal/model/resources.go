package model

import (
	"sort"
	"time"
)

type Patient struct {
	ID       string
	Code     string
	FullName string
	Active   bool
	Blocked  bool
}

// Employee is any staff member. Medical staff can be booked as doctor or participant.
type Employee struct {
	ID              string
	Code            string
	FullName        string
	Active          bool
	Medical         bool
	Specializations []string
}

type Room struct {
	ID     string
	Code   string
	Name   string
	Active bool
	// ServiceIDs lists the services the room is equipped for.
	ServiceIDs []string
}

type Service struct {
	ID                      string
	Code                    string
	Name                    string
	Active                  bool
	DurationMinutes         int
	BufferMinutes           int
	RequiredSpecializations []string
}

// Supports reports whether the room can host every one of services.
func (r Room) Supports(services []Service) bool {
	have := make(map[string]struct{}, len(r.ServiceIDs))
	for _, id := range r.ServiceIDs {
		have[id] = struct{}{}
	}
	for _, s := range services {
		if _, ok := have[s.ID]; !ok {
			return false
		}
	}
	return true
}

// Unsupported returns the codes of services the room cannot host.
func (r Room) Unsupported(services []Service) []string {
	var missing []string
	for _, s := range services {
		if !r.Supports([]Service{s}) {
			missing = append(missing, s.Code)
		}
	}
	return missing
}

// TotalDuration is Σ(duration + buffer) over services.
func TotalDuration(services []Service) time.Duration {
	total := 0
	for _, s := range services {
		total += s.DurationMinutes + s.BufferMinutes
	}
	return time.Duration(total) * time.Minute
}

// RequiredSpecializations is the sorted union of what services demand.
func RequiredSpecializations(services []Service) []string {
	set := map[string]struct{}{}
	for _, s := range services {
		for _, spec := range s.RequiredSpecializations {
			set[spec] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for spec := range set {
		out = append(out, spec)
	}
	sort.Strings(out)
	return out
}

// Qualified is the single specialization policy: with nothing required any
// active medical staff qualifies (including staff without specializations);
// otherwise the staff member must hold every required specialization.
func Qualified(e Employee, required []string) bool {
	if !e.Active || !e.Medical {
		return false
	}
	if len(required) == 0 {
		return true
	}
	held := make(map[string]struct{}, len(e.Specializations))
	for _, s := range e.Specializations {
		held[s] = struct{}{}
	}
	for _, r := range required {
		if _, ok := held[r]; !ok {
			return false
		}
	}
	return true
}

// MissingSpecializations lists the required specializations e lacks.
func MissingSpecializations(e Employee, required []string) []string {
	held := make(map[string]struct{}, len(e.Specializations))
	for _, s := range e.Specializations {
		held[s] = struct{}{}
	}
	var missing []string
	for _, r := range required {
		if _, ok := held[r]; !ok {
			missing = append(missing, r)
		}
	}
	return missing
}

type PlanItemStatus string

const (
	PlanItemReady     PlanItemStatus = "READY_FOR_BOOKING"
	PlanItemScheduled PlanItemStatus = "SCHEDULED"
	PlanItemCompleted PlanItemStatus = "COMPLETED"
)

type PlanStatus string

const (
	PlanPending    PlanStatus = "PENDING"
	PlanInProgress PlanStatus = "IN_PROGRESS"
)

// PlanItem is one bookable unit of a treatment plan.
type PlanItem struct {
	ID        string
	PlanID    string
	PatientID string
	ServiceID string
	Status    PlanItemStatus
}

// Actor is who performs a mutating operation. A house actor has no employee
// record and is written to the audit log as system.
type Actor struct {
	ID    string
	Code  string
	House bool
}

// Package conflict detects double bookings of doctors, rooms, patients and
// assisting staff against the active appointments already on record.
package conflict

import (
	"context"
	"sort"

	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/interval"
)

type Kind string

const (
	Doctor      Kind = "doctor"
	Room        Kind = "room"
	Patient     Kind = "patient"
	Participant Kind = "participant"
)

// Resource is something an appointment holds for its whole window. Code is
// only used to name the resource in conflict errors.
type Resource struct {
	Kind Kind
	ID   string
	Code string
}

// Booking is an active appointment found holding a resource.
type Booking struct {
	AppointmentID   string
	AppointmentCode string
	Window          interval.Interval
}

// Source lists the active (SCHEDULED, CHECKED_IN, IN_PROGRESS) appointments
// in which r.ID appears in the role r.Kind and whose window overlaps window,
// ordered by start. Appointments whose id is in exclude are skipped.
type Source interface {
	Overlapping(ctx context.Context, q db.Querier, r Resource, window interval.Interval, exclude []string) ([]Booking, error)
}

type Checker struct {
	src Source
}

func NewChecker(src Source) *Checker {
	return &Checker{src: src}
}

// roles expands staff into both roles a staff member can hold on an
// appointment: primary doctor and listed participant.
func roles(r Resource) []Kind {
	switch r.Kind {
	case Doctor, Participant:
		return []Kind{Doctor, Participant}
	default:
		return []Kind{r.Kind}
	}
}

func (c *Checker) overlapping(ctx context.Context, q db.Querier, r Resource, window interval.Interval, exclude []string) ([]Booking, error) {
	var out []Booking
	for _, role := range roles(r) {
		hits, err := c.src.Overlapping(ctx, q, Resource{Kind: role, ID: r.ID}, window, exclude)
		if err != nil {
			return nil, err
		}
		out = append(out, hits...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Window.Start.Before(out[j].Window.Start) })
	return out, nil
}

// Find returns the earliest active appointment holding r during window.
func (c *Checker) Find(ctx context.Context, q db.Querier, r Resource, window interval.Interval, exclude ...string) (Booking, bool, error) {
	hits, err := c.overlapping(ctx, q, r, window, exclude)
	if err != nil || len(hits) == 0 {
		return Booking{}, false, err
	}
	return hits[0], true, nil
}

// Check tests every resource in order and stops at the first one already
// booked, returning an apperr conflict that names it.
func (c *Checker) Check(ctx context.Context, q db.Querier, resources []Resource, window interval.Interval, exclude ...string) error {
	for _, r := range resources {
		hit, found, err := c.Find(ctx, q, r, window, exclude...)
		if err != nil {
			return err
		}
		if found {
			code := r.Code
			if code == "" {
				code = r.ID
			}
			return apperr.Conflict(string(r.Kind), code, hit.AppointmentCode)
		}
	}
	return nil
}

// Busy returns the unclipped windows of every active appointment holding r
// that overlaps window.
func (c *Checker) Busy(ctx context.Context, q db.Querier, r Resource, window interval.Interval) ([]interval.Interval, error) {
	hits, err := c.overlapping(ctx, q, r, window, nil)
	if err != nil {
		return nil, err
	}
	busy := make([]interval.Interval, 0, len(hits))
	for _, h := range hits {
		busy = append(busy, h.Window)
	}
	return busy, nil
}

// Free reports whether r has no active booking overlapping window.
func (c *Checker) Free(ctx context.Context, q db.Querier, r Resource, window interval.Interval) (bool, error) {
	_, found, err := c.Find(ctx, q, r, window)
	return !found, err
}

// Package notify hands notification requests to the delivery services by
// writing them to the outbox. Delivery itself happens elsewhere.
package notify

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

const (
	TypeBooked        = "APPOINTMENT_BOOKED"
	TypeRescheduled   = "APPOINTMENT_RESCHEDULED"
	TypeDelayed       = "APPOINTMENT_DELAYED"
	TypeStatusChanged = "APPOINTMENT_STATUS_CHANGED"
)

type Notification struct {
	UserID        string
	Type          string
	Title         string
	Message       string
	RelatedEntity string
}

type payload struct {
	UserID        string `json:"user_id"`
	Type          string `json:"type"`
	Title         string `json:"title"`
	Message       string `json:"message"`
	RelatedEntity string `json:"related_entity"`
	RequestedAt   string `json:"requested_at"`
}

// Dispatcher writes each notification as its own outbox row, outside any
// booking transaction.
type Dispatcher struct {
	db     db.Querier
	events *outbox.Repository
	now    func() time.Time
}

func NewDispatcher(q db.Querier, events *outbox.Repository) *Dispatcher {
	return &Dispatcher{db: q, events: events, now: time.Now}
}

func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	evt, err := outbox.NewEvent("notification", n.UserID, outbox.TopicNotification, payload{
		UserID:        n.UserID,
		Type:          n.Type,
		Title:         n.Title,
		Message:       n.Message,
		RelatedEntity: n.RelatedEntity,
		RequestedAt:   d.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return d.events.Insert(ctx, d.db, evt)
}

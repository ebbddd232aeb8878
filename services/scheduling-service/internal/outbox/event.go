package outbox

import (
	"encoding/json"
	"fmt"
)

// Topics. The Kafka topic of an outbox row is its event type.
const (
	TopicBooked        = "clinic.appointment.booked.v1"
	TopicRescheduled   = "clinic.appointment.rescheduled.v1"
	TopicDelayed       = "clinic.appointment.delayed.v1"
	TopicStatusChanged = "clinic.appointment.status-changed.v1"
	TopicNotification  = "clinic.notification.requested.v1"
	TopicStatusCommand = "clinic.appointment.status-command.v1"
)

// Event is one row of outbox_events, published later by Publisher.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// NewEvent marshals payload as JSON.
func NewEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}

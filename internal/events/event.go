package events

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys for appointment lifecycle events.
const (
	TopicCreated     = "appointment.created"
	TopicRescheduled = "appointment.rescheduled"
	TopicCancelled   = "appointment.cancelled"
	TopicCompleted   = "appointment.completed"
	TopicMissed      = "appointment.missed"
)

// Event is the payload published for every lifecycle transition. Fields that do
// not apply to a given topic are omitted from the JSON.
type Event struct {
	ID            uuid.UUID `json:"eventId"`
	Type          string    `json:"eventType"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	DoctorID      uuid.UUID `json:"doctorId"`
	PatientID     uuid.UUID `json:"patientId"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Timestamp     string    `json:"timestamp"`

	CancelledBy           *uuid.UUID `json:"cancelledBy,omitempty"`
	CancelledByRole       string     `json:"cancelledByRole,omitempty"`
	Reason                string     `json:"reason,omitempty"`
	OldDate               string     `json:"oldDate,omitempty"`
	OldTime               string     `json:"oldTime,omitempty"`
	NewDate               string     `json:"newDate,omitempty"`
	NewTime               string     `json:"newTime,omitempty"`
	NewAppointmentID      *uuid.UUID `json:"newAppointmentId,omitempty"`
	OriginalAppointmentID *uuid.UUID `json:"originalAppointmentId,omitempty"`
	MarkedBy              *uuid.UUID `json:"markedBy,omitempty"`
}

// New stamps an event id and an RFC3339 timestamp.
func New(topic string, at time.Time) Event {
	return Event{
		ID:        uuid.New(),
		Type:      topic,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

// Channel is the pub/sub channel an event of topic is sent on.
func Channel(exchange, topic string) string {
	return exchange + "." + topic
}

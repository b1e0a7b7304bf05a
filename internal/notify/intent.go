package notify

import (
	"context"

	"github.com/google/uuid"
)

type Kind string

const (
	KindBooked        Kind = "appointment.booked"
	KindConfirmed     Kind = "appointment.confirmed"
	KindCheckedIn     Kind = "appointment.checked_in"
	KindLateCheckIn   Kind = "appointment.late_check_in"
	KindStarted       Kind = "appointment.started"
	KindCompleted     Kind = "appointment.completed"
	KindNoShow        Kind = "appointment.no_show"
	KindCancelled     Kind = "appointment.cancelled"
	KindAutoCancelled Kind = "appointment.auto_cancelled"
	KindSlotReleased  Kind = "appointment.slot_released"
	KindReminder      Kind = "appointment.reminder"
)

// Intent is a request to tell one user about an appointment event. State
// transitions emit intents; a Dispatcher delivers them after the state change
// has been committed.
type Intent struct {
	ID            uuid.UUID      `json:"id"`
	Kind          Kind           `json:"kind"`
	AppointmentID uuid.UUID      `json:"appointment_id"`
	UserID        uuid.UUID      `json:"user_id"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	Type          string         `json:"type"`
	ActionURL     string         `json:"action_url,omitempty"`
	Email         *Email         `json:"email,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Email asks the email sink to render templateKey with Context for the
// intent's user.
type Email struct {
	TemplateKey string         `json:"template_key"`
	Context     map[string]any `json:"context,omitempty"`
}

// Notifier accepts intents for asynchronous delivery. A returned error means
// the intents were not accepted; delivery failures are never reported back.
type Notifier interface {
	Notify(ctx context.Context, intents ...Intent) error
}

// Sink delivers one intent through one channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, in Intent) error
}

package appointment

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service and the
// reconciliation jobs. Soft-deleted appointments are invisible to every read.
type Repository interface {
	// Consultants and availability
	GetConsultantProfile(ctx context.Context, id uuid.UUID) (*ConsultantProfile, error)
	// ListActiveConsultants returns ACTIVE consultants sharing at least one of
	// specialties, or every ACTIVE consultant when specialties is empty.
	ListActiveConsultants(ctx context.Context, specialties []string) ([]ConsultantProfile, error)
	FindWindow(ctx context.Context, consultantID uuid.UUID, day time.Weekday, at TimeOfDay) (*AvailabilityWindow, error)
	LockWindow(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error)

	// Capacity and queue counts over [dayStart, dayEnd)
	CountActiveInSlot(ctx context.Context, windowID uuid.UUID, dayStart, dayEnd time.Time) (int, error)
	CountCheckedInBefore(ctx context.Context, id uuid.UUID, at, dayStart, dayEnd time.Time) (int, error)

	// Appointments
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) error
	// UpdateAppointment persists a only while the stored status still equals
	// expected, otherwise it returns ErrStaleAppointment.
	UpdateAppointment(ctx context.Context, a *Appointment, expected Status) error
	SoftDeleteAppointment(ctx context.Context, id uuid.UUID, at time.Time) error

	// Reconciliation
	// FindLateUnattended pages through late rows ordered by appointment date
	// then id, starting strictly after the cursor.
	FindLateUnattended(ctx context.Context, cutoff time.Time, after Cursor, limit int) ([]Appointment, error)
	FindUnpaidOnline(ctx context.Context, createdFrom, createdTo time.Time) ([]Appointment, error)
	// FindReminderCandidates returns reserving appointments dated in [from, to]
	// that were never reminded or were last reminded more than tierGap before
	// their appointment date.
	FindReminderCandidates(ctx context.Context, from, to time.Time, tierGap time.Duration) ([]Appointment, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error

	// WithTx runs fn inside one transaction. The Repository handed to fn is
	// bound to that transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}

// Cursor is a position in a scan ordered by appointment date then id. The
// zero value starts at the beginning.
type Cursor struct {
	Date time.Time
	ID   uuid.UUID
}

// Before reports whether the cursor position sorts ahead of a.
func (c Cursor) Before(a Appointment) bool {
	if !a.AppointmentDate.Equal(c.Date) {
		return a.AppointmentDate.After(c.Date)
	}
	return bytes.Compare(a.ID[:], c.ID[:]) > 0
}

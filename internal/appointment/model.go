package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusCheckedIn  Status = "CHECKED_IN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusNoShow     Status = "NO_SHOW"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Reserving reports whether an appointment in s occupies slot capacity.
func (s Status) Reserving() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Attended reports whether s implies a recorded check-in.
func (s Status) Attended() bool {
	return s == StatusCheckedIn || s == StatusInProgress || s == StatusCompleted
}

var AllStatuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusCheckedIn,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
	StatusNoShow,
}

type Location string

const (
	LocationOnline Location = "ONLINE"
	LocationOffice Location = "OFFICE"
)

type SelectionType string

const (
	SelectionManual    SelectionType = "MANUAL"
	SelectionAutomatic SelectionType = "AUTOMATIC"
)

type Kind string

const (
	KindConsultation Kind = "CONSULTATION"
	// KindSTITest bookings are validated upstream and start CONFIRMED.
	KindSTITest Kind = "STI_TEST"
)

type Role string

const (
	RoleCustomer   Role = "CUSTOMER"
	RoleConsultant Role = "CONSULTANT"
	RoleStaff      Role = "STAFF"
	RoleManager    Role = "MANAGER"
	RoleAdmin      Role = "ADMIN"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleCustomer, RoleConsultant, RoleStaff, RoleManager, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrBadRequest, s)
}

type ProfileStatus string

const (
	ProfileActive   ProfileStatus = "ACTIVE"
	ProfileInactive ProfileStatus = "INACTIVE"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// TimeOfDay is an offset from local midnight.
type TimeOfDay time.Duration

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// TimeOfDayOf returns the wall-clock offset of t in its own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second)
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

type ConsultantProfile struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Name        string
	Role        Role
	Specialties []string
	Status      ProfileStatus
}

type AvailabilityWindow struct {
	ID              uuid.UUID
	ConsultantID    uuid.UUID
	DayOfWeek       time.Weekday
	StartTime       TimeOfDay
	EndTime         TimeOfDay
	MaxAppointments int
	IsAvailable     bool
}

// Covers reports whether the window is open on day at t, bounds inclusive.
func (w AvailabilityWindow) Covers(day time.Weekday, t TimeOfDay) bool {
	return w.IsAvailable && w.DayOfWeek == day && w.StartTime <= t && t <= w.EndTime
}

type Payment struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Amount        decimal.Decimal
	Status        PaymentStatus
	CreatedAt     time.Time
}

type Appointment struct {
	ID                 uuid.UUID
	CustomerID         uuid.UUID
	ConsultantID       *uuid.UUID
	AvailabilityID     *uuid.UUID
	AppointmentDate    time.Time
	CheckInTime        *time.Time
	CheckOutTime       *time.Time
	ReminderSent       bool
	ReminderSentAt     *time.Time
	Status             Status
	FixedPrice         decimal.Decimal
	Location           Location
	SelectionType      SelectionType
	Kind               Kind
	ServiceIDs         []uuid.UUID
	Notes              string
	MeetingLink        *string
	CancellationReason *string
	CancelledBy        *uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

// Clone returns a deep copy so transitions never alias a stored row.
func (a Appointment) Clone() Appointment {
	c := a
	c.ConsultantID = clonePtr(a.ConsultantID)
	c.AvailabilityID = clonePtr(a.AvailabilityID)
	c.CheckInTime = clonePtr(a.CheckInTime)
	c.CheckOutTime = clonePtr(a.CheckOutTime)
	c.ReminderSentAt = clonePtr(a.ReminderSentAt)
	c.MeetingLink = clonePtr(a.MeetingLink)
	c.CancellationReason = clonePtr(a.CancellationReason)
	c.CancelledBy = clonePtr(a.CancelledBy)
	c.DeletedAt = clonePtr(a.DeletedAt)
	if a.ServiceIDs != nil {
		c.ServiceIDs = append([]uuid.UUID(nil), a.ServiceIDs...)
	}
	return c
}

// CheckInvariants verifies the status-dependent field rules.
func (a *Appointment) CheckInvariants() error {
	if (a.CheckInTime != nil) != a.Status.Attended() {
		return fmt.Errorf("appointment %s: check-in time inconsistent with status %s", a.ID, a.Status)
	}
	cancelled := a.Status == StatusCancelled || a.Status == StatusNoShow
	if (a.CancellationReason != nil) != cancelled {
		return fmt.Errorf("appointment %s: cancellation reason inconsistent with status %s", a.ID, a.Status)
	}
	return nil
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

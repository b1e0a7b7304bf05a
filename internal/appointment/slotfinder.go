package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SlotQuery struct {
	// ConsultantID selects the manual path when set.
	ConsultantID    *uuid.UUID
	Specialties     []string
	AppointmentDate time.Time
}

// Slot is a consultant window with spare capacity on a calendar date.
type Slot struct {
	Consultant ConsultantProfile
	Window     AvailabilityWindow
	Booked     int
	DayStart   time.Time
	DayEnd     time.Time
}

// SlotFinder locates a window with capacity. Its count is advisory; the
// booking path repeats it under the slot lock.
type SlotFinder struct {
	repo Repository
	loc  *time.Location
}

func NewSlotFinder(repo Repository, loc *time.Location) *SlotFinder {
	if loc == nil {
		loc = time.UTC
	}
	return &SlotFinder{repo: repo, loc: loc}
}

func (f *SlotFinder) Find(ctx context.Context, q SlotQuery) (*Slot, error) {
	local := q.AppointmentDate.In(f.loc)
	day := local.Weekday()
	at := TimeOfDayOf(local)
	dayStart, dayEnd := DayBounds(q.AppointmentDate, f.loc)

	if q.ConsultantID != nil {
		return f.findManual(ctx, *q.ConsultantID, day, at, dayStart, dayEnd)
	}
	return f.findAutomatic(ctx, q.Specialties, day, at, dayStart, dayEnd)
}

func (f *SlotFinder) findManual(ctx context.Context, consultantID uuid.UUID, day time.Weekday, at TimeOfDay, dayStart, dayEnd time.Time) (*Slot, error) {
	profile, err := f.repo.GetConsultantProfile(ctx, consultantID)
	if err != nil {
		if errors.Is(err, ErrConsultantNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load consultant: %w", err)
	}
	if profile.Role != RoleConsultant {
		return nil, fmt.Errorf("%w: user %s is not a consultant", ErrConsultantNotFound, profile.UserID)
	}

	window, err := f.repo.FindWindow(ctx, profile.ID, day, at)
	if err != nil {
		if errors.Is(err, ErrWindowNotFound) {
			return nil, ErrNoOpenSlot
		}
		return nil, fmt.Errorf("find window: %w", err)
	}

	booked, err := f.repo.CountActiveInSlot(ctx, window.ID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	if booked >= window.MaxAppointments {
		return nil, ErrFullyBooked
	}

	return &Slot{Consultant: *profile, Window: *window, Booked: booked, DayStart: dayStart, DayEnd: dayEnd}, nil
}

func (f *SlotFinder) findAutomatic(ctx context.Context, specialties []string, day time.Weekday, at TimeOfDay, dayStart, dayEnd time.Time) (*Slot, error) {
	candidates, err := f.repo.ListActiveConsultants(ctx, specialties)
	if err != nil {
		return nil, fmt.Errorf("list consultants: %w", err)
	}

	sawWindow := false
	for _, c := range candidates {
		window, err := f.repo.FindWindow(ctx, c.ID, day, at)
		if errors.Is(err, ErrWindowNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find window: %w", err)
		}
		sawWindow = true

		booked, err := f.repo.CountActiveInSlot(ctx, window.ID, dayStart, dayEnd)
		if err != nil {
			return nil, err
		}
		if booked < window.MaxAppointments {
			return &Slot{Consultant: c, Window: *window, Booked: booked, DayStart: dayStart, DayEnd: dayEnd}, nil
		}
	}

	if !sawWindow {
		return nil, ErrNoCandidate
	}
	return nil, ErrFullyBooked
}

// DayBounds returns [local midnight, next local midnight) around t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

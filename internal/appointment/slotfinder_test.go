package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUsesClinicLocation(t *testing.T) {
	repo := NewMemoryRepository()
	c := ConsultantProfile{ID: uuid.New(), UserID: uuid.New(), Role: RoleConsultant, Status: ProfileActive}
	repo.AddConsultant(c)
	w := AvailabilityWindow{
		ID:              uuid.New(),
		ConsultantID:    c.ID,
		DayOfWeek:       time.Tuesday,
		StartTime:       NewTimeOfDay(8, 0),
		EndTime:         NewTimeOfDay(11, 30),
		MaxAppointments: 1,
		IsAvailable:     true,
	}
	repo.AddWindow(w)

	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	require.NoError(t, err)
	finder := NewSlotFinder(repo, loc)

	// Monday 20:00 UTC is Tuesday 03:00 in the clinic: outside the window.
	_, err = finder.Find(context.Background(), SlotQuery{ConsultantID: &c.ID, AppointmentDate: time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC)})
	assert.ErrorIs(t, err, ErrNoOpenSlot)

	// Tuesday 02:00 UTC is Tuesday 09:00 in the clinic.
	when := time.Date(2026, 10, 20, 2, 0, 0, 0, time.UTC)
	slot, err := finder.Find(context.Background(), SlotQuery{ConsultantID: &c.ID, AppointmentDate: when})
	require.NoError(t, err)
	assert.Equal(t, w.ID, slot.Window.ID)
	assert.Equal(t, time.Date(2026, 10, 20, 0, 0, 0, 0, loc), slot.DayStart)
	assert.Equal(t, 24*time.Hour, slot.DayEnd.Sub(slot.DayStart))
}

func TestFindIgnoresUnavailableAndInactive(t *testing.T) {
	repo := NewMemoryRepository()
	inactive := ConsultantProfile{ID: uuid.New(), UserID: uuid.New(), Role: RoleConsultant, Status: ProfileInactive, Specialties: []string{"hiv"}}
	closed := ConsultantProfile{ID: uuid.New(), UserID: uuid.New(), Role: RoleConsultant, Status: ProfileActive, Specialties: []string{"hiv"}}
	repo.AddConsultant(inactive)
	repo.AddConsultant(closed)
	for _, c := range []ConsultantProfile{inactive, closed} {
		repo.AddWindow(AvailabilityWindow{
			ID:              uuid.New(),
			ConsultantID:    c.ID,
			DayOfWeek:       time.Monday,
			StartTime:       NewTimeOfDay(9, 0),
			EndTime:         NewTimeOfDay(17, 0),
			MaxAppointments: 5,
			IsAvailable:     c.ID == inactive.ID,
		})
	}

	finder := NewSlotFinder(repo, time.UTC)
	_, err := finder.Find(context.Background(), SlotQuery{Specialties: []string{"hiv"}, AppointmentDate: at(10, 0)})
	assert.ErrorIs(t, err, ErrNoCandidate)

	_, err = finder.Find(context.Background(), SlotQuery{Specialties: []string{"cardiology"}, AppointmentDate: at(10, 0)})
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestFindCountsOnlyReservingRowsOnThatDate(t *testing.T) {
	f := newFixture(t)
	windowID := f.window.ID
	next := at(10, 0).AddDate(0, 0, 7)

	for _, a := range []Appointment{
		{Status: StatusPending, AppointmentDate: at(9, 0)},
		{Status: StatusCancelled, AppointmentDate: at(9, 30)},
		{Status: StatusCheckedIn, AppointmentDate: at(11, 0)},
		{Status: StatusConfirmed, AppointmentDate: next},
	} {
		a.ID = uuid.New()
		a.AvailabilityID = &windowID
		f.repo.Put(a)
	}

	slot, err := NewSlotFinder(f.repo, time.UTC).Find(context.Background(), SlotQuery{ConsultantID: &f.consultant.ID, AppointmentDate: at(12, 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, slot.Booked)
}

package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/consultation-scheduling/internal/catalog"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/notify"
	redisclient "github.com/hackgods/consultation-scheduling/internal/redis"
)

// Monday 19 October 2026, 08:00 UTC.
var baseNow = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu      sync.Mutex
	intents []notify.Intent
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, intents ...notify.Intent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.intents = append(n.intents, intents...)
	return nil
}

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Kind, len(n.intents))
	for i, in := range n.intents {
		out[i] = in.Kind
	}
	return out
}

type fixture struct {
	repo     *MemoryRepository
	catalog  *catalog.MemoryReader
	notifier *recordingNotifier
	svc      *Service
	now      time.Time

	consultant ConsultantProfile
	window     AvailabilityWindow
	service    catalog.Service
	staff      Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:     NewMemoryRepository(),
		catalog:  catalog.NewMemoryReader(),
		notifier: &recordingNotifier{},
		now:      baseNow,
		staff:    Actor{ID: uuid.New(), Role: RoleStaff},
	}
	f.repo.SetClock(func() time.Time { return f.now })

	f.consultant = f.addConsultant("Dr. Ana Reyes", []string{"sexual-health"})
	f.window = f.addWindow(f.consultant.ID, time.Monday, 9, 17, 3)
	f.service = catalog.Service{
		ID:              uuid.New(),
		Name:            "STI counselling",
		DurationMinutes: 30,
		Price:           decimal.RequireFromString("150000"),
		Category:        catalog.CategoryConsultation,
		Specialties:     []string{"sexual-health"},
	}
	f.catalog.Put(f.service)

	cfg := config.Config{
		Location:       time.UTC,
		MeetingBaseURL: "https://meet.test",
		ActionBaseURL:  "/appointments",
	}
	f.svc = NewService(f.repo, f.catalog, redisclient.NewLocalLocker(2*time.Second), f.notifier, cfg,
		WithClock(func() time.Time { return f.now }),
		WithRoomAssigner(NewRoomAssigner(42)),
	)
	return f
}

func (f *fixture) addConsultant(name string, specialties []string) ConsultantProfile {
	c := ConsultantProfile{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Name:        name,
		Role:        RoleConsultant,
		Specialties: specialties,
		Status:      ProfileActive,
	}
	f.repo.AddConsultant(c)
	return c
}

func (f *fixture) addWindow(consultantID uuid.UUID, day time.Weekday, from, to, capacity int) AvailabilityWindow {
	w := AvailabilityWindow{
		ID:              uuid.New(),
		ConsultantID:    consultantID,
		DayOfWeek:       day,
		StartTime:       NewTimeOfDay(from, 0),
		EndTime:         NewTimeOfDay(to, 0),
		MaxAppointments: capacity,
		IsAvailable:     true,
	}
	f.repo.AddWindow(w)
	return w
}

// at returns baseNow's date at hh:mm UTC.
func at(hour, minute int) time.Time {
	return time.Date(baseNow.Year(), baseNow.Month(), baseNow.Day(), hour, minute, 0, 0, time.UTC)
}

func (f *fixture) consultantActor() Actor {
	return Actor{ID: f.consultant.UserID, Role: RoleConsultant}
}

// book creates a manual appointment at 10:00 and fails the test on error.
func (f *fixture) book(t *testing.T) *Appointment {
	t.Helper()
	id := f.consultant.ID
	appt, err := f.svc.Book(context.Background(), BookingRequest{
		CustomerID:      uuid.New(),
		ConsultantID:    &id,
		ServiceIDs:      []uuid.UUID{f.service.ID},
		AppointmentDate: at(10, 0),
		Location:        LocationOffice,
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return appt
}

func (f *fixture) stored(t *testing.T, id uuid.UUID) *Appointment {
	t.Helper()
	a, err := f.repo.GetAppointmentByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	return a
}

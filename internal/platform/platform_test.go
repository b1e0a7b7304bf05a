package platform

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/catalog"
	"github.com/hackgods/consultation-scheduling/internal/config"
)

func TestGenerateDemoIsReproducible(t *testing.T) {
	a := GenerateDemo(7, DemoSizes{Consultants: 3, Customers: 4})
	b := GenerateDemo(7, DemoSizes{Consultants: 3, Customers: 4})

	assert.Equal(t, a, b)
	assert.Len(t, a.Consultants, 3)
	assert.Len(t, a.Customers, 4)
	assert.Len(t, a.Windows, 3*5*2)

	for _, c := range a.Consultants {
		assert.NotEmpty(t, c.Specialties)
		assert.LessOrEqual(t, len(c.Specialties), 3)
	}
	for _, w := range a.Windows {
		assert.Less(t, w.StartTime, w.EndTime)
		assert.GreaterOrEqual(t, w.MaxAppointments, 3)
	}
}

func TestDemoLoadMemoryIsBookable(t *testing.T) {
	demo := GenerateDemo(11, DemoSizes{Consultants: 2, Customers: 1})
	repo := appointment.NewMemoryRepository()
	reader := catalog.NewMemoryReader()
	demo.LoadMemory(repo, reader)

	ids := make([]uuid.UUID, len(demo.Services))
	for i, s := range demo.Services {
		ids[i] = s.ID
	}
	services, err := reader.GetServices(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, services, len(demo.Services))

	monday := time.Now().UTC().AddDate(0, 0, 1)
	for monday.Weekday() != time.Monday {
		monday = monday.AddDate(0, 0, 1)
	}
	date := time.Date(monday.Year(), monday.Month(), monday.Day(), 9, 0, 0, 0, time.UTC)

	slot, err := appointment.NewSlotFinder(repo, time.UTC).Find(context.Background(), appointment.SlotQuery{
		ConsultantID:    &demo.Consultants[0].ID,
		AppointmentDate: date,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, slot.Booked)
}

func TestOpenMemoryStack(t *testing.T) {
	cfg := config.Config{
		StorageDriver:   config.StorageDriverMemory,
		Location:        time.UTC,
		LockWait:        time.Second,
		ShutdownTimeout: time.Second,
		NotifyWorkers:   1,
		NotifyQueueSize: 8,
	}

	stack, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	assert.Nil(t, stack.Pool)
	assert.Nil(t, stack.Redis)
	assert.IsType(t, &appointment.MemoryRepository{}, stack.Repo)
	assert.NotNil(t, stack.NewService())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stack.Close(ctx)
	assert.Error(t, stack.Dispatcher.Notify(ctx))
}

func TestMemoryStackRunnerSweepsServedRows(t *testing.T) {
	cfg := config.Config{
		StorageDriver:      config.StorageDriverMemory,
		Location:           time.UTC,
		LockWait:           time.Second,
		ShutdownTimeout:    time.Second,
		NotifyWorkers:      1,
		NotifyQueueSize:    8,
		JobTimeout:         time.Second,
		LateCancelInterval: time.Hour,
		ReminderInterval:   time.Hour,
		UnpaidSweepAt:      5 * time.Minute,
	}

	stack, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		stack.Close(ctx)
	}()

	repo := stack.Repo.(*appointment.MemoryRepository)
	late := appointment.Appointment{
		ID:              uuid.New(),
		CustomerID:      uuid.New(),
		Status:          appointment.StatusConfirmed,
		AppointmentDate: time.Now().Add(-2 * time.Hour),
		Location:        appointment.LocationOffice,
	}
	repo.Put(late)

	svc := stack.NewService()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		stack.NewRunner(svc).Run(ctx)
	}()

	require.Eventually(t, func() bool {
		a, err := svc.Get(context.Background(), late.ID)
		return err == nil && a.Status == appointment.StatusCancelled
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

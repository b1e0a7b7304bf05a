package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/catalog"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/notify"
	redisclient "github.com/hackgods/consultation-scheduling/internal/redis"
)

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

func (n *recordingNotifier) count(kind notify.Kind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, in := range n.intents {
		if in.Kind == kind {
			c++
		}
	}
	return c
}

type env struct {
	repo     *appointment.MemoryRepository
	svc      *appointment.Service
	notifier *recordingNotifier
	now      time.Time
}

func newEnv(now time.Time) *env {
	e := &env{repo: appointment.NewMemoryRepository(), notifier: &recordingNotifier{}, now: now}
	e.repo.SetClock(func() time.Time { return e.now })
	e.svc = appointment.NewService(e.repo, catalog.NewMemoryReader(), redisclient.NewLocalLocker(time.Second), e.notifier,
		config.Config{Location: time.UTC, ActionBaseURL: "/appointments"},
		appointment.WithClock(func() time.Time { return e.now }),
	)
	return e
}

func (e *env) put(a appointment.Appointment) uuid.UUID {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CustomerID == uuid.Nil {
		a.CustomerID = uuid.New()
	}
	if a.Location == "" {
		a.Location = appointment.LocationOffice
	}
	e.repo.Put(a)
	return a.ID
}

func (e *env) status(t *testing.T, id uuid.UUID) appointment.Status {
	t.Helper()
	a, err := e.repo.GetAppointmentByID(context.Background(), id)
	require.NoError(t, err)
	return a.Status
}

func TestAutoCancelLate(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	e := newEnv(now)
	checkIn := now.Add(-70 * time.Minute)

	late := e.put(appointment.Appointment{Status: appointment.StatusPending, AppointmentDate: now.Add(-61 * time.Minute)})
	lateConfirmed := e.put(appointment.Appointment{Status: appointment.StatusConfirmed, AppointmentDate: now.Add(-3 * time.Hour)})
	withinGrace := e.put(appointment.Appointment{Status: appointment.StatusPending, AppointmentDate: now.Add(-59 * time.Minute)})
	attended := e.put(appointment.Appointment{Status: appointment.StatusCheckedIn, AppointmentDate: now.Add(-2 * time.Hour), CheckInTime: &checkIn})

	job := NewAutoCancelLate(e.repo, e.svc)
	rep, err := job.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Scanned)
	assert.Equal(t, 2, rep.Processed)

	assert.Equal(t, appointment.StatusCancelled, e.status(t, late))
	assert.Equal(t, appointment.StatusCancelled, e.status(t, lateConfirmed))
	assert.Equal(t, appointment.StatusPending, e.status(t, withinGrace))
	assert.Equal(t, appointment.StatusCheckedIn, e.status(t, attended))

	a, err := e.repo.GetAppointmentByID(context.Background(), late)
	require.NoError(t, err)
	assert.Equal(t, ReasonLate, *a.CancellationReason)

	rep, err = job.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, rep.Scanned)
	assert.Zero(t, rep.Processed)
}

// stuckCanceller fails every row in stuck and delegates the rest.
type stuckCanceller struct {
	next  Canceller
	stuck map[uuid.UUID]bool
}

func (c stuckCanceller) AutoCancel(ctx context.Context, id uuid.UUID, expect appointment.Status, reason string) (*appointment.Appointment, error) {
	if c.stuck[id] {
		return nil, errors.New("connection reset")
	}
	return c.next.AutoCancel(ctx, id, expect, reason)
}

func TestAutoCancelLateReachesRowsBehindFailures(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	e := newEnv(now)

	stuck := make(map[uuid.UUID]bool)
	for i := 0; i < 3; i++ {
		id := e.put(appointment.Appointment{Status: appointment.StatusPending, AppointmentDate: now.Add(-time.Duration(5-i) * time.Hour)})
		stuck[id] = true
	}
	newest := e.put(appointment.Appointment{Status: appointment.StatusConfirmed, AppointmentDate: now.Add(-90 * time.Minute)})

	job := NewAutoCancelLate(e.repo, stuckCanceller{next: e.svc, stuck: stuck})
	job.batch = 2

	for run := 0; run < 2; run++ {
		rep, err := job.Run(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, 3, rep.Failed)
		if run == 0 {
			assert.Equal(t, 4, rep.Scanned)
			assert.Equal(t, 1, rep.Processed)
		}
	}
	assert.Equal(t, appointment.StatusCancelled, e.status(t, newest))
	for id := range stuck {
		assert.Equal(t, appointment.StatusPending, e.status(t, id))
	}
}

func TestAutoCancelUnpaid(t *testing.T) {
	now := time.Date(2026, 10, 20, 0, 5, 0, 0, time.UTC)
	yesterday := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	price := decimal.NewFromInt(100)
	e := newEnv(now)

	online := func(status appointment.Status, created time.Time) appointment.Appointment {
		return appointment.Appointment{
			Status:          status,
			Location:        appointment.LocationOnline,
			FixedPrice:      price,
			CreatedAt:       created,
			AppointmentDate: now.Add(48 * time.Hour),
		}
	}

	partial := e.put(online(appointment.StatusPending, yesterday))
	e.repo.AddPayment(appointment.Payment{AppointmentID: partial, Amount: decimal.NewFromInt(40), Status: appointment.PaymentCompleted})

	paid := e.put(online(appointment.StatusPending, yesterday))
	e.repo.AddPayment(appointment.Payment{AppointmentID: paid, Amount: decimal.NewFromInt(60), Status: appointment.PaymentCompleted})
	e.repo.AddPayment(appointment.Payment{AppointmentID: paid, Amount: decimal.NewFromInt(40), Status: appointment.PaymentCompleted})

	pendingPayment := e.put(online(appointment.StatusPending, yesterday))
	e.repo.AddPayment(appointment.Payment{AppointmentID: pendingPayment, Amount: price, Status: appointment.PaymentPending})

	office := online(appointment.StatusPending, yesterday)
	office.Location = appointment.LocationOffice
	officeID := e.put(office)

	today := e.put(online(appointment.StatusPending, now.Add(-time.Minute)))
	twoDaysAgo := e.put(online(appointment.StatusPending, yesterday.AddDate(0, 0, -1)))
	confirmed := e.put(online(appointment.StatusConfirmed, yesterday))

	job := NewAutoCancelUnpaid(e.repo, e.svc, time.UTC)
	rep, err := job.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Processed)

	assert.Equal(t, appointment.StatusCancelled, e.status(t, partial))
	assert.Equal(t, appointment.StatusCancelled, e.status(t, pendingPayment))
	for _, id := range []uuid.UUID{paid, officeID, today, twoDaysAgo} {
		assert.Equal(t, appointment.StatusPending, e.status(t, id))
	}
	assert.Equal(t, appointment.StatusConfirmed, e.status(t, confirmed))

	a, err := e.repo.GetAppointmentByID(context.Background(), partial)
	require.NoError(t, err)
	assert.Equal(t, ReasonUnpaid, *a.CancellationReason)
	assert.Equal(t, 2, e.notifier.count(notify.KindAutoCancelled))
}

func TestRemindersAreIdempotentPerTier(t *testing.T) {
	appt := time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC)
	e := newEnv(appt.Add(-24*time.Hour - 2*time.Minute))
	id := e.put(appointment.Appointment{Status: appointment.StatusConfirmed, AppointmentDate: appt})
	farAway := e.put(appointment.Appointment{Status: appointment.StatusPending, AppointmentDate: appt.Add(6 * time.Hour)})
	cancelledReason := "changed plans"
	e.put(appointment.Appointment{Status: appointment.StatusCancelled, AppointmentDate: appt, CancellationReason: &cancelledReason})

	job := NewReminders(e.repo, e.notifier, time.UTC, "/appointments")

	rep, err := job.Run(context.Background(), e.now)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Processed)
	assert.Equal(t, 1, e.notifier.count(notify.KindReminder))

	rep, err = job.Run(context.Background(), e.now)
	require.NoError(t, err)
	assert.Zero(t, rep.Processed)
	assert.Equal(t, 1, e.notifier.count(notify.KindReminder))

	// Next tick of the 24h tier still sees the row in its window but skips it.
	rep, err = job.Run(context.Background(), e.now.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, rep.Processed)

	// The 2h tier fires once.
	twoHours := appt.Add(-2 * time.Hour)
	rep, err = job.Run(context.Background(), twoHours)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Processed)
	rep, err = job.Run(context.Background(), twoHours)
	require.NoError(t, err)
	assert.Zero(t, rep.Processed)

	// And the 30m tier once more.
	rep, err = job.Run(context.Background(), appt.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Processed)
	assert.Equal(t, 3, e.notifier.count(notify.KindReminder))

	a, err := e.repo.GetAppointmentByID(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, a.ReminderSent)
	assert.Equal(t, appt.Add(-30*time.Minute), *a.ReminderSentAt)

	far, err := e.repo.GetAppointmentByID(context.Background(), farAway)
	require.NoError(t, err)
	assert.False(t, far.ReminderSent)
}

func TestRemindersLeaveRowUnmarkedWhenEnqueueFails(t *testing.T) {
	appt := time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC)
	e := newEnv(appt.Add(-30 * time.Minute))
	id := e.put(appointment.Appointment{Status: appointment.StatusPending, AppointmentDate: appt})
	e.notifier.err = notify.ErrQueueFull

	job := NewReminders(e.repo, e.notifier, time.UTC, "/appointments")
	rep, err := job.Run(context.Background(), e.now)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)

	a, err := e.repo.GetAppointmentByID(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, a.ReminderSent)
	assert.Nil(t, a.ReminderSentAt)

	e.notifier.err = nil
	rep, err = job.Run(context.Background(), e.now)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Processed)
}

func TestRunnerSkipsWhenJobLocked(t *testing.T) {
	locker := redisclient.NewLocalLocker(time.Second)
	r := NewRunner(locker, RunnerConfig{JobTimeout: time.Second})
	job := &countingJob{name: "busy"}

	err := locker.WithJobLock(context.Background(), redisclient.JobKey("busy"), func(ctx context.Context) error {
		rep, err := r.RunOnce(ctx, job)
		assert.NoError(t, err)
		assert.Equal(t, "busy", rep.Job)
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, job.runs)

	_, err = r.RunOnce(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, job.runs)

	job.err = errors.New("database unavailable")
	_, err = r.RunOnce(context.Background(), job)
	assert.Error(t, err)
}

func TestRunnerEveryRunsAtStartupAndStops(t *testing.T) {
	r := NewRunner(redisclient.NewLocalLocker(time.Second), RunnerConfig{})
	job := &countingJob{name: "tick"}
	r.Every(job, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return job.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestNextDaily(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	require.NoError(t, err)
	offset := 5 * time.Minute

	before := time.Date(2026, 10, 19, 0, 1, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 5, 0, 0, loc), NextDaily(before, offset, loc))

	exactly := time.Date(2026, 10, 19, 0, 5, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 10, 20, 0, 5, 0, 0, loc), NextDaily(exactly, offset, loc))

	// 18:00 UTC is already the next clinic day.
	utcEvening := time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 21, 0, 5, 0, 0, loc), NextDaily(utcEvening, offset, loc))
}

type countingJob struct {
	name string
	err  error
	mu   sync.Mutex
	runs int
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context, time.Time) (Report, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs++
	return Report{Job: j.name}, j.err
}

func (j *countingJob) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

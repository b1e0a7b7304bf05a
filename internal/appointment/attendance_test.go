package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consultation-scheduling/internal/catalog"
	"github.com/hackgods/consultation-scheduling/internal/notify"
)

func TestCheckInEstimatesWaitAndRoom(t *testing.T) {
	f := newFixture(t)
	first := f.book(t)
	second := f.book(t)

	arrive := at(9, 50)
	res, err := f.svc.CheckIn(context.Background(), first.ID, CheckInRequest{Actor: f.staff, At: &arrive})
	require.NoError(t, err)

	assert.Equal(t, StatusCheckedIn, res.Appointment.Status)
	require.NotNil(t, res.Appointment.CheckInTime)
	assert.Equal(t, arrive, *res.Appointment.CheckInTime)
	assert.Equal(t, 15, res.EstimatedWaitMinutes)
	assert.Regexp(t, `^C\d{3}$`, res.Room)

	later := at(9, 55)
	res, err = f.svc.CheckIn(context.Background(), second.ID, CheckInRequest{Actor: f.consultantActor(), At: &later})
	require.NoError(t, err)
	assert.Equal(t, 15+1*f.service.DurationMinutes, res.EstimatedWaitMinutes)

	assert.Contains(t, f.notifier.kinds(), notify.KindCheckedIn)

	_, err = f.svc.CheckIn(context.Background(), first.ID, CheckInRequest{Actor: f.staff})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestCheckInSwapsActualServices(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	lab := catalog.Service{
		ID:              uuid.New(),
		Name:            "Rapid HIV test",
		DurationMinutes: 5,
		Price:           decimal.NewFromInt(90000),
		Category:        "testing",
	}
	f.catalog.Put(lab)

	res, err := f.svc.CheckIn(context.Background(), appt.ID, CheckInRequest{
		Actor:      f.staff,
		ServiceIDs: []uuid.UUID{lab.ID},
	})
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{lab.ID}, f.stored(t, appt.ID).ServiceIDs)
	assert.Regexp(t, `^G\d{3}$`, res.Room)
	assert.Equal(t, 15, res.EstimatedWaitMinutes)
	assert.Contains(t, res.Appointment.Notes, "Rapid HIV test")

	other := f.book(t)
	_, err = f.svc.CheckIn(context.Background(), other.ID, CheckInRequest{
		Actor:      f.staff,
		ServiceIDs: []uuid.UUID{uuid.New()},
	})
	assert.ErrorIs(t, err, ErrUnknownService)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, StatusPending, f.stored(t, other.ID).Status)

	arrivedLate := at(10, 10)
	_, err = f.svc.LateCheckIn(context.Background(), other.ID, LateCheckInRequest{
		Actor:       f.staff,
		ArrivalTime: &arrivedLate,
		ServiceIDs:  []uuid.UUID{uuid.New()},
	})
	assert.ErrorIs(t, err, ErrUnknownService)
	assert.Nil(t, f.stored(t, other.ID).CheckInTime)

	arrival := at(10, 20)
	late, err := f.svc.LateCheckIn(context.Background(), other.ID, LateCheckInRequest{
		Actor:       f.staff,
		ArrivalTime: &arrival,
		ServiceIDs:  []uuid.UUID{lab.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{lab.ID}, f.stored(t, other.ID).ServiceIDs)
	assert.Regexp(t, `^G\d{3}$`, late.Room)
}

func TestCheckInRequiresAttendanceRole(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	for _, actor := range []Actor{
		{ID: appt.CustomerID, Role: RoleCustomer},
		{ID: uuid.New(), Role: RoleConsultant},
	} {
		_, err := f.svc.CheckIn(context.Background(), appt.ID, CheckInRequest{Actor: actor})
		assert.ErrorIs(t, err, ErrForbidden, actor.Role)
	}
	assert.Equal(t, StatusPending, f.stored(t, appt.ID).Status)
}

func TestLateCheckInBoundary(t *testing.T) {
	tests := []struct {
		name     string
		arrival  time.Time
		late     int
		warnings []string
		tooLate  bool
	}{
		{name: "early arrival", arrival: at(9, 45), late: 0},
		{name: "on the half hour", arrival: at(10, 30), late: 30},
		{name: "shortened", arrival: at(10, 31), late: 31, warnings: []string{WarningSessionShortened}},
		{name: "auto-cancel risk", arrival: at(10, 46), late: 46, warnings: []string{WarningSessionShortened, WarningAutoCancelRisk}},
		{name: "exactly sixty", arrival: at(11, 0), late: 60, warnings: []string{WarningSessionShortened, WarningAutoCancelRisk}},
		{name: "sixty one", arrival: at(11, 1), tooLate: true},
		{name: "partial minute rounds down", arrival: at(11, 0).Add(59 * time.Second), late: 60, warnings: []string{WarningSessionShortened, WarningAutoCancelRisk}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			appt := f.book(t)
			arrival := tt.arrival

			res, err := f.svc.LateCheckIn(context.Background(), appt.ID, LateCheckInRequest{Actor: f.staff, ArrivalTime: &arrival})
			if tt.tooLate {
				assert.ErrorIs(t, err, ErrTooLate)
				assert.ErrorIs(t, err, ErrBadRequest)
				stored := f.stored(t, appt.ID)
				assert.Equal(t, StatusPending, stored.Status)
				assert.Nil(t, stored.CheckInTime)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.late, res.LateMinutes)
			assert.Equal(t, tt.warnings, res.Warnings)
			assert.Equal(t, StatusCheckedIn, res.Appointment.Status)
			assert.Contains(t, res.Appointment.Notes, "late check-in")
		})
	}
}

func TestStartAndComplete(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	_, err := f.svc.Start(context.Background(), appt.ID, f.staff)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = f.svc.CheckIn(context.Background(), appt.ID, CheckInRequest{Actor: f.staff})
	require.NoError(t, err)

	started, err := f.svc.Start(context.Background(), appt.ID, f.consultantActor())
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)

	f.now = baseNow.Add(45 * time.Minute)
	done, err := f.svc.Complete(context.Background(), appt.ID, f.consultantActor())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CheckOutTime)
	assert.Equal(t, f.now, *done.CheckOutTime)
	assert.NotNil(t, done.CheckInTime)
}

func TestMarkNoShowRejectedOnCompleted(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	_, err := f.svc.CheckIn(context.Background(), appt.ID, CheckInRequest{Actor: f.staff})
	require.NoError(t, err)
	_, err = f.svc.Start(context.Background(), appt.ID, f.staff)
	require.NoError(t, err)
	_, err = f.svc.Complete(context.Background(), appt.ID, f.staff)
	require.NoError(t, err)

	before := f.stored(t, appt.ID)
	_, err = f.svc.MarkNoShow(context.Background(), appt.ID, NoShowRequest{Actor: f.staff, Reason: "did not attend"})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	after := f.stored(t, appt.ID)
	assert.Equal(t, StatusCompleted, after.Status)
	assert.Equal(t, before.Notes, after.Notes)
	assert.Nil(t, after.CancellationReason)
}

func TestMarkNoShowReleasesSlot(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)
	f.now = at(11, 0)

	res, err := f.svc.MarkNoShow(context.Background(), appt.ID, NoShowRequest{
		Actor:  f.staff,
		Reason: "did not attend",
		ContactAttempts: []ContactAttempt{
			{Method: "phone", At: at(10, 15), Outcome: "no answer"},
			{Method: "sms", At: at(10, 20), Outcome: "delivered"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusNoShow, res.Status)
	require.NotNil(t, res.CancellationReason)
	assert.Equal(t, "did not attend", *res.CancellationReason)
	assert.Contains(t, res.Notes, "contact via phone")
	assert.Contains(t, res.Notes, "no answer")
	assert.Contains(t, res.Notes, "contact via sms")

	var types []string
	for _, ev := range f.repo.Events() {
		types = append(types, ev.EventType)
	}
	assert.Contains(t, types, EventSlotReleased)
	assert.Contains(t, types, EventAppointmentNoShow)
	assert.Contains(t, f.notifier.kinds(), notify.KindSlotReleased)

	_, err = f.svc.Cancel(context.Background(), appt.ID, CancelRequest{Actor: f.staff})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestCancelClearsCheckIn(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	_, err := f.svc.CheckIn(context.Background(), appt.ID, CheckInRequest{Actor: f.staff})
	require.NoError(t, err)

	res, err := f.svc.Cancel(context.Background(), appt.ID, CancelRequest{Actor: f.staff, Reason: "feeling unwell"})
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, res.Status)
	assert.Nil(t, res.CheckInTime)
	assert.Contains(t, res.Notes, "voided by cancellation")
	require.NotNil(t, res.CancelledBy)
	assert.Equal(t, f.staff.ID, *res.CancelledBy)
	assert.NoError(t, f.stored(t, appt.ID).CheckInvariants())
}

func TestCancelPolicyForCustomers(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	_, err := f.svc.Cancel(context.Background(), appt.ID, CancelRequest{Actor: Actor{ID: uuid.New(), Role: RoleCustomer}})
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := f.svc.Cancel(context.Background(), appt.ID, CancelRequest{Actor: Actor{ID: appt.CustomerID, Role: RoleCustomer}})
	require.NoError(t, err)
	assert.Equal(t, "cancelled by customer", *res.CancellationReason)
}

func TestAutoCancelSkipsStaleRows(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	_, err := f.svc.Confirm(context.Background(), appt.ID, f.staff)
	require.NoError(t, err)

	_, err = f.svc.AutoCancel(context.Background(), appt.ID, StatusPending, "auto-cancelled: unpaid")
	assert.ErrorIs(t, err, ErrStaleAppointment)
	assert.Equal(t, StatusConfirmed, f.stored(t, appt.ID).Status)

	res, err := f.svc.AutoCancel(context.Background(), appt.ID, StatusConfirmed, "auto-cancelled: late")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Nil(t, res.CancelledBy)
	assert.Contains(t, f.notifier.kinds(), notify.KindAutoCancelled)
}

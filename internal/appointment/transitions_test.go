package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appointmentIn(status Status) Appointment {
	a := Appointment{
		ID:              uuid.New(),
		CustomerID:      uuid.New(),
		AppointmentDate: at(10, 0),
		Status:          status,
	}
	if status.Attended() {
		checkIn := at(9, 55)
		a.CheckInTime = &checkIn
	}
	if status == StatusCancelled || status == StatusNoShow {
		reason := "earlier"
		a.CancellationReason = &reason
	}
	return a
}

func TestTransitionClosure(t *testing.T) {
	allowed := map[Op][]Status{
		OpConfirm:     {StatusPending},
		OpCheckIn:     {StatusPending, StatusConfirmed},
		OpLateCheckIn: {StatusPending, StatusConfirmed},
		OpStart:       {StatusCheckedIn},
		OpComplete:    {StatusInProgress},
		OpNoShow:      {StatusPending, StatusConfirmed},
		OpCancel:      {StatusPending, StatusConfirmed, StatusCheckedIn, StatusInProgress},
		OpAutoCancel:  {StatusPending, StatusConfirmed},
	}

	for _, op := range Ops {
		for _, from := range AllStatuses {
			t.Run(string(op)+"/"+string(from), func(t *testing.T) {
				cur := appointmentIn(from)
				require.NoError(t, cur.CheckInvariants())

				next, err := Apply(cur, op, Change{At: at(10, 5), Reason: "because"})
				if !contains(allowed[op], from) {
					assert.ErrorIs(t, err, ErrInvalidStatusTransition)
					assert.ErrorIs(t, err, ErrBadRequest)
					assert.Equal(t, cur, next)
					return
				}

				require.NoError(t, err)
				assert.Equal(t, Target(op), next.Status)
				assert.NoError(t, next.CheckInvariants())
				assert.Equal(t, from, cur.Status, "input must not be mutated")
			})
		}
	}
}

func TestTerminalStatusesAreClosed(t *testing.T) {
	for _, s := range AllStatuses {
		if !s.Terminal() {
			continue
		}
		for _, op := range Ops {
			assert.False(t, CanTransition(op, s), "%s from %s", op, s)
		}
	}
}

func TestCheckInRequiresUnsetCheckInTime(t *testing.T) {
	a := appointmentIn(StatusConfirmed)
	earlier := at(9, 0)
	a.CheckInTime = &earlier

	_, err := Apply(a, OpCheckIn, Change{At: at(10, 0)})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = Apply(a, OpAutoCancel, Change{At: at(10, 0)})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestApplyDefaultsCancellationReason(t *testing.T) {
	next, err := Apply(appointmentIn(StatusPending), OpNoShow, Change{At: at(11, 0)})
	require.NoError(t, err)
	require.NotNil(t, next.CancellationReason)
	assert.Equal(t, "no-show", *next.CancellationReason)
}

func TestAppendNote(t *testing.T) {
	when := time.Date(2026, 10, 19, 3, 4, 5, 0, time.FixedZone("ICT", 7*3600))

	notes := AppendNote("", when, "first")
	assert.Equal(t, "[2026-10-18T20:04:05Z] first", notes)

	notes = AppendNote(notes, when, "  ")
	assert.Equal(t, "[2026-10-18T20:04:05Z] first", notes)

	notes = AppendNote(notes, when, "second")
	assert.Equal(t, "[2026-10-18T20:04:05Z] first\n[2026-10-18T20:04:05Z] second", notes)
}

func contains(list []Status, s Status) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

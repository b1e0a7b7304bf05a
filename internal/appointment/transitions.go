package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Op names an attendance operation.
type Op string

const (
	OpConfirm     Op = "confirm"
	OpCheckIn     Op = "check_in"
	OpLateCheckIn Op = "late_check_in"
	OpStart       Op = "start"
	OpComplete    Op = "complete"
	OpNoShow      Op = "no_show"
	OpCancel      Op = "cancel"
	OpAutoCancel  Op = "auto_cancel"
)

type rule struct {
	from []Status
	to   Status
	// unattended additionally requires checkInTime to be unset.
	unattended bool
}

var rules = map[Op]rule{
	OpConfirm:     {from: []Status{StatusPending}, to: StatusConfirmed},
	OpCheckIn:     {from: []Status{StatusPending, StatusConfirmed}, to: StatusCheckedIn, unattended: true},
	OpLateCheckIn: {from: []Status{StatusPending, StatusConfirmed}, to: StatusCheckedIn, unattended: true},
	OpStart:       {from: []Status{StatusCheckedIn}, to: StatusInProgress},
	OpComplete:    {from: []Status{StatusInProgress}, to: StatusCompleted},
	OpNoShow:      {from: []Status{StatusPending, StatusConfirmed}, to: StatusNoShow},
	OpCancel:      {from: []Status{StatusPending, StatusConfirmed, StatusCheckedIn, StatusInProgress}, to: StatusCancelled},
	OpAutoCancel:  {from: []Status{StatusPending, StatusConfirmed}, to: StatusCancelled, unattended: true},
}

// Ops lists every operation in a stable order.
var Ops = []Op{OpConfirm, OpCheckIn, OpLateCheckIn, OpStart, OpComplete, OpNoShow, OpCancel, OpAutoCancel}

// Target returns the status op moves an appointment to.
func Target(op Op) Status {
	return rules[op].to
}

// CanTransition reports whether op is allowed from status, ignoring
// check-in time guards.
func CanTransition(op Op, from Status) bool {
	r, ok := rules[op]
	if !ok {
		return false
	}
	for _, s := range r.from {
		if s == from {
			return true
		}
	}
	return false
}

// Allowed checks op against a's status and check-in time.
func Allowed(op Op, a *Appointment) error {
	if !CanTransition(op, a.Status) {
		return fmt.Errorf("%w: cannot %s appointment in status %s", ErrInvalidStatusTransition, op, a.Status)
	}
	if rules[op].unattended && a.CheckInTime != nil {
		return fmt.Errorf("%w: appointment already checked in", ErrInvalidStatusTransition)
	}
	return nil
}

// Change carries the inputs of one transition.
type Change struct {
	At     time.Time
	Reason string
	By     *uuid.UUID
	Note   string
}

// Apply returns a copy of a with op applied. a itself is never modified.
func Apply(a Appointment, op Op, ch Change) (Appointment, error) {
	if err := Allowed(op, &a); err != nil {
		return a, err
	}

	next := a.Clone()
	next.Status = Target(op)
	next.UpdatedAt = ch.At

	switch op {
	case OpCheckIn, OpLateCheckIn:
		at := ch.At
		next.CheckInTime = &at
	case OpComplete:
		at := ch.At
		next.CheckOutTime = &at
	case OpNoShow, OpCancel, OpAutoCancel:
		reason := ch.Reason
		if reason == "" {
			reason = defaultReason(op)
		}
		next.CancellationReason = &reason
		next.CancelledBy = clonePtr(ch.By)
		if next.CheckInTime != nil {
			next.Notes = AppendNote(next.Notes, ch.At, "check-in at "+next.CheckInTime.UTC().Format(time.RFC3339)+" voided by cancellation")
			next.CheckInTime = nil
			next.CheckOutTime = nil
		}
	}

	next.Notes = AppendNote(next.Notes, ch.At, ch.Note)

	if err := next.CheckInvariants(); err != nil {
		return a, err
	}
	return next, nil
}

func defaultReason(op Op) string {
	switch op {
	case OpNoShow:
		return "no-show"
	case OpAutoCancel:
		return "auto-cancelled"
	default:
		return "cancelled"
	}
}

// AppendNote adds one timestamped line to notes. Blank notes are ignored.
func AppendNote(notes string, at time.Time, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return notes
	}
	line := fmt.Sprintf("[%s] %s", at.UTC().Format(time.RFC3339), note)
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

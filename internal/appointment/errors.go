package appointment

import (
	"errors"
	"fmt"
)

// Error kinds. Every business error wraps exactly one of these so callers can
// map with errors.Is regardless of the specific cause.
var (
	ErrNotFound   = errors.New("not found")
	ErrBadRequest = errors.New("bad request")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
)

var (
	ErrAppointmentNotFound = fmt.Errorf("%w: appointment", ErrNotFound)
	ErrConsultantNotFound  = fmt.Errorf("%w: consultant", ErrNotFound)
	ErrWindowNotFound      = fmt.Errorf("%w: availability window", ErrNotFound)
	ErrServiceNotFound     = fmt.Errorf("%w: service", ErrNotFound)
	ErrNoCandidate         = fmt.Errorf("%w: no consultant has an open slot", ErrNotFound)

	ErrNoOpenSlot              = fmt.Errorf("%w: no open slot at the requested time", ErrBadRequest)
	ErrFullyBooked             = fmt.Errorf("%w: every matching slot is fully booked", ErrBadRequest)
	ErrMissingTarget           = fmt.Errorf("%w: consultant, services or specialties required", ErrBadRequest)
	ErrInvalidStatusTransition = fmt.Errorf("%w: invalid status transition", ErrBadRequest)
	ErrTooLate                 = fmt.Errorf("%w: arrived over 60 minutes late", ErrBadRequest)
	ErrUnknownService          = fmt.Errorf("%w: delivered services must all exist", ErrBadRequest)

	ErrSlotFilled       = fmt.Errorf("%w: slot filled while booking, retry", ErrConflict)
	ErrSlotBeingBooked  = fmt.Errorf("%w: slot is currently being booked, please retry", ErrConflict)
	ErrStaleAppointment = fmt.Errorf("%w: appointment changed concurrently", ErrConflict)
)

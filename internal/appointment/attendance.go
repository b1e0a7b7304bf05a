package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-scheduling/internal/catalog"
	"github.com/hackgods/consultation-scheduling/internal/notify"
)

const (
	maxLateMinutes      = 60
	shortenedAfter      = 30
	autoCancelRiskAfter = 45

	WarningSessionShortened = "session may be shortened"
	WarningAutoCancelRisk   = "risk of auto-cancel"
)

type CheckInRequest struct {
	Actor Actor
	// At defaults to the current time.
	At *time.Time
	// ServiceIDs, when set, replaces the booked services with the ones
	// actually delivered.
	ServiceIDs []uuid.UUID
	Note       string
}

type CheckInResult struct {
	Appointment          *Appointment
	EstimatedWaitMinutes int
	Room                 string
}

type LateCheckInRequest struct {
	Actor Actor
	// ArrivalTime defaults to the current time.
	ArrivalTime *time.Time
	// ServiceIDs, when set, replaces the booked services.
	ServiceIDs []uuid.UUID
	Note       string
}

type LateCheckInResult struct {
	CheckInResult
	LateMinutes int
	Warnings    []string
}

type ContactAttempt struct {
	Method  string
	At      time.Time
	Outcome string
}

type NoShowRequest struct {
	Actor           Actor
	Reason          string
	ContactAttempts []ContactAttempt
	Note            string
}

type CancelRequest struct {
	Actor  Actor
	Reason string
}

// CheckIn records the customer's arrival and estimates their wait.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID, req CheckInRequest) (*CheckInResult, error) {
	at := s.now()
	if req.At != nil {
		at = *req.At
	}

	var result CheckInResult
	res, err := s.mutate(ctx, id, mutation{
		op:        OpCheckIn,
		authorize: func(sub Subject) Decision { return CanManageAttendance(sub, req.Actor) },
		event:     EventAppointmentCheckedIn,
		apply: func(ctx context.Context, tx Repository, cur Appointment) (Appointment, error) {
			note := req.Note
			if note == "" {
				note = "checked in"
			}
			next, err := Apply(cur, OpCheckIn, Change{At: at, Note: note})
			if err != nil {
				return cur, err
			}
			services, err := s.swapServices(ctx, &next, req.ServiceIDs, at)
			if err != nil {
				return cur, err
			}
			result.EstimatedWaitMinutes, result.Room, err = s.derive(ctx, tx, &next, services)
			return next, err
		},
	})
	if err != nil {
		return nil, err
	}
	result.Appointment = res.appt

	content := fmt.Sprintf("You are checked in. Room %s, estimated wait %d minutes.", result.Room, result.EstimatedWaitMinutes)
	intents := []notify.Intent{s.customerIntent(notify.KindCheckedIn, res.appt, "Checked in", content, "")}
	if res.consultant != nil {
		intents = append(intents, s.consultantIntent(notify.KindCheckedIn, res.appt, res.consultant, "Customer checked in",
			fmt.Sprintf("Your %s appointment has checked in, room %s.", s.localTime(res.appt.AppointmentDate), result.Room)))
	}
	s.dispatch(ctx, intents...)
	return &result, nil
}

// LateCheckIn checks in a customer who arrived after the scheduled time.
// Arrivals over 60 minutes late are rejected without mutation.
func (s *Service) LateCheckIn(ctx context.Context, id uuid.UUID, req LateCheckInRequest) (*LateCheckInResult, error) {
	arrival := s.now()
	if req.ArrivalTime != nil {
		arrival = *req.ArrivalTime
	}

	var result LateCheckInResult
	res, err := s.mutate(ctx, id, mutation{
		op:        OpLateCheckIn,
		authorize: func(sub Subject) Decision { return CanManageAttendance(sub, req.Actor) },
		event:     EventAppointmentLateCheckIn,
		apply: func(ctx context.Context, tx Repository, cur Appointment) (Appointment, error) {
			if err := Allowed(OpLateCheckIn, &cur); err != nil {
				return cur, err
			}

			late := LateMinutes(cur.AppointmentDate, arrival)
			if late > maxLateMinutes {
				return cur, fmt.Errorf("%w: %d minutes late", ErrTooLate, late)
			}
			result.LateMinutes = late
			result.Warnings = LateWarnings(late)

			note := fmt.Sprintf("late check-in, %d minutes late", late)
			if len(result.Warnings) > 0 {
				note += " (" + strings.Join(result.Warnings, "; ") + ")"
			}
			if req.Note != "" {
				note += ": " + req.Note
			}

			next, err := Apply(cur, OpLateCheckIn, Change{At: arrival, Note: note})
			if err != nil {
				return cur, err
			}
			services, err := s.swapServices(ctx, &next, req.ServiceIDs, arrival)
			if err != nil {
				return cur, err
			}
			result.EstimatedWaitMinutes, result.Room, err = s.derive(ctx, tx, &next, services)
			return next, err
		},
	})
	if err != nil {
		return nil, err
	}
	result.Appointment = res.appt

	content := fmt.Sprintf("You checked in %d minutes late. Room %s, estimated wait %d minutes.", result.LateMinutes, result.Room, result.EstimatedWaitMinutes)
	if len(result.Warnings) > 0 {
		content += " Note: " + strings.Join(result.Warnings, ", ") + "."
	}
	intents := []notify.Intent{s.customerIntent(notify.KindLateCheckIn, res.appt, "Late check-in", content, "appointment_late_check_in")}
	if res.consultant != nil {
		intents = append(intents, s.consultantIntent(notify.KindLateCheckIn, res.appt, res.consultant, "Customer checked in late",
			fmt.Sprintf("Your %s appointment arrived %d minutes late.", s.localTime(res.appt.AppointmentDate), result.LateMinutes)))
	}
	s.dispatch(ctx, intents...)
	return &result, nil
}

// LateMinutes is the whole number of minutes arrival trails scheduled,
// clamped at zero.
func LateMinutes(scheduled, arrival time.Time) int {
	d := arrival.Sub(scheduled)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

func LateWarnings(lateMinutes int) []string {
	var warnings []string
	if lateMinutes > shortenedAfter {
		warnings = append(warnings, WarningSessionShortened)
	}
	if lateMinutes > autoCancelRiskAfter {
		warnings = append(warnings, WarningAutoCancelRisk)
	}
	return warnings
}

// Start moves a checked-in appointment into progress.
func (s *Service) Start(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	now := s.now()
	res, err := s.mutate(ctx, id, mutation{
		op:        OpStart,
		authorize: func(sub Subject) Decision { return CanManageAttendance(sub, actor) },
		event:     EventAppointmentStarted,
		apply: func(_ context.Context, _ Repository, cur Appointment) (Appointment, error) {
			return Apply(cur, OpStart, Change{At: now, Note: "session started"})
		},
	})
	if err != nil {
		return nil, err
	}
	return res.appt, nil
}

// Complete closes an in-progress appointment and records the check-out time.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	now := s.now()
	res, err := s.mutate(ctx, id, mutation{
		op:        OpComplete,
		authorize: func(sub Subject) Decision { return CanManageAttendance(sub, actor) },
		event:     EventAppointmentCompleted,
		apply: func(_ context.Context, _ Repository, cur Appointment) (Appointment, error) {
			return Apply(cur, OpComplete, Change{At: now, Note: "session completed"})
		},
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, s.customerIntent(notify.KindCompleted, res.appt, "Appointment completed",
		"Thank you for your visit.", "appointment_completed"))
	return res.appt, nil
}

// MarkNoShow records that the customer never arrived and releases the slot.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID, req NoShowRequest) (*Appointment, error) {
	now := s.now()
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "no-show"
	}

	res, err := s.mutate(ctx, id, mutation{
		op:        OpNoShow,
		authorize: func(sub Subject) Decision { return CanManageAttendance(sub, req.Actor) },
		event:     EventAppointmentNoShow,
		apply: func(ctx context.Context, tx Repository, cur Appointment) (Appointment, error) {
			next, err := Apply(cur, OpNoShow, Change{At: now, Reason: reason, By: &req.Actor.ID, Note: noShowNote(reason, req)})
			if err != nil {
				return cur, err
			}

			payload := map[string]any{"reason": reason}
			if cur.AvailabilityID != nil {
				payload["availability_id"] = cur.AvailabilityID.String()
			}
			if cur.ConsultantID != nil {
				payload["consultant_id"] = cur.ConsultantID.String()
			}
			return next, s.logEvent(ctx, tx, cur.ID, EventSlotReleased, payload)
		},
	})
	if err != nil {
		return nil, err
	}

	intents := []notify.Intent{s.customerIntent(notify.KindNoShow, res.appt, "Missed appointment",
		fmt.Sprintf("You missed your appointment on %s. Please book again.", s.localTime(res.appt.AppointmentDate)), "appointment_no_show")}
	if res.consultant != nil {
		intents = append(intents, s.consultantIntent(notify.KindSlotReleased, res.appt, res.consultant, "Slot released",
			fmt.Sprintf("The %s appointment was marked no-show; the slot is free again.", s.localTime(res.appt.AppointmentDate))))
	}
	s.dispatch(ctx, intents...)
	return res.appt, nil
}

func noShowNote(reason string, req NoShowRequest) string {
	var b strings.Builder
	b.WriteString("no-show: ")
	b.WriteString(reason)
	for _, c := range req.ContactAttempts {
		fmt.Fprintf(&b, "; contact via %s at %s: %s", c.Method, c.At.UTC().Format(time.RFC3339), c.Outcome)
	}
	if req.Note != "" {
		b.WriteString("; ")
		b.WriteString(req.Note)
	}
	return b.String()
}

// Cancel cancels an appointment on behalf of actor.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, req CancelRequest) (*Appointment, error) {
	now := s.now()
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled by " + strings.ToLower(string(req.Actor.Role))
	}

	res, err := s.mutate(ctx, id, mutation{
		op:        OpCancel,
		authorize: func(sub Subject) Decision { return CanCancel(sub, req.Actor) },
		event:     EventAppointmentCancelled,
		apply: func(_ context.Context, _ Repository, cur Appointment) (Appointment, error) {
			return Apply(cur, OpCancel, Change{At: now, Reason: reason, By: &req.Actor.ID, Note: "cancelled: " + reason})
		},
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, s.cancelledIntents(notify.KindCancelled, res.appt, res.consultant, reason)...)
	return res.appt, nil
}

// AutoCancel cancels an unattended appointment for a reconciliation job. The
// row is skipped with ErrStaleAppointment when its status moved away from
// expect since the job read it.
func (s *Service) AutoCancel(ctx context.Context, id uuid.UUID, expect Status, reason string) (*Appointment, error) {
	now := s.now()
	res, err := s.mutate(ctx, id, mutation{
		op:     OpAutoCancel,
		expect: expect,
		event:  EventAppointmentAutoCancelled,
		apply: func(_ context.Context, _ Repository, cur Appointment) (Appointment, error) {
			return Apply(cur, OpAutoCancel, Change{At: now, Reason: reason, Note: reason})
		},
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, s.cancelledIntents(notify.KindAutoCancelled, res.appt, res.consultant, reason)...)
	return res.appt, nil
}

func (s *Service) swapServices(ctx context.Context, next *Appointment, ids []uuid.UUID, at time.Time) ([]catalog.Service, error) {
	if len(ids) == 0 {
		return s.resolveServices(ctx, next.ServiceIDs)
	}
	services, err := s.resolveServices(ctx, ids)
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrUnknownService, err)
		}
		return nil, err
	}
	names := make([]string, len(services))
	for i, svc := range services {
		names[i] = svc.Name
	}
	next.ServiceIDs = append([]uuid.UUID(nil), ids...)
	next.Notes = AppendNote(next.Notes, at, "services updated at check-in: "+strings.Join(names, ", "))
	return services, nil
}

// derive computes the wait estimate and room for a freshly checked-in row.
func (s *Service) derive(ctx context.Context, tx Repository, a *Appointment, services []catalog.Service) (int, string, error) {
	dayStart, dayEnd := DayBounds(a.AppointmentDate, s.cfg.Location)
	queue, err := tx.CountCheckedInBefore(ctx, a.ID, *a.CheckInTime, dayStart, dayEnd)
	if err != nil {
		return 0, "", err
	}
	return EstimateWaitMinutes(queue, services), s.rooms.Assign(a.Kind, services), nil
}

package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/log"
	"github.com/hackgods/consultation-scheduling/internal/notify"
)

const (
	JobAutoCancelLate   = "auto-cancel-late"
	JobAutoCancelUnpaid = "auto-cancel-unpaid"
	JobReminders        = "reminders"

	ReasonLate   = "auto-cancelled: late"
	ReasonUnpaid = "auto-cancelled: unpaid"
)

// Job is one reconciliation sweep. Runs are idempotent: a second run at the
// same instant changes nothing.
type Job interface {
	Name() string
	Run(ctx context.Context, now time.Time) (Report, error)
}

// Report counts what one run did with the rows it scanned.
type Report struct {
	Job       string
	Scanned   int
	Processed int
	Skipped   int
	Failed    int
}

// Canceller is the part of the appointment service the sweeps need.
type Canceller interface {
	AutoCancel(ctx context.Context, id uuid.UUID, expect appointment.Status, reason string) (*appointment.Appointment, error)
}

// cancelAll auto-cancels each row, logging and continuing on row errors.
func cancelAll(ctx context.Context, logger zerolog.Logger, c Canceller, rows []appointment.Appointment, reason string, rep *Report) {
	for i, a := range rows {
		if ctx.Err() != nil {
			rep.Skipped += len(rows) - i
			return
		}
		_, err := c.AutoCancel(ctx, a.ID, a.Status, reason)
		switch {
		case err == nil:
			rep.Processed++
		case errors.Is(err, appointment.ErrStaleAppointment),
			errors.Is(err, appointment.ErrInvalidStatusTransition),
			errors.Is(err, appointment.ErrAppointmentNotFound):
			// Moved on since the scan.
			rep.Skipped++
		default:
			rep.Failed++
			logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to auto-cancel appointment")
		}
	}
}

// AutoCancelLate cancels reserving appointments nobody checked in to within
// the grace period after their start.
type AutoCancelLate struct {
	repo      appointment.Repository
	canceller Canceller
	grace     time.Duration
	batch     int
	logger    zerolog.Logger
}

func NewAutoCancelLate(repo appointment.Repository, c Canceller) *AutoCancelLate {
	return &AutoCancelLate{
		repo:      repo,
		canceller: c,
		grace:     60 * time.Minute,
		batch:     500,
		logger:    log.WithComponent("scheduler").With().Str("job", JobAutoCancelLate).Logger(),
	}
}

func (j *AutoCancelLate) Name() string { return JobAutoCancelLate }

func (j *AutoCancelLate) Run(ctx context.Context, now time.Time) (Report, error) {
	rep := Report{Job: j.Name()}

	cutoff := now.Add(-j.grace)

	// Pages past rows that keep failing so newer ones are still reached.
	var after appointment.Cursor
	for {
		rows, err := j.repo.FindLateUnattended(ctx, cutoff, after, j.batch)
		if err != nil {
			return rep, fmt.Errorf("find late appointments: %w", err)
		}
		rep.Scanned += len(rows)

		cancelAll(ctx, j.logger, j.canceller, rows, ReasonLate, &rep)
		if len(rows) < j.batch || ctx.Err() != nil {
			return rep, nil
		}
		last := rows[len(rows)-1]
		after = appointment.Cursor{Date: last.AppointmentDate, ID: last.ID}
	}
}

// AutoCancelUnpaid cancels yesterday's online bookings that are still
// pending and not fully paid.
type AutoCancelUnpaid struct {
	repo      appointment.Repository
	canceller Canceller
	loc       *time.Location
	logger    zerolog.Logger
}

func NewAutoCancelUnpaid(repo appointment.Repository, c Canceller, loc *time.Location) *AutoCancelUnpaid {
	if loc == nil {
		loc = time.UTC
	}
	return &AutoCancelUnpaid{
		repo:      repo,
		canceller: c,
		loc:       loc,
		logger:    log.WithComponent("scheduler").With().Str("job", JobAutoCancelUnpaid).Logger(),
	}
}

func (j *AutoCancelUnpaid) Name() string { return JobAutoCancelUnpaid }

func (j *AutoCancelUnpaid) Run(ctx context.Context, now time.Time) (Report, error) {
	rep := Report{Job: j.Name()}

	today, _ := appointment.DayBounds(now, j.loc)
	yesterday := today.AddDate(0, 0, -1)

	rows, err := j.repo.FindUnpaidOnline(ctx, yesterday, today)
	if err != nil {
		return rep, fmt.Errorf("find unpaid appointments: %w", err)
	}
	rep.Scanned = len(rows)

	cancelAll(ctx, j.logger, j.canceller, rows, ReasonUnpaid, &rep)
	return rep, nil
}

// DefaultReminderLeads are the reminder tiers, furthest first.
var DefaultReminderLeads = []time.Duration{24 * time.Hour, 2 * time.Hour, 30 * time.Minute}

const reminderTolerance = 5 * time.Minute

// Reminders sends one reminder per tier for upcoming reserving appointments.
// The reminderSent flag and timestamp are the only dedupe state.
type Reminders struct {
	repo          appointment.Repository
	notifier      notify.Notifier
	loc           *time.Location
	actionBaseURL string
	leads         []time.Duration
	logger        zerolog.Logger
}

func NewReminders(repo appointment.Repository, n notify.Notifier, loc *time.Location, actionBaseURL string) *Reminders {
	if loc == nil {
		loc = time.UTC
	}
	return &Reminders{
		repo:          repo,
		notifier:      n,
		loc:           loc,
		actionBaseURL: actionBaseURL,
		leads:         DefaultReminderLeads,
		logger:        log.WithComponent("scheduler").With().Str("job", JobReminders).Logger(),
	}
}

func (j *Reminders) Name() string { return JobReminders }

func (j *Reminders) Run(ctx context.Context, now time.Time) (Report, error) {
	rep := Report{Job: j.Name()}
	seen := make(map[uuid.UUID]struct{})

	for _, lead := range j.leads {
		target := now.Add(lead)
		rows, err := j.repo.FindReminderCandidates(ctx, target.Add(-reminderTolerance), target.Add(reminderTolerance), lead+reminderTolerance)
		if err != nil {
			return rep, fmt.Errorf("find reminder candidates for %s lead: %w", lead, err)
		}

		for _, a := range rows {
			if _, ok := seen[a.ID]; ok {
				continue
			}
			seen[a.ID] = struct{}{}
			rep.Scanned++

			if err := j.remind(ctx, a, lead, now); err != nil {
				rep.Failed++
				j.logger.Error().Err(err).
					Str("appointment_id", a.ID.String()).
					Dur("lead", lead).
					Msg("failed to send reminder")
				continue
			}
			rep.Processed++
		}
	}
	return rep, nil
}

func (j *Reminders) remind(ctx context.Context, a appointment.Appointment, lead time.Duration, now time.Time) error {
	if err := j.notifier.Notify(ctx, j.intent(a, lead)); err != nil {
		return fmt.Errorf("enqueue reminder: %w", err)
	}
	if err := j.repo.MarkReminderSent(ctx, a.ID, now); err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}

	payload, _ := json.Marshal(map[string]any{"lead_minutes": int(lead / time.Minute)})
	id := a.ID
	if err := j.repo.InsertEvent(ctx, appointment.EventLog{
		EventType:     appointment.EventReminderSent,
		AppointmentID: &id,
		Payload:       payload,
		CreatedAt:     now,
	}); err != nil {
		j.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to record reminder event")
	}
	return nil
}

func (j *Reminders) intent(a appointment.Appointment, lead time.Duration) notify.Intent {
	when := a.AppointmentDate.In(j.loc).Format("Mon 02 Jan 2006 15:04")
	content := fmt.Sprintf("Reminder: your appointment is on %s (in %s).", when, humanLead(lead))
	ctx := map[string]any{
		"appointment_id":   a.ID.String(),
		"appointment_date": when,
		"lead_minutes":     int(lead / time.Minute),
	}
	if a.MeetingLink != nil {
		content += " Join online at " + *a.MeetingLink + "."
		ctx["meeting_link"] = *a.MeetingLink
	}

	return notify.Intent{
		Kind:          notify.KindReminder,
		AppointmentID: a.ID,
		UserID:        a.CustomerID,
		Title:         "Appointment reminder",
		Content:       content,
		Type:          "appointment",
		ActionURL:     j.actionBaseURL + "/" + a.ID.String(),
		Email:         &notify.Email{TemplateKey: "appointment_reminder", Context: ctx},
		Metadata:      map[string]any{"lead_minutes": int(lead / time.Minute)},
	}
}

func humanLead(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return fmt.Sprintf("%d day(s)", int(d/(24*time.Hour)))
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%d hour(s)", int(d/time.Hour))
	default:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
}

package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/consultation-scheduling/internal/catalog"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/log"
	"github.com/hackgods/consultation-scheduling/internal/metrics"
	"github.com/hackgods/consultation-scheduling/internal/notify"
	redisclient "github.com/hackgods/consultation-scheduling/internal/redis"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed     = "APPOINTMENT_CONFIRMED"
	EventAppointmentCheckedIn     = "APPOINTMENT_CHECKED_IN"
	EventAppointmentLateCheckIn   = "APPOINTMENT_LATE_CHECK_IN"
	EventAppointmentStarted       = "APPOINTMENT_STARTED"
	EventAppointmentCompleted     = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow        = "APPOINTMENT_NO_SHOW"
	EventAppointmentCancelled     = "APPOINTMENT_CANCELLED"
	EventAppointmentAutoCancelled = "APPOINTMENT_AUTO_CANCELLED"
	EventAppointmentDeleted       = "APPOINTMENT_DELETED"
	EventSlotReleased             = "SLOT_RELEASED"
	EventReminderSent             = "REMINDER_SENT"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type Service struct {
	repo     Repository
	catalog  catalog.Reader
	locker   redisclient.Locker
	notifier notify.Notifier
	cfg      config.Config
	finder   *SlotFinder
	rooms    *RoomAssigner
	now      func() time.Time
	logger   zerolog.Logger
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRoomAssigner(r *RoomAssigner) Option {
	return func(s *Service) { s.rooms = r }
}

func NewService(repo Repository, reader catalog.Reader, locker redisclient.Locker, notifier notify.Notifier, cfg config.Config, opts ...Option) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Service{
		repo:     repo,
		catalog:  reader,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		finder:   NewSlotFinder(repo, cfg.Location),
		now:      time.Now,
		logger:   log.WithComponent("appointment"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rooms == nil {
		s.rooms = NewRoomAssigner(uint64(s.now().UnixNano()))
	}
	return s
}

type BookingRequest struct {
	CustomerID   uuid.UUID
	ConsultantID *uuid.UUID
	ServiceIDs   []uuid.UUID
	Specialties  []string
	// GeneralConsultation allows automatic selection with no services or
	// specialties, falling back to any active consultant.
	GeneralConsultation bool
	AppointmentDate     time.Time
	Location            Location
	Kind                Kind
	Notes               string
}

func (r *BookingRequest) validate() error {
	if r.CustomerID == uuid.Nil {
		return fmt.Errorf("%w: customer_id is required", ErrBadRequest)
	}
	if r.AppointmentDate.IsZero() {
		return fmt.Errorf("%w: appointment_date is required", ErrBadRequest)
	}
	if r.ConsultantID == nil && len(r.ServiceIDs) == 0 && len(r.Specialties) == 0 && !r.GeneralConsultation {
		return ErrMissingTarget
	}

	if r.Location == "" {
		r.Location = LocationOffice
	}
	if r.Location != LocationOnline && r.Location != LocationOffice {
		return fmt.Errorf("%w: unknown location %q", ErrBadRequest, r.Location)
	}
	if r.Kind == "" {
		r.Kind = KindConsultation
	}
	if r.Kind != KindConsultation && r.Kind != KindSTITest {
		return fmt.Errorf("%w: unknown kind %q", ErrBadRequest, r.Kind)
	}
	return nil
}

// Book reserves a slot for a customer. The slot is recounted under a
// distributed lock and a row lock on the window, so concurrent requests for
// one window never exceed its capacity.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	timer := metrics.NewTimer()
	selection := SelectionAutomatic
	if req.ConsultantID != nil {
		selection = SelectionManual
	}

	appt, consultant, err := s.book(ctx, req, selection)
	if err != nil {
		metrics.BookingsTotal.WithLabelValues(string(selection), bookingResult(err)).Inc()
		return nil, err
	}
	metrics.BookingsTotal.WithLabelValues(string(selection), "ok").Inc()
	timer.ObserveDuration(metrics.BookingDuration)

	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("consultant_id", consultant.ID.String()).
		Str("selection", string(selection)).
		Time("appointment_date", appt.AppointmentDate).
		Msg("appointment booked")

	s.dispatch(ctx, s.bookedIntents(appt, consultant)...)
	return appt, nil
}

func (s *Service) book(ctx context.Context, req BookingRequest, selection SelectionType) (*Appointment, *ConsultantProfile, error) {
	if err := req.validate(); err != nil {
		return nil, nil, err
	}
	if req.AppointmentDate.Before(s.now()) {
		return nil, nil, fmt.Errorf("%w: appointment_date is in the past", ErrBadRequest)
	}

	services, err := s.resolveServices(ctx, req.ServiceIDs)
	if err != nil {
		return nil, nil, err
	}

	slot, err := s.finder.Find(ctx, SlotQuery{
		ConsultantID:    req.ConsultantID,
		Specialties:     mergeSpecialties(catalog.Specialties(services), req.Specialties),
		AppointmentDate: req.AppointmentDate,
	})
	if err != nil {
		return nil, nil, err
	}

	status := StatusPending
	if req.Kind == KindSTITest {
		status = StatusConfirmed
	}

	consultantID := slot.Consultant.ID
	windowID := slot.Window.ID
	appt := &Appointment{
		ID:              uuid.New(),
		CustomerID:      req.CustomerID,
		ConsultantID:    &consultantID,
		AvailabilityID:  &windowID,
		AppointmentDate: req.AppointmentDate,
		Status:          status,
		FixedPrice:      catalog.TotalPrice(services),
		Location:        req.Location,
		SelectionType:   selection,
		Kind:            req.Kind,
		ServiceIDs:      req.ServiceIDs,
		Notes:           AppendNote("", s.now(), req.Notes),
	}
	if req.Location == LocationOnline {
		link := s.cfg.MeetingBaseURL + "/" + appt.ID.String()
		appt.MeetingLink = &link
	}

	key := redisclient.SlotKey(windowID, slot.DayStart)
	err = s.locker.WithSlotLock(ctx, key, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(ctx context.Context, tx Repository) error {
			window, err := tx.LockWindow(ctx, windowID)
			if err != nil {
				return fmt.Errorf("lock window: %w", err)
			}
			if !window.IsAvailable {
				return ErrNoOpenSlot
			}

			booked, err := tx.CountActiveInSlot(ctx, windowID, slot.DayStart, slot.DayEnd)
			if err != nil {
				return err
			}
			if booked >= window.MaxAppointments {
				return ErrSlotFilled
			}

			if err := tx.CreateAppointment(ctx, appt); err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}

			return s.logEvent(ctx, tx, appt.ID, EventAppointmentCreated, map[string]any{
				"customer_id":     appt.CustomerID.String(),
				"consultant_id":   consultantID.String(),
				"availability_id": windowID.String(),
				"selection_type":  selection,
				"status":          status,
				"fixed_price":     appt.FixedPrice.String(),
			})
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, nil, ErrSlotBeingBooked
		}
		return nil, nil, err
	}

	return appt, &slot.Consultant, nil
}

func bookingResult(err error) string {
	switch {
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrBadRequest):
		return "rejected"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (s *Service) resolveServices(ctx context.Context, ids []uuid.UUID) ([]catalog.Service, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	services, err := s.catalog.GetServices(ctx, ids)
	if err != nil {
		if errors.Is(err, catalog.ErrServiceNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrServiceNotFound, err)
		}
		return nil, fmt.Errorf("load services: %w", err)
	}
	return services, nil
}

func mergeSpecialties(sets ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, set := range sets {
		for _, sp := range set {
			sp = strings.TrimSpace(sp)
			if sp == "" {
				continue
			}
			if _, ok := seen[sp]; ok {
				continue
			}
			seen[sp] = struct{}{}
			out = append(out, sp)
		}
	}
	return out
}

// Confirm moves a pending appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	now := s.now()
	res, err := s.mutate(ctx, id, mutation{
		op:        OpConfirm,
		authorize: func(sub Subject) Decision { return CanManageAttendance(sub, actor) },
		event:     EventAppointmentConfirmed,
		apply: func(_ context.Context, _ Repository, cur Appointment) (Appointment, error) {
			return Apply(cur, OpConfirm, Change{At: now, By: &actor.ID})
		},
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, s.customerIntent(notify.KindConfirmed, res.appt, "Appointment confirmed",
		fmt.Sprintf("Your appointment on %s is confirmed.", s.localTime(res.appt.AppointmentDate)), "appointment_confirmed"))
	return res.appt, nil
}

// Get retrieves an appointment by ID
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListByCustomer retrieves appointments for a specific customer
func (s *Service) ListByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListAppointmentsByCustomer(ctx, customerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by customer: %w", err)
	}
	return appointments, nil
}

// SoftDelete hides an appointment from every read. Rows are never removed.
func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID, actor Actor) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		cur, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return loadErr(err)
		}
		consultant, err := s.consultantOf(ctx, tx, cur)
		if err != nil {
			return err
		}
		if d := CanDelete(subjectOf(cur, consultant), actor); !d.Allowed {
			return fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
		}

		if err := tx.SoftDeleteAppointment(ctx, id, s.now()); err != nil {
			return err
		}
		return s.logEvent(ctx, tx, id, EventAppointmentDeleted, map[string]any{
			"deleted_by": actor.ID.String(),
		})
	})
}

// mutation describes one guarded status change.
type mutation struct {
	op        Op
	authorize func(Subject) Decision
	// expect, when set, requires the stored status to match before apply runs.
	expect Status
	event  string
	apply  func(ctx context.Context, tx Repository, cur Appointment) (Appointment, error)
}

type mutationResult struct {
	appt       *Appointment
	previous   Status
	consultant *ConsultantProfile
}

// mutate locks the row, authorizes, applies and persists inside one
// transaction. Notifications are the caller's job once mutate returns.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, m mutation) (*mutationResult, error) {
	var res mutationResult

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		cur, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return loadErr(err)
		}
		if m.expect != "" && cur.Status != m.expect {
			return ErrStaleAppointment
		}

		consultant, err := s.consultantOf(ctx, tx, cur)
		if err != nil {
			return err
		}
		if m.authorize != nil {
			if d := m.authorize(subjectOf(cur, consultant)); !d.Allowed {
				return fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
			}
		}

		next, err := m.apply(ctx, tx, *cur)
		if err != nil {
			return err
		}
		if err := tx.UpdateAppointment(ctx, &next, cur.Status); err != nil {
			return err
		}

		payload := map[string]any{
			"op":   m.op,
			"from": cur.Status,
			"to":   next.Status,
		}
		if next.CancellationReason != nil {
			payload["reason"] = *next.CancellationReason
		}
		if err := s.logEvent(ctx, tx, next.ID, m.event, payload); err != nil {
			return err
		}

		res = mutationResult{appt: &next, previous: cur.Status, consultant: consultant}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(string(m.op), string(res.appt.Status)).Inc()
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("op", string(m.op)).
		Str("from", string(res.previous)).
		Str("to", string(res.appt.Status)).
		Msg("appointment transitioned")
	return &res, nil
}

func loadErr(err error) error {
	if errors.Is(err, ErrAppointmentNotFound) {
		return err
	}
	return fmt.Errorf("load appointment: %w", err)
}

func (s *Service) consultantOf(ctx context.Context, repo Repository, a *Appointment) (*ConsultantProfile, error) {
	if a.ConsultantID == nil {
		return nil, nil
	}
	c, err := repo.GetConsultantProfile(ctx, *a.ConsultantID)
	if err != nil {
		if errors.Is(err, ErrConsultantNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load consultant: %w", err)
	}
	return c, nil
}

func subjectOf(a *Appointment, consultant *ConsultantProfile) Subject {
	sub := Subject{CustomerID: a.CustomerID}
	if consultant != nil {
		uid := consultant.UserID
		sub.ConsultantUserID = &uid
	}
	return sub
}

func (s *Service) logEvent(ctx context.Context, repo Repository, appointmentID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := repo.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert event %s: %w", eventType, err)
	}
	return nil
}

// dispatch hands intents to the notifier. Failures are logged only; the state
// change they describe is already committed.
func (s *Service) dispatch(ctx context.Context, intents ...notify.Intent) {
	if s.notifier == nil || len(intents) == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, intents...); err != nil {
		s.logger.Error().Err(err).
			Str("appointment_id", intents[0].AppointmentID.String()).
			Str("kind", string(intents[0].Kind)).
			Msg("failed to dispatch notifications")
	}
}

func (s *Service) localTime(t time.Time) string {
	return t.In(s.cfg.Location).Format("Mon 02 Jan 2006 15:04")
}

package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

const appointmentColumns = `
	a.id, a.customer_id, a.consultant_id, a.availability_id, a.appointment_date,
	a.check_in_time, a.check_out_time, a.reminder_sent, a.reminder_sent_at, a.status,
	a.fixed_price::text, a.location, a.selection_type, a.kind, a.notes, a.meeting_link,
	a.cancellation_reason, a.cancelled_by, a.created_at, a.updated_at, a.deleted_at,
	COALESCE((
		SELECT array_agg(s.service_id::text ORDER BY s.position)
		FROM appointment_services s
		WHERE s.appointment_id = a.id
	), '{}')`

const windowColumns = `
	id, consultant_id, day_of_week,
	EXTRACT(EPOCH FROM start_time)::bigint, EXTRACT(EPOCH FROM end_time)::bigint,
	max_appointments, is_available`

// Helpers

func scanConsultant(row pgx.Row) (*ConsultantProfile, error) {
	var c ConsultantProfile

	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Name,
		&c.Role,
		&c.Specialties,
		&c.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConsultantNotFound
		}
		return nil, err
	}

	return &c, nil
}

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	var day int
	var start, end int64

	err := row.Scan(
		&w.ID,
		&w.ConsultantID,
		&day,
		&start,
		&end,
		&w.MaxAppointments,
		&w.IsAvailable,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, err
	}

	w.DayOfWeek = time.Weekday(day)
	w.StartTime = TimeOfDay(time.Duration(start) * time.Second)
	w.EndTime = TimeOfDay(time.Duration(end) * time.Second)
	return &w, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var price string
	var serviceIDs []string

	err := row.Scan(
		&a.ID,
		&a.CustomerID,
		&a.ConsultantID,
		&a.AvailabilityID,
		&a.AppointmentDate,
		&a.CheckInTime,
		&a.CheckOutTime,
		&a.ReminderSent,
		&a.ReminderSentAt,
		&a.Status,
		&price,
		&a.Location,
		&a.SelectionType,
		&a.Kind,
		&a.Notes,
		&a.MeetingLink,
		&a.CancellationReason,
		&a.CancelledBy,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.DeletedAt,
		&serviceIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.FixedPrice, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse fixed price of appointment %s: %w", a.ID, err)
	}
	for _, raw := range serviceIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse service id of appointment %s: %w", a.ID, err)
		}
		a.ServiceIDs = append(a.ServiceIDs, id)
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows, err error) ([]Appointment, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) GetConsultantProfile(ctx context.Context, id uuid.UUID) (*ConsultantProfile, error) {
	row := r.q.QueryRow(ctx, `
		SELECT cp.id, cp.user_id, u.full_name, u.role, cp.specialties, cp.status
		FROM consultant_profiles cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.id = $1 AND cp.deleted_at IS NULL
	`, id)
	return scanConsultant(row)
}

func (r *PgRepository) ListActiveConsultants(ctx context.Context, specialties []string) ([]ConsultantProfile, error) {
	if specialties == nil {
		specialties = []string{}
	}

	rows, err := r.q.Query(ctx, `
		SELECT cp.id, cp.user_id, u.full_name, u.role, cp.specialties, cp.status
		FROM consultant_profiles cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.status = 'ACTIVE'
		  AND u.role = 'CONSULTANT'
		  AND cp.deleted_at IS NULL
		  AND (cardinality($1::text[]) = 0 OR cp.specialties && $1::text[])
		ORDER BY cp.created_at, cp.id
	`, specialties)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ConsultantProfile
	for rows.Next() {
		c, err := scanConsultant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) FindWindow(ctx context.Context, consultantID uuid.UUID, day time.Weekday, at TimeOfDay) (*AvailabilityWindow, error) {
	seconds := int64(time.Duration(at) / time.Second)

	row := r.q.QueryRow(ctx, `
		SELECT `+windowColumns+`
		FROM consultant_availability
		WHERE consultant_id = $1
		  AND day_of_week = $2
		  AND is_available
		  AND EXTRACT(EPOCH FROM start_time) <= $3
		  AND $3 <= EXTRACT(EPOCH FROM end_time)
		ORDER BY start_time
		LIMIT 1
	`, consultantID, int(day), seconds)
	return scanWindow(row)
}

func (r *PgRepository) LockWindow(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+windowColumns+`
		FROM consultant_availability
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanWindow(row)
}

func (r *PgRepository) CountActiveInSlot(ctx context.Context, windowID uuid.UUID, dayStart, dayEnd time.Time) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE availability_id = $1
		  AND status IN ('PENDING', 'CONFIRMED')
		  AND deleted_at IS NULL
		  AND appointment_date >= $2
		  AND appointment_date < $3
	`, windowID, dayStart, dayEnd).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count slot appointments: %w", err)
	}
	return n, nil
}

func (r *PgRepository) CountCheckedInBefore(ctx context.Context, id uuid.UUID, at, dayStart, dayEnd time.Time) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE status = 'CHECKED_IN'
		  AND id <> $1
		  AND deleted_at IS NULL
		  AND check_in_time <= $2
		  AND appointment_date >= $3
		  AND appointment_date < $4
	`, id, at, dayStart, dayEnd).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count checked-in queue: %w", err)
	}
	return n, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.id = $1 AND a.deleted_at IS NULL
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.id = $1 AND a.deleted_at IS NULL
		FOR UPDATE OF a
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return collectAppointments(r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.customer_id = $1 AND a.deleted_at IS NULL
		ORDER BY a.appointment_date DESC, a.id
		LIMIT $2 OFFSET $3
	`, customerID, limit, offset))
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	err := r.q.QueryRow(ctx, `
		INSERT INTO appointments (
			id, customer_id, consultant_id, availability_id, appointment_date,
			status, fixed_price, location, selection_type, kind, notes, meeting_link,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.CustomerID, a.ConsultantID, a.AvailabilityID, a.AppointmentDate,
		a.Status, a.FixedPrice.String(), a.Location, a.SelectionType, a.Kind, a.Notes, a.MeetingLink,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}

	return r.replaceServices(ctx, a.ID, a.ServiceIDs)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment, expected Status) error {
	err := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    check_in_time = $4,
		    check_out_time = $5,
		    reminder_sent = $6,
		    reminder_sent_at = $7,
		    notes = $8,
		    meeting_link = $9,
		    cancellation_reason = $10,
		    cancelled_by = $11,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		  AND deleted_at IS NULL
		RETURNING updated_at
	`, a.ID, expected, a.Status, a.CheckInTime, a.CheckOutTime, a.ReminderSent, a.ReminderSentAt,
		a.Notes, a.MeetingLink, a.CancellationReason, a.CancelledBy,
	).Scan(&a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStaleAppointment
		}
		return fmt.Errorf("update appointment: %w", err)
	}

	return r.replaceServices(ctx, a.ID, a.ServiceIDs)
}

func (r *PgRepository) replaceServices(ctx context.Context, id uuid.UUID, serviceIDs []uuid.UUID) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM appointment_services WHERE appointment_id = $1`, id); err != nil {
		return fmt.Errorf("clear appointment services: %w", err)
	}
	for i, sid := range serviceIDs {
		_, err := r.q.Exec(ctx, `
			INSERT INTO appointment_services (appointment_id, service_id, position)
			VALUES ($1, $2, $3)
		`, id, sid, i)
		if err != nil {
			return fmt.Errorf("insert appointment service: %w", err)
		}
	}
	return nil
}

func (r *PgRepository) SoftDeleteAppointment(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE appointments
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("soft delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) FindLateUnattended(ctx context.Context, cutoff time.Time, after Cursor, limit int) ([]Appointment, error) {
	return collectAppointments(r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.status IN ('PENDING', 'CONFIRMED')
		  AND a.check_in_time IS NULL
		  AND a.deleted_at IS NULL
		  AND a.appointment_date < $1
		  AND (a.appointment_date, a.id) > ($2, $3)
		ORDER BY a.appointment_date, a.id
		LIMIT $4
	`, cutoff, after.Date, after.ID, limit))
}

func (r *PgRepository) FindUnpaidOnline(ctx context.Context, createdFrom, createdTo time.Time) ([]Appointment, error) {
	return collectAppointments(r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.location = 'ONLINE'
		  AND a.status = 'PENDING'
		  AND a.deleted_at IS NULL
		  AND a.created_at >= $1
		  AND a.created_at < $2
		  AND COALESCE((
			SELECT sum(p.amount)
			FROM payments p
			WHERE p.appointment_id = a.id AND p.status = 'COMPLETED'
		  ), 0) < a.fixed_price
		ORDER BY a.created_at
	`, createdFrom, createdTo))
}

func (r *PgRepository) FindReminderCandidates(ctx context.Context, from, to time.Time, tierGap time.Duration) ([]Appointment, error) {
	return collectAppointments(r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.status IN ('PENDING', 'CONFIRMED')
		  AND a.deleted_at IS NULL
		  AND a.appointment_date BETWEEN $1 AND $2
		  AND (
			NOT a.reminder_sent
			OR a.reminder_sent_at IS NULL
			OR a.reminder_sent_at < a.appointment_date - make_interval(secs => $3)
		  )
		ORDER BY a.appointment_date
	`, from, to, tierGap.Seconds()))
}

func (r *PgRepository) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent = true,
		    reminder_sent_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('PENDING', 'CONFIRMED')
		  AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleAppointment
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if r.pool == nil {
		// Already bound to a transaction.
		return fn(ctx, r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PgRepository{q: tx})
	})
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryRepository keeps everything in process memory. It backs the memory
// storage driver and the package tests. Transactions and writes made outside
// them are serialized on txMu; a failed transaction rolls back only the rows
// and events it wrote.
type MemoryRepository struct {
	txMu sync.Mutex

	mu           sync.RWMutex
	consultants  []ConsultantProfile
	windows      []AvailabilityWindow
	appointments map[uuid.UUID]Appointment
	payments     []Payment
	events       []EventLog
	now          func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appointments: make(map[uuid.UUID]Appointment),
		now:          time.Now,
	}
}

// SetClock overrides the time stamped on created and updated rows.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *MemoryRepository) AddConsultant(c ConsultantProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Specialties = append([]string(nil), c.Specialties...)
	r.consultants = append(r.consultants, c)
}

func (r *MemoryRepository) AddWindow(w AvailabilityWindow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, w)
}

func (r *MemoryRepository) AddPayment(p Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.payments = append(r.payments, p)
}

// Events returns a copy of the audit trail.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

// Put stores a as-is, bypassing the booking path.
func (r *MemoryRepository) Put(a Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.appointments[a.ID] = a.Clone()
}

func (r *MemoryRepository) GetConsultantProfile(_ context.Context, id uuid.UUID) (*ConsultantProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.consultants {
		if c.ID == id {
			c.Specialties = append([]string(nil), c.Specialties...)
			return &c, nil
		}
	}
	return nil, ErrConsultantNotFound
}

func (r *MemoryRepository) ListActiveConsultants(_ context.Context, specialties []string) ([]ConsultantProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []ConsultantProfile
	for _, c := range r.consultants {
		if c.Status != ProfileActive || c.Role != RoleConsultant {
			continue
		}
		if len(specialties) > 0 && !intersects(c.Specialties, specialties) {
			continue
		}
		c.Specialties = append([]string(nil), c.Specialties...)
		result = append(result, c)
	}
	return result, nil
}

func (r *MemoryRepository) FindWindow(_ context.Context, consultantID uuid.UUID, day time.Weekday, at TimeOfDay) (*AvailabilityWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *AvailabilityWindow
	for i := range r.windows {
		w := r.windows[i]
		if w.ConsultantID != consultantID || !w.Covers(day, at) {
			continue
		}
		if found == nil || w.StartTime < found.StartTime {
			found = &w
		}
	}
	if found == nil {
		return nil, ErrWindowNotFound
	}
	return found, nil
}

func (r *MemoryRepository) LockWindow(_ context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.windows {
		if w.ID == id {
			return &w, nil
		}
	}
	return nil, ErrWindowNotFound
}

func (r *MemoryRepository) CountActiveInSlot(_ context.Context, windowID uuid.UUID, dayStart, dayEnd time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, a := range r.appointments {
		if a.DeletedAt != nil || !a.Status.Reserving() || a.AvailabilityID == nil || *a.AvailabilityID != windowID {
			continue
		}
		if inRange(a.AppointmentDate, dayStart, dayEnd) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CountCheckedInBefore(_ context.Context, id uuid.UUID, at, dayStart, dayEnd time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, a := range r.appointments {
		if a.ID == id || a.DeletedAt != nil || a.Status != StatusCheckedIn || a.CheckInTime == nil {
			continue
		}
		if !a.CheckInTime.After(at) && inRange(a.AppointmentDate, dayStart, dayEnd) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok || a.DeletedAt != nil {
		return nil, ErrAppointmentNotFound
	}
	c := a.Clone()
	return &c, nil
}

func (r *MemoryRepository) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.GetAppointmentByID(ctx, id)
}

func (r *MemoryRepository) ListAppointmentsByCustomer(_ context.Context, customerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	result := r.filter(func(a Appointment) bool { return a.CustomerID == customerID })
	sort.Slice(result, func(i, j int) bool {
		if !result[i].AppointmentDate.Equal(result[j].AppointmentDate) {
			return result[i].AppointmentDate.After(result[j].AppointmentDate)
		}
		return result[i].ID.String() < result[j].ID.String()
	})

	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (r *MemoryRepository) createAppointment(a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := r.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	r.appointments[a.ID] = a.Clone()
	return nil
}

func (r *MemoryRepository) updateAppointment(a *Appointment, expected Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.appointments[a.ID]
	if !ok || stored.DeletedAt != nil || stored.Status != expected {
		return ErrStaleAppointment
	}

	next := a.Clone()
	next.CreatedAt = stored.CreatedAt
	next.DeletedAt = nil
	next.UpdatedAt = r.now()
	a.UpdatedAt = next.UpdatedAt
	r.appointments[a.ID] = next
	return nil
}

func (r *MemoryRepository) softDeleteAppointment(id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.DeletedAt != nil {
		return ErrAppointmentNotFound
	}
	a.DeletedAt = &at
	a.UpdatedAt = at
	r.appointments[id] = a
	return nil
}

func (r *MemoryRepository) FindLateUnattended(_ context.Context, cutoff time.Time, after Cursor, limit int) ([]Appointment, error) {
	result := r.filter(func(a Appointment) bool {
		return a.Status.Reserving() && a.CheckInTime == nil && a.AppointmentDate.Before(cutoff) && after.Before(a)
	})
	sort.Slice(result, func(i, j int) bool {
		return Cursor{Date: result[i].AppointmentDate, ID: result[i].ID}.Before(result[j])
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *MemoryRepository) FindUnpaidOnline(_ context.Context, createdFrom, createdTo time.Time) ([]Appointment, error) {
	r.mu.RLock()
	paid := make(map[uuid.UUID]decimal.Decimal)
	for _, p := range r.payments {
		if p.Status == PaymentCompleted {
			paid[p.AppointmentID] = paid[p.AppointmentID].Add(p.Amount)
		}
	}
	r.mu.RUnlock()

	result := r.filter(func(a Appointment) bool {
		return a.Location == LocationOnline &&
			a.Status == StatusPending &&
			inRange(a.CreatedAt, createdFrom, createdTo) &&
			paid[a.ID].LessThan(a.FixedPrice)
	})
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *MemoryRepository) FindReminderCandidates(_ context.Context, from, to time.Time, tierGap time.Duration) ([]Appointment, error) {
	result := r.filter(func(a Appointment) bool {
		if !a.Status.Reserving() || a.AppointmentDate.Before(from) || a.AppointmentDate.After(to) {
			return false
		}
		if !a.ReminderSent || a.ReminderSentAt == nil {
			return true
		}
		return a.ReminderSentAt.Before(a.AppointmentDate.Add(-tierGap))
	})
	sortByDate(result)
	return result, nil
}

func (r *MemoryRepository) markReminderSent(id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.DeletedAt != nil || !a.Status.Reserving() {
		return ErrStaleAppointment
	}
	a.ReminderSent = true
	a.ReminderSentAt = &at
	a.UpdatedAt = r.now()
	r.appointments[id] = a
	return nil
}

func (r *MemoryRepository) insertEvent(ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, a *Appointment) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return r.createAppointment(a)
}

func (r *MemoryRepository) UpdateAppointment(_ context.Context, a *Appointment, expected Status) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return r.updateAppointment(a, expected)
}

func (r *MemoryRepository) SoftDeleteAppointment(_ context.Context, id uuid.UUID, at time.Time) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return r.softDeleteAppointment(id, at)
}

func (r *MemoryRepository) MarkReminderSent(_ context.Context, id uuid.UUID, at time.Time) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return r.markReminderSent(id, at)
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return r.insertEvent(ev)
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	undo := &undoLog{rows: make(map[uuid.UUID]*Appointment), events: len(r.events)}
	r.mu.RUnlock()

	if err := fn(ctx, memoryTx{MemoryRepository: r, undo: undo}); err != nil {
		r.rollback(undo)
		return err
	}
	return nil
}

// undoLog holds the pre-transaction state of every row a transaction wrote.
// A nil entry means the row did not exist.
type undoLog struct {
	rows   map[uuid.UUID]*Appointment
	events int
}

func (r *MemoryRepository) rollback(undo *undoLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, prior := range undo.rows {
		if prior == nil {
			delete(r.appointments, id)
			continue
		}
		r.appointments[id] = *prior
	}
	// Writes outside transactions wait on txMu, so every event past the
	// mark belongs to this transaction.
	r.events = r.events[:undo.events]
}

// memoryTx is the Repository handed to WithTx callbacks. It writes without
// taking txMu, which the transaction already holds. Nested calls join the
// outer transaction.
type memoryTx struct {
	*MemoryRepository
	undo *undoLog
}

func (t memoryTx) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	return fn(ctx, t)
}

// remember records the row's current state the first time the transaction
// writes it.
func (t memoryTx) remember(id uuid.UUID) {
	if _, ok := t.undo.rows[id]; ok {
		return
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a, ok := t.appointments[id]; ok {
		prior := a.Clone()
		t.undo.rows[id] = &prior
		return
	}
	t.undo.rows[id] = nil
}

func (t memoryTx) CreateAppointment(_ context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	t.remember(a.ID)
	return t.createAppointment(a)
}

func (t memoryTx) UpdateAppointment(_ context.Context, a *Appointment, expected Status) error {
	t.remember(a.ID)
	return t.updateAppointment(a, expected)
}

func (t memoryTx) SoftDeleteAppointment(_ context.Context, id uuid.UUID, at time.Time) error {
	t.remember(id)
	return t.softDeleteAppointment(id, at)
}

func (t memoryTx) MarkReminderSent(_ context.Context, id uuid.UUID, at time.Time) error {
	t.remember(id)
	return t.markReminderSent(id, at)
}

func (t memoryTx) InsertEvent(_ context.Context, ev EventLog) error {
	return t.insertEvent(ev)
}

func (r *MemoryRepository) filter(keep func(Appointment) bool) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Appointment
	for _, a := range r.appointments {
		if a.DeletedAt == nil && keep(a) {
			result = append(result, a.Clone())
		}
	}
	return result
}

func sortByDate(as []Appointment) {
	sort.Slice(as, func(i, j int) bool { return as[i].AppointmentDate.Before(as[j].AppointmentDate) })
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

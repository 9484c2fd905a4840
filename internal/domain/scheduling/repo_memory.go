package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements every scheduling repository and TxRunner in process.
// Transactions are serialized; a failed transaction is undone from a journal
// of inverse operations. ListAvailable outside a transaction waits for the
// running one to finish, so it never reports a reservation that is later
// rolled back.
type MemoryStore struct {
	mu           sync.Mutex
	slots        map[uuid.UUID]*Slot
	slotKeys     map[slotKey]uuid.UUID
	schedules    map[uuid.UUID]*Schedule
	appointments map[uuid.UUID]*Appointment
	history      map[uuid.UUID][]*StatusChange
	addenda      map[uuid.UUID][]*Addendum
	nextChangeID int64

	txMu sync.Mutex
	now  func() time.Time
}

type slotKey struct {
	doctor uuid.UUID
	date   string
	time   string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots:        make(map[uuid.UUID]*Slot),
		slotKeys:     make(map[slotKey]uuid.UUID),
		schedules:    make(map[uuid.UUID]*Schedule),
		appointments: make(map[uuid.UUID]*Appointment),
		history:      make(map[uuid.UUID][]*StatusChange),
		addenda:      make(map[uuid.UUID][]*Addendum),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Slots() SlotRepository               { return memSlots{m} }
func (m *MemoryStore) Schedules() ScheduleRepository       { return memSchedules{m} }
func (m *MemoryStore) Appointments() AppointmentRepository { return memAppointments{m} }

type journalKey struct{}

type journal struct {
	undo []func()
}

// record registers an inverse operation when ctx is inside WithinTx. Callers
// hold m.mu.
func record(ctx context.Context, fn func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.undo = append(j.undo, fn)
	}
}

// committed blocks until no transaction is running, unless ctx already
// belongs to one. Lock order is txMu before mu.
func (m *MemoryStore) committed(ctx context.Context) func() {
	if _, ok := ctx.Value(journalKey{}).(*journal); ok {
		return func() {}
	}
	m.txMu.Lock()
	return m.txMu.Unlock
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(journalKey{}).(*journal); ok {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	j := &journal{}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		m.mu.Lock()
		for i := len(j.undo) - 1; i >= 0; i-- {
			j.undo[i]()
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// =========== Slots ===========

type memSlots struct{ m *MemoryStore }

func (r memSlots) insert(ctx context.Context, s *Slot) bool {
	key := slotKey{s.DoctorID, s.Date, s.Time}
	if _, exists := r.m.slotKeys[key]; exists {
		return false
	}
	s.ID = uuid.New()
	s.CreatedAt = r.m.now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	r.m.slots[s.ID] = &cp
	r.m.slotKeys[key] = s.ID
	id := s.ID
	record(ctx, func() {
		delete(r.m.slots, id)
		delete(r.m.slotKeys, key)
	})
	return true
}

func (r memSlots) Create(ctx context.Context, s *Slot) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if !r.insert(ctx, s) {
		return fmt.Errorf("%w: doctor already has a slot on %s at %s", ErrConflict, s.Date, s.Time)
	}
	return nil
}

func (r memSlots) CreateIfAbsent(ctx context.Context, s *Slot) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.insert(ctx, s), nil
}

func (r memSlots) GetByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: slot %s", ErrNotFound, id)
	}
	cp := *s
	return &cp, nil
}

func (r memSlots) ListAvailable(ctx context.Context, q SlotQuery) ([]*Slot, error) {
	defer r.m.committed(ctx)()

	r.m.mu.Lock()
	var items []*Slot
	for _, s := range r.m.slots {
		if !s.Available {
			continue
		}
		if q.DoctorID != nil && s.DoctorID != *q.DoctorID {
			continue
		}
		if q.Date != "" {
			if s.Date != q.Date {
				continue
			}
		} else if (q.From != "" && s.Date < q.From) || (q.To != "" && s.Date > q.To) {
			continue
		}
		cp := *s
		items = append(items, &cp)
	}
	r.m.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date < items[j].Date
		}
		if items[i].Time != items[j].Time {
			return items[i].Time < items[j].Time
		}
		return items[i].DoctorID.String() < items[j].DoctorID.String()
	})
	return items, nil
}

func (r memSlots) Reserve(ctx context.Context, id uuid.UUID) (*Slot, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: slot %s", ErrNotFound, id)
	}
	if !s.Available {
		return nil, fmt.Errorf("%w: slot %s is already booked", ErrSlotUnavailable, id)
	}
	prev := s.UpdatedAt
	s.Available = false
	s.UpdatedAt = r.m.now()
	record(ctx, func() {
		s.Available = true
		s.UpdatedAt = prev
	})
	cp := *s
	return &cp, nil
}

func (r memSlots) Release(ctx context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.slots[id]
	if !ok {
		return fmt.Errorf("%w: slot %s", ErrNotFound, id)
	}
	prevAvail, prevAt := s.Available, s.UpdatedAt
	s.Available = true
	s.UpdatedAt = r.m.now()
	record(ctx, func() {
		s.Available = prevAvail
		s.UpdatedAt = prevAt
	})
	return nil
}

// =========== Schedules ===========

type memSchedules struct{ m *MemoryStore }

func (r memSchedules) Create(ctx context.Context, s *Schedule) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.schedules {
		if existing.DoctorID == s.DoctorID && existing.DayOfWeek == s.DayOfWeek {
			return fmt.Errorf("%w: doctor already has a %s schedule", ErrConflict, s.DayOfWeek)
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = r.m.now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	r.m.schedules[s.ID] = &cp
	id := s.ID
	record(ctx, func() { delete(r.m.schedules, id) })
	return nil
}

func (r memSchedules) GetByID(_ context.Context, id uuid.UUID) (*Schedule, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: schedule %s", ErrNotFound, id)
	}
	cp := *s
	return &cp, nil
}

func (r memSchedules) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*Schedule, error) {
	r.m.mu.Lock()
	var items []*Schedule
	for _, s := range r.m.schedules {
		if s.DoctorID == doctorID {
			cp := *s
			items = append(items, &cp)
		}
	}
	r.m.mu.Unlock()
	sort.Slice(items, func(i, j int) bool {
		return weekdays[items[i].DayOfWeek] < weekdays[items[j].DayOfWeek]
	})
	return items, nil
}

func (r memSchedules) Delete(ctx context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.schedules[id]
	if !ok {
		return fmt.Errorf("%w: schedule %s", ErrNotFound, id)
	}
	delete(r.m.schedules, id)
	record(ctx, func() { r.m.schedules[id] = s })
	return nil
}

// =========== Appointments ===========

type memAppointments struct{ m *MemoryStore }

func cloneAppointment(a *Appointment) *Appointment {
	cp := *a
	if a.Consultation != nil {
		c := *a.Consultation
		cp.Consultation = &c
	}
	return &cp
}

func (r memAppointments) Create(ctx context.Context, a *Appointment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.appointments {
		if existing.SlotID == a.SlotID && existing.Status.HoldsSlot() {
			return fmt.Errorf("%w: slot %s already has an appointment", ErrSlotUnavailable, a.SlotID)
		}
	}
	if s, ok := r.m.slots[a.SlotID]; ok {
		a.Date, a.Time = s.Date, s.Time
	}
	a.ID = uuid.New()
	a.CreatedAt = r.m.now()
	a.UpdatedAt = a.CreatedAt
	r.m.appointments[a.ID] = cloneAppointment(a)
	id := a.ID
	record(ctx, func() { delete(r.m.appointments, id) })
	return nil
}

func (r memAppointments) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.appointments[id]
	if !ok {
		return nil, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	return cloneAppointment(a), nil
}

// GetForUpdate relies on WithinTx serializing transactions.
func (r memAppointments) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.GetByID(ctx, id)
}

func (r memAppointments) Update(ctx context.Context, a *Appointment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	prev, ok := r.m.appointments[a.ID]
	if !ok {
		return fmt.Errorf("%w: appointment %s", ErrNotFound, a.ID)
	}
	a.UpdatedAt = r.m.now()
	r.m.appointments[a.ID] = cloneAppointment(a)
	id := a.ID
	record(ctx, func() { r.m.appointments[id] = prev })
	return nil
}

func (r memAppointments) List(_ context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	r.m.mu.Lock()
	var all []*Appointment
	for _, a := range r.m.appointments {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.Date != "" && a.Date != f.Date {
			continue
		}
		all = append(all, cloneAppointment(a))
	}
	r.m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Date != all[j].Date {
			return all[i].Date < all[j].Date
		}
		if all[i].Time != all[j].Time {
			return all[i].Time < all[j].Time
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []*Appointment{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r memAppointments) RecordStatusChange(ctx context.Context, c *StatusChange) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.nextChangeID++
	c.ID = r.m.nextChangeID
	c.At = r.m.now()
	cp := *c
	id := c.AppointmentID
	n := len(r.m.history[id])
	r.m.history[id] = append(r.m.history[id], &cp)
	record(ctx, func() { r.m.history[id] = r.m.history[id][:n] })
	return nil
}

func (r memAppointments) History(_ context.Context, appointmentID uuid.UUID) ([]*StatusChange, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]*StatusChange, 0, len(r.m.history[appointmentID]))
	for _, c := range r.m.history[appointmentID] {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (r memAppointments) AddAddendum(ctx context.Context, a *Addendum) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = r.m.now()
	cp := *a
	id := a.AppointmentID
	n := len(r.m.addenda[id])
	r.m.addenda[id] = append(r.m.addenda[id], &cp)
	record(ctx, func() { r.m.addenda[id] = r.m.addenda[id][:n] })
	return nil
}

func (r memAppointments) Addenda(_ context.Context, appointmentID uuid.UUID) ([]*Addendum, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]*Addendum, 0, len(r.m.addenda[appointmentID]))
	for _, a := range r.m.addenda[appointmentID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

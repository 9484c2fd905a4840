package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Fakes --

type fakeParticipants struct {
	mu       sync.Mutex
	patients map[uuid.UUID]bool
	doctors  map[uuid.UUID]bool // value false means inactive
}

func newFakeParticipants() *fakeParticipants {
	return &fakeParticipants{patients: map[uuid.UUID]bool{}, doctors: map[uuid.UUID]bool{}}
}

func (f *fakeParticipants) addPatient() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.patients[id] = true
	return id
}

func (f *fakeParticipants) addDoctor(active bool) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.doctors[id] = active
	return id
}

func (f *fakeParticipants) ResolvePatient(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.patients[id] {
		return fmt.Errorf("%w: patient %s", ErrNotFound, id)
	}
	return nil
}

func (f *fakeParticipants) ResolveDoctor(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	active, ok := f.doctors[id]
	if !ok {
		return fmt.Errorf("%w: doctor %s", ErrNotFound, id)
	}
	if !active {
		return fmt.Errorf("%w: doctor %s is not active", ErrValidation, id)
	}
	return nil
}

type fakeRecorder struct {
	mu          sync.Mutex
	outcomes    map[string]int
	transitions []string
	generated   int
}

func newFakeRecorder() *fakeRecorder { return &fakeRecorder{outcomes: map[string]int{}} }

func (r *fakeRecorder) BookingAttempt(outcome string) {
	r.mu.Lock()
	r.outcomes[outcome]++
	r.mu.Unlock()
}

func (r *fakeRecorder) Transition(from, to string) {
	r.mu.Lock()
	r.transitions = append(r.transitions, from+">"+to)
	r.mu.Unlock()
}

func (r *fakeRecorder) SlotsGenerated(n int) {
	r.mu.Lock()
	r.generated += n
	r.mu.Unlock()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	people   *fakeParticipants
	recorder *fakeRecorder
	clock    *clock
	doctor   uuid.UUID
	patient  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	people := newFakeParticipants()
	rec := newFakeRecorder()
	clk := &clock{now: time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)}
	svc := NewService(store.Slots(), store.Schedules(), store.Appointments(), store, people,
		WithRecorder(rec), WithClock(clk.Now), WithLocation(time.UTC))
	return &fixture{
		svc: svc, store: store, people: people, recorder: rec, clock: clk,
		doctor:  people.addDoctor(true),
		patient: people.addPatient(),
	}
}

func (f *fixture) slot(t *testing.T, date, tm string) *Slot {
	t.Helper()
	sl := &Slot{DoctorID: f.doctor, Date: date, Time: tm}
	if err := f.svc.CreateSlot(context.Background(), sl); err != nil {
		t.Fatalf("create slot: %v", err)
	}
	return sl
}

func (f *fixture) book(t *testing.T, slotID uuid.UUID, confirm bool) *Appointment {
	t.Helper()
	a, err := f.svc.Book(context.Background(), BookingRequest{
		PatientID: f.patient, DoctorID: f.doctor, SlotID: slotID,
		Reason: "checkup", RequiresConfirmation: confirm,
	}, "tester")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return a
}

func (f *fixture) slotAvailable(t *testing.T, id uuid.UUID) bool {
	t.Helper()
	sl, err := f.svc.GetSlot(context.Background(), id)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	return sl.Available
}

// -- Slot catalog --

func TestCreateSlot(t *testing.T) {
	f := newFixture(t)
	sl := f.slot(t, "2025-01-10", "09:00")
	if !sl.Available || sl.DurationMinutes != DefaultSlotMinutes {
		t.Errorf("unexpected slot %+v", sl)
	}

	err := f.svc.CreateSlot(context.Background(), &Slot{DoctorID: f.doctor, Date: "2025-01-10", Time: "09:00"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate triple, got %v", err)
	}

	// Another spelling of the same time must not open a second slot.
	err = f.svc.CreateSlot(context.Background(), &Slot{DoctorID: f.doctor, Date: "2025-01-10", Time: "9:00"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for 9:00, got %v", err)
	}
	items, err := f.svc.ListAvailableSlots(context.Background(), SlotQuery{DoctorID: &f.doctor, Date: "2025-01-10"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected one slot at 09:00, got %d", len(items))
	}
}

func TestCreateSlot_Validation(t *testing.T) {
	f := newFixture(t)
	inactive := f.people.addDoctor(false)
	tests := []struct {
		name string
		sl   Slot
		want error
	}{
		{"missing doctor", Slot{Date: "2025-01-10", Time: "09:00"}, ErrValidation},
		{"bad date", Slot{DoctorID: f.doctor, Date: "10-01-2025", Time: "09:00"}, ErrValidation},
		{"bad time", Slot{DoctorID: f.doctor, Date: "2025-01-10", Time: "9am"}, ErrValidation},
		{"single digit hour", Slot{DoctorID: f.doctor, Date: "2025-01-10", Time: "9:00"}, ErrValidation},
		{"single digit minute", Slot{DoctorID: f.doctor, Date: "2025-01-10", Time: "09:5"}, ErrValidation},
		{"single digit both", Slot{DoctorID: f.doctor, Date: "2025-01-10", Time: "9:5"}, ErrValidation},
		{"seconds", Slot{DoctorID: f.doctor, Date: "2025-01-10", Time: "09:00:00"}, ErrValidation},
		{"short date", Slot{DoctorID: f.doctor, Date: "2025-1-10", Time: "09:00"}, ErrValidation},
		{"negative duration", Slot{DoctorID: f.doctor, Date: "2025-01-10", Time: "09:00", DurationMinutes: -5}, ErrValidation},
		{"unknown doctor", Slot{DoctorID: uuid.New(), Date: "2025-01-10", Time: "09:00"}, ErrNotFound},
		{"inactive doctor", Slot{DoctorID: inactive, Date: "2025-01-10", Time: "09:00"}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sl := tt.sl
			if err := f.svc.CreateSlot(context.Background(), &sl); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestListAvailableSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	late := f.slot(t, "2025-01-10", "10:00")
	early := f.slot(t, "2025-01-10", "09:00")
	next := f.slot(t, "2025-01-11", "09:00")
	f.slot(t, "2025-01-08", "09:00") // before today
	f.book(t, late.ID, false)

	items, err := f.svc.ListAvailableSlots(ctx, SlotQuery{DoctorID: &f.doctor})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[0].ID != early.ID || items[1].ID != next.ID {
		t.Fatalf("expected [early next], got %+v", items)
	}

	items, _ = f.svc.ListAvailableSlots(ctx, SlotQuery{Date: "2025-01-10"})
	if len(items) != 1 || items[0].ID != early.ID {
		t.Errorf("expected only the 09:00 slot on 2025-01-10, got %+v", items)
	}

	if _, err := f.svc.ListAvailableSlots(ctx, SlotQuery{From: "2025-01-12", To: "2025-01-10"}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for inverted range, got %v", err)
	}
}

// -- Booking --

func TestBook(t *testing.T) {
	f := newFixture(t)
	sl := f.slot(t, "2025-01-10", "09:00")
	a := f.book(t, sl.ID, false)

	if a.Status != StatusScheduled {
		t.Errorf("expected scheduled, got %s", a.Status)
	}
	if a.Date != "2025-01-10" || a.Time != "09:00" || a.Type != TypeConsultation {
		t.Errorf("unexpected appointment %+v", a)
	}
	if f.slotAvailable(t, sl.ID) {
		t.Error("expected slot to be reserved")
	}
	if f.recorder.outcomes[OutcomeBooked] != 1 {
		t.Errorf("expected one booked outcome, got %v", f.recorder.outcomes)
	}
}

func TestBook_DoubleBooking(t *testing.T) {
	f := newFixture(t)
	sl := f.slot(t, "2025-01-10", "09:00")
	f.book(t, sl.ID, false)

	other := f.people.addPatient()
	_, err := f.svc.Book(context.Background(), BookingRequest{PatientID: other, DoctorID: f.doctor, SlotID: sl.ID}, "tester")
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	if f.recorder.outcomes[OutcomeSlotUnavailable] != 1 {
		t.Errorf("expected slot_unavailable outcome, got %v", f.recorder.outcomes)
	}
}

func TestBook_ConcurrentReservations(t *testing.T) {
	f := newFixture(t)
	sl := f.slot(t, "2025-01-10", "09:00")

	const n = 50
	patients := make([]uuid.UUID, n)
	for i := range patients {
		patients[i] = f.people.addPatient()
	}

	var (
		wg          sync.WaitGroup
		successes   int32
		unavailable int32
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(pid uuid.UUID) {
			defer wg.Done()
			<-start
			_, err := f.svc.Book(context.Background(), BookingRequest{PatientID: pid, DoctorID: f.doctor, SlotID: sl.ID}, "tester")
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case errors.Is(err, ErrSlotUnavailable):
				atomic.AddInt32(&unavailable, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(patients[i])
	}
	close(start)
	wg.Wait()

	if successes != 1 || unavailable != n-1 {
		t.Fatalf("expected 1 success and %d unavailable, got %d and %d", n-1, successes, unavailable)
	}
	_, total, err := f.svc.ListAppointments(context.Background(), AppointmentFilter{}, 100, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 {
		t.Errorf("expected exactly one appointment, got %d", total)
	}
}

func TestBook_Rejections(t *testing.T) {
	f := newFixture(t)
	sl := f.slot(t, "2025-01-10", "09:00")
	past := f.slot(t, "2025-01-09", "08:00")
	otherDoctor := f.people.addDoctor(true)

	tests := []struct {
		name string
		req  BookingRequest
		want error
	}{
		{"missing patient", BookingRequest{DoctorID: f.doctor, SlotID: sl.ID}, ErrValidation},
		{"bad type", BookingRequest{PatientID: f.patient, DoctorID: f.doctor, SlotID: sl.ID, Type: "surgery"}, ErrValidation},
		{"unknown patient", BookingRequest{PatientID: uuid.New(), DoctorID: f.doctor, SlotID: sl.ID}, ErrNotFound},
		{"unknown slot", BookingRequest{PatientID: f.patient, DoctorID: f.doctor, SlotID: uuid.New()}, ErrNotFound},
		{"slot of another doctor", BookingRequest{PatientID: f.patient, DoctorID: otherDoctor, SlotID: sl.ID}, ErrValidation},
		{"slot already started", BookingRequest{PatientID: f.patient, DoctorID: f.doctor, SlotID: past.ID}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Book(context.Background(), tt.req, "tester"); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if !f.slotAvailable(t, sl.ID) {
		t.Error("rejected bookings must leave the slot available")
	}
}

// -- Lifecycle --

func TestLifecycle_StartComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.slot(t, "2025-01-10", "09:00").ID, false)

	started, err := f.svc.Start(ctx, a.ID, "dr")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != StatusInProgress || started.StartedAt == nil {
		t.Errorf("unexpected started appointment %+v", started)
	}

	done, err := f.svc.Complete(ctx, a.ID, "dr", Consultation{
		Notes: "follow-up", Diagnosis: "hypertension", Prescription: "lisinopril 10mg",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted || done.CompletedAt == nil {
		t.Errorf("unexpected completed appointment %+v", done)
	}
	got, _ := f.svc.GetAppointment(ctx, a.ID)
	c := got.Consultation
	if c == nil || c.Notes != "follow-up" || c.Diagnosis != "hypertension" || c.Prescription != "lisinopril 10mg" {
		t.Errorf("consultation not stored: %+v", c)
	}

	history, err := f.svc.History(ctx, a.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []Status{StatusScheduled, StatusInProgress, StatusCompleted}
	if len(history) != len(want) {
		t.Fatalf("expected %d history entries, got %d", len(want), len(history))
	}
	for i, h := range history {
		if h.To != want[i] {
			t.Errorf("history[%d] = %s, want %s", i, h.To, want[i])
		}
	}
	if history[0].From != nil || *history[1].From != StatusScheduled {
		t.Errorf("unexpected from values in history")
	}
}

func TestComplete_WrongState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.slot(t, "2025-01-10", "09:00").ID, false)

	_, err := f.svc.Complete(ctx, a.ID, "dr", Consultation{Notes: "n"})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	got, _ := f.svc.GetAppointment(ctx, a.ID)
	if got.Status != StatusScheduled || got.Consultation != nil {
		t.Errorf("failed complete must not change the appointment: %+v", got)
	}
}

func TestComplete_RequiresPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.slot(t, "2025-01-10", "09:00").ID, false)
	if _, err := f.svc.Start(ctx, a.ID, "dr"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.Complete(ctx, a.ID, "dr", Consultation{ChiefComplaint: "cough"}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	bad := "tomorrow"
	if _, err := f.svc.Complete(ctx, a.ID, "dr", Consultation{Notes: "n", FollowUpDate: &bad}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for bad followUpDate, got %v", err)
	}
}

func TestComplete_StateBeforePayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	scheduled := f.book(t, f.slot(t, "2025-01-10", "09:00").ID, false)
	if _, err := f.svc.Complete(ctx, scheduled.ID, "dr", Consultation{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("scheduled: expected ErrInvalidState, got %v", err)
	}

	cancelled := f.book(t, f.slot(t, "2025-01-10", "10:00").ID, false)
	if _, err := f.svc.Cancel(ctx, cancelled.ID, "staff", "patient called"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Complete(ctx, cancelled.ID, "dr", Consultation{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancelled: expected ErrInvalidTransition, got %v", err)
	}
}

func TestStart_WrongState(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.slot(t, "2025-01-10", "09:00").ID, true)
	if _, err := f.svc.Start(context.Background(), a.ID, "dr"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState starting a pending appointment, got %v", err)
	}
}

func TestConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sl := f.slot(t, "2025-01-10", "09:00")
	a := f.book(t, sl.ID, true)
	if a.Status != StatusPending {
		t.Fatalf("expected pending, got %s", a.Status)
	}
	if f.slotAvailable(t, sl.ID) {
		t.Error("pending appointment must hold its slot")
	}

	confirmed, err := f.svc.Confirm(ctx, a.ID, "desk")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != StatusScheduled {
		t.Errorf("expected scheduled, got %s", confirmed.Status)
	}
	if _, err := f.svc.Confirm(ctx, a.ID, "desk"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition confirming twice, got %v", err)
	}
}

func TestCancel_ReleasesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sl := f.slot(t, "2025-01-10", "09:00")
	a := f.book(t, sl.ID, true)

	cancelled, err := f.svc.Cancel(ctx, a.ID, "patient", "  feeling better ")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.CancelledAt == nil {
		t.Errorf("unexpected cancelled appointment %+v", cancelled)
	}
	if cancelled.CancellationReason == nil || *cancelled.CancellationReason != "feeling better" {
		t.Errorf("expected trimmed cancellation reason, got %v", cancelled.CancellationReason)
	}
	if !f.slotAvailable(t, sl.ID) {
		t.Fatal("expected slot to be released")
	}

	rebooked := f.book(t, sl.ID, false)
	if rebooked.ID == a.ID {
		t.Error("expected a new appointment")
	}
}

func TestTerminalStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.slot(t, "2025-01-10", "09:00").ID, false)
	if _, err := f.svc.Cancel(ctx, a.ID, "desk", ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	ops := map[string]func() error{
		"confirm": func() error { _, err := f.svc.Confirm(ctx, a.ID, "x"); return err },
		"start":   func() error { _, err := f.svc.Start(ctx, a.ID, "x"); return err },
		"complete": func() error {
			_, err := f.svc.Complete(ctx, a.ID, "x", Consultation{Notes: "n"})
			return err
		},
		"cancel":  func() error { _, err := f.svc.Cancel(ctx, a.ID, "x", ""); return err },
		"no-show": func() error { _, err := f.svc.MarkNoShow(ctx, a.ID, "x"); return err },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s from cancelled: expected ErrInvalidTransition, got %v", name, err)
		}
	}

	history, _ := f.svc.History(ctx, a.ID)
	if len(history) != 2 {
		t.Errorf("rejected transitions must not be recorded, got %d entries", len(history))
	}
}

func TestMarkNoShow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sl := f.slot(t, "2025-01-10", "09:00")
	a := f.book(t, sl.ID, false)

	if _, err := f.svc.MarkNoShow(ctx, a.ID, "desk"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before the slot time, got %v", err)
	}

	f.clock.Set(time.Date(2025, 1, 10, 9, 30, 0, 0, time.UTC))
	got, err := f.svc.MarkNoShow(ctx, a.ID, "desk")
	if err != nil {
		t.Fatalf("no-show: %v", err)
	}
	if got.Status != StatusNoShow {
		t.Errorf("expected no-show, got %s", got.Status)
	}
	if f.slotAvailable(t, sl.ID) {
		t.Error("no-show must keep the slot taken")
	}
}

func TestMarkNoShow_ClinicTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	store := NewMemoryStore()
	people := newFakeParticipants()
	doctor, patient := people.addDoctor(true), people.addPatient()
	// 2025-01-10 09:00 in UTC+5 is 04:00 UTC.
	now := time.Date(2025, 1, 10, 4, 30, 0, 0, time.UTC)
	svc := NewService(store.Slots(), store.Schedules(), store.Appointments(), store, people,
		WithClock(func() time.Time { return now }), WithLocation(loc))
	ctx := context.Background()

	sl := &Slot{DoctorID: doctor, Date: "2025-01-10", Time: "09:00"}
	if err := svc.CreateSlot(ctx, sl); err != nil {
		t.Fatalf("create slot: %v", err)
	}
	now = time.Date(2025, 1, 10, 3, 0, 0, 0, time.UTC)
	a, err := svc.Book(ctx, BookingRequest{PatientID: patient, DoctorID: doctor, SlotID: sl.ID}, "t")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	now = time.Date(2025, 1, 10, 4, 30, 0, 0, time.UTC)
	if _, err := svc.MarkNoShow(ctx, a.ID, "t"); err != nil {
		t.Errorf("expected no-show allowed after 09:00 clinic time, got %v", err)
	}
}

// -- Consultation addenda --

func TestAddAddendum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.slot(t, "2025-01-10", "09:00").ID, false)

	if _, err := f.svc.AddAddendum(ctx, a.ID, "dr", "late result"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before completion, got %v", err)
	}

	if _, err := f.svc.Start(ctx, a.ID, "dr"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.Complete(ctx, a.ID, "dr", Consultation{Diagnosis: "flu"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.svc.AddAddendum(ctx, a.ID, "dr", "   "); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for blank text, got %v", err)
	}
	if _, err := f.svc.AddAddendum(ctx, a.ID, "dr", "lab confirmed influenza A"); err != nil {
		t.Fatalf("addendum: %v", err)
	}
	items, err := f.svc.Addenda(ctx, a.ID)
	if err != nil {
		t.Fatalf("addenda: %v", err)
	}
	if len(items) != 1 || items[0].Text != "lab confirmed influenza A" || items[0].Author != "dr" {
		t.Errorf("unexpected addenda %+v", items)
	}

	got, _ := f.svc.GetAppointment(ctx, a.ID)
	if got.Consultation.Diagnosis != "flu" {
		t.Error("addendum must not modify the consultation")
	}
}

// -- Schedules --

func TestGenerateSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := &Schedule{DoctorID: f.doctor, DayOfWeek: "Monday", StartTime: "09:00", EndTime: "10:00", Active: true}
	if err := f.svc.CreateSchedule(ctx, sc); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	if sc.DayOfWeek != "monday" || sc.SlotMinutes != DefaultSlotMinutes {
		t.Errorf("unexpected schedule %+v", sc)
	}
	off := &Schedule{DoctorID: f.doctor, DayOfWeek: "tuesday", StartTime: "09:00", EndTime: "10:00", Active: false}
	if err := f.svc.CreateSchedule(ctx, off); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	// 2025-01-06 and 2025-01-13 are Mondays.
	n, err := f.svc.GenerateSlots(ctx, f.doctor, "2025-01-06", "2025-01-19")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 slots, got %d", n)
	}

	n, err = f.svc.GenerateSlots(ctx, f.doctor, "2025-01-06", "2025-01-19")
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if n != 0 {
		t.Errorf("expected existing slots to be skipped, got %d new", n)
	}
	if f.recorder.generated != 4 {
		t.Errorf("expected recorder to see 4, got %d", f.recorder.generated)
	}
}

func TestGenerateSlots_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		name     string
		from, to string
	}{
		{"inverted", "2025-02-01", "2025-01-01"},
		{"too long", "2025-01-01", "2025-06-01"},
		{"bad date", "2025/01/01", "2025-01-02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.GenerateSlots(ctx, f.doctor, tt.from, tt.to); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCreateSchedule_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		name string
		sc   Schedule
		want error
	}{
		{"bad day", Schedule{DoctorID: f.doctor, DayOfWeek: "funday", StartTime: "09:00", EndTime: "10:00"}, ErrValidation},
		{"end before start", Schedule{DoctorID: f.doctor, DayOfWeek: "monday", StartTime: "10:00", EndTime: "09:00"}, ErrValidation},
		{"tiny slots", Schedule{DoctorID: f.doctor, DayOfWeek: "monday", StartTime: "09:00", EndTime: "10:00", SlotMinutes: 1}, ErrValidation},
		{"end equals start", Schedule{DoctorID: f.doctor, DayOfWeek: "monday", StartTime: "09:00", EndTime: "09:00"}, ErrValidation},
		{"single digit start", Schedule{DoctorID: f.doctor, DayOfWeek: "monday", StartTime: "9:00", EndTime: "17:00"}, ErrValidation},
		{"single digit minute", Schedule{DoctorID: f.doctor, DayOfWeek: "monday", StartTime: "09:00", EndTime: "17:5"}, ErrValidation},
		{"morning to evening", Schedule{DoctorID: f.doctor, DayOfWeek: "tuesday", StartTime: "09:00", EndTime: "17:00"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := tt.sc
			err := f.svc.CreateSchedule(ctx, &sc)
			if tt.want == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	sc := Schedule{DoctorID: f.doctor, DayOfWeek: "friday", StartTime: "09:00", EndTime: "12:00"}
	if err := f.svc.CreateSchedule(ctx, &sc); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := Schedule{DoctorID: f.doctor, DayOfWeek: "friday", StartTime: "13:00", EndTime: "15:00"}
	if err := f.svc.CreateSchedule(ctx, &dup); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for second friday schedule, got %v", err)
	}
	if err := f.svc.DeleteSchedule(ctx, sc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.svc.DeleteSchedule(ctx, sc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestListAppointments_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a1 := f.book(t, f.slot(t, "2025-01-10", "09:00").ID, false)
	f.book(t, f.slot(t, "2025-01-11", "09:00").ID, true)

	items, total, err := f.svc.ListAppointments(ctx, AppointmentFilter{Status: StatusScheduled}, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || items[0].ID != a1.ID {
		t.Errorf("expected only the scheduled appointment, got %d", total)
	}

	_, total, _ = f.svc.ListAppointments(ctx, AppointmentFilter{Date: "2025-01-11"}, 10, 0)
	if total != 1 {
		t.Errorf("expected one appointment on 2025-01-11, got %d", total)
	}

	if _, _, err := f.svc.ListAppointments(ctx, AppointmentFilter{Status: "booked"}, 10, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for unknown status, got %v", err)
	}
}

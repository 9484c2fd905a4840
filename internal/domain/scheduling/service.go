package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxReasonLen   = 1000
	maxAddendumLen = 5000
	maxSlotMinutes = 480
)

// Booking outcomes reported to the Recorder.
const (
	OutcomeBooked          = "booked"
	OutcomeSlotUnavailable = "slot_unavailable"
	OutcomeRejected        = "rejected"
	OutcomeError           = "error"
)

type Service struct {
	slots        SlotRepository
	schedules    ScheduleRepository
	appointments AppointmentRepository
	tx           TxRunner
	participants ParticipantResolver

	logger  zerolog.Logger
	metrics Recorder
	now     func() time.Time
	loc     *time.Location
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }
func WithRecorder(r Recorder) Option     { return func(s *Service) { s.metrics = r } }
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the clinic time zone slot dates and times are read in.
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func NewService(slots SlotRepository, schedules ScheduleRepository, appts AppointmentRepository,
	tx TxRunner, participants ParticipantResolver, opts ...Option) *Service {
	s := &Service{
		slots:        slots,
		schedules:    schedules,
		appointments: appts,
		tx:           tx,
		participants: participants,
		logger:       zerolog.Nop(),
		metrics:      nopRecorder{},
		now:          time.Now,
		loc:          time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) today() string {
	return s.now().In(s.loc).Format(DateLayout)
}

// -- Slot --

func (s *Service) CreateSlot(ctx context.Context, sl *Slot) error {
	if sl.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctorId is required", ErrValidation)
	}
	if err := checkDate("date", sl.Date); err != nil {
		return err
	}
	if err := checkClock("time", sl.Time); err != nil {
		return err
	}
	if sl.DurationMinutes == 0 {
		sl.DurationMinutes = DefaultSlotMinutes
	}
	if sl.DurationMinutes < 0 || sl.DurationMinutes > maxSlotMinutes {
		return fmt.Errorf("%w: durationMinutes must be between 1 and %d", ErrValidation, maxSlotMinutes)
	}
	if err := s.participants.ResolveDoctor(ctx, sl.DoctorID); err != nil {
		return err
	}
	sl.Available = true
	return s.slots.Create(ctx, sl)
}

func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.slots.GetByID(ctx, id)
}

// ListAvailableSlots returns open slots ordered by date and time. Without a
// date or range it lists from today onwards.
func (s *Service) ListAvailableSlots(ctx context.Context, q SlotQuery) ([]*Slot, error) {
	for field, v := range map[string]string{"date": q.Date, "from": q.From, "to": q.To} {
		if v != "" {
			if err := checkDate(field, v); err != nil {
				return nil, err
			}
		}
	}
	if q.Date == "" {
		if q.From == "" {
			q.From = s.today()
		}
		if q.To != "" && q.To < q.From {
			return nil, fmt.Errorf("%w: to is before from", ErrValidation)
		}
	}
	return s.slots.ListAvailable(ctx, q)
}

// -- Schedule --

func (s *Service) CreateSchedule(ctx context.Context, sc *Schedule) error {
	if sc.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctorId is required", ErrValidation)
	}
	sc.DayOfWeek = strings.ToLower(strings.TrimSpace(sc.DayOfWeek))
	if _, ok := weekdays[sc.DayOfWeek]; !ok {
		return fmt.Errorf("%w: invalid dayOfWeek %q", ErrValidation, sc.DayOfWeek)
	}
	start, err := parseClock("startTime", sc.StartTime)
	if err != nil {
		return err
	}
	end, err := parseClock("endTime", sc.EndTime)
	if err != nil {
		return err
	}
	if !end.After(start) {
		return fmt.Errorf("%w: endTime must be after startTime", ErrValidation)
	}
	if sc.SlotMinutes == 0 {
		sc.SlotMinutes = DefaultSlotMinutes
	}
	if sc.SlotMinutes < 5 || sc.SlotMinutes > maxSlotMinutes {
		return fmt.Errorf("%w: slotMinutes must be between 5 and %d", ErrValidation, maxSlotMinutes)
	}
	if err := s.participants.ResolveDoctor(ctx, sc.DoctorID); err != nil {
		return err
	}
	return s.schedules.Create(ctx, sc)
}

func (s *Service) ListSchedules(ctx context.Context, doctorID uuid.UUID) ([]*Schedule, error) {
	return s.schedules.ListByDoctor(ctx, doctorID)
}

func (s *Service) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	return s.schedules.Delete(ctx, id)
}

// GenerateSlots materialises slots from the doctor's active schedules for
// every day in [from, to]. Existing slots are left alone. It returns the
// number of slots created.
func (s *Service) GenerateSlots(ctx context.Context, doctorID uuid.UUID, from, to string) (int, error) {
	if doctorID == uuid.Nil {
		return 0, fmt.Errorf("%w: doctorId is required", ErrValidation)
	}
	start, err := time.Parse(DateLayout, from)
	if err != nil {
		return 0, fmt.Errorf("%w: from must be YYYY-MM-DD", ErrValidation)
	}
	end, err := time.Parse(DateLayout, to)
	if err != nil {
		return 0, fmt.Errorf("%w: to must be YYYY-MM-DD", ErrValidation)
	}
	if end.Before(start) {
		return 0, fmt.Errorf("%w: to is before from", ErrValidation)
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > MaxGenerateDays {
		return 0, fmt.Errorf("%w: range spans %d days, at most %d allowed", ErrValidation, days, MaxGenerateDays)
	}
	if err := s.participants.ResolveDoctor(ctx, doctorID); err != nil {
		return 0, err
	}

	schedules, err := s.schedules.ListByDoctor(ctx, doctorID)
	if err != nil {
		return 0, err
	}
	byDay := make(map[time.Weekday]*Schedule)
	for _, sc := range schedules {
		if sc.Active {
			byDay[weekdays[sc.DayOfWeek]] = sc
		}
	}

	created := 0
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			sc, ok := byDay[d.Weekday()]
			if !ok {
				continue
			}
			for _, t := range sc.SlotTimes() {
				ok, err := s.slots.CreateIfAbsent(ctx, &Slot{
					DoctorID:        doctorID,
					Date:            d.Format(DateLayout),
					Time:            t,
					DurationMinutes: sc.SlotMinutes,
					Available:       true,
				})
				if err != nil {
					return err
				}
				if ok {
					created++
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.SlotsGenerated(created)
	s.logger.Info().
		Str("doctor_id", doctorID.String()).
		Str("from", from).
		Str("to", to).
		Int("created", created).
		Msg("slots generated")
	return created, nil
}

// -- Booking --

func (s *Service) validateBooking(req *BookingRequest) error {
	if req.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patientId is required", ErrValidation)
	}
	if req.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctorId is required", ErrValidation)
	}
	if req.SlotID == uuid.Nil {
		return fmt.Errorf("%w: slotId is required", ErrValidation)
	}
	if req.Type == "" {
		req.Type = TypeConsultation
	}
	if !validTypes[req.Type] {
		return fmt.Errorf("%w: invalid appointment type %q", ErrValidation, req.Type)
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if len(req.Reason) > maxReasonLen {
		return fmt.Errorf("%w: reason exceeds %d characters", ErrValidation, maxReasonLen)
	}
	return nil
}

// Book reserves the slot and creates the appointment in one transaction. A
// lost reservation race surfaces as ErrSlotUnavailable and is never retried.
func (s *Service) Book(ctx context.Context, req BookingRequest, actor string) (*Appointment, error) {
	if err := s.validateBooking(&req); err != nil {
		s.metrics.BookingAttempt(OutcomeRejected)
		return nil, err
	}

	var appt *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.participants.ResolvePatient(ctx, req.PatientID); err != nil {
			return err
		}
		if err := s.participants.ResolveDoctor(ctx, req.DoctorID); err != nil {
			return err
		}

		slot, err := s.slots.GetByID(ctx, req.SlotID)
		if err != nil {
			return err
		}
		if slot.DoctorID != req.DoctorID {
			return fmt.Errorf("%w: slot %s does not belong to doctor %s", ErrValidation, slot.ID, req.DoctorID)
		}
		startsAt, err := slot.StartsAt(s.loc)
		if err != nil {
			return err
		}
		if !startsAt.After(s.now()) {
			return fmt.Errorf("%w: slot %s has already started", ErrValidation, slot.ID)
		}

		if _, err := s.slots.Reserve(ctx, slot.ID); err != nil {
			return err
		}

		status := StatusScheduled
		if req.RequiresConfirmation {
			status = StatusPending
		}
		appt = &Appointment{
			PatientID: req.PatientID,
			DoctorID:  req.DoctorID,
			SlotID:    slot.ID,
			Date:      slot.Date,
			Time:      slot.Time,
			Type:      req.Type,
			Status:    status,
			Reason:    req.Reason,
		}
		if err := s.appointments.Create(ctx, appt); err != nil {
			return err
		}
		return s.appointments.RecordStatusChange(ctx, &StatusChange{
			AppointmentID: appt.ID,
			To:            status,
			Actor:         actor,
		})
	})

	switch {
	case err == nil:
		s.metrics.BookingAttempt(OutcomeBooked)
	case errors.Is(err, ErrSlotUnavailable):
		s.metrics.BookingAttempt(OutcomeSlotUnavailable)
		s.logger.Info().Str("slot_id", req.SlotID.String()).Msg("booking lost slot race")
		return nil, err
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		s.metrics.BookingAttempt(OutcomeRejected)
		return nil, err
	default:
		s.metrics.BookingAttempt(OutcomeError)
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("slot_id", appt.SlotID.String()).
		Str("status", string(appt.Status)).
		Msg("appointment booked")
	return appt, nil
}

// -- Lifecycle --

type transitionSpec struct {
	to     Status
	reason *string
	// guard runs after the terminal check and may reject with ErrInvalidState.
	guard  func(a *Appointment) error
	mutate func(a *Appointment, now time.Time)
	// after runs inside the transaction once the appointment is saved.
	after func(ctx context.Context, a *Appointment) error
}

// transition locks the appointment row, checks the state machine, applies the
// change and appends the history entry in one transaction.
func (s *Service) transition(ctx context.Context, id uuid.UUID, actor string, spec transitionSpec) (*Appointment, error) {
	var (
		out  *Appointment
		from Status
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = a.Status
		if from.Terminal() {
			return fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, from)
		}
		if spec.guard != nil {
			if err := spec.guard(a); err != nil {
				return err
			}
		}
		if !from.CanTransitionTo(spec.to) {
			return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidTransition, from, spec.to)
		}

		if spec.mutate != nil {
			spec.mutate(a, s.now().UTC())
		}
		a.Status = spec.to
		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}
		if spec.after != nil {
			if err := spec.after(ctx, a); err != nil {
				return err
			}
		}
		prev := from
		if err := s.appointments.RecordStatusChange(ctx, &StatusChange{
			AppointmentID: a.ID,
			From:          &prev,
			To:            spec.to,
			Actor:         actor,
			Reason:        spec.reason,
		}); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transition(string(from), string(spec.to))
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", string(from)).
		Str("to", string(spec.to)).
		Str("actor", actor).
		Msg("appointment status changed")
	return out, nil
}

// requireState turns a wrong non-terminal state into ErrInvalidState.
func requireState(want Status) func(a *Appointment) error {
	return func(a *Appointment) error {
		if a.Status != want {
			return fmt.Errorf("%w: appointment is %s, expected %s", ErrInvalidState, a.Status, want)
		}
		return nil
	}
}

// Confirm accepts a pending booking.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor string) (*Appointment, error) {
	return s.transition(ctx, id, actor, transitionSpec{to: StatusScheduled})
}

func (s *Service) Start(ctx context.Context, id uuid.UUID, actor string) (*Appointment, error) {
	return s.transition(ctx, id, actor, transitionSpec{
		to:    StatusInProgress,
		guard: requireState(StatusScheduled),
		mutate: func(a *Appointment, now time.Time) {
			a.StartedAt = &now
		},
	})
}

// Complete records the consultation and closes the visit.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor string, c Consultation) (*Appointment, error) {
	c.Notes = strings.TrimSpace(c.Notes)
	c.Diagnosis = strings.TrimSpace(c.Diagnosis)
	c.Prescription = strings.TrimSpace(c.Prescription)
	c.ChiefComplaint = strings.TrimSpace(c.ChiefComplaint)
	if c.FollowUpDate != nil && *c.FollowUpDate == "" {
		c.FollowUpDate = nil
	}
	inProgress := requireState(StatusInProgress)

	// The payload is checked after the state so a closed or not yet started
	// visit reports its state rather than a validation error.
	return s.transition(ctx, id, actor, transitionSpec{
		to: StatusCompleted,
		guard: func(a *Appointment) error {
			if err := inProgress(a); err != nil {
				return err
			}
			if c.empty() {
				return fmt.Errorf("%w: one of notes, diagnosis or prescription is required", ErrValidation)
			}
			if c.FollowUpDate != nil {
				return checkDate("followUpDate", *c.FollowUpDate)
			}
			return nil
		},
		mutate: func(a *Appointment, now time.Time) {
			a.Consultation = &c
			a.CompletedAt = &now
		},
	})
}

// Cancel frees the slot for rebooking.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor, reason string) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLen {
		return nil, fmt.Errorf("%w: reason exceeds %d characters", ErrValidation, maxReasonLen)
	}
	var rp *string
	if reason != "" {
		rp = &reason
	}
	return s.transition(ctx, id, actor, transitionSpec{
		to:     StatusCancelled,
		reason: rp,
		mutate: func(a *Appointment, now time.Time) {
			a.CancellationReason = rp
			a.CancelledAt = &now
		},
		after: func(ctx context.Context, a *Appointment) error {
			return s.slots.Release(ctx, a.SlotID)
		},
	})
}

// MarkNoShow is allowed once the slot's start time has passed. The slot stays
// taken.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID, actor string) (*Appointment, error) {
	return s.transition(ctx, id, actor, transitionSpec{
		to: StatusNoShow,
		guard: func(a *Appointment) error {
			if a.Status != StatusScheduled {
				return nil
			}
			startsAt, err := time.ParseInLocation(DateLayout+" "+ClockLayout, a.Date+" "+a.Time, s.loc)
			if err != nil {
				return err
			}
			if s.now().Before(startsAt) {
				return fmt.Errorf("%w: appointment time has not passed", ErrInvalidState)
			}
			return nil
		},
	})
}

// -- Queries --

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: invalid status %q", ErrValidation, f.Status)
	}
	if f.Date != "" {
		if err := checkDate("date", f.Date); err != nil {
			return nil, 0, err
		}
	}
	return s.appointments.List(ctx, f, limit, offset)
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*StatusChange, error) {
	if _, err := s.appointments.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.appointments.History(ctx, id)
}

// AddAddendum appends a note to a completed consultation.
func (s *Service) AddAddendum(ctx context.Context, id uuid.UUID, author, text string) (*Addendum, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrValidation)
	}
	if len(text) > maxAddendumLen {
		return nil, fmt.Errorf("%w: text exceeds %d characters", ErrValidation, maxAddendumLen)
	}

	add := &Addendum{AppointmentID: id, Author: author, Text: text}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusCompleted {
			return fmt.Errorf("%w: addenda require a completed appointment, this one is %s", ErrInvalidState, a.Status)
		}
		return s.appointments.AddAddendum(ctx, add)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", id.String()).Str("author", author).Msg("consultation addendum added")
	return add, nil
}

func (s *Service) Addenda(ctx context.Context, id uuid.UUID) ([]*Addendum, error) {
	if _, err := s.appointments.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.appointments.Addenda(ctx, id)
}

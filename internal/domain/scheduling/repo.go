package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type SlotRepository interface {
	Create(ctx context.Context, s *Slot) error
	// CreateIfAbsent inserts s unless its (doctor, date, time) exists and
	// reports whether a row was written.
	CreateIfAbsent(ctx context.Context, s *Slot) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListAvailable(ctx context.Context, q SlotQuery) ([]*Slot, error)
	// Reserve flips available from true to false atomically. It returns
	// ErrSlotUnavailable when the slot is already taken.
	Reserve(ctx context.Context, id uuid.UUID) (*Slot, error)
	Release(ctx context.Context, id uuid.UUID) error
}

type ScheduleRepository interface {
	Create(ctx context.Context, s *Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Schedule, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate loads the appointment and holds it against concurrent
	// transitions until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)

	RecordStatusChange(ctx context.Context, c *StatusChange) error
	History(ctx context.Context, appointmentID uuid.UUID) ([]*StatusChange, error)
	AddAddendum(ctx context.Context, a *Addendum) error
	Addenda(ctx context.Context, appointmentID uuid.UUID) ([]*Addendum, error)
}

// TxRunner runs fn so that all repository calls made with the context it
// receives commit or roll back together.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ParticipantResolver checks the people named in a booking. Implementations
// return ErrNotFound for unknown ids and ErrValidation when the staff member
// cannot take appointments.
type ParticipantResolver interface {
	ResolvePatient(ctx context.Context, id uuid.UUID) error
	ResolveDoctor(ctx context.Context, id uuid.UUID) error
}

// Recorder receives business events for metrics.
type Recorder interface {
	BookingAttempt(outcome string)
	Transition(from, to string)
	SlotsGenerated(n int)
}

type nopRecorder struct{}

func (nopRecorder) BookingAttempt(string) {}
func (nopRecorder) Transition(string, string) {}
func (nopRecorder) SlotsGenerated(int) {}

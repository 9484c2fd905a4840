package scheduling

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidState      = errors.New("invalid state")
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"

	DefaultSlotMinutes = 30
	// MaxGenerateDays bounds a single GenerateSlots call.
	MaxGenerateDays = 92
)

// Appointment types, from the booking form.
const (
	TypeInitialVisit = "initial_visit"
	TypeFollowUp     = "follow_up"
	TypeConsultation = "consultation"
	TypeProcedure    = "procedure"
)

var validTypes = map[string]bool{
	TypeInitialVisit: true, TypeFollowUp: true, TypeConsultation: true, TypeProcedure: true,
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// Slot is one bookable (doctor, date, time). Available flips to false when an
// appointment holds it.
type Slot struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctorId"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	DurationMinutes int       `json:"durationMinutes"`
	Available       bool      `json:"available"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// StartsAt returns the slot start in loc.
func (s *Slot) StartsAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+ClockLayout, s.Date+" "+s.Time, loc)
}

// Schedule is a doctor's recurring working hours on one weekday.
type Schedule struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctorId"`
	DayOfWeek   string    `json:"dayOfWeek"`
	StartTime   string    `json:"startTime"`
	EndTime     string    `json:"endTime"`
	SlotMinutes int       `json:"slotMinutes"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SlotTimes returns the HH:MM start of every slot that fits in the window.
func (s *Schedule) SlotTimes() []string {
	start, err1 := time.Parse(ClockLayout, s.StartTime)
	end, err2 := time.Parse(ClockLayout, s.EndTime)
	if err1 != nil || err2 != nil || s.SlotMinutes <= 0 {
		return nil
	}
	step := time.Duration(s.SlotMinutes) * time.Minute
	var out []string
	for t := start; !t.Add(step).After(end); t = t.Add(step) {
		out = append(out, t.Format(ClockLayout))
	}
	return out
}

// Consultation is the clinical record written when a visit completes.
type Consultation struct {
	ChiefComplaint string  `json:"chiefComplaint,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	Diagnosis      string  `json:"diagnosis,omitempty"`
	Prescription   string  `json:"prescription,omitempty"`
	FollowUpNeeded bool    `json:"followUpNeeded"`
	FollowUpDate   *string `json:"followUpDate,omitempty"`
}

func (c *Consultation) empty() bool {
	return c.Notes == "" && c.Diagnosis == "" && c.Prescription == ""
}

type Appointment struct {
	ID                 uuid.UUID     `json:"id"`
	PatientID          uuid.UUID     `json:"patientId"`
	DoctorID           uuid.UUID     `json:"doctorId"`
	SlotID             uuid.UUID     `json:"slotId"`
	Date               string        `json:"date"`
	Time               string        `json:"time"`
	Type               string        `json:"type"`
	Status             Status        `json:"status"`
	Reason             string        `json:"reason"`
	CancellationReason *string       `json:"cancellationReason,omitempty"`
	Consultation       *Consultation `json:"consultation,omitempty"`
	StartedAt          *time.Time    `json:"startedAt,omitempty"`
	CompletedAt        *time.Time    `json:"completedAt,omitempty"`
	CancelledAt        *time.Time    `json:"cancelledAt,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// StatusChange is one entry of an appointment's history.
type StatusChange struct {
	ID            int64     `json:"id"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	From          *Status   `json:"from,omitempty"`
	To            Status    `json:"to"`
	Actor         string    `json:"actor"`
	Reason        *string   `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

// Addendum is appended to a completed consultation. The consultation itself
// is never edited.
type Addendum struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	Author        string    `json:"author"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"createdAt"`
}

type BookingRequest struct {
	PatientID            uuid.UUID
	DoctorID             uuid.UUID
	SlotID               uuid.UUID
	Reason               string
	Type                 string
	RequiresConfirmation bool
}

// SlotQuery selects available slots. Date wins over From/To.
type SlotQuery struct {
	DoctorID *uuid.UUID
	Date     string
	From     string
	To       string
}

type AppointmentFilter struct {
	Status    Status
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Date      string
}

// parseExact parses v and rejects any spelling other than the layout's own,
// so "9:00" is not accepted as "09:00". Slots are keyed and ordered on the
// stored string.
func parseExact(layout, v string) (time.Time, bool) {
	t, err := time.Parse(layout, v)
	return t, err == nil && t.Format(layout) == v
}

func checkDate(field, v string) error {
	if _, ok := parseExact(DateLayout, v); !ok {
		return fmt.Errorf("%w: %s must be YYYY-MM-DD", ErrValidation, field)
	}
	return nil
}

func parseClock(field, v string) (time.Time, error) {
	t, ok := parseExact(ClockLayout, v)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s must be HH:MM", ErrValidation, field)
	}
	return t, nil
}

func checkClock(field, v string) error {
	_, err := parseClock(field, v)
	return err
}

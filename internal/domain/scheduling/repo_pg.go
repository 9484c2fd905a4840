package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

const activeSlotConstraint = "appointment_active_slot_key"

// =========== Slot Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository { return &slotRepoPG{pool: pool} }

const slotCols = `id, doctor_id, to_char(slot_date, 'YYYY-MM-DD'), to_char(slot_time, 'HH24:MI'),
	duration_minutes, available, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.DoctorID, &s.Date, &s.Time, &s.DurationMinutes, &s.Available, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *slotRepoPG) Create(ctx context.Context, s *Slot) error {
	s.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO slot (id, doctor_id, slot_date, slot_time, duration_minutes, available)
		VALUES ($1, $2, $3::date, $4::time, $5, $6)
		RETURNING created_at, updated_at`,
		s.ID, s.DoctorID, s.Date, s.Time, s.DurationMinutes, s.Available,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return fmt.Errorf("%w: doctor already has a slot on %s at %s", ErrConflict, s.Date, s.Time)
	}
	return err
}

func (r *slotRepoPG) CreateIfAbsent(ctx context.Context, s *Slot) (bool, error) {
	s.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO slot (id, doctor_id, slot_date, slot_time, duration_minutes, available)
		VALUES ($1, $2, $3::date, $4::time, $5, $6)
		ON CONFLICT ON CONSTRAINT slot_doctor_date_time_key DO NOTHING
		RETURNING created_at, updated_at`,
		s.ID, s.DoctorID, s.Date, s.Time, s.DurationMinutes, s.Available,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if db.IsNoRows(err) {
		return false, nil
	}
	return err == nil, err
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, err := scanSlot(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+slotCols+` FROM slot WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("%w: slot %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *slotRepoPG) ListAvailable(ctx context.Context, q SlotQuery) ([]*Slot, error) {
	query := `SELECT ` + slotCols + ` FROM slot WHERE available`
	var args []interface{}
	idx := 1

	if q.DoctorID != nil {
		query += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, *q.DoctorID)
		idx++
	}
	if q.Date != "" {
		query += fmt.Sprintf(` AND slot_date = $%d::date`, idx)
		args = append(args, q.Date)
		idx++
	} else {
		if q.From != "" {
			query += fmt.Sprintf(` AND slot_date >= $%d::date`, idx)
			args = append(args, q.From)
			idx++
		}
		if q.To != "" {
			query += fmt.Sprintf(` AND slot_date <= $%d::date`, idx)
			args = append(args, q.To)
			idx++
		}
	}
	query += ` ORDER BY slot_date, slot_time, doctor_id`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// Reserve is a compare-and-swap on available. Of any number of concurrent
// callers exactly one sees the row come back.
func (r *slotRepoPG) Reserve(ctx context.Context, id uuid.UUID) (*Slot, error) {
	conn := db.Conn(ctx, r.pool)
	s, err := scanSlot(conn.QueryRow(ctx, `
		UPDATE slot SET available = FALSE, updated_at = NOW()
		WHERE id = $1 AND available
		RETURNING `+slotCols, id))
	if err == nil {
		return s, nil
	}
	if !db.IsNoRows(err) {
		return nil, err
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM slot WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: slot %s", ErrNotFound, id)
	}
	return nil, fmt.Errorf("%w: slot %s is already booked", ErrSlotUnavailable, id)
}

func (r *slotRepoPG) Release(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE slot SET available = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: slot %s", ErrNotFound, id)
	}
	return nil
}

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

const scheduleCols = `id, doctor_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
	slot_minutes, active, created_at, updated_at`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.DoctorID, &s.DayOfWeek, &s.StartTime, &s.EndTime,
		&s.SlotMinutes, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *Schedule) error {
	s.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO schedule (id, doctor_id, day_of_week, start_time, end_time, slot_minutes, active)
		VALUES ($1, $2, $3, $4::time, $5::time, $6, $7)
		RETURNING created_at, updated_at`,
		s.ID, s.DoctorID, s.DayOfWeek, s.StartTime, s.EndTime, s.SlotMinutes, s.Active,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return fmt.Errorf("%w: doctor already has a %s schedule", ErrConflict, s.DayOfWeek)
	}
	return err
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	s, err := scanSchedule(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+scheduleCols+` FROM schedule WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("%w: schedule %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *scheduleRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Schedule, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+scheduleCols+` FROM schedule
		WHERE doctor_id = $1 ORDER BY start_time, day_of_week`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *scheduleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM schedule WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %s", ErrNotFound, id)
	}
	return nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptSelect = `SELECT a.id, a.patient_id, a.doctor_id, a.slot_id,
	to_char(s.slot_date, 'YYYY-MM-DD'), to_char(s.slot_time, 'HH24:MI'),
	a.appointment_type, a.status, a.reason, a.cancellation_reason,
	a.chief_complaint, a.consultation_notes, a.diagnosis, a.prescription,
	a.follow_up_needed, to_char(a.follow_up_date, 'YYYY-MM-DD'),
	a.started_at, a.completed_at, a.cancelled_at, a.created_at, a.updated_at
	FROM appointment a JOIN slot s ON s.id = a.slot_id`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	var complaint, notes, diagnosis, prescription, followUpDate *string
	var followUp bool
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.SlotID, &a.Date, &a.Time,
		&a.Type, &status, &a.Reason, &a.CancellationReason,
		&complaint, &notes, &diagnosis, &prescription, &followUp, &followUpDate,
		&a.StartedAt, &a.CompletedAt, &a.CancelledAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	if a.CompletedAt != nil || notes != nil || diagnosis != nil || prescription != nil {
		a.Consultation = &Consultation{
			ChiefComplaint: deref(complaint),
			Notes:          deref(notes),
			Diagnosis:      deref(diagnosis),
			Prescription:   deref(prescription),
			FollowUpNeeded: followUp,
			FollowUpDate:   followUpDate,
		}
	}
	return &a, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, slot_id, appointment_type, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.SlotID, a.Type, string(a.Status), a.Reason,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if constraint, ok := db.UniqueViolation(err); ok && constraint == activeSlotConstraint {
		return fmt.Errorf("%w: slot %s already has an appointment", ErrSlotUnavailable, a.SlotID)
	}
	return err
}

func (r *appointmentRepoPG) get(ctx context.Context, id uuid.UUID, suffix string) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, apptSelect+` WHERE a.id = $1`+suffix, id))
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	return a, err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, id, "")
}

func (r *appointmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, fmt.Errorf("GetForUpdate requires a transaction")
	}
	return r.get(ctx, id, ` FOR UPDATE OF a`)
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	c := a.Consultation
	if c == nil {
		c = &Consultation{}
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointment SET status = $2, reason = $3, cancellation_reason = $4,
			chief_complaint = $5, consultation_notes = $6, diagnosis = $7, prescription = $8,
			follow_up_needed = $9, follow_up_date = $10::date,
			started_at = $11, completed_at = $12, cancelled_at = $13, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, string(a.Status), a.Reason, a.CancellationReason,
		nullable(c.ChiefComplaint), nullable(c.Notes), nullable(c.Diagnosis), nullable(c.Prescription),
		c.FollowUpNeeded, c.FollowUpDate,
		a.StartedAt, a.CompletedAt, a.CancelledAt,
	).Scan(&a.UpdatedAt)
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Status != "" {
		where += fmt.Sprintf(` AND a.status = $%d`, idx)
		args = append(args, string(f.Status))
		idx++
	}
	if f.DoctorID != nil {
		where += fmt.Sprintf(` AND a.doctor_id = $%d`, idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(` AND a.patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.Date != "" {
		where += fmt.Sprintf(` AND s.slot_date = $%d::date`, idx)
		args = append(args, f.Date)
		idx++
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM appointment a JOIN slot s ON s.id = a.slot_id`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := apptSelect + where + fmt.Sprintf(` ORDER BY s.slot_date, s.slot_time, a.created_at LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) RecordStatusChange(ctx context.Context, c *StatusChange) error {
	var from *string
	if c.From != nil {
		s := string(*c.From)
		from = &s
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment_status_change (appointment_id, from_status, to_status, actor, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		c.AppointmentID, from, string(c.To), c.Actor, c.Reason,
	).Scan(&c.ID, &c.At)
}

func (r *appointmentRepoPG) History(ctx context.Context, appointmentID uuid.UUID) ([]*StatusChange, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, appointment_id, from_status, to_status, actor, reason, created_at
		FROM appointment_status_change WHERE appointment_id = $1 ORDER BY id`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StatusChange
	for rows.Next() {
		var (
			c    StatusChange
			from *string
			to   string
		)
		if err := rows.Scan(&c.ID, &c.AppointmentID, &from, &to, &c.Actor, &c.Reason, &c.At); err != nil {
			return nil, err
		}
		c.To = Status(to)
		if from != nil {
			f := Status(*from)
			c.From = &f
		}
		items = append(items, &c)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) AddAddendum(ctx context.Context, a *Addendum) error {
	a.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO consultation_addendum (id, appointment_id, author, body)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		a.ID, a.AppointmentID, a.Author, a.Text,
	).Scan(&a.CreatedAt)
}

func (r *appointmentRepoPG) Addenda(ctx context.Context, appointmentID uuid.UUID) ([]*Addendum, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, appointment_id, author, body, created_at
		FROM consultation_addendum WHERE appointment_id = $1 ORDER BY created_at, id`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Addendum
	for rows.Next() {
		var a Addendum
		if err := rows.Scan(&a.ID, &a.AppointmentID, &a.Author, &a.Text, &a.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}


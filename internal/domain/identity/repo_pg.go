package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

// mapErr translates driver errors into package sentinels.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if db.IsNoRows(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	if constraint, ok := db.UniqueViolation(err); ok {
		return fmt.Errorf("%w: %s violates %s", ErrConflict, what, constraint)
	}
	return err
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

const patientCols = `id, first_name, last_name, to_char(date_of_birth, 'YYYY-MM-DD'), gender,
	email, phone, address, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Gender,
		&p.Email, &p.Phone, &p.Address, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (id, first_name, last_name, date_of_birth, gender, email, phone, address)
		VALUES ($1,$2,$3,$4::date,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Gender, p.Email, p.Phone, p.Address,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err, "patient")
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "patient "+id.String())
	}
	return p, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patient SET first_name=$2, last_name=$3, date_of_birth=$4::date, gender=$5,
			email=$6, phone=$7, address=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Gender, p.Email, p.Phone, p.Address,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err, "patient "+p.ID.String())
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+patientCols+` FROM patient
		ORDER BY last_name, first_name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Staff Repository ===========

type staffRepoPG struct{ pool *pgxpool.Pool }

func NewStaffRepoPG(pool *pgxpool.Pool) StaffRepository { return &staffRepoPG{pool: pool} }

const staffCols = `id, first_name, last_name, role, specialization, email, phone, status, created_at, updated_at`

func scanStaff(row pgx.Row) (*Staff, error) {
	var s Staff
	err := row.Scan(&s.ID, &s.FirstName, &s.LastName, &s.Role, &s.Specialization,
		&s.Email, &s.Phone, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *staffRepoPG) Create(ctx context.Context, s *Staff) error {
	s.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO staff (id, first_name, last_name, role, specialization, email, phone, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		s.ID, s.FirstName, s.LastName, s.Role, s.Specialization, s.Email, s.Phone, s.Status,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return mapErr(err, "staff")
}

func (r *staffRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Staff, error) {
	s, err := scanStaff(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+staffCols+` FROM staff WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "staff "+id.String())
	}
	return s, nil
}

func (r *staffRepoPG) Update(ctx context.Context, s *Staff) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE staff SET first_name=$2, last_name=$3, role=$4, specialization=$5,
			email=$6, phone=$7, status=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		s.ID, s.FirstName, s.LastName, s.Role, s.Specialization, s.Email, s.Phone, s.Status,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return mapErr(err, "staff "+s.ID.String())
}

func (r *staffRepoPG) List(ctx context.Context, filter StaffFilter, limit, offset int) ([]*Staff, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if filter.Role != "" {
		where += fmt.Sprintf(` AND role = $%d`, idx)
		args = append(args, filter.Role)
		idx++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, filter.Status)
		idx++
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM staff`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + staffCols + ` FROM staff` + where +
		fmt.Sprintf(` ORDER BY last_name, first_name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Staff
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

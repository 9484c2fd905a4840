package identity

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	patients PatientRepository
	staff    StaffRepository
}

func NewService(patients PatientRepository, staff StaffRepository) *Service {
	return &Service{patients: patients, staff: staff}
}

// -- Patient --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := normalizePatient(p); err != nil {
		return err
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if _, err := s.patients.GetByID(ctx, p.ID); err != nil {
		return err
	}
	if err := normalizePatient(p); err != nil {
		return err
	}
	return s.patients.Update(ctx, p)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

func normalizePatient(p *Patient) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("%w: firstName and lastName are required", ErrValidation)
	}
	if err := checkEmail(&p.Email); err != nil {
		return err
	}
	if p.Gender != nil && *p.Gender != "" && !validGenders[*p.Gender] {
		return fmt.Errorf("%w: invalid gender %q", ErrValidation, *p.Gender)
	}
	if p.DateOfBirth != nil && *p.DateOfBirth != "" {
		dob, err := time.Parse("2006-01-02", *p.DateOfBirth)
		if err != nil {
			return fmt.Errorf("%w: dateOfBirth must be YYYY-MM-DD", ErrValidation)
		}
		if dob.After(time.Now()) {
			return fmt.Errorf("%w: dateOfBirth is in the future", ErrValidation)
		}
	}
	return nil
}

// -- Staff --

func (s *Service) CreateStaff(ctx context.Context, st *Staff) error {
	if st.Status == "" {
		st.Status = StatusActive
	}
	if err := normalizeStaff(st); err != nil {
		return err
	}
	return s.staff.Create(ctx, st)
}

func (s *Service) GetStaff(ctx context.Context, id uuid.UUID) (*Staff, error) {
	return s.staff.GetByID(ctx, id)
}

func (s *Service) UpdateStaff(ctx context.Context, st *Staff) error {
	existing, err := s.staff.GetByID(ctx, st.ID)
	if err != nil {
		return err
	}
	if st.Status == "" {
		st.Status = existing.Status
	}
	if err := normalizeStaff(st); err != nil {
		return err
	}
	return s.staff.Update(ctx, st)
}

func (s *Service) ListStaff(ctx context.Context, filter StaffFilter, limit, offset int) ([]*Staff, int, error) {
	if filter.Role != "" && !validRoles[filter.Role] {
		return nil, 0, fmt.Errorf("%w: invalid role %q", ErrValidation, filter.Role)
	}
	if filter.Status != "" && !validStaffStatuses[filter.Status] {
		return nil, 0, fmt.Errorf("%w: invalid status %q", ErrValidation, filter.Status)
	}
	return s.staff.List(ctx, filter, limit, offset)
}

func normalizeStaff(st *Staff) error {
	st.FirstName = strings.TrimSpace(st.FirstName)
	st.LastName = strings.TrimSpace(st.LastName)
	if st.FirstName == "" || st.LastName == "" {
		return fmt.Errorf("%w: firstName and lastName are required", ErrValidation)
	}
	if !validRoles[st.Role] {
		return fmt.Errorf("%w: invalid role %q", ErrValidation, st.Role)
	}
	if !validStaffStatuses[st.Status] {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, st.Status)
	}
	return checkEmail(&st.Email)
}

func checkEmail(email *string) error {
	*email = strings.ToLower(strings.TrimSpace(*email))
	if *email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if _, err := mail.ParseAddress(*email); err != nil {
		return fmt.Errorf("%w: invalid email %q", ErrValidation, *email)
	}
	return nil
}

package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

const (
	RoleDoctor        = "doctor"
	RoleNurse         = "nurse"
	RolePharmacist    = "pharmacist"
	RoleLabTechnician = "lab_technician"
	RoleAdmin         = "admin"
	RoleReceptionist  = "receptionist"

	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusOnLeave  = "on_leave"
)

var validRoles = map[string]bool{
	RoleDoctor: true, RoleNurse: true, RolePharmacist: true,
	RoleLabTechnician: true, RoleAdmin: true, RoleReceptionist: true,
}

var validStaffStatuses = map[string]bool{
	StatusActive: true, StatusInactive: true, StatusOnLeave: true,
}

var validGenders = map[string]bool{"M": true, "F": true, "O": true}

// Patient maps to the patient table.
type Patient struct {
	ID          uuid.UUID `json:"id"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	DateOfBirth *string   `json:"dateOfBirth,omitempty"`
	Gender      *string   `json:"gender,omitempty"`
	Email       string    `json:"email"`
	Phone       *string   `json:"phone,omitempty"`
	Address     *string   `json:"address,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// FullName returns "First Last".
func (p *Patient) FullName() string { return p.FirstName + " " + p.LastName }

// Staff maps to the staff table. Doctors are staff with RoleDoctor.
type Staff struct {
	ID             uuid.UUID `json:"id"`
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName"`
	Role           string    `json:"role"`
	Specialization *string   `json:"specialization,omitempty"`
	Email          string    `json:"email"`
	Phone          *string   `json:"phone,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// FullName returns "First Last".
func (s *Staff) FullName() string { return s.FirstName + " " + s.LastName }

// IsActiveDoctor reports whether the staff member can take appointments.
func (s *Staff) IsActiveDoctor() bool {
	return s.Role == RoleDoctor && s.Status == StatusActive
}

// StaffFilter narrows staff listings.
type StaffFilter struct {
	Role   string
	Status string
}

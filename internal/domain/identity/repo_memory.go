package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore backs both repositories with maps. Used with STORAGE=memory and
// in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]*Patient
	staff    map[uuid.UUID]*Staff
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patients: make(map[uuid.UUID]*Patient),
		staff:    make(map[uuid.UUID]*Staff),
	}
}

func (m *MemoryStore) Patients() PatientRepository { return memPatients{m} }
func (m *MemoryStore) Staff() StaffRepository      { return memStaff{m} }

type memPatients struct{ m *MemoryStore }

func (r memPatients) emailTaken(email string, except uuid.UUID) bool {
	for id, p := range r.m.patients {
		if id != except && p.Email == email {
			return true
		}
	}
	return false
}

func (r memPatients) Create(_ context.Context, p *Patient) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.emailTaken(p.Email, uuid.Nil) {
		return fmt.Errorf("%w: patient email %s already registered", ErrConflict, p.Email)
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	r.m.patients[p.ID] = &cp
	return nil
}

func (r memPatients) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	p, ok := r.m.patients[id]
	if !ok {
		return nil, fmt.Errorf("%w: patient %s", ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (r memPatients) Update(_ context.Context, p *Patient) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	existing, ok := r.m.patients[p.ID]
	if !ok {
		return fmt.Errorf("%w: patient %s", ErrNotFound, p.ID)
	}
	if r.emailTaken(p.Email, p.ID) {
		return fmt.Errorf("%w: patient email %s already registered", ErrConflict, p.Email)
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	r.m.patients[p.ID] = &cp
	return nil
}

func (r memPatients) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	r.m.mu.RLock()
	all := make([]*Patient, 0, len(r.m.patients))
	for _, p := range r.m.patients {
		cp := *p
		all = append(all, &cp)
	}
	r.m.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		if all[i].LastName != all[j].LastName {
			return all[i].LastName < all[j].LastName
		}
		return all[i].FirstName < all[j].FirstName
	})
	return page(all, limit, offset), len(all), nil
}

type memStaff struct{ m *MemoryStore }

func (r memStaff) emailTaken(email string, except uuid.UUID) bool {
	for id, s := range r.m.staff {
		if id != except && s.Email == email {
			return true
		}
	}
	return false
}

func (r memStaff) Create(_ context.Context, s *Staff) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.emailTaken(s.Email, uuid.Nil) {
		return fmt.Errorf("%w: staff email %s already registered", ErrConflict, s.Email)
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	r.m.staff[s.ID] = &cp
	return nil
}

func (r memStaff) GetByID(_ context.Context, id uuid.UUID) (*Staff, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	s, ok := r.m.staff[id]
	if !ok {
		return nil, fmt.Errorf("%w: staff %s", ErrNotFound, id)
	}
	cp := *s
	return &cp, nil
}

func (r memStaff) Update(_ context.Context, s *Staff) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	existing, ok := r.m.staff[s.ID]
	if !ok {
		return fmt.Errorf("%w: staff %s", ErrNotFound, s.ID)
	}
	if r.emailTaken(s.Email, s.ID) {
		return fmt.Errorf("%w: staff email %s already registered", ErrConflict, s.Email)
	}
	s.CreatedAt = existing.CreatedAt
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	r.m.staff[s.ID] = &cp
	return nil
}

func (r memStaff) List(_ context.Context, filter StaffFilter, limit, offset int) ([]*Staff, int, error) {
	r.m.mu.RLock()
	var all []*Staff
	for _, s := range r.m.staff {
		if filter.Role != "" && s.Role != filter.Role {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		cp := *s
		all = append(all, &cp)
	}
	r.m.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		if all[i].LastName != all[j].LastName {
			return all[i].LastName < all[j].LastName
		}
		return all[i].FirstName < all[j].FirstName
	})
	return page(all, limit, offset), len(all), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

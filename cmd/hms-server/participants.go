package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/scheduling"
)

// participantAdapter lets scheduling check patients and doctors without
// importing the identity package.
type participantAdapter struct {
	svc *identity.Service
}

func newParticipantAdapter(svc *identity.Service) *participantAdapter {
	return &participantAdapter{svc: svc}
}

func (a *participantAdapter) ResolvePatient(ctx context.Context, id uuid.UUID) error {
	if _, err := a.svc.GetPatient(ctx, id); err != nil {
		return translate(err, "patient")
	}
	return nil
}

func (a *participantAdapter) ResolveDoctor(ctx context.Context, id uuid.UUID) error {
	st, err := a.svc.GetStaff(ctx, id)
	if err != nil {
		return translate(err, "doctor")
	}
	if st.Role != identity.RoleDoctor {
		return fmt.Errorf("%w: staff member %s is not a doctor", scheduling.ErrValidation, id)
	}
	if !st.IsActiveDoctor() {
		return fmt.Errorf("%w: doctor %s is %s", scheduling.ErrValidation, id, st.Status)
	}
	return nil
}

func translate(err error, what string) error {
	if errors.Is(err, identity.ErrNotFound) {
		return fmt.Errorf("%w: %s not found", scheduling.ErrNotFound, what)
	}
	return err
}

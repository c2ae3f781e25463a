package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Actor is the caller a domain operation runs on behalf of. It is recorded
// in slot history and drives the patient-only rules.
type Actor struct {
	ID    string
	Roles []string
}

// System is the actor for scheduled jobs.
var System = Actor{ID: "system", Roles: []string{RoleAdmin}}

func ActorFromContext(ctx context.Context) Actor {
	return Actor{ID: UserIDFromContext(ctx), Roles: RolesFromContext(ctx)}
}

// IsStaff is true for staff and admins.
func (a Actor) IsStaff() bool {
	return hasAnyRole(a.Roles, []string{RoleStaff})
}

// IsPatient is true only for callers acting purely as a patient.
func (a Actor) IsPatient() bool {
	return !a.IsStaff() && hasAnyRole(a.Roles, []string{RolePatient})
}

// PatientID parses the actor id as a patient id.
func (a Actor) PatientID() (uuid.UUID, error) {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("actor %q is not a patient id: %w", a.ID, err)
	}
	return id, nil
}

func (a Actor) String() string {
	if a.ID == "" {
		return "anonymous"
	}
	return a.ID
}

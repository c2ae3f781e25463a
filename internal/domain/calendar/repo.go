package calendar

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repositories return an apperrors NotFound error for unknown ids.

type ClinicRepository interface {
	Create(ctx context.Context, c *Clinic) error
	GetByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	// Lock serializes configuration changes of one clinic until the
	// surrounding transaction ends.
	Lock(ctx context.Context, id uuid.UUID) error
	UpdateTemplate(ctx context.Context, id uuid.UUID, t Template) error
	AddException(ctx context.Context, clinicID uuid.UUID, ex Exception) error
	RemoveException(ctx context.Context, clinicID uuid.UUID, date time.Time) (bool, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByClinic returns the clinic's doctors ordered by name.
	ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]*Doctor, error)
}

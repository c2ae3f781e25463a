package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// LockSession returns the clinic-day session, creating it STOPPED on
	// first use, and holds its lock until the surrounding transaction ends.
	LockSession(ctx context.Context, clinicID uuid.UUID, date time.Time) (*Session, error)
	// GetSession reads without locking. An untouched clinic-day comes back
	// as a STOPPED session that is not persisted.
	GetSession(ctx context.Context, clinicID uuid.UUID, date time.Time) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error

	InsertEntry(ctx context.Context, e *Entry) error
	GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error)
	EntryBySlot(ctx context.Context, slotID uuid.UUID) (*Entry, error)
	// ListEntries returns the clinic-day's entries by queue number.
	ListEntries(ctx context.Context, clinicID uuid.UUID, date time.Time) ([]*Entry, error)
	UpdateEntry(ctx context.Context, e *Entry) error
}

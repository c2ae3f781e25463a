package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SlotRepository persists slots and their history. Unknown ids yield an
// apperrors NotFound error; a doctor double-booking yields DoctorConflict.
type SlotRepository interface {
	InsertBatch(ctx context.Context, slots []*Slot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// GetForUpdate reads the slot and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error)
	// Book moves an AVAILABLE, doctor-assigned slot to BOOKED for patientID.
	// It reports false when the slot was not in that state.
	Book(ctx context.Context, id, patientID uuid.UUID) (bool, error)
	Update(ctx context.Context, s *Slot) error
	// ListInRange returns a clinic's slots starting in [from, to).
	ListInRange(ctx context.Context, clinicID uuid.UUID, from, to time.Time) ([]*Slot, error)
	// DeleteByIDs removes the listed slots whose status is one of statuses
	// and returns how many went.
	DeleteByIDs(ctx context.Context, ids []uuid.UUID, statuses []Status) (int, error)
	Search(ctx context.Context, f Filter) ([]*Slot, int, error)
	// DatesWithSlots lists the clinic-local dates in [from, to) that have slots.
	DatesWithSlots(ctx context.Context, clinicID uuid.UUID, from, to time.Time, tz string) ([]time.Time, error)
	ListBookedEndedBefore(ctx context.Context, t time.Time, limit int) ([]*Slot, error)

	AddHistory(ctx context.Context, h *History) error
	ListHistory(ctx context.Context, slotID uuid.UUID) ([]*History, error)
}

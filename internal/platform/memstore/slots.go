package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aqms/aqms/internal/domain/appointment"
	"github.com/aqms/aqms/internal/domain/calendar"
	"github.com/aqms/aqms/pkg/apperrors"
)

type slotRepo struct{ s *Store }

func copySlot(s appointment.Slot) *appointment.Slot { return &s }

func sortSlots(items []*appointment.Slot) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].Start.Equal(items[j].Start) {
			return items[i].Start.Before(items[j].Start)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
}

// doctorTaken mirrors the partial unique index on live doctor starts.
func doctorTaken(st *state, s *appointment.Slot) bool {
	if s.DoctorID == nil || s.Status == appointment.StatusCancelled {
		return false
	}
	for id, o := range st.slots {
		if id == s.ID || o.DoctorID == nil || o.Status == appointment.StatusCancelled {
			continue
		}
		if o.ClinicID == s.ClinicID && *o.DoctorID == *s.DoctorID && o.Start.Equal(s.Start) {
			return true
		}
	}
	return false
}

func errDoctorConflict() error {
	return apperrors.New(apperrors.DoctorConflict, "doctor already has a slot at this time")
}

func (r slotRepo) InsertBatch(ctx context.Context, slots []*appointment.Slot) error {
	return r.s.do(ctx, func(st *state) error {
		now := r.s.now()
		added := make([]uuid.UUID, 0, len(slots))
		for _, sl := range slots {
			sl.ID = uuid.New()
			if doctorTaken(st, sl) {
				for _, id := range added {
					delete(st.slots, id)
				}
				return errDoctorConflict()
			}
			sl.CreatedAt, sl.UpdatedAt = now, now
			st.slots[sl.ID] = *sl
			added = append(added, sl.ID)
		}
		return nil
	})
}

func (r slotRepo) GetByID(ctx context.Context, id uuid.UUID) (*appointment.Slot, error) {
	var out *appointment.Slot
	err := r.s.do(ctx, func(st *state) error {
		sl, ok := st.slots[id]
		if !ok {
			return apperrors.NewNotFound("slot")
		}
		out = copySlot(sl)
		return nil
	})
	return out, err
}

func (r slotRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*appointment.Slot, error) {
	return r.GetByID(ctx, id)
}

func (r slotRepo) Book(ctx context.Context, id, patientID uuid.UUID) (bool, error) {
	booked := false
	err := r.s.do(ctx, func(st *state) error {
		sl, ok := st.slots[id]
		if !ok || sl.Status != appointment.StatusAvailable || sl.DoctorID == nil {
			return nil
		}
		sl.Status = appointment.StatusBooked
		sl.PatientID = &patientID
		sl.UpdatedAt = r.s.now()
		st.slots[id] = sl
		booked = true
		return nil
	})
	return booked, err
}

func (r slotRepo) Update(ctx context.Context, s *appointment.Slot) error {
	return r.s.do(ctx, func(st *state) error {
		cur, ok := st.slots[s.ID]
		if !ok {
			return apperrors.NewNotFound("slot")
		}
		cur.DoctorID = s.DoctorID
		cur.Status = s.Status
		cur.PatientID = s.PatientID
		cur.Treatment = s.Treatment
		if doctorTaken(st, &cur) {
			return errDoctorConflict()
		}
		cur.UpdatedAt = r.s.now()
		st.slots[s.ID] = cur
		s.UpdatedAt = cur.UpdatedAt
		return nil
	})
}

func (r slotRepo) ListInRange(ctx context.Context, clinicID uuid.UUID, from, to time.Time) ([]*appointment.Slot, error) {
	var out []*appointment.Slot
	err := r.s.do(ctx, func(st *state) error {
		for _, sl := range st.slots {
			if sl.ClinicID == clinicID && !sl.Start.Before(from) && sl.Start.Before(to) {
				out = append(out, copySlot(sl))
			}
		}
		sortSlots(out)
		return nil
	})
	return out, err
}

func (r slotRepo) DeleteByIDs(ctx context.Context, ids []uuid.UUID, statuses []appointment.Status) (int, error) {
	n := 0
	err := r.s.do(ctx, func(st *state) error {
		deleted := make(map[uuid.UUID]bool, len(ids))
		for _, id := range ids {
			sl, ok := st.slots[id]
			if !ok || !hasStatus(statuses, sl.Status) {
				continue
			}
			delete(st.slots, id)
			deleted[id] = true
			n++
		}
		if n == 0 {
			return nil
		}
		history := make([]appointment.History, 0, len(st.history))
		for _, h := range st.history {
			if !deleted[h.SlotID] {
				history = append(history, h)
			}
		}
		st.history = history
		return nil
	})
	return n, err
}

func hasStatus(statuses []appointment.Status, s appointment.Status) bool {
	for _, cur := range statuses {
		if cur == s {
			return true
		}
	}
	return false
}

func (r slotRepo) Search(ctx context.Context, f appointment.Filter) ([]*appointment.Slot, int, error) {
	var matched []*appointment.Slot
	err := r.s.do(ctx, func(st *state) error {
		for _, sl := range st.slots {
			if matches(f, &sl) {
				matched = append(matched, copySlot(sl))
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sortSlots(matched)
	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func matches(f appointment.Filter, sl *appointment.Slot) bool {
	switch {
	case f.ClinicID != nil && sl.ClinicID != *f.ClinicID:
		return false
	case f.DoctorID != nil && (sl.DoctorID == nil || *sl.DoctorID != *f.DoctorID):
		return false
	case f.PatientID != nil && (sl.PatientID == nil || *sl.PatientID != *f.PatientID):
		return false
	case len(f.Statuses) > 0 && !hasStatus(f.Statuses, sl.Status):
		return false
	case f.From != nil && sl.Start.Before(*f.From):
		return false
	case f.To != nil && !sl.Start.Before(*f.To):
		return false
	}
	return true
}

func (r slotRepo) DatesWithSlots(ctx context.Context, clinicID uuid.UUID, from, to time.Time, tz string) ([]time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	seen := make(map[time.Time]bool)
	err = r.s.do(ctx, func(st *state) error {
		for _, sl := range st.slots {
			if sl.ClinicID == clinicID && !sl.Start.Before(from) && sl.Start.Before(to) {
				seen[calendar.DateOf(sl.Start, loc)] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (r slotRepo) ListBookedEndedBefore(ctx context.Context, t time.Time, limit int) ([]*appointment.Slot, error) {
	var out []*appointment.Slot
	err := r.s.do(ctx, func(st *state) error {
		for _, sl := range st.slots {
			if sl.Status == appointment.StatusBooked && sl.End.Before(t) {
				out = append(out, copySlot(sl))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].End.Before(out[j].End) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r slotRepo) AddHistory(ctx context.Context, h *appointment.History) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.slots[h.SlotID]; !ok {
			return apperrors.NewNotFound("slot")
		}
		h.ID = uuid.New()
		h.At = r.s.now()
		st.history = append(st.history, *h)
		return nil
	})
}

// ListHistory returns entries in insertion order.
func (r slotRepo) ListHistory(ctx context.Context, slotID uuid.UUID) ([]*appointment.History, error) {
	var out []*appointment.History
	err := r.s.do(ctx, func(st *state) error {
		for _, h := range st.history {
			if h.SlotID == slotID {
				h := h
				out = append(out, &h)
			}
		}
		return nil
	})
	return out, err
}

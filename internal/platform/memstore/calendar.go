package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aqms/aqms/internal/domain/calendar"
	"github.com/aqms/aqms/pkg/apperrors"
)

type clinicRepo struct{ s *Store }

func copyClinic(c calendar.Clinic) *calendar.Clinic {
	t := make(calendar.Template, len(c.Template))
	for day, sessions := range c.Template {
		t[day] = append([]calendar.Session(nil), sessions...)
	}
	c.Template = t
	c.Exceptions = append([]calendar.Exception(nil), c.Exceptions...)
	return &c
}

func (r clinicRepo) Create(ctx context.Context, c *calendar.Clinic) error {
	return r.s.do(ctx, func(st *state) error {
		c.ID = uuid.New()
		c.CreatedAt = r.s.now()
		c.UpdatedAt = c.CreatedAt
		st.clinics[c.ID] = *copyClinic(*c)
		return nil
	})
}

func (r clinicRepo) GetByID(ctx context.Context, id uuid.UUID) (*calendar.Clinic, error) {
	var out *calendar.Clinic
	err := r.s.do(ctx, func(st *state) error {
		c, ok := st.clinics[id]
		if !ok {
			return apperrors.NewNotFound("clinic")
		}
		out = copyClinic(c)
		return nil
	})
	return out, err
}

// Lock only checks existence: transactions are already serialized.
func (r clinicRepo) Lock(ctx context.Context, id uuid.UUID) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.clinics[id]; !ok {
			return apperrors.NewNotFound("clinic")
		}
		return nil
	})
}

func (r clinicRepo) UpdateTemplate(ctx context.Context, id uuid.UUID, t calendar.Template) error {
	return r.s.do(ctx, func(st *state) error {
		c, ok := st.clinics[id]
		if !ok {
			return apperrors.NewNotFound("clinic")
		}
		c.Template = t
		c.UpdatedAt = r.s.now()
		st.clinics[id] = *copyClinic(c)
		return nil
	})
}

func (r clinicRepo) AddException(ctx context.Context, clinicID uuid.UUID, ex calendar.Exception) error {
	return r.s.do(ctx, func(st *state) error {
		c, ok := st.clinics[clinicID]
		if !ok {
			return apperrors.NewNotFound("clinic")
		}
		exceptions := make([]calendar.Exception, 0, len(c.Exceptions)+1)
		for _, cur := range c.Exceptions {
			if !calendar.SameDate(cur.Date, ex.Date) {
				exceptions = append(exceptions, cur)
			}
		}
		exceptions = append(exceptions, ex)
		sort.Slice(exceptions, func(i, j int) bool { return exceptions[i].Date.Before(exceptions[j].Date) })
		c.Exceptions = exceptions
		st.clinics[clinicID] = c
		return nil
	})
}

func (r clinicRepo) RemoveException(ctx context.Context, clinicID uuid.UUID, date time.Time) (bool, error) {
	removed := false
	err := r.s.do(ctx, func(st *state) error {
		c, ok := st.clinics[clinicID]
		if !ok {
			return nil
		}
		exceptions := make([]calendar.Exception, 0, len(c.Exceptions))
		for _, cur := range c.Exceptions {
			if calendar.SameDate(cur.Date, date) {
				removed = true
				continue
			}
			exceptions = append(exceptions, cur)
		}
		c.Exceptions = exceptions
		st.clinics[clinicID] = c
		return nil
	})
	return removed, err
}

type doctorRepo struct{ s *Store }

func copyDoctor(d calendar.Doctor) *calendar.Doctor {
	d.SessionKinds = append([]string(nil), d.SessionKinds...)
	return &d
}

func (r doctorRepo) Create(ctx context.Context, d *calendar.Doctor) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.clinics[d.ClinicID]; !ok {
			return apperrors.NewNotFound("clinic")
		}
		d.ID = uuid.New()
		d.CreatedAt = r.s.now()
		d.UpdatedAt = d.CreatedAt
		st.doctors[d.ID] = *copyDoctor(*d)
		return nil
	})
}

func (r doctorRepo) GetByID(ctx context.Context, id uuid.UUID) (*calendar.Doctor, error) {
	var out *calendar.Doctor
	err := r.s.do(ctx, func(st *state) error {
		d, ok := st.doctors[id]
		if !ok {
			return apperrors.NewNotFound("doctor")
		}
		out = copyDoctor(d)
		return nil
	})
	return out, err
}

func (r doctorRepo) Update(ctx context.Context, d *calendar.Doctor) error {
	return r.s.do(ctx, func(st *state) error {
		cur, ok := st.doctors[d.ID]
		if !ok {
			return apperrors.NewNotFound("doctor")
		}
		d.ClinicID = cur.ClinicID
		d.CreatedAt = cur.CreatedAt
		d.UpdatedAt = r.s.now()
		st.doctors[d.ID] = *copyDoctor(*d)
		return nil
	})
}

func (r doctorRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.doctors[id]; !ok {
			return apperrors.NewNotFound("doctor")
		}
		delete(st.doctors, id)
		// Slots keep their start but lose the assignment.
		for sid, slot := range st.slots {
			if slot.DoctorID != nil && *slot.DoctorID == id {
				slot.DoctorID = nil
				st.slots[sid] = slot
			}
		}
		return nil
	})
}

func (r doctorRepo) ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]*calendar.Doctor, error) {
	var out []*calendar.Doctor
	err := r.s.do(ctx, func(st *state) error {
		for _, d := range st.doctors {
			if d.ClinicID == clinicID {
				out = append(out, copyDoctor(d))
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Name != out[j].Name {
				return out[i].Name < out[j].Name
			}
			return out[i].ID.String() < out[j].ID.String()
		})
		return nil
	})
	return out, err
}

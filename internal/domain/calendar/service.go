package calendar

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aqms/aqms/internal/platform/db"
	"github.com/aqms/aqms/pkg/apperrors"
)

type Service struct {
	clinics ClinicRepository
	doctors DoctorRepository
	tx      db.TxRunner
	now     func() time.Time
}

func NewService(clinics ClinicRepository, doctors DoctorRepository, tx db.TxRunner) *Service {
	return &Service{clinics: clinics, doctors: doctors, tx: tx, now: time.Now}
}

// WithClock replaces the wall clock used for clinic-local dates.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// -- Clinic --

func (s *Service) CreateClinic(ctx context.Context, c *Clinic) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return apperrors.New(apperrors.InvalidInput, "name is required")
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return apperrors.Newf(apperrors.InvalidInput, "unknown timezone %q", c.Timezone)
	}
	if c.Template == nil {
		c.Template = Template{}
	}
	c.Template = normalizeTemplate(c.Template)
	if err := ValidateTemplate(c.Template); err != nil {
		return err
	}
	c.Exceptions = nil
	if err := s.clinics.Create(ctx, c); err != nil {
		return err
	}
	log.Info().Str("clinic_id", c.ID.String()).Str("timezone", c.Timezone).Msg("clinic created")
	return nil
}

func (s *Service) GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	return s.clinics.GetByID(ctx, id)
}

// SaveTemplate replaces the weekly template. Existing slots are not touched;
// regenerate affected dates to apply it.
func (s *Service) SaveTemplate(ctx context.Context, id uuid.UUID, t Template) (*Clinic, error) {
	t = normalizeTemplate(t)
	if err := ValidateTemplate(t); err != nil {
		return nil, err
	}
	var out *Clinic
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.clinics.Lock(ctx, id); err != nil {
			return err
		}
		if err := s.clinics.UpdateTemplate(ctx, id, t); err != nil {
			return err
		}
		c, err := s.clinics.GetByID(ctx, id)
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("clinic_id", id.String()).Int("weekdays", len(t)).Msg("clinic template saved")
	return out, nil
}

func (s *Service) AddException(ctx context.Context, clinicID uuid.UUID, date time.Time, reason string) error {
	if _, err := s.clinics.GetByID(ctx, clinicID); err != nil {
		return err
	}
	ex := Exception{Date: DateOf(date, time.UTC), Reason: strings.TrimSpace(reason)}
	return s.clinics.AddException(ctx, clinicID, ex)
}

func (s *Service) RemoveException(ctx context.Context, clinicID uuid.UUID, date time.Time) error {
	removed, err := s.clinics.RemoveException(ctx, clinicID, DateOf(date, time.UTC))
	if err != nil {
		return err
	}
	if !removed {
		return apperrors.NewNotFound("exception")
	}
	return nil
}

// Today returns the clinic-local calendar date.
func (s *Service) Today(ctx context.Context, clinicID uuid.UUID) (time.Time, error) {
	c, err := s.clinics.GetByID(ctx, clinicID)
	if err != nil {
		return time.Time{}, err
	}
	return c.Today(s.now())
}

func (s *Service) Location(ctx context.Context, clinicID uuid.UUID) (*time.Location, error) {
	c, err := s.clinics.GetByID(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	return c.Location()
}

// -- Doctor --

func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	if err := prepareDoctor(d); err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		c, before, err := s.lockedDoctors(ctx, d.ClinicID)
		if err != nil {
			return err
		}
		if err := checkCoverage(c.Template, before, append(before, d)); err != nil {
			return err
		}
		if err := s.doctors.Create(ctx, d); err != nil {
			return err
		}
		log.Info().Str("clinic_id", d.ClinicID.String()).Str("doctor_id", d.ID.String()).
			Strs("session_kinds", d.SessionKinds).Msg("doctor created")
		return nil
	})
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, clinicID uuid.UUID) ([]*Doctor, error) {
	if _, err := s.clinics.GetByID(ctx, clinicID); err != nil {
		return nil, err
	}
	return s.doctors.ListByClinic(ctx, clinicID)
}

// UpdateDoctor changes name, room and session kinds. A doctor never moves
// between clinics.
func (s *Service) UpdateDoctor(ctx context.Context, d *Doctor) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		cur, err := s.doctors.GetByID(ctx, d.ID)
		if err != nil {
			return err
		}
		d.ClinicID = cur.ClinicID
		if err := prepareDoctor(d); err != nil {
			return err
		}
		c, before, err := s.lockedDoctors(ctx, cur.ClinicID)
		if err != nil {
			return err
		}
		after := make([]*Doctor, 0, len(before))
		for _, o := range before {
			if o.ID == d.ID {
				after = append(after, d)
				continue
			}
			after = append(after, o)
		}
		if err := checkCoverage(c.Template, before, after); err != nil {
			return err
		}
		d.CreatedAt = cur.CreatedAt
		if err := s.doctors.Update(ctx, d); err != nil {
			return err
		}
		log.Info().Str("clinic_id", d.ClinicID.String()).Str("doctor_id", d.ID.String()).
			Strs("session_kinds", d.SessionKinds).Msg("doctor updated")
		return nil
	})
}

func (s *Service) DeleteDoctor(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		cur, err := s.doctors.GetByID(ctx, id)
		if err != nil {
			return err
		}
		c, before, err := s.lockedDoctors(ctx, cur.ClinicID)
		if err != nil {
			return err
		}
		after := make([]*Doctor, 0, len(before))
		for _, o := range before {
			if o.ID != id {
				after = append(after, o)
			}
		}
		if err := checkCoverage(c.Template, before, after); err != nil {
			return err
		}
		if err := s.doctors.Delete(ctx, id); err != nil {
			return err
		}
		log.Info().Str("clinic_id", cur.ClinicID.String()).Str("doctor_id", id.String()).Msg("doctor deleted")
		return nil
	})
}

func (s *Service) lockedDoctors(ctx context.Context, clinicID uuid.UUID) (*Clinic, []*Doctor, error) {
	if err := s.clinics.Lock(ctx, clinicID); err != nil {
		return nil, nil, err
	}
	c, err := s.clinics.GetByID(ctx, clinicID)
	if err != nil {
		return nil, nil, err
	}
	docs, err := s.doctors.ListByClinic(ctx, clinicID)
	if err != nil {
		return nil, nil, err
	}
	return c, docs, nil
}

// checkCoverage rejects a doctor change that leaves a template session kind
// without any doctor when some doctor covered it before the change.
func checkCoverage(t Template, before, after []*Doctor) error {
	kinds := make([]string, 0)
	for k := range t.Kinds() {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		if covered(before, kind) && !covered(after, kind) {
			return apperrors.Newf(apperrors.InvalidInput,
				"session kind %s would be left without a doctor", kind)
		}
	}
	return nil
}

func covered(docs []*Doctor, kind string) bool {
	for _, d := range docs {
		if d.Covers(kind) {
			return true
		}
	}
	return false
}

func prepareDoctor(d *Doctor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return apperrors.New(apperrors.InvalidInput, "name is required")
	}
	if d.ClinicID == uuid.Nil {
		return apperrors.New(apperrors.InvalidInput, "clinic_id is required")
	}
	d.Room = strings.TrimSpace(d.Room)
	d.SessionKinds = normalizeKinds(d.SessionKinds)
	return nil
}

func normalizeKinds(kinds []string) []string {
	seen := make(map[string]bool, len(kinds))
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalizeTemplate(t Template) Template {
	out := make(Template, len(t))
	for day, sessions := range t {
		if len(sessions) == 0 {
			continue
		}
		cp := make([]Session, len(sessions))
		for i, s := range sessions {
			s.Kind = strings.ToUpper(strings.TrimSpace(s.Kind))
			cp[i] = s
		}
		sort.SliceStable(cp, func(i, j int) bool { return cp[i].Open < cp[j].Open })
		out[day] = cp
	}
	return out
}

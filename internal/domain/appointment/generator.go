package appointment

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aqms/aqms/internal/domain/calendar"
	"github.com/aqms/aqms/internal/platform/db"
	"github.com/aqms/aqms/internal/platform/telemetry"
	"github.com/aqms/aqms/pkg/apperrors"
)

// Mode decides what generation does with a date that already has slots.
type Mode string

const (
	ModeReplace Mode = "REPLACE"
	ModeSkip    Mode = "SKIP"
)

// DateStatus is the outcome of generation for one date.
type DateStatus string

const (
	DateGenerated       DateStatus = "GENERATED"
	DateSkippedClosed   DateStatus = "SKIPPED_CLOSED"
	DateSkippedExisting DateStatus = "SKIPPED_EXISTING"
	DateRejectedLocked  DateStatus = "REJECTED_LOCKED"
	DateInvalidWindow   DateStatus = "INVALID_WINDOW"
)

// maxRangeDays bounds one generation request.
const maxRangeDays = 366

type DateReport struct {
	Date       string         `json:"date"`
	Status     DateStatus     `json:"status"`
	Generated  int            `json:"generated"`
	Replaced   int            `json:"replaced,omitempty"`
	Unassigned int            `json:"unassigned,omitempty"`
	Code       apperrors.Code `json:"code,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// GenerateReport summarizes a generation run. UnassignedKinds lists session
// kinds no doctor covers; their slots were generated without a doctor and
// cannot be booked.
type GenerateReport struct {
	ClinicID        uuid.UUID    `json:"clinic_id"`
	Mode            Mode         `json:"mode"`
	Generated       int          `json:"generated"`
	Dates           []DateReport `json:"dates"`
	UnassignedKinds []string     `json:"unassigned_kinds,omitempty"`
}

type DeleteReport struct {
	Deleted    int `json:"deleted"`
	KeptLocked int `json:"kept_locked"`
}

// Generator materializes a clinic's template into slots over a date range.
type Generator struct {
	slots    SlotRepository
	tx       db.TxRunner
	calendar Calendar
	metrics  *telemetry.Metrics
}

func NewGenerator(slots SlotRepository, tx db.TxRunner, cal Calendar, metrics *telemetry.Metrics) *Generator {
	return &Generator{slots: slots, tx: tx, calendar: cal, metrics: metrics}
}

// rotation hands out doctors round-robin per session kind. The cursor
// carries over from one date to the next.
type rotation struct {
	pools     map[string][]*calendar.Doctor
	cursor    map[string]int
	uncovered map[string]bool
}

func newRotation(doctors []*calendar.Doctor) *rotation {
	r := &rotation{
		pools:     make(map[string][]*calendar.Doctor),
		cursor:    make(map[string]int),
		uncovered: make(map[string]bool),
	}
	for _, d := range doctors {
		for _, kind := range d.SessionKinds {
			r.pools[kind] = append(r.pools[kind], d)
		}
	}
	return r
}

func (r *rotation) next(kind string) *uuid.UUID {
	pool := r.pools[kind]
	if len(pool) == 0 {
		r.uncovered[kind] = true
		return nil
	}
	id := pool[r.cursor[kind]%len(pool)].ID
	r.cursor[kind]++
	return &id
}

func (r *rotation) save() map[string]int {
	cp := make(map[string]int, len(r.cursor))
	for k, v := range r.cursor {
		cp[k] = v
	}
	return cp
}

// GenerateRange generates slots for every date in [from, to]. Each date
// commits or fails on its own and is reported individually.
func (g *Generator) GenerateRange(ctx context.Context, clinicID uuid.UUID, from, to time.Time, mode Mode) (*GenerateReport, error) {
	if mode != ModeReplace && mode != ModeSkip {
		return nil, apperrors.Newf(apperrors.InvalidInput, "mode must be %s or %s", ModeReplace, ModeSkip)
	}
	from, to = calendar.DateOf(from, time.UTC), calendar.DateOf(to, time.UTC)
	if to.Before(from) {
		return nil, apperrors.New(apperrors.InvalidInput, "from must not be after to")
	}
	if to.Sub(from) > maxRangeDays*24*time.Hour {
		return nil, apperrors.Newf(apperrors.InvalidInput, "range must not exceed %d days", maxRangeDays)
	}

	ctx, span := telemetry.StartSpan(ctx, "appointment.GenerateRange",
		attribute.String("clinic_id", clinicID.String()), attribute.String("mode", string(mode)))
	report, err := g.generateRange(ctx, clinicID, from, to, mode)
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	g.metrics.SlotsGenerated(ctx, report.Generated)
	if len(report.UnassignedKinds) > 0 {
		log.Warn().Str("clinic_id", clinicID.String()).Strs("kinds", report.UnassignedKinds).
			Msg("generated slots without a doctor; assign doctors to these session kinds")
	}
	log.Info().Str("clinic_id", clinicID.String()).Str("mode", string(mode)).
		Int("dates", len(report.Dates)).Int("generated", report.Generated).Msg("slot generation finished")
	return report, nil
}

func (g *Generator) generateRange(ctx context.Context, clinicID uuid.UUID, from, to time.Time, mode Mode) (*GenerateReport, error) {
	clinic, err := g.calendar.GetClinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	loc, err := clinic.Location()
	if err != nil {
		return nil, err
	}
	doctors, err := g.calendar.ListDoctors(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	rot := newRotation(doctors)

	report := &GenerateReport{ClinicID: clinicID, Mode: mode}
	for date := from; !date.After(to); date = date.AddDate(0, 0, 1) {
		dr, err := g.generateDate(ctx, clinic, loc, date, mode, rot)
		if err != nil {
			return nil, err
		}
		report.Generated += dr.Generated
		report.Dates = append(report.Dates, dr)
	}
	for kind := range rot.uncovered {
		report.UnassignedKinds = append(report.UnassignedKinds, kind)
	}
	sort.Strings(report.UnassignedKinds)
	return report, nil
}

func (g *Generator) generateDate(ctx context.Context, clinic *calendar.Clinic, loc *time.Location, date time.Time, mode Mode, rot *rotation) (DateReport, error) {
	dr := DateReport{Date: date.Format(calendar.DateLayout)}
	sessions := clinic.SessionsOn(date)
	if len(sessions) == 0 {
		dr.Status = DateSkippedClosed
		return dr, nil
	}

	var windows []calendar.Window
	for _, sess := range sessions {
		ws, err := calendar.Materialize(date, sess, loc)
		if err != nil {
			dr.Status = DateInvalidWindow
			dr.Code = apperrors.CodeOf(err)
			dr.Message = apperrors.MessageOf(err)
			return dr, nil
		}
		windows = append(windows, ws...)
	}

	saved := rot.save()
	dayStart, dayEnd := dayBounds(date, loc)
	err := g.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := g.slots.ListInRange(ctx, clinic.ID, dayStart, dayEnd)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			if mode == ModeSkip {
				dr.Status = DateSkippedExisting
				return nil
			}
			ids := make([]uuid.UUID, 0, len(existing))
			for _, s := range existing {
				if s.Status.Locked() {
					return lockedErr(date)
				}
				ids = append(ids, s.ID)
			}
			n, err := g.slots.DeleteByIDs(ctx, ids, UnlockedStatuses)
			if err != nil {
				return err
			}
			// A booking raced in between listing and deleting.
			if n != len(ids) {
				return lockedErr(date)
			}
			dr.Replaced = n
		}

		slots := make([]*Slot, 0, len(windows))
		for _, w := range windows {
			doctorID := rot.next(w.Kind)
			if doctorID == nil {
				dr.Unassigned++
			}
			slots = append(slots, &Slot{
				ClinicID:    clinic.ID,
				DoctorID:    doctorID,
				SessionKind: w.Kind,
				Start:       w.Start,
				End:         w.End,
				Status:      StatusAvailable,
			})
		}
		if err := g.slots.InsertBatch(ctx, slots); err != nil {
			return err
		}
		dr.Status = DateGenerated
		dr.Generated = len(slots)
		return nil
	})
	if err != nil {
		rot.cursor = saved
		dr.Generated, dr.Replaced, dr.Unassigned = 0, 0, 0
		if apperrors.Is(err, apperrors.SlotsLocked) {
			dr.Status = DateRejectedLocked
			dr.Code = apperrors.SlotsLocked
			dr.Message = apperrors.MessageOf(err)
			return dr, nil
		}
		return dr, err
	}
	return dr, nil
}

func lockedErr(date time.Time) error {
	return apperrors.Newf(apperrors.SlotsLocked,
		"%s has booked, checked-in or completed slots", date.Format(calendar.DateLayout))
}

// dayBounds returns the instants at which date begins and ends in loc.
func dayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc), time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// DeleteSlotsOnDates removes the unlocked slots on the given dates and
// reports how many locked slots were kept.
func (g *Generator) DeleteSlotsOnDates(ctx context.Context, clinicID uuid.UUID, dates []time.Time) (*DeleteReport, error) {
	clinic, err := g.calendar.GetClinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	loc, err := clinic.Location()
	if err != nil {
		return nil, err
	}
	report := &DeleteReport{}
	err = g.tx.WithTx(ctx, func(ctx context.Context) error {
		for _, date := range dates {
			from, to := dayBounds(date, loc)
			existing, err := g.slots.ListInRange(ctx, clinicID, from, to)
			if err != nil {
				return err
			}
			ids := make([]uuid.UUID, 0, len(existing))
			for _, s := range existing {
				ids = append(ids, s.ID)
			}
			n, err := g.slots.DeleteByIDs(ctx, ids, UnlockedStatuses)
			if err != nil {
				return err
			}
			report.Deleted += n
			report.KeptLocked += len(ids) - n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("clinic_id", clinicID.String()).Int("deleted", report.Deleted).
		Int("kept_locked", report.KeptLocked).Msg("slots deleted")
	return report, nil
}

// DatesWithSlots lists the clinic-local dates in [from, to] that have slots.
func (g *Generator) DatesWithSlots(ctx context.Context, clinicID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	clinic, err := g.calendar.GetClinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	loc, err := clinic.Location()
	if err != nil {
		return nil, err
	}
	start, _ := dayBounds(from, loc)
	_, end := dayBounds(to, loc)
	return g.slots.DatesWithSlots(ctx, clinicID, start, end, loc.String())
}

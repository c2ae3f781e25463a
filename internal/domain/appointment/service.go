package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aqms/aqms/internal/domain/calendar"
	"github.com/aqms/aqms/internal/domain/queue"
	"github.com/aqms/aqms/internal/platform/auth"
	"github.com/aqms/aqms/internal/platform/db"
	"github.com/aqms/aqms/internal/platform/telemetry"
	"github.com/aqms/aqms/pkg/apperrors"
)

// Calendar is the clinic configuration the allocator reads.
type Calendar interface {
	GetClinic(ctx context.Context, id uuid.UUID) (*calendar.Clinic, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*calendar.Doctor, error)
	ListDoctors(ctx context.Context, clinicID uuid.UUID) ([]*calendar.Doctor, error)
}

// Dispatcher is the queue side of check-in, cancellation and completion.
// Its methods join the caller's transaction.
type Dispatcher interface {
	Admit(ctx context.Context, a queue.Admission) (*queue.Entry, error)
	CancelForSlot(ctx context.Context, slotID uuid.UUID) error
	BeginServiceForSlot(ctx context.Context, slotID uuid.UUID) (*queue.Entry, error)
	CompleteForSlot(ctx context.Context, slotID uuid.UUID, force bool) (*queue.Entry, error)
	Entry(ctx context.Context, entryID uuid.UUID) (*queue.Entry, error)
}

const forcedNote = "(forced completion by staff)"

// Service is the slot allocator: the slot state machine with its history.
type Service struct {
	slots      SlotRepository
	tx         db.TxRunner
	calendar   Calendar
	dispatcher Dispatcher
	metrics    *telemetry.Metrics
	policy     Policy
	now        func() time.Time
}

func NewService(slots SlotRepository, tx db.TxRunner, cal Calendar, dispatcher Dispatcher, metrics *telemetry.Metrics, policy Policy) *Service {
	return &Service{
		slots:      slots,
		tx:         tx,
		calendar:   cal,
		dispatcher: dispatcher,
		metrics:    metrics,
		policy:     policy,
		now:        time.Now,
	}
}

// WithClock replaces the wall clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CheckInResult pairs the checked-in slot with its queue admission.
type CheckInResult struct {
	Slot  *Slot        `json:"slot"`
	Entry *queue.Entry `json:"queue_entry"`
}

// Book gives an available slot to a patient. Of several concurrent callers
// exactly one wins; the others get SlotUnavailable.
func (s *Service) Book(ctx context.Context, slotID, patientID uuid.UUID, actor auth.Actor) (*Slot, error) {
	ctx, span := telemetry.StartSpan(ctx, "appointment.Book", attribute.String("slot_id", slotID.String()))
	out, err := s.book(ctx, slotID, patientID, actor)
	telemetry.EndSpan(span, err)

	result := "ok"
	switch {
	case apperrors.Is(err, apperrors.SlotUnavailable):
		result = "unavailable"
	case err != nil:
		result = "error"
	}
	s.metrics.Booking(ctx, result)
	if err != nil {
		return nil, err
	}
	log.Info().Str("slot_id", slotID.String()).Str("patient_id", patientID.String()).Msg("slot booked")
	return out, nil
}

func (s *Service) book(ctx context.Context, slotID, patientID uuid.UUID, actor auth.Actor) (*Slot, error) {
	if patientID == uuid.Nil {
		return nil, apperrors.New(apperrors.InvalidInput, "patient_id is required")
	}
	if actor.IsPatient() && actor.ID != patientID.String() {
		return nil, apperrors.New(apperrors.Forbidden, "patients can only book for themselves")
	}
	var out *Slot
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		slot, err := s.slots.GetByID(ctx, slotID)
		if err != nil {
			return err
		}
		if !slot.Start.After(s.now()) {
			return apperrors.New(apperrors.InvalidTransition, "slot has already started")
		}
		ok, err := s.slots.Book(ctx, slotID, patientID)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.NewSlotUnavailable()
		}
		if err := s.record(ctx, slotID, ActionBooked, actor, "booked for patient "+patientID.String()); err != nil {
			return err
		}
		out, err = s.slots.GetByID(ctx, slotID)
		return err
	})
	return out, err
}

// Cancel cancels a booked or checked-in slot, cancels its queue entry and,
// when the policy allows, reopens the time as a new AVAILABLE slot.
func (s *Service) Cancel(ctx context.Context, slotID uuid.UUID, actor auth.Actor) (*Slot, error) {
	var out *Slot
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		slot, err := s.slots.GetForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if err := s.checkPatientChange(slot, actor, "cancel"); err != nil {
			return err
		}
		if err := s.cancel(ctx, slot, actor, ActionCancelled, "cancelled by "+actor.String()); err != nil {
			return err
		}
		out = slot
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("slot_id", slotID.String()).Str("actor", actor.String()).Msg("slot cancelled")
	return out, nil
}

// CancelQueueEntry cancels the slot behind a queue entry, which cancels the
// entry with it.
func (s *Service) CancelQueueEntry(ctx context.Context, entryID uuid.UUID, actor auth.Actor) (*Slot, error) {
	entry, err := s.dispatcher.Entry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	return s.Cancel(ctx, entry.SlotID, actor)
}

func (s *Service) cancel(ctx context.Context, slot *Slot, actor auth.Actor, action Action, details string) error {
	if !slot.Status.CanMoveTo(StatusCancelled) {
		return apperrors.NewInvalidTransition("slot", slot.Status, StatusCancelled)
	}
	slot.Status = StatusCancelled
	if err := s.slots.Update(ctx, slot); err != nil {
		return err
	}
	if err := s.record(ctx, slot.ID, action, actor, details); err != nil {
		return err
	}
	if err := s.dispatcher.CancelForSlot(ctx, slot.ID); err != nil {
		return err
	}
	if !s.policy.ReopenCancelled || !slot.Start.After(s.now()) {
		return nil
	}
	replica := &Slot{
		ClinicID:    slot.ClinicID,
		DoctorID:    slot.DoctorID,
		SessionKind: slot.SessionKind,
		Start:       slot.Start,
		End:         slot.End,
		Status:      StatusAvailable,
	}
	if err := s.slots.InsertBatch(ctx, []*Slot{replica}); err != nil {
		return err
	}
	return s.record(ctx, replica.ID, ActionReopened, actor, "reopened from cancelled slot "+slot.ID.String())
}

// checkPatientChange applies the rules for patients changing their own
// booking: ownership and the minimum notice before the start.
func (s *Service) checkPatientChange(slot *Slot, actor auth.Actor, verb string) error {
	if !actor.IsPatient() {
		return nil
	}
	if !slot.BelongsTo(actor.ID) {
		return apperrors.New(apperrors.Forbidden, "not your appointment")
	}
	if slot.Start.Sub(s.now()) < s.policy.MinAdvance {
		return apperrors.Newf(apperrors.InvalidTransition,
			"cannot %s less than %s before the appointment", verb, s.policy.MinAdvance)
	}
	return nil
}

// Reschedule moves a patient's booking to another available slot in one
// transaction.
func (s *Service) Reschedule(ctx context.Context, slotID, newSlotID uuid.UUID, actor auth.Actor) (*Slot, error) {
	if slotID == newSlotID {
		return nil, apperrors.New(apperrors.InvalidInput, "new slot must differ from the current one")
	}
	var out *Slot
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		old, err := s.slots.GetForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if err := s.checkPatientChange(old, actor, "reschedule"); err != nil {
			return err
		}
		if old.Status != StatusBooked {
			return apperrors.Newf(apperrors.InvalidTransition, "only booked slots can be rescheduled, slot is %s", old.Status)
		}
		booked, err := s.book(ctx, newSlotID, *old.PatientID, actor)
		if err != nil {
			return err
		}
		if err := s.cancel(ctx, old, actor, ActionRescheduled, "moved to slot "+newSlotID.String()); err != nil {
			return err
		}
		out = booked
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("slot_id", slotID.String()).Str("new_slot_id", newSlotID.String()).Msg("slot rescheduled")
	return out, nil
}

// CheckIn marks the patient arrived on the appointment date and admits
// them to that day's queue.
func (s *Service) CheckIn(ctx context.Context, slotID uuid.UUID, actor auth.Actor) (*CheckInResult, error) {
	var out *CheckInResult
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		slot, err := s.slots.GetForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.Status != StatusBooked {
			return apperrors.NewInvalidTransition("slot", slot.Status, StatusCheckedIn)
		}
		clinic, err := s.calendar.GetClinic(ctx, slot.ClinicID)
		if err != nil {
			return err
		}
		loc, err := clinic.Location()
		if err != nil {
			return err
		}
		today := calendar.DateOf(s.now(), loc)
		if !calendar.SameDate(calendar.DateOf(slot.Start, loc), today) {
			return apperrors.Newf(apperrors.InvalidTransition,
				"check-in is only possible on the appointment date %s", slot.Start.In(loc).Format(calendar.DateLayout))
		}
		slot.Status = StatusCheckedIn
		if err := s.slots.Update(ctx, slot); err != nil {
			return err
		}
		if err := s.record(ctx, slot.ID, ActionCheckedIn, actor, "checked in"); err != nil {
			return err
		}
		entry, err := s.dispatcher.Admit(ctx, queue.Admission{
			SlotID:      slot.ID,
			ClinicID:    slot.ClinicID,
			PatientID:   *slot.PatientID,
			ServiceDate: today,
		})
		if err != nil {
			return err
		}
		out = &CheckInResult{Slot: slot, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("slot_id", slotID.String()).Int("queue_number", out.Entry.QueueNumber).Msg("patient checked in")
	return out, nil
}

func (s *Service) MarkNoShow(ctx context.Context, slotID uuid.UUID, actor auth.Actor) (*Slot, error) {
	return s.transition(ctx, slotID, StatusNoShow, actor, ActionNoShow, "patient did not arrive")
}

func (s *Service) transition(ctx context.Context, slotID uuid.UUID, to Status, actor auth.Actor, action Action, details string) (*Slot, error) {
	var out *Slot
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		slot, err := s.slots.GetForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if !slot.Status.CanMoveTo(to) {
			return apperrors.NewInvalidTransition("slot", slot.Status, to)
		}
		slot.Status = to
		if err := s.slots.Update(ctx, slot); err != nil {
			return err
		}
		out = slot
		return s.record(ctx, slot.ID, action, actor, details)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("slot_id", slotID.String()).Str("status", string(to)).Msg("slot updated")
	return out, nil
}

// RecordTreatment stores the treatment notes while the patient is being
// served. Opening the record of a called patient starts their service.
func (s *Service) RecordTreatment(ctx context.Context, slotID uuid.UUID, text string, actor auth.Actor) (*Slot, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.New(apperrors.InvalidInput, "treatment is required")
	}
	var out *Slot
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		slot, err := s.slots.GetForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.Status != StatusCheckedIn {
			return apperrors.Newf(apperrors.InvalidTransition, "treatment can only be recorded for checked-in patients, slot is %s", slot.Status)
		}
		if _, err := s.dispatcher.BeginServiceForSlot(ctx, slot.ID); err != nil {
			return err
		}
		slot.Treatment = &text
		if err := s.slots.Update(ctx, slot); err != nil {
			return err
		}
		out = slot
		return s.record(ctx, slot.ID, ActionTreatmentRecorded, actor, "treatment recorded")
	})
	return out, err
}

// Complete finishes the visit. The treatment must be given or recorded
// before. Staff may force completion of a patient who was never called.
func (s *Service) Complete(ctx context.Context, slotID uuid.UUID, req CompleteRequest, actor auth.Actor) (*Slot, error) {
	if req.Force && !actor.IsStaff() {
		return nil, apperrors.New(apperrors.Forbidden, "only staff can force completion")
	}
	var out *Slot
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		slot, err := s.slots.GetForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.Status != StatusCheckedIn {
			return apperrors.NewInvalidTransition("slot", slot.Status, StatusCompleted)
		}
		treatment := strings.TrimSpace(req.Treatment)
		if treatment == "" && slot.Treatment != nil {
			treatment = *slot.Treatment
		}
		if treatment == "" {
			if !req.Force {
				return apperrors.New(apperrors.InvalidInput, "treatment is required before completion")
			}
			treatment = forcedNote
		}
		if _, err := s.dispatcher.CompleteForSlot(ctx, slot.ID, req.Force); err != nil {
			return err
		}
		slot.Status = StatusCompleted
		slot.Treatment = &treatment
		if err := s.slots.Update(ctx, slot); err != nil {
			return err
		}
		details := "appointment completed"
		if req.Force {
			details += " " + forcedNote
		}
		out = slot
		return s.record(ctx, slot.ID, ActionCompleted, actor, details)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("slot_id", slotID.String()).Bool("forced", req.Force).Msg("appointment completed")
	return out, nil
}

// AssignDoctor sets or, with a nil doctorID, clears the slot's doctor.
func (s *Service) AssignDoctor(ctx context.Context, slotID uuid.UUID, doctorID *uuid.UUID, actor auth.Actor) (*Slot, error) {
	var out *Slot
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		slot, err := s.slots.GetForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		switch slot.Status {
		case StatusCompleted, StatusCancelled, StatusNoShow:
			return apperrors.Newf(apperrors.InvalidTransition, "cannot change the doctor of a %s slot", slot.Status)
		}
		details := "doctor unassigned"
		if doctorID != nil {
			doc, err := s.calendar.GetDoctor(ctx, *doctorID)
			if err != nil {
				return err
			}
			if doc.ClinicID != slot.ClinicID {
				return apperrors.NewNotFound("doctor")
			}
			if !doc.Covers(slot.SessionKind) {
				return apperrors.Newf(apperrors.InvalidInput, "doctor %s does not work %s sessions", doc.Name, slot.SessionKind)
			}
			details = fmt.Sprintf("assigned doctor %s", doc.Name)
		}
		slot.DoctorID = doctorID
		if err := s.slots.Update(ctx, slot); err != nil {
			return err
		}
		out = slot
		return s.record(ctx, slot.ID, ActionDoctorAssigned, actor, details)
	})
	return out, err
}

// SweepNoShows marks every booking that ended before now without a
// check-in as NO_SHOW.
func (s *Service) SweepNoShows(ctx context.Context) (int, error) {
	const batch = 200
	now := s.now()
	swept := 0
	for {
		overdue, err := s.slots.ListBookedEndedBefore(ctx, now, batch)
		if err != nil {
			return swept, err
		}
		n := 0
		for _, slot := range overdue {
			err := s.tx.WithTx(ctx, func(ctx context.Context) error {
				cur, err := s.slots.GetForUpdate(ctx, slot.ID)
				if err != nil {
					return err
				}
				if cur.Status != StatusBooked {
					return nil
				}
				cur.Status = StatusNoShow
				if err := s.slots.Update(ctx, cur); err != nil {
					return err
				}
				n++
				return s.record(ctx, cur.ID, ActionNoShow, auth.System, "marked no-show by sweep")
			})
			if err != nil {
				return swept + n, err
			}
		}
		swept += n
		if len(overdue) < batch || n == 0 {
			break
		}
	}
	s.metrics.NoShowsSwept(ctx, swept)
	if swept > 0 {
		log.Info().Int("count", swept).Msg("no-show sweep finished")
	}
	return swept, nil
}

// -- Reads --

// Get returns a slot. Patients only see their own bookings.
func (s *Service) Get(ctx context.Context, slotID uuid.UUID, actor auth.Actor) (*Slot, error) {
	slot, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if actor.IsPatient() && slot.Status != StatusAvailable && !slot.BelongsTo(actor.ID) {
		return nil, apperrors.NewNotFound("slot")
	}
	return slot, nil
}

func (s *Service) Search(ctx context.Context, f Filter) ([]*Slot, int, error) {
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, 0, apperrors.Newf(apperrors.InvalidInput, "unknown status %q", st)
		}
	}
	return s.slots.Search(ctx, f)
}

func (s *Service) History(ctx context.Context, slotID uuid.UUID) ([]*History, error) {
	if _, err := s.slots.GetByID(ctx, slotID); err != nil {
		return nil, err
	}
	return s.slots.ListHistory(ctx, slotID)
}

func (s *Service) PatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Slot, int, error) {
	return s.slots.Search(ctx, Filter{PatientID: &patientID, Limit: limit, Offset: offset})
}

func (s *Service) record(ctx context.Context, slotID uuid.UUID, action Action, actor auth.Actor, details string) error {
	return s.slots.AddHistory(ctx, &History{SlotID: slotID, Action: action, Actor: actor.String(), Details: details})
}

package queue

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aqms/aqms/internal/platform/auth"
	"github.com/aqms/aqms/internal/platform/db"
	"github.com/aqms/aqms/internal/platform/events"
	"github.com/aqms/aqms/internal/platform/telemetry"
	"github.com/aqms/aqms/pkg/apperrors"
	"github.com/aqms/aqms/pkg/retry"
)

// Calendar resolves clinic-local dates.
type Calendar interface {
	Today(ctx context.Context, clinicID uuid.UUID) (time.Time, error)
}

// Service is the queue dispatcher and the clinic-day session controller.
// Every entry mutation locks the clinic-day session first, so mutations of
// one clinic-day are serialized.
type Service struct {
	repo     Repository
	tx       db.TxRunner
	calendar Calendar
	pub      events.Publisher
	metrics  *telemetry.Metrics
	now      func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, cal Calendar, pub events.Publisher, metrics *telemetry.Metrics) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{repo: repo, tx: tx, calendar: cal, pub: pub, metrics: metrics, now: time.Now}
}

// WithClock replaces the clock used for call and fast-track timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Admit puts a checked-in slot at the back of its clinic-day queue. It joins
// the caller's transaction, which is how check-in and admission commit
// together.
func (s *Service) Admit(ctx context.Context, a Admission) (*Entry, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue.Admit",
		attribute.String("clinic_id", a.ClinicID.String()), attribute.String("slot_id", a.SlotID.String()))
	var out *Entry
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.EntryBySlot(ctx, a.SlotID); err == nil {
			return apperrors.New(apperrors.InvalidTransition, "slot is already in the queue")
		} else if !apperrors.Is(err, apperrors.NotFound) {
			return err
		}

		sess, err := s.repo.LockSession(ctx, a.ClinicID, a.ServiceDate)
		if err != nil {
			return err
		}
		sess.LastQueueNumber++
		e := &Entry{
			SlotID:      a.SlotID,
			ClinicID:    a.ClinicID,
			PatientID:   a.PatientID,
			ServiceDate: a.ServiceDate,
			QueueNumber: sess.LastQueueNumber,
			Status:      StatusQueued,
		}
		if err := s.repo.InsertEntry(ctx, e); err != nil {
			return err
		}
		if err := s.repo.UpdateSession(ctx, sess); err != nil {
			return err
		}
		out = e
		s.publish(ctx, events.EntryAdmitted, e)
		return nil
	})
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	log.Info().Str("clinic_id", out.ClinicID.String()).Str("entry_id", out.ID.String()).
		Int("queue_number", out.QueueNumber).Msg("patient admitted to queue")
	return out, nil
}

// FastTrack moves a waiting entry ahead of the regular queue. Repeating it
// refreshes the reason and timestamp.
func (s *Service) FastTrack(ctx context.Context, entryID uuid.UUID, reason string) (*Entry, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.New(apperrors.InvalidInput, "reason is required")
	}
	return s.mutate(ctx, entryID, events.EntryFastTracked, func(_ *Session, e *Entry) error {
		if e.Status != StatusQueued {
			return apperrors.Newf(apperrors.InvalidTransition, "only waiting patients can be fast-tracked, entry is %s", e.Status)
		}
		now := s.now()
		e.FastTracked = true
		e.FastTrackedAt = &now
		e.FastTrackReason = &reason
		return nil
	})
}

// CallNext calls the head of the clinic's queue for today.
func (s *Service) CallNext(ctx context.Context, clinicID uuid.UUID) (*Entry, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue.CallNext", attribute.String("clinic_id", clinicID.String()))
	out, err := s.callNext(ctx, clinicID)
	telemetry.EndSpan(span, err)

	result := "ok"
	if err != nil {
		result = string(apperrors.CodeOf(err))
		if result == "" {
			result = "error"
		}
	}
	s.metrics.QueueCall(ctx, result)
	if err != nil {
		return nil, err
	}
	log.Info().Str("clinic_id", clinicID.String()).Str("entry_id", out.ID.String()).
		Int("queue_number", out.QueueNumber).Bool("fast_tracked", out.FastTracked).Msg("patient called")
	return out, nil
}

func (s *Service) callNext(ctx context.Context, clinicID uuid.UUID) (*Entry, error) {
	date, err := s.calendar.Today(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	var out *Entry
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		sess, err := s.repo.LockSession(ctx, clinicID, date)
		if err != nil {
			return err
		}
		if sess.State != SessionStarted {
			return apperrors.NewQueueNotStarted()
		}
		entries, err := s.repo.ListEntries(ctx, clinicID, date)
		if err != nil {
			return err
		}
		next, err := pickNext(entries)
		if err != nil {
			return err
		}
		now := s.now()
		next.Status = StatusCalled
		next.CalledAt = &now
		if err := s.repo.UpdateEntry(ctx, next); err != nil {
			return err
		}
		sess.CurrentEntryID = &next.ID
		if err := s.repo.UpdateSession(ctx, sess); err != nil {
			return err
		}
		out = next
		s.publish(ctx, events.EntryCalled, next)
		return nil
	})
	return out, err
}

// MarkServing records that staff started treating the called patient.
func (s *Service) MarkServing(ctx context.Context, entryID uuid.UUID) (*Entry, error) {
	return s.move(ctx, entryID, StatusServing)
}

// Skip releases a called patient who did not respond. Requeue brings them back.
func (s *Service) Skip(ctx context.Context, entryID uuid.UUID) (*Entry, error) {
	return s.move(ctx, entryID, StatusSkipped)
}

func (s *Service) MarkNoShow(ctx context.Context, entryID uuid.UUID) (*Entry, error) {
	return s.move(ctx, entryID, StatusNoShow)
}

// Requeue returns a skipped entry to the waiting list under its original
// number.
func (s *Service) Requeue(ctx context.Context, entryID uuid.UUID) (*Entry, error) {
	return s.move(ctx, entryID, StatusQueued)
}

// Entry reads one queue entry. Completing or cancelling an entry goes through
// its slot, so the slot and the entry always change together.
func (s *Service) Entry(ctx context.Context, entryID uuid.UUID) (*Entry, error) {
	var out *Entry
	err := s.read(ctx, "queue entry", func(ctx context.Context) error {
		e, err := s.repo.GetEntry(ctx, entryID)
		out = e
		return err
	})
	return out, err
}

// CancelForSlot cancels the live entry of a slot. A slot that never entered
// the queue, or whose entry is already finished, is left alone.
func (s *Service) CancelForSlot(ctx context.Context, slotID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.EntryBySlot(ctx, slotID)
		if apperrors.Is(err, apperrors.NotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !e.Status.Live() {
			return nil
		}
		_, err = s.move(ctx, e.ID, StatusCancelled)
		return err
	})
}

// BeginServiceForSlot requires the slot's entry to be called or in service
// and promotes a called entry to SERVING. A slot without an entry passes.
func (s *Service) BeginServiceForSlot(ctx context.Context, slotID uuid.UUID) (*Entry, error) {
	var out *Entry
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.EntryBySlot(ctx, slotID)
		if apperrors.Is(err, apperrors.NotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		switch e.Status {
		case StatusServing:
			out = e
			return nil
		case StatusCalled:
			out, err = s.move(ctx, e.ID, StatusServing)
			return err
		default:
			return apperrors.Newf(apperrors.InvalidTransition,
				"patient must be called from the queue first, entry is %s", e.Status)
		}
	})
	return out, err
}

// CompleteForSlot finishes the slot's entry. Unless forced the entry must be
// called or in service; a called entry passes through SERVING.
func (s *Service) CompleteForSlot(ctx context.Context, slotID uuid.UUID, force bool) (*Entry, error) {
	var out *Entry
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if !force {
			e, err := s.BeginServiceForSlot(ctx, slotID)
			if err != nil || e == nil {
				return err
			}
			out, err = s.move(ctx, e.ID, StatusCompleted)
			return err
		}
		e, err := s.repo.EntryBySlot(ctx, slotID)
		if apperrors.Is(err, apperrors.NotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !e.Status.Live() {
			return nil
		}
		out, err = s.mutate(ctx, e.ID, events.EntryUpdated, func(sess *Session, e *Entry) error {
			e.Status = StatusCompleted
			releaseIfCurrent(sess, e)
			return nil
		})
		return err
	})
	return out, err
}

func (s *Service) move(ctx context.Context, entryID uuid.UUID, to EntryStatus) (*Entry, error) {
	out, err := s.mutate(ctx, entryID, events.EntryUpdated, func(sess *Session, e *Entry) error {
		if !e.Status.CanMoveTo(to) {
			return apperrors.NewInvalidTransition("queue entry", e.Status, to)
		}
		e.Status = to
		releaseIfCurrent(sess, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("clinic_id", out.ClinicID.String()).Str("entry_id", out.ID.String()).
		Int("queue_number", out.QueueNumber).Str("status", string(to)).Msg("queue entry updated")
	return out, nil
}

// releaseIfCurrent clears the session pointer once its entry is no longer
// called or in service.
func releaseIfCurrent(sess *Session, e *Entry) {
	if !e.Status.Active() && sess.CurrentEntryID != nil && *sess.CurrentEntryID == e.ID {
		sess.CurrentEntryID = nil
	}
}

// mutate applies fn to an entry under its clinic-day lock and persists both.
func (s *Service) mutate(ctx context.Context, entryID uuid.UUID, evType string, fn func(sess *Session, e *Entry) error) (*Entry, error) {
	var out *Entry
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		sess, err := s.repo.LockSession(ctx, e.ClinicID, e.ServiceDate)
		if err != nil {
			return err
		}
		// Re-read under the lock.
		if e, err = s.repo.GetEntry(ctx, entryID); err != nil {
			return err
		}
		current := sess.CurrentEntryID
		if err := fn(sess, e); err != nil {
			return err
		}
		if err := s.repo.UpdateEntry(ctx, e); err != nil {
			return err
		}
		if current != sess.CurrentEntryID {
			if err := s.repo.UpdateSession(ctx, sess); err != nil {
				return err
			}
		}
		out = e
		s.publish(ctx, evType, e)
		return nil
	})
	return out, err
}

// -- Read models --

// Snapshot reads one clinic-day consistently. A nil date means today.
func (s *Service) Snapshot(ctx context.Context, clinicID uuid.UUID, date *time.Time) (*Snapshot, error) {
	var day time.Time
	if date != nil {
		day = *date
	} else {
		today, err := s.calendar.Today(ctx, clinicID)
		if err != nil {
			return nil, err
		}
		day = today
	}
	var out *Snapshot
	err := s.read(ctx, "queue snapshot", func(ctx context.Context) error {
		sess, err := s.repo.GetSession(ctx, clinicID, day)
		if err != nil {
			return err
		}
		entries, err := s.repo.ListEntries(ctx, clinicID, day)
		if err != nil {
			return err
		}
		counts := make(map[EntryStatus]int)
		for _, e := range entries {
			counts[e.Status]++
		}
		w := waiting(entries)
		if w == nil {
			w = []*Entry{}
		}
		out = &Snapshot{
			ClinicID:        clinicID,
			ServiceDate:     day,
			State:           sess.State,
			NowServing:      nowServing(entries),
			Waiting:         w,
			Counts:          counts,
			LastQueueNumber: sess.LastQueueNumber,
		}
		return nil
	})
	return out, err
}

// Position shows a patient where their slot stands in the queue. Patients
// may only look at their own slot.
func (s *Service) Position(ctx context.Context, slotID uuid.UUID, actor auth.Actor) (*Position, error) {
	var out *Position
	err := s.read(ctx, "queue position", func(ctx context.Context) error {
		e, err := s.repo.EntryBySlot(ctx, slotID)
		if err != nil {
			return err
		}
		if actor.IsPatient() && actor.ID != e.PatientID.String() {
			return apperrors.New(apperrors.Forbidden, "not your appointment")
		}
		sess, err := s.repo.GetSession(ctx, e.ClinicID, e.ServiceDate)
		if err != nil {
			return err
		}
		entries, err := s.repo.ListEntries(ctx, e.ClinicID, e.ServiceDate)
		if err != nil {
			return err
		}
		ahead := 0
		if e.Status == StatusQueued {
			for _, w := range waiting(entries) {
				if w.ID == e.ID {
					break
				}
				ahead++
			}
		}
		out = &Position{Entry: e, Ahead: ahead, NowServing: nowServing(entries), State: sess.State}
		return nil
	})
	return out, err
}

// read runs an idempotent read in a snapshot transaction, retrying transient
// store failures.
func (s *Service) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.DoWithLog(ctx, retry.ReadConfig(db.IsTransient), op,
		func() error { return s.tx.WithReadTx(ctx, fn) },
		func(attempt int, err error, next time.Duration) {
			log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("retry_in", next).Msg("transient read failure")
		})
}

func (s *Service) publish(ctx context.Context, evType string, e *Entry) {
	id := e.ID
	s.emit(ctx, events.Event{
		Type:        evType,
		ClinicID:    e.ClinicID,
		ServiceDate: e.ServiceDate.Format(time.DateOnly),
		EntryID:     &id,
		QueueNumber: e.QueueNumber,
		Status:      string(e.Status),
		At:          s.now(),
	})
}

// emit publishes once the surrounding transaction commits. Failures are
// logged only.
func (s *Service) emit(ctx context.Context, ev events.Event) {
	pubCtx := context.WithoutCancel(ctx)
	db.AfterCommit(ctx, func() {
		ctx, cancel := context.WithTimeout(pubCtx, 2*time.Second)
		defer cancel()
		if err := s.pub.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Str("type", ev.Type).Str("clinic_id", ev.ClinicID.String()).Msg("publish queue event")
		}
	})
}

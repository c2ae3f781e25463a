package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aqms/aqms/internal/platform/events"
	"github.com/aqms/aqms/pkg/apperrors"
)

// Start opens today's clinic-day session. CallNext refuses to run unless the
// session is STARTED.
func (s *Service) Start(ctx context.Context, clinicID uuid.UUID) (*Session, error) {
	return s.transitionSession(ctx, clinicID, SessionStopped)
}

func (s *Service) Pause(ctx context.Context, clinicID uuid.UUID) (*Session, error) {
	return s.transitionSession(ctx, clinicID, SessionStarted)
}

func (s *Service) Resume(ctx context.Context, clinicID uuid.UUID) (*Session, error) {
	return s.transitionSession(ctx, clinicID, SessionPaused)
}

func (s *Service) transitionSession(ctx context.Context, clinicID uuid.UUID, from SessionState) (*Session, error) {
	to := sessionTransitions[from]
	date, err := s.calendar.Today(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	var out *Session
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		sess, err := s.repo.LockSession(ctx, clinicID, date)
		if err != nil {
			return err
		}
		if sess.State != from {
			return apperrors.NewInvalidTransition("queue", sess.State, to)
		}
		sess.State = to
		if to == SessionStarted && sess.StartedAt == nil {
			now := s.now()
			sess.StartedAt = &now
		}
		if err := s.repo.UpdateSession(ctx, sess); err != nil {
			return err
		}
		out = sess
		ev := events.Event{
			Type:        events.SessionChanged,
			ClinicID:    clinicID,
			ServiceDate: date.Format(time.DateOnly),
			Status:      string(to),
			At:          s.now(),
		}
		s.emit(ctx, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("clinic_id", clinicID.String()).Str("state", string(to)).Msg("queue session changed")
	return out, nil
}

// Status returns today's clinic-day session.
func (s *Service) Status(ctx context.Context, clinicID uuid.UUID) (*Session, error) {
	date, err := s.calendar.Today(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	var out *Session
	err = s.read(ctx, "queue status", func(ctx context.Context) error {
		sess, err := s.repo.GetSession(ctx, clinicID, date)
		out = sess
		return err
	})
	return out, err
}

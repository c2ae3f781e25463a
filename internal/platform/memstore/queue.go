package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aqms/aqms/internal/domain/queue"
	"github.com/aqms/aqms/pkg/apperrors"
)

type queueRepo struct{ s *Store }

func copySession(s queue.Session) *queue.Session { return &s }
func copyEntry(e queue.Entry) *queue.Entry       { return &e }

func (r queueRepo) LockSession(ctx context.Context, clinicID uuid.UUID, date time.Time) (*queue.Session, error) {
	var out *queue.Session
	err := r.s.do(ctx, func(st *state) error {
		key := keyOf(clinicID, date)
		sess, ok := st.sessions[key]
		if !ok {
			sess = *queue.NewSession(clinicID, date)
			sess.UpdatedAt = r.s.now()
			st.sessions[key] = sess
		}
		out = copySession(sess)
		return nil
	})
	return out, err
}

func (r queueRepo) GetSession(ctx context.Context, clinicID uuid.UUID, date time.Time) (*queue.Session, error) {
	var out *queue.Session
	err := r.s.do(ctx, func(st *state) error {
		if sess, ok := st.sessions[keyOf(clinicID, date)]; ok {
			out = copySession(sess)
			return nil
		}
		out = queue.NewSession(clinicID, date)
		return nil
	})
	return out, err
}

func (r queueRepo) UpdateSession(ctx context.Context, s *queue.Session) error {
	return r.s.do(ctx, func(st *state) error {
		key := keyOf(s.ClinicID, s.ServiceDate)
		if _, ok := st.sessions[key]; !ok {
			return apperrors.NewNotFound("clinic-day session")
		}
		s.UpdatedAt = r.s.now()
		st.sessions[key] = *s
		return nil
	})
}

func (r queueRepo) InsertEntry(ctx context.Context, e *queue.Entry) error {
	return r.s.do(ctx, func(st *state) error {
		key := keyOf(e.ClinicID, e.ServiceDate)
		for _, o := range st.entries {
			if o.SlotID == e.SlotID {
				return apperrors.New(apperrors.InvalidTransition, "slot is already in the queue")
			}
			if keyOf(o.ClinicID, o.ServiceDate) == key && o.QueueNumber == e.QueueNumber {
				return apperrors.Newf(apperrors.InvalidTransition, "queue number %d is taken", e.QueueNumber)
			}
		}
		if e.Status.Active() && activeTaken(st, key, uuid.Nil) {
			return apperrors.NewAlreadyServing()
		}
		e.ID = uuid.New()
		e.CreatedAt = r.s.now()
		e.UpdatedAt = e.CreatedAt
		st.entries[e.ID] = *e
		return nil
	})
}

// activeTaken mirrors the single-active partial unique index.
func activeTaken(st *state, key sessionKey, except uuid.UUID) bool {
	for id, o := range st.entries {
		if id != except && o.Status.Active() && keyOf(o.ClinicID, o.ServiceDate) == key {
			return true
		}
	}
	return false
}

func (r queueRepo) GetEntry(ctx context.Context, id uuid.UUID) (*queue.Entry, error) {
	var out *queue.Entry
	err := r.s.do(ctx, func(st *state) error {
		e, ok := st.entries[id]
		if !ok {
			return apperrors.NewNotFound("queue entry")
		}
		out = copyEntry(e)
		return nil
	})
	return out, err
}

func (r queueRepo) EntryBySlot(ctx context.Context, slotID uuid.UUID) (*queue.Entry, error) {
	var out *queue.Entry
	err := r.s.do(ctx, func(st *state) error {
		for _, e := range st.entries {
			if e.SlotID == slotID {
				out = copyEntry(e)
				return nil
			}
		}
		return apperrors.NewNotFound("queue entry")
	})
	return out, err
}

func (r queueRepo) ListEntries(ctx context.Context, clinicID uuid.UUID, date time.Time) ([]*queue.Entry, error) {
	var out []*queue.Entry
	err := r.s.do(ctx, func(st *state) error {
		key := keyOf(clinicID, date)
		for _, e := range st.entries {
			if keyOf(e.ClinicID, e.ServiceDate) == key {
				out = append(out, copyEntry(e))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].QueueNumber < out[j].QueueNumber })
	return out, err
}

func (r queueRepo) UpdateEntry(ctx context.Context, e *queue.Entry) error {
	return r.s.do(ctx, func(st *state) error {
		cur, ok := st.entries[e.ID]
		if !ok {
			return apperrors.NewNotFound("queue entry")
		}
		if e.Status.Active() && activeTaken(st, keyOf(cur.ClinicID, cur.ServiceDate), e.ID) {
			return apperrors.NewAlreadyServing()
		}
		cur.Status = e.Status
		cur.FastTracked = e.FastTracked
		cur.FastTrackedAt = e.FastTrackedAt
		cur.FastTrackReason = e.FastTrackReason
		cur.CalledAt = e.CalledAt
		cur.UpdatedAt = r.s.now()
		st.entries[e.ID] = cur
		e.UpdatedAt = cur.UpdatedAt
		return nil
	})
}

// Package memstore is an in-memory implementation of every repository and
// of db.TxRunner, for development and tests. Transactions are serialized on
// one mutex and roll back by restoring a snapshot.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aqms/aqms/internal/domain/appointment"
	"github.com/aqms/aqms/internal/domain/calendar"
	"github.com/aqms/aqms/internal/domain/queue"
	"github.com/aqms/aqms/internal/platform/db"
)

type sessionKey struct {
	clinicID uuid.UUID
	date     string
}

func keyOf(clinicID uuid.UUID, date time.Time) sessionKey {
	return sessionKey{clinicID: clinicID, date: date.Format(calendar.DateLayout)}
}

// state holds values, never pointers, so a shallow copy of each map is a
// full snapshot as long as nested slices and maps are replaced, not edited.
type state struct {
	clinics  map[uuid.UUID]calendar.Clinic
	doctors  map[uuid.UUID]calendar.Doctor
	slots    map[uuid.UUID]appointment.Slot
	history  []appointment.History
	sessions map[sessionKey]queue.Session
	entries  map[uuid.UUID]queue.Entry
}

func newState() *state {
	return &state{
		clinics:  make(map[uuid.UUID]calendar.Clinic),
		doctors:  make(map[uuid.UUID]calendar.Doctor),
		slots:    make(map[uuid.UUID]appointment.Slot),
		sessions: make(map[sessionKey]queue.Session),
		entries:  make(map[uuid.UUID]queue.Entry),
	}
}

func (st *state) clone() *state {
	cp := &state{
		clinics:  make(map[uuid.UUID]calendar.Clinic, len(st.clinics)),
		doctors:  make(map[uuid.UUID]calendar.Doctor, len(st.doctors)),
		slots:    make(map[uuid.UUID]appointment.Slot, len(st.slots)),
		history:  st.history[:len(st.history):len(st.history)],
		sessions: make(map[sessionKey]queue.Session, len(st.sessions)),
		entries:  make(map[uuid.UUID]queue.Entry, len(st.entries)),
	}
	for k, v := range st.clinics {
		cp.clinics[k] = v
	}
	for k, v := range st.doctors {
		cp.doctors[k] = v
	}
	for k, v := range st.slots {
		cp.slots[k] = v
	}
	for k, v := range st.sessions {
		cp.sessions[k] = v
	}
	for k, v := range st.entries {
		cp.entries[k] = v
	}
	return cp
}

// Store is the in-memory backend.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// WithClock sets the clock used for created/updated timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	ctx, hooks := db.WithCommitHooks(ctx)
	if err := s.locked(context.WithValue(ctx, txKey{}, s), fn); err != nil {
		return err
	}
	hooks.Run()
	return nil
}

// WithReadTx is WithTx: every transaction already sees a stable state.
func (s *Store) WithReadTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.WithTx(ctx, fn)
}

func (s *Store) locked(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	snapshot := s.st.clone()
	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
		}
		s.mu.Unlock()
	}()
	if err := fn(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

// do runs a single repository operation, inside the caller's transaction
// when there is one.
func (s *Store) do(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Clinics() calendar.ClinicRepository { return clinicRepo{s} }
func (s *Store) Doctors() calendar.DoctorRepository { return doctorRepo{s} }
func (s *Store) Slots() appointment.SlotRepository  { return slotRepo{s} }
func (s *Store) Queue() queue.Repository            { return queueRepo{s} }

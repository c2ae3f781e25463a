package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqms/aqms/internal/platform/db"
	"github.com/aqms/aqms/pkg/apperrors"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// =========== Clinic-day sessions ===========

const sessionCols = `clinic_id, service_date, state, current_entry_id, last_queue_number, started_at, updated_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ClinicID, &s.ServiceDate, &s.State, &s.CurrentEntryID,
		&s.LastQueueNumber, &s.StartedAt, &s.UpdatedAt)
	return &s, err
}

func (r *repoPG) LockSession(ctx context.Context, clinicID uuid.UUID, date time.Time) (*Session, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, fmt.Errorf("lock clinic-day session: no transaction on context")
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinic_day_session (clinic_id, service_date) VALUES ($1, $2)
		ON CONFLICT (clinic_id, service_date) DO NOTHING`, clinicID, date)
	if err != nil {
		return nil, fmt.Errorf("ensure clinic-day session: %w", err)
	}
	s, err := scanSession(r.conn(ctx).QueryRow(ctx, `
		SELECT `+sessionCols+` FROM clinic_day_session
		WHERE clinic_id = $1 AND service_date = $2
		FOR UPDATE`, clinicID, date))
	if err != nil {
		return nil, fmt.Errorf("lock clinic-day session: %w", err)
	}
	return s, nil
}

func (r *repoPG) GetSession(ctx context.Context, clinicID uuid.UUID, date time.Time) (*Session, error) {
	s, err := scanSession(r.conn(ctx).QueryRow(ctx, `
		SELECT `+sessionCols+` FROM clinic_day_session
		WHERE clinic_id = $1 AND service_date = $2`, clinicID, date))
	if err != nil {
		if db.IsNoRows(err) {
			return NewSession(clinicID, date), nil
		}
		return nil, fmt.Errorf("get clinic-day session: %w", err)
	}
	return s, nil
}

func (r *repoPG) UpdateSession(ctx context.Context, s *Session) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE clinic_day_session
		SET state = $3, current_entry_id = $4, last_queue_number = $5, started_at = $6, updated_at = NOW()
		WHERE clinic_id = $1 AND service_date = $2
		RETURNING updated_at`,
		s.ClinicID, s.ServiceDate, s.State, s.CurrentEntryID, s.LastQueueNumber, s.StartedAt).
		Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update clinic-day session: %w", err)
	}
	return nil
}

// =========== Queue entries ===========

const entryCols = `id, slot_id, clinic_id, patient_id, service_date, queue_number, status,
	fast_tracked, fast_tracked_at, fast_track_reason, called_at, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.SlotID, &e.ClinicID, &e.PatientID, &e.ServiceDate, &e.QueueNumber, &e.Status,
		&e.FastTracked, &e.FastTrackedAt, &e.FastTrackReason, &e.CalledAt, &e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

func (r *repoPG) InsertEntry(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_entry (id, slot_id, clinic_id, patient_id, service_date, queue_number, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		e.ID, e.SlotID, e.ClinicID, e.PatientID, e.ServiceDate, e.QueueNumber, e.Status).
		Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "queue_entry_slot_id_key") {
			return apperrors.New(apperrors.InvalidTransition, "slot is already in the queue")
		}
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

func (r *repoPG) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM queue_entry WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperrors.NewNotFound("queue entry")
		}
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return e, nil
}

func (r *repoPG) EntryBySlot(ctx context.Context, slotID uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM queue_entry WHERE slot_id = $1`, slotID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperrors.NewNotFound("queue entry")
		}
		return nil, fmt.Errorf("get queue entry by slot: %w", err)
	}
	return e, nil
}

func (r *repoPG) ListEntries(ctx context.Context, clinicID uuid.UUID, date time.Time) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM queue_entry
		WHERE clinic_id = $1 AND service_date = $2
		ORDER BY queue_number`, clinicID, date)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *repoPG) UpdateEntry(ctx context.Context, e *Entry) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_entry
		SET status = $2, fast_tracked = $3, fast_tracked_at = $4, fast_track_reason = $5,
			called_at = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		e.ID, e.Status, e.FastTracked, e.FastTrackedAt, e.FastTrackReason, e.CalledAt).
		Scan(&e.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return apperrors.NewNotFound("queue entry")
		}
		if db.IsUniqueViolation(err, "queue_entry_single_active") {
			return apperrors.NewAlreadyServing()
		}
		return fmt.Errorf("update queue entry: %w", err)
	}
	return nil
}

package calendar

import (
	"context"
	"encoding/json"
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

// =========== Clinic Repository ===========

type clinicRepoPG struct{ pool *pgxpool.Pool }

func NewClinicRepoPG(pool *pgxpool.Pool) ClinicRepository { return &clinicRepoPG{pool: pool} }

func (r *clinicRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *clinicRepoPG) Create(ctx context.Context, c *Clinic) error {
	c.ID = uuid.New()
	tmpl, err := json.Marshal(c.Template)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinic (id, name, timezone, template)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Timezone, tmpl).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert clinic: %w", err)
	}
	return nil
}

func (r *clinicRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	var c Clinic
	var tmpl []byte
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, timezone, template, created_at, updated_at
		FROM clinic WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Timezone, &tmpl, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperrors.NewNotFound("clinic")
		}
		return nil, fmt.Errorf("get clinic: %w", err)
	}
	if err := json.Unmarshal(tmpl, &c.Template); err != nil {
		return nil, fmt.Errorf("decode template of clinic %s: %w", id, err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT closed_on, reason FROM clinic_exception
		WHERE clinic_id = $1 ORDER BY closed_on`, id)
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ex Exception
		if err := rows.Scan(&ex.Date, &ex.Reason); err != nil {
			return nil, err
		}
		c.Exceptions = append(c.Exceptions, ex)
	}
	return &c, rows.Err()
}

func (r *clinicRepoPG) Lock(ctx context.Context, id uuid.UUID) error {
	var one int
	err := r.conn(ctx).QueryRow(ctx, `SELECT 1 FROM clinic WHERE id = $1 FOR UPDATE`, id).Scan(&one)
	if err != nil {
		if db.IsNoRows(err) {
			return apperrors.NewNotFound("clinic")
		}
		return fmt.Errorf("lock clinic: %w", err)
	}
	return nil
}

func (r *clinicRepoPG) UpdateTemplate(ctx context.Context, id uuid.UUID, t Template) error {
	tmpl, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE clinic SET template = $2, updated_at = NOW() WHERE id = $1`, id, tmpl)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFound("clinic")
	}
	return nil
}

func (r *clinicRepoPG) AddException(ctx context.Context, clinicID uuid.UUID, ex Exception) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinic_exception (clinic_id, closed_on, reason) VALUES ($1, $2, $3)
		ON CONFLICT (clinic_id, closed_on) DO UPDATE SET reason = EXCLUDED.reason`,
		clinicID, ex.Date, ex.Reason)
	if err != nil {
		return fmt.Errorf("add exception: %w", err)
	}
	return nil
}

func (r *clinicRepoPG) RemoveException(ctx context.Context, clinicID uuid.UUID, date time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM clinic_exception WHERE clinic_id = $1 AND closed_on = $2`, clinicID, date)
	if err != nil {
		return false, fmt.Errorf("remove exception: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

func (r *doctorRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const doctorCols = `id, clinic_id, name, room, session_kinds, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.ClinicID, &d.Name, &d.Room, &d.SessionKinds, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor (id, clinic_id, name, room, session_kinds)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		d.ID, d.ClinicID, d.Name, d.Room, d.SessionKinds).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperrors.NewNotFound("doctor")
		}
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return d, nil
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE doctor SET name = $2, room = $3, session_kinds = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.Name, d.Room, d.SessionKinds).Scan(&d.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return apperrors.NewNotFound("doctor")
		}
		return fmt.Errorf("update doctor: %w", err)
	}
	return nil
}

func (r *doctorRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete doctor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFound("doctor")
	}
	return nil
}

func (r *doctorRepoPG) ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]*Doctor, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+doctorCols+` FROM doctor WHERE clinic_id = $1 ORDER BY name, id`, clinicID)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
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

const doctorStartConstraint = "slot_doctor_start_uniq"

var dialect = goqu.Dialect("postgres")

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository { return &slotRepoPG{pool: pool} }

func (r *slotRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const slotCols = `id, clinic_id, doctor_id, session_kind, start_time, end_time, status,
	patient_id, treatment, created_at, updated_at`

var slotColIdents = []interface{}{
	"id", "clinic_id", "doctor_id", "session_kind", "start_time", "end_time", "status",
	"patient_id", "treatment", "created_at", "updated_at",
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.ClinicID, &s.DoctorID, &s.SessionKind, &s.Start, &s.End, &s.Status,
		&s.PatientID, &s.Treatment, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func collectSlots(rows pgx.Rows) ([]*Slot, error) {
	defer rows.Close()
	var items []*Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *slotRepoPG) InsertBatch(ctx context.Context, slots []*Slot) error {
	if len(slots) == 0 {
		return nil
	}
	rows := make([]interface{}, 0, len(slots))
	for _, s := range slots {
		s.ID = uuid.New()
		rows = append(rows, goqu.Record{
			"id": s.ID, "clinic_id": s.ClinicID, "doctor_id": nullUUID(s.DoctorID), "session_kind": s.SessionKind,
			"start_time": s.Start, "end_time": s.End, "status": s.Status,
			"patient_id": nullUUID(s.PatientID), "treatment": nullString(s.Treatment),
		})
	}
	query, args, err := dialect.Insert("slot").Prepared(true).Rows(rows...).
		Returning("created_at", "updated_at").ToSQL()
	if err != nil {
		return fmt.Errorf("build slot insert: %w", err)
	}
	res, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return mapWriteErr("insert slots", err)
	}
	defer res.Close()
	for i := 0; res.Next(); i++ {
		if err := res.Scan(&slots[i].CreatedAt, &slots[i].UpdatedAt); err != nil {
			return err
		}
	}
	if err := res.Err(); err != nil {
		return mapWriteErr("insert slots", err)
	}
	return nil
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.get(ctx, `SELECT `+slotCols+` FROM slot WHERE id = $1`, id)
}

func (r *slotRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.get(ctx, `SELECT `+slotCols+` FROM slot WHERE id = $1 FOR UPDATE`, id)
}

func (r *slotRepoPG) get(ctx context.Context, query string, id uuid.UUID) (*Slot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperrors.NewNotFound("slot")
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return s, nil
}

func (r *slotRepoPG) Book(ctx context.Context, id, patientID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE slot SET status = 'BOOKED', patient_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'AVAILABLE' AND doctor_id IS NOT NULL`, id, patientID)
	if err != nil {
		return false, fmt.Errorf("book slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *slotRepoPG) Update(ctx context.Context, s *Slot) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE slot SET doctor_id = $2, status = $3, patient_id = $4, treatment = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.DoctorID, s.Status, s.PatientID, s.Treatment).Scan(&s.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return apperrors.NewNotFound("slot")
		}
		return mapWriteErr("update slot", err)
	}
	return nil
}

func (r *slotRepoPG) ListInRange(ctx context.Context, clinicID uuid.UUID, from, to time.Time) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+slotCols+` FROM slot
		WHERE clinic_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time, id`, clinicID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return collectSlots(rows)
}

func (r *slotRepoPG) DeleteByIDs(ctx context.Context, ids []uuid.UUID, statuses []Status) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := dialect.Delete("slot").Prepared(true).
		Where(goqu.Ex{"id": ids, "status": statuses}).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build slot delete: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete slots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *slotRepoPG) Search(ctx context.Context, f Filter) ([]*Slot, int, error) {
	ds := dialect.From("slot").Prepared(true)
	if f.ClinicID != nil {
		ds = ds.Where(goqu.Ex{"clinic_id": *f.ClinicID})
	}
	if f.DoctorID != nil {
		ds = ds.Where(goqu.Ex{"doctor_id": *f.DoctorID})
	}
	if f.PatientID != nil {
		ds = ds.Where(goqu.Ex{"patient_id": *f.PatientID})
	}
	if len(f.Statuses) > 0 {
		ds = ds.Where(goqu.Ex{"status": f.Statuses})
	}
	if f.From != nil {
		ds = ds.Where(goqu.C("start_time").Gte(*f.From))
	}
	if f.To != nil {
		ds = ds.Where(goqu.C("start_time").Lt(*f.To))
	}

	countSQL, countArgs, err := ds.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build slot count: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count slots: %w", err)
	}

	listDS := ds.Select(slotColIdents...).Order(goqu.I("start_time").Asc(), goqu.I("id").Asc())
	if f.Limit > 0 {
		listDS = listDS.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		listDS = listDS.Offset(uint(f.Offset))
	}
	query, args, err := listDS.ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build slot search: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search slots: %w", err)
	}
	items, err := collectSlots(rows)
	return items, total, err
}

func (r *slotRepoPG) DatesWithSlots(ctx context.Context, clinicID uuid.UUID, from, to time.Time, tz string) ([]time.Time, error) {
	day := goqu.L("(start_time AT TIME ZONE ?)::date", tz)
	query, args, err := dialect.From("slot").Prepared(true).
		Select(day.As("day")).Distinct().
		Where(
			goqu.Ex{"clinic_id": clinicID},
			goqu.C("start_time").Gte(from),
			goqu.C("start_time").Lt(to),
		).
		Order(goqu.I("day").Asc()).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build slot dates: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list slot dates: %w", err)
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *slotRepoPG) ListBookedEndedBefore(ctx context.Context, t time.Time, limit int) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+slotCols+` FROM slot
		WHERE status = 'BOOKED' AND end_time < $1
		ORDER BY end_time LIMIT $2`, t, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue bookings: %w", err)
	}
	return collectSlots(rows)
}

func (r *slotRepoPG) AddHistory(ctx context.Context, h *History) error {
	h.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO slot_history (id, slot_id, action, actor, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING at`,
		h.ID, h.SlotID, h.Action, h.Actor, h.Details).Scan(&h.At)
	if err != nil {
		return fmt.Errorf("insert slot history: %w", err)
	}
	return nil
}

func (r *slotRepoPG) ListHistory(ctx context.Context, slotID uuid.UUID) ([]*History, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, slot_id, action, actor, details, at FROM slot_history
		WHERE slot_id = $1 ORDER BY at, id`, slotID)
	if err != nil {
		return nil, fmt.Errorf("list slot history: %w", err)
	}
	defer rows.Close()
	var items []*History
	for rows.Next() {
		var h History
		if err := rows.Scan(&h.ID, &h.SlotID, &h.Action, &h.Actor, &h.Details, &h.At); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}

// nullUUID and nullString turn nil pointers into SQL NULL for goqu records.
func nullUUID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func mapWriteErr(op string, err error) error {
	if db.IsUniqueViolation(err, doctorStartConstraint) {
		return apperrors.Wrap(apperrors.DoctorConflict, "doctor already has a slot at this time", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

package sample

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/lims/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type sampleRepoPG struct{ pool *pgxpool.Pool }

func NewSampleRepoPG(pool *pgxpool.Pool) SampleRepository {
	return &sampleRepoPG{pool: pool}
}

func (r *sampleRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const sampleCols = `id, sample_code, sample_type, source, status, priority, lab_id, received_at,
	collected_at, deadline, actual_completion_at, technician_id, registered_by, notes, created_at, updated_at`

func (r *sampleRepoPG) scanSample(row pgx.Row) (*Sample, error) {
	var s Sample
	err := row.Scan(&s.ID, &s.SampleCode, &s.SampleType, &s.Source, &s.Status, &s.Priority, &s.LabID,
		&s.ReceivedAt, &s.CollectedAt, &s.Deadline, &s.ActualCompletionAt, &s.TechnicianID,
		&s.RegisteredBy, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, db.NoRows(err, "sample")
	}
	return &s, nil
}

func (r *sampleRepoPG) scanAll(rows pgx.Rows) ([]*Sample, error) {
	defer rows.Close()
	var items []*Sample
	for rows.Next() {
		s, err := r.scanSample(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *sampleRepoPG) Create(ctx context.Context, s *Sample) error {
	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO sample (id, sample_code, sample_type, source, status, priority, lab_id, received_at,
			collected_at, deadline, actual_completion_at, technician_id, registered_by, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		s.ID, s.SampleCode, s.SampleType, s.Source, s.Status, s.Priority, s.LabID, s.ReceivedAt,
		s.CollectedAt, s.Deadline, s.ActualCompletionAt, s.TechnicianID, s.RegisteredBy, s.Notes,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *sampleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Sample, error) {
	return r.scanSample(r.conn(ctx).QueryRow(ctx, `SELECT `+sampleCols+` FROM sample WHERE id = $1`, id))
}

func (r *sampleRepoPG) GetByCode(ctx context.Context, code string) (*Sample, error) {
	return r.scanSample(r.conn(ctx).QueryRow(ctx, `SELECT `+sampleCols+` FROM sample WHERE sample_code = $1`, code))
}

func (r *sampleRepoPG) Update(ctx context.Context, s *Sample) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE sample SET sample_type=$2, source=$3, status=$4, priority=$5, lab_id=$6,
			collected_at=$7, deadline=$8, actual_completion_at=$9, technician_id=$10, notes=$11,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.SampleType, s.Source, s.Status, s.Priority, s.LabID,
		s.CollectedAt, s.Deadline, s.ActualCompletionAt, s.TechnicianID, s.Notes,
	).Scan(&s.UpdatedAt)
}

func (r *sampleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM sample WHERE id = $1`, id)
	return err
}

func (r *sampleRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Sample, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	for _, f := range []struct{ param, column string }{
		{"status", "status"}, {"priority", "priority"}, {"type", "sample_type"},
		{"technician", "technician_id"}, {"lab", "lab_id"},
	} {
		if v, ok := params[f.param]; ok {
			where += fmt.Sprintf(` AND %s = $%d`, f.column, idx)
			args = append(args, v)
			idx++
		}
	}
	if v, ok := params["q"]; ok {
		where += fmt.Sprintf(` AND (sample_code ILIKE $%d OR source ILIKE $%d)`, idx, idx)
		args = append(args, "%"+v+"%")
		idx++
	}
	if v, ok := params["received_from"]; ok {
		where += fmt.Sprintf(` AND received_at >= $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["received_to"]; ok {
		where += fmt.Sprintf(` AND received_at < $%d`, idx)
		args = append(args, v)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM sample`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + sampleCols + ` FROM sample` + where +
		fmt.Sprintf(` ORDER BY received_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.scanAll(rows)
	return items, total, err
}

func (r *sampleRepoPG) MaxSequence(ctx context.Context, prefix string) (int, error) {
	var seq int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(CAST(SUBSTRING(sample_code FROM $2) AS INTEGER)), 0)
		FROM sample WHERE sample_code LIKE $1`,
		prefix+"%", len(prefix)+1,
	).Scan(&seq)
	return seq, err
}

func (r *sampleRepoPG) ListOverdue(ctx context.Context, now time.Time) ([]*Sample, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+sampleCols+` FROM sample
		WHERE deadline IS NOT NULL AND deadline < $1 AND status NOT IN ('completed', 'archived')
		ORDER BY deadline`, now)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *sampleRepoPG) ListDeadlineBetween(ctx context.Context, from, to time.Time) ([]*Sample, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+sampleCols+` FROM sample
		WHERE deadline > $1 AND deadline <= $2 AND status NOT IN ('completed', 'archived')
		ORDER BY deadline`, from, to)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

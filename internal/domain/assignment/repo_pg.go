package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const selectAssignment = `SELECT a.id, a.sample_id, a.test_id, a.status, a.assigned_to, a.assigned_by,
	a.assigned_at, a.started_at, a.completed_at, a.expected_completion, a.deadline, a.actual_cost,
	a.notes, a.created_at, a.updated_at, s.sample_code, t.code, t.name
	FROM test_assignment a
	JOIN sample s ON s.id = a.sample_id
	JOIN lab_test t ON t.id = a.test_id`

func (r *repoPG) scanAssignment(row pgx.Row) (*Assignment, error) {
	var a Assignment
	err := row.Scan(&a.ID, &a.SampleID, &a.TestID, &a.Status, &a.AssignedTo, &a.AssignedBy,
		&a.AssignedAt, &a.StartedAt, &a.CompletedAt, &a.ExpectedCompletion, &a.Deadline, &a.ActualCost,
		&a.Notes, &a.CreatedAt, &a.UpdatedAt, &a.SampleCode, &a.TestCode, &a.TestName)
	if err != nil {
		return nil, db.NoRows(err, "test assignment")
	}
	return &a, nil
}

func (r *repoPG) scanAll(rows pgx.Rows) ([]*Assignment, error) {
	defer rows.Close()
	var items []*Assignment
	for rows.Next() {
		a, err := r.scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, a *Assignment) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO test_assignment (id, sample_id, test_id, status, assigned_to, assigned_by, assigned_at,
			expected_completion, deadline, actual_cost, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		a.ID, a.SampleID, a.TestID, a.Status, a.AssignedTo, a.AssignedBy, a.AssignedAt,
		a.ExpectedCompletion, a.Deadline, a.ActualCost, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	return r.scanAssignment(r.conn(ctx).QueryRow(ctx, selectAssignment+` WHERE a.id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	return r.scanAssignment(r.conn(ctx).QueryRow(ctx, selectAssignment+` WHERE a.id = $1 FOR UPDATE OF a`, id))
}

func (r *repoPG) Update(ctx context.Context, a *Assignment) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE test_assignment SET status=$2, assigned_to=$3, started_at=$4, completed_at=$5,
			deadline=$6, notes=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Status, a.AssignedTo, a.StartedAt, a.CompletedAt, a.Deadline, a.Notes,
	).Scan(&a.UpdatedAt)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM test_assignment WHERE id = $1`, id)
	return err
}

func (r *repoPG) Exists(ctx context.Context, sampleID, testID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM test_assignment WHERE sample_id = $1 AND test_id = $2)`,
		sampleID, testID).Scan(&exists)
	return exists, err
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Assignment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	for _, f := range []struct{ param, column string }{
		{"status", "a.status"}, {"assigned_to", "a.assigned_to"}, {"sample", "a.sample_id"},
		{"test", "a.test_id"}, {"category", "t.category"},
	} {
		if v, ok := params[f.param]; ok {
			where += fmt.Sprintf(` AND %s = $%d`, f.column, idx)
			args = append(args, v)
			idx++
		}
	}
	if v, ok := params["assigned_from"]; ok {
		where += fmt.Sprintf(` AND a.assigned_at >= $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["assigned_to_date"]; ok {
		where += fmt.Sprintf(` AND a.assigned_at < $%d`, idx)
		args = append(args, v)
		idx++
	}

	var total int
	countSQL := `SELECT COUNT(*) FROM test_assignment a JOIN lab_test t ON t.id = a.test_id` + where
	if err := r.conn(ctx).QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := selectAssignment + where +
		fmt.Sprintf(` ORDER BY a.assigned_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.scanAll(rows)
	return items, total, err
}

func (r *repoPG) ListBySample(ctx context.Context, sampleID uuid.UUID) ([]*Assignment, error) {
	rows, err := r.conn(ctx).Query(ctx, selectAssignment+` WHERE a.sample_id = $1 ORDER BY t.code`, sampleID)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *repoPG) ListOverdue(ctx context.Context, now time.Time) ([]*Assignment, error) {
	rows, err := r.conn(ctx).Query(ctx, selectAssignment+`
		WHERE a.deadline IS NOT NULL AND a.deadline < $1 AND a.status <> 'completed'
		ORDER BY a.deadline`, now)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *repoPG) ListDeadlineBetween(ctx context.Context, from, to time.Time) ([]*Assignment, error) {
	rows, err := r.conn(ctx).Query(ctx, selectAssignment+`
		WHERE a.deadline > $1 AND a.deadline <= $2 AND a.status <> 'completed'
		ORDER BY a.deadline`, from, to)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *repoPG) SetActualCost(ctx context.Context, id uuid.UUID, cost decimal.Decimal) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE test_assignment SET actual_cost = $2, updated_at = NOW() WHERE id = $1`, id, cost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.NoRows(pgx.ErrNoRows, "test assignment")
	}
	return nil
}

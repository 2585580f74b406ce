package result

import (
	"context"
	"fmt"

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

const selectResult = `
	SELECT r.id, r.assignment_id, r.status, r.entered_by, r.entered_at, r.reviewed_by, r.reviewed_at,
		r.comments, r.reviewer_comments, r.instrument_file, r.created_at, r.updated_at,
		s.sample_code, t.code, t.name,
		COALESCE(pe.first_name || ' ' || pe.last_name, ''),
		COALESCE(pr.first_name || ' ' || pr.last_name, '')
	FROM test_result r
	JOIN test_assignment a ON a.id = r.assignment_id
	JOIN sample s ON s.id = a.sample_id
	JOIN lab_test t ON t.id = a.test_id
	LEFT JOIN person pe ON pe.id = r.entered_by
	LEFT JOIN person pr ON pr.id = r.reviewed_by`

const searchFrom = `
	FROM test_result r
	JOIN test_assignment a ON a.id = r.assignment_id
	JOIN sample s ON s.id = a.sample_id
	JOIN lab_test t ON t.id = a.test_id`

func scanResult(row pgx.Row) (*TestResult, error) {
	var r TestResult
	err := row.Scan(&r.ID, &r.AssignmentID, &r.Status, &r.EnteredBy, &r.EnteredAt, &r.ReviewedBy, &r.ReviewedAt,
		&r.Comments, &r.ReviewerComments, &r.InstrumentFile, &r.CreatedAt, &r.UpdatedAt,
		&r.SampleCode, &r.TestCode, &r.TestName, &r.EnteredByName, &r.ReviewedByName)
	if err != nil {
		return nil, db.NoRows(err, "test result")
	}
	return &r, nil
}

func (r *repoPG) Create(ctx context.Context, res *TestResult) error {
	res.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO test_result (id, assignment_id, status, entered_by, entered_at, comments)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		res.ID, res.AssignmentID, res.Status, res.EnteredBy, res.EnteredAt, res.Comments,
	).Scan(&res.CreatedAt, &res.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestResult, error) {
	return scanResult(r.conn(ctx).QueryRow(ctx, selectResult+` WHERE r.id = $1`, id))
}

func (r *repoPG) GetByAssignment(ctx context.Context, assignmentID uuid.UUID) (*TestResult, error) {
	return scanResult(r.conn(ctx).QueryRow(ctx, selectResult+` WHERE r.assignment_id = $1`, assignmentID))
}

func (r *repoPG) Update(ctx context.Context, res *TestResult) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE test_result SET status=$2, reviewed_by=$3, reviewed_at=$4, comments=$5,
			reviewer_comments=$6, instrument_file=$7, updated_at=NOW()
		WHERE id = $1`,
		res.ID, res.Status, res.ReviewedBy, res.ReviewedAt, res.Comments,
		res.ReviewerComments, res.InstrumentFile)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.NoRows(pgx.ErrNoRows, "test result")
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*TestResult, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	for _, f := range []struct{ param, column string }{
		{"status", "r.status"}, {"entered_by", "r.entered_by"}, {"reviewed_by", "r.reviewed_by"},
		{"sample", "a.sample_id"}, {"test", "a.test_id"},
	} {
		if v, ok := params[f.param]; ok {
			where += fmt.Sprintf(` AND %s = $%d`, f.column, idx)
			args = append(args, v)
			idx++
		}
	}
	if v, ok := params["abnormal"]; ok && v == "true" {
		where += ` AND EXISTS (SELECT 1 FROM parameter_result p WHERE p.result_id = r.id AND p.is_abnormal)`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+searchFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := ` ORDER BY r.entered_at DESC`
	if params["status"] == StatusApproved {
		order = ` ORDER BY r.reviewed_at DESC NULLS LAST`
	}
	query := selectResult + where + order + fmt.Sprintf(` LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*TestResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, res)
	}
	return items, total, rows.Err()
}

func (r *repoPG) SaveParameter(ctx context.Context, pr *ParameterResult) error {
	if pr.ID == uuid.Nil {
		pr.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO parameter_result (id, result_id, parameter_id, numeric_value, text_value, is_abnormal, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (result_id, parameter_id) DO UPDATE SET
			numeric_value = EXCLUDED.numeric_value, text_value = EXCLUDED.text_value,
			is_abnormal = EXCLUDED.is_abnormal, notes = EXCLUDED.notes, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		pr.ID, pr.ResultID, pr.ParameterID, pr.NumericValue, pr.TextValue, pr.IsAbnormal, pr.Notes,
	).Scan(&pr.ID, &pr.CreatedAt, &pr.UpdatedAt)
}

func (r *repoPG) ListParameters(ctx context.Context, resultID uuid.UUID) ([]*ParameterResult, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT p.id, p.result_id, p.parameter_id, p.numeric_value, p.text_value, p.is_abnormal, p.notes,
			p.created_at, p.updated_at, tp.name, tp.unit, tp.min_value, tp.max_value, tp.reference_text
		FROM parameter_result p
		JOIN test_parameter tp ON tp.id = p.parameter_id
		WHERE p.result_id = $1
		ORDER BY tp.sort_order, tp.name`, resultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ParameterResult
	for rows.Next() {
		var p ParameterResult
		if err := rows.Scan(&p.ID, &p.ResultID, &p.ParameterID, &p.NumericValue, &p.TextValue, &p.IsAbnormal,
			&p.Notes, &p.CreatedAt, &p.UpdatedAt, &p.ParameterName, &p.Unit, &p.MinValue, &p.MaxValue, &p.ReferenceText); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}
